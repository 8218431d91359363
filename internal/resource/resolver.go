package resource

import (
	"fmt"
	"io"

	"github.com/Brownie44l1/keepalive-httpd/internal/request"
)

// Kind is the result class of resolving a request
type Kind int

const (
	Found Kind = iota
	NotFound
	NotImplemented
)

func (k Kind) String() string {
	switch k {
	case Found:
		return "found"
	case NotFound:
		return "not found"
	case NotImplemented:
		return "not implemented"
	default:
		return "unknown"
	}
}

// Outcome is what a request resolves to. Info is set only for Found.
type Outcome struct {
	Kind Kind
	Info Info
}

// Resolver maps request targets to resources
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve serves GET only. Any lookup failure is reported as NotFound.
func (r *Resolver) Resolve(m request.Method, target string) Outcome {
	if m != request.MethodGet {
		return Outcome{Kind: NotImplemented}
	}

	info, err := r.store.Locate(target)
	if err != nil {
		return Outcome{Kind: NotFound}
	}
	return Outcome{Kind: Found, Info: info}
}

// ErrorPage locates the page served with a non-200 status, "/<code>.html"
func (r *Resolver) ErrorPage(code int) (Info, error) {
	info, err := r.store.Locate(fmt.Sprintf("/%d.html", code))
	if err != nil {
		return Info{}, fmt.Errorf("error page for %d: %w", code, err)
	}
	return info, nil
}

// Open opens a resolved resource for reading
func (r *Resolver) Open(info Info) (io.ReadCloser, error) {
	return r.store.Open(info.Path)
}
