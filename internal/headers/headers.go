package headers

import (
	"bytes"
	"errors"
)

// DefaultCapacity is the number of bindings a registry accepts unless told otherwise.
// Two are taken by the built-in handlers.
const DefaultCapacity = 10

var ErrCapacityExceeded = errors.New("headers: handler registry is full")

// Params holds the keep-alive parameters negotiated on a connection.
// Header handlers mutate it; the owning session keeps it across requests.
type Params struct {
	KeepAlive bool
	Timeout   int // seconds, 0 means unset
	Max       int // requests, 0 means unset
}

// NewParams returns the parameters a fresh connection starts with.
func NewParams() Params {
	return Params{KeepAlive: true}
}

// HandlerFunc receives the value of a matching header line, starting at its first
// alphabetic byte and running to the end of the line.
type HandlerFunc func(p *Params, value []byte) error

// Binding ties a header name to its handler
type Binding struct {
	Name    string
	Handler HandlerFunc
}

// Registry is an ordered set of header bindings. It is built once at startup
// and only read afterwards, so it is safe to share between connections.
type Registry struct {
	bindings []Binding
	capacity int
}

// NewRegistry creates an empty registry holding at most capacity bindings
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		bindings: make([]Binding, 0, capacity),
		capacity: capacity,
	}
}

// NewDefaultRegistry creates a registry with the Connection and Keep-Alive
// handlers registered, in that order.
func NewDefaultRegistry(capacity int) (*Registry, error) {
	r := NewRegistry(capacity)
	if err := r.Register(NameConnection, Connection); err != nil {
		return nil, err
	}
	if err := r.Register(NameKeepAlive, KeepAlive); err != nil {
		return nil, err
	}
	return r, nil
}

// Register appends a binding
func (r *Registry) Register(name string, h HandlerFunc) error {
	if len(r.bindings) >= r.capacity {
		return ErrCapacityExceeded
	}
	r.bindings = append(r.bindings, Binding{Name: name, Handler: h})
	return nil
}

// LookupAll returns every binding whose name equals name byte for byte.
// Matching is case-sensitive.
func (r *Registry) LookupAll(name []byte) []Binding {
	var out []Binding
	for _, b := range r.bindings {
		if string(name) == b.Name {
			out = append(out, b)
		}
	}
	return out
}

// Len returns the number of registered bindings
func (r *Registry) Len() int {
	return len(r.bindings)
}

// Dispatch runs the handlers bound to a single header line (without its CRLF).
// A line without a colon is malformed. A value with no alphabetic byte is ignored.
func (r *Registry) Dispatch(p *Params, line []byte) error {
	colonIdx := bytes.IndexByte(line, ':')
	if colonIdx == -1 {
		return ErrMalformedHeader
	}

	name := line[:colonIdx]
	for _, b := range r.LookupAll(name) {
		value := valueStart(line[colonIdx+1:])
		if value == nil {
			continue
		}
		if err := b.Handler(p, value); err != nil {
			return err
		}
	}
	return nil
}

// valueStart skips optional whitespace (anything non-alphabetic) before the value
func valueStart(rest []byte) []byte {
	for i, c := range rest {
		if isAlpha(c) {
			return rest[i:]
		}
	}
	return nil
}

func isAlpha(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
