package resource

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

var (
	ErrNotFound    = errors.New("resource: not found")
	ErrInvalidRoot = errors.New("resource: root is not a directory")
)

// Info describes a located resource
type Info struct {
	Path string // filesystem path handed back to Open
	Size int64
}

// Store is the static-resource capability the resolver queries
type Store interface {
	// Locate finds target. It returns ErrNotFound when the target is absent
	// or is not a regular file.
	Locate(target string) (Info, error)
	// Open opens a path previously returned by Locate
	Open(path string) (io.ReadCloser, error)
}

// Dir serves files below Root on the local filesystem
type Dir struct {
	Root string
}

// NewDir checks that root exists and is a directory
func NewDir(root string) (*Dir, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !fi.IsDir() {
		return nil, ErrInvalidRoot
	}
	return &Dir{Root: root}, nil
}

func (d *Dir) Locate(target string) (Info, error) {
	p := d.path(target)

	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, ErrNotFound
		}
		return Info{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if !fi.Mode().IsRegular() {
		return Info{}, ErrNotFound
	}

	return Info{Path: p, Size: fi.Size()}, nil
}

func (d *Dir) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// path maps a request target onto the filesystem. The target is cleaned as an
// absolute slash path first, so ".." segments cannot climb above Root.
func (d *Dir) path(target string) string {
	clean := path.Clean("/" + target)
	return filepath.Join(d.Root, filepath.FromSlash(clean))
}
