package accesslog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// JSON writes one zerolog JSON object per entry
type JSON struct {
	mu     sync.Mutex
	zl     zerolog.Logger
	out    *errWriter
	closer io.Closer
	closed bool
}

// errWriter remembers the last write error, zerolog itself swallows it
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}

func NewJSON(w io.Writer) *JSON {
	out := &errWriter{w: w}
	return &JSON{
		zl:  zerolog.New(out),
		out: out,
	}
}

// OpenJSON appends to the file at path
func OpenJSON(path string) (*JSON, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("accesslog: %w", err)
	}
	l := NewJSON(f)
	l.closer = f
	return l, nil
}

func (l *JSON) Record(e Entry) error {
	t := e.Time
	if t.IsZero() {
		t = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	l.out.err = nil
	l.zl.Log().
		Time("time", t).
		Str("client", e.Client).
		Str("method", e.Method).
		Str("target", e.Target).
		Int("status", e.StatusCode).
		Str("reason", e.Status).
		Send()

	if l.out.err != nil {
		return fmt.Errorf("accesslog: %w", l.out.err)
	}
	return nil
}

func (l *JSON) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.closer != nil {
		c := l.closer
		l.closer = nil
		return c.Close()
	}
	return nil
}
