package accesslog

import (
	"errors"
	"io"
	"time"
)

var ErrClosed = errors.New("accesslog: sink closed")

// Entry is one served request. Method and Target are empty when the request
// was rejected before they were parsed; Status is the reason phrase sent.
type Entry struct {
	Time       time.Time
	Client     string
	Method     string
	Target     string
	Status     string
	StatusCode int
}

// Sink receives one Entry per response. Implementations must be safe for
// concurrent use by many sessions.
type Sink interface {
	Record(e Entry) error
}

// SinkCloser is a Sink owning a file or stream
type SinkCloser interface {
	Sink
	io.Closer
}

// Discard drops every entry
type Discard struct{}

func (Discard) Record(Entry) error { return nil }
