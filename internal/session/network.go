package session

import (
	"errors"
	"io"
	"os"
	"time"
)

var (
	ErrIO             = errors.New("session: i/o failure")
	ErrComposition    = errors.New("session: response composition failed")
	ErrReceiveTimeout = errors.New("session: receive timed out")
)

// Network is the byte stream of one client connection.
//
// Receive returns (0, nil) or io.EOF when the peer has closed, and
// ErrReceiveTimeout (or an error wrapping os.ErrDeadlineExceeded) when the
// receive timeout elapsed. Interrupted calls are retried by the implementation.
type Network interface {
	Receive(p []byte) (int, error)
	Send(p []byte) (int, error)
	// SetReceiveTimeout bounds the next Receive
	SetReceiveTimeout(d time.Duration) error
}

// sender adapts Network.Send to io.Writer, looping over short sends
type sender struct {
	nw Network
}

func (s sender) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := s.nw.Send(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

type closeReason string

const (
	reasonNone     closeReason = ""
	reasonEOF      closeReason = "client closed"
	reasonTimeout  closeReason = "receive timeout"
	reasonShutdown closeReason = "server shutdown"
)

// receiveOutcome sorts a Receive result into a graceful close or a failure
func receiveOutcome(n int, err error) (closeReason, error) {
	switch {
	case err == nil && n == 0:
		return reasonEOF, nil
	case err == nil:
		return reasonNone, nil
	case errors.Is(err, io.EOF):
		return reasonEOF, nil
	case errors.Is(err, ErrReceiveTimeout), errors.Is(err, os.ErrDeadlineExceeded):
		return reasonTimeout, nil
	default:
		return reasonNone, err
	}
}
