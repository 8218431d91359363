package response

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

var (
	ErrUnknownStatus = errors.New("response: no reason phrase for status")
	ErrSend          = errors.New("response: send failed")
	ErrState         = errors.New("response: write out of order")
)

// Head describes the status line and headers of a response
type Head struct {
	Status        StatusCode
	KeepAlive     bool
	Timeout       int
	Max           int
	ContentLength int64
	Chunked       bool
}

// writerState tracks what's been written so far
type writerState int

const (
	stateStart writerState = iota
	stateHeadWritten
	stateBodyWritten
	stateDone
)

// Writer writes HTTP responses to an io.Writer
type Writer struct {
	w        io.Writer
	state    writerState
	head     Head
	sent     int64
	hadError bool
	frame    []byte
}

// NewWriter creates a new response writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:     w,
		state: stateStart,
	}
}

// WriteHead writes the status line, the connection headers, exactly one of
// Content-Length or Transfer-Encoding, and the blank line. Nothing is written
// if the status has no reason phrase.
func (w *Writer) WriteHead(h Head) error {
	if w.state != stateStart {
		return fmt.Errorf("%w: head already written", ErrState)
	}

	reason := StatusText(h.Status)
	if reason == "" {
		return fmt.Errorf("%w: %d", ErrUnknownStatus, h.Status)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", h.Status, reason)

	if h.KeepAlive {
		buf.WriteString("Connection: keep-alive\r\n")
		if h.Timeout != 0 && h.Max != 0 {
			fmt.Fprintf(&buf, "Keep-Alive: timeout=%d max=%d\r\n", h.Timeout, h.Max)
		}
	}

	if h.Chunked {
		buf.WriteString("Transfer-Encoding: chunked\r\n")
	} else {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", h.ContentLength)
	}

	buf.WriteString("\r\n")

	if err := w.write(buf.Bytes()); err != nil {
		return err
	}

	w.head = h
	w.state = stateHeadWritten
	return nil
}

// WriteBody writes identity-encoded body bytes
func (w *Writer) WriteBody(data []byte) error {
	if w.state != stateHeadWritten && w.state != stateBodyWritten {
		return fmt.Errorf("%w: must write head before body", ErrState)
	}
	if w.head.Chunked {
		return fmt.Errorf("%w: head announced chunked encoding", ErrState)
	}

	if len(data) == 0 {
		return nil
	}
	if err := w.write(data); err != nil {
		return err
	}

	w.state = stateBodyWritten
	return nil
}

// WriteChunk writes a single chunk frame: <hex-len>\r\n<data>\r\n
func (w *Writer) WriteChunk(data []byte) error {
	if w.state != stateHeadWritten && w.state != stateBodyWritten {
		return fmt.Errorf("%w: must write head before chunks", ErrState)
	}
	if !w.head.Chunked {
		return fmt.Errorf("%w: head announced Content-Length", ErrState)
	}

	if len(data) == 0 {
		return nil // Don't write empty chunks (except final)
	}

	w.frame = strconv.AppendInt(w.frame[:0], int64(len(data)), 16)
	w.frame = append(w.frame, '\r', '\n')
	w.frame = append(w.frame, data...)
	w.frame = append(w.frame, '\r', '\n')

	if err := w.write(w.frame); err != nil {
		return err
	}

	w.state = stateBodyWritten
	return nil
}

// FinishChunked writes the final zero-length chunk
func (w *Writer) FinishChunked() error {
	if w.state != stateHeadWritten && w.state != stateBodyWritten {
		return fmt.Errorf("%w: must write head before finishing chunks", ErrState)
	}

	if err := w.write([]byte("0\r\n\r\n")); err != nil {
		return err
	}

	w.state = stateDone
	return nil
}

func (w *Writer) write(p []byte) error {
	n, err := w.w.Write(p)
	w.sent += int64(n)
	if err != nil {
		w.hadError = true
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	return nil
}

// State tracking methods for connection management

func (w *Writer) HadError() bool {
	return w.hadError
}

// Started reports whether any byte of the response reached the underlying writer
func (w *Writer) Started() bool {
	return w.sent > 0
}

// BytesSent returns the number of bytes written, head included
func (w *Writer) BytesSent() int64 {
	return w.sent
}

func (w *Writer) IsChunked() bool {
	return w.head.Chunked
}

func (w *Writer) StatusCode() StatusCode {
	return w.head.Status
}

// WriteInternalError sends the fixed 500 response
func WriteInternalError(w io.Writer) error {
	_, err := io.WriteString(w, InternalErrorLiteral)
	return err
}
