package accesslog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	w3cDateLayout  = "02-01-2006 15:04:05"
	w3cTimeLayout  = "15:04:05"
	w3cEmptyField  = "-"
	w3cFieldsValue = "time c-ip cs-method cs-uri sc-status"
)

// W3C writes the W3C extended log file format: a directive header followed by
// one space-separated line per entry.
type W3C struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	now    func() time.Time
}

// OpenW3C truncates or creates the file at path and writes the header
func OpenW3C(path string) (*W3C, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("accesslog: %w", err)
	}

	l, err := NewW3C(f, time.Now)
	if err != nil {
		f.Close()
		return nil, err
	}
	l.closer = f
	return l, nil
}

// NewW3C writes the header to w. now supplies timestamps, time.Now if nil.
func NewW3C(w io.Writer, now func() time.Time) (*W3C, error) {
	if now == nil {
		now = time.Now
	}
	l := &W3C{w: bufio.NewWriter(w), now: now}

	fmt.Fprintf(l.w, "#Version: 1.0\n#Date: %s\n#Fields: %s\n",
		now().Format(w3cDateLayout), w3cFieldsValue)
	if err := l.w.Flush(); err != nil {
		return nil, fmt.Errorf("accesslog: writing header: %w", err)
	}
	return l, nil
}

func (l *W3C) Record(e Entry) error {
	t := e.Time
	if t.IsZero() {
		t = l.now()
	}

	var sb strings.Builder
	sb.WriteString(t.Format(w3cTimeLayout))
	for _, field := range []string{e.Client, e.Method, e.Target, e.Status} {
		sb.WriteByte(' ')
		if field == "" {
			field = w3cEmptyField
		}
		sb.WriteString(field)
	}
	sb.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return ErrClosed
	}
	if _, err := l.w.WriteString(sb.String()); err != nil {
		return fmt.Errorf("accesslog: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("accesslog: %w", err)
	}
	return nil
}

func (l *W3C) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return nil
	}
	err := l.w.Flush()
	l.w = nil
	if l.closer != nil {
		if cerr := l.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
