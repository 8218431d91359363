package request

import (
	"bytes"
	"fmt"

	"github.com/Brownie44l1/keepalive-httpd/internal/headers"
)

// Parse parses one complete request held in data: request line, header lines and
// the terminating blank line. Bytes after the blank line are not interpreted.
//
// Header handlers from reg mutate p, which the caller keeps for the lifetime of the
// connection. Handlers that ran before a failure keep their effect.
//
// The returned Request is never nil; on failure it holds whatever was parsed
// before the error. Every error wraps ErrBadRequest.
func Parse(data []byte, reg *headers.Registry, p *headers.Params) (*Request, error) {
	req := newRequest()

	lineEnd, err := parseRequestLine(data, req)
	if err != nil {
		return req, badRequest(err)
	}

	end := bytes.Index(data[lineEnd:], headersEnd)
	if end == -1 {
		return req, badRequest(ErrMissingTerminator)
	}
	if end == 0 {
		// No header lines
		return req, nil
	}

	block := data[lineEnd+len(crlf) : lineEnd+end]
	for _, line := range bytes.Split(block, crlf) {
		if err := reg.Dispatch(p, line); err != nil {
			return req, badRequest(err)
		}
	}

	return req, nil
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %w", ErrBadRequest, err)
}
