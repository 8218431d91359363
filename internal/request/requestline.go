package request

import (
	"bytes"
	"errors"
)

const httpVersion = "HTTP/1.1"

var (
	ErrBadRequest           = errors.New("bad request")
	ErrMalformedRequestLine = errors.New("malformed request line")
	ErrInvalidMethod        = errors.New("invalid HTTP method")
	ErrEmptyTarget          = errors.New("empty request target")
	ErrUnsupportedVersion   = errors.New("unsupported HTTP version")
	ErrMissingTerminator    = errors.New("header block has no blank-line terminator")
)

var (
	crlf       = []byte("\r\n")
	headersEnd = []byte("\r\n\r\n")
)

// parseRequestLine parses: METHOD SP TARGET SP HTTP/1.1 CRLF
// It fills req as far as it gets and returns the offset of the line's CRLF.
func parseRequestLine(data []byte, req *Request) (int, error) {
	idx := bytes.Index(data, crlf)
	if idx == -1 {
		return 0, ErrMalformedRequestLine
	}
	line := data[:idx]

	sp := bytes.IndexByte(line, ' ')
	if sp == -1 {
		return 0, ErrMalformedRequestLine
	}
	req.Method = ParseMethod(line[:sp])
	if req.Method == MethodUnknown {
		return 0, ErrInvalidMethod
	}
	rest := line[sp+1:]

	sp = bytes.IndexByte(rest, ' ')
	if sp == -1 {
		return 0, ErrMalformedRequestLine
	}
	if sp == 0 {
		return 0, ErrEmptyTarget
	}
	req.Target = string(rest[:sp])

	if string(rest[sp+1:]) != httpVersion {
		return 0, ErrUnsupportedVersion
	}

	return idx, nil
}
