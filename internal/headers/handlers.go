package headers

import (
	"bytes"
	"errors"
	"math"
	"strconv"
	"time"
)

const (
	NameConnection = "Connection"
	NameKeepAlive  = "Keep-Alive"
)

var (
	ErrMalformedHeader            = errors.New("headers: malformed header: no colon")
	ErrInvalidConnection          = errors.New("headers: invalid Connection value")
	ErrKeepAliveWithoutConnection = errors.New("headers: Keep-Alive without Connection: keep-alive")
	ErrInvalidKeepAlive           = errors.New("headers: invalid Keep-Alive value")
)

// Connection accepts "keep-alive" or "close", case-insensitively. The value ends at
// the first byte that is neither a letter nor '-', so "keep-alive, Upgrade" is keep-alive.
func Connection(p *Params, value []byte) error {
	end := len(value)
	for i, c := range value {
		if !isAlpha(c) && c != '-' {
			end = i
			break
		}
	}
	token := bytes.ToLower(value[:end])

	switch string(token) {
	case "keep-alive":
		p.KeepAlive = true
	case "close":
		p.KeepAlive = false
	default:
		return ErrInvalidConnection
	}
	return nil
}

// keepAliveSlot is one position of the Keep-Alive parameter table.
// Keys are matched by position, not looked up by name.
type keepAliveSlot struct {
	key string
	set func(p *Params, v int)
}

var keepAliveSlots = [2]keepAliveSlot{
	{key: "timeout", set: func(p *Params, v int) { p.Timeout = v }},
	{key: "max", set: func(p *Params, v int) { p.Max = v }},
}

// MaxKeepAliveValue bounds timeout and max, so a timeout in seconds always
// fits a time.Duration
const MaxKeepAliveValue = math.MaxInt64 / int64(time.Second)

// KeepAlive parses "timeout=<n>[,max=<n>]". It is only valid once a Connection
// header earlier in the request has enabled keep-alive. Empty list elements,
// as in "timeout=5,", are skipped.
func KeepAlive(p *Params, value []byte) error {
	if !p.KeepAlive {
		return ErrKeepAliveWithoutConnection
	}

	slot := 0
	for _, tok := range bytes.Split(value, []byte(",")) {
		if len(tok) == 0 {
			continue
		}
		if slot == len(keepAliveSlots) {
			return ErrInvalidKeepAlive
		}

		tok = valueStart(tok)
		if tok == nil {
			return ErrInvalidKeepAlive
		}

		eq := bytes.IndexByte(tok, '=')
		if eq == -1 {
			return ErrInvalidKeepAlive
		}

		if string(tok[:eq]) != keepAliveSlots[slot].key {
			return ErrInvalidKeepAlive
		}

		n, ok := leadingInt(tok[eq+1:])
		if !ok || n < 1 || int64(n) > MaxKeepAliveValue {
			return ErrInvalidKeepAlive
		}
		keepAliveSlots[slot].set(p, n)
		slot++
	}
	return nil
}

// leadingInt reads the decimal number at the start of b, after optional spaces.
// Anything after the digits is ignored.
func leadingInt(b []byte) (int, bool) {
	b = bytes.TrimLeft(b, " \t")
	end := 0
	for end < len(b) && b[end] >= '0' && b[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(string(b[:end]))
	if err != nil {
		return 0, false
	}
	return n, true
}
