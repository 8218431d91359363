package session

import "github.com/Brownie44l1/keepalive-httpd/internal/headers"

// shouldCloseConnection determines if the connection should be closed after
// the served-th response
func shouldCloseConnection(p *headers.Params, served int) bool {
	// Connection: close, or a 400 turned keep-alive off
	if !p.KeepAlive {
		return true
	}

	// Keep-Alive: max=<n> caps the responses on this connection
	if p.Max > 0 && served >= p.Max {
		return true
	}

	return false
}
