package server

import (
	"errors"
	"net"
	"time"

	"github.com/Brownie44l1/keepalive-httpd/internal/session"
)

// netConn adapts a net.Conn to session.Network
type netConn struct {
	conn net.Conn
}

func newNetConn(conn net.Conn) *netConn {
	return &netConn{conn: conn}
}

func (c *netConn) Receive(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if err != nil && n == 0 {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, session.ErrReceiveTimeout
		}
		return 0, err
	}
	return n, nil
}

func (c *netConn) Send(p []byte) (int, error) {
	return c.conn.Write(p)
}

// SetReceiveTimeout sets the read deadline d from now
func (c *netConn) SetReceiveTimeout(d time.Duration) error {
	return c.conn.SetReadDeadline(time.Now().Add(d))
}

// clientHost is the remote IP without its port
func clientHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
