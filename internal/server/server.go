package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Brownie44l1/keepalive-httpd/internal/logger"
	"github.com/Brownie44l1/keepalive-httpd/internal/session"
)

var ErrServerClosed = errors.New("server: closed")

// Server accepts connections and runs one session per connection
type Server struct {
	engine *session.Engine
	log    logger.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   atomic.Bool

	// base is cancelled by Shutdown; sessions stop between request cycles
	base   context.Context
	cancel context.CancelFunc

	conns *xsync.MapOf[string, *trackedConn]
	wg    sync.WaitGroup
}

type trackedConn struct {
	net.Conn
	client   string
	accepted time.Time
}

func New(engine *session.Engine, log logger.Logger) *Server {
	if log == nil {
		log = logger.NullLogger{}
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		engine: engine,
		log:    log,
		base:   base,
		cancel: cancel,
		conns:  xsync.NewMapOf[string, *trackedConn](),
	}
}

// ListenAndServe listens on addr and blocks serving it
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve accepts on listener until Shutdown, which makes it return ErrServerClosed
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("listening", logger.F("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Error("accepting connection", logger.Err(err))
			continue
		}

		// Shutdown waits on wg once closed is set, so Add only under mu
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.serveConn(conn)
	}
}

// Addr returns the listener's address, nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of open client connections
func (s *Server) ActiveConnections() int {
	return s.conns.Size()
}

// Shutdown stops accepting, lets sessions finish their current cycle and
// waits for them. When ctx ends first the remaining connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed.Store(true)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Unlock()

	s.cancel()

	// Wake sessions blocked waiting for their next request
	now := time.Now()
	s.conns.Range(func(_ string, c *trackedConn) bool {
		c.SetReadDeadline(now)
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		s.conns.Range(func(id string, c *trackedConn) bool {
			s.log.Warn("closing connection at shutdown", logger.F("conn", id), logger.F("client", c.client))
			c.Close()
			return true
		})
		<-done
		return ctx.Err()
	}
}

// serveConn handles all requests on a single connection
func (s *Server) serveConn(conn net.Conn) {
	id := uuid.NewString()
	tc := &trackedConn{Conn: conn, client: clientHost(conn.RemoteAddr()), accepted: time.Now()}

	s.conns.Store(id, tc)
	if m := s.engine.Metrics; m != nil {
		m.ConnOpened(s.base)
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session panic",
				logger.F("conn", id),
				logger.F("panic", fmt.Sprint(r)),
				logger.F("stack", string(debug.Stack())))
		}

		conn.Close()
		s.conns.Delete(id)
		if m := s.engine.Metrics; m != nil {
			m.ConnClosed(s.base)
		}
		s.wg.Done()
	}()

	s.log.Debug("connection accepted", logger.F("conn", id), logger.F("client", tc.client))

	err := s.engine.Serve(s.base, newNetConn(conn), tc.client)

	fields := []logger.Field{
		logger.F("conn", id),
		logger.F("client", tc.client),
		logger.F("duration", time.Since(tc.accepted).String()),
	}
	if err != nil {
		fields = append(fields, logger.Err(err))
	}
	s.log.Debug("connection closed", fields...)
}
