package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Brownie44l1/keepalive-httpd/internal/accesslog"
	"github.com/Brownie44l1/keepalive-httpd/internal/headers"
	"github.com/Brownie44l1/keepalive-httpd/internal/logger"
	"github.com/Brownie44l1/keepalive-httpd/internal/metrics"
	"github.com/Brownie44l1/keepalive-httpd/internal/pool"
	"github.com/Brownie44l1/keepalive-httpd/internal/request"
	"github.com/Brownie44l1/keepalive-httpd/internal/resource"
	"github.com/Brownie44l1/keepalive-httpd/internal/response"
)

const DefaultBufferSize = pool.SmallSize

// Engine serves connections. It is configured once and shared by every
// session; nothing in it is mutated while serving.
type Engine struct {
	Registry *headers.Registry
	Resolver *resource.Resolver

	// Chunked streams bodies with chunked transfer-encoding instead of Content-Length
	Chunked bool
	// BlockSize is the read size for body transfer
	BlockSize int
	// BufferSize bounds a request, it must arrive in a single receive
	BufferSize int

	Sink    accesslog.Sink
	Logger  logger.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer

	// Now is used for access log timestamps and latency, time.Now if nil
	Now func() time.Time
}

// session is the per-connection state: the negotiated keep-alive parameters
// and the number of responses sent so far
type session struct {
	*Engine
	nw     Network
	client string
	params headers.Params
	served int
}

// Serve runs request cycles on nw until the connection should close. A nil
// return means the session ended normally: keep-alive turned off, max reached,
// peer closed, receive timeout, or ctx done between cycles. Failures wrap
// ErrIO or ErrComposition.
func (e *Engine) Serve(ctx context.Context, nw Network, client string) error {
	s := &session{
		Engine: e,
		nw:     nw,
		client: client,
		params: headers.NewParams(),
	}

	buf := pool.GetBuffer(e.bufferSize())
	defer pool.PutBuffer(buf)
	block := pool.GetBuffer(e.blockSize())
	defer pool.PutBuffer(block)

	for s.params.KeepAlive {
		if ctx.Err() != nil {
			s.log().Debug(string(reasonShutdown), logger.F("client", client))
			return nil
		}

		if s.params.Timeout > 0 {
			if err := nw.SetReceiveTimeout(time.Duration(s.params.Timeout) * time.Second); err != nil {
				return s.fail(ctx, nil, fmt.Errorf("%w: setting receive timeout: %w", ErrIO, err))
			}
			// Shutdown may have woken the connection before the timeout replaced its deadline
			if ctx.Err() != nil {
				s.log().Debug(string(reasonShutdown), logger.F("client", client))
				return nil
			}
		}

		n, err := nw.Receive(buf)
		reason, err := receiveOutcome(n, err)
		if err != nil {
			return s.fail(ctx, nil, fmt.Errorf("%w: receive: %w", ErrIO, err))
		}
		if reason != reasonNone {
			s.log().Debug(string(reason), logger.F("client", client), logger.F("served", s.served))
			return nil
		}

		if err := s.cycle(ctx, buf[:n], block); err != nil {
			return err
		}

		s.served++
		if shouldCloseConnection(&s.params, s.served) {
			s.params.KeepAlive = false
		}
	}

	return nil
}

// cycle parses one request and sends its response
func (s *session) cycle(ctx context.Context, data, block []byte) error {
	start := s.now()
	ctx, span := s.tracer().Start(ctx, "httpd.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("client.address", s.client),
			attribute.Int("httpd.connection.request", s.served+1),
		))
	defer span.End()

	s.log().Debug("received request", logger.F("client", s.client), logger.F("bytes", len(data)))

	status := response.StatusOK
	var info resource.Info

	req, err := request.Parse(data, s.Registry, &s.params)
	if err != nil {
		s.params.KeepAlive = false
		status = response.StatusBadRequest
		s.log().Debug("bad request", logger.F("client", s.client), logger.Err(err))
	} else {
		out := s.Resolver.Resolve(req.Method, req.Target)
		s.log().Debug("resolved", logger.F("target", req.Target), logger.F("outcome", out.Kind.String()))
		switch out.Kind {
		case resource.Found:
			info = out.Info
		case resource.NotImplemented:
			status = response.StatusNotImplemented
		default:
			status = response.StatusNotFound
		}
	}

	method := req.Method.String()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", req.Target),
		attribute.Int("http.response.status_code", int(status)),
	)

	w := response.NewWriter(sender{s.nw})
	if err := s.respond(w, status, info, block); err != nil {
		if errors.Is(err, ErrComposition) && !w.Started() {
			// Best effort, the session is over either way
			_ = response.WriteInternalError(sender{s.nw})
		}
		return s.fail(ctx, span, err)
	}

	s.record(accesslog.Entry{
		Time:       start,
		Client:     s.client,
		Method:     method,
		Target:     req.Target,
		Status:     response.StatusText(status),
		StatusCode: int(status),
	})

	if s.Metrics != nil {
		s.Metrics.RecordRequest(ctx, method, int(status), w.BytesSent(), s.now().Sub(start))
	}
	s.log().Debug("responded",
		logger.F("client", s.client),
		logger.F("status", int(status)),
		logger.F("bytes", w.BytesSent()),
		logger.F("keep_alive", s.params.KeepAlive))

	return nil
}

// respond sends status with the body of info, or of the status's error page
func (s *session) respond(w *response.Writer, status response.StatusCode, info resource.Info, block []byte) error {
	if status != response.StatusOK {
		page, err := s.Resolver.ErrorPage(int(status))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrComposition, err)
		}
		info = page
	}

	body, err := s.Resolver.Open(info)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", ErrComposition, info.Path, err)
	}
	defer body.Close()

	head := response.Head{
		Status:        status,
		KeepAlive:     s.params.KeepAlive,
		Timeout:       s.params.Timeout,
		Max:           s.params.Max,
		ContentLength: info.Size,
		Chunked:       s.Chunked,
	}
	if err := w.WriteHead(head); err != nil {
		return classify(err)
	}
	if err := response.Transfer(w, body, block); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps response errors onto the session taxonomy: a failed send is
// an I/O error, anything else means the response could not be built
func classify(err error) error {
	if errors.Is(err, response.ErrSend) {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return fmt.Errorf("%w: %w", ErrComposition, err)
}

func (s *session) fail(ctx context.Context, span trace.Span, err error) error {
	kind := "io"
	if errors.Is(err, ErrComposition) {
		kind = "composition"
	}

	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
	}
	if s.Metrics != nil {
		s.Metrics.RecordFailure(ctx, kind)
	}
	s.log().Error("session aborted",
		logger.F("client", s.client),
		logger.F("served", s.served),
		logger.Err(err))
	return err
}

func (s *session) record(e accesslog.Entry) {
	if s.Sink == nil {
		return
	}
	if err := s.Sink.Record(e); err != nil {
		s.log().Warn("access log", logger.F("client", s.client), logger.Err(err))
	}
}

func (e *Engine) log() logger.Logger {
	if e.Logger == nil {
		return logger.NullLogger{}
	}
	return e.Logger
}

func (e *Engine) tracer() trace.Tracer {
	if e.Tracer == nil {
		return otel.Tracer(metrics.InstrumentationName)
	}
	return e.Tracer
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) bufferSize() int {
	if e.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return e.BufferSize
}

func (e *Engine) blockSize() int {
	if e.BlockSize <= 0 {
		return response.DefaultBlockSize
	}
	return e.BlockSize
}
