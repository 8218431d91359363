package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Brownie44l1/keepalive-httpd/internal/accesslog"
	"github.com/Brownie44l1/keepalive-httpd/internal/config"
	"github.com/Brownie44l1/keepalive-httpd/internal/headers"
	"github.com/Brownie44l1/keepalive-httpd/internal/logger"
	"github.com/Brownie44l1/keepalive-httpd/internal/metrics"
	"github.com/Brownie44l1/keepalive-httpd/internal/resource"
	"github.com/Brownie44l1/keepalive-httpd/internal/server"
	"github.com/Brownie44l1/keepalive-httpd/internal/session"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "httpd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := flag.String("config", "", "path to a YAML config file")
	root := flag.String("root", "", "directory to serve (overrides config)")
	port := flag.Int("port", 0, "port to listen on (overrides config)")
	chunked := flag.Bool("chunked", false, "use chunked transfer-encoding (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "root":
			cfg.Root = *root
		case "port":
			cfg.Port = *port
		case "chunked":
			cfg.Chunked = *chunked
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	zl, err := logger.NewZerolog(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}
	var log logger.Logger = zl

	var tracer trace.Tracer = noop.NewTracerProvider().Tracer(metrics.InstrumentationName)
	if cfg.Telemetry.Enabled {
		log = logger.Tee{zl, logger.NewSlog(otelslog.NewLogger(metrics.InstrumentationName))}
		tracer = otel.Tracer(metrics.InstrumentationName)
	}

	m, err := metrics.New(nil)
	if err != nil {
		return err
	}

	sink, err := openAccessLog(cfg.AccessLog)
	if err != nil {
		return err
	}
	defer sink.Close()

	engine, err := newEngine(cfg, sink, log, m, tracer)
	if err != nil {
		return err
	}

	srv := server.New(engine, log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe(cfg.Addr())
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-ctx.Done():
		stop()
	}

	log.Info("shutting down", logger.F("timeout", cfg.ShutdownTimeout.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", logger.Err(err))
	}
	if err := <-serverErrCh; err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}

	stats := m.Snapshot()
	log.Info("stopped",
		logger.F("requests", stats.RequestsTotal),
		logger.F("connections", stats.ConnectionsTotal),
		logger.F("errors", stats.ErrorsTotal),
		logger.F("avg_latency", stats.AverageLatency.String()))
	return nil
}

func newEngine(cfg config.Config, sink accesslog.Sink, log logger.Logger, m *metrics.Metrics, tracer trace.Tracer) (*session.Engine, error) {
	reg, err := headers.NewDefaultRegistry(cfg.HeaderHandlers)
	if err != nil {
		return nil, err
	}
	dir, err := resource.NewDir(cfg.Root)
	if err != nil {
		return nil, err
	}

	return &session.Engine{
		Registry:   reg,
		Resolver:   resource.NewResolver(dir),
		Chunked:    cfg.Chunked,
		BlockSize:  cfg.BlockSize,
		BufferSize: cfg.ReceiveBuffer,
		Sink:       sink,
		Logger:     log,
		Metrics:    m,
		Tracer:     tracer,
	}, nil
}

type nopCloser struct {
	accesslog.Sink
}

func (nopCloser) Close() error { return nil }

func openAccessLog(cfg config.AccessLog) (accesslog.SinkCloser, error) {
	if cfg.Path == "" {
		return nopCloser{accesslog.Discard{}}, nil
	}
	if cfg.Format == "json" {
		return accesslog.OpenJSON(cfg.Path)
	}
	return accesslog.OpenW3C(cfg.Path)
}
