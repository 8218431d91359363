package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName scopes the meter and tracer used by the engine
const InstrumentationName = "github.com/Brownie44l1/keepalive-httpd"

// Metrics holds server runtime metrics. Counters are kept twice: as atomics
// for Snapshot and as OpenTelemetry instruments for export.
type Metrics struct {
	RequestsTotal     atomic.Int64
	ActiveConnections atomic.Int64
	ConnectionsTotal  atomic.Int64
	ErrorsTotal       atomic.Int64
	Errors4xx         atomic.Int64
	Errors5xx         atomic.Int64
	BytesSent         atomic.Int64

	// Latency tracking, the histogram carries the distribution
	TotalLatencyNs atomic.Int64

	requests    metric.Int64Counter
	failures    metric.Int64Counter
	bytes       metric.Int64Counter
	active      metric.Int64UpDownCounter
	connections metric.Int64Counter
	duration    metric.Float64Histogram
}

// New creates the instruments on mp, or on the global provider when mp is nil
func New(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(InstrumentationName)

	m := &Metrics{}
	var err error

	if m.requests, err = meter.Int64Counter("httpd.requests",
		metric.WithDescription("Responses sent, by status code"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("httpd.session.failures",
		metric.WithDescription("Sessions ended by an I/O or composition failure"),
		metric.WithUnit("{session}")); err != nil {
		return nil, err
	}
	if m.bytes, err = meter.Int64Counter("httpd.response.bytes",
		metric.WithDescription("Bytes written to clients, headers included"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.active, err = meter.Int64UpDownCounter("httpd.connections.active",
		metric.WithDescription("Open client connections"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, err
	}
	if m.connections, err = meter.Int64Counter("httpd.connections",
		metric.WithDescription("Accepted client connections"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("httpd.request.duration",
		metric.WithDescription("Time from request receipt to last body byte"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRequest records a completed request cycle
func (m *Metrics) RecordRequest(ctx context.Context, method string, statusCode int, sent int64, duration time.Duration) {
	m.RequestsTotal.Add(1)
	m.TotalLatencyNs.Add(duration.Nanoseconds())
	m.BytesSent.Add(sent)

	if statusCode >= 400 && statusCode < 500 {
		m.Errors4xx.Add(1)
	} else if statusCode >= 500 {
		m.Errors5xx.Add(1)
		m.ErrorsTotal.Add(1)
	}

	attrs := metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.Int("http.response.status_code", statusCode),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, duration.Seconds(), attrs)
	m.bytes.Add(ctx, sent)
}

// RecordFailure counts a session that ended with an error of the given kind
func (m *Metrics) RecordFailure(ctx context.Context, kind string) {
	m.ErrorsTotal.Add(1)
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("error.type", kind)))
}

func (m *Metrics) ConnOpened(ctx context.Context) {
	m.ActiveConnections.Add(1)
	m.ConnectionsTotal.Add(1)
	m.active.Add(ctx, 1)
	m.connections.Add(ctx, 1)
}

func (m *Metrics) ConnClosed(ctx context.Context) {
	m.ActiveConnections.Add(-1)
	m.active.Add(ctx, -1)
}

// AverageLatency returns average request latency
func (m *Metrics) AverageLatency() time.Duration {
	totalReqs := m.RequestsTotal.Load()
	if totalReqs == 0 {
		return 0
	}

	avgNs := m.TotalLatencyNs.Load() / totalReqs
	return time.Duration(avgNs)
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	RequestsTotal     int64
	ActiveConnections int64
	ConnectionsTotal  int64
	ErrorsTotal       int64
	Errors4xx         int64
	Errors5xx         int64
	BytesSent         int64
	AverageLatency    time.Duration
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		RequestsTotal:     m.RequestsTotal.Load(),
		ActiveConnections: m.ActiveConnections.Load(),
		ConnectionsTotal:  m.ConnectionsTotal.Load(),
		ErrorsTotal:       m.ErrorsTotal.Load(),
		Errors4xx:         m.Errors4xx.Load(),
		Errors5xx:         m.Errors5xx.Load(),
		BytesSent:         m.BytesSent.Load(),
		AverageLatency:    m.AverageLatency(),
	}
}
