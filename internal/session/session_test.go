package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Brownie44l1/keepalive-httpd/internal/accesslog"
	"github.com/Brownie44l1/keepalive-httpd/internal/headers"
	"github.com/Brownie44l1/keepalive-httpd/internal/logger"
	"github.com/Brownie44l1/keepalive-httpd/internal/metrics"
	"github.com/Brownie44l1/keepalive-httpd/internal/resource"
	"github.com/Brownie44l1/keepalive-httpd/internal/response"
)

const (
	indexBody = "<h1>hi</h1>"
	getIndex  = "GET /index.html HTTP/1.1\r\nHost: test\r\n\r\n"
	getClose  = "GET /index.html HTTP/1.1\r\nConnection: close\r\n\r\n"
)

// recv is one scripted Receive result
type recv struct {
	data string
	err  error
}

// fakeNetwork replays scripted receives and records everything sent
type fakeNetwork struct {
	reads    []recv
	received int
	sent     bytes.Buffer
	timeouts []time.Duration

	sendErr    error
	sendBudget int // bytes accepted before sendErr, when sendErr is set

	onTimeout func()
}

func newFakeNetwork(requests ...string) *fakeNetwork {
	nw := &fakeNetwork{}
	for _, r := range requests {
		nw.reads = append(nw.reads, recv{data: r})
	}
	return nw
}

func (f *fakeNetwork) Receive(p []byte) (int, error) {
	if len(f.reads) == 0 {
		return 0, io.EOF
	}
	r := f.reads[0]
	f.reads = f.reads[1:]
	f.received++
	if r.err != nil {
		return 0, r.err
	}
	return copy(p, r.data), nil
}

func (f *fakeNetwork) Send(p []byte) (int, error) {
	if f.sendErr != nil {
		if f.sendBudget <= 0 {
			return 0, f.sendErr
		}
		if len(p) > f.sendBudget {
			n := f.sendBudget
			f.sendBudget = 0
			f.sent.Write(p[:n])
			return n, f.sendErr
		}
		f.sendBudget -= len(p)
	}
	return f.sent.Write(p)
}

func (f *fakeNetwork) SetReceiveTimeout(d time.Duration) error {
	f.timeouts = append(f.timeouts, d)
	if f.onTimeout != nil {
		f.onTimeout()
	}
	return nil
}

// memSink keeps entries in memory
type memSink struct {
	mu      sync.Mutex
	entries []accesslog.Entry
	err     error
}

func (m *memSink) Record(e accesslog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

// recordingLogger captures messages by level
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingLogger) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, level+" "+msg)
}

func (r *recordingLogger) Debug(msg string, _ ...logger.Field) { r.add("debug", msg) }
func (r *recordingLogger) Info(msg string, _ ...logger.Field)  { r.add("info", msg) }
func (r *recordingLogger) Warn(msg string, _ ...logger.Field)  { r.add("warn", msg) }
func (r *recordingLogger) Error(msg string, _ ...logger.Field) { r.add("error", msg) }

func writeRoot(t *testing.T, pages map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range pages {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o644))
	}
	return root
}

func defaultPages() map[string]string {
	return map[string]string{
		"index.html": indexBody,
		"400.html":   "bad request",
		"404.html":   "not found",
		"501.html":   "not implemented",
	}
}

func newEngine(t *testing.T, root string) (*Engine, *memSink) {
	t.Helper()
	reg, err := headers.NewDefaultRegistry(headers.DefaultCapacity)
	require.NoError(t, err)
	dir, err := resource.NewDir(root)
	require.NoError(t, err)

	sink := &memSink{}
	return &Engine{
		Registry: reg,
		Resolver: resource.NewResolver(dir),
		Sink:     sink,
	}, sink
}

// readResponses decodes every response in raw
func readResponses(t *testing.T, raw []byte) []*http.Response {
	t.Helper()
	var out []*http.Response
	br := bufio.NewReader(bytes.NewReader(raw))
	for {
		if _, err := br.Peek(1); err == io.EOF {
			return out
		}
		resp, err := http.ReadResponse(br, nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body = io.NopCloser(bytes.NewReader(body))
		out = append(out, resp)
	}
}

func bodyOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestServeIdentityExactBytes(t *testing.T) {
	e, _ := newEngine(t, writeRoot(t, defaultPages()))
	nw := newFakeNetwork(getClose, getIndex)

	require.NoError(t, e.Serve(context.Background(), nw, "127.0.0.1"))

	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 11\r\n\r\n"+indexBody, nw.sent.String())
	assert.Equal(t, 1, nw.received, "Connection: close must end the session after one cycle")
}

func TestServeChunkedExactBytes(t *testing.T) {
	e, _ := newEngine(t, writeRoot(t, defaultPages()))
	e.Chunked = true
	nw := newFakeNetwork(getClose)

	require.NoError(t, e.Serve(context.Background(), nw, "127.0.0.1"))

	assert.Equal(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"+
		"b\r\n"+indexBody+"\r\n"+
		"0\r\n\r\n", nw.sent.String())
}

func TestServeChunkedBlocks(t *testing.T) {
	pages := defaultPages()
	pages["big.bin"] = string(bytes.Repeat([]byte("x"), 2500))
	e, _ := newEngine(t, writeRoot(t, pages))
	e.Chunked = true
	nw := newFakeNetwork("GET /big.bin HTTP/1.1\r\nConnection: close\r\n\r\n")

	require.NoError(t, e.Serve(context.Background(), nw, "c"))

	raw := nw.sent.String()
	assert.Contains(t, raw, "\r\n400\r\n")
	assert.Contains(t, raw, "\r\n1c4\r\n")
	assert.Equal(t, 1, bytes.Count(nw.sent.Bytes(), []byte("\r\n0\r\n\r\n")))

	resps := readResponses(t, nw.sent.Bytes())
	require.Len(t, resps, 1)
	assert.Equal(t, pages["big.bin"], bodyOf(t, resps[0]))
}

func TestServeKeepAliveByDefault(t *testing.T) {
	e, _ := newEngine(t, writeRoot(t, defaultPages()))
	nw := newFakeNetwork(getIndex, getIndex)

	require.NoError(t, e.Serve(context.Background(), nw, "c"))

	resps := readResponses(t, nw.sent.Bytes())
	require.Len(t, resps, 2)
	for _, r := range resps {
		assert.Equal(t, 200, r.StatusCode)
		assert.Equal(t, "keep-alive", r.Header.Get("Connection"))
		assert.Empty(t, r.Header.Get("Keep-Alive"))
		assert.Equal(t, indexBody, bodyOf(t, r))
	}
	assert.Equal(t, 2, nw.received, "EOF ends the session")
}

func TestServeBadRequestCloses(t *testing.T) {
	e, sink := newEngine(t, writeRoot(t, defaultPages()))
	nw := newFakeNetwork("GET /x HTTP/1.0\r\n\r\n", getIndex)

	require.NoError(t, e.Serve(context.Background(), nw, "10.0.0.7"))

	assert.Equal(t, "HTTP/1.1 400 Bad Request\r\nContent-Length: 11\r\n\r\nbad request", nw.sent.String())
	assert.Len(t, nw.reads, 1, "no further request is read after a 400")

	require.Len(t, sink.entries, 1)
	assert.Equal(t, accesslog.Entry{
		Time:       sink.entries[0].Time,
		Client:     "10.0.0.7",
		Method:     "GET",
		Target:     "/x",
		Status:     "Bad Request",
		StatusCode: 400,
	}, sink.entries[0])
}

func TestServeBadRequestUnknownMethod(t *testing.T) {
	e, sink := newEngine(t, writeRoot(t, defaultPages()))
	nw := newFakeNetwork("BREW /pot HTTP/1.1\r\n\r\n")

	require.NoError(t, e.Serve(context.Background(), nw, "c"))

	resps := readResponses(t, nw.sent.Bytes())
	require.Len(t, resps, 1)
	assert.Equal(t, 400, resps[0].StatusCode)

	require.Len(t, sink.entries, 1)
	assert.Empty(t, sink.entries[0].Method)
	assert.Empty(t, sink.entries[0].Target)
}

func TestServeNotFoundAndNotImplementedStayAlive(t *testing.T) {
	e, sink := newEngine(t, writeRoot(t, defaultPages()))
	nw := newFakeNetwork(
		"GET /missing.html HTTP/1.1\r\n\r\n",
		"POST /index.html HTTP/1.1\r\n\r\n",
		getIndex,
	)

	require.NoError(t, e.Serve(context.Background(), nw, "c"))

	resps := readResponses(t, nw.sent.Bytes())
	require.Len(t, resps, 3)

	assert.Equal(t, 404, resps[0].StatusCode)
	assert.Equal(t, "not found", bodyOf(t, resps[0]))
	assert.Equal(t, "keep-alive", resps[0].Header.Get("Connection"))

	assert.Equal(t, 501, resps[1].StatusCode)
	assert.Equal(t, "not implemented", bodyOf(t, resps[1]))
	assert.Equal(t, "keep-alive", resps[1].Header.Get("Connection"))

	assert.Equal(t, 200, resps[2].StatusCode)

	require.Len(t, sink.entries, 3)
	assert.Equal(t, "Not Found", sink.entries[0].Status)
	assert.Equal(t, "POST", sink.entries[1].Method)
	assert.Equal(t, "Not Implemented", sink.entries[1].Status)
	assert.Equal(t, "OK", sink.entries[2].Status)
}

func TestServeMaxRequests(t *testing.T) {
	e, _ := newEngine(t, writeRoot(t, defaultPages()))
	first := "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\nKeep-Alive: timeout=5, max=3\r\n\r\n"
	nw := newFakeNetwork(first, getIndex, getIndex, getIndex, getIndex)

	require.NoError(t, e.Serve(context.Background(), nw, "c"))

	resps := readResponses(t, nw.sent.Bytes())
	require.Len(t, resps, 3)
	for _, r := range resps {
		assert.Equal(t, "timeout=5 max=3", r.Header.Get("Keep-Alive"))
	}
	assert.Len(t, nw.reads, 2, "session must close once max responses were sent")

	// Timeout is applied before every receive once negotiated
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, nw.timeouts)
}

func TestServeReceiveTimeout(t *testing.T) {
	for _, timeoutErr := range []error{
		ErrReceiveTimeout,
		fmt.Errorf("read tcp: %w", os.ErrDeadlineExceeded),
	} {
		e, _ := newEngine(t, writeRoot(t, defaultPages()))
		log := &recordingLogger{}
		e.Logger = log
		nw := newFakeNetwork(getIndex)
		nw.reads = append(nw.reads, recv{err: timeoutErr}, recv{data: getIndex})

		require.NoError(t, e.Serve(context.Background(), nw, "c"))

		assert.Len(t, readResponses(t, nw.sent.Bytes()), 1)
		assert.Len(t, nw.reads, 1)
		assert.Contains(t, log.lines, "debug receive timeout")
	}
}

func TestServePeerClosed(t *testing.T) {
	e, _ := newEngine(t, writeRoot(t, defaultPages()))
	nw := &fakeNetwork{reads: []recv{{data: ""}, {data: getIndex}}}

	require.NoError(t, e.Serve(context.Background(), nw, "c"))
	assert.Zero(t, nw.sent.Len())
}

func TestServeReceiveError(t *testing.T) {
	e, _ := newEngine(t, writeRoot(t, defaultPages()))
	nw := newFakeNetwork(getIndex)
	nw.reads = append(nw.reads, recv{err: errors.New("connection reset by peer")})

	err := e.Serve(context.Background(), nw, "c")
	assert.ErrorIs(t, err, ErrIO)
	assert.Len(t, readResponses(t, nw.sent.Bytes()), 1)
}

func TestServeSendError(t *testing.T) {
	e, sink := newEngine(t, writeRoot(t, defaultPages()))
	nw := newFakeNetwork(getIndex)
	nw.sendErr = errors.New("broken pipe")
	nw.sendBudget = 5

	err := e.Serve(context.Background(), nw, "c")
	assert.ErrorIs(t, err, ErrIO)
	assert.NotErrorIs(t, err, ErrComposition)
	assert.Equal(t, "HTTP/", nw.sent.String(), "no 500 literal after a failed send")
	assert.Empty(t, sink.entries)
}

func TestServeMissingErrorPage(t *testing.T) {
	pages := defaultPages()
	delete(pages, "404.html")
	e, sink := newEngine(t, writeRoot(t, pages))
	nw := newFakeNetwork("GET /nope HTTP/1.1\r\n\r\n", getIndex)

	err := e.Serve(context.Background(), nw, "c")
	assert.ErrorIs(t, err, ErrComposition)
	assert.ErrorIs(t, err, resource.ErrNotFound)
	assert.Equal(t, response.InternalErrorLiteral, nw.sent.String())
	assert.Len(t, nw.reads, 1)
	assert.Empty(t, sink.entries)
}

func TestServeSinkFailureIsNotFatal(t *testing.T) {
	e, sink := newEngine(t, writeRoot(t, defaultPages()))
	sink.err = errors.New("disk full")
	log := &recordingLogger{}
	e.Logger = log
	nw := newFakeNetwork(getIndex, getClose)

	require.NoError(t, e.Serve(context.Background(), nw, "c"))

	assert.Len(t, readResponses(t, nw.sent.Bytes()), 2)
	assert.Contains(t, log.lines, "warn access log")
}

func TestServeContextDone(t *testing.T) {
	e, _ := newEngine(t, writeRoot(t, defaultPages()))
	nw := newFakeNetwork(getIndex)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, e.Serve(ctx, nw, "c"))
	assert.Zero(t, nw.received)
}

func TestServeHeadersPersistAcrossRequests(t *testing.T) {
	e, _ := newEngine(t, writeRoot(t, defaultPages()))
	nw := newFakeNetwork(
		"GET /index.html HTTP/1.1\r\nKeep-Alive: timeout=7, max=10\r\n\r\n",
		getIndex,
		"GET /index.html HTTP/1.1\r\nKeep-Alive: timeout=2\r\n\r\n",
	)

	require.NoError(t, e.Serve(context.Background(), nw, "c"))

	resps := readResponses(t, nw.sent.Bytes())
	require.Len(t, resps, 3)
	assert.Equal(t, "timeout=7 max=10", resps[0].Header.Get("Keep-Alive"))
	assert.Equal(t, "timeout=7 max=10", resps[1].Header.Get("Keep-Alive"))
	assert.Equal(t, "timeout=2 max=10", resps[2].Header.Get("Keep-Alive"))
	assert.Equal(t, []time.Duration{7 * time.Second, 7 * time.Second, 2 * time.Second}, nw.timeouts)
}

func TestServeTelemetry(t *testing.T) {
	e, _ := newEngine(t, writeRoot(t, defaultPages()))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := metrics.New(mp)
	require.NoError(t, err)
	e.Metrics = m

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	e.Tracer = tp.Tracer("test")

	nw := newFakeNetwork(getIndex, "GET /missing HTTP/1.1\r\n\r\n", getClose)
	require.NoError(t, e.Serve(context.Background(), nw, "c"))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.RequestsTotal)
	assert.Equal(t, int64(1), snap.Errors4xx)
	assert.Equal(t, int64(nw.sent.Len()), snap.BytesSent)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	for _, s := range spans {
		assert.Equal(t, "httpd.request", s.Name())
	}
	attrs := map[string]any{}
	for _, kv := range spans[1].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, int64(404), attrs["http.response.status_code"])
	assert.Equal(t, "/missing", attrs["url.path"])
	assert.Equal(t, int64(2), attrs["httpd.connection.request"])
}

func TestServeFailureMarksSpan(t *testing.T) {
	pages := defaultPages()
	delete(pages, "501.html")
	e, _ := newEngine(t, writeRoot(t, pages))

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	e.Tracer = tp.Tracer("test")

	nw := newFakeNetwork("DELETE /index.html HTTP/1.1\r\n\r\n")
	assert.ErrorIs(t, e.Serve(context.Background(), nw, "c"), ErrComposition)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "composition", spans[0].Status().Description)
	assert.NotEmpty(t, spans[0].Events())
}

func TestShouldCloseConnection(t *testing.T) {
	tests := []struct {
		name   string
		params headers.Params
		served int
		want   bool
	}{
		{"fresh connection", headers.NewParams(), 1, false},
		{"connection close", headers.Params{KeepAlive: false}, 1, true},
		{"below max", headers.Params{KeepAlive: true, Max: 3}, 2, false},
		{"max reached", headers.Params{KeepAlive: true, Max: 3}, 3, true},
		{"timeout only", headers.Params{KeepAlive: true, Timeout: 5}, 100, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.params
			assert.Equal(t, tc.want, shouldCloseConnection(&p, tc.served))
		})
	}
}

func TestServeRejectsOversizedKeepAlive(t *testing.T) {
	e, _ := newEngine(t, writeRoot(t, defaultPages()))
	nw := newFakeNetwork(
		"GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\nKeep-Alive: timeout=9300000000,max=5\r\n\r\n",
		getIndex,
	)

	require.NoError(t, e.Serve(context.Background(), nw, "c"))

	resps := readResponses(t, nw.sent.Bytes())
	require.Len(t, resps, 1)
	assert.Equal(t, 400, resps[0].StatusCode)
	assert.Empty(t, nw.timeouts)
}

func TestServeLargestKeepAliveTimeout(t *testing.T) {
	e, _ := newEngine(t, writeRoot(t, defaultPages()))
	nw := newFakeNetwork(
		fmt.Sprintf("GET /index.html HTTP/1.1\r\nKeep-Alive: timeout=%d,max=5\r\n\r\n", headers.MaxKeepAliveValue),
		getIndex,
	)

	require.NoError(t, e.Serve(context.Background(), nw, "c"))

	assert.Len(t, readResponses(t, nw.sent.Bytes()), 2)
	require.NotEmpty(t, nw.timeouts)
	for _, d := range nw.timeouts {
		assert.Positive(t, d, "receive timeout must stay positive")
	}
}

func TestServeShutdownWhileApplyingTimeout(t *testing.T) {
	e, _ := newEngine(t, writeRoot(t, defaultPages()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nw := newFakeNetwork("GET /index.html HTTP/1.1\r\nKeep-Alive: timeout=5\r\n\r\n", getIndex)
	nw.onTimeout = cancel

	require.NoError(t, e.Serve(ctx, nw, "c"))

	assert.Equal(t, 1, nw.received, "no receive once shutdown began")
	assert.Len(t, readResponses(t, nw.sent.Bytes()), 1)
}
