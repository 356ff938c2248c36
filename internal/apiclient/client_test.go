package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"market-dashboard/internal/handler/http/requestid"
	"market-dashboard/internal/observability/tracing"
)

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

// countingDoer records the start time of every call before delegating.
type countingDoer struct {
	mu     sync.Mutex
	starts []time.Time
	next   doerFunc
}

func (d *countingDoer) Do(r *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.starts = append(d.starts, time.Now())
	d.mu.Unlock()
	return d.next(r)
}

func (d *countingDoer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.starts)
}

func response(status int, contentType, body string) *http.Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// hang blocks until the request context ends.
func hang(r *http.Request) (*http.Response, error) {
	<-r.Context().Done()
	return nil, &url.Error{Op: "Get", URL: r.URL.String(), Err: r.Context().Err()}
}

func testConfig() Config {
	return Config{Timeout: time.Second, MaxRetries: 1, RetryDelay: time.Millisecond, Backoff: 1}
}

func assertExclusive[T any](t *testing.T, out Outcome[T]) {
	t.Helper()
	if out.Success {
		assert.Empty(t, out.ErrorMessage)
		assert.Equal(t, KindNone, out.Kind)
		assert.NoError(t, out.Err())
	} else {
		assert.NotEmpty(t, out.ErrorMessage)
		assert.NotEqual(t, KindNone, out.Kind)
		assert.Zero(t, out.Payload)
		assert.Error(t, out.Err())
	}
}

func TestDo_SuccessJSON(t *testing.T) {
	var gotCacheControl atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCacheControl.Store(r.Header.Get("Cache-Control"))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("x-fallback", "false")
		_, _ = w.Write([]byte(`[{"id":1},{"id":2}]`))
	}))
	defer srv.Close()

	c := New(testConfig(), WithDoer(srv.Client()))
	out := Do[[]map[string]int](context.Background(), c, Get(srv.URL))

	require.True(t, out.Success, out.ErrorMessage)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Equal(t, []map[string]int{{"id": 1}, {"id": 2}}, out.Payload)
	assert.Equal(t, "false", out.Header.Get("x-fallback"))
	assert.Equal(t, "no-store", gotCacheControl.Load())
	assertExclusive(t, out)
}

func TestDo_TextBody(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return response(http.StatusOK, "text/plain", "hello"), nil
	})
	c := New(testConfig(), WithDoer(doer))

	asString := Do[string](context.Background(), c, Get("http://upstream.test/"))
	require.True(t, asString.Success)
	assert.Equal(t, "hello", asString.Payload)

	asBytes := Do[[]byte](context.Background(), c, Get("http://upstream.test/"))
	require.True(t, asBytes.Success)
	assert.Equal(t, []byte("hello"), asBytes.Payload)

	asAny := Do[any](context.Background(), c, Get("http://upstream.test/"))
	require.True(t, asAny.Success)
	assert.Equal(t, "hello", asAny.Payload)
}

func TestDo_NonSuccessIsTerminal(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantMsg     string
	}{
		{name: "json error field", status: 400, contentType: "application/json", body: `{"error":"bad input"}`, wantMsg: "bad input"},
		{name: "json structured error", status: 422, contentType: "application/json", body: `{"error": {"code": 7}}`, wantMsg: `{"code":7}`},
		{name: "json bare string", status: 500, contentType: "application/json", body: `"upstream down"`, wantMsg: "upstream down"},
		{name: "json empty string", status: 503, contentType: "application/json", body: `""`, wantMsg: "HTTP 503"},
		{name: "json without error", status: 500, contentType: "application/json", body: `{"detail":"x"}`, wantMsg: "HTTP 500"},
		{name: "json null error", status: 500, contentType: "application/json", body: `{"error":null}`, wantMsg: "HTTP 500"},
		{name: "plain text", status: 502, contentType: "text/plain", body: "upstream down\n", wantMsg: "upstream down"},
		{name: "empty body", status: 503, contentType: "", body: "", wantMsg: "HTTP 503"},
		{name: "invalid json", status: 500, contentType: "application/json", body: "<html>", wantMsg: "HTTP 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &countingDoer{next: func(*http.Request) (*http.Response, error) {
				return response(tt.status, tt.contentType, tt.body), nil
			}}
			cfg := testConfig()
			cfg.MaxRetries = 3
			c := New(cfg, WithDoer(doer))

			out := Do[[]int](context.Background(), c, Get("http://upstream.test/"))

			assert.False(t, out.Success)
			assert.Equal(t, KindHTTP, out.Kind)
			assert.Equal(t, tt.status, out.StatusCode)
			assert.Equal(t, tt.wantMsg, out.ErrorMessage)
			assert.Equal(t, 1, doer.calls())
			assert.ErrorIs(t, out.Err(), ErrHTTP)
			assertExclusive(t, out)
		})
	}
}

func TestDo_HangingTransportTimesOut(t *testing.T) {
	cfg := Config{Timeout: 30 * time.Millisecond}
	c := New(cfg, WithDoer(doerFunc(hang)))

	start := time.Now()
	out := Do[[]int](context.Background(), c, Get("http://upstream.test/"))

	assert.False(t, out.Success)
	assert.Equal(t, KindTimeout, out.Kind)
	assert.Equal(t, MsgTimeout, out.ErrorMessage)
	assert.Equal(t, 0, out.StatusCode)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, out.Err(), ErrTimeout)
}

func TestDo_RetriesTimeoutAfterDelay(t *testing.T) {
	doer := &countingDoer{next: hang}
	cfg := Config{Timeout: 50 * time.Millisecond, MaxRetries: 1, RetryDelay: 10 * time.Millisecond}
	c := New(cfg, WithDoer(doer))

	out := Do[[]int](context.Background(), c, Get("http://upstream.test/"))

	assert.Equal(t, KindTimeout, out.Kind)
	require.Equal(t, 2, doer.calls())
	gap := doer.starts[1].Sub(doer.starts[0])
	assert.GreaterOrEqual(t, gap, 60*time.Millisecond)
}

func TestDo_TransportFailureRetriedThenReported(t *testing.T) {
	doer := &countingDoer{next: func(r *http.Request) (*http.Response, error) {
		return nil, &url.Error{Op: "Get", URL: r.URL.String(), Err: errors.New("connection refused")}
	}}
	cfg := testConfig()
	cfg.MaxRetries = 2
	c := New(cfg, WithDoer(doer))

	out := Do[[]int](context.Background(), c, Get("http://upstream.test/"))

	assert.Equal(t, KindTransport, out.Kind)
	assert.Equal(t, "connection refused", out.ErrorMessage)
	assert.Equal(t, 3, doer.calls())
	assertExclusive(t, out)
}

func TestDo_RecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return response(http.StatusOK, "application/json", `[1,2]`), nil
	})
	c := New(testConfig(), WithDoer(doer))

	out := Do[[]int](context.Background(), c, Get("http://upstream.test/"))

	require.True(t, out.Success, out.ErrorMessage)
	assert.Equal(t, []int{1, 2}, out.Payload)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_PreCanceledContext(t *testing.T) {
	doer := &countingDoer{next: func(*http.Request) (*http.Response, error) {
		return response(http.StatusOK, "application/json", `[]`), nil
	}}
	c := New(testConfig(), WithDoer(doer))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := Do[[]int](ctx, c, Get("http://upstream.test/"))

	assert.Equal(t, KindCanceled, out.Kind)
	assert.Equal(t, MsgCanceled, out.ErrorMessage)
	assert.Equal(t, 0, out.StatusCode)
	assert.Equal(t, 0, doer.calls())
	assert.ErrorIs(t, out.Err(), ErrCanceled)
}

func TestDo_CancelDuringAttemptIsNotRetried(t *testing.T) {
	doer := &countingDoer{next: hang}
	cfg := Config{Timeout: time.Minute, MaxRetries: 3, RetryDelay: time.Millisecond}
	c := New(cfg, WithDoer(doer))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	out := Do[[]int](ctx, c, Get("http://upstream.test/"))

	assert.Equal(t, KindCanceled, out.Kind)
	assert.Equal(t, MsgCanceled, out.ErrorMessage)
	assert.Equal(t, 1, doer.calls())
}

func TestDo_CancelDuringRetryWait(t *testing.T) {
	doer := &countingDoer{next: func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}
	cfg := Config{Timeout: time.Second, MaxRetries: 3, RetryDelay: time.Hour}
	c := New(cfg, WithDoer(doer))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	out := Do[[]int](ctx, c, Get("http://upstream.test/"))

	assert.Equal(t, KindCanceled, out.Kind)
	assert.Equal(t, 1, doer.calls())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDo_CallerDeadlineIsCancellation(t *testing.T) {
	c := New(Config{Timeout: time.Minute, MaxRetries: 2}, WithDoer(doerFunc(hang)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := Do[[]int](ctx, c, Get("http://upstream.test/"))

	assert.Equal(t, KindCanceled, out.Kind)
}

func TestDo_DecodeFailureIsTerminal(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "malformed json", contentType: "application/json", body: "not json"},
		{name: "wrong json type", contentType: "application/json", body: `{"a":1}`},
		{name: "text for structured payload", contentType: "text/html", body: "<html></html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &countingDoer{next: func(*http.Request) (*http.Response, error) {
				return response(http.StatusOK, tt.contentType, tt.body), nil
			}}
			cfg := testConfig()
			cfg.MaxRetries = 2
			c := New(cfg, WithDoer(doer))

			out := Do[[]int](context.Background(), c, Get("http://upstream.test/"))

			assert.Equal(t, KindDecode, out.Kind)
			assert.Equal(t, http.StatusOK, out.StatusCode)
			assert.Equal(t, 1, doer.calls())
			assert.ErrorIs(t, out.Err(), ErrDecode)
			assertExclusive(t, out)
		})
	}
}

func TestDo_NoContent(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return response(http.StatusNoContent, "application/json", ""), nil
	})
	c := New(testConfig(), WithDoer(doer))

	out := Do[[]int](context.Background(), c, Get("http://upstream.test/"))

	require.True(t, out.Success)
	assert.Nil(t, out.Payload)
}

func TestDo_BodyTooLarge(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return response(http.StatusOK, "text/plain", strings.Repeat("a", MaxBodyBytes+1)), nil
	})
	c := New(testConfig(), WithDoer(doer))

	out := Do[string](context.Background(), c, Get("http://upstream.test/"))

	assert.Equal(t, KindDecode, out.Kind)
	assert.Empty(t, out.Payload)
}

func TestDo_InvalidTarget(t *testing.T) {
	doer := &countingDoer{next: func(*http.Request) (*http.Response, error) {
		return response(http.StatusOK, "application/json", `[]`), nil
	}}
	c := New(testConfig(), WithDoer(doer))

	out := Do[[]int](context.Background(), c, Target{URL: "://missing-scheme"})

	assert.Equal(t, KindTransport, out.Kind)
	assert.Equal(t, 0, doer.calls())
}

func TestDo_PostJSONSendsFreshBodyPerAttempt(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("broken pipe")
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, http.MethodPost, r.Method)
		return response(http.StatusOK, "application/json", `{"ok":true}`), nil
	})
	c := New(testConfig(), WithDoer(doer))

	target, err := PostJSON("http://upstream.test/predict", []map[string]int{{"bedrooms": 3}})
	require.NoError(t, err)
	out := Do[map[string]bool](context.Background(), c, target)

	require.True(t, out.Success, out.ErrorMessage)
	assert.Equal(t, []string{`[{"bedrooms":3}]`, `[{"bedrooms":3}]`}, bodies)
}

func TestDo_ForwardsRequestID(t *testing.T) {
	var got string
	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		got = r.Header.Get(requestid.RequestIDHeader)
		return response(http.StatusOK, "application/json", `[]`), nil
	})
	c := New(testConfig(), WithDoer(doer))

	ctx := requestid.WithRequestID(context.Background(), "req-123")
	out := Do[[]int](ctx, c, Get("http://upstream.test/"))

	require.True(t, out.Success)
	assert.Equal(t, "req-123", got)
}

func TestDo_RecordsAttemptSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	shutdown := tracing.Init("apiclient-test", sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	var traceparent string
	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		traceparent = r.Header.Get("traceparent")
		return response(http.StatusServiceUnavailable, "text/plain", "down"), nil
	})
	c := New(testConfig(), WithDoer(doer), WithName("housing"))

	_ = Do[[]int](context.Background(), c, Get("http://upstream.test/"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "apiclient.attempt", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.NotEmpty(t, traceparent)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "housing", attrs["apiclient.name"])
	assert.Equal(t, "503", attrs["http.status_code"])
	assert.Equal(t, "http", attrs["apiclient.result"])
}

func TestDo_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	var calls atomic.Int32
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return response(http.StatusOK, "application/json", `[]`), nil
	})
	c := New(testConfig(), WithDoer(doer), WithMetrics(m), WithName("housing"))

	out := Do[[]int](context.Background(), c, Get("http://upstream.test/"))
	require.True(t, out.Success)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("housing", "transport")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("housing", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("housing", "none")))

	// Registering again against the same registry reuses the collectors.
	again := NewPrometheusMetrics(reg)
	assert.Equal(t, 1.0, testutil.ToFloat64(again.calls.WithLabelValues("housing", "none")))
}

func TestNew_InvalidConfigFallsBackToDefaults(t *testing.T) {
	c := New(Config{Timeout: 0, MaxRetries: -1})
	assert.Equal(t, DefaultConfig(), c.Config())
	assert.Equal(t, "default", c.Name())
}

func TestDo_RawMessageAndErrorBody(t *testing.T) {
	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/fail" {
			return response(http.StatusBadRequest, "text/plain", "missing field"), nil
		}
		return response(http.StatusOK, "text/plain", `{"predictions":[1]}`), nil
	})
	c := New(testConfig(), WithDoer(doer))

	ok := Do[json.RawMessage](context.Background(), c, Get("http://upstream.test/ok"))
	require.True(t, ok.Success)
	assert.JSONEq(t, `{"predictions":[1]}`, string(ok.Payload))

	failed := Do[json.RawMessage](context.Background(), c, Get("http://upstream.test/fail"))
	assert.Equal(t, KindHTTP, failed.Kind)
	assert.Equal(t, "missing field", string(failed.Body))
	assert.Nil(t, failed.Payload)
}
