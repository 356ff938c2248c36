// Package apiclient performs bounded, retried HTTP calls and reports every
// result as an Outcome value instead of an error.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"market-dashboard/internal/handler/http/requestid"
	"market-dashboard/internal/handler/http/respond"
	"market-dashboard/internal/observability/tracing"
	"market-dashboard/internal/resilience/retry"
)

var (
	errAttemptTimeout = errors.New("attempt deadline exceeded")
	errBodyTooLarge   = fmt.Errorf("response body exceeds %d bytes", MaxBodyBytes)
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client carries the immutable request policy shared by every call made with it.
// It is safe for concurrent use.
type Client struct {
	cfg     Config
	doer    Doer
	logger  *slog.Logger
	metrics MetricsRecorder
	name    string
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the transport.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithLogger sets the logger used for retry and failure messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithName sets the client label used in logs, spans and metrics.
func WithName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.name = name
		}
	}
}

// New creates a Client. An invalid cfg is replaced by DefaultConfig.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: NoopMetrics{},
		name:    "default",
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := cfg.Validate(); err != nil {
		c.logger.Warn("invalid client configuration, using defaults",
			slog.String("client", c.name),
			slog.Any("error", err))
		c.cfg = DefaultConfig()
	}
	if c.doer == nil {
		c.doer = NewHTTPClient()
	}
	c.logger = c.logger.With(slog.String("client", c.name))
	return c
}

// Config returns the client's request policy.
func (c *Client) Config() Config { return c.cfg }

// Name returns the client label.
func (c *Client) Name() string { return c.name }

// Do performs one logical call against target and decodes a 2xx body into T.
// Timeouts and transport failures are retried within the client's budget; HTTP
// errors, decode failures and cancellation end the call at once.
func Do[T any](ctx context.Context, c *Client, target Target) Outcome[T] {
	if ctx.Err() != nil {
		return Canceled[T]()
	}

	start := time.Now()
	if _, err := target.newRequest(ctx); err != nil {
		out := Failed[T](KindTransport, 0, err.Error(), nil)
		finish(c, target, out, 0, start)
		return out
	}

	attempts := 0
	out, err := retry.Run(ctx, c.cfg.retryPolicy(c.logger), func(attempt int) (Outcome[T], bool) {
		attempts++
		o := doAttempt[T](ctx, c, target, attempt)
		return o, o.Kind.Retryable()
	})
	if err != nil {
		out = Canceled[T]()
	}

	finish(c, target, out, attempts, start)
	return out
}

func doAttempt[T any](ctx context.Context, c *Client, target Target, attempt int) Outcome[T] {
	attemptCtx, cancel := context.WithTimeoutCause(ctx, c.cfg.Timeout, errAttemptTimeout)
	defer cancel()

	attemptCtx, span := tracing.GetTracer().Start(attemptCtx, "apiclient.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("apiclient.name", c.name),
			attribute.String("http.method", target.method()),
			attribute.String("http.url", respond.SanitizeString(target.URL)),
			attribute.Int("apiclient.attempt", attempt),
		))
	defer span.End()

	start := time.Now()
	out := roundTrip[T](ctx, attemptCtx, c, target)
	c.metrics.RecordAttempt(c.name, out.Kind, time.Since(start))

	span.SetAttributes(
		attribute.Int("http.status_code", out.StatusCode),
		attribute.String("apiclient.result", out.Kind.String()),
	)
	if !out.Success && out.Kind != KindCanceled {
		span.SetStatus(codes.Error, out.ErrorMessage)
	}
	return out
}

func roundTrip[T any](ctx, attemptCtx context.Context, c *Client, target Target) Outcome[T] {
	req, err := target.newRequest(attemptCtx)
	if err != nil {
		return Failed[T](KindTransport, 0, err.Error(), nil)
	}
	otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))
	requestid.Inject(ctx, req.Header)

	resp, err := c.doer.Do(req)
	if err != nil {
		return transportFailure[T](ctx, attemptCtx, err)
	}

	body, err := readBody(resp.Body)
	if err != nil && !errors.Is(err, errBodyTooLarge) {
		return transportFailure[T](ctx, attemptCtx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if err == nil {
			msg = errorMessage(resp.Header.Get("Content-Type"), body)
		}
		out := Failed[T](KindHTTP, resp.StatusCode, msg, resp.Header)
		out.Body = body
		return out
	}
	if err != nil {
		return Failed[T](KindDecode, resp.StatusCode, err.Error(), resp.Header)
	}

	payload, err := decodePayload[T](resp.StatusCode, resp.Header.Get("Content-Type"), body)
	if err != nil {
		return Failed[T](KindDecode, resp.StatusCode, fmt.Sprintf("Invalid response body: %v", err), resp.Header)
	}
	return Succeeded(resp.StatusCode, payload, resp.Header)
}

// transportFailure classifies an error raised before a complete response was read.
// A done caller context wins over the attempt deadline.
func transportFailure[T any](ctx, attemptCtx context.Context, err error) Outcome[T] {
	if ctx.Err() != nil {
		return Canceled[T]()
	}
	if errors.Is(context.Cause(attemptCtx), errAttemptTimeout) {
		return Failed[T](KindTimeout, 0, MsgTimeout, nil)
	}
	return Failed[T](KindTransport, 0, transportMessage(err), nil)
}

func transportMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return MsgNetwork
}

func readBody(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	body, err := io.ReadAll(io.LimitReader(rc, MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodyBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func isJSON(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

func decodePayload[T any](status int, contentType string, body []byte) (T, error) {
	var out T
	if status == http.StatusNoContent {
		return out, nil
	}
	if isJSON(contentType) {
		err := json.Unmarshal(body, &out)
		return out, err
	}
	switch p := any(&out).(type) {
	case *string:
		*p = string(body)
	case *[]byte:
		*p = body
	case *json.RawMessage:
		*p = body
	case *any:
		*p = string(body)
	default:
		return out, fmt.Errorf("unexpected content type %q", contentType)
	}
	return out, nil
}

// errorMessage extracts the message of a non-2xx body: a bare JSON string, the
// JSON "error" field, else the body text. Empty means the caller should use
// "HTTP <status>".
func errorMessage(contentType string, body []byte) string {
	if isJSON(contentType) {
		var bare string
		if json.Unmarshal(body, &bare) == nil {
			return strings.TrimSpace(bare)
		}
		var parsed struct {
			Error json.RawMessage `json:"error"`
		}
		if json.Unmarshal(body, &parsed) != nil || len(parsed.Error) == 0 || string(parsed.Error) == "null" {
			return ""
		}
		var s string
		if json.Unmarshal(parsed.Error, &s) == nil {
			return strings.TrimSpace(s)
		}
		var compact bytes.Buffer
		if json.Compact(&compact, parsed.Error) == nil {
			return compact.String()
		}
		return string(parsed.Error)
	}
	return strings.TrimSpace(string(body))
}

func httpStatusMessage(status int) string {
	return fmt.Sprintf("HTTP %d", status)
}

// finish records the call-level metric and logs terminal failures.
func finish[T any](c *Client, target Target, out Outcome[T], attempts int, start time.Time) {
	elapsed := time.Since(start)
	safeURL := respond.SanitizeString(target.URL)
	c.metrics.RecordCall(c.name, out.Kind, attempts, elapsed)

	switch {
	case out.Success:
		c.logger.Debug("request succeeded",
			slog.String("method", target.method()),
			slog.String("url", safeURL),
			slog.Int("status", out.StatusCode),
			slog.Int("attempts", attempts),
			slog.Duration("duration", elapsed))
	case out.Kind == KindCanceled:
		c.logger.Debug("request canceled",
			slog.String("method", target.method()),
			slog.String("url", safeURL))
	default:
		c.logger.Warn("request failed",
			slog.String("method", target.method()),
			slog.String("url", safeURL),
			slog.String("kind", out.Kind.String()),
			slog.Int("status", out.StatusCode),
			slog.String("error", out.ErrorMessage),
			slog.Int("attempts", attempts),
			slog.Duration("duration", elapsed))
	}
}
