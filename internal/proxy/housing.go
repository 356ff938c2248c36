package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"market-dashboard/internal/apiclient"
	"market-dashboard/internal/handler/http/respond"
	"market-dashboard/internal/market"
	"market-dashboard/internal/observability/metrics"
	"market-dashboard/internal/resilience/circuitbreaker"
)

// FallbackHeader tells callers whether the housing body came from the bundled dataset.
const FallbackHeader = "x-fallback"

const (
	upstreamHousing    = "housing"
	upstreamPrediction = "prediction"

	reasonBreakerOpen = "breaker_open"
	reasonInvalidJSON = "invalid_json"
)

// HousingHandler relays the housing list. Whenever the upstream cannot provide
// a JSON body it answers 200 with the bundled dataset instead.
type HousingHandler struct {
	client  *apiclient.Client
	url     string
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewHousingHandler creates a HousingHandler for the upstream at url.
func NewHousingHandler(client *apiclient.Client, url string, breaker *circuitbreaker.CircuitBreaker, logger *slog.Logger) *HousingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HousingHandler{client: client, url: url, breaker: breaker, logger: logger}
}

func (h *HousingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, reason := h.fetch(r.Context())
	if reason == "" {
		w.Header().Set(FallbackHeader, "false")
		respond.Raw(w, http.StatusOK, body)
		return
	}

	h.logger.Warn("failed to proxy housing data, returning sample data",
		slog.String("reason", reason))
	metrics.RecordFallbackServed(reason)
	w.Header().Set(FallbackHeader, "true")
	respond.Raw(w, http.StatusOK, market.FallbackJSON())
}

// fetch returns the upstream body, or a non-empty reason why it is unusable.
func (h *HousingHandler) fetch(ctx context.Context) ([]byte, string) {
	var out apiclient.Outcome[json.RawMessage]
	start := time.Now()
	err := h.breaker.Execute(func() error {
		out = apiclient.Do[json.RawMessage](ctx, h.client, apiclient.Get(h.url))
		return breakerError(out, true)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		metrics.RecordUpstreamRequest(upstreamHousing, reasonBreakerOpen, 0)
		return nil, reasonBreakerOpen
	}
	metrics.RecordUpstreamRequest(upstreamHousing, resultLabel(out), time.Since(start))

	if !out.Success {
		return nil, out.Kind.String()
	}
	if !json.Valid(out.Payload) {
		return nil, reasonInvalidJSON
	}
	return out.Payload, ""
}

// breakerError maps an outcome onto what the circuit breaker counts.
// Cancellation is never the upstream's fault. With countClientErrors unset,
// 4xx answers show a live upstream and count as success.
func breakerError[T any](out apiclient.Outcome[T], countClientErrors bool) error {
	switch {
	case out.Success:
		return nil
	case out.Kind == apiclient.KindCanceled:
		return context.Canceled
	case out.Kind == apiclient.KindHTTP && out.StatusCode < 500 && !countClientErrors:
		return nil
	default:
		return out.Err()
	}
}

func resultLabel[T any](out apiclient.Outcome[T]) string {
	if out.Success {
		return "success"
	}
	return out.Kind.String()
}
