package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"market-dashboard/internal/apiclient"
	"market-dashboard/internal/handler/http/respond"
	"market-dashboard/internal/observability/metrics"
	"market-dashboard/internal/resilience/circuitbreaker"
)

// Messages returned by the predict route.
const (
	MsgUpstreamError      = "Upstream prediction API returned an error"
	MsgPredictTimeout     = "Prediction request timed out"
	MsgPredictUnexpected  = "Unexpected error while calling prediction API"
	MsgPredictUnavailable = "prediction service unavailable"
	MsgInvalidJSONBody    = "Invalid JSON body"
	MsgInvalidUpstreamRes = "Prediction API returned invalid JSON"
)

// UpstreamErrorBody is the 502 body for a non-2xx prediction upstream.
type UpstreamErrorBody struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstreamStatus"`
	Details        string `json:"details"`
}

// PredictHandler relays prediction requests and normalizes the answer to
// {"predictions": [...]}.
type PredictHandler struct {
	client  *apiclient.Client
	url     string
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewPredictHandler creates a PredictHandler for the upstream at url.
func NewPredictHandler(client *apiclient.Client, url string, breaker *circuitbreaker.CircuitBreaker, logger *slog.Logger) *PredictHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictHandler{client: client, url: url, breaker: breaker, logger: logger}
}

func (h *PredictHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respond.Error(w, http.StatusBadRequest, MsgInvalidJSONBody)
		return
	}
	if !json.Valid(body) {
		respond.Error(w, http.StatusBadRequest, MsgInvalidJSONBody)
		return
	}

	target := apiclient.Target{
		URL:    h.url,
		Method: http.MethodPost,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	}

	var out apiclient.Outcome[json.RawMessage]
	start := time.Now()
	err = h.breaker.Execute(func() error {
		out = apiclient.Do[json.RawMessage](r.Context(), h.client, target)
		return breakerError(out, false)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		metrics.RecordUpstreamRequest(upstreamPrediction, reasonBreakerOpen, 0)
		respond.Error(w, http.StatusServiceUnavailable, MsgPredictUnavailable)
		return
	}
	metrics.RecordUpstreamRequest(upstreamPrediction, resultLabel(out), time.Since(start))

	switch {
	case out.Success:
		h.relay(w, out.Payload)
	case out.Kind == apiclient.KindHTTP:
		h.logger.Warn("prediction upstream returned an error",
			slog.Int("upstream_status", out.StatusCode))
		respond.JSON(w, http.StatusBadGateway, UpstreamErrorBody{
			Error:          MsgUpstreamError,
			UpstreamStatus: out.StatusCode,
			Details:        string(out.Body),
		})
	case out.Kind == apiclient.KindTimeout:
		respond.Error(w, http.StatusInternalServerError, MsgPredictTimeout)
	default:
		msg := out.ErrorMessage
		if msg == "" {
			msg = MsgPredictUnexpected
		}
		h.logger.Warn("prediction relay failed",
			slog.String("kind", out.Kind.String()),
			slog.String("error", respond.SanitizeString(msg)))
		respond.Error(w, http.StatusInternalServerError, respond.SanitizeString(msg))
	}
}

func (h *PredictHandler) relay(w http.ResponseWriter, payload json.RawMessage) {
	if !json.Valid(payload) {
		respond.Error(w, http.StatusInternalServerError, MsgInvalidUpstreamRes)
		return
	}
	normalized, err := NormalizePredictions(payload)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, MsgInvalidUpstreamRes)
		return
	}
	metrics.RecordPredictionShape(normalized.Shape.String())

	encoded, err := normalized.Encode()
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, MsgPredictUnexpected)
		return
	}
	respond.Raw(w, http.StatusOK, encoded)
}
