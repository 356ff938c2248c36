package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"market-dashboard/internal/apiclient"
	hhttp "market-dashboard/internal/handler/http"
	"market-dashboard/internal/handler/http/requestid"
	"market-dashboard/internal/handler/http/respond"
	"market-dashboard/internal/market"
	"market-dashboard/internal/observability/tracing"
)

// Status routes served next to /metrics.
const (
	RouteHealth  = "/health"
	RouteReport  = "/report"
	RoutePredict = "/predict"
	RouteMetrics = "/metrics"

	maxPredictBody = 1 << 20
)

// PredictRequest is the body of POST /predict. Inputs wins over Filters.
type PredictRequest struct {
	Inputs  []market.PredictionInput `json:"inputs,omitempty"`
	Filters *market.Filters          `json:"filters,omitempty"`
}

// PredictResponse is the body of a successful POST /predict.
type PredictResponse struct {
	Predictions []float64 `json:"predictions"`
}

// StatusServer exposes the dashboard's metrics, health, latest report and a
// prediction trigger on one port.
type StatusServer struct {
	d       *Dashboard
	logger  *slog.Logger
	version string
}

// NewStatusServer creates the status server for d.
func NewStatusServer(d *Dashboard, version string) *StatusServer {
	return &StatusServer{d: d, logger: d.logger, version: version}
}

// Handler returns the routed handler.
func (s *StatusServer) Handler() http.Handler {
	health := &hhttp.HealthHandler{
		Version: s.version,
		Checks:  map[string]hhttp.Check{SourceName: s.housingCheck},
	}

	mux := http.NewServeMux()
	mux.Handle(RouteMetrics, hhttp.MetricsHandler())
	mux.Handle(RouteHealth, hhttp.Chain(health, hhttp.AllowMethods(http.MethodGet, http.MethodHead)))
	mux.Handle(RouteReport, hhttp.Chain(http.HandlerFunc(s.report),
		hhttp.Observe(RouteReport),
		hhttp.AllowMethods(http.MethodGet),
	))
	mux.Handle(RoutePredict, hhttp.Chain(http.HandlerFunc(s.predict),
		hhttp.Observe(RoutePredict),
		hhttp.AllowMethods(http.MethodPost),
		hhttp.LimitRequestBody(maxPredictBody),
	))

	return hhttp.Chain(mux,
		requestid.Middleware,
		tracing.Middleware,
		hhttp.Logging(s.logger),
		hhttp.Recover(s.logger),
	)
}

// housingCheck is unhealthy only when there is nothing to show.
func (s *StatusServer) housingCheck() hhttp.CheckStatus {
	state := s.d.Housing()
	switch {
	case len(state.Data) == 0 && state.Error != "":
		return hhttp.CheckStatus{Status: hhttp.StatusUnhealthy, Message: state.Error}
	case len(state.Data) == 0:
		return hhttp.CheckStatus{Status: hhttp.StatusDegraded, Message: "waiting for first load"}
	case state.Error != "":
		return hhttp.CheckStatus{Status: hhttp.StatusDegraded, Message: "stale: " + state.Error}
	case state.UsingFallback:
		return hhttp.CheckStatus{Status: hhttp.StatusDegraded, Message: "serving bundled housing data"}
	default:
		return hhttp.CheckStatus{Status: hhttp.StatusHealthy}
	}
}

// report answers with the last scheduled report, or a live one before the
// first run. ?live=true always computes a fresh one.
func (s *StatusServer) report(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("live") != "true" {
		if last, ok := s.d.LastReport(); ok {
			respond.JSON(w, http.StatusOK, last)
			return
		}
	}
	respond.JSON(w, http.StatusOK, s.d.Report())
}

func (s *StatusServer) predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respond.Error(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	var (
		values []float64
		err    error
	)
	switch {
	case len(req.Inputs) > 0:
		values, err = s.d.Predict(r.Context(), req.Inputs)
	case req.Filters != nil:
		values, err = s.d.PredictMatching(r.Context(), *req.Filters)
	default:
		err = fmt.Errorf("%w: inputs or filters are required", market.ErrInvalidInput)
	}
	if err != nil {
		respond.Error(w, predictStatus(err), err.Error())
		return
	}
	respond.JSON(w, http.StatusOK, PredictResponse{Predictions: values})
}

func predictStatus(err error) int {
	if errors.Is(err, market.ErrInvalidInput) {
		return http.StatusBadRequest
	}
	switch apiclient.KindOf(err) {
	case apiclient.KindTimeout:
		return http.StatusGatewayTimeout
	case apiclient.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// ListenAndServe serves on addr until ctx ends, then shuts down within 5 seconds.
func (s *StatusServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      s.d.cfg.Client.Timeout*time.Duration(s.d.cfg.Client.MaxRetries+1) + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("status server shutdown initiated")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	s.logger.Info("status server stopped")
	return nil
}
