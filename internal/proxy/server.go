// Package proxy serves the two relay routes the dashboard talks to: the
// housing list with fallback substitution and the prediction relay with
// response normalization.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"market-dashboard/internal/apiclient"
	hhttp "market-dashboard/internal/handler/http"
	"market-dashboard/internal/handler/http/requestid"
	"market-dashboard/internal/observability/tracing"
	"market-dashboard/internal/resilience/circuitbreaker"
)

// Route paths.
const (
	RouteHousing = "/api/market-analysis/housing"
	RoutePredict = "/api/predict"
	RouteHealth  = "/health"
	RouteMetrics = "/metrics"
)

// Deps are the collaborators a Server can be given. Zero values select defaults.
type Deps struct {
	Doer    apiclient.Doer
	Logger  *slog.Logger
	Metrics apiclient.MetricsRecorder
}

// Server wires the relay routes with their clients, breakers and middleware.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	housing *HousingHandler
	predict *PredictHandler
	limiter *hhttp.RateLimiter
	health  *hhttp.HealthHandler

	housingBreaker *circuitbreaker.CircuitBreaker
	predictBreaker *circuitbreaker.CircuitBreaker
}

// NewServer builds a Server. Each relay gets one attempt bounded by its budget.
func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientFor := func(name string, budget time.Duration) *apiclient.Client {
		opts := []apiclient.Option{apiclient.WithName(name), apiclient.WithLogger(logger)}
		if deps.Doer != nil {
			opts = append(opts, apiclient.WithDoer(deps.Doer))
		}
		if deps.Metrics != nil {
			opts = append(opts, apiclient.WithMetrics(deps.Metrics))
		}
		return apiclient.New(apiclient.Config{Timeout: budget, MaxRetries: 0}, opts...)
	}

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		limiter:        hhttp.NewRateLimiter(cfg.PredictRateLimit, cfg.PredictRateBurst),
		housingBreaker: circuitbreaker.New(circuitbreaker.HousingUpstreamConfig()),
		predictBreaker: circuitbreaker.New(circuitbreaker.PredictionUpstreamConfig()),
	}
	s.housing = NewHousingHandler(clientFor(upstreamHousing, cfg.HousingTimeout), cfg.housingURL(), s.housingBreaker,
		logger.With(slog.String("route", RouteHousing)))
	s.predict = NewPredictHandler(clientFor(upstreamPrediction, cfg.PredictTimeout), cfg.predictURL(), s.predictBreaker,
		logger.With(slog.String("route", RoutePredict)))
	s.health = &hhttp.HealthHandler{
		Version: cfg.Version,
		Checks: map[string]hhttp.Check{
			"housing_upstream":    breakerCheck(s.housingBreaker, "serving bundled housing data"),
			"prediction_upstream": breakerCheck(s.predictBreaker, "predictions unavailable"),
		},
	}
	return s
}

// breakerCheck reports an open breaker as degraded: the proxy itself still answers.
func breakerCheck(cb *circuitbreaker.CircuitBreaker, openMsg string) hhttp.Check {
	return func() hhttp.CheckStatus {
		switch cb.State() {
		case gobreaker.StateOpen:
			return hhttp.CheckStatus{Status: hhttp.StatusDegraded, Message: openMsg}
		case gobreaker.StateHalfOpen:
			return hhttp.CheckStatus{Status: hhttp.StatusDegraded, Message: "probing upstream"}
		default:
			return hhttp.CheckStatus{Status: hhttp.StatusHealthy}
		}
	}
}

// Handler returns the routed handler with the shared middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(RouteHousing, hhttp.Chain(s.housing,
		hhttp.Observe(RouteHousing),
		hhttp.AllowMethods(http.MethodGet),
	))
	mux.Handle(RoutePredict, hhttp.Chain(s.predict,
		hhttp.Observe(RoutePredict),
		hhttp.AllowMethods(http.MethodPost),
		s.limiter.Limit,
		hhttp.LimitRequestBody(s.cfg.MaxBodyBytes),
	))
	mux.Handle(RouteHealth, hhttp.Chain(s.health, hhttp.AllowMethods(http.MethodGet, http.MethodHead)))
	mux.Handle(RouteMetrics, hhttp.MetricsHandler())

	return hhttp.Chain(mux,
		requestid.Middleware,
		tracing.Middleware,
		hhttp.Logging(s.logger),
		hhttp.Recover(s.logger),
	)
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      s.cfg.PredictTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("proxy listening", slog.String("addr", s.cfg.Addr))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down proxy")
	return srv.Shutdown(shutdownCtx)
}
