package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"market-dashboard/internal/apiclient"
	"market-dashboard/internal/config"
	"market-dashboard/internal/observability/logging"
	"market-dashboard/internal/observability/tracing"
	"market-dashboard/internal/proxy"
	pkgconfig "market-dashboard/pkg/config"
)

const serviceName = "market-dashboard-proxy"

func main() {
	// .env is optional; real environment variables win
	envErr := godotenv.Load()

	configPath := flag.String("config", "", "YAML config file (overrides "+config.FileEnvVar+")")
	textLogs := flag.Bool("text-logs", pkgconfig.GetEnvBool("LOG_TEXT", false), "human-readable colored logs (default from LOG_TEXT)")
	flag.Parse()

	logger := initLogger(*textLogs)
	if envErr != nil {
		logger.Debug("no .env file loaded", slog.Any("error", envErr))
	}
	loadConfigFile(logger, *configPath)

	cfg, err := proxy.LoadConfigFromEnv()
	if err != nil {
		logger.Error("invalid proxy configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("proxy configuration loaded",
		slog.String("addr", cfg.Addr),
		slog.String("market_analysis_api", cfg.MarketAnalysisBaseURL),
		slog.String("prediction_api", cfg.PredictionBaseURL),
		slog.Duration("housing_timeout", cfg.HousingTimeout),
		slog.Duration("predict_timeout", cfg.PredictTimeout),
		slog.String("version", cfg.Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := initTracing(ctx, logger)
	defer shutdownTracing()

	srv := proxy.NewServer(cfg, proxy.Deps{
		Logger:  logger,
		Metrics: apiclient.NewPrometheusMetrics(prometheus.DefaultRegisterer),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("proxy failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("proxy stopped")
}

// initLogger builds the process logger and installs it as the slog default.
func initLogger(text bool) *slog.Logger {
	logger := logging.NewLogger()
	if text {
		logger = logging.NewTextLogger()
	}
	slog.SetDefault(logger)
	return logger
}

// loadConfigFile applies the YAML file given by flag or CONFIG_FILE.
// Variables already present in the environment are kept.
func loadConfigFile(logger *slog.Logger, path string) {
	var (
		applied []string
		err     error
	)
	if path != "" {
		var f *config.File
		if f, err = config.LoadFile(path); err == nil {
			applied, err = f.Apply()
		}
	} else {
		applied, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config file", slog.Any("error", err))
		os.Exit(1)
	}
	if len(applied) > 0 {
		logger.Info("config file applied", slog.Any("keys", applied))
	}
}

// initTracing installs the tracer provider. Spans are exported only when
// OTEL_EXPORTER_OTLP_ENDPOINT is set.
func initTracing(ctx context.Context, logger *slog.Logger) func() {
	shutdown, err := tracing.Setup(ctx, serviceName, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		logger.Warn("tracing exporter disabled", slog.Any("error", err))
		shutdown = tracing.Init(serviceName)
	}
	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Error("failed to flush traces", slog.Any("error", err))
		}
	}
}
