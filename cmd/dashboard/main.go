package main

import (
	"context"
	"flag"
	"fmt"
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
	"market-dashboard/internal/dashboard"
	"market-dashboard/internal/observability/logging"
	"market-dashboard/internal/observability/tracing"
	pkgconfig "market-dashboard/pkg/config"
)

const serviceName = "market-dashboard"

func main() {
	envErr := godotenv.Load()

	configPath := flag.String("config", "", "YAML config file (overrides "+config.FileEnvVar+")")
	textLogs := flag.Bool("text-logs", pkgconfig.GetEnvBool("LOG_TEXT", false), "human-readable colored logs (default from LOG_TEXT)")
	flag.Parse()

	logger := initLogger(*textLogs)
	if envErr != nil {
		logger.Debug("no .env file loaded", slog.Any("error", envErr))
	}
	loadConfigFile(logger, *configPath)

	configMetrics := config.NewMetrics(prometheus.DefaultRegisterer, "dashboard")
	cfg, err := dashboard.LoadConfigFromEnv(configMetrics)
	if err != nil {
		logger.Error("invalid dashboard configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("dashboard configuration loaded",
		slog.String("base_url", cfg.BaseURL),
		slog.Duration("revalidate_interval", cfg.RevalidateInterval),
		slog.String("report_schedule", cfg.ReportSchedule),
		slog.Int("metrics_port", cfg.MetricsPort),
		slog.Duration("client_timeout", cfg.Client.Timeout),
		slog.Int("client_max_retries", cfg.Client.MaxRetries))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := initTracing(ctx, logger)
	defer shutdownTracing()

	d, err := dashboard.New(cfg, dashboard.Deps{
		Logger:  logger,
		Metrics: apiclient.NewPrometheusMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logger.Error("failed to create dashboard", slog.Any("error", err))
		os.Exit(1)
	}
	status := dashboard.NewStatusServer(d, pkgconfig.GetEnvString("APP_VERSION", "dev"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return status.ListenAndServe(gctx, fmt.Sprintf(":%d", cfg.MetricsPort))
	})
	g.Go(func() error {
		d.Start(gctx)
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return d.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("dashboard failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("dashboard stopped")
}

func initLogger(text bool) *slog.Logger {
	logger := logging.NewLogger()
	if text {
		logger = logging.NewTextLogger()
	}
	slog.SetDefault(logger)
	return logger
}

// loadConfigFile applies the YAML file given by flag or CONFIG_FILE.
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
