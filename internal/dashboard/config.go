package dashboard

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"market-dashboard/internal/apiclient"
	"market-dashboard/internal/config"
	"market-dashboard/internal/polling"
	pkgconfig "market-dashboard/pkg/config"
)

// Routes on the proxy the dashboard consumes.
const (
	HousingPath = "/api/market-analysis/housing"
	PredictPath = "/api/predict"
)

// Bounds for a non-zero RevalidateInterval.
const (
	MinRevalidateInterval = time.Second
	MaxRevalidateInterval = 24 * time.Hour
)

// Config holds the dashboard settings.
type Config struct {
	// BaseURL is the proxy serving the housing and predict routes.
	BaseURL string

	// RevalidateInterval is the housing refresh period. Zero disables the ticker.
	RevalidateInterval time.Duration

	// ReportSchedule is a cron expression parsed with config.CronParser.
	ReportSchedule string

	MetricsPort int

	Client apiclient.Config
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "http://127.0.0.1:3000",
		RevalidateInterval: polling.DefaultInterval,
		ReportSchedule:     config.DefaultReportSchedule,
		MetricsPort:        9090,
		Client:             apiclient.DefaultConfig(),
	}
}

// Validate checks the base URL, interval, schedule, port and client policy.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("DASHBOARD_BASE_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("DASHBOARD_BASE_URL must be an http(s) URL, got %q", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("DASHBOARD_BASE_URL must include a host")
	}
	if err := pkgconfig.ValidateNonNegativeDuration(c.RevalidateInterval); err != nil {
		return fmt.Errorf("revalidate interval: %w", err)
	}
	if c.RevalidateInterval != 0 {
		if err := pkgconfig.ValidateDurationRange(c.RevalidateInterval, MinRevalidateInterval, MaxRevalidateInterval); err != nil {
			return fmt.Errorf("revalidate interval: %w", err)
		}
	}
	if err := config.ValidateCronSchedule(c.ReportSchedule); err != nil {
		return err
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1 and 65535, got %d", c.MetricsPort)
	}
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	return nil
}

// LoadConfigFromEnv reads DASHBOARD_BASE_URL, REVALIDATE_INTERVAL,
// REPORT_SCHEDULE, METRICS_PORT and the CLIENT_* variables over the defaults.
// An invalid schedule or client policy falls back to its default and is
// counted on m; anything else invalid is returned as an error.
func LoadConfigFromEnv(m *config.Metrics) (Config, error) {
	def := DefaultConfig()

	clientCfg, err := apiclient.LoadConfigFromEnv()
	if err != nil {
		slog.Warn("invalid client configuration, using defaults", slog.Any("error", err))
		if m != nil {
			m.RecordFallback("client")
		}
	}

	cfg := Config{
		BaseURL:            pkgconfig.GetEnvString("DASHBOARD_BASE_URL", def.BaseURL),
		RevalidateInterval: pkgconfig.GetEnvDuration("REVALIDATE_INTERVAL", def.RevalidateInterval),
		ReportSchedule:     config.LoadReportSchedule(m),
		MetricsPort:        pkgconfig.GetEnvInt("METRICS_PORT", def.MetricsPort),
		Client:             clientCfg,
	}
	if err := cfg.Validate(); err != nil {
		return def, fmt.Errorf("invalid dashboard configuration: %w", err)
	}
	if m != nil {
		m.RecordLoad()
	}
	return cfg, nil
}

func (c Config) housingURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + HousingPath
}

func (c Config) predictURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + PredictPath
}
