package proxy

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	pkgconfig "market-dashboard/pkg/config"
)

// Config holds the relay settings.
type Config struct {
	Addr string

	// MarketAnalysisBaseURL is the housing upstream. The route path is appended as is.
	MarketAnalysisBaseURL string
	// PredictionBaseURL is the prediction upstream. A trailing slash is trimmed.
	PredictionBaseURL string

	HousingTimeout time.Duration
	PredictTimeout time.Duration

	// PredictRateLimit is requests per second per client IP on /api/predict.
	PredictRateLimit float64
	PredictRateBurst int

	MaxBodyBytes int64
	Version      string
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		Addr:                  ":3000",
		MarketAnalysisBaseURL: "http://127.0.0.1:8080",
		PredictionBaseURL:     "http://127.0.0.1:8000",
		HousingTimeout:        10 * time.Second,
		PredictTimeout:        15 * time.Second,
		PredictRateLimit:      20,
		PredictRateBurst:      40,
		MaxBodyBytes:          1 << 20,
		Version:               "dev",
	}
}

// Validate checks URLs, budgets and limits.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	for name, raw := range map[string]string{
		"MARKET_ANALYSIS_API_BASE_URL": c.MarketAnalysisBaseURL,
		"PREDICTION_API_BASE_URL":      c.PredictionBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s must be an http(s) URL, got %q", name, raw)
		}
		if u.Host == "" {
			return fmt.Errorf("%s must include a host", name)
		}
	}
	if err := pkgconfig.ValidatePositiveDuration(c.HousingTimeout); err != nil {
		return fmt.Errorf("housing timeout: %w", err)
	}
	if err := pkgconfig.ValidatePositiveDuration(c.PredictTimeout); err != nil {
		return fmt.Errorf("predict timeout: %w", err)
	}
	if c.PredictRateLimit <= 0 {
		return fmt.Errorf("predict rate limit must be positive, got %v", c.PredictRateLimit)
	}
	if c.PredictRateBurst < 1 {
		return fmt.Errorf("predict rate burst must be at least 1, got %d", c.PredictRateBurst)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	return nil
}

// LoadConfigFromEnv reads the relay settings from the environment.
func LoadConfigFromEnv() (Config, error) {
	def := DefaultConfig()
	cfg := Config{
		Addr:                  pkgconfig.GetEnvString("PROXY_ADDR", def.Addr),
		MarketAnalysisBaseURL: pkgconfig.GetEnvString("MARKET_ANALYSIS_API_BASE_URL", def.MarketAnalysisBaseURL),
		PredictionBaseURL:     pkgconfig.GetEnvString("PREDICTION_API_BASE_URL", def.PredictionBaseURL),
		HousingTimeout:        pkgconfig.GetEnvDuration("HOUSING_UPSTREAM_TIMEOUT", def.HousingTimeout),
		PredictTimeout:        pkgconfig.GetEnvDuration("PREDICT_UPSTREAM_TIMEOUT", def.PredictTimeout),
		PredictRateLimit:      pkgconfig.GetEnvFloat("PREDICT_RATE_LIMIT", def.PredictRateLimit),
		PredictRateBurst:      pkgconfig.GetEnvInt("PREDICT_RATE_BURST", def.PredictRateBurst),
		MaxBodyBytes:          int64(pkgconfig.GetEnvInt("PROXY_MAX_BODY_BYTES", int(def.MaxBodyBytes))),
		Version:               pkgconfig.GetEnvString("APP_VERSION", def.Version),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid proxy configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) housingURL() string {
	return c.MarketAnalysisBaseURL + "/api/market-analysis/housing"
}

func (c Config) predictURL() string {
	return strings.TrimSuffix(c.PredictionBaseURL, "/") + "/predict"
}
