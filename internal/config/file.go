// Package config loads the optional YAML configuration file and validates the
// settings shared by the commands. Components still read their own settings
// from the environment; the file only supplies values the environment lacks.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	pkgconfig "market-dashboard/pkg/config"
)

// FileEnvVar names the variable holding the config file path.
const FileEnvVar = "CONFIG_FILE"

// File mirrors the environment variables in YAML form. Unset fields are left
// to the environment or the component defaults.
type File struct {
	LogLevel     *string `yaml:"log_level"`
	OTLPEndpoint *string `yaml:"otlp_endpoint"`

	Proxy struct {
		Addr                  *string  `yaml:"addr"`
		MarketAnalysisBaseURL *string  `yaml:"market_analysis_api_base_url"`
		PredictionBaseURL     *string  `yaml:"prediction_api_base_url"`
		HousingTimeout        *string  `yaml:"housing_upstream_timeout"`
		PredictTimeout        *string  `yaml:"predict_upstream_timeout"`
		PredictRateLimit      *float64 `yaml:"predict_rate_limit"`
		PredictRateBurst      *int     `yaml:"predict_rate_burst"`
	} `yaml:"proxy"`

	Client struct {
		Timeout       *string  `yaml:"timeout"`
		MaxRetries    *int     `yaml:"max_retries"`
		RetryDelay    *string  `yaml:"retry_delay"`
		RetryBackoff  *float64 `yaml:"retry_backoff"`
		MaxRetryDelay *string  `yaml:"max_retry_delay"`
	} `yaml:"client"`

	Dashboard struct {
		BaseURL            *string `yaml:"base_url"`
		RevalidateInterval *string `yaml:"revalidate_interval"`
		ReportSchedule     *string `yaml:"report_schedule"`
		MetricsPort        *int    `yaml:"metrics_port"`
	} `yaml:"dashboard"`
}

// LoadFile reads and validates a YAML config file.
// The path comes from the operator (flag or CONFIG_FILE), not from requests.
func LoadFile(path string) (*File, error) {
	// #nosec G304 -- path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &f, nil
}

func (f *File) validate() error {
	durations := map[string]*string{
		"proxy.housing_upstream_timeout": f.Proxy.HousingTimeout,
		"proxy.predict_upstream_timeout": f.Proxy.PredictTimeout,
		"client.timeout":                 f.Client.Timeout,
		"client.retry_delay":             f.Client.RetryDelay,
		"client.max_retry_delay":         f.Client.MaxRetryDelay,
		"dashboard.revalidate_interval":  f.Dashboard.RevalidateInterval,
	}
	for _, name := range sortedKeys(durations) {
		raw := durations[name]
		if raw == nil {
			continue
		}
		d, err := time.ParseDuration(*raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := pkgconfig.ValidateNonNegativeDuration(d); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if s := f.Dashboard.ReportSchedule; s != nil {
		if err := ValidateCronSchedule(*s); err != nil {
			return fmt.Errorf("dashboard.report_schedule: %w", err)
		}
	}
	if p := f.Dashboard.MetricsPort; p != nil && (*p < 1 || *p > 65535) {
		return fmt.Errorf("dashboard.metrics_port must be between 1 and 65535, got %d", *p)
	}
	if n := f.Client.MaxRetries; n != nil && *n < 0 {
		return fmt.Errorf("client.max_retries must be non-negative, got %d", *n)
	}
	return nil
}

// Env returns the file's settings keyed by environment variable name.
func (f *File) Env() map[string]string {
	env := map[string]string{}
	setString := func(key string, v *string) {
		if v != nil {
			env[key] = *v
		}
	}
	setInt := func(key string, v *int) {
		if v != nil {
			env[key] = strconv.Itoa(*v)
		}
	}
	setFloat := func(key string, v *float64) {
		if v != nil {
			env[key] = strconv.FormatFloat(*v, 'f', -1, 64)
		}
	}

	setString("LOG_LEVEL", f.LogLevel)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", f.OTLPEndpoint)

	setString("PROXY_ADDR", f.Proxy.Addr)
	setString("MARKET_ANALYSIS_API_BASE_URL", f.Proxy.MarketAnalysisBaseURL)
	setString("PREDICTION_API_BASE_URL", f.Proxy.PredictionBaseURL)
	setString("HOUSING_UPSTREAM_TIMEOUT", f.Proxy.HousingTimeout)
	setString("PREDICT_UPSTREAM_TIMEOUT", f.Proxy.PredictTimeout)
	setFloat("PREDICT_RATE_LIMIT", f.Proxy.PredictRateLimit)
	setInt("PREDICT_RATE_BURST", f.Proxy.PredictRateBurst)

	setString("CLIENT_TIMEOUT", f.Client.Timeout)
	setInt("CLIENT_MAX_RETRIES", f.Client.MaxRetries)
	setString("CLIENT_RETRY_DELAY", f.Client.RetryDelay)
	setFloat("CLIENT_RETRY_BACKOFF", f.Client.RetryBackoff)
	setString("CLIENT_MAX_RETRY_DELAY", f.Client.MaxRetryDelay)

	setString("DASHBOARD_BASE_URL", f.Dashboard.BaseURL)
	setString("REVALIDATE_INTERVAL", f.Dashboard.RevalidateInterval)
	setString("REPORT_SCHEDULE", f.Dashboard.ReportSchedule)
	setInt("METRICS_PORT", f.Dashboard.MetricsPort)
	return env
}

// Apply exports the file's settings into the process environment. Variables
// that are already set win. It returns the names it set, sorted.
func (f *File) Apply() ([]string, error) {
	env := f.Env()
	var applied []string
	for _, key := range sortedKeys(env) {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, env[key]); err != nil {
			return applied, fmt.Errorf("set %s: %w", key, err)
		}
		applied = append(applied, key)
	}
	return applied, nil
}

// LoadFromEnv applies the file named by CONFIG_FILE, if any.
func LoadFromEnv() ([]string, error) {
	path := pkgconfig.GetEnvString(FileEnvVar, "")
	if path == "" {
		return nil, nil
	}
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return f.Apply()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
