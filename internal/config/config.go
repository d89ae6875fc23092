package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// ManifestConfig holds manifest emitter/store settings.
type ManifestConfig struct {
	Dir string `json:"dir" yaml:"dir"` // default: <cwd>/.browserbase/functions/manifests
}

// RuntimeConfig holds runtime-loop and bridge timing settings.
type RuntimeConfig struct {
	RuntimeAPI  string        `json:"runtime_api" yaml:"runtime_api"` // host:port the handler polls
	Environment string        `json:"environment" yaml:"environment"` // local, production, staging
	Phase       string        `json:"phase" yaml:"phase"`             // runtime, introspect
	Deadline    time.Duration `json:"deadline" yaml:"deadline"`       // advertised Lambda-Runtime-Deadline-Ms window
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter" yaml:"exporter"` // otlp-http, stdout
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Daemon        DaemonConfig        `json:"daemon" yaml:"daemon"`
	Manifest      ManifestConfig      `json:"manifest" yaml:"manifest"`
	Runtime       RuntimeConfig       `json:"runtime" yaml:"runtime"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			HTTPAddr: "127.0.0.1:14113",
			LogLevel: "info",
		},
		Manifest: ManifestConfig{
			Dir: defaultManifestDir(),
		},
		Runtime: RuntimeConfig{
			RuntimeAPI:  "127.0.0.1:14113",
			Environment: "local",
			Phase:       "runtime",
			Deadline:    5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "devbridge",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "devbridge",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

func defaultManifestDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ".browserbase/functions/manifests"
	}
	return cwd + "/.browserbase/functions/manifests"
}

// LoadFromFile loads configuration from a JSON file, applied over defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromYAMLFile layers a devbridge.yaml file on top of cfg. A missing
// file is returned as an error; callers probe for it before calling this.
func LoadFromYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// LoadFromEnv applies environment variable overrides to the config. This is
// the last and highest-priority layer: file values, then devbridge.yaml,
// then environment, last-wins.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DEVBRIDGE_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
		cfg.Runtime.RuntimeAPI = v
	}
	if v := os.Getenv("DEVBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("DEVBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("DEVBRIDGE_MANIFESTS_DIR"); v != "" {
		cfg.Manifest.Dir = v
	}
	if v := os.Getenv("DEVBRIDGE_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("DEVBRIDGE_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("DEVBRIDGE_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}

	// Protocol-level environment variables recognized by the core itself
	// (spec.md §6), layered in alongside the ambient DEVBRIDGE_* variables.
	if v := os.Getenv("NODE_ENV"); v != "" {
		cfg.Runtime.Environment = v
	}
	if v := os.Getenv("AWS_LAMBDA_RUNTIME_API"); v != "" {
		cfg.Runtime.RuntimeAPI = v
	}
	if v := os.Getenv("BB_FUNCTIONS_PHASE"); v != "" {
		cfg.Runtime.Phase = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
