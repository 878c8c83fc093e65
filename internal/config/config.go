// Package config provides configuration management for ThreatFlow.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/threatflow/threatflow/internal/store"
)

// Config holds all ThreatFlow configuration.
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Postgres   store.PostgresConfig `yaml:"postgres"`
	Redis      store.RedisConfig    `yaml:"redis"`
	Generation GenerationConfig     `yaml:"generation"`
	SOAR       SOARConfig           `yaml:"soar"`
	Telemetry  TelemetryConfig      `yaml:"telemetry"`
	Logging    LoggingConfig        `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       int           `yaml:"rate_limit"` // requests/minute per client, 0 disables
}

// GenerationConfig holds playbook generation settings.
type GenerationConfig struct {
	MaxTechniques int `yaml:"max_techniques"` // cap on techniques considered per flow
}

// SOARConfig holds defaults applied to new SOAR integrations.
type SOARConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	VerifyTLS      bool          `yaml:"verify_tls"`
}

// TelemetryConfig holds metrics and tracing settings.
type TelemetryConfig struct {
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SampleRate     float64 `yaml:"sample_rate"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       120,
		},
		Postgres: store.DefaultPostgresConfig(),
		Redis:    store.DefaultRedisConfig(),
		Generation: GenerationConfig{
			MaxTechniques: 50,
		},
		SOAR: SOARConfig{
			ConnectTimeout: 30 * time.Second,
			VerifyTLS:      true,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			TracingEnabled: false,
			OTLPEndpoint:   "localhost:4317",
			SampleRate:     0.1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
