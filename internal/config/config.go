// Package config loads the orchestrator configuration from YAML and keeps it
// current through fsnotify-driven hot reload with atomic pointer swaps.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MikaelTHEoret/mastermind/internal/resilience"
	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
	"github.com/MikaelTHEoret/mastermind/pkg/provider"
)

// Config is the complete orchestrator configuration.
type Config struct {
	Primary  provider.Config  `yaml:"primary"`
	Fallback *provider.Config `yaml:"fallback"`

	Retry        resilience.RetryPolicy `yaml:"retry"`
	RateLimit    RateLimitConfig        `yaml:"rate_limit"`
	Memory       MemoryConfig           `yaml:"memory"`
	Conversation ConversationConfig     `yaml:"conversation"`
	Logging      LoggingConfig          `yaml:"logging"`
	Metrics      MetricsConfig          `yaml:"metrics"`
	Tracing      TracingConfig          `yaml:"tracing"`
}

// RateLimitConfig selects where sliding windows are kept.
type RateLimitConfig struct {
	Store     string `yaml:"store"` // memory, redis
	RedisAddr string `yaml:"redis_addr"`
	Prefix    string `yaml:"prefix"`

	// Estimator selects token estimation: chars (len/4) or tiktoken.
	Estimator string `yaml:"estimator"`
}

// MemoryConfig configures the memory store and context retrieval.
type MemoryConfig struct {
	Driver        string  `yaml:"driver"` // memory, sqlite, postgres, redis
	DSN           string  `yaml:"dsn"`
	Dimension     int     `yaml:"dimension"`
	MinRelevance  float64 `yaml:"min_relevance"`
	Limit         int     `yaml:"limit"`
	ContextWindow int     `yaml:"context_window"`
	Embedder      string  `yaml:"embedder"` // local, backend
}

// ConversationConfig configures compaction.
type ConversationConfig struct {
	Threshold int `yaml:"threshold"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP gRPC endpoint, e.g. "localhost:4317"
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `yaml:"insecure"`
}

// Token estimators.
const (
	EstimatorChars    = "chars"
	EstimatorTiktoken = "tiktoken"
)

// Embedder sources.
const (
	EmbedderLocal   = "local"
	EmbedderBackend = "backend"
)

// DefaultConfig returns a configuration with sensible defaults. Primary is
// left empty; it must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Retry: resilience.DefaultRetryPolicy(),
		RateLimit: RateLimitConfig{
			Store:     "memory",
			Prefix:    "mastermind:ratelimit",
			Estimator: EstimatorChars,
		},
		Memory: MemoryConfig{
			Driver:        "memory",
			MinRelevance:  0.1,
			Limit:         5,
			ContextWindow: 3,
			Embedder:      EmbedderLocal,
		},
		Conversation: ConversationConfig{Threshold: 10},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9464",
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "mastermind",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// normalize attaches a top-level fallback to the primary backend.
func (c *Config) normalize() {
	if c.Fallback != nil && c.Primary.Fallback == nil {
		c.Primary.Fallback = c.Fallback
	}
	c.Fallback = c.Primary.Fallback
}

// Validate checks the configuration for errors. Failures are ConfigurationErrors.
func (c *Config) Validate() error {
	if err := c.Primary.Validate(); err != nil {
		return err
	}

	if c.Retry.MaxAttempts < 1 {
		return llmerrors.NewConfigurationError("", "retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 {
		return llmerrors.NewConfigurationError("", "retry.base_delay must not be negative")
	}
	switch c.Retry.Backoff {
	case resilience.BackoffLinear, resilience.BackoffExponential:
	default:
		return llmerrors.NewConfigurationError("", fmt.Sprintf("unknown retry backoff %q", c.Retry.Backoff))
	}

	switch strings.ToLower(c.RateLimit.Store) {
	case "", "memory":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			return llmerrors.NewConfigurationError("", "rate_limit.redis_addr is required for the redis store")
		}
	default:
		return llmerrors.NewConfigurationError("", fmt.Sprintf("unknown rate limit store %q", c.RateLimit.Store))
	}

	switch c.RateLimit.Estimator {
	case "", EstimatorChars, EstimatorTiktoken:
	default:
		return llmerrors.NewConfigurationError("", fmt.Sprintf("unknown token estimator %q", c.RateLimit.Estimator))
	}

	switch strings.ToLower(c.Memory.Driver) {
	case "", "memory", "sqlite", "postgres", "redis":
	default:
		return llmerrors.NewConfigurationError("", fmt.Sprintf("unknown memory driver %q", c.Memory.Driver))
	}
	if c.Memory.MinRelevance < -1 || c.Memory.MinRelevance > 1 {
		return llmerrors.NewConfigurationError("", "memory.min_relevance must be between -1 and 1")
	}
	if c.Memory.Dimension < 0 || c.Memory.Limit < 0 || c.Memory.ContextWindow < 0 {
		return llmerrors.NewConfigurationError("", "memory sizes must not be negative")
	}
	switch c.Memory.Embedder {
	case "", EmbedderLocal, EmbedderBackend:
	default:
		return llmerrors.NewConfigurationError("", fmt.Sprintf("unknown memory embedder %q", c.Memory.Embedder))
	}

	if c.Conversation.Threshold < 0 {
		return llmerrors.NewConfigurationError("", "conversation.threshold must not be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return llmerrors.NewConfigurationError("", "tracing.sample_rate must be between 0 and 1")
	}
	return nil
}
