// Package provider defines the Backend Adapter contract implemented by every
// chat and embedding backend.
package provider

import (
	"context"
	"strings"
	"time"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
	"github.com/MikaelTHEoret/mastermind/pkg/types"
)

// Provider is a uniform request/response contract over one concrete backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the backend identity used for queueing, rate limiting and logs.
	Name() string

	// Initialize verifies the backend is reachable and its credentials are accepted.
	Initialize(ctx context.Context) error

	// Chat sends a conversation and returns the assistant reply. Roles outside
	// system, user and assistant fail with an UnsupportedRole error.
	Chat(ctx context.Context, messages []types.Message) (types.Message, error)
}

// Embedder is implemented by providers that can produce embedding vectors.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Cleaner is implemented by providers that hold resources needing release.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Backend kinds.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindOllama    = "ollama"
)

// DefaultTimeout bounds a single remote call when Config.Timeout is unset.
const DefaultTimeout = 60 * time.Second

// Config is the BackendConfig for one backend. It is owned by the caller and
// treated as read-only.
type Config struct {
	Kind           string            `yaml:"kind"`
	Name           string            `yaml:"name"`
	Model          string            `yaml:"model"`
	EmbeddingModel string            `yaml:"embedding_model"`
	APIKey         string            `yaml:"api_key"`
	BaseURL        string            `yaml:"base_url"`
	Temperature    *float64          `yaml:"temperature"`
	MaxTokens      int               `yaml:"max_tokens"`
	Timeout        time.Duration     `yaml:"timeout"`
	Headers        map[string]string `yaml:"headers"`

	// AllowPrivateBaseURL permits loopback and private hosts for cloud kinds.
	AllowPrivateBaseURL bool `yaml:"allow_private_base_url"`

	// Per-minute ceilings for the backend's sliding windows. Zero means unlimited.
	RequestsPerMinute int `yaml:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute"`

	Fallback *Config `yaml:"fallback"`
}

// Identity returns the backend identity: Name when set, otherwise Kind.
func (c Config) Identity() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Kind
}

// CallTimeout returns the per-call timeout.
func (c Config) CallTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// RequiresCredentials reports whether the backend kind needs an API key.
// Locally hosted kinds do not.
func (c Config) RequiresCredentials() bool {
	switch strings.ToLower(c.Kind) {
	case KindOllama:
		return false
	default:
		return true
	}
}

// HasCredentials reports whether the credentials the kind requires are present.
func (c Config) HasCredentials() bool {
	return !c.RequiresCredentials() || strings.TrimSpace(c.APIKey) != ""
}

// Validate checks the fields the core consumes.
func (c Config) Validate() error {
	if c.Kind == "" {
		return llmerrors.NewConfigurationError(c.Name, "backend kind is required")
	}
	if c.Model == "" {
		return llmerrors.NewConfigurationError(c.Identity(), "model is required")
	}
	if c.MaxTokens < 0 {
		return llmerrors.NewConfigurationError(c.Identity(), "max_tokens must not be negative")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return llmerrors.NewConfigurationError(c.Identity(), "temperature must be between 0 and 2")
	}
	if c.BaseURL != "" {
		allowPrivate := c.AllowPrivateBaseURL || !c.RequiresCredentials()
		if err := ValidateBaseURL(c.Identity(), c.BaseURL, allowPrivate); err != nil {
			return err
		}
	}
	if c.RequestsPerMinute < 0 || c.TokensPerMinute < 0 {
		return llmerrors.NewConfigurationError(c.Identity(), "rate limits must not be negative")
	}
	if c.Fallback != nil {
		if c.Fallback.Identity() == c.Identity() {
			return llmerrors.NewConfigurationError(c.Identity(), "fallback must be a distinct backend identity")
		}
		if c.Fallback.Fallback != nil {
			return llmerrors.NewConfigurationError(c.Identity(), "fallback backends cannot chain further fallbacks")
		}
		if err := c.Fallback.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Factory creates a provider from its configuration.
type Factory func(cfg Config) (Provider, error)
