// Package anthropic provides the Anthropic Messages API adapter.
package anthropic

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MikaelTHEoret/mastermind/internal/httputil"
	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
	"github.com/MikaelTHEoret/mastermind/pkg/provider"
	"github.com/MikaelTHEoret/mastermind/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "anthropic"

	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the default Anthropic API version.
	DefaultAPIVersion = "2023-06-01"

	// DefaultMaxTokens is sent when no limit is configured; the API requires one.
	DefaultMaxTokens = 4096
)

// Provider implements the Anthropic Messages API adapter.
type Provider struct {
	name        string
	apiKey      string
	baseURL     string
	apiVersion  string
	model       string
	temperature *float64
	maxTokens   int
	timeout     time.Duration
	headers     map[string]string
	http        *httputil.Client
}

// New creates a new Anthropic provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:       ProviderName,
		baseURL:    DefaultBaseURL,
		apiVersion: DefaultAPIVersion,
		maxTokens:  DefaultMaxTokens,
		timeout:    provider.DefaultTimeout,
		headers:    make(map[string]string),
		http:       &httputil.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.http.Backend = p.name
	p.http.Model = p.model
	return p
}

// NewFromConfig creates a provider from a backend configuration.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	opts := []Option{
		WithName(cfg.Identity()),
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithModel(cfg.Model),
		WithMaxTokens(cfg.MaxTokens),
		WithTimeout(cfg.Timeout),
	}
	if cfg.Temperature != nil {
		opts = append(opts, WithTemperature(*cfg.Temperature))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, WithHeader(k, v))
	}
	return New(opts...), nil
}

// Name returns the backend identity.
func (p *Provider) Name() string {
	return p.name
}

// Initialize checks that credentials are present. The Messages API has no
// free endpoint for verifying a key, so the first chat call is the real check.
func (p *Provider) Initialize(_ context.Context) error {
	if strings.TrimSpace(p.apiKey) == "" {
		return llmerrors.NewConfigurationError(p.name, "api key is required")
	}
	return nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

// Chat sends the conversation to /v1/messages.
func (p *Provider) Chat(ctx context.Context, messages []types.Message) (types.Message, error) {
	system, converted, err := p.transformMessages(messages)
	if err != nil {
		return types.Message{}, err
	}

	req := anthropicRequest{
		Model:       p.model,
		Messages:    converted,
		MaxTokens:   p.maxTokens,
		System:      system,
		Temperature: p.temperature,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp anthropicResponse
	if err := p.http.Do(ctx, http.MethodPost, p.url("/v1/messages"), p.requestHeaders(), req, &resp); err != nil {
		return types.Message{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return types.Message{}, llmerrors.NewTransientError(p.name, p.model, "response contained no text content", nil)
	}
	return types.AssistantMessage(text.String()), nil
}

// transformMessages lifts system messages into the top-level system prompt and
// merges consecutive turns of the same role, which the Messages API rejects.
func (p *Provider) transformMessages(messages []types.Message) (string, []anthropicMessage, error) {
	var system []string
	result := make([]anthropicMessage, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			system = append(system, m.Content)
			continue
		case types.RoleUser, types.RoleAssistant:
		default:
			return "", nil, llmerrors.NewUnsupportedRoleError(p.name, string(m.Role))
		}

		role := string(m.Role)
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content += "\n\n" + m.Content
			continue
		}
		result = append(result, anthropicMessage{Role: role, Content: m.Content})
	}

	if len(result) == 0 {
		return "", nil, llmerrors.NewValidationError("at least one user or assistant message is required")
	}
	return strings.Join(system, "\n\n"), result, nil
}

func (p *Provider) url(path string) string {
	return strings.TrimSuffix(p.baseURL, "/") + path
}

func (p *Provider) requestHeaders() map[string]string {
	headers := make(map[string]string, len(p.headers)+2)
	for k, v := range p.headers {
		headers[k] = v
	}
	headers["x-api-key"] = p.apiKey
	headers["anthropic-version"] = p.apiVersion
	return headers
}
