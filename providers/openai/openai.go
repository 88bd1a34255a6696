// Package openai provides the OpenAI chat and embedding adapter. Any backend
// speaking the OpenAI wire format can be reached by overriding the base URL.
package openai

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
	ProviderName = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultEmbeddingModel is used when no embedding model is configured.
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// Provider implements the OpenAI API adapter.
type Provider struct {
	name           string
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	temperature    *float64
	maxTokens      int
	timeout        time.Duration
	headers        map[string]string
	http           *httputil.Client
}

// New creates a new OpenAI provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:           ProviderName,
		baseURL:        DefaultBaseURL,
		embeddingModel: DefaultEmbeddingModel,
		timeout:        provider.DefaultTimeout,
		headers:        make(map[string]string),
		http:           &httputil.Client{},
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
		WithEmbeddingModel(cfg.EmbeddingModel),
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

// Initialize verifies the API key by listing models.
func (p *Provider) Initialize(ctx context.Context) error {
	if strings.TrimSpace(p.apiKey) == "" {
		return llmerrors.NewConfigurationError(p.name, "api key is required")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.http.Do(ctx, http.MethodGet, p.url("/models"), p.authHeaders(), nil, nil)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Chat sends the conversation to /chat/completions.
func (p *Provider) Chat(ctx context.Context, messages []types.Message) (types.Message, error) {
	req := chatRequest{
		Model:       p.model,
		Messages:    make([]chatMessage, 0, len(messages)),
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	for _, m := range messages {
		role, err := mapRole(p.name, m.Role)
		if err != nil {
			return types.Message{}, err
		}
		req.Messages = append(req.Messages, chatMessage{Role: role, Content: m.Content})
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp chatResponse
	if err := p.http.Do(ctx, http.MethodPost, p.url("/chat/completions"), p.authHeaders(), req, &resp); err != nil {
		return types.Message{}, err
	}
	if len(resp.Choices) == 0 {
		return types.Message{}, llmerrors.NewTransientError(p.name, p.model, "response contained no choices", nil)
	}
	return types.AssistantMessage(resp.Choices[0].Message.Content), nil
}

func mapRole(backend string, role types.Role) (string, error) {
	switch role {
	case types.RoleSystem, types.RoleUser, types.RoleAssistant:
		return string(role), nil
	default:
		return "", llmerrors.NewUnsupportedRoleError(backend, string(role))
	}
}

func (p *Provider) url(path string) string {
	return strings.TrimSuffix(p.baseURL, "/") + path
}

func (p *Provider) authHeaders() map[string]string {
	headers := make(map[string]string, len(p.headers)+1)
	for k, v := range p.headers {
		headers[k] = v
	}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	return headers
}
