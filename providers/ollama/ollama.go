// Package ollama provides the adapter for a locally hosted Ollama server.
// Local backends need no credentials.
package ollama

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
	ProviderName   = "ollama"
	DefaultBaseURL = "http://localhost:11434"
)

// Provider talks to the native Ollama API.
type Provider struct {
	name           string
	baseURL        string
	model          string
	embeddingModel string
	temperature    *float64
	maxTokens      int
	timeout        time.Duration
	http           *httputil.Client
}

// Option configures the Ollama provider.
type Option func(*Provider)

func WithName(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.name = name
		}
	}
}

func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithEmbeddingModel sets the embedding model; the chat model is used when unset.
func WithEmbeddingModel(model string) Option {
	return func(p *Provider) { p.embeddingModel = model }
}

func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = &t }
}

func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.http.HTTP = c }
}

func New(opts ...Option) *Provider {
	p := &Provider{
		name:    ProviderName,
		baseURL: DefaultBaseURL,
		timeout: provider.DefaultTimeout,
		http:    &httputil.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.http.Backend = p.name
	p.http.Model = p.model
	return p
}

func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	opts := []Option{
		WithName(cfg.Identity()),
		WithBaseURL(cfg.BaseURL),
		WithModel(cfg.Model),
		WithEmbeddingModel(cfg.EmbeddingModel),
		WithMaxTokens(cfg.MaxTokens),
		WithTimeout(cfg.Timeout),
	}
	if cfg.Temperature != nil {
		opts = append(opts, WithTemperature(*cfg.Temperature))
	}
	return New(opts...), nil
}

func (p *Provider) Name() string { return p.name }

// Initialize checks the server is reachable.
func (p *Provider) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.http.Do(ctx, http.MethodGet, p.url("/api/tags"), nil, nil, nil)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type modelOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *modelOptions `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

func (p *Provider) Chat(ctx context.Context, messages []types.Message) (types.Message, error) {
	req := chatRequest{Model: p.model, Messages: make([]chatMessage, 0, len(messages))}
	if p.temperature != nil || p.maxTokens > 0 {
		req.Options = &modelOptions{Temperature: p.temperature, NumPredict: p.maxTokens}
	}
	for _, m := range messages {
		if !m.Role.Valid() {
			return types.Message{}, llmerrors.NewUnsupportedRoleError(p.name, string(m.Role))
		}
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp chatResponse
	if err := p.http.Do(ctx, http.MethodPost, p.url("/api/chat"), nil, req, &resp); err != nil {
		return types.Message{}, err
	}
	if resp.Message.Content == "" {
		return types.Message{}, llmerrors.NewTransientError(p.name, p.model, "empty completion", nil)
	}
	return types.AssistantMessage(resp.Message.Content), nil
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *Provider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, llmerrors.NewValidationError("embedding input must not be empty")
	}
	model := p.embeddingModel
	if model == "" {
		model = p.model
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp embeddingResponse
	if err := p.http.Do(ctx, http.MethodPost, p.url("/api/embeddings"), nil, embeddingRequest{Model: model, Prompt: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, llmerrors.NewTransientError(p.name, model, "empty embedding", nil)
	}
	return resp.Embedding, nil
}

// Cleanup asks the server to unload the model from memory.
func (p *Provider) Cleanup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req := map[string]any{"model": p.model, "keep_alive": 0}
	return p.http.Do(ctx, http.MethodPost, p.url("/api/generate"), nil, req, nil)
}

func (p *Provider) url(path string) string {
	return strings.TrimSuffix(p.baseURL, "/") + path
}
