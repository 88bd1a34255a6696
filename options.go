package mastermind

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/MikaelTHEoret/mastermind/internal/conversation"
	"github.com/MikaelTHEoret/mastermind/internal/memory"
	"github.com/MikaelTHEoret/mastermind/internal/queue"
	"github.com/MikaelTHEoret/mastermind/internal/resilience"
	"github.com/MikaelTHEoret/mastermind/internal/tokenizer"
	"github.com/MikaelTHEoret/mastermind/pkg/provider"
)

// ClientConfig holds everything New composes into a Client.
type ClientConfig struct {
	Primary  *provider.Config
	Fallback *provider.Config

	// Adapter instances keyed by backend identity. They take precedence over
	// the registry when a configured identity matches.
	Providers map[string]provider.Provider

	MemoryStore *memory.Store
	Persistence memory.Persistence
	Embedder    memory.Embedder
	// BackendEmbeddings routes memory embeddings through the primary
	// backend's GenerateEmbedding instead of the local embedder.
	BackendEmbeddings bool
	// EmbeddingCacheSize bounds the cache in front of backend embeddings.
	// Zero or less disables it.
	EmbeddingCacheSize int64
	Dimension          int

	Retrieval           memory.RetrieverConfig
	CompactionThreshold int
	Summarizer          conversation.Summarizer

	RetryPolicy    resilience.RetryPolicy
	WindowStore    resilience.WindowStore
	Queue          *Queue
	TokenEstimator tokenizer.Estimator

	Logger *slog.Logger
	Clock  clockwork.Clock
	Tracer trace.Tracer
}

// Option is a function that configures the Client.
type Option func(*ClientConfig)

func defaultConfig() *ClientConfig {
	return &ClientConfig{
		Providers:           make(map[string]provider.Provider),
		Retrieval:           memory.DefaultRetrieverConfig(),
		CompactionThreshold: conversation.DefaultThreshold,
		EmbeddingCacheSize:  memory.DefaultEmbeddingCacheSize,
		RetryPolicy:         resilience.DefaultRetryPolicy(),
		TokenEstimator:      tokenizer.Default(),
		Logger:              slog.Default(),
		Clock:               clockwork.NewRealClock(),
	}
}

// WithPrimary sets the primary backend. It is required.
func WithPrimary(cfg provider.Config) Option {
	return func(c *ClientConfig) {
		c.Primary = &cfg
	}
}

// WithFallback sets the backend used once the primary exhausts its retries.
// A fallback whose kind needs credentials is skipped while they are absent.
func WithFallback(cfg provider.Config) Option {
	return func(c *ClientConfig) {
		c.Fallback = &cfg
	}
}

// WithProvider supplies a ready adapter instance. It is used for the
// configured backend whose identity equals p.Name().
//
// Example:
//
//	mastermind.WithProvider(openai.New(
//	    openai.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    openai.WithBaseURL("https://proxy.internal/v1"),
//	))
func WithProvider(p provider.Provider) Option {
	return func(c *ClientConfig) {
		c.Providers[p.Name()] = p
	}
}

// WithMemoryStore uses store instead of building one.
func WithMemoryStore(store *memory.Store) Option {
	return func(c *ClientConfig) {
		c.MemoryStore = store
	}
}

// WithPersistence sets the record store behind the memory store built by New.
// The default is a process-local table.
func WithPersistence(p memory.Persistence) Option {
	return func(c *ClientConfig) {
		c.Persistence = p
	}
}

// WithEmbedder sets the embedder of the memory store built by New.
func WithEmbedder(e memory.Embedder) Option {
	return func(c *ClientConfig) {
		c.Embedder = e
	}
}

// WithBackendEmbeddings makes the memory store embed through the primary
// backend, with the same queueing, retry and fallback as chat calls.
func WithBackendEmbeddings() Option {
	return func(c *ClientConfig) {
		c.BackendEmbeddings = true
	}
}

// WithEmbeddingCache sets how many backend embeddings are memoized by text.
// Zero disables the cache.
func WithEmbeddingCache(size int64) Option {
	return func(c *ClientConfig) {
		c.EmbeddingCacheSize = size
	}
}

// WithDimension fixes the memory store's embedding dimension.
func WithDimension(n int) Option {
	return func(c *ClientConfig) {
		c.Dimension = n
	}
}

// WithRetryPolicy sets the retry policy applied to every backend call.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(c *ClientConfig) {
		c.RetryPolicy = p
	}
}

// Queue serializes backend calls per identity. Clients built with the same
// Queue share its chains, so calls to one backend identity keep submission
// order across all of them.
type Queue = queue.Queue

// NewQueue creates a Queue to share between clients.
func NewQueue() *Queue {
	return queue.New()
}

// WithQueue makes the client submit its operations to q instead of a
// queue of its own.
func WithQueue(q *Queue) Option {
	return func(c *ClientConfig) {
		c.Queue = q
	}
}

// WithWindowStore shares rate-limit windows, e.g. through Redis.
func WithWindowStore(s resilience.WindowStore) Option {
	return func(c *ClientConfig) {
		c.WindowStore = s
	}
}

// WithTokenEstimator replaces the len/4 token estimate used for budgeting.
func WithTokenEstimator(e tokenizer.Estimator) Option {
	return func(c *ClientConfig) {
		c.TokenEstimator = e
	}
}

// WithRetrieval tunes context retrieval.
func WithRetrieval(cfg memory.RetrieverConfig) Option {
	return func(c *ClientConfig) {
		c.Retrieval = cfg
	}
}

// WithCompactionThreshold sets how many buffered messages trigger a flush.
func WithCompactionThreshold(n int) Option {
	return func(c *ClientConfig) {
		c.CompactionThreshold = n
	}
}

// WithSummarizer replaces the extractive conversation summarizer.
func WithSummarizer(s conversation.Summarizer) Option {
	return func(c *ClientConfig) {
		c.Summarizer = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		c.Logger = logger
	}
}

// WithClock sets the clock driving rate-limit windows, retry backoff and
// memory timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *ClientConfig) {
		c.Clock = clock
	}
}

// WithTracer sets the OpenTelemetry tracer. The default is the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *ClientConfig) {
		c.Tracer = t
	}
}
