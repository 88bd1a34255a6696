package mastermind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MikaelTHEoret/mastermind/internal/conversation"
	"github.com/MikaelTHEoret/mastermind/internal/memory"
	"github.com/MikaelTHEoret/mastermind/internal/memory/inmem"
	"github.com/MikaelTHEoret/mastermind/internal/metrics"
	"github.com/MikaelTHEoret/mastermind/internal/observability"
	"github.com/MikaelTHEoret/mastermind/internal/queue"
	"github.com/MikaelTHEoret/mastermind/internal/resilience"
	"github.com/MikaelTHEoret/mastermind/internal/tokenizer"
	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
	"github.com/MikaelTHEoret/mastermind/pkg/provider"
	"github.com/MikaelTHEoret/mastermind/pkg/types"
)

// Client is the orchestrator facade. It is safe for concurrent use.
//
// Every operation occupies the primary identity's queue chain for its whole
// run, fallback attempts included, so the fallback never waits on a second
// chain while holding the first. Each Client owns its chains unless
// WithQueue hands it a shared Queue.
type Client struct {
	primary  *backend
	fallback *backend

	queue     *queue.Queue
	limiter   *resilience.Limiter
	retrier   *resilience.Retrier
	escalator *resilience.Fallback

	memory    *memory.Store
	retriever *memory.Retriever
	compactor *conversation.Compactor

	// persistence is closed on Cleanup when New created the store.
	persistence memory.Persistence
	embedCache  *memory.CachedEmbedder

	estimator tokenizer.Estimator
	tracer    trace.Tracer
	logger    *slog.Logger

	cleanupOnce sync.Once
	cleanupErr  error
}

// New creates a client. The primary backend must be configured; its adapter
// is built but not contacted until the first call or Initialize.
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Primary == nil {
		return nil, llmerrors.NewConfigurationError("", "a primary backend is required")
	}
	primaryCfg := *cfg.Primary
	if cfg.Fallback != nil {
		fb := *cfg.Fallback
		primaryCfg.Fallback = &fb
	}
	if err := primaryCfg.Validate(); err != nil {
		return nil, err
	}

	primary, err := newBackend(primaryCfg, cfg.Providers)
	if err != nil {
		return nil, err
	}

	c := &Client{
		primary:   primary,
		queue:     cfg.Queue,
		limiter:   resilience.NewLimiter(cfg.WindowStore, cfg.Clock, cfg.Logger),
		retrier:   resilience.NewRetrier(cfg.RetryPolicy, cfg.Clock, cfg.Logger),
		estimator: cfg.TokenEstimator,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(observability.TracerName)
	}
	if c.queue == nil {
		c.queue = queue.New()
	}
	c.escalator = resilience.NewFallback(c.retrier, cfg.Logger)
	c.limiter.SetLimits(primary.name(), limitsOf(primaryCfg))

	if primaryCfg.Fallback != nil {
		fb, err := newBackend(*primaryCfg.Fallback, cfg.Providers)
		if err != nil {
			return nil, err
		}
		c.fallback = fb
		c.limiter.SetLimits(fb.name(), limitsOf(fb.cfg))
	}

	c.retrier.OnRetry = func(operation string, _ int, _ time.Duration, _ error) {
		metrics.RetryAttempts.WithLabelValues(operation).Inc()
	}
	c.escalator.OnFallback = func(primary, fallback string, _ error) {
		metrics.FallbackInvocations.WithLabelValues(primary, fallback).Inc()
	}
	c.limiter.OnWait = func(key string, wait time.Duration) {
		metrics.RateLimitWait.WithLabelValues(key).Observe(wait.Seconds())
	}

	c.memory = cfg.MemoryStore
	if c.memory == nil {
		persistence := cfg.Persistence
		if persistence == nil {
			persistence = inmem.NewTable()
			c.persistence = persistence
		}
		var embedder memory.Embedder = cfg.Embedder
		switch {
		case cfg.BackendEmbeddings:
			embedder = memory.EmbedderFunc(c.GenerateEmbedding)
			if cfg.EmbeddingCacheSize > 0 {
				cached, err := memory.NewCachedEmbedder(embedder, cfg.EmbeddingCacheSize)
				if err != nil {
					return nil, err
				}
				c.embedCache = cached
				embedder = cached
			}
		case embedder == nil:
			embedder = inmem.NewHashEmbedder(inmem.DefaultDimensions)
		}
		storeOpts := []memory.StoreOption{memory.WithClock(cfg.Clock), memory.WithLogger(cfg.Logger)}
		if cfg.Dimension > 0 {
			storeOpts = append(storeOpts, memory.WithDimension(cfg.Dimension))
		}
		c.memory = memory.NewStore(persistence, embedder, storeOpts...)
	}
	if c.memory.OnOperation == nil {
		c.memory.OnOperation = metrics.RecordMemoryOperation
	}

	c.retriever = memory.NewRetriever(c.memory, cfg.Retrieval)

	compactorOpts := []conversation.Option{
		conversation.WithThreshold(cfg.CompactionThreshold),
		conversation.WithLogger(cfg.Logger),
	}
	if cfg.Summarizer != nil {
		compactorOpts = append(compactorOpts, conversation.WithSummarizer(cfg.Summarizer))
	}
	c.compactor = conversation.NewCompactor(c.memory, compactorOpts...)
	c.compactor.OnFlush = func(_ string, _ int, err error) {
		metrics.RecordFlush(err)
	}

	return c, nil
}

func limitsOf(cfg provider.Config) resilience.Limits {
	return resilience.Limits{
		Requests: int64(cfg.RequestsPerMinute),
		Tokens:   int64(cfg.TokensPerMinute),
	}
}

// Memory returns the memory store backing context retrieval.
func (c *Client) Memory() *memory.Store {
	return c.memory
}

// Compactor returns the conversation compactor.
func (c *Client) Compactor() *conversation.Compactor {
	return c.compactor
}

// Backends returns the primary identity and the fallback identity, which is
// empty when no fallback is configured.
func (c *Client) Backends() (primary, fallback string) {
	if c.fallback != nil {
		fallback = c.fallback.name()
	}
	return c.primary.name(), fallback
}

// Initialize verifies the primary backend. The fallback is initialized on
// its first use.
func (c *Client) Initialize(ctx context.Context) error {
	return c.enqueue(ctx, func(ctx context.Context) error {
		return c.primary.ensureInitialized(ctx)
	})
}

// Chat sends req through retrieval, the primary backend's queue, the rate
// limiter, retries and the fallback, then buffers the exchange for compaction.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (_ *ChatResponse, err error) {
	if req == nil {
		return nil, llmerrors.NewValidationError("chat request must not be nil")
	}
	ctx, requestID := observability.EnsureRequestID(ctx)
	logger := observability.WithRequestID(ctx, c.logger)

	ctx, span := c.tracer.Start(ctx, "mastermind.chat",
		trace.WithAttributes(attribute.String("mastermind.request_id", requestID)))
	defer func() { observability.EndSpan(span, err) }()

	if err := types.ValidateMessages(req.Messages); err != nil {
		return nil, err
	}

	messages := req.Messages
	var memoryContext string
	if !req.SkipMemory {
		retrieveCtx, retrieveSpan := c.tracer.Start(ctx, "memory.retrieve")
		var retrieveErr error
		memoryContext, retrieveErr = c.retriever.Retrieve(retrieveCtx, messages)
		observability.EndSpan(retrieveSpan, retrieveErr)
		if retrieveErr != nil {
			logger.Warn("memory retrieval failed, continuing without context", "error", retrieveErr)
			memoryContext = ""
		}
		messages = memory.Augment(messages, memoryContext)
	}

	tokens := int64(tokenizer.EstimateMessages(c.estimator, messages))

	var served string
	reply, err := queue.Do(context.WithoutCancel(ctx), c.queue, c.primary.name(),
		func(ctx context.Context) (types.Message, error) {
			c.observeDepth()
			var out types.Message
			target := func(b *backend) resilience.Target {
				return resilience.Target{
					Backend: b.name(),
					Run: func(ctx context.Context) error {
						m, err := c.chatOnce(ctx, b, messages, tokens)
						if err != nil {
							return err
						}
						out, served = m, b.name()
						return nil
					},
				}
			}
			err := c.escalator.Run(ctx, "chat", target(c.primary), c.fallbackTarget(target))
			return out, err
		})
	c.observeDepth()
	if err != nil {
		logger.Error("chat failed", "backend", c.primary.name(), "error", err)
		return nil, err
	}

	if !req.SkipMemory {
		last := req.Messages[len(req.Messages)-1]
		c.compactor.Append(context.WithoutCancel(ctx), req.SessionID, last, reply)
	}

	logger.Debug("chat completed", "backend", served, "degraded", reply.Degraded)
	return &ChatResponse{
		Message:   reply,
		Backend:   served,
		Context:   memoryContext,
		RequestID: requestID,
	}, nil
}

// GenerateEmbedding embeds text on the primary backend, falling back like Chat.
// A backend without embedding support fails with a configuration error.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	tokens := int64(c.estimator.Estimate(text))

	vec, err := queue.Do(context.WithoutCancel(ctx), c.queue, c.primary.name(),
		func(ctx context.Context) ([]float32, error) {
			c.observeDepth()
			var out []float32
			target := func(b *backend) resilience.Target {
				return resilience.Target{
					Backend: b.name(),
					Run: func(ctx context.Context) error {
						v, err := c.embedOnce(ctx, b, text, tokens)
						if err != nil {
							return err
						}
						out = v
						return nil
					},
				}
			}
			err := c.escalator.Run(ctx, "embedding", target(c.primary), c.fallbackTarget(target))
			return out, err
		})
	c.observeDepth()
	return vec, err
}

// Cleanup flushes every conversation buffer, releases the resources of
// adapters that were used and closes the persistence New created. Later calls return the first result.
func (c *Client) Cleanup(ctx context.Context) error {
	c.cleanupOnce.Do(func() {
		var errs []error
		// Flushing may embed through the primary queue, so it must not run
		// inside a queued operation.
		if err := c.compactor.FlushAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush conversations: %w", err))
		}

		for _, b := range c.backends() {
			cleaner, ok := b.adapter.(provider.Cleaner)
			if !ok || !b.initialized() {
				continue
			}
			err := queue.Run(context.WithoutCancel(ctx), c.queue, b.name(), cleaner.Cleanup)
			if err != nil {
				errs = append(errs, fmt.Errorf("cleanup %s: %w", b.name(), err))
			}
		}

		if c.embedCache != nil {
			c.embedCache.Close()
		}
		if c.persistence != nil {
			if err := c.persistence.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close memory persistence: %w", err))
			}
		}
		c.cleanupErr = errors.Join(errs...)
	})
	return c.cleanupErr
}

func (c *Client) backends() []*backend {
	if c.fallback == nil {
		return []*backend{c.primary}
	}
	return []*backend{c.primary, c.fallback}
}

func (c *Client) enqueue(ctx context.Context, op func(ctx context.Context) error) error {
	err := queue.Run(context.WithoutCancel(ctx), c.queue, c.primary.name(), op)
	c.observeDepth()
	return err
}

func (c *Client) observeDepth() {
	name := c.primary.name()
	metrics.QueueDepth.WithLabelValues(name).Set(float64(c.queue.Pending(name)))
}

// fallbackTarget builds the fallback side of an operation, or nil when no
// fallback is configured. The fallback is ready only when the credentials its
// kind requires are present.
func (c *Client) fallbackTarget(build func(*backend) resilience.Target) *resilience.FallbackTarget {
	if c.fallback == nil {
		return nil
	}
	return &resilience.FallbackTarget{
		Target: build(c.fallback),
		Ready:  c.fallback.cfg.HasCredentials,
	}
}

// chatOnce makes one attempt against b: lazy initialization, rate-limit
// admission, then the bounded remote call.
func (c *Client) chatOnce(ctx context.Context, b *backend, messages []types.Message, tokens int64) (reply types.Message, err error) {
	if err := b.ensureInitialized(ctx); err != nil {
		return types.Message{}, err
	}
	if _, err := c.limiter.Wait(ctx, b.name(), tokens); err != nil {
		return types.Message{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout())
	defer cancel()
	callCtx, span := observability.StartBackendSpan(callCtx, c.tracer, "chat", b.name())
	start := time.Now()
	defer func() {
		metrics.RecordBackendCall(b.name(), "chat", time.Since(start), err)
		observability.EndSpan(span, err)
	}()

	reply, err = b.adapter.Chat(callCtx, messages)
	if err != nil {
		return types.Message{}, timeoutError(b, err)
	}
	if err := reply.Validate(); err != nil {
		return types.Message{}, llmerrors.NewTransientError(b.name(), b.cfg.Model,
			"backend returned an invalid reply: "+err.Error(), err)
	}
	if reply.Timestamp.IsZero() {
		reply.Timestamp = time.Now().UTC()
	}
	return reply, nil
}

func (c *Client) embedOnce(ctx context.Context, b *backend, text string, tokens int64) (vec []float32, err error) {
	embedder, ok := b.adapter.(provider.Embedder)
	if !ok {
		return nil, llmerrors.NewConfigurationError(b.name(), "backend does not support embeddings")
	}
	if err := b.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	if _, err := c.limiter.Wait(ctx, b.name(), tokens); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout())
	defer cancel()
	callCtx, span := observability.StartBackendSpan(callCtx, c.tracer, "embedding", b.name())
	start := time.Now()
	defer func() {
		metrics.RecordBackendCall(b.name(), "embedding", time.Since(start), err)
		observability.EndSpan(span, err)
	}()

	vec, err = embedder.GenerateEmbedding(callCtx, text)
	if err != nil {
		return nil, timeoutError(b, err)
	}
	if len(vec) == 0 {
		return nil, llmerrors.NewTransientError(b.name(), b.cfg.EmbeddingModel, "backend returned an empty embedding", nil)
	}
	return vec, nil
}

// timeoutError tags an untagged deadline expiry as a timeout so the retry
// engine treats it as retryable.
func timeoutError(b *backend, err error) error {
	var tagged *llmerrors.Error
	if errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &tagged) {
		return llmerrors.NewTimeoutError(b.name(), b.cfg.Model, err.Error())
	}
	return err
}
