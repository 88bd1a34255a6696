// Package conversation buffers dialogue per session and compacts it into
// conversation memories once a buffer fills.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MikaelTHEoret/mastermind/internal/memory"
	"github.com/MikaelTHEoret/mastermind/pkg/types"
)

// DefaultThreshold is the buffer length that triggers a flush.
const DefaultThreshold = 10

// DefaultSession is used when a caller does not name a session.
const DefaultSession = "default"

// Metadata keys written on compacted entries.
const (
	MetaMessageCount = "messageCount"
	MetaSessionID    = "sessionId"
	MetaSummary      = "summary"
)

// SourceConversation tags entries written by the compactor.
const SourceConversation = "conversation"

// Writer is the subset of the memory store the compactor writes through.
type Writer interface {
	Add(ctx context.Context, entry memory.Entry) (*memory.Entry, error)
}

// Summarizer condenses a buffered exchange into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, messages []types.Message) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, messages []types.Message) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, messages []types.Message) (string, error) {
	return f(ctx, messages)
}

// Compactor owns the per-session conversation buffers.
type Compactor struct {
	writer     Writer
	summarizer Summarizer
	threshold  int
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*buffer

	// OnFlush, when set, observes each flush attempt.
	OnFlush func(session string, count int, err error)
}

type buffer struct {
	// flushMu keeps one flush per session in flight.
	flushMu  sync.Mutex
	messages []types.Message
}

// Option configures a Compactor.
type Option func(*Compactor)

// WithThreshold sets the flush threshold.
func WithThreshold(n int) Option {
	return func(c *Compactor) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithSummarizer replaces the default summarizer.
func WithSummarizer(s Summarizer) Option {
	return func(c *Compactor) { c.summarizer = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compactor) { c.logger = l }
}

// NewCompactor creates a compactor writing to w.
func NewCompactor(w Writer, opts ...Option) *Compactor {
	c := &Compactor{
		writer:     w,
		summarizer: SummarizerFunc(ExtractiveSummary),
		threshold:  DefaultThreshold,
		logger:     slog.Default(),
		sessions:   make(map[string]*buffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threshold returns the flush threshold.
func (c *Compactor) Threshold() int { return c.threshold }

func (c *Compactor) session(id string) *buffer {
	if id == "" {
		id = DefaultSession
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.sessions[id]
	if !ok {
		b = &buffer{}
		c.sessions[id] = b
	}
	return b
}

// Len returns the number of buffered messages for session.
func (c *Compactor) Len(session string) int {
	b := c.session(session)
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(b.messages)
}

// Sessions returns the ids of sessions with buffered messages.
func (c *Compactor) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sessions))
	for id, b := range c.sessions {
		if len(b.messages) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// Append buffers messages for session and flushes once the buffer reaches
// the threshold. Flush failures are logged and the buffer is kept; Append
// never fails the caller.
func (c *Compactor) Append(ctx context.Context, session string, messages ...types.Message) {
	if session == "" {
		session = DefaultSession
	}
	b := c.session(session)

	c.mu.Lock()
	b.messages = append(b.messages, messages...)
	full := len(b.messages) >= c.threshold
	c.mu.Unlock()

	if full {
		if err := c.Flush(ctx, session); err != nil {
			c.logger.Warn("conversation flush failed, keeping buffer",
				"session", session,
				"error", err,
			)
		}
	}
}

// Flush persists the buffered messages of session as one conversation entry
// and removes them from the buffer. On failure the buffer is unchanged.
// Flushing an empty buffer is a no-op.
func (c *Compactor) Flush(ctx context.Context, session string) (err error) {
	if session == "" {
		session = DefaultSession
	}
	b := c.session(session)

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	c.mu.Lock()
	pending := append([]types.Message(nil), b.messages...)
	c.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	defer func() {
		if c.OnFlush != nil {
			c.OnFlush(session, len(pending), err)
		}
	}()

	if err := types.ValidateMessages(pending); err != nil {
		return fmt.Errorf("validate buffered conversation: %w", err)
	}

	summary, err := c.summarizer.Summarize(ctx, pending)
	if err != nil {
		return fmt.Errorf("summarize conversation: %w", err)
	}

	entry, err := c.writer.Add(ctx, memory.Entry{
		Kind:    memory.KindConversation,
		Content: types.Transcript(pending),
		Source:  SourceConversation,
		Metadata: map[string]any{
			MetaMessageCount: len(pending),
			MetaSessionID:    session,
			MetaSummary:      summary,
		},
	})
	if err != nil {
		return fmt.Errorf("store conversation: %w", err)
	}

	// Only drop what was persisted; messages appended during the flush stay.
	c.mu.Lock()
	b.messages = append([]types.Message(nil), b.messages[len(pending):]...)
	c.mu.Unlock()

	c.logger.Debug("conversation compacted",
		"session", session,
		"messages", len(pending),
		"memory_id", entry.ID,
	)
	return nil
}

// FlushAll flushes every session with buffered messages and returns the
// first error encountered.
func (c *Compactor) FlushAll(ctx context.Context) error {
	var first error
	for _, id := range c.Sessions() {
		if err := c.Flush(ctx, id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ExtractiveSummary summarizes by quoting the first user line and the last
// assistant line.
func ExtractiveSummary(_ context.Context, messages []types.Message) (string, error) {
	var question, answer string
	for _, m := range messages {
		if m.Role == types.RoleUser && question == "" {
			question = firstLine(m.Content)
		}
		if m.Role == types.RoleAssistant {
			answer = firstLine(m.Content)
		}
	}

	var parts []string
	if question != "" {
		parts = append(parts, "Asked: "+question)
	}
	if answer != "" {
		parts = append(parts, "Answered: "+answer)
	}
	return strings.Join(parts, " | "), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const maxLen = 200
	if r := []rune(s); len(r) > maxLen {
		s = string(r[:maxLen]) + "..."
	}
	return s
}
