package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/MikaelTHEoret/mastermind/pkg/types"
)

// Retriever defaults.
const (
	DefaultContextWindow = 3
	DefaultContextLimit  = 5
	DefaultMinRelevance  = 0.1
)

// RetrieverConfig tunes context retrieval.
type RetrieverConfig struct {
	// Window is how many of the most recent messages form the query.
	Window       int
	Limit        int
	MinRelevance float64
	Kinds        []Kind
}

// DefaultRetrieverConfig returns the default retrieval settings.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		Window:       DefaultContextWindow,
		Limit:        DefaultContextLimit,
		MinRelevance: DefaultMinRelevance,
	}
}

// Retriever finds memories relevant to a conversation and renders them as context.
type Retriever struct {
	searcher Searcher
	cfg      RetrieverConfig
}

// NewRetriever creates a retriever over searcher.
func NewRetriever(searcher Searcher, cfg RetrieverConfig) *Retriever {
	if cfg.Window <= 0 {
		cfg.Window = DefaultContextWindow
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultContextLimit
	}
	return &Retriever{searcher: searcher, cfg: cfg}
}

// Query builds the search text from the most recent messages.
func (r *Retriever) Query(messages []types.Message) string {
	start := len(messages) - r.cfg.Window
	if start < 0 {
		start = 0
	}
	parts := make([]string, 0, len(messages)-start)
	for _, m := range messages[start:] {
		if c := strings.TrimSpace(m.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n")
}

// Retrieve returns the rendered context for messages, or "" when nothing relevant is stored.
func (r *Retriever) Retrieve(ctx context.Context, messages []types.Message) (string, error) {
	text := r.Query(messages)
	if text == "" {
		return "", nil
	}

	entries, err := r.searcher.Search(ctx, Query{
		Text:         text,
		Kinds:        r.cfg.Kinds,
		MinRelevance: Threshold(r.cfg.MinRelevance),
		Limit:        r.cfg.Limit,
	})
	if err != nil {
		return "", fmt.Errorf("search relevant memories: %w", err)
	}
	return Render(entries), nil
}

// Render formats entries, in the given order, as a context block.
func Render(entries []*Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Relevant memories:")
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n- [%s] %s", e.Kind, e.Content)
	}
	return sb.String()
}

// Augment prepends context as a system message ahead of the caller's
// messages, including the caller's own system messages. Empty context
// returns messages unchanged.
func Augment(messages []types.Message, context string) []types.Message {
	if context == "" {
		return messages
	}
	out := make([]types.Message, 0, len(messages)+1)
	out = append(out, types.SystemMessage(context))
	return append(out, messages...)
}
