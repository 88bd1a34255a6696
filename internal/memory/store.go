// Package memory implements the associative memory: embedding-indexed
// entries, similarity search, directed associations and context retrieval.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

// Store is the memory store. It computes embeddings, assigns ids and
// timestamps, and ranks entries; records live in a Persistence.
type Store struct {
	persistence Persistence
	embedder    Embedder
	clock       clockwork.Clock
	logger      *slog.Logger

	dimMu     sync.RWMutex
	dimension int
	// dimPinned is set once an entry of the adopted dimension is stored.
	dimPinned bool

	// writeMu serializes read-modify-write sequences against deletes. It is
	// never held while an embedding is being computed.
	writeMu sync.Mutex

	// OnOperation, when set, observes every store operation and its error.
	OnOperation func(op string, err error)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used for timestamps.
func WithClock(c clockwork.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithDimension fixes the embedding dimension. When unset the dimension of
// the first stored embedding is adopted.
func WithDimension(n int) StoreOption {
	return func(s *Store) {
		s.dimension = n
		s.dimPinned = n > 0
	}
}

// NewStore creates a store over persistence using embedder for content vectors.
func NewStore(persistence Persistence, embedder Embedder, opts ...StoreOption) *Store {
	s := &Store{
		persistence: persistence,
		embedder:    embedder,
		clock:       clockwork.NewRealClock(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dimension returns the store's embedding dimension, or 0 if not yet known.
func (s *Store) Dimension() int {
	s.dimMu.RLock()
	defer s.dimMu.RUnlock()
	return s.dimension
}

// checkDimension adopts the first dimension seen and rejects any other. An
// adopted dimension stays provisional until settleDimension confirms a write.
func (s *Store) checkDimension(vec []float32) error {
	if len(vec) == 0 {
		return llmerrors.NewValidationError("embedding must not be empty")
	}

	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	if s.dimension == 0 {
		s.dimension = len(vec)
		return nil
	}
	if len(vec) != s.dimension {
		return llmerrors.NewValidationErrorf("embedding has dimension %d, store uses %d", len(vec), s.dimension)
	}
	return nil
}

// settleDimension pins the dimension after a successful write, or releases a
// provisional one when the write failed and nothing has pinned it.
func (s *Store) settleDimension(n int, stored bool) {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	switch {
	case stored && !s.dimPinned:
		s.dimension = n
		s.dimPinned = true
	case !stored && !s.dimPinned && s.dimension == n:
		s.dimension = 0
	}
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, llmerrors.NewConfigurationError("", "memory store has no embedder")
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	return vec, nil
}

func (s *Store) observe(op string, err error) {
	if s.OnOperation != nil {
		s.OnOperation(op, err)
	}
}

// Add stores a new entry. ID and Timestamp are assigned; the embedding is
// computed from Content when not supplied. Nothing is stored unless every
// step succeeds.
func (s *Store) Add(ctx context.Context, entry Entry) (out *Entry, err error) {
	defer func() { s.observe("add", err) }()

	if strings.TrimSpace(entry.Content) == "" {
		return nil, llmerrors.NewValidationError("memory content must not be empty")
	}
	if entry.Kind == "" {
		entry.Kind = KindKnowledge
	}
	if !entry.Kind.Valid() {
		return nil, llmerrors.NewValidationErrorf("unknown memory kind %q", entry.Kind)
	}

	e := entry.Clone()
	if len(e.Embedding) == 0 {
		if e.Embedding, err = s.embed(ctx, e.Content); err != nil {
			return nil, err
		}
	}
	if err := s.checkDimension(e.Embedding); err != nil {
		return nil, err
	}

	e.ID = ulid.Make().String()
	e.Timestamp = s.clock.Now().UTC()
	e.Score = 0

	err = s.persistence.Put(ctx, e)
	s.settleDimension(len(e.Embedding), err == nil)
	if err != nil {
		return nil, fmt.Errorf("persist memory: %w", err)
	}
	s.logger.Debug("memory added", "id", e.ID, "kind", e.Kind, "source", e.Source)
	return e.Clone(), nil
}

// Get returns the entry with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	e, err := s.persistence.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, llmerrors.NewNotFoundError("memory " + id + " not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load memory %s: %w", id, err)
	}
	return e, nil
}

// Update applies patch to the entry with the given id. A content change
// regenerates the embedding unless the patch supplies one.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (out *Entry, err error) {
	defer func() { s.observe("update", err) }()

	if patch.Kind != nil && !patch.Kind.Valid() {
		return nil, llmerrors.NewValidationErrorf("unknown memory kind %q", *patch.Kind)
	}
	if patch.Content != nil && strings.TrimSpace(*patch.Content) == "" {
		return nil, llmerrors.NewValidationError("memory content must not be empty")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	embedding := patch.Embedding
	contentChanged := patch.Content != nil && *patch.Content != current.Content
	if embedding == nil && contentChanged {
		if embedding, err = s.embed(ctx, *patch.Content); err != nil {
			return nil, err
		}
	}
	if embedding != nil {
		if err := s.checkDimension(embedding); err != nil {
			return nil, err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Re-read under the lock so concurrent associations and deletes are not lost.
	e, err := s.Get(ctx, id)
	if err != nil {
		if embedding != nil {
			s.settleDimension(len(embedding), false)
		}
		return nil, err
	}
	if patch.Kind != nil {
		e.Kind = *patch.Kind
	}
	if patch.Content != nil {
		e.Content = *patch.Content
	}
	if patch.Source != nil {
		e.Source = *patch.Source
	}
	for k, v := range patch.Metadata {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		if v == nil {
			delete(e.Metadata, k)
			continue
		}
		e.Metadata[k] = v
	}
	if embedding != nil {
		e.Embedding = append([]float32(nil), embedding...)
	}

	err = s.persistence.Put(ctx, e)
	if embedding != nil {
		s.settleDimension(len(embedding), err == nil)
	}
	if err != nil {
		return nil, fmt.Errorf("persist memory %s: %w", id, err)
	}
	return e.Clone(), nil
}

// Delete removes the entry with the given id. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	defer func() { s.observe("delete", err) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.persistence.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) (err error) {
	defer func() { s.observe("clear", err) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.persistence.Clear(ctx); err != nil {
		return fmt.Errorf("clear memory: %w", err)
	}
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	entries, err := s.persistence.Scan(ctx, ScanFilter{})
	if err != nil {
		return 0, fmt.Errorf("scan memory: %w", err)
	}
	return len(entries), nil
}

// Search returns entries matching q. With q.Text set, candidates are scored
// by cosine similarity to the text's embedding, those below q.MinRelevance
// (when set) are dropped and the rest are sorted by descending score. Without text the
// result is ordered newest first. Candidates whose embedding dimension
// differs from the query's are never compared and are left out.
func (s *Store) Search(ctx context.Context, q Query) (out []*Entry, err error) {
	defer func() { s.observe("search", err) }()

	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return nil, llmerrors.NewValidationError("search range starts after it ends")
	}

	var queryVec []float32
	if strings.TrimSpace(q.Text) != "" {
		if queryVec, err = s.embed(ctx, q.Text); err != nil {
			return nil, err
		}
	}

	candidates, err := s.persistence.Scan(ctx, ScanFilter{Kinds: q.Kinds, From: q.From, To: q.To})
	if err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}

	results := make([]*Entry, 0, len(candidates))
	for _, c := range candidates {
		if !matches(c, q) {
			continue
		}
		if queryVec != nil {
			if len(c.Embedding) != len(queryVec) {
				continue
			}
			c.Score = CosineSimilarity(queryVec, c.Embedding)
			if q.MinRelevance != nil && c.Score < *q.MinRelevance {
				continue
			}
		}
		results = append(results, c)
	}

	if queryVec != nil {
		sort.SliceStable(results, func(i, j int) bool {
			if results[i].Score != results[j].Score {
				return results[i].Score > results[j].Score
			}
			return results[i].Timestamp.After(results[j].Timestamp)
		})
	} else {
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Timestamp.After(results[j].Timestamp)
		})
	}

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}
