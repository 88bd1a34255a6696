package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Persistence.Get for an unknown id.
var ErrNotFound = errors.New("memory entry not found")

// ScanFilter narrows a scan using the persistence's secondary indexes.
// Implementations may ignore it; the store re-applies every filter.
type ScanFilter struct {
	Kinds []Kind
	From  time.Time
	To    time.Time
}

// Persistence is the key-addressed record store behind a Store.
type Persistence interface {
	Get(ctx context.Context, id string) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, id string) error
	Scan(ctx context.Context, filter ScanFilter) ([]*Entry, error)
	Clear(ctx context.Context) error
	Close() error
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Searcher is the read side of a Store used by the retriever.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]*Entry, error)
}

// Match reports whether e passes the filter.
func (f ScanFilter) Match(e *Entry) bool {
	if len(f.Kinds) > 0 && !hasKind(f.Kinds, e.Kind) {
		return false
	}
	return inRange(e.Timestamp, f.From, f.To)
}
