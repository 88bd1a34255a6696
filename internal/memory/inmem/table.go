// Package inmem provides process-local memory persistence and a
// deterministic embedder for tests and offline use.
package inmem

import (
	"context"

	"github.com/patrickmn/go-cache"

	"github.com/MikaelTHEoret/mastermind/internal/memory"
)

// Table is a process-local Persistence. Entries never expire and are lost
// when the process exits.
type Table struct {
	items *cache.Cache
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{items: cache.New(cache.NoExpiration, 0)}
}

// Get implements memory.Persistence.
func (t *Table) Get(_ context.Context, id string) (*memory.Entry, error) {
	v, ok := t.items.Get(id)
	if !ok {
		return nil, memory.ErrNotFound
	}
	return v.(*memory.Entry).Clone(), nil
}

// Put implements memory.Persistence.
func (t *Table) Put(_ context.Context, entry *memory.Entry) error {
	t.items.Set(entry.ID, entry.Clone(), cache.NoExpiration)
	return nil
}

// Delete implements memory.Persistence.
func (t *Table) Delete(_ context.Context, id string) error {
	t.items.Delete(id)
	return nil
}

// Scan implements memory.Persistence.
func (t *Table) Scan(ctx context.Context, filter memory.ScanFilter) ([]*memory.Entry, error) {
	items := t.items.Items()
	out := make([]*memory.Entry, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := item.Object.(*memory.Entry)
		if !filter.Match(e) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

// Clear implements memory.Persistence.
func (t *Table) Clear(context.Context) error {
	t.items.Flush()
	return nil
}

// Close implements memory.Persistence.
func (t *Table) Close() error { return nil }

// Len returns the number of stored entries.
func (t *Table) Len() int { return t.items.ItemCount() }
