package memory_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikaelTHEoret/mastermind/internal/memory"
	"github.com/MikaelTHEoret/mastermind/internal/memory/inmem"
	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

func newTestStore(t *testing.T, opts ...memory.StoreOption) (*memory.Store, clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	opts = append([]memory.StoreOption{memory.WithClock(fc)}, opts...)
	return memory.NewStore(inmem.NewTable(), inmem.NewHashEmbedder(64), opts...), fc
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero magnitude", []float32{0, 0}, []float32{1, 1}, 0},
		{"dimension mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := memory.CosineSimilarity(tt.a, tt.b)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestStore_AddThenSearchReturnsEntryFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	added, err := s.Add(ctx, memory.Entry{Content: "the deploy key lives in the vault"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.False(t, added.Timestamp.IsZero())
	assert.Equal(t, memory.KindKnowledge, added.Kind)
	assert.Len(t, added.Embedding, 64)

	results, err := s.Search(ctx, memory.Query{Text: "the deploy key lives in the vault"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, added.ID, results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestStore_SearchRanksByRelevance(t *testing.T) {
	s, fc := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, memory.Entry{Content: "postgres runs on port 5432"})
	require.NoError(t, err)
	fc.Advance(time.Second)
	best, err := s.Add(ctx, memory.Entry{Content: "redis cache runs on port 6379"})
	require.NoError(t, err)
	fc.Advance(time.Second)
	_, err = s.Add(ctx, memory.Entry{Content: "bananas are yellow"})
	require.NoError(t, err)

	results, err := s.Search(ctx, memory.Query{Text: "which port does redis cache use", MinRelevance: memory.Threshold(0.1)})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, best.ID, results[0].ID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	for _, r := range results {
		assert.NotEqual(t, "bananas are yellow", r.Content)
	}
}

func TestStore_SearchFilters(t *testing.T) {
	s, fc := newTestStore(t)
	ctx := context.Background()

	start := fc.Now()
	a, err := s.Add(ctx, memory.Entry{Kind: memory.KindConversation, Content: "first", Metadata: map[string]any{"session": "a", "turns": 10}})
	require.NoError(t, err)
	fc.Advance(time.Minute)
	b, err := s.Add(ctx, memory.Entry{Kind: memory.KindSummary, Content: "second", Metadata: map[string]any{"session": "b"}})
	require.NoError(t, err)
	fc.Advance(time.Minute)
	c, err := s.Add(ctx, memory.Entry{Kind: memory.KindConversation, Content: "third", Metadata: map[string]any{"session": "b"}})
	require.NoError(t, err)

	t.Run("kind", func(t *testing.T) {
		got, err := s.Search(ctx, memory.Query{Kinds: []memory.Kind{memory.KindConversation}})
		require.NoError(t, err)
		assert.Equal(t, []string{c.ID, a.ID}, ids(got))
	})

	t.Run("metadata", func(t *testing.T) {
		got, err := s.Search(ctx, memory.Query{Metadata: map[string]any{"session": "b"}})
		require.NoError(t, err)
		assert.Equal(t, []string{c.ID, b.ID}, ids(got))

		got, err = s.Search(ctx, memory.Query{Metadata: map[string]any{"session": "a", "turns": 10.0}})
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID}, ids(got))
	})

	t.Run("inclusive time range", func(t *testing.T) {
		got, err := s.Search(ctx, memory.Query{From: b.Timestamp, To: c.Timestamp})
		require.NoError(t, err)
		assert.Equal(t, []string{c.ID, b.ID}, ids(got))

		got, err = s.Search(ctx, memory.Query{To: start})
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID}, ids(got))
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.Search(ctx, memory.Query{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{c.ID, b.ID}, ids(got))
	})

	t.Run("inverted range", func(t *testing.T) {
		_, err := s.Search(ctx, memory.Query{From: c.Timestamp, To: a.Timestamp})
		assert.True(t, llmerrors.IsValidation(err))
	})
}

func TestStore_AddValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, memory.Entry{Content: "   "})
	assert.True(t, llmerrors.IsValidation(err))

	_, err = s.Add(ctx, memory.Entry{Kind: "episode", Content: "x"})
	assert.True(t, llmerrors.IsValidation(err))

	_, err = s.Add(ctx, memory.Entry{Content: "wrong size", Embedding: []float32{1, 2, 3}})
	assert.True(t, llmerrors.IsValidation(err))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_AddIsAllOrNothing(t *testing.T) {
	failing := memory.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedding backend down")
	})
	table := inmem.NewTable()
	s := memory.NewStore(table, failing)

	_, err := s.Add(context.Background(), memory.Entry{Content: "lost"})
	require.Error(t, err)
	assert.Zero(t, table.Len())
}

func TestStore_UpdateRegeneratesEmbedding(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	added, err := s.Add(ctx, memory.Entry{Content: "alpha beta", Metadata: map[string]any{"keep": "yes", "drop": "me"}})
	require.NoError(t, err)

	content := "gamma delta"
	updated, err := s.Update(ctx, added.ID, memory.Patch{
		Content:  &content,
		Metadata: map[string]any{"drop": nil, "new": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, added.ID, updated.ID)
	assert.Equal(t, "gamma delta", updated.Content)
	assert.NotEqual(t, added.Embedding, updated.Embedding)
	assert.Equal(t, map[string]any{"keep": "yes", "new": 1}, updated.Metadata)

	results, err := s.Search(ctx, memory.Query{Text: "gamma delta"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestStore_UpdateUnknownID(t *testing.T) {
	s, _ := newTestStore(t)
	content := "x"
	_, err := s.Update(context.Background(), "missing", memory.Patch{Content: &content})
	assert.True(t, llmerrors.IsNotFound(err))
}

func TestStore_DeleteAndClear(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.Add(ctx, memory.Entry{Content: "one"})
	require.NoError(t, err)
	_, err = s.Add(ctx, memory.Entry{Content: "two"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, a.ID))
	require.NoError(t, s.Delete(ctx, a.ID))
	_, err = s.Get(ctx, a.ID)
	assert.True(t, llmerrors.IsNotFound(err))

	require.NoError(t, s.Clear(ctx))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_DimensionIsFixed(t *testing.T) {
	s := memory.NewStore(inmem.NewTable(), inmem.NewHashEmbedder(8), memory.WithDimension(8))
	ctx := context.Background()

	_, err := s.Add(ctx, memory.Entry{Content: "fits"})
	require.NoError(t, err)
	_, err = s.Add(ctx, memory.Entry{Content: "does not fit", Embedding: make([]float32, 16)})
	assert.True(t, llmerrors.IsValidation(err))
	assert.Equal(t, 8, s.Dimension())
}

func TestStore_ResultsAreCopies(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	added, err := s.Add(ctx, memory.Entry{Content: "immutable", Metadata: map[string]any{"k": "v"}})
	require.NoError(t, err)
	added.Metadata["k"] = "changed"

	got, err := s.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", got.Metadata["k"])
}

func TestStore_OnOperation(t *testing.T) {
	s, _ := newTestStore(t)
	var ops []string
	s.OnOperation = func(op string, _ error) { ops = append(ops, op) }

	ctx := context.Background()
	_, _ = s.Add(ctx, memory.Entry{Content: "x"})
	_, _ = s.Search(ctx, memory.Query{Text: "x"})
	assert.Equal(t, []string{"add", "search"}, ops)
}

// hookedTable lets tests intercept persistence calls.
type hookedTable struct {
	*inmem.Table
	onGet func(n int)
	onPut func(e *memory.Entry) error

	mu   sync.Mutex
	gets int
}

func (h *hookedTable) Get(ctx context.Context, id string) (*memory.Entry, error) {
	e, err := h.Table.Get(ctx, id)
	h.mu.Lock()
	h.gets++
	n := h.gets
	h.mu.Unlock()
	if h.onGet != nil {
		h.onGet(n)
	}
	return e, err
}

func (h *hookedTable) Put(ctx context.Context, e *memory.Entry) error {
	if h.onPut != nil {
		if err := h.onPut(e); err != nil {
			return err
		}
	}
	return h.Table.Put(ctx, e)
}

func TestStore_SearchWithoutThresholdKeepsNegativeScores(t *testing.T) {
	vectors := map[string][]float32{
		"query":    {1, 0},
		"opposite": {-1, 0.1},
	}
	embedder := memory.EmbedderFunc(func(_ context.Context, text string) ([]float32, error) {
		return vectors[text], nil
	})
	s := memory.NewStore(inmem.NewTable(), embedder)
	ctx := context.Background()

	opposite, err := s.Add(ctx, memory.Entry{Content: "opposite"})
	require.NoError(t, err)

	results, err := s.Search(ctx, memory.Query{Text: "query"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, opposite.ID, results[0].ID)
	assert.Less(t, results[0].Score, 0.0)

	results, err = s.Search(ctx, memory.Query{Text: "query", MinRelevance: memory.Threshold(0)})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_MetadataMatchIsTyped(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	text, err := s.Add(ctx, memory.Entry{Content: "as text", Metadata: map[string]any{"n": "10", "flag": "true"}})
	require.NoError(t, err)
	num, err := s.Add(ctx, memory.Entry{Content: "as number", Metadata: map[string]any{"n": 10, "flag": true}})
	require.NoError(t, err)

	tests := []struct {
		name  string
		query map[string]any
		want  []string
	}{
		{"int", map[string]any{"n": 10}, []string{num.ID}},
		{"float from json", map[string]any{"n": 10.0}, []string{num.ID}},
		{"int64", map[string]any{"n": int64(10)}, []string{num.ID}},
		{"string", map[string]any{"n": "10"}, []string{text.ID}},
		{"bool", map[string]any{"flag": true}, []string{num.ID}},
		{"bool as string", map[string]any{"flag": "true"}, []string{text.ID}},
		{"different number", map[string]any{"n": 11}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(ctx, memory.Query{Metadata: tt.query})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestStore_DeleteDuringUpdateStaysDeleted(t *testing.T) {
	table := &hookedTable{Table: inmem.NewTable()}
	s := memory.NewStore(table, inmem.NewHashEmbedder(16))
	ctx := context.Background()

	added, err := s.Add(ctx, memory.Entry{Content: "short lived"})
	require.NoError(t, err)

	deleted := make(chan struct{})
	var deleteErr error
	var once sync.Once
	table.onGet = func(n int) {
		// The second read is Update's locked re-read.
		if n != 2 {
			return
		}
		once.Do(func() {
			go func() {
				deleteErr = s.Delete(ctx, added.ID)
				close(deleted)
			}()
			select {
			case <-deleted:
			case <-time.After(20 * time.Millisecond):
			}
		})
	}

	source := "edited"
	_, err = s.Update(ctx, added.ID, memory.Patch{Source: &source})
	require.NoError(t, err)

	<-deleted
	require.NoError(t, deleteErr)
	_, err = table.Table.Get(ctx, added.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestStore_FailedFirstWriteDoesNotFixDimension(t *testing.T) {
	table := &hookedTable{Table: inmem.NewTable()}
	s := memory.NewStore(table, inmem.NewHashEmbedder(8))
	ctx := context.Background()

	table.onPut = func(*memory.Entry) error { return errors.New("disk full") }
	_, err := s.Add(ctx, memory.Entry{Content: "never stored", Embedding: unitVector(16)})
	require.Error(t, err)
	assert.Zero(t, s.Dimension())

	table.onPut = nil
	_, err = s.Add(ctx, memory.Entry{Content: "stored"})
	require.NoError(t, err)
	assert.Equal(t, 8, s.Dimension())
}

func unitVector(n int) []float32 {
	v := make([]float32, n)
	v[0] = 1
	return v
}

func ids(entries []*memory.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
