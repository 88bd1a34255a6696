package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikaelTHEoret/mastermind/internal/memory"
	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

func TestStore_AssociationsAreDirected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.Add(ctx, memory.Entry{Content: "service A"})
	require.NoError(t, err)
	b, err := s.Add(ctx, memory.Entry{Content: "service B"})
	require.NoError(t, err)

	require.NoError(t, s.Associate(ctx, a.ID, b.ID, map[string]any{"relation": "depends_on"}))

	linked, err := s.Associations(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, b.ID, linked[0].TargetID)
	assert.Equal(t, "service B", linked[0].Entry.Content)
	assert.Equal(t, "depends_on", linked[0].Metadata["relation"])

	reverse, err := s.Associations(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, reverse)
}

func TestStore_AssociateReplacesExistingEdge(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, _ := s.Add(ctx, memory.Entry{Content: "a"})
	b, _ := s.Add(ctx, memory.Entry{Content: "b"})

	require.NoError(t, s.Associate(ctx, a.ID, b.ID, map[string]any{"weight": 1}))
	require.NoError(t, s.Associate(ctx, a.ID, b.ID, map[string]any{"weight": 2}))

	linked, err := s.Associations(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, 2, linked[0].Metadata["weight"])
}

func TestStore_AssociateUnknownIDs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Add(ctx, memory.Entry{Content: "a"})

	assert.True(t, llmerrors.IsNotFound(s.Associate(ctx, a.ID, "missing", nil)))
	assert.True(t, llmerrors.IsNotFound(s.Associate(ctx, "missing", a.ID, nil)))
	assert.True(t, llmerrors.IsValidation(s.Associate(ctx, a.ID, a.ID, nil)))

	_, err := s.Associations(ctx, "missing")
	assert.True(t, llmerrors.IsNotFound(err))
}

func TestStore_DeletedTargetIsOmitted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, _ := s.Add(ctx, memory.Entry{Content: "a"})
	b, _ := s.Add(ctx, memory.Entry{Content: "b"})
	c, _ := s.Add(ctx, memory.Entry{Content: "c"})
	require.NoError(t, s.Associate(ctx, a.ID, b.ID, nil))
	require.NoError(t, s.Associate(ctx, a.ID, c.ID, nil))

	require.NoError(t, s.Delete(ctx, b.ID))

	linked, err := s.Associations(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, c.ID, linked[0].TargetID)
}

func TestStore_Dissociate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, _ := s.Add(ctx, memory.Entry{Content: "a"})
	b, _ := s.Add(ctx, memory.Entry{Content: "b"})
	require.NoError(t, s.Associate(ctx, a.ID, b.ID, nil))
	require.NoError(t, s.Dissociate(ctx, a.ID, b.ID))

	linked, err := s.Associations(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, linked)
}
