package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikaelTHEoret/mastermind/internal/memory"
)

func TestCachedEmbedder(t *testing.T) {
	calls := 0
	next := memory.EmbedderFunc(func(_ context.Context, text string) ([]float32, error) {
		calls++
		if text == "broken" {
			return nil, errors.New("embedder down")
		}
		return []float32{float32(len(text)), 1}, nil
	})

	c, err := memory.NewCachedEmbedder(next, 16)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	first, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	c.Wait()

	second, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	// Callers own the returned slice.
	second[0] = 99
	third, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, float32(5), third[0])

	_, err = c.Embed(ctx, "broken")
	assert.Error(t, err)
	c.Wait()
	_, err = c.Embed(ctx, "broken")
	assert.Error(t, err)
	assert.Equal(t, 3, calls, "failures are not cached")
}
