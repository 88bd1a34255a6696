package ollama

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
	"github.com/MikaelTHEoret/mastermind/pkg/provider"
	"github.com/MikaelTHEoret/mastermind/pkg/types"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2"}]}`))
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "llama3.2", req.Model)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"local reply"},"done":true}`))
	})
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		_, _ = w.Write([]byte(`{"embedding":[1,0,0.5]}`))
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 0, req["keep_alive"])
		_, _ = w.Write([]byte(`{"done":true}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestProvider_RoundTrip(t *testing.T) {
	server := newServer(t)
	p := New(WithBaseURL(server.URL), WithModel("llama3.2"), WithEmbeddingModel("nomic-embed-text"))
	ctx := context.Background()

	require.NoError(t, p.Initialize(ctx))

	reply, err := p.Chat(ctx, []types.Message{types.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "local reply", reply.Content)

	vec, err := p.GenerateEmbedding(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0.5}, vec)

	require.NoError(t, p.Cleanup(ctx))
}

func TestChat_UnsupportedRole(t *testing.T) {
	p := New(WithModel("llama3.2"))
	_, err := p.Chat(context.Background(), []types.Message{{Role: "tool", Content: "x"}})
	assert.Equal(t, llmerrors.KindUnsupportedRole, llmerrors.KindOf(err))
}

func TestConfig_NoCredentialsRequired(t *testing.T) {
	cfg := provider.Config{Kind: provider.KindOllama, Model: "llama3.2"}
	assert.False(t, cfg.RequiresCredentials())
	assert.True(t, cfg.HasCredentials())

	p, err := NewFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, ProviderName, p.Name())
	_, ok := p.(provider.Cleaner)
	assert.True(t, ok)
}
