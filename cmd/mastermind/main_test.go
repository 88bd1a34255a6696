package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama answers the endpoints the ollama adapter uses.
func fakeOllama(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var chats atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/chat":
			chats.Add(1)
			_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"pong"},"done":true}`))
		case "/api/generate":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &chats
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `
primary:
  kind: ollama
  model: llama3
  base_url: ` + baseURL + `
retry:
  max_attempts: 1
  base_delay: 1ms
  backoff: linear
memory:
  driver: sqlite
  dsn: ` + filepath.Join(dir, "memory.db") + `
logging:
  level: error
`
	path := filepath.Join(dir, "mastermind.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, configPath string, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta([]string{"team=infra", "port=6379", "ratio=0.5", "primary=true"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"team":    "infra",
		"port":    int64(6379),
		"ratio":   0.5,
		"primary": true,
	}, meta)

	_, err = parseMeta([]string{"novalue"})
	assert.Error(t, err)

	meta, err = parseMeta(nil)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestMemoryCommands(t *testing.T) {
	srv, _ := fakeOllama(t)
	configPath := writeConfig(t, srv.URL)

	out, err := execute(t, configPath, "", "remember", "--meta", "team=infra", "Redis listens on port 6379")
	require.NoError(t, err)
	var redisEntry entryView
	require.NoError(t, json.Unmarshal([]byte(out), &redisEntry))
	assert.NotEmpty(t, redisEntry.ID)
	assert.Equal(t, "knowledge", string(redisEntry.Kind))

	out, err = execute(t, configPath, "", "remember", "--kind", "context", "Postgres backs the billing service")
	require.NoError(t, err)
	var pgEntry entryView
	require.NoError(t, json.Unmarshal([]byte(out), &pgEntry))

	// The sqlite store keeps entries across invocations.
	out, err = execute(t, configPath, "", "recall", "--meta", "team=infra", "which port does redis listen on")
	require.NoError(t, err)
	var recalled []entryView
	require.NoError(t, json.Unmarshal([]byte(out), &recalled))
	require.Len(t, recalled, 1)
	assert.Equal(t, redisEntry.ID, recalled[0].ID)
	require.NotNil(t, recalled[0].Score)
	assert.Greater(t, *recalled[0].Score, 0.1)

	_, err = execute(t, configPath, "", "link", "--meta", "reason=ops", redisEntry.ID, pgEntry.ID)
	require.NoError(t, err)

	out, err = execute(t, configPath, "", "links", redisEntry.ID)
	require.NoError(t, err)
	var links []linkView
	require.NoError(t, json.Unmarshal([]byte(out), &links))
	require.Len(t, links, 1)
	assert.Equal(t, pgEntry.ID, links[0].TargetID)
	assert.Equal(t, "ops", links[0].Metadata["reason"])

	_, err = execute(t, configPath, "", "forget", pgEntry.ID)
	require.NoError(t, err)

	out, err = execute(t, configPath, "", "links", redisEntry.ID)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestChatCommand(t *testing.T) {
	srv, chats := fakeOllama(t)
	configPath := writeConfig(t, srv.URL)

	out, err := execute(t, configPath, "", "chat", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong\n", out)

	out, err = execute(t, configPath, "first\n\nsecond\n", "chat", "--no-memory")
	require.NoError(t, err)
	assert.Equal(t, "pong\npong\n", out)
	assert.Equal(t, int32(3), chats.Load())
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "absent.yaml"), "", "recall", "anything")
	assert.Error(t, err)
}
