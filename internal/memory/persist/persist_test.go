package persist

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikaelTHEoret/mastermind/internal/memory/inmem"
	"github.com/MikaelTHEoret/mastermind/internal/memory/redisstore"
	"github.com/MikaelTHEoret/mastermind/internal/memory/sqlstore"
)

func TestOpen_DefaultIsMemory(t *testing.T) {
	res, err := Open(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &inmem.Table{}, res.Persistence)
	assert.Equal(t, DriverMemory, res.Driver)
	assert.False(t, res.Degraded)
}

func TestOpen_SQLite(t *testing.T) {
	res, err := Open(context.Background(), Config{Driver: "SQLite", DSN: filepath.Join(t.TempDir(), "m.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { res.Persistence.Close() })
	assert.IsType(t, &sqlstore.Store{}, res.Persistence)
	assert.Equal(t, DriverSQLite, res.Driver)
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	res, err := Open(context.Background(), Config{Driver: DriverRedis, DSN: "redis://" + mr.Addr() + "/0"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { res.Persistence.Close() })
	assert.IsType(t, &redisstore.Store{}, res.Persistence)
}

func TestOpen_UnreachableFallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	res, err := Open(context.Background(), Config{Driver: DriverRedis, DSN: addr}, logger)
	require.NoError(t, err)
	assert.IsType(t, &inmem.Table{}, res.Persistence)
	assert.True(t, res.Degraded)
	assert.Contains(t, logs.String(), "memory persistence unavailable")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "cassandra"}, nil)
	assert.ErrorContains(t, err, "unknown memory driver")
}
