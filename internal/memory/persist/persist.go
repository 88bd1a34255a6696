// Package persist opens the configured memory persistence, degrading to the
// in-memory table when the durable backend is absent or unreachable.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MikaelTHEoret/mastermind/internal/memory"
	"github.com/MikaelTHEoret/mastermind/internal/memory/inmem"
	"github.com/MikaelTHEoret/mastermind/internal/memory/redisstore"
	"github.com/MikaelTHEoret/mastermind/internal/memory/sqlstore"
)

// Drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config selects a persistence driver.
type Config struct {
	Driver string
	// DSN is a file path for sqlite, a connection string for postgres and an
	// address or redis:// URL for redis.
	DSN string
}

// Result describes what Open produced.
type Result struct {
	Persistence memory.Persistence
	// Driver is the driver actually in use.
	Driver string
	// Degraded is set when the configured driver failed and the in-memory
	// table was substituted.
	Degraded bool
}

// Open returns the configured persistence. Failure to open a durable driver
// is logged and answered with an in-memory table; only an unknown driver
// name is an error.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		p   memory.Persistence
		err error
	)
	switch driver {
	case "", DriverMemory:
		return Result{Persistence: inmem.NewTable(), Driver: DriverMemory}, nil
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "mastermind.db"
		}
		p, err = sqlstore.Open(ctx, sqlstore.SQLite, dsn)
	case DriverPostgres:
		p, err = sqlstore.Open(ctx, sqlstore.Postgres, cfg.DSN)
	case DriverRedis:
		p, err = openRedis(ctx, cfg.DSN)
	default:
		return Result{}, fmt.Errorf("unknown memory driver %q", cfg.Driver)
	}

	if err != nil {
		logger.Warn("memory persistence unavailable, using in-memory table",
			"driver", driver,
			"error", err,
		)
		return Result{Persistence: inmem.NewTable(), Driver: DriverMemory, Degraded: true}, nil
	}
	return Result{Persistence: p, Driver: driver}, nil
}

func openRedis(ctx context.Context, dsn string) (*redisstore.Store, error) {
	opts := &redis.Options{Addr: dsn}
	if strings.Contains(dsn, "://") {
		parsed, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}

	client := redis.NewClient(opts)
	s := redisstore.New(client, "")

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return s, nil
}
