// Package sqlstore persists memory entries in SQLite or PostgreSQL through
// database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/MikaelTHEoret/mastermind/internal/memory"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	content      TEXT NOT NULL,
	metadata     TEXT,
	embedding    TEXT,
	associations TEXT,
	source       TEXT,
	created_at   BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_entries_kind ON memory_entries(kind);
CREATE INDEX IF NOT EXISTS idx_memory_entries_created ON memory_entries(created_at);
`

const columns = `id, kind, content, metadata, embedding, associations, source, created_at`

// Store is a memory.Persistence over a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn and creates the schema if needed. For SQLite, dsn is a
// file path and its directory is created.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	var driverDSN string
	switch dialect {
	case SQLite:
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		driverDSN = dsn + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	case Postgres:
		driverDSN = dsn
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := sql.Open(string(dialect), driverDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == SQLite {
		// One writer avoids SQLITE_BUSY under concurrent puts.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get implements memory.Persistence.
func (s *Store) Get(ctx context.Context, id string) (*memory.Entry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+columns+` FROM memory_entries WHERE id = ?`), id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	return e, err
}

// Put implements memory.Persistence.
func (s *Store) Put(ctx context.Context, e *memory.Entry) error {
	metadata, err := encode(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	embedding, err := encode(e.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	associations, err := encode(e.Associations)
	if err != nil {
		return fmt.Errorf("encode associations: %w", err)
	}

	query := `INSERT INTO memory_entries (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			associations = excluded.associations,
			source = excluded.source,
			created_at = excluded.created_at`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		e.ID, string(e.Kind), e.Content, metadata, embedding, associations, e.Source, e.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert memory %s: %w", e.ID, err)
	}
	return nil
}

// Delete implements memory.Persistence.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM memory_entries WHERE id = ?`), id)
	return err
}

// Scan implements memory.Persistence. Kind and time filters use the indexes.
func (s *Store) Scan(ctx context.Context, filter memory.ScanFilter) ([]*memory.Entry, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Kinds) > 0 {
		marks := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UnixNano())
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, filter.To.UnixNano())
	}

	query := `SELECT ` + columns + ` FROM memory_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*memory.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear implements memory.Persistence.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries`)
	return err
}

// Close implements memory.Persistence.
func (s *Store) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*memory.Entry, error) {
	var (
		e                                         memory.Entry
		kind                                      string
		metadata, embedding, associations, source sql.NullString
		createdAt                                 int64
	)
	if err := row.Scan(&e.ID, &kind, &e.Content, &metadata, &embedding, &associations, &source, &createdAt); err != nil {
		return nil, err
	}
	e.Kind = memory.Kind(kind)
	e.Source = source.String
	e.Timestamp = time.Unix(0, createdAt).UTC()

	if err := decode(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", e.ID, err)
	}
	if err := decode(embedding, &e.Embedding); err != nil {
		return nil, fmt.Errorf("decode embedding of %s: %w", e.ID, err)
	}
	if err := decode(associations, &e.Associations); err != nil {
		return nil, fmt.Errorf("decode associations of %s: %w", e.ID, err)
	}
	return &e, nil
}

func encode(v any) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decode(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}
