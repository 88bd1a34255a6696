// Package redisstore persists memory entries in Redis. Each entry is a JSON
// string; sorted sets scored by timestamp index all entries and each kind.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/MikaelTHEoret/mastermind/internal/memory"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "mastermind:memory"

// Store is a memory.Persistence backed by Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New creates a store using client. Keys are namespaced by prefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) entryKey(id string) string { return s.prefix + ":entry:" + id }
func (s *Store) timeKey() string           { return s.prefix + ":by_time" }
func (s *Store) kindKey(k memory.Kind) string {
	return s.prefix + ":by_kind:" + string(k)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get implements memory.Persistence.
func (s *Store) Get(ctx context.Context, id string) (*memory.Entry, error) {
	data, err := s.client.Get(ctx, s.entryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	var e memory.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", id, err)
	}
	return &e, nil
}

// Put implements memory.Persistence. A kind change moves the entry between
// kind indexes.
func (s *Store) Put(ctx context.Context, e *memory.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode memory %s: %w", e.ID, err)
	}

	previous, err := s.Get(ctx, e.ID)
	if err != nil && !errors.Is(err, memory.ErrNotFound) {
		return err
	}

	score := float64(e.Timestamp.UnixNano())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != nil && previous.Kind != e.Kind {
			pipe.ZRem(ctx, s.kindKey(previous.Kind), e.ID)
		}
		pipe.Set(ctx, s.entryKey(e.ID), data, 0)
		pipe.ZAdd(ctx, s.timeKey(), redis.Z{Score: score, Member: e.ID})
		pipe.ZAdd(ctx, s.kindKey(e.Kind), redis.Z{Score: score, Member: e.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put memory %s: %w", e.ID, err)
	}
	return nil
}

// Delete implements memory.Persistence.
func (s *Store) Delete(ctx context.Context, id string) error {
	e, err := s.Get(ctx, id)
	if errors.Is(err, memory.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.entryKey(id))
		pipe.ZRem(ctx, s.timeKey(), id)
		pipe.ZRem(ctx, s.kindKey(e.Kind), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

// Scan implements memory.Persistence. Results are newest first.
func (s *Store) Scan(ctx context.Context, filter memory.ScanFilter) ([]*memory.Entry, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !filter.From.IsZero() {
		rng.Min = strconv.FormatInt(filter.From.UnixNano(), 10)
	}
	if !filter.To.IsZero() {
		rng.Max = strconv.FormatInt(filter.To.UnixNano(), 10)
	}

	indexes := []string{s.timeKey()}
	if len(filter.Kinds) > 0 {
		indexes = indexes[:0]
		for _, k := range filter.Kinds {
			indexes = append(indexes, s.kindKey(k))
		}
	}

	seen := make(map[string]bool)
	var ids []string
	for _, idx := range indexes {
		members, err := s.client.ZRevRangeByScore(ctx, idx, rng).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", idx, err)
		}
		for _, id := range members {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}

	out := make([]*memory.Entry, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry whose record vanished between the two reads.
			continue
		}
		var e memory.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode memory %s: %w", ids[i], err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// Clear implements memory.Persistence by removing every key under the prefix.
func (s *Store) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+":*", 256).Result()
		if err != nil {
			return fmt.Errorf("scan keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close implements memory.Persistence.
func (s *Store) Close() error { return s.client.Close() }

var _ memory.Persistence = (*Store)(nil)
