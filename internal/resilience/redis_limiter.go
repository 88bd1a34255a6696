package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// admitScript prunes, checks and records one backend's window atomically.
// Members are "<tokens>:<id>" scored by admission time in milliseconds.
const admitScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local tokens = tonumber(ARGV[3])
local max_requests = tonumber(ARGV[4])
local max_tokens = tonumber(ARGV[5])
local member = ARGV[6]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local entries = redis.call('ZRANGE', key, 0, -1, 'WITHSCORES')
local count = #entries / 2
local used = 0
for i = 1, #entries, 2 do
    local sep = string.find(entries[i], ':', 1, true)
    used = used + tonumber(string.sub(entries[i], 1, sep - 1))
end

local over_requests = max_requests > 0 and count + 1 > max_requests
local over_tokens = max_tokens > 0 and used + tokens > max_tokens
if over_requests or over_tokens then
    if count == 0 then
        return window
    end
    return tonumber(entries[2]) + window - now
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 0
`

// RedisWindowStore keeps sliding windows in Redis sorted sets so processes
// sharing a backend credential share its budget.
type RedisWindowStore struct {
	client redis.UniversalClient
	script *redis.Script
	prefix string
}

// NewRedisWindowStore creates a store using client. Keys are namespaced by prefix.
func NewRedisWindowStore(client redis.UniversalClient, prefix string) *RedisWindowStore {
	if prefix == "" {
		prefix = "mastermind:ratelimit"
	}
	return &RedisWindowStore{
		client: client,
		script: redis.NewScript(admitScript),
		prefix: prefix,
	}
}

// Admit implements WindowStore.
func (s *RedisWindowStore) Admit(ctx context.Context, key string, now time.Time, tokens int64, limits Limits) (time.Duration, error) {
	// Braces pin every key of one backend to the same cluster slot.
	redisKey := fmt.Sprintf("%s:{%s}", s.prefix, key)
	member := fmt.Sprintf("%d:%s", tokens, uuid.NewString())

	res, err := s.script.Run(ctx, s.client, []string{redisKey},
		now.UnixMilli(), Window.Milliseconds(), tokens, limits.Requests, limits.Tokens, member,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("admit %s: %w", key, err)
	}
	return time.Duration(res) * time.Millisecond, nil
}
