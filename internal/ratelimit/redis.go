package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tdgw:ratelimit:"

// takeScript refills and spends in one server-side step, which gives the
// atomic read-modify-write the counter store contract requires across
// gateway instances. ARGV: rate/s, burst, now (ms), ttl (ms).
// Returns {allowed, tokens-as-string}.
var takeScript = redis.NewScript(`
local tokens = tonumber(ARGV[2])
local last = tonumber(ARGV[3])
local state = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill_ms')
if state[1] then
  tokens = tonumber(state[1])
  last = tonumber(state[2])
end
local elapsed = tonumber(ARGV[3]) - last
if elapsed < 0 then elapsed = 0 end
tokens = tokens + elapsed / 1000 * tonumber(ARGV[1])
if tokens > tonumber(ARGV[2]) then tokens = tonumber(ARGV[2]) end
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'last_refill_ms', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {allowed, tostring(tokens)}
`)

// RedisCounterStore implements CounterStore on Redis.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore wraps an existing Redis client. The caller owns the
// client's lifecycle.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Take runs the refill-and-spend script for key.
func (s *RedisCounterStore) Take(ctx context.Context, key string, lim Limit, now time.Time, ttl time.Duration) (Bucket, bool, error) {
	res, err := takeScript.Run(ctx, s.client, []string{keyPrefix + key},
		lim.PerSecond, lim.Burst, now.UnixMilli(), ttl.Milliseconds()).Slice()
	if err != nil {
		return Bucket{}, false, err
	}
	if len(res) != 2 {
		return Bucket{}, false, errors.New("ratelimit: unexpected script reply")
	}
	allowed, _ := res[0].(int64)
	tokens, err := strconv.ParseFloat(res[1].(string), 64)
	if err != nil {
		return Bucket{}, false, err
	}
	return Bucket{Tokens: tokens, LastRefillAt: now}, allowed == 1, nil
}

// Get reads the bucket for key without modifying it.
func (s *RedisCounterStore) Get(ctx context.Context, key string) (Bucket, bool, error) {
	vals, err := s.client.HMGet(ctx, keyPrefix+key, "tokens", "last_refill_ms").Result()
	if err != nil {
		return Bucket{}, false, err
	}
	tokensStr, ok := vals[0].(string)
	if !ok {
		return Bucket{}, false, nil
	}
	lastStr, _ := vals[1].(string)
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return Bucket{}, false, err
	}
	lastMs, err := strconv.ParseInt(lastStr, 10, 64)
	if err != nil {
		return Bucket{}, false, err
	}
	return Bucket{Tokens: tokens, LastRefillAt: time.UnixMilli(lastMs).UTC()}, true, nil
}

// Delete drops the bucket for key.
func (s *RedisCounterStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}
