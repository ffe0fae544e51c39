// Package redisstore is the distributed CounterStore, backed by Redis.
// Increment-and-set-TTL is done as a single Lua script so the two
// operations are atomic even under contention from multiple gateway
// instances sharing one Redis.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wardenhq/throttlegate/services/gateway/ratelimit"
)

func errUnavailable(cause error) error {
	return fmt.Errorf("%w: %v", ratelimit.ErrStoreUnavailable, cause)
}

// incrAndExpire atomically increments key by 1 and (re)sets its TTL,
// returning the post-increment value. Resetting the TTL on every call
// rather than only on creation matches the fixed/sliding window
// algorithms, which want a rolling "die at now+ttl" expiry.
const incrAndExpire = `
local v = redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[1])
return v
`

// Store is a Redis-backed ratelimit.CounterStore.
type Store struct {
	client *redis.Client
	logger zerolog.Logger
	script *redis.Script
}

// New wraps an existing redis.Client. The caller owns the client's
// lifecycle (Close, reconnects); Store only issues commands against it.
func New(client *redis.Client, logger zerolog.Logger) *Store {
	return &Store{
		client: client,
		logger: logger.With().Str("component", "redisstore").Logger(),
		script: redis.NewScript(incrAndExpire),
	}
}

// IncrementAndGet implements ratelimit.CounterStore via the Lua script
// above. Any Redis error is logged and surfaced so the Engine can fail
// open for this rule.
func (s *Store) IncrementAndGet(ctx context.Context, key string, ttl time.Duration, _ time.Time) (int64, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	v, err := s.script.Run(ctx, s.client, []string{key}, ms).Int64()
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("redis counter increment failed")
		return 0, errUnavailable(err)
	}
	return v, nil
}

// Decrement implements ratelimit.CounterStore. Best-effort: a floor at
// zero is enforced with a small Lua guard rather than a plain DECR,
// since DECR alone can push a semaphore counter negative under races
// between a reject-path decrement and a concurrent expiry.
var decrFloor = redis.NewScript(`
local v = redis.call("DECR", KEYS[1])
if v < 0 then
  redis.call("SET", KEYS[1], 0)
  return 0
end
return v
`)

func (s *Store) Decrement(ctx context.Context, key string) error {
	if err := decrFloor.Run(ctx, s.client, []string{key}).Err(); err != nil && err != redis.Nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("redis counter decrement failed")
		return errUnavailable(err)
	}
	return nil
}

// Peek implements ratelimit.CounterStore. GET on a counter key never
// mutates it or its TTL. now is unused here: Redis's own PEXPIRE is the
// authority on expiry, unlike memorystore which must check the caller's
// clock itself.
func (s *Store) Peek(ctx context.Context, key string, _ time.Time) (int64, error) {
	v, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("redis counter peek failed")
		return 0, errUnavailable(err)
	}
	return v, nil
}
