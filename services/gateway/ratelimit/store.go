// Package ratelimit implements the rate-limit and concurrency-control
// engine: rule matching, the fixed-window/sliding-window/semaphore
// algorithms, and the counter store contract they run against.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is returned by a CounterStore when the backing
// service cannot service a call. The Engine treats it as fail-open:
// the rule it was evaluating is treated as not exceeded.
var ErrStoreUnavailable = errors.New("ratelimit: counter store unavailable")

// CounterStore is the atomic increment-with-TTL primitive every
// rate-limit algorithm is built on. Implementations must guarantee that
// IncrementAndGet is atomic under concurrent callers sharing a key,
// including across processes for distributed stores.
//
// A store owns eviction: an entry whose TTL has elapsed must
// eventually disappear without any caller issuing a delete. Decrement
// is best-effort and is only meaningful for the Semaphore algorithm;
// it must never take a counter below zero.
type CounterStore interface {
	// IncrementAndGet adds 1 to the counter identified by key, sets or
	// extends its expiration to now+ttl, and returns the post-increment
	// value. Returns ErrStoreUnavailable on backend failure.
	IncrementAndGet(ctx context.Context, key string, ttl time.Duration, now time.Time) (int64, error)

	// Decrement subtracts 1 from the counter identified by key,
	// clamped at zero. Best-effort: errors are not actionable by the
	// caller and should be logged, not propagated into a rejection.
	Decrement(ctx context.Context, key string) error

	// Peek returns the current value of key without mutating it or its
	// TTL, or 0 if the key does not exist. now is the same caller-
	// supplied clock reading passed to IncrementAndGet, so a store's
	// expiry check never disagrees with the clock the rest of the
	// evaluation used — important for tests that inject a synthetic
	// clock far from wall-clock time. SlidingWindow uses this to sum
	// non-current buckets without double-incrementing them; it is not
	// part of spec.md's original two-operation capability set, but a
	// true atomic read is the only race-free way to sum buckets the
	// caller isn't currently writing, so it is added here rather than
	// approximated with an increment/decrement round trip.
	Peek(ctx context.Context, key string, now time.Time) (int64, error)
}
