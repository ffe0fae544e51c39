// Package memorystore is the process-local CounterStore. It keeps one
// fine-grained mutex per key (striped across a fixed shard count, in
// the spirit of the teacher's middleware.KeyedMutex) so that hot keys
// don't serialize on a single process-wide lock.
package memorystore

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 64

type entry struct {
	count   int64
	expires time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Store is an in-process CounterStore. The zero value is not usable;
// construct with New.
type Store struct {
	shards [shardCount]*shard
}

// New returns a ready-to-use in-process counter store.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// IncrementAndGet implements ratelimit.CounterStore.
func (s *Store) IncrementAndGet(_ context.Context, key string, ttl time.Duration, now time.Time) (int64, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || now.After(e.expires) {
		e = &entry{}
		sh.entries[key] = e
	}
	e.count++
	e.expires = now.Add(ttl)
	return e.count, nil
}

// Decrement implements ratelimit.CounterStore. Clamped at zero.
func (s *Store) Decrement(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return nil
	}
	if e.count > 0 {
		e.count--
	}
	return nil
}

// Peek implements ratelimit.CounterStore.
func (s *Store) Peek(_ context.Context, key string, now time.Time) (int64, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || now.After(e.expires) {
		return 0, nil
	}
	return e.count, nil
}

// Sweep drops expired entries. Callers with long-lived stores should
// invoke this periodically (e.g. alongside the ConfigLoader's refresh
// ticker) to bound memory; entries are otherwise only evicted lazily
// on their next IncrementAndGet.
func (s *Store) Sweep(now time.Time) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if now.After(e.expires) {
				delete(sh.entries, k)
			}
		}
		sh.mu.Unlock()
	}
}
