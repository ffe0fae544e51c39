package redisstore

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// These tests need a real Redis reachable at REDIS_TEST_URL; they are
// skipped otherwise.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set; skipping redisstore integration test")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("redis.ParseURL: %v", err)
	}
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })
	return New(client, zerolog.New(io.Discard))
}

func TestRedisStoreIncrementAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "throttlegate-test:incr"
	defer s.client.Del(ctx, key)

	for i := int64(1); i <= 3; i++ {
		count, err := s.IncrementAndGet(ctx, key, time.Minute, time.Now())
		if err != nil {
			t.Fatalf("IncrementAndGet: %v", err)
		}
		if count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}
}

func TestRedisStoreDecrementClampsAtZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "throttlegate-test:decr"
	defer s.client.Del(ctx, key)

	if _, err := s.IncrementAndGet(ctx, key, time.Minute, time.Now()); err != nil {
		t.Fatalf("IncrementAndGet: %v", err)
	}
	if err := s.Decrement(ctx, key); err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if err := s.Decrement(ctx, key); err != nil {
		t.Fatalf("Decrement: %v", err)
	}

	count, err := s.Peek(ctx, key, time.Now())
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected count clamped at 0, got %d", count)
	}
}

func TestRedisStorePeekMissingKeyIsZero(t *testing.T) {
	s := newTestStore(t)
	count, err := s.Peek(context.Background(), "throttlegate-test:missing", time.Now())
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 for a missing key, got %d", count)
	}
}
