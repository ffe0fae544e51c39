package memorystore

import (
	"context"
	"testing"
	"time"
)

func TestIncrementAndGetCountsUp(t *testing.T) {
	s := New()
	now := time.Now()

	for i := int64(1); i <= 3; i++ {
		count, err := s.IncrementAndGet(context.Background(), "k", time.Minute, now)
		if err != nil {
			t.Fatalf("IncrementAndGet: %v", err)
		}
		if count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}
}

func TestIncrementAndGetResetsAfterExpiry(t *testing.T) {
	s := New()
	now := time.Now()

	if _, err := s.IncrementAndGet(context.Background(), "k", time.Millisecond, now); err != nil {
		t.Fatalf("IncrementAndGet: %v", err)
	}

	later := now.Add(time.Second)
	count, err := s.IncrementAndGet(context.Background(), "k", time.Minute, later)
	if err != nil {
		t.Fatalf("IncrementAndGet: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the counter to restart at 1 after TTL expiry, got %d", count)
	}
}

func TestDecrementClampsAtZero(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Decrement(ctx, "k"); err != nil {
		t.Fatalf("Decrement on missing key: %v", err)
	}

	if _, err := s.IncrementAndGet(ctx, "k", time.Minute, time.Now()); err != nil {
		t.Fatalf("IncrementAndGet: %v", err)
	}
	if err := s.Decrement(ctx, "k"); err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if err := s.Decrement(ctx, "k"); err != nil {
		t.Fatalf("Decrement: %v", err)
	}

	count, err := s.Peek(ctx, "k", time.Now())
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected count clamped at 0, got %d", count)
	}
}

func TestPeekDoesNotMutate(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.IncrementAndGet(ctx, "k", time.Minute, time.Now()); err != nil {
		t.Fatalf("IncrementAndGet: %v", err)
	}

	for i := 0; i < 3; i++ {
		count, err := s.Peek(ctx, "k", time.Now())
		if err != nil {
			t.Fatalf("Peek: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected Peek to report 1 repeatedly without mutating, got %d", count)
		}
	}
}

func TestPeekReturnsZeroForMissingKey(t *testing.T) {
	s := New()
	count, err := s.Peek(context.Background(), "missing", time.Now())
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 for a missing key, got %d", count)
	}
}

func TestPeekHonorsInjectedClockNotWallClock(t *testing.T) {
	s := New()
	ctx := context.Background()
	synthetic := time.Unix(0, 0)

	if _, err := s.IncrementAndGet(ctx, "k", time.Minute, synthetic); err != nil {
		t.Fatalf("IncrementAndGet: %v", err)
	}

	count, err := s.Peek(ctx, "k", synthetic)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected Peek to use the injected clock and report 1, got %d", count)
	}
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	if _, err := s.IncrementAndGet(ctx, "expired", time.Millisecond, now); err != nil {
		t.Fatalf("IncrementAndGet: %v", err)
	}
	if _, err := s.IncrementAndGet(ctx, "fresh", time.Hour, now); err != nil {
		t.Fatalf("IncrementAndGet: %v", err)
	}

	s.Sweep(now.Add(time.Second))

	sh := s.shardFor("expired")
	sh.mu.Lock()
	_, stillThere := sh.entries["expired"]
	sh.mu.Unlock()
	if stillThere {
		t.Fatal("expected the expired entry to be swept")
	}

	sh2 := s.shardFor("fresh")
	sh2.mu.Lock()
	_, stillFresh := sh2.entries["fresh"]
	sh2.mu.Unlock()
	if !stillFresh {
		t.Fatal("expected the fresh entry to survive the sweep")
	}
}
