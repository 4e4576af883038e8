package counter

import (
	"context"
	"sync"
	"testing"
	"time"
)

// newFrozenStore возвращает store с управляемыми часами
func newFrozenStore(start time.Time) (*MemoryStore, *time.Time) {
	s := NewMemoryStore()
	now := start
	s.now = func() time.Time { return now }
	return s, &now
}

func TestMemoryStore_FixedWindowDoesNotExtend(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, now := newFrozenStore(start)
	ctx := context.Background()

	if n, err := s.Increment(ctx, "k", time.Minute); err != nil || n != 1 {
		t.Fatalf("first increment: n=%d err=%v", n, err)
	}

	// Инкременты в середине окна не должны двигать expires_at
	*now = start.Add(50 * time.Second)
	if n, _ := s.Increment(ctx, "k", time.Minute); n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}

	left, err := s.WindowRemaining(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if left != 10*time.Second {
		t.Fatalf("window was extended: remaining=%v, want 10s", left)
	}

	// После истечения окна счет начинается заново
	*now = start.Add(61 * time.Second)
	if n, _ := s.Increment(ctx, "k", time.Minute); n != 1 {
		t.Fatalf("expected fresh window count 1, got %d", n)
	}
}

func TestMemoryStore_ExpiredPeekIsZero(t *testing.T) {
	start := time.Now()
	s, now := newFrozenStore(start)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := s.Increment(ctx, "k", time.Second); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if n, _ := s.Peek(ctx, "k"); n != 7 {
		t.Fatalf("expected 7, got %d", n)
	}

	*now = start.Add(2 * time.Second)
	// Протухший ключ всегда 0, никакого "stale count"
	if n, _ := s.Peek(ctx, "k"); n != 0 {
		t.Fatalf("expected expired key to read 0, got %d", n)
	}
	// Повторное чтение после ленивой эвикции тоже 0
	if n, _ := s.Peek(ctx, "k"); n != 0 {
		t.Fatalf("expected 0 after eviction, got %d", n)
	}
}

func TestMemoryStore_PeekDoesNotMutate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _ = s.Increment(ctx, "k", time.Minute)
	for i := 0; i < 10; i++ {
		if _, err := s.Peek(ctx, "k"); err != nil {
			t.Fatalf("peek: %v", err)
		}
	}
	if n, _ := s.Peek(ctx, "k"); n != 1 {
		t.Fatalf("peek mutated the counter: %d", n)
	}
}

func TestMemoryStore_ConcurrentIncrementsNoLostUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const workers = 16
	const perWorker = 200

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.Increment(ctx, "shared", time.Minute); err != nil {
					t.Errorf("increment failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	n, err := s.Peek(ctx, "shared")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if n != workers*perWorker {
		t.Fatalf("lost updates: got %d, want %d", n, workers*perWorker)
	}
}

func TestMemoryStore_Reset(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _ = s.Increment(ctx, "k", time.Minute)
	if err := s.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := s.Peek(ctx, "k"); n != 0 {
		t.Fatalf("expected 0 after reset, got %d", n)
	}
}
