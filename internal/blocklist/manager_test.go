package blocklist

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestManager(t *testing.T, allow ...string) *Manager {
	t.Helper()
	// Без Redis: только L1, как в dev-режиме
	return NewManager(nil, allow, zap.NewNop())
}

func TestManager_BlockAndExpiry(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.Block(ctx, "203.0.113.7", "test", 50*time.Millisecond); err != nil {
		t.Fatalf("block: %v", err)
	}
	if !m.IsBlocked("203.0.113.7") {
		t.Fatal("address must be blocked right after Block")
	}
	if m.IsBlocked("203.0.113.8") {
		t.Fatal("unrelated address must not be blocked")
	}

	time.Sleep(60 * time.Millisecond)
	if m.IsBlocked("203.0.113.7") {
		t.Fatal("expired block must not hold")
	}
}

func TestManager_BlockValidation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.Block(ctx, "", "test", time.Hour); err == nil {
		t.Fatal("empty address must be rejected")
	}
	if err := m.Block(ctx, "203.0.113.7", "test", 0); err == nil {
		t.Fatal("non-positive duration must be rejected")
	}
}

func TestManager_Unblock(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.Block(ctx, "203.0.113.7", "test", time.Hour); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := m.Unblock(ctx, "203.0.113.7"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if m.IsBlocked("203.0.113.7") {
		t.Fatal("unblocked address must pass")
	}
}

func TestManager_CountHookTracksMutations(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var counts []int
	m.OnCountChange = func(n int) { counts = append(counts, n) }

	if err := m.Block(ctx, "203.0.113.1", "test", 50*time.Millisecond); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := m.Block(ctx, "203.0.113.2", "test", time.Hour); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := m.Unblock(ctx, "203.0.113.2"); err != nil {
		t.Fatalf("unblock: %v", err)
	}

	// Ленивая эвикция протухшей записи тоже отражается в счетчике
	time.Sleep(60 * time.Millisecond)
	m.IsBlocked("203.0.113.1")

	want := []int{1, 2, 1, 0}
	if len(counts) != len(want) {
		t.Fatalf("count updates = %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("count updates = %v, want %v", counts, want)
		}
	}
}

func TestManager_AllowList(t *testing.T) {
	m := newTestManager(t, "198.51.100.99", " 198.51.100.100 ")

	if !m.IsAllowListed("198.51.100.99") {
		t.Fatal("allow-listed address not recognised")
	}
	// Пробелы в конфиге не должны ломать сравнение
	if !m.IsAllowListed("198.51.100.100") {
		t.Fatal("allow-list entries must be trimmed")
	}
	if m.IsAllowListed("203.0.113.7") {
		t.Fatal("arbitrary address must not be allow-listed")
	}
}

func TestManager_IsLocal(t *testing.T) {
	m := newTestManager(t)

	local := []string{"127.0.0.1", "::1", "localhost", "10.0.0.5", "192.168.1.20", "172.16.3.4"}
	for _, addr := range local {
		if !m.IsLocal(addr) {
			t.Errorf("%s must be local", addr)
		}
	}
	public := []string{"203.0.113.7", "8.8.8.8"}
	for _, addr := range public {
		if m.IsLocal(addr) {
			t.Errorf("%s must not be local", addr)
		}
	}
}
