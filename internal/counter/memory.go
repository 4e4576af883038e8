package counter

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore — in-memory backend. Используется в тестах и в dev-режиме
// без Redis. Потеря счетчиков при рестарте процесса допустима по контракту.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry

	// now подменяется в тестах
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		// Новое окно: expires_at фиксируется здесь и больше не двигается
		s.entries[key] = &memEntry{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}
	e.count++
	return e.count, nil
}

func (s *MemoryStore) Peek(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	if !s.now().Before(e.expiresAt) {
		// Ленивая эвикция протухшей записи
		delete(s.entries, key)
		return 0, nil
	}
	return e.count, nil
}

func (s *MemoryStore) WindowRemaining(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	left := e.expiresAt.Sub(s.now())
	if left < 0 {
		delete(s.entries, key)
		return 0, nil
	}
	return left, nil
}

func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
