package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySource — потокобезопасный in-memory источник событий.
// Используется в тестах и при запуске без Postgres (dev-режим).
// Семантика выборок совпадает с SQL-репозиторием: порядок (OccurredAt, Seq).
type MemorySource struct {
	mu     sync.RWMutex
	events []AuditEvent
	seq    int64
}

func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

func (s *MemorySource) Record(ctx context.Context, e *AuditEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e.Seq = s.seq
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	s.events = append(s.events, *e)
	return e.ID, nil
}

// WriteBatch позволяет использовать MemorySource как сток для Recorder
func (s *MemorySource) WriteBatch(ctx context.Context, events []AuditEvent) error {
	for i := range events {
		if _, err := s.Record(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemorySource) Query(ctx context.Context, f Filter) ([]AuditEvent, error) {
	s.mu.RLock()
	matched := make([]AuditEvent, 0, 16)
	for _, e := range s.events {
		if matches(&e, f) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		less := a.OccurredAt.Before(b.OccurredAt) ||
			(a.OccurredAt.Equal(b.OccurredAt) && a.Seq < b.Seq)
		if f.Descending {
			return !less
		}
		return less
	})

	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (s *MemorySource) Count(ctx context.Context, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.events {
		if matches(&e, f) {
			n++
		}
	}
	return n, nil
}

func matches(e *AuditEvent, f Filter) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.ExcludeCategory != "" && e.Category == f.ExcludeCategory {
		return false
	}
	if !f.From.IsZero() && e.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.OccurredAt.Before(f.To) {
		return false
	}
	return true
}
