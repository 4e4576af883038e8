package service

import (
	"context"
	"errors"
	"testing"

	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/repository/postgres"
)

type fakeAlertStore struct {
	alerts  map[string]*domain.SecurityAlert
	updated []string // "id:status:operator"
}

func (f *fakeAlertStore) List(_ context.Context, _ postgres.AlertFilter) ([]domain.SecurityAlert, error) {
	out := make([]domain.SecurityAlert, 0, len(f.alerts))
	for _, a := range f.alerts {
		out = append(out, *a)
	}
	return out, nil
}

func (f *fakeAlertStore) GetByID(_ context.Context, id string) (*domain.SecurityAlert, error) {
	a, ok := f.alerts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAlertStore) UpdateStatus(_ context.Context, id string, status domain.AlertStatus, operatorID string) error {
	f.updated = append(f.updated, id+":"+string(status)+":"+operatorID)
	f.alerts[id].Status = status
	return nil
}

func storeWith(status domain.AlertStatus) *fakeAlertStore {
	return &fakeAlertStore{alerts: map[string]*domain.SecurityAlert{
		"a-1": {ID: "a-1", Type: domain.TypeSuspiciousIP, Severity: domain.SeverityHigh, Status: status},
	}}
}

func TestAlertService_AcknowledgeFromActive(t *testing.T) {
	store := storeWith(domain.AlertStatusActive)
	svc := NewAlertService(store)

	if err := svc.Acknowledge(context.Background(), "a-1", "op-1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if len(store.updated) != 1 || store.updated[0] != "a-1:acknowledged:op-1" {
		t.Fatalf("unexpected updates: %v", store.updated)
	}
}

func TestAlertService_AcknowledgeTwiceRejected(t *testing.T) {
	store := storeWith(domain.AlertStatusAcknowledged)
	svc := NewAlertService(store)

	err := svc.Acknowledge(context.Background(), "a-1", "op-1")
	if !errors.Is(err, ErrBadStatusChange) {
		t.Fatalf("want ErrBadStatusChange, got %v", err)
	}
	if len(store.updated) != 0 {
		t.Fatal("rejected transition must not hit the store")
	}
}

func TestAlertService_ResolveFromAcknowledged(t *testing.T) {
	store := storeWith(domain.AlertStatusAcknowledged)
	svc := NewAlertService(store)

	if err := svc.Resolve(context.Background(), "a-1", "op-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if store.alerts["a-1"].Status != domain.AlertStatusResolved {
		t.Fatalf("status = %s, want resolved", store.alerts["a-1"].Status)
	}
}

func TestAlertService_ResolveFromResolvedRejected(t *testing.T) {
	store := storeWith(domain.AlertStatusResolved)
	svc := NewAlertService(store)

	if err := svc.Resolve(context.Background(), "a-1", "op-1"); !errors.Is(err, ErrBadStatusChange) {
		t.Fatalf("want ErrBadStatusChange, got %v", err)
	}
}

func TestAlertService_NotFound(t *testing.T) {
	store := &fakeAlertStore{alerts: map[string]*domain.SecurityAlert{}}
	svc := NewAlertService(store)

	if err := svc.Acknowledge(context.Background(), "missing", "op-1"); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("want ErrAlertNotFound, got %v", err)
	}
}
