package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/repository/postgres"
)

// AlertStore описывает контракт чтения и изменения алертов
type AlertStore interface {
	List(ctx context.Context, f postgres.AlertFilter) ([]domain.SecurityAlert, error)
	GetByID(ctx context.Context, id string) (*domain.SecurityAlert, error)
	UpdateStatus(ctx context.Context, id string, status domain.AlertStatus, operatorID string) error
}

var (
	ErrAlertNotFound   = errors.New("alert not found")
	ErrBadStatusChange = errors.New("invalid status transition")
)

type AlertService struct {
	repo AlertStore
}

func NewAlertService(repo AlertStore) *AlertService {
	return &AlertService{repo: repo}
}

func (s *AlertService) List(ctx context.Context, f postgres.AlertFilter) ([]domain.SecurityAlert, error) {
	alerts, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("alert_service: list failed: %w", err)
	}
	return alerts, nil
}

// Acknowledge — оператор взял алерт в работу. Допустимо только из active.
func (s *AlertService) Acknowledge(ctx context.Context, id, operatorID string) error {
	return s.transition(ctx, id, operatorID, domain.AlertStatusAcknowledged, domain.AlertStatusActive)
}

// Resolve — инцидент закрыт. Допустимо из active и acknowledged.
func (s *AlertService) Resolve(ctx context.Context, id, operatorID string) error {
	return s.transition(ctx, id, operatorID, domain.AlertStatusResolved,
		domain.AlertStatusActive, domain.AlertStatusAcknowledged)
}

func (s *AlertService) transition(ctx context.Context, id, operatorID string, to domain.AlertStatus, from ...domain.AlertStatus) error {
	alert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("alert_service: lookup failed: %w", err)
	}
	if alert == nil {
		return ErrAlertNotFound
	}

	allowed := false
	for _, f := range from {
		if alert.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrBadStatusChange, alert.Status, to)
	}

	return s.repo.UpdateStatus(ctx, id, to, operatorID)
}
