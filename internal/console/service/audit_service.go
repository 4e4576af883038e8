package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/secwatch/internal/audit"
)

// AuditService — чтение журнала для консоли. Фильтрация инкапсулирована
// в audit.Filter, сервис только нормализует лимит.
type AuditService struct {
	repo audit.Querier
}

func NewAuditService(repo audit.Querier) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) FetchLogs(ctx context.Context, f audit.Filter) ([]audit.AuditEvent, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	f.Descending = true

	logs, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
