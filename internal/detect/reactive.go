package detect

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xela07ax/secwatch/internal/audit"
	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/infra"
)

// failedLoginDetector: серия неудачных входов одного пользователя.
// Срабатывает на каждом событии начиная с порогового — дедупликацию
// повторов берет на себя диспетчер.
type failedLoginDetector struct {
	src audit.Querier
	cfg infra.DetectConfig
}

func (d *failedLoginDetector) Name() string { return "failed_login_pattern" }

func (d *failedLoginDetector) Detect(ctx context.Context, e *audit.AuditEvent, now time.Time) ([]domain.Anomaly, error) {
	if e.Action != audit.ActionLoginFailure || e.ActorID == "" {
		return nil, nil
	}
	n, err := d.src.Count(ctx, audit.Filter{
		ActorID: e.ActorID,
		Action:  audit.ActionLoginFailure,
		From:    now.Add(-d.cfg.ReactiveWindow),
	})
	if err != nil {
		return nil, err
	}
	if n < int64(d.cfg.FailedLoginThreshold) {
		return nil, nil
	}
	return []domain.Anomaly{{
		Type:     domain.TypeFailedLogins,
		Severity: domain.SeverityHigh,
		Subject:  domain.Subject{Identifier: e.ActorID, ActorID: e.ActorID},
		Message:  fmt.Sprintf("%d failed logins for user %s within %s", n, e.ActorID, d.cfg.ReactiveWindow),
		Evidence: map[string]any{
			"detector":     d.Name(),
			"failed_count": n,
			"window":       d.cfg.ReactiveWindow.String(),
			"ip_address":   e.IPAddress,
		},
		DetectedAt: now,
	}}, nil
}

// suspiciousIPDetector: шквал неудачных входов с одного адреса,
// безотносительно атакуемых аккаунтов.
type suspiciousIPDetector struct {
	src audit.Querier
	cfg infra.DetectConfig
}

func (d *suspiciousIPDetector) Name() string { return "suspicious_ip" }

func (d *suspiciousIPDetector) Detect(ctx context.Context, e *audit.AuditEvent, now time.Time) ([]domain.Anomaly, error) {
	if e.Action != audit.ActionLoginFailure || e.IPAddress == "" {
		return nil, nil
	}
	n, err := d.src.Count(ctx, audit.Filter{
		IPAddress: e.IPAddress,
		Action:    audit.ActionLoginFailure,
		From:      now.Add(-d.cfg.ReactiveWindow),
	})
	if err != nil {
		return nil, err
	}
	if n < int64(d.cfg.SuspiciousIPThreshold) {
		return nil, nil
	}
	return []domain.Anomaly{{
		Type:     domain.TypeSuspiciousIP,
		Severity: domain.SeverityCritical,
		Subject:  domain.Subject{Identifier: e.IPAddress},
		Message:  fmt.Sprintf("%d failed logins from %s within %s", n, e.IPAddress, d.cfg.ReactiveWindow),
		Evidence: map[string]any{
			"detector":     d.Name(),
			"failed_count": n,
			"window":       d.cfg.ReactiveWindow.String(),
		},
		DetectedAt: now,
	}}, nil
}

// rapidActionsDetector: нечеловеческий темп действий одного пользователя
type rapidActionsDetector struct {
	src audit.Querier
	cfg infra.DetectConfig
}

func (d *rapidActionsDetector) Name() string { return "rapid_actions" }

func (d *rapidActionsDetector) Detect(ctx context.Context, e *audit.AuditEvent, now time.Time) ([]domain.Anomaly, error) {
	if e.ActorID == "" {
		return nil, nil
	}
	n, err := d.src.Count(ctx, audit.Filter{
		ActorID:         e.ActorID,
		ExcludeCategory: audit.CategorySecurity,
		From:            now.Add(-d.cfg.ReactiveWindow),
	})
	if err != nil {
		return nil, err
	}
	if n < int64(d.cfg.RapidActionsThreshold) {
		return nil, nil
	}
	return []domain.Anomaly{{
		Type:     domain.TypeRapidActions,
		Severity: domain.SeverityMedium,
		Subject:  domain.Subject{Identifier: e.ActorID, ActorID: e.ActorID},
		Message:  fmt.Sprintf("user %s performed %d actions within %s", e.ActorID, n, d.cfg.ReactiveWindow),
		Evidence: map[string]any{
			"detector":     d.Name(),
			"action_count": n,
			"window":       d.cfg.ReactiveWindow.String(),
			"last_action":  e.Action,
		},
		DetectedAt: now,
	}}, nil
}

// locationAnomalyDetector: успешный вход из региона, отличного от региона
// предыдущего входа. Без истории и без вычислимого региона — молчит.
type locationAnomalyDetector struct {
	src    audit.Querier
	region RegionFunc
}

func (d *locationAnomalyDetector) Name() string { return "location_anomaly" }

func (d *locationAnomalyDetector) Detect(ctx context.Context, e *audit.AuditEvent, now time.Time) ([]domain.Anomaly, error) {
	if e.Action != audit.ActionLoginSuccess || e.ActorID == "" || e.IPAddress == "" {
		return nil, nil
	}
	cur := d.region(e.IPAddress)
	if cur == "" {
		return nil, nil
	}
	// Предыдущий успешный вход строго до текущего события
	prev, err := d.src.Query(ctx, audit.Filter{
		ActorID:    e.ActorID,
		Action:     audit.ActionLoginSuccess,
		To:         e.OccurredAt,
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(prev) == 0 {
		return nil, nil
	}
	last := d.region(prev[0].IPAddress)
	if last == "" || last == cur {
		return nil, nil
	}
	return []domain.Anomaly{{
		Type:     domain.TypeLocationAnomaly,
		Severity: domain.SeverityMedium,
		Subject:  domain.Subject{Identifier: e.ActorID, ActorID: e.ActorID},
		Message:  fmt.Sprintf("user %s logged in from region %s, previous login from %s", e.ActorID, cur, last),
		Evidence: map[string]any{
			"detector":        d.Name(),
			"current_region":  cur,
			"previous_region": last,
			"current_ip":      e.IPAddress,
			"previous_ip":     prev[0].IPAddress,
		},
		DetectedAt: now,
	}}, nil
}

// concurrentSessionsDetector: входы с подозрительно большого числа
// различных адресов за последний час.
type concurrentSessionsDetector struct {
	src audit.Querier
	cfg infra.DetectConfig
}

func (d *concurrentSessionsDetector) Name() string { return "concurrent_sessions" }

func (d *concurrentSessionsDetector) Detect(ctx context.Context, e *audit.AuditEvent, now time.Time) ([]domain.Anomaly, error) {
	if e.Action != audit.ActionLoginSuccess || e.ActorID == "" {
		return nil, nil
	}
	logins, err := d.src.Query(ctx, audit.Filter{
		ActorID: e.ActorID,
		Action:  audit.ActionLoginSuccess,
		From:    now.Add(-time.Hour),
	})
	if err != nil {
		return nil, err
	}
	ips := make(map[string]struct{})
	if e.IPAddress != "" {
		ips[e.IPAddress] = struct{}{}
	}
	for _, ev := range logins {
		if ev.IPAddress != "" {
			ips[ev.IPAddress] = struct{}{}
		}
	}
	if len(ips) <= d.cfg.ConcurrentSessionLimit {
		return nil, nil
	}
	addrs := make([]string, 0, len(ips))
	for ip := range ips {
		addrs = append(addrs, ip)
	}
	sort.Strings(addrs)
	return []domain.Anomaly{{
		Type:     domain.TypeConcurrentSessions,
		Severity: domain.SeverityMedium,
		Subject:  domain.Subject{Identifier: e.ActorID, ActorID: e.ActorID},
		Message:  fmt.Sprintf("user %s has logins from %d distinct addresses within 1h", e.ActorID, len(ips)),
		Evidence: map[string]any{
			"detector":  d.Name(),
			"ip_count":  len(ips),
			"addresses": addrs,
		},
		DetectedAt: now,
	}}, nil
}

// privilegeEscalationDetector: действие вне прав — чужая организация либо
// административный глагол без роли admin. Не ходит в журнал, только в
// справочник идентичностей.
type privilegeEscalationDetector struct {
	identity     IdentityProvider
	adminActions map[string]struct{}
}

func (d *privilegeEscalationDetector) Name() string { return "privilege_escalation" }

func (d *privilegeEscalationDetector) Detect(ctx context.Context, e *audit.AuditEvent, now time.Time) ([]domain.Anomaly, error) {
	if e.ActorID == "" || d.identity == nil {
		return nil, nil
	}
	var out []domain.Anomaly

	if e.OrganizationID != "" {
		actorOrg, err := d.identity.ActorOrganization(ctx, e.ActorID)
		if err != nil {
			return nil, err
		}
		if actorOrg != "" && actorOrg != e.OrganizationID {
			out = append(out, domain.Anomaly{
				Type:     domain.TypePrivilegeEscalation,
				Severity: domain.SeverityHigh,
				Subject:  domain.Subject{Identifier: e.ActorID, ActorID: e.ActorID},
				Message:  fmt.Sprintf("user %s from org %s touched resource of org %s", e.ActorID, actorOrg, e.OrganizationID),
				Evidence: map[string]any{
					"detector":     d.Name(),
					"actor_org":    actorOrg,
					"resource_org": e.OrganizationID,
					"action":       e.Action,
				},
				DetectedAt: now,
			})
		}
	}

	if _, isAdmin := d.adminActions[e.Action]; isAdmin {
		role, err := d.identity.ActorRole(ctx, e.ActorID)
		if err != nil {
			return nil, err
		}
		if role != "admin" {
			out = append(out, domain.Anomaly{
				Type:     domain.TypePrivilegeEscalation,
				Severity: domain.SeverityCritical,
				Subject:  domain.Subject{Identifier: e.ActorID, ActorID: e.ActorID},
				Message:  fmt.Sprintf("non-admin user %s (role %q) performed admin action %s", e.ActorID, role, e.Action),
				Evidence: map[string]any{
					"detector": d.Name(),
					"role":     role,
					"action":   e.Action,
				},
				DetectedAt: now,
			})
		}
	}
	return out, nil
}

// bulkDataAccessDetector: объём чтения данных за час выше порога
type bulkDataAccessDetector struct {
	src audit.Querier
	cfg infra.DetectConfig
}

func (d *bulkDataAccessDetector) Name() string { return "bulk_data_access" }

func (d *bulkDataAccessDetector) Detect(ctx context.Context, e *audit.AuditEvent, now time.Time) ([]domain.Anomaly, error) {
	if e.Category != audit.CategoryDataAccess || e.ActorID == "" {
		return nil, nil
	}
	n, err := d.src.Count(ctx, audit.Filter{
		ActorID:  e.ActorID,
		Category: audit.CategoryDataAccess,
		From:     now.Add(-time.Hour),
	})
	if err != nil {
		return nil, err
	}
	if n <= int64(d.cfg.BulkDataAccessThreshold) {
		return nil, nil
	}
	return []domain.Anomaly{{
		Type:     domain.TypeBulkDataAccess,
		Severity: domain.SeverityMedium,
		Subject:  domain.Subject{Identifier: e.ActorID, ActorID: e.ActorID},
		Message:  fmt.Sprintf("user %s accessed data %d times within 1h", e.ActorID, n),
		Evidence: map[string]any{
			"detector":      d.Name(),
			"access_count":  n,
			"resource_type": e.ResourceType,
		},
		DetectedAt: now,
	}}, nil
}

// unusualLoginTimeDetector: вход в час, не входящий в "типичные" часы
// пользователя. Типичные часы — минимальный набор часов, покрывающий
// заданную долю входов за месяц. Без достаточной истории детектор молчит:
// новый пользователь не бывает аномальным.
type unusualLoginTimeDetector struct {
	src audit.Querier
	cfg infra.DetectConfig
}

func (d *unusualLoginTimeDetector) Name() string { return "unusual_login_time" }

func (d *unusualLoginTimeDetector) Detect(ctx context.Context, e *audit.AuditEvent, now time.Time) ([]domain.Anomaly, error) {
	if e.Action != audit.ActionLoginSuccess || e.ActorID == "" {
		return nil, nil
	}
	history, err := d.src.Query(ctx, audit.Filter{
		ActorID: e.ActorID,
		Action:  audit.ActionLoginSuccess,
		From:    now.Add(-d.cfg.LoginHistoryWindow),
		To:      e.OccurredAt, // текущий вход историей не считается
	})
	if err != nil {
		return nil, err
	}
	if len(history) < d.cfg.TypicalHoursMinLogins {
		return nil, nil
	}

	byHour := make(map[int]int)
	for _, ev := range history {
		byHour[ev.OccurredAt.Hour()]++
	}
	typical := typicalHours(byHour, len(history), d.cfg.TypicalHoursCoverage)

	hour := e.OccurredAt.Hour()
	if _, ok := typical[hour]; ok {
		return nil, nil
	}
	return []domain.Anomaly{{
		Type:     domain.TypeUnusualLoginTime,
		Severity: domain.SeverityLow,
		Subject:  domain.Subject{Identifier: e.ActorID, ActorID: e.ActorID},
		Message:  fmt.Sprintf("user %s logged in at hour %02d, outside typical hours", e.ActorID, hour),
		Evidence: map[string]any{
			"detector":      d.Name(),
			"login_hour":    hour,
			"typical_hours": sortedHours(typical),
			"history_size":  len(history),
		},
		DetectedAt: now,
	}}, nil
}

// typicalHours — наименьший набор самых частых часов, суммарно
// покрывающий coverage долю входов.
func typicalHours(byHour map[int]int, total int, coverage float64) map[int]struct{} {
	type hc struct {
		hour, count int
	}
	hours := make([]hc, 0, len(byHour))
	for h, c := range byHour {
		hours = append(hours, hc{h, c})
	}
	sort.Slice(hours, func(i, j int) bool {
		if hours[i].count != hours[j].count {
			return hours[i].count > hours[j].count
		}
		return hours[i].hour < hours[j].hour
	})

	out := make(map[int]struct{})
	covered := 0
	for _, h := range hours {
		out[h.hour] = struct{}{}
		covered += h.count
		if float64(covered) >= coverage*float64(total) {
			break
		}
	}
	return out
}

func sortedHours(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Ints(out)
	return out
}
