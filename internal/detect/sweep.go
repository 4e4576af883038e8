package detect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xela07ax/secwatch/internal/audit"
	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/infra"
)

// bruteForceClusterDetector: кластер неудачных входов с одного адреса
// по множеству аккаунтов. Реактивный детектор одного пользователя такую
// "горизонтальную" атаку не видит.
type bruteForceClusterDetector struct {
	src audit.Querier
	cfg infra.DetectConfig
}

func (d *bruteForceClusterDetector) Name() string { return "brute_force_cluster" }

func (d *bruteForceClusterDetector) Sweep(ctx context.Context, now time.Time) ([]domain.Anomaly, error) {
	events, err := d.src.Query(ctx, audit.Filter{
		Action: audit.ActionLoginFailure,
		From:   now.Add(-d.cfg.SweepLookback),
	})
	if err != nil {
		return nil, err
	}

	fails := make(map[string]int)
	victims := make(map[string]map[string]struct{})
	for _, e := range events {
		if e.IPAddress == "" {
			continue
		}
		fails[e.IPAddress]++
		if e.ActorID != "" {
			if victims[e.IPAddress] == nil {
				victims[e.IPAddress] = make(map[string]struct{})
			}
			victims[e.IPAddress][e.ActorID] = struct{}{}
		}
	}

	var out []domain.Anomaly
	for _, ip := range sortedKeys(fails) {
		n := fails[ip]
		if n < d.cfg.ClusterFailThreshold {
			continue
		}
		out = append(out, domain.Anomaly{
			Type:     domain.TypeBruteForceAttack,
			Severity: domain.SeverityCritical,
			Subject:  domain.Subject{Identifier: ip},
			Message:  fmt.Sprintf("%d failed logins from %s across %d accounts within %s", n, ip, len(victims[ip]), d.cfg.SweepLookback),
			Evidence: map[string]any{
				"detector":        d.Name(),
				"failed_count":    n,
				"target_accounts": len(victims[ip]),
				"window":          d.cfg.SweepLookback.String(),
			},
			DetectedAt: now,
		})
	}
	return out, nil
}

// ipMultiAccountDetector: один адрес активен под многими аккаунтами
type ipMultiAccountDetector struct {
	src audit.Querier
	cfg infra.DetectConfig
}

func (d *ipMultiAccountDetector) Name() string { return "ip_multi_account" }

func (d *ipMultiAccountDetector) Sweep(ctx context.Context, now time.Time) ([]domain.Anomaly, error) {
	events, err := d.src.Query(ctx, audit.Filter{
		ExcludeCategory: audit.CategorySecurity,
		From:            now.Add(-d.cfg.SweepLookback),
	})
	if err != nil {
		return nil, err
	}

	actors := make(map[string]map[string]struct{})
	for _, e := range events {
		if e.IPAddress == "" || e.ActorID == "" {
			continue
		}
		if actors[e.IPAddress] == nil {
			actors[e.IPAddress] = make(map[string]struct{})
		}
		actors[e.IPAddress][e.ActorID] = struct{}{}
	}

	var out []domain.Anomaly
	ips := make([]string, 0, len(actors))
	for ip := range actors {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	for _, ip := range ips {
		n := len(actors[ip])
		if n < d.cfg.IPMultiAccountThreshold {
			continue
		}
		out = append(out, domain.Anomaly{
			Type:     domain.TypeIPMultiAccount,
			Severity: domain.SeverityHigh,
			Subject:  domain.Subject{Identifier: ip},
			Message:  fmt.Sprintf("address %s acted under %d distinct accounts within %s", ip, n, d.cfg.SweepLookback),
			Evidence: map[string]any{
				"detector":      d.Name(),
				"account_count": n,
				"window":        d.cfg.SweepLookback.String(),
			},
			DetectedAt: now,
		})
	}
	return out, nil
}

// activitySpikeDetector: общий объём событий за последний час кратно
// выше предыдущего часа. Без базовой линии (prior == 0) молчит.
type activitySpikeDetector struct {
	src audit.Querier
	cfg infra.DetectConfig
}

func (d *activitySpikeDetector) Name() string { return "activity_spike" }

func (d *activitySpikeDetector) Sweep(ctx context.Context, now time.Time) ([]domain.Anomaly, error) {
	last, err := d.src.Count(ctx, audit.Filter{
		ExcludeCategory: audit.CategorySecurity,
		From:            now.Add(-time.Hour),
	})
	if err != nil {
		return nil, err
	}
	prior, err := d.src.Count(ctx, audit.Filter{
		ExcludeCategory: audit.CategorySecurity,
		From:            now.Add(-2 * time.Hour),
		To:              now.Add(-time.Hour),
	})
	if err != nil {
		return nil, err
	}
	if prior == 0 || float64(last) <= d.cfg.SpikeFactor*float64(prior) {
		return nil, nil
	}
	return []domain.Anomaly{{
		Type:     domain.TypeActivitySpike,
		Severity: domain.SeverityMedium,
		Subject:  domain.Subject{Identifier: "system"},
		Message:  fmt.Sprintf("system activity spike: %d events in last hour vs %d in prior hour", last, prior),
		Evidence: map[string]any{
			"detector":   d.Name(),
			"last_hour":  last,
			"prior_hour": prior,
			"factor":     d.cfg.SpikeFactor,
		},
		DetectedAt: now,
	}}, nil
}

// offHoursDetector: всплеск неаутентификационной активности вне рабочих
// часов. Часы берутся из локального времени событий.
type offHoursDetector struct {
	src audit.Querier
	cfg infra.DetectConfig
}

func (d *offHoursDetector) Name() string { return "off_hours_activity" }

func (d *offHoursDetector) Sweep(ctx context.Context, now time.Time) ([]domain.Anomaly, error) {
	events, err := d.src.Query(ctx, audit.Filter{
		ExcludeCategory: audit.CategorySecurity,
		From:            now.Add(-d.cfg.OffHoursWindow),
	})
	if err != nil {
		return nil, err
	}

	n := 0
	for _, e := range events {
		if strings.HasPrefix(e.Action, "login") {
			continue
		}
		h := e.OccurredAt.Hour()
		if h < d.cfg.BusinessHoursStart || h >= d.cfg.BusinessHoursEnd {
			n++
		}
	}
	if n <= d.cfg.OffHoursThreshold {
		return nil, nil
	}
	return []domain.Anomaly{{
		Type:     domain.TypeOffHoursActivity,
		Severity: domain.SeverityLow,
		Subject:  domain.Subject{Identifier: "system"},
		Message:  fmt.Sprintf("%d events outside business hours within %s", n, d.cfg.OffHoursWindow),
		Evidence: map[string]any{
			"detector":       d.Name(),
			"event_count":    n,
			"business_hours": fmt.Sprintf("%02d:00-%02d:00", d.cfg.BusinessHoursStart, d.cfg.BusinessHoursEnd),
			"window":         d.cfg.OffHoursWindow.String(),
		},
		DetectedAt: now,
	}}, nil
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
