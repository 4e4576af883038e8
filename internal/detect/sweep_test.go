package detect

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/secwatch/internal/audit"
	"github.com/xela07ax/secwatch/internal/domain"
	"go.uber.org/zap"
)

type collectSink struct {
	mu  sync.Mutex
	got []domain.Anomaly
}

func (s *collectSink) Dispatch(_ context.Context, a domain.Anomaly) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, a)
}

func (s *collectSink) byType(t string) []domain.Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Anomaly
	for _, a := range s.got {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// Горизонтальный brute force: один адрес, 12 аккаунтов по одной неудаче.
// Реактивные детекторы на актора молчат, обход должен увидеть и кластер
// атак, и мультиаккаунтный адрес.
func TestSweep_HorizontalBruteForce(t *testing.T) {
	src := audit.NewMemorySource()
	for i := 0; i < 12; i++ {
		record(t, src, audit.AuditEvent{
			ActorID:    fmt.Sprintf("user-%d", i),
			Action:     audit.ActionLoginFailure,
			Category:   audit.CategoryAuth,
			IPAddress:  "198.51.100.66",
			OccurredAt: testBase.Add(-time.Duration(i) * time.Minute),
		})
	}

	e := NewEngine(src, &fakeIdentity{}, nopSink{}, testDetectConfig(), zap.NewNop())
	anomalies := e.RunSweep(context.Background(), testBase)

	var brute, multi []domain.Anomaly
	for _, a := range anomalies {
		switch a.Type {
		case domain.TypeBruteForceAttack:
			brute = append(brute, a)
		case domain.TypeIPMultiAccount:
			multi = append(multi, a)
		}
	}
	if len(brute) != 1 {
		t.Fatalf("want 1 brute force anomaly, got %d", len(brute))
	}
	if brute[0].Subject.Identifier != "198.51.100.66" || brute[0].Severity != domain.SeverityCritical {
		t.Fatalf("unexpected brute force anomaly: %+v", brute[0])
	}
	if brute[0].Evidence["target_accounts"] != 12 {
		t.Fatalf("unexpected target accounts: %v", brute[0].Evidence["target_accounts"])
	}
	if len(multi) != 1 {
		t.Fatalf("want 1 multi-account anomaly, got %d", len(multi))
	}
}

func TestBruteForceCluster_BelowThresholdSilent(t *testing.T) {
	src := audit.NewMemorySource()
	for i := 0; i < 9; i++ {
		record(t, src, audit.AuditEvent{
			ActorID:    "user-1",
			Action:     audit.ActionLoginFailure,
			Category:   audit.CategoryAuth,
			IPAddress:  "198.51.100.66",
			OccurredAt: testBase.Add(-time.Duration(i) * time.Minute),
		})
	}
	d := &bruteForceClusterDetector{src: src, cfg: testDetectConfig()}
	got, err := d.Sweep(context.Background(), testBase)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("9 failures must stay below threshold 10, got %+v", got)
	}
}

func TestActivitySpikeDetector(t *testing.T) {
	src := audit.NewMemorySource()
	d := &activitySpikeDetector{src: src, cfg: testDetectConfig()}
	ctx := context.Background()

	// Без базовой линии всплеска нет, каким бы ни был последний час
	for i := 0; i < 40; i++ {
		record(t, src, audit.AuditEvent{
			ActorID:    "user-1",
			Action:     "item.read",
			OccurredAt: testBase.Add(-time.Duration(i) * time.Second),
		})
	}
	got, err := d.Sweep(ctx, testBase)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("no baseline, must be silent, got %+v", got)
	}

	// 10 событий в предыдущем часе: 40 > 3.0 * 10 — всплеск
	for i := 0; i < 10; i++ {
		record(t, src, audit.AuditEvent{
			ActorID:    "user-1",
			Action:     "item.read",
			OccurredAt: testBase.Add(-90 * time.Minute).Add(time.Duration(i) * time.Second),
		})
	}
	got, err = d.Sweep(ctx, testBase)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(got) != 1 || got[0].Type != domain.TypeActivitySpike {
		t.Fatalf("want spike anomaly, got %+v", got)
	}
}

func TestOffHoursDetector(t *testing.T) {
	src := audit.NewMemorySource()
	d := &offHoursDetector{src: src, cfg: testDetectConfig()}
	night := time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC)

	// Логины ночью не считаются, остальное — считается
	for i := 0; i < 6; i++ {
		record(t, src, audit.AuditEvent{
			ActorID:    "user-1",
			Action:     audit.ActionLoginSuccess,
			Category:   audit.CategoryAuth,
			OccurredAt: night.Add(-time.Duration(i) * time.Minute),
		})
	}
	for i := 0; i < 11; i++ {
		record(t, src, audit.AuditEvent{
			ActorID:    "user-1",
			Action:     "export.run",
			OccurredAt: night.Add(-time.Duration(i) * time.Minute),
		})
	}

	got, err := d.Sweep(context.Background(), night)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(got) != 1 || got[0].Type != domain.TypeOffHoursActivity {
		t.Fatalf("want off-hours anomaly, got %+v", got)
	}
	if got[0].Evidence["event_count"] != 11 {
		t.Fatalf("login events leaked into the count: %v", got[0].Evidence["event_count"])
	}
}

func TestOffHoursDetector_BusinessHoursSilent(t *testing.T) {
	src := audit.NewMemorySource()
	d := &offHoursDetector{src: src, cfg: testDetectConfig()}
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		record(t, src, audit.AuditEvent{
			ActorID:    "user-1",
			Action:     "export.run",
			OccurredAt: noon.Add(-time.Duration(i) * time.Minute),
		})
	}
	got, err := d.Sweep(context.Background(), noon)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("daytime bulk activity is not off-hours, got %+v", got)
	}
}

func TestSweeper_DispatchesAnomalies(t *testing.T) {
	src := audit.NewMemorySource()
	for i := 0; i < 12; i++ {
		record(t, src, audit.AuditEvent{
			ActorID:    fmt.Sprintf("user-%d", i),
			Action:     audit.ActionLoginFailure,
			Category:   audit.CategoryAuth,
			IPAddress:  "198.51.100.66",
			OccurredAt: time.Now().Add(-time.Duration(i) * time.Minute),
		})
	}

	sink := &collectSink{}
	e := NewEngine(src, &fakeIdentity{}, sink, testDetectConfig(), zap.NewNop())
	s := NewSweeper(e, sink, 10*time.Millisecond, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.byType(domain.TypeBruteForceAttack)) > 0 {
			cancel()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	t.Fatal("sweeper never dispatched the brute force anomaly")
}
