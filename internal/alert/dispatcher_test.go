package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/secwatch/internal/audit"
	"github.com/xela07ax/secwatch/internal/counter"
	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/infra"
	"github.com/xela07ax/secwatch/internal/notify"
	"go.uber.org/zap"
)

type fakeRepo struct {
	mu        sync.Mutex
	inserted  []domain.SecurityAlert
	insertErr error
	recent    int64
}

func (r *fakeRepo) Insert(_ context.Context, a *domain.SecurityAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	r.inserted = append(r.inserted, *a)
	return nil
}

func (r *fakeRepo) CountRecent(context.Context, string, string, time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recent, nil
}

func (r *fakeRepo) insertedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inserted)
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []struct {
		to      notify.Recipient
		urgency notify.Urgency
	}
	err error
}

func (t *fakeTransport) Notify(_ context.Context, to notify.Recipient, _ domain.SecurityAlert, urgency notify.Urgency) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, struct {
		to      notify.Recipient
		urgency notify.Urgency
	}{to, urgency})
	return t.err
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type fakeBlocker struct {
	mu      sync.Mutex
	blocked []string
}

func (b *fakeBlocker) Block(_ context.Context, addr, _ string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked = append(b.blocked, addr)
	return nil
}

type fakeLocker struct {
	mu     sync.Mutex
	locked []string
}

func (l *fakeLocker) LockActor(_ context.Context, actorID, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = append(l.locked, actorID)
	return nil
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []audit.AuditEvent
}

func (a *fakeAuditor) Log(e audit.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

type testHarness struct {
	d       *Dispatcher
	repo    *fakeRepo
	out     *fakeTransport
	blocker *fakeBlocker
	locker  *fakeLocker
	auditor *fakeAuditor
}

func newTestDispatcher(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		repo:    &fakeRepo{},
		out:     &fakeTransport{},
		blocker: &fakeBlocker{},
		locker:  &fakeLocker{},
		auditor: &fakeAuditor{},
	}
	cfg := infra.AlertConfig{
		DedupWindow:       15 * time.Minute,
		AutoBlockDuration: 2 * time.Hour,
		LockoutThreshold:  3,
		LockoutWindow:     time.Hour,
	}
	h.d = NewDispatcher(counter.NewMemoryStore(), h.repo, h.auditor, h.out, h.blocker, h.locker, cfg, zap.NewNop())
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func anomaly(typ string, sev domain.Severity, subject domain.Subject) domain.Anomaly {
	return domain.Anomaly{
		Type:       typ,
		Message:    "test anomaly",
		Severity:   sev,
		Subject:    subject,
		DetectedAt: time.Now(),
	}
}

func TestDispatcher_DedupSuppressesRepeat(t *testing.T) {
	h := newTestDispatcher(t)
	ctx := context.Background()
	a := anomaly(domain.TypeRapidActions, domain.SeverityMedium, domain.Subject{ActorID: "user-1"})

	h.d.Dispatch(ctx, a)
	h.d.Dispatch(ctx, a)
	h.d.Dispatch(ctx, a)

	if got := h.repo.insertedCount(); got != 1 {
		t.Fatalf("want exactly 1 persisted alert, got %d", got)
	}
	waitFor(t, "digest notification", func() bool { return h.out.count() == 1 })
}

func TestDispatcher_DifferentSubjectsNotDeduped(t *testing.T) {
	h := newTestDispatcher(t)
	ctx := context.Background()

	h.d.Dispatch(ctx, anomaly(domain.TypeRapidActions, domain.SeverityMedium, domain.Subject{ActorID: "user-1"}))
	h.d.Dispatch(ctx, anomaly(domain.TypeRapidActions, domain.SeverityMedium, domain.Subject{ActorID: "user-2"}))

	if got := h.repo.insertedCount(); got != 2 {
		t.Fatalf("different subjects must both persist, got %d", got)
	}
}

func TestDispatcher_SeverityRouting(t *testing.T) {
	t.Run("critical goes to admins immediately and to the actor", func(t *testing.T) {
		h := newTestDispatcher(t)
		h.d.Dispatch(context.Background(),
			anomaly(domain.TypePrivilegeEscalation, domain.SeverityCritical, domain.Subject{ActorID: "user-1"}))

		waitFor(t, "two deliveries", func() bool { return h.out.count() == 2 })
		h.out.mu.Lock()
		defer h.out.mu.Unlock()
		var adminImmediate, actorNormal bool
		for _, s := range h.out.sent {
			if s.to == notify.AdminGroup && s.urgency == notify.UrgencyImmediate {
				adminImmediate = true
			}
			if s.to == notify.User("user-1") && s.urgency == notify.UrgencyNormal {
				actorNormal = true
			}
		}
		if !adminImmediate || !actorNormal {
			t.Fatalf("unexpected deliveries: %+v", h.out.sent)
		}
	})

	t.Run("low is journal only", func(t *testing.T) {
		h := newTestDispatcher(t)
		h.d.Dispatch(context.Background(),
			anomaly(domain.TypeUnusualLoginTime, domain.SeverityLow, domain.Subject{ActorID: "user-1"}))

		if got := h.repo.insertedCount(); got != 1 {
			t.Fatalf("low alert must still persist, got %d", got)
		}
		time.Sleep(50 * time.Millisecond)
		if h.out.count() != 0 {
			t.Fatalf("low alert must not notify, got %d deliveries", h.out.count())
		}
	})
}

func TestDispatcher_AutoBlocksCriticalNetworkAttacks(t *testing.T) {
	h := newTestDispatcher(t)
	ctx := context.Background()

	h.d.Dispatch(ctx, anomaly(domain.TypeBruteForceAttack, domain.SeverityCritical, domain.Subject{Identifier: "203.0.113.7"}))
	h.d.Dispatch(ctx, anomaly(domain.TypeSuspiciousIP, domain.SeverityCritical, domain.Subject{Identifier: "198.51.100.8"}))
	// Субъект-пользователь не является адресом, блокировать нечего
	h.d.Dispatch(ctx, anomaly(domain.TypeBruteForceAttack, domain.SeverityCritical, domain.Subject{ActorID: "user-1"}))
	// Некритичный алерт мер не вызывает
	h.d.Dispatch(ctx, anomaly(domain.TypeRateLimitExceeded, domain.SeverityMedium, domain.Subject{Identifier: "192.0.2.1"}))

	h.blocker.mu.Lock()
	defer h.blocker.mu.Unlock()
	if len(h.blocker.blocked) != 2 {
		t.Fatalf("want 2 auto-blocks, got %v", h.blocker.blocked)
	}
	if h.blocker.blocked[0] != "203.0.113.7" || h.blocker.blocked[1] != "198.51.100.8" {
		t.Fatalf("unexpected blocked addresses: %v", h.blocker.blocked)
	}
}

func TestDispatcher_LockoutAfterRepeatedFailedLoginAlerts(t *testing.T) {
	h := newTestDispatcher(t)
	ctx := context.Background()

	h.repo.recent = 2
	h.d.Dispatch(ctx, anomaly(domain.TypeFailedLogins, domain.SeverityHigh, domain.Subject{ActorID: "user-1"}))
	h.locker.mu.Lock()
	if len(h.locker.locked) != 0 {
		h.locker.mu.Unlock()
		t.Fatal("lockout below threshold")
	}
	h.locker.mu.Unlock()

	h.repo.recent = 3
	h.d.Dispatch(ctx, anomaly(domain.TypeFailedLogins, domain.SeverityHigh, domain.Subject{ActorID: "user-2"}))
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	if len(h.locker.locked) != 1 || h.locker.locked[0] != "user-2" {
		t.Fatalf("want user-2 locked, got %v", h.locker.locked)
	}
}

func TestDispatcher_SelfAuditIsSecurityCategory(t *testing.T) {
	h := newTestDispatcher(t)
	h.d.Dispatch(context.Background(),
		anomaly(domain.TypeSuspiciousIP, domain.SeverityCritical, domain.Subject{Identifier: "203.0.113.7"}))

	h.auditor.mu.Lock()
	defer h.auditor.mu.Unlock()
	if len(h.auditor.events) != 1 {
		t.Fatalf("want 1 audit event, got %d", len(h.auditor.events))
	}
	e := h.auditor.events[0]
	if e.Category != audit.CategorySecurity {
		t.Fatalf("self-audit must use the security category, got %q", e.Category)
	}
	if e.Action != "security_alert.suspicious_ip" {
		t.Fatalf("unexpected action %q", e.Action)
	}
	if e.IPAddress != "203.0.113.7" {
		t.Fatalf("network subject must land in ip_address, got %q", e.IPAddress)
	}
	if !e.IsEngineNoise() {
		t.Fatal("self-audit event must be classified as engine noise")
	}
}

func TestDispatcher_PersistFailureDoesNotStopPipeline(t *testing.T) {
	h := newTestDispatcher(t)
	h.repo.insertErr = errors.New("db down")

	h.d.Dispatch(context.Background(),
		anomaly(domain.TypeSuspiciousIP, domain.SeverityCritical, domain.Subject{Identifier: "203.0.113.7"}))

	// Несмотря на отказ персиста: аудит, уведомление и автоблок состоялись
	h.auditor.mu.Lock()
	audited := len(h.auditor.events)
	h.auditor.mu.Unlock()
	if audited != 1 {
		t.Fatalf("want audit despite persist failure, got %d", audited)
	}
	waitFor(t, "admin notification", func() bool { return h.out.count() >= 1 })
	h.blocker.mu.Lock()
	defer h.blocker.mu.Unlock()
	if len(h.blocker.blocked) != 1 {
		t.Fatalf("want auto-block despite persist failure, got %v", h.blocker.blocked)
	}
}

func TestDispatcher_NotifyFailureIsTolerated(t *testing.T) {
	h := newTestDispatcher(t)
	h.out.err = errors.New("smtp down")

	h.d.Dispatch(context.Background(),
		anomaly(domain.TypeConcurrentSessions, domain.SeverityHigh, domain.Subject{ActorID: "user-1"}))

	if got := h.repo.insertedCount(); got != 1 {
		t.Fatalf("alert must persist even when notify fails, got %d", got)
	}
	waitFor(t, "failed deliveries attempted", func() bool { return h.out.count() == 2 })
}
