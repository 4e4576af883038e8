package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/secwatch/internal/domain"
)

// throttlingTransport всегда отказывает с минимальным Retry-After,
// чтобы бэкофф ретраев не растягивал тест
type throttlingTransport struct {
	mu    sync.Mutex
	calls int
}

func (t *throttlingTransport) Notify(context.Context, Recipient, domain.SecurityAlert, Urgency) error {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return &ThrottleError{RetryAfter: time.Millisecond, Cause: errors.New("channel down")}
}

func TestReliabilityTransport_BreakerOpensAndReportsState(t *testing.T) {
	inner := &throttlingTransport{}
	rt := NewReliabilityTransport(inner)

	var mu sync.Mutex
	var states []bool
	rt.OnStateChange = func(open bool) {
		mu.Lock()
		states = append(states, open)
		mu.Unlock()
	}

	alert := domain.SecurityAlert{ID: "a-1", Type: domain.TypeSuspiciousIP, Severity: domain.SeverityCritical}
	ctx := context.Background()

	// Предохранитель размыкается после серии подряд идущих отказов
	for i := 0; i < 8; i++ {
		if err := rt.Notify(ctx, AdminGroup, alert, UrgencyImmediate); err == nil {
			t.Fatalf("call %d: want delivery error", i+1)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || !states[len(states)-1] {
		t.Fatalf("breaker must report open state, got %v", states)
	}

	inner.mu.Lock()
	calls := inner.calls
	inner.mu.Unlock()
	if calls >= 8*3 {
		t.Fatalf("open breaker must stop hitting the transport, saw %d calls", calls)
	}
}

func TestReliabilityTransport_PassesThroughOnSuccess(t *testing.T) {
	rt := NewReliabilityTransport(&recordingTransport{})

	alert := domain.SecurityAlert{ID: "a-2", Type: domain.TypeRapidActions, Severity: domain.SeverityMedium}
	if err := rt.Notify(context.Background(), User("user-1"), alert, UrgencyNormal); err != nil {
		t.Fatalf("notify: %v", err)
	}
}

type recordingTransport struct{}

func (recordingTransport) Notify(context.Context, Recipient, domain.SecurityAlert, Urgency) error {
	return nil
}
