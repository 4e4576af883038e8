package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xela07ax/secwatch/internal/audit"
	"github.com/xela07ax/secwatch/internal/blocklist"
	"github.com/xela07ax/secwatch/internal/counter"
	"github.com/xela07ax/secwatch/internal/detect"
	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/infra"
	"github.com/xela07ax/secwatch/internal/ratelimit"
	"go.uber.org/zap"
)

type nopSink struct{}

func (nopSink) Dispatch(context.Context, domain.Anomaly) {}

type nopIdentity struct{}

func (nopIdentity) ActorRole(context.Context, string) (string, error)         { return "", nil }
func (nopIdentity) ActorOrganization(context.Context, string) (string, error) { return "", nil }

type nopBypass struct{}

func (nopBypass) IsAllowListed(string) bool { return false }
func (nopBypass) IsLocal(string) bool       { return false }

func newTestCore(t *testing.T) (*Core, *audit.MemorySource) {
	t.Helper()
	logger := zap.NewNop()
	src := audit.NewMemorySource()

	limits := infra.LimitsConfig{
		Buckets: map[string]domain.RateLimitRule{
			ratelimit.BucketLogin:   {Limit: 3, Window: 5 * time.Minute, AuthMultiplier: 1},
			ratelimit.BucketGeneral: {Limit: 100, Window: time.Minute, AuthMultiplier: 2},
		},
		EscalationThreshold: 5,
		ViolationWindow:     time.Hour,
	}
	limiter := ratelimit.NewLimiter(counter.NewMemoryStore(), limits, nopBypass{}, nopSink{}, logger)

	det := detect.NewEngine(src, nopIdentity{}, nopSink{}, infra.DetectConfig{
		ReactiveWindow:          15 * time.Minute,
		FailedLoginThreshold:    100,
		SuspiciousIPThreshold:   100,
		RapidActionsThreshold:   1000,
		ConcurrentSessionLimit:  100,
		BulkDataAccessThreshold: 1000,
		TypicalHoursMinLogins:   100,
	}, logger)

	return NewCore(limiter, src, det, NewMetrics(nil), logger), src
}

func TestCore_AllowedActionIsRecorded(t *testing.T) {
	c, src := newTestCore(t)
	ctx := context.Background()

	res, err := c.ProcessAction(ctx, ActionRequest{
		ActorID:       "user-1",
		Action:        "document.read",
		ResourceType:  "document",
		IPAddress:     "203.0.113.4",
		Authenticated: true,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Decision.Allowed || res.EventID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	events, err := src.Query(ctx, audit.Filter{ActorID: "user-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("want 1 recorded event, got %d", len(events))
	}
	if events[0].Category != audit.CategoryAPI || events[0].IPAddress != "203.0.113.4" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestCore_DeniedActionIsNotRecorded(t *testing.T) {
	c, src := newTestCore(t)
	ctx := context.Background()

	var last ActionResult
	for i := 0; i < 4; i++ {
		var err error
		last, err = c.ProcessAction(ctx, ActionRequest{
			ActorID:   "user-1",
			Action:    "login_failure",
			IPAddress: "203.0.113.4",
		})
		if err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if last.Decision.Allowed {
		t.Fatal("4th login must be rate limited at limit 3")
	}

	n, err := src.Count(ctx, audit.Filter{ActorID: "user-1"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("denied action must not reach the journal, got %d events", n)
	}
}

func TestCore_HTTPContract(t *testing.T) {
	c, _ := newTestCore(t)

	do := func(body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/v1/actions", strings.NewReader(body))
		r.RemoteAddr = "203.0.113.4:54321"
		w := httptest.NewRecorder()
		c.HandleHTTPRequest(w, r)
		return w
	}

	for i := 0; i < 3; i++ {
		if w := do(`{"action":"login_failure","actor_id":"user-1"}`); w.Code != http.StatusAccepted {
			t.Fatalf("attempt %d: want 202, got %d", i+1, w.Code)
		}
	}
	w := do(`{"action":"login_failure","actor_id":"user-1"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}

	if w := do(`{"actor_id":"user-1"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing action: want 400, got %d", w.Code)
	}
	if w := do(`not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("garbage body: want 400, got %d", w.Code)
	}
}

func TestBlockListMiddleware(t *testing.T) {
	bl := blocklist.NewManager(nil, nil, zap.NewNop())
	if err := bl.Block(context.Background(), "203.0.113.9", "test", time.Hour); err != nil {
		t.Fatalf("block: %v", err)
	}

	handler := BlockListMiddleware(bl, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:1000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("blocked address: want 403, got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.1:1000"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("clean address: want 200, got %d", w.Code)
	}
}
