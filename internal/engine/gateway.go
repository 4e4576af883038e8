package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/secwatch/internal/audit"
	"github.com/xela07ax/secwatch/internal/detect"
	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/ratelimit"
	"go.uber.org/zap"
)

// ActionRequest — одно действие пользователя/клиента, которое бизнес-логика
// проводит через движок перед выполнением.
type ActionRequest struct {
	ActorID        string                 `json:"actor_id,omitempty"`
	Action         string                 `json:"action"`
	ResourceType   string                 `json:"resource_type,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`

	// Заполняются транспортом, не клиентом
	IPAddress     string `json:"-"`
	TraceID       string `json:"-"`
	Authenticated bool   `json:"-"`
}

// ActionResult — вердикт движка по действию
type ActionResult struct {
	Decision domain.Decision
	EventID  string
}

// Core — конвейер обработки действия: лимит, журнал, реактивная детекция.
// Детекция advisory: она никогда не блокирует само действие.
type Core struct {
	limiter  *ratelimit.Limiter
	source   audit.Source
	detector *detect.Engine
	metrics  *Metrics
	logger   *zap.Logger
}

func NewCore(limiter *ratelimit.Limiter, source audit.Source, detector *detect.Engine, metrics *Metrics, logger *zap.Logger) *Core {
	return &Core{
		limiter:  limiter,
		source:   source,
		detector: detector,
		metrics:  metrics,
		logger:   logger.With(zap.String("mod", "engine")),
	}
}

// ProcessAction проводит действие через конвейер. Ошибка возвращается
// только при отказе записи в журнал; отказ лимита — это не ошибка,
// а ActionResult с Decision.Allowed == false.
func (c *Core) ProcessAction(ctx context.Context, req ActionRequest) (ActionResult, error) {
	bucket := ratelimit.ClassifyAction(req.Action)
	c.metrics.ActionsTotal.WithLabelValues(bucket).Inc()
	start := time.Now()

	outcome := "allowed"
	defer func() {
		c.metrics.ActionDuration.WithLabelValues(bucket, outcome).Observe(time.Since(start).Seconds())
	}()

	identifier := req.ActorID
	if identifier == "" {
		identifier = req.IPAddress
	}

	decision := c.limiter.CheckAndIncrement(ctx, identifier, bucket, req.Authenticated)
	if !decision.Allowed {
		outcome = "rate_limited"
		c.metrics.RateLimitDenied.WithLabelValues(bucket).Inc()
		return ActionResult{Decision: decision}, nil
	}

	event := audit.AuditEvent{
		TraceID:        req.TraceID,
		ActorID:        req.ActorID,
		Action:         req.Action,
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		OrganizationID: req.OrganizationID,
		IPAddress:      req.IPAddress,
		Category:       categoryFor(req.Action),
		Details:        req.Details,
		OccurredAt:     start,
	}

	// Запись синхронная: реактивные детекторы считают по журналу,
	// событие должно быть видно им к моменту OnEvent
	id, err := c.source.Record(ctx, &event)
	if err != nil {
		outcome = "audit_failed"
		c.logger.Error("audit record failed", zap.String("action", req.Action), zap.Error(err))
		return ActionResult{Decision: decision}, err
	}
	event.ID = id

	c.detector.OnEvent(event)

	return ActionResult{Decision: decision, EventID: id}, nil
}

// categoryFor — грубая классификация действия по глаголу
func categoryFor(action string) audit.Category {
	switch ratelimit.ClassifyAction(action) {
	case ratelimit.BucketLogin, ratelimit.BucketPasswordReset:
		return audit.CategoryAuth
	case ratelimit.BucketDownload, ratelimit.BucketAuditAccess:
		return audit.CategoryDataAccess
	default:
		return audit.CategoryAPI
	}
}

// HandleHTTPRequest — входная точка для бизнес-сервисов: POST с действием,
// ответ 202 либо 429 с Retry-After.
func (c *Core) HandleHTTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.Action == "" {
		http.Error(w, "action is required", http.StatusBadRequest)
		return
	}

	req.IPAddress = ratelimit.ClientAddr(r)
	req.TraceID = extractTraceID(r.Context())
	if uid, ok := r.Context().Value("user_id").(string); ok && uid != "" {
		// Аутентифицированный вызов: субъект из токена важнее тела
		req.ActorID = uid
		req.Authenticated = true
	}

	result, err := c.ProcessAction(r.Context(), req)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !result.Decision.Allowed {
		retry := result.Decision.RetryAfter
		if retry < time.Second {
			retry = time.Second
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":       "rate_limit_exceeded",
			"retry_after": int(retry.Seconds()),
		})
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"event_id":  result.EventID,
		"remaining": result.Decision.Remaining,
	})
}
