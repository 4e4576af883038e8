// Package notify абстрагирует доставку уведомлений о событиях безопасности.
// Конкретные транспорты (mail/SMS/push) живут за интерфейсом Transport;
// движок потребляет его fire-and-forget и никогда не ждет доставки.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/secwatch/internal/domain"
	"go.uber.org/zap"
)

// Urgency — с какой срочностью доставлять уведомление
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate" // on-call, критичные инциденты
	UrgencyNormal    Urgency = "normal"
	UrgencyDigest    Urgency = "digest" // попадет в периодическую сводку
)

// Recipient — группа или конкретный пользователь
type Recipient struct {
	Group  string `json:"group,omitempty"` // например "security-admins"
	UserID string `json:"user_id,omitempty"`
}

// AdminGroup — дежурная группа ИБ
var AdminGroup = Recipient{Group: "security-admins"}

// User — адресат-пользователь
func User(id string) Recipient {
	return Recipient{UserID: id}
}

func (r Recipient) String() string {
	if r.Group != "" {
		return "group:" + r.Group
	}
	return "user:" + r.UserID
}

// Transport — внешний коллаборатор доставки. Возвращаемая ошибка
// используется только для логирования и retry, но не откатывает алерт.
type Transport interface {
	Notify(ctx context.Context, to Recipient, alert domain.SecurityAlert, urgency Urgency) error
}

// ThrottleError — транспорт сообщил, что его душат (считал Retry-After).
// ReliabilityTransport использует RetryAfter для умного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

// ZapTransport — транспорт-заглушка: пишет доставки в структурный лог.
// Рабочий вариант для dev и приемлемый fallback, пока не подключен
// реальный канал доставки.
type ZapTransport struct {
	logger *zap.Logger
}

func NewZapTransport(logger *zap.Logger) *ZapTransport {
	return &ZapTransport{logger: logger.With(zap.String("mod", "notify"))}
}

func (t *ZapTransport) Notify(ctx context.Context, to Recipient, alert domain.SecurityAlert, urgency Urgency) error {
	t.logger.Info("security notification",
		zap.String("to", to.String()),
		zap.String("urgency", string(urgency)),
		zap.String("alert_id", alert.ID),
		zap.String("type", alert.Type),
		zap.String("severity", string(alert.Severity)),
		zap.String("message", alert.Message),
	)
	return nil
}
