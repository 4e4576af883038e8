// Package alert — единая точка приема аномалий от лимитера и детекторов:
// дедупликация, персист, маршрутизация уведомлений по серьезности и
// автоматические ответные меры.
package alert

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/secwatch/internal/audit"
	"github.com/xela07ax/secwatch/internal/counter"
	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/infra"
	"github.com/xela07ax/secwatch/internal/notify"
	"go.uber.org/zap"
)

// Repository — персистентное хранилище алертов
type Repository interface {
	Insert(ctx context.Context, a *domain.SecurityAlert) error
	// CountRecent — алерты данного типа по субъекту с указанного момента,
	// для порогов ответных мер
	CountRecent(ctx context.Context, alertType, subjectKey string, since time.Time) (int64, error)
}

// Blocker — блокировка сетевого адреса
type Blocker interface {
	Block(ctx context.Context, addr, reason string, duration time.Duration) error
}

// AccountLocker — блокировка учетной записи во внешнем справочнике
type AccountLocker interface {
	LockActor(ctx context.Context, actorID, reason string) error
}

// Auditor — асинхронная запись событий аудита
type Auditor interface {
	Log(e audit.AuditEvent)
}

// Dispatcher принимает аномалии из любого числа горутин. Сбой любого
// шага (персист, уведомление, ответная мера) логируется и не мешает
// остальным шагам: потеря уведомления хуже потери записи, но ни одна
// из потерь не должна каскадировать.
type Dispatcher struct {
	dedup   counter.Store
	repo    Repository
	auditor Auditor
	out     notify.Transport
	blocker Blocker
	locker  AccountLocker
	cfg     infra.AlertConfig
	logger  *zap.Logger

	// OnDispatched вызывается для каждого алерта, прошедшего дедупликацию
	// (метрики, трассировка). Выставляется до первого Dispatch.
	OnDispatched func(a domain.SecurityAlert)

	// now — хук для тестов
	now func() time.Time
}

func NewDispatcher(
	dedup counter.Store,
	repo Repository,
	auditor Auditor,
	out notify.Transport,
	blocker Blocker,
	locker AccountLocker,
	cfg infra.AlertConfig,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		dedup:   dedup,
		repo:    repo,
		auditor: auditor,
		out:     out,
		blocker: blocker,
		locker:  locker,
		cfg:     cfg,
		logger:  logger.With(zap.String("mod", "alert")),
		now:     time.Now,
	}
}

// Dispatch обрабатывает одну аномалию. Повтор той же пары (тип, субъект)
// внутри окна дедупликации молча схлопывается — ни записи, ни уведомления.
func (d *Dispatcher) Dispatch(ctx context.Context, a domain.Anomaly) {
	subject := a.Subject.Key()
	log := d.logger.With(zap.String("type", a.Type), zap.String("subject", subject))

	n, err := d.dedup.Increment(ctx, infra.DedupKey(a.Type, subject), d.cfg.DedupWindow)
	if err != nil {
		// Хранилище дедупликации недоступно: лучше дубль, чем потеря
		log.Warn("dedup store unavailable, dispatching anyway", zap.Error(err))
	} else if n > 1 {
		log.Debug("duplicate alert suppressed", zap.Int64("seen", n))
		return
	}

	alert := domain.SecurityAlert{
		ID:         uuid.New().String(),
		Type:       a.Type,
		Message:    a.Message,
		Evidence:   a.Evidence,
		Severity:   a.Severity,
		Subject:    a.Subject,
		Status:     domain.AlertStatusActive,
		DetectedAt: a.DetectedAt,
		CreatedAt:  d.now(),
	}

	if d.OnDispatched != nil {
		d.OnDispatched(alert)
	}

	if err := d.repo.Insert(ctx, &alert); err != nil {
		log.Error("alert persist failed", zap.Error(err))
	}

	d.selfAudit(alert)
	d.notifyFor(alert)
	d.respond(ctx, alert, log)
}

// selfAudit — след алерта в журнале. Категория security исключена из
// всех детекторов, поэтому петли детекции здесь не возникает.
func (d *Dispatcher) selfAudit(alert domain.SecurityAlert) {
	if d.auditor == nil {
		return
	}
	details := map[string]interface{}{
		"alert_id": alert.ID,
		"message":  alert.Message,
	}
	e := audit.AuditEvent{
		ActorID:  alert.Subject.ActorID,
		Action:   "security_alert." + alert.Type,
		Category: audit.CategorySecurity,
		Severity: string(alert.Severity),
		Details:  details,
	}
	if net.ParseIP(alert.Subject.Identifier) != nil {
		e.IPAddress = alert.Subject.Identifier
	}
	d.auditor.Log(e)
}

// notifyFor — маршрутизация по серьезности. Уведомления уходят в фоне:
// канал доставки обернут в свой rate limit, breaker и retry, ждать его
// на пути детекции нельзя.
func (d *Dispatcher) notifyFor(alert domain.SecurityAlert) {
	if d.out == nil {
		return
	}

	type delivery struct {
		to      notify.Recipient
		urgency notify.Urgency
	}
	var plan []delivery

	switch alert.Severity {
	case domain.SeverityCritical:
		plan = append(plan, delivery{notify.AdminGroup, notify.UrgencyImmediate})
		if alert.Subject.ActorID != "" {
			plan = append(plan, delivery{notify.User(alert.Subject.ActorID), notify.UrgencyNormal})
		}
	case domain.SeverityHigh:
		plan = append(plan, delivery{notify.AdminGroup, notify.UrgencyNormal})
		if alert.Subject.ActorID != "" {
			plan = append(plan, delivery{notify.User(alert.Subject.ActorID), notify.UrgencyNormal})
		}
	case domain.SeverityMedium:
		plan = append(plan, delivery{notify.AdminGroup, notify.UrgencyDigest})
	default:
		// low: только журнал
		return
	}

	for _, p := range plan {
		p := p
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := d.out.Notify(ctx, p.to, alert, p.urgency); err != nil {
				d.logger.Error("alert notification failed",
					zap.String("type", alert.Type),
					zap.String("recipient", p.to.String()),
					zap.Error(err))
			}
		}()
	}
}

// respond — автоматические ответные меры
func (d *Dispatcher) respond(ctx context.Context, alert domain.SecurityAlert, log *zap.Logger) {
	// Критичные атаки с сетевым субъектом — автоблок адреса
	if d.blocker != nil && alert.Severity == domain.SeverityCritical &&
		(alert.Type == domain.TypeBruteForceAttack || alert.Type == domain.TypeSuspiciousIP) &&
		net.ParseIP(alert.Subject.Identifier) != nil {
		reason := fmt.Sprintf("auto: %s", alert.Type)
		if err := d.blocker.Block(ctx, alert.Subject.Identifier, reason, d.cfg.AutoBlockDuration); err != nil {
			log.Error("auto-block failed", zap.Error(err))
		} else {
			log.Warn("address auto-blocked",
				zap.String("addr", alert.Subject.Identifier),
				zap.Duration("duration", d.cfg.AutoBlockDuration))
		}
	}

	// Повторные серии неудачных входов — блокировка учетной записи
	if d.locker != nil && alert.Type == domain.TypeFailedLogins && alert.Subject.ActorID != "" {
		since := d.now().Add(-d.cfg.LockoutWindow)
		n, err := d.repo.CountRecent(ctx, alert.Type, alert.Subject.Key(), since)
		if err != nil {
			log.Error("lockout counter query failed", zap.Error(err))
			return
		}
		if n < int64(d.cfg.LockoutThreshold) {
			return
		}
		reason := fmt.Sprintf("%d failed-login alerts within %s", n, d.cfg.LockoutWindow)
		if err := d.locker.LockActor(ctx, alert.Subject.ActorID, reason); err != nil {
			log.Error("account lockout failed", zap.Error(err))
		} else {
			log.Warn("account locked", zap.String("actor_id", alert.Subject.ActorID), zap.String("reason", reason))
		}
	}
}
