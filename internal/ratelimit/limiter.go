// Package ratelimit — синхронная проверка лимитов на критическом пути
// запроса. Решение принимается за O(1) поверх counter.Store; любые
// внутренние сбои инфраструктуры означают fail-open: легитимный запрос
// никогда не блокируется из-за недоступности счетчиков.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/xela07ax/secwatch/internal/counter"
	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/infra"
	"go.uber.org/zap"
)

// AlertSink — куда уходят нарушения. Реализуется диспетчером алертов.
// Вызовы fire-and-forget: лимитер не ждет и не держит локов через границу.
type AlertSink interface {
	Dispatch(ctx context.Context, a domain.Anomaly)
}

// Bypass — проверки, выводящие идентификатор из-под лимитирования
type Bypass interface {
	IsAllowListed(addr string) bool
	IsLocal(addr string) bool
}

type Limiter struct {
	store  counter.Store
	rules  map[string]domain.RateLimitRule
	bypass Bypass
	alerts AlertSink
	logger *zap.Logger

	escalationThreshold int
	violationWindow     time.Duration
}

func NewLimiter(
	store counter.Store,
	cfg infra.LimitsConfig,
	bypass Bypass,
	alerts AlertSink,
	logger *zap.Logger,
) *Limiter {
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = 5
	}
	if cfg.ViolationWindow <= 0 {
		cfg.ViolationWindow = time.Hour
	}
	return &Limiter{
		store:               store,
		rules:               cfg.Buckets,
		bypass:              bypass,
		alerts:              alerts,
		logger:              logger.With(zap.String("mod", "ratelimit")),
		escalationThreshold: cfg.EscalationThreshold,
		violationWindow:     cfg.ViolationWindow,
	}
}

var bypassDecision = domain.Decision{Allowed: true, Remaining: -1}

// CheckAndIncrement — единственная публичная операция лимитера.
// Инкремент и сравнение с лимитом — одна логическая операция поверх
// атомарного счетчика.
func (l *Limiter) CheckAndIncrement(ctx context.Context, identifier, bucket string, authenticated bool) domain.Decision {
	// 1. Allow-list и локальные адреса не лимитируем вовсе
	if identifier == "" || l.bypass != nil && (l.bypass.IsAllowListed(identifier) || l.bypass.IsLocal(identifier)) {
		return bypassDecision
	}

	// 2. Неизвестный bucket — пробел в конфигурации, всегда fail-open
	rule, ok := l.rules[bucket]
	if !ok {
		l.logger.Warn("unknown rate limit bucket, bypassing", zap.String("bucket", bucket))
		return bypassDecision
	}

	effective := rule.EffectiveLimit(authenticated)
	key := infra.CounterKey(bucket, identifier)

	newCount, err := l.store.Increment(ctx, key, rule.Window)
	if err != nil {
		// StoreUnavailable: fail-open, но с операционной видимостью
		l.logger.Error("counter store unavailable, failing open",
			zap.String("bucket", bucket), zap.Error(err))
		return bypassDecision
	}

	if newCount > int64(effective) {
		retryAfter := l.windowRemaining(ctx, key, rule.Window)
		l.handleExceeded(identifier, bucket, newCount, effective, rule)
		return domain.Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	return domain.Decision{Allowed: true, Remaining: effective - int(newCount)}
}

func (l *Limiter) windowRemaining(ctx context.Context, key string, window time.Duration) time.Duration {
	left, err := l.store.WindowRemaining(ctx, key)
	if err != nil || left <= 0 {
		// Консервативный ответ: не дольше самого окна
		return window
	}
	return left
}

// handleExceeded — реакция на превышение лимита. Полностью вне Hot Path:
// уведомление и эскалация уходят в фоне, отказ вызывающему уже отдан.
func (l *Limiter) handleExceeded(identifier, bucket string, count int64, limit int, rule domain.RateLimitRule) {
	go func() {
		// Запрос уже завершен — живем на отвязанном контексте
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		l.alerts.Dispatch(ctx, domain.Anomaly{
			Type:     domain.TypeRateLimitExceeded,
			Severity: domain.SeverityMedium,
			Message:  fmt.Sprintf("rate limit exceeded for bucket %q", bucket),
			Subject:  subjectFor(identifier),
			Evidence: map[string]interface{}{
				"bucket": bucket,
				"count":  count,
				"limit":  limit,
				"window": rule.Window.String(),
			},
			DetectedAt: time.Now(),
		})

		// ViolationTracker — единственный вход в решение об эскалации.
		// Счетчики bucket'ов сюда не подмешиваем, иначе одно и то же
		// превышение посчитается дважды.
		violations, err := l.store.Increment(ctx, infra.ViolationKey(identifier), l.violationWindow)
		if err != nil {
			l.logger.Error("violation tracker unavailable", zap.Error(err))
			return
		}

		if violations == int64(l.escalationThreshold) {
			// Ровно на пороге: один critical-алерт на окно нарушений.
			// Решение о блокировке адреса принимает диспетчер — у него
			// единая точка аудита и дедупликации.
			l.alerts.Dispatch(ctx, domain.Anomaly{
				Type:     domain.TypeBruteForceAttack,
				Severity: domain.SeverityCritical,
				Message:  fmt.Sprintf("%d rate limit violations within %v", violations, l.violationWindow),
				Subject:  subjectFor(identifier),
				Evidence: map[string]interface{}{
					"violations":  violations,
					"last_bucket": bucket,
					"window":      l.violationWindow.String(),
				},
				DetectedAt: time.Now(),
			})
		}
	}()
}

// subjectFor различает сетевой адрес и ID пользователя
func subjectFor(identifier string) domain.Subject {
	if net.ParseIP(identifier) != nil {
		return domain.Subject{Identifier: identifier}
	}
	return domain.Subject{ActorID: identifier, Identifier: identifier}
}
