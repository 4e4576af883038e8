package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/secwatch/internal/domain"
	"golang.org/x/time/rate"
)

// ReliabilityTransport оборачивает реальный транспорт в связку
// Rate Limiter -> Circuit Breaker -> Retries. Защищает внешний канал
// доставки от шторма алертов и движок — от зависшего канала.
type ReliabilityTransport struct {
	next    Transport
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	// OnStateChange сообщает метрикам состояние предохранителя (0/1)
	OnStateChange func(open bool)
}

func NewReliabilityTransport(next Transport) *ReliabilityTransport {
	rt := &ReliabilityTransport{next: next}

	rt.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notify-transport",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if rt.OnStateChange != nil {
				rt.OnStateChange(to == gobreaker.StateOpen)
			}
		},
	})

	// Потолок исходящих уведомлений: даже при шторме алертов внешний
	// канал получает не больше 10 rps (burst 20)
	rt.limiter = rate.NewLimiter(rate.Limit(10), 20)

	return rt
}

func (t *ReliabilityTransport) Notify(ctx context.Context, to Recipient, alert domain.SecurityAlert, urgency Urgency) error {
	// 1. Rate Limiter
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify rate limit: %w", err)
	}

	// 2. Circuit Breaker
	_, err := t.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если транспорт вернул ThrottleError — уважаем его Retry-After
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// Иначе стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return t.next.Notify(tCtx, to, alert, urgency)
		})

		return nil, retryErr
	})

	return err
}
