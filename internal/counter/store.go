// Package counter реализует TTL-счетчики с фиксированным окном —
// фундамент rate limiter'а и трекера нарушений.
//
// Семантика окна намеренно фиксированная, а не скользящая: первый
// инкремент ключа создает запись с expires_at = now + window, последующие
// инкременты срок НЕ продлевают. На границе окон возможен кратковременный
// перепуск (burst до 2x номинала), зато память ограничена и все операции O(1).
package counter

import (
	"context"
	"time"
)

// Store — атомарные счетчики по ключам. Все операции безопасны при
// конкурентных вызовах на одном ключе: два параллельных инкремента
// дают +2, потерянных обновлений нет.
type Store interface {
	// Increment увеличивает счетчик и возвращает новое значение.
	// Для нового ключа заводит запись с TTL = window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	// Peek возвращает текущее значение без мутаций и без продления TTL.
	// Протухший ключ дает 0.
	Peek(ctx context.Context, key string) (int64, error)

	// WindowRemaining — сколько осталось до конца окна ключа.
	// 0, если ключа нет или окно истекло.
	WindowRemaining(ctx context.Context, key string) (time.Duration, error)

	// Reset удаляет ключ.
	Reset(ctx context.Context, key string) error
}
