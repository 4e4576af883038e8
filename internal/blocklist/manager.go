// Package blocklist реализует долгоживущий блок-лист сетевых адресов:
// L1 — локальная RAM-мапа для Hot Path, L2 — TTL-ключи в Redis как
// источник правды, Pub/Sub — трансляция изменений всем инстансам шлюза.
package blocklist

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/secwatch/internal/infra"
	"go.uber.org/zap"
)

type Manager struct {
	mu      sync.RWMutex
	blocked map[string]time.Time // адрес -> момент окончания блокировки
	allow   map[string]struct{}  // allow-list из конфига, иммутабелен после New

	rdb    *redis.Client
	logger *zap.Logger

	// OnCountChange получает размер L1 после каждой мутации (метрики).
	// Выставляется до Init и до первых вызовов Block/Unblock.
	OnCountChange func(n int)
}

func NewManager(rdb *redis.Client, allowList []string, logger *zap.Logger) *Manager {
	allow := make(map[string]struct{}, len(allowList))
	for _, a := range allowList {
		allow[strings.TrimSpace(a)] = struct{}{}
	}
	return &Manager{
		blocked: make(map[string]time.Time),
		allow:   allow,
		rdb:     rdb,
		logger:  logger.With(zap.String("mod", "blocklist")),
	}
}

// Init загружает активные блокировки из Redis при старте сервиса.
// Redis может быть не сконфигурирован (dev) — тогда работаем только с L1.
func (m *Manager) Init(ctx context.Context) error {
	if m.rdb == nil {
		return nil
	}

	iter := m.rdb.Scan(ctx, 0, infra.RedisKeyBlockPrefix+"*", 200).Iterator()
	loaded := 0
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := m.rdb.PTTL(ctx, key).Result()
		if err != nil || ttl <= 0 {
			continue
		}
		addr := strings.TrimPrefix(key, infra.RedisKeyBlockPrefix)
		m.mu.Lock()
		m.blocked[addr] = time.Now().Add(ttl)
		m.mu.Unlock()
		loaded++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("blocklist warm-up scan failed: %w", err)
	}
	m.reportCount()

	m.logger.Info("blocklist cache warmed up", zap.Int("count", loaded))
	return nil
}

// reportCount дергает хук метрик вне мьютекса
func (m *Manager) reportCount() {
	if m.OnCountChange == nil {
		return
	}
	m.mu.RLock()
	n := len(m.blocked)
	m.mu.RUnlock()
	m.OnCountChange(n)
}

// StartListener подписывается на сигналы блокировок и держит L1 в актуальном
// состоянии. При переподключении выполняется повторный Init (ресинк).
func (m *Manager) StartListener(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanBlockList,
		func() error { return m.Init(ctx) },
		func(addr string, blocked bool) {
			m.mu.Lock()
			if blocked {
				// TTL узнаем лениво: выставляем консервативный горизонт,
				// точное время придет при следующем ресинке
				m.blocked[addr] = time.Now().Add(24 * time.Hour)
			} else {
				delete(m.blocked, addr)
			}
			m.mu.Unlock()
			m.reportCount()
		},
	)
}

// Block блокирует адрес на заданный срок и транслирует сигнал остальным
// инстансам. Нулевой duration недопустим: блокировки всегда ограничены
// по времени.
func (m *Manager) Block(ctx context.Context, addr, reason string, duration time.Duration) error {
	if addr == "" {
		return fmt.Errorf("blocklist: address is required")
	}
	if duration <= 0 {
		return fmt.Errorf("blocklist: duration must be positive")
	}

	m.mu.Lock()
	m.blocked[addr] = time.Now().Add(duration)
	m.mu.Unlock()
	m.reportCount()

	if m.rdb != nil {
		if err := m.rdb.Set(ctx, infra.BlockKey(addr), reason, duration).Err(); err != nil {
			return fmt.Errorf("blocklist: redis set failed: %w", err)
		}
		if err := m.rdb.Publish(ctx, infra.RedisChanBlockList, addr+":true").Err(); err != nil {
			// Сигнал потерян — остальные инстансы догонят на ресинке
			m.logger.Warn("block signal delivery failed", zap.String("addr", addr), zap.Error(err))
		}
	}

	m.logger.Info("address blocked",
		zap.String("addr", addr),
		zap.String("reason", reason),
		zap.Duration("duration", duration))
	return nil
}

func (m *Manager) Unblock(ctx context.Context, addr string) error {
	m.mu.Lock()
	delete(m.blocked, addr)
	m.mu.Unlock()
	m.reportCount()

	if m.rdb != nil {
		if err := m.rdb.Del(ctx, infra.BlockKey(addr)).Err(); err != nil {
			return fmt.Errorf("blocklist: redis del failed: %w", err)
		}
		if err := m.rdb.Publish(ctx, infra.RedisChanBlockList, addr+":false").Err(); err != nil {
			m.logger.Warn("unblock signal delivery failed", zap.String("addr", addr), zap.Error(err))
		}
	}

	m.logger.Info("address unblocked", zap.String("addr", addr))
	return nil
}

// IsBlocked — максимально быстрая проверка для Hot Path (только L1).
func (m *Manager) IsBlocked(addr string) bool {
	m.mu.RLock()
	until, ok := m.blocked[addr]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(until) {
		// Срок вышел — ленивая эвикция
		m.mu.Lock()
		delete(m.blocked, addr)
		m.mu.Unlock()
		m.reportCount()
		return false
	}
	return true
}

func (m *Manager) IsAllowListed(addr string) bool {
	_, ok := m.allow[addr]
	return ok
}

// IsLocal распознает loopback и приватные адреса: их не лимитируем
// и не блокируем (health-чеки, внутренние вызовы).
func (m *Manager) IsLocal(addr string) bool {
	if addr == "localhost" {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified()
}
