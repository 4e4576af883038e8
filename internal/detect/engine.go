// Package detect — реестр независимых детекторов аномалий поверх журнала
// аудита. Два режима:
//
//   - реактивный: дергается сразу после записи события, только дешевые
//     запросы в пределах 15-минутного окна одного субъекта;
//   - sweep: периодический обход с кросс-субъектной корреляцией за 1-2 часа.
//
// Каждый детектор — чистая функция (подмножество событий, now) -> [Anomaly].
// Добавление детектора = добавление элемента в реестр, диспатч не трогаем.
package detect

import (
	"context"
	"time"

	"github.com/xela07ax/secwatch/internal/audit"
	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/infra"
	"go.uber.org/zap"
)

// AlertSink — выход детекции. Реализуется диспетчером алертов.
type AlertSink interface {
	Dispatch(ctx context.Context, a domain.Anomaly)
}

// IdentityProvider — внешний справочник ролей и организаций
type IdentityProvider interface {
	ActorRole(ctx context.Context, actorID string) (string, error)
	ActorOrganization(ctx context.Context, actorID string) (string, error)
}

// ReactiveDetector проверяет одно свежее событие. Детектор, которому
// не хватает данных для вычисления, возвращает пустой срез — никогда
// не "угадывает" в сторону ложного срабатывания.
type ReactiveDetector interface {
	Name() string
	Detect(ctx context.Context, e *audit.AuditEvent, now time.Time) ([]domain.Anomaly, error)
}

// SweepDetector выполняет корреляционную проверку по всему журналу
type SweepDetector interface {
	Name() string
	Sweep(ctx context.Context, now time.Time) ([]domain.Anomaly, error)
}

type Engine struct {
	source   audit.Querier
	identity IdentityProvider
	sink     AlertSink
	cfg      infra.DetectConfig
	logger   *zap.Logger

	reactive []ReactiveDetector
	sweeps   []SweepDetector

	// regionOf — политика огрубления адреса до "региона".
	// По умолчанию два старших октета IPv4; заменяемо на геолокацию.
	regionOf RegionFunc
}

func NewEngine(
	source audit.Querier,
	identity IdentityProvider,
	sink AlertSink,
	cfg infra.DetectConfig,
	logger *zap.Logger,
) *Engine {
	e := &Engine{
		source:   source,
		identity: identity,
		sink:     sink,
		cfg:      cfg,
		logger:   logger.With(zap.String("mod", "detect")),
		regionOf: CoarseRegion,
	}

	adminActions := make(map[string]struct{}, len(cfg.AdminActions))
	for _, a := range cfg.AdminActions {
		adminActions[a] = struct{}{}
	}

	// Реестр детекторов. Порядок не важен: детекторы независимы.
	e.reactive = []ReactiveDetector{
		&failedLoginDetector{src: source, cfg: cfg},
		&suspiciousIPDetector{src: source, cfg: cfg},
		&rapidActionsDetector{src: source, cfg: cfg},
		&locationAnomalyDetector{src: source, region: e.regionOf},
		&concurrentSessionsDetector{src: source, cfg: cfg},
		&privilegeEscalationDetector{identity: identity, adminActions: adminActions},
		&bulkDataAccessDetector{src: source, cfg: cfg},
		&unusualLoginTimeDetector{src: source, cfg: cfg},
	}
	e.sweeps = []SweepDetector{
		&bruteForceClusterDetector{src: source, cfg: cfg},
		&ipMultiAccountDetector{src: source, cfg: cfg},
		&activitySpikeDetector{src: source, cfg: cfg},
		&offHoursDetector{src: source, cfg: cfg},
	}

	return e
}

// OnEvent — реактивный хук. Вызывается после записи события и сразу
// возвращает управление: детекция advisory, запрос она не гейтит.
func (e *Engine) OnEvent(event audit.AuditEvent) {
	// События самого движка — шум, не детектируем по ним ничего
	if event.IsEngineNoise() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, a := range e.RunReactive(ctx, &event, time.Now()) {
			e.sink.Dispatch(ctx, a)
		}
	}()
}

// RunReactive прогоняет событие через все реактивные детекторы.
// Ошибка одного детектора (например, недоступное хранилище) логируется
// и пропускает только его проверку.
func (e *Engine) RunReactive(ctx context.Context, event *audit.AuditEvent, now time.Time) []domain.Anomaly {
	if event.IsEngineNoise() {
		return nil
	}

	var out []domain.Anomaly
	for _, d := range e.reactive {
		anomalies, err := d.Detect(ctx, event, now)
		if err != nil {
			e.logger.Error("reactive detector failed, skipping",
				zap.String("detector", d.Name()), zap.Error(err))
			continue
		}
		out = append(out, anomalies...)
	}
	return out
}

// RunSweep выполняет периодический обход. Вызывается планировщиком
// (Sweeper либо внешним cron'ом); сбой одного детектора не роняет обход.
func (e *Engine) RunSweep(ctx context.Context, now time.Time) []domain.Anomaly {
	var out []domain.Anomaly
	for _, d := range e.sweeps {
		if ctx.Err() != nil {
			e.logger.Warn("sweep interrupted", zap.Error(ctx.Err()))
			break
		}
		anomalies, err := d.Sweep(ctx, now)
		if err != nil {
			e.logger.Error("sweep detector failed, skipping",
				zap.String("detector", d.Name()), zap.Error(err))
			continue
		}
		out = append(out, anomalies...)
	}
	return out
}
