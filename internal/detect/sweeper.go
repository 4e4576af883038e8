package detect

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sweeper — внутренний планировщик периодических обходов. Тик при ещё
// идущем обходе пропускается, а не ставится в очередь: журнал тот же,
// второй проход по нему бесполезен.
type Sweeper struct {
	engine   *Engine
	sink     AlertSink
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	inFlight atomic.Bool
}

func NewSweeper(engine *Engine, sink AlertSink, interval, timeout time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		engine:   engine,
		sink:     sink,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With(zap.String("mod", "sweeper")),
	}
}

// Run блокируется до отмены ctx
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started",
		zap.Duration("interval", s.interval), zap.Duration("timeout", s.timeout))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("previous sweep still running, tick skipped")
		return
	}
	go func() {
		defer s.inFlight.Store(false)

		sctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		start := time.Now()
		anomalies := s.engine.RunSweep(sctx, start)
		for _, a := range anomalies {
			s.sink.Dispatch(sctx, a)
		}
		s.logger.Info("sweep finished",
			zap.Int("anomalies", len(anomalies)),
			zap.Duration("took", time.Since(start)))
	}()
}
