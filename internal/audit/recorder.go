package audit

/*
Файл recorder.go реализует асинхронную запись журнала аудита.

Ключевые особенности архитектуры:
- Non-blocking Logging: события из Hot Path (шлюз, диспетчер алертов)
  уходят в буферизованный канал. Задержки БД не влияют на Response Time.
- Batching: накопление событий в памяти и пакетная запись (Bulk Insert)
  по таймеру или при достижении лимита пачки.
- Drain Pattern & Graceful Shutdown: при остановке буфер вычитывается
  полностью (Final Flush), потери данных при штатной перезагрузке нет.
- Load Shedding: при переполнении буфера событие не блокирует вызывающего,
  а уходит в обычный логгер.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchWriter определяет, куда физически сохраняются события
type BatchWriter interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []AuditEvent) error
}

// Auditor — вход для всех, кто порождает события (шлюз, диспетчер).
type Auditor interface {
	Log(event AuditEvent)
}

type Recorder struct {
	ch     chan AuditEvent // Буфер для асинхронности
	repo   BatchWriter
	logger *zap.Logger
	wg     sync.WaitGroup

	batchSize     int
	flushInterval time.Duration

	// OnBufferFill дергается воркером для метрики заполненности буфера
	OnBufferFill func(n int)

	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

type RecorderOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func NewRecorder(repo BatchWriter, logger *zap.Logger, opts RecorderOptions) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Recorder{
		ch:            make(chan AuditEvent, opts.BufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit-recorder")),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (r *Recorder) Stop() {
	atomic.StoreInt32(&r.isClosed, 1)

	// Даем крошечную паузу, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	r.logger.Info("stopping recorder: closing channel and flushing buffer...")
	close(r.ch)
	r.wg.Wait()
	r.logger.Info("recorder stopped gracefully")
}

func (r *Recorder) Log(event AuditEvent) {
	// Таймстемп и ID всегда проставлены
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if atomic.LoadInt32(&r.isClosed) == 1 {
		r.logger.Warn("audit event dropped: recorder is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: переполненный буфер не блокирует Hot Path
	select {
	case r.ch <- event:
	default:
		r.logger.Error("audit_buffer_overflow",
			zap.String("actor_id", event.ActorID),
			zap.String("action", event.Action),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]AuditEvent, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к этому моменту может быть закрыт
			if err := r.repo.WriteBatch(context.Background(), batch); err != nil {
				r.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
		if r.OnBufferFill != nil {
			r.OnBufferFill(len(r.ch))
		}
	}

	for {
		select {
		case event, ok := <-r.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный сброс, выход
				flush()
				r.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
