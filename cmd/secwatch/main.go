package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/secwatch/internal/alert"
	"github.com/xela07ax/secwatch/internal/audit"
	"github.com/xela07ax/secwatch/internal/blocklist"
	"github.com/xela07ax/secwatch/internal/counter"
	"github.com/xela07ax/secwatch/internal/detect"
	"github.com/xela07ax/secwatch/internal/domain"
	"github.com/xela07ax/secwatch/internal/engine"
	"github.com/xela07ax/secwatch/internal/infra"
	"github.com/xela07ax/secwatch/internal/infra/auth"
	"github.com/xela07ax/secwatch/internal/notify"
	"github.com/xela07ax/secwatch/internal/ratelimit"
	"github.com/xela07ax/secwatch/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	// При завершении main() или срабатывании SIGTERM, cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура: Redis (счетчики/блок-лист) и Postgres (журнал/алерты)
	var rdb *redis.Client
	var store counter.Store
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(appCtx).Err(); err != nil {
			logger.Fatal("redis unreachable", zap.Error(err))
		}
		store = counter.NewRedisStore(rdb)
	} else {
		// dev-режим: один инстанс, все окна в RAM
		logger.Warn("redis not configured, using in-memory counters")
		store = counter.NewMemoryStore()
	}

	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required")
	}
	auditRepo := postgres.NewAuditRepo(cfg.Database.URL)
	if err := auditRepo.Ping(appCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	alertRepo := postgres.NewAlertRepo(cfg.Database.URL)
	userRepo := postgres.NewUserRepo(cfg.Database.URL)

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// 3. Control Plane: блок-лист с Pub/Sub синхронизацией инстансов
	blockList := blocklist.NewManager(rdb, cfg.Limits.AllowList, logger)
	blockList.OnCountChange = func(n int) { metrics.BlockedAddresses.Set(float64(n)) }
	if err := blockList.Init(appCtx); err != nil {
		logger.Fatal("block list init failed", zap.Error(err))
	}
	go blockList.StartListener(appCtx)

	// Экспортируем метрики для Prometheus
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics listener started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	// 4. Асинхронный писатель журнала (для событий самого движка)
	recorder := audit.NewRecorder(auditRepo, logger, audit.RecorderOptions{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	})
	recorder.OnBufferFill = func(n int) { metrics.AuditBufferFill.Set(float64(n)) }
	recorder.Start()
	defer recorder.Stop()

	// 5. Доставка уведомлений: rate limit -> circuit breaker -> retry
	transport := notify.NewReliabilityTransport(notify.NewZapTransport(logger))
	transport.OnStateChange = func(open bool) {
		v := 0.0
		if open {
			v = 1
		}
		metrics.NotifierBreakerOpen.Set(v)
	}

	// 6. Диспетчер алертов и его потребители
	dispatcher := alert.NewDispatcher(store, alertRepo, recorder, transport, blockList, userRepo, cfg.Alert, logger)
	dispatcher.OnDispatched = func(a domain.SecurityAlert) {
		metrics.AlertsDispatched.WithLabelValues(a.Type, string(a.Severity)).Inc()
	}

	limiter := ratelimit.NewLimiter(store, cfg.Limits, blockList, dispatcher, logger)
	detector := detect.NewEngine(auditRepo, userRepo, dispatcher, cfg.Detect, logger)

	sweeper := detect.NewSweeper(detector, dispatcher, cfg.Detect.SweepInterval, cfg.Detect.SweepTimeout, logger)
	go sweeper.Run(appCtx)

	// 7. Core (сборка конвейера обработки действий)
	core := engine.NewCore(limiter, auditRepo, detector, metrics, logger)

	// 8. HTTP Server
	// Цепочка защиты: Trace -> BlockList -> Auth(опционально) -> Core
	var endpoint http.Handler = http.HandlerFunc(core.HandleHTTPRequest)
	if len(cfg.Auth.PublicKey) > 0 {
		pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("invalid public key", zap.Error(err))
		}
		endpoint = auth.NewOptionalMiddleware(auth.NewBaseValidator(pubKey), logger)(endpoint)
	} else {
		logger.Warn("public key not configured, all actions treated as anonymous")
	}
	handler := engine.TracingMiddleware(
		engine.BlockListMiddleware(blockList, logger)(endpoint),
	)

	mux := http.NewServeMux()
	mux.Handle("/v1/actions", handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("secwatch engine started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("secwatch engine stopping")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	cancel() // останавливаем sweeper и слушателя блок-листа
	logger.Info("secwatch engine exited properly")
}
