package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/secwatch/internal/alert"
	"github.com/xela07ax/secwatch/internal/audit"
	"github.com/xela07ax/secwatch/internal/blocklist"
	"github.com/xela07ax/secwatch/internal/console/handler"
	"github.com/xela07ax/secwatch/internal/console/server"
	"github.com/xela07ax/secwatch/internal/console/service"
	"github.com/xela07ax/secwatch/internal/counter"
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

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Ресурсы
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
		logger.Warn("redis not configured, using in-memory counters")
		store = counter.NewMemoryStore()
	}

	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required")
	}
	auditRepo := postgres.NewAuditRepo(cfg.Database.URL)
	ctx, pingCancel := context.WithTimeout(appCtx, cfg.Server.ReadTimeout)
	if err := auditRepo.Ping(ctx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()
	alertRepo := postgres.NewAlertRepo(cfg.Database.URL)
	userRepo := postgres.NewUserRepo(cfg.Database.URL)

	// Блок-лист: консоль пишет те же ключи и канал, что и движок
	blockList := blocklist.NewManager(rdb, cfg.Limits.AllowList, logger)
	if err := blockList.Init(appCtx); err != nil {
		logger.Fatal("block list init failed", zap.Error(err))
	}
	go blockList.StartListener(appCtx)

	// Журнал: попытки входа операторов пишутся асинхронно
	recorder := audit.NewRecorder(auditRepo, logger, audit.RecorderOptions{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	})
	recorder.Start()
	defer recorder.Stop()

	// 3. Ключи RS256: консоль и подписывает, и проверяет токены
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("invalid private key", zap.Error(err))
	}
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("invalid public key", zap.Error(err))
	}

	// 4. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(userRepo, recorder, privKey, pubKey)
	alertService := service.NewAlertService(alertRepo)
	auditService := service.NewAuditService(auditRepo)
	blockService := service.NewBlockService(blockList, userRepo)

	// Лимитер консоли шлет нарушения в тот же диспетчер, что и движок:
	// окно дедупликации в общем Redis не даст задвоить алерты
	transport := notify.NewReliabilityTransport(notify.NewZapTransport(logger))
	dispatcher := alert.NewDispatcher(store, alertRepo, recorder, transport, blockList, userRepo, cfg.Alert, logger)
	limiter := ratelimit.NewLimiter(store, cfg.Limits, blockList, dispatcher, logger)

	srvHandler := server.NewConsoleServer(
		cfg,
		logger,
		authService,
		limiter,
		handler.NewAuthHandler(authService),
		handler.NewAlertHandler(alertService),
		handler.NewAuditHandler(auditService),
		handler.NewBlockHandler(blockService, logger),
	)

	// 5. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console API stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console API exited properly")
}
