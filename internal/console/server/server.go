package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/secwatch/internal/console/handler"
	"github.com/xela07ax/secwatch/internal/infra"
	"github.com/xela07ax/secwatch/internal/infra/auth"
	"github.com/xela07ax/secwatch/internal/ratelimit"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Проверка токенов (RS256). Реализуется через embedding
	// BaseValidator в AuthService.
	authValidator auth.TokenValidator

	// Лимитер для публичных ручек (логин — любимая цель перебора)
	limiter *ratelimit.Limiter

	// Обработчики бизнес-доменов
	authHandler  *handler.AuthHandler  // /auth/token
	alertHandler *handler.AlertHandler // /v1/alerts
	auditHandler *handler.AuditHandler // /v1/audit (Logs)
	blockHandler *handler.BlockHandler // /v1/blocklist, /v1/users/{id}/unlock
}

// NewConsoleServer инициализирует сервер консоли ИБ со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	limiter *ratelimit.Limiter,
	authH *handler.AuthHandler,
	alertH *handler.AlertHandler,
	auditH *handler.AuditHandler,
	blockH *handler.BlockHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		cfg:           cfg,
		authValidator: validator,
		limiter:       limiter,
		authHandler:   authH,
		alertHandler:  alertH,
		auditHandler:  auditH,
		blockHandler:  blockH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин без токена, но под жестким лимитом: 429 до bcrypt,
		// а не после
		r.With(s.limiter.Middleware(ratelimit.BucketLogin)).
			Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Алерты: просмотр и жизненный цикл
		r.Route("/v1/alerts", func(r chi.Router) {
			r.Use(s.limiter.Middleware(ratelimit.BucketAPI))
			r.Get("/", s.alertHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.With(auth.RequireScope("alerts.write")).Post("/ack", s.alertHandler.Acknowledge)
				r.With(auth.RequireScope("alerts.write")).Post("/resolve", s.alertHandler.Resolve)
			})
		})

		// Аудит и Логи (Observability)
		r.With(s.limiter.Middleware(ratelimit.BucketAuditAccess)).
			Get("/v1/audit", s.auditHandler.GetLogs)

		// Блок-лист: ручное управление
		r.Route("/v1/blocklist", func(r chi.Router) {
			r.Use(auth.RequireScope("blocklist.write"))
			r.Post("/", s.blockHandler.Block)
			r.Delete("/{address}", s.blockHandler.Unblock)
		})

		// Снятие lockout с учетной записи
		r.With(auth.RequireScope("blocklist.write")).
			Post("/v1/users/{id}/unlock", s.blockHandler.UnlockUser)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
