package engine

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/xela07ax/secwatch/internal/blocklist"
	"github.com/xela07ax/secwatch/internal/ratelimit"
	"go.uber.org/zap"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// TracingMiddleware прокидывает Trace-ID через весь путь события:
// HTTP-запрос, журнал аудита, алерты. Внешний ID (от прокси) уважается,
// без него генерируется свой; клиент получает итоговый ID в ответе.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		w.Header().Set("X-Trace-ID", traceID)

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractTraceID возвращает нулевой UUID, если middleware не отработал:
// журнал требует непустой trace_id у каждого события
func extractTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return "00000000-0000-0000-0000-000000000000"
}

// BlockListMiddleware режет запросы с заблокированных адресов до любой
// другой обработки. Проверка чисто по RAM-кэшу, Redis на горячем пути нет.
func BlockListMiddleware(bl *blocklist.Manager, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := ratelimit.ClientAddr(r)
			if addr == "" || !bl.IsBlocked(addr) {
				next.ServeHTTP(w, r)
				return
			}

			// Важно: логируем попытку доступа с заблокированного адреса
			logger.Warn("request from blocked address intercepted", zap.String("addr", addr))

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error": "address_blocked", "reason": "security_block_list"}`))
		})
	}
}
