package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
)

// Middleware навешивает проверку лимита на HTTP-пайплайн. Идентификатор —
// ID пользователя из контекста (после auth-слоя) либо адрес клиента.
// Отказ — всегда 429 + Retry-After, как того требует контракт движка.
func (l *Limiter) Middleware(bucket string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier, authenticated := callerIdentity(r)

			decision := l.CheckAndIncrement(r.Context(), identifier, bucket, authenticated)
			if !decision.Allowed {
				retrySec := int(decision.RetryAfter.Seconds())
				if retrySec < 1 {
					retrySec = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retrySec))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error":       "rate_limit_exceeded",
					"retry_after": retrySec,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// callerIdentity достает субъект лимитирования из запроса
func callerIdentity(r *http.Request) (identifier string, authenticated bool) {
	// После auth-middleware в контексте лежит ID пользователя
	if userID, ok := r.Context().Value("user_id").(string); ok && userID != "" {
		return userID, true
	}

	return ClientAddr(r), false
}

// ClientAddr — сетевой адрес клиента без порта
func ClientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RealIP-middleware мог уже положить голый адрес без порта
		return r.RemoteAddr
	}
	return host
}
