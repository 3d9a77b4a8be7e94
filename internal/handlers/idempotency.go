package handlers

import (
	"net/http"

	"tarot-system/internal/logger"
	"tarot-system/internal/services"

	"github.com/go-chi/chi/v5/middleware"
)

// IdempotencyKeyHeader - заголовок ключа идемпотентности для операций с деньгами и минутами.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotencyMiddleware отклоняет повтор запроса с тем же Idempotency-Key.
// Запрос без заголовка проходит как есть. После неуспешного ответа ключ освобождается.
func IdempotencyMiddleware(guard IdempotencyGuard, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if guard == nil || !guard.Enabled() || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 128 {
				writeErrorResponse(w, http.StatusBadRequest, "Idempotency-Key is too long")
				return
			}

			owner := services.RequestKey(r)
			reserved, err := guard.Reserve(r.Context(), owner, key)
			if err != nil {
				log.WithError(err).Error("Idempotency check failed")
				writeErrorResponse(w, http.StatusInternalServerError, "Idempotency check failed")
				return
			}
			if !reserved {
				writeErrorResponse(w, http.StatusConflict, "request with this Idempotency-Key was already processed")
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if status := ww.Status(); status >= http.StatusBadRequest {
				guard.Release(r.Context(), owner, key)
			}
		})
	}
}
