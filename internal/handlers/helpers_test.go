package handlers

import (
	"context"
	"net/http"

	"tarot-system/internal/auth"
	"tarot-system/internal/config"
	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func newTestLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
}

func clientIdentity(id uuid.UUID) *auth.Identity {
	return &auth.Identity{UserID: id, Role: models.UserRoleClient}
}

func adminIdentity() *auth.Identity {
	return &auth.Identity{UserID: uuid.New(), Role: models.UserRoleAdmin}
}

// withIdentity имитирует RequireAuth
func withIdentity(r *http.Request, identity *auth.Identity) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), identity))
}

// withURLParams имитирует маршрутизацию chi
func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
