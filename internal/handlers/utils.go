package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"tarot-system/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Константы
const (
	maxRequestBodyBytes = 1 << 20
)

// ErrorResponse представляет структуру ответа с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSONResponse отправляет JSON ответ
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeErrorResponse отправляет ответ с ошибкой
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	writeJSONResponse(w, statusCode, response)
}

// decodeJSONBody читает тело запроса с ограничением размера
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// uuidParam извлекает UUID из параметра маршрута chi
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing %s in path", name)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID format: %w", err)
	}

	return id, nil
}

// parsePagination читает limit и offset из query
func parsePagination(r *http.Request) (int, int, error) {
	query := r.URL.Query()
	limit, offset := 0, 0

	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("invalid limit")
		}
		limit = parsed
	}
	if raw := query.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("invalid offset")
		}
		offset = parsed
	}

	return limit, offset, nil
}

// requireIdentity возвращает вызывающего или отвечает 401
func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeErrorResponse(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return identity, true
}

// requireAdmin пропускает только администраторов и доверенные сервисы
func requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return nil, false
	}
	if !identity.IsAdmin() {
		writeErrorResponse(w, http.StatusForbidden, "admin role required")
		return nil, false
	}
	return identity, true
}

// actorID возвращает идентификатор для полей reviewed_by и operator_id.
// У сервисного вызывающего пользователя нет.
func actorID(identity *auth.Identity) *uuid.UUID {
	if identity == nil || identity.Service || identity.UserID == uuid.Nil {
		return nil
	}
	id := identity.UserID
	return &id
}
