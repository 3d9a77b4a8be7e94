package handlers

import (
	"net/http"

	"tarot-system/internal/logger"
	"tarot-system/internal/models"
)

// UserHandler обрабатывает профили пользователей
type UserHandler struct {
	users UserService
	log   *logger.Logger
}

// NewUserHandler создает новый обработчик пользователей
func NewUserHandler(users UserService, log *logger.Logger) *UserHandler {
	return &UserHandler{
		users: users,
		log:   log,
	}
}

// Me возвращает профиль вызывающего, создавая его при первом входе
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if identity.Service {
		writeErrorResponse(w, http.StatusForbidden, "user token required")
		return
	}

	user, err := h.users.EnsureProfile(r.Context(), identity.UserID, identity.Role, &models.UpdateProfileRequest{})
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to load profile")
		return
	}

	writeJSONResponse(w, http.StatusOK, user)
}

// UpdateMe сохраняет имя и телефон вызывающего
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if identity.Service {
		writeErrorResponse(w, http.StatusForbidden, "user token required")
		return
	}

	var req models.UpdateProfileRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.EnsureProfile(r.Context(), identity.UserID, identity.Role, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update profile")
		return
	}

	writeJSONResponse(w, http.StatusOK, user)
}

// ListUsers возвращает пользователей
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var role *models.UserRole
	if raw := r.URL.Query().Get("role"); raw != "" {
		parsed := models.UserRole(raw)
		if parsed != models.UserRoleClient && parsed != models.UserRoleAdmin {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid role")
			return
		}
		role = &parsed
	}

	users, err := h.users.ListUsers(r.Context(), role, limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list users")
		return
	}

	writeJSONResponse(w, http.StatusOK, users)
}

// GetUser возвращает пользователя по ID
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	userID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get user")
		return
	}

	writeJSONResponse(w, http.StatusOK, user)
}

// CreditMinutes начисляет минуты вручную
func (h *UserHandler) CreditMinutes(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	userID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req models.CreditMinutesRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.CreditMinutes(r.Context(), userID, &req, identity.UserID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to credit minutes")
		return
	}

	writeJSONResponse(w, http.StatusOK, user)
}
