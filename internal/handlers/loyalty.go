package handlers

import (
	"net/http"
	"strings"

	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	"github.com/google/uuid"
)

// LoyaltyHandler обрабатывает программу лояльности
type LoyaltyHandler struct {
	loyalty LoyaltyService
	log     *logger.Logger
}

// NewLoyaltyHandler создаёт новый обработчик лояльности
func NewLoyaltyHandler(loyalty LoyaltyService, log *logger.Logger) *LoyaltyHandler {
	return &LoyaltyHandler{
		loyalty: loyalty,
		log:     log,
	}
}

// Accrue начисляет минуты вне завершения консультации (формат клиента)
func (h *LoyaltyHandler) Accrue(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	var req models.AccrueLoyaltyRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		writeErrorResponse(w, http.StatusBadRequest, "usuarioId is required")
		return
	}

	outcome, err := h.loyalty.Accumulate(r.Context(), req.UserID, req.MinutosUsados)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to accrue loyalty minutes")
		return
	}

	grants := outcome.Grants
	if grants == nil {
		grants = []*models.LoyaltyBonusGrant{}
	}

	writeJSONResponse(w, http.StatusOK, &models.AccrueLoyaltyResponse{
		Success:       true,
		BonusAplicado: outcome.MinutesGranted > 0,
		MinutosGanhos: outcome.MinutesGranted,
		Detalhes:      grants,
	})
}

// Progress показывает прогресс по активным правилам. Администратор может передать user_id.
func (h *LoyaltyHandler) Progress(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}

	progress, err := h.loyalty.Progress(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get loyalty progress")
		return
	}

	writeJSONResponse(w, http.StatusOK, progress)
}

// ListGrants возвращает историю начисленных бонусов
func (h *LoyaltyHandler) ListGrants(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}

	grants, err := h.loyalty.ListGrants(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list loyalty grants")
		return
	}

	writeJSONResponse(w, http.StatusOK, grants)
}

// CreateConfiguration создаёт правило лояльности
func (h *LoyaltyHandler) CreateConfiguration(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	var req models.LoyaltyConfigurationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	}

	config, err := h.loyalty.CreateConfiguration(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create loyalty configuration")
		return
	}

	writeJSONResponse(w, http.StatusCreated, config)
}

// ListConfigurations возвращает все правила
func (h *LoyaltyHandler) ListConfigurations(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	configs, err := h.loyalty.ListConfigurations(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list loyalty configurations")
		return
	}

	writeJSONResponse(w, http.StatusOK, configs)
}

// GetConfiguration возвращает правило по ID
func (h *LoyaltyHandler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	configID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid configuration ID")
		return
	}

	config, err := h.loyalty.GetConfiguration(r.Context(), configID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get loyalty configuration")
		return
	}

	writeJSONResponse(w, http.StatusOK, config)
}

// UpdateConfiguration обновляет правило
func (h *LoyaltyHandler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	configID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid configuration ID")
		return
	}

	var req models.LoyaltyConfigurationRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	config, err := h.loyalty.UpdateConfiguration(r.Context(), configID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update loyalty configuration")
		return
	}

	writeJSONResponse(w, http.StatusOK, config)
}

// DeleteConfiguration удаляет правило
func (h *LoyaltyHandler) DeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	configID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid configuration ID")
		return
	}

	if err := h.loyalty.DeleteConfiguration(r.Context(), configID); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete loyalty configuration")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *LoyaltyHandler) targetUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return uuid.Nil, false
	}

	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		if identity.Service {
			writeErrorResponse(w, http.StatusBadRequest, "user_id is required")
			return uuid.Nil, false
		}
		return identity.UserID, true
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid user_id")
		return uuid.Nil, false
	}
	if !identity.CanAccess(userID) {
		writeErrorResponse(w, http.StatusForbidden, "access to loyalty progress denied")
		return uuid.Nil, false
	}
	return userID, true
}
