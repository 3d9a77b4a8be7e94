package handlers

import (
	"net/http"
	"strings"

	"tarot-system/internal/logger"
	"tarot-system/internal/models"
)

// ConsultantHandler обрабатывает тарологов
type ConsultantHandler struct {
	consultants ConsultantService
	log         *logger.Logger
}

// NewConsultantHandler создает новый обработчик тарологов
func NewConsultantHandler(consultants ConsultantService, log *logger.Logger) *ConsultantHandler {
	return &ConsultantHandler{
		consultants: consultants,
		log:         log,
	}
}

// ListConsultants возвращает каталог тарологов, доступные первыми
func (h *ConsultantHandler) ListConsultants(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var status *models.ConsultantStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.ConsultantStatus(raw)
		if !s.Valid() {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid status")
			return
		}
		status = &s
	}

	consultants, err := h.consultants.ListConsultants(r.Context(), status, limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list consultants")
		return
	}

	writeJSONResponse(w, http.StatusOK, consultants)
}

// GetConsultant возвращает таролога по ID
func (h *ConsultantHandler) GetConsultant(w http.ResponseWriter, r *http.Request) {
	consultantID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid consultant ID")
		return
	}

	consultant, err := h.consultants.GetConsultant(r.Context(), consultantID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get consultant")
		return
	}

	writeJSONResponse(w, http.StatusOK, consultant)
}

// CreateConsultant создает таролога
func (h *ConsultantHandler) CreateConsultant(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	var req models.CreateConsultantRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Name is required")
		return
	}

	consultant, err := h.consultants.CreateConsultant(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create consultant")
		return
	}

	writeJSONResponse(w, http.StatusCreated, consultant)
}

// UpdateConsultant обновляет профиль таролога
func (h *ConsultantHandler) UpdateConsultant(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	consultantID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid consultant ID")
		return
	}

	var req models.UpdateConsultantRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	consultant, err := h.consultants.UpdateConsultant(r.Context(), consultantID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update consultant")
		return
	}

	writeJSONResponse(w, http.StatusOK, consultant)
}

// UpdateStatus меняет доступность таролога
func (h *ConsultantHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	consultantID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid consultant ID")
		return
	}

	var req models.UpdateConsultantStatusRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Status.Valid() {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid status")
		return
	}

	consultant, err := h.consultants.UpdateStatus(r.Context(), consultantID, req.Status)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update consultant status")
		return
	}

	writeJSONResponse(w, http.StatusOK, consultant)
}
