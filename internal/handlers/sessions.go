package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"tarot-system/internal/auth"
	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	"github.com/google/uuid"
)

// SessionHandler обрабатывает консультации
type SessionHandler struct {
	sessions SessionService
	log      *logger.Logger
	now      func() time.Time
}

// NewSessionHandler создает новый обработчик консультаций
func NewSessionHandler(sessions SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log,
		now:      time.Now,
	}
}

// RequestSession создает заявку клиента на консультацию
func (h *SessionHandler) RequestSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if identity.Service {
		writeErrorResponse(w, http.StatusForbidden, "user token required")
		return
	}

	var req models.CreateSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ConsultantID == uuid.Nil {
		writeErrorResponse(w, http.StatusBadRequest, "consultant_id is required")
		return
	}

	session, err := h.sessions.RequestSession(r.Context(), identity.UserID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to request session")
		return
	}

	writeJSONResponse(w, http.StatusCreated, h.view(session))
}

// ListSessions возвращает сессии вызывающего. Администратор видит все и может фильтровать.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := &models.SessionFilter{Limit: limit, Offset: offset}
	query := r.URL.Query()

	if identity.IsAdmin() {
		if raw := query.Get("user_id"); raw != "" {
			userID, err := uuid.Parse(raw)
			if err != nil {
				writeErrorResponse(w, http.StatusBadRequest, "Invalid user_id")
				return
			}
			filter.UserID = &userID
		}
	} else {
		userID := identity.UserID
		filter.UserID = &userID
	}

	if raw := query.Get("consultant_id"); raw != "" {
		consultantID, err := uuid.Parse(raw)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid consultant_id")
			return
		}
		filter.ConsultantID = &consultantID
	}
	if raw := query.Get("status"); raw != "" {
		status := models.SessionStatus(raw)
		filter.Status = &status
	}

	sessions, err := h.sessions.ListSessions(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list sessions")
		return
	}

	views := make([]*models.SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, h.view(session))
	}

	writeJSONResponse(w, http.StatusOK, views)
}

// GetSession возвращает сессию с таймером
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	_, session, ok := h.loadAccessible(w, r)
	if !ok {
		return
	}

	writeJSONResponse(w, http.StatusOK, h.view(session))
}

// AcceptSession переводит заявку в активную консультацию
func (h *SessionHandler) AcceptSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	sessionID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid session ID")
		return
	}

	session, err := h.sessions.AcceptSession(r.Context(), sessionID, actorID(identity))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to accept session")
		return
	}

	writeJSONResponse(w, http.StatusOK, h.view(session))
}

// DeclineSession отклоняет заявку
func (h *SessionHandler) DeclineSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	sessionID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid session ID")
		return
	}

	session, err := h.sessions.DeclineSession(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to decline session")
		return
	}

	writeJSONResponse(w, http.StatusOK, h.view(session))
}

// GrantBonus начисляет разовый бонус активной консультации
func (h *SessionHandler) GrantBonus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	sessionID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid session ID")
		return
	}

	result, err := h.sessions.GrantBonus(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to grant bonus")
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

// FinalizeSession завершает консультацию. Клиент может сообщить об истечении таймера,
// иначе причина определяется ролью вызывающего.
func (h *SessionHandler) FinalizeSession(w http.ResponseWriter, r *http.Request) {
	identity, session, ok := h.loadAccessible(w, r)
	if !ok {
		return
	}

	var req models.FinalizeSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	reason := req.Reason
	if reason != models.FinishReasonExpired {
		reason = models.FinishReasonManualClient
		if identity.IsAdmin() && identity.UserID != session.UserID {
			reason = models.FinishReasonManualOperator
		}
	}

	result, err := h.sessions.FinalizeSession(r.Context(), session.ID, reason)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to finalize session")
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

// ReviewSession сохраняет отзыв клиента о завершённой консультации
func (h *SessionHandler) ReviewSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	sessionID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid session ID")
		return
	}

	var req models.CreateReviewRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeErrorResponse(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}

	session, err := h.sessions.ReviewSession(r.Context(), sessionID, identity.UserID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to review session")
		return
	}

	writeJSONResponse(w, http.StatusOK, h.view(session))
}

func (h *SessionHandler) loadAccessible(w http.ResponseWriter, r *http.Request) (*auth.Identity, *models.Session, bool) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return nil, nil, false
	}
	sessionID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid session ID")
		return nil, nil, false
	}

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get session")
		return nil, nil, false
	}
	if !identity.CanAccess(session.UserID) {
		writeErrorResponse(w, http.StatusForbidden, "access to session denied")
		return nil, nil, false
	}

	return identity, session, true
}

func (h *SessionHandler) view(session *models.Session) *models.SessionView {
	return &models.SessionView{
		Session: session,
		Timer:   session.Timer(h.now()),
	}
}
