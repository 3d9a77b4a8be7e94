package handlers

import (
	"net/http"

	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	"github.com/google/uuid"
)

// PurchaseHandler обрабатывает покупки минут
type PurchaseHandler struct {
	purchases PurchaseService
	log       *logger.Logger
}

// NewPurchaseHandler создает новый обработчик покупок
func NewPurchaseHandler(purchases PurchaseService, log *logger.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		purchases: purchases,
		log:       log,
	}
}

// CreatePurchase создает покупку и возвращает PIX для оплаты
func (h *PurchaseHandler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if identity.Service {
		writeErrorResponse(w, http.StatusForbidden, "user token required")
		return
	}

	var req models.CreatePurchaseRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Minutes <= 0 {
		writeErrorResponse(w, http.StatusBadRequest, "minutes must be positive")
		return
	}

	checkout, err := h.purchases.CreatePurchase(r.Context(), identity.UserID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create purchase")
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkout)
}

// ListPurchases возвращает покупки вызывающего. Администратор видит все.
func (h *PurchaseHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := &models.PurchaseFilter{Limit: limit, Offset: offset}
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

	if raw := query.Get("status"); raw != "" {
		status := models.PurchaseStatus(raw)
		filter.Status = &status
	}

	purchases, err := h.purchases.ListPurchases(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list purchases")
		return
	}

	writeJSONResponse(w, http.StatusOK, purchases)
}

// GetPurchase возвращает покупку и PIX, пока она не оплачена
func (h *PurchaseHandler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	purchaseID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid purchase ID")
		return
	}

	checkout, err := h.purchases.Checkout(r.Context(), purchaseID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get purchase")
		return
	}
	if !identity.CanAccess(checkout.Purchase.UserID) {
		writeErrorResponse(w, http.StatusForbidden, "access to purchase denied")
		return
	}

	writeJSONResponse(w, http.StatusOK, checkout)
}

// ApprovePurchase подтверждает оплату и зачисляет минуты
func (h *PurchaseHandler) ApprovePurchase(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	purchaseID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid purchase ID")
		return
	}

	purchase, err := h.purchases.ApprovePurchase(r.Context(), purchaseID, identity.UserID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to approve purchase")
		return
	}

	writeJSONResponse(w, http.StatusOK, purchase)
}

// CancelPurchase отменяет неоплаченную покупку
func (h *PurchaseHandler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	purchaseID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid purchase ID")
		return
	}

	purchase, err := h.purchases.CancelPurchase(r.Context(), purchaseID, identity.UserID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to cancel purchase")
		return
	}

	writeJSONResponse(w, http.StatusOK, purchase)
}
