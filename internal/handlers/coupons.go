package handlers

import (
	"net/http"
	"strings"

	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	"github.com/google/uuid"
)

const maxCouponCodeLength = 64

// CouponHandler обрабатывает купоны
type CouponHandler struct {
	coupons CouponService
	log     *logger.Logger
}

// NewCouponHandler создаёт новый обработчик купонов
func NewCouponHandler(coupons CouponService, log *logger.Logger) *CouponHandler {
	return &CouponHandler{
		coupons: coupons,
		log:     log,
	}
}

// CreateCoupon создаёт купон
func (h *CouponHandler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	var req models.CouponRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := validateCouponCode(req.Code); msg != "" {
		writeErrorResponse(w, http.StatusBadRequest, msg)
		return
	}

	coupon, err := h.coupons.CreateCoupon(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create coupon")
		return
	}

	writeJSONResponse(w, http.StatusCreated, coupon)
}

// ListCoupons возвращает список купонов
func (h *CouponHandler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var status *models.CouponStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := models.CouponStatus(raw)
		status = &s
	}

	coupons, err := h.coupons.ListCoupons(r.Context(), status, limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list coupons")
		return
	}

	writeJSONResponse(w, http.StatusOK, coupons)
}

// GetCoupon возвращает купон по ID
func (h *CouponHandler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	couponID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid coupon ID")
		return
	}

	coupon, err := h.coupons.GetCoupon(r.Context(), couponID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get coupon")
		return
	}

	writeJSONResponse(w, http.StatusOK, coupon)
}

// UpdateCoupon обновляет купон. Код использованного купона менять нельзя.
func (h *CouponHandler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	couponID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid coupon ID")
		return
	}

	var req models.CouponRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := validateCouponCode(req.Code); msg != "" {
		writeErrorResponse(w, http.StatusBadRequest, msg)
		return
	}

	coupon, err := h.coupons.UpdateCoupon(r.Context(), couponID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update coupon")
		return
	}

	writeJSONResponse(w, http.StatusOK, coupon)
}

// DeleteCoupon удаляет неиспользованный купон
func (h *CouponHandler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	couponID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid coupon ID")
		return
	}

	if err := h.coupons.DeleteCoupon(r.Context(), couponID); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete coupon")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListRedemptions возвращает историю использований купона
func (h *CouponHandler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	couponID, err := uuidParam(r, "id")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid coupon ID")
		return
	}

	redemptions, err := h.coupons.ListRedemptions(r.Context(), couponID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list redemptions")
		return
	}

	writeJSONResponse(w, http.StatusOK, redemptions)
}

// ValidateCoupon проверяет купон для покупки без записи использования.
// Отказ по бизнес-правилу возвращается с кодом 200 и valido=false.
func (h *CouponHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req models.ValidateCouponRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeErrorResponse(w, http.StatusBadRequest, "code is required")
		return
	}

	userID := req.UserID
	if userID == uuid.Nil {
		userID = identity.UserID
	}
	if !identity.CanAccess(userID) {
		writeErrorResponse(w, http.StatusForbidden, "cannot validate coupon for another user")
		return
	}

	result, err := h.coupons.Validate(r.Context(), req.Code, userID, req.ValorCompra)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to validate coupon")
		return
	}

	writeJSONResponse(w, http.StatusOK, &models.ValidateCouponResponse{
		Valido:       result.Valid,
		Cupom:        result.Coupon,
		Mensagem:     result.Message,
		Motivo:       string(result.Failure),
		Desconto:     result.Discount,
		ValorFinal:   result.FinalValue,
		MinutosBonus: result.BonusMinutes,
	})
}

func validateCouponCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return "code is required"
	}
	if len(code) > maxCouponCodeLength {
		return "code is too long"
	}
	return ""
}
