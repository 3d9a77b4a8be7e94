package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tarot-system/internal/apperror"
	"tarot-system/internal/models"

	"github.com/google/uuid"
)

type stubCouponService struct {
	coupon     *models.Coupon
	list       []*models.Coupon
	validation *models.CouponValidation
	err        error
	userID     uuid.UUID
	amount     float64
}

func (s *stubCouponService) CreateCoupon(ctx context.Context, req *models.CouponRequest) (*models.Coupon, error) {
	return s.coupon, s.err
}
func (s *stubCouponService) GetCoupon(ctx context.Context, couponID uuid.UUID) (*models.Coupon, error) {
	return s.coupon, s.err
}
func (s *stubCouponService) ListCoupons(ctx context.Context, status *models.CouponStatus, limit, offset int) ([]*models.Coupon, error) {
	return s.list, s.err
}
func (s *stubCouponService) UpdateCoupon(ctx context.Context, couponID uuid.UUID, req *models.CouponRequest) (*models.Coupon, error) {
	return s.coupon, s.err
}
func (s *stubCouponService) DeleteCoupon(ctx context.Context, couponID uuid.UUID) error {
	return s.err
}
func (s *stubCouponService) ListRedemptions(ctx context.Context, couponID uuid.UUID) ([]*models.CouponRedemption, error) {
	return nil, s.err
}
func (s *stubCouponService) Validate(ctx context.Context, code string, userID uuid.UUID, amount float64) (*models.CouponValidation, error) {
	s.userID = userID
	s.amount = amount
	return s.validation, s.err
}

func TestCouponHandler_CreateCoupon(t *testing.T) {
	coupon := &models.Coupon{ID: uuid.New(), Code: "BEMVINDO", Kind: models.CouponKindPercentage, DiscountValue: 20}
	handler := NewCouponHandler(&stubCouponService{coupon: coupon}, newTestLogger())

	body := bytes.NewBufferString(`{"code":"bemvindo","kind":"percentage","discount_value":20,"status":"active"}`)
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/coupons", body), adminIdentity())
	rr := httptest.NewRecorder()
	handler.CreateCoupon(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
}

func TestCouponHandler_CreateCoupon_Invalid(t *testing.T) {
	handler := NewCouponHandler(&stubCouponService{}, newTestLogger())

	rr := httptest.NewRecorder()
	handler.CreateCoupon(rr, withIdentity(httptest.NewRequest(http.MethodPost, "/api/coupons", bytes.NewBufferString("bad json")), adminIdentity()))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rr.Code)
	}

	longCode := strings.Repeat("A", maxCouponCodeLength+1)
	rr = httptest.NewRecorder()
	handler.CreateCoupon(rr, withIdentity(httptest.NewRequest(http.MethodPost, "/api/coupons", bytes.NewBufferString(`{"code":"`+longCode+`"}`)), adminIdentity()))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for long code, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.CreateCoupon(rr, withIdentity(httptest.NewRequest(http.MethodPost, "/api/coupons", bytes.NewBufferString(`{"code":"X"}`)), clientIdentity(uuid.New())))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for client, got %d", rr.Code)
	}
}

func TestCouponHandler_UpdateCoupon_UsedCodeConflict(t *testing.T) {
	service := &stubCouponService{err: apperror.Conflict("código de cupom já utilizado não pode ser alterado", nil)}
	handler := NewCouponHandler(service, newTestLogger())
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodPut, "/api/coupons/"+id, bytes.NewBufferString(`{"code":"NOVO","kind":"fixed_amount","discount_value":10}`))
	req = withURLParams(withIdentity(req, adminIdentity()), map[string]string{"id": id})
	rr := httptest.NewRecorder()
	handler.UpdateCoupon(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestCouponHandler_DeleteCoupon(t *testing.T) {
	handler := NewCouponHandler(&stubCouponService{}, newTestLogger())
	id := uuid.NewString()

	req := withURLParams(withIdentity(httptest.NewRequest(http.MethodDelete, "/api/coupons/"+id, nil), adminIdentity()), map[string]string{"id": id})
	rr := httptest.NewRecorder()
	handler.DeleteCoupon(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestCouponHandler_ValidateCoupon_ClientFormat(t *testing.T) {
	userID := uuid.New()
	service := &stubCouponService{validation: &models.CouponValidation{
		Valid:        true,
		Coupon:       &models.Coupon{Code: "BEMVINDO"},
		Message:      "Cupom válido",
		Discount:     20,
		FinalValue:   80,
		BonusMinutes: 0,
	}}
	handler := NewCouponHandler(service, newTestLogger())

	body := bytes.NewBufferString(`{"code":"bemvindo","valorCompra":100}`)
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/coupons/validate", body), clientIdentity(userID))
	rr := httptest.NewRecorder()
	handler.ValidateCoupon(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if service.userID != userID || service.amount != 100 {
		t.Fatalf("unexpected validation input: %s %v", service.userID, service.amount)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp["valido"] != true || resp["desconto"] != float64(20) || resp["valorFinal"] != float64(80) {
		t.Fatalf("unexpected response: %v", resp)
	}
	if _, ok := resp["minutosBonus"]; !ok {
		t.Fatalf("expected minutosBonus in response: %v", resp)
	}
}

func TestCouponHandler_ValidateCoupon_Rejected(t *testing.T) {
	service := &stubCouponService{validation: &models.CouponValidation{
		Valid:      false,
		Failure:    models.CouponFailureNotFound,
		Message:    "Cupom não encontrado",
		FinalValue: 50,
	}}
	handler := NewCouponHandler(service, newTestLogger())

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/coupons/validate", bytes.NewBufferString(`{"code":"NADA","valorCompra":50}`)), clientIdentity(uuid.New()))
	rr := httptest.NewRecorder()
	handler.ValidateCoupon(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("business rejection must be 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"valido":false`) || !strings.Contains(rr.Body.String(), `"motivo":"not_found"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestCouponHandler_ValidateCoupon_OtherUserForbidden(t *testing.T) {
	handler := NewCouponHandler(&stubCouponService{}, newTestLogger())

	body := bytes.NewBufferString(`{"code":"X","usuarioId":"` + uuid.NewString() + `","valorCompra":50}`)
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/coupons/validate", body), clientIdentity(uuid.New()))
	rr := httptest.NewRecorder()
	handler.ValidateCoupon(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}
