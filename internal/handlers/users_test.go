package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tarot-system/internal/apperror"
	"tarot-system/internal/auth"
	"tarot-system/internal/models"

	"github.com/google/uuid"
)

type stubUserService struct {
	user    *models.User
	err     error
	role    models.UserRole
	profile *models.UpdateProfileRequest
	minutes int
}

func (s *stubUserService) EnsureProfile(ctx context.Context, userID uuid.UUID, role models.UserRole, req *models.UpdateProfileRequest) (*models.User, error) {
	s.role = role
	s.profile = req
	return s.user, s.err
}
func (s *stubUserService) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.user, s.err
}
func (s *stubUserService) ListUsers(ctx context.Context, role *models.UserRole, limit, offset int) ([]*models.User, error) {
	return nil, s.err
}
func (s *stubUserService) CreditMinutes(ctx context.Context, userID uuid.UUID, req *models.CreditMinutesRequest, adminID uuid.UUID) (*models.User, error) {
	s.minutes = req.Minutes
	return s.user, s.err
}

func TestUserHandler_Me(t *testing.T) {
	userID := uuid.New()
	service := &stubUserService{user: &models.User{ID: userID, Role: models.UserRoleClient, MinutesAvailable: 30}}
	handler := NewUserHandler(service, newTestLogger())

	rr := httptest.NewRecorder()
	handler.Me(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/api/me", nil), clientIdentity(userID)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if service.role != models.UserRoleClient {
		t.Fatalf("expected role from token, got %s", service.role)
	}

	rr = httptest.NewRecorder()
	handler.Me(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/api/me", nil), &auth.Identity{Service: true, Role: models.UserRoleAdmin}))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for service identity, got %d", rr.Code)
	}
}

func TestUserHandler_UpdateMe(t *testing.T) {
	userID := uuid.New()
	service := &stubUserService{user: &models.User{ID: userID, Name: "Ana"}}
	handler := NewUserHandler(service, newTestLogger())

	body := bytes.NewBufferString(`{"name":"Ana","phone":"+5511999990000"}`)
	rr := httptest.NewRecorder()
	handler.UpdateMe(rr, withIdentity(httptest.NewRequest(http.MethodPut, "/api/me", body), clientIdentity(userID)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if service.profile == nil || service.profile.Phone != "+5511999990000" {
		t.Fatalf("expected profile to be forwarded, got %+v", service.profile)
	}
}

func TestUserHandler_CreditMinutes(t *testing.T) {
	service := &stubUserService{user: &models.User{ID: uuid.New(), MinutesAvailable: 60}}
	handler := NewUserHandler(service, newTestLogger())
	id := service.user.ID.String()

	req := httptest.NewRequest(http.MethodPost, "/api/users/"+id+"/credit", bytes.NewBufferString(`{"minutes":30,"reason":"cortesia"}`))
	rr := httptest.NewRecorder()
	handler.CreditMinutes(rr, withURLParams(withIdentity(req, adminIdentity()), map[string]string{"id": id}))
	if rr.Code != http.StatusOK || service.minutes != 30 {
		t.Fatalf("expected credit of 30, got %d %d", rr.Code, service.minutes)
	}

	failing := NewUserHandler(&stubUserService{err: apperror.Validation("minutes must be positive", nil)}, newTestLogger())
	req = httptest.NewRequest(http.MethodPost, "/api/users/"+id+"/credit", bytes.NewBufferString(`{"minutes":0}`))
	rr = httptest.NewRecorder()
	failing.CreditMinutes(rr, withURLParams(withIdentity(req, adminIdentity()), map[string]string{"id": id}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestUserHandler_ListUsers_InvalidRole(t *testing.T) {
	handler := NewUserHandler(&stubUserService{}, newTestLogger())

	rr := httptest.NewRecorder()
	handler.ListUsers(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/api/users?role=root", nil), adminIdentity()))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
