package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tarot-system/internal/apperror"
	"tarot-system/internal/models"

	"github.com/google/uuid"
)

type stubConsultantService struct {
	consultant *models.Consultant
	list       []*models.Consultant
	err        error
	status     *models.ConsultantStatus
	newStatus  models.ConsultantStatus
}

func (s *stubConsultantService) CreateConsultant(ctx context.Context, req *models.CreateConsultantRequest) (*models.Consultant, error) {
	return s.consultant, s.err
}
func (s *stubConsultantService) GetConsultant(ctx context.Context, consultantID uuid.UUID) (*models.Consultant, error) {
	return s.consultant, s.err
}
func (s *stubConsultantService) ListConsultants(ctx context.Context, status *models.ConsultantStatus, limit, offset int) ([]*models.Consultant, error) {
	s.status = status
	return s.list, s.err
}
func (s *stubConsultantService) UpdateConsultant(ctx context.Context, consultantID uuid.UUID, req *models.UpdateConsultantRequest) (*models.Consultant, error) {
	return s.consultant, s.err
}
func (s *stubConsultantService) UpdateStatus(ctx context.Context, consultantID uuid.UUID, status models.ConsultantStatus) (*models.Consultant, error) {
	s.newStatus = status
	return s.consultant, s.err
}

func TestConsultantHandler_ListConsultants(t *testing.T) {
	service := &stubConsultantService{list: []*models.Consultant{{ID: uuid.New(), Name: "Madame Luna", Status: models.ConsultantStatusAvailable}}}
	handler := NewConsultantHandler(service, newTestLogger())

	rr := httptest.NewRecorder()
	handler.ListConsultants(rr, httptest.NewRequest(http.MethodGet, "/api/consultants?status=available", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if service.status == nil || *service.status != models.ConsultantStatusAvailable {
		t.Fatalf("expected status filter")
	}

	rr = httptest.NewRecorder()
	handler.ListConsultants(rr, httptest.NewRequest(http.MethodGet, "/api/consultants?status=sleeping", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

func TestConsultantHandler_CreateConsultant(t *testing.T) {
	service := &stubConsultantService{consultant: &models.Consultant{ID: uuid.New(), Name: "Madame Luna"}}
	handler := NewConsultantHandler(service, newTestLogger())

	rr := httptest.NewRecorder()
	handler.CreateConsultant(rr, withIdentity(httptest.NewRequest(http.MethodPost, "/api/consultants", bytes.NewBufferString(`{"name":"Madame Luna"}`)), adminIdentity()))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.CreateConsultant(rr, withIdentity(httptest.NewRequest(http.MethodPost, "/api/consultants", bytes.NewBufferString(`{"name":" "}`)), adminIdentity()))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without name, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.CreateConsultant(rr, httptest.NewRequest(http.MethodPost, "/api/consultants", bytes.NewBufferString(`{"name":"X"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rr.Code)
	}
}

func TestConsultantHandler_GetConsultant_NotFound(t *testing.T) {
	handler := NewConsultantHandler(&stubConsultantService{err: apperror.NotFound("consultant not found", nil)}, newTestLogger())
	id := uuid.NewString()

	rr := httptest.NewRecorder()
	handler.GetConsultant(rr, withURLParams(httptest.NewRequest(http.MethodGet, "/api/consultants/"+id, nil), map[string]string{"id": id}))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.GetConsultant(rr, withURLParams(httptest.NewRequest(http.MethodGet, "/api/consultants/bad", nil), map[string]string{"id": "bad"}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rr.Code)
	}
}

func TestConsultantHandler_UpdateStatus(t *testing.T) {
	service := &stubConsultantService{consultant: &models.Consultant{ID: uuid.New(), Status: models.ConsultantStatusUnavailable}}
	handler := NewConsultantHandler(service, newTestLogger())
	id := service.consultant.ID.String()

	req := httptest.NewRequest(http.MethodPut, "/api/consultants/"+id+"/status", bytes.NewBufferString(`{"status":"unavailable"}`))
	rr := httptest.NewRecorder()
	handler.UpdateStatus(rr, withURLParams(withIdentity(req, adminIdentity()), map[string]string{"id": id}))
	if rr.Code != http.StatusOK || service.newStatus != models.ConsultantStatusUnavailable {
		t.Fatalf("expected status update, got %d %s", rr.Code, service.newStatus)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/consultants/"+id+"/status", bytes.NewBufferString(`{"status":"away"}`))
	rr = httptest.NewRecorder()
	handler.UpdateStatus(rr, withURLParams(withIdentity(req, adminIdentity()), map[string]string{"id": id}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid status, got %d", rr.Code)
	}
}
