package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"tarot-system/internal/auth"
	"tarot-system/internal/models"
)

func TestUUIDParam(t *testing.T) {
	id := "123e4567-e89b-12d3-a456-426614174000"
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil), map[string]string{"id": id})

	parsed, err := uuidParam(req, "id")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.String() != id {
		t.Fatalf("unexpected id: %s", parsed)
	}

	bad := withURLParams(httptest.NewRequest(http.MethodGet, "/api/sessions/x", nil), map[string]string{"id": "x"})
	if _, err := uuidParam(bad, "id"); err == nil {
		t.Fatalf("expected error for invalid uuid")
	}

	if _, err := uuidParam(httptest.NewRequest(http.MethodGet, "/", nil), "id"); err == nil {
		t.Fatalf("expected error for missing param")
	}
}

func TestParsePagination(t *testing.T) {
	limit, offset, err := parsePagination(httptest.NewRequest(http.MethodGet, "/api/users?limit=20&offset=40", nil))
	if err != nil || limit != 20 || offset != 40 {
		t.Fatalf("unexpected pagination: %d %d %v", limit, offset, err)
	}

	if _, _, err := parsePagination(httptest.NewRequest(http.MethodGet, "/api/users?limit=-1", nil)); err == nil {
		t.Fatalf("expected error for negative limit")
	}
	if _, _, err := parsePagination(httptest.NewRequest(http.MethodGet, "/api/users?offset=abc", nil)); err == nil {
		t.Fatalf("expected error for invalid offset")
	}
}

func TestActorID(t *testing.T) {
	if actorID(&auth.Identity{Service: true, Role: models.UserRoleAdmin}) != nil {
		t.Fatalf("service identity must not produce actor id")
	}
	admin := adminIdentity()
	if got := actorID(admin); got == nil || *got != admin.UserID {
		t.Fatalf("unexpected actor id: %v", got)
	}
}

func TestWriteJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]string{"ok": "true"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content-type: %s", ct)
	}
	if body := rr.Body.String(); body == "" {
		t.Fatalf("empty body")
	}
}
