package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tarot-system/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-test-key"

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier(testSecret, "admin")
	userID := uuid.New()

	token, err := v.Sign(userID, "admin", time.Hour)
	require.NoError(t, err)

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, identity.UserID)
	assert.True(t, identity.IsAdmin())
}

func TestVerifier_ClientRole(t *testing.T) {
	v := NewVerifier(testSecret, "admin")
	token, err := v.Sign(uuid.New(), "", time.Hour)
	require.NoError(t, err)

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, models.UserRoleClient, identity.Role)
	assert.False(t, identity.IsAdmin())
}

func TestVerifier_TopLevelRoleClaim(t *testing.T) {
	v := NewVerifier(testSecret, "admin")
	claims := &Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.True(t, identity.IsAdmin())
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier(testSecret, "admin")

	expired, err := v.Sign(uuid.New(), "", -time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.Error(t, err, "expired token must be rejected")

	other := NewVerifier("another-secret", "admin")
	foreign, err := other.Sign(uuid.New(), "admin", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	assert.Error(t, err, "token signed with another secret must be rejected")

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}})
	signed, err := noExp.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = v.Verify(signed)
	assert.Error(t, err, "token without exp must be rejected")

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "not-a-uuid",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	signed, err = badSubject.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = v.Verify(signed)
	assert.Error(t, err)

	_, err = NewVerifier("", "admin").Verify("whatever")
	assert.Error(t, err)
}

func TestIdentity_CanAccess(t *testing.T) {
	owner := uuid.New()
	client := &Identity{UserID: owner, Role: models.UserRoleClient}
	stranger := &Identity{UserID: uuid.New(), Role: models.UserRoleClient}
	admin := &Identity{UserID: uuid.New(), Role: models.UserRoleAdmin}

	assert.True(t, client.CanAccess(owner))
	assert.False(t, stranger.CanAccess(owner))
	assert.True(t, admin.CanAccess(owner))

	var nobody *Identity
	assert.False(t, nobody.CanAccess(owner))
}

func okHandler(t *testing.T, want *Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := FromContext(r.Context())
		require.True(t, ok)
		if want != nil {
			assert.Equal(t, want.UserID, identity.UserID)
			assert.Equal(t, want.Role, identity.Role)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAuth_Bearer(t *testing.T) {
	v := NewVerifier(testSecret, "admin")
	userID := uuid.New()
	token, err := v.Sign(userID, "", time.Hour)
	require.NoError(t, err)

	h := RequireAuth(v, "")(okHandler(t, &Identity{UserID: userID, Role: models.UserRoleClient}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequireAuth_QueryToken(t *testing.T) {
	v := NewVerifier(testSecret, "admin")
	token, err := v.Sign(uuid.New(), "", time.Hour)
	require.NoError(t, err)

	h := RequireAuth(v, "")(okHandler(t, nil))
	req := httptest.NewRequest(http.MethodGet, "/api/events?access_token="+token, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequireAuth_MissingOrInvalid(t *testing.T) {
	v := NewVerifier(testSecret, "admin")
	h := RequireAuth(v, "")(okHandler(t, nil))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireAuth_ServiceKey(t *testing.T) {
	v := NewVerifier(testSecret, "admin")
	h := RequireAuth(v, "svc-key")(okHandler(t, &Identity{UserID: uuid.Nil, Role: models.UserRoleAdmin}))

	req := httptest.NewRequest(http.MethodPost, "/api/loyalty/accrue", nil)
	req.Header.Set(ServiceKeyHeader, "svc-key")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/loyalty/accrue", nil)
	req.Header.Set(ServiceKeyHeader, "wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequireAdmin(next)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/coupons", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/coupons", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{UserID: uuid.New(), Role: models.UserRoleClient}))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/coupons", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{UserID: uuid.New(), Role: models.UserRoleAdmin}))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
