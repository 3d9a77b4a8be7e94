package auth

import (
	"fmt"
	"time"

	"tarot-system/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims - полезная нагрузка токена доступа провайдера аутентификации.
// Роль администратора приходит либо в app_metadata.role, либо в role.
type Claims struct {
	Role        string      `json:"role,omitempty"`
	Email       string      `json:"email,omitempty"`
	Phone       string      `json:"phone,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata"`
	jwt.RegisteredClaims
}

// AppMetadata - серверные атрибуты пользователя, которые клиент не может изменить.
type AppMetadata struct {
	Role string `json:"role,omitempty"`
}

// Identity - проверенный вызывающий.
type Identity struct {
	UserID  uuid.UUID
	Role    models.UserRole
	Service bool
}

// IsAdmin сообщает, может ли вызывающий выполнять операции бэк-офиса.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == models.UserRoleAdmin
}

// CanAccess разрешает доступ владельцу ресурса и администратору.
func (i *Identity) CanAccess(ownerID uuid.UUID) bool {
	if i == nil {
		return false
	}
	return i.IsAdmin() || i.UserID == ownerID
}

// Verifier проверяет HS256-токены доступа.
type Verifier struct {
	secret    []byte
	adminRole string
	leeway    time.Duration
}

// NewVerifier создает верификатор. adminRole - значение роли, дающее права администратора.
func NewVerifier(secret, adminRole string) *Verifier {
	if adminRole == "" {
		adminRole = string(models.UserRoleAdmin)
	}
	return &Verifier{
		secret:    []byte(secret),
		adminRole: adminRole,
		leeway:    30 * time.Second,
	}
}

// Verify разбирает токен и возвращает вызывающего.
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("jwt secret is not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}

	role := models.UserRoleClient
	if claims.AppMetadata.Role == v.adminRole || claims.Role == v.adminRole {
		role = models.UserRoleAdmin
	}

	return &Identity{UserID: userID, Role: role}, nil
}

// Sign выпускает токен. Используется внутренними инструментами и тестами;
// в продакшене токены выпускает провайдер аутентификации.
func (v *Verifier) Sign(userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		AppMetadata: AppMetadata{Role: role},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
