package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole определяет права пользователя
type UserRole string

const (
	UserRoleClient UserRole = "client"
	UserRoleAdmin  UserRole = "admin"
)

// User представляет клиента или администратора
type User struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	Name               string    `json:"name" db:"name"`
	Phone              string    `json:"phone" db:"phone"`
	Role               UserRole  `json:"role" db:"role"`
	MinutesAvailable   int       `json:"minutes_available" db:"minutes_available"`
	MinutesAccumulated int       `json:"minutes_accumulated" db:"minutes_accumulated"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// UpdateProfileRequest описывает данные профиля при первом входе
type UpdateProfileRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// CreditMinutesRequest описывает ручное начисление минут администратором
type CreditMinutesRequest struct {
	Minutes int    `json:"minutes"`
	Reason  string `json:"reason,omitempty"`
}
