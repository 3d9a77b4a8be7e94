package models

import (
	"time"

	"github.com/google/uuid"
)

// ConsultantStatus представляет доступность таролога
type ConsultantStatus string

const (
	ConsultantStatusAvailable   ConsultantStatus = "available"
	ConsultantStatusBusy        ConsultantStatus = "busy"
	ConsultantStatusUnavailable ConsultantStatus = "unavailable"
)

// Valid сообщает, известен ли статус.
func (s ConsultantStatus) Valid() bool {
	switch s {
	case ConsultantStatusAvailable, ConsultantStatusBusy, ConsultantStatusUnavailable:
		return true
	}
	return false
}

// Consultant представляет таролога
type Consultant struct {
	ID                 uuid.UUID        `json:"id" db:"id"`
	Name               string           `json:"name" db:"name"`
	Bio                string           `json:"bio" db:"bio"`
	Specialties        string           `json:"specialties" db:"specialties"`
	PhotoURL           string           `json:"photo_url" db:"photo_url"`
	Status             ConsultantStatus `json:"status" db:"status"`
	BusyUntil          *time.Time       `json:"busy_until,omitempty" db:"busy_until"`
	Rating             float64          `json:"rating" db:"rating"`
	TotalReviews       int              `json:"total_reviews" db:"total_reviews"`
	TotalConsultations int              `json:"total_consultations" db:"total_consultations"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

// CreateConsultantRequest представляет запрос на создание таролога
type CreateConsultantRequest struct {
	Name        string `json:"name"`
	Bio         string `json:"bio"`
	Specialties string `json:"specialties"`
	PhotoURL    string `json:"photo_url"`
}

// UpdateConsultantRequest представляет запрос на обновление профиля таролога
type UpdateConsultantRequest struct {
	Name        string `json:"name"`
	Bio         string `json:"bio"`
	Specialties string `json:"specialties"`
	PhotoURL    string `json:"photo_url"`
}

// UpdateConsultantStatusRequest представляет запрос на смену статуса
type UpdateConsultantStatusRequest struct {
	Status ConsultantStatus `json:"status"`
}
