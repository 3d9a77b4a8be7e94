package models

import (
	"time"

	"github.com/google/uuid"
)

// CouponKind описывает тип купона.
type CouponKind string

const (
	CouponKindPercentage   CouponKind = "percentage"
	CouponKindFixedAmount  CouponKind = "fixed_amount"
	CouponKindBonusMinutes CouponKind = "bonus_minutes"
)

// CouponStatus описывает состояние купона.
type CouponStatus string

const (
	CouponStatusActive   CouponStatus = "active"
	CouponStatusInactive CouponStatus = "inactive"
	CouponStatusExpired  CouponStatus = "expired"
)

// Coupon представляет купон на скидку или бонусные минуты.
type Coupon struct {
	ID                       uuid.UUID    `json:"id" db:"id"`
	Code                     string       `json:"code" db:"code"`
	Description              string       `json:"description" db:"description"`
	Kind                     CouponKind   `json:"kind" db:"kind"`
	DiscountValue            float64      `json:"discount_value" db:"discount_value"`
	MinimumValue             float64      `json:"minimum_value" db:"minimum_value"`
	TotalUsageLimit          *int         `json:"total_usage_limit,omitempty" db:"total_usage_limit"`
	PerUserLimit             *int         `json:"per_user_limit,omitempty" db:"per_user_limit"`
	NewUsersOnly             bool         `json:"new_users_only" db:"new_users_only"`
	StartDate                time.Time    `json:"start_date" db:"start_date"`
	EndDate                  *time.Time   `json:"end_date,omitempty" db:"end_date"`
	Status                   CouponStatus `json:"status" db:"status"`
	TotalUses                int          `json:"total_uses" db:"total_uses"`
	TotalDiscountGranted     float64      `json:"total_discount_granted" db:"total_discount_granted"`
	TotalBonusMinutesGranted int          `json:"total_bonus_minutes_granted" db:"total_bonus_minutes_granted"`
	CreatedAt                time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time    `json:"updated_at" db:"updated_at"`
}

// CouponRequest описывает создание и обновление купона.
type CouponRequest struct {
	Code            string       `json:"code"`
	Description     string       `json:"description"`
	Kind            CouponKind   `json:"kind"`
	DiscountValue   float64      `json:"discount_value"`
	MinimumValue    float64      `json:"minimum_value"`
	TotalUsageLimit *int         `json:"total_usage_limit,omitempty"`
	PerUserLimit    *int         `json:"per_user_limit,omitempty"`
	NewUsersOnly    bool         `json:"new_users_only"`
	StartDate       *time.Time   `json:"start_date,omitempty"`
	EndDate         *time.Time   `json:"end_date,omitempty"`
	Status          CouponStatus `json:"status"`
}

// CouponRedemption фиксирует одно использование купона. Записи не изменяются.
type CouponRedemption struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	CouponID      uuid.UUID  `json:"coupon_id" db:"coupon_id"`
	UserID        uuid.UUID  `json:"user_id" db:"user_id"`
	PurchaseID    *uuid.UUID `json:"purchase_id,omitempty" db:"purchase_id"`
	OriginalValue float64    `json:"original_value" db:"original_value"`
	DiscountValue float64    `json:"discount_value" db:"discount_value"`
	FinalValue    float64    `json:"final_value" db:"final_value"`
	BonusMinutes  int        `json:"bonus_minutes" db:"bonus_minutes"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// CouponFailure - стабильный код причины отказа.
type CouponFailure string

const (
	CouponFailureNotFound            CouponFailure = "not_found"
	CouponFailureInactive            CouponFailure = "inactive"
	CouponFailureBelowMinimum        CouponFailure = "below_minimum"
	CouponFailureNewUsersOnly        CouponFailure = "new_users_only"
	CouponFailureTotalLimitReached   CouponFailure = "total_limit_reached"
	CouponFailurePerUserLimitReached CouponFailure = "per_user_limit_reached"
)

// CouponValidation - результат проверки купона.
type CouponValidation struct {
	Valid         bool          `json:"valid"`
	Coupon        *Coupon       `json:"coupon,omitempty"`
	Failure       CouponFailure `json:"failure,omitempty"`
	Message       string        `json:"message"`
	Discount      float64       `json:"discount"`
	FinalValue    float64       `json:"final_value"`
	BonusMinutes  int           `json:"bonus_minutes"`
	OriginalValue float64       `json:"original_value"`
}

// ValidateCouponRequest - тело запроса проверки купона (поля в формате клиента).
type ValidateCouponRequest struct {
	Code        string    `json:"code"`
	UserID      uuid.UUID `json:"usuarioId"`
	ValorCompra float64   `json:"valorCompra"`
}

// ValidateCouponResponse - ответ проверки купона в формате клиента.
type ValidateCouponResponse struct {
	Valido       bool    `json:"valido"`
	Cupom        *Coupon `json:"cupom,omitempty"`
	Mensagem     string  `json:"mensagem"`
	Motivo       string  `json:"motivo,omitempty"`
	Desconto     float64 `json:"desconto"`
	ValorFinal   float64 `json:"valorFinal"`
	MinutosBonus int     `json:"minutosBonus"`
}
