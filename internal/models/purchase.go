package models

import (
	"time"

	"github.com/google/uuid"
)

// PurchaseStatus представляет статус покупки минут
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusApproved  PurchaseStatus = "approved"
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
)

// Purchase представляет покупку пакета минут через PIX
type Purchase struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	UserID        uuid.UUID      `json:"user_id" db:"user_id"`
	Minutes       int            `json:"minutes" db:"minutes"`
	BonusMinutes  int            `json:"bonus_minutes" db:"bonus_minutes"`
	OriginalValue float64        `json:"original_value" db:"original_value"`
	DiscountValue float64        `json:"discount_value" db:"discount_value"`
	Value         float64        `json:"value" db:"value"`
	Status        PurchaseStatus `json:"status" db:"status"`
	CouponID      *uuid.UUID     `json:"coupon_id,omitempty" db:"coupon_id"`
	PixTxID       string         `json:"pix_txid" db:"pix_txid"`
	ReviewedBy    *uuid.UUID     `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt    *time.Time     `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// CreditedMinutes возвращает минуты, зачисляемые при одобрении.
func (p *Purchase) CreditedMinutes() int {
	return p.Minutes + p.BonusMinutes
}

// CreatePurchaseRequest представляет запрос на покупку минут
type CreatePurchaseRequest struct {
	Minutes    int     `json:"minutes"`
	CouponCode *string `json:"coupon_code,omitempty"`
}

// Checkout возвращает покупку вместе с PIX "copia e cola"
type Checkout struct {
	Purchase   *Purchase `json:"purchase"`
	PixPayload string    `json:"pix_payload,omitempty"`
}

// PurchaseFilter задаёт выборку покупок
type PurchaseFilter struct {
	UserID *uuid.UUID
	Status *PurchaseStatus
	Limit  int
	Offset int
}
