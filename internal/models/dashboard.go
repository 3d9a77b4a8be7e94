package models

import (
	"time"

	"github.com/google/uuid"
)

// DashboardFilter задает временной интервал для панели администратора.
type DashboardFilter struct {
	From     time.Time
	To       time.Time
	TopLimit int
}

// DashboardSummary описывает показатели бизнеса за период.
type DashboardSummary struct {
	From                  time.Time           `json:"from"`
	To                    time.Time           `json:"to"`
	Revenue               float64             `json:"revenue"`
	ApprovedPurchases     int                 `json:"approved_purchases"`
	PendingPurchases      int                 `json:"pending_purchases"`
	FinishedSessions      int                 `json:"finished_sessions"`
	MinutesConsumed       int                 `json:"minutes_consumed"`
	AvgSessionMinutes     float64             `json:"avg_session_minutes"`
	CouponDiscountGranted float64             `json:"coupon_discount_granted"`
	LoyaltyMinutesGranted int                 `json:"loyalty_minutes_granted"`
	TopConsultants        []ConsultantMetrics `json:"top_consultants"`
	GeneratedAt           time.Time           `json:"generated_at"`
}

// ConsultantMetrics агрегирует метрики по тарологу.
type ConsultantMetrics struct {
	ConsultantID uuid.UUID `json:"consultant_id" db:"consultant_id"`
	Name         string    `json:"name" db:"name"`
	Rating       float64   `json:"rating" db:"rating"`
	Sessions     int       `json:"sessions" db:"sessions"`
	Minutes      int       `json:"minutes" db:"minutes"`
}
