package services

import (
	"testing"
	"time"

	"tarot-system/internal/config"
	"tarot-system/internal/database"
	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "debug", Format: "json"})
}

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	return &database.DB{DB: db}, mock
}

func newTestBusinessRules() config.BusinessConfig {
	return config.BusinessConfig{
		MinSessionMinutes:     20,
		MaxSessionMinutes:     180,
		BonusMinutes:          5,
		ConsultantBusyMinutes: 30,
	}
}

var sessionTestColumns = []string{
	"id", "user_id", "consultant_id", "operator_id", "minutes_purchased", "minutes_used", "bonus_used", "status",
	"finish_reason", "start_time", "end_time", "rating", "review_comment", "created_at", "updated_at",
}

func sessionRow(s *models.Session) *sqlmock.Rows {
	return sqlmock.NewRows(sessionTestColumns).AddRow(
		s.ID, s.UserID, s.ConsultantID, s.OperatorID, s.MinutesPurchased, s.MinutesUsed, s.BonusUsed, s.Status,
		s.FinishReason, s.StartTime, s.EndTime, s.Rating, s.ReviewComment, s.CreatedAt, s.UpdatedAt,
	)
}

var couponTestColumns = []string{
	"id", "code", "description", "kind", "discount_value", "minimum_value", "total_usage_limit", "per_user_limit",
	"new_users_only", "start_date", "end_date", "status", "total_uses", "total_discount_granted",
	"total_bonus_minutes_granted", "created_at", "updated_at",
}

func couponRow(c *models.Coupon) *sqlmock.Rows {
	return sqlmock.NewRows(couponTestColumns).AddRow(
		c.ID, c.Code, c.Description, c.Kind, c.DiscountValue, c.MinimumValue, c.TotalUsageLimit, c.PerUserLimit,
		c.NewUsersOnly, c.StartDate, c.EndDate, c.Status, c.TotalUses, c.TotalDiscountGranted,
		c.TotalBonusMinutesGranted, c.CreatedAt, c.UpdatedAt,
	)
}

var purchaseTestColumns = []string{
	"id", "user_id", "minutes", "bonus_minutes", "original_value", "discount_value", "value", "status",
	"coupon_id", "pix_txid", "reviewed_by", "reviewed_at", "created_at", "updated_at",
}

func purchaseRow(p *models.Purchase) *sqlmock.Rows {
	return sqlmock.NewRows(purchaseTestColumns).AddRow(
		p.ID, p.UserID, p.Minutes, p.BonusMinutes, p.OriginalValue, p.DiscountValue, p.Value, p.Status,
		p.CouponID, p.PixTxID, p.ReviewedBy, p.ReviewedAt, p.CreatedAt, p.UpdatedAt,
	)
}

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }
