package services

import (
	"context"
	"testing"
	"time"

	"tarot-system/internal/apperror"
	"tarot-system/internal/config"
	"tarot-system/internal/models"
	"tarot-system/internal/redis"

	"github.com/DATA-DOG/go-sqlmock"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

func expectDashboardQueries(mock sqlmock.Sqlmock, from, to time.Time, top int, consultantID uuid.UUID) {
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(value\\)").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"revenue", "approved", "pending"}).AddRow(1250.5, 12, 3))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS finished").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"finished", "minutes", "avg_minutes"}).AddRow(40, 1100, 27.5))
	mock.ExpectQuery("FROM coupon_redemptions").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(85.0))
	mock.ExpectQuery("FROM loyalty_bonus_grants").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(45))
	mock.ExpectQuery("SELECT c.id AS consultant_id").
		WithArgs(from, to, top).
		WillReturnRows(sqlmock.NewRows([]string{"consultant_id", "name", "rating", "sessions", "minutes"}).
			AddRow(consultantID, "Madame Luna", 4.9, 25, 700))
}

func TestDashboardService_GetSummary(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	service := NewDashboardService(db, nil, newTestLogger(), &config.DashboardConfig{DefaultTopLimit: 3})
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	consultantID := uuid.New()

	expectDashboardQueries(mock, from, to, 3, consultantID)

	summary, err := service.GetSummary(context.Background(), &models.DashboardFilter{From: from, To: to})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if summary.Revenue != 1250.5 || summary.ApprovedPurchases != 12 || summary.PendingPurchases != 3 {
		t.Fatalf("unexpected purchase totals: %+v", summary)
	}
	if summary.FinishedSessions != 40 || summary.MinutesConsumed != 1100 || summary.AvgSessionMinutes != 27.5 {
		t.Fatalf("unexpected session totals: %+v", summary)
	}
	if summary.CouponDiscountGranted != 85 || summary.LoyaltyMinutesGranted != 45 {
		t.Fatalf("unexpected coupon/loyalty totals: %+v", summary)
	}
	if len(summary.TopConsultants) != 1 || summary.TopConsultants[0].ConsultantID != consultantID || summary.TopConsultants[0].Sessions != 25 {
		t.Fatalf("unexpected top consultants: %+v", summary.TopConsultants)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDashboardService_GetSummary_UsesCache(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	mr := miniredis.RunT(t)
	defer mr.Close()
	rdb, err := redis.Connect(&config.RedisConfig{Host: "127.0.0.1", Port: mr.Port(), DB: 0}, newTestLogger())
	if err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}

	service := NewDashboardService(db, rdb, newTestLogger(), &config.DashboardConfig{CacheTTLMinutes: 1})
	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)

	expectDashboardQueries(mock, from, to, DefaultTopConsultantsLimit, uuid.New())

	first, err := service.GetSummary(context.Background(), &models.DashboardFilter{From: from, To: to})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	second, err := service.GetSummary(context.Background(), &models.DashboardFilter{From: from, To: to})
	if err != nil {
		t.Fatalf("expected cached summary, got error: %v", err)
	}

	if second.Revenue != first.Revenue || len(second.TopConsultants) != 1 {
		t.Fatalf("cached summary differs: %+v vs %+v", second, first)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected a single round of queries: %v", err)
	}
}

func TestDashboardService_NormalizeFilter(t *testing.T) {
	service := NewDashboardService(nil, nil, newTestLogger(), &config.DashboardConfig{MaxRangeDays: 31})
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	filter, err := service.normalizeFilter(nil, now)
	if err != nil {
		t.Fatalf("expected defaults, got error: %v", err)
	}
	if !filter.To.Equal(now) || !filter.From.Equal(now.Add(-defaultDashboardRange)) || filter.TopLimit != DefaultTopConsultantsLimit {
		t.Fatalf("unexpected default filter: %+v", filter)
	}

	_, err = service.normalizeFilter(&models.DashboardFilter{From: now, To: now.Add(-time.Hour)}, now)
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error for inverted range, got %v", err)
	}

	_, err = service.normalizeFilter(&models.DashboardFilter{From: now.AddDate(0, -3, 0), To: now}, now)
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error for wide range, got %v", err)
	}
}
