package services

import (
	"context"
	"fmt"
	"time"

	"tarot-system/internal/apperror"
	"tarot-system/internal/config"
	"tarot-system/internal/database"
	"tarot-system/internal/logger"
	"tarot-system/internal/models"
	"tarot-system/internal/redis"
)

const (
	DefaultTopConsultantsLimit = 5
	defaultDashboardRange      = 30 * 24 * time.Hour
	defaultCacheTTL            = 5 * time.Minute
)

// DashboardService агрегирует показатели для панели администратора и кеширует их.
type DashboardService struct {
	db           *database.DB
	redis        *redis.Client
	log          *logger.Logger
	cacheTTL     time.Duration
	maxRange     time.Duration
	defaultTop   int
	defaultRange time.Duration
}

// NewDashboardService создает новый сервис панели администратора.
func NewDashboardService(db *database.DB, redisClient *redis.Client, log *logger.Logger, cfg *config.DashboardConfig) *DashboardService {
	cacheTTL := defaultCacheTTL
	defaultTop := DefaultTopConsultantsLimit
	var maxRange time.Duration

	if cfg != nil {
		if cfg.CacheTTLMinutes > 0 {
			cacheTTL = time.Duration(cfg.CacheTTLMinutes) * time.Minute
		}
		if cfg.DefaultTopLimit > 0 {
			defaultTop = cfg.DefaultTopLimit
		}
		if cfg.MaxRangeDays > 0 {
			maxRange = time.Duration(cfg.MaxRangeDays) * 24 * time.Hour
		}
	}

	return &DashboardService{
		db:           db,
		redis:        redisClient,
		log:          log,
		cacheTTL:     cacheTTL,
		maxRange:     maxRange,
		defaultTop:   defaultTop,
		defaultRange: defaultDashboardRange,
	}
}

// GetSummary возвращает сводку за период с кешированием.
func (s *DashboardService) GetSummary(ctx context.Context, filter *models.DashboardFilter) (*models.DashboardSummary, error) {
	filter, err := s.normalizeFilter(filter, time.Now())
	if err != nil {
		return nil, err
	}
	cacheKey := s.buildCacheKey(filter)

	var cached models.DashboardSummary
	if s.tryGetFromCache(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	summary := &models.DashboardSummary{
		From: filter.From,
		To:   filter.To,
	}

	purchasesQuery := `
		SELECT COALESCE(SUM(value) FILTER (WHERE status = 'approved'), 0) AS revenue,
		       COUNT(*) FILTER (WHERE status = 'approved') AS approved,
		       COUNT(*) FILTER (WHERE status = 'pending') AS pending
		FROM purchases
		WHERE created_at BETWEEN $1 AND $2
	`
	if err := s.db.QueryRowContext(ctx, purchasesQuery, filter.From, filter.To).
		Scan(&summary.Revenue, &summary.ApprovedPurchases, &summary.PendingPurchases); err != nil {
		return nil, fmt.Errorf("failed to load purchase totals: %w", err)
	}

	sessionsQuery := `
		SELECT COUNT(*) AS finished,
		       COALESCE(SUM(minutes_used), 0) AS minutes,
		       COALESCE(AVG(minutes_used), 0) AS avg_minutes
		FROM sessions
		WHERE status = 'finished' AND end_time BETWEEN $1 AND $2
	`
	if err := s.db.QueryRowContext(ctx, sessionsQuery, filter.From, filter.To).
		Scan(&summary.FinishedSessions, &summary.MinutesConsumed, &summary.AvgSessionMinutes); err != nil {
		return nil, fmt.Errorf("failed to load session totals: %w", err)
	}

	couponsQuery := `SELECT COALESCE(SUM(discount_value), 0) FROM coupon_redemptions WHERE created_at BETWEEN $1 AND $2`
	if err := s.db.QueryRowContext(ctx, couponsQuery, filter.From, filter.To).Scan(&summary.CouponDiscountGranted); err != nil {
		return nil, fmt.Errorf("failed to load coupon totals: %w", err)
	}

	loyaltyQuery := `SELECT COALESCE(SUM(minutes_granted), 0) FROM loyalty_bonus_grants WHERE created_at BETWEEN $1 AND $2`
	if err := s.db.QueryRowContext(ctx, loyaltyQuery, filter.From, filter.To).Scan(&summary.LoyaltyMinutesGranted); err != nil {
		return nil, fmt.Errorf("failed to load loyalty totals: %w", err)
	}

	top, err := s.fetchTopConsultants(ctx, filter)
	if err != nil {
		return nil, err
	}

	summary.Revenue = round2(summary.Revenue)
	summary.CouponDiscountGranted = round2(summary.CouponDiscountGranted)
	summary.AvgSessionMinutes = round2(summary.AvgSessionMinutes)
	summary.TopConsultants = top
	summary.GeneratedAt = time.Now()

	s.saveToCache(ctx, cacheKey, summary)
	return summary, nil
}

func (s *DashboardService) fetchTopConsultants(ctx context.Context, filter *models.DashboardFilter) ([]models.ConsultantMetrics, error) {
	query := `
		SELECT c.id AS consultant_id,
		       c.name,
		       c.rating,
		       COUNT(s.id) AS sessions,
		       COALESCE(SUM(s.minutes_used), 0) AS minutes
		FROM consultants c
		JOIN sessions s ON s.consultant_id = c.id
			AND s.status = 'finished'
			AND s.end_time BETWEEN $1 AND $2
		GROUP BY c.id, c.name, c.rating
		ORDER BY sessions DESC, minutes DESC, c.rating DESC, c.name ASC
		LIMIT $3
	`

	top := []models.ConsultantMetrics{}
	if err := s.db.Sqlx().SelectContext(ctx, &top, query, filter.From, filter.To, filter.TopLimit); err != nil {
		return nil, fmt.Errorf("failed to load top consultants: %w", err)
	}
	return top, nil
}

func (s *DashboardService) normalizeFilter(filter *models.DashboardFilter, now time.Time) (*models.DashboardFilter, error) {
	if filter == nil {
		filter = &models.DashboardFilter{}
	}
	if filter.To.IsZero() {
		filter.To = now
	}
	if filter.From.IsZero() {
		filter.From = filter.To.Add(-s.defaultRange)
	}
	if filter.From.After(filter.To) {
		return nil, apperror.Validation("from must be before to", nil)
	}
	if s.maxRange > 0 && filter.To.Sub(filter.From) > s.maxRange {
		return nil, apperror.Validation("date range is too wide", nil)
	}
	if filter.TopLimit <= 0 {
		filter.TopLimit = s.defaultTop
	}
	return filter, nil
}

// Ключ округляется до минуты, иначе запросы с to=now никогда не попадут в кеш.
func (s *DashboardService) buildCacheKey(filter *models.DashboardFilter) string {
	return redis.GenerateKey(redis.KeyPrefixDashboard, fmt.Sprintf(
		"summary:%s:%s:%d",
		filter.From.UTC().Truncate(time.Minute).Format("200601021504"),
		filter.To.UTC().Truncate(time.Minute).Format("200601021504"),
		filter.TopLimit,
	))
}

func (s *DashboardService) tryGetFromCache(ctx context.Context, key string, dest interface{}) bool {
	if s.redis == nil {
		return false
	}

	if err := s.redis.Get(ctx, key, dest); err != nil {
		return false
	}
	return true
}

func (s *DashboardService) saveToCache(ctx context.Context, key string, value interface{}) {
	if s.redis == nil {
		return
	}

	if err := s.redis.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("Failed to cache dashboard summary")
	}
}
