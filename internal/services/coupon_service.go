package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tarot-system/internal/apperror"
	"tarot-system/internal/database"
	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	"github.com/google/uuid"
)

const couponColumns = `id, code, description, kind, discount_value, minimum_value, total_usage_limit, per_user_limit,
		new_users_only, start_date, end_date, status, total_uses, total_discount_granted, total_bonus_minutes_granted,
		created_at, updated_at`

// CouponService ведёт купоны и учёт их использования.
type CouponService struct {
	db  *database.DB
	log *logger.Logger
}

// NewCouponService создаёт сервис купонов.
func NewCouponService(db *database.DB, log *logger.Logger) *CouponService {
	return &CouponService{
		db:  db,
		log: log,
	}
}

// CreateCoupon создаёт новый купон.
func (s *CouponService) CreateCoupon(ctx context.Context, req *models.CouponRequest) (*models.Coupon, error) {
	if err := validateCouponPayload(req); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	now := time.Now()
	coupon := &models.Coupon{
		ID:              uuid.New(),
		Code:            normalizeCouponCode(req.Code),
		Description:     req.Description,
		Kind:            req.Kind,
		DiscountValue:   req.DiscountValue,
		MinimumValue:    req.MinimumValue,
		TotalUsageLimit: req.TotalUsageLimit,
		PerUserLimit:    req.PerUserLimit,
		NewUsersOnly:    req.NewUsersOnly,
		StartDate:       now,
		EndDate:         req.EndDate,
		Status:          req.Status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.StartDate != nil {
		coupon.StartDate = *req.StartDate
	}
	if coupon.Status == "" {
		coupon.Status = models.CouponStatusActive
	}

	query := `
		INSERT INTO coupons (id, code, description, kind, discount_value, minimum_value, total_usage_limit, per_user_limit,
		                     new_users_only, start_date, end_date, status, total_uses, total_discount_granted,
		                     total_bonus_minutes_granted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, 0, 0, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query, coupon.ID, coupon.Code, coupon.Description, coupon.Kind, coupon.DiscountValue,
		coupon.MinimumValue, coupon.TotalUsageLimit, coupon.PerUserLimit, coupon.NewUsersOnly, coupon.StartDate,
		coupon.EndDate, coupon.Status, coupon.CreatedAt, coupon.UpdatedAt)
	if err != nil {
		if isPQError(err, pqUniqueViolation) {
			return nil, apperror.Conflict("coupon code already exists", err)
		}
		return nil, fmt.Errorf("failed to create coupon: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"coupon_id": coupon.ID,
		"code":      coupon.Code,
		"kind":      coupon.Kind,
	}).Info("Coupon created")

	return coupon, nil
}

// GetCoupon возвращает купон по идентификатору.
func (s *CouponService) GetCoupon(ctx context.Context, couponID uuid.UUID) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	coupon, err := scanCoupon(s.db.QueryRowContext(ctx, query, couponID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("coupon not found", err)
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return coupon, nil
}

// ListCoupons возвращает список купонов, опционально по статусу.
func (s *CouponService) ListCoupons(ctx context.Context, status *models.CouponStatus, limit, offset int) ([]*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons`
	args := []interface{}{}
	argIndex := 1

	if status != nil {
		query += fmt.Sprintf(" WHERE status = $%d", argIndex)
		args = append(args, *status)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, normalizeLimit(limit), offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	defer rows.Close()

	var coupons []*models.Coupon
	for rows.Next() {
		coupon, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coupon: %w", err)
		}
		coupons = append(coupons, coupon)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate coupons: %w", err)
	}

	return coupons, nil
}

// UpdateCoupon обновляет параметры купона. Код использованного купона менять нельзя.
func (s *CouponService) UpdateCoupon(ctx context.Context, couponID uuid.UUID, req *models.CouponRequest) (*models.Coupon, error) {
	if err := validateCouponPayload(req); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		currentCode string
		totalUses   int
		startDate   time.Time
		status      models.CouponStatus
	)
	err = tx.QueryRowContext(ctx, "SELECT code, total_uses, start_date, status FROM coupons WHERE id = $1 FOR UPDATE", couponID).
		Scan(&currentCode, &totalUses, &startDate, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("coupon not found", err)
		}
		return nil, fmt.Errorf("failed to lock coupon: %w", err)
	}

	code := normalizeCouponCode(req.Code)
	if code != currentCode && totalUses > 0 {
		return nil, apperror.Conflict("coupon code cannot be changed after it has been used", nil)
	}
	if req.StartDate != nil {
		startDate = *req.StartDate
	}
	if req.Status != "" {
		status = req.Status
	}

	query := `
		UPDATE coupons
		SET code = $1, description = $2, kind = $3, discount_value = $4, minimum_value = $5, total_usage_limit = $6,
		    per_user_limit = $7, new_users_only = $8, start_date = $9, end_date = $10, status = $11, updated_at = $12
		WHERE id = $13
	`
	_, err = tx.ExecContext(ctx, query, code, req.Description, req.Kind, req.DiscountValue, req.MinimumValue,
		req.TotalUsageLimit, req.PerUserLimit, req.NewUsersOnly, startDate, req.EndDate, status, time.Now(), couponID)
	if err != nil {
		if isPQError(err, pqUniqueViolation) {
			return nil, apperror.Conflict("coupon code already exists", err)
		}
		return nil, fmt.Errorf("failed to update coupon: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"coupon_id": couponID,
		"code":      code,
		"status":    status,
	}).Info("Coupon updated")

	return s.GetCoupon(ctx, couponID)
}

// DeleteCoupon удаляет неиспользованный купон. Использованный можно только деактивировать.
func (s *CouponService) DeleteCoupon(ctx context.Context, couponID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var totalUses int
	if err := tx.QueryRowContext(ctx, "SELECT total_uses FROM coupons WHERE id = $1 FOR UPDATE", couponID).Scan(&totalUses); err != nil {
		if err == sql.ErrNoRows {
			return apperror.NotFound("coupon not found", err)
		}
		return fmt.Errorf("failed to lock coupon: %w", err)
	}

	if totalUses > 0 {
		return apperror.Conflict("coupon has been used; deactivate it instead", nil)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM coupons WHERE id = $1", couponID); err != nil {
		return fmt.Errorf("failed to delete coupon: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.WithField("coupon_id", couponID).Info("Coupon deleted")
	return nil
}

// ListRedemptions возвращает историю использования купона.
func (s *CouponService) ListRedemptions(ctx context.Context, couponID uuid.UUID) ([]*models.CouponRedemption, error) {
	query := `
		SELECT id, coupon_id, user_id, purchase_id, original_value, discount_value, final_value, bonus_minutes, created_at
		FROM coupon_redemptions
		WHERE coupon_id = $1
		ORDER BY created_at DESC
	`

	redemptions := []*models.CouponRedemption{}
	if err := s.db.Sqlx().SelectContext(ctx, &redemptions, query, couponID); err != nil {
		return nil, fmt.Errorf("failed to list coupon redemptions: %w", err)
	}
	return redemptions, nil
}

// Validate проверяет купон для пользователя и суммы покупки без записи использования.
// Отказ по бизнес-правилу возвращается в результате, а не ошибкой.
func (s *CouponService) Validate(ctx context.Context, code string, userID uuid.UUID, amount float64) (*models.CouponValidation, error) {
	if amount < 0 {
		return nil, apperror.Validation("purchase amount must be non-negative", nil)
	}

	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`
	coupon, err := scanCoupon(s.db.QueryRowContext(ctx, query, normalizeCouponCode(code)))
	if err != nil {
		if err == sql.ErrNoRows {
			return rejectCoupon(nil, models.CouponFailureNotFound, amount), nil
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}

	return s.evaluate(ctx, s.db, coupon, userID, amount, time.Now())
}

// RedeemWithTx повторно проверяет купон под блокировкой строки и фиксирует использование
// в рамках транзакции покупки.
func (s *CouponService) RedeemWithTx(ctx context.Context, tx *sql.Tx, code string, userID, purchaseID uuid.UUID, amount float64) (*models.CouponValidation, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 FOR UPDATE`

	coupon, err := scanCoupon(tx.QueryRowContext(ctx, query, normalizeCouponCode(code)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("coupon not found", err)
		}
		return nil, fmt.Errorf("failed to lock coupon: %w", err)
	}

	result, err := s.evaluate(ctx, tx, coupon, userID, amount, time.Now())
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		switch result.Failure {
		case models.CouponFailureTotalLimitReached, models.CouponFailurePerUserLimitReached:
			return nil, apperror.Conflict(result.Message, nil)
		default:
			return nil, apperror.Validation(result.Message, nil)
		}
	}

	now := time.Now()
	insertQuery := `
		INSERT INTO coupon_redemptions (id, coupon_id, user_id, purchase_id, original_value, discount_value, final_value, bonus_minutes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.ExecContext(ctx, insertQuery, uuid.New(), coupon.ID, userID, purchaseID,
		result.OriginalValue, result.Discount, result.FinalValue, result.BonusMinutes, now); err != nil {
		return nil, fmt.Errorf("failed to record coupon redemption: %w", err)
	}

	updateQuery := `
		UPDATE coupons
		SET total_uses = total_uses + 1,
		    total_discount_granted = total_discount_granted + $1,
		    total_bonus_minutes_granted = total_bonus_minutes_granted + $2,
		    updated_at = $3
		WHERE id = $4 AND (total_usage_limit IS NULL OR total_uses < total_usage_limit)
	`
	res, err := tx.ExecContext(ctx, updateQuery, result.Discount, result.BonusMinutes, now, coupon.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update coupon usage: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperror.Conflict("coupon usage limit reached", nil)
	}

	coupon.TotalUses++
	coupon.TotalDiscountGranted = round2(coupon.TotalDiscountGranted + result.Discount)
	coupon.TotalBonusMinutesGranted += result.BonusMinutes

	s.log.WithFields(map[string]interface{}{
		"coupon_id":   coupon.ID,
		"user_id":     userID,
		"purchase_id": purchaseID,
		"discount":    result.Discount,
		"bonus":       result.BonusMinutes,
	}).Info("Coupon redeemed")

	return result, nil
}

// evaluate применяет правила купона по порядку: статус и период, минимальная сумма,
// только для новых клиентов, общий лимит, лимит на пользователя.
func (s *CouponService) evaluate(ctx context.Context, q queryer, coupon *models.Coupon, userID uuid.UUID, amount float64, now time.Time) (*models.CouponValidation, error) {
	if !couponInWindow(coupon, now) {
		return rejectCoupon(coupon, models.CouponFailureInactive, amount), nil
	}

	if amount < coupon.MinimumValue {
		return rejectCoupon(coupon, models.CouponFailureBelowMinimum, amount), nil
	}

	if coupon.NewUsersOnly {
		var hasApproved bool
		query := "SELECT EXISTS (SELECT 1 FROM purchases WHERE user_id = $1 AND status = $2)"
		if err := q.QueryRowContext(ctx, query, userID, models.PurchaseStatusApproved).Scan(&hasApproved); err != nil {
			return nil, fmt.Errorf("failed to check purchase history: %w", err)
		}
		if hasApproved {
			return rejectCoupon(coupon, models.CouponFailureNewUsersOnly, amount), nil
		}
	}

	if coupon.TotalUsageLimit != nil && coupon.TotalUses >= *coupon.TotalUsageLimit {
		return rejectCoupon(coupon, models.CouponFailureTotalLimitReached, amount), nil
	}

	if coupon.PerUserLimit != nil {
		var used int
		query := "SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2"
		if err := q.QueryRowContext(ctx, query, coupon.ID, userID).Scan(&used); err != nil {
			return nil, fmt.Errorf("failed to count coupon redemptions: %w", err)
		}
		if used >= *coupon.PerUserLimit {
			return rejectCoupon(coupon, models.CouponFailurePerUserLimitReached, amount), nil
		}
	}

	discount, bonus := calculateDiscount(coupon.Kind, coupon.DiscountValue, amount)
	return &models.CouponValidation{
		Valid:         true,
		Coupon:        coupon,
		Message:       "Cupom aplicado com sucesso",
		Discount:      discount,
		FinalValue:    round2(amount - discount),
		BonusMinutes:  bonus,
		OriginalValue: round2(amount),
	}, nil
}

func couponInWindow(coupon *models.Coupon, now time.Time) bool {
	if coupon.Status != models.CouponStatusActive {
		return false
	}
	if now.Before(coupon.StartDate) {
		return false
	}
	if coupon.EndDate != nil && now.After(*coupon.EndDate) {
		return false
	}
	return true
}

var couponFailureMessages = map[models.CouponFailure]string{
	models.CouponFailureNotFound:            "Cupom não encontrado",
	models.CouponFailureInactive:            "Cupom inativo ou fora do período de validade",
	models.CouponFailureBelowMinimum:        "Valor da compra abaixo do mínimo exigido pelo cupom",
	models.CouponFailureNewUsersOnly:        "Cupom válido apenas para novos clientes",
	models.CouponFailureTotalLimitReached:   "Cupom esgotado",
	models.CouponFailurePerUserLimitReached: "Você já atingiu o limite de uso deste cupom",
}

func rejectCoupon(coupon *models.Coupon, failure models.CouponFailure, amount float64) *models.CouponValidation {
	return &models.CouponValidation{
		Valid:         false,
		Coupon:        coupon,
		Failure:       failure,
		Message:       couponFailureMessages[failure],
		FinalValue:    round2(amount),
		OriginalValue: round2(amount),
	}
}

// calculateDiscount возвращает скидку в деньгах и бонусные минуты.
func calculateDiscount(kind models.CouponKind, value, amount float64) (float64, int) {
	switch kind {
	case models.CouponKindPercentage:
		if value <= 0 {
			return 0, 0
		}
		if value > 100 {
			value = 100
		}
		return round2(amount * value / 100.0), 0
	case models.CouponKindFixedAmount:
		if value < 0 {
			return 0, 0
		}
		if value > amount {
			return round2(amount), 0
		}
		return round2(value), 0
	case models.CouponKindBonusMinutes:
		if value < 0 {
			return 0, 0
		}
		return 0, int(value)
	default:
		return 0, 0
	}
}

func validateCouponPayload(req *models.CouponRequest) error {
	if normalizeCouponCode(req.Code) == "" {
		return fmt.Errorf("code is required")
	}

	switch req.Kind {
	case models.CouponKindPercentage:
		if req.DiscountValue <= 0 || req.DiscountValue > 100 {
			return fmt.Errorf("percentage must be between 0 and 100")
		}
	case models.CouponKindFixedAmount:
		if req.DiscountValue <= 0 {
			return fmt.Errorf("fixed amount must be positive")
		}
	case models.CouponKindBonusMinutes:
		if req.DiscountValue < 1 || req.DiscountValue != float64(int(req.DiscountValue)) {
			return fmt.Errorf("bonus minutes must be a positive whole number")
		}
	default:
		return fmt.Errorf("invalid kind")
	}

	if req.MinimumValue < 0 {
		return fmt.Errorf("minimum_value must be non-negative")
	}
	if req.TotalUsageLimit != nil && *req.TotalUsageLimit <= 0 {
		return fmt.Errorf("total_usage_limit must be positive")
	}
	if req.PerUserLimit != nil && *req.PerUserLimit <= 0 {
		return fmt.Errorf("per_user_limit must be positive")
	}

	switch req.Status {
	case "", models.CouponStatusActive, models.CouponStatusInactive, models.CouponStatusExpired:
	default:
		return fmt.Errorf("invalid status")
	}

	if req.StartDate != nil && req.EndDate != nil && !req.EndDate.After(*req.StartDate) {
		return fmt.Errorf("end_date must be after start_date")
	}
	return nil
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func scanCoupon(row rowScanner) (*models.Coupon, error) {
	c := &models.Coupon{}
	err := row.Scan(&c.ID, &c.Code, &c.Description, &c.Kind, &c.DiscountValue, &c.MinimumValue, &c.TotalUsageLimit,
		&c.PerUserLimit, &c.NewUsersOnly, &c.StartDate, &c.EndDate, &c.Status, &c.TotalUses, &c.TotalDiscountGranted,
		&c.TotalBonusMinutesGranted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}
