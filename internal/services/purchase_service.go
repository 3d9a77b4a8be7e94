package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tarot-system/internal/apperror"
	"tarot-system/internal/config"
	"tarot-system/internal/database"
	"tarot-system/internal/logger"
	"tarot-system/internal/models"
	"tarot-system/internal/pix"

	"github.com/google/uuid"
)

const purchaseColumns = `id, user_id, minutes, bonus_minutes, original_value, discount_value, value, status,
		coupon_id, pix_txid, reviewed_by, reviewed_at, created_at, updated_at`

// PurchaseService оформляет покупки минут и их подтверждение администратором
type PurchaseService struct {
	db      *database.DB
	log     *logger.Logger
	pricing *PricingService
	coupons *CouponService
	events  eventSink
	pix     config.PixConfig
}

// NewPurchaseService создает новый экземпляр сервиса покупок
func NewPurchaseService(db *database.DB, log *logger.Logger, pricing *PricingService, coupons *CouponService, publisher EventPublisher, pixCfg config.PixConfig) *PurchaseService {
	return &PurchaseService{
		db:      db,
		log:     log,
		pricing: pricing,
		coupons: coupons,
		events:  eventSink{pub: publisher, log: log},
		pix:     pixCfg,
	}
}

// CreatePurchase создаёт покупку в статусе pending. Купон фиксируется в той же транзакции,
// поэтому покупка и использование купона сохраняются или откатываются вместе.
func (s *PurchaseService) CreatePurchase(ctx context.Context, userID uuid.UUID, req *models.CreatePurchaseRequest) (*models.Checkout, error) {
	if err := s.pricing.ValidateMinutes(req.Minutes); err != nil {
		return nil, err
	}

	original := s.pricing.CalculateCost(req.Minutes)
	now := time.Now()
	purchase := &models.Purchase{
		ID:            uuid.New(),
		UserID:        userID,
		Minutes:       req.Minutes,
		OriginalValue: original,
		Value:         original,
		Status:        models.PurchaseStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	purchase.PixTxID = pixTxID(purchase.ID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", userID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return nil, apperror.NotFound("user not found", nil)
	}

	if req.CouponCode != nil && strings.TrimSpace(*req.CouponCode) != "" {
		redemption, err := s.coupons.RedeemWithTx(ctx, tx, *req.CouponCode, userID, purchase.ID, original)
		if err != nil {
			return nil, err
		}
		couponID := redemption.Coupon.ID
		purchase.CouponID = &couponID
		purchase.DiscountValue = redemption.Discount
		purchase.Value = redemption.FinalValue
		purchase.BonusMinutes = redemption.BonusMinutes
	}

	query := `
		INSERT INTO purchases (id, user_id, minutes, bonus_minutes, original_value, discount_value, value, status,
		                       coupon_id, pix_txid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.ExecContext(ctx, query, purchase.ID, purchase.UserID, purchase.Minutes, purchase.BonusMinutes,
		purchase.OriginalValue, purchase.DiscountValue, purchase.Value, purchase.Status, purchase.CouponID,
		purchase.PixTxID, purchase.CreatedAt, purchase.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create purchase: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"purchase_id": purchase.ID,
		"user_id":     userID,
		"minutes":     purchase.Minutes,
		"bonus":       purchase.BonusMinutes,
		"value":       purchase.Value,
	}).Info("Purchase created")

	s.events.purchaseCreated(purchase)

	return &models.Checkout{
		Purchase:   purchase,
		PixPayload: s.pixPayload(purchase),
	}, nil
}

// ApprovePurchase подтверждает оплату и зачисляет минуты. Единственная точка зачисления для покупок.
func (s *PurchaseService) ApprovePurchase(ctx context.Context, purchaseID, adminID uuid.UUID) (*models.Purchase, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	purchase, err := s.reviewPendingTx(ctx, tx, purchaseID, models.PurchaseStatusApproved, adminID)
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE users
		SET minutes_available = minutes_available + $1, updated_at = $2
		WHERE id = $3
	`, purchase.CreditedMinutes(), purchase.UpdatedAt, purchase.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to credit purchased minutes: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperror.NotFound("user not found", nil)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"purchase_id": purchaseID,
		"user_id":     purchase.UserID,
		"admin_id":    adminID,
		"credited":    purchase.CreditedMinutes(),
	}).Info("Purchase approved")

	s.events.purchaseStatusChanged(purchase, models.PurchaseStatusPending)
	return purchase, nil
}

// CancelPurchase отменяет неоплаченную покупку. Использование купона не возвращается.
func (s *PurchaseService) CancelPurchase(ctx context.Context, purchaseID, adminID uuid.UUID) (*models.Purchase, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	purchase, err := s.reviewPendingTx(ctx, tx, purchaseID, models.PurchaseStatusCancelled, adminID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"purchase_id": purchaseID,
		"admin_id":    adminID,
	}).Info("Purchase cancelled")

	s.events.purchaseStatusChanged(purchase, models.PurchaseStatusPending)
	return purchase, nil
}

// GetPurchase получает покупку по ID
func (s *PurchaseService) GetPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1`

	purchase, err := scanPurchase(s.db.QueryRowContext(ctx, query, purchaseID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("purchase not found", err)
		}
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return purchase, nil
}

// Checkout возвращает покупку вместе с PIX-строкой для повторной оплаты
func (s *PurchaseService) Checkout(ctx context.Context, purchaseID uuid.UUID) (*models.Checkout, error) {
	purchase, err := s.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	checkout := &models.Checkout{Purchase: purchase}
	if purchase.Status == models.PurchaseStatusPending {
		checkout.PixPayload = s.pixPayload(purchase)
	}
	return checkout, nil
}

// ListPurchases получает список покупок с фильтрацией
func (s *PurchaseService) ListPurchases(ctx context.Context, filter *models.PurchaseFilter) ([]*models.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, *filter.UserID)
		argIndex++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *filter.Status)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, normalizeLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	purchases := []*models.Purchase{}
	for rows.Next() {
		purchase, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, purchase)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchases: %w", err)
	}
	return purchases, nil
}

// reviewPendingTx переводит покупку из pending в итоговый статус условным обновлением.
func (s *PurchaseService) reviewPendingTx(ctx context.Context, tx *sql.Tx, purchaseID uuid.UUID, status models.PurchaseStatus, adminID uuid.UUID) (*models.Purchase, error) {
	query := `
		UPDATE purchases
		SET status = $1, reviewed_by = $2, reviewed_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
		RETURNING ` + purchaseColumns

	purchase, err := scanPurchase(tx.QueryRowContext(ctx, query, status, adminID, time.Now(), purchaseID, models.PurchaseStatusPending))
	if err == nil {
		return purchase, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to update purchase status: %w", err)
	}

	var current models.PurchaseStatus
	err = tx.QueryRowContext(ctx, "SELECT status FROM purchases WHERE id = $1", purchaseID).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("purchase not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase status: %w", err)
	}
	return nil, apperror.Conflict(fmt.Sprintf("purchase is already %s", current), nil)
}

func (s *PurchaseService) pixPayload(purchase *models.Purchase) string {
	if s.pix.Key == "" {
		return ""
	}

	payload, err := pix.Payload(pix.Payment{
		Key:          s.pix.Key,
		MerchantName: s.pix.MerchantName,
		MerchantCity: s.pix.MerchantCity,
		Amount:       purchase.Value,
		TxID:         purchase.PixTxID,
	})
	if err != nil {
		s.log.WithError(err).WithField("purchase_id", purchase.ID).Warn("Failed to build PIX payload")
		return ""
	}
	return payload
}

// pixTxID строит идентификатор транзакции PIX: до 25 алфавитно-цифровых символов.
func pixTxID(id uuid.UUID) string {
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))[:25]
}

func scanPurchase(row rowScanner) (*models.Purchase, error) {
	purchase := &models.Purchase{}
	err := row.Scan(&purchase.ID, &purchase.UserID, &purchase.Minutes, &purchase.BonusMinutes, &purchase.OriginalValue,
		&purchase.DiscountValue, &purchase.Value, &purchase.Status, &purchase.CouponID, &purchase.PixTxID,
		&purchase.ReviewedBy, &purchase.ReviewedAt, &purchase.CreatedAt, &purchase.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return purchase, nil
}
