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
	"tarot-system/internal/redis"

	"github.com/google/uuid"
)

const (
	consultantColumns = `id, name, bio, specialties, photo_url, status, busy_until, rating, total_reviews,
		total_consultations, created_at, updated_at`
	defaultConsultantsTTL = time.Minute
)

// ConsultantService представляет сервис для работы с тарологами
type ConsultantService struct {
	db       *database.DB
	redis    *redis.Client
	log      *logger.Logger
	events   eventSink
	cacheTTL time.Duration
}

// NewConsultantService создает новый экземпляр сервиса тарологов.
// redisClient может быть nil, тогда список читается напрямую из БД.
func NewConsultantService(db *database.DB, redisClient *redis.Client, log *logger.Logger, publisher EventPublisher, cfg *config.CacheConfig) *ConsultantService {
	cacheTTL := defaultConsultantsTTL
	if cfg != nil && cfg.ConsultantsTTLSeconds > 0 {
		cacheTTL = time.Duration(cfg.ConsultantsTTLSeconds) * time.Second
	}

	return &ConsultantService{
		db:       db,
		redis:    redisClient,
		log:      log,
		events:   eventSink{pub: publisher, log: log},
		cacheTTL: cacheTTL,
	}
}

// CreateConsultant создает нового таролога. Новый таролог недоступен, пока администратор его не включит.
func (s *ConsultantService) CreateConsultant(ctx context.Context, req *models.CreateConsultantRequest) (*models.Consultant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperror.Validation("name is required", nil)
	}

	now := time.Now()
	consultant := &models.Consultant{
		ID:          uuid.New(),
		Name:        name,
		Bio:         strings.TrimSpace(req.Bio),
		Specialties: strings.TrimSpace(req.Specialties),
		PhotoURL:    strings.TrimSpace(req.PhotoURL),
		Status:      models.ConsultantStatusUnavailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
		INSERT INTO consultants (id, name, bio, specialties, photo_url, status, rating, total_reviews,
		                         total_consultations, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query, consultant.ID, consultant.Name, consultant.Bio, consultant.Specialties,
		consultant.PhotoURL, consultant.Status, consultant.CreatedAt, consultant.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create consultant: %w", err)
	}

	s.invalidateCache(ctx)

	s.log.WithFields(map[string]interface{}{
		"consultant_id":   consultant.ID,
		"consultant_name": consultant.Name,
	}).Info("Consultant created successfully")

	return consultant, nil
}

// GetConsultant получает таролога по ID
func (s *ConsultantService) GetConsultant(ctx context.Context, consultantID uuid.UUID) (*models.Consultant, error) {
	query := `SELECT ` + consultantColumns + ` FROM consultants WHERE id = $1`

	consultant, err := scanConsultant(s.db.QueryRowContext(ctx, query, consultantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("consultant not found", err)
		}
		return nil, fmt.Errorf("failed to get consultant: %w", err)
	}
	return consultant, nil
}

// ListConsultants получает список тарологов. Результат кешируется в Redis.
func (s *ConsultantService) ListConsultants(ctx context.Context, status *models.ConsultantStatus, limit, offset int) ([]*models.Consultant, error) {
	limit = normalizeLimit(limit)
	statusKey := "all"
	if status != nil {
		if !status.Valid() {
			return nil, apperror.Validation("invalid consultant status", nil)
		}
		statusKey = string(*status)
	}
	cacheKey := redis.GenerateKey(redis.KeyPrefixConsultants, fmt.Sprintf("list:%s:%d:%d", statusKey, limit, offset))

	if s.redis != nil {
		var cached []*models.Consultant
		if err := s.redis.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	query := `SELECT ` + consultantColumns + ` FROM consultants WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *status)
		argIndex++
	}

	// Доступные первыми, затем по рейтингу
	query += fmt.Sprintf(` ORDER BY CASE status WHEN 'available' THEN 0 WHEN 'busy' THEN 1 ELSE 2 END,
		rating DESC, total_reviews DESC, name ASC LIMIT $%d OFFSET $%d`, argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list consultants: %w", err)
	}
	defer rows.Close()

	consultants := []*models.Consultant{}
	for rows.Next() {
		consultant, err := scanConsultant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consultant: %w", err)
		}
		consultants = append(consultants, consultant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consultants: %w", err)
	}

	if s.redis != nil {
		if err := s.redis.SetMultiple(ctx, map[string]interface{}{cacheKey: consultants}, s.cacheTTL); err != nil {
			s.log.WithError(err).WithField("key", cacheKey).Warn("Failed to cache consultants list")
		}
	}

	return consultants, nil
}

// UpdateConsultant обновляет профиль таролога
func (s *ConsultantService) UpdateConsultant(ctx context.Context, consultantID uuid.UUID, req *models.UpdateConsultantRequest) (*models.Consultant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperror.Validation("name is required", nil)
	}

	query := `
		UPDATE consultants
		SET name = $1, bio = $2, specialties = $3, photo_url = $4, updated_at = $5
		WHERE id = $6
		RETURNING ` + consultantColumns

	consultant, err := scanConsultant(s.db.QueryRowContext(ctx, query, name, strings.TrimSpace(req.Bio),
		strings.TrimSpace(req.Specialties), strings.TrimSpace(req.PhotoURL), time.Now(), consultantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("consultant not found", err)
		}
		return nil, fmt.Errorf("failed to update consultant: %w", err)
	}

	s.invalidateCache(ctx)

	s.log.WithField("consultant_id", consultantID).Info("Consultant updated")
	return consultant, nil
}

// UpdateStatus переключает доступность таролога вручную.
// Ручной статус busy не имеет срока и снимается только администратором.
func (s *ConsultantService) UpdateStatus(ctx context.Context, consultantID uuid.UUID, status models.ConsultantStatus) (*models.Consultant, error) {
	if !status.Valid() {
		return nil, apperror.Validation("invalid consultant status", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var oldStatus models.ConsultantStatus
	err = tx.QueryRowContext(ctx, "SELECT status FROM consultants WHERE id = $1 FOR UPDATE", consultantID).Scan(&oldStatus)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("consultant not found", err)
		}
		return nil, fmt.Errorf("failed to lock consultant: %w", err)
	}

	query := `
		UPDATE consultants
		SET status = $1, busy_until = NULL, updated_at = $2
		WHERE id = $3
		RETURNING ` + consultantColumns

	consultant, err := scanConsultant(tx.QueryRowContext(ctx, query, status, time.Now(), consultantID))
	if err != nil {
		return nil, fmt.Errorf("failed to update consultant status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.invalidateCache(ctx)

	s.log.WithFields(map[string]interface{}{
		"consultant_id": consultantID,
		"old_status":    oldStatus,
		"new_status":    status,
	}).Info("Consultant status updated")

	s.events.consultantStatusChanged(consultantID, oldStatus, status)
	return consultant, nil
}

// ReleaseExpiredBusy возвращает в available тарологов, чей busy_until истёк.
// Таролог с активной консультацией остаётся занятым.
func (s *ConsultantService) ReleaseExpiredBusy(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE consultants
		SET status = $1, busy_until = NULL, updated_at = $2
		WHERE status = $3 AND busy_until IS NOT NULL AND busy_until <= $2
		  AND NOT EXISTS (
		      SELECT 1 FROM sessions
		      WHERE sessions.consultant_id = consultants.id AND sessions.status = $4
		  )
		RETURNING id
	`

	rows, err := s.db.QueryContext(ctx, query, models.ConsultantStatusAvailable, now,
		models.ConsultantStatusBusy, models.SessionStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to release busy consultants: %w", err)
	}
	defer rows.Close()

	var released []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to scan consultant id: %w", err)
		}
		released = append(released, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate released consultants: %w", err)
	}

	if len(released) == 0 {
		return 0, nil
	}

	s.invalidateCache(ctx)
	for _, id := range released {
		s.events.consultantStatusChanged(id, models.ConsultantStatusBusy, models.ConsultantStatusAvailable)
	}

	s.log.WithField("count", len(released)).Info("Released expired busy consultants")
	return len(released), nil
}

// InvalidateCache сбрасывает закешированные списки тарологов.
// Вызывается после изменений статуса, сделанных другими сервисами.
func (s *ConsultantService) InvalidateCache(ctx context.Context) {
	s.invalidateCache(ctx)
}

func (s *ConsultantService) invalidateCache(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.DeleteByPrefix(ctx, redis.KeyPrefixConsultants+":"); err != nil {
		s.log.WithError(err).Warn("Failed to invalidate consultants cache")
	}
}

func scanConsultant(row rowScanner) (*models.Consultant, error) {
	consultant := &models.Consultant{}
	err := row.Scan(&consultant.ID, &consultant.Name, &consultant.Bio, &consultant.Specialties, &consultant.PhotoURL,
		&consultant.Status, &consultant.BusyUntil, &consultant.Rating, &consultant.TotalReviews,
		&consultant.TotalConsultations, &consultant.CreatedAt, &consultant.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return consultant, nil
}
