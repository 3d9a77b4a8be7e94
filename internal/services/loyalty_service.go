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

const loyaltyConfigColumns = `id, name, minutes_required, minutes_bonus, valid_from, valid_until, active, created_at, updated_at`

// LoyaltyService начисляет бонусные минуты за накопленное время консультаций.
type LoyaltyService struct {
	db  *database.DB
	log *logger.Logger
}

// NewLoyaltyService создаёт сервис программы лояльности.
func NewLoyaltyService(db *database.DB, log *logger.Logger) *LoyaltyService {
	return &LoyaltyService{
		db:  db,
		log: log,
	}
}

// Accumulate начисляет минуты в отдельной транзакции.
func (s *LoyaltyService) Accumulate(ctx context.Context, userID uuid.UUID, minutesUsed int) (*models.LoyaltyOutcome, error) {
	if minutesUsed <= 0 {
		return nil, apperror.Validation("minutes used must be positive", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	outcome, err := s.AccumulateWithTx(ctx, tx, userID, minutesUsed, nil)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return outcome, nil
}

// AccumulateWithTx прибавляет минуты к накопленным и выдаёт бонус за каждое пересечение
// порога каждого действующего правила. Правила независимы и суммируются.
func (s *LoyaltyService) AccumulateWithTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID, minutesUsed int, sessionID *uuid.UUID) (*models.LoyaltyOutcome, error) {
	now := time.Now()
	outcome := &models.LoyaltyOutcome{Grants: []*models.LoyaltyBonusGrant{}}

	err := tx.QueryRowContext(ctx, `
		UPDATE users
		SET minutes_accumulated = minutes_accumulated + $1, updated_at = $2
		WHERE id = $3
		RETURNING minutes_accumulated
	`, minutesUsed, now, userID).Scan(&outcome.MinutesAccumulated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user not found", err)
		}
		return nil, fmt.Errorf("failed to accumulate minutes: %w", err)
	}

	configs, err := s.activeConfigurations(ctx, tx)
	if err != nil {
		return nil, err
	}

	for _, cfg := range configs {
		if !cfg.InWindow(now) {
			continue
		}

		var baseline int
		err := tx.QueryRowContext(ctx, `
			SELECT minutes_accumulated_at_moment
			FROM loyalty_bonus_grants
			WHERE user_id = $1 AND configuration_id = $2
			ORDER BY minutes_accumulated_at_moment DESC
			LIMIT 1
		`, userID, cfg.ID).Scan(&baseline)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to load loyalty baseline: %w", err)
		}

		for _, stamp := range crossingStamps(outcome.MinutesAccumulated, baseline, cfg.MinutesRequired) {
			grant := &models.LoyaltyBonusGrant{
				ID:                         uuid.New(),
				UserID:                     userID,
				ConfigurationID:            cfg.ID,
				MinutesGranted:             cfg.MinutesBonus,
				MinutesAccumulatedAtMoment: stamp,
				SessionID:                  sessionID,
				CreatedAt:                  now,
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO loyalty_bonus_grants (id, user_id, configuration_id, minutes_granted, minutes_accumulated_at_moment, session_id, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, grant.ID, grant.UserID, grant.ConfigurationID, grant.MinutesGranted, grant.MinutesAccumulatedAtMoment, grant.SessionID, grant.CreatedAt)
			if err != nil {
				return nil, fmt.Errorf("failed to record loyalty grant: %w", err)
			}

			outcome.Grants = append(outcome.Grants, grant)
			outcome.MinutesGranted += grant.MinutesGranted
		}
	}

	if outcome.MinutesGranted > 0 {
		_, err := tx.ExecContext(ctx, `
			UPDATE users
			SET minutes_available = minutes_available + $1, updated_at = $2
			WHERE id = $3
		`, outcome.MinutesGranted, now, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to credit loyalty bonus: %w", err)
		}

		s.log.WithFields(map[string]interface{}{
			"user_id":             userID,
			"minutes_granted":     outcome.MinutesGranted,
			"grants":              len(outcome.Grants),
			"minutes_accumulated": outcome.MinutesAccumulated,
		}).Info("Loyalty bonus granted")
	}

	return outcome, nil
}

// crossingStamps возвращает отметки накопления для каждого нового пересечения порога.
// Базой служит отметка последнего бонуса по правилу, без бонусов - ноль.
func crossingStamps(accumulated, baseline, required int) []int {
	if required <= 0 || accumulated <= baseline {
		return nil
	}

	crossings := (accumulated - baseline) / required
	stamps := make([]int, 0, crossings)
	for k := 1; k <= crossings; k++ {
		stamps = append(stamps, baseline+k*required)
	}
	return stamps
}

func (s *LoyaltyService) activeConfigurations(ctx context.Context, tx *sql.Tx) ([]*models.LoyaltyConfiguration, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+loyaltyConfigColumns+` FROM loyalty_configurations WHERE active = TRUE ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load loyalty configurations: %w", err)
	}
	defer rows.Close()

	var configs []*models.LoyaltyConfiguration
	for rows.Next() {
		cfg := &models.LoyaltyConfiguration{}
		if err := rows.Scan(&cfg.ID, &cfg.Name, &cfg.MinutesRequired, &cfg.MinutesBonus, &cfg.ValidFrom,
			&cfg.ValidUntil, &cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan loyalty configuration: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate loyalty configurations: %w", err)
	}
	return configs, nil
}

// Progress показывает пользователю, сколько минут осталось до следующего бонуса по каждому правилу.
func (s *LoyaltyService) Progress(ctx context.Context, userID uuid.UUID) ([]*models.LoyaltyProgress, error) {
	var accumulated int
	if err := s.db.QueryRowContext(ctx, "SELECT minutes_accumulated FROM users WHERE id = $1", userID).Scan(&accumulated); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user not found", err)
		}
		return nil, fmt.Errorf("failed to get accumulated minutes: %w", err)
	}

	query := `
		SELECT c.id AS configuration_id,
		       c.name,
		       c.minutes_required,
		       c.minutes_bonus,
		       COALESCE(MAX(g.minutes_accumulated_at_moment), 0) AS baseline,
		       COALESCE(SUM(g.minutes_granted), 0) AS total_minutes_granted
		FROM loyalty_configurations c
		LEFT JOIN loyalty_bonus_grants g ON g.configuration_id = c.id AND g.user_id = $1
		WHERE c.active = TRUE
		  AND (c.valid_from IS NULL OR c.valid_from <= $2)
		  AND (c.valid_until IS NULL OR c.valid_until >= $2)
		GROUP BY c.id, c.name, c.minutes_required, c.minutes_bonus
		ORDER BY c.minutes_required ASC
	`

	progress := []*models.LoyaltyProgress{}
	if err := s.db.Sqlx().SelectContext(ctx, &progress, query, userID, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to load loyalty progress: %w", err)
	}

	for _, p := range progress {
		p.MinutesSinceLast = accumulated - p.Baseline
		if p.MinutesSinceLast < 0 {
			p.MinutesSinceLast = 0
		}
		p.MinutesToNextBonus = p.MinutesRequired - p.MinutesSinceLast%p.MinutesRequired
	}

	return progress, nil
}

// ListGrants возвращает историю бонусов пользователя.
func (s *LoyaltyService) ListGrants(ctx context.Context, userID uuid.UUID) ([]*models.LoyaltyBonusGrant, error) {
	query := `
		SELECT id, user_id, configuration_id, minutes_granted, minutes_accumulated_at_moment, session_id, created_at
		FROM loyalty_bonus_grants
		WHERE user_id = $1
		ORDER BY created_at DESC, minutes_accumulated_at_moment DESC
	`

	grants := []*models.LoyaltyBonusGrant{}
	if err := s.db.Sqlx().SelectContext(ctx, &grants, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list loyalty grants: %w", err)
	}
	return grants, nil
}

// CreateConfiguration создаёт правило лояльности.
func (s *LoyaltyService) CreateConfiguration(ctx context.Context, req *models.LoyaltyConfigurationRequest) (*models.LoyaltyConfiguration, error) {
	if err := validateLoyaltyPayload(req); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	now := time.Now()
	cfg := &models.LoyaltyConfiguration{
		ID:              uuid.New(),
		Name:            strings.TrimSpace(req.Name),
		MinutesRequired: req.MinutesRequired,
		MinutesBonus:    req.MinutesBonus,
		ValidFrom:       req.ValidFrom,
		ValidUntil:      req.ValidUntil,
		Active:          req.Active,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	query := `
		INSERT INTO loyalty_configurations (id, name, minutes_required, minutes_bonus, valid_from, valid_until, active, created_at, updated_at)
		VALUES (:id, :name, :minutes_required, :minutes_bonus, :valid_from, :valid_until, :active, :created_at, :updated_at)
	`
	if _, err := s.db.Sqlx().NamedExecContext(ctx, query, cfg); err != nil {
		return nil, fmt.Errorf("failed to create loyalty configuration: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"configuration_id": cfg.ID,
		"minutes_required": cfg.MinutesRequired,
		"minutes_bonus":    cfg.MinutesBonus,
	}).Info("Loyalty configuration created")

	return cfg, nil
}

// GetConfiguration возвращает правило по идентификатору.
func (s *LoyaltyService) GetConfiguration(ctx context.Context, configID uuid.UUID) (*models.LoyaltyConfiguration, error) {
	cfg := &models.LoyaltyConfiguration{}
	err := s.db.Sqlx().GetContext(ctx, cfg, `SELECT `+loyaltyConfigColumns+` FROM loyalty_configurations WHERE id = $1`, configID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("loyalty configuration not found", err)
		}
		return nil, fmt.Errorf("failed to get loyalty configuration: %w", err)
	}
	return cfg, nil
}

// ListConfigurations возвращает все правила, активные первыми.
func (s *LoyaltyService) ListConfigurations(ctx context.Context) ([]*models.LoyaltyConfiguration, error) {
	configs := []*models.LoyaltyConfiguration{}
	query := `SELECT ` + loyaltyConfigColumns + ` FROM loyalty_configurations ORDER BY active DESC, minutes_required ASC`
	if err := s.db.Sqlx().SelectContext(ctx, &configs, query); err != nil {
		return nil, fmt.Errorf("failed to list loyalty configurations: %w", err)
	}
	return configs, nil
}

// UpdateConfiguration обновляет правило. Уже выданные бонусы не пересчитываются.
func (s *LoyaltyService) UpdateConfiguration(ctx context.Context, configID uuid.UUID, req *models.LoyaltyConfigurationRequest) (*models.LoyaltyConfiguration, error) {
	if err := validateLoyaltyPayload(req); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	query := `
		UPDATE loyalty_configurations
		SET name = $1, minutes_required = $2, minutes_bonus = $3, valid_from = $4, valid_until = $5, active = $6, updated_at = $7
		WHERE id = $8
	`
	result, err := s.db.ExecContext(ctx, query, strings.TrimSpace(req.Name), req.MinutesRequired, req.MinutesBonus,
		req.ValidFrom, req.ValidUntil, req.Active, time.Now(), configID)
	if err != nil {
		return nil, fmt.Errorf("failed to update loyalty configuration: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperror.NotFound("loyalty configuration not found", nil)
	}

	return s.GetConfiguration(ctx, configID)
}

// DeleteConfiguration удаляет правило без выданных бонусов. Иначе его нужно деактивировать.
func (s *LoyaltyService) DeleteConfiguration(ctx context.Context, configID uuid.UUID) error {
	var grants int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM loyalty_bonus_grants WHERE configuration_id = $1", configID).Scan(&grants); err != nil {
		return fmt.Errorf("failed to count loyalty grants: %w", err)
	}
	if grants > 0 {
		return apperror.Conflict("loyalty configuration has grants; deactivate it instead", nil)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM loyalty_configurations WHERE id = $1", configID)
	if err != nil {
		if isPQError(err, pqForeignKeyViolation) {
			return apperror.Conflict("loyalty configuration has grants; deactivate it instead", err)
		}
		return fmt.Errorf("failed to delete loyalty configuration: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("loyalty configuration not found", nil)
	}

	s.log.WithField("configuration_id", configID).Info("Loyalty configuration deleted")
	return nil
}

func validateLoyaltyPayload(req *models.LoyaltyConfigurationRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if req.MinutesRequired <= 0 {
		return fmt.Errorf("minutes_required must be positive")
	}
	if req.MinutesBonus <= 0 {
		return fmt.Errorf("minutes_bonus must be positive")
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidUntil.After(*req.ValidFrom) {
		return fmt.Errorf("valid_until must be after valid_from")
	}
	return nil
}
