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

	"github.com/google/uuid"
)

const sessionColumns = `id, user_id, consultant_id, operator_id, minutes_purchased, minutes_used, bonus_used, status,
		finish_reason, start_time, end_time, rating, review_comment, created_at, updated_at`

// SessionService управляет жизненным циклом консультаций: заявка, начало, бонус, завершение.
type SessionService struct {
	db      *database.DB
	log     *logger.Logger
	loyalty *LoyaltyService
	events  eventSink
	rules   config.BusinessConfig
}

// NewSessionService создает новый экземпляр сервиса консультаций
func NewSessionService(db *database.DB, log *logger.Logger, loyalty *LoyaltyService, publisher EventPublisher, rules config.BusinessConfig) *SessionService {
	return &SessionService{
		db:      db,
		log:     log,
		loyalty: loyalty,
		events:  eventSink{pub: publisher, log: log},
		rules:   rules,
	}
}

// RequestSession создаёт заявку клиента на консультацию. Баланс не списывается:
// заявка лишь не может превышать свободный остаток с учётом других открытых сессий.
func (s *SessionService) RequestSession(ctx context.Context, clientID uuid.UUID, req *models.CreateSessionRequest) (*models.Session, error) {
	if req.Minutes < s.rules.MinSessionMinutes {
		return nil, apperror.Validation(fmt.Sprintf("minimum session length is %d minutes", s.rules.MinSessionMinutes), nil)
	}
	if s.rules.MaxSessionMinutes > 0 && req.Minutes > s.rules.MaxSessionMinutes {
		return nil, apperror.Validation(fmt.Sprintf("maximum session length is %d minutes", s.rules.MaxSessionMinutes), nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Блокировка пользователя сериализует параллельные заявки одного клиента
	var available int
	err = tx.QueryRowContext(ctx, "SELECT minutes_available FROM users WHERE id = $1 FOR UPDATE", clientID).Scan(&available)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user not found", err)
		}
		return nil, fmt.Errorf("failed to get user balance: %w", err)
	}

	var committed int
	committedQuery := "SELECT COALESCE(SUM(minutes_purchased), 0) FROM sessions WHERE user_id = $1 AND status IN ($2, $3)"
	if err := tx.QueryRowContext(ctx, committedQuery, clientID, models.SessionStatusAwaiting, models.SessionStatusActive).Scan(&committed); err != nil {
		return nil, fmt.Errorf("failed to get committed minutes: %w", err)
	}

	if req.Minutes > available-committed {
		return nil, apperror.Validation("insufficient minutes balance", nil)
	}

	var consultantStatus models.ConsultantStatus
	if err := tx.QueryRowContext(ctx, "SELECT status FROM consultants WHERE id = $1", req.ConsultantID).Scan(&consultantStatus); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("consultant not found", err)
		}
		return nil, fmt.Errorf("failed to check consultant status: %w", err)
	}
	if consultantStatus != models.ConsultantStatusAvailable {
		return nil, apperror.Conflict("consultant is not available", nil)
	}

	now := time.Now()
	session := &models.Session{
		ID:               uuid.New(),
		UserID:           clientID,
		ConsultantID:     req.ConsultantID,
		MinutesPurchased: req.Minutes,
		Status:           models.SessionStatusAwaiting,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	query := `
		INSERT INTO sessions (id, user_id, consultant_id, minutes_purchased, bonus_used, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7)
	`
	if _, err := tx.ExecContext(ctx, query, session.ID, session.UserID, session.ConsultantID, session.MinutesPurchased,
		session.Status, session.CreatedAt, session.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"session_id":    session.ID,
		"user_id":       clientID,
		"consultant_id": req.ConsultantID,
		"minutes":       req.Minutes,
	}).Info("Session requested")

	s.events.session(models.EventTypeSessionRequested, session)
	return session, nil
}

// AcceptSession запускает консультацию. Из двух одновременных подтверждений успешно только одно.
func (s *SessionService) AcceptSession(ctx context.Context, sessionID uuid.UUID, operatorID *uuid.UUID) (*models.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	query := `
		UPDATE sessions
		SET status = $1, start_time = $2, operator_id = $3, updated_at = $2
		WHERE id = $4 AND status = $5
		RETURNING ` + sessionColumns

	session, err := scanSession(tx.QueryRowContext(ctx, query, models.SessionStatusActive, now, operatorID, sessionID, models.SessionStatusAwaiting))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, s.transitionError(ctx, tx, sessionID, "accept")
		}
		return nil, fmt.Errorf("failed to accept session: %w", err)
	}

	busyUntil := now.Add(time.Duration(s.rules.ConsultantBusyMinutes) * time.Minute)
	oldStatus, err := s.occupyConsultantTx(ctx, tx, session.ConsultantID, session.ID, busyUntil)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"session_id":    session.ID,
		"consultant_id": session.ConsultantID,
		"operator_id":   operatorID,
	}).Info("Session accepted")

	s.events.session(models.EventTypeSessionAccepted, session)
	s.events.consultantStatusChanged(session.ConsultantID, oldStatus, models.ConsultantStatusBusy)
	return session, nil
}

// DeclineSession отклоняет заявку. Отклонённая заявка удаляется.
func (s *SessionService) DeclineSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	query := `DELETE FROM sessions WHERE id = $1 AND status = $2 RETURNING ` + sessionColumns

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID, models.SessionStatusAwaiting))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, s.transitionError(ctx, s.db, sessionID, "decline")
		}
		return nil, fmt.Errorf("failed to decline session: %w", err)
	}

	s.log.WithField("session_id", sessionID).Info("Session declined")

	s.events.session(models.EventTypeSessionDeclined, session)
	return session, nil
}

// GrantBonus добавляет бонусные минуты активной консультации. Повторный вызов ничего не меняет.
func (s *SessionService) GrantBonus(ctx context.Context, sessionID uuid.UUID) (*models.BonusResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	session, err := s.lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status != models.SessionStatusActive {
		return nil, apperror.Conflict("bonus can only be granted to an active session", nil)
	}
	if session.BonusUsed {
		return &models.BonusResult{Session: session, Applied: false}, nil
	}

	now := time.Now()
	bonus := s.rules.BonusMinutes

	result, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET minutes_purchased = minutes_purchased + $1, bonus_used = TRUE, updated_at = $2
		WHERE id = $3 AND bonus_used = FALSE
	`, bonus, now, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to apply session bonus: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperror.Conflict("bonus already granted", nil)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users
		SET minutes_available = minutes_available + $1, updated_at = $2
		WHERE id = $3
	`, bonus, now, session.UserID); err != nil {
		return nil, fmt.Errorf("failed to credit bonus minutes: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	session.MinutesPurchased += bonus
	session.BonusUsed = true
	session.UpdatedAt = now

	s.log.WithFields(map[string]interface{}{
		"session_id": sessionID,
		"user_id":    session.UserID,
		"bonus":      bonus,
	}).Info("Session bonus granted")

	s.events.session(models.EventTypeSessionBonusGranted, session)
	return &models.BonusResult{Session: session, Applied: true, Minutes: bonus}, nil
}

// FinalizeSession завершает активную консультацию: списывает использованные минуты,
// начисляет лояльность и освобождает таролога в одной транзакции.
func (s *SessionService) FinalizeSession(ctx context.Context, sessionID uuid.UUID, reason models.FinishReason) (*models.FinalizeResult, error) {
	if !reason.Valid() {
		return nil, apperror.Validation("invalid finish reason", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	session, err := s.lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	if !isValidSessionTransition(session.Status, models.SessionStatusFinished) {
		return nil, apperror.Conflict(fmt.Sprintf("cannot finish session in status %s", session.Status), nil)
	}

	now := time.Now()
	var elapsed time.Duration
	if session.StartTime != nil {
		elapsed = now.Sub(*session.StartTime)
	}
	used := minutesUsed(elapsed, session.MinutesPurchased)

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = $1, minutes_used = $2, finish_reason = $3, end_time = $4, updated_at = $4
		WHERE id = $5
	`, models.SessionStatusFinished, used, reason, now, sessionID); err != nil {
		return nil, fmt.Errorf("failed to finish session: %w", err)
	}

	var available int
	err = tx.QueryRowContext(ctx, `
		UPDATE users
		SET minutes_available = GREATEST(minutes_available - $1, 0), updated_at = $2
		WHERE id = $3
		RETURNING minutes_available
	`, used, now, session.UserID).Scan(&available)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user not found", err)
		}
		return nil, fmt.Errorf("failed to debit minutes: %w", err)
	}

	var outcome *models.LoyaltyOutcome
	if used > 0 {
		outcome, err = s.loyalty.AccumulateWithTx(ctx, tx, session.UserID, used, &session.ID)
		if err != nil {
			return nil, err
		}
		available += outcome.MinutesGranted
	}

	oldStatus, newStatus, err := s.releaseConsultantTx(ctx, tx, session.ConsultantID, session.ID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	session.Status = models.SessionStatusFinished
	session.MinutesUsed = &used
	session.FinishReason = &reason
	session.EndTime = &now
	session.UpdatedAt = now

	s.log.WithFields(map[string]interface{}{
		"session_id":        sessionID,
		"user_id":           session.UserID,
		"minutes_used":      used,
		"minutes_available": available,
		"reason":            reason,
	}).Info("Session finished")

	s.events.session(models.EventTypeSessionFinished, session)
	s.events.loyaltyGranted(session.UserID, outcome)
	if oldStatus != newStatus {
		s.events.consultantStatusChanged(session.ConsultantID, oldStatus, newStatus)
	}

	return &models.FinalizeResult{
		Session:          session,
		MinutesDebited:   used,
		MinutesAvailable: available,
		Loyalty:          outcome,
	}, nil
}

// ReviewSession сохраняет оценку клиента и пересчитывает рейтинг таролога.
func (s *SessionService) ReviewSession(ctx context.Context, sessionID, clientID uuid.UUID, req *models.CreateReviewRequest) (*models.Session, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, apperror.Validation("rating must be between 1 and 5", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	session, err := s.lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.UserID != clientID {
		return nil, apperror.Forbidden("session belongs to another user", nil)
	}
	if session.Status != models.SessionStatusFinished {
		return nil, apperror.Conflict("only finished sessions can be reviewed", nil)
	}
	if session.Rating != nil {
		return nil, apperror.Conflict("session already reviewed", nil)
	}

	var comment *string
	if trimmed := strings.TrimSpace(req.Comment); trimmed != "" {
		comment = &trimmed
	}
	now := time.Now()

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET rating = $1, review_comment = $2, updated_at = $3
		WHERE id = $4
	`, req.Rating, comment, now, sessionID); err != nil {
		return nil, fmt.Errorf("failed to save review: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE consultants
		SET rating = ROUND(((rating * total_reviews) + $1) / (total_reviews + 1), 2),
		    total_reviews = total_reviews + 1,
		    updated_at = $2
		WHERE id = $3
	`, req.Rating, now, session.ConsultantID); err != nil {
		return nil, fmt.Errorf("failed to update consultant rating: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	rating := req.Rating
	session.Rating = &rating
	session.ReviewComment = comment
	session.UpdatedAt = now

	s.log.WithFields(map[string]interface{}{
		"session_id":    sessionID,
		"consultant_id": session.ConsultantID,
		"rating":        rating,
	}).Info("Session reviewed")

	return session, nil
}

// GetSession получает консультацию по ID
func (s *SessionService) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("session not found", err)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListSessions получает список консультаций с фильтрацией
func (s *SessionService) ListSessions(ctx context.Context, filter *models.SessionFilter) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, *filter.UserID)
		argIndex++
	}

	if filter.ConsultantID != nil {
		query += fmt.Sprintf(" AND consultant_id = $%d", argIndex)
		args = append(args, *filter.ConsultantID)
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
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*models.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

// ListExpiredSessionIDs возвращает активные консультации, чьё время истекло к моменту now.
func (s *SessionService) ListExpiredSessionIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM sessions
		WHERE status = $1 AND start_time + minutes_purchased * INTERVAL '1 minute' <= $2
		ORDER BY start_time ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, models.SessionStatusActive, now, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired sessions: %w", err)
	}
	return ids, nil
}

func (s *SessionService) lockSession(ctx context.Context, tx *sql.Tx, sessionID uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`

	session, err := scanSession(tx.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("session not found", err)
		}
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	return session, nil
}

// transitionError объясняет, почему условное обновление статуса не затронуло строк.
func (s *SessionService) transitionError(ctx context.Context, q queryer, sessionID uuid.UUID, action string) error {
	var status models.SessionStatus
	err := q.QueryRowContext(ctx, "SELECT status FROM sessions WHERE id = $1", sessionID).Scan(&status)
	if err == sql.ErrNoRows {
		return apperror.NotFound("session not found", err)
	}
	if err != nil {
		return fmt.Errorf("failed to get session status: %w", err)
	}
	return apperror.Conflict(fmt.Sprintf("cannot %s session in status %s", action, status), nil)
}

// lockConsultantTx блокирует строку таролога и сообщает, ведёт ли он другую активную консультацию.
func (s *SessionService) lockConsultantTx(ctx context.Context, tx *sql.Tx, consultantID, sessionID uuid.UUID) (models.ConsultantStatus, bool, error) {
	var current models.ConsultantStatus
	if err := tx.QueryRowContext(ctx, "SELECT status FROM consultants WHERE id = $1 FOR UPDATE", consultantID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return "", false, apperror.NotFound("consultant not found", err)
		}
		return "", false, fmt.Errorf("failed to lock consultant: %w", err)
	}

	var inSession bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sessions WHERE consultant_id = $1 AND status = $2 AND id <> $3)
	`, consultantID, models.SessionStatusActive, sessionID).Scan(&inSession)
	if err != nil {
		return "", false, fmt.Errorf("failed to check consultant sessions: %w", err)
	}
	return current, inSession, nil
}

// occupyConsultantTx переводит свободного таролога в busy и возвращает предыдущий статус.
func (s *SessionService) occupyConsultantTx(ctx context.Context, tx *sql.Tx, consultantID, sessionID uuid.UUID, busyUntil time.Time) (models.ConsultantStatus, error) {
	current, inSession, err := s.lockConsultantTx(ctx, tx, consultantID, sessionID)
	if err != nil {
		return "", err
	}
	if current != models.ConsultantStatusAvailable || inSession {
		return "", apperror.Conflict(fmt.Sprintf("consultant is %s", current), nil)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE consultants
		SET status = $1, busy_until = $2, updated_at = $3
		WHERE id = $4
	`, models.ConsultantStatusBusy, busyUntil, time.Now(), consultantID); err != nil {
		return "", fmt.Errorf("failed to update consultant status: %w", err)
	}
	return current, nil
}

// releaseConsultantTx засчитывает консультацию и снимает busy, если других активных консультаций нет.
// Статус, выставленный администратором (unavailable), не трогается.
func (s *SessionService) releaseConsultantTx(ctx context.Context, tx *sql.Tx, consultantID, sessionID uuid.UUID) (models.ConsultantStatus, models.ConsultantStatus, error) {
	current, inSession, err := s.lockConsultantTx(ctx, tx, consultantID, sessionID)
	if err != nil {
		return "", "", err
	}

	next := current
	if current == models.ConsultantStatusBusy && !inSession {
		next = models.ConsultantStatusAvailable
	}

	// busy_until другой активной консультации остаётся на месте
	busyClause := "busy_until"
	if next != current {
		busyClause = "NULL"
	}
	query := `
		UPDATE consultants
		SET status = $1, busy_until = ` + busyClause + `, total_consultations = total_consultations + 1, updated_at = $2
		WHERE id = $3
	`
	if _, err := tx.ExecContext(ctx, query, next, time.Now(), consultantID); err != nil {
		return "", "", fmt.Errorf("failed to release consultant: %w", err)
	}
	return current, next, nil
}

// isValidSessionTransition разрешает только движение вперёд: awaiting -> active -> finished.
func isValidSessionTransition(from, to models.SessionStatus) bool {
	switch from {
	case models.SessionStatusAwaiting:
		return to == models.SessionStatusActive
	case models.SessionStatusActive:
		return to == models.SessionStatusFinished
	default:
		return false
	}
}

// minutesUsed округляет прошедшее время вверх до минуты, но не больше купленного.
func minutesUsed(elapsed time.Duration, purchased int) int {
	if elapsed <= 0 {
		return 0
	}
	used := int((elapsed + time.Minute - 1) / time.Minute)
	if used > purchased {
		used = purchased
	}
	return used
}

func scanSession(row rowScanner) (*models.Session, error) {
	session := &models.Session{}
	err := row.Scan(&session.ID, &session.UserID, &session.ConsultantID, &session.OperatorID, &session.MinutesPurchased,
		&session.MinutesUsed, &session.BonusUsed, &session.Status, &session.FinishReason, &session.StartTime,
		&session.EndTime, &session.Rating, &session.ReviewComment, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return session, nil
}
