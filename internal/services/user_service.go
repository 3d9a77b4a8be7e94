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

const userColumns = `id, name, phone, role, minutes_available, minutes_accumulated, created_at, updated_at`

// UserService управляет профилями клиентов и их балансом минут
type UserService struct {
	db  *database.DB
	log *logger.Logger
}

// NewUserService создает новый экземпляр сервиса пользователей
func NewUserService(db *database.DB, log *logger.Logger) *UserService {
	return &UserService{
		db:  db,
		log: log,
	}
}

// EnsureProfile создаёт профиль при первом входе или обновляет имя и телефон.
// ID совпадает с subject токена провайдера авторизации.
func (s *UserService) EnsureProfile(ctx context.Context, userID uuid.UUID, role models.UserRole, req *models.UpdateProfileRequest) (*models.User, error) {
	if role != models.UserRoleAdmin {
		role = models.UserRoleClient
	}

	name := strings.TrimSpace(req.Name)
	phone := strings.TrimSpace(req.Phone)
	if len(name) > 255 {
		return nil, apperror.Validation("name is too long", nil)
	}
	if len(phone) > 32 {
		return nil, apperror.Validation("phone is too long", nil)
	}

	now := time.Now()
	query := `
		INSERT INTO users (id, name, phone, role, minutes_available, minutes_accumulated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
		    phone = COALESCE(NULLIF(EXCLUDED.phone, ''), users.phone),
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query, userID, name, phone, role, now))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"user_id": userID,
		"role":    user.Role,
	}).Info("User profile ensured")

	return user, nil
}

// GetUser получает пользователя по ID
func (s *UserService) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user not found", err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers получает список пользователей, новые первыми
func (s *UserService) ListUsers(ctx context.Context, role *models.UserRole, limit, offset int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if role != nil {
		query += fmt.Sprintf(" AND role = $%d", argIndex)
		args = append(args, *role)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, normalizeLimit(limit), offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// CreditMinutes начисляет минуты вручную. Изменение баланса атомарно на стороне БД.
func (s *UserService) CreditMinutes(ctx context.Context, userID uuid.UUID, req *models.CreditMinutesRequest, adminID uuid.UUID) (*models.User, error) {
	if req.Minutes <= 0 {
		return nil, apperror.Validation("minutes must be positive", nil)
	}

	query := `
		UPDATE users
		SET minutes_available = minutes_available + $1, updated_at = $2
		WHERE id = $3
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query, req.Minutes, time.Now(), userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user not found", err)
		}
		return nil, fmt.Errorf("failed to credit minutes: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"user_id":           userID,
		"admin_id":          adminID,
		"minutes":           req.Minutes,
		"reason":            req.Reason,
		"minutes_available": user.MinutesAvailable,
	}).Info("Minutes credited manually")

	return user, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Name, &user.Phone, &user.Role, &user.MinutesAvailable,
		&user.MinutesAccumulated, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}
