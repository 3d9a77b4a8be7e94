package models

import (
	"time"

	"github.com/google/uuid"
)

// LoyaltyConfiguration задаёт правило "каждые N минут - M бонусных минут".
type LoyaltyConfiguration struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	MinutesRequired int        `json:"minutes_required" db:"minutes_required"`
	MinutesBonus    int        `json:"minutes_bonus" db:"minutes_bonus"`
	ValidFrom       *time.Time `json:"valid_from,omitempty" db:"valid_from"`
	ValidUntil      *time.Time `json:"valid_until,omitempty" db:"valid_until"`
	Active          bool       `json:"active" db:"active"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// InWindow сообщает, действует ли правило в момент at.
func (c *LoyaltyConfiguration) InWindow(at time.Time) bool {
	if c.ValidFrom != nil && at.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && at.After(*c.ValidUntil) {
		return false
	}
	return true
}

// LoyaltyConfigurationRequest описывает создание и обновление правила.
type LoyaltyConfigurationRequest struct {
	Name            string     `json:"name"`
	MinutesRequired int        `json:"minutes_required"`
	MinutesBonus    int        `json:"minutes_bonus"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	Active          bool       `json:"active"`
}

// LoyaltyBonusGrant фиксирует одно пересечение порога. Записи не изменяются.
type LoyaltyBonusGrant struct {
	ID                         uuid.UUID  `json:"id" db:"id"`
	UserID                     uuid.UUID  `json:"user_id" db:"user_id"`
	ConfigurationID            uuid.UUID  `json:"configuration_id" db:"configuration_id"`
	MinutesGranted             int        `json:"minutes_granted" db:"minutes_granted"`
	MinutesAccumulatedAtMoment int        `json:"minutes_accumulated_at_moment" db:"minutes_accumulated_at_moment"`
	SessionID                  *uuid.UUID `json:"session_id,omitempty" db:"session_id"`
	CreatedAt                  time.Time  `json:"created_at" db:"created_at"`
}

// LoyaltyOutcome - итог начисления минут в программу лояльности.
type LoyaltyOutcome struct {
	MinutesAccumulated int                  `json:"minutes_accumulated"`
	MinutesGranted     int                  `json:"minutes_granted"`
	Grants             []*LoyaltyBonusGrant `json:"grants"`
}

// LoyaltyProgress показывает прогресс пользователя по одному правилу.
type LoyaltyProgress struct {
	ConfigurationID     uuid.UUID `json:"configuration_id" db:"configuration_id"`
	Name                string    `json:"name" db:"name"`
	MinutesRequired     int       `json:"minutes_required" db:"minutes_required"`
	MinutesBonus        int       `json:"minutes_bonus" db:"minutes_bonus"`
	Baseline            int       `json:"baseline" db:"baseline"`
	MinutesSinceLast    int       `json:"minutes_since_last"`
	MinutesToNextBonus  int       `json:"minutes_to_next_bonus"`
	TotalMinutesGranted int       `json:"total_minutes_granted" db:"total_minutes_granted"`
}

// AccrueLoyaltyRequest - тело запроса ручного начисления (поля в формате клиента).
type AccrueLoyaltyRequest struct {
	UserID        uuid.UUID `json:"usuarioId"`
	MinutosUsados int       `json:"minutosUsados"`
}

// AccrueLoyaltyResponse - ответ начисления в формате клиента.
type AccrueLoyaltyResponse struct {
	Success       bool                 `json:"success"`
	BonusAplicado bool                 `json:"bonusAplicado"`
	MinutosGanhos int                  `json:"minutosGanhos"`
	Detalhes      []*LoyaltyBonusGrant `json:"detalhes"`
}
