package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus представляет этап консультации
type SessionStatus string

const (
	SessionStatusAwaiting SessionStatus = "awaiting"
	SessionStatusActive   SessionStatus = "active"
	SessionStatusFinished SessionStatus = "finished"
)

// FinishReason объясняет, почему консультация завершилась
type FinishReason string

const (
	FinishReasonExpired        FinishReason = "expired"
	FinishReasonManualClient   FinishReason = "manual_client"
	FinishReasonManualOperator FinishReason = "manual_operator"
)

// Valid сообщает, известна ли причина.
func (r FinishReason) Valid() bool {
	switch r {
	case FinishReasonExpired, FinishReasonManualClient, FinishReasonManualOperator:
		return true
	}
	return false
}

// Session представляет оплачиваемую поминутно консультацию
type Session struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	UserID           uuid.UUID     `json:"user_id" db:"user_id"`
	ConsultantID     uuid.UUID     `json:"consultant_id" db:"consultant_id"`
	OperatorID       *uuid.UUID    `json:"operator_id,omitempty" db:"operator_id"`
	MinutesPurchased int           `json:"minutes_purchased" db:"minutes_purchased"`
	MinutesUsed      *int          `json:"minutes_used,omitempty" db:"minutes_used"`
	BonusUsed        bool          `json:"bonus_used" db:"bonus_used"`
	Status           SessionStatus `json:"status" db:"status"`
	FinishReason     *FinishReason `json:"finish_reason,omitempty" db:"finish_reason"`
	StartTime        *time.Time    `json:"start_time,omitempty" db:"start_time"`
	EndTime          *time.Time    `json:"end_time,omitempty" db:"end_time"`
	Rating           *int          `json:"rating,omitempty" db:"rating"`
	ReviewComment    *string       `json:"review_comment,omitempty" db:"review_comment"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// SessionTimer описывает состояние таймера активной консультации
type SessionTimer struct {
	ElapsedSeconds   int64 `json:"elapsed_seconds"`
	RemainingSeconds int64 `json:"remaining_seconds"`
	Expired          bool  `json:"expired"`
}

// Timer вычисляет таймер на момент now. Для неактивных сессий возвращает nil.
func (s *Session) Timer(now time.Time) *SessionTimer {
	if s.Status != SessionStatusActive || s.StartTime == nil {
		return nil
	}

	elapsed := int64(now.Sub(*s.StartTime) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := int64(s.MinutesPurchased)*60 - elapsed
	if remaining < 0 {
		remaining = 0
	}

	return &SessionTimer{
		ElapsedSeconds:   elapsed,
		RemainingSeconds: remaining,
		Expired:          remaining == 0,
	}
}

// SessionView добавляет к сессии вычисляемый таймер
type SessionView struct {
	*Session
	Timer *SessionTimer `json:"timer,omitempty"`
}

// CreateSessionRequest представляет запрос клиента на консультацию
type CreateSessionRequest struct {
	ConsultantID uuid.UUID `json:"consultant_id"`
	Minutes      int       `json:"minutes"`
}

// FinalizeSessionRequest позволяет клиенту сообщить об истечении таймера
type FinalizeSessionRequest struct {
	Reason FinishReason `json:"reason,omitempty"`
}

// CreateReviewRequest представляет отзыв клиента о консультации
type CreateReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// SessionFilter задаёт выборку сессий
type SessionFilter struct {
	UserID       *uuid.UUID
	ConsultantID *uuid.UUID
	Status       *SessionStatus
	Limit        int
	Offset       int
}

// BonusResult сообщает, были ли начислены бонусные минуты
type BonusResult struct {
	Session *Session `json:"session"`
	Applied bool     `json:"applied"`
	Minutes int      `json:"minutes"`
}

// FinalizeResult описывает итог завершения консультации
type FinalizeResult struct {
	Session          *Session        `json:"session"`
	MinutesDebited   int             `json:"minutes_debited"`
	MinutesAvailable int             `json:"minutes_available"`
	Loyalty          *LoyaltyOutcome `json:"loyalty,omitempty"`
}
