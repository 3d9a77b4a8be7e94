package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType определяет тип доменного события
type EventType string

const (
	EventTypeSessionRequested        EventType = "session.requested"
	EventTypeSessionAccepted         EventType = "session.accepted"
	EventTypeSessionDeclined         EventType = "session.declined"
	EventTypeSessionBonusGranted     EventType = "session.bonus_granted"
	EventTypeSessionFinished         EventType = "session.finished"
	EventTypePurchaseCreated         EventType = "purchase.created"
	EventTypePurchaseStatusChanged   EventType = "purchase.status_changed"
	EventTypeConsultantStatusChanged EventType = "consultant.status_changed"
	EventTypeLoyaltyBonusGranted     EventType = "loyalty.bonus_granted"
)

// Event представляет событие, публикуемое в Kafka и транслируемое подписчикам
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Type      EventType              `json:"type"`
	EntityID  uuid.UUID              `json:"entity_id"`
	UserID    *uuid.UUID             `json:"user_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent создает событие с новым идентификатором и текущим временем.
func NewEvent(eventType EventType, entityID uuid.UUID, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		EntityID:  entityID,
		Data:      data,
		Timestamp: time.Now(),
	}
}
