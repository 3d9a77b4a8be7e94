package services

import (
	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	"github.com/google/uuid"
)

// EventPublisher публикует доменные события. Реализуется kafka.Producer.
type EventPublisher interface {
	PublishSessionEvent(eventType models.EventType, session *models.Session) error
	PublishPurchaseCreated(purchase *models.Purchase) error
	PublishPurchaseStatusChanged(purchase *models.Purchase, oldStatus models.PurchaseStatus) error
	PublishConsultantStatusChanged(consultantID uuid.UUID, oldStatus, newStatus models.ConsultantStatus) error
	PublishLoyaltyBonusGranted(userID uuid.UUID, outcome *models.LoyaltyOutcome) error
}

// eventSink публикует события после коммита. Ошибки только логируются:
// изменение уже сохранено и откатывать его нельзя.
type eventSink struct {
	pub EventPublisher
	log *logger.Logger
}

func (e eventSink) session(eventType models.EventType, session *models.Session) {
	if e.pub == nil {
		return
	}
	if err := e.pub.PublishSessionEvent(eventType, session); err != nil {
		e.log.WithError(err).WithFields(map[string]interface{}{
			"session_id": session.ID,
			"event_type": eventType,
		}).Error("Failed to publish session event")
	}
}

func (e eventSink) purchaseCreated(purchase *models.Purchase) {
	if e.pub == nil {
		return
	}
	if err := e.pub.PublishPurchaseCreated(purchase); err != nil {
		e.log.WithError(err).WithField("purchase_id", purchase.ID).Error("Failed to publish purchase created event")
	}
}

func (e eventSink) purchaseStatusChanged(purchase *models.Purchase, oldStatus models.PurchaseStatus) {
	if e.pub == nil {
		return
	}
	if err := e.pub.PublishPurchaseStatusChanged(purchase, oldStatus); err != nil {
		e.log.WithError(err).WithField("purchase_id", purchase.ID).Error("Failed to publish purchase status event")
	}
}

func (e eventSink) consultantStatusChanged(consultantID uuid.UUID, oldStatus, newStatus models.ConsultantStatus) {
	if e.pub == nil || oldStatus == newStatus {
		return
	}
	if err := e.pub.PublishConsultantStatusChanged(consultantID, oldStatus, newStatus); err != nil {
		e.log.WithError(err).WithField("consultant_id", consultantID).Error("Failed to publish consultant status event")
	}
}

func (e eventSink) loyaltyGranted(userID uuid.UUID, outcome *models.LoyaltyOutcome) {
	if e.pub == nil || outcome == nil || outcome.MinutesGranted == 0 {
		return
	}
	if err := e.pub.PublishLoyaltyBonusGranted(userID, outcome); err != nil {
		e.log.WithError(err).WithField("user_id", userID).Error("Failed to publish loyalty event")
	}
}
