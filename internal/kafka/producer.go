package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"tarot-system/internal/config"
	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Producer публикует доменные события в Kafka
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topics   *config.Topics
}

// NewProducer создает синхронного продюсера Kafka
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner
	saramaCfg.Net.DialTimeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.WithField("brokers", cfg.Brokers).Info("Kafka producer created")

	return &Producer{
		producer: producer,
		log:      log,
		topics:   &cfg.Topics,
	}, nil
}

// publishEvent сериализует событие и отправляет его. Ключ сообщения - идентификатор
// сущности, чтобы события одной сессии попадали в одну партицию по порядку.
func (p *Producer) publishEvent(topic string, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.EntityID.String()),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send event %s: %w", event.Type, err)
	}

	p.log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"topic":      topic,
		"partition":  partition,
		"offset":     offset,
	}).Debug("Event published")

	return nil
}

// PublishSessionEvent публикует изменение состояния консультации
func (p *Producer) PublishSessionEvent(eventType models.EventType, session *models.Session) error {
	data := map[string]interface{}{
		"session_id":        session.ID,
		"consultant_id":     session.ConsultantID,
		"status":            session.Status,
		"minutes_purchased": session.MinutesPurchased,
		"bonus_used":        session.BonusUsed,
	}
	if session.StartTime != nil {
		data["start_time"] = session.StartTime
	}
	if session.MinutesUsed != nil {
		data["minutes_used"] = *session.MinutesUsed
	}
	if session.FinishReason != nil {
		data["finish_reason"] = *session.FinishReason
	}

	event := models.NewEvent(eventType, session.ID, data)
	userID := session.UserID
	event.UserID = &userID
	return p.publishEvent(p.topics.Sessions, event)
}

// PublishPurchaseCreated публикует новую покупку, ожидающую подтверждения
func (p *Producer) PublishPurchaseCreated(purchase *models.Purchase) error {
	event := models.NewEvent(models.EventTypePurchaseCreated, purchase.ID, map[string]interface{}{
		"minutes":       purchase.Minutes,
		"bonus_minutes": purchase.BonusMinutes,
		"value":         purchase.Value,
		"status":        purchase.Status,
	})
	userID := purchase.UserID
	event.UserID = &userID
	return p.publishEvent(p.topics.Purchases, event)
}

// PublishPurchaseStatusChanged публикует одобрение или отмену покупки
func (p *Producer) PublishPurchaseStatusChanged(purchase *models.Purchase, oldStatus models.PurchaseStatus) error {
	event := models.NewEvent(models.EventTypePurchaseStatusChanged, purchase.ID, map[string]interface{}{
		"old_status": oldStatus,
		"new_status": purchase.Status,
		"minutes":    purchase.CreditedMinutes(),
	})
	userID := purchase.UserID
	event.UserID = &userID
	return p.publishEvent(p.topics.Purchases, event)
}

// PublishConsultantStatusChanged публикует смену доступности таролога
func (p *Producer) PublishConsultantStatusChanged(consultantID uuid.UUID, oldStatus, newStatus models.ConsultantStatus) error {
	event := models.NewEvent(models.EventTypeConsultantStatusChanged, consultantID, map[string]interface{}{
		"old_status": oldStatus,
		"new_status": newStatus,
	})
	return p.publishEvent(p.topics.Consultants, event)
}

// PublishLoyaltyBonusGranted публикует начисление бонуса лояльности
func (p *Producer) PublishLoyaltyBonusGranted(userID uuid.UUID, outcome *models.LoyaltyOutcome) error {
	event := models.NewEvent(models.EventTypeLoyaltyBonusGranted, userID, map[string]interface{}{
		"minutes_granted":     outcome.MinutesGranted,
		"minutes_accumulated": outcome.MinutesAccumulated,
		"grants":              len(outcome.Grants),
	})
	event.UserID = &userID
	return p.publishEvent(p.topics.Sessions, event)
}

// Close закрывает продюсера
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
