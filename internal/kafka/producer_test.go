package kafka

import (
	"fmt"
	"testing"
	"time"

	"tarot-system/internal/config"
	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
)

func TestPublishEvent(t *testing.T) {
	cfg := sarama.NewConfig()
	mp := mocks.NewSyncProducer(t, cfg)
	mp.ExpectSendMessageAndSucceed()

	event := models.Event{ID: uuid.New(), Type: models.EventTypeSessionRequested}
	p := &Producer{
		producer: mp,
		log:      logger.New(&config.LoggerConfig{Level: "error", Format: "json"}),
		topics:   &config.Topics{Sessions: "sessions"},
	}
	if err := p.publishEvent("sessions", event); err != nil {
		t.Fatalf("expected publish success, got %v", err)
	}

	if err := mp.Close(); err != nil {
		t.Fatalf("failed to close mock producer: %v", err)
	}
}

func TestProducer_WrapperMethods(t *testing.T) {
	cfg := sarama.NewConfig()
	mp := mocks.NewSyncProducer(t, cfg)
	for i := 0; i < 5; i++ {
		mp.ExpectSendMessageAndSucceed()
	}

	p := &Producer{
		producer: mp,
		log:      logger.New(&config.LoggerConfig{Level: "error", Format: "json"}),
		topics:   &config.Topics{Sessions: "sessions", Purchases: "purchases", Consultants: "consultants"},
	}

	now := time.Now()
	used := 22
	reason := models.FinishReasonManualClient
	session := &models.Session{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		ConsultantID:     uuid.New(),
		MinutesPurchased: 25,
		MinutesUsed:      &used,
		Status:           models.SessionStatusFinished,
		FinishReason:     &reason,
		StartTime:        &now,
	}
	purchase := &models.Purchase{ID: uuid.New(), UserID: uuid.New(), Minutes: 30, BonusMinutes: 5, Value: 75, Status: models.PurchaseStatusPending}

	if err := p.PublishSessionEvent(models.EventTypeSessionFinished, session); err != nil {
		t.Fatalf("PublishSessionEvent failed: %v", err)
	}
	if err := p.PublishPurchaseCreated(purchase); err != nil {
		t.Fatalf("PublishPurchaseCreated failed: %v", err)
	}
	purchase.Status = models.PurchaseStatusApproved
	if err := p.PublishPurchaseStatusChanged(purchase, models.PurchaseStatusPending); err != nil {
		t.Fatalf("PublishPurchaseStatusChanged failed: %v", err)
	}
	if err := p.PublishConsultantStatusChanged(session.ConsultantID, models.ConsultantStatusAvailable, models.ConsultantStatusBusy); err != nil {
		t.Fatalf("PublishConsultantStatusChanged failed: %v", err)
	}
	if err := p.PublishLoyaltyBonusGranted(session.UserID, &models.LoyaltyOutcome{MinutesAccumulated: 125, MinutesGranted: 10}); err != nil {
		t.Fatalf("PublishLoyaltyBonusGranted failed: %v", err)
	}
}

func TestProducer_MessageKeyIsEntityID(t *testing.T) {
	cfg := sarama.NewConfig()
	mp := mocks.NewSyncProducer(t, cfg)

	sessionID := uuid.New()
	mp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != sessionID.String() {
			return fmt.Errorf("unexpected key %s", key)
		}
		if msg.Topic != "sessions" {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		return nil
	})

	p := &Producer{
		producer: mp,
		log:      logger.New(&config.LoggerConfig{Level: "error", Format: "json"}),
		topics:   &config.Topics{Sessions: "sessions"},
	}
	session := &models.Session{ID: sessionID, UserID: uuid.New(), ConsultantID: uuid.New(), Status: models.SessionStatusAwaiting, MinutesPurchased: 20}
	if err := p.PublishSessionEvent(models.EventTypeSessionRequested, session); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := mp.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestProducer_PublishEvent_Failure(t *testing.T) {
	cfg := sarama.NewConfig()
	mp := mocks.NewSyncProducer(t, cfg)
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := &Producer{
		producer: mp,
		log:      logger.New(&config.LoggerConfig{Level: "error", Format: "json"}),
		topics:   &config.Topics{Sessions: "sessions"},
	}

	ev := models.Event{ID: uuid.New(), Type: models.EventTypeSessionRequested}
	err := p.publishEvent("sessions", ev)
	if err == nil {
		t.Fatalf("expected error on send failure")
	}
	_ = p.Close()
}

func TestNewProducer_Error(t *testing.T) {
	log := logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
	cfg := &config.KafkaConfig{Brokers: []string{"localhost:0"}}
	if _, err := NewProducer(cfg, log); err == nil {
		t.Fatalf("expected error creating producer")
	}
}

func TestProducer_CloseNil(t *testing.T) {
	var p *Producer
	if err := p.Close(); err != nil {
		t.Fatalf("expected nil error on nil producer")
	}
	p = &Producer{}
	if err := p.Close(); err != nil {
		t.Fatalf("expected nil error on empty producer, got %v", err)
	}
}
