// Package realtime раздаёт доменные события подключённым клиентам.
// Доставка at-most-once: отключённый или медленный подписчик теряет события.
package realtime

import (
	"sync"

	"tarot-system/internal/logger"
	"tarot-system/internal/models"

	"github.com/google/uuid"
)

const defaultBuffer = 32

// Subscriber получает события, адресованные ему.
type Subscriber struct {
	id     uuid.UUID
	userID uuid.UUID
	admin  bool
	events chan models.Event
}

// Events возвращает канал событий подписчика. Канал закрывается при отписке.
func (s *Subscriber) Events() <-chan models.Event {
	return s.events
}

func (s *Subscriber) wants(event *models.Event) bool {
	if s.admin {
		return true
	}
	if event.Type == models.EventTypeConsultantStatusChanged {
		return true
	}
	return event.UserID != nil && *event.UserID == s.userID
}

// Hub хранит подписчиков и рассылает им события.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*Subscriber
	buffer      int
	log         *logger.Logger
}

// NewHub создает пустой hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]*Subscriber),
		buffer:      defaultBuffer,
		log:         log,
	}
}

// Subscribe регистрирует подписчика. Администратор получает все события,
// клиент - свои и изменения доступности тарологов.
func (h *Hub) Subscribe(userID uuid.UUID, admin bool) *Subscriber {
	sub := &Subscriber{
		id:     uuid.New(),
		userID: userID,
		admin:  admin,
		events: make(chan models.Event, h.buffer),
	}

	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	return sub
}

// Unsubscribe удаляет подписчика и закрывает его канал. Повторный вызов безопасен.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub.id]; !ok {
		return
	}
	delete(h.subscribers, sub.id)
	close(sub.events)
}

// Broadcast отправляет событие всем заинтересованным подписчикам без блокировки.
// Возвращает число подписчиков, получивших событие.
func (h *Hub) Broadcast(event models.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subscribers {
		if !sub.wants(&event) {
			continue
		}
		select {
		case sub.events <- event:
			delivered++
		default:
			if h.log != nil {
				h.log.WithFields(map[string]interface{}{
					"subscriber": sub.id,
					"event_type": event.Type,
				}).Warn("Subscriber buffer full, event dropped")
			}
		}
	}
	return delivered
}

// Count возвращает число активных подписчиков.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
