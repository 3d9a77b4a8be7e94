package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tarot-system/internal/logger"
	"tarot-system/internal/realtime"

	"github.com/google/uuid"
)

const defaultHeartbeatInterval = 25 * time.Second

// EventHub - источник событий для подписчиков SSE
type EventHub interface {
	Subscribe(userID uuid.UUID, admin bool) *realtime.Subscriber
	Unsubscribe(sub *realtime.Subscriber)
}

// EventsHandler транслирует доменные события по Server-Sent Events
type EventsHandler struct {
	hub       EventHub
	log       *logger.Logger
	heartbeat time.Duration
}

// NewEventsHandler создает обработчик потока событий
func NewEventsHandler(hub EventHub, log *logger.Logger, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	return &EventsHandler{
		hub:       hub,
		log:       log,
		heartbeat: heartbeat,
	}
}

// Stream держит соединение открытым и пишет события, адресованные вызывающему
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// Поток живёт дольше WriteTimeout сервера
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	sub := h.hub.Subscribe(identity.UserID, identity.IsAdmin())
	defer h.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	h.log.WithFields(map[string]interface{}{
		"user_id": identity.UserID,
		"admin":   identity.IsAdmin(),
	}).Debug("SSE subscriber connected")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.WithField("user_id", identity.UserID).Debug("SSE subscriber disconnected")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.log.WithError(err).Warn("Failed to encode SSE event")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
