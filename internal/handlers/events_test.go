package handlers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tarot-system/internal/auth"
	"tarot-system/internal/models"
	"tarot-system/internal/realtime"

	"github.com/google/uuid"
)

func TestEventsHandler_StreamsOwnEvents(t *testing.T) {
	hub := realtime.NewHub(newTestLogger())
	userID := uuid.New()
	handler := NewEventsHandler(hub, newTestLogger(), time.Minute)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Stream(w, r.WithContext(auth.WithIdentity(r.Context(), clientIdentity(userID))))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", ct)
	}

	other := uuid.New()
	foreign := models.NewEvent(models.EventTypeSessionRequested, uuid.New(), nil)
	foreign.UserID = &other
	hub.Broadcast(foreign)

	own := models.NewEvent(models.EventTypeSessionAccepted, uuid.New(), map[string]interface{}{"minutes": 30})
	own.UserID = &userID
	hub.Broadcast(own)

	scanner := bufio.NewScanner(resp.Body)
	var seen []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			seen = append(seen, strings.TrimPrefix(line, "event: "))
			break
		}
	}

	if len(seen) != 1 || seen[0] != string(models.EventTypeSessionAccepted) {
		t.Fatalf("expected only own event, got %v", seen)
	}
}

func TestEventsHandler_RequiresIdentity(t *testing.T) {
	handler := NewEventsHandler(realtime.NewHub(newTestLogger()), newTestLogger(), 0)

	rr := httptest.NewRecorder()
	handler.Stream(rr, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestEventsHandler_UnsubscribesOnDisconnect(t *testing.T) {
	hub := realtime.NewHub(newTestLogger())
	handler := NewEventsHandler(hub, newTestLogger(), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req = withIdentity(req, adminIdentity())

	done := make(chan struct{})
	go func() {
		handler.Stream(httptest.NewRecorder(), req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Count() != 1 {
		t.Fatalf("expected one subscriber")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not stop after disconnect")
	}
	if hub.Count() != 0 {
		t.Fatalf("expected subscriber to be removed")
	}
}
