package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/wellmind-health/therapy-platform/internal/events"
)

func TestHandlePostsEnvelope(t *testing.T) {
	var got webhookEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Wellmind-Event") != "appointment.booked.v1" {
			t.Errorf("missing event type header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	entry := events.OutboxEntry{
		ID:      uuid.New(),
		Type:    "appointment.booked.v1",
		Payload: json.RawMessage(`{"appointment_id":"abc"}`),
	}

	if err := n.Handle(context.Background(), entry); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if got.Type != entry.Type || got.EventID != entry.ID.String() {
		t.Fatalf("unexpected envelope: %+v", got)
	}
}

func TestHandleSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "downstream on fire", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	if err := n.Handle(context.Background(), events.OutboxEntry{ID: uuid.New(), Type: "x"}); err == nil {
		t.Fatal("expected non-2xx response to surface as error")
	}
}

func TestHandleNoURLDropsEvent(t *testing.T) {
	n := NewWebhookNotifier("", nil)
	if err := n.Handle(context.Background(), events.OutboxEntry{ID: uuid.New(), Type: "x"}); err != nil {
		t.Fatalf("expected drop without error, got %v", err)
	}
}
