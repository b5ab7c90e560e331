package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wellmind-health/therapy-platform/internal/events"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

// WebhookNotifier forwards booking events to the notification collaborator.
// Delivery is fire-and-forget from the engine's point of view; the outbox
// dispatcher retries on failure.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewWebhookNotifier creates a notifier posting to the given URL. An empty
// URL yields a notifier that drops events after logging them.
func NewWebhookNotifier(url string, logger *logging.Logger) *WebhookNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type webhookEnvelope struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Handle implements events.DeliveryHandler.
func (n *WebhookNotifier) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if n.url == "" {
		n.logger.Debug("notify: no webhook configured, dropping event", "type", entry.Type, "event_id", entry.ID)
		return nil
	}

	body, err := json.Marshal(webhookEnvelope{
		EventID:   entry.ID.String(),
		Type:      entry.Type,
		Payload:   entry.Payload,
		CreatedAt: entry.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wellmind-Event", entry.Type)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("notify: webhook status %d", resp.StatusCode)
	}

	n.logger.Info("event delivered", "type", entry.Type, "event_id", entry.ID)
	return nil
}
