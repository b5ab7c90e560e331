package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wellmind-health/therapy-platform/internal/observability/metrics"
	"github.com/wellmind-health/therapy-platform/pkg/logging"
)

var gatewayTracer = otel.Tracer("wellmind.internal.settlement.gateway")

// CheckoutSession is the hosted payment page handed back to the client.
type CheckoutSession struct {
	URL         string
	ProviderRef string
}

// HTTPGateway talks to the external checkout provider. It creates hosted
// checkout sessions and issues refunds when a paid slot turns out to be gone.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	successURL string
	cancelURL  string
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.BookingMetrics
}

func NewHTTPGateway(baseURL, apiKey, successURL, cancelURL string, m *metrics.BookingMetrics, logger *logging.Logger) *HTTPGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
		metrics:    m,
	}
}

// CreateCheckoutSession asks the provider for a hosted payment page. The
// reference token is carried opaquely by the provider and echoed back on the
// confirmation webhook.
func (g *HTTPGateway) CreateCheckoutSession(ctx context.Context, amountCents int64, reference string) (*CheckoutSession, error) {
	ctx, span := gatewayTracer.Start(ctx, "gateway.create_session")
	defer span.End()
	span.SetAttributes(attribute.Int64("wellmind.amount_cents", amountCents))

	body := map[string]any{
		"amount": map[string]any{
			"value":    amountCents,
			"currency": "USD",
		},
		"reference":   reference,
		"success_url": g.successURL,
		"cancel_url":  g.cancelURL,
	}

	var parsed struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := g.post(ctx, "/v1/checkout/sessions", "create_session", body, &parsed); err != nil {
		return nil, err
	}
	if parsed.URL == "" {
		return nil, &GatewayError{Op: "create_session", Err: fmt.Errorf("response missing url")}
	}
	return &CheckoutSession{URL: parsed.URL, ProviderRef: parsed.ID}, nil
}

// Refund returns money to the payer for a checkout that could not be
// fulfilled. The provider resolves the original payment from the reference.
func (g *HTTPGateway) Refund(ctx context.Context, reference string, amountCents int64) error {
	ctx, span := gatewayTracer.Start(ctx, "gateway.refund")
	defer span.End()
	span.SetAttributes(attribute.Int64("wellmind.amount_cents", amountCents))

	body := map[string]any{
		"reference": reference,
		"amount": map[string]any{
			"value":    amountCents,
			"currency": "USD",
		},
	}
	var parsed struct {
		Status string `json:"status"`
	}
	if err := g.post(ctx, "/v1/refunds", "refund", body, &parsed); err != nil {
		return err
	}
	g.logger.Info("gateway refund issued", "amount_cents", amountCents, "status", parsed.Status)
	return nil
}

func (g *HTTPGateway) post(ctx context.Context, path, op string, body any, out any) error {
	if g.baseURL == "" {
		return &GatewayError{Op: op, Err: fmt.Errorf("no gateway base url configured")}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return &GatewayError{Op: op, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	g.metrics.ObserveGatewayLatency(op, time.Since(start).Seconds())
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &GatewayError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &GatewayError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
