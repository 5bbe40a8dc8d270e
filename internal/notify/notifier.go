// Package notify delivers user-facing notifications through the platform's
// messaging gateway. Delivery is best effort: core state transitions never
// hinge on it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notification templates.
const (
	TemplatePaymentReceived  = "payment_received"
	TemplateOfframpCompleted = "offramp_completed"
	TemplateOfframpFailed    = "offramp_failed"
)

// Notifier sends one templated message to a user over a channel.
type Notifier interface {
	Send(ctx context.Context, channel, recipient, template string, data map[string]string) error
}

// GatewayNotifier posts notifications to the HTTP messaging gateway.
type GatewayNotifier struct {
	GatewayURL string
	APIKey     string
	HTTPClient *http.Client
}

var _ Notifier = (*GatewayNotifier)(nil)

func NewGatewayNotifier(gatewayURL, apiKey string) *GatewayNotifier {
	return &GatewayNotifier{
		GatewayURL: gatewayURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *GatewayNotifier) Send(ctx context.Context, channel, recipient, template string, data map[string]string) error {
	payload, err := json.Marshal(map[string]any{
		"channel":   channel,
		"recipient": recipient,
		"template":  template,
		"data":      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.GatewayURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to notification gateway failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification gateway returned status %d", resp.StatusCode)
	}

	zap.L().Debug("Notification sent",
		zap.String("recipient", recipient),
		zap.String("template", template))
	return nil
}

// NoopNotifier drops all notifications. Used when no gateway is configured.
type NoopNotifier struct{}

var _ Notifier = (*NoopNotifier)(nil)

func (NoopNotifier) Send(ctx context.Context, channel, recipient, template string, data map[string]string) error {
	return nil
}
