package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/setevik/errtrack/internal/metrics"
)

// WebhookSender posts alert payloads as JSON to a configured URL. Concrete
// transport formatters (Slack, PagerDuty, email) live outside the core;
// this generic sender is the reference transport.
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. An empty URL disables sending.
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Send posts the payload. A disabled sender logs and returns nil.
func (s *WebhookSender) Send(ctx context.Context, p Payload) error {
	if s.url == "" {
		slog.Debug("webhook URL not configured, skipping notification")
		return nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Errtrack-Severity", p.Severity)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	metrics.Notified.Inc()
	slog.Info("notification sent",
		"error_type", p.ErrorType,
		"severity", p.Severity,
		"count", p.OccurrenceCount,
	)
	return nil
}
