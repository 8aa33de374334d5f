package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	webhookTimeout = 10 * time.Second
	webhookRetries = 2
)

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint. 5xx responses
// and transport errors are retried; 4xx responses are not.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	backoff func() backoff.BackOff
}

// NewWebhookNotifier creates a notifier for url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return backoff.WithMaxRetries(b, webhookRetries)
		},
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.Time.IsZero() {
		alert.Time = time.Now()
	}
	alert.Time = alert.Time.UTC()

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	attempt := 0
	post := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("webhook: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook: post: %w", err)
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook: status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("webhook: status %d", resp.StatusCode))
		}
	}

	if err := backoff.Retry(post, backoff.WithContext(w.backoff(), ctx)); err != nil {
		return err
	}
	if attempt > 1 {
		log.Printf("[webhook] %q delivered after %d attempts", alert.Title, attempt)
	}
	return nil
}
