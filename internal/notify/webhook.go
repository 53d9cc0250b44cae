package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"appbackup/internal/logger"
)

// Webhook posts events as JSON to a configured endpoint. Transient
// failures are retried with exponential backoff; 4xx responses are
// treated as permanent since the payload will not get better.
type Webhook struct {
	settings settings
	client   *http.Client
	log      logger.Logger

	maxElapsed time.Duration
}

// webhookPayload is the JSON document posted to the endpoint.
type webhookPayload struct {
	Version string `json:"version"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Event   *Event `json:"event"`
}

// NewWebhook creates a webhook observer from notification settings.
func NewWebhook(s settings, log logger.Logger) *Webhook {
	return &Webhook{
		settings:   s,
		log:        log,
		client:     &http.Client{Timeout: 30 * time.Second},
		maxElapsed: 2 * time.Minute,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Enabled() bool { return w.settings.webhookURL != "" }

// Send posts the event, retrying transient failures.
func (w *Webhook) Send(ctx context.Context, event *Event) error {
	if !w.Enabled() {
		return nil
	}

	payload := webhookPayload{
		Version: "1",
		Subject: Subject(w.settings.subjectPrefix, event),
		Body:    Body(event),
		Event:   event,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = w.maxElapsed

	operation := func() error {
		return w.post(ctx, body)
	}
	notify := func(err error, wait time.Duration) {
		if w.log != nil {
			w.log.Warn("Retrying webhook delivery",
				"channel", string(event.Channel),
				"wait", wait.Round(time.Millisecond).String(),
				"error", err)
		}
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	method := w.settings.webhookMethod
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, w.settings.webhookURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "appbackup-notify/1")
	if w.settings.webhookSecret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+w.sign(body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Capped read so a chatty endpoint cannot balloon the error message.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	default:
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}
}

// sign computes the HMAC-SHA256 signature of the payload body.
func (w *Webhook) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(w.settings.webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
