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

	"github.com/rs/zerolog"
)

// WebhookChannel posts a Notification as an HMAC-signed JSON payload to
// a configured URL, retrying transient failures with exponential
// backoff (adapted from the teacher's webhook notification channel).
type WebhookChannel struct {
	url     string
	headers map[string]string
	secret  string
	client  *http.Client
	logger  zerolog.Logger
}

// WebhookConfig configures a WebhookChannel.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Secret  string
	Timeout time.Duration
}

// NewWebhookChannel builds a WebhookChannel.
func NewWebhookChannel(cfg WebhookConfig, logger zerolog.Logger) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookChannel{
		url:     cfg.URL,
		headers: cfg.Headers,
		secret:  cfg.Secret,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("notify_channel", "webhook").Logger(),
	}
}

// payload is the JSON body posted to the webhook.
type payload struct {
	Event     string `json:"event"`
	RunID     string `json:"runId,omitempty"`
	BatchNum  int    `json:"batchNum,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// Send implements Channel.
func (c *WebhookChannel) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(payload{
		Event:     string(n.Kind),
		RunID:     n.RunID,
		BatchNum:  n.BatchNum,
		Timestamp: n.CreatedAt.Format(time.RFC3339),
		Payload:   n.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "harness/1.0")
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}
		if c.secret != "" {
			req.Header.Set("X-Harness-Signature-256", "sha256="+c.sign(body))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("webhook request failed: %w", err)
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("webhook request failed, retrying")
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return lastErr
		}
	}
	return lastErr
}

func (c *WebhookChannel) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
