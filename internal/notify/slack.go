package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SlackChannel posts a Notification to a Slack incoming webhook as a
// single plain-text message (adapted from the teacher's Slack
// notification channel's webhook leg; the bot-token API leg is not
// carried over, since the harness has no per-workspace channel
// routing to justify it).
type SlackChannel struct {
	webhookURL string
	username   string
	iconEmoji  string
	client     *http.Client
	logger     zerolog.Logger
}

// SlackConfig configures a SlackChannel.
type SlackConfig struct {
	WebhookURL string
	Username   string
	IconEmoji  string
}

// NewSlackChannel builds a SlackChannel.
func NewSlackChannel(cfg SlackConfig, logger zerolog.Logger) *SlackChannel {
	username := cfg.Username
	if username == "" {
		username = "harness"
	}
	return &SlackChannel{
		webhookURL: cfg.WebhookURL,
		username:   username,
		iconEmoji:  cfg.IconEmoji,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("notify_channel", "slack").Logger(),
	}
}

type slackMessage struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

// Send implements Channel.
func (c *SlackChannel) Send(ctx context.Context, n Notification) error {
	text := fmt.Sprintf(":robot_face: `%s` run `%s`", n.Kind, n.RunID)
	if n.BatchNum > 0 {
		text += fmt.Sprintf(" (batch %d)", n.BatchNum)
	}

	body, err := json.Marshal(slackMessage{Text: text, Username: c.username, IconEmoji: c.iconEmoji})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
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

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build slack request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("slack request failed: %w", err)
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("slack request failed, retrying")
			continue
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return nil
		}
		lastErr = fmt.Errorf("slack returned status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return lastErr
		}
	}
	return lastErr
}
