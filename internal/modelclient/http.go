package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benchharness/harness/internal/harnesserr"
)

// HTTPConfig configures an HTTPClient against an OpenAI-compatible
// chat completions endpoint.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// HTTPClient is the reference ModelClient implementation: one POST per
// Invoke call, classifying the response into the harnesserr.Kind table
// from spec §7 so the Batch Executor can apply its own retry/backoff
// policy. It deliberately does not retry internally — per spec §4.2
// retries are the Executor's responsibility, not the transport's.
type HTTPClient struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPClient builds an HTTPClient. The http.Client's own timeout is
// left at zero; per-call deadlines come from the timeout argument to
// Invoke via context, matching the Batch Executor's per-attempt
// timeout (spec §4.2 default 10 minutes).
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	return &HTTPClient{cfg: cfg, client: &http.Client{}}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *HTTPClient) Invoke(ctx context.Context, prompt string, temperature float64, maxTokens int, timeout time.Duration) (string, Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, harnesserr.Wrap(harnesserr.BadRequest, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, harnesserr.Wrap(harnesserr.BadRequest, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", Usage{}, harnesserr.Wrap(harnesserr.Timeout, "model call timed out", err)
		}
		return "", Usage{}, harnesserr.Wrap(harnesserr.Transport, "model call failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", Usage{}, harnesserr.Wrap(harnesserr.Transport, "read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", Usage{}, harnesserr.New(harnesserr.RateLimited, fmt.Sprintf("rate limited: %s", string(respBody)))
	case resp.StatusCode >= 500:
		return "", Usage{}, harnesserr.New(harnesserr.Transport, fmt.Sprintf("server error %d: %s", resp.StatusCode, string(respBody)))
	case resp.StatusCode >= 400:
		return "", Usage{}, harnesserr.New(harnesserr.BadRequest, fmt.Sprintf("request rejected %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", Usage{}, harnesserr.Wrap(harnesserr.InvalidResponse, "parse model response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", Usage{}, harnesserr.New(harnesserr.InvalidResponse, "model response had no choices")
	}

	return parsed.Choices[0].Message.Content, Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}
