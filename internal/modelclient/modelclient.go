// Package modelclient defines the harness's abstract ModelClient
// collaborator (spec §6) and an HTTP reference implementation for
// OpenAI-compatible chat completion endpoints.
package modelclient

import (
	"context"
	"time"
)

// Usage reports token accounting for one Invoke call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ModelClient is the abstract LLM transport the Batch Executor calls
// (spec §6). Invoke is idempotent from the core's perspective: the
// Batch Executor is free to retry a failed call.
type ModelClient interface {
	Invoke(ctx context.Context, prompt string, temperature float64, maxTokens int, timeout time.Duration) (responseText string, usage Usage, err error)
}
