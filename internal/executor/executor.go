// Package executor implements the Batch Executor (spec §4.2): the
// per-batch state machine pending → running → retrying → completed |
// failed, with retry policy, per-attempt timeout, and rate-limit
// backoff.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benchharness/harness/internal/clockid"
	"github.com/benchharness/harness/internal/eventbus"
	"github.com/benchharness/harness/internal/harnesserr"
	"github.com/benchharness/harness/internal/modelclient"
	"github.com/benchharness/harness/internal/store"
	"github.com/benchharness/harness/internal/suite"
)

// Status is a Batch's state (spec §3).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	// DefaultTimeout is the per-batch wall timeout (spec §4.2, §5).
	DefaultTimeout = 10 * time.Minute
	// DefaultMaxRetries is the default retry budget (spec §4.2).
	DefaultMaxRetries = 3

	backoffBase   = time.Second
	backoffFactor = 2
	backoffCap    = 30 * time.Second
	backoffJitter = 0.20
)

// Batch is the unit of work one Executor owns (spec §3). Fields are
// mutated only by the owning Executor, under the Mu passed to Run —
// a Batch is reachable from a Run Coordinator's snapshot reads for the
// whole time an Executor is running it, so every write must take the
// same lock the snapshot read does.
type Batch struct {
	Number      int
	TestCaseIDs []string
	Status      Status
	RetryCount  int
	MaxRetries  int
	LastError   error
	Responses   map[string]store.ResponseEntry
}

// PromptBuilder renders the single prompt issued for a batch's set of
// TestCases. Kept as a function value rather than an interface since
// it is pure and callers rarely need more than one implementation.
type PromptBuilder func(tests []suite.TestCase, variant suite.Variant) string

// Config configures one Executor invocation.
type Config struct {
	Model       string
	Variant     suite.Variant
	Temperature float64
	Timeout     time.Duration // default DefaultTimeout
	MaxRetries  int           // default DefaultMaxRetries
	BuildPrompt PromptBuilder
	// Mu, if set, is locked around every write to batch's fields (and
	// the event payload read back out of them), so a caller reading
	// the same Batch concurrently under Mu.RLock never observes a
	// torn update. Callers with no concurrent reader (tests, standalone
	// use) may leave it nil; Run then uses a private mutex.
	Mu *sync.RWMutex
}

// Executor runs exactly one Batch to completion or failure. It
// guarantees at most one in-flight model call at a time (spec §4.2).
type Executor struct {
	client modelclient.ModelClient
	clock  clockid.Clock
	bus    *eventbus.Bus
	topic  string
	runID  string
	rng    *rand.Rand
}

// New builds an Executor publishing batch.* events for runID on topic.
func New(client modelclient.ModelClient, clock clockid.Clock, bus *eventbus.Bus, runID string) *Executor {
	return &Executor{
		client: client,
		clock:  clock,
		bus:    bus,
		topic:  eventbus.RunTopic(runID),
		runID:  runID,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes batch until it reaches completed or failed, honoring
// cfg.MaxRetries and ctx cancellation. It never merges partial
// responses across attempts: a retry replaces the prior attempt's
// output entirely (spec §4.2).
func (e *Executor) Run(ctx context.Context, batch *Batch, tests []suite.TestCase, cfg Config) {
	mu := cfg.Mu
	if mu == nil {
		mu = &sync.RWMutex{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	e.transition(mu, batch, eventbus.KindBatchStarted, nil, func() {
		batch.MaxRetries = maxRetries
		batch.Status = StatusRunning
	})

	prompt := cfg.BuildPrompt(tests, cfg.Variant)

	attemptTimeout := timeout
	for {
		select {
		case <-ctx.Done():
			cancelErr := harnesserr.New(harnesserr.Cancelled, "batch cancelled")
			e.transition(mu, batch, eventbus.KindBatchFailed, cancelErr, func() {
				batch.Status = StatusFailed
				batch.LastError = cancelErr
			})
			return
		default:
		}

		responseText, _, err := e.client.Invoke(ctx, prompt, cfg.Temperature, 0, attemptTimeout)
		var responses map[string]store.ResponseEntry
		if err == nil {
			responses, err = parseResponses(tests, responseText)
		}
		if err == nil {
			e.transition(mu, batch, eventbus.KindBatchCompleted, nil, func() {
				batch.Responses = responses
				batch.Status = StatusCompleted
			})
			return
		}

		mu.RLock()
		retryCount := batch.RetryCount
		mu.RUnlock()

		if !harnesserr.Retryable(err) || retryCount >= maxRetries {
			e.transition(mu, batch, eventbus.KindBatchFailed, err, func() {
				batch.Status = StatusFailed
				batch.LastError = err
				batch.Responses = missingResponses(tests)
			})
			return
		}

		var nextRetryCount int
		e.transition(mu, batch, eventbus.KindBatchRetry, err, func() {
			batch.RetryCount++
			nextRetryCount = batch.RetryCount
			batch.Status = StatusRetrying
			batch.LastError = err
		})

		if kind, _ := harnesserr.KindOf(err); kind == harnesserr.RateLimited {
			attemptTimeout = e.nextBackoff(nextRetryCount)
			select {
			case <-ctx.Done():
				cancelErr := harnesserr.New(harnesserr.Cancelled, "batch cancelled")
				e.transition(mu, batch, eventbus.KindBatchFailed, cancelErr, func() {
					batch.Status = StatusFailed
					batch.LastError = cancelErr
				})
				return
			case <-time.After(attemptTimeout):
			}
			attemptTimeout = timeout
		}

		mu.Lock()
		batch.Status = StatusRunning
		mu.Unlock()
	}
}

// nextBackoff computes the exponential backoff with jitter for
// retry attempt n (spec §4.2: base 1s, factor 2, cap 30s, jitter ±20%).
func (e *Executor) nextBackoff(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= backoffFactor
		if d > backoffCap {
			d = backoffCap
			break
		}
	}
	jitter := 1 + (e.rng.Float64()*2-1)*backoffJitter
	return time.Duration(float64(d) * jitter)
}

// parseResponses decodes a batch's single model response into a
// per-TestCase map keyed by TestCase id. The wire shape is a JSON
// object mapping test id to code string; a test id the model omitted
// is recorded as missing rather than failing the whole batch (spec
// §3 invariant I3 applies at the Run level, but an executor-local
// placeholder keeps partial model output usable on retry exhaustion).
func parseResponses(tests []suite.TestCase, responseText string) (map[string]store.ResponseEntry, error) {
	var raw map[string]string
	if err := json.Unmarshal([]byte(responseText), &raw); err != nil {
		return nil, harnesserr.Wrap(harnesserr.InvalidResponse, "parse batch response", err)
	}
	out := make(map[string]store.ResponseEntry, len(tests))
	for _, t := range tests {
		code, ok := raw[t.ID]
		if !ok || code == "" {
			out[t.ID] = store.ResponseEntry{Missing: true}
			continue
		}
		out[t.ID] = store.ResponseEntry{Code: code}
	}
	return out, nil
}

func missingResponses(tests []suite.TestCase) map[string]store.ResponseEntry {
	out := make(map[string]store.ResponseEntry, len(tests))
	for _, t := range tests {
		out[t.ID] = store.ResponseEntry{Missing: true}
	}
	return out
}

// transition applies mutate to batch under mu.Lock(), then publishes
// kind with a payload read from the post-mutation field values — all
// while still holding the lock, so a concurrent Status() snapshot
// (mu.RLock()) never interleaves with a partially-applied mutation.
func (e *Executor) transition(mu *sync.RWMutex, batch *Batch, kind eventbus.Kind, err error, mutate func()) {
	mu.Lock()
	mutate()
	payload := map[string]any{
		"batch_number": batch.Number,
		"status":       string(batch.Status),
		"retry_count":  batch.RetryCount,
	}
	mu.Unlock()

	if err != nil {
		payload["error"] = fmt.Sprint(err)
	}
	e.bus.Publish(e.topic, eventbus.Event{
		Kind:     kind,
		RunID:    e.runID,
		BatchNum: batch.Number,
		Payload:  payload,
	})
}
