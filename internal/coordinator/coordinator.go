// Package coordinator implements the Run Coordinator (spec §4.3): owns
// one Run, partitions the suite into batches, schedules Batch
// Executors under a concurrency cap, merges results, and persists the
// final Artifact.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/benchharness/harness/internal/clockid"
	"github.com/benchharness/harness/internal/eventbus"
	"github.com/benchharness/harness/internal/executor"
	"github.com/benchharness/harness/internal/harnesserr"
	"github.com/benchharness/harness/internal/modelclient"
	"github.com/benchharness/harness/internal/store"
	"github.com/benchharness/harness/internal/suite"
	"github.com/benchharness/harness/pkg/tracing"
)

// RunStatus is a Run's lifecycle state (spec §3).
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunRequest captures one submitted run's parameters (spec §3).
type RunRequest struct {
	Model       string
	Variant     string
	Temperature float64
	BatchSizing BatchSizing
	SuiteFilter []string
}

// DefaultConcurrency is the per-run Batch Executor concurrency cap
// (spec §4.3).
const DefaultConcurrency = 4

// DefaultSoftTimeout is the per-run soft timeout that triggers
// cancellation (spec §5).
const DefaultSoftTimeout = 30 * time.Minute

// Run is one execution of a TestSuite against one model (spec §3).
// Only the owning Coordinator mutates a Run's fields.
type Run struct {
	ID          string
	Request     RunRequest
	CreatedAt   time.Time
	Batches     []*executor.Batch
	Responses   map[string]store.ResponseEntry
	Status      RunStatus
	ErrorDetail string
	ArtifactID  string // set once Status reaches RunStatusCompleted
}

// Snapshot is a read-only copy of a Run's current state, safe to hand
// to callers outside the Coordinator's goroutine.
type Snapshot struct {
	ID            string
	Status        RunStatus
	TotalBatches  int
	BatchesDone   int
	BatchesFailed int
	ErrorDetail   string
	ArtifactID    string
}

// Coordinator owns exactly one Run (spec §5 ownership rule).
type Coordinator struct {
	run         *Run
	suite       *suite.TestSuite
	variant     suite.Variant
	client      modelclient.ModelClient
	st          store.Store
	bus         *eventbus.Bus
	clock       clockid.Clock
	concurrency int64
	buildPrompt executor.PromptBuilder

	mu              sync.RWMutex
	cancel          context.CancelFunc
	cancelRequested bool // Cancel arrived before Start installed cancel
	doneOnce        sync.Once
	doneCh   chan struct{}
}

// Config configures a new Coordinator.
type Config struct {
	Concurrency int64 // default DefaultConcurrency
	BuildPrompt executor.PromptBuilder
}

// New builds a Coordinator for one Run. ts is the (already
// filtered-by-RunRequest) suite; variant is the resolved Variant.
func New(runID string, req RunRequest, ts *suite.TestSuite, variant suite.Variant, client modelclient.ModelClient, st store.Store, bus *eventbus.Bus, clock clockid.Clock, cfg Config) (*Coordinator, error) {
	batches, err := Partition(ts, req.BatchSizing)
	if err != nil {
		return nil, err
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	buildPrompt := cfg.BuildPrompt
	if buildPrompt == nil {
		buildPrompt = defaultPromptBuilder
	}

	return &Coordinator{
		run: &Run{
			ID:        runID,
			Request:   req,
			CreatedAt: clock.Now(),
			Batches:   batches,
			Responses: make(map[string]store.ResponseEntry),
			Status:    RunStatusRunning,
		},
		suite:       ts,
		variant:     variant,
		client:      client,
		st:          st,
		bus:         bus,
		clock:       clock,
		concurrency: concurrency,
		buildPrompt: buildPrompt,
		doneCh:      make(chan struct{}),
	}, nil
}

func defaultPromptBuilder(tests []suite.TestCase, v suite.Variant) string {
	s := fmt.Sprintf("variant=%s\n", v.Name)
	for _, t := range tests {
		s += fmt.Sprintf("--- %s ---\n%s\n", t.ID, t.Task)
	}
	return s
}

// Start dispatches every pending batch under the concurrency semaphore
// and blocks until the Run reaches a terminal status. Safe to call
// from its own goroutine; Cancel/RerunBatch are safe to call
// concurrently from others.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "coordinator.run",
		tracing.WithAttributes(
			tracing.AttrRunID.String(c.run.ID),
			tracing.AttrModel.String(c.run.Request.Model),
			tracing.AttrVariant.String(c.run.Request.Variant),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, DefaultSoftTimeout)
	c.mu.Lock()
	c.cancel = cancel
	cancelEarly := c.cancelRequested
	c.mu.Unlock()
	defer cancel()
	if cancelEarly {
		cancel()
	}

	sem := semaphore.NewWeighted(c.concurrency)
	byID := make(map[string]suite.TestCase, len(c.suite.Tests))
	for _, t := range c.suite.Tests {
		byID[t.ID] = t
	}

	var wg sync.WaitGroup
	for _, batch := range c.run.Batches {
		batch := batch
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context already done: mark remaining pending batches
			// cancelled without dispatching them (spec §5 cancellation).
			c.mu.Lock()
			if batch.Status == executor.StatusPending {
				batch.Status = executor.StatusFailed
				batch.LastError = harnesserr.New(harnesserr.Cancelled, "run cancelled before dispatch")
			}
			c.mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			c.runBatch(ctx, batch, byID)
		}()
	}
	wg.Wait()

	c.finalize(ctx)
}

func (c *Coordinator) runBatch(ctx context.Context, batch *executor.Batch, byID map[string]suite.TestCase) {
	ctx, span := tracing.StartSpan(ctx, "coordinator.run_batch",
		tracing.WithAttributes(
			tracing.AttrRunID.String(c.run.ID),
			tracing.AttrBatchNum.Int(batch.Number),
		))
	defer span.End()

	tests := make([]suite.TestCase, 0, len(batch.TestCaseIDs))
	for _, id := range batch.TestCaseIDs {
		tests = append(tests, byID[id])
	}

	exec := executor.New(c.client, c.clock, c.bus, c.run.ID)
	exec.Run(ctx, batch, tests, executor.Config{
		Model:       c.run.Request.Model,
		Variant:     c.variant,
		Temperature: c.run.Request.Temperature,
		BuildPrompt: c.buildPrompt,
		Mu:          &c.mu,
	})

	c.mu.Lock()
	for id, entry := range batch.Responses {
		c.run.Responses[id] = entry
	}
	c.mu.Unlock()
}

// finalize determines the Run's terminal status and, if completed,
// persists its Artifact (spec §4.3).
func (c *Coordinator) finalize(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-ctx.Done():
		if c.run.Status == RunStatusRunning {
			c.run.Status = RunStatusCancelled
		}
	default:
	}

	if c.run.Status != RunStatusCancelled {
		anySucceeded := false
		for _, b := range c.run.Batches {
			if b.Status == executor.StatusCompleted {
				anySucceeded = true
				break
			}
		}
		if anySucceeded {
			c.run.Status = RunStatusCompleted
		} else {
			c.run.Status = RunStatusFailed
			c.run.ErrorDetail = "every batch failed"
		}
	}

	topic := eventbus.RunTopic(c.run.ID)
	switch c.run.Status {
	case RunStatusCompleted:
		artifact := c.buildArtifact()
		if err := c.st.WriteArtifact(ctx, artifact); err != nil {
			c.run.Status = RunStatusFailed
			c.run.ErrorDetail = fmt.Sprintf("artifact persistence failed: %v", err)
			c.bus.Publish(topic, eventbus.Event{Kind: eventbus.KindRunFailed, RunID: c.run.ID, Payload: c.run.ErrorDetail})
		} else {
			c.run.ArtifactID = artifact.ID
			c.bus.Publish(topic, eventbus.Event{Kind: eventbus.KindRunCompleted, RunID: c.run.ID, Payload: artifact.ID})
		}
	case RunStatusFailed:
		c.bus.Publish(topic, eventbus.Event{Kind: eventbus.KindRunFailed, RunID: c.run.ID, Payload: c.run.ErrorDetail})
	case RunStatusCancelled:
		c.bus.Publish(topic, eventbus.Event{Kind: eventbus.KindRunCancelled, RunID: c.run.ID})
	}

	c.doneOnce.Do(func() { close(c.doneCh) })
}

func (c *Coordinator) buildArtifact() store.Artifact {
	responses := make(map[string]store.ResponseEntry, len(c.suite.Tests))
	for _, t := range c.suite.Tests {
		if entry, ok := c.run.Responses[t.ID]; ok {
			responses[t.ID] = entry
		} else {
			responses[t.ID] = store.ResponseEntry{Missing: true}
		}
	}

	sizes := make([]int, len(c.run.Batches))
	for i, b := range c.run.Batches {
		sizes[i] = len(b.TestCaseIDs)
	}

	return store.Artifact{
		ID:        clockid.ArtifactID(c.clock, c.run.Request.Model, c.run.Request.Variant),
		RunID:     c.run.ID,
		Responses: responses,
		Meta: store.ArtifactMeta{
			Model:       c.run.Request.Model,
			Variant:     c.run.Request.Variant,
			SuiteName:   c.suite.Name,
			TotalTests:  len(c.suite.Tests),
			BatchSizing: sizes,
			Temperature: c.run.Request.Temperature,
			CreatedAt:   c.run.CreatedAt,
		},
	}
}

// Cancel asks the Run to stop (spec §5): pending batches are marked
// failed(cancelled) immediately and in-flight Batch Executors receive
// ctx cancellation at their next suspension point.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	if cancel == nil {
		c.cancelRequested = true
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done returns a channel closed once the Run reaches a terminal status.
func (c *Coordinator) Done() <-chan struct{} { return c.doneCh }

// Status returns a read-only snapshot of the Run's current state.
func (c *Coordinator) Status() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	done, failed := 0, 0
	for _, b := range c.run.Batches {
		switch b.Status {
		case executor.StatusCompleted:
			done++
		case executor.StatusFailed:
			failed++
		}
	}
	return Snapshot{
		ID:            c.run.ID,
		Status:        c.run.Status,
		TotalBatches:  len(c.run.Batches),
		BatchesDone:   done,
		BatchesFailed: failed,
		ErrorDetail:   c.run.ErrorDetail,
		ArtifactID:    c.run.ArtifactID,
	}
}

// RerunBatch creates a fresh Batch Executor for batchNum's TestCase
// subset while the Run is not yet terminal, overwriting that batch's
// response entries on success (spec §4.3).
func (c *Coordinator) RerunBatch(ctx context.Context, batchNum int) error {
	c.mu.Lock()
	if c.run.Status != RunStatusRunning {
		c.mu.Unlock()
		return harnesserr.New(harnesserr.BadRequest, "run is already terminal")
	}
	var target *executor.Batch
	for _, b := range c.run.Batches {
		if b.Number == batchNum {
			target = b
			break
		}
	}
	c.mu.Unlock()
	if target == nil {
		return harnesserr.New(harnesserr.BadRequest, fmt.Sprintf("no such batch: %d", batchNum))
	}

	byID := make(map[string]suite.TestCase, len(c.suite.Tests))
	for _, t := range c.suite.Tests {
		byID[t.ID] = t
	}
	tests := make([]suite.TestCase, 0, len(target.TestCaseIDs))
	for _, id := range target.TestCaseIDs {
		tests = append(tests, byID[id])
	}

	fresh := &executor.Batch{Number: target.Number, TestCaseIDs: target.TestCaseIDs, Status: executor.StatusPending}
	exec := executor.New(c.client, c.clock, c.bus, c.run.ID)
	exec.Run(ctx, fresh, tests, executor.Config{
		Model:       c.run.Request.Model,
		Variant:     c.variant,
		Temperature: c.run.Request.Temperature,
		BuildPrompt: c.buildPrompt,
		Mu:          &c.mu,
	})

	rerunTopic := eventbus.BatchRerunTopic(c.run.ID)
	c.bus.Publish(rerunTopic, eventbus.Event{
		Kind:     eventbus.KindBatchRerun,
		RunID:    c.run.ID,
		BatchNum: batchNum,
		Payload:  map[string]any{"status": string(fresh.Status)},
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	*target = *fresh
	if fresh.Status == executor.StatusCompleted {
		for id, entry := range fresh.Responses {
			c.run.Responses[id] = entry
		}
	}
	return nil
}
