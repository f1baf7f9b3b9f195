// Package evaluator implements the Evaluator Scheduler (spec §4.5):
// it subscribes to run completion, schedules Scorer jobs under a
// semaphore distinct from the Run Coordinator's batch-concurrency cap,
// and writes the resulting EvalResult to the Store.
package evaluator

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/benchharness/harness/internal/eventbus"
	"github.com/benchharness/harness/internal/scorer"
	"github.com/benchharness/harness/internal/store"
	"github.com/benchharness/harness/internal/suite"
	"github.com/benchharness/harness/pkg/tracing"
)

// DefaultConcurrency is the Evaluator's own concurrency cap (spec
// §4.5, §5), independent of the Run Coordinator's batch concurrency.
const DefaultConcurrency = 2

// Scheduler watches a topic for `run.completed` events (published only
// on each run's own `run/<id>` topic, not on `global`), enqueues one
// evaluation job per completed Artifact, and bounds concurrent
// Scorer.Score calls with its own semaphore (spec §4.5).
type Scheduler struct {
	st     store.Store
	sc     *scorer.Scorer
	bus    *eventbus.Bus
	ts     *suite.TestSuite
	logger zerolog.Logger
	sem    *semaphore.Weighted

	mu      sync.Mutex
	pending map[string]struct{} // artifact ids enqueued but not yet scored
}

// Config configures a new Scheduler.
type Config struct {
	Concurrency int64 // default DefaultConcurrency
}

// New builds a Scheduler. ts is the TestSuite every watched Artifact
// is scored against (the harness evaluates one suite per process
// lifetime; a multi-suite deployment runs one Scheduler per suite).
func New(st store.Store, sc *scorer.Scorer, bus *eventbus.Bus, ts *suite.TestSuite, logger zerolog.Logger, cfg Config) *Scheduler {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		st:      st,
		sc:      sc,
		bus:     bus,
		ts:      ts,
		logger:  logger.With().Str("component", "evaluator").Logger(),
		sem:     semaphore.NewWeighted(concurrency),
		pending: make(map[string]struct{}),
	}
}

// Watch subscribes to topic (normally the per-run topic or `global`,
// per deployment; the caller decides fan-in) and schedules an
// evaluation job for every `run.completed` event's artifact id. It
// blocks until ctx is cancelled or the subscription's Events channel
// closes, and is meant to run in its own goroutine per run (spec §4.3
// ordering rule O4: evaluator events for an artifact always follow
// that artifact's run.completed, which a per-run subscription
// guarantees for free).
func (s *Scheduler) Watch(ctx context.Context, topic string) {
	sub := s.bus.Subscribe(topic, 0)
	defer s.bus.Unsubscribe(sub)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Kind != eventbus.KindRunCompleted {
				continue
			}
			artifactID, ok := ev.Payload.(string)
			if !ok || artifactID == "" {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Evaluate(ctx, artifactID)
			}()
		}
	}
}

// Evaluate runs the Scorer against artifactID's Artifact and writes
// the EvalResult to the Store (spec §4.5, §6 `Evaluate`). Idempotent:
// a cached EvalResult is returned without rescoring.
func (s *Scheduler) Evaluate(ctx context.Context, artifactID string) (store.EvalResult, error) {
	ctx, span := tracing.StartSpan(ctx, "evaluator.evaluate", tracing.WithAttributes(tracing.AttrArtifactID.String(artifactID)))
	defer span.End()

	if cached, err := s.st.ReadEvalResult(ctx, artifactID); err == nil {
		return cached, nil
	}

	s.mark(artifactID, true)
	defer s.mark(artifactID, false)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return store.EvalResult{}, err
	}
	defer s.sem.Release(1)

	s.bus.Publish(eventbus.GlobalTopic(), eventbus.Event{Kind: eventbus.KindEvaluationStart, Payload: artifactID})

	artifact, err := s.st.ReadArtifact(ctx, artifactID)
	if err != nil {
		s.bus.Publish(eventbus.GlobalTopic(), eventbus.Event{Kind: eventbus.KindEvaluationFailed, Payload: map[string]any{"artifact_id": artifactID, "error": err.Error()}})
		return store.EvalResult{}, err
	}

	result := s.sc.Score(artifact, s.ts)

	if err := s.st.WriteEvalResult(ctx, result); err != nil {
		// Per spec §7: evaluator failures are recorded but do not affect
		// the Artifact; the Run that produced it stays completed.
		s.logger.Error().Err(err).Str("artifact_id", artifactID).Msg("failed to persist eval result")
		s.bus.Publish(eventbus.GlobalTopic(), eventbus.Event{Kind: eventbus.KindEvaluationFailed, Payload: map[string]any{"artifact_id": artifactID, "error": err.Error()}})
		return store.EvalResult{}, err
	}

	s.bus.Publish(eventbus.GlobalTopic(), eventbus.Event{Kind: eventbus.KindEvaluationDone, Payload: artifactID})
	return result, nil
}

// Pending reports whether artifactID has an evaluation job in flight
// (enqueued but not yet written). Implements queue.EvaluationTracker
// so the Queue Manager can fold evaluation progress into its "overall
// status" derivation without importing this package's concrete type.
func (s *Scheduler) Pending(artifactID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[artifactID]
	return ok
}

func (s *Scheduler) mark(artifactID string, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending {
		s.pending[artifactID] = struct{}{}
	} else {
		delete(s.pending, artifactID)
	}
}
