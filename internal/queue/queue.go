// Package queue implements the Queue Manager (spec §4.4): owns every
// Run Coordinator spawned by a single submit ("queue size N"), and
// aggregates their per-run progress into one cross-run view.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/benchharness/harness/internal/clockid"
	"github.com/benchharness/harness/internal/coordinator"
	"github.com/benchharness/harness/internal/eventbus"
	"github.com/benchharness/harness/internal/harnesserr"
	"github.com/benchharness/harness/internal/modelclient"
	"github.com/benchharness/harness/internal/store"
	"github.com/benchharness/harness/internal/suite"
)

// OverallStatus is the derived cross-run status spec §4.4 defines.
type OverallStatus string

const (
	OverallRunning    OverallStatus = "running"
	OverallEvaluating OverallStatus = "evaluating"
	OverallCompleted  OverallStatus = "completed"
	OverallFailed     OverallStatus = "failed"
)

// EvaluationTracker lets the Queue Manager ask whether a run's
// Artifact has finished evaluation, without importing the evaluator
// package directly (avoids a cyclic dependency: evaluator subscribes
// to runs the queue creates). A nil tracker means "evaluation is
// never considered in-flight", collapsing straight from running to
// completed/failed.
type EvaluationTracker interface {
	// Pending reports whether artifactID's evaluation job has been
	// enqueued but has not yet produced an EvalResult.
	Pending(artifactID string) bool
}

// RunWatcher is one of the subscribers that must see a single run's
// own event stream rather than (or in addition to) `global`: the
// Evaluator Scheduler, the notify Subscriber, and the WS Bridge all
// document their own Watch as "one per run". Submit starts one
// goroutine per RunWatcher per newly-minted run id, against that
// run's topic, and stops it once the run's Coordinator reaches a
// terminal status. Defined here rather than accepting the concrete
// *evaluator.Scheduler/*notify.Subscriber/*ws.Bridge types, for the
// same reason as EvaluationTracker above: it lets callers wire any
// number of per-run subscribers without the queue package importing
// any of them.
type RunWatcher func(ctx context.Context, topic string)

// Submission is one `Submit(RunRequest)` call's worth of state: the N
// sibling Run Coordinators it spawned and their ids, in submission
// order (spec §4.4, §6).
type Submission struct {
	RunIDs []string

	mu           sync.Mutex
	coordinators map[string]*coordinator.Coordinator
	order        []string
}

// GlobalSnapshot is the aggregated cross-run view spec §4.4 describes.
type GlobalSnapshot struct {
	Status         OverallStatus
	TotalBatches   int
	BatchesDone    int
	BatchesFailed  int
	Runs           []coordinator.Snapshot
}

// Manager owns every Submission created during the process lifetime
// (spec §9 "no global mutable registries": this is the one owned
// component; tests construct a fresh Manager rather than reaching for
// shared state).
type Manager struct {
	suite    *suite.TestSuite
	client   modelclient.ModelClient
	st       store.Store
	bus      *eventbus.Bus
	clock    clockid.Clock
	logger   zerolog.Logger
	evalTr   EvaluationTracker
	cfg      coordinator.Config
	watchers []RunWatcher

	mu          sync.Mutex
	submissions map[string]*Submission // keyed by the first run id in the submission
}

// Config configures a new Manager.
type Config struct {
	CoordinatorConfig coordinator.Config
	EvaluationTracker EvaluationTracker
	// RunWatchers is started, once per entry, against every newly
	// minted run's own topic (spec §4.5, §11, §12).
	RunWatchers []RunWatcher
}

// New builds a Manager. ts and variant resolution are supplied per
// RunRequest at Submit time by the caller (the transport layer owns
// resolving RunRequest.Variant against a VariantCatalog and
// RunRequest.SuiteFilter against the loaded suite).
func New(client modelclient.ModelClient, st store.Store, bus *eventbus.Bus, clock clockid.Clock, logger zerolog.Logger, cfg Config) *Manager {
	return &Manager{
		client:      client,
		st:          st,
		bus:         bus,
		clock:       clock,
		logger:      logger.With().Str("component", "queue").Logger(),
		evalTr:      cfg.EvaluationTracker,
		cfg:         cfg.CoordinatorConfig,
		watchers:    cfg.RunWatchers,
		submissions: make(map[string]*Submission),
	}
}

// Submit spawns QueueSize Run Coordinators in parallel, each against
// its own fresh run id and an independently-partitioned copy of ts
// (spec §4.4). Returns the run ids in submission order; §6 `Submit`
// returns exactly this slice.
func (m *Manager) Submit(ctx context.Context, req coordinator.RunRequest, ts *suite.TestSuite, variant suite.Variant, queueSize int) ([]string, error) {
	if queueSize < 1 || queueSize > 20 {
		return nil, harnesserr.New(harnesserr.Config, fmt.Sprintf("queue size must be 1-20, got %d", queueSize))
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return nil, harnesserr.New(harnesserr.Config, fmt.Sprintf("temperature must be 0-2, got %v", req.Temperature))
	}

	filtered := ts
	if len(req.SuiteFilter) > 0 {
		filtered = ts.Filter(req.SuiteFilter)
	}

	sub := &Submission{
		coordinators: make(map[string]*coordinator.Coordinator, queueSize),
	}

	for i := 0; i < queueSize; i++ {
		runID := clockid.NewRunID()
		c, err := coordinator.New(runID, req, filtered, variant, m.client, m.st, m.bus, m.clock, m.cfg)
		if err != nil {
			return nil, err
		}
		sub.RunIDs = append(sub.RunIDs, runID)
		sub.order = append(sub.order, runID)
		sub.coordinators[runID] = c
	}

	m.mu.Lock()
	m.submissions[sub.RunIDs[0]] = sub
	for _, id := range sub.RunIDs[1:] {
		m.submissions[id] = sub
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, runID := range sub.RunIDs {
		c := sub.coordinators[runID]
		runTopic := eventbus.RunTopic(runID)

		// Each per-run watcher gets its own ctx, cancelled once this
		// run reaches a terminal status, so it doesn't outlive the run
		// it was started for (spec §4.5 O4: these watchers see the
		// run's own topic directly rather than relying on `global`).
		watchCtx, cancelWatch := context.WithCancel(ctx)
		for _, watch := range m.watchers {
			watch := watch
			go watch(watchCtx, runTopic)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancelWatch()
			c.Start(ctx)
		}()
	}
	// Dispatch is fire-and-forget from Submit's perspective (spec §6:
	// Submit returns run ids immediately); callers poll GetRunStatus or
	// subscribe to per-run topics for completion.
	go wg.Wait()

	m.logger.Info().Strs("run_ids", sub.RunIDs).Int("queue_size", queueSize).Msg("submitted runs")
	return append([]string(nil), sub.RunIDs...), nil
}

// Coordinator returns the Coordinator owning runID, if this Manager
// spawned it.
func (m *Manager) Coordinator(runID string) (*coordinator.Coordinator, bool) {
	m.mu.Lock()
	sub, ok := m.submissions[runID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	c, ok := sub.coordinators[runID]
	return c, ok
}

// CancelRun cancels a single run by id (spec §6 `CancelRun`).
func (m *Manager) CancelRun(runID string) error {
	c, ok := m.Coordinator(runID)
	if !ok {
		return harnesserr.New(harnesserr.BadRequest, fmt.Sprintf("no such run: %s", runID))
	}
	c.Cancel()
	return nil
}

// CancelAll cancels every run across every submission this Manager
// owns (spec §5 "Cancelling the Queue Manager cancels every child
// Run").
func (m *Manager) CancelAll() {
	m.mu.Lock()
	seen := make(map[*Submission]struct{}, len(m.submissions))
	var subs []*Submission
	for _, sub := range m.submissions {
		if _, ok := seen[sub]; !ok {
			seen[sub] = struct{}{}
			subs = append(subs, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		cs := make([]*coordinator.Coordinator, 0, len(sub.coordinators))
		for _, c := range sub.coordinators {
			cs = append(cs, c)
		}
		sub.mu.Unlock()
		for _, c := range cs {
			c.Cancel()
		}
	}
}

// RerunBatch delegates to the owning Coordinator (spec §6 `RerunBatch`).
func (m *Manager) RerunBatch(ctx context.Context, runID string, batchNum int) error {
	c, ok := m.Coordinator(runID)
	if !ok {
		return harnesserr.New(harnesserr.BadRequest, fmt.Sprintf("no such run: %s", runID))
	}
	return c.RerunBatch(ctx, batchNum)
}

// GlobalSnapshot aggregates every run spawned by the submission that
// produced seedRunID into one cross-run progress view (spec §4.4):
// total batches = Σ run batches, completed batches = Σ run completed,
// and the derived "overall status".
func (m *Manager) GlobalSnapshot(seedRunID string) (GlobalSnapshot, bool) {
	m.mu.Lock()
	sub, ok := m.submissions[seedRunID]
	m.mu.Unlock()
	if !ok {
		return GlobalSnapshot{}, false
	}

	sub.mu.Lock()
	order := append([]string(nil), sub.order...)
	coords := make(map[string]*coordinator.Coordinator, len(sub.coordinators))
	for id, c := range sub.coordinators {
		coords[id] = c
	}
	sub.mu.Unlock()

	snap := GlobalSnapshot{Runs: make([]coordinator.Snapshot, 0, len(order))}
	anyActive, anyEvaluating, anyFailed, allCompletedTerminal := false, false, false, true
	for _, id := range order {
		s := coords[id].Status()
		snap.Runs = append(snap.Runs, s)
		snap.TotalBatches += s.TotalBatches
		snap.BatchesDone += s.BatchesDone
		snap.BatchesFailed += s.BatchesFailed

		switch s.Status {
		case coordinator.RunStatusRunning:
			anyActive = true
			allCompletedTerminal = false
		case coordinator.RunStatusFailed:
			anyFailed = true
		case coordinator.RunStatusCancelled:
			allCompletedTerminal = false
		case coordinator.RunStatusCompleted:
			if m.evalTr != nil && s.ArtifactID != "" && m.evalTr.Pending(s.ArtifactID) {
				anyEvaluating = true
			}
		}
	}

	switch {
	case anyActive:
		snap.Status = OverallRunning
	case anyEvaluating:
		snap.Status = OverallEvaluating
	case allCompletedTerminal && !anyFailed:
		snap.Status = OverallCompleted
	case anyFailed && !anyActive:
		snap.Status = OverallFailed
	default:
		snap.Status = OverallCompleted
	}
	return snap, true
}
