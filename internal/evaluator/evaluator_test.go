package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchharness/harness/internal/eventbus"
	"github.com/benchharness/harness/internal/scorer"
	"github.com/benchharness/harness/internal/store"
	"github.com/benchharness/harness/internal/suite"
)

func testSuite() *suite.TestSuite {
	return &suite.TestSuite{
		Name: "demo",
		Tests: []suite.TestCase{
			{ID: "t1", Category: "basics", Level: 1, Points: 10, RequiredPatterns: []string{"A"}},
		},
	}
}

func testArtifact(id string) store.Artifact {
	return store.Artifact{
		ID:    id,
		RunID: "run-1",
		Responses: map[string]store.ResponseEntry{
			"t1": {Code: "A"},
		},
	}
}

func TestScheduler_EvaluateWritesResult(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.WriteArtifact(context.Background(), testArtifact("a1")))

	sc := scorer.New(scorer.DefaultConfig(), nil)
	sched := New(st, sc, bus, testSuite(), zerolog.Nop(), Config{})

	result, err := sched.Evaluate(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.Summary.OverallPercent)

	stored, err := st.ReadEvalResult(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, result, stored)
}

func TestScheduler_EvaluateIsIdempotent(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.WriteArtifact(context.Background(), testArtifact("a1")))

	sc := scorer.New(scorer.DefaultConfig(), nil)
	sched := New(st, sc, bus, testSuite(), zerolog.Nop(), Config{})

	first, err := sched.Evaluate(context.Background(), "a1")
	require.NoError(t, err)
	second, err := sched.Evaluate(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScheduler_WatchSchedulesOnRunCompleted(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.WriteArtifact(context.Background(), testArtifact("a1")))

	sc := scorer.New(scorer.DefaultConfig(), nil)
	sched := New(st, sc, bus, testSuite(), zerolog.Nop(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Watch(ctx, eventbus.GlobalTopic())
		close(done)
	}()

	bus.Publish(eventbus.GlobalTopic(), eventbus.Event{Kind: eventbus.KindRunCompleted, RunID: "run-1", Payload: "a1"})

	require.Eventually(t, func() bool {
		_, err := st.ReadEvalResult(context.Background(), "a1")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
