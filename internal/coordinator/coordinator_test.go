package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchharness/harness/internal/clockid"
	"github.com/benchharness/harness/internal/eventbus"
	"github.com/benchharness/harness/internal/modelclient"
	"github.com/benchharness/harness/internal/store"
	"github.com/benchharness/harness/internal/suite"
)

type fakeClient struct {
	response string
	delay    time.Duration
}

func (f *fakeClient) Invoke(ctx context.Context, prompt string, temperature float64, maxTokens int, timeout time.Duration) (string, modelclient.Usage, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.response, modelclient.Usage{}, nil
}

func testSuite(n int) *suite.TestSuite {
	ts := &suite.TestSuite{Name: "demo"}
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		ts.Tests = append(ts.Tests, suite.TestCase{ID: id, Category: "basics", Level: 1, Points: 10})
	}
	return ts
}

func jsonResponse(t *testing.T, ts *suite.TestSuite) string {
	t.Helper()
	m := make(map[string]string, len(ts.Tests))
	for _, tc := range ts.Tests {
		m[tc.ID] = "ok"
	}
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return string(b)
}

// TestCoordinator_StatusDuringRunDoesNotRace exercises the same shape
// as an HTTP GET /runs/{id} arriving while batches are still in
// flight: Status() takes c.mu.RLock() while runBatch's Executor is
// still mutating the same Batch pointers. Run with -race, this must
// not report a data race on batch.Status.
func TestCoordinator_StatusDuringRunDoesNotRace(t *testing.T) {
	ts := testSuite(8)
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	client := &fakeClient{response: jsonResponse(t, ts), delay: 5 * time.Millisecond}

	c, err := New("run-1", RunRequest{Model: "gpt", Variant: "v1", BatchSizing: BatchSizing{Uniform: 1}}, ts, suite.Variant{Name: "v1"}, client, st, bus, clockid.System{}, Config{Concurrency: 4})
	require.NoError(t, err)

	var wg sync.WaitGroup
	stopPolling := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stopPolling:
				return
			default:
				_ = c.Status()
				time.Sleep(time.Millisecond)
			}
		}
	}()

	c.Start(context.Background())
	close(stopPolling)
	wg.Wait()

	snap := c.Status()
	assert.Equal(t, RunStatusCompleted, snap.Status)
	assert.Equal(t, 8, snap.TotalBatches)
	assert.Equal(t, 8, snap.BatchesDone)
}

func TestCoordinator_CancelMarksCancelled(t *testing.T) {
	ts := testSuite(4)
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	client := &fakeClient{response: jsonResponse(t, ts), delay: 50 * time.Millisecond}

	c, err := New("run-2", RunRequest{Model: "gpt", Variant: "v1", BatchSizing: BatchSizing{Uniform: 1}}, ts, suite.Variant{Name: "v1"}, client, st, bus, clockid.System{}, Config{Concurrency: 1})
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Cancel()
	}()

	c.Start(context.Background())
	assert.Equal(t, RunStatusCancelled, c.Status().Status)
}
