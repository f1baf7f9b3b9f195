package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchharness/harness/internal/clockid"
	"github.com/benchharness/harness/internal/coordinator"
	"github.com/benchharness/harness/internal/eventbus"
	"github.com/benchharness/harness/internal/modelclient"
	"github.com/benchharness/harness/internal/store"
	"github.com/benchharness/harness/internal/suite"
)

type fakeClient struct {
	response string
}

func (f *fakeClient) Invoke(ctx context.Context, prompt string, temperature float64, maxTokens int, timeout time.Duration) (string, modelclient.Usage, error) {
	return f.response, modelclient.Usage{}, nil
}

func testSuite() *suite.TestSuite {
	return &suite.TestSuite{
		Name: "demo",
		Tests: []suite.TestCase{
			{ID: "t1", Category: "basics", Level: 1, Points: 10, RequiredPatterns: []string{"A"}},
			{ID: "t2", Category: "basics", Level: 1, Points: 10, RequiredPatterns: []string{"B"}},
		},
	}
}

func jsonResponse(t *testing.T, m map[string]string) string {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return string(b)
}

func TestManager_SubmitQueueSizeOne(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	client := &fakeClient{response: jsonResponse(t, map[string]string{"t1": "A", "t2": "B"})}
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)

	mgr := New(client, st, bus, clockid.System{}, zerolog.Nop(), Config{})
	req := coordinator.RunRequest{Model: "gpt", Variant: "v1", BatchSizing: coordinator.BatchSizing{Uniform: 10}}

	ids, err := mgr.Submit(context.Background(), req, testSuite(), suite.Variant{Name: "v1"}, 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	c, ok := mgr.Coordinator(ids[0])
	require.True(t, ok)
	<-c.Done()

	snap, ok := mgr.GlobalSnapshot(ids[0])
	require.True(t, ok)
	assert.Equal(t, OverallCompleted, snap.Status)
	assert.Equal(t, 1, snap.TotalBatches)
	assert.Equal(t, 1, snap.BatchesDone)
}

func TestManager_SubmitRejectsBadQueueSize(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	client := &fakeClient{}
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	mgr := New(client, st, bus, clockid.System{}, zerolog.Nop(), Config{})

	_, err = mgr.Submit(context.Background(), coordinator.RunRequest{}, testSuite(), suite.Variant{}, 0)
	assert.Error(t, err)
	_, err = mgr.Submit(context.Background(), coordinator.RunRequest{}, testSuite(), suite.Variant{}, 21)
	assert.Error(t, err)
}

func TestManager_SubmitFanOutN(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	client := &fakeClient{response: jsonResponse(t, map[string]string{"t1": "A", "t2": "B"})}
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	mgr := New(client, st, bus, clockid.System{}, zerolog.Nop(), Config{})

	req := coordinator.RunRequest{Model: "gpt", Variant: "v1", BatchSizing: coordinator.BatchSizing{Uniform: 10}}
	ids, err := mgr.Submit(context.Background(), req, testSuite(), suite.Variant{Name: "v1"}, 3)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	for _, id := range ids {
		c, ok := mgr.Coordinator(id)
		require.True(t, ok)
		<-c.Done()
	}

	snap, ok := mgr.GlobalSnapshot(ids[0])
	require.True(t, ok)
	assert.Equal(t, OverallCompleted, snap.Status)
	assert.Equal(t, 3, snap.TotalBatches)
}

func TestManager_SubmitStartsPerRunWatchers(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	client := &fakeClient{response: jsonResponse(t, map[string]string{"t1": "A", "t2": "B"})}
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)

	seen := make(chan eventbus.Kind, 8)
	watcher := func(ctx context.Context, topic string) {
		sub := bus.Subscribe(topic, 0)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				seen <- ev.Kind
			}
		}
	}

	mgr := New(client, st, bus, clockid.System{}, zerolog.Nop(), Config{RunWatchers: []RunWatcher{watcher}})
	req := coordinator.RunRequest{Model: "gpt", Variant: "v1", BatchSizing: coordinator.BatchSizing{Uniform: 10}}

	ids, err := mgr.Submit(context.Background(), req, testSuite(), suite.Variant{Name: "v1"}, 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	c, ok := mgr.Coordinator(ids[0])
	require.True(t, ok)
	<-c.Done()

	select {
	case kind := <-seen:
		assert.Equal(t, eventbus.KindBatchStarted, kind)
	case <-time.After(time.Second):
		t.Fatal("per-run watcher never observed the run's own topic")
	}
}

func TestManager_SubmitRejectsBadTemperature(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	client := &fakeClient{}
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	mgr := New(client, st, bus, clockid.System{}, zerolog.Nop(), Config{})

	req := coordinator.RunRequest{Model: "gpt", Variant: "v1", Temperature: 2.5}
	_, err = mgr.Submit(context.Background(), req, testSuite(), suite.Variant{}, 1)
	assert.Error(t, err)

	req.Temperature = -0.1
	_, err = mgr.Submit(context.Background(), req, testSuite(), suite.Variant{}, 1)
	assert.Error(t, err)
}

func TestManager_CancelAll(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	client := &fakeClient{response: jsonResponse(t, map[string]string{"t1": "A", "t2": "B"})}
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	mgr := New(client, st, bus, clockid.System{}, zerolog.Nop(), Config{})

	req := coordinator.RunRequest{Model: "gpt", Variant: "v1", BatchSizing: coordinator.BatchSizing{Uniform: 10}}
	ids, err := mgr.Submit(context.Background(), req, testSuite(), suite.Variant{Name: "v1"}, 2)
	require.NoError(t, err)

	mgr.CancelAll()
	for _, id := range ids {
		c, ok := mgr.Coordinator(id)
		require.True(t, ok)
		<-c.Done()
		assert.Equal(t, coordinator.RunStatusCancelled, c.Status().Status)
	}
}
