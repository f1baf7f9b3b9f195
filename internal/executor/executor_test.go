package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchharness/harness/internal/clockid"
	"github.com/benchharness/harness/internal/eventbus"
	"github.com/benchharness/harness/internal/harnesserr"
	"github.com/benchharness/harness/internal/modelclient"
	"github.com/benchharness/harness/internal/suite"
)

type fakeClient struct {
	calls     int
	failTimes int
	failErr   error
	response  string
}

func (f *fakeClient) Invoke(ctx context.Context, prompt string, temperature float64, maxTokens int, timeout time.Duration) (string, modelclient.Usage, error) {
	f.calls++
	if f.calls <= f.failTimes {
		return "", modelclient.Usage{}, f.failErr
	}
	return f.response, modelclient.Usage{}, nil
}

func testTests() []suite.TestCase {
	return []suite.TestCase{{ID: "t1", Points: 10}, {ID: "t2", Points: 10}}
}

func jsonResponse(t *testing.T, m map[string]string) string {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return string(b)
}

func noopPrompt(tests []suite.TestCase, v suite.Variant) string { return "prompt" }

func TestExecutor_HappyPath(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	client := &fakeClient{response: jsonResponse(t, map[string]string{"t1": "A", "t2": "B"})}
	e := New(client, clockid.System{}, bus, "run-1")

	batch := &Batch{Number: 1, TestCaseIDs: []string{"t1", "t2"}, Status: StatusPending}
	e.Run(context.Background(), batch, testTests(), Config{BuildPrompt: noopPrompt})

	assert.Equal(t, StatusCompleted, batch.Status)
	assert.Equal(t, "A", batch.Responses["t1"].Code)
	assert.Equal(t, 1, client.calls)
}

func TestExecutor_RetryConvergence(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	client := &fakeClient{
		failTimes: 2,
		failErr:   harnesserr.New(harnesserr.Transport, "boom"),
		response:  jsonResponse(t, map[string]string{"t1": "A", "t2": "B"}),
	}
	e := New(client, clockid.System{}, bus, "run-1")

	batch := &Batch{Number: 1, TestCaseIDs: []string{"t1", "t2"}, Status: StatusPending, MaxRetries: DefaultMaxRetries}
	e.Run(context.Background(), batch, testTests(), Config{BuildPrompt: noopPrompt, MaxRetries: 3})

	assert.Equal(t, StatusCompleted, batch.Status)
	assert.Equal(t, 2, batch.RetryCount)
	assert.Equal(t, 3, client.calls)
}

func TestExecutor_RetryExhaustion(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	client := &fakeClient{
		failTimes: 100,
		failErr:   harnesserr.New(harnesserr.Transport, "always fails"),
	}
	e := New(client, clockid.System{}, bus, "run-1")

	batch := &Batch{Number: 1, TestCaseIDs: []string{"t1", "t2"}, Status: StatusPending}
	e.Run(context.Background(), batch, testTests(), Config{BuildPrompt: noopPrompt, MaxRetries: 3})

	assert.Equal(t, StatusFailed, batch.Status)
	assert.Equal(t, 3, batch.RetryCount)
	assert.True(t, batch.Responses["t1"].Missing)
	assert.True(t, batch.Responses["t2"].Missing)
}

func TestExecutor_NonRetryableFailsImmediately(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	client := &fakeClient{
		failTimes: 100,
		failErr:   harnesserr.New(harnesserr.BadRequest, "nope"),
	}
	e := New(client, clockid.System{}, bus, "run-1")

	batch := &Batch{Number: 1, TestCaseIDs: []string{"t1"}, Status: StatusPending}
	e.Run(context.Background(), batch, testTests()[:1], Config{BuildPrompt: noopPrompt, MaxRetries: 3})

	assert.Equal(t, StatusFailed, batch.Status)
	assert.Equal(t, 0, batch.RetryCount)
	assert.Equal(t, 1, client.calls)
}

func TestExecutor_CancellationStopsRun(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	client := &fakeClient{failTimes: 100, failErr: harnesserr.New(harnesserr.Transport, "boom")}
	e := New(client, clockid.System{}, bus, "run-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := &Batch{Number: 1, TestCaseIDs: []string{"t1"}, Status: StatusPending}
	e.Run(ctx, batch, testTests()[:1], Config{BuildPrompt: noopPrompt, MaxRetries: 3})

	assert.Equal(t, StatusFailed, batch.Status)
	kind, ok := harnesserr.KindOf(batch.LastError)
	require.True(t, ok)
	assert.Equal(t, harnesserr.Cancelled, kind)
}

func TestExecutor_EmitsExpectedEventSequence(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	sub := bus.Subscribe(eventbus.RunTopic("run-1"), 0)
	client := &fakeClient{response: jsonResponse(t, map[string]string{"t1": "A"})}
	e := New(client, clockid.System{}, bus, "run-1")

	batch := &Batch{Number: 1, TestCaseIDs: []string{"t1"}, Status: StatusPending}
	e.Run(context.Background(), batch, testTests()[:1], Config{BuildPrompt: noopPrompt})

	var kinds []eventbus.Kind
	deadline := time.After(time.Second)
loop:
	for len(kinds) < 2 {
		select {
		case ev := <-sub.Events():
			kinds = append(kinds, ev.Kind)
		case <-deadline:
			break loop
		}
	}
	require.Len(t, kinds, 2)
	assert.Equal(t, eventbus.KindBatchStarted, kinds[0])
	assert.Equal(t, eventbus.KindBatchCompleted, kinds[1])
}
