package eventbus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus(t *testing.T, queueSize int) *Bus {
	t.Helper()
	return New(Config{QueueSize: queueSize, HistorySize: 64}, zerolog.Nop())
}

func collect(t *testing.T, sub *Subscription, n int, timeout time.Duration) []Event {
	t.Helper()
	got := make([]Event, 0, n)
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(got))
		}
	}
	return got
}

func TestBus_FIFOPerSubscriber(t *testing.T) {
	b := testBus(t, 16)
	topic := RunTopic("run-1")
	sub := b.Subscribe(topic, 0)

	for i := 0; i < 5; i++ {
		b.Publish(topic, Event{Kind: KindBatchProgress, RunID: "run-1", BatchNum: i})
	}
	b.Publish(topic, Event{Kind: KindRunCompleted, RunID: "run-1"})

	got := collect(t, sub, 6, time.Second)
	for i := 0; i < 5; i++ {
		assert.Equal(t, i, got[i].BatchNum)
	}
	assert.Equal(t, KindRunCompleted, got[5].Kind)
}

func TestBus_TerminalAlwaysLast(t *testing.T) {
	b := testBus(t, 16)
	topic := RunTopic("run-2")
	sub := b.Subscribe(topic, 0)

	b.Publish(topic, Event{Kind: KindBatchCompleted, RunID: "run-2", BatchNum: 2})
	b.Publish(topic, Event{Kind: KindBatchCompleted, RunID: "run-2", BatchNum: 1})
	b.Publish(topic, Event{Kind: KindRunCompleted, RunID: "run-2"})

	got := collect(t, sub, 3, time.Second)
	last := got[len(got)-1]
	assert.True(t, last.Kind.Terminal())
	assert.Equal(t, KindRunCompleted, last.Kind)
}

func TestBus_OverflowDropsOldestNonTerminalAndMarksLag(t *testing.T) {
	b := testBus(t, 2)
	topic := RunTopic("run-3")
	sub := b.Subscribe(topic, 0)

	// Publish before any consumption so the queue (capacity 2) overflows.
	b.Publish(topic, Event{Kind: KindBatchProgress, BatchNum: 1})
	b.Publish(topic, Event{Kind: KindBatchProgress, BatchNum: 2})
	b.Publish(topic, Event{Kind: KindBatchProgress, BatchNum: 3})

	got := collect(t, sub, 3, time.Second)
	require.Len(t, got, 3)
	assert.Equal(t, KindLag, got[0].Kind, "a lag marker must precede the surviving events")
	assert.Equal(t, 2, got[1].BatchNum)
	assert.Equal(t, 3, got[2].BatchNum)
}

func TestBus_TerminalNeverDroppedUnderOverflow(t *testing.T) {
	b := testBus(t, 1)
	topic := RunTopic("run-4")
	sub := b.Subscribe(topic, 0)

	b.Publish(topic, Event{Kind: KindBatchProgress, BatchNum: 1})
	b.Publish(topic, Event{Kind: KindRunCompleted})

	got := collect(t, sub, 1, time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, KindRunCompleted, got[0].Kind)
}

func TestBus_SnapshotThenTailReplay(t *testing.T) {
	b := testBus(t, 16)
	topic := RunTopic("run-5")

	b.Publish(topic, Event{Kind: KindBatchStarted, BatchNum: 1})
	b.Publish(topic, Event{Kind: KindBatchCompleted, BatchNum: 1})

	lateSub := b.Subscribe(topic, 0)
	got := collect(t, lateSub, 2, time.Second)
	assert.Equal(t, KindBatchStarted, got[0].Kind)
	assert.Equal(t, KindBatchCompleted, got[1].Kind)

	cursor := got[1].Seq
	b.Publish(topic, Event{Kind: KindRunCompleted})

	resumed := b.Subscribe(topic, cursor)
	gotResumed := collect(t, resumed, 1, time.Second)
	assert.Equal(t, KindRunCompleted, gotResumed[0].Kind)
}

func TestBus_ForgetDropsTopicState(t *testing.T) {
	b := testBus(t, 16)
	topic := RunTopic("run-6")
	b.Publish(topic, Event{Kind: KindRunCompleted})
	assert.Equal(t, uint64(1), b.LatestSeq(topic))

	b.Forget(topic)
	assert.Equal(t, uint64(0), b.LatestSeq(topic))
}

func TestBus_DistinctTopicsAreIndependent(t *testing.T) {
	b := testBus(t, 16)
	subA := b.Subscribe(RunTopic("a"), 0)
	subB := b.Subscribe(RunTopic("b"), 0)

	b.Publish(RunTopic("a"), Event{Kind: KindRunCompleted, RunID: "a"})

	gotA := collect(t, subA, 1, time.Second)
	assert.Equal(t, "a", gotA[0].RunID)

	select {
	case ev := <-subB.Events():
		t.Fatalf("unexpected event on unrelated topic: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
