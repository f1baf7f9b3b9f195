package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchharness/harness/internal/eventbus"
)

type recordingChannel struct {
	mu   sync.Mutex
	seen []Notification
}

func (r *recordingChannel) Send(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
	return nil
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestSubscriber_DispatchesTerminalEventsOnly(t *testing.T) {
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	rec := &recordingChannel{}
	sub := NewSubscriber(bus, []Channel{rec}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sub.Watch(ctx, eventbus.GlobalTopic())
		close(done)
	}()

	bus.Publish(eventbus.GlobalTopic(), eventbus.Event{Kind: eventbus.KindBatchProgress, RunID: "r1"})
	bus.Publish(eventbus.GlobalTopic(), eventbus.Event{Kind: eventbus.KindRunCompleted, RunID: "r1"})
	bus.Publish(eventbus.GlobalTopic(), eventbus.Event{Kind: eventbus.KindEvaluationDone, RunID: "r1"})

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestWebhookChannel_SendSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookConfig{URL: srv.URL, Secret: "s3cr3t"}, zerolog.Nop())
	err := ch.Send(context.Background(), Notification{Kind: eventbus.KindRunCompleted, RunID: "r1", CreatedAt: time.Now()})
	require.NoError(t, err)
}

func TestWebhookChannel_DoesNotRetryOn4xx(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(WebhookConfig{URL: srv.URL}, zerolog.Nop())
	err := ch.Send(context.Background(), Notification{Kind: eventbus.KindRunFailed, RunID: "r1", CreatedAt: time.Now()})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
