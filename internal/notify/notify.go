// Package notify implements the notifications SUPPLEMENTED feature:
// an Event Bus subscriber that posts terminal run/evaluation events to
// a configured webhook or Slack channel.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benchharness/harness/internal/eventbus"
)

// Notification is the channel-agnostic event notify dispatches.
type Notification struct {
	Kind      eventbus.Kind
	RunID     string
	BatchNum  int
	Payload   any
	CreatedAt time.Time
}

// Channel delivers a Notification to one external destination.
type Channel interface {
	Send(ctx context.Context, n Notification) error
}

// Subscriber watches one topic for terminal events and fans each one
// out to every configured Channel. Channel failures are logged, never
// fatal: a notification delivery failure must not affect the Run or
// Artifact it describes (the same isolation spec §7 requires of the
// evaluator).
type Subscriber struct {
	bus      *eventbus.Bus
	channels []Channel
	logger   zerolog.Logger
}

// NewSubscriber builds a Subscriber posting every terminal event seen
// on a watched topic to channels.
func NewSubscriber(bus *eventbus.Bus, channels []Channel, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		bus:      bus,
		channels: channels,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

// Watch subscribes to topic and dispatches every terminal event until
// ctx is cancelled or the subscription closes. Non-terminal events
// (progress, retries) are not notified — spec §4.3 reserves those for
// the realtime dashboard leg, not external channels.
func (s *Subscriber) Watch(ctx context.Context, topic string) {
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
			if !notifiable(ev.Kind) {
				continue
			}
			n := Notification{Kind: ev.Kind, RunID: ev.RunID, BatchNum: ev.BatchNum, Payload: ev.Payload, CreatedAt: time.Now().UTC()}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.dispatch(ctx, n)
			}()
		}
	}
}

// notifiable reports whether kind is one external channels should hear
// about: Run terminal events plus evaluation completion/failure (spec
// SUPPLEMENTED FEATURES — notifications on `run.completed`,
// `run.failed`, and `evaluation.completed`/`evaluation.failed`).
// Progress and retry events stay on the realtime dashboard leg only.
func notifiable(k eventbus.Kind) bool {
	switch k {
	case eventbus.KindRunCompleted, eventbus.KindRunFailed, eventbus.KindRunCancelled,
		eventbus.KindEvaluationDone, eventbus.KindEvaluationFailed:
		return true
	default:
		return false
	}
}

func (s *Subscriber) dispatch(ctx context.Context, n Notification) {
	for _, ch := range s.channels {
		if err := ch.Send(ctx, n); err != nil {
			s.logger.Warn().Err(err).Str("run_id", n.RunID).Str("kind", string(n.Kind)).Msg("notification delivery failed")
		}
	}
}
