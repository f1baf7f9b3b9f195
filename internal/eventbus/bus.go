// Package eventbus implements the harness's in-process topic pub-sub
// layer (spec §4.1): bounded per-subscriber queues, best-effort
// delivery, and pull-based snapshot-then-tail subscriptions keyed by a
// monotonic per-topic sequence number.
//
// The design intentionally avoids callback/closure-based fan-out (see
// spec §9 "Event streams without shared mutable callbacks"): a
// subscriber holds a cursor and a bounded queue, not a function pointer
// the bus must call back into.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog"
)

const (
	// DefaultQueueSize is the default bounded per-subscriber queue depth.
	DefaultQueueSize = 256
	// defaultHistorySize bounds how many past events per topic are kept
	// for late-joining subscribers to replay (the "snapshot" half of
	// snapshot-then-tail).
	defaultHistorySize = 1024
)

// Bus is the in-process topic pub-sub hub.
type Bus struct {
	mu         sync.Mutex
	topics     map[string]*topicState
	queueSize  int
	history    int
	logger     zerolog.Logger
}

// Config holds Bus tuning parameters.
type Config struct {
	// QueueSize is the bounded per-subscriber queue depth. Default 256.
	QueueSize int
	// HistorySize bounds the replay buffer kept per topic. Default 1024.
	HistorySize int
}

// New creates a new Bus.
func New(cfg Config, logger zerolog.Logger) *Bus {
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = DefaultQueueSize
	}
	hs := cfg.HistorySize
	if hs <= 0 {
		hs = defaultHistorySize
	}
	return &Bus{
		topics:    make(map[string]*topicState),
		queueSize: qs,
		history:   hs,
		logger:    logger.With().Str("component", "eventbus").Logger(),
	}
}

type topicState struct {
	mu          sync.Mutex
	seq         uint64
	history     []Event
	historyCap  int
	subscribers map[*Subscription]struct{}
}

func (b *Bus) topic(name string) *topicState {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topicState{
			historyCap:  b.history,
			subscribers: make(map[*Subscription]struct{}),
		}
		b.topics[name] = t
	}
	return t
}

// Publish appends ev to topic, assigning the next sequence number, and
// fans it out to every current subscriber of that topic (O1: a
// subscriber always observes publication order within one topic).
func (b *Bus) Publish(topic string, ev Event) Event {
	t := b.topic(topic)

	t.mu.Lock()
	t.seq++
	ev.Topic = topic
	ev.Seq = t.seq
	t.history = append(t.history, ev)
	if len(t.history) > t.historyCap {
		t.history = t.history[len(t.history)-t.historyCap:]
	}
	subs := make([]*Subscription, 0, len(t.subscribers))
	for s := range t.subscribers {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}

	b.logger.Debug().Str("topic", topic).Str("kind", string(ev.Kind)).Uint64("seq", ev.Seq).Msg("published event")
	return ev
}

// Subscribe registers a new Subscription on topic. If cursor is 0 the
// subscriber receives the retained history (the "snapshot");
// otherwise it receives only events with Seq > cursor. The replay goes
// through the subscriber's bounded queue, so only the newest QueueSize
// of those events are kept, without a lag marker. It then continues
// to receive live events with no gap, because replay and registration
// happen under the same topic lock.
func (b *Bus) Subscribe(topic string, cursor uint64) *Subscription {
	t := b.topic(topic)

	s := &Subscription{
		topic:   topic,
		queue:   newRing(b.queueSize),
		notify:  make(chan struct{}, 1),
		out:     make(chan Event),
		closeCh: make(chan struct{}),
	}

	t.mu.Lock()
	for _, ev := range t.history {
		if ev.Seq > cursor {
			s.queue.push(ev)
		}
	}
	t.subscribers[s] = struct{}{}
	t.mu.Unlock()

	s.bus = b
	s.topicState = t
	go s.pump()
	return s
}

// Unsubscribe removes a Subscription from its topic and stops delivery.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s.topicState != nil {
		s.topicState.mu.Lock()
		delete(s.topicState.subscribers, s)
		s.topicState.mu.Unlock()
	}
	s.close()
}

// Forget drops all retained history and subscriber bookkeeping for a
// topic, once its Run has been garbage-collected (spec §4.1).
func (b *Bus) Forget(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, topic)
}

// LatestSeq returns the current sequence number for a topic (0 if the
// topic has never been published to).
func (b *Bus) LatestSeq(topic string) uint64 {
	t := b.topic(topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}
