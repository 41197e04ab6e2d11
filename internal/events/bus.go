// Package events distributes status change notifications in-process.
//
// Delivery is best-effort: events published while nobody is subscribed are
// discarded, and there is no replay.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/elder-voice/reliability/internal/metrics"
	"github.com/elder-voice/reliability/internal/status"
)

// StatusChangeEvent is published once per probe of a dependency, whether or not
// the status actually changed.
type StatusChangeEvent struct {
	DependencyID string               `json:"dependency_id"`
	Status       status.ServiceStatus `json:"status"`
	// State is "available" or "unavailable".
	State string `json:"state"`
	// Sequence counts probes of DependencyID, starting at 1.
	Sequence uint64 `json:"sequence"`
}

// Listener receives events synchronously on the publishing goroutine.
type Listener func(StatusChangeEvent)

// Subscription is the handle returned by Subscribe and Listen.
type Subscription struct {
	ID  uuid.UUID
	bus *Bus
}

// Unsubscribe removes the subscriber. Calling it more than once is a no-op.
func (s Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.remove(s.ID)
	}
}

type subscriber struct {
	listener Listener
	ch       chan StatusChangeEvent
}

// Bus is a publish/subscribe channel for StatusChangeEvent.
type Bus struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.RWMutex
	subs map[uuid.UUID]*subscriber
}

// NewBus creates an empty bus. m may be nil.
func NewBus(logger *slog.Logger, m *metrics.Metrics) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:  logger,
		metrics: m,
		subs:    make(map[uuid.UUID]*subscriber),
	}
}

// Subscribe registers a synchronous listener. A slow listener delays the publisher.
func (b *Bus) Subscribe(l Listener) Subscription {
	return b.add(&subscriber{listener: l})
}

// Listen registers a buffered channel subscriber. Publish never blocks on it:
// when the buffer is full the event is dropped for this subscriber only.
// The channel is closed on Unsubscribe.
func (b *Bus) Listen(buffer int) (<-chan StatusChangeEvent, Subscription) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan StatusChangeEvent, buffer)
	return ch, b.add(&subscriber{ch: ch})
}

// Publish delivers ev to every current subscriber.
//
// Channel sends happen under the read lock so Unsubscribe cannot close a
// channel mid-send. Listeners run after the lock is released, which lets a
// listener unsubscribe itself.
func (b *Bus) Publish(ev StatusChangeEvent) {
	type pending struct {
		id uuid.UUID
		l  Listener
	}
	var listeners []pending

	b.mu.RLock()
	for id, sub := range b.subs {
		if sub.ch == nil {
			listeners = append(listeners, pending{id: id, l: sub.listener})
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if b.metrics != nil {
				b.metrics.EventsDroppedTotal.Inc()
			}
			b.logger.Warn("status event dropped, listener buffer full",
				"subscription", id.String(),
				"dependency", ev.DependencyID,
				"sequence", ev.Sequence,
			)
		}
	}
	b.mu.RUnlock()

	for _, p := range listeners {
		b.deliver(p.id, p.l, ev)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) deliver(id uuid.UUID, l Listener, ev StatusChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("status listener panicked",
				"subscription", id.String(),
				"dependency", ev.DependencyID,
				"panic", r,
			)
		}
	}()
	l(ev)
}

func (b *Bus) add(sub *subscriber) Subscription {
	id := uuid.New()
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return Subscription{ID: id, bus: b}
}

func (b *Bus) remove(id uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if ok && sub.ch != nil {
		close(sub.ch)
	}
}
