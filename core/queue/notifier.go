// Package queue broadcasts queue-state changes to connected observers.
// The Notifier interface keeps the scheduler decoupled from the delivery
// mechanism so a message-bus-backed implementation can be swapped in for
// distributed deployments.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sotramsa/enruta/core/clock"
	"github.com/sotramsa/enruta/core/logger"
)

// Queue-state event names driven by the scheduler.
const (
	EventConnected    = "connected"
	EventInitialState = "initial-state"
	EventChange       = "change"
)

// Event is the structured record delivered to every observer.
type Event struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// Subscriber is a registered observer. Events arrive on C in publish order.
type Subscriber struct {
	ID string
	C  <-chan Event
	ch chan Event
}

// NewSubscriber creates a detached subscriber with the given buffer size.
// Alternative Notifier implementations use it to hand out channels with
// the same delivery semantics as the in-process broadcaster.
func NewSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	return &Subscriber{ID: uuid.NewString(), C: ch, ch: ch}
}

// Offer enqueues the event without blocking. It returns false when the
// subscriber's buffer is full, signalling the caller to drop it.
func (s *Subscriber) Offer(ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Close closes the delivery channel.
func (s *Subscriber) Close() { close(s.ch) }

// SnapshotFunc produces the current queue state replayed to a new
// subscriber before any live event.
type SnapshotFunc func(ctx context.Context) (any, error)

// Notifier fan-outs queue-state events to all registered subscribers.
type Notifier interface {
	Subscribe(ctx context.Context) (*Subscriber, error)
	Unsubscribe(*Subscriber)
	Publish(event string, data any)
	Close()
}

// Broadcaster is the in-process Notifier implementation using fan-out
// channels. A subscriber whose channel cannot accept an event is dropped
// so one dead observer never stalls the broadcast.
type Broadcaster struct {
	mu       sync.Mutex
	subs     map[string]*Subscriber
	snapshot SnapshotFunc
	clock    clock.Clock
	log      logger.Logger
	buffer   int
	closed   bool
}

// NewBroadcaster creates a Broadcaster. snapshot may be nil, in which case
// the initial-state replay carries an empty payload.
func NewBroadcaster(snapshot SnapshotFunc, clk clock.Clock, log logger.Logger) *Broadcaster {
	return &Broadcaster{
		subs:     make(map[string]*Subscriber),
		snapshot: snapshot,
		clock:    clk,
		log:      log,
		buffer:   64,
	}
}

// Subscribe registers a new observer. The connected and initial-state
// events are queued on its channel before any live update.
func (b *Broadcaster) Subscribe(ctx context.Context) (*Subscriber, error) {
	var state any
	if b.snapshot != nil {
		s, err := b.snapshot(ctx)
		if err != nil {
			return nil, err
		}
		state = s
	}

	ch := make(chan Event, b.buffer)
	sub := &Subscriber{ID: uuid.NewString(), C: ch, ch: ch}
	ch <- b.event(EventConnected, map[string]string{"subscriber": sub.ID})
	ch <- b.event(EventInitialState, state)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return sub, nil
	}
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes the observer and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.ID]; ok {
		delete(b.subs, sub.ID)
		close(sub.ch)
	}
}

// Publish delivers the event to every registered subscriber in FIFO order
// per subscriber. Subscribers that cannot receive are silently removed.
func (b *Broadcaster) Publish(event string, data any) {
	ev := b.event(event, data)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(b.subs, id)
			close(sub.ch)
			if b.log != nil {
				b.log.Warnf("dropping stalled queue subscriber %s", id)
			}
		}
	}
}

// Close closes all subscriber channels and rejects further publishes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (b *Broadcaster) event(name string, data any) Event {
	now := time.Now()
	if b.clock != nil {
		now = b.clock.Now()
	}
	return Event{Event: name, Data: data, Timestamp: now.Format(time.RFC3339)}
}
