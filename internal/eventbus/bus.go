// Package eventbus fans out task and main-thread lifecycle events to
// interested subscribers (the HTTP/websocket layer that streams updates to
// a connected client). Unlike the teacher's hooks.Bus, which delivers
// synchronously in the publisher's goroutine and aborts the whole fan-out on
// the first subscriber error, this bus is built for a long-lived multi-user
// service: delivery is asynchronous per subscriber through a bounded queue,
// a slow or stuck subscriber drops messages rather than blocking every
// other subscriber (and the publisher), and each subscription emits a
// heartbeat so idle connections can be detected and pruned.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mainloopdev/mainloopd/internal/telemetry"
)

// QueueDepth bounds how many undelivered events a single subscription
// buffers before Publish starts dropping the oldest.
const QueueDepth = 64

// HeartbeatInterval is how often an idle subscription receives a Heartbeat
// event, so a client (or its HTTP/websocket transport) can detect a
// connection that looks alive but has stopped actually flowing events.
const HeartbeatInterval = 30 * time.Second

// Event is the interface every published message implements.
type Event interface {
	// Address scopes the event to a user and, optionally, a single task
	// within that user's main thread. An empty TaskID means the event is a
	// main-thread-level event. A subscription whose Address has an empty
	// TaskID receives every event for its user, task-scoped ones included.
	Address() Address
	// Type names the event for subscriber-side type switches and metrics.
	Type() string
}

// Address identifies the subscription scope an event is delivered to.
type Address struct {
	UserID string
	TaskID string
}

// HeartbeatEvent is synthesized by the bus itself, not published by
// application code, and delivered to a subscription that has received no
// other event for HeartbeatInterval.
type HeartbeatEvent struct {
	Addr Address
	At   time.Time
}

func (h HeartbeatEvent) Address() Address { return h.Addr }
func (HeartbeatEvent) Type() string        { return "heartbeat" }

// Bus publishes events scoped to a user/task address space to whichever
// subscriptions match that address.
type Bus interface {
	// Publish delivers event to every subscription whose address matches.
	// Publish never blocks on a slow subscriber: events are enqueued on a
	// bounded per-subscription channel and the oldest queued event is
	// dropped to make room when a subscriber falls behind.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers interest in everything addressed to addr (or, if
	// addr.TaskID is empty, every event for that user regardless of task).
	// The returned channel is closed when the Subscription is closed.
	Subscribe(addr Address) (<-chan Event, Subscription)

	// Close shuts down the bus and every open subscription.
	Close() error
}

// Subscription represents one registered interest; Close unregisters it.
type Subscription interface {
	Close() error
}

type bus struct {
	mu      sync.RWMutex
	closed  bool
	subs    map[*subscription]struct{}
	metrics telemetry.Metrics
}

type subscription struct {
	bus    *bus
	addr   Address
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	lastMu sync.Mutex
	last   time.Time
}

// NewBus constructs a Bus with bounded async fan-out and heartbeats. metrics
// may be nil, in which case dropped-message counts are simply not recorded
// (used by tests that don't care about telemetry).
func NewBus(metrics telemetry.Metrics) Bus {
	return &bus{subs: make(map[*subscription]struct{}), metrics: metrics}
}

func (b *bus) Subscribe(addr Address) (<-chan Event, Subscription) {
	s := &subscription{
		bus:  b,
		addr: addr,
		ch:   make(chan Event, QueueDepth),
		done: make(chan struct{}),
		last: time.Now(),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.heartbeatLoop()
	return s.ch, s
}

func (b *bus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("eventbus: bus is closed")
	}
	for s := range b.subs {
		if !s.matches(event.Address()) {
			continue
		}
		s.deliver(event)
	}
	return nil
}

func (b *bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		s.closeLocked()
	}
	return nil
}

func (s *subscription) matches(addr Address) bool {
	if addr.UserID != s.addr.UserID {
		return false
	}
	if s.addr.TaskID == "" {
		return true
	}
	return addr.TaskID == s.addr.TaskID
}

// deliver enqueues event without blocking: if the subscriber's buffer is
// full, the oldest queued event is dropped to make room for the new one, so
// a stalled subscriber observes gaps rather than stalling the publisher.
func (s *subscription) deliver(event Event) {
	s.lastMu.Lock()
	s.last = time.Now()
	s.lastMu.Unlock()

	select {
	case s.ch <- event:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	if s.bus.metrics != nil {
		s.bus.metrics.IncCounter("eventbus.dropped", 1, "user_id", s.addr.UserID, "type", event.Type())
	}
	select {
	case s.ch <- event:
	default:
	}
}

func (s *subscription) heartbeatLoop() {
	t := time.NewTicker(HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-t.C:
			s.lastMu.Lock()
			idle := now.Sub(s.last) >= HeartbeatInterval
			s.lastMu.Unlock()
			if idle {
				s.deliver(HeartbeatEvent{Addr: s.addr, At: now})
			}
		}
	}
}

func (s *subscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *subscription) closeLocked() {
	s.once.Do(func() {
		delete(s.bus.subs, s)
		close(s.done)
		close(s.ch)
	})
}
