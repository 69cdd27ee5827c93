// Package broadcast fans hub change events out to live viewers.
//
// A Broadcaster keeps one room per hub with at least one subscriber. Each
// subscriber owns a bounded queue; when it is full the oldest event is
// discarded so a slow viewer never blocks publishing. RedisRelay connects the
// Broadcasters of several instances through Redis pub/sub.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tendant/ephemeral/pkg/ephemeral"
)

// DefaultQueueSize is the per-subscriber queue length
const DefaultQueueSize = 64

// Broadcaster implements ephemeral.EventPublisher for viewers on this instance.
//
// Lock order is Broadcaster.mu before room.mu. Publish holds only the room
// lock while delivering, which serializes publishes per hub and so keeps
// per-hub order identical for every subscriber.
type Broadcaster struct {
	mu        sync.Mutex
	rooms     map[string]*room
	queueSize int
	onDrop    func(hubID string)
}

type room struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Option configures a Broadcaster
type Option func(*Broadcaster)

// WithQueueSize sets how many undelivered events a subscriber may hold
func WithQueueSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithDropHook is called whenever an event is discarded for a slow subscriber
func WithDropHook(fn func(hubID string)) Option {
	return func(b *Broadcaster) {
		b.onDrop = fn
	}
}

// New creates a Broadcaster
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		rooms:     make(map[string]*room),
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a viewer for hubID. Callers must Close the subscription.
func (b *Broadcaster) Subscribe(hubID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rooms[hubID]
	if !ok {
		r = &room{subs: make(map[*Subscription]struct{})}
		b.rooms[hubID] = r
	}

	sub := &Subscription{
		hubID: hubID,
		b:     b,
		r:     r,
		ch:    make(chan ephemeral.Event, b.queueSize),
	}

	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	return sub
}

// Publish delivers event to every current subscriber of event.HubID without blocking.
func (b *Broadcaster) Publish(ctx context.Context, event ephemeral.Event) error {
	b.mu.Lock()
	r := b.rooms[event.HubID]
	b.mu.Unlock()

	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for sub := range r.subs {
		if sub.deliver(event) && b.onDrop != nil {
			b.onDrop(event.HubID)
		}
	}
	return nil
}

// Subscribers returns the number of viewers currently subscribed to hubID
func (b *Broadcaster) Subscribers(hubID string) int {
	b.mu.Lock()
	r := b.rooms[hubID]
	b.mu.Unlock()

	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Rooms returns the number of hubs with at least one subscriber
func (b *Broadcaster) Rooms() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms)
}

// Subscription is one viewer's queue of events for a hub
type Subscription struct {
	hubID     string
	b         *Broadcaster
	r         *room
	ch        chan ephemeral.Event
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// Events returns the channel of delivered events. It is closed by Close.
func (s *Subscription) Events() <-chan ephemeral.Event {
	return s.ch
}

// HubID returns the hub this subscription follows
func (s *Subscription) HubID() string {
	return s.hubID
}

// Dropped returns how many events were discarded because the queue was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and releases the queue. The room is removed with its
// last subscriber. Close is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()

		s.r.mu.Lock()
		defer s.r.mu.Unlock()

		delete(s.r.subs, s)
		close(s.ch)

		if len(s.r.subs) == 0 && s.b.rooms[s.hubID] == s.r {
			delete(s.b.rooms, s.hubID)
		}
	})
}

// deliver enqueues event, evicting the oldest queued events until it fits.
// It reports whether anything was dropped. Callers hold the room lock, so
// deliver is the only sender on s.ch.
func (s *Subscription) deliver(event ephemeral.Event) bool {
	dropped := false
	for {
		select {
		case s.ch <- event:
			return dropped
		default:
		}

		select {
		case <-s.ch:
			s.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

var _ ephemeral.EventPublisher = (*Broadcaster)(nil)
