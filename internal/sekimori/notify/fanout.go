// Package notify fans ledger lifecycle events out to subscribers: the SSE
// push channel, the Matrix notifier, and anything else that registers.
//
// Delivery is best-effort and never blocks the ledger.  A subscriber that
// stops draining its channel is dropped, not waited for.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Sekimori/internal/sekimori/approvals"
)

// EventType identifies a ledger lifecycle event.
type EventType string

const (
	EventRequest   EventType = "approval_request"
	EventDecision  EventType = "approval_decision"
	EventCancelled EventType = "approval_cancelled"
	EventExpired   EventType = "approval_expired"
)

// Event is the payload delivered to subscribers.  Request is always set;
// Decision only for EventDecision.
type Event struct {
	Type      EventType           `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Request   *approvals.Request  `json:"request"`
	Decision  *approvals.Decision `json:"decision,omitempty"`
}

// Subscription is one subscriber's feed.  The channel is closed when the
// subscription is cancelled or the subscriber falls too far behind.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	cancel func()
	once   sync.Once
}

// Close cancels the subscription.  Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Fanout multiplexes ledger events to any number of subscribers.  It
// implements approvals.Broadcaster.  The zero value is not usable; use
// NewFanout.
type Fanout struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewFanout creates a Fanout whose subscriber channels buffer the given
// number of events before the subscriber is considered stuck.
func NewFanout(buffer int) *Fanout {
	if buffer <= 0 {
		buffer = 16
	}
	return &Fanout{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber.  The caller must either drain the
// channel or Close the subscription.
func (f *Fanout) Subscribe() *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Event, f.buffer)
	sub := &Subscription{C: ch, ch: ch}
	sub.cancel = func() { f.remove(sub) }

	if f.closed {
		close(ch)
		return sub
	}
	f.subs[sub] = struct{}{}
	return sub
}

// Close shuts the fanout down, closing every subscriber channel.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for sub := range f.subs {
		close(sub.ch)
		delete(f.subs, sub)
	}
}

// Subscribers returns the current subscriber count.
func (f *Fanout) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Fanout) remove(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub]; ok {
		delete(f.subs, sub)
		close(sub.ch)
	}
}

// publish delivers ev to every subscriber without blocking.  A subscriber
// whose buffer is full is dropped; it will notice via its closed channel
// and can resubscribe.
func (f *Fanout) publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for sub := range f.subs {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("notify: dropping slow subscriber", "event", ev.Type)
			delete(f.subs, sub)
			close(sub.ch)
		}
	}
}

// RequestCreated implements approvals.Broadcaster.
func (f *Fanout) RequestCreated(req *approvals.Request) {
	f.publish(Event{Type: EventRequest, Timestamp: time.Now(), Request: req})
}

// RequestDecided implements approvals.Broadcaster.
func (f *Fanout) RequestDecided(req *approvals.Request, dec *approvals.Decision) {
	f.publish(Event{Type: EventDecision, Timestamp: time.Now(), Request: req, Decision: dec})
}

// RequestCancelled implements approvals.Broadcaster.
func (f *Fanout) RequestCancelled(req *approvals.Request) {
	f.publish(Event{Type: EventCancelled, Timestamp: time.Now(), Request: req})
}

// RequestExpired implements approvals.Broadcaster.
func (f *Fanout) RequestExpired(req *approvals.Request) {
	f.publish(Event{Type: EventExpired, Timestamp: time.Now(), Request: req})
}
