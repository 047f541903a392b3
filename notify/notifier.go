package notify

import (
	"sync"
	"sync/atomic"

	"github.com/tablewatch/tablewatch/monitor"
	"github.com/tablewatch/tablewatch/telemetry"
)

// defaultEventBufferSize is the buffer size for subscriber channels.
// Subscribers that can't keep up will have events dropped (non-blocking send).
const defaultEventBufferSize = 64

// Filter selects which connections a subscriber receives events for
type Filter struct {
	Connections []string // nil or empty = all connections
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	filter Filter
	ch     chan monitor.Event
	closed atomic.Bool
}

// matches checks if the connection matches this subscription's filter.
func (s *subscription) matches(connectionID string) bool {
	if len(s.filter.Connections) == 0 {
		return true
	}

	for _, id := range s.filter.Connections {
		if id == connectionID {
			return true
		}
	}
	return false
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub fans monitoring events out to push subscribers keyed by connection id.
// It implements monitor.Subscriber.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
	dropped       atomic.Uint64
}

// NewHub creates a new event hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Deliver sends ev to all matching subscribers (non-blocking).
func (h *Hub) Deliver(ev monitor.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(ev.ConnectionID) {
			continue
		}

		// Non-blocking send - drop if buffer full
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
			telemetry.SubscriberDropsTotal.Inc()
		}
	}
}

// Subscribe creates a new subscription and returns the event channel and cancel function.
// The returned channel is buffered. If the subscriber cannot keep up,
// events are dropped by Deliver(). The cancel function is idempotent.
func (h *Hub) Subscribe(filter Filter) (<-chan monitor.Event, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan monitor.Event, defaultEventBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Dropped returns how many events were dropped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close cancels every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscriptions
	h.subscriptions = make(map[uint64]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
