// Package observer fans engine events (opportunities, trades, activity,
// allocation proposals) out to subscribers, grounded on the teacher's
// internal/api/websocket.go Hub: a register/unregister/broadcast channel
// triple feeding per-client buffered send channels. Unlike the teacher's
// Hub, each subscriber here gets a bounded ring buffer with drop-oldest
// backpressure instead of dropping the newest message, since late
// dashboard consumers should see the most recent state, not get stuck
// behind history.
package observer

import (
	"sync"

	"go.uber.org/zap"
)

// Event is anything published on the Hub; the API's WebSocket pump forwards
// Kind and Payload to clients unchanged.
type Event struct {
	Kind    string
	Payload interface{}
}

// Subscription is a bounded, drop-oldest-on-overflow channel of Events.
// Dropped counts how many events this subscriber has missed.
type Subscription struct {
	id      uint64
	events  chan Event
	mu      sync.Mutex
	dropped uint64
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Hub is the single publish point; Publish never blocks the caller even if
// every subscriber is backed up, per spec.md §4.16 (the driver must never
// stall on a slow dashboard client).
type Hub struct {
	logger *zap.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
	cap    int
}

func NewHub(logger *zap.Logger, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{logger: logger, subs: make(map[uint64]*Subscription), cap: bufferSize}
}

// Subscribe registers a new subscriber and returns its handle; call
// Unsubscribe when done to release the buffer.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{id: h.nextID, events: make(chan Event, h.cap)}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
		close(sub.events)
	}
}

// Publish fans ev out to every subscriber. A subscriber whose buffer is
// full has its oldest queued event dropped (counted) to make room, rather
// than dropping ev itself — the newest state is always the one that
// matters to a dashboard.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.events <- ev:
		default:
			select {
			case <-sub.events:
				sub.mu.Lock()
				sub.dropped++
				sub.mu.Unlock()
			default:
			}
			select {
			case sub.events <- ev:
			default:
				h.logger.Warn("observer: subscriber buffer still full after drop, skipping event")
			}
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
