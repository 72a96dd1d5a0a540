// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package tally

import (
	"log/slog"
	"sync"

	"github.com/danielhkuo/agora/models"
	"github.com/danielhkuo/agora/observability"
)

// Subscription delivers events in broadcast order. C is closed when the
// subscriber falls behind, unsubscribes, or the hub shuts down, so a
// reader never silently misses an event.
type Subscription struct {
	C   <-chan models.Event
	ch  chan models.Event
	hub *Hub
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub fans events out to subscribers
type Hub struct {
	topicID string
	buffer  int

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewHub(topicID string, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		topicID: topicID,
		buffer:  buffer,
		subs:    make(map[*Subscription]struct{}),
	}
}

// subscribe registers a subscriber whose channel already holds initial
func (h *Hub) subscribe(initial ...models.Event) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrStopped
	}

	ch := make(chan models.Event, h.buffer+len(initial))
	for _, ev := range initial {
		ch <- ev
	}
	sub := &Subscription{C: ch, ch: ch, hub: h}
	h.subs[sub] = struct{}{}
	observability.Subscribers.WithLabelValues(h.topicID).Inc()
	return sub, nil
}

// Broadcast delivers ev to every subscriber without blocking. A subscriber
// whose buffer is full is disconnected.
func (h *Hub) Broadcast(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.drop(sub)
			observability.SlowSubscribersDropped.WithLabelValues(h.topicID).Inc()
			slog.Warn("dropped slow subscriber", "topic", h.topicID)
		}
	}
}

// Len returns the number of subscribers
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects everyone and refuses new subscribers
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		h.drop(sub)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		h.drop(sub)
	}
}

// drop must be called with mu held
func (h *Hub) drop(sub *Subscription) {
	delete(h.subs, sub)
	close(sub.ch)
	observability.Subscribers.WithLabelValues(h.topicID).Dec()
}
