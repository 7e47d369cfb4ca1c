// Package netstate carries the network-quality signal the cache warmer
// subscribes to. The host application publishes connection changes into a
// Hub; consumers subscribe and receive every subsequent State.
package netstate

import (
	"sync"
)

// Effective connection types as reported by the host platform.
const (
	Effective2G      = "2g"
	EffectiveSlow2G  = "slow-2g"
	Effective3G      = "3g"
	Effective4G      = "4g"
	EffectiveUnknown = "unknown"
)

// State describes the current network connection.
type State struct {
	// Type is the transport (e.g. "wifi", "cellular", "none").
	Type string

	// EffectiveType is the measured connection quality ("2g".."4g").
	EffectiveType string
}

// IsSlow reports whether the connection is too poor for background work.
func (s State) IsSlow() bool {
	return s.EffectiveType == Effective2G || s.EffectiveType == EffectiveSlow2G
}

// Monitor delivers network-state changes to subscribers.
type Monitor interface {
	// Subscribe registers fn to be called on every state change and
	// returns an unsubscribe function.
	Subscribe(fn func(State)) (unsubscribe func())

	// Current returns the last published state.
	Current() State
}

// Hub is a push-based Monitor implementation. The host platform calls
// Publish whenever connectivity changes.
type Hub struct {
	mu      sync.Mutex
	current State
	nextID  int
	subs    map[int]func(State)
}

// NewHub creates a Hub with the given initial state.
func NewHub(initial State) *Hub {
	return &Hub{
		current: initial,
		subs:    make(map[int]func(State)),
	}
}

// Publish records the new state and notifies all subscribers.
func (h *Hub) Publish(s State) {
	h.mu.Lock()
	h.current = s
	fns := make([]func(State), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	// Callbacks run outside the lock so a subscriber may re-enter the hub.
	for _, fn := range fns {
		fn(s)
	}
}

// Subscribe registers fn and returns its unsubscribe function.
func (h *Hub) Subscribe(fn func(State)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Current returns the last published state.
func (h *Hub) Current() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}
