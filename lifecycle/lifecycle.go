// Package lifecycle carries the app foreground/background signal. The
// native shell feeds transitions into a Broadcaster; the background sync
// scheduler and the real-time monitor subscribe to adapt their behavior.
package lifecycle

import (
	"sync"
)

// State is the app's lifecycle state.
type State string

// Lifecycle states
const (
	StateForeground State = "foreground"
	StateBackground State = "background"
)

// Listener observes lifecycle transitions.
type Listener func(old, new State)

// Signal exposes the current lifecycle state and transition notifications.
type Signal interface {
	// State returns the current lifecycle state.
	State() State

	// Subscribe registers a listener; the returned func unsubscribes.
	// Listeners are invoked synchronously on each transition.
	Subscribe(listener Listener) (unsubscribe func())
}

// Broadcaster is the canonical Signal implementation. The native shell (or
// a test) drives it via Transition. Starts in the foreground state.
type Broadcaster struct {
	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
}

// NewBroadcaster creates a Broadcaster in the foreground state.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		state:     StateForeground,
		listeners: make(map[int]Listener),
	}
}

// State implements Signal.
func (b *Broadcaster) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscribe implements Signal.
func (b *Broadcaster) Subscribe(listener Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Transition moves to the given state and notifies listeners. A transition
// to the current state is a no-op.
func (b *Broadcaster) Transition(to State) {
	b.mu.Lock()
	if b.state == to {
		b.mu.Unlock()
		return
	}
	from := b.state
	b.state = to
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(from, to)
	}
}
