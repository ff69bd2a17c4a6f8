package provider

import (
	"sync"
)

// stateTracker owns an adapter's connection state and its listener set.
// Transitions and notifications are serialized under one mutex; listeners
// are invoked synchronously and must not block.
type stateTracker struct {
	mu        sync.Mutex
	state     ConnState
	listeners map[int]StateListener
	nextID    int
}

func newStateTracker() *stateTracker {
	return &stateTracker{
		state:     StateDisconnected,
		listeners: make(map[int]StateListener),
	}
}

// Current returns the current state.
func (t *stateTracker) Current() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set transitions to the new state and notifies listeners. Setting the same
// state is a no-op and fires no notifications.
func (t *stateTracker) Set(state ConnState) {
	t.mu.Lock()
	old := t.state
	if old == state {
		t.mu.Unlock()
		return
	}
	t.state = state
	notify := make([]StateListener, 0, len(t.listeners))
	for _, l := range t.listeners {
		notify = append(notify, l)
	}
	t.mu.Unlock()

	for _, l := range notify {
		l(old, state)
	}
}

// Subscribe registers a listener and returns its unsubscribe func.
func (t *stateTracker) Subscribe(listener StateListener) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = listener
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}
