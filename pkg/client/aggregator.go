package client

import "sync"

// Aggregator accumulates streamed fragments for the currently streaming
// turn. The cumulative buffer carried on each delta frame is
// authoritative; the fragment is kept alongside so callers can render
// append-only. The buffer is discarded when a new turn begins and is
// never persisted across disconnects.
type Aggregator struct {
	mu     sync.Mutex
	buffer string
	active bool
}

// Begin opens a new turn, discarding any previous buffer.
func (a *Aggregator) Begin() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = ""
	a.active = true
}

// Delta folds one fragment into the turn. It returns the cumulative
// buffer and whether the fragment belongs to an open turn; fragments
// arriving after the turn completed are dropped.
func (a *Aggregator) Delta(fragment, wireBuffer string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return "", false
	}

	if wireBuffer != "" {
		a.buffer = wireBuffer
	} else {
		a.buffer += fragment
	}
	return a.buffer, true
}

// Complete closes the turn and returns the final message. A complete
// frame with an empty message falls back to the accumulated buffer.
func (a *Aggregator) Complete(message string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return "", false
	}

	a.active = false
	if message == "" {
		return a.buffer, true
	}
	return message, true
}

// Fail closes the turn without a completion.
func (a *Aggregator) Fail() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
}

// Buffer returns the current cumulative text.
func (a *Aggregator) Buffer() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffer
}

// Active reports whether a turn is currently streaming.
func (a *Aggregator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}
