package client

import "time"

// Reconnection policy defaults: bounded exponential backoff recovers
// quickly from transient blips without hammering a relay during an
// outage.
const (
	DefaultReconnectBaseDelay   = time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// reconnectState tracks automatic reconnection for one client. It is
// guarded by the owning client's mutex.
type reconnectState struct {
	attempts int
	timer    *time.Timer
}

// cancel stops any pending reconnect attempt.
func (r *reconnectState) cancel() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// reset clears the attempt counter. Called only on a successful open,
// never merely because an attempt was scheduled.
func (r *reconnectState) reset() {
	r.attempts = 0
}

// backoffDelay returns the delay before the given 0-indexed attempt:
// min(base * 2^attempt, max).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt >= 63 {
		return max
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

// ReconnectDelay returns the default backoff delay for a 0-indexed
// reconnect attempt: 1s, 2s, 4s, 8s, 16s, then capped at 30s.
func ReconnectDelay(attempt int) time.Duration {
	return backoffDelay(attempt, DefaultReconnectBaseDelay, DefaultReconnectMaxDelay)
}
