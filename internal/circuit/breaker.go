// Package circuit implements a generic consecutive-failure circuit
// breaker used to guard calls to external backends (currently Redis,
// via internal/cache) from the serving process: trip to Open after a run of failures,
// probe with a single Half-Open call after a cooldown, and close again
// on success.
package circuit

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"    // calls pass through normally
	StateOpen     State = "open"      // calls are rejected until cooldown elapses
	StateHalfOpen State = "half_open" // a single probe call is allowed through
)

// Config tunes when a breaker trips and how long it stays open.
type Config struct {
	MaxFailures int           `json:"max_failures"`
	Cooldown    time.Duration `json:"cooldown"`
}

// DefaultConfig matches the cache service's prior hand-rolled
// thresholds: three consecutive failures, thirty-second cooldown.
func DefaultConfig() Config {
	return Config{MaxFailures: 3, Cooldown: 30 * time.Second}
}

// Breaker tracks consecutive failures against one backend dependency.
type Breaker struct {
	config       Config
	mu           sync.Mutex
	state        State
	failureCount int
	lastTripTime time.Time
	onTrip       func(reason string)
	onReset      func()
}

// New creates a closed breaker with the given configuration.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{config: cfg, state: StateClosed}
}

// OnTrip registers a callback invoked (in its own goroutine) when the
// breaker opens.
func (b *Breaker) OnTrip(handler func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset registers a callback invoked (in its own goroutine) when the
// breaker closes again after a successful probe.
func (b *Breaker) OnReset(handler func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

// Allow reports whether a call should be attempted. An Open breaker
// whose cooldown has elapsed transitions to Half-Open and allows
// exactly one probe through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastTripTime) < b.config.Cooldown {
			return false
		}
		b.state = StateHalfOpen
		return true
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	wasOpen := b.state != StateClosed
	b.state = StateClosed
	b.failureCount = 0
	onReset := b.onReset
	b.mu.Unlock()

	if wasOpen && onReset != nil {
		go onReset()
	}
}

// RecordFailure counts a failed call and trips the breaker once
// config.MaxFailures consecutive failures have been observed.
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	b.failureCount++
	shouldTrip := b.failureCount >= b.config.MaxFailures && b.state != StateOpen
	if shouldTrip {
		b.state = StateOpen
		b.lastTripTime = time.Now()
	}
	onTrip := b.onTrip
	b.mu.Unlock()

	if shouldTrip && onTrip != nil {
		go onTrip(reason)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsHealthy reports whether the breaker is not Open.
func (b *Breaker) IsHealthy() bool {
	return b.State() != StateOpen
}

// FailureCount returns the current consecutive-failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// ForceReset manually closes the breaker, e.g. from an admin endpoint.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	b.state = StateClosed
	b.failureCount = 0
	onReset := b.onReset
	b.mu.Unlock()

	if onReset != nil {
		go onReset()
	}
}
