// Package breaker implements the per-endpoint circuit breaker (C2): a
// CLOSED/OPEN/HALF_OPEN state machine that short-circuits probes during
// sustained failure.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State is one of the breaker's three states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpenCircuit is returned by Execute when the breaker vetoes the call.
var ErrOpenCircuit = errors.New("circuit breaker open")

// Settings configures one breaker instance (§4.2). ResetTimeout is computed
// per endpoint from its own checkInterval (§4.4 step 2), never shared
// package-wide.
type Settings struct {
	FailureThreshold int           // percent, 0-100
	ResetTimeout     time.Duration // OPEN -> HALF_OPEN delay
	MonitoringPeriod time.Duration // sliding window for sample retention
	MinimumRequests  int           // gate before evaluating failure rate
}

// Observer is notified exactly once per state transition.
type Observer func(endpointID string, from, to State)

type sample struct {
	at      time.Time
	success bool
}

// Breaker guards a single endpoint's probes. All mutations happen under mu;
// no probe call is ever issued while mu is held.
type Breaker struct {
	mu          sync.Mutex
	settings    Settings
	state       State
	nextAttempt time.Time
	window      []sample
	successRun  int // consecutive successes while HALF_OPEN
}

func newBreaker(settings Settings) *Breaker {
	return &Breaker{settings: settings, state: Closed}
}

// State returns the breaker's current state without mutating it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed, transitioning OPEN->HALF_OPEN
// lazily if resetTimeout has elapsed. It does not record a sample; call
// RecordSuccess/RecordFailure once the call completes.
func (b *Breaker) Allow(endpointID string, observe Observer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked()

	if b.state == Open {
		if time.Now().Before(b.nextAttempt) {
			return false
		}
		b.transitionLocked(endpointID, HalfOpen, observe)
	}
	return true
}

// RecordSuccess registers a successful call outcome.
func (b *Breaker) RecordSuccess(endpointID string, observe Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.window = append(b.window, sample{at: time.Now(), success: true})

	switch b.state {
	case HalfOpen:
		b.successRun++
		if b.successRun >= b.settings.MinimumRequests {
			b.transitionLocked(endpointID, Closed, observe)
			b.window = nil
			b.successRun = 0
		}
	case Closed:
		b.evaluateLocked(endpointID, observe)
	}
}

// RecordFailure registers a failed call outcome.
func (b *Breaker) RecordFailure(endpointID string, observe Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.window = append(b.window, sample{at: time.Now(), success: false})

	switch b.state {
	case HalfOpen:
		b.successRun = 0
		b.armLocked(endpointID, observe)
	case Closed:
		b.evaluateLocked(endpointID, observe)
	}
}

// evaluateLocked opens the breaker once the sliding window has enough
// samples and the failure rate crosses the threshold. Caller holds mu.
func (b *Breaker) evaluateLocked(endpointID string, observe Observer) {
	b.pruneLocked()
	total := len(b.window)
	if total < b.settings.MinimumRequests {
		return
	}
	failures := 0
	for _, s := range b.window {
		if !s.success {
			failures++
		}
	}
	if failures*100 >= b.settings.FailureThreshold*total {
		b.armLocked(endpointID, observe)
	}
}

func (b *Breaker) armLocked(endpointID string, observe Observer) {
	b.nextAttempt = time.Now().Add(b.settings.ResetTimeout)
	b.transitionLocked(endpointID, Open, observe)
}

func (b *Breaker) transitionLocked(endpointID string, to State, observe Observer) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if observe != nil {
		observe(endpointID, from, to)
	}
}

// pruneLocked drops samples outside MonitoringPeriod. An empty window after
// pruning resets the failure/success/request counts implicitly
// (len(window)==0); the HALF_OPEN successRun is not touched here.
func (b *Breaker) pruneLocked() {
	if b.settings.MonitoringPeriod <= 0 {
		return
	}
	cutoff := time.Now().Add(-b.settings.MonitoringPeriod)
	kept := b.window[:0]
	for _, s := range b.window {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	b.window = kept
}
