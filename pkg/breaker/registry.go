package breaker

import (
	"sync"
	"time"
)

// Registry lazily creates and holds one Breaker per endpoint id. It is safe
// for concurrent use; each breaker serialises its own state transitions
// independently of the registry's lock.
//
// ResetTimeout is excluded from base and instead derived per endpoint as
// resetTimeoutFactor*checkInterval (§4.4 step 2, §6's "overridable
// per-endpoint at instantiation"), since endpoints range from 5s to 3600s
// intervals and sharing one reset delay across all of them would make it
// wildly wrong for most endpoints.
type Registry struct {
	mu                 sync.Mutex
	base               Settings
	resetTimeoutFactor int
	observe            Observer
	breakers           map[string]*Breaker
}

// NewRegistry builds a registry applying base to every breaker it lazily
// creates, except ResetTimeout which is computed per endpoint as
// resetTimeoutFactor*checkInterval. observe is notified on every transition.
func NewRegistry(base Settings, resetTimeoutFactor int, observe Observer) *Registry {
	if resetTimeoutFactor <= 0 {
		resetTimeoutFactor = 3
	}
	return &Registry{
		base:               base,
		resetTimeoutFactor: resetTimeoutFactor,
		observe:            observe,
		breakers:           make(map[string]*Breaker),
	}
}

// get returns the endpoint's breaker, creating it with a ResetTimeout
// derived from checkInterval if it doesn't exist yet. An already-created
// breaker keeps whatever ResetTimeout it was created with; this only
// matters at first creation.
func (r *Registry) get(endpointID string, checkInterval time.Duration) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[endpointID]
	if !ok {
		settings := r.base
		settings.ResetTimeout = time.Duration(r.resetTimeoutFactor) * checkInterval
		b = newBreaker(settings)
		r.breakers[endpointID] = b
	}
	return b
}

// Execute wraps fn with the endpoint's breaker: a call rejected by the
// breaker never invokes fn and returns ErrOpenCircuit; otherwise fn's error
// (nil or not) is recorded as the outcome sample. checkInterval is only
// consulted the first time this endpoint's breaker is created.
func (r *Registry) Execute(endpointID string, checkInterval time.Duration, fn func() error) error {
	b := r.get(endpointID, checkInterval)
	if !b.Allow(endpointID, r.observe) {
		return ErrOpenCircuit
	}
	err := fn()
	if err != nil {
		b.RecordFailure(endpointID, r.observe)
	} else {
		b.RecordSuccess(endpointID, r.observe)
	}
	return err
}

// State reports the current state of an endpoint's breaker, CLOSED if none
// has been created yet.
func (r *Registry) State(endpointID string) State {
	r.mu.Lock()
	b, ok := r.breakers[endpointID]
	r.mu.Unlock()
	if !ok {
		return Closed
	}
	return b.State()
}

// Remove drops an endpoint's breaker, e.g. on endpoint delete.
func (r *Registry) Remove(endpointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, endpointID)
}
