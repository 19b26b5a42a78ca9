// Package scheduler maintains one probe loop per enabled endpoint (C5) and
// reacts to operator add/update/delete/toggle mutations.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wtower/uptime-monitor/pkg/prober"
	"github.com/wtower/uptime-monitor/pkg/store"
)

// Bus is the notice surface the scheduler's lifecycle events publish to.
type Bus interface {
	PublishSystemStatus(message, level string)
}

// Prober is the probe execution surface the scheduler's loops call on
// every tick. pkg/prober.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, endpoint *store.Endpoint, counter prober.FailureCounter) *store.UptimeStatistics
}

// agent is the single consolidated per-endpoint record the design note in
// §9 calls for, replacing the separate loops/consecutiveFailures/
// lastStatistics maps. It owns its own loop goroutine and its own lock, so
// reconfiguration of one endpoint never contends with another's tick.
type agent struct {
	endpointID uuid.UUID
	cancel     context.CancelFunc
	done       chan struct{}

	mu                  sync.Mutex
	endpoint            *store.Endpoint
	consecutiveFailures int
	lastStatistics      *store.UptimeStatistics
}

func (a *agent) Get(id uuid.UUID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consecutiveFailures
}

func (a *agent) Reset(id uuid.UUID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.consecutiveFailures
	a.consecutiveFailures = 0
	return prev
}

func (a *agent) Increment(id uuid.UUID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consecutiveFailures++
	return a.consecutiveFailures
}

func (a *agent) setStatistics(st *store.UptimeStatistics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastStatistics = st
}

func (a *agent) statistics() *store.UptimeStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastStatistics
}

func (a *agent) currentEndpoint() *store.Endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endpoint
}

func (a *agent) setEndpoint(e *store.Endpoint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endpoint = e
}

// Scheduler maintains the agent per enabled endpoint and serialises
// lifecycle control (start/stop/restart) against loop registration, so a
// restart never leaves two loops registered for one endpoint (I2).
type Scheduler struct {
	store  *store.Store
	prober Prober
	bus    Bus
	log    zerolog.Logger

	mu      sync.Mutex
	agents  map[uuid.UUID]*agent
	running bool
}

// New builds a Scheduler. It does not start any loops until Start is called.
func New(s *store.Store, p Prober, bus Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:  s,
		prober: p,
		bus:    bus,
		log:    log.With().Str("component", "scheduler").Logger(),
		agents: make(map[uuid.UUID]*agent),
	}
}

// Start is idempotent: it tears down any existing loops, reloads every
// enabled endpoint, and starts one loop per endpoint.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopAllLocked()

	endpoints, err := s.store.Endpoints().ListEnabled()
	if err != nil {
		return fmt.Errorf("failed to load enabled endpoints: %w", err)
	}

	if len(endpoints) == 0 {
		s.bus.PublishSystemStatus("No enabled endpoints; monitoring idle", "warning")
		s.running = true
		return nil
	}

	for _, e := range endpoints {
		s.startLoopLocked(ctx, e)
	}
	s.running = true
	s.bus.PublishSystemStatus(fmt.Sprintf("Monitoring started for %d endpoints", len(endpoints)), "info")
	return nil
}

// Stop cancels every loop and clears the per-endpoint caches.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAllLocked()
	s.running = false
	s.bus.PublishSystemStatus("Monitoring engine stopped", "info")
}

func (s *Scheduler) stopAllLocked() {
	for id, a := range s.agents {
		a.cancel()
		<-a.done
		delete(s.agents, id)
	}
}

// startLoopLocked registers and starts a new agent. Caller holds s.mu.
func (s *Scheduler) startLoopLocked(ctx context.Context, e *store.Endpoint) {
	loopCtx, cancel := context.WithCancel(ctx)
	a := &agent{
		endpointID: e.ID,
		cancel:     cancel,
		done:       make(chan struct{}),
		endpoint:   e,
	}
	s.agents[e.ID] = a
	go s.runLoop(loopCtx, a)
}

// runLoop is the single-flight loop contract (§4.5): fire immediately, then
// every checkInterval seconds, never overlapping ticks for this endpoint.
func (s *Scheduler) runLoop(ctx context.Context, a *agent) {
	defer close(a.done)

	s.tick(ctx, a)

	for {
		endpoint := a.currentEndpoint()
		interval := time.Duration(endpoint.CheckInterval) * time.Second
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx, a)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, a *agent) {
	endpoint := a.currentEndpoint()
	st := s.prober.Probe(ctx, endpoint, a)
	if st != nil {
		a.setStatistics(st)
	}
}

// RestartEndpoint cancels the loop if present, reloads the endpoint, and
// starts a fresh loop if it still exists and is enabled. A deleted
// endpoint simply ends up with no agent (§9: DELETE is "cancel loop + drop
// agent", not "restart").
func (s *Scheduler) RestartEndpoint(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.agents[id]; ok {
		a.cancel()
		<-a.done
		delete(s.agents, id)
	}

	endpoint, err := s.store.Endpoints().GetByID(id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to reload endpoint: %w", err)
	}
	if endpoint.Enabled {
		s.startLoopLocked(ctx, endpoint)
	}
	return nil
}

// RemoveEndpoint cancels and drops an endpoint's agent without reloading it,
// for use on delete.
func (s *Scheduler) RemoveEndpoint(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[id]; ok {
		a.cancel()
		<-a.done
		delete(s.agents, id)
	}
}

// Statistics returns the bounded last-computed statistics cache for one
// endpoint, or nil if it has no running agent.
func (s *Scheduler) Statistics(id uuid.UUID) *store.UptimeStatistics {
	s.mu.Lock()
	a, ok := s.agents[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return a.statistics()
}

// AllStatistics returns every running agent's cached statistics, the
// status-overview aggregation used by GetAllUptimeStatuses.
func (s *Scheduler) AllStatistics() []store.UptimeStatistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]store.UptimeStatistics, 0, len(s.agents))
	for _, a := range s.agents {
		if st := a.statistics(); st != nil {
			result = append(result, *st)
		}
	}
	return result
}

// ConsecutiveFailures reports the current failure streak for one endpoint,
// 0 if it has no running agent.
func (s *Scheduler) ConsecutiveFailures(id uuid.UUID) int {
	s.mu.Lock()
	a, ok := s.agents[id]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return a.Get(id)
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
