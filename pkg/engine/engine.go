// Package engine wires the Store Adapter, Circuit Breaker, Statistics
// Engine, Prober, Scheduler, Live Event Bus, and Retention Job together
// and exposes the operator-facing API named in §6.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wtower/uptime-monitor/pkg/breaker"
	"github.com/wtower/uptime-monitor/pkg/bus"
	"github.com/wtower/uptime-monitor/pkg/config"
	"github.com/wtower/uptime-monitor/pkg/prober"
	"github.com/wtower/uptime-monitor/pkg/retention"
	"github.com/wtower/uptime-monitor/pkg/scheduler"
	"github.com/wtower/uptime-monitor/pkg/stats"
	"github.com/wtower/uptime-monitor/pkg/store"
)

// Engine is Watchtower's monitoring core. Startup is explicit via Run(ctx)
// rather than happening as a side effect of construction.
type Engine struct {
	store     *store.Store
	breakers  *breaker.Registry
	bus       *bus.Bus
	prober    *prober.Prober
	scheduler *scheduler.Scheduler
	retention *retention.Job
	log       zerolog.Logger

	wg sync.WaitGroup
}

// New wires every component from cfg. No background work starts until Run
// is called.
func New(s *store.Store, cfg *config.Config, log zerolog.Logger) *Engine {
	log = log.With().Str("component", "engine").Logger()

	b := bus.New(bus.Config{
		MaxClients:        cfg.Bus.MaxClients,
		MaxRoomsPerClient: cfg.Bus.MaxRoomsPerClient,
		ClientTimeout:     cfg.Bus.ClientTimeout,
		BulkChunkSize:     cfg.Bus.BulkChunkSize,
		BulkChunkPause:    cfg.Bus.BulkChunkPause,
	}, log)

	breakerLog := log.With().Str("subcomponent", "breaker").Logger()
	breakers := breaker.NewRegistry(breaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		MonitoringPeriod: cfg.Breaker.MonitoringPeriod,
		MinimumRequests:  cfg.Breaker.MinimumRequests,
	}, cfg.Breaker.ResetTimeoutFactor, func(endpointID string, from, to breaker.State) {
		breakerLog.Info().Str("endpoint_id", endpointID).Str("from", from.String()).Str("to", to.String()).Msg("breaker state change")
	})

	p := prober.New(s, breakers, b, log)
	sched := scheduler.New(s, p, b, log)
	b.SetStatisticsProvider(sched)
	job := retention.New(s, retention.Config{
		DetailRetentionDays: cfg.Retention.DetailRetentionDays,
		HourlyRetentionDays: cfg.Retention.HourlyRetentionDays,
		DailyRetentionDays:  cfg.Retention.DailyRetentionDays,
		BatchSize:           cfg.Retention.BatchSize,
		DeleteEnabled:       cfg.Retention.DeleteEnabled,
	}, log)

	return &Engine{
		store:     s,
		breakers:  breakers,
		bus:       b,
		prober:    p,
		scheduler: sched,
		retention: job,
		log:       log,
	}
}

// Run starts the scheduler, the bus's idle sweeper, and the retention job,
// and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.bus.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.retention.Run(ctx)
	}()

	<-ctx.Done()
	e.scheduler.Stop()
	e.wg.Wait()
	return nil
}

// Bus exposes the live event bus so the transport layer (out of scope per
// §1) can open subscriber sessions against it.
func (e *Engine) Bus() *bus.Bus {
	return e.bus
}

// AddEndpoint validates input, persists a new endpoint, and starts its
// probe loop.
func (e *Engine) AddEndpoint(ctx context.Context, in EndpointInput) (*store.Endpoint, error) {
	if err := validateEndpointInput(in); err != nil {
		return nil, err
	}

	endpoint := &store.Endpoint{
		Name:           in.Name,
		URL:            in.URL,
		CheckInterval:  in.CheckInterval,
		Timeout:        in.Timeout,
		ExpectedStatus: in.ExpectedStatus,
		Severity:       in.Severity,
		Enabled:        in.Enabled,
		Tags:           in.Tags,
	}
	if err := e.store.Endpoints().Create(endpoint); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, &ValidationError{Field: "name", Reason: "already in use"}
		}
		return nil, fmt.Errorf("failed to create endpoint: %w", err)
	}

	if err := e.scheduler.RestartEndpoint(ctx, endpoint.ID); err != nil {
		e.log.Error().Err(err).Str("endpoint_id", endpoint.ID.String()).Msg("failed to start loop for new endpoint")
	}
	return endpoint, nil
}

// UpdateEndpoint validates and overwrites an existing endpoint, then
// restarts its loop so the new cadence/timeout take effect immediately.
func (e *Engine) UpdateEndpoint(ctx context.Context, id uuid.UUID, in EndpointInput) (*store.Endpoint, error) {
	if err := validateEndpointInput(in); err != nil {
		return nil, err
	}

	endpoint := &store.Endpoint{
		ID:             id,
		Name:           in.Name,
		URL:            in.URL,
		CheckInterval:  in.CheckInterval,
		Timeout:        in.Timeout,
		ExpectedStatus: in.ExpectedStatus,
		Severity:       in.Severity,
		Enabled:        in.Enabled,
		Tags:           in.Tags,
	}
	if err := e.store.Endpoints().Update(endpoint); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, &ValidationError{Field: "name", Reason: "already in use"}
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{EndpointID: id.String()}
		}
		return nil, fmt.Errorf("failed to update endpoint: %w", err)
	}

	if err := e.scheduler.RestartEndpoint(ctx, id); err != nil {
		e.log.Error().Err(err).Str("endpoint_id", id.String()).Msg("failed to restart loop after update")
	}
	return endpoint, nil
}

// ToggleEndpoint flips an endpoint's enabled flag and restarts its loop.
func (e *Engine) ToggleEndpoint(ctx context.Context, id uuid.UUID, enabled bool) error {
	if err := e.store.Endpoints().SetEnabled(id, enabled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{EndpointID: id.String()}
		}
		return fmt.Errorf("failed to toggle endpoint: %w", err)
	}
	if err := e.scheduler.RestartEndpoint(ctx, id); err != nil {
		e.log.Error().Err(err).Str("endpoint_id", id.String()).Msg("failed to restart loop after toggle")
	}
	return nil
}

// DeleteEndpoint cancels the endpoint's loop and drops its agent and
// breaker before deleting the row, which cascades to its checks (I1). Per
// §9, delete is "cancel loop + drop agent", never a restart.
func (e *Engine) DeleteEndpoint(id uuid.UUID) (didDelete bool, err error) {
	e.scheduler.RemoveEndpoint(id)
	e.breakers.Remove(id.String())

	did, err := e.store.Endpoints().Delete(id)
	if err != nil {
		return false, fmt.Errorf("failed to delete endpoint: %w", err)
	}
	return did, nil
}

// GetEndpoint reads one endpoint by id.
func (e *Engine) GetEndpoint(id uuid.UUID) (*store.Endpoint, error) {
	endpoint, err := e.store.Endpoints().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{EndpointID: id.String()}
		}
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	return endpoint, nil
}

// ListEndpoints returns every endpoint.
func (e *Engine) ListEndpoints() ([]*store.Endpoint, error) {
	endpoints, err := e.store.Endpoints().List()
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	return endpoints, nil
}

// ListEnabledEndpoints returns every enabled endpoint.
func (e *Engine) ListEnabledEndpoints() ([]*store.Endpoint, error) {
	endpoints, err := e.store.Endpoints().ListEnabled()
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled endpoints: %w", err)
	}
	return endpoints, nil
}

// GetUptimeStatistics returns one endpoint's rolling statistics, preferring
// the scheduler's bounded cache (§9) and falling back to a fresh
// computation when the endpoint has no running agent (e.g. disabled).
func (e *Engine) GetUptimeStatistics(id uuid.UUID) (*store.UptimeStatistics, error) {
	if cached := e.scheduler.Statistics(id); cached != nil {
		return cached, nil
	}
	result, err := stats.Compute(e.store, id, time.Now(), e.scheduler.ConsecutiveFailures(id))
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	if result == nil {
		return nil, &NotFoundError{EndpointID: id.String()}
	}
	return result, nil
}

// GetAllUptimeStatuses returns every enabled endpoint's cached statistics
// in one cheap call, composed from the scheduler's bounded cache rather
// than a fresh store round-trip per endpoint.
func (e *Engine) GetAllUptimeStatuses() []store.UptimeStatistics {
	return e.scheduler.AllStatistics()
}

// TriggerRetention runs the retention job immediately, subject to its own
// reentrancy guard.
func (e *Engine) TriggerRetention() {
	e.retention.Trigger()
}

// PoolStats exposes the store's connection pool occupancy for operational
// dashboards (a carry-over of the teacher's DB.GetStats(), not in spec.md
// but excluded by no Non-goal).
func (e *Engine) PoolStats() store.PoolStats {
	return e.store.PoolStats()
}
