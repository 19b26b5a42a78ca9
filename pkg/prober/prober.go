// Package prober performs one HTTP check with timeout, classifies the
// result, and runs it through the endpoint's circuit breaker (C4).
package prober

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wtower/uptime-monitor/pkg/breaker"
	"github.com/wtower/uptime-monitor/pkg/stats"
	"github.com/wtower/uptime-monitor/pkg/store"
)

const userAgent = "Watchtower-Monitor/1.0"

// Bus is the fan-out surface the prober pushes post-probe events to.
// pkg/bus satisfies it.
type Bus interface {
	PublishNewCheck(check store.UptimeCheck)
	PublishUptimeUpdate(st store.UptimeStatistics)
	PublishSystemStatus(message, level string)
}

// FailureCounter is the scheduler-owned consecutive-failure counter for one
// endpoint (I5). The prober never holds this state itself, per the
// per-endpoint agent consolidation.
type FailureCounter interface {
	Get(endpointID uuid.UUID) int
	Reset(endpointID uuid.UUID) (previous int)
	Increment(endpointID uuid.UUID) (current int)
}

// Prober performs probes against endpoints, persists outcomes, and fans
// them out.
type Prober struct {
	store    *store.Store
	breakers *breaker.Registry
	bus      Bus
	log      zerolog.Logger
}

// New builds a Prober sharing the given breaker registry across every
// endpoint it probes.
func New(s *store.Store, breakers *breaker.Registry, bus Bus, log zerolog.Logger) *Prober {
	return &Prober{store: s, breakers: breakers, bus: bus, log: log.With().Str("component", "prober").Logger()}
}

type classification struct {
	status       string
	statusCode   int
	responseTime float64
	errorReason  string
	shortCircuit bool
}

// Probe executes §4.4 end-to-end for one endpoint. Every path ends with a
// recorded outcome; errors never propagate to the caller, matching §7's
// propagation policy. It returns the freshly computed statistics so the
// scheduler can refresh its bounded per-endpoint cache (§9); nil if the
// check failed to persist or the endpoint has since been deleted.
func (p *Prober) Probe(ctx context.Context, endpoint *store.Endpoint, counter FailureCounter) *store.UptimeStatistics {
	start := time.Now()
	endpointKey := endpoint.ID.String()

	var result classification
	checkInterval := time.Duration(endpoint.CheckInterval) * time.Second
	breakerErr := p.breakers.Execute(endpointKey, checkInterval, func() error {
		result = p.execute(ctx, endpoint, start)
		if result.status == store.StatusDown {
			return fmt.Errorf("probe failed: %s", result.errorReason)
		}
		return nil
	})

	if errors.Is(breakerErr, breaker.ErrOpenCircuit) {
		result = classification{
			status:      store.StatusDown,
			errorReason: "Circuit breaker open",
			shortCircuit: true,
		}
	}

	check := &store.UptimeCheck{
		EndpointID:   endpoint.ID,
		EndpointName: endpoint.Name,
		Status:       result.status,
		StatusCode:   result.statusCode,
		ResponseTime: result.responseTime,
		Timestamp:    time.Now().UTC(),
	}
	if result.errorReason != "" {
		reason := result.errorReason
		check.ErrorReason = &reason
	}

	if err := p.store.Checks().Insert(check); err != nil {
		p.log.Error().Err(err).Str("endpoint_id", endpointKey).Msg("failed to store check result")
		p.bus.PublishSystemStatus("Failed to store check result", "error")
		return nil
	}

	p.trackFailures(endpoint, result, counter)

	p.bus.PublishNewCheck(*check)

	updated, err := stats.Compute(p.store, endpoint.ID, time.Now(), counter.Get(endpoint.ID))
	if err != nil {
		p.log.Error().Err(err).Str("endpoint_id", endpointKey).Msg("failed to compute statistics after probe")
		return nil
	}
	if updated != nil {
		p.bus.PublishUptimeUpdate(*updated)
	}
	return updated
}

// trackFailures implements §4.4 step 6: resets and back-online/streak
// notices. Short-circuited probes never touch the counter (§4.2, §9).
func (p *Prober) trackFailures(endpoint *store.Endpoint, result classification, counter FailureCounter) {
	if result.shortCircuit {
		return
	}
	if result.status == store.StatusUp {
		prior := counter.Reset(endpoint.ID)
		if prior > 0 {
			p.bus.PublishSystemStatus(fmt.Sprintf("%s is back online after %d failures", endpoint.Name, prior), "info")
		}
		return
	}
	n := counter.Increment(endpoint.ID)
	if n%3 == 0 {
		p.bus.PublishSystemStatus(fmt.Sprintf("%s has %d consecutive failures", endpoint.Name, n), "error")
	}
}

// execute performs the bare HTTP GET and classifies the outcome. It never
// returns an error; the classification result carries everything the
// caller needs (§4.4 steps 3-5).
func (p *Prober) execute(ctx context.Context, endpoint *store.Endpoint, start time.Time) classification {
	timeout := time.Duration(endpoint.Timeout) * time.Second
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint.URL, nil)
	if err != nil {
		return classification{status: store.StatusDown, errorReason: fmt.Sprintf("Connection failed: %s", err.Error())}
	}
	req.Header.Set("User-Agent", userAgent)

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	responseTime := float64(time.Since(start).Milliseconds())

	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return classification{
				status:       store.StatusDown,
				responseTime: responseTime,
				errorReason:  fmt.Sprintf("Timeout after %ds", endpoint.Timeout),
			}
		}
		return classification{
			status:      store.StatusDown,
			errorReason: fmt.Sprintf("Connection failed: %s", err.Error()),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != endpoint.ExpectedStatus {
		return classification{
			status:       store.StatusDown,
			statusCode:   resp.StatusCode,
			responseTime: responseTime,
			errorReason:  fmt.Sprintf("Got %d, expected %d", resp.StatusCode, endpoint.ExpectedStatus),
		}
	}

	return classification{
		status:       store.StatusUp,
		statusCode:   resp.StatusCode,
		responseTime: responseTime,
	}
}
