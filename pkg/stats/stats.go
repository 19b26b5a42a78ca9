// Package stats computes the 24-hour rolling statistics view (C3) the
// prober and live bus both consume after every probe.
package stats

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/wtower/uptime-monitor/pkg/store"
)

const window = 24 * time.Hour

// Compute derives an endpoint's UptimeStatistics as of now. It returns
// (nil, nil) if the endpoint no longer exists, matching §4.3's "pure
// function ... returns nil if the endpoint no longer exists".
// consecutiveFailures is owned by the scheduler, not this package; callers
// pass in its current value for the endpoint.
func Compute(s *store.Store, endpointID uuid.UUID, now time.Time, consecutiveFailures int) (*store.UptimeStatistics, error) {
	if _, err := s.Endpoints().GetByID(endpointID); err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load endpoint for statistics: %w", err)
	}

	up, down, avg, err := s.Checks().CountsSince(endpointID, now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to count checks for statistics: %w", err)
	}

	recent, err := s.Checks().Recent(endpointID, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent checks for statistics: %w", err)
	}

	total := up + down
	result := &store.UptimeStatistics{
		EndpointID:          endpointID,
		TotalChecks:         total,
		UpChecks:            up,
		DownChecks:          down,
		UptimePercentage:    roundPercent(up, total),
		AvgResponseTime:     round2(avg),
		CurrentStatus:       store.StatusUp,
		RecentChecks:        recent,
		ConsecutiveFailures: consecutiveFailures,
	}
	if len(recent) > 0 {
		result.CurrentStatus = recent[0].Status
		lastCheck := recent[0].Timestamp
		result.LastCheck = &lastCheck
	}
	return result, nil
}

// roundPercent implements §4.3's floor((up/total)*10000)/100 rounding rule.
func roundPercent(up, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Floor(float64(up)/float64(total)*10000) / 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
