package store

import (
	"fmt"
	"time"
)

// AggregateRepository provides upsert/delete operations for the hourly and
// daily roll-up tables the retention job maintains.
type AggregateRepository struct {
	db *Store
}

// UpsertHourlyFromChecks rolls raw checks in [since, until) into one hourly
// row per (endpoint_id, hour_start), overwriting on conflict (I4). Mirrors
// spec §4.7 step 1.
func (r *AggregateRepository) UpsertHourlyFromChecks(since, until time.Time) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO uptime_checks_hourly (endpoint_id, endpoint_name, hour_start, total_checks, successful_checks, failed_checks, avg_response_time, min_response_time, max_response_time)
		SELECT
			endpoint_id,
			max(endpoint_name),
			date_trunc('hour', timestamp) AS hour_start,
			count(*),
			count(*) FILTER (WHERE status = 'UP'),
			count(*) FILTER (WHERE status = 'DOWN'),
			avg(response_time),
			min(response_time),
			max(response_time)
		FROM uptime_checks
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY endpoint_id, date_trunc('hour', timestamp)
		ON CONFLICT (endpoint_id, hour_start) DO UPDATE SET
			endpoint_name = EXCLUDED.endpoint_name,
			total_checks = EXCLUDED.total_checks,
			successful_checks = EXCLUDED.successful_checks,
			failed_checks = EXCLUDED.failed_checks,
			avg_response_time = EXCLUDED.avg_response_time,
			min_response_time = EXCLUDED.min_response_time,
			max_response_time = EXCLUDED.max_response_time
	`, since, until)
	if err != nil {
		return 0, fmt.Errorf("failed to roll up hourly aggregates: %w", err)
	}
	return result.RowsAffected()
}

// UpsertDailyFromChecks is UpsertHourlyFromChecks's day-bucket counterpart,
// additionally computing uptime_percentage. Mirrors spec §4.7 step 2.
func (r *AggregateRepository) UpsertDailyFromChecks(since, until time.Time) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO uptime_checks_daily (endpoint_id, endpoint_name, day_start, total_checks, successful_checks, failed_checks, avg_response_time, min_response_time, max_response_time, uptime_percentage)
		SELECT
			endpoint_id,
			max(endpoint_name),
			date_trunc('day', timestamp)::date AS day_start,
			count(*),
			count(*) FILTER (WHERE status = 'UP'),
			count(*) FILTER (WHERE status = 'DOWN'),
			avg(response_time),
			min(response_time),
			max(response_time),
			floor(count(*) FILTER (WHERE status = 'UP')::numeric / count(*) * 10000) / 100
		FROM uptime_checks
		WHERE timestamp >= $1 AND timestamp < $2
		GROUP BY endpoint_id, date_trunc('day', timestamp)
		ON CONFLICT (endpoint_id, day_start) DO UPDATE SET
			endpoint_name = EXCLUDED.endpoint_name,
			total_checks = EXCLUDED.total_checks,
			successful_checks = EXCLUDED.successful_checks,
			failed_checks = EXCLUDED.failed_checks,
			avg_response_time = EXCLUDED.avg_response_time,
			min_response_time = EXCLUDED.min_response_time,
			max_response_time = EXCLUDED.max_response_time,
			uptime_percentage = EXCLUDED.uptime_percentage
	`, since, until)
	if err != nil {
		return 0, fmt.Errorf("failed to roll up daily aggregates: %w", err)
	}
	return result.RowsAffected()
}

// DeleteHourlyOlderThan removes hourly rows past their retention horizon.
func (r *AggregateRepository) DeleteHourlyOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec("DELETE FROM uptime_checks_hourly WHERE hour_start < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old hourly aggregates: %w", err)
	}
	return result.RowsAffected()
}

// DeleteDailyOlderThan removes daily rows past their retention horizon.
func (r *AggregateRepository) DeleteDailyOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec("DELETE FROM uptime_checks_daily WHERE day_start < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old daily aggregates: %w", err)
	}
	return result.RowsAffected()
}

// Vacuum runs VACUUM ANALYZE on the three tables retention touches. Callers
// are expected to log and swallow its error (§4.7 step 5 is not fatal).
func (r *AggregateRepository) Vacuum() error {
	for _, table := range []string{"uptime_checks", "uptime_checks_hourly", "uptime_checks_daily"} {
		if _, err := r.db.Exec("VACUUM ANALYZE " + table); err != nil {
			return fmt.Errorf("failed to vacuum %s: %w", table, err)
		}
	}
	return nil
}
