package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CheckRepository provides store operations for uptime_checks: append-only
// insert plus the parameterised reads the statistics engine needs.
type CheckRepository struct {
	db *Store
}

// Insert records one immutable probe outcome.
func (r *CheckRepository) Insert(c *UptimeCheck) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO uptime_checks (id, endpoint_id, endpoint_name, status, status_code, response_time, timestamp, error_reason)
		VALUES (:id, :endpoint_id, :endpoint_name, :status, :status_code, :response_time, :timestamp, :error_reason)
	`
	_, err := r.db.NamedExec(query, c)
	if err != nil {
		return fmt.Errorf("failed to insert uptime check: %w", err)
	}
	return nil
}

// checkCounts is the scan target for the grouped 24h count query.
type checkCounts struct {
	Status string `db:"status"`
	N      int    `db:"n"`
}

// CountsSince returns the UP/DOWN counts and average response time for
// checks at or after since, used by the statistics engine's 24h window.
func (r *CheckRepository) CountsSince(endpointID uuid.UUID, since time.Time) (up, down int, avgResponseTime float64, err error) {
	var rows []checkCounts
	err = r.db.Select(&rows, `
		SELECT status, COUNT(*) AS n
		FROM uptime_checks
		WHERE endpoint_id = $1 AND timestamp >= $2
		GROUP BY status
	`, endpointID, since)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count checks: %w", err)
	}
	for _, row := range rows {
		switch row.Status {
		case StatusUp:
			up = row.N
		case StatusDown:
			down = row.N
		}
	}

	var avg *float64
	err = r.db.Get(&avg, `
		SELECT AVG(response_time) FROM uptime_checks WHERE endpoint_id = $1 AND timestamp >= $2
	`, endpointID, since)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to average response time: %w", err)
	}
	if avg != nil {
		avgResponseTime = *avg
	}
	return up, down, avgResponseTime, nil
}

// Recent returns the limit most recent checks for an endpoint, newest first.
// Statistics caps itself at 10, so no further pagination is needed.
func (r *CheckRepository) Recent(endpointID uuid.UUID, limit int) ([]UptimeCheck, error) {
	var checks []UptimeCheck
	err := r.db.Select(&checks, `
		SELECT * FROM uptime_checks WHERE endpoint_id = $1 ORDER BY timestamp DESC LIMIT $2
	`, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent checks: %w", err)
	}
	return checks, nil
}

// DeleteOlderThan removes up to batchSize rows older than cutoff, returning
// how many were removed so the retention job can detect exhaustion.
func (r *CheckRepository) DeleteOlderThan(cutoff time.Time, batchSize int) (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM uptime_checks WHERE id IN (
			SELECT id FROM uptime_checks WHERE timestamp < $1 LIMIT $2
		)
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old checks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted checks: %w", err)
	}
	return n, nil
}
