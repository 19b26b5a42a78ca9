// Package store is the thin typed wrapper over the SQL store (C1):
// endpoints, checks, and their hourly/daily roll-ups.
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/wtower/uptime-monitor/pkg/config"
)

// Store wraps a pooled Postgres connection plus the repositories built on it.
type Store struct {
	*sqlx.DB
	cfg *config.DatabaseConfig
}

// New opens the store's connection pool against cfg.URL and creates any
// missing tables and indices via InitSchema. Pool acquisition must never deadlock a probe tick, so
// the pool is bounded and idle connections are recycled rather than held.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	s := &Store{DB: db, cfg: cfg}
	if err := s.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// schema is the authoritative DDL (§6): two primary tables, two roll-up
// tables, the indices the statistics and retention paths depend on.
const schema = `
CREATE TABLE IF NOT EXISTS endpoints (
	id              UUID PRIMARY KEY,
	name            VARCHAR(255) UNIQUE NOT NULL,
	url             TEXT NOT NULL,
	check_interval  INT NOT NULL CHECK (check_interval >= 5),
	timeout         INT NOT NULL CHECK (timeout >= 1),
	expected_status INT NOT NULL CHECK (expected_status BETWEEN 100 AND 599),
	severity        VARCHAR(20) NOT NULL DEFAULT 'medium',
	enabled         BOOLEAN NOT NULL DEFAULT TRUE,
	tags            TEXT[] NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS uptime_checks (
	id            UUID PRIMARY KEY,
	endpoint_id   UUID NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
	endpoint_name VARCHAR(255) NOT NULL,
	status        VARCHAR(10) NOT NULL,
	status_code   INT NOT NULL DEFAULT 0,
	response_time REAL NOT NULL DEFAULT 0 CHECK (response_time >= 0),
	timestamp     TIMESTAMPTZ NOT NULL DEFAULT now(),
	error_reason  TEXT
);

CREATE INDEX IF NOT EXISTS idx_uptime_checks_endpoint_ts ON uptime_checks(endpoint_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_uptime_checks_ts_status ON uptime_checks(timestamp DESC, status);

CREATE TABLE IF NOT EXISTS uptime_checks_hourly (
	endpoint_id       UUID NOT NULL,
	endpoint_name     VARCHAR(255) NOT NULL,
	hour_start        TIMESTAMPTZ NOT NULL,
	total_checks      INT NOT NULL DEFAULT 0,
	successful_checks INT NOT NULL DEFAULT 0,
	failed_checks     INT NOT NULL DEFAULT 0,
	avg_response_time REAL NOT NULL DEFAULT 0,
	min_response_time REAL NOT NULL DEFAULT 0,
	max_response_time REAL NOT NULL DEFAULT 0,
	UNIQUE(endpoint_id, hour_start)
);

CREATE TABLE IF NOT EXISTS uptime_checks_daily (
	endpoint_id       UUID NOT NULL,
	endpoint_name     VARCHAR(255) NOT NULL,
	day_start         DATE NOT NULL,
	total_checks      INT NOT NULL DEFAULT 0,
	successful_checks INT NOT NULL DEFAULT 0,
	failed_checks     INT NOT NULL DEFAULT 0,
	avg_response_time REAL NOT NULL DEFAULT 0,
	min_response_time REAL NOT NULL DEFAULT 0,
	max_response_time REAL NOT NULL DEFAULT 0,
	uptime_percentage REAL NOT NULL DEFAULT 0,
	UNIQUE(endpoint_id, day_start)
);
`

// InitSchema creates the store's tables and indices if they do not exist yet.
func (s *Store) InitSchema() error {
	if _, err := s.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// HealthCheck verifies the pool can still reach Postgres.
func (s *Store) HealthCheck() error {
	var result int
	if err := s.Get(&result, "SELECT 1"); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	return nil
}

// PoolStats mirrors database/sql's pool counters for operational dashboards.
type PoolStats struct {
	OpenConnections int `json:"openConnections"`
	InUse           int `json:"inUse"`
	Idle            int `json:"idle"`
}

// PoolStats reports the current connection pool occupancy.
func (s *Store) PoolStats() PoolStats {
	st := s.DB.Stats()
	return PoolStats{
		OpenConnections: st.OpenConnections,
		InUse:           st.InUse,
		Idle:            st.Idle,
	}
}

// Endpoints returns a repository over the endpoints table.
func (s *Store) Endpoints() *EndpointRepository {
	return &EndpointRepository{db: s}
}

// Checks returns a repository over the uptime_checks table.
func (s *Store) Checks() *CheckRepository {
	return &CheckRepository{db: s}
}

// Aggregates returns a repository over the hourly/daily roll-up tables.
func (s *Store) Aggregates() *AggregateRepository {
	return &AggregateRepository{db: s}
}
