package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateName is returned by Create when an endpoint name collides
// case-insensitively with an existing one.
var ErrDuplicateName = errors.New("endpoint name already in use")

// ErrNotFound is returned by reads, updates, and toggles that target a
// missing endpoint id. Delete reports a missing id through its did-delete
// flag instead.
var ErrNotFound = errors.New("endpoint not found")

// EndpointRepository provides store operations for endpoints.
type EndpointRepository struct {
	db *Store
}

// Create inserts a new endpoint. The id is generated here if unset; the name
// uniqueness check is case-insensitive per spec.
func (r *EndpointRepository) Create(e *Endpoint) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	var exists bool
	if err := r.db.Get(&exists, "SELECT EXISTS(SELECT 1 FROM endpoints WHERE lower(name) = lower($1))", e.Name); err != nil {
		return fmt.Errorf("failed to check endpoint name: %w", err)
	}
	if exists {
		return ErrDuplicateName
	}

	query := `
		INSERT INTO endpoints (id, name, url, check_interval, timeout, expected_status, severity, enabled, tags, created_at, updated_at)
		VALUES (:id, :name, :url, :check_interval, :timeout, :expected_status, :severity, :enabled, :tags, :created_at, :updated_at)
	`
	_, err := r.db.NamedExec(query, e)
	if err != nil {
		return fmt.Errorf("failed to create endpoint: %w", err)
	}
	return nil
}

// GetByID fetches one endpoint by id.
func (r *EndpointRepository) GetByID(id uuid.UUID) (*Endpoint, error) {
	var e Endpoint
	err := r.db.Get(&e, "SELECT * FROM endpoints WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	return &e, nil
}

// List returns every endpoint, newest first.
func (r *EndpointRepository) List() ([]*Endpoint, error) {
	var endpoints []*Endpoint
	err := r.db.Select(&endpoints, "SELECT * FROM endpoints ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	return endpoints, nil
}

// ListEnabled returns every enabled endpoint, the set the scheduler loads at
// Start() and reloads into.
func (r *EndpointRepository) ListEnabled() ([]*Endpoint, error) {
	var endpoints []*Endpoint
	err := r.db.Select(&endpoints, "SELECT * FROM endpoints WHERE enabled = TRUE ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled endpoints: %w", err)
	}
	return endpoints, nil
}

// Update overwrites every mutable field of an existing endpoint. Name
// uniqueness is re-checked against every other row.
func (r *EndpointRepository) Update(e *Endpoint) error {
	var exists bool
	err := r.db.Get(&exists, "SELECT EXISTS(SELECT 1 FROM endpoints WHERE lower(name) = lower($1) AND id != $2)", e.Name, e.ID)
	if err != nil {
		return fmt.Errorf("failed to check endpoint name: %w", err)
	}
	if exists {
		return ErrDuplicateName
	}

	e.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE endpoints
		SET name = :name, url = :url, check_interval = :check_interval, timeout = :timeout,
		    expected_status = :expected_status, severity = :severity, enabled = :enabled,
		    tags = :tags, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExec(query, e)
	if err != nil {
		return fmt.Errorf("failed to update endpoint: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnabled toggles an endpoint's enabled flag without touching its other
// fields.
func (r *EndpointRepository) SetEnabled(id uuid.UUID, enabled bool) error {
	result, err := r.db.Exec("UPDATE endpoints SET enabled = $1, updated_at = $2 WHERE id = $3", enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to toggle endpoint: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an endpoint, cascading to its checks (I1). Returns
// did-delete=false (not an error) when the id was already gone, so callers
// can distinguish 404 from success.
func (r *EndpointRepository) Delete(id uuid.UUID) (didDelete bool, err error) {
	result, err := r.db.Exec("DELETE FROM endpoints WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete endpoint: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count deleted endpoints: %w", err)
	}
	return n > 0, nil
}
