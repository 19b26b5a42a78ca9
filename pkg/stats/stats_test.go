package stats

import (
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtower/uptime-monitor/pkg/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := &store.Store{DB: sqlx.NewDb(db, "postgres")}
	return s, mock
}

func TestComputeReturnsNilForMissingEndpoint(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM endpoints WHERE id = $1")).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	result, err := Compute(s, id, time.Now(), 0)
	require.NoError(t, err)
	assert.Nil(t, result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestComputeRoundsUptimePercentageAndAverage(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	endpointCols := []string{"id", "name", "url", "check_interval", "timeout", "expected_status", "severity", "enabled", "tags", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM endpoints WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(endpointCols).AddRow(id, "status-page", "https://example.com", 30, 5, 200, "medium", true, "{}", now, now))

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "n"}).AddRow("UP", 7).AddRow("DOWN", 3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT AVG(response_time)")).
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(101.005))

	checkCols := []string{"id", "endpoint_id", "endpoint_name", "status", "status_code", "response_time", "timestamp", "error_reason"}
	mock.ExpectQuery("SELECT \\* FROM uptime_checks").
		WillReturnRows(sqlmock.NewRows(checkCols).AddRow(uuid.New(), id, "status-page", "DOWN", 500, 12.0, now, nil))

	result, err := Compute(s, id, now, 2)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 70.0, result.UptimePercentage)
	assert.Equal(t, 101.0, result.AvgResponseTime)
	assert.Equal(t, store.StatusDown, result.CurrentStatus)
	assert.Equal(t, 2, result.ConsecutiveFailures)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestComputeDefaultsToUpWithNoRecentChecks(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	endpointCols := []string{"id", "name", "url", "check_interval", "timeout", "expected_status", "severity", "enabled", "tags", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM endpoints WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(endpointCols).AddRow(id, "status-page", "https://example.com", 30, 5, 200, "medium", true, "{}", now, now))
	mock.ExpectQuery("SELECT status, COUNT").WillReturnRows(sqlmock.NewRows([]string{"status", "n"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT AVG(response_time)")).WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(nil))
	mock.ExpectQuery("SELECT \\* FROM uptime_checks").WillReturnRows(sqlmock.NewRows([]string{"id", "endpoint_id", "endpoint_name", "status", "status_code", "response_time", "timestamp", "error_reason"}))

	result, err := Compute(s, id, now, 0)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUp, result.CurrentStatus)
	assert.Zero(t, result.UptimePercentage)
	assert.Zero(t, result.AvgResponseTime)
	require.NoError(t, mock.ExpectationsWereMet())
}
