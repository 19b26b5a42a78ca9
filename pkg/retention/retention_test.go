package retention

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wtower/uptime-monitor/pkg/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &store.Store{DB: sqlx.NewDb(db, "postgres")}, mock
}

func testConfig() Config {
	return Config{DetailRetentionDays: 7, HourlyRetentionDays: 30, DailyRetentionDays: 90, BatchSize: 2, DeleteEnabled: true}
}

func expectFullRun(mock sqlmock.Sqlmock, deleteBatches ...int64) {
	mock.ExpectExec("INSERT INTO uptime_checks_hourly").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO uptime_checks_daily").WillReturnResult(sqlmock.NewResult(0, 1))
	for _, n := range deleteBatches {
		mock.ExpectExec("DELETE FROM uptime_checks WHERE id IN").WillReturnResult(sqlmock.NewResult(0, n))
	}
	mock.ExpectExec("DELETE FROM uptime_checks_hourly").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM uptime_checks_daily").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("VACUUM ANALYZE uptime_checks").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("VACUUM ANALYZE uptime_checks_hourly").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("VACUUM ANALYZE uptime_checks_daily").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestJobRunStepsInOrder(t *testing.T) {
	s, mock := newMockStore(t)
	expectFullRun(mock, 2, 0)

	j := New(s, testConfig(), zerolog.Nop())
	require.NoError(t, j.run())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRunTwiceIsIdempotentViaUpsert(t *testing.T) {
	s, mock := newMockStore(t)
	expectFullRun(mock, 0)
	expectFullRun(mock, 0)

	j := New(s, testConfig(), zerolog.Nop())
	require.NoError(t, j.run())
	require.NoError(t, j.run())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobDeleteDetailRowsStopsAtZeroBatch(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM uptime_checks WHERE id IN").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM uptime_checks WHERE id IN").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM uptime_checks WHERE id IN").WillReturnResult(sqlmock.NewResult(0, 0))

	j := New(s, testConfig(), zerolog.Nop())
	require.NoError(t, j.deleteDetailRows(time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerSkipsWhenDeleteDisabled(t *testing.T) {
	s, mock := newMockStore(t)
	cfg := testConfig()
	cfg.DeleteEnabled = false
	j := New(s, cfg, zerolog.Nop())

	j.Trigger()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggerSkipsReentrantRun(t *testing.T) {
	s, _ := newMockStore(t)
	j := New(s, testConfig(), zerolog.Nop())
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Trigger()
}
