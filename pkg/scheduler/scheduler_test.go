package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wtower/uptime-monitor/pkg/prober"
	"github.com/wtower/uptime-monitor/pkg/store"
)

var errBoom = errors.New("boom")

type fakeBus struct{}

func (fakeBus) PublishSystemStatus(string, string) {}

type countingProber struct {
	mu        sync.Mutex
	inFlight  int32
	maxInFlight int32
	starts    []time.Time
}

func (p *countingProber) Probe(ctx context.Context, endpoint *store.Endpoint, counter prober.FailureCounter) *store.UptimeStatistics {
	n := atomic.AddInt32(&p.inFlight, 1)
	p.mu.Lock()
	if n > p.maxInFlight {
		p.maxInFlight = n
	}
	p.starts = append(p.starts, time.Now())
	p.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	atomic.AddInt32(&p.inFlight, -1)
	return nil
}

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &store.Store{DB: sqlx.NewDb(db, "postgres")}, mock
}

func TestSchedulerStartRunsOneLoopPerEnabledEndpoint(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()
	cols := []string{"id", "name", "url", "check_interval", "timeout", "expected_status", "severity", "enabled", "tags", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT \\* FROM endpoints WHERE enabled = TRUE").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(id, "x", "http://x", 1, 1, 200, "medium", true, "{}", now, now))

	p := &countingProber{}
	sched := New(s, p, fakeBus{}, zerolog.Nop())
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	time.Sleep(30 * time.Millisecond)

	p.mu.Lock()
	assert.LessOrEqual(t, p.maxInFlight, int32(1), "no endpoint may have more than one in-flight probe (P1)")
	p.mu.Unlock()
}

func TestSchedulerStartWithNoEndpointsEmitsWarningAndStaysIdle(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM endpoints WHERE enabled = TRUE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "url", "check_interval", "timeout", "expected_status", "severity", "enabled", "tags", "created_at", "updated_at"}))

	p := &countingProber{}
	sched := New(s, p, fakeBus{}, zerolog.Nop())
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	assert.True(t, sched.Running())
	assert.Empty(t, sched.AllStatistics())
}

func TestSchedulerCadenceRespectsCheckInterval(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()
	cols := []string{"id", "name", "url", "check_interval", "timeout", "expected_status", "severity", "enabled", "tags", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT \\* FROM endpoints WHERE enabled = TRUE").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(id, "x", "http://x", 1, 1, 200, "medium", true, "{}", now, now))

	p := &countingProber{}
	sched := New(s, p, fakeBus{}, zerolog.Nop())
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	// check_interval is 1s: the loop fires immediately, then again no sooner
	// than ~1s later. Sleep past two ticks before stopping.
	time.Sleep(2200 * time.Millisecond)
	sched.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	require.GreaterOrEqual(t, len(p.starts), 2)
	for i := 1; i < len(p.starts); i++ {
		gap := p.starts[i].Sub(p.starts[i-1])
		assert.GreaterOrEqual(t, gap, 900*time.Millisecond, "tick gap should track the 1s check interval")
	}
}

func TestSchedulerRestartEndpointSurfacesReloadError(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	cols := []string{"id", "name", "url", "check_interval", "timeout", "expected_status", "severity", "enabled", "tags", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT \\* FROM endpoints WHERE enabled = TRUE").
		WillReturnRows(sqlmock.NewRows(cols))

	p := &countingProber{}
	sched := New(s, p, fakeBus{}, zerolog.Nop())
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	mock.ExpectQuery("SELECT \\* FROM endpoints WHERE id = \\$1").
		WithArgs(id).
		WillReturnError(errBoom)

	err := sched.RestartEndpoint(context.Background(), id)
	assert.Error(t, err)
}
