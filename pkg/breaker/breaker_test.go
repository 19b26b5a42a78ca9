package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	return Settings{
		FailureThreshold: 70,
		MonitoringPeriod: time.Minute,
		MinimumRequests:  3,
	}
}

// testResetFactor/testInterval multiply out to a reset timeout short enough
// for tests to sleep past (50ms), while exercising the same per-endpoint
// factor*checkInterval computation production code uses.
const testResetFactor = 5

var testInterval = 10 * time.Millisecond

func TestRegistryExecuteOpensAfterThresholdFailures(t *testing.T) {
	var transitions []State
	reg := NewRegistry(testSettings(), testResetFactor, func(_ string, _, to State) {
		transitions = append(transitions, to)
	})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := reg.Execute("ep1", testInterval, func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, Open, reg.State("ep1"))
	assert.Equal(t, []State{Open}, transitions)
}

func TestRegistryExecuteRejectsWhileOpen(t *testing.T) {
	reg := NewRegistry(testSettings(), testResetFactor, nil)
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = reg.Execute("ep1", testInterval, func() error { return boom })
	}
	require.Equal(t, Open, reg.State("ep1"))

	called := false
	err := reg.Execute("ep1", testInterval, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpenCircuit)
	assert.False(t, called, "fn must not run while the breaker is open")
}

func TestRegistrySingleFailureDoesNotOpenWhenMinimumRequestsHigher(t *testing.T) {
	reg := NewRegistry(testSettings(), testResetFactor, nil)
	boom := errors.New("boom")

	_ = reg.Execute("ep1", testInterval, func() error { return boom })
	assert.Equal(t, Closed, reg.State("ep1"))
}

func TestRegistryOpensOnSingleFailureWhenMinimumRequestsIsOne(t *testing.T) {
	settings := testSettings()
	settings.MinimumRequests = 1
	reg := NewRegistry(settings, testResetFactor, nil)
	boom := errors.New("boom")

	_ = reg.Execute("ep1", testInterval, func() error { return boom })
	assert.Equal(t, Open, reg.State("ep1"))
}

func TestRegistryHalfOpenRecoversToClosedOnSuccesses(t *testing.T) {
	settings := testSettings()
	reg := NewRegistry(settings, testResetFactor, nil)
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = reg.Execute("ep1", testInterval, func() error { return boom })
	}
	require.Equal(t, Open, reg.State("ep1"))

	resetTimeout := testResetFactor * testInterval
	time.Sleep(resetTimeout + 10*time.Millisecond)

	for i := 0; i < settings.MinimumRequests; i++ {
		err := reg.Execute("ep1", testInterval, func() error { return nil })
		require.NoError(t, err)
	}

	assert.Equal(t, Closed, reg.State("ep1"))
}

func TestRegistryDerivesResetTimeoutFromEachEndpointsOwnCheckInterval(t *testing.T) {
	reg := NewRegistry(testSettings(), 3, nil)
	boom := errors.New("boom")

	fast := 5 * time.Second
	slow := 3600 * time.Second

	for i := 0; i < 3; i++ {
		_ = reg.Execute("fast", fast, func() error { return boom })
		_ = reg.Execute("slow", slow, func() error { return boom })
	}
	require.Equal(t, Open, reg.State("fast"))
	require.Equal(t, Open, reg.State("slow"))

	reg.mu.Lock()
	fastReset := reg.breakers["fast"].settings.ResetTimeout
	slowReset := reg.breakers["slow"].settings.ResetTimeout
	reg.mu.Unlock()

	assert.Equal(t, 15*time.Second, fastReset)
	assert.Equal(t, 10800*time.Second, slowReset)
}

func TestBreakerSlidingWindowExpiresStaleSamples(t *testing.T) {
	settings := testSettings()
	settings.MonitoringPeriod = 20 * time.Millisecond
	b := newBreaker(settings)

	b.RecordFailure("ep1", nil)
	b.RecordFailure("ep1", nil)
	require.Equal(t, Closed, b.State())

	time.Sleep(30 * time.Millisecond)

	b.mu.Lock()
	b.pruneLocked()
	assert.Empty(t, b.window)
	b.mu.Unlock()
}

func TestRegistryRemoveForgetsEndpoint(t *testing.T) {
	reg := NewRegistry(testSettings(), testResetFactor, nil)
	_ = reg.Execute("ep1", testInterval, func() error { return nil })
	reg.Remove("ep1")
	assert.Equal(t, Closed, reg.State("ep1"))
}
