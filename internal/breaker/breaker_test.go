package breaker

import (
	"testing"
	"time"

	"main/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionTime(hour, minute int) time.Time {
	return time.Date(2025, 9, 15, hour, minute, 0, 0, time.UTC)
}

func TestWindowEvictionKeepsCountsExact(t *testing.T) {
	w := NewWindow(3)
	w.Record(true)
	w.Record(true)
	w.Record(false)
	if w.Failures() != 2 {
		t.Fatalf("failures = %d, want 2", w.Failures())
	}
	if w.Consecutive() != 0 {
		t.Fatalf("consecutive = %d, want 0", w.Consecutive())
	}

	// evicts the first failure
	w.Record(false)
	if w.Failures() != 1 {
		t.Fatalf("failures after eviction = %d, want 1", w.Failures())
	}

	w.Record(true)
	w.Record(true)
	if w.Failures() != 2 {
		t.Fatalf("failures = %d, want 2", w.Failures())
	}
	if w.Consecutive() != 2 {
		t.Fatalf("consecutive = %d, want 2", w.Consecutive())
	}
}

func TestLongFailureRunCapsCountersAtWindowSize(t *testing.T) {
	w := NewWindow(3)
	for i := 0; i < 7; i++ {
		w.Record(true)
	}
	if w.Failures() != 3 {
		t.Fatalf("failures capped at window = %d, want 3", w.Failures())
	}
	if w.Consecutive() != 3 {
		t.Fatalf("consecutive capped at window = %d, want 3", w.Consecutive())
	}

	w.Record(false)
	if w.Consecutive() != 0 {
		t.Fatalf("consecutive after success = %d, want 0", w.Consecutive())
	}

	big := NewWindow(10)
	for i := 0; i < 25; i++ {
		big.Record(true)
	}
	if big.Consecutive() != 10 {
		t.Fatalf("consecutive = %d, want 10", big.Consecutive())
	}
}

func TestConsecutiveFailuresOpenBreaker(t *testing.T) {
	b := New(DefaultConfig())
	now := sessionTime(10, 0)

	b.RecordFailure(now)
	b.RecordFailure(now)
	require.NoError(t, b.Allow(now), "two failures must not trip")

	b.RecordFailure(now)
	err := b.Allow(now)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrBreakerOpen)
}

func TestInterleavedWindowFailuresOpenBreaker(t *testing.T) {
	// W=10, Ws=5: fail/pass alternation keeps the consecutive run at 1 the
	// whole time, so only the window threshold can fire.
	b := New(DefaultConfig())
	now := sessionTime(10, 0)

	for i := 0; i < 4; i++ {
		b.RecordFailure(now)
		require.NoError(t, b.Allow(now), "after %d interleaved failures", i+1)
		b.RecordSuccess(now)
	}
	b.RecordFailure(now) // 5th failure within the last 9 outcomes

	err := b.Allow(now)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrBreakerOpen)
	assert.Equal(t, StateOpen, b.State())
}

func TestCooldownClosesAndResetsCounters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 5 * time.Minute
	b := New(cfg)
	now := sessionTime(10, 0)

	for i := 0; i < 3; i++ {
		b.RecordFailure(now)
	}
	require.ErrorIs(t, b.Allow(now), exception.ErrBreakerOpen)
	require.ErrorIs(t, b.Allow(now.Add(4*time.Minute)), exception.ErrBreakerOpen)

	require.NoError(t, b.Allow(now.Add(5*time.Minute)))
	assert.Equal(t, StateClosed, b.State())

	// counters were reset with the close: two more failures must not trip
	b.RecordFailure(now.Add(6 * time.Minute))
	b.RecordFailure(now.Add(6 * time.Minute))
	assert.NoError(t, b.Allow(now.Add(6*time.Minute)))
}

func TestThirdTripEscalatesToDailyHalt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = time.Minute
	b := New(cfg)

	now := sessionTime(10, 0)
	for trip := 0; trip < 3; trip++ {
		for i := 0; i < 3; i++ {
			b.RecordFailure(now)
		}
		now = now.Add(2 * time.Minute)
		if trip < 2 {
			require.NoError(t, b.Allow(now), "cooldown should clear trip %d", trip+1)
		}
	}

	err := b.Allow(now)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrBreakerDailyHalt)

	// still halted hours later the same day
	assert.ErrorIs(t, b.Allow(sessionTime(20, 0)), exception.ErrBreakerDailyHalt)

	// cleared at the next calendar day
	assert.NoError(t, b.Allow(sessionTime(10, 0).AddDate(0, 0, 1)))
}

func TestTripInvokesEmergencyCloseHook(t *testing.T) {
	b := New(DefaultConfig())
	var tripped int
	b.OnTrip(func() { tripped++ })

	now := sessionTime(10, 0)
	for i := 0; i < 3; i++ {
		b.RecordFailure(now)
	}
	assert.Equal(t, 1, tripped)
}

func TestCriticalInterventionRequiresOperatorAck(t *testing.T) {
	b := New(DefaultConfig())
	now := sessionTime(10, 0)

	require.ErrorIs(t, b.ConfirmOperatorIntervention("ok"), exception.ErrBreakerNotCritical)

	b.EnterCritical()
	assert.ErrorIs(t, b.Allow(now), exception.ErrBreakerCritical)

	// no cooldown and no day-boundary escape
	assert.ErrorIs(t, b.Allow(now.AddDate(0, 0, 2)), exception.ErrBreakerCritical)

	require.ErrorIs(t, b.ConfirmOperatorIntervention(""), exception.ErrBreakerInvalidAck)
	require.NoError(t, b.ConfirmOperatorIntervention("manually flattened account, ticket 8841"))
	assert.NoError(t, b.Allow(now.AddDate(0, 0, 2)))
}

func TestStandingSurvivesRestart(t *testing.T) {
	cfg := DefaultConfig()
	b := New(cfg)
	now := sessionTime(10, 0)
	for trip := 0; trip < 3; trip++ {
		for i := 0; i < 3; i++ {
			b.RecordFailure(now)
		}
		_ = b.Allow(now.Add(cfg.Cooldown + time.Minute))
		now = now.Add(cfg.Cooldown + 2*time.Minute)
	}
	require.Equal(t, StateDailyHalt, b.State())

	restarted := New(cfg)
	restarted.Restore(b.Standing())
	assert.ErrorIs(t, restarted.Allow(now), exception.ErrBreakerDailyHalt)
	assert.NoError(t, restarted.Allow(now.AddDate(0, 0, 1)))
}
