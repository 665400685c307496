package health_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/health"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	var cfg health.Config
	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, health.DefaultFailureThreshold, cfg.CircuitBreaker.GetFailureThreshold())
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.GetOpenDuration())
	assert.Equal(t, health.DefaultHalfOpenProbes, cfg.CircuitBreaker.GetHalfOpenProbes())

	off := false
	cfg.Enabled = &off
	assert.False(t, cfg.IsEnabled())
}

func TestCountsAsFailure(t *testing.T) {
	t.Parallel()

	assert.False(t, health.CountsAsFailure(nil))
	assert.False(t, health.CountsAsFailure(context.Canceled))
	assert.False(t, health.CountsAsFailure(apperr.New(apperr.KindCaptchaRejected, "")))
	assert.False(t, health.CountsAsFailure(apperr.New(apperr.KindRateLimited, "")))
	assert.False(t, health.CountsAsFailure(apperr.New(apperr.KindAuthExpired, "")))
	assert.True(t, health.CountsAsFailure(apperr.New(apperr.KindTransient, "")))
	assert.True(t, health.CountsAsFailure(apperr.New(apperr.KindUpstream, "")))
	assert.True(t, health.CountsAsFailure(errors.New("unclassified")))
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	tracker := health.NewTracker(health.CircuitBreakerConfig{FailureThreshold: 2, OpenDurationMS: 60000}, nil)
	transient := apperr.New(apperr.KindTransient, "timeout")

	for range 2 {
		err := tracker.Do(1, func() error { return transient })
		require.ErrorIs(t, err, apperr.ErrTransient)
	}
	assert.Equal(t, health.StateOpen, tracker.GetState(1))
	assert.True(t, tracker.IsOpen(1))

	called := false
	err := tracker.Do(1, func() error { called = true; return nil })
	require.ErrorIs(t, err, apperr.ErrUnavailable)
	require.ErrorIs(t, err, health.ErrCircuitOpen)
	assert.False(t, called)

	assert.Equal(t, health.StateClosed, tracker.GetState(2), "other accounts are unaffected")
	assert.False(t, tracker.IsOpen(2))
}

func TestCaptchaRejectionsDoNotTrip(t *testing.T) {
	t.Parallel()

	tracker := health.NewTracker(health.CircuitBreakerConfig{FailureThreshold: 1}, nil)
	for range 5 {
		_ = tracker.Do(1, func() error { return apperr.New(apperr.KindCaptchaRejected, "") })
	}
	assert.Equal(t, health.StateClosed, tracker.GetState(1))
}

func TestCircuitHalfOpensAfterTimeout(t *testing.T) {
	t.Parallel()

	tracker := health.NewTracker(health.CircuitBreakerConfig{FailureThreshold: 1, OpenDurationMS: 20}, nil)
	_ = tracker.Do(7, func() error { return apperr.New(apperr.KindUpstream, "502") })
	require.Equal(t, health.StateOpen, tracker.GetState(7))

	require.Eventually(t, func() bool {
		return tracker.GetState(7) == health.StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, tracker.Do(7, func() error { return nil }))
	assert.Equal(t, health.StateClosed, tracker.GetState(7))
}

func TestTrackerForgetAndStates(t *testing.T) {
	t.Parallel()

	tracker := health.NewTracker(health.CircuitBreakerConfig{}, nil)
	a := tracker.GetOrCreateCircuit(3)
	assert.Same(t, a, tracker.GetOrCreateCircuit(3))
	assert.Equal(t, "account:3", a.Name())
	assert.Len(t, tracker.AllStates(), 1)

	tracker.Forget(3)
	assert.Empty(t, tracker.AllStates())
}
