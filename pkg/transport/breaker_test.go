package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/svapna/pkg/config"
)

func TestBreaker_StateMachine(t *testing.T) {
	cfg := &config.CircuitBreakerConfig{FailureThreshold: 2, CooldownMs: 1000, SuccessThreshold: 1}
	b := NewBreaker("p1", cfg)
	require.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	require.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	// Rejected mid-cooldown with the remaining wait in the error.
	time.Sleep(500 * time.Millisecond)
	_, err := b.Allow()
	require.Error(t, err)
	coe, ok := err.(*CircuitOpenError)
	require.True(t, ok)
	assert.Greater(t, coe.Remaining, time.Duration(0))
	assert.LessOrEqual(t, coe.Remaining, 1*time.Second)

	// After the cooldown the first request probes half-open.
	time.Sleep(600 * time.Millisecond)
	done, err := b.Allow()
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, b.State())

	done(true)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cfg := &config.CircuitBreakerConfig{FailureThreshold: 2, CooldownMs: 1000, SuccessThreshold: 1}
	b := NewBreaker("p1", cfg)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not trip the breaker")
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := &config.CircuitBreakerConfig{FailureThreshold: 1, CooldownMs: 50, SuccessThreshold: 2}
	b := NewBreaker("p1", cfg)

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(70 * time.Millisecond)
	done, err := b.Allow()
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, b.State())

	done(false)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenNeedsSuccessThreshold(t *testing.T) {
	cfg := &config.CircuitBreakerConfig{FailureThreshold: 1, CooldownMs: 50, SuccessThreshold: 2}
	b := NewBreaker("p1", cfg)

	b.RecordFailure()
	time.Sleep(70 * time.Millisecond)

	done1, err := b.Allow()
	require.NoError(t, err)
	done1(true)
	require.Equal(t, StateHalfOpen, b.State(), "one success of two must stay half-open")

	done2, err := b.Allow()
	require.NoError(t, err)
	done2(true)
	assert.Equal(t, StateClosed, b.State())
}

func TestRegistry_ReusesBreakerPerProvider(t *testing.T) {
	r := NewRegistry(config.DefaultCircuitBreakerConfig())
	a := r.For("anthropic")
	b := r.For("anthropic")
	c := r.For("other")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestNextDelay(t *testing.T) {
	cfg := &config.RetryConfig{MaxAttempts: 3, BaseMs: 500, CapMs: 30_000, JitterMs: 0}

	assert.Equal(t, 500*time.Millisecond, nextDelay(cfg, 0, 0))
	assert.Equal(t, 1000*time.Millisecond, nextDelay(cfg, 1, 0))
	assert.Equal(t, 2000*time.Millisecond, nextDelay(cfg, 2, 0))
	assert.Equal(t, 30*time.Second, nextDelay(cfg, 20, 0), "delay is capped")

	// A retry-after hint raises the computed delay, never lowers it.
	assert.Equal(t, 5*time.Second, nextDelay(cfg, 0, 5*time.Second))
	assert.Equal(t, 1000*time.Millisecond, nextDelay(cfg, 1, 1*time.Millisecond))
}

func TestNextDelay_JitterBounded(t *testing.T) {
	cfg := &config.RetryConfig{MaxAttempts: 3, BaseMs: 500, CapMs: 30_000, JitterMs: 250}
	for i := 0; i < 50; i++ {
		d := nextDelay(cfg, 0, 0)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 750*time.Millisecond)
	}
}
