package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genforge-dev/genforge/pkg/orcherr"
)

func TestWithTransientRetry_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := WithTransientRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return orcherr.New(orcherr.Transient, "test", "network blip")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithTransientRetry_NonRetryableFailsImmediately(t *testing.T) {
	attempts := 0
	err := WithTransientRetry(context.Background(), func() error {
		attempts++
		return orcherr.New(orcherr.InvalidRequest, "test", "bad input")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithTransientRetry_ExhaustsBudget(t *testing.T) {
	attempts := 0
	err := WithTransientRetry(context.Background(), func() error {
		attempts++
		return orcherr.New(orcherr.Transient, "test", "still down")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts) // 1 initial + 2 retries
}

func TestWithTransientRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithTransientRetry(ctx, func() error {
		return orcherr.New(orcherr.Transient, "test", "down")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithMalformedOutputRetry_RetriesOnceOnMalformed(t *testing.T) {
	retried := false
	err := WithMalformedOutputRetry(
		func() error {
			return orcherr.New(orcherr.MalformedOutput, "test", "bad json")
		},
		func() error {
			retried = true
			return nil
		},
	)

	require.NoError(t, err)
	assert.True(t, retried)
}

func TestWithMalformedOutputRetry_OtherErrorsSkipRetry(t *testing.T) {
	err := WithMalformedOutputRetry(
		func() error {
			return orcherr.New(orcherr.ProviderUnavailable, "test", "down")
		},
		func() error {
			t.Fatal("retryOp should not be called for non-malformed errors")
			return nil
		},
	)

	require.Error(t, err)
}

func TestCircuitBreaker_OpensAfterRepeatedErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{SameErrorThreshold: 3})
	err := errors.New("same error")

	for i := 0; i < 3; i++ {
		cb.RecordResult(err)
	}

	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		SameErrorThreshold: 1,
		RecoveryTimeout:    1 * time.Millisecond,
	})
	cb.RecordResult(errors.New("boom"))
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordResult(nil)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedRecoveryReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		SameErrorThreshold: 1,
		RecoveryTimeout:    1 * time.Millisecond,
	})
	cb.RecordResult(errors.New("boom"))
	time.Sleep(5 * time.Millisecond)
	cb.Allow()

	cb.RecordResult(errors.New("boom again"))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestRateLimiter_AllowsWithinCapacity(t *testing.T) {
	rl := NewRateLimiter(3600) // 1 per second, burst 360
	assert.True(t, rl.Allow())
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(1) // very slow refill
	for rl.Allow() {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
