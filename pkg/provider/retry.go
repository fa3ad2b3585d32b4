package provider

import (
	"context"
	"sync"
	"time"

	"github.com/genforge-dev/genforge/pkg/orcherr"
)

// backoffSchedule is the fixed exponential backoff for Transient provider
// failures: up to 2 retries at 1s, then 4s (§5).
var backoffSchedule = []time.Duration{1 * time.Second, 4 * time.Second}

// WithTransientRetry runs op, retrying up to len(backoffSchedule) times when
// op fails with a Transient or RateLimited orcherr.Error, sleeping the fixed
// backoff schedule between attempts. Any other error (or context
// cancellation) returns immediately.
func WithTransientRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !orcherr.Retryable(orcherr.KindOf(lastErr)) {
			return lastErr
		}
		if attempt == len(backoffSchedule) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffSchedule[attempt]):
		}
	}
	return lastErr
}

// WithMalformedOutputRetry runs op once; if it fails with MalformedOutput it
// retries exactly once using retryOp, which should rebuild the request with
// a stricter reminder in the prompt (§5, §4.3 edge cases).
func WithMalformedOutputRetry(op func() error, retryOp func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	if orcherr.KindOf(err) != orcherr.MalformedOutput {
		return err
	}
	return retryOp()
}

// CircuitState mirrors the teacher's three-state circuit breaker, scoped
// here to one breaker per provider backend rather than per coding-agent
// loop: repeated provider failures trip it open so the registry stops
// hammering a backend that is clearly down.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig configures a per-provider breaker.
type CircuitBreakerConfig struct {
	SameErrorThreshold int
	RecoveryTimeout    time.Duration
}

// CircuitBreaker trips open after repeated identical provider errors and
// recovers through a half-open probe, generalizing the teacher's
// pkg/agent.CircuitBreaker (which tracked coding-loop progress) to simple
// provider-call health.
type CircuitBreaker struct {
	mu     sync.Mutex
	cfg    CircuitBreakerConfig
	state  CircuitState
	lastErr string
	errCount int
	openedAt time.Time
}

// NewCircuitBreaker builds a breaker with defaults matching the teacher's
// (5 same errors, 5 minute recovery) when cfg fields are zero.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.SameErrorThreshold == 0 {
		cfg.SameErrorThreshold = 5
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = 5 * time.Minute
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

// Allow reports whether a call may proceed, transitioning Open->HalfOpen
// once the recovery timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(cb.openedAt) >= cb.cfg.RecoveryTimeout {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordResult updates the breaker after a call completes.
func (cb *CircuitBreaker) RecordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == CircuitHalfOpen {
			cb.state = CircuitClosed
		}
		cb.errCount = 0
		cb.lastErr = ""
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.trip()
		return
	}

	msg := err.Error()
	if msg == cb.lastErr {
		cb.errCount++
	} else {
		cb.errCount = 1
		cb.lastErr = msg
	}
	if cb.errCount >= cb.cfg.SameErrorThreshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = CircuitOpen
	cb.openedAt = time.Now()
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.errCount = 0
	cb.lastErr = ""
}

// RateLimiter is a token-bucket limiter for outbound provider calls,
// generalized directly from the teacher's pkg/agent.RateLimiter.
type RateLimiter struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64
	tokens     float64
	lastTime   time.Time
}

// NewRateLimiter builds a limiter allowing perHour calls per hour with burst
// capacity of perHour/10 (minimum 1), matching the teacher's defaults.
func NewRateLimiter(perHour int) *RateLimiter {
	if perHour <= 0 {
		perHour = 100
	}
	capacity := float64(perHour) / 10
	if capacity < 1 {
		capacity = 1
	}
	return &RateLimiter{
		capacity:   capacity,
		refillRate: float64(perHour) / 3600.0,
		tokens:     capacity,
		lastTime:   time.Now(),
	}
}

func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastTime).Seconds()
	if elapsed > 0 {
		rl.tokens += elapsed * rl.refillRate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
		rl.lastTime = now
	}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		deficit := 1 - rl.tokens
		wait := time.Duration(deficit/rl.refillRate*1000) * time.Millisecond
		if wait < time.Second {
			wait = time.Second
		}
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Allow reports whether a call may proceed immediately, consuming a token
// if so.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}
