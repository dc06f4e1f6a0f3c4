package transport

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/svapna/pkg/config"
)

// State is the breaker's admission state.
type State string

// State values.
const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half-open"
	StateOpen     State = "open"
)

// Breaker is a per-provider three-state admission controller built on
// gobreaker's two-step state machine: FailureThreshold consecutive failures
// open it, CooldownMs later the first request probes half-open, and
// SuccessThreshold consecutive successes close it again.
type Breaker struct {
	cb       *gobreaker.TwoStepCircuitBreaker
	provider string
	cooldown time.Duration

	mu       sync.Mutex
	openedAt time.Time
}

// NewBreaker builds a closed breaker for one provider id.
func NewBreaker(providerID string, cfg *config.CircuitBreakerConfig) *Breaker {
	b := &Breaker{
		provider: providerID,
		cooldown: time.Duration(cfg.CooldownMs) * time.Millisecond,
	}
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        providerID,
		MaxRequests: uint32(cfg.SuccessThreshold),
		Timeout:     b.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.mu.Lock()
				b.openedAt = time.Now()
				b.mu.Unlock()
			}
		},
	})
	return b
}

// Allow admits or rejects one request. On admission the returned done func
// must be called exactly once with the request's outcome; on rejection it
// returns a *CircuitOpenError carrying the remaining cooldown.
func (b *Breaker) Allow() (done func(success bool), err error) {
	done, gbErr := b.cb.Allow()
	if gbErr != nil {
		return nil, &CircuitOpenError{Provider: b.provider, Remaining: b.remaining()}
	}
	return done, nil
}

// RecordSuccess admits-and-settles one successful request in a single call,
// for callers that don't hold a done func across the operation.
func (b *Breaker) RecordSuccess() {
	if done, err := b.Allow(); err == nil {
		done(true)
	}
}

// RecordFailure is RecordSuccess's failing counterpart.
func (b *Breaker) RecordFailure() {
	if done, err := b.Allow(); err == nil {
		done(false)
	}
}

// State maps gobreaker's state onto the three canonical values.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (b *Breaker) remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	left := b.cooldown - time.Since(b.openedAt)
	if left < 0 {
		left = 0
	}
	return left
}
