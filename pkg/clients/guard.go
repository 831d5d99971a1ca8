package clients

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/timeout"
)

var (
	// ErrCircuitOpen is returned when a call is rejected by an open breaker.
	ErrCircuitOpen = circuitbreaker.ErrOpen
	// ErrTimeout is returned when a call exceeds the guard's timeout.
	ErrTimeout = timeout.ErrExceeded
)

// Guard runs outbound calls under a timeout inside a circuit breaker. There
// is no retry policy; callers decide whether to try again.
type Guard struct {
	breaker  *CircuitBreaker
	executor failsafe.Executor[any]
}

// GuardConfig configures a Guard. A zero Timeout disables the timeout.
type GuardConfig struct {
	Timeout time.Duration
	Breaker CircuitBreakerConfig
}

func NewGuard(cfg GuardConfig) *Guard {
	breaker := NewCircuitBreaker(cfg.Breaker)
	policies := []failsafe.Policy[any]{breaker.cb}
	if cfg.Timeout > 0 {
		policies = append(policies, timeout.New[any](cfg.Timeout))
	}
	return &Guard{breaker: breaker, executor: failsafe.With[any](policies...)}
}

// Do runs fn. fn receives a context that is canceled when the timeout fires.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := g.executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		return nil, fn(exec.Context())
	})
	return err
}

// Breaker exposes the underlying circuit breaker.
func (g *Guard) Breaker() *CircuitBreaker { return g.breaker }

// IsGuardError reports whether err was produced by the guard itself rather
// than by the guarded call.
func IsGuardError(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTimeout)
}
