package clients

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"billingstack/pkg/logging"
)

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker in logs and metrics
	Name string

	// SuccessThreshold is the number of successes needed in half-open state
	// before closing again. Default: 1
	SuccessThreshold uint32

	// Delay is how long the circuit stays open before half-opening. Default: 15s
	Delay time.Duration

	// FailureRatio trips the circuit once failures/MinRequests reaches it. Default: 0.5
	FailureRatio float64

	// MinRequests is the sliding window size. Default: 10
	MinRequests uint32

	// IsFailure decides which errors count against the circuit. Nil counts every error.
	IsFailure func(error) bool

	Logger logging.Logger

	OnStateChange func(name string, from, to CircuitBreakerState)
}

// DefaultCircuitBreakerConfig returns sensible defaults for the circuit breaker.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             "default",
		SuccessThreshold: 1,
		Delay:            15 * time.Second,
		FailureRatio:     0.5,
		MinRequests:      10,
	}
}

func (cfg CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = "circuit-breaker"
	}
	if cfg.Delay <= 0 {
		cfg.Delay = d.Delay
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = d.FailureRatio
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = d.MinRequests
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = d.SuccessThreshold
	}
	return cfg
}

// CircuitBreaker wraps failsafe-go's circuit breaker.
type CircuitBreaker struct {
	cb   circuitbreaker.CircuitBreaker[any]
	name string
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg = cfg.withDefaults()

	failureThreshold := uint(float64(cfg.MinRequests) * cfg.FailureRatio)
	if failureThreshold < 1 {
		failureThreshold = 1
	}

	builder := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(failureThreshold, uint(cfg.MinRequests)).
		WithDelay(cfg.Delay).
		WithSuccessThreshold(uint(cfg.SuccessThreshold))

	if cfg.IsFailure != nil {
		isFailure := cfg.IsFailure
		builder = builder.HandleIf(func(_ any, err error) bool {
			return err != nil && isFailure(err)
		})
	}

	if cfg.OnStateChange != nil || cfg.Logger != nil {
		builder = builder.OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			from := convertState(event.OldState)
			to := convertState(event.NewState)
			if cfg.Logger != nil {
				cfg.Logger.WithFields(logging.Fields{
					"circuit_breaker": cfg.Name,
					"from_state":      from.String(),
					"to_state":        to.String(),
				}).Warn("circuit breaker state change")
			}
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(cfg.Name, from, to)
			}
		})
	}

	return &CircuitBreaker{cb: builder.Build(), name: cfg.Name}
}

func convertState(state circuitbreaker.State) CircuitBreakerState {
	switch state {
	case circuitbreaker.HalfOpenState:
		return StateHalfOpen
	case circuitbreaker.OpenState:
		return StateOpen
	default:
		return StateClosed
	}
}

// Call executes fn through the circuit breaker.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	_, err := failsafe.With[any](cb.cb).WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		return nil, fn(exec.Context())
	})
	return err
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return convertState(cb.cb.State())
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// IsOpen returns true if the circuit breaker is open
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.cb.IsOpen()
}
