package clients

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreakerTripsAndRejects(t *testing.T) {
	var changes []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "trip",
		MinRequests:  4,
		FailureRatio: 0.5,
		Delay:        time.Minute,
		OnStateChange: func(_ string, _, to CircuitBreakerState) {
			changes = append(changes, to.String())
		},
	})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_ = cb.Call(ctx, fail)
	}
	if !cb.IsOpen() {
		t.Fatalf("expected open after repeated failures, got %s", cb.State())
	}
	if err := cb.Call(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if len(changes) == 0 || changes[len(changes)-1] != "open" {
		t.Fatalf("expected state change callback, got %v", changes)
	}
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	clientErr := errors.New("rejected input")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "client-errors",
		MinRequests: 2,
		IsFailure:   func(err error) bool { return !errors.Is(err, clientErr) },
	})
	for i := 0; i < 10; i++ {
		if err := cb.Call(context.Background(), func(context.Context) error { return clientErr }); !errors.Is(err, clientErr) {
			t.Fatalf("expected the call's error back, got %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("client errors must not trip the breaker, got %s", cb.State())
	}
}

func TestGuardTimeout(t *testing.T) {
	g := NewGuard(GuardConfig{Timeout: 20 * time.Millisecond, Breaker: CircuitBreakerConfig{Name: "slow"}})
	err := g.Do(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, ErrTimeout) || !IsGuardError(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestGuardPassesThroughErrors(t *testing.T) {
	g := NewGuard(GuardConfig{Timeout: time.Second})
	if err := g.Do(context.Background(), fail); !errors.Is(err, errBoom) || IsGuardError(err) {
		t.Fatalf("expected call error unchanged, got %v", err)
	}
	if err := g.Do(context.Background(), succeed); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}
