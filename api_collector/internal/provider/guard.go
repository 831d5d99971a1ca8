package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"billingstack/pkg/clients"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
)

// GuardOptions configures NewGuardDecorator.
type GuardOptions struct {
	Timeout time.Duration
	Breaker clients.CircuitBreakerConfig
	Logger  logging.Logger
	// OnStateChange is called when a config's breaker changes state.
	OnStateChange func(configID string, from, to clients.CircuitBreakerState)
	// Observe is called after every guarded call.
	Observe func(provider, capability string, err error, took time.Duration)
}

// GuardSet keeps one guard per gateway config so breaker state survives
// across requests.
type GuardSet struct {
	opts   GuardOptions
	mu     sync.Mutex
	guards map[string]*clients.Guard
}

// NewGuardSet creates an empty set.
func NewGuardSet(opts GuardOptions) *GuardSet {
	return &GuardSet{opts: opts, guards: map[string]*clients.Guard{}}
}

// For returns the guard for a config, creating it on first use.
func (s *GuardSet) For(cfg models.PGConfig) *clients.Guard {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.guards[cfg.ID]; ok {
		return g
	}
	bc := s.opts.Breaker
	bc.Name = "pgconfig:" + cfg.ID
	bc.Logger = s.opts.Logger
	bc.IsFailure = countsAsFailure
	if s.opts.OnStateChange != nil {
		id := cfg.ID
		bc.OnStateChange = func(_ string, from, to clients.CircuitBreakerState) {
			s.opts.OnStateChange(id, from, to)
		}
	}
	g := clients.NewGuard(clients.GuardConfig{Timeout: s.opts.Timeout, Breaker: bc})
	s.guards[cfg.ID] = g
	return g
}

// Decorator returns a registry decorator wrapping providers in their guard.
func (s *GuardSet) Decorator() Decorator {
	return func(name string, cfg models.PGConfig, p Provider) Provider {
		return &guarded{name: name, inner: p, guard: s.For(cfg), observe: s.opts.Observe}
	}
}

// Errors caused by the caller's input or config do not say anything about the
// gateway's health.
func countsAsFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case IsConfigurationError(err), IsBadRequest(err):
		return false
	}
	return !errors.Is(err, ErrNotSupported) && !errors.Is(err, ErrNotFound)
}

type guarded struct {
	name    string
	inner   Provider
	guard   *clients.Guard
	observe func(provider, capability string, err error, took time.Duration)
}

func (g *guarded) do(ctx context.Context, capability string, fn func(context.Context) error) error {
	start := time.Now()
	err := g.guard.Do(ctx, fn)
	if g.observe != nil {
		g.observe(g.name, capability, err, time.Since(start))
	}
	return err
}

func call[T any](ctx context.Context, g *guarded, capability string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.do(ctx, capability, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

func (g *guarded) VerifyConfig(ctx context.Context) error {
	return g.do(ctx, "verify_config", g.inner.VerifyConfig)
}

func (g *guarded) CreateAccount(ctx context.Context, customerID string) (*Account, error) {
	return call(ctx, g, "create_account", func(ctx context.Context) (*Account, error) { return g.inner.CreateAccount(ctx, customerID) })
}

func (g *guarded) GetAccount(ctx context.Context, customerID string) (*Account, error) {
	return call(ctx, g, "get_account", func(ctx context.Context) (*Account, error) { return g.inner.GetAccount(ctx, customerID) })
}

func (g *guarded) ListAccounts(ctx context.Context) ([]Account, error) {
	return call(ctx, g, "list_accounts", g.inner.ListAccounts)
}

func (g *guarded) DeleteAccount(ctx context.Context, customerID string) error {
	return g.do(ctx, "delete_account", func(ctx context.Context) error { return g.inner.DeleteAccount(ctx, customerID) })
}

func (g *guarded) CreatePaymentMethod(ctx context.Context, customerID string, pm models.PaymentMethod) (*MethodRef, error) {
	return call(ctx, g, "create_payment_method", func(ctx context.Context) (*MethodRef, error) {
		return g.inner.CreatePaymentMethod(ctx, customerID, pm)
	})
}

func (g *guarded) GetPaymentMethod(ctx context.Context, customerID string, pm models.PaymentMethod) (*MethodRef, error) {
	return call(ctx, g, "get_payment_method", func(ctx context.Context) (*MethodRef, error) {
		return g.inner.GetPaymentMethod(ctx, customerID, pm)
	})
}

func (g *guarded) ListPaymentMethods(ctx context.Context, customerID string) ([]MethodRef, error) {
	return call(ctx, g, "list_payment_methods", func(ctx context.Context) ([]MethodRef, error) {
		return g.inner.ListPaymentMethods(ctx, customerID)
	})
}

func (g *guarded) DeletePaymentMethod(ctx context.Context, customerID string, pm models.PaymentMethod) error {
	return g.do(ctx, "delete_payment_method", func(ctx context.Context) error { return g.inner.DeletePaymentMethod(ctx, customerID, pm) })
}

func (g *guarded) CreateTransaction(ctx context.Context, customerID string, pm models.PaymentMethod, charge Charge) (*Transaction, error) {
	return call(ctx, g, "create_transaction", func(ctx context.Context) (*Transaction, error) {
		return g.inner.CreateTransaction(ctx, customerID, pm, charge)
	})
}

func (g *guarded) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return call(ctx, g, "get_transaction", func(ctx context.Context) (*Transaction, error) { return g.inner.GetTransaction(ctx, id) })
}

func (g *guarded) ListTransactions(ctx context.Context, customerID string) ([]Transaction, error) {
	return call(ctx, g, "list_transactions", func(ctx context.Context) ([]Transaction, error) {
		return g.inner.ListTransactions(ctx, customerID)
	})
}

func (g *guarded) SettleTransaction(ctx context.Context, id string) (*Transaction, error) {
	return call(ctx, g, "settle_transaction", func(ctx context.Context) (*Transaction, error) { return g.inner.SettleTransaction(ctx, id) })
}

func (g *guarded) VoidTransaction(ctx context.Context, id string) (*Transaction, error) {
	return call(ctx, g, "void_transaction", func(ctx context.Context) (*Transaction, error) { return g.inner.VoidTransaction(ctx, id) })
}

func (g *guarded) RefundTransaction(ctx context.Context, id string, amount int64) (*Transaction, error) {
	return call(ctx, g, "refund_transaction", func(ctx context.Context) (*Transaction, error) {
		return g.inner.RefundTransaction(ctx, id, amount)
	})
}
