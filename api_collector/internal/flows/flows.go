// Package flows holds the provisioning workflows for gateway configs and
// payment methods, built from taskflow tasks that talk to the Storage port and
// the provider registry.
package flows

import (
	"context"

	"billingstack/api_collector/internal/provider"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
	"billingstack/pkg/taskflow"
)

// Store keys shared by the tasks in this package.
const (
	KeyValues          = "values"
	KeyGatewayConfig   = "gateway_config"
	KeyGatewayProvider = "gateway_provider"
	KeyPaymentMethod   = "payment_method"
	KeyGatewayMethod   = "gateway_payment_method"
	KeyConfigID        = "pg_config_id"
	KeyMethodID        = "payment_method_id"
)

// Entity names used in state change notifications.
const (
	EntityPGConfig      = "pg_config"
	EntityPaymentMethod = "payment_method"
)

// Storage is the persistence port the tasks depend on.
type Storage interface {
	CreatePGConfig(ctx context.Context, v models.PGConfigValues) (*models.PGConfig, error)
	GetPGConfig(ctx context.Context, id string) (*models.PGConfig, error)
	UpdatePGConfigState(ctx context.Context, id string, state models.State) (*models.PGConfig, error)
	GetPGProvider(ctx context.Context, id string) (*models.PGProvider, error)
	CreatePaymentMethod(ctx context.Context, v models.PaymentMethodValues) (*models.PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id string) (*models.PaymentMethod, error)
	UpdatePaymentMethodState(ctx context.Context, id string, state models.State) (*models.PaymentMethod, error)
	SetPaymentMethodGatewayRef(ctx context.Context, id, ref string) (*models.PaymentMethod, error)
}

// Resolver maps a provider name to its constructor. *provider.Registry
// satisfies it.
type Resolver interface {
	Resolve(name string) (provider.Constructor, error)
}

// StateChange describes one state write.
type StateChange struct {
	Entity   string
	EntityID string
	From     models.State
	To       models.State
	Reason   string
}

// Notifier is told about every state write the flows perform.
type Notifier interface {
	StateChanged(ctx context.Context, c StateChange)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, c StateChange)

func (f NotifierFunc) StateChanged(ctx context.Context, c StateChange) { f(ctx, c) }

// Deps are handed to every task constructor.
type Deps struct {
	Storage   Storage
	Providers Resolver
	Notifier  Notifier
	Logger    logging.Logger
}

func (d Deps) notify(ctx context.Context, c StateChange) {
	if d.Notifier != nil {
		d.Notifier.StateChanged(ctx, c)
	}
}

func (d Deps) logger() logging.Logger {
	if d.Logger == nil {
		return logging.NewTestLogger()
	}
	return d.Logger
}

// InitialStore builds the store a run starts from.
func InitialStore(rc models.RequestContext, values any) taskflow.Store {
	return taskflow.Store{taskflow.CtxtKey: rc, KeyValues: values}
}

func requestContext(in taskflow.Store) models.RequestContext {
	rc, _ := in[taskflow.CtxtKey].(models.RequestContext)
	return rc
}

// construct resolves a provider by catalog name and builds it for cfg.
func (d Deps) construct(pgp *models.PGProvider, cfg models.PGConfig) (provider.Provider, error) {
	ctor, err := d.Providers.Resolve(pgp.Name)
	if err != nil {
		return nil, err
	}
	return ctor(cfg)
}
