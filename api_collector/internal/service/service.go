// Package service is the collector's application layer. It builds and runs
// the provisioning flows, owns CRUD on the catalog and entities, and exposes
// the admin reconciliation and transaction operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billingstack/api_collector/internal/flows"
	"billingstack/api_collector/internal/provider"
	"billingstack/api_collector/internal/store"
	"billingstack/pkg/cache"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
	"billingstack/pkg/taskflow"
)

var (
	// ErrForbidden is returned when the caller may not perform an operation:
	// a non-admin calling an admin operation, or a tenant acting on another
	// merchant.
	ErrForbidden = errors.New("operation not permitted")
	// ErrInvalidState is returned when an entity is not in a state the
	// operation accepts.
	ErrInvalidState = errors.New("entity is not in a usable state")
	// ErrInvalidArgument is returned for malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Storage is everything the service persists.
type Storage interface {
	flows.Storage
	UpsertPGProvider(ctx context.Context, p models.PGProvider) (*models.PGProvider, error)
	ListPGProviders(ctx context.Context) ([]models.PGProvider, error)
	GetPGProviderByName(ctx context.Context, name string) (*models.PGProvider, error)
	ListPGConfigs(ctx context.Context, merchantID string) ([]models.PGConfig, error)
	DeletePGConfig(ctx context.Context, id string) error
	ListPaymentMethods(ctx context.Context, customerID string) ([]models.PaymentMethod, error)
	DeletePaymentMethod(ctx context.Context, id string) error
	ListPGConfigsByState(ctx context.Context, states []models.State, olderThan time.Time) ([]models.PGConfig, error)
	ListUnregisteredPaymentMethods(ctx context.Context, states []models.State, olderThan time.Time) ([]models.PaymentMethod, error)
}

// Registry is the provider registry as the service sees it.
type Registry interface {
	flows.Resolver
	Factories() []provider.Factory
}

// CatalogTTL is how long catalog reads are served from memory. The flows
// always read the catalog from storage.
const CatalogTTL = 30 * time.Second

// Service wires storage, providers and the flow engine together.
type Service struct {
	storage  Storage
	registry Registry
	engine   *taskflow.Engine
	notifier flows.Notifier
	logger   logging.Logger
	now      func() time.Time

	catalog   *cache.Cache[[]models.PGProvider]
	providers *cache.Cache[*models.PGProvider]
}

func NewService(storage Storage, registry Registry, engine *taskflow.Engine, notifier flows.Notifier, logger logging.Logger) *Service {
	if engine == nil {
		engine = taskflow.NewEngine(taskflow.WithListener(taskflow.NewLogListener(logger)))
	}
	return &Service{
		storage:  storage,
		registry: registry,
		engine:   engine,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,

		catalog:   cache.New[[]models.PGProvider](cache.Options{TTL: CatalogTTL}, cache.Hooks{}),
		providers: cache.New[*models.PGProvider](cache.Options{TTL: CatalogTTL, MaxEntries: 256}, cache.Hooks{}),
	}
}

// SystemContext is the request context used for work the service starts
// itself, such as the catalog sync at startup.
func SystemContext() models.RequestContext {
	return models.RequestContext{UserID: "system", Role: "service", IsAdmin: true}
}

func (s *Service) deps() flows.Deps {
	return flows.Deps{
		Storage:   s.storage,
		Providers: s.registry,
		Notifier:  s.notifier,
		Logger:    s.logger,
	}
}

func (s *Service) notify(ctx context.Context, c flows.StateChange) {
	if s.notifier != nil {
		s.notifier.StateChanged(ctx, c)
	}
}

func requireAdmin(rc models.RequestContext) error {
	if !rc.IsAdmin {
		return fmt.Errorf("%w: admin required", ErrForbidden)
	}
	return nil
}

// tenantScoped reports whether rc is limited to its own merchant.
func tenantScoped(rc models.RequestContext) bool {
	return !rc.IsAdmin && rc.TenantID != ""
}

// CheckMerchant refuses tenant callers acting on another merchant.
func CheckMerchant(rc models.RequestContext, merchantID string) error {
	if tenantScoped(rc) && rc.TenantID != merchantID {
		return fmt.Errorf("%w: merchant %s does not belong to caller", ErrForbidden, merchantID)
	}
	return nil
}

func ownsConfig(rc models.RequestContext, cfg *models.PGConfig) bool {
	return !tenantScoped(rc) || cfg.MerchantID == rc.TenantID
}

// configFor loads a gateway config on behalf of rc. A config of another
// merchant is reported as not found.
func (s *Service) configFor(ctx context.Context, rc models.RequestContext, id string) (*models.PGConfig, error) {
	cfg, err := s.storage.GetPGConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ownsConfig(rc, cfg) {
		return nil, fmt.Errorf("%w: gateway config %s", store.ErrNotFound, id)
	}
	return cfg, nil
}

// gateway builds the provider for cfg through the registry.
func (s *Service) gateway(ctx context.Context, cfg *models.PGConfig) (provider.Provider, error) {
	pgp, err := s.storage.GetPGProvider(ctx, cfg.ProviderID)
	if err != nil {
		return nil, err
	}
	ctor, err := s.registry.Resolve(pgp.Name)
	if err != nil {
		return nil, err
	}
	return ctor(*cfg)
}

func (s *Service) run(ctx context.Context, flow *taskflow.Flow, initial taskflow.Store) (*taskflow.Result, error) {
	res, err := s.engine.Run(ctx, flow, initial)
	if err != nil {
		s.logger.WithFields(logging.Fields{
			"flow":   flow.Name(),
			"run_id": res.RunID,
		}).WithError(err).Warn("Flow failed")
	}
	return res, err
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
