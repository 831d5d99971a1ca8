package service

import (
	"context"
	"fmt"
	"time"

	"billingstack/api_collector/internal/flows"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
	"billingstack/pkg/taskflow"
)

// States an entity can be stuck in after a partial failure. A payment method
// the gateway accepted is awaiting confirmation, not stuck.
var (
	StuckPGConfigStates      = []models.State{models.StatePending, models.StateVerifying}
	StuckPaymentMethodStates = []models.State{models.StatePending}
)

// Stuck lists entities that have not left a non-terminal state.
type Stuck struct {
	PGConfigs      []models.PGConfig
	PaymentMethods []models.PaymentMethod
}

// FindStuck returns entities whose last state write is older than olderThan.
func (s *Service) FindStuck(ctx context.Context, olderThan time.Duration) (*Stuck, error) {
	cutoff := s.now().Add(-olderThan)
	cfgs, err := s.storage.ListPGConfigsByState(ctx, StuckPGConfigStates, cutoff)
	if err != nil {
		return nil, err
	}
	pms, err := s.storage.ListUnregisteredPaymentMethods(ctx, StuckPaymentMethodStates, cutoff)
	if err != nil {
		return nil, err
	}
	return &Stuck{PGConfigs: cfgs, PaymentMethods: pms}, nil
}

// ListStuck is FindStuck for admins.
func (s *Service) ListStuck(ctx context.Context, rc models.RequestContext, olderThan time.Duration) (*Stuck, error) {
	if err := requireAdmin(rc); err != nil {
		return nil, err
	}
	if olderThan < 0 {
		return nil, invalidArgument("older_than must not be negative")
	}
	return s.FindStuck(ctx, olderThan)
}

// RetryPGConfig moves a verifying or invalid config back to verifying and
// runs verification again.
func (s *Service) RetryPGConfig(ctx context.Context, rc models.RequestContext, id string) (*models.PGConfig, error) {
	if err := requireAdmin(rc); err != nil {
		return nil, err
	}
	cfg, err := s.storage.GetPGConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg.State != models.StateVerifying && cfg.State != models.StateInvalid {
		return nil, fmt.Errorf("%w: gateway config %s is %s", ErrInvalidState, id, cfg.State)
	}
	if _, err := s.storage.UpdatePGConfigState(ctx, id, models.StateVerifying); err != nil {
		return nil, err
	}
	s.notify(ctx, flows.StateChange{Entity: flows.EntityPGConfig, EntityID: id, From: cfg.State, To: models.StateVerifying, Reason: "retry"})
	s.audit(rc, flows.EntityPGConfig, id, "retry")

	initial := taskflow.Store{taskflow.CtxtKey: rc, flows.KeyConfigID: id}
	if _, err := s.run(ctx, flows.NewPGConfigRetryFlow(s.deps()), initial); err != nil {
		return nil, err
	}
	return s.storage.GetPGConfig(ctx, id)
}

// CancelPGConfig gives up on a pending or verifying config.
func (s *Service) CancelPGConfig(ctx context.Context, rc models.RequestContext, id string) (*models.PGConfig, error) {
	if err := requireAdmin(rc); err != nil {
		return nil, err
	}
	before, err := s.storage.GetPGConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := s.storage.UpdatePGConfigState(ctx, id, models.StateInvalid)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, flows.StateChange{Entity: flows.EntityPGConfig, EntityID: id, From: before.State, To: models.StateInvalid, Reason: "cancelled"})
	s.audit(rc, flows.EntityPGConfig, id, "cancel")
	return cfg, nil
}

// RetryPaymentMethod registers a pending payment method with its gateway
// again. A method the gateway already accepted is refused.
func (s *Service) RetryPaymentMethod(ctx context.Context, rc models.RequestContext, id string) (*models.PaymentMethod, error) {
	if err := requireAdmin(rc); err != nil {
		return nil, err
	}
	pm, err := s.storage.GetPaymentMethod(ctx, id)
	if err != nil {
		return nil, err
	}
	if pm.State != models.StatePending {
		return nil, fmt.Errorf("%w: payment method %s is %s", ErrInvalidState, id, pm.State)
	}
	if pm.Registered() {
		return nil, fmt.Errorf("%w: payment method %s is registered as %s and awaits confirmation", ErrInvalidState, id, pm.GatewayRef)
	}
	s.audit(rc, flows.EntityPaymentMethod, id, "retry")

	initial := taskflow.Store{taskflow.CtxtKey: rc, flows.KeyMethodID: id}
	if _, err := s.run(ctx, flows.NewPaymentMethodRetryFlow(s.deps()), initial); err != nil {
		return nil, err
	}
	return s.storage.GetPaymentMethod(ctx, id)
}

// CancelPaymentMethod gives up on a pending payment method.
func (s *Service) CancelPaymentMethod(ctx context.Context, rc models.RequestContext, id string) (*models.PaymentMethod, error) {
	if err := requireAdmin(rc); err != nil {
		return nil, err
	}
	before, err := s.storage.GetPaymentMethod(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.State != models.StatePending {
		return nil, fmt.Errorf("%w: payment method %s is %s", ErrInvalidState, id, before.State)
	}
	pm, err := s.storage.UpdatePaymentMethodState(ctx, id, models.StateInvalid)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, flows.StateChange{Entity: flows.EntityPaymentMethod, EntityID: id, From: before.State, To: models.StateInvalid, Reason: "cancelled"})
	s.audit(rc, flows.EntityPaymentMethod, id, "cancel")
	return pm, nil
}

func (s *Service) audit(rc models.RequestContext, entity, id, action string) {
	s.logger.WithFields(logging.Fields{
		"entity":     entity,
		"entity_id":  id,
		"action":     action,
		"user_id":    rc.UserID,
		"request_id": rc.RequestID,
	}).Info("Admin reconciliation")
}
