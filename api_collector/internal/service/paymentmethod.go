package service

import (
	"context"
	"errors"

	"billingstack/api_collector/internal/flows"
	"billingstack/api_collector/internal/provider"
	"billingstack/api_collector/internal/store"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
	"billingstack/pkg/taskflow"
)

// CreatePaymentMethod stores a payment method and registers it with the
// gateway of its config. A registered method stays pending until the gateway
// confirms it; the returned row carries the gateway_ref recorded by the flow.
// Tenant callers may only use configs of their own merchant.
func (s *Service) CreatePaymentMethod(ctx context.Context, rc models.RequestContext, values models.PaymentMethodValues) (*models.PaymentMethod, error) {
	if tenantScoped(rc) {
		if _, err := s.configFor(ctx, rc, values.ProviderConfigID); err != nil {
			return nil, err
		}
	}
	res, err := s.run(ctx, flows.NewPaymentMethodCreateFlow(s.deps()), flows.InitialStore(rc, values))
	if err != nil {
		return nil, err
	}
	pm, err := taskflow.Value[*models.PaymentMethod](res.Store, flows.KeyPaymentMethod)
	if err != nil {
		return nil, err
	}
	fresh, err := s.storage.GetPaymentMethod(ctx, pm.ID)
	if err != nil {
		s.logger.WithError(err).WithField("payment_method_id", pm.ID).Warn("Failed to reload payment method")
		return pm, nil
	}
	return fresh, nil
}

// GetPaymentMethod returns a customer's payment method. A method owned by
// another customer, or registered with another merchant's config when rc is
// a tenant caller, is reported as not found.
func (s *Service) GetPaymentMethod(ctx context.Context, rc models.RequestContext, customerID, id string) (*models.PaymentMethod, error) {
	pm, err := s.storage.GetPaymentMethod(ctx, id)
	if err != nil {
		return nil, err
	}
	if customerID != "" && pm.CustomerID != customerID {
		return nil, store.ErrNotFound
	}
	if tenantScoped(rc) {
		if _, err := s.configFor(ctx, rc, pm.ProviderConfigID); err != nil {
			return nil, store.ErrNotFound
		}
	}
	return pm, nil
}

// ListPaymentMethods lists a customer's methods. Tenant callers only see
// methods registered with their own merchant's configs.
func (s *Service) ListPaymentMethods(ctx context.Context, rc models.RequestContext, customerID string) ([]models.PaymentMethod, error) {
	pms, err := s.storage.ListPaymentMethods(ctx, customerID)
	if err != nil || !tenantScoped(rc) {
		return pms, err
	}
	owned := map[string]bool{}
	out := pms[:0]
	for _, pm := range pms {
		ok, seen := owned[pm.ProviderConfigID]
		if !seen {
			cfg, err := s.storage.GetPGConfig(ctx, pm.ProviderConfigID)
			switch {
			case err == nil:
				ok = ownsConfig(rc, cfg)
			case errors.Is(err, store.ErrNotFound):
			default:
				return nil, err
			}
			owned[pm.ProviderConfigID] = ok
		}
		if ok {
			out = append(out, pm)
		}
	}
	return out, nil
}

// DeletePaymentMethod removes the row. The gateway copy is removed best effort
// when the method's config is active.
func (s *Service) DeletePaymentMethod(ctx context.Context, rc models.RequestContext, customerID, id string) error {
	pm, err := s.GetPaymentMethod(ctx, rc, customerID, id)
	if err != nil {
		return err
	}
	log := s.logger.WithFields(logging.Fields{
		"payment_method_id": pm.ID,
		"customer_id":       pm.CustomerID,
	})
	s.detachFromGateway(ctx, log, pm)
	if err := s.storage.DeletePaymentMethod(ctx, id); err != nil {
		return err
	}
	log.Info("Payment method deleted")
	return nil
}

func (s *Service) detachFromGateway(ctx context.Context, log logging.Entry, pm *models.PaymentMethod) {
	cfg, err := s.storage.GetPGConfig(ctx, pm.ProviderConfigID)
	if err != nil || cfg.State != models.StateActive {
		return
	}
	gw, err := s.gateway(ctx, cfg)
	if err == nil {
		err = gw.DeletePaymentMethod(ctx, pm.CustomerID, *pm)
	}
	switch {
	case err == nil:
		log.Debug("Payment method removed from gateway")
	case errors.Is(err, provider.ErrNotSupported), errors.Is(err, provider.ErrNotFound):
	default:
		log.WithError(err).Warn("Failed to remove payment method from gateway")
	}
}
