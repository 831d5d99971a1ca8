package service

import (
	"context"
	"fmt"
	"strings"

	"billingstack/api_collector/internal/provider"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
)

// Charge creates a transaction on the gateway of the payment method's config.
// The config must be active and the method must not be invalid.
func (s *Service) Charge(ctx context.Context, rc models.RequestContext, customerID, paymentMethodID string, charge provider.Charge) (*provider.Transaction, error) {
	if charge.Amount <= 0 {
		return nil, invalidArgument("amount must be positive")
	}
	if len(charge.Currency) != 3 {
		return nil, invalidArgument("currency must be a 3 letter code")
	}
	charge.Currency = strings.ToUpper(charge.Currency)

	pm, err := s.GetPaymentMethod(ctx, rc, customerID, paymentMethodID)
	if err != nil {
		return nil, err
	}
	if pm.State == models.StateInvalid {
		return nil, fmt.Errorf("%w: payment method %s is invalid", ErrInvalidState, pm.ID)
	}
	gw, cfg, err := s.activeGateway(ctx, rc, pm.ProviderConfigID)
	if err != nil {
		return nil, err
	}
	tx, err := gw.CreateTransaction(ctx, pm.CustomerID, *pm, charge)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logging.Fields{
		"transaction_id":    tx.ID,
		"payment_method_id": pm.ID,
		"pg_config_id":      cfg.ID,
		"amount":            provider.FormatAmount(tx.Amount),
		"currency":          tx.Currency,
		"status":            tx.Status,
		"request_id":        rc.RequestID,
	}).Info("Transaction created")
	return tx, nil
}

// GetTransaction reads a transaction from the gateway of configID.
func (s *Service) GetTransaction(ctx context.Context, rc models.RequestContext, configID, txID string) (*provider.Transaction, error) {
	gw, _, err := s.activeGateway(ctx, rc, configID)
	if err != nil {
		return nil, err
	}
	return gw.GetTransaction(ctx, txID)
}

func (s *Service) SettleTransaction(ctx context.Context, rc models.RequestContext, configID, txID string) (*provider.Transaction, error) {
	return s.txAction(ctx, rc, configID, txID, "settle", func(gw provider.Provider) (*provider.Transaction, error) {
		return gw.SettleTransaction(ctx, txID)
	})
}

func (s *Service) VoidTransaction(ctx context.Context, rc models.RequestContext, configID, txID string) (*provider.Transaction, error) {
	return s.txAction(ctx, rc, configID, txID, "void", func(gw provider.Provider) (*provider.Transaction, error) {
		return gw.VoidTransaction(ctx, txID)
	})
}

// RefundTransaction refunds amount, or the remaining amount when amount is 0.
func (s *Service) RefundTransaction(ctx context.Context, rc models.RequestContext, configID, txID string, amount int64) (*provider.Transaction, error) {
	if amount < 0 {
		return nil, invalidArgument("refund amount must not be negative")
	}
	return s.txAction(ctx, rc, configID, txID, "refund", func(gw provider.Provider) (*provider.Transaction, error) {
		return gw.RefundTransaction(ctx, txID, amount)
	})
}

func (s *Service) txAction(ctx context.Context, rc models.RequestContext, configID, txID, action string, fn func(provider.Provider) (*provider.Transaction, error)) (*provider.Transaction, error) {
	gw, _, err := s.activeGateway(ctx, rc, configID)
	if err != nil {
		return nil, err
	}
	tx, err := fn(gw)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logging.Fields{
		"transaction_id": txID,
		"pg_config_id":   configID,
		"action":         action,
		"status":         tx.Status,
		"request_id":     rc.RequestID,
	}).Info("Transaction updated")
	return tx, nil
}

// activeGateway builds the gateway of an active config rc may use.
func (s *Service) activeGateway(ctx context.Context, rc models.RequestContext, configID string) (provider.Provider, *models.PGConfig, error) {
	cfg, err := s.configFor(ctx, rc, configID)
	if err != nil {
		return nil, nil, err
	}
	if cfg.State != models.StateActive {
		return nil, nil, fmt.Errorf("%w: gateway config %s is %s", ErrInvalidState, cfg.ID, cfg.State)
	}
	gw, err := s.gateway(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return gw, cfg, nil
}
