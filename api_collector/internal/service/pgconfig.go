package service

import (
	"context"

	"billingstack/api_collector/internal/flows"
	"billingstack/api_collector/internal/store"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
	"billingstack/pkg/taskflow"
)

// CreatePGConfig stores a new gateway config and verifies it with its gateway.
// On success it returns the row re-read after the flow, not the flow's
// gateway_config copy, which still carries the entry-time verifying state.
// Flow errors are returned unchanged; the row may already exist in that case
// and its state tells how far provisioning got.
func (s *Service) CreatePGConfig(ctx context.Context, rc models.RequestContext, values models.PGConfigValues) (*models.PGConfig, error) {
	res, err := s.run(ctx, flows.NewPGConfigCreateFlow(s.deps()), flows.InitialStore(rc, values))
	if err != nil {
		return nil, err
	}
	cfg, err := taskflow.Value[*models.PGConfig](res.Store, flows.KeyGatewayConfig)
	if err != nil {
		return nil, err
	}
	return s.reloadPGConfig(ctx, cfg), nil
}

// reloadPGConfig returns the stored row so callers see the state written by
// the last task. The flow's copy is returned if the read fails.
func (s *Service) reloadPGConfig(ctx context.Context, cfg *models.PGConfig) *models.PGConfig {
	fresh, err := s.storage.GetPGConfig(ctx, cfg.ID)
	if err != nil {
		s.logger.WithError(err).WithField("pg_config_id", cfg.ID).Warn("Failed to reload gateway config")
		return cfg
	}
	return fresh
}

// GetPGConfig returns a merchant's gateway config. A config owned by another
// merchant is reported as not found.
func (s *Service) GetPGConfig(ctx context.Context, merchantID, id string) (*models.PGConfig, error) {
	cfg, err := s.storage.GetPGConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if merchantID != "" && cfg.MerchantID != merchantID {
		return nil, store.ErrNotFound
	}
	return cfg, nil
}

func (s *Service) ListPGConfigs(ctx context.Context, merchantID string) ([]models.PGConfig, error) {
	return s.storage.ListPGConfigs(ctx, merchantID)
}

func (s *Service) DeletePGConfig(ctx context.Context, merchantID, id string) error {
	if _, err := s.GetPGConfig(ctx, merchantID, id); err != nil {
		return err
	}
	if err := s.storage.DeletePGConfig(ctx, id); err != nil {
		return err
	}
	s.logger.WithFields(logging.Fields{
		"pg_config_id": id,
		"merchant_id":  merchantID,
	}).Info("Gateway config deleted")
	return nil
}
