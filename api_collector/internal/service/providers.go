package service

import (
	"context"
	"fmt"

	"billingstack/pkg/logging"
	"billingstack/pkg/models"
)

func (s *Service) ListPGProviders(ctx context.Context) ([]models.PGProvider, error) {
	return s.catalog.Get(ctx, "all", s.storage.ListPGProviders)
}

func (s *Service) GetPGProvider(ctx context.Context, id string) (*models.PGProvider, error) {
	return s.providers.Get(ctx, id, func(ctx context.Context) (*models.PGProvider, error) {
		return s.storage.GetPGProvider(ctx, id)
	})
}

// SyncProviders upserts every registered provider into the catalog and
// returns the resulting catalog.
func (s *Service) SyncProviders(ctx context.Context, rc models.RequestContext) ([]models.PGProvider, error) {
	if err := requireAdmin(rc); err != nil {
		return nil, err
	}
	defer s.catalog.Purge()
	defer s.providers.Purge()
	for _, f := range s.registry.Factories() {
		p, err := s.storage.UpsertPGProvider(ctx, f.Catalog())
		if err != nil {
			return nil, fmt.Errorf("sync provider %s: %w", f.Name, err)
		}
		s.logger.WithFields(logging.Fields{
			"provider":    p.Name,
			"provider_id": p.ID,
			"methods":     len(p.Methods),
		}).Info("Provider catalog entry synced")
	}
	return s.storage.ListPGProviders(ctx)
}
