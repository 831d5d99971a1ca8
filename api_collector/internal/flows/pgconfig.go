package flows

import (
	"context"
	"fmt"

	"billingstack/api_collector/internal/provider"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
	"billingstack/pkg/taskflow"
)

// Flow names for gateway config provisioning.
const (
	PGConfigCreateFlow = "pg_config:create"
	PGConfigRetryFlow  = "pg_config:retry"
	PGConfigVerifyFlow = "pg_config:verify"
)

// PGConfigEntryCreateTask persists the caller's values in state verifying.
func PGConfigEntryCreateTask(d Deps) *taskflow.Task {
	return taskflow.MustTask(taskflow.TaskSpec{
		Namespace: EntityPGConfig,
		Kind:      "entry",
		Prefix:    "create",
		Requires:  []string{KeyValues},
		Provides:  []string{KeyGatewayConfig},
		RunValue: func(ctx context.Context, in taskflow.Store) (any, error) {
			values, err := taskflow.Value[models.PGConfigValues](in, KeyValues)
			if err != nil {
				return nil, err
			}
			values.State = models.StateVerifying
			cfg, err := d.Storage.CreatePGConfig(ctx, values)
			if err != nil {
				return nil, err
			}
			d.notify(ctx, StateChange{Entity: EntityPGConfig, EntityID: cfg.ID, To: cfg.State, Reason: "created"})
			return cfg, nil
		},
	})
}

// PGConfigLoadTask reads an existing config by id.
func PGConfigLoadTask(d Deps) *taskflow.Task {
	return taskflow.MustTask(taskflow.TaskSpec{
		Namespace: EntityPGConfig,
		Kind:      "entry",
		Prefix:    "load",
		Requires:  []string{KeyConfigID},
		Provides:  []string{KeyGatewayConfig},
		RunValue: func(ctx context.Context, in taskflow.Store) (any, error) {
			id, err := taskflow.Value[string](in, KeyConfigID)
			if err != nil {
				return nil, err
			}
			return d.Storage.GetPGConfig(ctx, id)
		},
	})
}

// PGConfigPrerequirementsTask looks up the catalog entry the config points at.
func PGConfigPrerequirementsTask(d Deps) *taskflow.Task {
	return taskflow.MustTask(taskflow.TaskSpec{
		Namespace: EntityPGConfig,
		Kind:      "prerequirements",
		Requires:  []string{KeyGatewayConfig},
		Provides:  []string{KeyGatewayProvider},
		RunValue: func(ctx context.Context, in taskflow.Store) (any, error) {
			cfg, err := taskflow.Value[*models.PGConfig](in, KeyGatewayConfig)
			if err != nil {
				return nil, err
			}
			return d.Storage.GetPGProvider(ctx, cfg.ProviderID)
		},
	})
}

// PGConfigBackendVerifyTask asks the gateway whether the config works and
// records the outcome. Only configuration errors are written as invalid; any
// other failure leaves the row as it is.
func PGConfigBackendVerifyTask(d Deps) *taskflow.Task {
	return taskflow.MustTask(taskflow.TaskSpec{
		Namespace: EntityPGConfig,
		Kind:      "backend",
		Suffix:    "verify",
		Requires:  []string{KeyGatewayConfig, KeyGatewayProvider},
		Run: func(ctx context.Context, in taskflow.Store) (taskflow.Store, error) {
			cfg, err := taskflow.Value[*models.PGConfig](in, KeyGatewayConfig)
			if err != nil {
				return nil, err
			}
			pgp, err := taskflow.Value[*models.PGProvider](in, KeyGatewayProvider)
			if err != nil {
				return nil, err
			}
			log := d.logger().WithFields(logging.Fields{
				"pg_config_id": cfg.ID,
				"provider":     pgp.Name,
				"request_id":   requestContext(in).RequestID,
			})

			p, err := d.construct(pgp, *cfg)
			if err == nil {
				err = p.VerifyConfig(ctx)
			}
			if err != nil {
				if provider.IsConfigurationError(err) {
					log.WithError(err).Warn("Gateway config rejected by provider")
					markPGConfig(ctx, d, log, cfg, models.StateInvalid, "verify_failed")
					return nil, err
				}
				log.WithError(err).Error("Gateway config verification failed")
				return nil, err
			}

			if _, err := d.Storage.UpdatePGConfigState(ctx, cfg.ID, models.StateActive); err != nil {
				return nil, fmt.Errorf("activate gateway config %s: %w", cfg.ID, err)
			}
			d.notify(ctx, StateChange{Entity: EntityPGConfig, EntityID: cfg.ID, From: cfg.State, To: models.StateActive, Reason: "verified"})
			log.Info("Gateway config verified")
			return taskflow.Store{}, nil
		},
	})
}

// markPGConfig writes state best effort; the caller is already returning an
// error of its own.
func markPGConfig(ctx context.Context, d Deps, log logging.Entry, cfg *models.PGConfig, to models.State, reason string) {
	if _, err := d.Storage.UpdatePGConfigState(ctx, cfg.ID, to); err != nil {
		log.WithError(err).Errorf("Failed to mark gateway config %s", to)
		return
	}
	d.notify(ctx, StateChange{Entity: EntityPGConfig, EntityID: cfg.ID, From: cfg.State, To: to, Reason: reason})
}

// NewPGConfigVerifyFlow is prerequirements followed by backend verification.
func NewPGConfigVerifyFlow(d Deps) *taskflow.Flow {
	f := taskflow.NewFlow(PGConfigVerifyFlow)
	f.Add(PGConfigPrerequirementsTask(d))
	f.Add(PGConfigBackendVerifyTask(d))
	return f
}

// NewPGConfigCreateFlow creates a config row and verifies it with the gateway.
// The run starts from InitialStore(ctxt, models.PGConfigValues).
func NewPGConfigCreateFlow(d Deps) *taskflow.Flow {
	f := taskflow.NewFlow(PGConfigCreateFlow)
	f.Add(PGConfigEntryCreateTask(d))
	f.Add(NewPGConfigVerifyFlow(d))
	return f
}

// NewPGConfigRetryFlow re-verifies an existing config. The run starts from a
// store holding KeyConfigID.
func NewPGConfigRetryFlow(d Deps) *taskflow.Flow {
	f := taskflow.NewFlow(PGConfigRetryFlow)
	f.Add(PGConfigLoadTask(d))
	f.Add(NewPGConfigVerifyFlow(d))
	return f
}
