package flows

import (
	"context"
	"fmt"

	"billingstack/api_collector/internal/provider"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
	"billingstack/pkg/taskflow"
)

// Flow names for payment method provisioning.
const (
	PaymentMethodCreateFlow = "payment_method:create"
	PaymentMethodRetryFlow  = "payment_method:retry"
)

// PaymentMethodEntryCreateTask persists the caller's values in state pending.
func PaymentMethodEntryCreateTask(d Deps) *taskflow.Task {
	return taskflow.MustTask(taskflow.TaskSpec{
		Namespace: EntityPaymentMethod,
		Kind:      "entry",
		Prefix:    "create",
		Requires:  []string{KeyValues},
		Provides:  []string{KeyPaymentMethod},
		RunValue: func(ctx context.Context, in taskflow.Store) (any, error) {
			values, err := taskflow.Value[models.PaymentMethodValues](in, KeyValues)
			if err != nil {
				return nil, err
			}
			values.State = models.StatePending
			pm, err := d.Storage.CreatePaymentMethod(ctx, values)
			if err != nil {
				return nil, err
			}
			d.notify(ctx, StateChange{Entity: EntityPaymentMethod, EntityID: pm.ID, To: pm.State, Reason: "created"})
			return pm, nil
		},
	})
}

// PaymentMethodLoadTask reads an existing payment method by id. It also
// provides the values the prerequirements step works from.
func PaymentMethodLoadTask(d Deps) *taskflow.Task {
	return taskflow.MustTask(taskflow.TaskSpec{
		Namespace: EntityPaymentMethod,
		Kind:      "entry",
		Prefix:    "load",
		Requires:  []string{KeyMethodID},
		Provides:  []string{KeyPaymentMethod, KeyValues},
		Run: func(ctx context.Context, in taskflow.Store) (taskflow.Store, error) {
			id, err := taskflow.Value[string](in, KeyMethodID)
			if err != nil {
				return nil, err
			}
			pm, err := d.Storage.GetPaymentMethod(ctx, id)
			if err != nil {
				return nil, err
			}
			return taskflow.Store{
				KeyPaymentMethod: pm,
				KeyValues: models.PaymentMethodValues{
					Name:             pm.Name,
					Identifier:       pm.Identifier,
					Expires:          pm.Expires,
					Properties:       pm.Properties,
					CustomerID:       pm.CustomerID,
					ProviderConfigID: pm.ProviderConfigID,
					State:            pm.State,
				},
			}, nil
		},
	})
}

// PaymentMethodPrerequirementsTask loads the gateway config the method is for
// and that config's catalog entry.
func PaymentMethodPrerequirementsTask(d Deps) *taskflow.Task {
	return taskflow.MustTask(taskflow.TaskSpec{
		Namespace: EntityPaymentMethod,
		Kind:      "prerequirements",
		Requires:  []string{KeyValues},
		Provides:  []string{KeyGatewayConfig, KeyGatewayProvider},
		Run: func(ctx context.Context, in taskflow.Store) (taskflow.Store, error) {
			values, err := taskflow.Value[models.PaymentMethodValues](in, KeyValues)
			if err != nil {
				return nil, err
			}
			cfg, err := d.Storage.GetPGConfig(ctx, values.ProviderConfigID)
			if err != nil {
				return nil, err
			}
			pgp, err := d.Storage.GetPGProvider(ctx, cfg.ProviderID)
			if err != nil {
				return nil, err
			}
			return taskflow.Store{KeyGatewayConfig: cfg, KeyGatewayProvider: pgp}, nil
		},
	})
}

// PaymentMethodBackendCreateTask registers the method with the gateway. A
// rejected method is written as invalid. A registered method keeps its state
// and gets the gateway's id recorded as its gateway_ref; promotion happens
// once the gateway confirms the method out of band.
func PaymentMethodBackendCreateTask(d Deps) *taskflow.Task {
	return taskflow.MustTask(taskflow.TaskSpec{
		Namespace: EntityPaymentMethod,
		Kind:      "backend",
		Suffix:    "create",
		Requires:  []string{KeyPaymentMethod, KeyGatewayConfig, KeyGatewayProvider},
		Provides:  []string{KeyGatewayMethod},
		RunValue: func(ctx context.Context, in taskflow.Store) (any, error) {
			pm, err := taskflow.Value[*models.PaymentMethod](in, KeyPaymentMethod)
			if err != nil {
				return nil, err
			}
			cfg, err := taskflow.Value[*models.PGConfig](in, KeyGatewayConfig)
			if err != nil {
				return nil, err
			}
			pgp, err := taskflow.Value[*models.PGProvider](in, KeyGatewayProvider)
			if err != nil {
				return nil, err
			}
			log := d.logger().WithFields(logging.Fields{
				"payment_method_id": pm.ID,
				"pg_config_id":      cfg.ID,
				"provider":          pgp.Name,
				"request_id":        requestContext(in).RequestID,
			})

			p, err := d.construct(pgp, *cfg)
			if err != nil {
				log.WithError(err).Error("Failed to construct gateway")
				return nil, err
			}
			ref, err := p.CreatePaymentMethod(ctx, pm.CustomerID, *pm)
			if err != nil {
				if provider.IsBadRequest(err) {
					log.WithError(err).Warn("Payment method rejected by gateway")
					markPaymentMethod(ctx, d, log, pm, models.StateInvalid, "create_rejected")
					return nil, err
				}
				log.WithError(err).Error("Payment method registration failed")
				return nil, err
			}
			if _, err := d.Storage.SetPaymentMethodGatewayRef(ctx, pm.ID, ref.ID); err != nil {
				log.WithError(err).WithField("gateway_method_id", ref.ID).Error("Failed to record gateway reference")
				return nil, fmt.Errorf("record gateway reference for payment method %s: %w", pm.ID, err)
			}

			log.WithFields(logging.Fields{
				"gateway_method_id":     ref.ID,
				"gateway_status":        ref.Status,
				"awaiting_confirmation": true,
			}).Info("Payment method registered with gateway")
			return ref, nil
		},
	})
}

func markPaymentMethod(ctx context.Context, d Deps, log logging.Entry, pm *models.PaymentMethod, to models.State, reason string) {
	if _, err := d.Storage.UpdatePaymentMethodState(ctx, pm.ID, to); err != nil {
		log.WithError(err).Errorf("Failed to mark payment method %s", to)
		return
	}
	d.notify(ctx, StateChange{Entity: EntityPaymentMethod, EntityID: pm.ID, From: pm.State, To: to, Reason: reason})
}

// NewPaymentMethodCreateFlow creates a payment method row and registers it with
// the gateway. The run starts from InitialStore(ctxt, models.PaymentMethodValues).
func NewPaymentMethodCreateFlow(d Deps) *taskflow.Flow {
	f := taskflow.NewFlow(PaymentMethodCreateFlow)
	f.Add(PaymentMethodEntryCreateTask(d))
	f.Add(PaymentMethodPrerequirementsTask(d))
	f.Add(PaymentMethodBackendCreateTask(d))
	return f
}

// NewPaymentMethodRetryFlow registers an existing pending method again. The
// run starts from a store holding KeyMethodID.
func NewPaymentMethodRetryFlow(d Deps) *taskflow.Flow {
	f := taskflow.NewFlow(PaymentMethodRetryFlow)
	f.Add(PaymentMethodLoadTask(d))
	f.Add(PaymentMethodPrerequirementsTask(d))
	f.Add(PaymentMethodBackendCreateTask(d))
	return f
}
