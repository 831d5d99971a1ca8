// Package store persists gateway providers, gateway configs and payment
// methods. Postgres is the production implementation; Memory backs
// development and tests.
package store

import (
	"errors"
	"fmt"

	"billingstack/pkg/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicate         = errors.New("record already exists")
	ErrReferenced        = errors.New("record is still referenced")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidRecord     = errors.New("invalid record")
)

func invalidTransition(id string, from, to models.State) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, from, to)
}

func checkPGConfigValues(v models.PGConfigValues) error {
	switch {
	case v.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	case v.MerchantID == "":
		return fmt.Errorf("%w: merchant_id is required", ErrInvalidRecord)
	case v.ProviderID == "":
		return fmt.Errorf("%w: provider_id is required", ErrInvalidRecord)
	case v.State != "" && !v.State.Valid():
		return fmt.Errorf("%w: unknown state %q", ErrInvalidRecord, v.State)
	}
	return nil
}

func checkPaymentMethodValues(v models.PaymentMethodValues) error {
	switch {
	case v.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	case v.CustomerID == "":
		return fmt.Errorf("%w: customer_id is required", ErrInvalidRecord)
	case v.ProviderConfigID == "":
		return fmt.Errorf("%w: provider_config_id is required", ErrInvalidRecord)
	case v.State != "" && !v.State.Valid():
		return fmt.Errorf("%w: unknown state %q", ErrInvalidRecord, v.State)
	}
	return nil
}

func stateOrPending(s models.State) models.State {
	if s == "" {
		return models.StatePending
	}
	return s
}

func stateStrings(states []models.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
