package models

import (
	"fmt"
	"time"
)

// State is the provisioning state shared by gateway configs and payment methods.
type State string

const (
	StatePending   State = "pending"
	StateVerifying State = "verifying"
	StateActive    State = "active"
	StateInvalid   State = "invalid"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateVerifying, StateActive, StateInvalid:
		return true
	}
	return false
}

var allowedTransitions = map[State][]State{
	StatePending:   {StateVerifying, StateActive, StateInvalid},
	StateVerifying: {StateVerifying, StateActive, StateInvalid},
	StateInvalid:   {StateVerifying},
}

// CanTransition reports whether a stored entity may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition is CanTransition returning a descriptive error.
func CheckTransition(from, to State) error {
	if !to.Valid() {
		return fmt.Errorf("unknown state %q", to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("state transition %s -> %s not allowed", from, to)
	}
	return nil
}

// PGMethod is one payment method type a provider supports, e.g. {creditcard, visa}.
type PGMethod struct {
	Type string `json:"type" db:"type"`
	Name string `json:"name" db:"name"`
}

// PGProvider is a catalog entry for a payment gateway implementation.
type PGProvider struct {
	ID               string     `json:"id" db:"id"`
	Name             string     `json:"name" db:"name"`
	Title            string     `json:"title" db:"title"`
	Description      string     `json:"description" db:"description"`
	Methods          []PGMethod `json:"methods"`
	PropertiesSchema JSONB      `json:"properties_schema,omitempty" db:"properties_schema"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// PGConfigValues are the caller supplied fields for a new gateway config.
type PGConfigValues struct {
	Name       string `json:"name"`
	Title      string `json:"title,omitempty"`
	MerchantID string `json:"merchant_id"`
	ProviderID string `json:"provider_id"`
	Properties JSONB  `json:"properties,omitempty"`
	State      State  `json:"state,omitempty"`
}

// PGConfig is a merchant's configured connection to a provider.
type PGConfig struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Title      string    `json:"title,omitempty" db:"title"`
	MerchantID string    `json:"merchant_id" db:"merchant_id"`
	ProviderID string    `json:"provider_id" db:"provider_id"`
	Properties JSONB     `json:"properties,omitempty" db:"properties"`
	State      State     `json:"state" db:"state"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// PaymentMethodValues are the caller supplied fields for a new payment method.
type PaymentMethodValues struct {
	Name             string `json:"name"`
	Identifier       string `json:"identifier"`
	Expires          string `json:"expires,omitempty"`
	Properties       JSONB  `json:"properties,omitempty"`
	CustomerID       string `json:"customer_id"`
	ProviderConfigID string `json:"provider_config_id"`
	State            State  `json:"state,omitempty"`
}

// PaymentMethod is a customer's payment instrument registered with a gateway config.
type PaymentMethod struct {
	ID               string    `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	Identifier       string    `json:"identifier" db:"identifier"`
	Expires          string    `json:"expires,omitempty" db:"expires"`
	Properties       JSONB     `json:"properties,omitempty" db:"properties"`
	CustomerID       string    `json:"customer_id" db:"customer_id"`
	ProviderConfigID string    `json:"provider_config_id" db:"provider_config_id"`
	State            State     `json:"state" db:"state"`
	// GatewayRef is the gateway's id for the method once registration
	// succeeded. Empty means the gateway never accepted it.
	GatewayRef       string    `json:"gateway_ref,omitempty" db:"gateway_ref"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Registered reports whether the gateway accepted the method.
func (pm PaymentMethod) Registered() bool { return pm.GatewayRef != "" }

// RequestContext identifies the caller of a collector operation.
type RequestContext struct {
	UserID    string `json:"user_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Role      string `json:"role,omitempty"`
	IsAdmin   bool   `json:"is_admin"`
	RequestID string `json:"request_id,omitempty"`
}

// SourcesOf returns the states from which an entity may move to "to".
func SourcesOf(to State) []State {
	var out []State
	for _, from := range []State{StatePending, StateVerifying, StateActive, StateInvalid} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
