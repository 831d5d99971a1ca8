package collector

import (
	"time"

	"billingstack/pkg/models"
)

// CreatePGConfigRequest is the body of POST /merchants/:merchant_id/payment-gateway-configs.
type CreatePGConfigRequest struct {
	Name       string       `json:"name" binding:"required"`
	Title      string       `json:"title,omitempty"`
	ProviderID string       `json:"provider_id" binding:"required"`
	Properties models.JSONB `json:"properties,omitempty"`
}

// CreatePaymentMethodRequest is the body of POST /customers/:customer_id/payment-methods.
type CreatePaymentMethodRequest struct {
	Name             string       `json:"name" binding:"required"`
	Identifier       string       `json:"identifier" binding:"required"`
	Expires          string       `json:"expires,omitempty"`
	Properties       models.JSONB `json:"properties,omitempty"`
	ProviderConfigID string       `json:"provider_config_id" binding:"required"`
}

// ChargeRequest creates a transaction against a payment method.
type ChargeRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Currency    string `json:"currency" binding:"required,len=3"`
	Description string `json:"description,omitempty"`
}

// RefundRequest refunds all (Amount 0) or part of a settled transaction.
type RefundRequest struct {
	Amount int64 `json:"amount,omitempty" binding:"gte=0"`
}

// Transaction is a provider-side charge as reported by the gateway.
type Transaction struct {
	ID              string    `json:"id"`
	Amount          int64     `json:"amount"`
	AmountRefunded  int64     `json:"amount_refunded,omitempty"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	PaymentMethodID string    `json:"payment_method_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// StuckResponse lists entities that have not reached a terminal state.
type StuckResponse struct {
	OlderThan      string                 `json:"older_than"`
	PGConfigs      []models.PGConfig      `json:"pg_configs"`
	PaymentMethods []models.PaymentMethod `json:"payment_methods"`
}

// SyncProvidersResponse reports the catalog after a sync.
type SyncProvidersResponse struct {
	Providers []models.PGProvider `json:"providers"`
}
