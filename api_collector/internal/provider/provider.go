// Package provider defines the payment gateway capability contract, the
// registry that maps provider names to constructors, and the error kinds the
// provisioning flows react to.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"billingstack/pkg/models"
)

// Provider is a payment gateway bound to one gateway configuration.
type Provider interface {
	// VerifyConfig checks that the configuration can talk to the gateway.
	VerifyConfig(ctx context.Context) error

	CreateAccount(ctx context.Context, customerID string) (*Account, error)
	GetAccount(ctx context.Context, customerID string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	DeleteAccount(ctx context.Context, customerID string) error

	CreatePaymentMethod(ctx context.Context, customerID string, pm models.PaymentMethod) (*MethodRef, error)
	GetPaymentMethod(ctx context.Context, customerID string, pm models.PaymentMethod) (*MethodRef, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]MethodRef, error)
	DeletePaymentMethod(ctx context.Context, customerID string, pm models.PaymentMethod) error

	CreateTransaction(ctx context.Context, customerID string, pm models.PaymentMethod, charge Charge) (*Transaction, error)
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ListTransactions(ctx context.Context, customerID string) ([]Transaction, error)
	SettleTransaction(ctx context.Context, id string) (*Transaction, error)
	VoidTransaction(ctx context.Context, id string) (*Transaction, error)
	RefundTransaction(ctx context.Context, id string, amount int64) (*Transaction, error)
}

// Account is the gateway side record of a customer.
type Account struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
}

// MethodRef is the gateway side record of a payment method.
type MethodRef struct {
	ID         string `json:"id"`
	AccountID  string `json:"account_id"`
	Type       string `json:"type,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Expires    string `json:"expires,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Charge describes money to move with a payment method. Amount is in minor units.
type Charge struct {
	Amount      int64
	Currency    string
	Description string
}

// Transaction statuses normalized across gateways.
const (
	TxAuthorized = "authorized"
	TxSettled    = "settled"
	TxVoided     = "voided"
	TxRefunded   = "refunded"
	TxPending    = "pending"
	TxFailed     = "failed"
)

// Transaction is a gateway payment.
type Transaction struct {
	ID              string    `json:"id"`
	Amount          int64     `json:"amount"`
	AmountRefunded  int64     `json:"amount_refunded"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	PaymentMethodID string    `json:"payment_method_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

var (
	// ErrNotSupported is returned for capabilities a gateway does not offer.
	ErrNotSupported = errors.New("operation not supported by provider")
	// ErrNotFound is returned when the gateway has no such resource.
	ErrNotFound = errors.New("provider resource not found")
	// ErrUnknownProvider is returned by the registry for unregistered names.
	ErrUnknownProvider = errors.New("provider not registered")
)

// ConfigurationError means the gateway configuration itself is unusable,
// e.g. rejected credentials or properties failing the provider schema.
type ConfigurationError struct {
	Provider string
	Msg      string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: configuration error: %s: %v", e.Provider, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: configuration error: %s", e.Provider, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// BadRequestError means the gateway rejected the input of a call.
type BadRequestError struct {
	Provider string
	Msg      string
	Err      error
}

func (e *BadRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: bad request: %s: %v", e.Provider, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: bad request: %s", e.Provider, e.Msg)
}

func (e *BadRequestError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err carries a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsBadRequest reports whether err carries a *BadRequestError.
func IsBadRequest(err error) bool {
	var be *BadRequestError
	return errors.As(err, &be)
}

// FormatAmount renders minor units as a decimal string with two places.
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ParseAmount is the inverse of FormatAmount. It accepts up to two decimals.
func ParseAmount(s string) (int64, error) {
	neg := strings.HasPrefix(s, "-")
	whole, frac, _ := strings.Cut(strings.TrimPrefix(s, "-"), ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("parse amount %q: too many decimals", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	v := w*100 + f
	if neg {
		v = -v
	}
	return v, nil
}
