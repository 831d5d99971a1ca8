// Package stripe implements the collector provider contract on Stripe.
// Transactions are manual-capture PaymentIntents; payment methods are
// pm_ tokens attached to a Stripe customer.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"

	"billingstack/api_collector/internal/provider"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
)

// Name is the registry name of the Stripe provider.
const Name = "stripe"

const customerKey = "billingstack_customer_id"

// Factory returns the registry entry for Stripe.
func Factory(logger logging.Logger) provider.Factory {
	return provider.Factory{
		Name:        Name,
		Title:       "Stripe",
		Description: "Stripe PaymentIntents with manual capture",
		Methods: []models.PGMethod{
			{Type: "creditcard", Name: "visa"},
			{Type: "creditcard", Name: "mastercard"},
			{Type: "creditcard", Name: "amex"},
			{Type: "sepa_debit", Name: "sepa"},
		},
		Schema: models.JSONB{
			"type":     "object",
			"required": []interface{}{"secret_key"},
			"properties": map[string]interface{}{
				"secret_key": map[string]interface{}{"type": "string", "pattern": "^(sk|rk)_"},
			},
		},
		New: func(cfg models.PGConfig) (provider.Provider, error) {
			return newProvider(cfg, newSDKAPI(cfg.Properties.String("secret_key")), logger), nil
		},
	}
}

// Provider talks to Stripe with the credentials of one gateway config.
type Provider struct {
	api    api
	cfg    models.PGConfig
	logger logging.Logger
}

func newProvider(cfg models.PGConfig, a api, logger logging.Logger) *Provider {
	return &Provider{api: a, cfg: cfg, logger: logger}
}

func (p *Provider) VerifyConfig(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.api.GetBalance(); err != nil {
		return mapError(err)
	}
	p.logger.WithField("pg_config_id", p.cfg.ID).Debug("Stripe credentials verified")
	return nil
}

// customerQuery builds the search query for a customer id. Ids that would
// need quoting in Stripe's query language are rejected.
func customerQuery(customerID string) (string, error) {
	if customerID == "" || strings.ContainsAny(customerID, "'\\\n\r") {
		return "", &provider.BadRequestError{Provider: Name, Msg: fmt.Sprintf("customer id %q cannot be used with Stripe", customerID)}
	}
	return fmt.Sprintf("metadata['%s']:'%s'", customerKey, customerID), nil
}

func (p *Provider) findCustomer(customerID string) (*stripe.Customer, error) {
	query, err := customerQuery(customerID)
	if err != nil {
		return nil, err
	}
	cust, err := p.api.SearchCustomer(query)
	if err != nil {
		return nil, mapError(err)
	}
	if cust == nil {
		return nil, provider.ErrNotFound
	}
	return cust, nil
}

func (p *Provider) CreateAccount(ctx context.Context, customerID string) (*provider.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cust, err := p.findCustomer(customerID)
	if err == nil {
		return toAccount(cust, customerID), nil
	}
	if !errors.Is(err, provider.ErrNotFound) {
		return nil, err
	}

	// Search lags behind writes; the idempotency key returns the first
	// customer to a quick second create.
	params := &stripe.CustomerParams{
		Metadata: map[string]string{customerKey: customerID},
	}
	params.SetIdempotencyKey("customer:" + p.cfg.ID + ":" + customerID)
	cust, err = p.api.NewCustomer(params)
	if err != nil {
		return nil, mapError(err)
	}
	p.logger.WithFields(map[string]interface{}{
		"stripe_customer_id": cust.ID,
		"customer_id":        customerID,
		"pg_config_id":       p.cfg.ID,
	}).Info("Created Stripe customer")
	return toAccount(cust, customerID), nil
}

func (p *Provider) GetAccount(ctx context.Context, customerID string) (*provider.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cust, err := p.findCustomer(customerID)
	if err != nil {
		return nil, err
	}
	return toAccount(cust, customerID), nil
}

func (p *Provider) ListAccounts(ctx context.Context) ([]provider.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	custs, err := p.api.ListCustomers(customerKey)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]provider.Account, 0, len(custs))
	for _, c := range custs {
		out = append(out, *toAccount(c, c.Metadata[customerKey]))
	}
	return out, nil
}

func (p *Provider) DeleteAccount(ctx context.Context, customerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cust, err := p.findCustomer(customerID)
	if err != nil {
		return err
	}
	return mapError(p.api.DeleteCustomer(cust.ID))
}

func (p *Provider) CreatePaymentMethod(ctx context.Context, customerID string, pm models.PaymentMethod) (*provider.MethodRef, error) {
	if !strings.HasPrefix(pm.Identifier, "pm_") {
		return nil, &provider.BadRequestError{Provider: Name, Msg: "identifier must be a Stripe payment method token"}
	}
	acct, err := p.CreateAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}
	spm, err := p.api.AttachPaymentMethod(pm.Identifier, acct.ID)
	if err != nil {
		return nil, mapError(err)
	}
	p.logger.WithFields(map[string]interface{}{
		"payment_method_id": pm.ID,
		"stripe_pm_id":      spm.ID,
		"customer_id":       customerID,
	}).Info("Attached Stripe payment method")
	return toMethodRef(spm, customerID), nil
}

func (p *Provider) GetPaymentMethod(ctx context.Context, customerID string, pm models.PaymentMethod) (*provider.MethodRef, error) {
	acct, err := p.GetAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}
	spm, err := p.api.GetPaymentMethod(pm.Identifier)
	if err != nil {
		return nil, mapError(err)
	}
	if spm.Customer == nil || spm.Customer.ID != acct.ID {
		return nil, provider.ErrNotFound
	}
	return toMethodRef(spm, customerID), nil
}

func (p *Provider) ListPaymentMethods(ctx context.Context, customerID string) ([]provider.MethodRef, error) {
	acct, err := p.GetAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}
	spms, err := p.api.ListPaymentMethods(acct.ID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]provider.MethodRef, 0, len(spms))
	for _, spm := range spms {
		out = append(out, *toMethodRef(spm, customerID))
	}
	return out, nil
}

func (p *Provider) DeletePaymentMethod(ctx context.Context, customerID string, pm models.PaymentMethod) error {
	if _, err := p.GetPaymentMethod(ctx, customerID, pm); err != nil {
		return err
	}
	return mapError(p.api.DetachPaymentMethod(pm.Identifier))
}

func (p *Provider) CreateTransaction(ctx context.Context, customerID string, pm models.PaymentMethod, charge provider.Charge) (*provider.Transaction, error) {
	acct, err := p.GetAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(charge.Amount),
		Currency:      stripe.String(strings.ToLower(charge.Currency)),
		Customer:      stripe.String(acct.ID),
		PaymentMethod: stripe.String(pm.Identifier),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Metadata: map[string]string{
			customerKey:         customerID,
			"payment_method_id": pm.ID,
			"pg_config_id":      p.cfg.ID,
		},
	}
	if charge.Description != "" {
		params.Description = stripe.String(charge.Description)
	}
	pi, err := p.api.NewPaymentIntent(params)
	if err != nil {
		return nil, mapError(err)
	}
	return toTransaction(pi), nil
}

func (p *Provider) GetTransaction(ctx context.Context, id string) (*provider.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pi, err := p.api.GetPaymentIntent(id)
	if err != nil {
		return nil, mapError(err)
	}
	return toTransaction(pi), nil
}

func (p *Provider) ListTransactions(ctx context.Context, customerID string) ([]provider.Transaction, error) {
	acct, err := p.GetAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}
	pis, err := p.api.ListPaymentIntents(acct.ID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]provider.Transaction, 0, len(pis))
	for _, pi := range pis {
		out = append(out, *toTransaction(pi))
	}
	return out, nil
}

func (p *Provider) SettleTransaction(ctx context.Context, id string) (*provider.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pi, err := p.api.CapturePaymentIntent(id)
	if err != nil {
		return nil, mapError(err)
	}
	return toTransaction(pi), nil
}

func (p *Provider) VoidTransaction(ctx context.Context, id string) (*provider.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pi, err := p.api.CancelPaymentIntent(id)
	if err != nil {
		return nil, mapError(err)
	}
	return toTransaction(pi), nil
}

func (p *Provider) RefundTransaction(ctx context.Context, id string, amount int64) (*provider.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	refund, err := p.api.NewRefund(id, amount)
	if err != nil {
		return nil, mapError(err)
	}
	pi, err := p.api.GetPaymentIntent(id)
	if err != nil {
		return nil, mapError(err)
	}
	tx := toTransaction(pi)
	tx.AmountRefunded = refund.Amount
	if refund.Amount >= pi.AmountReceived {
		tx.Status = provider.TxRefunded
	}
	return tx, nil
}

func toAccount(c *stripe.Customer, customerID string) *provider.Account {
	return &provider.Account{ID: c.ID, CustomerID: customerID, Name: c.Name, Email: c.Email}
}

func toMethodRef(spm *stripe.PaymentMethod, customerID string) *provider.MethodRef {
	ref := &provider.MethodRef{ID: spm.ID, AccountID: customerID, Type: string(spm.Type), Status: "valid"}
	if spm.Card != nil {
		ref.Identifier = "****" + spm.Card.Last4
		ref.Expires = fmt.Sprintf("%02d/%02d", spm.Card.ExpMonth, spm.Card.ExpYear%100)
	}
	return ref
}

func toTransaction(pi *stripe.PaymentIntent) *provider.Transaction {
	tx := &provider.Transaction{
		ID:              pi.ID,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
		Status:          txStatus(pi.Status),
		PaymentMethodID: pi.Metadata["payment_method_id"],
		CreatedAt:       time.Unix(pi.Created, 0).UTC(),
	}
	return tx
}

func txStatus(s stripe.PaymentIntentStatus) string {
	switch s {
	case stripe.PaymentIntentStatusRequiresCapture:
		return provider.TxAuthorized
	case stripe.PaymentIntentStatusSucceeded:
		return provider.TxSettled
	case stripe.PaymentIntentStatusCanceled:
		return provider.TxVoided
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return provider.TxFailed
	}
	return provider.TxPending
}

// mapError sorts Stripe API errors into the provider error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized, se.HTTPStatusCode == http.StatusForbidden:
		return &provider.ConfigurationError{Provider: Name, Msg: se.Msg, Err: err}
	case se.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", provider.ErrNotFound, se.Msg)
	case se.Type == stripe.ErrorTypeCard,
		se.HTTPStatusCode == http.StatusBadRequest,
		se.HTTPStatusCode == http.StatusPaymentRequired:
		return &provider.BadRequestError{Provider: Name, Msg: se.Msg, Err: err}
	}
	return err
}
