// Package mollie implements the collector provider contract on Mollie.
// Payment methods are set up with a first payment that yields a mandate;
// transactions are recurring payments charged against that mandate.
package mollie

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/VictorAvelar/mollie-api-go/v4/mollie"

	"billingstack/api_collector/internal/provider"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
)

// Name is the registry name of the Mollie provider.
const Name = "mollie"

const (
	customerKey        = "billingstack_customer_id"
	defaultSetupAmount = "0.01"
	defaultCurrency    = "EUR"
)

// Factory returns the registry entry for Mollie.
func Factory(logger logging.Logger) provider.Factory {
	return provider.Factory{
		Name:        Name,
		Title:       "Mollie",
		Description: "Mollie first-payment mandates with recurring payments",
		Methods: []models.PGMethod{
			{Type: "creditcard", Name: "creditcard"},
			{Type: "bank", Name: "ideal"},
			{Type: "bank", Name: "bancontact"},
			{Type: "directdebit", Name: "sepa"},
		},
		Schema: models.JSONB{
			"type":     "object",
			"required": []interface{}{"api_key", "redirect_url"},
			"properties": map[string]interface{}{
				"api_key":      map[string]interface{}{"type": "string", "pattern": "^(test|live)_"},
				"redirect_url": map[string]interface{}{"type": "string", "minLength": 1},
				"webhook_url":  map[string]interface{}{"type": "string"},
				"currency":     map[string]interface{}{"type": "string", "minLength": 3, "maxLength": 3},
			},
		},
		New: func(cfg models.PGConfig) (provider.Provider, error) {
			a, err := newSDKAPI(cfg.Properties.String("api_key"))
			if err != nil {
				return nil, err
			}
			return newProvider(cfg, a, logger), nil
		},
	}
}

// Provider talks to Mollie with the credentials of one gateway config.
type Provider struct {
	api    api
	cfg    models.PGConfig
	logger logging.Logger
}

func newProvider(cfg models.PGConfig, a api, logger logging.Logger) *Provider {
	return &Provider{api: a, cfg: cfg, logger: logger}
}

func (p *Provider) VerifyConfig(ctx context.Context) error {
	if err := p.api.ListMethods(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

func (p *Provider) currency() string {
	if c := p.cfg.Properties.String("currency"); c != "" {
		return strings.ToUpper(c)
	}
	return defaultCurrency
}

func (p *Provider) findCustomer(ctx context.Context, customerID string) (*mollie.Customer, error) {
	custs, err := p.api.ListCustomers(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	for _, c := range custs {
		if metadataValue(c.Metadata, customerKey) == customerID {
			return c, nil
		}
	}
	return nil, provider.ErrNotFound
}

func (p *Provider) CreateAccount(ctx context.Context, customerID string) (*provider.Account, error) {
	cust, err := p.findCustomer(ctx, customerID)
	if err == nil {
		return toAccount(cust, customerID), nil
	}
	if !errors.Is(err, provider.ErrNotFound) {
		return nil, err
	}
	cust, err = p.api.CreateCustomer(ctx, mollie.CreateCustomer{
		Name:     customerID,
		Locale:   mollie.English,
		Metadata: map[string]interface{}{customerKey: customerID},
	})
	if err != nil {
		return nil, mapError(err)
	}
	p.logger.WithFields(map[string]interface{}{
		"mollie_customer_id": cust.ID,
		"customer_id":        customerID,
		"pg_config_id":       p.cfg.ID,
	}).Info("Created Mollie customer")
	return toAccount(cust, customerID), nil
}

func (p *Provider) GetAccount(ctx context.Context, customerID string) (*provider.Account, error) {
	cust, err := p.findCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return toAccount(cust, customerID), nil
}

func (p *Provider) ListAccounts(ctx context.Context) ([]provider.Account, error) {
	custs, err := p.api.ListCustomers(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	var out []provider.Account
	for _, c := range custs {
		if id := metadataValue(c.Metadata, customerKey); id != "" {
			out = append(out, *toAccount(c, id))
		}
	}
	return out, nil
}

func (p *Provider) DeleteAccount(ctx context.Context, customerID string) error {
	cust, err := p.findCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	return mapError(p.api.DeleteCustomer(ctx, cust.ID))
}

// CreatePaymentMethod starts the first payment that establishes a mandate.
// The mandate becomes valid once the customer completes the checkout.
func (p *Provider) CreatePaymentMethod(ctx context.Context, customerID string, pm models.PaymentMethod) (*provider.MethodRef, error) {
	method := pm.Properties.String("method")
	if method == "" {
		method = "creditcard"
	}
	acct, err := p.CreateAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}
	payment, err := p.api.CreateCustomerPayment(ctx, acct.ID, mollie.CreatePayment{
		Amount:      &mollie.Amount{Value: defaultSetupAmount, Currency: p.currency()},
		Description: "Payment method setup " + pm.Name,
		RedirectURL: p.cfg.Properties.String("redirect_url"),
		WebhookURL:  p.cfg.Properties.String("webhook_url"),
		Method:      []mollie.PaymentMethod{mollie.PaymentMethod(method)},
		Metadata: map[string]interface{}{
			"purpose":           "mandate_setup",
			customerKey:         customerID,
			"payment_method_id": pm.ID,
		},
		CreateRecurrentPaymentFields: mollie.CreateRecurrentPaymentFields{
			SequenceType: mollie.FirstSequence,
		},
	})
	if err != nil {
		return nil, mapError(err)
	}
	p.logger.WithFields(map[string]interface{}{
		"payment_id":        payment.ID,
		"payment_method_id": pm.ID,
		"customer_id":       customerID,
		"method":            method,
	}).Info("Created Mollie first payment")
	return &provider.MethodRef{ID: payment.ID, AccountID: customerID, Type: method, Status: "pending"}, nil
}

func (p *Provider) mandates(ctx context.Context, customerID string) ([]*mollie.Mandate, error) {
	acct, err := p.GetAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}
	ms, err := p.api.ListMandates(ctx, acct.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return ms, nil
}

func (p *Provider) GetPaymentMethod(ctx context.Context, customerID string, pm models.PaymentMethod) (*provider.MethodRef, error) {
	ms, err := p.mandates(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		if m.ID == pm.Identifier {
			return toMethodRef(m, customerID), nil
		}
	}
	return nil, provider.ErrNotFound
}

func (p *Provider) ListPaymentMethods(ctx context.Context, customerID string) ([]provider.MethodRef, error) {
	ms, err := p.mandates(ctx, customerID)
	if err != nil {
		return nil, err
	}
	out := make([]provider.MethodRef, 0, len(ms))
	for _, m := range ms {
		out = append(out, *toMethodRef(m, customerID))
	}
	return out, nil
}

// DeletePaymentMethod is not offered; mandates are revoked in the Mollie dashboard.
func (p *Provider) DeletePaymentMethod(context.Context, string, models.PaymentMethod) error {
	return provider.ErrNotSupported
}

func (p *Provider) CreateTransaction(ctx context.Context, customerID string, pm models.PaymentMethod, charge provider.Charge) (*provider.Transaction, error) {
	acct, err := p.GetAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}
	desc := charge.Description
	if desc == "" {
		desc = "Charge " + pm.Name
	}
	payment, err := p.api.CreateCustomerPayment(ctx, acct.ID, mollie.CreatePayment{
		Amount:      &mollie.Amount{Value: provider.FormatAmount(charge.Amount), Currency: strings.ToUpper(charge.Currency)},
		Description: desc,
		WebhookURL:  p.cfg.Properties.String("webhook_url"),
		Metadata: map[string]interface{}{
			customerKey:         customerID,
			"payment_method_id": pm.ID,
		},
		CreateRecurrentPaymentFields: mollie.CreateRecurrentPaymentFields{
			SequenceType: mollie.RecurringSequence,
		},
	})
	if err != nil {
		return nil, mapError(err)
	}
	return toTransaction(payment), nil
}

func (p *Provider) GetTransaction(ctx context.Context, id string) (*provider.Transaction, error) {
	payment, err := p.api.GetPayment(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return toTransaction(payment), nil
}

func (p *Provider) ListTransactions(ctx context.Context, customerID string) ([]provider.Transaction, error) {
	payments, err := p.api.ListPayments(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	var out []provider.Transaction
	for _, pay := range payments {
		if metadataValue(pay.Metadata, customerKey) == customerID {
			out = append(out, *toTransaction(pay))
		}
	}
	return out, nil
}

// SettleTransaction is not offered; Mollie captures recurring payments itself.
func (p *Provider) SettleTransaction(context.Context, string) (*provider.Transaction, error) {
	return nil, provider.ErrNotSupported
}

func (p *Provider) VoidTransaction(ctx context.Context, id string) (*provider.Transaction, error) {
	payment, err := p.api.CancelPayment(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return toTransaction(payment), nil
}

func (p *Provider) RefundTransaction(context.Context, string, int64) (*provider.Transaction, error) {
	return nil, provider.ErrNotSupported
}

func toAccount(c *mollie.Customer, customerID string) *provider.Account {
	return &provider.Account{ID: c.ID, CustomerID: customerID, Name: c.Name, Email: c.Email}
}

func toMethodRef(m *mollie.Mandate, customerID string) *provider.MethodRef {
	ref := &provider.MethodRef{
		ID:        m.ID,
		AccountID: customerID,
		Type:      string(m.Method),
		Status:    string(m.Status),
	}
	switch {
	case m.Details.CardNumber != "":
		ref.Identifier = m.Details.CardNumber
	case m.Details.ConsumerAccount != "":
		ref.Identifier = m.Details.ConsumerAccount
	}
	return ref
}

func toTransaction(pay *mollie.Payment) *provider.Transaction {
	tx := &provider.Transaction{
		ID:              pay.ID,
		Status:          txStatus(string(pay.Status)),
		PaymentMethodID: metadataValue(pay.Metadata, "payment_method_id"),
	}
	if pay.Amount != nil {
		tx.Amount, _ = provider.ParseAmount(pay.Amount.Value)
		tx.Currency = strings.ToLower(pay.Amount.Currency)
	}
	if pay.AmountRefunded != nil {
		tx.AmountRefunded, _ = provider.ParseAmount(pay.AmountRefunded.Value)
	}
	if pay.CreatedAt != nil {
		tx.CreatedAt = pay.CreatedAt.UTC()
	}
	return tx
}

func txStatus(s string) string {
	switch s {
	case "authorized":
		return provider.TxAuthorized
	case "paid":
		return provider.TxSettled
	case "canceled", "expired":
		return provider.TxVoided
	case "failed":
		return provider.TxFailed
	}
	return provider.TxPending
}

func metadataValue(md interface{}, key string) string {
	m, ok := md.(map[string]interface{})
	if !ok {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

// mapError sorts Mollie API errors into the provider error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var be *mollie.BaseError
	if !errors.As(err, &be) {
		return err
	}
	msg := be.Detail
	if msg == "" {
		msg = be.Title
	}
	switch be.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &provider.ConfigurationError{Provider: Name, Msg: msg, Err: err}
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", provider.ErrNotFound, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &provider.BadRequestError{Provider: Name, Msg: msg, Err: err}
	}
	return err
}
