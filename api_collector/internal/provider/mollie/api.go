package mollie

import (
	"context"
	"fmt"

	"github.com/VictorAvelar/mollie-api-go/v4/mollie"
)

// api is the slice of the Mollie SDK the provider uses.
type api interface {
	ListMethods(ctx context.Context) error

	CreateCustomer(ctx context.Context, c mollie.CreateCustomer) (*mollie.Customer, error)
	ListCustomers(ctx context.Context) ([]*mollie.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	CreateCustomerPayment(ctx context.Context, customerID string, p mollie.CreatePayment) (*mollie.Payment, error)
	GetPayment(ctx context.Context, id string) (*mollie.Payment, error)
	ListPayments(ctx context.Context) ([]*mollie.Payment, error)
	CancelPayment(ctx context.Context, id string) (*mollie.Payment, error)

	ListMandates(ctx context.Context, customerID string) ([]*mollie.Mandate, error)
}

type sdkAPI struct {
	client *mollie.Client
}

func newSDKAPI(apiKey string) (*sdkAPI, error) {
	cfg := mollie.NewAPITestingConfig(true)
	if len(apiKey) > 5 && apiKey[:5] == "live_" {
		cfg = mollie.NewAPIConfig(true)
	}
	client, err := mollie.NewClient(nil, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Mollie client: %w", err)
	}
	if err := client.WithAuthenticationValue(apiKey); err != nil {
		return nil, fmt.Errorf("failed to set Mollie API key: %w", err)
	}
	return &sdkAPI{client: client}, nil
}

func (a *sdkAPI) ListMethods(ctx context.Context) error {
	_, _, err := a.client.PaymentMethods.List(ctx, nil)
	return err
}

func (a *sdkAPI) CreateCustomer(ctx context.Context, c mollie.CreateCustomer) (*mollie.Customer, error) {
	_, cust, err := a.client.Customers.Create(ctx, c)
	return cust, err
}

func (a *sdkAPI) ListCustomers(ctx context.Context) ([]*mollie.Customer, error) {
	_, list, err := a.client.Customers.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	return list.Embedded.Customers, nil
}

func (a *sdkAPI) DeleteCustomer(ctx context.Context, id string) error {
	_, err := a.client.Customers.Delete(ctx, id)
	return err
}

func (a *sdkAPI) CreateCustomerPayment(ctx context.Context, customerID string, p mollie.CreatePayment) (*mollie.Payment, error) {
	_, payment, err := a.client.Customers.CreatePayment(ctx, customerID, p)
	return payment, err
}

func (a *sdkAPI) GetPayment(ctx context.Context, id string) (*mollie.Payment, error) {
	_, payment, err := a.client.Payments.Get(ctx, id, nil)
	return payment, err
}

func (a *sdkAPI) ListPayments(ctx context.Context) ([]*mollie.Payment, error) {
	_, list, err := a.client.Payments.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	return list.Embedded.Payments, nil
}

func (a *sdkAPI) CancelPayment(ctx context.Context, id string) (*mollie.Payment, error) {
	_, payment, err := a.client.Payments.Cancel(ctx, id)
	return payment, err
}

func (a *sdkAPI) ListMandates(ctx context.Context, customerID string) ([]*mollie.Mandate, error) {
	_, list, err := a.client.Mandates.List(ctx, customerID, nil)
	if err != nil {
		return nil, err
	}
	return list.Embedded.Mandates, nil
}
