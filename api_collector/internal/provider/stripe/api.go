package stripe

import (
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// api is the slice of the Stripe SDK the provider uses.
type api interface {
	GetBalance() (*stripe.Balance, error)

	SearchCustomer(query string) (*stripe.Customer, error)
	NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error)
	ListCustomers(metadataKey string) ([]*stripe.Customer, error)
	DeleteCustomer(id string) error

	AttachPaymentMethod(id, customerID string) (*stripe.PaymentMethod, error)
	GetPaymentMethod(id string) (*stripe.PaymentMethod, error)
	ListPaymentMethods(customerID string) ([]*stripe.PaymentMethod, error)
	DetachPaymentMethod(id string) error

	NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(id string) (*stripe.PaymentIntent, error)
	ListPaymentIntents(customerID string) ([]*stripe.PaymentIntent, error)
	CapturePaymentIntent(id string) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(id string) (*stripe.PaymentIntent, error)
	NewRefund(paymentIntentID string, amount int64) (*stripe.Refund, error)
}

// sdkAPI binds api to a per-config client so configs never share a key.
type sdkAPI struct {
	sc *client.API
}

func newSDKAPI(secretKey string) *sdkAPI {
	return &sdkAPI{sc: client.New(secretKey, nil)}
}

func (a *sdkAPI) GetBalance() (*stripe.Balance, error) {
	return a.sc.Balance.Get(&stripe.BalanceParams{})
}

func (a *sdkAPI) SearchCustomer(query string) (*stripe.Customer, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = query
	iter := a.sc.Customers.Search(params)
	for iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *sdkAPI) NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return a.sc.Customers.New(params)
}

func (a *sdkAPI) ListCustomers(metadataKey string) ([]*stripe.Customer, error) {
	iter := a.sc.Customers.List(&stripe.CustomerListParams{})
	var out []*stripe.Customer
	for iter.Next() {
		c := iter.Customer()
		if c.Metadata[metadataKey] != "" {
			out = append(out, c)
		}
	}
	return out, iter.Err()
}

func (a *sdkAPI) DeleteCustomer(id string) error {
	_, err := a.sc.Customers.Del(id, nil)
	return err
}

func (a *sdkAPI) AttachPaymentMethod(id, customerID string) (*stripe.PaymentMethod, error) {
	return a.sc.PaymentMethods.Attach(id, &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)})
}

func (a *sdkAPI) GetPaymentMethod(id string) (*stripe.PaymentMethod, error) {
	return a.sc.PaymentMethods.Get(id, nil)
}

func (a *sdkAPI) ListPaymentMethods(customerID string) ([]*stripe.PaymentMethod, error) {
	iter := a.sc.PaymentMethods.List(&stripe.PaymentMethodListParams{Customer: stripe.String(customerID)})
	var out []*stripe.PaymentMethod
	for iter.Next() {
		out = append(out, iter.PaymentMethod())
	}
	return out, iter.Err()
}

func (a *sdkAPI) DetachPaymentMethod(id string) error {
	_, err := a.sc.PaymentMethods.Detach(id, nil)
	return err
}

func (a *sdkAPI) NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return a.sc.PaymentIntents.New(params)
}

func (a *sdkAPI) GetPaymentIntent(id string) (*stripe.PaymentIntent, error) {
	return a.sc.PaymentIntents.Get(id, nil)
}

func (a *sdkAPI) ListPaymentIntents(customerID string) ([]*stripe.PaymentIntent, error) {
	iter := a.sc.PaymentIntents.List(&stripe.PaymentIntentListParams{Customer: stripe.String(customerID)})
	var out []*stripe.PaymentIntent
	for iter.Next() {
		out = append(out, iter.PaymentIntent())
	}
	return out, iter.Err()
}

func (a *sdkAPI) CapturePaymentIntent(id string) (*stripe.PaymentIntent, error) {
	return a.sc.PaymentIntents.Capture(id, nil)
}

func (a *sdkAPI) CancelPaymentIntent(id string) (*stripe.PaymentIntent, error) {
	return a.sc.PaymentIntents.Cancel(id, nil)
}

func (a *sdkAPI) NewRefund(paymentIntentID string, amount int64) (*stripe.Refund, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	return a.sc.Refunds.New(params)
}
