package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stripe/stripe-go/v82"

	"billingstack/api_collector/internal/provider"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
)

type fakeAPI struct {
	balanceErr error
	customers  map[string]*stripe.Customer // keyed by billingstack customer id
	methods    map[string]*stripe.PaymentMethod
	intents    map[string]*stripe.PaymentIntent
	attachErr  error
	lastIntent *stripe.PaymentIntentParams

	searches  []string
	byIdemKey map[string]*stripe.Customer
	newCalls  int
	hideNew   bool // simulates search lagging behind customer creation
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		customers: map[string]*stripe.Customer{},
		methods:   map[string]*stripe.PaymentMethod{},
		intents:   map[string]*stripe.PaymentIntent{},
		byIdemKey: map[string]*stripe.Customer{},
	}
}

func (f *fakeAPI) GetBalance() (*stripe.Balance, error) { return &stripe.Balance{}, f.balanceErr }

func (f *fakeAPI) SearchCustomer(query string) (*stripe.Customer, error) {
	f.searches = append(f.searches, query)
	if f.hideNew {
		return nil, nil
	}
	for id, c := range f.customers {
		if query == "metadata['"+customerKey+"']:'"+id+"'" {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeAPI) NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	if params.IdempotencyKey != nil {
		if c, ok := f.byIdemKey[*params.IdempotencyKey]; ok {
			return c, nil
		}
	}
	f.newCalls++
	id := params.Metadata[customerKey]
	c := &stripe.Customer{ID: fmt.Sprintf("cus_%s_%d", id, f.newCalls), Metadata: params.Metadata}
	f.customers[id] = c
	if params.IdempotencyKey != nil {
		f.byIdemKey[*params.IdempotencyKey] = c
	}
	return c, nil
}

func (f *fakeAPI) ListCustomers(string) ([]*stripe.Customer, error) {
	var out []*stripe.Customer
	for _, c := range f.customers {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeAPI) DeleteCustomer(id string) error {
	for k, c := range f.customers {
		if c.ID == id {
			delete(f.customers, k)
		}
	}
	return nil
}

func (f *fakeAPI) AttachPaymentMethod(id, customerID string) (*stripe.PaymentMethod, error) {
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	pm := &stripe.PaymentMethod{
		ID:       id,
		Type:     stripe.PaymentMethodTypeCard,
		Customer: &stripe.Customer{ID: customerID},
		Card:     &stripe.PaymentMethodCard{Last4: "4242", ExpMonth: 4, ExpYear: 2031},
	}
	f.methods[id] = pm
	return pm, nil
}

func (f *fakeAPI) GetPaymentMethod(id string) (*stripe.PaymentMethod, error) {
	pm, ok := f.methods[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing, Msg: "No such PaymentMethod"}
	}
	return pm, nil
}

func (f *fakeAPI) ListPaymentMethods(customerID string) ([]*stripe.PaymentMethod, error) {
	var out []*stripe.PaymentMethod
	for _, pm := range f.methods {
		if pm.Customer != nil && pm.Customer.ID == customerID {
			out = append(out, pm)
		}
	}
	return out, nil
}

func (f *fakeAPI) DetachPaymentMethod(id string) error {
	delete(f.methods, id)
	return nil
}

func (f *fakeAPI) NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.lastIntent = params
	pi := &stripe.PaymentIntent{
		ID:       "pi_1",
		Amount:   *params.Amount,
		Currency: stripe.Currency(*params.Currency),
		Status:   stripe.PaymentIntentStatusRequiresCapture,
		Metadata: params.Metadata,
		Created:  1700000000,
	}
	f.intents[pi.ID] = pi
	return pi, nil
}

func (f *fakeAPI) GetPaymentIntent(id string) (*stripe.PaymentIntent, error) {
	pi, ok := f.intents[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "No such PaymentIntent"}
	}
	return pi, nil
}

func (f *fakeAPI) ListPaymentIntents(string) ([]*stripe.PaymentIntent, error) {
	var out []*stripe.PaymentIntent
	for _, pi := range f.intents {
		out = append(out, pi)
	}
	return out, nil
}

func (f *fakeAPI) CapturePaymentIntent(id string) (*stripe.PaymentIntent, error) {
	pi := f.intents[id]
	pi.Status = stripe.PaymentIntentStatusSucceeded
	pi.AmountReceived = pi.Amount
	return pi, nil
}

func (f *fakeAPI) CancelPaymentIntent(id string) (*stripe.PaymentIntent, error) {
	pi := f.intents[id]
	pi.Status = stripe.PaymentIntentStatusCanceled
	return pi, nil
}

func (f *fakeAPI) NewRefund(id string, amount int64) (*stripe.Refund, error) {
	if amount == 0 {
		amount = f.intents[id].AmountReceived
	}
	return &stripe.Refund{ID: "re_1", Amount: amount}, nil
}

func newTestProvider(a api) *Provider {
	return newProvider(models.PGConfig{ID: "cfg-1"}, a, logging.NewTestLogger())
}

func TestVerifyConfigMapsAuthErrors(t *testing.T) {
	a := newFakeAPI()
	a.balanceErr = &stripe.Error{HTTPStatusCode: http.StatusUnauthorized, Msg: "Invalid API Key provided"}
	err := newTestProvider(a).VerifyConfig(context.Background())
	if !provider.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	a.balanceErr = &stripe.Error{HTTPStatusCode: http.StatusInternalServerError, Msg: "boom"}
	err = newTestProvider(a).VerifyConfig(context.Background())
	if err == nil || provider.IsConfigurationError(err) || provider.IsBadRequest(err) {
		t.Fatalf("expected unexpected error, got %v", err)
	}

	a.balanceErr = nil
	if err := newTestProvider(a).VerifyConfig(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestCreatePaymentMethod(t *testing.T) {
	ctx := context.Background()
	a := newFakeAPI()
	p := newTestProvider(a)

	if _, err := p.CreatePaymentMethod(ctx, "cust-1", models.PaymentMethod{Identifier: "4242"}); !provider.IsBadRequest(err) {
		t.Fatalf("expected bad request for raw card number, got %v", err)
	}

	ref, err := p.CreatePaymentMethod(ctx, "cust-1", models.PaymentMethod{ID: "m1", Identifier: "pm_card_visa"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ref.Identifier != "****4242" || ref.Expires != "04/31" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if _, ok := a.customers["cust-1"]; !ok {
		t.Fatal("customer was not created")
	}

	a.attachErr = &stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Type: stripe.ErrorTypeCard, Msg: "Your card was declined."}
	_, err = p.CreatePaymentMethod(ctx, "cust-1", models.PaymentMethod{ID: "m2", Identifier: "pm_card_chargeDeclined"})
	if !provider.IsBadRequest(err) {
		t.Fatalf("expected bad request for decline, got %v", err)
	}
}

func TestGetPaymentMethodNotFound(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(newFakeAPI())
	if _, err := p.CreateAccount(ctx, "cust-1"); err != nil {
		t.Fatal(err)
	}
	_, err := p.GetPaymentMethod(ctx, "cust-1", models.PaymentMethod{Identifier: "pm_missing"})
	if !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransactionFlow(t *testing.T) {
	ctx := context.Background()
	a := newFakeAPI()
	p := newTestProvider(a)
	pm := models.PaymentMethod{ID: "m1", Identifier: "pm_card_visa"}
	if _, err := p.CreatePaymentMethod(ctx, "cust-1", pm); err != nil {
		t.Fatal(err)
	}

	tx, err := p.CreateTransaction(ctx, "cust-1", pm, provider.Charge{Amount: 999, Currency: "USD"})
	if err != nil {
		t.Fatal(err)
	}
	if tx.Status != provider.TxAuthorized || tx.PaymentMethodID != "m1" || tx.Currency != "usd" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	if *a.lastIntent.CaptureMethod != string(stripe.PaymentIntentCaptureMethodManual) {
		t.Fatalf("expected manual capture, got %s", *a.lastIntent.CaptureMethod)
	}

	if tx, err = p.SettleTransaction(ctx, tx.ID); err != nil || tx.Status != provider.TxSettled {
		t.Fatalf("settle: %+v %v", tx, err)
	}
	if tx, err = p.RefundTransaction(ctx, tx.ID, 0); err != nil || tx.Status != provider.TxRefunded || tx.AmountRefunded != 999 {
		t.Fatalf("refund: %+v %v", tx, err)
	}
	if _, err := p.GetTransaction(ctx, "pi_missing"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMapErrorPassesThroughForeignErrors(t *testing.T) {
	base := errors.New("dial tcp: i/o timeout")
	if got := mapError(base); got != base {
		t.Fatalf("expected original error, got %v", got)
	}
}

func TestCreateAccountRejectsQuotedCustomerIDs(t *testing.T) {
	f := newFakeAPI()
	p := newProvider(models.PGConfig{ID: "cfg-1"}, f, logging.NewTestLogger())

	for _, id := range []string{"", "c1' OR metadata['x']:'y", `c1\`, "c1\nx"} {
		_, err := p.CreateAccount(context.Background(), id)
		if !provider.IsBadRequest(err) {
			t.Fatalf("customer id %q: expected bad request, got %v", id, err)
		}
	}
	if len(f.searches) != 0 || f.newCalls != 0 {
		t.Fatalf("rejected ids must not reach Stripe: searches=%v creates=%d", f.searches, f.newCalls)
	}
}

func TestCreateAccountIsIdempotentWhileSearchLags(t *testing.T) {
	f := newFakeAPI()
	f.hideNew = true
	p := newProvider(models.PGConfig{ID: "cfg-1"}, f, logging.NewTestLogger())

	first, err := p.CreateAccount(context.Background(), "c1")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := p.CreateAccount(context.Background(), "c1")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.ID != second.ID || f.newCalls != 1 {
		t.Fatalf("expected one Stripe customer, got %s and %s after %d creates", first.ID, second.ID, f.newCalls)
	}
	if f.searches[0] != "metadata['"+customerKey+"']:'c1'" {
		t.Fatalf("unexpected search query %q", f.searches[0])
	}
}
