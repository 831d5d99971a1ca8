// Package dummy is an in-memory payment gateway for development and tests.
package dummy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"billingstack/api_collector/internal/provider"
	"billingstack/pkg/models"
)

// Name is the registry name of the dummy provider.
const Name = "dummy"

// DeclinePrefix marks card identifiers the gateway rejects.
const DeclinePrefix = "4000"

// Backend holds gateway state shared by every provider instance. Each gateway
// config gets its own namespace.
type Backend struct {
	mu       sync.Mutex
	now      func() time.Time
	accounts map[string]map[string]provider.Account
	methods  map[string]map[string]provider.MethodRef
	txs      map[string]map[string]*provider.Transaction
}

// NewBackend returns an empty backend.
func NewBackend() *Backend {
	return &Backend{
		now:      time.Now,
		accounts: map[string]map[string]provider.Account{},
		methods:  map[string]map[string]provider.MethodRef{},
		txs:      map[string]map[string]*provider.Transaction{},
	}
}

// Factory returns the registry entry for the dummy gateway backed by b.
func Factory(b *Backend) provider.Factory {
	return provider.Factory{
		Name:        Name,
		Title:       "Dummy gateway",
		Description: "Deterministic in-memory gateway for development",
		Methods: []models.PGMethod{
			{Type: "creditcard", Name: "visa"},
			{Type: "creditcard", Name: "mastercard"},
		},
		Schema: models.JSONB{
			"type":     "object",
			"required": []interface{}{"api_key"},
			"properties": map[string]interface{}{
				"api_key":     map[string]interface{}{"type": "string", "minLength": 1},
				"fail_verify": map[string]interface{}{"type": "boolean"},
			},
		},
		New: func(cfg models.PGConfig) (provider.Provider, error) {
			return &Provider{backend: b, cfg: cfg}, nil
		},
	}
}

// Provider is a dummy gateway bound to one config.
type Provider struct {
	backend *Backend
	cfg     models.PGConfig
}

func (p *Provider) VerifyConfig(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.cfg.Properties.Bool("fail_verify") {
		return &provider.ConfigurationError{Provider: Name, Msg: "credentials rejected"}
	}
	if p.cfg.Properties.String("api_key") == "" {
		return &provider.ConfigurationError{Provider: Name, Msg: "api_key missing"}
	}
	return nil
}

func (p *Provider) ns() string { return p.cfg.ID }

func (p *Provider) CreateAccount(_ context.Context, customerID string) (*provider.Account, error) {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	accts := b.accounts[p.ns()]
	if accts == nil {
		accts = map[string]provider.Account{}
		b.accounts[p.ns()] = accts
	}
	if a, ok := accts[customerID]; ok {
		return &a, nil
	}
	a := provider.Account{ID: "acct_" + uuid.NewString(), CustomerID: customerID}
	accts[customerID] = a
	return &a, nil
}

func (p *Provider) GetAccount(_ context.Context, customerID string) (*provider.Account, error) {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[p.ns()][customerID]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return &a, nil
}

func (p *Provider) ListAccounts(context.Context) ([]provider.Account, error) {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]provider.Account, 0, len(b.accounts[p.ns()]))
	for _, a := range b.accounts[p.ns()] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

func (p *Provider) DeleteAccount(_ context.Context, customerID string) error {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accounts[p.ns()][customerID]; !ok {
		return provider.ErrNotFound
	}
	delete(b.accounts[p.ns()], customerID)
	for id, m := range b.methods[p.ns()] {
		if m.AccountID == customerID {
			delete(b.methods[p.ns()], id)
		}
	}
	return nil
}

func (p *Provider) CreatePaymentMethod(ctx context.Context, customerID string, pm models.PaymentMethod) (*provider.MethodRef, error) {
	if strings.HasPrefix(pm.Identifier, DeclinePrefix) {
		return nil, &provider.BadRequestError{Provider: Name, Msg: fmt.Sprintf("card %s declined", mask(pm.Identifier))}
	}
	if pm.Identifier == "" {
		return nil, &provider.BadRequestError{Provider: Name, Msg: "identifier is required"}
	}
	if _, err := p.CreateAccount(ctx, customerID); err != nil {
		return nil, err
	}

	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	methods := b.methods[p.ns()]
	if methods == nil {
		methods = map[string]provider.MethodRef{}
		b.methods[p.ns()] = methods
	}
	ref := provider.MethodRef{
		ID:         pm.ID,
		AccountID:  customerID,
		Type:       "creditcard",
		Identifier: mask(pm.Identifier),
		Expires:    pm.Expires,
		Status:     "valid",
	}
	methods[pm.ID] = ref
	return &ref, nil
}

func (p *Provider) GetPaymentMethod(_ context.Context, customerID string, pm models.PaymentMethod) (*provider.MethodRef, error) {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	ref, ok := b.methods[p.ns()][pm.ID]
	if !ok || ref.AccountID != customerID {
		return nil, provider.ErrNotFound
	}
	return &ref, nil
}

func (p *Provider) ListPaymentMethods(_ context.Context, customerID string) ([]provider.MethodRef, error) {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []provider.MethodRef
	for _, ref := range b.methods[p.ns()] {
		if ref.AccountID == customerID {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *Provider) DeletePaymentMethod(_ context.Context, customerID string, pm models.PaymentMethod) error {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	ref, ok := b.methods[p.ns()][pm.ID]
	if !ok || ref.AccountID != customerID {
		return provider.ErrNotFound
	}
	delete(b.methods[p.ns()], pm.ID)
	return nil
}

func (p *Provider) CreateTransaction(_ context.Context, customerID string, pm models.PaymentMethod, charge provider.Charge) (*provider.Transaction, error) {
	if charge.Amount <= 0 {
		return nil, &provider.BadRequestError{Provider: Name, Msg: "amount must be positive"}
	}
	if charge.Currency == "" {
		return nil, &provider.BadRequestError{Provider: Name, Msg: "currency is required"}
	}

	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	ref, ok := b.methods[p.ns()][pm.ID]
	if !ok || ref.AccountID != customerID {
		return nil, &provider.BadRequestError{Provider: Name, Msg: "payment method not registered with gateway"}
	}
	txs := b.txs[p.ns()]
	if txs == nil {
		txs = map[string]*provider.Transaction{}
		b.txs[p.ns()] = txs
	}
	tx := &provider.Transaction{
		ID:              "tx_" + uuid.NewString(),
		Amount:          charge.Amount,
		Currency:        strings.ToLower(charge.Currency),
		Status:          provider.TxAuthorized,
		PaymentMethodID: pm.ID,
		CreatedAt:       b.now().UTC(),
	}
	txs[tx.ID] = tx
	out := *tx
	return &out, nil
}

func (p *Provider) GetTransaction(_ context.Context, id string) (*provider.Transaction, error) {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	tx, ok := b.txs[p.ns()][id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	out := *tx
	return &out, nil
}

func (p *Provider) ListTransactions(_ context.Context, customerID string) ([]provider.Transaction, error) {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []provider.Transaction
	for _, tx := range b.txs[p.ns()] {
		if ref, ok := b.methods[p.ns()][tx.PaymentMethodID]; ok && ref.AccountID == customerID {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (p *Provider) SettleTransaction(_ context.Context, id string) (*provider.Transaction, error) {
	return p.move(id, provider.TxAuthorized, provider.TxSettled)
}

func (p *Provider) VoidTransaction(_ context.Context, id string) (*provider.Transaction, error) {
	return p.move(id, provider.TxAuthorized, provider.TxVoided)
}

func (p *Provider) RefundTransaction(_ context.Context, id string, amount int64) (*provider.Transaction, error) {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	tx, ok := b.txs[p.ns()][id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	if tx.Status != provider.TxSettled && tx.Status != provider.TxRefunded {
		return nil, &provider.BadRequestError{Provider: Name, Msg: fmt.Sprintf("cannot refund %s transaction", tx.Status)}
	}
	if amount == 0 {
		amount = tx.Amount - tx.AmountRefunded
	}
	if amount < 0 || tx.AmountRefunded+amount > tx.Amount {
		return nil, &provider.BadRequestError{Provider: Name, Msg: "refund exceeds captured amount"}
	}
	tx.AmountRefunded += amount
	if tx.AmountRefunded == tx.Amount {
		tx.Status = provider.TxRefunded
	}
	out := *tx
	return &out, nil
}

func (p *Provider) move(id, from, to string) (*provider.Transaction, error) {
	b := p.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	tx, ok := b.txs[p.ns()][id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	if tx.Status != from {
		return nil, &provider.BadRequestError{Provider: Name, Msg: fmt.Sprintf("transaction is %s, want %s", tx.Status, from)}
	}
	tx.Status = to
	out := *tx
	return &out, nil
}

func mask(identifier string) string {
	if len(identifier) <= 4 {
		return identifier
	}
	return strings.Repeat("*", len(identifier)-4) + identifier[len(identifier)-4:]
}
