package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"billingstack/pkg/models"
)

// Memory is an in-process store with the same uniqueness and reference
// rules as Postgres. Records are copied on the way in and out.
type Memory struct {
	mu        sync.RWMutex
	now       func() time.Time
	providers map[string]models.PGProvider
	configs   map[string]models.PGConfig
	methods   map[string]models.PaymentMethod
}

func NewMemory() *Memory {
	return &Memory{
		now:       func() time.Time { return time.Now().UTC() },
		providers: map[string]models.PGProvider{},
		configs:   map[string]models.PGConfig{},
		methods:   map[string]models.PaymentMethod{},
	}
}

// SetClock replaces the time source; used by tests that age records.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Ping(context.Context) error { return nil }

func copyProvider(p models.PGProvider) models.PGProvider {
	p.Methods = append([]models.PGMethod(nil), p.Methods...)
	p.PropertiesSchema = p.PropertiesSchema.Clone()
	return p
}

func copyConfig(c models.PGConfig) models.PGConfig {
	c.Properties = c.Properties.Clone()
	return c
}

func copyMethod(pm models.PaymentMethod) models.PaymentMethod {
	pm.Properties = pm.Properties.Clone()
	return pm
}

func (m *Memory) UpsertPGProvider(_ context.Context, p models.PGProvider) (*models.PGProvider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, existing := range m.providers {
		if existing.Name == p.Name {
			p.ID = id
			p.CreatedAt = existing.CreatedAt
			p.UpdatedAt = now
			m.providers[id] = copyProvider(p)
			out := copyProvider(p)
			return &out, nil
		}
	}
	p.ID = uuid.NewString()
	p.CreatedAt, p.UpdatedAt = now, now
	m.providers[p.ID] = copyProvider(p)
	out := copyProvider(p)
	return &out, nil
}

func (m *Memory) GetPGProvider(_ context.Context, id string) (*models.PGProvider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyProvider(p)
	return &out, nil
}

func (m *Memory) GetPGProviderByName(_ context.Context, name string) (*models.PGProvider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.providers {
		if p.Name == name {
			out := copyProvider(p)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListPGProviders(context.Context) ([]models.PGProvider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.PGProvider, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, copyProvider(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreatePGConfig(_ context.Context, v models.PGConfigValues) (*models.PGConfig, error) {
	if err := checkPGConfigValues(v); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.configs {
		if c.MerchantID == v.MerchantID && c.Name == v.Name {
			return nil, ErrDuplicate
		}
	}
	now := m.now()
	c := models.PGConfig{
		ID:         uuid.NewString(),
		Name:       v.Name,
		Title:      v.Title,
		MerchantID: v.MerchantID,
		ProviderID: v.ProviderID,
		Properties: v.Properties.Clone(),
		State:      stateOrPending(v.State),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.configs[c.ID] = c
	out := copyConfig(c)
	return &out, nil
}

func (m *Memory) GetPGConfig(_ context.Context, id string) (*models.PGConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyConfig(c)
	return &out, nil
}

func (m *Memory) UpdatePGConfigState(_ context.Context, id string, state models.State) (*models.PGConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !models.CanTransition(c.State, state) {
		return nil, invalidTransition(id, c.State, state)
	}
	c.State = state
	c.UpdatedAt = m.now()
	m.configs[id] = c
	out := copyConfig(c)
	return &out, nil
}

func (m *Memory) ListPGConfigs(_ context.Context, merchantID string) ([]models.PGConfig, error) {
	return m.filterConfigs(func(c models.PGConfig) bool { return c.MerchantID == merchantID }, byName), nil
}

func (m *Memory) ListPGConfigsByState(_ context.Context, states []models.State, olderThan time.Time) ([]models.PGConfig, error) {
	return m.filterConfigs(func(c models.PGConfig) bool {
		return hasState(states, c.State) && c.UpdatedAt.Before(olderThan)
	}, byUpdated), nil
}

type order int

const (
	byName order = iota
	byUpdated
	byCreated
)

func (m *Memory) filterConfigs(keep func(models.PGConfig) bool, o order) []models.PGConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PGConfig
	for _, c := range m.configs {
		if keep(c) {
			out = append(out, copyConfig(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if o == byName {
			return out[i].Name < out[j].Name
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out
}

func (m *Memory) DeletePGConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[id]; !ok {
		return ErrNotFound
	}
	for _, pm := range m.methods {
		if pm.ProviderConfigID == id {
			return ErrReferenced
		}
	}
	delete(m.configs, id)
	return nil
}

func (m *Memory) CreatePaymentMethod(_ context.Context, v models.PaymentMethodValues) (*models.PaymentMethod, error) {
	if err := checkPaymentMethodValues(v); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[v.ProviderConfigID]; !ok {
		return nil, ErrNotFound
	}
	now := m.now()
	pm := models.PaymentMethod{
		ID:               uuid.NewString(),
		Name:             v.Name,
		Identifier:       v.Identifier,
		Expires:          v.Expires,
		Properties:       v.Properties.Clone(),
		CustomerID:       v.CustomerID,
		ProviderConfigID: v.ProviderConfigID,
		State:            stateOrPending(v.State),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.methods[pm.ID] = pm
	out := copyMethod(pm)
	return &out, nil
}

func (m *Memory) GetPaymentMethod(_ context.Context, id string) (*models.PaymentMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pm, ok := m.methods[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyMethod(pm)
	return &out, nil
}

func (m *Memory) UpdatePaymentMethodState(_ context.Context, id string, state models.State) (*models.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.methods[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !models.CanTransition(pm.State, state) {
		return nil, invalidTransition(id, pm.State, state)
	}
	pm.State = state
	pm.UpdatedAt = m.now()
	m.methods[id] = pm
	out := copyMethod(pm)
	return &out, nil
}

func (m *Memory) SetPaymentMethodGatewayRef(_ context.Context, id, ref string) (*models.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.methods[id]
	if !ok {
		return nil, ErrNotFound
	}
	pm.GatewayRef = ref
	pm.UpdatedAt = m.now()
	m.methods[id] = pm
	out := copyMethod(pm)
	return &out, nil
}

func (m *Memory) ListPaymentMethods(_ context.Context, customerID string) ([]models.PaymentMethod, error) {
	return m.filterMethods(func(pm models.PaymentMethod) bool { return pm.CustomerID == customerID }, byCreated), nil
}

func (m *Memory) ListUnregisteredPaymentMethods(_ context.Context, states []models.State, olderThan time.Time) ([]models.PaymentMethod, error) {
	return m.filterMethods(func(pm models.PaymentMethod) bool {
		return hasState(states, pm.State) && !pm.Registered() && pm.UpdatedAt.Before(olderThan)
	}, byUpdated), nil
}

func (m *Memory) filterMethods(keep func(models.PaymentMethod) bool, o order) []models.PaymentMethod {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PaymentMethod
	for _, pm := range m.methods {
		if keep(pm) {
			out = append(out, copyMethod(pm))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if o == byCreated {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out
}

func (m *Memory) DeletePaymentMethod(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.methods[id]; !ok {
		return ErrNotFound
	}
	delete(m.methods, id)
	return nil
}

func hasState(states []models.State, s models.State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}
