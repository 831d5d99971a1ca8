package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"billingstack/pkg/models"
)

func TestMemoryPGConfigLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	c, err := m.CreatePGConfig(ctx, models.PGConfigValues{
		Name: "main", MerchantID: "merchant-1", ProviderID: "prov-1",
		Properties: models.JSONB{"api_key": "k"}, State: models.StateVerifying,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.State != models.StateVerifying || c.ID == "" {
		t.Fatalf("unexpected config %+v", c)
	}

	_, err = m.CreatePGConfig(ctx, models.PGConfigValues{Name: "main", MerchantID: "merchant-1", ProviderID: "prov-2"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if _, err := m.CreatePGConfig(ctx, models.PGConfigValues{Name: "main", MerchantID: "merchant-2", ProviderID: "prov-1"}); err != nil {
		t.Fatalf("same name for another merchant should be allowed: %v", err)
	}

	c.Properties["api_key"] = "mutated"
	got, err := m.GetPGConfig(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Properties.String("api_key") != "k" {
		t.Fatal("store shares properties with caller")
	}

	if _, err := m.UpdatePGConfigState(ctx, c.ID, models.StateActive); err != nil {
		t.Fatalf("verifying -> active: %v", err)
	}
	if _, err := m.UpdatePGConfigState(ctx, c.ID, models.StateInvalid); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("active -> invalid should be refused, got %v", err)
	}
	if _, err := m.UpdatePGConfigState(ctx, "missing", models.StateActive); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	list, _ := m.ListPGConfigs(ctx, "merchant-1")
	if len(list) != 1 {
		t.Fatalf("expected one config for merchant-1, got %d", len(list))
	}
}

func TestMemoryPaymentMethodReferences(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreatePaymentMethod(ctx, models.PaymentMethodValues{Name: "visa", CustomerID: "c1", ProviderConfigID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown config, got %v", err)
	}

	cfg, _ := m.CreatePGConfig(ctx, models.PGConfigValues{Name: "main", MerchantID: "m1", ProviderID: "p1"})
	pm, err := m.CreatePaymentMethod(ctx, models.PaymentMethodValues{Name: "visa", Identifier: "4242", CustomerID: "c1", ProviderConfigID: cfg.ID})
	if err != nil {
		t.Fatal(err)
	}
	if pm.State != models.StatePending {
		t.Fatalf("expected pending default, got %s", pm.State)
	}

	if err := m.DeletePGConfig(ctx, cfg.ID); !errors.Is(err, ErrReferenced) {
		t.Fatalf("expected referenced, got %v", err)
	}
	if _, err := m.UpdatePaymentMethodState(ctx, pm.ID, models.StateInvalid); err != nil {
		t.Fatal(err)
	}
	if err := m.DeletePaymentMethod(ctx, pm.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeletePGConfig(ctx, cfg.ID); err != nil {
		t.Fatalf("delete after methods removed: %v", err)
	}
}

func TestMemoryListByState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return base })

	old, _ := m.CreatePGConfig(ctx, models.PGConfigValues{Name: "old", MerchantID: "m", ProviderID: "p", State: models.StateVerifying})
	m.SetClock(func() time.Time { return base.Add(time.Hour) })
	_, _ = m.CreatePGConfig(ctx, models.PGConfigValues{Name: "fresh", MerchantID: "m", ProviderID: "p", State: models.StateVerifying})
	active, _ := m.CreatePGConfig(ctx, models.PGConfigValues{Name: "done", MerchantID: "m", ProviderID: "p", State: models.StateActive})

	stuck, err := m.ListPGConfigsByState(ctx, []models.State{models.StatePending, models.StateVerifying}, base.Add(30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 1 || stuck[0].ID != old.ID {
		t.Fatalf("expected only the old verifying config, got %+v", stuck)
	}
	for _, c := range stuck {
		if c.ID == active.ID {
			t.Fatal("active config reported as stuck")
		}
	}
}

func TestMemoryUnregisteredPaymentMethods(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return base })

	cfg, _ := m.CreatePGConfig(ctx, models.PGConfigValues{Name: "main", MerchantID: "m1", ProviderID: "p1"})
	waiting, _ := m.CreatePaymentMethod(ctx, models.PaymentMethodValues{Name: "visa", CustomerID: "c1", ProviderConfigID: cfg.ID})
	lost, _ := m.CreatePaymentMethod(ctx, models.PaymentMethodValues{Name: "amex", CustomerID: "c1", ProviderConfigID: cfg.ID})

	got, err := m.SetPaymentMethodGatewayRef(ctx, waiting.ID, "gw_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.GatewayRef != "gw_1" || got.State != models.StatePending {
		t.Fatalf("gateway ref must not touch state: %+v", got)
	}
	if _, err := m.SetPaymentMethodGatewayRef(ctx, "missing", "gw_2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	rows, err := m.ListUnregisteredPaymentMethods(ctx, []models.State{models.StatePending}, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != lost.ID {
		t.Fatalf("expected only the unregistered method, got %+v", rows)
	}
}

func TestMemoryUpsertProvider(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	first, err := m.UpsertPGProvider(ctx, models.PGProvider{Name: "dummy", Title: "Dummy"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.UpsertPGProvider(ctx, models.PGProvider{Name: "dummy", Title: "Dummy v2", Methods: []models.PGMethod{{Type: "creditcard", Name: "visa"}}})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatal("upsert by name should keep the id")
	}
	got, err := m.GetPGProviderByName(ctx, "dummy")
	if err != nil || got.Title != "Dummy v2" || len(got.Methods) != 1 {
		t.Fatalf("unexpected provider %+v %v", got, err)
	}
	if _, err := m.GetPGProvider(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
