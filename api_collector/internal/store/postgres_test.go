package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	fieldcrypt "billingstack/pkg/crypto"
	"billingstack/pkg/models"
)

var pgConfigCols = []string{"id", "name", "title", "merchant_id", "provider_id", "properties", "state", "created_at", "updated_at"}

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db, nil), mock
}

func TestPostgresCreatePGConfig(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO collector\.pg_configs`).
		WithArgs(sqlmock.AnyArg(), "main", "", "merchant-1", "prov-1", `{"api_key":"k"}`, "verifying").
		WillReturnRows(sqlmock.NewRows(pgConfigCols).
			AddRow("cfg-1", "main", "", "merchant-1", "prov-1", `{"api_key":"k"}`, "verifying", now, now))

	c, err := s.CreatePGConfig(context.Background(), models.PGConfigValues{
		Name: "main", MerchantID: "merchant-1", ProviderID: "prov-1",
		Properties: models.JSONB{"api_key": "k"}, State: models.StateVerifying,
	})
	if err != nil {
		t.Fatalf("CreatePGConfig: %v", err)
	}
	if c.ID != "cfg-1" || c.State != models.StateVerifying || c.Properties.String("api_key") != "k" {
		t.Fatalf("unexpected config %+v", c)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresCreatePGConfigDuplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO collector\.pg_configs`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "pg_configs_merchant_name_key"})

	_, err := s.CreatePGConfig(context.Background(), models.PGConfigValues{Name: "main", MerchantID: "m", ProviderID: "p"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestPostgresGetPGConfigNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM collector\.pg_configs WHERE id = \$1`).
		WithArgs("cfg-x").
		WillReturnRows(sqlmock.NewRows(pgConfigCols))

	if _, err := s.GetPGConfig(context.Background(), "cfg-x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresUpdatePGConfigState(t *testing.T) {
	now := time.Now()

	t.Run("allowed", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery(`UPDATE collector\.pg_configs SET state = \$2, updated_at = NOW\(\)\s+WHERE id = \$1 AND state = ANY\(\$3\)`).
			WithArgs("cfg-1", "active", pq.Array([]string{"pending", "verifying"})).
			WillReturnRows(sqlmock.NewRows(pgConfigCols).
				AddRow("cfg-1", "main", "", "m", "p", `{}`, "active", now, now))

		c, err := s.UpdatePGConfigState(context.Background(), "cfg-1", models.StateActive)
		if err != nil {
			t.Fatalf("UpdatePGConfigState: %v", err)
		}
		if c.State != models.StateActive {
			t.Fatalf("unexpected state %s", c.State)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("expectations: %v", err)
		}
	})

	t.Run("refused", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery(`UPDATE collector\.pg_configs`).
			WillReturnRows(sqlmock.NewRows(pgConfigCols))
		mock.ExpectQuery(`SELECT state FROM collector\.pg_configs WHERE id = \$1`).
			WithArgs("cfg-1").
			WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("active"))

		_, err := s.UpdatePGConfigState(context.Background(), "cfg-1", models.StateInvalid)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		s, mock := newMock(t)
		mock.ExpectQuery(`UPDATE collector\.pg_configs`).
			WillReturnRows(sqlmock.NewRows(pgConfigCols))
		mock.ExpectQuery(`SELECT state FROM collector\.pg_configs`).
			WillReturnRows(sqlmock.NewRows([]string{"state"}))

		_, err := s.UpdatePGConfigState(context.Background(), "cfg-1", models.StateInvalid)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestPostgresCreatePaymentMethodUnknownConfig(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO collector\.payment_methods`).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "payment_methods_provider_config_id_fkey"})

	_, err := s.CreatePaymentMethod(context.Background(), models.PaymentMethodValues{Name: "visa", CustomerID: "c", ProviderConfigID: "cfg"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

var paymentMethodCols = []string{"id", "name", "identifier", "expires", "properties", "customer_id", "provider_config_id", "state", "gateway_ref", "created_at", "updated_at"}

func TestPostgresSetPaymentMethodGatewayRef(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`UPDATE collector\.payment_methods SET gateway_ref = \$2`).
		WithArgs("pm-1", "gw_1").
		WillReturnRows(sqlmock.NewRows(paymentMethodCols).
			AddRow("pm-1", "visa", "4242", "", `{}`, "c1", "cfg-1", "pending", "gw_1", now, now))

	pm, err := s.SetPaymentMethodGatewayRef(context.Background(), "pm-1", "gw_1")
	if err != nil {
		t.Fatalf("SetPaymentMethodGatewayRef: %v", err)
	}
	if pm.GatewayRef != "gw_1" || pm.State != models.StatePending {
		t.Fatalf("unexpected method %+v", pm)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresListUnregisteredPaymentMethods(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()
	cutoff := now.Add(-time.Hour)

	mock.ExpectQuery(`FROM collector\.payment_methods\s+WHERE state = ANY\(\$1\) AND gateway_ref = '' AND updated_at < \$2`).
		WithArgs(pq.Array([]string{"pending"}), cutoff).
		WillReturnRows(sqlmock.NewRows(paymentMethodCols).
			AddRow("pm-2", "amex", "3782", "", `{}`, "c1", "cfg-1", "pending", "", now, now))

	rows, err := s.ListUnregisteredPaymentMethods(context.Background(), []models.State{models.StatePending}, cutoff)
	if err != nil {
		t.Fatalf("ListUnregisteredPaymentMethods: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "pm-2" || rows[0].Registered() {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresDeletePGConfigReferenced(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`DELETE FROM collector\.pg_configs WHERE id = \$1`).
		WithArgs("cfg-1").
		WillReturnError(&pq.Error{Code: "23503"})

	if err := s.DeletePGConfig(context.Background(), "cfg-1"); !errors.Is(err, ErrReferenced) {
		t.Fatalf("expected ErrReferenced, got %v", err)
	}

	mock.ExpectExec(`DELETE FROM collector\.pg_configs`).
		WithArgs("cfg-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.DeletePGConfig(context.Background(), "cfg-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresEncryptedProperties(t *testing.T) {
	enc, err := fieldcrypt.DeriveFieldEncryptor([]byte("test-secret"), "collector-properties")
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := enc.EncryptJSON(map[string]any{"secret_key": "sk_test_123"}, "cfg-1")
	if err != nil {
		t.Fatal(err)
	}

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := NewPostgres(db, enc)
	now := time.Now()

	mock.ExpectQuery(`FROM collector\.pg_configs WHERE id = \$1`).
		WithArgs("cfg-1").
		WillReturnRows(sqlmock.NewRows(pgConfigCols).
			AddRow("cfg-1", "main", "", "m", "p", sealed, "active", now, now))

	c, err := s.GetPGConfig(context.Background(), "cfg-1")
	if err != nil {
		t.Fatalf("GetPGConfig: %v", err)
	}
	if c.Properties.String("secret_key") != "sk_test_123" {
		t.Fatalf("properties not decrypted: %+v", c.Properties)
	}

	// A sealed value moved to another row must not open.
	mock.ExpectQuery(`FROM collector\.pg_configs WHERE id = \$1`).
		WithArgs("cfg-2").
		WillReturnRows(sqlmock.NewRows(pgConfigCols).
			AddRow("cfg-2", "main", "", "m", "p", sealed, "active", now, now))
	if _, err := s.GetPGConfig(context.Background(), "cfg-2"); err == nil {
		t.Fatal("expected decryption failure for mismatched row id")
	}
}

func TestPostgresListPGProviders(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM collector\.pg_providers ORDER BY name`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "title", "description", "properties_schema", "created_at", "updated_at"}).
			AddRow("p1", "dummy", "Dummy", "", []byte(`{"type":"object"}`), now, now).
			AddRow("p2", "stripe", "Stripe", "", []byte(`{}`), now, now))
	mock.ExpectQuery(`FROM collector\.pg_methods\s+WHERE provider_id = ANY\(\$1\)`).
		WithArgs(pq.Array([]string{"p1", "p2"})).
		WillReturnRows(sqlmock.NewRows([]string{"provider_id", "type", "name"}).
			AddRow("p1", "creditcard", "visa").
			AddRow("p2", "creditcard", "amex"))

	providers, err := s.ListPGProviders(context.Background())
	if err != nil {
		t.Fatalf("ListPGProviders: %v", err)
	}
	if len(providers) != 2 || len(providers[0].Methods) != 1 || providers[1].Methods[0].Name != "amex" {
		t.Fatalf("unexpected providers %+v", providers)
	}
	if providers[0].PropertiesSchema["type"] != "object" {
		t.Fatalf("schema not scanned: %+v", providers[0].PropertiesSchema)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresUpsertPGProvider(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO collector\.pg_providers .* ON CONFLICT \(name\) DO UPDATE`).
		WithArgs(sqlmock.AnyArg(), "dummy", "Dummy", "desc", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("p1", now, now))
	mock.ExpectExec(`DELETE FROM collector\.pg_methods WHERE provider_id = \$1`).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO collector\.pg_methods`).
		WithArgs("p1", "creditcard", "visa").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, err := s.UpsertPGProvider(context.Background(), models.PGProvider{
		Name: "dummy", Title: "Dummy", Description: "desc",
		Methods: []models.PGMethod{{Type: "creditcard", Name: "visa"}},
	})
	if err != nil {
		t.Fatalf("UpsertPGProvider: %v", err)
	}
	if p.ID != "p1" || len(p.Methods) != 1 {
		t.Fatalf("unexpected provider %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
