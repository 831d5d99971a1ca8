package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	fieldcrypt "billingstack/pkg/crypto"
	"billingstack/pkg/database"
	"billingstack/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

type rowScanner interface {
	Scan(dest ...any) error
}

// Postgres implements the collector storage on PostgreSQL.
type Postgres struct {
	db  *sql.DB
	enc *fieldcrypt.FieldEncryptor // nil stores properties as plain JSON
}

func NewPostgres(db *sql.DB, enc *fieldcrypt.FieldEncryptor) *Postgres {
	return &Postgres{db: db, enc: enc}
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	return database.ApplySchema(ctx, s.db, schemaSQL)
}

// Ping checks connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Postgres) sealProperties(id string, props models.JSONB) (string, error) {
	if props == nil {
		props = models.JSONB{}
	}
	if s.enc == nil {
		raw, err := json.Marshal(props)
		return string(raw), err
	}
	return s.enc.EncryptJSON(props, id)
}

func (s *Postgres) openProperties(id, stored string) (models.JSONB, error) {
	out := models.JSONB{}
	if stored == "" {
		return out, nil
	}
	if s.enc == nil {
		if fieldcrypt.IsEncrypted(stored) {
			return nil, errors.New("properties are encrypted but no FIELD_ENCRYPTION_KEY is configured")
		}
		err := json.Unmarshal([]byte(stored), &out)
		return out, err
	}
	err := s.enc.DecryptJSON(stored, id, &out)
	return out, err
}

// mapError translates driver errors into store sentinels. onForeignKey is
// returned for foreign key violations, which mean different things on
// insert and on delete.
func mapError(err error, onForeignKey error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case "23503":
			return fmt.Errorf("%w: %s", onForeignKey, pqErr.Constraint)
		case "22P02":
			return ErrNotFound
		}
	}
	return err
}

// ---- providers ----

func (s *Postgres) UpsertPGProvider(ctx context.Context, p models.PGProvider) (*models.PGProvider, error) {
	schema, err := p.PropertiesSchema.Value()
	if err != nil {
		return nil, fmt.Errorf("marshal properties schema: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out := p
	out.PropertiesSchema = p.PropertiesSchema.Clone()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO collector.pg_providers (id, name, title, description, properties_schema, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			properties_schema = EXCLUDED.properties_schema,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, uuid.NewString(), p.Name, p.Title, p.Description, schema).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, mapError(err, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM collector.pg_methods WHERE provider_id = $1`, out.ID); err != nil {
		return nil, err
	}
	for _, m := range p.Methods {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collector.pg_methods (provider_id, type, name) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, out.ID, m.Type, m.Name); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	out.Methods = append([]models.PGMethod(nil), p.Methods...)
	return &out, nil
}

const providerColumns = `id, name, title, description, properties_schema, created_at, updated_at`

func scanProvider(row rowScanner) (*models.PGProvider, error) {
	var p models.PGProvider
	if err := row.Scan(&p.ID, &p.Name, &p.Title, &p.Description, &p.PropertiesSchema, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) methodsFor(ctx context.Context, providerIDs ...string) (map[string][]models.PGMethod, error) {
	out := map[string][]models.PGMethod{}
	if len(providerIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, type, name FROM collector.pg_methods
		WHERE provider_id = ANY($1)
		ORDER BY type, name
	`, pq.Array(providerIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var m models.PGMethod
		if err := rows.Scan(&id, &m.Type, &m.Name); err != nil {
			return nil, err
		}
		out[id] = append(out[id], m)
	}
	return out, rows.Err()
}

func (s *Postgres) getProvider(ctx context.Context, where string, arg string) (*models.PGProvider, error) {
	p, err := scanProvider(s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM collector.pg_providers WHERE `+where+` = $1`, arg))
	if err != nil {
		return nil, mapError(err, ErrNotFound)
	}
	methods, err := s.methodsFor(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Methods = methods[p.ID]
	return p, nil
}

func (s *Postgres) GetPGProvider(ctx context.Context, id string) (*models.PGProvider, error) {
	return s.getProvider(ctx, "id", id)
}

func (s *Postgres) GetPGProviderByName(ctx context.Context, name string) (*models.PGProvider, error) {
	return s.getProvider(ctx, "name", name)
}

func (s *Postgres) ListPGProviders(ctx context.Context) ([]models.PGProvider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+providerColumns+` FROM collector.pg_providers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PGProvider
	var ids []string
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	methods, err := s.methodsFor(ctx, ids...)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Methods = methods[out[i].ID]
	}
	return out, nil
}

// ---- gateway configs ----

const pgConfigColumns = `id, name, title, merchant_id, provider_id, properties, state, created_at, updated_at`

func (s *Postgres) scanPGConfig(row rowScanner) (*models.PGConfig, error) {
	var c models.PGConfig
	var props string
	if err := row.Scan(&c.ID, &c.Name, &c.Title, &c.MerchantID, &c.ProviderID, &props, &c.State, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if c.Properties, err = s.openProperties(c.ID, props); err != nil {
		return nil, fmt.Errorf("decrypt pg config %s properties: %w", c.ID, err)
	}
	return &c, nil
}

func (s *Postgres) CreatePGConfig(ctx context.Context, v models.PGConfigValues) (*models.PGConfig, error) {
	if err := checkPGConfigValues(v); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	props, err := s.sealProperties(id, v.Properties)
	if err != nil {
		return nil, fmt.Errorf("seal properties: %w", err)
	}
	c, err := s.scanPGConfig(s.db.QueryRowContext(ctx, `
		INSERT INTO collector.pg_configs (id, name, title, merchant_id, provider_id, properties, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING `+pgConfigColumns,
		id, v.Name, v.Title, v.MerchantID, v.ProviderID, props, string(stateOrPending(v.State))))
	if err != nil {
		return nil, mapError(err, ErrNotFound)
	}
	return c, nil
}

func (s *Postgres) GetPGConfig(ctx context.Context, id string) (*models.PGConfig, error) {
	c, err := s.scanPGConfig(s.db.QueryRowContext(ctx,
		`SELECT `+pgConfigColumns+` FROM collector.pg_configs WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, ErrNotFound)
	}
	return c, nil
}

func (s *Postgres) UpdatePGConfigState(ctx context.Context, id string, state models.State) (*models.PGConfig, error) {
	c, err := s.scanPGConfig(s.db.QueryRowContext(ctx, `
		UPDATE collector.pg_configs SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = ANY($3)
		RETURNING `+pgConfigColumns,
		id, string(state), pq.Array(stateStrings(models.SourcesOf(state)))))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapError(err, ErrNotFound)
	}
	return nil, s.explainNoUpdate(ctx, "collector.pg_configs", id, state)
}

// explainNoUpdate tells a missing row from a refused transition after a
// compare-and-set update matched nothing.
func (s *Postgres) explainNoUpdate(ctx context.Context, table, id string, to models.State) error {
	var current models.State
	err := s.db.QueryRowContext(ctx, `SELECT state FROM `+table+` WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return mapError(err, ErrNotFound)
	}
	return invalidTransition(id, current, to)
}

func (s *Postgres) ListPGConfigs(ctx context.Context, merchantID string) ([]models.PGConfig, error) {
	return s.queryPGConfigs(ctx, `SELECT `+pgConfigColumns+` FROM collector.pg_configs WHERE merchant_id = $1 ORDER BY name`, merchantID)
}

func (s *Postgres) ListPGConfigsByState(ctx context.Context, states []models.State, olderThan time.Time) ([]models.PGConfig, error) {
	return s.queryPGConfigs(ctx, `
		SELECT `+pgConfigColumns+` FROM collector.pg_configs
		WHERE state = ANY($1) AND updated_at < $2
		ORDER BY updated_at
	`, pq.Array(stateStrings(states)), olderThan)
}

func (s *Postgres) queryPGConfigs(ctx context.Context, query string, args ...any) ([]models.PGConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PGConfig
	for rows.Next() {
		c, err := s.scanPGConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Postgres) DeletePGConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collector.pg_configs WHERE id = $1`, id)
	if err != nil {
		return mapError(err, ErrReferenced)
	}
	return expectOneRow(res)
}

// ---- payment methods ----

const paymentMethodColumns = `id, name, identifier, expires, properties, customer_id, provider_config_id, state, gateway_ref, created_at, updated_at`

func (s *Postgres) scanPaymentMethod(row rowScanner) (*models.PaymentMethod, error) {
	var m models.PaymentMethod
	var props string
	if err := row.Scan(&m.ID, &m.Name, &m.Identifier, &m.Expires, &props, &m.CustomerID, &m.ProviderConfigID, &m.State, &m.GatewayRef, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if m.Properties, err = s.openProperties(m.ID, props); err != nil {
		return nil, fmt.Errorf("decrypt payment method %s properties: %w", m.ID, err)
	}
	return &m, nil
}

func (s *Postgres) CreatePaymentMethod(ctx context.Context, v models.PaymentMethodValues) (*models.PaymentMethod, error) {
	if err := checkPaymentMethodValues(v); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	props, err := s.sealProperties(id, v.Properties)
	if err != nil {
		return nil, fmt.Errorf("seal properties: %w", err)
	}
	m, err := s.scanPaymentMethod(s.db.QueryRowContext(ctx, `
		INSERT INTO collector.payment_methods (id, name, identifier, expires, properties, customer_id, provider_config_id, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING `+paymentMethodColumns,
		id, v.Name, v.Identifier, v.Expires, props, v.CustomerID, v.ProviderConfigID, string(stateOrPending(v.State))))
	if err != nil {
		return nil, mapError(err, ErrNotFound)
	}
	return m, nil
}

func (s *Postgres) GetPaymentMethod(ctx context.Context, id string) (*models.PaymentMethod, error) {
	m, err := s.scanPaymentMethod(s.db.QueryRowContext(ctx,
		`SELECT `+paymentMethodColumns+` FROM collector.payment_methods WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, ErrNotFound)
	}
	return m, nil
}

func (s *Postgres) UpdatePaymentMethodState(ctx context.Context, id string, state models.State) (*models.PaymentMethod, error) {
	m, err := s.scanPaymentMethod(s.db.QueryRowContext(ctx, `
		UPDATE collector.payment_methods SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = ANY($3)
		RETURNING `+paymentMethodColumns,
		id, string(state), pq.Array(stateStrings(models.SourcesOf(state)))))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapError(err, ErrNotFound)
	}
	return nil, s.explainNoUpdate(ctx, "collector.payment_methods", id, state)
}

// SetPaymentMethodGatewayRef records the gateway's id for a method. The state
// is left alone.
func (s *Postgres) SetPaymentMethodGatewayRef(ctx context.Context, id, ref string) (*models.PaymentMethod, error) {
	m, err := s.scanPaymentMethod(s.db.QueryRowContext(ctx, `
		UPDATE collector.payment_methods SET gateway_ref = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+paymentMethodColumns,
		id, ref))
	if err != nil {
		return nil, mapError(err, ErrNotFound)
	}
	return m, nil
}

func (s *Postgres) ListPaymentMethods(ctx context.Context, customerID string) ([]models.PaymentMethod, error) {
	return s.queryPaymentMethods(ctx, `SELECT `+paymentMethodColumns+` FROM collector.payment_methods WHERE customer_id = $1 ORDER BY created_at`, customerID)
}

// ListUnregisteredPaymentMethods returns methods in one of states that the
// gateway never accepted and that were last written before olderThan.
func (s *Postgres) ListUnregisteredPaymentMethods(ctx context.Context, states []models.State, olderThan time.Time) ([]models.PaymentMethod, error) {
	return s.queryPaymentMethods(ctx, `
		SELECT `+paymentMethodColumns+` FROM collector.payment_methods
		WHERE state = ANY($1) AND gateway_ref = '' AND updated_at < $2
		ORDER BY updated_at
	`, pq.Array(stateStrings(states)), olderThan)
}

func (s *Postgres) queryPaymentMethods(ctx context.Context, query string, args ...any) ([]models.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PaymentMethod
	for rows.Next() {
		m, err := s.scanPaymentMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Postgres) DeletePaymentMethod(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collector.payment_methods WHERE id = $1`, id)
	if err != nil {
		return mapError(err, ErrReferenced)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
