package flows

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"billingstack/api_collector/internal/provider"
	"billingstack/api_collector/internal/store"
	"billingstack/pkg/logging"
	"billingstack/pkg/models"
	"billingstack/pkg/taskflow"
)

type fakeGateway struct {
	provider.Provider
	verifyErr error
	createErr error
	created   []models.PaymentMethod
}

func (f *fakeGateway) VerifyConfig(context.Context) error { return f.verifyErr }

func (f *fakeGateway) CreatePaymentMethod(_ context.Context, customerID string, pm models.PaymentMethod) (*provider.MethodRef, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, pm)
	return &provider.MethodRef{ID: "gw_" + pm.ID, AccountID: customerID, Status: "pending"}, nil
}

type harness struct {
	t          *testing.T
	store      *store.Memory
	gw         *fakeGateway
	deps       Deps
	engine     *taskflow.Engine
	providerID string

	mu          sync.Mutex
	constructed int
	events      []StateChange
	tasks       []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, store: store.NewMemory(), gw: &fakeGateway{}}

	reg := provider.NewRegistry()
	reg.MustRegister(provider.Factory{
		Name: "fake",
		New: func(models.PGConfig) (provider.Provider, error) {
			h.mu.Lock()
			h.constructed++
			h.mu.Unlock()
			return h.gw, nil
		},
	})
	pgp, err := h.store.UpsertPGProvider(context.Background(), models.PGProvider{Name: "fake", Title: "Fake"})
	require.NoError(t, err)
	h.providerID = pgp.ID

	h.deps = Deps{
		Storage:   h.store,
		Providers: reg,
		Logger:    logging.NewTestLogger(),
		Notifier: NotifierFunc(func(_ context.Context, c StateChange) {
			h.mu.Lock()
			h.events = append(h.events, c)
			h.mu.Unlock()
		}),
	}
	h.engine = taskflow.NewEngine(taskflow.WithListener(taskflow.ListenerFunc(func(tr taskflow.Transition) {
		if tr.Kind == "task" && tr.To == taskflow.StateRunning {
			h.tasks = append(h.tasks, tr.Node)
		}
	})))
	return h
}

func (h *harness) configValues(name string) models.PGConfigValues {
	return models.PGConfigValues{
		Name:       name,
		MerchantID: "merchant-1",
		ProviderID: h.providerID,
		Properties: models.JSONB{"api_key": "k"},
	}
}

func (h *harness) createConfig(name string) (*taskflow.Result, error) {
	return h.engine.Run(context.Background(), NewPGConfigCreateFlow(h.deps),
		InitialStore(models.RequestContext{UserID: "u1"}, h.configValues(name)))
}

func (h *harness) activeConfig() *models.PGConfig {
	h.t.Helper()
	res, err := h.createConfig("primary")
	require.NoError(h.t, err)
	cfg, err := taskflow.Value[*models.PGConfig](res.Store, KeyGatewayConfig)
	require.NoError(h.t, err)
	return cfg
}

func TestCreatePGConfigActivates(t *testing.T) {
	h := newHarness(t)

	res, err := h.createConfig("primary")
	require.NoError(t, err)

	cfg, err := taskflow.Value[*models.PGConfig](res.Store, KeyGatewayConfig)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.ID)

	stored, err := h.store.GetPGConfig(context.Background(), cfg.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateActive, stored.State)
	require.Equal(t, cfg.Name, stored.Name)
	require.Equal(t, cfg.MerchantID, stored.MerchantID)
	require.Equal(t, cfg.ProviderID, stored.ProviderID)
	require.Equal(t, cfg.Properties, stored.Properties)

	require.Equal(t, []string{
		"pg_config:create_entry",
		"pg_config:prerequirements",
		"pg_config:backend_verify",
	}, h.tasks)
	require.Equal(t, 1, h.constructed)

	pgp, err := taskflow.Value[*models.PGProvider](res.Store, KeyGatewayProvider)
	require.NoError(t, err)
	require.Equal(t, "fake", pgp.Name)

	require.Len(t, h.events, 2)
	require.Equal(t, models.StateVerifying, h.events[0].To)
	require.Equal(t, models.StateActive, h.events[1].To)
	require.Equal(t, models.StateVerifying, h.events[1].From)
}

func TestCreatePGConfigConfigurationErrorMarksInvalid(t *testing.T) {
	h := newHarness(t)
	verifyErr := &provider.ConfigurationError{Provider: "fake", Msg: "bad api key"}
	h.gw.verifyErr = verifyErr

	res, err := h.createConfig("primary")
	require.Error(t, err)
	require.Same(t, verifyErr, err)

	cfg, getErr := taskflow.Value[*models.PGConfig](res.Store, KeyGatewayConfig)
	require.NoError(t, getErr)
	stored, getErr := h.store.GetPGConfig(context.Background(), cfg.ID)
	require.NoError(t, getErr)
	require.Equal(t, models.StateInvalid, stored.State)
	require.Equal(t, taskflow.StateFailure, res.State("pg_config:backend_verify"))
	require.Equal(t, taskflow.StateFailure, res.State(PGConfigVerifyFlow))
}

func TestCreatePGConfigUnexpectedErrorKeepsVerifying(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("gateway unreachable")
	h.gw.verifyErr = boom

	res, err := h.createConfig("primary")
	require.Same(t, boom, err)

	cfg, _ := taskflow.Value[*models.PGConfig](res.Store, KeyGatewayConfig)
	stored, getErr := h.store.GetPGConfig(context.Background(), cfg.ID)
	require.NoError(t, getErr)
	require.Equal(t, models.StateVerifying, stored.State)
	require.Len(t, h.events, 1)
}

func TestCreatePGConfigUnknownProviderIsUnexpected(t *testing.T) {
	h := newHarness(t)
	pgp, err := h.store.UpsertPGProvider(context.Background(), models.PGProvider{Name: "retired"})
	require.NoError(t, err)

	values := h.configValues("primary")
	values.ProviderID = pgp.ID
	res, err := h.engine.Run(context.Background(), NewPGConfigCreateFlow(h.deps), InitialStore(models.RequestContext{}, values))
	require.ErrorIs(t, err, provider.ErrUnknownProvider)

	cfg, _ := taskflow.Value[*models.PGConfig](res.Store, KeyGatewayConfig)
	stored, _ := h.store.GetPGConfig(context.Background(), cfg.ID)
	require.Equal(t, models.StateVerifying, stored.State)
}

func TestCreatePGConfigStaleProviderID(t *testing.T) {
	h := newHarness(t)
	values := h.configValues("primary")
	values.ProviderID = "6f1c8f7e-0000-4000-8000-000000000000"

	res, err := h.engine.Run(context.Background(), NewPGConfigCreateFlow(h.deps), InitialStore(models.RequestContext{}, values))
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Zero(t, h.constructed)
	require.Equal(t, taskflow.StateSkipped, res.State("pg_config:backend_verify"))

	cfg, _ := taskflow.Value[*models.PGConfig](res.Store, KeyGatewayConfig)
	stored, _ := h.store.GetPGConfig(context.Background(), cfg.ID)
	require.Equal(t, models.StateVerifying, stored.State)
}

func TestCreatePGConfigDuplicateName(t *testing.T) {
	h := newHarness(t)
	_, err := h.createConfig("primary")
	require.NoError(t, err)

	_, err = h.createConfig("primary")
	require.ErrorIs(t, err, store.ErrDuplicate)

	rows, err := h.store.ListPGConfigs(context.Background(), "merchant-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, h.constructed)
}

func TestRetryPGConfigFlowReverifies(t *testing.T) {
	h := newHarness(t)
	h.gw.verifyErr = &provider.ConfigurationError{Provider: "fake", Msg: "bad api key"}
	res, err := h.createConfig("primary")
	require.Error(t, err)
	cfg, _ := taskflow.Value[*models.PGConfig](res.Store, KeyGatewayConfig)

	h.gw.verifyErr = nil
	_, err = h.store.UpdatePGConfigState(context.Background(), cfg.ID, models.StateVerifying)
	require.NoError(t, err)

	h.tasks = nil
	_, err = h.engine.Run(context.Background(), NewPGConfigRetryFlow(h.deps), taskflow.Store{KeyConfigID: cfg.ID})
	require.NoError(t, err)
	require.Equal(t, []string{
		"pg_config:load_entry",
		"pg_config:prerequirements",
		"pg_config:backend_verify",
	}, h.tasks)

	stored, _ := h.store.GetPGConfig(context.Background(), cfg.ID)
	require.Equal(t, models.StateActive, stored.State)
}

func (h *harness) methodValues(configID, identifier string) models.PaymentMethodValues {
	return models.PaymentMethodValues{
		Name:             "card",
		Identifier:       identifier,
		CustomerID:       "customer-1",
		ProviderConfigID: configID,
	}
}

func TestCreatePaymentMethodStaysPending(t *testing.T) {
	h := newHarness(t)
	cfg := h.activeConfig()
	h.tasks = nil

	res, err := h.engine.Run(context.Background(), NewPaymentMethodCreateFlow(h.deps),
		InitialStore(models.RequestContext{}, h.methodValues(cfg.ID, "4242")))
	require.NoError(t, err)

	pm, err := taskflow.Value[*models.PaymentMethod](res.Store, KeyPaymentMethod)
	require.NoError(t, err)
	stored, err := h.store.GetPaymentMethod(context.Background(), pm.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatePending, stored.State)
	require.Equal(t, "gw_"+pm.ID, stored.GatewayRef)
	require.True(t, stored.Registered())

	require.Len(t, h.gw.created, 1)
	require.Equal(t, pm.ID, h.gw.created[0].ID)
	ref, err := taskflow.Value[*provider.MethodRef](res.Store, KeyGatewayMethod)
	require.NoError(t, err)
	require.Equal(t, "gw_"+pm.ID, ref.ID)

	gotCfg, err := taskflow.Value[*models.PGConfig](res.Store, KeyGatewayConfig)
	require.NoError(t, err)
	require.Equal(t, cfg.ID, gotCfg.ID)
	require.Equal(t, []string{
		"payment_method:create_entry",
		"payment_method:prerequirements",
		"payment_method:backend_create",
	}, h.tasks)
}

func TestCreatePaymentMethodBadRequestMarksInvalid(t *testing.T) {
	h := newHarness(t)
	cfg := h.activeConfig()
	rejected := &provider.BadRequestError{Provider: "fake", Msg: "card declined"}
	h.gw.createErr = rejected

	res, err := h.engine.Run(context.Background(), NewPaymentMethodCreateFlow(h.deps),
		InitialStore(models.RequestContext{}, h.methodValues(cfg.ID, "4000")))
	require.Same(t, rejected, err)

	pm, _ := taskflow.Value[*models.PaymentMethod](res.Store, KeyPaymentMethod)
	stored, getErr := h.store.GetPaymentMethod(context.Background(), pm.ID)
	require.NoError(t, getErr)
	require.Equal(t, models.StateInvalid, stored.State)
}

func TestCreatePaymentMethodUnexpectedErrorKeepsPending(t *testing.T) {
	h := newHarness(t)
	cfg := h.activeConfig()
	h.gw.createErr = provider.ErrNotSupported

	res, err := h.engine.Run(context.Background(), NewPaymentMethodCreateFlow(h.deps),
		InitialStore(models.RequestContext{}, h.methodValues(cfg.ID, "4242")))
	require.ErrorIs(t, err, provider.ErrNotSupported)

	pm, _ := taskflow.Value[*models.PaymentMethod](res.Store, KeyPaymentMethod)
	stored, _ := h.store.GetPaymentMethod(context.Background(), pm.ID)
	require.Equal(t, models.StatePending, stored.State)
	require.False(t, stored.Registered())
}

func TestPaymentMethodPrerequirementsMissingConfig(t *testing.T) {
	h := newHarness(t)

	f := taskflow.NewFlow("payment_method:provision")
	f.Add(PaymentMethodPrerequirementsTask(h.deps))
	f.Add(PaymentMethodBackendCreateTask(h.deps))

	initial := InitialStore(models.RequestContext{}, h.methodValues("6f1c8f7e-0000-4000-8000-000000000000", "4242"))
	initial[KeyPaymentMethod] = &models.PaymentMethod{ID: "pm-1", CustomerID: "customer-1"}

	res, err := h.engine.Run(context.Background(), f, initial)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Zero(t, h.constructed)
	require.Equal(t, taskflow.StateSkipped, res.State("payment_method:backend_create"))
	require.Empty(t, h.gw.created)
}

func TestCreatePaymentMethodUnknownConfig(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Run(context.Background(), NewPaymentMethodCreateFlow(h.deps),
		InitialStore(models.RequestContext{}, h.methodValues("6f1c8f7e-0000-4000-8000-000000000000", "4242")))
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Zero(t, h.constructed)

	rows, err := h.store.ListPaymentMethods(context.Background(), "customer-1")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestRetryPaymentMethodFlow(t *testing.T) {
	h := newHarness(t)
	cfg := h.activeConfig()
	h.gw.createErr = errors.New("timeout")

	res, err := h.engine.Run(context.Background(), NewPaymentMethodCreateFlow(h.deps),
		InitialStore(models.RequestContext{}, h.methodValues(cfg.ID, "4242")))
	require.Error(t, err)
	pm, _ := taskflow.Value[*models.PaymentMethod](res.Store, KeyPaymentMethod)

	h.gw.createErr = nil
	res, err = h.engine.Run(context.Background(), NewPaymentMethodRetryFlow(h.deps), taskflow.Store{KeyMethodID: pm.ID})
	require.NoError(t, err)
	require.Len(t, h.gw.created, 1)
	stored, err := h.store.GetPaymentMethod(context.Background(), pm.ID)
	require.NoError(t, err)
	require.Equal(t, "gw_"+pm.ID, stored.GatewayRef)

	values, err := taskflow.Value[models.PaymentMethodValues](res.Store, KeyValues)
	require.NoError(t, err)
	require.Equal(t, cfg.ID, values.ProviderConfigID)
}

func TestFlowsValidateAgainstInitialStore(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, taskflow.Validate(NewPGConfigCreateFlow(h.deps), InitialStore(models.RequestContext{}, nil)))
	require.NoError(t, taskflow.Validate(NewPaymentMethodCreateFlow(h.deps), InitialStore(models.RequestContext{}, nil)))
	require.NoError(t, taskflow.Validate(NewPGConfigRetryFlow(h.deps), taskflow.Store{KeyConfigID: ""}))
	require.NoError(t, taskflow.Validate(NewPaymentMethodRetryFlow(h.deps), taskflow.Store{KeyMethodID: ""}))

	err := taskflow.Validate(NewPGConfigRetryFlow(h.deps), taskflow.Store{})
	require.ErrorIs(t, err, taskflow.ErrMissingInputs)
}
