package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	collectorapi "billingstack/pkg/api/collector"
	"billingstack/pkg/api/common"
	"billingstack/pkg/models"
)

type call struct {
	method, path, auth string
}

func fakeCollector(t *testing.T) (*httptest.Server, *[]call) {
	t.Helper()
	var calls []call
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path, r.Header.Get("Authorization")})
		switch {
		case r.URL.Path == "/v2/providers":
			reply(w, http.StatusOK, common.NewListResponse([]models.PGProvider{{ID: "p1", Name: "dummy", Methods: []models.PGMethod{{Type: "card", Name: "visa"}}}}))
		case r.URL.Path == "/v2/merchants/m1/payment-gateway-configs":
			reply(w, http.StatusOK, common.NewListResponse([]models.PGConfig{{ID: "c1", Name: "primary", State: models.StateVerifying}}))
		case strings.HasSuffix(r.URL.Path, "/cancel"):
			reply(w, http.StatusOK, models.PGConfig{ID: "c1", Name: "primary", State: models.StateInvalid})
		case r.URL.Path == "/v2/customers/cust/payment-methods/pm1/retry":
			reply(w, http.StatusConflict, common.ErrorResponse{Error: "payment method is invalid", Code: common.CodeInvalidState})
		case r.URL.Path == "/v2/admin/stuck":
			reply(w, http.StatusOK, collectorapi.StuckResponse{OlderThan: r.URL.Query().Get("older_than"), PGConfigs: []models.PGConfig{{ID: "c1", State: models.StateVerifying}}})
		default:
			reply(w, http.StatusNotFound, common.ErrorResponse{Error: "not found", Code: common.CodeNotFound})
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestProvidersListText(t *testing.T) {
	srv, calls := fakeCollector(t)

	out, err := run(t, "", "providers", "list", "--url", srv.URL, "--token", "svc-token")
	require.NoError(t, err)
	require.Contains(t, out, "dummy")
	require.Contains(t, out, "visa")
	require.Equal(t, []call{{http.MethodGet, "/v2/providers", "Bearer svc-token"}}, *calls)
}

func TestConfigsListJSON(t *testing.T) {
	srv, _ := fakeCollector(t)

	out, err := run(t, "", "configs", "list", "--merchant", "m1", "--url", srv.URL, "--output", "json")
	require.NoError(t, err)

	var cfgs []models.PGConfig
	require.NoError(t, json.Unmarshal([]byte(out), &cfgs))
	require.Len(t, cfgs, 1)
	require.Equal(t, models.StateVerifying, cfgs[0].State)
}

func TestConfigsListRequiresMerchant(t *testing.T) {
	srv, calls := fakeCollector(t)

	_, err := run(t, "", "configs", "list", "--url", srv.URL)
	require.Error(t, err)
	require.Empty(t, *calls)
}

func TestCancelAsksForConfirmation(t *testing.T) {
	srv, calls := fakeCollector(t)

	out, err := run(t, "n\n", "configs", "cancel", "c1", "--merchant", "m1", "--url", srv.URL)
	require.NoError(t, err)
	require.Contains(t, out, "Aborted")
	require.Empty(t, *calls)

	out, err = run(t, "", "configs", "cancel", "c1", "--merchant", "m1", "--url", srv.URL, "--yes")
	require.NoError(t, err)
	require.Contains(t, out, "invalid")
	require.Equal(t, "/v2/merchants/m1/payment-gateway-configs/c1/cancel", (*calls)[0].path)
}

func TestServerErrorsSurface(t *testing.T) {
	srv, _ := fakeCollector(t)

	_, err := run(t, "", "methods", "retry", "pm1", "--customer", "cust", "--url", srv.URL)
	require.ErrorContains(t, err, "invalid_state")
}

func TestStuckPassesOlderThan(t *testing.T) {
	srv, _ := fakeCollector(t)

	out, err := run(t, "", "stuck", "--older-than", "45m", "--url", srv.URL)
	require.NoError(t, err)
	require.Contains(t, out, "Stuck for more than 45m0s")
	require.Contains(t, out, "Gateway configs (1)")
	require.Contains(t, out, "Payment methods (0)")
}

func TestURLFromEnvironment(t *testing.T) {
	srv, calls := fakeCollector(t)
	t.Setenv("COLLECTOR_URL", srv.URL)
	t.Setenv("COLLECTOR_TOKEN", "env-token")

	_, err := run(t, "", "providers", "list")
	require.NoError(t, err)
	require.Equal(t, "Bearer env-token", (*calls)[0].auth)
}

func TestRejectsUnknownOutput(t *testing.T) {
	_, err := run(t, "", "providers", "list", "--output", "yaml")
	require.ErrorContains(t, err, "invalid --output")
}
