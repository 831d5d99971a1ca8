package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"billingstack/pkg/logging"
	"billingstack/pkg/monitoring"
)

func TestSetupServiceRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logging.NewTestLogger()
	hc := monitoring.NewHealthChecker("collector", "v1")
	mc := monitoring.NewMetricsCollectorWithRegistry("collector", "v1", "abc", prometheus.NewRegistry())
	r := SetupServiceRouter(logger, "collector", hc, mc)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for _, path := range []string{"/ping", "/health", "/metrics"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestStartStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := DefaultConfig("collector", "0")
	if err := Start(ctx, cfg, http.NewServeMux(), logging.NewTestLogger()); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}
