package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult represents the result of an individual health check
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthCheck performs one check. It must respect ctx.
type HealthCheck func(ctx context.Context) CheckResult

// HealthChecker runs registered checks concurrently.
type HealthChecker struct {
	service string
	version string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewHealthChecker creates a new health checker instance
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		timeout: 5 * time.Second,
		checks:  make(map[string]HealthCheck),
	}
}

// AddCheck adds a health check to the checker
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// CheckHealth runs all checks and folds them into one status: any unhealthy
// check makes the service unhealthy, otherwise any degraded check degrades it.
func (hc *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		hc.mu.RLock()
		check := hc.checks[name]
		hc.mu.RUnlock()
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			results[i] = check(ctx)
		}(i, check)
	}
	wg.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult, len(names)),
	}
	for i, name := range names {
		r := results[i]
		status.Checks[name] = r
		switch r.Status {
		case StatusHealthy:
		case StatusDegraded:
			if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		default:
			status.Status = StatusUnhealthy
		}
	}
	return status
}

// Handler serves the health status; unhealthy maps to 503.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	}
}

// Pinger is anything with a context-aware Ping, e.g. Kafka, Redis or NATS wrappers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingHealthCheck reports unhealthy when Ping fails. When optional is set a
// failure only degrades the service.
func PingHealthCheck(component string, p Pinger, optional bool) HealthCheck {
	return func(ctx context.Context) CheckResult {
		if p == nil {
			return CheckResult{Status: StatusUnhealthy, Message: component + " client is nil"}
		}
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			status := StatusUnhealthy
			if optional {
				status = StatusDegraded
			}
			return CheckResult{
				Status:  status,
				Message: fmt.Sprintf("%s ping failed: %v", component, err),
				Latency: time.Since(start).String(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: component + " reachable", Latency: time.Since(start).String()}
	}
}

// DatabaseHealthCheck pings the SQL pool.
func DatabaseHealthCheck(db *sql.DB) HealthCheck {
	if db == nil {
		return PingHealthCheck("database", nil, false)
	}
	return PingHealthCheck("database", PingFunc(db.PingContext), false)
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// ConfigurationHealthCheck reports unhealthy when any required value is empty.
func ConfigurationHealthCheck(configs map[string]string) HealthCheck {
	return func(context.Context) CheckResult {
		var missing []string
		for key, value := range configs {
			if value == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("Missing required configuration: %v", missing)}
		}
		return CheckResult{Status: StatusHealthy, Message: "All required configuration present"}
	}
}
