package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"billingstack/api_collector/internal/flows"
	"billingstack/pkg/monitoring"
	"billingstack/pkg/taskflow"
)

// Metrics holds all Prometheus metrics for the collector service
type Metrics struct {
	// Workflow engine
	FlowRuns        *prometheus.CounterVec
	FlowDuration    *prometheus.HistogramVec
	TaskTransitions *prometheus.CounterVec

	// Entity lifecycle
	StateTransitions *prometheus.CounterVec
	StuckEntities    *prometheus.GaugeVec

	// Gateways
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec

	// Kafka
	EventsPublished *prometheus.CounterVec
}

// New registers the collector metrics on mc.
func New(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		FlowRuns:         mc.NewCounter("flow_runs_total", "Workflow runs by flow and outcome", []string{"flow", "status"}),
		FlowDuration:     mc.NewHistogram("flow_duration_seconds", "Workflow run duration", []string{"flow"}, nil),
		TaskTransitions:  mc.NewCounter("task_transitions_total", "Task state transitions", []string{"task", "to"}),
		StateTransitions: mc.NewCounter("state_transitions_total", "Entity state writes", []string{"entity", "to", "reason"}),
		StuckEntities:    mc.NewGauge("stuck_entities", "Entities left in a non-terminal state past the threshold", []string{"entity", "state"}),
		ProviderCalls:    mc.NewCounter("provider_calls_total", "Gateway calls by provider, capability and outcome", []string{"provider", "capability", "status"}),
		ProviderDuration: mc.NewHistogram("provider_call_duration_seconds", "Gateway call duration", []string{"provider", "capability"}, nil),
		BreakerState:     mc.NewGauge("provider_breaker_open", "1 while a gateway config's circuit breaker is open", []string{"config_id"}),
		EventsPublished:  mc.NewCounter("events_published_total", "State events sent to Kafka", []string{"status"}),
	}
}

// ObserveProviderCall matches provider.GuardOptions.Observe.
func (m *Metrics) ObserveProviderCall(provider, capability string, err error, took time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProviderCalls.WithLabelValues(provider, capability, status).Inc()
	m.ProviderDuration.WithLabelValues(provider, capability).Observe(took.Seconds())
}

// FlowListener feeds engine transitions into the workflow metrics.
type FlowListener struct {
	m       *Metrics
	mu      sync.Mutex
	started map[string]time.Time
}

// FlowListener returns a taskflow.Listener bound to m.
func (m *Metrics) FlowListener() *FlowListener {
	return &FlowListener{m: m, started: map[string]time.Time{}}
}

func (l *FlowListener) OnTransition(t taskflow.Transition) {
	if t.Kind == "task" {
		l.m.TaskTransitions.WithLabelValues(t.Node, string(t.To)).Inc()
		return
	}
	// Only the outermost flow of a run has no parent.
	if t.Flow != "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch t.To {
	case taskflow.StateRunning:
		l.started[t.RunID] = t.At
	case taskflow.StateSuccess, taskflow.StateFailure:
		l.m.FlowRuns.WithLabelValues(t.Node, string(t.To)).Inc()
		if start, ok := l.started[t.RunID]; ok {
			l.m.FlowDuration.WithLabelValues(t.Node).Observe(t.At.Sub(start).Seconds())
			delete(l.started, t.RunID)
		}
	}
}

// Notifier counts every state write and forwards it to next, which may be nil.
func (m *Metrics) Notifier(next flows.Notifier) flows.Notifier {
	return flows.NotifierFunc(func(ctx context.Context, c flows.StateChange) {
		m.StateTransitions.WithLabelValues(c.Entity, string(c.To), c.Reason).Inc()
		if next != nil {
			next.StateChanged(ctx, c)
		}
	})
}
