// Package metrics exposes Prometheus counters and histograms for the core:
// tool invocation outcomes, turn duration, and token-budget threshold
// crossings. Collectors are promauto-registered CounterVec/HistogramVec/
// GaugeVec fields with small Record* methods, trimmed to the signals
// this module's components actually emit.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of Prometheus collectors read by ToolExecutor, Agent,
// and TokenBudget. A nil *Metrics is valid everywhere it's consulted: every
// Record* method is a no-op on a nil receiver, so wiring metrics in is
// opt-in at the call site.
type Metrics struct {
	ToolExecutions        *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec
	TurnDuration          *prometheus.HistogramVec
	TurnsTotal            *prometheus.CounterVec
	BudgetThresholds      *prometheus.CounterVec
	ActiveTurns           *prometheus.GaugeVec
}

// New creates and registers every collector with the default Prometheus
// registry. Call once at process startup.
func New() *Metrics {
	return &Metrics{
		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lace_tool_executions_total",
				Help: "Total tool invocations by tool name and outcome.",
			},
			[]string{"tool_name", "outcome"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lace_tool_execution_duration_seconds",
				Help:    "Duration of tool invocations in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lace_turn_duration_seconds",
				Help:    "Duration of one Agent turn (send_message to CONVERSATION_COMPLETE/ERRORED) in seconds.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider", "outcome"},
		),
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lace_turns_total",
				Help: "Total turns completed by terminal outcome.",
			},
			[]string{"provider", "outcome"},
		),
		BudgetThresholds: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lace_budget_threshold_crossings_total",
				Help: "Total TokenBudget threshold_crossed events by level.",
			},
			[]string{"level"},
		),
		ActiveTurns: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lace_active_turns",
				Help: "Number of Agent turns currently in flight.",
			},
			[]string{"provider"},
		),
	}
}

// RecordToolExecution records one tool invocation's outcome and duration.
func (m *Metrics) RecordToolExecution(toolName, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(toolName, outcome).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// TurnStarted increments the active-turn gauge for provider.
func (m *Metrics) TurnStarted(provider string) {
	if m == nil {
		return
	}
	m.ActiveTurns.WithLabelValues(provider).Inc()
}

// TurnFinished decrements the active-turn gauge and records the turn's
// terminal outcome and duration.
func (m *Metrics) TurnFinished(provider, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ActiveTurns.WithLabelValues(provider).Dec()
	m.TurnsTotal.WithLabelValues(provider, outcome).Inc()
	m.TurnDuration.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

// BudgetThresholdCrossed records a TokenBudget threshold_crossed(level) event.
func (m *Metrics) BudgetThresholdCrossed(level string) {
	if m == nil {
		return
	}
	m.BudgetThresholds.WithLabelValues(level).Inc()
}
