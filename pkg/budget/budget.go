// Package budget tracks a thread's token usage across turns and emits
// threshold-crossing notifications an Agent consults at turn boundaries
// to decide whether to trigger the Compactor.
package budget

import (
	"sync"

	"github.com/laceai/lace/pkg/metrics"
)

// ThresholdKind identifies which configured threshold was crossed.
type ThresholdKind string

// ThresholdKind values.
const (
	ThresholdWarn    ThresholdKind = "warn"
	ThresholdCompact ThresholdKind = "compact"
)

// Thresholds configures the utilization ratios (0.0-1.0 of MaxContextWindow)
// at which Budget reports a crossing. WarnRatio is informational;
// CompactRatio is the ratio the auto-compact check uses.
type Thresholds struct {
	WarnRatio    float64
	CompactRatio float64
}

// DefaultThresholds is the default auto-compact ratio.
var DefaultThresholds = Thresholds{WarnRatio: 0.7, CompactRatio: 0.8}

// Crossing is sent on Budget's channel the first time usage crosses a
// configured threshold, exactly once per kind per Reset.
type Crossing struct {
	Kind                 ThresholdKind
	CurrentContextWindow int
	MaxContextWindow     int
}

// Budget accumulates input/output token counts for a single thread and
// watches the running context-window utilization against Thresholds.
type Budget struct {
	thresholds Thresholds

	mu                   sync.Mutex
	currentContextWindow int
	maxContextWindow     int
	totalInputTokens     int
	totalOutputTokens    int
	crossed              map[ThresholdKind]bool
	metrics              *metrics.Metrics

	// Crossings receives a Crossing the first time each threshold kind is
	// crossed. It is buffered so Record never blocks on a slow consumer;
	// callers that care about timely delivery should drain it promptly.
	Crossings chan Crossing
}

// SetMetrics wires a Metrics collector into the budget; every threshold
// crossing thereafter increments BudgetThresholdCrossed. Passing nil (the
// default) leaves it a no-op.
func (b *Budget) SetMetrics(m *metrics.Metrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
}

// New builds a Budget enforcing thresholds against a context window of
// maxContextWindow tokens (the provider/model's advertised limit).
func New(maxContextWindow int, thresholds Thresholds) *Budget {
	return &Budget{
		thresholds:       thresholds,
		maxContextWindow: maxContextWindow,
		crossed:          make(map[ThresholdKind]bool),
		Crossings:        make(chan Crossing, 4),
	}
}

// Record folds one AGENT_MESSAGE's usage into the running total and the
// current context window size (which, unlike the running total, reflects
// the provider's last-reported window occupancy rather than a cumulative
// sum, matching llmtypes.Usage.CurrentContextWindow).
func (b *Budget) Record(inputTokens, outputTokens, currentContextWindow int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalInputTokens += inputTokens
	b.totalOutputTokens += outputTokens
	b.currentContextWindow = currentContextWindow

	b.checkLocked()
}

func (b *Budget) checkLocked() {
	if b.maxContextWindow == 0 {
		return
	}
	ratio := float64(b.currentContextWindow) / float64(b.maxContextWindow)

	if ratio >= b.thresholds.CompactRatio && !b.crossed[ThresholdCompact] {
		b.crossed[ThresholdCompact] = true
		b.emit(ThresholdCompact)
	}
	if ratio >= b.thresholds.WarnRatio && !b.crossed[ThresholdWarn] {
		b.crossed[ThresholdWarn] = true
		b.emit(ThresholdWarn)
	}
}

func (b *Budget) emit(kind ThresholdKind) {
	b.metrics.BudgetThresholdCrossed(string(kind))
	select {
	case b.Crossings <- Crossing{Kind: kind, CurrentContextWindow: b.currentContextWindow, MaxContextWindow: b.maxContextWindow}:
	default:
	}
}

// ShouldCompact reports whether the compact threshold has been crossed
// since the last Reset.
func (b *Budget) ShouldCompact() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.crossed[ThresholdCompact]
}

// Totals returns the cumulative input/output token counts recorded so far.
func (b *Budget) Totals() (input, output int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalInputTokens, b.totalOutputTokens
}

// Reset clears the current context window and crossed-threshold
// tracking. Agent.maybeCompact calls it after Compactor.Compact has
// produced a successor thread with a fresh, smaller context.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentContextWindow = 0
	b.crossed = make(map[ThresholdKind]bool)
}
