package agent

import (
	"context"
	"sync"

	"github.com/laceai/lace/pkg/approval"
	"github.com/laceai/lace/pkg/budget"
	"github.com/laceai/lace/pkg/compactor"
	"github.com/laceai/lace/pkg/executor"
	"github.com/laceai/lace/pkg/hooks"
	"github.com/laceai/lace/pkg/metrics"
	"github.com/laceai/lace/pkg/threadmgr"
	"github.com/laceai/lace/pkg/tools"
	"github.com/laceai/lace/pkg/types/provider"
)

// Deps bundles the leaf services an Agent drives. Agent -> ThreadManager
// -> EventStore is strictly one-way; Deps is how that one-way wiring is
// assembled once and shared across every Agent instance operating on
// the same store, including delegate children, without any service
// holding a reference back to an Agent.
type Deps struct {
	Manager  *threadmgr.Manager
	Provider provider.Adapter
	Executor *executor.Executor
	Registry *tools.Registry
	Gate     *approval.Gate

	// Compactor is optional; a nil Compactor disables auto-compaction for
	// this Agent (e.g. a delegate child that should run to completion
	// without ever trying to summarize itself).
	Compactor *compactor.Compactor

	// Metrics is optional; a nil Metrics leaves turn instrumentation a
	// no-op.
	Metrics *metrics.Metrics

	// Hooks is optional; a nil Hooks leaves the after_turn lifecycle
	// point a no-op.
	Hooks *hooks.Manager

	// ProviderResolver builds a provider.Adapter for a given
	// provider_selector/model pair. It is optional for an Agent driven
	// directly, but Delegate requires it to honor a DelegateConstraints
	// that names a provider_selector or model different from the
	// parent's — without it, such a delegation fails rather than
	// silently running on the parent's adapter.
	ProviderResolver func(selector, model string) (provider.Adapter, error)
}

// Agent is the turn state machine: it drives a
// ProviderAdapter, extracts tool calls, dispatches them to a ToolExecutor,
// appends events via ThreadManager, and emits observable state
// transitions. It borrows its dependencies and persists no state of its
// own beyond the events it appends.
type Agent struct {
	deps     Deps
	cfg      Config
	threadID string

	budget *budget.Budget
	bus    *bus

	// stateMu guards state/cancel/done: the single-in-flight-turn
	// serialization point every SendMessage/Abort call goes through.
	stateMu sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
}
