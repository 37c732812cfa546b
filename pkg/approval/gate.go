// Package approval implements the ApprovalGate: the static allow/deny
// policy plus the async ask flow a ToolExecutor consults before invoking a
// tool whose Annotations mark it as requiring confirmation. The async
// protocol (an outcome of selected/dismissed/timeout) is the same shape
// the ACP client uses to ask a connected UI for permission.
package approval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/hooks"
	"github.com/laceai/lace/pkg/types/tooltypes"
)

// Decision is the gate's verdict for one tool call.
type Decision string

// Decision values.
const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionAsk   Decision = "ask"
)

// Outcome is how an ask-flow Ticket was eventually resolved.
type Outcome string

// Outcome values, matching the ACP permission-request protocol.
const (
	OutcomeSelected  Outcome = "selected"
	OutcomeDismissed Outcome = "dismissed"
	OutcomeTimeout   Outcome = "timeout"
)

// Policy is the static configuration consulted before falling back to a
// tool's own Annotations.RequiresApprovalDefault.
type Policy struct {
	AutoAllow              []string
	AutoDeny                []string
	DefaultForDestructive Decision // must be DecisionAsk or DecisionDeny
}

// Evaluate returns the gate's static verdict for a tool call, before any
// async ask flow. It never returns DecisionAsk by itself for a tool not
// covered by policy unless ann.RequiresApprovalDefault or
// ann.Destructive says so.
func (p Policy) Evaluate(toolName string, ann tooltypes.Annotations) Decision {
	for _, n := range p.AutoDeny {
		if n == toolName {
			return DecisionDeny
		}
	}
	for _, n := range p.AutoAllow {
		if n == toolName {
			return DecisionAllow
		}
	}
	if ann.Destructive {
		if p.DefaultForDestructive == "" {
			return DecisionAsk
		}
		return p.DefaultForDestructive
	}
	if ann.RequiresApprovalDefault {
		return DecisionAsk
	}
	return DecisionAllow
}

// Ticket represents a pending ask-flow request. A caller outside the
// ToolExecutor (a connected UI, a CLI prompt) resolves it by calling
// Resolve; Wait blocks until that happens or ctx is done.
type Ticket struct {
	id       string
	resultCh chan Outcome
	once     sync.Once
}

func newTicket(id string) *Ticket {
	return &Ticket{id: id, resultCh: make(chan Outcome, 1)}
}

// ID identifies this ticket for logging/correlation.
func (t *Ticket) ID() string { return t.id }

// Resolve delivers the outcome to whatever is waiting on Wait. Only the
// first call has effect.
func (t *Ticket) Resolve(outcome Outcome) {
	t.once.Do(func() {
		t.resultCh <- outcome
		close(t.resultCh)
	})
}

// Wait blocks for a resolution or ctx cancellation, whichever comes
// first, returning OutcomeTimeout on cancellation.
func (t *Ticket) Wait(ctx context.Context) Outcome {
	select {
	case o := <-t.resultCh:
		return o
	case <-ctx.Done():
		return OutcomeTimeout
	}
}

// Gate is the ApprovalGate: static policy plus an idempotence cache that
// remembers the verdict for a given (tool, input) pair within a turn, so
// a retried or duplicated call doesn't re-prompt the user. The cache is
// scoped to a single turn: callers reset it via ResetTurn at the start
// of each turn so a denial (or an earlier unrelated thread's decision)
// never outlives the turn it was made in.
type Gate struct {
	policy Policy

	mu    sync.Mutex
	cache map[string]Decision

	// AskFunc is invoked for DecisionAsk verdicts; the caller (e.g. the
	// CLI or ACP bridge) supplies this to actually surface the prompt. A
	// nil AskFunc makes every ask resolve to denied, which is the safe
	// default for a gate with no attached UI.
	AskFunc func(ctx context.Context, toolName string, input []byte, ticket *Ticket)

	// Hooks is consulted before policy evaluation; a before_tool_call
	// hook that blocks a call short-circuits straight to DecisionDeny. A
	// nil Hooks (the default) leaves this step a no-op.
	Hooks *hooks.Manager
}

// New builds a Gate enforcing policy.
func New(policy Policy) *Gate {
	return &Gate{policy: policy, cache: make(map[string]Decision)}
}

// ResetTurn clears the idempotence cache. Callers driving a turn state
// machine call this once at the start of every turn so a cached verdict
// never carries over into a later, unrelated turn.
func (g *Gate) ResetTurn() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache = make(map[string]Decision)
}

// cacheKey hashes (tool name, input) into a stable idempotence key, the
// same way a content-addressed call log keys on a hash of its arguments.
func cacheKey(toolName string, input []byte) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

// Decide returns the gate's final decision for one tool call, resolving
// an ask-flow synchronously via AskFunc if the static policy doesn't
// already allow or deny it outright. The result is cached by
// (tool, input) until the next ResetTurn; a ticket that ends in
// OutcomeTimeout denies the call but is not cached.
func (g *Gate) Decide(ctx context.Context, toolName string, ann tooltypes.Annotations, input []byte) (Decision, error) {
	key := cacheKey(toolName, input)

	g.mu.Lock()
	if cached, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return cached, nil
	}
	g.mu.Unlock()

	blocked, _, err := g.Hooks.TriggerBeforeToolCall(ctx, toolName, input)
	if err != nil {
		return "", errors.Wrap(err, "before_tool_call hook")
	}
	if blocked {
		g.remember(key, DecisionDeny)
		return DecisionDeny, nil
	}

	verdict := g.policy.Evaluate(toolName, ann)
	if verdict != DecisionAsk {
		g.remember(key, verdict)
		return verdict, nil
	}

	if g.AskFunc == nil {
		g.remember(key, DecisionDeny)
		return DecisionDeny, nil
	}

	ticket := newTicket(key)
	g.AskFunc(ctx, toolName, input, ticket)
	outcome := ticket.Wait(ctx)

	// A timeout (typically ctx cancellation, not a user decision) denies
	// this call but isn't remembered: an unresolved ask shouldn't
	// permanently auto-deny a retry of the same call later in the turn.
	if outcome == OutcomeTimeout {
		return DecisionDeny, nil
	}

	final := DecisionDeny
	if outcome == OutcomeSelected {
		final = DecisionAllow
	}
	g.remember(key, final)
	return final, nil
}

func (g *Gate) remember(key string, d Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[key] = d
}

// ErrApprovalDenied is returned by callers that translate a DecisionDeny
// verdict into a hard error instead of a denied ToolResult outcome.
var ErrApprovalDenied = errors.New("tool call denied by approval gate")
