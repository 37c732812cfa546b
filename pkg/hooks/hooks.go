// Package hooks is the lifecycle extensibility point ApprovalGate and Agent
// consult at well-known moments: before a tool call is approved, after a
// tool call settles, and at a turn's end. It is an in-process callback
// registry rather than a discoverer of external hook executables on
// disk — running arbitrary discovered binaries at lifecycle points is
// out of scope here. What's kept is the hook POINT itself —
// ApprovalGate.Decide and Agent's turn-boundary both call through a
// Manager, so the extensibility surface still exists for in-process
// policy/audit callbacks (e.g. a custom compliance check, an audit
// logger) registered by whatever embeds Lace.
package hooks

import "context"

// HookType identifies a lifecycle moment a callback can observe.
type HookType string

// HookType values.
const (
	HookTypeBeforeToolCall HookType = "before_tool_call"
	HookTypeAfterToolCall  HookType = "after_tool_call"
	HookTypeAfterTurn      HookType = "after_turn"
)

// BeforeToolCallFunc runs before ApprovalGate evaluates policy for a call.
// Returning blocked=true short-circuits the call to a denial.
type BeforeToolCallFunc func(ctx context.Context, toolName string, input []byte) (blocked bool, reason string, err error)

// AfterToolCallFunc observes a tool call's outcome once it settles.
type AfterToolCallFunc func(ctx context.Context, toolName string, outcome string)

// AfterTurnFunc runs once a turn reaches IDLE, before Agent checks whether
// to auto-compact.
type AfterTurnFunc func(ctx context.Context, threadID string)

// Manager holds the registered callbacks for each hook point. The zero
// value is a valid, empty Manager: every Trigger* method is a no-op until
// something is registered, and a nil *Manager is also safe to call through.
type Manager struct {
	beforeToolCall []BeforeToolCallFunc
	afterToolCall  []AfterToolCallFunc
	afterTurn      []AfterTurnFunc
}

// New builds an empty Manager.
func New() *Manager {
	return &Manager{}
}

// RegisterBeforeToolCall adds fn to the before_tool_call chain.
func (m *Manager) RegisterBeforeToolCall(fn BeforeToolCallFunc) {
	m.beforeToolCall = append(m.beforeToolCall, fn)
}

// RegisterAfterToolCall adds fn to the after_tool_call chain.
func (m *Manager) RegisterAfterToolCall(fn AfterToolCallFunc) {
	m.afterToolCall = append(m.afterToolCall, fn)
}

// RegisterAfterTurn adds fn to the after_turn chain.
func (m *Manager) RegisterAfterTurn(fn AfterTurnFunc) {
	m.afterTurn = append(m.afterTurn, fn)
}

// TriggerBeforeToolCall runs every registered before_tool_call callback in
// registration order, stopping at the first one that blocks or errors.
func (m *Manager) TriggerBeforeToolCall(ctx context.Context, toolName string, input []byte) (bool, string, error) {
	if m == nil {
		return false, "", nil
	}
	for _, fn := range m.beforeToolCall {
		blocked, reason, err := fn(ctx, toolName, input)
		if err != nil {
			return false, "", err
		}
		if blocked {
			return true, reason, nil
		}
	}
	return false, "", nil
}

// TriggerAfterToolCall runs every registered after_tool_call callback.
func (m *Manager) TriggerAfterToolCall(ctx context.Context, toolName, outcome string) {
	if m == nil {
		return
	}
	for _, fn := range m.afterToolCall {
		fn(ctx, toolName, outcome)
	}
}

// TriggerAfterTurn runs every registered after_turn callback.
func (m *Manager) TriggerAfterTurn(ctx context.Context, threadID string) {
	if m == nil {
		return
	}
	for _, fn := range m.afterTurn {
		fn(ctx, threadID)
	}
}

// HasHooks reports whether any callback is registered for hookType.
func (m *Manager) HasHooks(hookType HookType) bool {
	if m == nil {
		return false
	}
	switch hookType {
	case HookTypeBeforeToolCall:
		return len(m.beforeToolCall) > 0
	case HookTypeAfterToolCall:
		return len(m.afterToolCall) > 0
	case HookTypeAfterTurn:
		return len(m.afterTurn) > 0
	default:
		return false
	}
}
