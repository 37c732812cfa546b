package agent

import "github.com/laceai/lace/pkg/types"

// ErrBusy is returned by SendMessage when a turn is already in flight.
var ErrBusy = types.ErrBusy

// ErrIterationLimit is returned (and surfaced as an ERRORED transition)
// when a turn's tool-call loop exceeds MaxToolIterationsPerTurn without
// reaching CONVERSATION_COMPLETE.
var ErrIterationLimit = types.ErrIterationLimit

// ToolErrorKind sub-categorizes a TOOL_RESULT{outcome=error} the executor
// produced, matching events.Outcome plus the BAD_INPUT split the
// ProviderSemanticError path synthesizes without ever invoking a tool.
type ToolErrorKind string

// ToolErrorKind values.
const (
	ToolErrorUnknownTool ToolErrorKind = "UNKNOWN_TOOL"
	ToolErrorBadInput    ToolErrorKind = "BAD_INPUT"
	ToolErrorDenied      ToolErrorKind = "DENIED"
	ToolErrorTimeout     ToolErrorKind = "TIMEOUT"
	ToolErrorCancelled   ToolErrorKind = "CANCELLED"
	ToolErrorRuntime     ToolErrorKind = "RUNTIME"
)
