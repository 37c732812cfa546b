// Package provider defines the ProviderAdapter contract: the boundary
// between Lace's generic conversation shape and a vendor-specific wire
// format. No component outside a concrete adapter package may hold a
// vendor-specific type; branching on provider name inside Agent or
// ToolExecutor is a design violation.
package provider

import (
	"context"

	"github.com/laceai/lace/pkg/types/events"
)

// StopReason is the terminal reason a streaming response ended.
type StopReason string

// StopReason values.
const (
	StopEnd       StopReason = "end"
	StopToolUse   StopReason = "tool_use"
	StopLength    StopReason = "length"
	StopCancelled StopReason = "cancelled"
	StopError     StopReason = "error"
)

// EventKind identifies the shape of a normalized streaming Event.
type EventKind string

// EventKind values yielded by CreateStreamingResponse, regardless of backend.
const (
	EventTextDelta      EventKind = "text_delta"
	EventReasoningDelta EventKind = "reasoning_delta"
	EventToolCall       EventKind = "tool_call"
	EventUsageUpdate    EventKind = "usage_update"
	EventFinished       EventKind = "finished"
)

// Event is one normalized item from a provider's streaming response. Only
// the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// EventTextDelta / EventReasoningDelta
	Text string

	// EventToolCall: input may arrive split across multiple deltas sharing
	// the same CallID; the adapter is responsible for chunk ordering, the
	// Agent is responsible for accumulating them into a complete JSON input.
	CallID        string
	ToolName      string
	InputJSONChunk string

	// EventUsageUpdate
	InputTokens  int
	OutputTokens int

	// EventFinished
	StopReason StopReason
	Err        error
}

// Tool is the minimal descriptor an adapter needs to advertise tools to
// the provider; it intentionally excludes the Annotations/Timeout fields
// that only ToolExecutor/ApprovalGate care about.
type Tool struct {
	Name        string
	Description string
	InputSchema []byte // JSON schema document
}

// Response is the result of a non-streaming call.
type Response struct {
	Message    events.GenericMessage
	Usage      events.Usage
	StopReason StopReason
}

// Adapter converts a generic conversation to a provider's wire format and
// back, yielding a normalized event stream for streaming calls. Adapters
// are the only components allowed to hold vendor-specific SDK types.
type Adapter interface {
	SupportsStreaming() bool
	ContextWindow() int
	MaxOutput() int

	CreateResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, tools []Tool) (Response, error)

	// CreateStreamingResponse returns a channel of normalized events. The
	// channel is closed after an EventFinished event (or earlier, on ctx
	// cancellation); the adapter owns closing it exactly once.
	CreateStreamingResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, tools []Tool) (<-chan Event, error)
}
