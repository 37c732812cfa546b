// Package events defines the immutable ThreadEvent log and the generic
// message shapes reconstructed from it. This is the wire format that
// EventStore persists and that ThreadManager/Agent reconstruct from.
package events

import (
	"encoding/json"
	"time"
)

// Kind identifies the payload shape of a ThreadEvent.
type Kind string

// Event kinds, per the thread's append-only log.
const (
	KindUserMessage      Kind = "USER_MESSAGE"
	KindAgentMessage     Kind = "AGENT_MESSAGE"
	KindToolCall         Kind = "TOOL_CALL"
	KindToolResult       Kind = "TOOL_RESULT"
	KindSystemPrompt     Kind = "SYSTEM_PROMPT"
	KindCompactionMarker Kind = "COMPACTION_MARKER"
)

// ThreadEvent is an immutable, append-only record in a thread's log.
// Events are never mutated or deleted; ordering within a thread is
// strictly by ID.
type ThreadEvent struct {
	ID        int64           `json:"id"`
	ThreadID  string          `json:"thread_id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// Usage carries token accounting from a single AGENT_MESSAGE.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// UserMessagePayload is the payload of a USER_MESSAGE event.
type UserMessagePayload struct {
	Text string `json:"text"`
}

// AgentMessagePayload is the payload of an AGENT_MESSAGE event.
type AgentMessagePayload struct {
	Text      string `json:"text"`
	Reasoning string `json:"reasoning,omitempty"`
	Usage     Usage  `json:"usage"`
}

// ToolCallPayload is the payload of a TOOL_CALL event.
type ToolCallPayload struct {
	CallID   string          `json:"call_id"`
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input"`
}

// Outcome enumerates the terminal states of a tool invocation.
type Outcome string

// Outcome values for TOOL_RESULT payloads.
const (
	OutcomeSuccess   Outcome = "success"
	OutcomeError     Outcome = "error"
	OutcomeDenied    Outcome = "denied"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// BlockKind identifies the shape of a ContentBlock.
type BlockKind string

// BlockKind values carried in TOOL_RESULT content.
const (
	BlockText       BlockKind = "text"
	BlockImageRef   BlockKind = "image_ref"
	BlockStructured BlockKind = "structured"
)

// ContentBlock is one typed unit of tool result content.
type ContentBlock struct {
	Kind       BlockKind       `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ImageRef   string          `json:"image_ref,omitempty"`
	Structured json.RawMessage `json:"structured,omitempty"`
}

// TextBlock builds a text ContentBlock.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ToolResultPayload is the payload of a TOOL_RESULT event.
type ToolResultPayload struct {
	CallID   string         `json:"call_id"`
	Outcome  Outcome        `json:"outcome"`
	Content  []ContentBlock `json:"content"`
	Duration time.Duration  `json:"duration"`
}

// SystemPromptPayload is the payload of a SYSTEM_PROMPT event.
type SystemPromptPayload struct {
	Text string `json:"text"`
	Role string `json:"role"`
}

// CompactionMarkerPayload is the payload of a COMPACTION_MARKER event.
type CompactionMarkerPayload struct {
	SourceThreadID string `json:"source_thread_id"`
	SummaryText    string `json:"summary_text"`
	FirstEventID   int64  `json:"first_event_id"`
	LastEventID    int64  `json:"last_event_id"`
}

// DecodeUserMessage unmarshals a USER_MESSAGE payload.
func DecodeUserMessage(e ThreadEvent) (UserMessagePayload, error) {
	var p UserMessagePayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeAgentMessage unmarshals an AGENT_MESSAGE payload.
func DecodeAgentMessage(e ThreadEvent) (AgentMessagePayload, error) {
	var p AgentMessagePayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeToolCall unmarshals a TOOL_CALL payload.
func DecodeToolCall(e ThreadEvent) (ToolCallPayload, error) {
	var p ToolCallPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeToolResult unmarshals a TOOL_RESULT payload.
func DecodeToolResult(e ThreadEvent) (ToolResultPayload, error) {
	var p ToolResultPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeSystemPrompt unmarshals a SYSTEM_PROMPT payload.
func DecodeSystemPrompt(e ThreadEvent) (SystemPromptPayload, error) {
	var p SystemPromptPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeCompactionMarker unmarshals a COMPACTION_MARKER payload.
func DecodeCompactionMarker(e ThreadEvent) (CompactionMarkerPayload, error) {
	var p CompactionMarkerPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// Encode marshals a typed payload for storage on a ThreadEvent.
func Encode(payload any) (json.RawMessage, error) {
	return json.Marshal(payload)
}
