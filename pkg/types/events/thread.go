package events

import "time"

// Thread is a conversation's metadata record. The event log itself lives
// in EventStore; Thread only carries the identifiers and timestamps
// needed to resolve a compaction chain and a delegate's parentage.
type Thread struct {
	ThreadID       string    `json:"thread_id"`
	CanonicalID    string    `json:"canonical_id"`
	ParentThreadID string    `json:"parent_thread_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsRoot reports whether this thread has no canonical predecessor, i.e.
// it is the original (pre-compaction) thread in its chain.
func (t Thread) IsRoot() bool {
	return t.CanonicalID == t.ThreadID
}

// IsDelegate reports whether this thread was spawned as a delegate child.
func (t Thread) IsDelegate() bool {
	return t.ParentThreadID != ""
}

// GenericRole enumerates the role of a GenericMessage.
type GenericRole string

// GenericRole values, matching the ProviderAdapter contract's message shape.
const (
	RoleUser       GenericRole = "user"
	RoleAssistant  GenericRole = "assistant"
	RoleSystem     GenericRole = "system"
	RoleToolResult GenericRole = "tool_result"
)

// GenericContentKind identifies the shape of a GenericContentBlock.
type GenericContentKind string

// GenericContentKind values.
const (
	ContentText     GenericContentKind = "text"
	ContentToolUse  GenericContentKind = "tool_use"
	ContentToolResu GenericContentKind = "tool_result"
)

// GenericContentBlock is one block of a GenericMessage's content sequence.
// Adapters must preserve block order and call_id pairing across round-trips.
type GenericContentBlock struct {
	Kind         GenericContentKind `json:"kind"`
	Text         string             `json:"text,omitempty"`
	CallID       string             `json:"call_id,omitempty"`
	ToolName     string             `json:"tool_name,omitempty"`
	Input        []byte             `json:"input,omitempty"`
	ResultOutcome Outcome           `json:"result_outcome,omitempty"`
	ResultContent []ContentBlock    `json:"result_content,omitempty"`
}

// GenericMessage is the provider-agnostic conversation shape reconstructed
// from a thread's event log and handed to a ProviderAdapter for wire
// conversion.
type GenericMessage struct {
	Role    GenericRole           `json:"role"`
	Content []GenericContentBlock `json:"content"`
}
