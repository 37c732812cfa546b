// Package tooltypes defines the Tool contract, its descriptor, and the
// execution context a Tool runs under. It is kept separate from the
// executor package so that tool implementations never import the
// executor (only the reverse).
package tooltypes

import (
	"context"
	"time"

	"github.com/invopop/jsonschema"
)

// Annotations describe a tool's side-effect profile, used by the
// ApprovalGate to derive default policy and by the ToolExecutor to
// decide whether calls in the same turn may run concurrently.
type Annotations struct {
	ReadOnly               bool `json:"read_only"`
	Destructive             bool `json:"destructive"`
	Idempotent              bool `json:"idempotent"`
	RequiresApprovalDefault bool `json:"requires_approval_by_default"`
	ParallelSafe            bool `json:"parallel_safe"`
}

// Descriptor is the registered shape of a Tool: everything the
// ApprovalGate, ToolExecutor, and ProviderAdapter need without invoking
// the tool itself.
type Descriptor struct {
	Name         string
	Description  string
	InputSchema  *jsonschema.Schema
	Annotations  Annotations
	Timeout      time.Duration
}

// Tool is the contract every tool implementation satisfies. Schema
// generation, naming, and execution are all the responsibility of the
// tool; the registry and executor never branch on concrete tool types.
type Tool interface {
	Name() string
	Description() string
	Annotations() Annotations
	Timeout() time.Duration
	GenerateSchema() *jsonschema.Schema
	Execute(ctx context.Context, input []byte) (Result, error)
}

// Result is what a Tool returns on successful invocation (the executor
// maps tool-level errors into a denied/timeout/error outcome itself;
// Execute only needs to return content blocks, or a Go error for a
// runtime failure).
type Result struct {
	Content []Block
}

// BlockKind identifies the shape of a Block.
type BlockKind string

// BlockKind values a tool may return.
const (
	BlockText       BlockKind = "text"
	BlockImageRef   BlockKind = "image_ref"
	BlockStructured BlockKind = "structured"
)

// Block is one typed unit of tool output content.
type Block struct {
	Kind       BlockKind
	Text       string
	ImageRef   string
	Structured []byte
}

// Text builds a text Block, the common case.
func Text(s string) Block {
	return Block{Kind: BlockText, Text: s}
}
