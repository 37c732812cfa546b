package tools

import (
	"context"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/types/tooltypes"
)

// TodoReadTool reads the calling thread's current todo list.
type TodoReadTool struct {
	store *TodoStore
}

// NewTodoReadTool builds a TodoReadTool backed by store.
func NewTodoReadTool(store *TodoStore) *TodoReadTool {
	return &TodoReadTool{store: store}
}

// TodoReadInput is TodoReadTool's input (it takes none).
type TodoReadInput struct{}

func (t *TodoReadTool) Name() string { return "todo_read" }

func (t *TodoReadTool) Description() string {
	return `Reads the current todo list for this conversation.

Useful for reviewing progress on a non-trivial task, or for re-orienting
if track of the remaining work has been lost.`
}

func (t *TodoReadTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{ReadOnly: true, Idempotent: true, ParallelSafe: true}
}

func (t *TodoReadTool) Timeout() time.Duration { return 5 * time.Second }

func (t *TodoReadTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[TodoReadInput]()
}

func (t *TodoReadTool) Execute(ctx context.Context, _ []byte) (tooltypes.Result, error) {
	threadID, ok := threadIDFromContext(ctx)
	if !ok {
		return tooltypes.Result{}, errors.New("no thread associated with this call")
	}
	todos := t.store.Get(threadID)
	return tooltypes.Result{Content: []tooltypes.Block{tooltypes.Text(formatTodos(todos))}}, nil
}
