package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/types/tooltypes"
)

// TodoWriteTool replaces the calling thread's full todo list.
type TodoWriteTool struct {
	store *TodoStore
}

// NewTodoWriteTool builds a TodoWriteTool backed by store.
func NewTodoWriteTool(store *TodoStore) *TodoWriteTool {
	return &TodoWriteTool{store: store}
}

// TodoWriteInput is TodoWriteTool's input.
type TodoWriteInput struct {
	Todos []Todo `json:"todos" jsonschema:"description=The full list of todos including all pending, in_progress, completed, and canceled ones"`
}

func (t *TodoWriteTool) Name() string { return "todo_write" }

func (t *TodoWriteTool) Description() string {
	return `Creates or updates the todo list for the current task.

Use this when work is non-trivial (more than a few meaningful steps), the
user asks to track progress, or the user gives a task list. Don't use it
for a single simple command or pure Q&A.

Always pass the full current list, not a partial update. Keep exactly
one todo "in_progress"; mark items "completed" or "canceled" as soon as
their state changes, and add newly discovered work as "pending".`
}

func (t *TodoWriteTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{ParallelSafe: false}
}

func (t *TodoWriteTool) Timeout() time.Duration { return 5 * time.Second }

func (t *TodoWriteTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[TodoWriteInput]()
}

func (t *TodoWriteTool) Execute(ctx context.Context, input []byte) (tooltypes.Result, error) {
	threadID, ok := threadIDFromContext(ctx)
	if !ok {
		return tooltypes.Result{}, errors.New("no thread associated with this call")
	}

	in, err := decodeJSON[TodoWriteInput](input)
	if err != nil {
		return tooltypes.Result{}, err
	}
	if len(in.Todos) == 0 {
		return tooltypes.Result{}, errors.New("todos must include at least one item")
	}
	for i, todo := range in.Todos {
		if todo.Content == "" {
			return tooltypes.Result{}, errors.Errorf("todo %d: content is required", i)
		}
		switch todo.Status {
		case Pending, InProgress, Completed, Canceled:
		default:
			return tooltypes.Result{}, errors.Errorf("todo %d: invalid status %q", i, todo.Status)
		}
		switch todo.Priority {
		case Low, Medium, High:
		default:
			return tooltypes.Result{}, errors.Errorf("todo %d: invalid priority %q", i, todo.Priority)
		}
	}

	t.store.Set(threadID, in.Todos)
	msg := fmt.Sprintf("todo list updated, %d item(s)\n\n%s", len(in.Todos), formatTodos(in.Todos))
	return tooltypes.Result{Content: []tooltypes.Block{tooltypes.Text(msg)}}, nil
}
