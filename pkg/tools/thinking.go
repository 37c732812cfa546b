package tools

import (
	"context"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/types/tooltypes"
)

// ThinkingTool lets the model record a scratch thought without taking any
// other action. Inspired by https://www.anthropic.com/engineering/claude-think-tool.
type ThinkingTool struct{}

// ThinkingInput is ThinkingTool's input.
type ThinkingInput struct {
	Thought string `json:"thought" jsonschema:"description=A thought to think about"`
}

func (t *ThinkingTool) Name() string { return "thinking" }

func (t *ThinkingTool) Description() string {
	return `Records a thought without obtaining new information or changing any state.

Use it to organize hypotheses while troubleshooting, weigh architecture
options before a change, or break a complex task into steps before
acting on it.`
}

func (t *ThinkingTool) Annotations() tooltypes.Annotations {
	return tooltypes.Annotations{ReadOnly: true, Idempotent: true, ParallelSafe: true}
}

func (t *ThinkingTool) Timeout() time.Duration { return 5 * time.Second }

func (t *ThinkingTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[ThinkingInput]()
}

func (t *ThinkingTool) Execute(ctx context.Context, input []byte) (tooltypes.Result, error) {
	in, err := decodeJSON[ThinkingInput](input)
	if err != nil {
		return tooltypes.Result{}, err
	}
	if in.Thought == "" {
		return tooltypes.Result{}, errors.New("thought is required")
	}
	return tooltypes.Result{Content: []tooltypes.Block{tooltypes.Text("thought recorded")}}, nil
}
