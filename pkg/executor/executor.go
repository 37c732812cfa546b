// Package executor implements the ToolExecutor pipeline: resolve a tool
// call against the registry, validate its input against the tool's JSON
// schema, consult the ApprovalGate, invoke with a timeout, and capture
// the outcome as the shape a thread's event log stores.
package executor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/laceai/lace/pkg/approval"
	"github.com/laceai/lace/pkg/hooks"
	"github.com/laceai/lace/pkg/logger"
	"github.com/laceai/lace/pkg/metrics"
	"github.com/laceai/lace/pkg/telemetry"
	"github.com/laceai/lace/pkg/tools"
	"github.com/laceai/lace/pkg/types/events"
	"github.com/laceai/lace/pkg/types/tooltypes"
)

// Call is one tool invocation requested by a provider's response.
type Call struct {
	CallID   string
	ToolName string
	Input    json.RawMessage
}

// Result pairs a Call with the outcome of executing it, in the shape a
// thread's TOOL_RESULT event stores.
type Result struct {
	CallID   string
	Outcome  events.Outcome
	Content  []events.ContentBlock
	Duration time.Duration
	Err      error
}

// Executor runs tool calls against a Registry, gated by an
// approval.Gate and bounded by each tool's own Timeout.
type Executor struct {
	registry *tools.Registry
	gate     *approval.Gate
	metrics  *metrics.Metrics
	hooks    *hooks.Manager

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// New builds an Executor serving registry's tools, gated by gate.
func New(registry *tools.Registry, gate *approval.Gate) *Executor {
	return &Executor{registry: registry, gate: gate, compiled: make(map[string]*jsonschema.Schema)}
}

// SetMetrics wires a Metrics collector into the executor; every execution
// thereafter records its tool name/outcome/duration. Passing nil (the
// default) leaves metrics recording a no-op.
func (e *Executor) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetHooks wires a hooks.Manager into the executor; every execution
// thereafter fires its after_tool_call callbacks. Passing nil (the
// default) leaves this a no-op.
func (e *Executor) SetHooks(m *hooks.Manager) {
	e.hooks = m
}

// Execute runs every call, respecting each tool's ParallelSafe
// annotation: parallel-safe calls run concurrently via an errgroup,
// calls marked unsafe for concurrency wait for every in-flight call to
// settle first. Results are returned in the same order as calls.
func (e *Executor) Execute(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))

	i := 0
	for i < len(calls) {
		batch := e.nextBatch(calls, i)
		g, gctx := errgroup.WithContext(ctx)
		for _, idx := range batch {
			idx := idx
			g.Go(func() error {
				results[idx] = e.executeOne(gctx, calls[idx])
				return nil
			})
		}
		_ = g.Wait()
		i += len(batch)
	}

	return results
}

// nextBatch groups consecutive parallel-safe calls starting at i into one
// batch, or returns a single-call batch for an unsafe (or unknown) tool.
func (e *Executor) nextBatch(calls []Call, i int) []int {
	tool, ok := e.registry.Get(calls[i].ToolName)
	if !ok || !tool.Annotations().ParallelSafe {
		return []int{i}
	}
	batch := []int{i}
	for j := i + 1; j < len(calls); j++ {
		t, ok := e.registry.Get(calls[j].ToolName)
		if !ok || !t.Annotations().ParallelSafe {
			break
		}
		batch = append(batch, j)
	}
	return batch
}

func (e *Executor) executeOne(ctx context.Context, call Call) Result {
	start := time.Now()

	var result Result
	_ = telemetry.WithSpan(ctx, "executor.execute_tool", func(spanCtx context.Context) error {
		result = e.run(spanCtx, call, start)
		return result.Err
	}, attribute.String("tool.name", call.ToolName), attribute.String("tool.call_id", call.CallID))
	e.metrics.RecordToolExecution(call.ToolName, string(result.Outcome), result.Duration)
	e.hooks.TriggerAfterToolCall(ctx, call.ToolName, string(result.Outcome))
	return result
}

func (e *Executor) run(ctx context.Context, call Call, start time.Time) Result {
	tool, ok := e.registry.Get(call.ToolName)
	if !ok {
		return errored(call, start, errors.Errorf("unknown tool: %s", call.ToolName))
	}

	if err := e.validate(tool, call.Input); err != nil {
		return Result{
			CallID:   call.CallID,
			Outcome:  events.OutcomeError,
			Content:  []events.ContentBlock{events.TextBlock(err.Error())},
			Duration: time.Since(start),
			Err:      err,
		}
	}

	decision, err := e.gate.Decide(ctx, call.ToolName, tool.Annotations(), call.Input)
	if err != nil {
		return errored(call, start, err)
	}
	if decision == approval.DecisionDeny {
		logger.G(ctx).WithField("tool", call.ToolName).Info("tool call denied by approval gate")
		return Result{
			CallID:   call.CallID,
			Outcome:  events.OutcomeDenied,
			Content:  []events.ContentBlock{events.TextBlock("tool call denied by approval gate")},
			Duration: time.Since(start),
			Err:      approval.ErrApprovalDenied,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, tool.Timeout())
	defer cancel()

	out, err := tool.Execute(callCtx, call.Input)
	duration := time.Since(start)

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return Result{
				CallID:   call.CallID,
				Outcome:  events.OutcomeTimeout,
				Content:  []events.ContentBlock{events.TextBlock("tool call timed out")},
				Duration: duration,
				Err:      err,
			}
		}
		if ctx.Err() == context.Canceled {
			return Result{
				CallID:   call.CallID,
				Outcome:  events.OutcomeCancelled,
				Content:  []events.ContentBlock{events.TextBlock("tool call cancelled")},
				Duration: duration,
				Err:      err,
			}
		}
		return Result{
			CallID:   call.CallID,
			Outcome:  events.OutcomeError,
			Content:  []events.ContentBlock{events.TextBlock(err.Error())},
			Duration: duration,
			Err:      err,
		}
	}

	return Result{
		CallID:   call.CallID,
		Outcome:  events.OutcomeSuccess,
		Content:  toContentBlocks(out),
		Duration: duration,
	}
}

func errored(call Call, start time.Time, err error) Result {
	return Result{
		CallID:   call.CallID,
		Outcome:  events.OutcomeError,
		Content:  []events.ContentBlock{events.TextBlock(err.Error())},
		Duration: time.Since(start),
		Err:      err,
	}
}

func toContentBlocks(result tooltypes.Result) []events.ContentBlock {
	out := make([]events.ContentBlock, 0, len(result.Content))
	for _, b := range result.Content {
		switch b.Kind {
		case tooltypes.BlockImageRef:
			out = append(out, events.ContentBlock{Kind: events.BlockImageRef, ImageRef: b.ImageRef})
		case tooltypes.BlockStructured:
			out = append(out, events.ContentBlock{Kind: events.BlockStructured, Structured: b.Structured})
		default:
			out = append(out, events.TextBlock(b.Text))
		}
	}
	return out
}

// validate compiles (and caches) the tool's JSON schema, then validates
// input against it.
func (e *Executor) validate(tool tooltypes.Tool, input json.RawMessage) error {
	schema, err := e.schemaFor(tool)
	if err != nil {
		return errors.Wrap(err, "compile schema")
	}
	if schema == nil {
		return nil
	}

	var doc any
	if err := json.Unmarshal(input, &doc); err != nil {
		return errors.Wrap(err, "invalid tool input")
	}
	if err := schema.Validate(doc); err != nil {
		return errors.Wrap(err, "input does not satisfy tool schema")
	}
	return nil
}

func (e *Executor) schemaFor(tool tooltypes.Tool) (*jsonschema.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.compiled[tool.Name()]; ok {
		return s, nil
	}

	raw, err := json.Marshal(tool.GenerateSchema())
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	resourceID := tool.Name() + ".json"
	if err := c.AddResource(resourceID, doc); err != nil {
		return nil, err
	}
	schema, err := c.Compile(resourceID)
	if err != nil {
		return nil, err
	}

	e.compiled[tool.Name()] = schema
	return schema, nil
}
