package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/laceai/lace/pkg/types/provider"
)

// streamProcessor converts one anthropic.MessageStreamEventUnion at a time
// into normalized provider.Event values, tracking in-flight tool_use
// blocks by content index the way the block's deltas reference it.
// Grounded on the Anthropic-adapter streamer pattern of tracking content
// blocks by index between start/delta/stop events.
type streamProcessor struct {
	out       chan<- provider.Event
	toolCalls map[int64]string // content block index -> call id
}

func newStreamProcessor(out chan<- provider.Event) *streamProcessor {
	return &streamProcessor{out: out, toolCalls: make(map[int64]string)}
}

func (p *streamProcessor) handle(ctx context.Context, event sdk.MessageStreamEventUnion) {
	switch ev := event.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			p.toolCalls[ev.Index] = toolUse.ID
			send(ctx, p.out, provider.Event{
				Kind:     provider.EventToolCall,
				CallID:   toolUse.ID,
				ToolName: toolUse.Name,
			})
		}
	case sdk.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text != "" {
				send(ctx, p.out, provider.Event{Kind: provider.EventTextDelta, Text: delta.Text})
			}
		case sdk.ThinkingDelta:
			if delta.Thinking != "" {
				send(ctx, p.out, provider.Event{Kind: provider.EventReasoningDelta, Text: delta.Thinking})
			}
		case sdk.InputJSONDelta:
			if callID, ok := p.toolCalls[ev.Index]; ok && delta.PartialJSON != "" {
				send(ctx, p.out, provider.Event{
					Kind:           provider.EventToolCall,
					CallID:         callID,
					InputJSONChunk: delta.PartialJSON,
				})
			}
		}
	case sdk.ContentBlockStopEvent:
		delete(p.toolCalls, ev.Index)
	}
}
