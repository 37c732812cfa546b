package openai

import (
	"context"

	sdk "github.com/sashabaranov/go-openai"

	"github.com/laceai/lace/pkg/types/provider"
)

// streamProcessor converts one sdk.ChatCompletionStreamResponse chunk at a
// time into normalized provider.Event values, tracking in-flight tool-call
// deltas by their index the way OpenAI's streaming protocol references
// them (an indexed toolCalls slice with additive Arguments), emitting
// provider.Event instead of building a final ChatCompletionResponse.
type streamProcessor struct {
	out          chan<- provider.Event
	names        map[int]string // tool-call index -> call id, once seen
	usage        sdk.Usage
	finishReason sdk.FinishReason
}

func newStreamProcessor(out chan<- provider.Event) *streamProcessor {
	return &streamProcessor{out: out, names: make(map[int]string)}
}

func (p *streamProcessor) handle(ctx context.Context, chunk sdk.ChatCompletionStreamResponse) {
	if chunk.Usage != nil {
		p.usage = *chunk.Usage
	}
	for _, choice := range chunk.Choices {
		delta := choice.Delta

		if delta.Content != "" {
			send(ctx, p.out, provider.Event{Kind: provider.EventTextDelta, Text: delta.Content})
		}
		if delta.ReasoningContent != "" {
			send(ctx, p.out, provider.Event{Kind: provider.EventReasoningDelta, Text: delta.ReasoningContent})
		}

		for _, tc := range delta.ToolCalls {
			if tc.Index == nil {
				continue
			}
			idx := *tc.Index
			callID, seen := p.names[idx]
			if !seen {
				callID = tc.ID
				p.names[idx] = callID
				send(ctx, p.out, provider.Event{
					Kind:     provider.EventToolCall,
					CallID:   callID,
					ToolName: tc.Function.Name,
				})
			}
			if tc.Function.Arguments != "" {
				send(ctx, p.out, provider.Event{
					Kind:           provider.EventToolCall,
					CallID:         callID,
					InputJSONChunk: tc.Function.Arguments,
				})
			}
		}

		if choice.FinishReason != "" {
			p.finishReason = choice.FinishReason
		}
	}
}
