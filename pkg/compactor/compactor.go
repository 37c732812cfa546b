// Package compactor implements Compactor: summarizing a thread into a new
// canonical-chained successor thread once TokenBudget reports its compact
// threshold crossed.
package compactor

import (
	"context"

	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/logger"
	"github.com/laceai/lace/pkg/store"
	"github.com/laceai/lace/pkg/threadmgr"
	"github.com/laceai/lace/pkg/types/events"
	"github.com/laceai/lace/pkg/types/provider"
)

// SummarizationPrompt is the system prompt sent to the designated
// summarization model, asking it to distill a thread's messages into a
// carryable summary.
const SummarizationPrompt = `Summarize the conversation so far into a concise brief a new conversation
can resume from. Preserve unresolved tasks, decisions made, and any facts
a continuation would need. Do not include pleasantries.`

// Compactor produces a summary of a thread and starts a successor thread
// in the same canonical chain.
type Compactor struct {
	store    store.EventStore
	mgr      *threadmgr.Manager
	provider provider.Adapter
}

// New builds a Compactor that reads raw events from es, reconstructs and
// creates threads via mgr, and summarizes using adapter.
func New(es store.EventStore, mgr *threadmgr.Manager, adapter provider.Adapter) *Compactor {
	return &Compactor{store: es, mgr: mgr, provider: adapter}
}

// Compact summarizes sourceThreadID and returns a new thread sharing its
// canonical_id, headed by a COMPACTION_MARKER event. When carryTail > 0,
// the last carryTail turns of the source thread's reconstructed messages
// are replayed onto the successor as plain events (see carryTail) so the
// model has immediate local context beyond the summary text.
func (c *Compactor) Compact(ctx context.Context, sourceThreadID string, carryTail int) (events.Thread, error) {
	source, err := c.mgr.GetThread(ctx, sourceThreadID)
	if err != nil {
		return events.Thread{}, errors.Wrap(err, "load source thread")
	}

	firstID, lastID, err := c.span(ctx, sourceThreadID)
	if err != nil {
		return events.Thread{}, errors.Wrap(err, "compute source span")
	}

	messages, err := c.mgr.Messages(ctx, sourceThreadID)
	if err != nil {
		return events.Thread{}, errors.Wrap(err, "reconstruct source messages")
	}

	summary, err := c.summarize(ctx, messages)
	if err != nil {
		return events.Thread{}, errors.Wrap(err, "summarize thread")
	}

	successor, err := c.mgr.CreateSuccessorThread(ctx, source.CanonicalID)
	if err != nil {
		return events.Thread{}, errors.Wrap(err, "create successor thread")
	}

	markerPayload, err := events.Encode(events.CompactionMarkerPayload{
		SourceThreadID: sourceThreadID,
		SummaryText:    summary,
		FirstEventID:   firstID,
		LastEventID:    lastID,
	})
	if err != nil {
		return events.Thread{}, errors.Wrap(err, "encode compaction marker")
	}
	if _, err := c.mgr.AppendEvent(ctx, successor.ThreadID, events.KindCompactionMarker, markerPayload); err != nil {
		return events.Thread{}, errors.Wrap(err, "append compaction marker")
	}

	if carryTail > 0 {
		if err := c.carryTail(ctx, successor.ThreadID, messages, carryTail); err != nil {
			return events.Thread{}, errors.Wrap(err, "carry tail messages")
		}
	}

	logger.G(ctx).WithField("source_thread_id", sourceThreadID).
		WithField("successor_thread_id", successor.ThreadID).
		Info("compacted thread")

	return successor, nil
}

func (c *Compactor) span(ctx context.Context, threadID string) (first, last int64, err error) {
	for ev, iterErr := range c.store.EventsForThread(ctx, threadID) {
		if iterErr != nil {
			return 0, 0, iterErr
		}
		if first == 0 {
			first = ev.ID
		}
		last = ev.ID
	}
	return first, last, nil
}

func (c *Compactor) summarize(ctx context.Context, messages []events.GenericMessage) (string, error) {
	resp, err := c.provider.CreateResponse(ctx, SummarizationPrompt, messages, nil)
	if err != nil {
		return "", err
	}
	var text string
	for _, block := range resp.Message.Content {
		if block.Kind == events.ContentText {
			text += block.Text
		}
	}
	if text == "" {
		return "", errors.New("summarization produced no text content")
	}
	return text, nil
}

// carryTail replays the last n turns of the reconstructed messages onto
// threadID as plain events. A turn starts at a user message and runs
// through every message after it up to the next user message; when the
// thread has fewer than n turns, every message is replayed. Text blocks
// become USER_MESSAGE/AGENT_MESSAGE events;
// ContentToolUse/ContentToolResu blocks become TOOL_CALL/TOOL_RESULT
// events with call_id preserved, so a tool interaction still in the
// carried window stays a pairable call/result on the successor thread
// instead of being dropped.
func (c *Compactor) carryTail(ctx context.Context, threadID string, messages []events.GenericMessage, n int) error {
	start := len(messages)
	for turns := 0; start > 0 && turns < n; {
		start--
		if messages[start].Role == events.RoleUser {
			turns++
		}
	}
	for _, m := range messages[start:] {
		for _, block := range m.Content {
			kind, payload, err := c.carryBlock(m, block)
			if err != nil {
				return err
			}
			if kind == "" {
				continue
			}
			if _, err := c.mgr.AppendEvent(ctx, threadID, kind, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// carryBlock translates one reconstructed content block into the event
// kind/payload it should be replayed as. An empty kind means the block
// carries nothing worth replaying (e.g. an empty text block).
func (c *Compactor) carryBlock(m events.GenericMessage, block events.GenericContentBlock) (events.Kind, []byte, error) {
	switch block.Kind {
	case events.ContentText:
		if block.Text == "" {
			return "", nil, nil
		}
		if m.Role == events.RoleAssistant {
			payload, err := events.Encode(events.AgentMessagePayload{Text: block.Text})
			return events.KindAgentMessage, payload, err
		}
		payload, err := events.Encode(events.UserMessagePayload{Text: block.Text})
		return events.KindUserMessage, payload, err

	case events.ContentToolUse:
		payload, err := events.Encode(events.ToolCallPayload{
			CallID:   block.CallID,
			ToolName: block.ToolName,
			Input:    block.Input,
		})
		return events.KindToolCall, payload, err

	case events.ContentToolResu:
		payload, err := events.Encode(events.ToolResultPayload{
			CallID:  block.CallID,
			Outcome: block.ResultOutcome,
			Content: block.ResultContent,
		})
		return events.KindToolResult, payload, err

	default:
		return "", nil, nil
	}
}
