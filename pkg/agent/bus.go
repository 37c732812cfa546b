package agent

import (
	"sync"

	"github.com/laceai/lace/pkg/approval"
	"github.com/laceai/lace/pkg/types/events"
)

// ObservedKind identifies the shape of an ObservedEvent delivered to a
// Subscribe channel. These are the UI-facing notifications listed under
// "Agent API exposed to UIs/CLIs" — they are never persisted themselves,
// only derived from persisted events or transient streaming state.
type ObservedKind string

// ObservedKind values.
const (
	ObsStateTransition    ObservedKind = "state_transition"
	ObsTextDelta          ObservedKind = "text_delta"
	ObsReasoningDelta     ObservedKind = "reasoning_delta"
	ObsToolCallStarted    ObservedKind = "tool_call_started"
	ObsToolCallFinished   ObservedKind = "tool_call_finished"
	ObsResponseComplete   ObservedKind = "response_complete"
	ObsApprovalRequested  ObservedKind = "approval_requested"
)

// ObservedEvent is one notification delivered to a subscriber. Only the
// fields relevant to Kind are populated.
type ObservedEvent struct {
	Kind ObservedKind

	// ObsStateTransition
	State State

	// ObsTextDelta / ObsReasoningDelta / ObsResponseComplete
	Text string

	// ObsToolCallStarted / ObsToolCallFinished
	CallID   string
	ToolName string
	Outcome  events.Outcome
	Content  []events.ContentBlock

	// ObsApprovalRequested
	Ticket *approval.Ticket
}

// bus fans out ObservedEvents to every live subscriber. Sends are
// non-blocking: a slow or absent subscriber never stalls a turn, matching
// the same drop-if-full discipline budget.Budget uses for its Crossings
// channel.
type bus struct {
	mu   sync.Mutex
	subs map[chan ObservedEvent]struct{}
}

func newBus() *bus {
	return &bus{subs: make(map[chan ObservedEvent]struct{})}
}

// Subscribe registers a new channel and returns it along with an
// unsubscribe function the caller must call when done listening.
func (b *bus) Subscribe(buffer int) (<-chan ObservedEvent, func()) {
	ch := make(chan ObservedEvent, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsub
}

func (b *bus) emit(ev ObservedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
