// Package agent implements Agent, the per-conversation turn state
// machine described as "the heart" of the core: it reconstructs a
// thread's conversation, drives a ProviderAdapter's streaming response,
// extracts and dispatches tool calls to a ToolExecutor, appends the
// resulting events, and triggers compaction at turn boundaries when the
// TokenBudget crosses its compact threshold.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/approval"
	budgetpkg "github.com/laceai/lace/pkg/budget"
	"github.com/laceai/lace/pkg/executor"
	"github.com/laceai/lace/pkg/logger"
	"github.com/laceai/lace/pkg/telemetry"
	"github.com/laceai/lace/pkg/types/events"
	"github.com/laceai/lace/pkg/types/provider"
)

// New builds an Agent driving threadID. threadID must already exist
// (created via deps.Manager.CreateThread or CreateChildThread). cfg is
// defaulted against DefaultConfig for any zero-valued field that must
// not be zero.
func New(threadID string, deps Deps, cfg Config) *Agent {
	cfg = withDefaults(cfg)

	a := &Agent{
		deps:     deps,
		cfg:      cfg,
		threadID: threadID,
		budget:   budgetpkg.New(deps.Provider.ContextWindow(), budgetpkg.Thresholds{WarnRatio: cfg.ContextWarnPct, CompactRatio: cfg.ContextCompactPct}),
		bus:      newBus(),
		state:    StateIdle,
	}

	if deps.Gate != nil && deps.Gate.AskFunc == nil {
		deps.Gate.AskFunc = a.relayApproval
	}

	a.budget.SetMetrics(deps.Metrics)

	return a
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.ContextWarnPct == 0 {
		cfg.ContextWarnPct = def.ContextWarnPct
	}
	if cfg.ContextCompactPct == 0 {
		cfg.ContextCompactPct = def.ContextCompactPct
	}
	if cfg.PerToolTimeout == 0 {
		cfg.PerToolTimeout = def.PerToolTimeout
	}
	if cfg.PerTurnTimeout == 0 {
		cfg.PerTurnTimeout = def.PerTurnTimeout
	}
	if cfg.MaxToolIterationsPerTurn == 0 {
		cfg.MaxToolIterationsPerTurn = def.MaxToolIterationsPerTurn
	}
	if cfg.CarryTailTurns == 0 {
		cfg.CarryTailTurns = def.CarryTailTurns
	}
	return cfg
}

// ThreadID returns the thread this Agent currently appends to. It
// changes across a compaction, so callers that need a reference stable
// across compactions should track the thread's CanonicalID instead.
func (a *Agent) ThreadID() string {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.threadID
}

// State returns the Agent's current observable state.
func (a *Agent) State() State {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state
}

// Subscribe registers for ObservedEvents (state transitions, streaming
// deltas, tool lifecycle, response completion, approval requests). The
// returned func must be called to stop receiving events and release the
// channel.
func (a *Agent) Subscribe() (<-chan ObservedEvent, func()) {
	return a.bus.Subscribe(32)
}

func (a *Agent) relayApproval(ctx context.Context, toolName string, input []byte, ticket *approval.Ticket) {
	a.bus.emit(ObservedEvent{Kind: ObsApprovalRequested, ToolName: toolName, Ticket: ticket})
}

func (a *Agent) setState(s State) {
	a.stateMu.Lock()
	a.state = s
	a.stateMu.Unlock()
	a.bus.emit(ObservedEvent{Kind: ObsStateTransition, State: s})
}

// SendMessage begins a turn: it appends a USER_MESSAGE, drives the
// provider/tool loop to completion (CONVERSATION_COMPLETE, CANCELLED, or
// ERRORED), and returns once the Agent is back at IDLE. It fails fast
// with ErrBusy if a turn is already in flight. Empty text is accepted
// and appended as-is.
func (a *Agent) SendMessage(ctx context.Context, text string) error {
	a.stateMu.Lock()
	if a.state != StateIdle {
		a.stateMu.Unlock()
		return ErrBusy
	}
	turnCtx, cancel := context.WithTimeout(ctx, a.cfg.PerTurnTimeout)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.state = StateThinking
	a.stateMu.Unlock()
	a.bus.emit(ObservedEvent{Kind: ObsStateTransition, State: StateThinking})

	turnStart := time.Now()
	a.deps.Metrics.TurnStarted(a.cfg.ProviderSelector)
	a.deps.Gate.ResetTurn()

	defer func() {
		cancel()
		a.stateMu.Lock()
		done := a.done
		a.done = nil
		a.cancel = nil
		a.stateMu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	payload, err := events.Encode(events.UserMessagePayload{Text: text})
	if err != nil {
		return a.fail(ctx, errors.Wrap(err, "encode user message"))
	}
	if _, err := a.deps.Manager.AppendEvent(ctx, a.threadID, events.KindUserMessage, payload); err != nil {
		return a.fail(ctx, errors.Wrap(err, "append user message"))
	}

	result := a.runLoop(turnCtx)

	switch result.outcome {
	case loopComplete:
		a.deps.Metrics.TurnFinished(a.cfg.ProviderSelector, "complete", time.Since(turnStart))
		a.setState(StateConversationComplete)
		a.bus.emit(ObservedEvent{Kind: ObsResponseComplete, Text: result.finalText})
		a.setState(StateIdle)
		a.maybeCompact(ctx)
		return nil
	case loopCancelled:
		a.deps.Metrics.TurnFinished(a.cfg.ProviderSelector, "cancelled", time.Since(turnStart))
		a.setState(StateCancelled)
		a.setState(StateIdle)
		return context.Canceled
	default:
		a.deps.Metrics.TurnFinished(a.cfg.ProviderSelector, "errored", time.Since(turnStart))
		a.setState(StateErrored)
		a.setState(StateIdle)
		return result.err
	}
}

// SetSystemPrompt appends a new SYSTEM_PROMPT event (a persona change)
// and updates the prompt used for every subsequent turn on this
// thread. It fails with ErrBusy if a turn is in flight, since the prompt
// a running turn already reconstructed must not change out from under it.
func (a *Agent) SetSystemPrompt(ctx context.Context, text, role string) error {
	a.stateMu.Lock()
	if a.state != StateIdle {
		a.stateMu.Unlock()
		return ErrBusy
	}
	threadID := a.threadID
	a.stateMu.Unlock()

	payload, err := events.Encode(events.SystemPromptPayload{Text: text, Role: role})
	if err != nil {
		return errors.Wrap(err, "encode system prompt")
	}
	if _, err := a.deps.Manager.AppendEvent(ctx, threadID, events.KindSystemPrompt, payload); err != nil {
		return errors.Wrap(err, "append system prompt")
	}

	a.stateMu.Lock()
	a.cfg.SystemPrompt = text
	a.stateMu.Unlock()
	return nil
}

// fail is the single exit path for a failure discovered before the turn
// loop starts (e.g. the initial USER_MESSAGE append).
func (a *Agent) fail(ctx context.Context, err error) error {
	logger.G(ctx).WithError(err).Error("turn failed before provider loop")
	a.setState(StateErrored)
	a.setState(StateIdle)
	return err
}

// Abort cancels the current turn, if any, and blocks until the Agent
// reaches IDLE or ctx is done. It is a no-op if the Agent is already
// IDLE.
func (a *Agent) Abort(ctx context.Context) error {
	a.stateMu.Lock()
	if a.state == StateIdle {
		a.stateMu.Unlock()
		return nil
	}
	cancel := a.cancel
	done := a.done
	a.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type loopOutcome int

const (
	loopComplete loopOutcome = iota
	loopCancelled
	loopErrored
)

type loopResult struct {
	outcome   loopOutcome
	finalText string
	err       error
}

// runLoop drives the THINKING -> STREAMING -> TOOL_EXECUTION cycle until
// the turn ends.
func (a *Agent) runLoop(ctx context.Context) loopResult {
	var finalText string

	for iteration := 0; ; iteration++ {
		if iteration >= a.cfg.MaxToolIterationsPerTurn {
			return loopResult{outcome: loopErrored, err: ErrIterationLimit}
		}

		if ctx.Err() != nil {
			return loopResult{outcome: loopCancelled}
		}

		systemPrompt, messages, err := a.reconstruct(ctx)
		if err != nil {
			return loopResult{outcome: loopErrored, err: err}
		}

		turn, err := a.streamOneResponse(ctx, systemPrompt, messages)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return loopResult{outcome: loopCancelled}
			}
			return loopResult{outcome: loopErrored, err: err}
		}

		// Cancellation policy: a partial AGENT_MESSAGE for content still
		// streaming when abort() fires is never persisted, and no further
		// provider call is spawned. Any calls already fully accumulated still get a
		// cancelled TOOL_RESULT so every TOOL_CALL this turn might still
		// emit stays pairable.
		if turn.stopReason == provider.StopCancelled {
			a.cancelOutstanding(turn.calls)
			return loopResult{outcome: loopCancelled}
		}

		if err := a.persistAssembled(ctx, turn); err != nil {
			return loopResult{outcome: loopErrored, err: err}
		}
		a.budget.Record(turn.inputTokens, turn.outputTokens, turn.inputTokens+turn.outputTokens)

		switch turn.stopReason {
		case provider.StopEnd, provider.StopLength:
			finalText = turn.text
			return loopResult{outcome: loopComplete, finalText: finalText}

		case provider.StopToolUse:
			if len(turn.calls) == 0 {
				// Provider signalled tool_use but produced nothing usable;
				// treat as end-of-turn rather than looping forever.
				return loopResult{outcome: loopComplete, finalText: turn.text}
			}
			a.setState(StateToolExecution)
			if err := a.runTools(ctx, turn.calls); err != nil {
				return loopResult{outcome: loopErrored, err: err}
			}
			a.setState(StateThinking)
			continue

		default:
			return loopResult{outcome: loopErrored, err: errors.Errorf("provider transport error: %v", turn.err)}
		}
	}
}

func (a *Agent) reconstruct(ctx context.Context) (string, []events.GenericMessage, error) {
	all, err := a.deps.Manager.Messages(ctx, a.threadID)
	if err != nil {
		return "", nil, errors.Wrap(err, "reconstruct conversation")
	}

	systemPrompt := a.cfg.SystemPrompt
	messages := make([]events.GenericMessage, 0, len(all))
	for _, m := range all {
		if m.Role == events.RoleSystem {
			for _, b := range m.Content {
				if b.Kind == events.ContentText && b.Text != "" {
					systemPrompt = b.Text
				}
			}
			continue
		}
		messages = append(messages, m)
	}
	return systemPrompt, messages, nil
}

func (a *Agent) toolsForProvider() []provider.Tool {
	descs := a.deps.Registry.Descriptors(a.cfg.Tools)
	out := make([]provider.Tool, 0, len(descs))
	for _, d := range descs {
		schema, err := json.Marshal(d.InputSchema)
		if err != nil {
			continue
		}
		out = append(out, provider.Tool{Name: d.Name, Description: d.Description, InputSchema: schema})
	}
	return out
}

// assembledTurn is everything accumulated from one streamed provider
// response, ready to persist and inspect for looping.
type assembledTurn struct {
	text         string
	reasoning    string
	inputTokens  int
	outputTokens int
	stopReason   provider.StopReason
	calls        []pendingCall
	err          error
}

// pendingCall accumulates a tool_call's split input JSON chunks until
// the stream finishes; a tool call's arguments may arrive split across
// multiple deltas.
type pendingCall struct {
	callID    string
	toolName  string
	input     string
	malformed bool
}

// streamOneResponse invokes the provider once and consumes its
// normalized event stream to completion, retrying a transport failure
// exactly once before surfacing it as a turn error.
func (a *Agent) streamOneResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage) (assembledTurn, error) {
	var turn assembledTurn
	firstDelta := true

	attempt := func() error {
		turn = assembledTurn{}
		firstDelta = true

		span := telemetry.WithSpan(ctx, "agent.stream_response", func(spanCtx context.Context) error {
			ch, err := a.deps.Provider.CreateStreamingResponse(spanCtx, systemPrompt, messages, a.toolsForProvider())
			if err != nil {
				return err
			}

			calls := make(map[string]*pendingCall)
			var order []string

			for ev := range ch {
				if firstDelta && (ev.Kind == provider.EventTextDelta || ev.Kind == provider.EventReasoningDelta || ev.Kind == provider.EventToolCall) {
					a.setState(StateStreaming)
					firstDelta = false
				}
				switch ev.Kind {
				case provider.EventTextDelta:
					turn.text += ev.Text
					a.bus.emit(ObservedEvent{Kind: ObsTextDelta, Text: ev.Text})
				case provider.EventReasoningDelta:
					turn.reasoning += ev.Text
					a.bus.emit(ObservedEvent{Kind: ObsReasoningDelta, Text: ev.Text})
				case provider.EventToolCall:
					pc, ok := calls[ev.CallID]
					if !ok {
						pc = &pendingCall{callID: ev.CallID, toolName: ev.ToolName}
						calls[ev.CallID] = pc
						order = append(order, ev.CallID)
					}
					if ev.ToolName != "" {
						pc.toolName = ev.ToolName
					}
					pc.input += ev.InputJSONChunk
				case provider.EventUsageUpdate:
					turn.inputTokens = ev.InputTokens
					turn.outputTokens = ev.OutputTokens
				case provider.EventFinished:
					turn.stopReason = ev.StopReason
					turn.err = ev.Err
				}
			}

			for _, id := range order {
				pc := calls[id]
				if pc.input != "" && !json.Valid([]byte(pc.input)) {
					pc.malformed = true
				}
				turn.calls = append(turn.calls, *pc)
			}
			return nil
		})
		if span != nil {
			return span
		}
		if turn.stopReason == "" && ctx.Err() != nil {
			// The adapter contract allows closing the channel early on
			// cancellation without an EventFinished; treat that the same
			// as an explicit StopCancelled.
			turn.stopReason = provider.StopCancelled
		}
		if turn.stopReason == provider.StopError {
			return errors.Errorf("transport: %v", turn.err)
		}
		return nil
	}

	err := retry.Do(
		attempt,
		retry.RetryIf(func(err error) bool { return err != nil && ctx.Err() == nil }),
		retry.Attempts(2),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("thread_id", a.threadID).Warn("retrying provider transport call")
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return turn, ctx.Err()
		}
		return turn, err
	}
	return turn, nil
}

// persistAssembled appends the AGENT_MESSAGE followed by one TOOL_CALL per
// assembled call. A call whose accumulated JSON never became valid is
// stored with `{}` as its input; runTools gives it an error TOOL_RESULT
// without invoking the tool.
func (a *Agent) persistAssembled(ctx context.Context, turn assembledTurn) error {
	msgPayload, err := events.Encode(events.AgentMessagePayload{
		Text:      turn.text,
		Reasoning: turn.reasoning,
		Usage:     events.Usage{InputTokens: turn.inputTokens, OutputTokens: turn.outputTokens},
	})
	if err != nil {
		return errors.Wrap(err, "encode agent message")
	}
	if _, err := a.deps.Manager.AppendEvent(ctx, a.threadID, events.KindAgentMessage, msgPayload); err != nil {
		return errors.Wrap(err, "append agent message")
	}

	for _, c := range turn.calls {
		input := []byte(c.input)
		if c.malformed {
			input = json.RawMessage(`{}`)
		}
		callPayload, err := events.Encode(events.ToolCallPayload{CallID: c.callID, ToolName: c.toolName, Input: input})
		if err != nil {
			return errors.Wrap(err, "encode tool call")
		}
		if _, err := a.deps.Manager.AppendEvent(ctx, a.threadID, events.KindToolCall, callPayload); err != nil {
			return errors.Wrap(err, "append tool call")
		}
	}
	return nil
}

// runTools dispatches every complete TOOL_CALL in turn.calls to the
// ToolExecutor (malformed calls are short-circuited into an error
// TOOL_RESULT without ever reaching the executor) and appends the
// resulting TOOL_RESULT events once every call in the batch has settled,
// in call order; they are not appended in the order the calls complete.
func (a *Agent) runTools(ctx context.Context, calls []pendingCall) error {
	var execCalls []executor.Call
	var malformed []pendingCall
	for _, c := range calls {
		if c.malformed {
			malformed = append(malformed, c)
			continue
		}
		execCalls = append(execCalls, executor.Call{CallID: c.callID, ToolName: c.toolName, Input: json.RawMessage(c.input)})
		a.bus.emit(ObservedEvent{Kind: ObsToolCallStarted, CallID: c.callID, ToolName: c.toolName})
	}

	for _, c := range malformed {
		if err := a.appendToolResult(ctx, c.callID, events.OutcomeError, "malformed tool call input", 0); err != nil {
			return err
		}
	}

	if len(execCalls) == 0 {
		return nil
	}

	results := a.deps.Executor.Execute(ctx, execCalls)
	for _, r := range results {
		payload, err := events.Encode(events.ToolResultPayload{
			CallID:   r.CallID,
			Outcome:  r.Outcome,
			Content:  r.Content,
			Duration: r.Duration,
		})
		if err != nil {
			return errors.Wrap(err, "encode tool result")
		}
		if _, err := a.deps.Manager.AppendEvent(ctx, a.threadID, events.KindToolResult, payload); err != nil {
			return errors.Wrap(err, "append tool result")
		}
		a.bus.emit(ObservedEvent{Kind: ObsToolCallFinished, CallID: r.CallID, Outcome: r.Outcome, Content: r.Content})
	}
	return nil
}

func (a *Agent) appendToolResult(ctx context.Context, callID string, outcome events.Outcome, text string, dur time.Duration) error {
	payload, err := events.Encode(events.ToolResultPayload{
		CallID:   callID,
		Outcome:  outcome,
		Content:  []events.ContentBlock{events.TextBlock(text)},
		Duration: dur,
	})
	if err != nil {
		return errors.Wrap(err, "encode tool result")
	}
	if _, err := a.deps.Manager.AppendEvent(ctx, a.threadID, events.KindToolResult, payload); err != nil {
		return errors.Wrap(err, "append tool result")
	}
	a.bus.emit(ObservedEvent{Kind: ObsToolCallFinished, CallID: callID, Outcome: outcome})
	return nil
}

// cancelOutstanding appends a cancelled TOOL_RESULT for every call that
// was produced by a stream that ended in StopCancelled before any of
// them could be dispatched, satisfying the S5 cancellation-safety
// invariant that every TOOL_CALL is eventually matched.
func (a *Agent) cancelOutstanding(calls []pendingCall) {
	bg := context.Background()
	for _, c := range calls {
		_ = a.appendToolResult(bg, c.callID, events.OutcomeCancelled, "cancelled", 0)
	}
}

// maybeCompact is consulted only at IDLE: the Agent pauses at the next
// IDLE and asks Compactor to produce a summary. A failure here is
// logged but never surfaces to the caller of SendMessage — compaction is
// a housekeeping concern, not a turn outcome.
func (a *Agent) maybeCompact(ctx context.Context) {
	a.stateMu.Lock()
	sourceID := a.threadID
	a.stateMu.Unlock()

	a.deps.Hooks.TriggerAfterTurn(ctx, sourceID)

	if a.deps.Compactor == nil || !a.budget.ShouldCompact() {
		return
	}

	successor, err := a.deps.Compactor.Compact(ctx, sourceID, a.cfg.CarryTailTurns)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("thread_id", sourceID).Error("auto-compaction failed")
		return
	}

	a.stateMu.Lock()
	a.threadID = successor.ThreadID
	a.stateMu.Unlock()
	a.budget.Reset()
}
