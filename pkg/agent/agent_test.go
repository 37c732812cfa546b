package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/approval"
	"github.com/laceai/lace/pkg/compactor"
	"github.com/laceai/lace/pkg/executor"
	"github.com/laceai/lace/pkg/store"
	"github.com/laceai/lace/pkg/store/migrations"
	"github.com/laceai/lace/pkg/threadmgr"
	"github.com/laceai/lace/pkg/tools"
	"github.com/laceai/lace/pkg/types/events"
	"github.com/laceai/lace/pkg/types/provider"
	"github.com/laceai/lace/pkg/types/tooltypes"
)

// scriptedAdapter yields one canned response (streamed) per call to
// CreateStreamingResponse, in order; it never inspects the conversation
// it is handed, matching the black-box contract tests need.
type scriptedAdapter struct {
	responses [][]provider.Event
	calls     int
	window    int
}

func (s *scriptedAdapter) SupportsStreaming() bool { return true }
func (s *scriptedAdapter) ContextWindow() int {
	if s.window == 0 {
		return 200_000
	}
	return s.window
}
func (s *scriptedAdapter) MaxOutput() int { return 4096 }

func (s *scriptedAdapter) CreateResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, toolsIn []provider.Tool) (provider.Response, error) {
	return provider.Response{}, nil
}

func (s *scriptedAdapter) CreateStreamingResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, toolsIn []provider.Tool) (<-chan provider.Event, error) {
	idx := s.calls
	s.calls++
	script := s.responses[idx]
	ch := make(chan provider.Event, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type stubToolInput struct {
	Path string `json:"path"`
}

type stubTool struct {
	name    string
	ann     tooltypes.Annotations
	content string
	delay   time.Duration
}

func (t *stubTool) Name() string                     { return t.name }
func (t *stubTool) Description() string               { return "stub tool" }
func (t *stubTool) Annotations() tooltypes.Annotations { return t.ann }
func (t *stubTool) Timeout() time.Duration             { return time.Second }
func (t *stubTool) GenerateSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	var v stubToolInput
	return r.Reflect(v)
}
func (t *stubTool) Execute(ctx context.Context, input []byte) (tooltypes.Result, error) {
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return tooltypes.Result{}, ctx.Err()
		}
	}
	return tooltypes.Result{Content: []tooltypes.Block{tooltypes.Text(t.content)}}, nil
}

type testHarness struct {
	mgr   *threadmgr.Manager
	store store.EventStore
	exec  *executor.Executor
	reg   *tools.Registry
	gate  *approval.Gate
}

func newHarness(t *testing.T, policy approval.Policy, toolList ...tooltypes.Tool) *testHarness {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.NewMigrationRunner(db).Run(ctx, migrations.All()))

	es := store.NewSQLiteEventStore(db)
	mgr := threadmgr.New(es)
	reg := tools.NewRegistry()
	for _, tl := range toolList {
		reg.Register(tl)
	}
	gate := approval.New(policy)
	return &testHarness{mgr: mgr, store: es, exec: executor.New(reg, gate), reg: reg, gate: gate}
}

func (h *testHarness) deps(adapter provider.Adapter) Deps {
	return Deps{Manager: h.mgr, Provider: adapter, Executor: h.exec, Registry: h.reg, Gate: h.gate}
}

func newThread(t *testing.T, mgr *threadmgr.Manager) string {
	t.Helper()
	th, err := mgr.CreateThread(context.Background())
	require.NoError(t, err)
	return th.ThreadID
}

// S1: echo turn.
func TestAgent_SendMessage_EchoTurn(t *testing.T) {
	h := newHarness(t, approval.Policy{})
	threadID := newThread(t, h.mgr)

	adapter := &scriptedAdapter{responses: [][]provider.Event{
		{
			{Kind: provider.EventTextDelta, Text: "hello"},
			{Kind: provider.EventUsageUpdate, InputTokens: 5, OutputTokens: 1},
			{Kind: provider.EventFinished, StopReason: provider.StopEnd},
		},
	}}

	a := New(threadID, h.deps(adapter), Config{})

	var completed string
	sub, unsub := a.Subscribe()
	defer unsub()
	done := make(chan struct{})
	go func() {
		for ev := range sub {
			if ev.Kind == ObsResponseComplete {
				completed = ev.Text
				close(done)
				return
			}
		}
	}()

	err := a.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	<-done
	assert.Equal(t, "hello", completed)
	assert.Equal(t, StateIdle, a.State())

	msgs, err := h.mgr.Messages(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, events.RoleUser, msgs[0].Role)
	assert.Equal(t, events.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content[0].Text)
}

// S2: single tool call loop.
func TestAgent_SendMessage_SingleToolCall(t *testing.T) {
	tool := &stubTool{name: "read_file", ann: tooltypes.Annotations{ParallelSafe: true}, content: "XYZ"}
	h := newHarness(t, approval.Policy{}, tool)
	threadID := newThread(t, h.mgr)

	adapter := &scriptedAdapter{responses: [][]provider.Event{
		{
			{Kind: provider.EventToolCall, CallID: "c1", ToolName: "read_file", InputJSONChunk: `{"path":"foo.txt"}`},
			{Kind: provider.EventFinished, StopReason: provider.StopToolUse},
		},
		{
			{Kind: provider.EventTextDelta, Text: "got it"},
			{Kind: provider.EventFinished, StopReason: provider.StopEnd},
		},
	}}

	a := New(threadID, h.deps(adapter), Config{})
	require.NoError(t, a.SendMessage(context.Background(), "read foo.txt"))
	assert.Equal(t, StateIdle, a.State())

	msgs, err := h.mgr.Messages(context.Background(), threadID)
	require.NoError(t, err)
	// user, assistant(tool_call), tool_result, assistant("got it")
	require.Len(t, msgs, 4)
	require.Len(t, msgs[1].Content, 2)
	assert.Equal(t, events.ContentToolUse, msgs[1].Content[1].Kind)
	assert.Equal(t, "c1", msgs[1].Content[1].CallID)
	assert.Equal(t, events.RoleToolResult, msgs[2].Role)
	assert.Equal(t, events.OutcomeSuccess, msgs[2].Content[0].ResultOutcome)
	assert.Equal(t, "got it", msgs[3].Content[0].Text)
}

// S3: concurrent parallel-safe tools both get paired TOOL_RESULTs.
func TestAgent_SendMessage_ConcurrentParallelSafeTools(t *testing.T) {
	tool := &stubTool{name: "list_dir", ann: tooltypes.Annotations{ParallelSafe: true}, content: "listing"}
	h := newHarness(t, approval.Policy{}, tool)
	threadID := newThread(t, h.mgr)

	adapter := &scriptedAdapter{responses: [][]provider.Event{
		{
			{Kind: provider.EventToolCall, CallID: "c1", ToolName: "list_dir", InputJSONChunk: `{"path":"a"}`},
			{Kind: provider.EventToolCall, CallID: "c2", ToolName: "list_dir", InputJSONChunk: `{"path":"b"}`},
			{Kind: provider.EventFinished, StopReason: provider.StopToolUse},
		},
		{
			{Kind: provider.EventTextDelta, Text: "done"},
			{Kind: provider.EventFinished, StopReason: provider.StopEnd},
		},
	}}

	a := New(threadID, h.deps(adapter), Config{})
	require.NoError(t, a.SendMessage(context.Background(), "list both"))

	msgs, err := h.mgr.Messages(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	results := msgs[2]
	require.Len(t, results.Content, 2)
	ids := map[string]bool{results.Content[0].CallID: true, results.Content[1].CallID: true}
	assert.True(t, ids["c1"])
	assert.True(t, ids["c2"])
}

// S4: destructive tool, default ask, denied.
func TestAgent_SendMessage_ApprovalDenied(t *testing.T) {
	tool := &stubTool{name: "delete_file", ann: tooltypes.Annotations{Destructive: true, ParallelSafe: true}, content: "deleted"}
	h := newHarness(t, approval.Policy{DefaultForDestructive: approval.DecisionAsk}, tool)
	// The AskFunc attached below dismisses every ticket, so the ask
	// resolves to DecisionDeny.
	threadID := newThread(t, h.mgr)

	adapter := &scriptedAdapter{responses: [][]provider.Event{
		{
			{Kind: provider.EventToolCall, CallID: "c1", ToolName: "delete_file", InputJSONChunk: `{"path":"x"}`},
			{Kind: provider.EventFinished, StopReason: provider.StopToolUse},
		},
		{
			{Kind: provider.EventTextDelta, Text: "ok, left it alone"},
			{Kind: provider.EventFinished, StopReason: provider.StopEnd},
		},
	}}

	// An AskFunc that dismisses the ticket, so the gate denies the call.
	h.gate.AskFunc = func(ctx context.Context, toolName string, input []byte, ticket *approval.Ticket) {
		ticket.Resolve(approval.OutcomeDismissed)
	}

	a := New(threadID, h.deps(adapter), Config{})
	require.NoError(t, a.SendMessage(context.Background(), "delete x"))

	msgs, err := h.mgr.Messages(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, events.OutcomeDenied, msgs[2].Content[0].ResultOutcome)
}

// S5: cancellation mid-stream leaves the Agent IDLE with no further
// provider calls spawned.
func TestAgent_Abort_MidStream(t *testing.T) {
	h := newHarness(t, approval.Policy{})
	threadID := newThread(t, h.mgr)

	block := make(chan struct{})
	adapter := &blockingAdapter{unblock: block}

	a := New(threadID, h.deps(adapter), Config{PerTurnTimeout: 5 * time.Second})

	errCh := make(chan error, 1)
	go func() { errCh <- a.SendMessage(context.Background(), "hi") }()

	// Give SendMessage a moment to reach STREAMING before aborting.
	require.Eventually(t, func() bool { return a.State() == StateStreaming }, time.Second, time.Millisecond)

	require.NoError(t, a.Abort(context.Background()))
	assert.Equal(t, StateIdle, a.State())

	err := <-errCh
	assert.Error(t, err)
	close(block)

	msgs, err := h.mgr.Messages(context.Background(), threadID)
	require.NoError(t, err)
	// Only the USER_MESSAGE persisted; no AGENT_MESSAGE for the aborted
	// in-flight stream, per this implementation's chosen abort-on-stream policy.
	require.Len(t, msgs, 1)
}

// blockingAdapter emits one delta (moving the Agent to STREAMING) then
// blocks until unblock is closed or ctx is cancelled, simulating a
// provider stream caught mid-flight by Abort.
type blockingAdapter struct {
	unblock chan struct{}
}

func (b *blockingAdapter) SupportsStreaming() bool { return true }
func (b *blockingAdapter) ContextWindow() int      { return 200_000 }
func (b *blockingAdapter) MaxOutput() int          { return 4096 }
func (b *blockingAdapter) CreateResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, toolsIn []provider.Tool) (provider.Response, error) {
	return provider.Response{}, nil
}
func (b *blockingAdapter) CreateStreamingResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, toolsIn []provider.Tool) (<-chan provider.Event, error) {
	ch := make(chan provider.Event, 1)
	ch <- provider.Event{Kind: provider.EventTextDelta, Text: "thinking..."}
	go func() {
		defer close(ch)
		select {
		case <-b.unblock:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// BusyError: a second SendMessage while one is in flight fails fast.
func TestAgent_SendMessage_BusyWhileInFlight(t *testing.T) {
	h := newHarness(t, approval.Policy{})
	threadID := newThread(t, h.mgr)
	block := make(chan struct{})
	adapter := &blockingAdapter{unblock: block}
	a := New(threadID, h.deps(adapter), Config{PerTurnTimeout: 5 * time.Second})

	go func() { _ = a.SendMessage(context.Background(), "hi") }()
	require.Eventually(t, func() bool { return a.State() != StateIdle }, time.Second, time.Millisecond)

	err := a.SendMessage(context.Background(), "again")
	assert.ErrorIs(t, err, ErrBusy)

	close(block)
	require.Eventually(t, func() bool { return a.State() == StateIdle }, time.Second, time.Millisecond)
}

// Iteration limit: exceeding MaxToolIterationsPerTurn ends the turn
// ERRORED without a further provider call.
func TestAgent_SendMessage_IterationLimit(t *testing.T) {
	tool := &stubTool{name: "loop_tool", ann: tooltypes.Annotations{ParallelSafe: true}, content: "again"}
	h := newHarness(t, approval.Policy{}, tool)
	threadID := newThread(t, h.mgr)

	loopEvent := []provider.Event{
		{Kind: provider.EventToolCall, CallID: "c", ToolName: "loop_tool", InputJSONChunk: `{"path":"x"}`},
		{Kind: provider.EventFinished, StopReason: provider.StopToolUse},
	}
	responses := make([][]provider.Event, 0, 12)
	for i := 0; i < 12; i++ {
		responses = append(responses, loopEvent)
	}
	adapter := &scriptedAdapter{responses: responses}

	a := New(threadID, h.deps(adapter), Config{MaxToolIterationsPerTurn: 3})
	err := a.SendMessage(context.Background(), "loop forever")
	assert.ErrorIs(t, err, ErrIterationLimit)
	assert.Equal(t, StateIdle, a.State())
	assert.LessOrEqual(t, adapter.calls, 3)
}

// Compaction at threshold: after a completed turn crosses the compact
// ratio, a successor thread sharing canonical_id takes over.
func TestAgent_SendMessage_TriggersCompaction(t *testing.T) {
	h := newHarness(t, approval.Policy{})
	threadID := newThread(t, h.mgr)
	canonicalID := threadID

	adapter := &scriptedAdapter{window: 100, responses: [][]provider.Event{
		{
			{Kind: provider.EventTextDelta, Text: "hi"},
			{Kind: provider.EventUsageUpdate, InputTokens: 85, OutputTokens: 10},
			{Kind: provider.EventFinished, StopReason: provider.StopEnd},
		},
	}}

	comp := compactor.New(h.store, h.mgr, &scriptedSummaryAdapter{summary: "summary of prior turn"})

	deps := h.deps(adapter)
	deps.Compactor = comp
	a := New(threadID, deps, Config{ContextCompactPct: 0.8})

	require.NoError(t, a.SendMessage(context.Background(), "hi"))

	newThreadID := a.ThreadID()
	assert.NotEqual(t, threadID, newThreadID)

	resolved, err := h.mgr.ResolveCanonical(context.Background(), canonicalID)
	require.NoError(t, err)
	assert.Equal(t, newThreadID, resolved.ThreadID)
}

type scriptedSummaryAdapter struct{ summary string }

func (s *scriptedSummaryAdapter) SupportsStreaming() bool { return false }
func (s *scriptedSummaryAdapter) ContextWindow() int      { return 200_000 }
func (s *scriptedSummaryAdapter) MaxOutput() int          { return 4096 }
func (s *scriptedSummaryAdapter) CreateResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, toolsIn []provider.Tool) (provider.Response, error) {
	return provider.Response{
		Message: events.GenericMessage{
			Role:    events.RoleAssistant,
			Content: []events.GenericContentBlock{{Kind: events.ContentText, Text: s.summary}},
		},
		StopReason: provider.StopEnd,
	}, nil
}
func (s *scriptedSummaryAdapter) CreateStreamingResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, toolsIn []provider.Tool) (<-chan provider.Event, error) {
	ch := make(chan provider.Event)
	close(ch)
	return ch, nil
}
