package threadmgr_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/store"
	"github.com/laceai/lace/pkg/store/migrations"
	"github.com/laceai/lace/pkg/threadmgr"
	"github.com/laceai/lace/pkg/types/events"
)

func newTestManager(t *testing.T) (*threadmgr.Manager, store.EventStore) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)

	runner := store.NewMigrationRunner(db)
	require.NoError(t, runner.Run(ctx, migrations.All()))

	es := store.NewSQLiteEventStore(db)
	t.Cleanup(func() { es.Close() })
	return threadmgr.New(es), es
}

func TestManager_MessagesReconstructsFromEvents(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	th, err := mgr.CreateThread(ctx)
	require.NoError(t, err)

	userPayload, _ := events.Encode(events.UserMessagePayload{Text: "hello"})
	_, err = mgr.AppendEvent(ctx, th.ThreadID, events.KindUserMessage, userPayload)
	require.NoError(t, err)

	agentPayload, _ := events.Encode(events.AgentMessagePayload{Text: "hi there"})
	_, err = mgr.AppendEvent(ctx, th.ThreadID, events.KindAgentMessage, agentPayload)
	require.NoError(t, err)

	toolCallPayload, _ := events.Encode(events.ToolCallPayload{CallID: "call-1", ToolName: "echo", Input: []byte(`{}`)})
	_, err = mgr.AppendEvent(ctx, th.ThreadID, events.KindToolCall, toolCallPayload)
	require.NoError(t, err)

	msgs, err := mgr.Messages(ctx, th.ThreadID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, events.RoleUser, msgs[0].Role)
	require.Equal(t, events.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].Content, 2, "tool call should fold into the preceding assistant message")
}

func TestManager_MessagesCoherentAfterAppend(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	th, err := mgr.CreateThread(ctx)
	require.NoError(t, err)

	_, err = mgr.Messages(ctx, th.ThreadID)
	require.NoError(t, err)

	payload, _ := events.Encode(events.UserMessagePayload{Text: "hello"})
	_, err = mgr.AppendEvent(ctx, th.ThreadID, events.KindUserMessage, payload)
	require.NoError(t, err)

	msgs, err := mgr.Messages(ctx, th.ThreadID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "append must be visible to the very next read on the same thread")
}

func TestManager_ResolveCanonicalReturnsLatestInChain(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	root, err := mgr.CreateThread(ctx)
	require.NoError(t, err)

	successor, err := mgr.CreateSuccessorThread(ctx, root.CanonicalID)
	require.NoError(t, err)

	latest, err := mgr.ResolveCanonical(ctx, root.CanonicalID)
	require.NoError(t, err)
	require.Equal(t, successor.ThreadID, latest.ThreadID)
}
