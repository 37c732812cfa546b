package compactor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/store"
	"github.com/laceai/lace/pkg/store/migrations"
	"github.com/laceai/lace/pkg/threadmgr"
	"github.com/laceai/lace/pkg/types/events"
	"github.com/laceai/lace/pkg/types/provider"
)

type stubAdapter struct {
	summary string
}

func (s *stubAdapter) SupportsStreaming() bool { return false }
func (s *stubAdapter) ContextWindow() int      { return 200_000 }
func (s *stubAdapter) MaxOutput() int          { return 4096 }

func (s *stubAdapter) CreateResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, tools []provider.Tool) (provider.Response, error) {
	return provider.Response{
		Message: events.GenericMessage{
			Role:    events.RoleAssistant,
			Content: []events.GenericContentBlock{{Kind: events.ContentText, Text: s.summary}},
		},
		StopReason: provider.StopEnd,
	}, nil
}

func (s *stubAdapter) CreateStreamingResponse(ctx context.Context, systemPrompt string, messages []events.GenericMessage, tools []provider.Tool) (<-chan provider.Event, error) {
	ch := make(chan provider.Event)
	close(ch)
	return ch, nil
}

func newTestCompactor(t *testing.T) (*Compactor, *threadmgr.Manager, store.EventStore) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, store.NewMigrationRunner(db).Run(ctx, migrations.All()))

	es := store.NewSQLiteEventStore(db)
	mgr := threadmgr.New(es)
	c := New(es, mgr, &stubAdapter{summary: "the user asked for X and it was done"})
	return c, mgr, es
}

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := events.Encode(v)
	require.NoError(t, err)
	return b
}

func TestCompactor_Compact_PreservesCanonicalID(t *testing.T) {
	ctx := context.Background()
	c, mgr, _ := newTestCompactor(t)

	source, err := mgr.CreateThread(ctx)
	require.NoError(t, err)

	_, err = mgr.AppendEvent(ctx, source.ThreadID, events.KindUserMessage, mustEncode(t, events.UserMessagePayload{Text: "hello"}))
	require.NoError(t, err)
	_, err = mgr.AppendEvent(ctx, source.ThreadID, events.KindAgentMessage, mustEncode(t, events.AgentMessagePayload{Text: "hi there"}))
	require.NoError(t, err)

	successor, err := c.Compact(ctx, source.ThreadID, 0)
	require.NoError(t, err)
	require.Equal(t, source.CanonicalID, successor.CanonicalID)
	require.NotEqual(t, source.ThreadID, successor.ThreadID)

	resolved, err := mgr.ResolveCanonical(ctx, source.CanonicalID)
	require.NoError(t, err)
	require.Equal(t, successor.ThreadID, resolved.ThreadID)

	msgs, err := mgr.Messages(ctx, successor.ThreadID)
	require.NoError(t, err)
	require.Len(t, msgs, 0)
}

func TestCompactor_Compact_CarriesTail(t *testing.T) {
	ctx := context.Background()
	c, mgr, _ := newTestCompactor(t)

	source, err := mgr.CreateThread(ctx)
	require.NoError(t, err)
	_, err = mgr.AppendEvent(ctx, source.ThreadID, events.KindUserMessage, mustEncode(t, events.UserMessagePayload{Text: "hello"}))
	require.NoError(t, err)
	_, err = mgr.AppendEvent(ctx, source.ThreadID, events.KindAgentMessage, mustEncode(t, events.AgentMessagePayload{Text: "hi there"}))
	require.NoError(t, err)

	successor, err := c.Compact(ctx, source.ThreadID, 1)
	require.NoError(t, err)

	msgs, err := mgr.Messages(ctx, successor.ThreadID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}
