package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/laceai/lace/pkg/store"
	"github.com/laceai/lace/pkg/store/migrations"
	"github.com/laceai/lace/pkg/types/events"
)

func newTestStore(t *testing.T) *store.SQLiteEventStore {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "events.db")

	db, err := store.Open(ctx, dbPath)
	require.NoError(t, err)

	runner := store.NewMigrationRunner(db)
	require.NoError(t, runner.Run(ctx, migrations.All()))

	es := store.NewSQLiteEventStore(db)
	t.Cleanup(func() { es.Close() })
	return es
}

func TestSQLiteEventStore_AppendAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)

	threadID := store.GenerateThreadID()
	_, err := es.CreateThread(ctx, threadID, threadID, "")
	require.NoError(t, err)

	ev1, err := es.Append(ctx, threadID, events.KindUserMessage, []byte(`{"text":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, int64(1), ev1.ID)

	ev2, err := es.Append(ctx, threadID, events.KindAgentMessage, []byte(`{"text":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, int64(2), ev2.ID)

	var got []events.ThreadEvent
	for ev, err := range es.EventsForThread(ctx, threadID) {
		require.NoError(t, err)
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	require.Equal(t, events.KindUserMessage, got[0].Kind)
	require.Equal(t, events.KindAgentMessage, got[1].Kind)
}

func TestSQLiteEventStore_FindByCanonicalReturnsCompactionChain(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)

	root := store.GenerateThreadID()
	_, err := es.CreateThread(ctx, root, root, "")
	require.NoError(t, err)

	successor := store.GenerateThreadID()
	_, err = es.CreateThread(ctx, successor, root, "")
	require.NoError(t, err)

	chain, err := es.FindByCanonical(ctx, root)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, root, chain[0].ThreadID)
	require.Equal(t, successor, chain[1].ThreadID)
}

func TestSQLiteEventStore_GetThreadNotFound(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)

	_, err := es.GetThread(ctx, "does-not-exist")
	require.ErrorIs(t, err, store.ErrThreadNotFound)
}

func TestSQLiteEventStore_CreateThreadDuplicateIDFails(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)

	threadID := store.GenerateThreadID()
	_, err := es.CreateThread(ctx, threadID, threadID, "")
	require.NoError(t, err)

	_, err = es.CreateThread(ctx, threadID, threadID, "")
	require.ErrorIs(t, err, store.ErrDuplicateThread)
}

func TestSQLiteEventStore_DelegateThreadTracksParent(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)

	parent := store.GenerateThreadID()
	_, err := es.CreateThread(ctx, parent, parent, "")
	require.NoError(t, err)

	child := store.GenerateThreadID()
	ct, err := es.CreateThread(ctx, child, child, parent)
	require.NoError(t, err)
	require.True(t, ct.IsDelegate())

	got, err := es.GetThread(ctx, child)
	require.NoError(t, err)
	require.Equal(t, parent, got.ParentThreadID)
}
