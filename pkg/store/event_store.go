package store

import (
	"context"
	"iter"

	"github.com/google/uuid"

	"github.com/laceai/lace/pkg/types/events"
)

// EventStore is the append-only persistence boundary for thread events. A
// single thread's events are strictly ordered by ID; append is the only
// mutation this interface exposes, matching the immutable-log requirement
// the rest of the system depends on.
type EventStore interface {
	// CreateThread creates a new thread row. If parentThreadID is non-empty
	// the thread is recorded as a delegate child of it. canonicalID should
	// equal threadID for a brand-new (non-compacted) thread. Fails with
	// ErrDuplicateThread if threadID already exists.
	CreateThread(ctx context.Context, threadID, canonicalID, parentThreadID string) (events.Thread, error)

	// Append assigns the next sequential ID within threadID and persists
	// the event, returning it with ID/ThreadID/Timestamp populated.
	// Concurrent Append calls on the same thread are serialized.
	Append(ctx context.Context, threadID string, kind events.Kind, payload []byte) (events.ThreadEvent, error)

	// EventsForThread streams a thread's events in ID order.
	EventsForThread(ctx context.Context, threadID string) iter.Seq2[events.ThreadEvent, error]

	// FindByCanonical returns every thread sharing canonicalID, in
	// creation order, i.e. a compaction chain from root to latest.
	FindByCanonical(ctx context.Context, canonicalID string) ([]events.Thread, error)

	// GetThread loads a single thread's metadata row.
	GetThread(ctx context.Context, threadID string) (events.Thread, error)

	Close() error
}

// GenerateThreadID builds a sortable, collision-resistant thread ID: a
// "thread-" prefix followed by a time-ordered (version 7) UUID, so
// thread IDs sort chronologically by creation without a separate index.
func GenerateThreadID() string {
	return genID("thread")
}

func genID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + id.String()
}
