package store

import (
	"context"
	"database/sql"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/types/events"
)

// SQLiteEventStore is the sqlite-backed EventStore. Writes to a given
// thread are serialized through a per-thread mutex so that the
// read-max-then-insert sequence assigning the next event ID cannot race
// across goroutines sharing one process; cross-process safety additionally
// relies on sqlite's own write lock.
type SQLiteEventStore struct {
	db *sqlx.DB

	mu        sync.Mutex
	threadMus map[string]*sync.Mutex
}

// NewSQLiteEventStore wraps an already-opened, already-migrated db. Callers
// are expected to have run the migrations in pkg/store/migrations via
// MigrationRunner before constructing this store.
func NewSQLiteEventStore(db *sqlx.DB) *SQLiteEventStore {
	return &SQLiteEventStore{db: db, threadMus: make(map[string]*sync.Mutex)}
}

func (s *SQLiteEventStore) lockFor(threadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.threadMus[threadID]
	if !ok {
		m = &sync.Mutex{}
		s.threadMus[threadID] = m
	}
	return m
}

func (s *SQLiteEventStore) CreateThread(ctx context.Context, threadID, canonicalID, parentThreadID string) (events.Thread, error) {
	now := time.Now().UTC()
	t := events.Thread{
		ThreadID:       threadID,
		CanonicalID:    canonicalID,
		ParentThreadID: parentThreadID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, canonical_id, parent_thread_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		t.ThreadID, t.CanonicalID, nullableString(t.ParentThreadID), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return events.Thread{}, errors.Wrapf(ErrDuplicateThread, "thread %s", threadID)
		}
		return events.Thread{}, errors.Wrapf(err, "create thread %s", threadID)
	}
	return t, nil
}

// isUniqueConstraintErr reports whether err is a sqlite UNIQUE constraint
// violation. modernc.org/sqlite surfaces the driver's own error text rather
// than a typed sentinel, so this matches on the message sqlite itself emits.
func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteEventStore) Append(ctx context.Context, threadID string, kind events.Kind, payload []byte) (events.ThreadEvent, error) {
	lock := s.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return events.ThreadEvent{}, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	var maxID sql.NullInt64
	if err := tx.GetContext(ctx, &maxID, `SELECT MAX(id) FROM events WHERE thread_id = ?`, threadID); err != nil {
		return events.ThreadEvent{}, errors.Wrap(err, "select max event id")
	}

	ev := events.ThreadEvent{
		ID:        maxID.Int64 + 1,
		ThreadID:  threadID,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   payload,
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (id, thread_id, timestamp, kind, payload_json) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.ThreadID, ev.Timestamp, string(ev.Kind), string(ev.Payload),
	); err != nil {
		return events.ThreadEvent{}, errors.Wrapf(err, "insert event %d for thread %s", ev.ID, threadID)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, ev.Timestamp, threadID); err != nil {
		return events.ThreadEvent{}, errors.Wrap(err, "touch thread updated_at")
	}

	if err := tx.Commit(); err != nil {
		return events.ThreadEvent{}, errors.Wrap(err, "commit append")
	}
	return ev, nil
}

func (s *SQLiteEventStore) EventsForThread(ctx context.Context, threadID string) iter.Seq2[events.ThreadEvent, error] {
	return func(yield func(events.ThreadEvent, error) bool) {
		rows, err := s.db.QueryxContext(ctx,
			`SELECT id, thread_id, timestamp, kind, payload_json FROM events WHERE thread_id = ? ORDER BY id ASC`,
			threadID,
		)
		if err != nil {
			yield(events.ThreadEvent{}, errors.Wrapf(err, "query events for thread %s", threadID))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ev      events.ThreadEvent
				kind    string
				payload string
			)
			if err := rows.Scan(&ev.ID, &ev.ThreadID, &ev.Timestamp, &kind, &payload); err != nil {
				yield(events.ThreadEvent{}, errors.Wrap(err, "scan event row"))
				return
			}
			ev.Kind = events.Kind(kind)
			ev.Payload = []byte(payload)
			if !yield(ev, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(events.ThreadEvent{}, errors.Wrap(err, "iterate event rows"))
		}
	}
}

func (s *SQLiteEventStore) FindByCanonical(ctx context.Context, canonicalID string) ([]events.Thread, error) {
	var rows []struct {
		ID             string    `db:"id"`
		CanonicalID    string    `db:"canonical_id"`
		ParentThreadID *string   `db:"parent_thread_id"`
		CreatedAt      time.Time `db:"created_at"`
		UpdatedAt      time.Time `db:"updated_at"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, canonical_id, parent_thread_id, created_at, updated_at FROM threads WHERE canonical_id = ? ORDER BY created_at ASC`,
		canonicalID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "find threads by canonical id %s", canonicalID)
	}

	out := make([]events.Thread, len(rows))
	for i, r := range rows {
		out[i] = events.Thread{
			ThreadID:    r.ID,
			CanonicalID: r.CanonicalID,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
		}
		if r.ParentThreadID != nil {
			out[i].ParentThreadID = *r.ParentThreadID
		}
	}
	return out, nil
}

func (s *SQLiteEventStore) GetThread(ctx context.Context, threadID string) (events.Thread, error) {
	var row struct {
		ID             string    `db:"id"`
		CanonicalID    string    `db:"canonical_id"`
		ParentThreadID *string   `db:"parent_thread_id"`
		CreatedAt      time.Time `db:"created_at"`
		UpdatedAt      time.Time `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT id, canonical_id, parent_thread_id, created_at, updated_at FROM threads WHERE id = ?`, threadID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return events.Thread{}, errors.Wrapf(ErrThreadNotFound, "thread %s", threadID)
		}
		return events.Thread{}, errors.Wrapf(err, "get thread %s", threadID)
	}
	t := events.Thread{ThreadID: row.ID, CanonicalID: row.CanonicalID, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt}
	if row.ParentThreadID != nil {
		t.ParentThreadID = *row.ParentThreadID
	}
	return t, nil
}

func (s *SQLiteEventStore) Close() error {
	return s.db.Close()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ErrThreadNotFound is returned by GetThread when no row matches.
var ErrThreadNotFound = errors.New("thread not found")

// ErrDuplicateThread is returned by CreateThread when threadID already
// exists, checked via errors.Is the same way ErrThreadNotFound is.
var ErrDuplicateThread = errors.New("thread already exists")
