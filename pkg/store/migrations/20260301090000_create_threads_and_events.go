package migrations

import (
	"database/sql"

	"github.com/laceai/lace/pkg/store"
)

// CreateThreadsAndEvents creates the two tables the EventStore is built on:
// threads (metadata + canonical-id chain) and events (the append-only log).
func CreateThreadsAndEvents() store.Migration {
	return store.Migration{
		Version:     20260301090000,
		Description: "create threads and events tables",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE IF NOT EXISTS threads (
					id TEXT PRIMARY KEY,
					canonical_id TEXT NOT NULL,
					parent_thread_id TEXT,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_threads_canonical ON threads(canonical_id)`,
				`CREATE TABLE IF NOT EXISTS events (
					id INTEGER NOT NULL,
					thread_id TEXT NOT NULL REFERENCES threads(id),
					timestamp DATETIME NOT NULL,
					kind TEXT NOT NULL,
					payload_json TEXT NOT NULL,
					PRIMARY KEY (thread_id, id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_events_thread ON events(thread_id, id)`,
			}
			for _, s := range stmts {
				if _, err := tx.Exec(s); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
