package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Open opens or creates a sqlite database at dbPath, configured for WAL
// mode the way every sqlite-backed store in this codebase is configured.
func Open(ctx context.Context, dbPath string) (*sqlx.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if err := configure(ctx, db, dbPath != ":memory:"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configure database")
	}
	return db, nil
}

func configure(ctx context.Context, db *sqlx.DB, expectWAL bool) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := db.ExecContext(pctx, p)
		cancel()
		if err != nil {
			return errors.Wrapf(err, "exec pragma: %s", p)
		}
	}

	if !expectWAL {
		return nil
	}

	var journalMode string
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := db.QueryRowContext(qctx, "PRAGMA journal_mode").Scan(&journalMode)
	cancel()
	if err != nil {
		return errors.Wrap(err, "query journal mode")
	}
	if strings.ToLower(journalMode) != "wal" {
		return errors.Errorf("WAL mode not enabled, got %s", journalMode)
	}
	return nil
}
