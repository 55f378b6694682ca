// Package sqlite persists the local library, rank table, settings, response cache
// and playlists in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	appName      = "similarbox"
	dbFileName   = "similarbox.db"
	driverName   = "sqlite"
	memoryDBPath = ":memory:"
)

// DefaultPath returns the database location under the XDG data directory.
func DefaultPath() (string, error) {
	path, err := xdg.DataFile(filepath.Join(appName, dbFileName))
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve data directory")
	}
	return path, nil
}

// Open opens the database at path and creates the schema.
// An empty path selects DefaultPath; ":memory:" opens a private in-memory database.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	if path != memoryDBPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create database directory for %s", path)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	if path == memoryDBPath {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	zlog.Debug().Msgf("database opened: path=%s", path)
	return db, nil
}

// WithTx executes fn within a transaction.
// It rolls back when fn fails and commits otherwise.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS library_tracks (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL DEFAULT '',
			artist TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			album TEXT NOT NULL DEFAULT '',
			genre TEXT NOT NULL DEFAULT '',
			rating INTEGER NOT NULL DEFAULT -1,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			artist_key TEXT NOT NULL DEFAULT '',
			title_key TEXT NOT NULL DEFAULT '',
			genre_key TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_library_tracks_artist_key ON library_tracks(artist_key);

		CREATE TABLE IF NOT EXISTS library_ranks (
			track_id TEXT PRIMARY KEY,
			rank INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS settings (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		);

		CREATE TABLE IF NOT EXISTS response_cache (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			fetched_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS playlists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			parent TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS playlist_tracks (
			playlist_id INTEGER NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			track_id TEXT NOT NULL,
			PRIMARY KEY (playlist_id, position)
		);
	`)
	if err != nil {
		return errors.Wrap(err, "failed to create schema")
	}
	return nil
}
