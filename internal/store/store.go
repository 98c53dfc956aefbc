// Package store persists groups, messages and reactions in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database holding the local account, groups, their
// membership history, group messages and the reactions on them.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS account (
	key TEXT PRIMARY KEY,
	value BLOB
);
CREATE TABLE IF NOT EXISTS contact (
	aci TEXT PRIMARY KEY,
	number TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS groups (
	group_id TEXT PRIMARY KEY,
	master_key BLOB NOT NULL UNIQUE,
	creator TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	revision INTEGER NOT NULL DEFAULT 0,
	is_left INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS group_member (
	group_id TEXT NOT NULL,
	aci TEXT NOT NULL,
	joined_at INTEGER NOT NULL,
	left_at INTEGER,
	PRIMARY KEY (group_id, aci)
);
CREATE TABLE IF NOT EXISTS message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id TEXT NOT NULL,
	author TEXT NOT NULL,
	sent_at INTEGER NOT NULL,
	kind INTEGER NOT NULL DEFAULT 0,
	body TEXT NOT NULL DEFAULT '',
	deleted INTEGER NOT NULL DEFAULT 0,
	received_at INTEGER NOT NULL,
	UNIQUE (group_id, author, sent_at)
);
CREATE TABLE IF NOT EXISTS reaction (
	message_id INTEGER NOT NULL,
	sender TEXT NOT NULL,
	emoji TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (message_id, sender, emoji)
);
CREATE INDEX IF NOT EXISTS reaction_by_message ON reaction (message_id, created_at);
`

// DefaultDataDir returns the default data directory for signal-reactions databases.
// Uses $XDG_DATA_HOME/signal-reactions, falling back to ~/.local/share/signal-reactions.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "signal-reactions")
}

// Open opens or creates a SQLite store at the given path.
// If dbPath is empty, it defaults to $XDG_DATA_HOME/signal-reactions/default.db.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(DefaultDataDir(), "default.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	// busy_timeout is per connection, so it goes in the DSN.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
