package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS media_items (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	author TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	thumbnail TEXT NOT NULL DEFAULT '',
	thumbnail_url TEXT NOT NULL DEFAULT '',
	media_file TEXT NOT NULL DEFAULT '',
	position INTEGER NOT NULL DEFAULT -1,
	job_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_media_items_position ON media_items(position);

CREATE TABLE IF NOT EXISTS playlists (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS playlist_items (
	playlist_id INTEGER NOT NULL,
	media_item_id TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT -1,
	PRIMARY KEY (playlist_id, media_item_id)
);
CREATE INDEX IF NOT EXISTS idx_playlist_items_item ON playlist_items(media_item_id);

CREATE TABLE IF NOT EXISTS sync_bindings (
	remote_playlist_id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	thumbnail_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sync_binding_playlists (
	remote_playlist_id TEXT NOT NULL,
	playlist_id INTEGER NOT NULL,
	PRIMARY KEY (remote_playlist_id, playlist_id)
);
`

// SQLiteStore implements Store on a single SQLite database file.
// All access goes through one connection so multi-statement position
// updates never interleave.
type SQLiteStore struct {
	db *sql.DB

	watchMu  sync.Mutex
	watchers map[chan []MediaItemCore]struct{}
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &StorageError{Op: "open", Entity: "database", ID: path, Err: err}
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, &StorageError{Op: "open", Entity: "database", ID: path, Err: err}
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Entity: "database", ID: path, Err: err}
	}

	return &SQLiteStore{
		db:       db,
		watchers: make(map[chan []MediaItemCore]struct{}),
	}, nil
}

// Close closes the database and every open watch channel.
func (s *SQLiteStore) Close() error {
	s.watchMu.Lock()
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
	s.watchMu.Unlock()
	return s.db.Close()
}

// withTx runs fn in a transaction, committing on success.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Watch returns a channel that receives the full item set immediately and
// again after every committed change. Intermediate snapshots are dropped when
// the receiver lags, so it always sees the most recent one. The channel is
// closed when ctx ends or the store is closed.
func (s *SQLiteStore) Watch(ctx context.Context) <-chan []MediaItemCore {
	ch := make(chan []MediaItemCore, 1)

	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	s.watchMu.Unlock()

	if items, err := s.ListMediaItemCores(ctx); err == nil {
		s.deliver(ch, items)
	} else {
		log.Printf("storage: initial watch snapshot: %v", err)
	}

	go func() {
		<-ctx.Done()
		s.watchMu.Lock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
		s.watchMu.Unlock()
	}()

	return ch
}

// notify publishes a fresh snapshot to all watchers.
func (s *SQLiteStore) notify() {
	s.watchMu.Lock()
	n := len(s.watchers)
	s.watchMu.Unlock()
	if n == 0 {
		return
	}

	items, err := s.ListMediaItemCores(context.Background())
	if err != nil {
		log.Printf("storage: watch snapshot: %v", err)
		return
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers {
		replaceLatest(ch, items)
	}
}

func (s *SQLiteStore) deliver(ch chan []MediaItemCore, items []MediaItemCore) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if _, ok := s.watchers[ch]; ok {
		replaceLatest(ch, items)
	}
}

// replaceLatest swaps any undelivered snapshot for items. Caller holds watchMu.
func replaceLatest(ch chan []MediaItemCore, items []MediaItemCore) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- items:
	default:
	}
}
