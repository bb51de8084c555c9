package storage

import (
	"context"
	"database/sql"
)

// AddSyncBinding creates a binding between a remote playlist and local playlists.
func (s *SQLiteStore) AddSyncBinding(ctx context.Context, binding *SyncBinding) error {
	if binding == nil || binding.RemotePlaylistID == "" {
		return &StorageError{Op: "create", Entity: "sync binding", Err: ErrInvalidInput}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sync_bindings WHERE remote_playlist_id = ?`,
			binding.RemotePlaylistID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_bindings (remote_playlist_id, name, thumbnail_url) VALUES (?, ?, ?)`,
			binding.RemotePlaylistID, binding.Name, binding.ThumbnailURL); err != nil {
			return err
		}
		return linkPlaylists(ctx, tx, binding.RemotePlaylistID, binding.Playlists)
	})
	if err != nil {
		return &StorageError{Op: "create", Entity: "sync binding", ID: binding.RemotePlaylistID, Err: err}
	}
	return nil
}

func linkPlaylists(ctx context.Context, tx *sql.Tx, remoteID string, playlists []Playlist) error {
	for _, p := range playlists {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO sync_binding_playlists (remote_playlist_id, playlist_id) VALUES (?, ?)`,
			remoteID, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// ReassignSyncBinding replaces the set of local playlists a binding feeds.
func (s *SQLiteStore) ReassignSyncBinding(ctx context.Context, remotePlaylistID string, playlists []Playlist) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sync_bindings WHERE remote_playlist_id = ?`,
			remotePlaylistID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sync_binding_playlists WHERE remote_playlist_id = ?`, remotePlaylistID); err != nil {
			return err
		}
		return linkPlaylists(ctx, tx, remotePlaylistID, playlists)
	})
	if err != nil {
		return &StorageError{Op: "update", Entity: "sync binding", ID: remotePlaylistID, Err: err}
	}
	return nil
}

// RemoveSyncBinding deletes a binding. Items already downloaded stay.
func (s *SQLiteStore) RemoveSyncBinding(ctx context.Context, remotePlaylistID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM sync_bindings WHERE remote_playlist_id = ?`, remotePlaylistID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM sync_binding_playlists WHERE remote_playlist_id = ?`, remotePlaylistID)
		return err
	})
	if err != nil {
		return &StorageError{Op: "delete", Entity: "sync binding", ID: remotePlaylistID, Err: err}
	}
	return nil
}

// ListSyncBindings retrieves all bindings with their local playlists.
func (s *SQLiteStore) ListSyncBindings(ctx context.Context) ([]SyncBinding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT remote_playlist_id, name, thumbnail_url FROM sync_bindings ORDER BY remote_playlist_id`)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "sync binding", Err: err}
	}

	var bindings []SyncBinding
	for rows.Next() {
		var b SyncBinding
		if err := rows.Scan(&b.RemotePlaylistID, &b.Name, &b.ThumbnailURL); err != nil {
			rows.Close()
			return nil, &StorageError{Op: "list", Entity: "sync binding", Err: err}
		}
		bindings = append(bindings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Entity: "sync binding", Err: err}
	}

	// Second pass after the cursor is closed; the store runs on one connection.
	for i := range bindings {
		playlists, err := queryPlaylists(ctx, s.db,
			`SELECT p.id, p.name FROM playlists p
			 JOIN sync_binding_playlists sp ON sp.playlist_id = p.id
			 WHERE sp.remote_playlist_id = ? ORDER BY p.id`, bindings[i].RemotePlaylistID)
		if err != nil {
			return nil, &StorageError{Op: "list", Entity: "sync binding", ID: bindings[i].RemotePlaylistID, Err: err}
		}
		bindings[i].Playlists = playlists
	}
	return bindings, nil
}
