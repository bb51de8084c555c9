package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type assignment struct {
	playlistID int64
	position   int
}

func itemAssignments(ctx context.Context, tx *sql.Tx, itemID string) ([]assignment, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT playlist_id, position FROM playlist_items WHERE media_item_id = ?`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []assignment
	for rows.Next() {
		var a assignment
		if err := rows.Scan(&a.playlistID, &a.position); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// detach removes one assignment and closes the gap it leaves.
func detach(ctx context.Context, tx *sql.Tx, itemID string, playlistID int64, position int) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM playlist_items WHERE playlist_id = ? AND media_item_id = ?`, playlistID, itemID); err != nil {
		return err
	}
	if position == UnspecifiedPosition {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE playlist_items SET position = position - 1 WHERE playlist_id = ? AND position > ?`,
		playlistID, position)
	return err
}

// CreatePlaylist creates an empty playlist.
func (s *SQLiteStore) CreatePlaylist(ctx context.Context, name string) (*Playlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &StorageError{Op: "create", Entity: "playlist", Err: ErrInvalidInput}
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO playlists (name) VALUES (?)`, name)
	if err != nil {
		return nil, &StorageError{Op: "create", Entity: "playlist", ID: name, Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, &StorageError{Op: "create", Entity: "playlist", ID: name, Err: err}
	}
	return &Playlist{ID: id, Name: name}, nil
}

// GetPlaylist retrieves a playlist by ID.
func (s *SQLiteStore) GetPlaylist(ctx context.Context, id int64) (*Playlist, error) {
	var p Playlist
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM playlists WHERE id = ?`, id).Scan(&p.ID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StorageError{Op: "read", Entity: "playlist", ID: fmt.Sprint(id), Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "playlist", ID: fmt.Sprint(id), Err: err}
	}
	return &p, nil
}

// ListPlaylists retrieves all playlists ordered by ID.
func (s *SQLiteStore) ListPlaylists(ctx context.Context) ([]Playlist, error) {
	playlists, err := queryPlaylists(ctx, s.db, `SELECT id, name FROM playlists ORDER BY id`)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "playlist", Err: err}
	}
	return playlists, nil
}

func queryPlaylists(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, query string, args ...any) ([]Playlist, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Playlist
	for rows.Next() {
		var p Playlist
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// RenamePlaylist changes a playlist's name.
func (s *SQLiteStore) RenamePlaylist(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &StorageError{Op: "update", Entity: "playlist", ID: fmt.Sprint(id), Err: ErrInvalidInput}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE playlists SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return &StorageError{Op: "update", Entity: "playlist", ID: fmt.Sprint(id), Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &StorageError{Op: "update", Entity: "playlist", ID: fmt.Sprint(id), Err: ErrNotFound}
	}
	return nil
}

// DeletePlaylist removes a playlist, its assignments and its sync binding links.
// Media items stay in the library.
func (s *SQLiteStore) DeletePlaylist(ctx context.Context, id int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM playlist_items WHERE playlist_id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM sync_binding_playlists WHERE playlist_id = ?`, id)
		return err
	})
	if err != nil {
		return &StorageError{Op: "delete", Entity: "playlist", ID: fmt.Sprint(id), Err: err}
	}
	return nil
}

// AssignToPlaylists adds the item to each playlist it is not already part of.
func (s *SQLiteStore) AssignToPlaylists(ctx context.Context, itemID string, playlists []Playlist) error {
	if len(playlists) == 0 {
		return nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var jobID sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT job_id FROM media_items WHERE id = ?`, itemID).Scan(&jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		for _, p := range playlists {
			position := UnspecifiedPosition
			if !jobID.Valid {
				if err := tx.QueryRowContext(ctx,
					`SELECT COALESCE(MAX(position), -1) + 1 FROM playlist_items WHERE playlist_id = ?`,
					p.ID).Scan(&position); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO playlist_items (playlist_id, media_item_id, position) VALUES (?, ?, ?)`,
				p.ID, itemID, position); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "assign", Entity: "media item", ID: itemID, Err: err}
	}
	return nil
}

// AssignedPlaylists lists the playlists an item belongs to.
func (s *SQLiteStore) AssignedPlaylists(ctx context.Context, itemID string) ([]Playlist, error) {
	playlists, err := queryPlaylists(ctx, s.db,
		`SELECT p.id, p.name FROM playlists p
		 JOIN playlist_items pi ON pi.playlist_id = p.id
		 WHERE pi.media_item_id = ? ORDER BY p.id`, itemID)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "playlist", ID: itemID, Err: err}
	}
	return playlists, nil
}

// PlaylistItems lists the downloaded items of a playlist by playlist position.
// Position in the returned items is the playlist position.
func (s *SQLiteStore) PlaylistItems(ctx context.Context, playlistID int64) ([]MediaItem, error) {
	cores, err := queryMediaItemCores(ctx, s.db,
		`SELECT m.id, m.title, m.author, m.duration_ms, m.thumbnail, m.thumbnail_url, m.media_file, pi.position, m.job_id
		 FROM playlist_items pi JOIN media_items m ON m.id = pi.media_item_id
		 WHERE pi.playlist_id = ? AND m.job_id IS NULL ORDER BY pi.position`, playlistID)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "playlist item", ID: fmt.Sprint(playlistID), Err: err}
	}
	items := make([]MediaItem, len(cores))
	for i := range cores {
		items[i] = cores[i].MediaItem
	}
	return items, nil
}

// ChangePositionInPlaylist moves an item inside one playlist's order.
func (s *SQLiteStore) ChangePositionInPlaylist(ctx context.Context, playlistID int64, itemID string, from, to int) error {
	if from < 0 || to < 0 {
		return &StorageError{Op: "move", Entity: "playlist item", ID: itemID, Err: ErrInvalidInput}
	}
	if from == to {
		return nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current int
		err := tx.QueryRowContext(ctx,
			`SELECT position FROM playlist_items WHERE playlist_id = ? AND media_item_id = ?`,
			playlistID, itemID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if current != from {
			return fmt.Errorf("%w: item is at position %d, not %d", ErrInvalidInput, current, from)
		}

		var maxPos int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) FROM playlist_items WHERE playlist_id = ?`,
			playlistID).Scan(&maxPos); err != nil {
			return err
		}
		if to > maxPos {
			return fmt.Errorf("%w: position %d beyond last position %d", ErrInvalidInput, to, maxPos)
		}

		if err := shiftPositions(ctx, tx, "playlist_items", "playlist_id = ?", []any{playlistID}, from, to); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE playlist_items SET position = ? WHERE playlist_id = ? AND media_item_id = ?`,
			to, playlistID, itemID)
		return err
	})
	if err != nil {
		return &StorageError{Op: "move", Entity: "playlist item", ID: itemID, Err: err}
	}
	return nil
}

// DetachFromPlaylist removes one item from one playlist.
func (s *SQLiteStore) DetachFromPlaylist(ctx context.Context, itemID string, playlistID int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var position int
		err := tx.QueryRowContext(ctx,
			`SELECT position FROM playlist_items WHERE playlist_id = ? AND media_item_id = ?`,
			playlistID, itemID).Scan(&position)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return detach(ctx, tx, itemID, playlistID, position)
	})
	if err != nil {
		return &StorageError{Op: "detach", Entity: "playlist item", ID: itemID, Err: err}
	}
	return nil
}
