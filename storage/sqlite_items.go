package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const mediaItemColumns = `id, title, author, duration_ms, thumbnail, thumbnail_url, media_file, position, job_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMediaItemCore(row rowScanner) (*MediaItemCore, error) {
	var (
		core       MediaItemCore
		durationMS int64
		jobID      sql.NullString
	)
	err := row.Scan(
		&core.ID, &core.Title, &core.Author, &durationMS,
		&core.Thumbnail, &core.ThumbnailURL, &core.MediaFile,
		&core.Position, &jobID,
	)
	if err != nil {
		return nil, err
	}
	core.Duration = time.Duration(durationMS) * time.Millisecond
	if jobID.Valid {
		id, err := uuid.Parse(jobID.String)
		if err != nil {
			return nil, fmt.Errorf("parse job id %q: %w", jobID.String, err)
		}
		core.JobID = &id
	}
	return &core, nil
}

func queryMediaItemCores(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, query string, args ...any) ([]MediaItemCore, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []MediaItemCore
	for rows.Next() {
		core, err := scanMediaItemCore(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *core)
	}
	return result, rows.Err()
}

// AddDownloadingMediaItem registers item with a job handle and no position.
func (s *SQLiteStore) AddDownloadingMediaItem(ctx context.Context, item *MediaItem, jobID uuid.UUID, thumbnailURL string) error {
	if item == nil || item.ID == "" {
		return &StorageError{Op: "create", Entity: "media item", Err: ErrInvalidInput}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_items (`+mediaItemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Title, item.Author, item.Duration.Milliseconds(),
		item.Thumbnail, thumbnailURL, item.MediaFile, UnspecifiedPosition, jobID.String(),
	)
	if err != nil {
		if exists, _ := s.Exists(ctx, item.ID); exists {
			return &StorageError{Op: "create", Entity: "media item", ID: item.ID, Err: ErrAlreadyExists}
		}
		return &StorageError{Op: "create", Entity: "media item", ID: item.ID, Err: err}
	}
	item.Position = UnspecifiedPosition

	s.notify()
	return nil
}

// GetMediaItem retrieves an item by video ID.
func (s *SQLiteStore) GetMediaItem(ctx context.Context, id string) (*MediaItem, error) {
	core, err := s.GetMediaItemCore(ctx, id)
	if err != nil {
		return nil, err
	}
	return &core.MediaItem, nil
}

// GetMediaItemCore retrieves an item and its download marker by video ID.
func (s *SQLiteStore) GetMediaItemCore(ctx context.Context, id string) (*MediaItemCore, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaItemColumns+` FROM media_items WHERE id = ?`, id)
	core, err := scanMediaItemCore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StorageError{Op: "read", Entity: "media item", ID: id, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "media item", ID: id, Err: err}
	}
	return core, nil
}

// Exists reports whether an item with the video ID is registered.
func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_items WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, &StorageError{Op: "read", Entity: "media item", ID: id, Err: err}
	}
	return n > 0, nil
}

// ListMediaItemCores retrieves every registered item ordered by ID.
func (s *SQLiteStore) ListMediaItemCores(ctx context.Context) ([]MediaItemCore, error) {
	items, err := queryMediaItemCores(ctx, s.db, `SELECT `+mediaItemColumns+` FROM media_items ORDER BY id`)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "media item", Err: err}
	}
	return items, nil
}

// ListDownloadingMediaItems retrieves items that still carry a job handle.
func (s *SQLiteStore) ListDownloadingMediaItems(ctx context.Context) ([]MediaItemCore, error) {
	items, err := queryMediaItemCores(ctx, s.db,
		`SELECT `+mediaItemColumns+` FROM media_items WHERE job_id IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "media item", Err: err}
	}
	return items, nil
}

// ListOrderedMediaItems retrieves downloaded items by library position.
func (s *SQLiteStore) ListOrderedMediaItems(ctx context.Context) ([]MediaItem, error) {
	cores, err := queryMediaItemCores(ctx, s.db,
		`SELECT `+mediaItemColumns+` FROM media_items WHERE job_id IS NULL ORDER BY position`)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "media item", Err: err}
	}
	items := make([]MediaItem, len(cores))
	for i := range cores {
		items[i] = cores[i].MediaItem
	}
	return items, nil
}

// UpdateJobID replaces the job handle of a downloading item.
func (s *SQLiteStore) UpdateJobID(ctx context.Context, id string, jobID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media_items SET job_id = ? WHERE id = ? AND job_id IS NOT NULL`, jobID.String(), id)
	if err != nil {
		return &StorageError{Op: "update", Entity: "media item", ID: id, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &StorageError{Op: "update", Entity: "media item", ID: id, Err: ErrNotFound}
	}
	s.notify()
	return nil
}

// SetMediaItemDownloaded clears the job handle, appends the item to the
// library order and gives each of its pending playlist assignments the next
// free position in that playlist.
func (s *SQLiteStore) SetMediaItemDownloaded(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) + 1 FROM media_items`).Scan(&next); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE media_items SET job_id = NULL, position = ? WHERE id = ? AND job_id IS NOT NULL`, next, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		pending, err := playlistIDsWithPosition(ctx, tx, id, UnspecifiedPosition)
		if err != nil {
			return err
		}
		for _, playlistID := range pending {
			var pos int
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(position), -1) + 1 FROM playlist_items WHERE playlist_id = ?`,
				playlistID).Scan(&pos); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE playlist_items SET position = ? WHERE playlist_id = ? AND media_item_id = ?`,
				pos, playlistID, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "update", Entity: "media item", ID: id, Err: err}
	}

	s.notify()
	return nil
}

func playlistIDsWithPosition(ctx context.Context, tx *sql.Tx, itemID string, position int) ([]int64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT playlist_id FROM playlist_items WHERE media_item_id = ? AND position = ?`, itemID, position)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// shiftPositions moves every row between from and to one step so that the
// moved row can take position to. scope limits the rows affected.
func shiftPositions(ctx context.Context, tx *sql.Tx, table, scope string, scopeArgs []any, from, to int) error {
	var query string
	if from > to {
		query = `UPDATE ` + table + ` SET position = position + 1 WHERE position < ? AND position >= ?`
	} else {
		query = `UPDATE ` + table + ` SET position = position - 1 WHERE position > ? AND position <= ?`
	}
	if scope != "" {
		query += ` AND ` + scope
	}
	args := append([]any{from, to}, scopeArgs...)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// ChangePosition moves a downloaded item from one library position to another.
func (s *SQLiteStore) ChangePosition(ctx context.Context, id string, from, to int) error {
	if from < 0 || to < 0 {
		return &StorageError{Op: "move", Entity: "media item", ID: id, Err: ErrInvalidInput}
	}
	if from == to {
		return nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current int
		err := tx.QueryRowContext(ctx,
			`SELECT position FROM media_items WHERE id = ? AND job_id IS NULL`, id).Scan(&current)
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
			`SELECT COALESCE(MAX(position), -1) FROM media_items`).Scan(&maxPos); err != nil {
			return err
		}
		if to > maxPos {
			return fmt.Errorf("%w: position %d beyond last position %d", ErrInvalidInput, to, maxPos)
		}

		if err := shiftPositions(ctx, tx, "media_items", "job_id IS NULL", nil, from, to); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE media_items SET position = ? WHERE id = ?`, to, id)
		return err
	})
	if err != nil {
		return &StorageError{Op: "move", Entity: "media item", ID: id, Err: err}
	}

	s.notify()
	return nil
}

// DeleteMediaItem removes the item and every playlist assignment, shifting
// the following positions down by one in each affected ordering.
func (s *SQLiteStore) DeleteMediaItem(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var position int
		err := tx.QueryRowContext(ctx, `SELECT position FROM media_items WHERE id = ?`, id).Scan(&position)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if position != UnspecifiedPosition {
			if _, err := tx.ExecContext(ctx,
				`UPDATE media_items SET position = position - 1 WHERE position > ?`, position); err != nil {
				return err
			}
		}

		assignments, err := itemAssignments(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, a := range assignments {
			if err := detach(ctx, tx, id, a.playlistID, a.position); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM media_items WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return &StorageError{Op: "delete", Entity: "media item", ID: id, Err: err}
	}

	s.notify()
	return nil
}
