// Package library combines media item rows and their files into single
// operations on the local media library.
package library

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"ytmusic/media"
	"ytmusic/storage"
)

// AllItems selects the library order instead of a user playlist.
const AllItems int64 = 0

// Library serialises mutations of the media library so rows, positions and
// files stay consistent with each other.
type Library struct {
	mu    sync.Mutex
	store storage.Store
	files *media.Files
}

// New creates a Library over store and files.
func New(store storage.Store, files *media.Files) *Library {
	return &Library{store: store, files: files}
}

// Files exposes the on-disk layout used by the library.
func (l *Library) Files() *media.Files { return l.files }

// RegisterDownloading records a pending item with its job handle and playlist
// assignments. If the item is already registered only its handle is replaced.
func (l *Library) RegisterDownloading(ctx context.Context, item storage.MediaItem, thumbnailURL string, playlists []storage.Playlist, jobID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	exists, err := l.store.Exists(ctx, item.ID)
	if err != nil {
		return err
	}
	if exists {
		return l.store.UpdateJobID(ctx, item.ID, jobID)
	}

	item.MediaFile = l.files.MediaFile(item.ID)
	item.Thumbnail = l.files.Thumbnail(item.ID)
	if err := l.store.AddDownloadingMediaItem(ctx, &item, jobID, thumbnailURL); err != nil {
		return err
	}
	if err := l.store.AssignToPlaylists(ctx, item.ID, playlists); err != nil {
		return fmt.Errorf("assign %s to playlists: %w", item.ID, err)
	}
	return nil
}

// SetDownloaded clears the job handle and places the item at the end of the
// library and of each playlist it was assigned to.
func (l *Library) SetDownloaded(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.SetMediaItemDownloaded(ctx, id)
}

// Delete removes the item, its playlist assignments and its files.
// A missing row is not an error; the files are removed regardless.
func (l *Library) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.DeleteMediaItem(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := l.files.Delete(id); err != nil {
		log.Printf("library: delete files of %s: %v", id, err)
	}
	return nil
}

// UpdateJobID replaces the job handle of a pending item.
func (l *Library) UpdateJobID(ctx context.Context, id string, jobID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.UpdateJobID(ctx, id, jobID)
}

// RemoveOrphanedPartials deletes partial audio files that no pending item
// owns and returns how many were removed.
func (l *Library) RemoveOrphanedPartials(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids, err := l.files.PartialDownloads()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		core, err := l.store.GetMediaItemCore(ctx, id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return removed, err
		}
		if core != nil && core.IsDownloading() {
			continue
		}
		l.files.RemoveDownloading(id)
		removed++
	}
	return removed, nil
}

// ChangePosition moves an item inside the library order (playlistID AllItems)
// or inside one playlist.
func (l *Library) ChangePosition(ctx context.Context, playlistID int64, id string, from, to int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if playlistID == AllItems {
		return l.store.ChangePosition(ctx, id, from, to)
	}
	return l.store.ChangePositionInPlaylist(ctx, playlistID, id, from, to)
}

// Items lists downloaded items of the library (AllItems) or of a playlist, in order.
func (l *Library) Items(ctx context.Context, playlistID int64) ([]storage.MediaItem, error) {
	if playlistID == AllItems {
		return l.store.ListOrderedMediaItems(ctx)
	}
	return l.store.PlaylistItems(ctx, playlistID)
}

// Core returns the registration record of an item.
func (l *Library) Core(ctx context.Context, id string) (*storage.MediaItemCore, error) {
	return l.store.GetMediaItemCore(ctx, id)
}

// Exists reports whether an item is registered.
func (l *Library) Exists(ctx context.Context, id string) (bool, error) {
	return l.store.Exists(ctx, id)
}

// Cores returns every registered item.
func (l *Library) Cores(ctx context.Context) ([]storage.MediaItemCore, error) {
	return l.store.ListMediaItemCores(ctx)
}

// Downloading returns the items whose download is outstanding.
func (l *Library) Downloading(ctx context.Context) ([]storage.MediaItemCore, error) {
	return l.store.ListDownloadingMediaItems(ctx)
}

// Watch streams the registered item set; see storage.MediaItemStore.
func (l *Library) Watch(ctx context.Context) <-chan []storage.MediaItemCore {
	return l.store.Watch(ctx)
}

// MediaSize returns the size of the finished audio file of an item.
func (l *Library) MediaSize(id string) int64 {
	return l.files.MediaSize(id)
}

// Playlists lists the local playlists.
func (l *Library) Playlists(ctx context.Context) ([]storage.Playlist, error) {
	return l.store.ListPlaylists(ctx)
}

// CreatePlaylist adds an empty local playlist.
func (l *Library) CreatePlaylist(ctx context.Context, name string) (*storage.Playlist, error) {
	return l.store.CreatePlaylist(ctx, name)
}

// RenamePlaylist changes a playlist's name.
func (l *Library) RenamePlaylist(ctx context.Context, id int64, name string) error {
	return l.store.RenamePlaylist(ctx, id, name)
}

// DeletePlaylist removes a playlist; its items stay in the library.
func (l *Library) DeletePlaylist(ctx context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.DeletePlaylist(ctx, id)
}

// Assign adds an item to playlists.
func (l *Library) Assign(ctx context.Context, id string, playlists []storage.Playlist) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.AssignToPlaylists(ctx, id, playlists)
}

// Detach removes an item from one playlist.
func (l *Library) Detach(ctx context.Context, id string, playlistID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.DetachFromPlaylist(ctx, id, playlistID)
}

// ResolvePlaylists looks up local playlists by ID.
func (l *Library) ResolvePlaylists(ctx context.Context, ids []int64) ([]storage.Playlist, error) {
	playlists := make([]storage.Playlist, 0, len(ids))
	for _, id := range ids {
		p, err := l.store.GetPlaylist(ctx, id)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, *p)
	}
	return playlists, nil
}
