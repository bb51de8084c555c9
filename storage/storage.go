// Package storage provides abstractions for persisting the media library.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists indicates the entity already exists in storage.
	ErrAlreadyExists = errors.New("storage: already exists")
	// ErrInvalidInput indicates invalid or malformed input was provided.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
)

// StorageError wraps storage errors with operation and entity context.
// Use errors.As() to extract this error type and get operation details:
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("Failed to %s %s %s: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("create", "read", "update", "delete").
	Op string
	// Entity is the entity type ("media item", "playlist", "sync binding").
	Entity string
	// ID is the entity ID if applicable.
	ID string
	// Err is the underlying error that occurred.
	Err error
}

// Error returns a string representation of the storage error.
func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }

// Store is the main storage interface for the media library.
// Implementations must be safe for concurrent use.
type Store interface {
	MediaItemStore
	PlaylistStore
	SyncBindingStore

	// Close releases any resources held by the store.
	Close() error
}

// MediaItemStore handles media item registration, ordering and download markers.
type MediaItemStore interface {
	// AddDownloadingMediaItem registers an item whose download is outstanding.
	AddDownloadingMediaItem(ctx context.Context, item *MediaItem, jobID uuid.UUID, thumbnailURL string) error
	// GetMediaItem retrieves an item, downloaded or not.
	GetMediaItem(ctx context.Context, id string) (*MediaItem, error)
	// GetMediaItemCore retrieves an item together with its download marker.
	GetMediaItemCore(ctx context.Context, id string) (*MediaItemCore, error)
	// Exists reports whether an item is registered, downloading or downloaded.
	Exists(ctx context.Context, id string) (bool, error)
	// ListMediaItemCores retrieves every registered item.
	ListMediaItemCores(ctx context.Context) ([]MediaItemCore, error)
	// ListDownloadingMediaItems retrieves items that still carry a job handle.
	ListDownloadingMediaItems(ctx context.Context) ([]MediaItemCore, error)
	// ListOrderedMediaItems retrieves downloaded items by library position.
	ListOrderedMediaItems(ctx context.Context) ([]MediaItem, error)
	// UpdateJobID replaces the job handle of a downloading item.
	UpdateJobID(ctx context.Context, id string, jobID uuid.UUID) error
	// SetMediaItemDownloaded clears the job handle and assigns positions.
	SetMediaItemDownloaded(ctx context.Context, id string) error
	// ChangePosition moves a downloaded item inside the library order.
	ChangePosition(ctx context.Context, id string, from, to int) error
	// DeleteMediaItem removes the item and its playlist assignments, closing position gaps.
	DeleteMediaItem(ctx context.Context, id string) error
	// Watch publishes the full item set now and after every change.
	Watch(ctx context.Context) <-chan []MediaItemCore
}

// PlaylistStore handles local playlists and item assignments.
type PlaylistStore interface {
	CreatePlaylist(ctx context.Context, name string) (*Playlist, error)
	GetPlaylist(ctx context.Context, id int64) (*Playlist, error)
	ListPlaylists(ctx context.Context) ([]Playlist, error)
	RenamePlaylist(ctx context.Context, id int64, name string) error
	DeletePlaylist(ctx context.Context, id int64) error
	// AssignToPlaylists adds the item to each playlist at the next free position,
	// or at UnspecifiedPosition while the item is downloading.
	AssignToPlaylists(ctx context.Context, itemID string, playlists []Playlist) error
	// AssignedPlaylists lists the playlists an item belongs to.
	AssignedPlaylists(ctx context.Context, itemID string) ([]Playlist, error)
	// PlaylistItems lists downloaded items of a playlist by position.
	PlaylistItems(ctx context.Context, playlistID int64) ([]MediaItem, error)
	ChangePositionInPlaylist(ctx context.Context, playlistID int64, itemID string, from, to int) error
	// DetachFromPlaylist removes one assignment, closing the position gap.
	DetachFromPlaylist(ctx context.Context, itemID string, playlistID int64) error
}

// SyncBindingStore handles remote playlist synchronization bindings.
type SyncBindingStore interface {
	AddSyncBinding(ctx context.Context, binding *SyncBinding) error
	ReassignSyncBinding(ctx context.Context, remotePlaylistID string, playlists []Playlist) error
	RemoveSyncBinding(ctx context.Context, remotePlaylistID string) error
	ListSyncBindings(ctx context.Context) ([]SyncBinding, error)
}
