package playlistsync

import (
	"context"

	"ytmusic/storage"
	"ytmusic/youtube"
)

// Bindings manages which local playlists each remote playlist feeds.
type Bindings struct {
	store storage.SyncBindingStore
}

// NewBindings creates a binding manager over store.
func NewBindings(store storage.SyncBindingStore) *Bindings {
	return &Bindings{store: store}
}

// Add binds a remote playlist to local playlists.
func (b *Bindings) Add(ctx context.Context, remote youtube.Playlist, playlists []storage.Playlist) error {
	return b.store.AddSyncBinding(ctx, &storage.SyncBinding{
		RemotePlaylistID: remote.ID,
		Name:             remote.Title,
		ThumbnailURL:     remote.ThumbnailURL,
		Playlists:        playlists,
	})
}

// Reassign replaces the local playlists a binding feeds.
func (b *Bindings) Reassign(ctx context.Context, remotePlaylistID string, playlists []storage.Playlist) error {
	return b.store.ReassignSyncBinding(ctx, remotePlaylistID, playlists)
}

// Remove deletes a binding and its playlist links. Local playlists and
// their items are kept.
func (b *Bindings) Remove(ctx context.Context, remotePlaylistID string) error {
	return b.store.RemoveSyncBinding(ctx, remotePlaylistID)
}

// List returns every binding with its local playlists.
func (b *Bindings) List(ctx context.Context) ([]storage.SyncBinding, error) {
	return b.store.ListSyncBindings(ctx)
}

// ListSyncBindings lets Bindings serve as the worker's BindingLister.
func (b *Bindings) ListSyncBindings(ctx context.Context) ([]storage.SyncBinding, error) {
	return b.List(ctx)
}

// Unbound filters out remote playlists that already have a binding.
func (b *Bindings) Unbound(ctx context.Context, remote []youtube.Playlist) ([]youtube.Playlist, error) {
	bindings, err := b.store.ListSyncBindings(ctx)
	if err != nil {
		return nil, err
	}
	bound := make(map[string]bool, len(bindings))
	for _, binding := range bindings {
		bound[binding.RemotePlaylistID] = true
	}
	var out []youtube.Playlist
	for _, p := range remote {
		if !bound[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}
