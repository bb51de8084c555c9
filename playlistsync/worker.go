// Package playlistsync mirrors remote YouTube playlists into local playlists
// by enqueueing the downloads of videos that are not in the library yet.
package playlistsync

import (
	"context"
	"fmt"
	"log"
	"slices"

	"ytmusic/scheduler"
	"ytmusic/storage"
	"ytmusic/youtube"
)

// JobKind is the scheduler job kind of a synchronization run.
const JobKind = "playlist-sync"

// OutputEnqueued is the job output key holding the number of enqueued videos.
const OutputEnqueued = "enqueued"

// Remote lists the caller's remote playlists and their videos.
type Remote interface {
	MyPlaylistIDs(ctx context.Context) ([]string, error)
	PlaylistVideos(ctx context.Context, playlistID string) ([]youtube.Video, error)
}

// Downloads enqueues video downloads.
type Downloads interface {
	Enqueue(ctx context.Context, video youtube.Video, playlists []storage.Playlist) error
}

// Items reports whether a video is registered in the library.
type Items interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// BindingLister lists the sync bindings to mirror.
type BindingLister interface {
	ListSyncBindings(ctx context.Context) ([]storage.SyncBinding, error)
}

// Worker performs synchronization runs.
type Worker struct {
	remote    Remote
	downloads Downloads
	items     Items
	bindings  BindingLister
}

// NewWorker creates a synchronization worker.
func NewWorker(remote Remote, downloads Downloads, items Items, bindings BindingLister) *Worker {
	return &Worker{remote: remote, downloads: downloads, items: items, bindings: bindings}
}

// Func adapts Run to the scheduler. A failed run is retried with backoff.
func (w *Worker) Func() scheduler.WorkerFunc {
	return func(ctx context.Context, exec *scheduler.Execution) scheduler.Result {
		n, err := w.Run(ctx)
		if err != nil {
			log.Printf("playlistsync: run %s (attempt %d) failed: %v", exec.ID(), exec.Attempt(), err)
			return scheduler.Retry()
		}
		out := scheduler.Data{}
		out.SetInt64(OutputEnqueued, int64(n))
		return scheduler.Success(out)
	}
}

// Run enqueues every missing video of every binding whose remote playlist
// still exists and returns how many were enqueued. Bindings of deleted
// remote playlists are skipped.
func (w *Worker) Run(ctx context.Context) (int, error) {
	remoteIDs, err := w.remote.MyPlaylistIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list remote playlists: %w", err)
	}
	bindings, err := w.bindings.ListSyncBindings(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sync bindings: %w", err)
	}

	total := 0
	for _, b := range bindings {
		if !slices.Contains(remoteIDs, b.RemotePlaylistID) {
			log.Printf("playlistsync: remote playlist %s (%q) no longer exists, skipping", b.RemotePlaylistID, b.Name)
			continue
		}
		n, err := w.DownloadAll(ctx, b.RemotePlaylistID, b.Playlists)
		total += n
		if err != nil {
			return total, err
		}
	}

	log.Printf("playlistsync: run finished, %d videos enqueued from %d bindings", total, len(bindings))
	return total, nil
}

// DownloadAll enqueues every video of a remote playlist that is not in the
// library yet, assigned to playlists.
func (w *Worker) DownloadAll(ctx context.Context, remotePlaylistID string, playlists []storage.Playlist) (int, error) {
	videos, err := w.remote.PlaylistVideos(ctx, remotePlaylistID)
	if err != nil {
		return 0, fmt.Errorf("list videos of %s: %w", remotePlaylistID, err)
	}

	n := 0
	for _, v := range videos {
		exists, err := w.items.Exists(ctx, v.ID)
		if err != nil {
			return n, err
		}
		if exists {
			continue
		}
		if err := w.downloads.Enqueue(ctx, v, playlists); err != nil {
			return n, fmt.Errorf("enqueue %s: %w", v.ID, err)
		}
		n++
	}
	return n, nil
}
