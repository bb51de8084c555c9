package storage

import (
	"time"

	"github.com/google/uuid"
)

// UnspecifiedPosition marks an item that has no place in an ordering yet,
// because its download is still outstanding.
const UnspecifiedPosition = -1

// MediaItem is a locally registered piece of audio.
type MediaItem struct {
	// ID is the YouTube video ID the item was downloaded from.
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Author   string        `json:"author"`
	Duration time.Duration `json:"duration"`
	// Thumbnail is the local path of the thumbnail image.
	Thumbnail string `json:"thumbnail"`
	// MediaFile is the local path of the audio file.
	MediaFile string `json:"media_file"`
	// Position is the index in the library order, or UnspecifiedPosition.
	Position int `json:"position"`
}

// MediaItemCore is a media item together with its download bookkeeping.
// JobID is non-nil exactly while no usable media file exists yet.
type MediaItemCore struct {
	MediaItem
	ThumbnailURL string     `json:"thumbnail_url"`
	JobID        *uuid.UUID `json:"job_id,omitempty"`
}

// IsDownloading returns true while the item has an outstanding download job.
func (c *MediaItemCore) IsDownloading() bool {
	return c != nil && c.JobID != nil
}

// Playlist is a user-defined local playlist.
type Playlist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SyncBinding mirrors a remote YouTube playlist into local playlists.
type SyncBinding struct {
	RemotePlaylistID string     `json:"remote_playlist_id"`
	Name             string     `json:"name"`
	ThumbnailURL     string     `json:"thumbnail_url"`
	Playlists        []Playlist `json:"playlists"`
}
