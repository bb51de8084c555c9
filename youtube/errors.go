// Package youtube adapts the YouTube Data API v3 and the audio stream
// extractor to the types the rest of ytmusic works with.
package youtube

import (
	"errors"
	"fmt"
)

// Sentinel errors for YouTube operations.
var (
	ErrPlaylistNotFound = errors.New("youtube: playlist not found")
	ErrVideoNotFound    = errors.New("youtube: video not found")
	ErrQuotaExceeded    = errors.New("youtube: quota exceeded")
	ErrNetworkTimeout   = errors.New("youtube: network timeout")
	ErrNotAuthenticated = errors.New("youtube: not authenticated")
	ErrLiveStream       = errors.New("youtube: live streams cannot be downloaded")
	ErrNoAudioFormat    = errors.New("youtube: no audio format available")
)

// APIError wraps a Data API failure with the operation that produced it.
type APIError struct {
	Op  string // "playlists", "playlistItems", "videos", "search"
	ID  string
	Err error
}

func (e *APIError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("youtube %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("youtube %s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ExtractionError reports that no stream URL could be resolved for a video.
type ExtractionError struct {
	VideoID  string
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("youtube: extract %s failed after %d attempt(s): %v", e.VideoID, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
