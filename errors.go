package ytmusic

import (
	"ytmusic/download"
	ythttp "ytmusic/http"
	"ytmusic/retry"
	"ytmusic/scheduler"
	"ytmusic/storage"
	"ytmusic/youtube"
)

// Type aliases for convenient error handling.
type (
	// StorageError wraps errors during library store operations.
	StorageError = storage.StorageError
	// APIError wraps YouTube Data API failures.
	APIError = youtube.APIError
	// ExtractionError reports an audio stream that could not be resolved.
	ExtractionError = youtube.ExtractionError
	// HTTPError is a non-success response of the media transport.
	HTTPError = ythttp.HTTPError
	// RateLimitError reports a rate-limited media request.
	RateLimitError = ythttp.RateLimitError
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrIllegalState is returned for operations that do not apply to a
	// download's current state, such as retrying one that has not failed.
	ErrIllegalState = download.ErrIllegalState

	ErrNotFound      = storage.ErrNotFound
	ErrAlreadyExists = storage.ErrAlreadyExists
	ErrInvalidInput  = storage.ErrInvalidInput
	// ErrLockTimeout means another process holds the data directory.
	ErrLockTimeout = storage.ErrLockTimeout

	ErrJobNotFound  = scheduler.ErrJobNotFound
	ErrWorkNotFound = scheduler.ErrWorkNotFound

	ErrPlaylistNotFound = youtube.ErrPlaylistNotFound
	ErrVideoNotFound    = youtube.ErrVideoNotFound
	ErrQuotaExceeded    = youtube.ErrQuotaExceeded
	ErrNotAuthenticated = youtube.ErrNotAuthenticated
	ErrLiveStream       = youtube.ErrLiveStream
)

// IsRetryable determines if an error should be retried.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
