package youtube

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	ytdl "github.com/kkdai/youtube/v2"

	"ytmusic/retry"
)

// DefaultExtractionAttempts bounds how often video metadata is fetched
// before extraction gives up.
const DefaultExtractionAttempts = 3

// Extractor resolves a video id to a direct audio stream URL.
type Extractor struct {
	client   *ytdl.Client
	attempts int

	// RetryConfig controls the delay between extraction attempts.
	// MaxRetries is overridden by the attempt count.
	RetryConfig retry.Config
}

// NewExtractor creates an extractor issuing requests through httpClient.
func NewExtractor(httpClient *http.Client, attempts int) *Extractor {
	if attempts <= 0 {
		attempts = DefaultExtractionAttempts
	}
	return &Extractor{
		client:   &ytdl.Client{HTTPClient: httpClient},
		attempts: attempts,
		RetryConfig: retry.Config{
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.2,
		},
	}
}

// Extract returns the preferred audio stream of a video. Live streams and
// videos without an audio format fail without further attempts.
func (e *Extractor) Extract(ctx context.Context, videoID string) (*AudioStream, error) {
	var stream *AudioStream
	attempts := 0

	cfg := e.RetryConfig
	cfg.MaxRetries = e.attempts - 1

	err := retry.Do(ctx, cfg, extractionClassifier, func(ctx context.Context) error {
		attempts++
		video, err := e.client.GetVideoContext(ctx, videoID)
		if err != nil {
			log.Printf("youtube: extract %s (attempt %d/%d): %v", videoID, attempts, e.attempts, err)
			return err
		}
		if video.HLSManifestURL != "" {
			return retry.Permanent(ErrLiveStream)
		}

		format := selectAudioFormat(video.Formats)
		if format == nil {
			return retry.Permanent(ErrNoAudioFormat)
		}

		url, err := e.client.GetStreamURLContext(ctx, video, format)
		if err != nil {
			return err
		}
		stream = &AudioStream{
			URL:           url,
			MimeType:      format.MimeType,
			Bitrate:       format.Bitrate,
			ContentLength: format.ContentLength,
		}
		return nil
	})
	if err != nil {
		var perm *retry.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return nil, &ExtractionError{VideoID: videoID, Attempts: attempts, Err: err}
	}
	return stream, nil
}

// extractionClassifier stops on errors another attempt cannot fix.
func extractionClassifier(err error) bool {
	switch {
	case !retry.IsRetryable(err):
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, ytdl.ErrVideoPrivate),
		errors.Is(err, ytdl.ErrLoginRequired),
		errors.Is(err, ytdl.ErrNotPlayableInEmbed),
		errors.Is(err, ytdl.ErrInvalidCharactersInVideoID),
		errors.Is(err, ytdl.ErrVideoIDMinLength):
		return false
	}
	return true
}

// selectAudioFormat picks the highest-bitrate audio-only mp4 format, falling
// back to any audio-only format.
func selectAudioFormat(formats ytdl.FormatList) *ytdl.Format {
	var best, fallback *ytdl.Format
	for i := range formats {
		f := &formats[i]
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		if fallback == nil || f.Bitrate > fallback.Bitrate {
			fallback = f
		}
		if strings.HasPrefix(f.MimeType, "audio/mp4") && (best == nil || f.Bitrate > best.Bitrate) {
			best = f
		}
	}
	if best != nil {
		return best
	}
	return fallback
}
