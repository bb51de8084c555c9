package youtube

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Video is the metadata of a remote video needed to register and download it.
type Video struct {
	ID          string
	Title       string
	Author      string
	Duration    time.Duration
	Description string
	ViewCount   uint64
	LikeCount   uint64
	Published   time.Time

	// Thumbnail is the small preview; NormalThumbnail is the image saved
	// next to the downloaded audio.
	Thumbnail       string
	NormalThumbnail string
}

// Playlist is a remote playlist owned by the authenticated user.
type Playlist struct {
	ID           string
	Title        string
	ThumbnailURL string
	ItemCount    int64
}

// PrivacyStatus of a remote playlist.
type PrivacyStatus string

const (
	PrivacyPublic   PrivacyStatus = "public"
	PrivacyUnlisted PrivacyStatus = "unlisted"
	PrivacyPrivate  PrivacyStatus = "private"
)

// PlaylistDetails is the header information of a single remote playlist.
type PlaylistDetails struct {
	Playlist
	ChannelTitle string
	Privacy      PrivacyStatus
}

// AudioStream is a resolved, directly fetchable audio stream.
type AudioStream struct {
	URL           string
	MimeType      string
	Bitrate       int
	ContentLength int64
}

var isoDurationRegex = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseDuration parses the ISO 8601 durations used by contentDetails.duration,
// e.g. "PT4M13S" or "P1DT2H".
func ParseDuration(s string) (time.Duration, error) {
	m := isoDurationRegex.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("youtube: invalid duration %q", s)
	}

	var d time.Duration
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute}
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("youtube: invalid duration %q: %w", s, err)
		}
		d += time.Duration(n) * unit
	}
	if m[4] != "" {
		secs, err := strconv.ParseFloat(m[4], 64)
		if err != nil {
			return 0, fmt.Errorf("youtube: invalid duration %q: %w", s, err)
		}
		d += time.Duration(secs * float64(time.Second))
	}
	return d, nil
}
