package youtube

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"ytmusic/retry"
)

const (
	defaultDailyQuota = 10000
	pageSize          = 50
)

// Client reads the authenticated user's playlists and video metadata from
// the YouTube Data API v3.
type Client struct {
	service *youtube.Service

	mu             sync.Mutex
	estimatedQuota int
	lastQuotaReset time.Time
	quotaExhausted bool

	RetryConfig *retry.Config
}

// NewClient creates a Data API client. Authentication comes from opts,
// typically option.WithTokenSource or option.WithAPIKey (see ClientOptions).
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	cfg := retry.DefaultConfig()
	return &Client{
		service:        service,
		estimatedQuota: defaultDailyQuota,
		lastQuotaReset: time.Now(),
		RetryConfig:    &cfg,
	}, nil
}

// MyPlaylistIDs returns the ids of every playlist owned by the caller.
func (c *Client) MyPlaylistIDs(ctx context.Context) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		var next string
		err := c.do(ctx, 1, func(ctx context.Context) error {
			resp, err := c.service.Playlists.List([]string{"id"}).
				Mine(true).
				MaxResults(pageSize).
				PageToken(pageToken).
				Context(ctx).
				Do()
			if err != nil {
				return err
			}
			for _, p := range resp.Items {
				ids = append(ids, p.Id)
			}
			next = resp.NextPageToken
			return nil
		})
		if err != nil {
			return nil, &APIError{Op: "playlists", Err: err}
		}
		if next == "" {
			return ids, nil
		}
		pageToken = next
	}
}

// MyPlaylists returns one page of the caller's playlists and the token of
// the next page ("" when done).
func (c *Client) MyPlaylists(ctx context.Context, pageToken string) ([]Playlist, string, error) {
	var playlists []Playlist
	var next string
	err := c.do(ctx, 1, func(ctx context.Context) error {
		resp, err := c.service.Playlists.List([]string{"snippet", "contentDetails"}).
			Mine(true).
			MaxResults(pageSize).
			PageToken(pageToken).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		playlists = playlists[:0]
		for _, p := range resp.Items {
			playlists = append(playlists, toPlaylist(p))
		}
		next = resp.NextPageToken
		return nil
	})
	if err != nil {
		return nil, "", &APIError{Op: "playlists", Err: err}
	}
	return playlists, next, nil
}

// PlaylistDetails returns the header of a single playlist.
func (c *Client) PlaylistDetails(ctx context.Context, playlistID string) (*PlaylistDetails, error) {
	var details *PlaylistDetails
	err := c.do(ctx, 1, func(ctx context.Context) error {
		resp, err := c.service.Playlists.List([]string{"snippet", "contentDetails", "status"}).
			Id(playlistID).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return ErrPlaylistNotFound
		}
		p := resp.Items[0]
		details = &PlaylistDetails{Playlist: toPlaylist(p)}
		if p.Snippet != nil {
			details.ChannelTitle = p.Snippet.ChannelTitle
			if p.Snippet.Thumbnails != nil && p.Snippet.Thumbnails.Maxres != nil {
				details.ThumbnailURL = p.Snippet.Thumbnails.Maxres.Url
			}
		}
		if p.Status != nil {
			details.Privacy = PrivacyStatus(p.Status.PrivacyStatus)
		}
		return nil
	})
	if err != nil {
		return nil, &APIError{Op: "playlists", ID: playlistID, Err: notFoundAs(err, ErrPlaylistNotFound)}
	}
	return details, nil
}

// PlaylistVideos returns every video of a playlist with full metadata, in
// playlist order. Deleted or private entries without metadata are skipped.
func (c *Client) PlaylistVideos(ctx context.Context, playlistID string) ([]Video, error) {
	var ids []string
	pageToken := ""
	for {
		var next string
		err := c.do(ctx, 1, func(ctx context.Context) error {
			resp, err := c.service.PlaylistItems.List([]string{"contentDetails"}).
				PlaylistId(playlistID).
				MaxResults(pageSize).
				PageToken(pageToken).
				Context(ctx).
				Do()
			if err != nil {
				return err
			}
			for _, item := range resp.Items {
				if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
					ids = append(ids, item.ContentDetails.VideoId)
				}
			}
			next = resp.NextPageToken
			return nil
		})
		if err != nil {
			return nil, &APIError{Op: "playlistItems", ID: playlistID, Err: notFoundAs(err, ErrPlaylistNotFound)}
		}
		if next == "" {
			break
		}
		pageToken = next
	}

	return c.videos(ctx, ids)
}

// Video returns the metadata of a single video.
func (c *Client) Video(ctx context.Context, videoID string) (*Video, error) {
	videos, err := c.videos(ctx, []string{videoID})
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, &APIError{Op: "videos", ID: videoID, Err: ErrVideoNotFound}
	}
	return &videos[0], nil
}

// SearchOptions narrows a video search.
type SearchOptions struct {
	// Order is one of "relevance", "date", "title", "viewCount", "rating".
	Order string
	// Duration is one of "any", "short", "medium", "long".
	Duration   string
	PageToken  string
	MaxResults int64
}

// Search returns one page of videos matching query and the next page token.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]Video, string, error) {
	if opts.MaxResults <= 0 || opts.MaxResults > pageSize {
		opts.MaxResults = pageSize
	}

	var ids []string
	var next string
	err := c.do(ctx, 100, func(ctx context.Context) error {
		call := c.service.Search.List([]string{"id"}).
			Q(query).
			Type("video").
			MaxResults(opts.MaxResults).
			PageToken(opts.PageToken).
			Context(ctx)
		if opts.Order != "" {
			call = call.Order(opts.Order)
		}
		if opts.Duration != "" {
			call = call.VideoDuration(opts.Duration)
		}
		resp, err := call.Do()
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, r := range resp.Items {
			if r.Id != nil && r.Id.VideoId != "" {
				ids = append(ids, r.Id.VideoId)
			}
		}
		next = resp.NextPageToken
		return nil
	})
	if err != nil {
		return nil, "", &APIError{Op: "search", ID: query, Err: err}
	}

	videos, err := c.videos(ctx, ids)
	if err != nil {
		return nil, "", err
	}
	return videos, next, nil
}

// videos fetches full metadata for ids in batches, preserving order.
func (c *Client) videos(ctx context.Context, ids []string) ([]Video, error) {
	byID := make(map[string]Video, len(ids))
	for start := 0; start < len(ids); start += pageSize {
		end := min(start+pageSize, len(ids))
		batch := ids[start:end]

		err := c.do(ctx, 1, func(ctx context.Context) error {
			resp, err := c.service.Videos.List([]string{"snippet", "statistics", "contentDetails"}).
				Id(batch...).
				Context(ctx).
				Do()
			if err != nil {
				return err
			}
			for _, v := range resp.Items {
				byID[v.Id] = toVideo(v)
			}
			return nil
		})
		if err != nil {
			return nil, &APIError{Op: "videos", Err: err}
		}
	}

	videos := make([]Video, 0, len(byID))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			videos = append(videos, v)
		}
	}
	return videos, nil
}

// do runs one API call under the retry policy and accounts its quota cost.
func (c *Client) do(ctx context.Context, cost int, fn func(ctx context.Context) error) error {
	cfg := c.RetryConfig
	if cfg == nil {
		defaultCfg := retry.DefaultConfig()
		cfg = &defaultCfg
	}

	err := retry.Do(ctx, *cfg, apiErrorClassifier, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return ErrNetworkTimeout
			}
			return err
		}
		c.trackQuotaUsage(cost)
		return nil
	})
	return c.translate(err)
}

// translate maps Data API failures onto package sentinels.
func (c *Client) translate(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch {
	case hasReason(gerr, "quotaExceeded", "dailyLimitExceeded"):
		c.mu.Lock()
		if !c.quotaExhausted {
			log.Printf("youtube: API quota exhausted")
		}
		c.quotaExhausted = true
		c.estimatedQuota = 0
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	case gerr.Code == 401:
		return fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	return err
}

// trackQuotaUsage updates the estimated quota and checks if we've exhausted it.
func (c *Client) trackQuotaUsage(units int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastQuotaReset) > 24*time.Hour {
		c.estimatedQuota = defaultDailyQuota
		c.lastQuotaReset = time.Now()
		c.quotaExhausted = false
		log.Printf("youtube: quota reset (new day)")
	}

	c.estimatedQuota -= units
	if c.estimatedQuota <= 0 && !c.quotaExhausted {
		log.Printf("youtube: estimated quota exhausted")
		c.quotaExhausted = true
	}
}

// EstimatedQuota returns the estimated remaining quota units.
func (c *Client) EstimatedQuota() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimatedQuota
}

// QuotaExhausted reports whether the daily quota has been used up.
func (c *Client) QuotaExhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quotaExhausted
}

// apiErrorClassifier determines if an API error is retryable.
func apiErrorClassifier(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrPlaylistNotFound), errors.Is(err, ErrVideoNotFound):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if hasReason(gerr, "rateLimitExceeded", "userRateLimitExceeded") {
			return true
		}
		// Quota only resets daily; bad requests and auth failures never heal.
		return gerr.Code == 429 || gerr.Code >= 500
	}

	return true
}

func hasReason(gerr *googleapi.Error, reasons ...string) bool {
	for _, item := range gerr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}

// notFoundAs replaces a 404 from the API with sentinel.
func notFoundAs(err, sentinel error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 404 {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}

func toPlaylist(p *youtube.Playlist) Playlist {
	pl := Playlist{ID: p.Id}
	if p.Snippet != nil {
		pl.Title = p.Snippet.Title
		if p.Snippet.Thumbnails != nil && p.Snippet.Thumbnails.Default != nil {
			pl.ThumbnailURL = p.Snippet.Thumbnails.Default.Url
		}
	}
	if p.ContentDetails != nil {
		pl.ItemCount = p.ContentDetails.ItemCount
	}
	return pl
}

func toVideo(v *youtube.Video) Video {
	video := Video{ID: v.Id}
	if v.Snippet != nil {
		video.Title = v.Snippet.Title
		video.Author = v.Snippet.ChannelTitle
		video.Description = v.Snippet.Description
		if t, err := time.Parse(time.RFC3339, v.Snippet.PublishedAt); err == nil {
			video.Published = t
		}
		if th := v.Snippet.Thumbnails; th != nil {
			if th.Default != nil {
				video.Thumbnail = th.Default.Url
			}
			if th.Medium != nil {
				video.NormalThumbnail = th.Medium.Url
			}
		}
	}
	if v.ContentDetails != nil {
		if d, err := ParseDuration(v.ContentDetails.Duration); err == nil {
			video.Duration = d
		} else {
			log.Printf("youtube: video %s: %v", v.Id, err)
		}
	}
	if v.Statistics != nil {
		video.ViewCount = v.Statistics.ViewCount
		video.LikeCount = v.Statistics.LikeCount
	}
	return video
}
