package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"ytmusic/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	c.RetryConfig = &retry.Config{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2}
	return c
}

func videoJSON(id string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"snippet": {
			"title": "Title %s",
			"channelTitle": "Author",
			"publishedAt": "2023-01-02T03:04:05Z",
			"thumbnails": {
				"default": {"url": "https://i.ytimg.com/%s/default.jpg"},
				"medium": {"url": "https://i.ytimg.com/%s/mqdefault.jpg"}
			}
		},
		"contentDetails": {"duration": "PT3M30S"},
		"statistics": {"viewCount": "42", "likeCount": "7"}
	}`, id, id, id, id)
}

func TestPlaylistVideos(t *testing.T) {
	var itemCalls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/playlistItems"):
			itemCalls++
			if r.URL.Query().Get("playlistId") != "PL1" {
				t.Errorf("playlistId = %q", r.URL.Query().Get("playlistId"))
			}
			if r.URL.Query().Get("pageToken") == "" {
				fmt.Fprint(w, `{"items":[{"contentDetails":{"videoId":"v1"}},{"contentDetails":{"videoId":"v2"}}],"nextPageToken":"p2"}`)
				return
			}
			fmt.Fprint(w, `{"items":[{"contentDetails":{"videoId":"v3"}}]}`)
		case strings.HasSuffix(r.URL.Path, "/videos"):
			// v2 is private and has no metadata
			fmt.Fprintf(w, `{"items":[%s,%s]}`, videoJSON("v3"), videoJSON("v1"))
		default:
			http.NotFound(w, r)
		}
	})

	videos, err := c.PlaylistVideos(context.Background(), "PL1")
	if err != nil {
		t.Fatalf("PlaylistVideos() error = %v", err)
	}
	if itemCalls != 2 {
		t.Errorf("playlistItems calls = %d, want 2", itemCalls)
	}
	if len(videos) != 2 || videos[0].ID != "v1" || videos[1].ID != "v3" {
		t.Fatalf("videos = %+v, want v1, v3 in playlist order", videos)
	}

	v := videos[0]
	if v.Title != "Title v1" || v.Author != "Author" {
		t.Errorf("title/author = %q/%q", v.Title, v.Author)
	}
	if v.Duration != 3*time.Minute+30*time.Second {
		t.Errorf("Duration = %v", v.Duration)
	}
	if v.ViewCount != 42 || v.LikeCount != 7 {
		t.Errorf("counts = %d/%d", v.ViewCount, v.LikeCount)
	}
	if v.NormalThumbnail != "https://i.ytimg.com/v1/mqdefault.jpg" {
		t.Errorf("NormalThumbnail = %q", v.NormalThumbnail)
	}
	if c.EstimatedQuota() != defaultDailyQuota-3 {
		t.Errorf("EstimatedQuota() = %d, want %d", c.EstimatedQuota(), defaultDailyQuota-3)
	}
}

func TestPlaylistVideos_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":404,"message":"playlist not found","errors":[{"reason":"playlistNotFound"}]}}`)
	})

	_, err := c.PlaylistVideos(context.Background(), "gone")
	if !errors.Is(err, ErrPlaylistNotFound) {
		t.Fatalf("error = %v, want ErrPlaylistNotFound", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Op != "playlistItems" || apiErr.ID != "gone" {
		t.Errorf("error = %#v, want APIError for playlistItems/gone", err)
	}
}

func TestMyPlaylistIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("mine") != "true" {
			t.Errorf("mine = %q", r.URL.Query().Get("mine"))
		}
		if r.URL.Query().Get("pageToken") == "" {
			fmt.Fprint(w, `{"items":[{"id":"A"},{"id":"B"}],"nextPageToken":"next"}`)
			return
		}
		fmt.Fprint(w, `{"items":[{"id":"C"}]}`)
	})

	ids, err := c.MyPlaylistIDs(context.Background())
	if err != nil {
		t.Fatalf("MyPlaylistIDs() error = %v", err)
	}
	if strings.Join(ids, ",") != "A,B,C" {
		t.Errorf("ids = %v", ids)
	}
}

func TestMyPlaylists(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"id":"A","snippet":{"title":"Mix","thumbnails":{"default":{"url":"t.jpg"}}},"contentDetails":{"itemCount":12}}],"nextPageToken":"n"}`)
	})

	playlists, next, err := c.MyPlaylists(context.Background(), "")
	if err != nil {
		t.Fatalf("MyPlaylists() error = %v", err)
	}
	want := Playlist{ID: "A", Title: "Mix", ThumbnailURL: "t.jpg", ItemCount: 12}
	if len(playlists) != 1 || playlists[0] != want {
		t.Errorf("playlists = %+v, want %+v", playlists, want)
	}
	if next != "n" {
		t.Errorf("next = %q", next)
	}
}

func TestVideo_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[]}`)
	})

	_, err := c.Video(context.Background(), "missing")
	if !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("error = %v, want ErrVideoNotFound", err)
	}
}

func TestQuotaExceeded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded"}]}}`)
	})

	_, err := c.MyPlaylistIDs(context.Background())
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("error = %v, want ErrQuotaExceeded", err)
	}
	if !c.QuotaExhausted() {
		t.Error("QuotaExhausted() = false after quotaExceeded")
	}
}

func TestAPIErrorClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"playlist not found", ErrPlaylistNotFound, false},
		{"canceled", context.Canceled, false},
		{"rate limited", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, true},
		{"quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, false},
		{"server error", &googleapi.Error{Code: 503}, true},
		{"too many requests", &googleapi.Error{Code: 429}, true},
		{"bad request", &googleapi.Error{Code: 400}, false},
		{"unknown", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apiErrorClassifier(tt.err); got != tt.want {
				t.Errorf("apiErrorClassifier(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"PT4M13S", 4*time.Minute + 13*time.Second, false},
		{"PT1H", time.Hour, false},
		{"P1DT2H3M", 26*time.Hour + 3*time.Minute, false},
		{"PT0S", 0, false},
		{"PT1.5S", 1500 * time.Millisecond, false},
		{"P0D", 0, false},
		{"", 0, true},
		{"P", 0, true},
		{"PT", 0, true},
		{"4:13", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
