package youtube

import (
	"context"
	"errors"
	"fmt"
	"testing"

	ytdl "github.com/kkdai/youtube/v2"

	"ytmusic/retry"
)

func TestSelectAudioFormat(t *testing.T) {
	tests := []struct {
		name     string
		formats  ytdl.FormatList
		wantItag int
	}{
		{
			"prefers highest mp4 audio",
			ytdl.FormatList{
				{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Bitrate: 500000},
				{ItagNo: 139, MimeType: `audio/mp4; codecs="mp4a.40.5"`, Bitrate: 48000},
				{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 128000},
				{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000},
			},
			140,
		},
		{
			"falls back to webm",
			ytdl.FormatList{
				{ItagNo: 250, MimeType: `audio/webm; codecs="opus"`, Bitrate: 70000},
				{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000},
			},
			251,
		},
		{
			"no audio",
			ytdl.FormatList{{ItagNo: 18, MimeType: "video/mp4"}},
			0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectAudioFormat(tt.formats)
			if tt.wantItag == 0 {
				if got != nil {
					t.Errorf("selectAudioFormat() = %d, want nil", got.ItagNo)
				}
				return
			}
			if got == nil || got.ItagNo != tt.wantItag {
				t.Errorf("selectAudioFormat() = %v, want itag %d", got, tt.wantItag)
			}
		})
	}
}

func TestExtractionClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", errors.New("unexpected status code: 500"), true},
		{"live", retry.Permanent(ErrLiveStream), false},
		{"private", fmt.Errorf("get video: %w", ytdl.ErrVideoPrivate), false},
		{"login", ytdl.ErrLoginRequired, false},
		{"bad id", ytdl.ErrInvalidCharactersInVideoID, false},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractionClassifier(tt.err); got != tt.want {
				t.Errorf("extractionClassifier(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestExtract_InvalidIDIsNotRetried(t *testing.T) {
	e := NewExtractor(nil, 3)

	_, err := e.Extract(context.Background(), "bad id!")
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("Extract() error = %v, want ExtractionError", err)
	}
	if extractErr.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", extractErr.Attempts)
	}
	if extractErr.VideoID != "bad id!" {
		t.Errorf("VideoID = %q", extractErr.VideoID)
	}
}
