package download

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	ythttp "ytmusic/http"
	"ytmusic/media"
	"ytmusic/retry"
	"ytmusic/scheduler"
	"ytmusic/youtube"
)

type fakeTask struct {
	id       uuid.UUID
	input    scheduler.Data
	stopped  atomic.Bool
	progress []scheduler.Data
}

func newFakeTask(videoID, thumbnailURL string) *fakeTask {
	return &fakeTask{
		id:    uuid.New(),
		input: scheduler.Data{InputVideoID: videoID, InputThumbnailURL: thumbnailURL},
	}
}

func (f *fakeTask) ID() uuid.UUID         { return f.id }
func (f *fakeTask) Input() scheduler.Data { return f.input }
func (f *fakeTask) IsStopped() bool       { return f.stopped.Load() }
func (f *fakeTask) SetProgress(p scheduler.Data) error {
	f.progress = append(f.progress, p)
	return nil
}

type MockExtractor struct {
	url string
	err error
}

func (m *MockExtractor) Extract(ctx context.Context, videoID string) (*youtube.AudioStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &youtube.AudioStream{URL: m.url, MimeType: "audio/mp4"}, nil
}

var audio = bytes.Repeat([]byte("0123456789"), 1000)

func newMediaServer(t *testing.T, thumbnailStatus int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/audio":
			w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
			w.Write(audio)
		case "/thumb":
			w.WriteHeader(thumbnailStatus)
			w.Write([]byte("jpeg"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestWorker(t *testing.T, extractor Extractor) (*Worker, *media.Files) {
	t.Helper()
	files, err := media.NewFiles(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := ythttp.DefaultConfig()
	cfg.Retry = retry.Config{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2}
	client := ythttp.New(cfg)
	t.Cleanup(func() { client.Close() })
	return NewWorker(extractor, client, files), files
}

func TestWorker_Success(t *testing.T) {
	srv := newMediaServer(t, http.StatusOK)
	w, files := newTestWorker(t, &MockExtractor{url: srv.URL + "/audio"})
	task := newFakeTask("vid", srv.URL+"/thumb")

	res := w.Run(context.Background(), task)

	out, ok := successOutput(res)
	if !ok {
		t.Fatalf("Run() = %+v, want success", res)
	}
	if got := out.Int64(OutputMediaSize); got != int64(len(audio)) {
		t.Errorf("media_size = %d, want %d", got, len(audio))
	}

	data, err := os.ReadFile(files.MediaFile("vid"))
	if err != nil || !bytes.Equal(data, audio) {
		t.Errorf("media file mismatch: %v", err)
	}
	if _, err := os.Stat(files.DownloadingFile("vid")); !errors.Is(err, os.ErrNotExist) {
		t.Error("partial file left behind")
	}
	thumb, err := os.ReadFile(files.Thumbnail("vid"))
	if err != nil || string(thumb) != "jpeg" {
		t.Errorf("thumbnail = %q, %v", thumb, err)
	}

	if len(task.progress) == 0 {
		t.Fatal("no progress reported")
	}
	last := int64(0)
	for _, p := range task.progress {
		percent := p.Int64(ProgressPercent)
		if percent <= last {
			t.Errorf("progress not increasing: %d after %d", percent, last)
		}
		last = percent
		if p.Int64(ProgressTotalSize) != int64(len(audio)) {
			t.Errorf("total_size = %d", p.Int64(ProgressTotalSize))
		}
	}
	final := task.progress[len(task.progress)-1]
	if final.Int64(ProgressPercent) != 100 || final.Int64(ProgressDownloadedSize) != int64(len(audio)) {
		t.Errorf("final progress = %v", final)
	}
}

func TestWorker_ThumbnailFailureIsNotFatal(t *testing.T) {
	srv := newMediaServer(t, http.StatusNotFound)
	w, files := newTestWorker(t, &MockExtractor{url: srv.URL + "/audio"})

	res := w.Run(context.Background(), newFakeTask("vid", srv.URL+"/thumb"))
	if _, ok := successOutput(res); !ok {
		t.Fatalf("Run() = %+v, want success", res)
	}
	if _, err := os.Stat(files.Thumbnail("vid")); !errors.Is(err, os.ErrNotExist) {
		t.Error("thumbnail should not exist")
	}
}

func TestWorker_Failures(t *testing.T) {
	srv := newMediaServer(t, http.StatusOK)

	tests := []struct {
		name      string
		extractor *MockExtractor
		task      *fakeTask
		stop      bool
		wantMsg   string
	}{
		{
			name:      "missing input",
			extractor: &MockExtractor{url: srv.URL + "/audio"},
			task:      newFakeTask("vid", ""),
			wantMsg:   InputThumbnailURL,
		},
		{
			name:      "extraction",
			extractor: &MockExtractor{err: &youtube.ExtractionError{VideoID: "vid", Attempts: 3, Err: youtube.ErrLiveStream}},
			task:      newFakeTask("vid", srv.URL+"/thumb"),
			wantMsg:   "live",
		},
		{
			name:      "stream not found",
			extractor: &MockExtractor{url: srv.URL + "/missing"},
			task:      newFakeTask("vid", srv.URL+"/thumb"),
			wantMsg:   "404",
		},
		{
			name:      "stopped",
			extractor: &MockExtractor{url: srv.URL + "/audio"},
			task:      newFakeTask("vid", srv.URL+"/thumb"),
			stop:      true,
			wantMsg:   "stopped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, files := newTestWorker(t, tt.extractor)
			tt.task.stopped.Store(tt.stop)

			res := w.Run(context.Background(), tt.task)
			msg, ok := failureMessage(res)
			if !ok {
				t.Fatalf("Run() = %+v, want failure", res)
			}
			if !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("error_message = %q, want it to contain %q", msg, tt.wantMsg)
			}
			for _, path := range []string{files.DownloadingFile("vid"), files.MediaFile("vid")} {
				if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
					t.Errorf("%s exists after failure", path)
				}
			}
		})
	}
}

func successOutput(res scheduler.Result) (scheduler.Data, bool) {
	return res.Output(), res.IsSuccess()
}

func failureMessage(res scheduler.Result) (string, bool) {
	return res.Output().String(OutputErrorMessage), res.IsFailure()
}
