package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"

	ythttp "ytmusic/http"
	"ytmusic/media"
	"ytmusic/scheduler"
	"ytmusic/youtube"
)

// Job kind, tag and payload keys of download jobs.
const (
	JobKind        = "download"
	TagDownloading = "downloading"

	InputVideoID      = "video_id"
	InputThumbnailURL = "thumbnail_url"

	ProgressPercent        = "progress"
	ProgressDownloadedSize = "downloaded_size"
	ProgressTotalSize      = "total_size"

	OutputMediaSize    = "media_size"
	OutputErrorMessage = scheduler.OutputErrorMessage
)

// Extractor resolves a video to a fetchable audio stream.
type Extractor interface {
	Extract(ctx context.Context, videoID string) (*youtube.AudioStream, error)
}

// Fetcher downloads stream bytes and small resources such as thumbnails.
type Fetcher interface {
	Stream(ctx context.Context, url string, w io.Writer, progress ythttp.ProgressFunc) (int64, error)
	Get(ctx context.Context, url string) (*ythttp.Response, error)
}

// Task is the running job as seen by the worker. *scheduler.Execution implements it.
type Task interface {
	ID() uuid.UUID
	Input() scheduler.Data
	IsStopped() bool
	SetProgress(progress scheduler.Data) error
}

var errStopped = errors.New("download: stopped")

// Worker executes download jobs: it extracts the audio stream, copies it to
// the partial file, saves the thumbnail and promotes the partial file.
type Worker struct {
	extractor Extractor
	fetcher   Fetcher
	files     *media.Files
}

// NewWorker creates a download worker.
func NewWorker(extractor Extractor, fetcher Fetcher, files *media.Files) *Worker {
	return &Worker{extractor: extractor, fetcher: fetcher, files: files}
}

// Func adapts the worker to the scheduler.
func (w *Worker) Func() scheduler.WorkerFunc {
	return func(ctx context.Context, exec *scheduler.Execution) scheduler.Result {
		return w.Run(ctx, exec)
	}
}

// Run performs one download. Any error removes the partial file and fails
// the job with the error message; the job is not retried by the scheduler.
func (w *Worker) Run(ctx context.Context, task Task) scheduler.Result {
	input := task.Input()
	videoID := input.String(InputVideoID)
	thumbnailURL := input.String(InputThumbnailURL)
	if videoID == "" || thumbnailURL == "" {
		return scheduler.Failure(scheduler.Data{
			OutputErrorMessage: fmt.Sprintf("job %s requires %s and %s", task.ID(), InputVideoID, InputThumbnailURL),
		})
	}

	log.Printf("download: start %s (job %s)", videoID, task.ID())
	size, err := w.download(ctx, task, videoID, thumbnailURL)
	if err != nil {
		w.files.RemoveDownloading(videoID)
		log.Printf("download: %s failed: %v", videoID, err)
		return scheduler.Failure(scheduler.Data{OutputErrorMessage: err.Error()})
	}

	log.Printf("download: %s finished (%d bytes)", videoID, size)
	out := scheduler.Data{}
	out.SetInt64(OutputMediaSize, size)
	return scheduler.Success(out)
}

func (w *Worker) download(ctx context.Context, task Task, videoID, thumbnailURL string) (int64, error) {
	stream, err := w.extractor.Extract(ctx, videoID)
	if err != nil {
		return 0, err
	}

	if err := w.copyStream(ctx, task, videoID, stream); err != nil {
		return 0, err
	}

	if err := w.saveThumbnail(ctx, videoID, thumbnailURL); err != nil {
		log.Printf("download: thumbnail of %s: %v", videoID, err)
	}

	return w.files.Promote(videoID)
}

func (w *Worker) copyStream(ctx context.Context, task Task, videoID string, stream *youtube.AudioStream) error {
	f, err := w.files.CreateDownloading(videoID)
	if err != nil {
		return fmt.Errorf("create partial file: %w", err)
	}

	lastPercent := int64(0)
	_, err = w.fetcher.Stream(ctx, stream.URL, f, func(written, total int64) error {
		if task.IsStopped() {
			return errStopped
		}
		if total <= 0 {
			total = stream.ContentLength
		}
		if total <= 0 {
			return nil
		}
		percent := written * 100 / total
		if percent <= lastPercent {
			return nil
		}
		lastPercent = percent

		progress := scheduler.Data{}
		progress.SetInt64(ProgressPercent, percent)
		progress.SetInt64(ProgressDownloadedSize, written)
		progress.SetInt64(ProgressTotalSize, total)
		if err := task.SetProgress(progress); err != nil {
			log.Printf("download: report progress of %s: %v", videoID, err)
		}
		return nil
	})

	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close partial file: %w", closeErr)
	}
	return err
}

func (w *Worker) saveThumbnail(ctx context.Context, videoID, url string) error {
	resp, err := w.fetcher.Get(ctx, url)
	if err != nil {
		return err
	}
	return w.files.SaveThumbnail(videoID, bytes.NewReader(resp.Body))
}
