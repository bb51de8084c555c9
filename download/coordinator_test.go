package download

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"ytmusic/library"
	"ytmusic/media"
	"ytmusic/scheduler"
	"ytmusic/storage"
	"ytmusic/youtube"
)

type harness struct {
	sched *scheduler.Scheduler
	lib   *library.Library
	coord *Coordinator
}

func newHarness(t *testing.T, worker scheduler.WorkerFunc) *harness {
	t.Helper()
	return newHarnessWithSetup(t, worker, nil)
}

// newHarnessWithSetup runs setup against the library before the coordinator starts.
func newHarnessWithSetup(t *testing.T, worker scheduler.WorkerFunc, setup func(*library.Library)) *harness {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "library.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	files, err := media.NewFiles(dir)
	if err != nil {
		t.Fatalf("NewFiles() error = %v", err)
	}
	lib := library.New(store, files)
	if setup != nil {
		setup(lib)
	}

	cfg := scheduler.DefaultConfig()
	cfg.Workers = 2
	cfg.MaxAttempts = 1
	cfg.Retention = 0
	sched, err := scheduler.Open(filepath.Join(dir, "jobs.db"), cfg)
	if err != nil {
		t.Fatalf("scheduler.Open() error = %v", err)
	}
	sched.Register(JobKind, worker)

	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	coord := NewCoordinator(sched, lib, DefaultConfig())
	coord.Start(ctx)

	t.Cleanup(func() {
		cancel()
		coord.Stop()
		sched.Close()
		store.Close()
	})
	return &harness{sched: sched, lib: lib, coord: coord}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testVideo(id string) youtube.Video {
	return youtube.Video{
		ID:              id,
		Title:           "Song " + id,
		Author:          "Band",
		Duration:        3 * time.Minute,
		NormalThumbnail: "https://i.ytimg.com/vi/" + id + "/mqdefault.jpg",
	}
}

func succeed(size int64) scheduler.Result {
	out := scheduler.Data{}
	out.SetInt64(OutputMediaSize, size)
	return scheduler.Success(out)
}

// blockingWorker reports half progress and finishes with result once release is closed.
func blockingWorker(release <-chan struct{}, result scheduler.Result) scheduler.WorkerFunc {
	return func(ctx context.Context, exec *scheduler.Execution) scheduler.Result {
		p := scheduler.Data{}
		p.SetInt64(ProgressDownloadedSize, 50)
		p.SetInt64(ProgressTotalSize, 100)
		exec.SetProgress(p)

		select {
		case <-release:
			return result
		case <-ctx.Done():
			return result
		}
	}
}

func TestState_UnknownVideo(t *testing.T) {
	h := newHarness(t, blockingWorker(nil, succeed(1)))
	if got := h.coord.State("never-enqueued"); got != (Download{}) {
		t.Errorf("State() = %v, want Download", got)
	}
}

func TestEnqueue_Success(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, blockingWorker(release, succeed(100)))
	ctx := context.Background()

	statuses, unsubscribe := h.coord.Observe()
	defer unsubscribe()

	playlist, err := h.lib.CreatePlaylist(ctx, "mix")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.coord.Enqueue(ctx, testVideo("v1"), []storage.Playlist{*playlist}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	first := <-statuses
	if first.VideoID != "v1" || first.State != (Downloading{}) {
		t.Errorf("first status = %+v, want v1 Downloading(0,0)", first)
	}

	core, err := h.lib.Core(ctx, "v1")
	if err != nil {
		t.Fatalf("Core() error = %v", err)
	}
	if core.JobID == nil || core.Position != storage.UnspecifiedPosition {
		t.Errorf("pending row = %+v, want job handle and unspecified position", core)
	}
	if core.ThumbnailURL != testVideo("v1").NormalThumbnail {
		t.Errorf("ThumbnailURL = %q", core.ThumbnailURL)
	}

	waitFor(t, "progress", func() bool {
		return h.coord.State("v1") == Downloading{Current: 50, Total: 100}
	})

	close(release)
	waitFor(t, "downloaded", func() bool {
		return h.coord.State("v1") == Downloaded{Size: 100}
	})

	waitFor(t, "job handle cleared", func() bool {
		core, err := h.lib.Core(ctx, "v1")
		return err == nil && core.JobID == nil
	})
	items, err := h.lib.Items(ctx, playlist.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != "v1" || items[0].Position != 0 {
		t.Errorf("playlist items = %+v, want v1 at position 0", items)
	}
}

func TestEnqueue_Duplicate(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, blockingWorker(release, succeed(1)))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := h.coord.Enqueue(ctx, testVideo("v1"), nil); err != nil {
			t.Fatalf("Enqueue() #%d error = %v", i+1, err)
		}
	}

	jobs, err := h.sched.InfosByTag(ctx, TagDownloading)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Errorf("jobs = %d, want 1", len(jobs))
	}
}

func TestFailure_RetainsRowAndRetry(t *testing.T) {
	attempts := make(chan struct{}, 10)
	h := newHarness(t, func(ctx context.Context, exec *scheduler.Execution) scheduler.Result {
		attempts <- struct{}{}
		if len(attempts) == 1 {
			return scheduler.Failure(scheduler.Data{OutputErrorMessage: "boom"})
		}
		return succeed(7)
	})
	ctx := context.Background()

	if err := h.coord.Enqueue(ctx, testVideo("v1"), nil); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, "failed", func() bool {
		return h.coord.State("v1") == Failed{Message: "boom"}
	})

	core, err := h.lib.Core(ctx, "v1")
	if err != nil {
		t.Fatalf("row should be retained after failure: %v", err)
	}
	if core.JobID == nil {
		t.Error("failed row lost its job handle")
	}
	failedJob := *core.JobID

	if err := h.coord.Retry(ctx, "v1"); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	waitFor(t, "downloaded after retry", func() bool {
		return h.coord.State("v1") == Downloaded{Size: 7}
	})

	core, err = h.lib.Core(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if core.JobID != nil && *core.JobID == failedJob {
		t.Error("retry did not replace the job handle")
	}
}

func TestRetry_NotFailed(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, blockingWorker(release, succeed(1)))
	ctx := context.Background()

	if err := h.coord.Retry(ctx, "unknown"); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Retry(unknown) error = %v, want ErrIllegalState", err)
	}
	if got := h.coord.State("unknown"); got != (Download{}) {
		t.Errorf("State(unknown) = %v after rejected retry", got)
	}

	if err := h.coord.Enqueue(ctx, testVideo("v1"), nil); err != nil {
		t.Fatal(err)
	}
	if err := h.coord.Retry(ctx, "v1"); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Retry(downloading) error = %v, want ErrIllegalState", err)
	}

	jobs, _ := h.sched.InfosByTag(ctx, TagDownloading)
	if len(jobs) != 1 {
		t.Errorf("jobs = %d, want 1 (no side effects)", len(jobs))
	}
}

func TestCancel_InFlight(t *testing.T) {
	started := make(chan struct{}, 1)
	h := newHarness(t, func(ctx context.Context, exec *scheduler.Execution) scheduler.Result {
		started <- struct{}{}
		<-ctx.Done()
		// Late success from a cancelled job
		return succeed(99)
	})
	ctx := context.Background()

	if err := h.coord.Enqueue(ctx, testVideo("v1"), nil); err != nil {
		t.Fatal(err)
	}
	core, _ := h.lib.Core(ctx, "v1")
	jobID := *core.JobID
	<-started

	statuses, unsubscribe := h.coord.Observe()
	defer unsubscribe()

	if err := h.coord.Cancel(ctx, "v1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if s := <-statuses; s.State != (Download{}) {
		t.Errorf("status after cancel = %+v, want Download", s)
	}
	if exists, _ := h.lib.Exists(ctx, "v1"); exists {
		t.Error("row still exists after cancel")
	}

	waitFor(t, "job cancelled", func() bool {
		info, err := h.sched.Info(ctx, jobID)
		return err == nil && info.State == scheduler.StateCancelled
	})
	time.Sleep(50 * time.Millisecond)
	if got := h.coord.State("v1"); got != (Download{}) {
		t.Errorf("State() = %v after late event, want Download", got)
	}
	if exists, _ := h.lib.Exists(ctx, "v1"); exists {
		t.Error("row reappeared after late event")
	}
}

func TestCancel_Downloaded(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, exec *scheduler.Execution) scheduler.Result {
		return succeed(5)
	})
	ctx := context.Background()

	h.coord.Enqueue(ctx, testVideo("v1"), nil)
	waitFor(t, "downloaded", func() bool {
		core, err := h.lib.Core(ctx, "v1")
		return err == nil && core.JobID == nil
	})

	if err := h.coord.Cancel(ctx, "v1"); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Cancel(downloaded) error = %v, want ErrIllegalState", err)
	}
	if exists, _ := h.lib.Exists(ctx, "v1"); !exists {
		t.Error("downloaded row was deleted by cancel")
	}
}

func TestStartupSync_DeletesOrphans(t *testing.T) {
	h := newHarnessWithSetup(t, blockingWorker(nil, succeed(1)), func(lib *library.Library) {
		item := storage.MediaItem{ID: "orphan", Title: "Lost"}
		if err := lib.RegisterDownloading(context.Background(), item, "t", nil, uuid.New()); err != nil {
			t.Fatal(err)
		}
	})
	ctx := context.Background()

	waitFor(t, "orphan deleted", func() bool {
		exists, err := h.lib.Exists(ctx, "orphan")
		return err == nil && !exists
	})
	waitFor(t, "orphan evicted", func() bool {
		return h.coord.State("orphan") == Download{}
	})
}

func TestBinding_DownloadedItemsAndExternalDelete(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, exec *scheduler.Execution) scheduler.Result {
		return succeed(3)
	})
	ctx := context.Background()

	h.coord.Enqueue(ctx, testVideo("v1"), nil)
	waitFor(t, "downloaded", func() bool {
		return h.coord.State("v1") == Downloaded{Size: 3}
	})

	statuses, unsubscribe := h.coord.Observe()
	defer unsubscribe()

	// Deleted outside the coordinator
	if err := h.lib.Delete(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "evicted", func() bool {
		return h.coord.State("v1") == Download{}
	})
	select {
	case s := <-statuses:
		if s.VideoID != "v1" || s.State != (Download{}) {
			t.Errorf("status = %+v, want v1 Download", s)
		}
	case <-time.After(time.Second):
		t.Error("no Download status published for deleted item")
	}
}

func TestDownloadingJobs(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, blockingWorker(release, succeed(1)))
	ctx := context.Background()

	h.coord.Enqueue(ctx, testVideo("a"), nil)
	h.coord.Enqueue(ctx, testVideo("b"), nil)

	jobs, err := h.coord.DownloadingJobs(ctx)
	if err != nil {
		t.Fatalf("DownloadingJobs() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	for _, j := range jobs {
		if j.JobID == uuid.Nil || j.ThumbnailURL == "" {
			t.Errorf("job = %+v, want handle and thumbnail", j)
		}
		if _, ok := j.State.(Downloading); !ok {
			t.Errorf("job %s state = %v, want Downloading", j.Item.ID, j.State)
		}
	}
}

func TestStateOf(t *testing.T) {
	progress := scheduler.Data{}
	progress.SetInt64(ProgressDownloadedSize, 10)
	progress.SetInt64(ProgressTotalSize, 40)
	output := scheduler.Data{}
	output.SetInt64(OutputMediaSize, 40)

	tests := []struct {
		name string
		job  scheduler.JobInfo
		want State
	}{
		{"enqueued", scheduler.JobInfo{State: scheduler.StateEnqueued}, Downloading{}},
		{"running", scheduler.JobInfo{State: scheduler.StateRunning, Progress: progress}, Downloading{Current: 10, Total: 40}},
		{"running without progress", scheduler.JobInfo{State: scheduler.StateRunning}, Downloading{}},
		{"succeeded", scheduler.JobInfo{State: scheduler.StateSucceeded, Output: output}, Downloaded{Size: 40}},
		{"failed", scheduler.JobInfo{State: scheduler.StateFailed, Output: scheduler.Data{OutputErrorMessage: "x"}}, Failed{Message: "x"}},
		{"cancelled", scheduler.JobInfo{State: scheduler.StateCancelled}, Download{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stateOf(&tt.job); got != tt.want {
				t.Errorf("stateOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDownloadingPercent(t *testing.T) {
	tests := []struct {
		state Downloading
		want  int
	}{
		{Downloading{}, 0},
		{Downloading{Current: 50, Total: 200}, 25},
		{Downloading{Current: 200, Total: 200}, 100},
		{Downloading{Current: 300, Total: 200}, 100},
	}
	for _, tt := range tests {
		if got := tt.state.Percent(); got != tt.want {
			t.Errorf("%+v.Percent() = %d, want %d", tt.state, got, tt.want)
		}
	}
}

func TestBroadcaster_DropsOldest(t *testing.T) {
	b := newBroadcaster(2)
	ch, unsubscribe := b.subscribe()

	for _, id := range []string{"a", "b", "c"} {
		b.publish(Status{VideoID: id, State: Download{}})
	}

	if s := <-ch; s.VideoID != "b" {
		t.Errorf("first = %q, want b", s.VideoID)
	}
	if s := <-ch; s.VideoID != "c" {
		t.Errorf("second = %q, want c", s.VideoID)
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("channel open after unsubscribe")
	}

	b.close()
	late, _ := b.subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription after close should be closed")
	}
}
