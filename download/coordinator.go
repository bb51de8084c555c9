package download

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"ytmusic/scheduler"
	"ytmusic/storage"
	"ytmusic/youtube"
)

// ErrIllegalState is returned for operations the current state of a video does not allow.
var ErrIllegalState = errors.New("download: illegal state")

// Jobs is the part of the scheduler the coordinator drives.
type Jobs interface {
	Enqueue(ctx context.Context, req scheduler.Request) (uuid.UUID, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Info(ctx context.Context, id uuid.UUID) (*scheduler.JobInfo, error)
	Subscribe(ctx context.Context, tag string) <-chan []scheduler.JobInfo
}

// Library is the part of the media library the coordinator keeps in step with jobs.
type Library interface {
	RegisterDownloading(ctx context.Context, item storage.MediaItem, thumbnailURL string, playlists []storage.Playlist, jobID uuid.UUID) error
	UpdateJobID(ctx context.Context, id string, jobID uuid.UUID) error
	SetDownloaded(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Core(ctx context.Context, id string) (*storage.MediaItemCore, error)
	Cores(ctx context.Context) ([]storage.MediaItemCore, error)
	Downloading(ctx context.Context) ([]storage.MediaItemCore, error)
	Watch(ctx context.Context) <-chan []storage.MediaItemCore
	MediaSize(id string) int64
	RemoveOrphanedPartials(ctx context.Context) (int, error)
}

// Config holds coordinator configuration.
type Config struct {
	// StatusBuffer is the per-observer status buffer.
	StatusBuffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{StatusBuffer: 10}
}

// Job is an outstanding download as listed by DownloadingJobs.
type Job struct {
	Item         storage.MediaItem
	ThumbnailURL string
	JobID        uuid.UUID
	State        State
}

// Coordinator owns the download status of every video. Enqueue, Cancel and
// Retry are serialised; State is a lock-protected cache read.
type Coordinator struct {
	jobs  Jobs
	lib   Library
	cache *cache
	bus   *broadcaster

	opMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator. Call Start to begin reconciling.
func NewCoordinator(jobs Jobs, lib Library, cfg Config) *Coordinator {
	return &Coordinator{
		jobs:  jobs,
		lib:   lib,
		cache: newCache(),
		bus:   newBroadcaster(cfg.StatusBuffer),
	}
}

// Start launches the job event loop, the library binding loop and the
// startup synchronisation. They run until ctx ends or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.synchronize(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.bindLibrary(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.observeJobs(ctx)
	}()
}

// Stop ends the background loops and closes every observer channel.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.bus.close()
}

// Wait blocks until the background loops have ended.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Enqueue starts downloading video into the library, assigned to playlists.
// It does nothing if the video is already registered.
func (c *Coordinator) Enqueue(ctx context.Context, video youtube.Video, playlists []storage.Playlist) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	_, err := c.lib.Core(ctx, video.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	previous, hadPrevious := c.cache.get(video.ID)
	c.setLocked(video.ID, Downloading{}, uuid.Nil)

	jobID, err := c.jobs.Enqueue(ctx, newRequest(video.ID, video.NormalThumbnail))
	if err != nil {
		c.revertLocked(video.ID, previous, hadPrevious)
		return fmt.Errorf("enqueue %s: %w", video.ID, err)
	}

	item := storage.MediaItem{
		ID:       video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
		Position: storage.UnspecifiedPosition,
	}
	if err := c.lib.RegisterDownloading(ctx, item, video.NormalThumbnail, playlists, jobID); err != nil {
		c.cancelJob(ctx, jobID)
		c.revertLocked(video.ID, previous, hadPrevious)
		return fmt.Errorf("register %s: %w", video.ID, err)
	}

	c.cache.put(video.ID, entry{state: Downloading{}, job: jobID})
	c.refreshLocked(ctx, jobID)
	return nil
}

// Cancel stops the download of a video and removes it from the library.
// Cancelling a video that is not registered only republishes Download.
func (c *Coordinator) Cancel(ctx context.Context, videoID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	core, err := c.lib.Core(ctx, videoID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		core = nil
	case err != nil:
		return err
	}

	jobID := uuid.Nil
	if core != nil {
		if !core.IsDownloading() {
			return fmt.Errorf("%w: %s is already downloaded", ErrIllegalState, videoID)
		}
		jobID = *core.JobID
	} else if e, ok := c.cache.get(videoID); ok {
		jobID = e.job
	}

	c.cache.remove(videoID)
	c.bus.publish(Status{VideoID: videoID, State: Download{}})

	if jobID != uuid.Nil {
		c.cancelJob(ctx, jobID)
	}
	if core != nil {
		return c.lib.Delete(ctx, videoID)
	}
	return nil
}

// Retry re-submits the download of a failed video.
func (c *Coordinator) Retry(ctx context.Context, videoID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	previous, ok := c.cache.get(videoID)
	if !ok {
		return fmt.Errorf("%w: %s is not tracked", ErrIllegalState, videoID)
	}
	if _, failed := previous.state.(Failed); !failed {
		return fmt.Errorf("%w: %s is %s", ErrIllegalState, videoID, previous.state)
	}
	core, err := c.lib.Core(ctx, videoID)
	if err != nil {
		return err
	}

	c.setLocked(videoID, Downloading{}, uuid.Nil)

	jobID, err := c.jobs.Enqueue(ctx, newRequest(videoID, core.ThumbnailURL))
	if err != nil {
		c.revertLocked(videoID, previous, true)
		return fmt.Errorf("enqueue %s: %w", videoID, err)
	}
	if err := c.lib.UpdateJobID(ctx, videoID, jobID); err != nil {
		c.cancelJob(ctx, jobID)
		c.revertLocked(videoID, previous, true)
		return fmt.Errorf("update job of %s: %w", videoID, err)
	}

	c.cache.put(videoID, entry{state: Downloading{}, job: jobID})
	c.refreshLocked(ctx, jobID)
	return nil
}

// State returns the last known state of a video; Download if it is unknown.
func (c *Coordinator) State(videoID string) State {
	if e, ok := c.cache.get(videoID); ok {
		return e.state
	}
	return Download{}
}

// Observe subscribes to status changes. The returned func unsubscribes and
// closes the channel. A slow observer loses its oldest pending statuses.
func (c *Coordinator) Observe() (<-chan Status, func()) {
	return c.bus.subscribe()
}

// DownloadingJobs lists the outstanding downloads with their current state.
func (c *Coordinator) DownloadingJobs(ctx context.Context) ([]Job, error) {
	cores, err := c.lib.Downloading(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(cores))
	for _, core := range cores {
		jobs = append(jobs, Job{
			Item:         core.MediaItem,
			ThumbnailURL: core.ThumbnailURL,
			JobID:        *core.JobID,
			State:        c.State(core.ID),
		})
	}
	return jobs, nil
}

// observeJobs applies every scheduler snapshot of download jobs to the cache.
func (c *Coordinator) observeJobs(ctx context.Context) {
	for jobs := range c.jobs.Subscribe(ctx, TagDownloading) {
		c.opMu.Lock()
		for i := range jobs {
			c.applyLocked(ctx, &jobs[i])
		}
		c.opMu.Unlock()
	}
}

// bindLibrary keeps the cache in step with the registered item set. Each
// snapshot is only a trigger; the current set is re-read under the lock.
func (c *Coordinator) bindLibrary(ctx context.Context) {
	for range c.lib.Watch(ctx) {
		c.opMu.Lock()
		if err := c.bindLocked(ctx); err != nil && ctx.Err() == nil {
			log.Printf("download: sync cache with library: %v", err)
		}
		c.opMu.Unlock()
	}
}

func (c *Coordinator) bindLocked(ctx context.Context) error {
	cores, err := c.lib.Cores(ctx)
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(cores))
	for _, core := range cores {
		present[core.ID] = true
		if core.IsDownloading() {
			if c.cache.putIfAbsent(core.ID, entry{state: Downloading{}, job: *core.JobID}) {
				c.refreshLocked(ctx, *core.JobID)
			}
			continue
		}
		c.cache.putIfAbsent(core.ID, entry{state: Downloaded{Size: c.lib.MediaSize(core.ID)}})
	}

	for _, id := range c.cache.ids() {
		if present[id] {
			continue
		}
		// Still being enqueued
		if e, _ := c.cache.get(id); e.job == uuid.Nil {
			if _, isDownloading := e.state.(Downloading); isDownloading {
				continue
			}
		}
		c.cache.remove(id)
		c.bus.publish(Status{VideoID: id, State: Download{}})
	}
	return nil
}

// synchronize deletes items whose job the scheduler no longer knows and
// partial files nobody owns.
func (c *Coordinator) synchronize(ctx context.Context) {
	cores, err := c.lib.Downloading(ctx)
	if err != nil {
		log.Printf("download: startup sync: %v", err)
		return
	}

	for _, core := range cores {
		_, err := c.jobs.Info(ctx, *core.JobID)
		if err == nil {
			continue
		}
		if !errors.Is(err, scheduler.ErrJobNotFound) {
			log.Printf("download: startup sync: job %s of %s: %v", core.JobID, core.ID, err)
			continue
		}

		log.Printf("download: job %s of %s not found, deleting item", core.JobID, core.ID)
		c.opMu.Lock()
		if err := c.lib.Delete(ctx, core.ID); err != nil {
			log.Printf("download: delete orphaned %s: %v", core.ID, err)
		}
		c.opMu.Unlock()
	}

	if n, err := c.lib.RemoveOrphanedPartials(ctx); err != nil {
		log.Printf("download: remove orphaned partial files: %v", err)
	} else if n > 0 {
		log.Printf("download: removed %d orphaned partial files", n)
	}
}

// refreshLocked applies the current record of a job, catching up on events
// published before the job's handle was cached.
func (c *Coordinator) refreshLocked(ctx context.Context, jobID uuid.UUID) {
	info, err := c.jobs.Info(ctx, jobID)
	if err != nil {
		if !errors.Is(err, scheduler.ErrJobNotFound) {
			log.Printf("download: load job %s: %v", jobID, err)
		}
		return
	}
	c.applyLocked(ctx, info)
}

// applyLocked folds one job snapshot into the cache and the library.
func (c *Coordinator) applyLocked(ctx context.Context, job *scheduler.JobInfo) {
	videoID, ok := c.cache.findByJob(job.ID)
	if !ok {
		return
	}
	current, _ := c.cache.get(videoID)
	state := stateOf(job)
	if state == current.state {
		return
	}
	// A finished job never resumes; older snapshots can still arrive after
	// its handle was refreshed directly.
	if !job.State.IsFinished() && isTerminal(current.state) {
		return
	}
	c.cache.put(videoID, entry{state: state, job: job.ID})

	switch job.State {
	case scheduler.StateSucceeded:
		if err := c.lib.SetDownloaded(ctx, videoID); err != nil {
			log.Printf("download: mark %s downloaded: %v", videoID, err)
		}
	case scheduler.StateCancelled:
		// Cancelled outside the coordinator
		if err := c.lib.Delete(ctx, videoID); err != nil {
			log.Printf("download: delete cancelled %s: %v", videoID, err)
		}
	}

	c.bus.publish(Status{VideoID: videoID, State: state})
}

func (c *Coordinator) setLocked(videoID string, state State, jobID uuid.UUID) {
	c.cache.put(videoID, entry{state: state, job: jobID})
	c.bus.publish(Status{VideoID: videoID, State: state})
}

func (c *Coordinator) revertLocked(videoID string, previous entry, hadPrevious bool) {
	if hadPrevious {
		c.setLocked(videoID, previous.state, previous.job)
		return
	}
	c.cache.remove(videoID)
	c.bus.publish(Status{VideoID: videoID, State: Download{}})
}

func (c *Coordinator) cancelJob(ctx context.Context, jobID uuid.UUID) {
	if err := c.jobs.Cancel(context.WithoutCancel(ctx), jobID); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
		log.Printf("download: cancel job %s: %v", jobID, err)
	}
}

// stateOf derives the download state from a job record.
func stateOf(job *scheduler.JobInfo) State {
	switch job.State {
	case scheduler.StateRunning:
		return Downloading{
			Current: job.Progress.Int64(ProgressDownloadedSize),
			Total:   job.Progress.Int64(ProgressTotalSize),
		}
	case scheduler.StateSucceeded:
		return Downloaded{Size: job.Output.Int64(OutputMediaSize)}
	case scheduler.StateFailed:
		return Failed{Message: job.Output.String(OutputErrorMessage)}
	case scheduler.StateCancelled:
		return Download{}
	default:
		return Downloading{}
	}
}

func isTerminal(s State) bool {
	switch s.(type) {
	case Downloaded, Failed:
		return true
	}
	return false
}

func newRequest(videoID, thumbnailURL string) scheduler.Request {
	return scheduler.Request{
		Kind: JobKind,
		Tags: []string{TagDownloading},
		Input: scheduler.Data{
			InputVideoID:      videoID,
			InputThumbnailURL: thumbnailURL,
		},
	}
}
