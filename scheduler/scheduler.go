// Package scheduler runs persistent background jobs with tags, progress,
// cooperative cancellation, bounded retries and unique periodic work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ytmusic/retry"
)

// Sentinel errors
var (
	// ErrJobNotFound indicates no job exists for a handle.
	ErrJobNotFound = errors.New("scheduler: job not found")
	// ErrWorkNotFound indicates no unique periodic work exists for a name.
	ErrWorkNotFound = errors.New("scheduler: unique work not found")
	// ErrUnknownKind indicates no worker is registered for a job kind.
	ErrUnknownKind = errors.New("scheduler: no worker registered for kind")
	// ErrClosed indicates the scheduler has been closed.
	ErrClosed = errors.New("scheduler: closed")
)

// OutputErrorMessage is the output key the scheduler itself uses when it fails a job.
const OutputErrorMessage = "error_message"

// Config holds scheduler configuration.
type Config struct {
	// Workers is the number of jobs executed at once.
	Workers int
	// MaxAttempts bounds executions of a job whose worker keeps asking for Retry.
	MaxAttempts int
	// Backoff controls the delay before a retried job runs again.
	Backoff retry.Config
	// Retention is how long finished jobs are kept. Zero keeps them forever.
	Retention time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     3,
		MaxAttempts: 5,
		Backoff: retry.Config{
			InitialBackoff: 10 * time.Second,
			MaxBackoff:     5 * time.Minute,
			Multiplier:     2.0,
			JitterFraction: 0.2,
		},
		Retention: 24 * time.Hour,
	}
}

type subscription struct {
	tag string
	ch  chan []JobInfo
}

// Scheduler executes registered job kinds from a persistent queue.
type Scheduler struct {
	cfg   Config
	store *boltStore

	mu       sync.Mutex
	workers  map[string]WorkerFunc
	pending  []uuid.UUID
	queued   map[uuid.UUID]bool
	running  map[uuid.UUID]context.CancelFunc
	timers   map[uuid.UUID]*time.Timer
	periodic map[string]context.CancelFunc
	started  bool
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	wake     chan struct{}
	wg       sync.WaitGroup

	subMu sync.Mutex
	subs  map[*subscription]struct{}
}

// Open opens (creating if needed) the job database at path.
// Jobs are not executed until Start is called.
func Open(path string, cfg Config) (*Scheduler, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	store, err := openBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}

	return &Scheduler{
		cfg:      cfg,
		store:    store,
		workers:  make(map[string]WorkerFunc),
		queued:   make(map[uuid.UUID]bool),
		running:  make(map[uuid.UUID]context.CancelFunc),
		timers:   make(map[uuid.UUID]*time.Timer),
		periodic: make(map[string]context.CancelFunc),
		wake:     make(chan struct{}, 1),
		subs:     make(map[*subscription]struct{}),
	}, nil
}

// Register installs the worker for a job kind.
func (s *Scheduler) Register(kind string, fn WorkerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[kind] = fn
}

// Start re-queues unfinished jobs, starts the worker pool and resumes
// periodic work. Jobs left Running by a previous process run again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	if err := s.requeueLocked(); err != nil {
		s.mu.Unlock()
		return err
	}

	pws, err := s.store.periodics()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load periodic work: %w", err)
	}
	for _, pw := range pws {
		s.startPeriodicLocked(pw.Name)
	}

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.work()
	}
	s.mu.Unlock()

	if s.cfg.Retention > 0 {
		s.prune()
		s.wg.Add(1)
		go s.pruneLoop()
	}

	log.Printf("scheduler: started with %d workers", s.cfg.Workers)
	return nil
}

func (s *Scheduler) requeueLocked() error {
	jobs, err := s.store.jobs(func(j *JobInfo) bool { return !j.State.IsFinished() })
	if err != nil {
		return fmt.Errorf("load unfinished jobs: %w", err)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })

	for i := range jobs {
		job := &jobs[i]
		if job.State == StateRunning {
			job.State = StateEnqueued
			job.Progress = nil
			job.UpdatedAt = time.Now()
			if err := s.store.putJob(job); err != nil {
				return err
			}
		}
		s.scheduleLocked(job)
	}
	if len(jobs) > 0 {
		log.Printf("scheduler: re-queued %d unfinished jobs", len(jobs))
	}
	return nil
}

// Close stops workers and periodic work, waits for them, closes subscriptions
// and the database. Jobs interrupted by Close run again on the next Start.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	for name, stop := range s.periodic {
		stop()
		delete(s.periodic, name)
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.subMu.Lock()
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.ch)
	}
	s.subMu.Unlock()

	return s.store.Close()
}

// Enqueue persists a new job and queues it for execution.
func (s *Scheduler) Enqueue(ctx context.Context, req Request) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	job, err := s.enqueueLocked(req)
	s.mu.Unlock()
	if err != nil {
		return uuid.Nil, err
	}

	s.notify(job.Tags)
	return job.ID, nil
}

func (s *Scheduler) enqueueLocked(req Request) (*JobInfo, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.workers[req.Kind]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}

	now := time.Now()
	job := &JobInfo{
		ID:        uuid.New(),
		Kind:      req.Kind,
		Tags:      slices.Clone(req.Tags),
		State:     StateEnqueued,
		Input:     req.Input.clone(),
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.putJob(job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	if s.started {
		s.pushLocked(job.ID)
	}
	return job, nil
}

// Cancel stops a job. A running job has its context cancelled and ends
// Cancelled whatever its worker returns. Cancelling a finished job is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	job, changed, err := s.cancelLocked(id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		s.notify(job.Tags)
	}
	return nil
}

func (s *Scheduler) cancelLocked(id uuid.UUID) (*JobInfo, bool, error) {
	job, err := s.store.getJob(id)
	if err != nil {
		return nil, false, err
	}
	if job.State.IsFinished() {
		return job, false, nil
	}

	now := time.Now()
	job.State = StateCancelled
	job.Progress = nil
	job.UpdatedAt = now
	job.FinishedAt = now
	if err := s.store.putJob(job); err != nil {
		return nil, false, fmt.Errorf("persist job: %w", err)
	}

	if stop, ok := s.running[id]; ok {
		stop()
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	return job, true, nil
}

// Info returns a snapshot of one job.
func (s *Scheduler) Info(ctx context.Context, id uuid.UUID) (*JobInfo, error) {
	return s.store.getJob(id)
}

// InfosByTag returns snapshots of every job carrying tag, oldest first.
func (s *Scheduler) InfosByTag(ctx context.Context, tag string) ([]JobInfo, error) {
	jobs, err := s.store.jobs(func(j *JobInfo) bool { return j.HasTag(tag) })
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// Subscribe returns a channel receiving the jobs carrying tag, immediately
// and after each change to one of them. A lagging receiver only sees the
// latest snapshot. The channel closes when ctx ends or the scheduler closes.
func (s *Scheduler) Subscribe(ctx context.Context, tag string) <-chan []JobInfo {
	sub := &subscription{tag: tag, ch: make(chan []JobInfo, 1)}

	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	if jobs, err := s.InfosByTag(ctx, tag); err == nil {
		replaceLatest(sub.ch, jobs)
	} else {
		log.Printf("scheduler: initial snapshot for %q: %v", tag, err)
	}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub.ch)
		}
		s.subMu.Unlock()
	}()

	return sub.ch
}

// notify publishes fresh snapshots to subscribers of any of tags.
func (s *Scheduler) notify(tags []string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	snapshots := make(map[string][]JobInfo)
	for sub := range s.subs {
		if !slices.Contains(tags, sub.tag) {
			continue
		}
		jobs, ok := snapshots[sub.tag]
		if !ok {
			var err error
			jobs, err = s.InfosByTag(context.Background(), sub.tag)
			if err != nil {
				log.Printf("scheduler: snapshot for %q: %v", sub.tag, err)
				continue
			}
			snapshots[sub.tag] = jobs
		}
		replaceLatest(sub.ch, jobs)
	}
}

func replaceLatest(ch chan []JobInfo, jobs []JobInfo) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- jobs:
	default:
	}
}

// scheduleLocked queues job now or when its NextRunAt arrives.
func (s *Scheduler) scheduleLocked(job *JobInfo) {
	delay := time.Until(job.NextRunAt)
	if delay <= 0 {
		s.pushLocked(job.ID)
		return
	}
	id := job.ID
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.timers, id)
		if !s.closed {
			s.pushLocked(id)
		}
	})
}

func (s *Scheduler) pushLocked(id uuid.UUID) {
	if s.queued[id] {
		return
	}
	s.queued[id] = true
	s.pending = append(s.pending, id)
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) next() (uuid.UUID, bool) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			id := s.pending[0]
			s.pending = s.pending[1:]
			delete(s.queued, id)
			more := len(s.pending) > 0
			s.mu.Unlock()
			if more {
				s.signal()
			}
			return id, true
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return uuid.Nil, false
		}
	}
}

func (s *Scheduler) work() {
	defer s.wg.Done()
	for {
		id, ok := s.next()
		if !ok {
			return
		}
		if s.ctx.Err() != nil {
			return
		}
		s.execute(id)
	}
}

func (s *Scheduler) execute(id uuid.UUID) {
	s.mu.Lock()
	job, err := s.store.getJob(id)
	if err != nil {
		s.mu.Unlock()
		log.Printf("scheduler: load job %s: %v", id, err)
		return
	}
	// Stale queue entry: cancelled, already run, or waiting for its backoff
	if job.State != StateEnqueued || job.NextRunAt.After(time.Now()) {
		s.mu.Unlock()
		return
	}

	now := time.Now()
	fn, ok := s.workers[job.Kind]
	if !ok {
		job.State = StateFailed
		job.Output = Data{OutputErrorMessage: fmt.Sprintf("%v: %q", ErrUnknownKind, job.Kind)}
		job.UpdatedAt = now
		job.FinishedAt = now
		if err := s.store.putJob(job); err != nil {
			log.Printf("scheduler: persist job %s: %v", id, err)
		}
		s.mu.Unlock()
		s.notify(job.Tags)
		return
	}

	job.State = StateRunning
	job.Attempt++
	job.Progress = nil
	job.UpdatedAt = now
	if err := s.store.putJob(job); err != nil {
		s.mu.Unlock()
		log.Printf("scheduler: persist job %s: %v", id, err)
		return
	}
	jobCtx, cancel := context.WithCancel(s.ctx)
	s.running[id] = cancel
	s.mu.Unlock()
	s.notify(job.Tags)

	exec := &Execution{ctx: jobCtx, s: s, id: id, input: job.Input.clone(), try: job.Attempt}
	result := runWorker(jobCtx, fn, exec)
	cancel()

	s.finish(id, result)
}

func runWorker(ctx context.Context, fn WorkerFunc, exec *Execution) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: job %s panicked: %v", exec.id, r)
			res = Failure(Data{OutputErrorMessage: fmt.Sprintf("panic: %v", r)})
		}
	}()
	return fn(ctx, exec)
}

func (s *Scheduler) finish(id uuid.UUID, result Result) {
	s.mu.Lock()
	delete(s.running, id)

	job, err := s.store.getJob(id)
	if err != nil {
		s.mu.Unlock()
		log.Printf("scheduler: load job %s: %v", id, err)
		return
	}
	// Cancelled while running, or interrupted by shutdown and left for the next Start
	if job.State != StateRunning || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}

	now := time.Now()
	job.Progress = nil
	job.UpdatedAt = now
	switch result.kind {
	case resultSuccess:
		job.State = StateSucceeded
		job.Output = result.output.clone()
		job.FinishedAt = now
	case resultFailure:
		job.State = StateFailed
		job.Output = result.output.clone()
		job.FinishedAt = now
	case resultRetry:
		if job.Attempt >= s.cfg.MaxAttempts {
			job.State = StateFailed
			job.Output = Data{OutputErrorMessage: fmt.Sprintf("gave up after %d attempts", job.Attempt)}
			job.FinishedAt = now
		} else {
			job.State = StateEnqueued
			job.NextRunAt = now.Add(retry.Backoff(s.cfg.Backoff, job.Attempt))
		}
	}

	if err := s.store.putJob(job); err != nil {
		s.mu.Unlock()
		log.Printf("scheduler: persist job %s: %v", id, err)
		return
	}
	if job.State == StateEnqueued {
		s.scheduleLocked(job)
	}
	s.mu.Unlock()

	s.notify(job.Tags)
}

func (s *Scheduler) setProgress(id uuid.UUID, progress Data) error {
	s.mu.Lock()
	job, err := s.store.getJob(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if job.State != StateRunning {
		s.mu.Unlock()
		return nil
	}
	job.Progress = progress.clone()
	job.UpdatedAt = time.Now()
	if err := s.store.putJob(job); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist progress: %w", err)
	}
	s.mu.Unlock()

	s.notify(job.Tags)
	return nil
}

func (s *Scheduler) prune() {
	n, err := s.store.pruneJobs(time.Now().Add(-s.cfg.Retention))
	if err != nil {
		log.Printf("scheduler: prune finished jobs: %v", err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: pruned %d finished jobs", n)
	}
}

func (s *Scheduler) pruneLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.prune()
		}
	}
}
