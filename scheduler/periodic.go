package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// EnqueueUniquePeriodic installs or replaces the periodic work called name,
// which enqueues a job of kind every interval. Each run's job is tagged with
// name. Replacing work with the same kind and interval keeps its schedule.
func (s *Scheduler) EnqueueUniquePeriodic(ctx context.Context, name, kind string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %v", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	pw := &PeriodicInfo{Name: name, Kind: kind, Interval: interval, NextRunAt: time.Now()}
	if existing, err := s.store.getPeriodic(name); err == nil {
		pw.LastJobID = existing.LastJobID
		if existing.Kind == kind && existing.Interval == interval {
			pw.NextRunAt = existing.NextRunAt
		}
	}
	if err := s.store.putPeriodic(pw); err != nil {
		return fmt.Errorf("persist periodic work: %w", err)
	}

	if stop, ok := s.periodic[name]; ok {
		stop()
		delete(s.periodic, name)
	}
	if s.started {
		s.startPeriodicLocked(name)
	}
	return nil
}

// CancelUnique removes the periodic work called name and cancels its
// outstanding run, if any.
func (s *Scheduler) CancelUnique(ctx context.Context, name string) error {
	s.mu.Lock()
	pw, err := s.store.getPeriodic(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if stop, ok := s.periodic[name]; ok {
		stop()
		delete(s.periodic, name)
	}
	if err := s.store.deletePeriodic(name); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("delete periodic work: %w", err)
	}

	var cancelled *JobInfo
	if pw.LastJobID != uuid.Nil {
		if job, changed, err := s.cancelLocked(pw.LastJobID); err == nil && changed {
			cancelled = job
		}
	}
	s.mu.Unlock()

	if cancelled != nil {
		s.notify(cancelled.Tags)
	}
	return nil
}

// Unique returns the periodic work called name.
func (s *Scheduler) Unique(ctx context.Context, name string) (*PeriodicInfo, error) {
	return s.store.getPeriodic(name)
}

func (s *Scheduler) startPeriodicLocked(name string) {
	pctx, stop := context.WithCancel(s.ctx)
	s.periodic[name] = stop
	s.wg.Add(1)
	go s.runPeriodic(pctx, name)
}

func (s *Scheduler) runPeriodic(ctx context.Context, name string) {
	defer s.wg.Done()
	for {
		pw, err := s.store.getPeriodic(name)
		if err != nil {
			return
		}

		timer := time.NewTimer(time.Until(pw.NextRunAt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.firePeriodic(ctx, name)
	}
}

// firePeriodic enqueues one run unless the previous run is still unfinished.
func (s *Scheduler) firePeriodic(ctx context.Context, name string) {
	s.mu.Lock()
	// Replaced or cancelled while the timer fired
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	pw, err := s.store.getPeriodic(name)
	if err != nil {
		s.mu.Unlock()
		return
	}

	now := time.Now()
	pw.NextRunAt = now.Add(pw.Interval)

	var job *JobInfo
	busy := false
	if pw.LastJobID != uuid.Nil {
		if last, err := s.store.getJob(pw.LastJobID); err == nil && !last.State.IsFinished() {
			log.Printf("scheduler: skipping %s run, previous run %s is %s", name, last.ID, last.State)
			busy = true
		}
	}
	if !busy {
		job, err = s.enqueueLocked(Request{Kind: pw.Kind, Tags: []string{name}})
		if err != nil {
			log.Printf("scheduler: enqueue %s run: %v", name, err)
			job = nil
		} else {
			pw.LastJobID = job.ID
		}
	}

	if err := s.store.putPeriodic(pw); err != nil {
		log.Printf("scheduler: persist periodic work %s: %v", name, err)
	}
	s.mu.Unlock()

	if job != nil {
		s.notify(job.Tags)
	}
}
