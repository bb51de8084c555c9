package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestUniquePeriodic_OneOutstandingRun(t *testing.T) {
	s := newTestScheduler(t, "")
	ctx := context.Background()

	var runs atomic.Int32
	release := make(chan struct{})
	s.Register("sync", func(ctx context.Context, exec *Execution) Result {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return Success(nil)
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := s.EnqueueUniquePeriodic(ctx, "sync-work", "sync", 10*time.Millisecond); err != nil {
		t.Fatalf("EnqueueUniquePeriodic() error = %v", err)
	}

	// Several intervals pass while the first run blocks
	time.Sleep(100 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs while blocked = %d, want 1", got)
	}
	jobs, err := s.InfosByTag(ctx, "sync-work")
	if err != nil {
		t.Fatalf("InfosByTag() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("jobs tagged with work name = %d, want 1", len(jobs))
	}

	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 3 {
		t.Errorf("runs after release = %d, want at least 3", runs.Load())
	}

	info, err := s.Unique(ctx, "sync-work")
	if err != nil {
		t.Fatalf("Unique() error = %v", err)
	}
	if info.Kind != "sync" || info.Interval != 10*time.Millisecond {
		t.Errorf("info = %+v", info)
	}
}

func TestCancelUnique(t *testing.T) {
	s := newTestScheduler(t, "")
	ctx := context.Background()

	started := make(chan struct{}, 1)
	s.Register("sync", func(ctx context.Context, exec *Execution) Result {
		started <- struct{}{}
		<-ctx.Done()
		return Retry()
	})
	s.Start(ctx)

	if err := s.EnqueueUniquePeriodic(ctx, "work", "sync", time.Hour); err != nil {
		t.Fatalf("EnqueueUniquePeriodic() error = %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never started")
	}

	info, _ := s.Unique(ctx, "work")
	if err := s.CancelUnique(ctx, "work"); err != nil {
		t.Fatalf("CancelUnique() error = %v", err)
	}
	if _, err := s.Unique(ctx, "work"); !errors.Is(err, ErrWorkNotFound) {
		t.Errorf("Unique() after cancel error = %v, want ErrWorkNotFound", err)
	}
	waitForState(t, s, info.LastJobID, StateCancelled)

	if err := s.CancelUnique(ctx, "work"); !errors.Is(err, ErrWorkNotFound) {
		t.Errorf("second CancelUnique() error = %v, want ErrWorkNotFound", err)
	}
}

func TestEnqueueUniquePeriodic_Replace(t *testing.T) {
	s := newTestScheduler(t, "")
	ctx := context.Background()
	s.Register("a", func(ctx context.Context, exec *Execution) Result { return Success(nil) })
	s.Register("b", func(ctx context.Context, exec *Execution) Result { return Success(nil) })

	// Registered before Start: persisted, not yet running
	if err := s.EnqueueUniquePeriodic(ctx, "work", "a", time.Hour); err != nil {
		t.Fatalf("EnqueueUniquePeriodic() error = %v", err)
	}
	first, _ := s.Unique(ctx, "work")

	if err := s.EnqueueUniquePeriodic(ctx, "work", "a", time.Hour); err != nil {
		t.Fatalf("re-enqueue error = %v", err)
	}
	same, _ := s.Unique(ctx, "work")
	if !same.NextRunAt.Equal(first.NextRunAt) {
		t.Errorf("identical replace moved schedule from %v to %v", first.NextRunAt, same.NextRunAt)
	}

	if err := s.EnqueueUniquePeriodic(ctx, "work", "b", 2*time.Hour); err != nil {
		t.Fatalf("replace error = %v", err)
	}
	replaced, _ := s.Unique(ctx, "work")
	if replaced.Kind != "b" || replaced.Interval != 2*time.Hour {
		t.Errorf("replaced = %+v", replaced)
	}

	if err := s.EnqueueUniquePeriodic(ctx, "work", "b", 0); err == nil {
		t.Error("zero interval should be rejected")
	}
}
