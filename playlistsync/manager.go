package playlistsync

import (
	"context"
	"errors"
	"log"
	"time"

	"ytmusic/scheduler"
)

// UniqueWorkName names the periodic synchronization work.
const UniqueWorkName = "playlist-synchronizer"

// DefaultInterval is the period of synchronization runs.
const DefaultInterval = 15 * time.Minute

// Periodic is the scheduler's unique periodic work facility.
type Periodic interface {
	EnqueueUniquePeriodic(ctx context.Context, name, kind string, interval time.Duration) error
	CancelUnique(ctx context.Context, name string) error
	Unique(ctx context.Context, name string) (*scheduler.PeriodicInfo, error)
}

// Manager switches periodic synchronization on and off.
type Manager struct {
	periodic Periodic
	interval time.Duration
}

// NewManager creates a manager scheduling runs every interval.
func NewManager(periodic Periodic, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Manager{periodic: periodic, interval: interval}
}

// TurnOn installs the periodic work, replacing any previous definition.
func (m *Manager) TurnOn(ctx context.Context) error {
	if err := m.periodic.EnqueueUniquePeriodic(ctx, UniqueWorkName, JobKind, m.interval); err != nil {
		return err
	}
	log.Printf("playlistsync: synchronization on, every %v", m.interval)
	return nil
}

// TurnOff removes the periodic work and cancels an outstanding run.
func (m *Manager) TurnOff(ctx context.Context) error {
	err := m.periodic.CancelUnique(ctx, UniqueWorkName)
	if err != nil && !errors.Is(err, scheduler.ErrWorkNotFound) {
		return err
	}
	log.Printf("playlistsync: synchronization off")
	return nil
}

// IsOn reports whether the periodic work is installed.
func (m *Manager) IsOn(ctx context.Context) (bool, error) {
	_, err := m.periodic.Unique(ctx, UniqueWorkName)
	if errors.Is(err, scheduler.ErrWorkNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
