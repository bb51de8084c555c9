package ytmusic

import (
	"context"
	"errors"
	"testing"
	"time"

	"ytmusic/config"
	"ytmusic/download"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestOpen_LocksDataDir(t *testing.T) {
	old := LockTimeout
	LockTimeout = 50 * time.Millisecond
	t.Cleanup(func() { LockTimeout = old })

	ctx := context.Background()
	cfg := testConfig(t)

	app, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := Open(ctx, cfg); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("second Open() error = %v, want ErrLockTimeout", err)
	}
	if err := app.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	app, err = Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open() after Close error = %v", err)
	}
	app.Close()
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxParallelDownloads = 0
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Error("Open() with invalid config should fail")
	}
}

func TestApp_WithoutCredentials(t *testing.T) {
	ctx := context.Background()
	app, err := Open(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer app.Close()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := app.YouTube(); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("YouTube() error = %v, want ErrNotAuthenticated", err)
	}
	if _, err := app.Syncer.Run(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("sync Run() error = %v, want ErrNotAuthenticated", err)
	}

	// Local operations keep working
	p, err := app.Library.CreatePlaylist(ctx, "Favourites")
	if err != nil {
		t.Fatalf("CreatePlaylist() error = %v", err)
	}
	playlists, err := app.Library.Playlists(ctx)
	if err != nil || len(playlists) != 1 || playlists[0].ID != p.ID {
		t.Errorf("Playlists() = %+v, %v", playlists, err)
	}
	if _, ok := app.Downloads.State("unknown").(download.Download); !ok {
		t.Errorf("State(unknown) = %v, want Download", app.Downloads.State("unknown"))
	}
	if err := app.Downloads.Retry(ctx, "unknown"); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Retry(unknown) error = %v, want ErrIllegalState", err)
	}
}

func TestApp_SyncSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.SyncInterval = time.Hour

	app, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := app.Sync.TurnOn(ctx); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	app.Close()

	app, err = Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer app.Close()
	on, err := app.Sync.IsOn(ctx)
	if err != nil || !on {
		t.Errorf("IsOn() after restart = %v, %v, want true", on, err)
	}
}
