package ytmusic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"ytmusic/config"
	"ytmusic/download"
	ythttp "ytmusic/http"
	"ytmusic/library"
	"ytmusic/media"
	"ytmusic/playlistsync"
	"ytmusic/retry"
	"ytmusic/scheduler"
	"ytmusic/storage"
	"ytmusic/youtube"
)

// LockTimeout bounds the wait for another process to release the data directory.
var LockTimeout = 5 * time.Second

// App owns every component of a running library. Build it with Open, call
// Start to begin executing jobs and Close when done.
type App struct {
	cfg *config.Config

	lock  *storage.DirLock
	store *storage.SQLiteStore
	http  *ythttp.Client

	Library   *library.Library
	Jobs      *scheduler.Scheduler
	Downloads *download.Coordinator
	Bindings  *playlistsync.Bindings
	Sync      *playlistsync.Manager
	Syncer    *playlistsync.Worker

	youtube *youtube.Client
	authErr error
}

// Open locks the data directory and wires the library, the scheduler, the
// download coordinator and playlist synchronization. A missing YouTube
// credential is not an error: local operations keep working and remote
// ones report youtube.ErrNotAuthenticated.
func Open(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	a := &App{cfg: cfg, lock: storage.NewDirLock(cfg.DataDir)}
	if err := a.lock.Lock(ctx, LockTimeout); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = storage.NewSQLiteStore(cfg.LibraryPath())
	if err != nil {
		return nil, err
	}
	files, err := media.NewFiles(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.Library = library.New(a.store, files)

	a.Jobs, err = scheduler.Open(cfg.JobsPath(), schedulerConfig(cfg))
	if err != nil {
		return nil, err
	}

	a.http = ythttp.New(httpConfig(cfg))
	extractor := youtube.NewExtractor(a.http.StandardClient(), cfg.ExtractionAttempts)
	worker := download.NewWorker(extractor, a.http, files)
	a.Jobs.Register(download.JobKind, worker.Func())

	a.Downloads = download.NewCoordinator(a.Jobs, a.Library, download.Config{StatusBuffer: cfg.StatusBuffer})

	a.youtube, a.authErr = newYouTubeClient(ctx, cfg)
	if a.authErr != nil && !errors.Is(a.authErr, youtube.ErrNotAuthenticated) {
		return nil, a.authErr
	}

	a.Bindings = playlistsync.NewBindings(a.store)
	a.Syncer = playlistsync.NewWorker(remote{a}, a.Downloads, a.Library, a.Bindings)
	a.Jobs.Register(playlistsync.JobKind, a.Syncer.Func())
	a.Sync = playlistsync.NewManager(a.Jobs, cfg.SyncInterval)

	return a, nil
}

func newYouTubeClient(ctx context.Context, cfg *config.Config) (*youtube.Client, error) {
	opts, err := youtube.ClientOptions(ctx, youtube.AuthConfig{
		APIKey:            cfg.APIKey,
		TokenFile:         cfg.TokenFile,
		ClientSecretsFile: cfg.ClientSecretsFile,
	})
	if err != nil {
		return nil, err
	}
	return youtube.NewClient(ctx, opts...)
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	sc := scheduler.DefaultConfig()
	sc.Workers = cfg.MaxParallelDownloads
	sc.MaxAttempts = cfg.JobMaxAttempts
	sc.Backoff = retry.Config{
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Multiplier:     cfg.BackoffMultiplier,
		JitterFraction: sc.Backoff.JitterFraction,
	}
	sc.Retention = cfg.JobRetention
	return sc
}

func httpConfig(cfg *config.Config) *ythttp.Config {
	hc := ythttp.DefaultConfig()
	hc.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	hc.UserAgent = cfg.UserAgent
	return hc
}

// Config returns the configuration the app was opened with.
func (a *App) Config() *config.Config { return a.cfg }

// YouTube returns the Data API client, or youtube.ErrNotAuthenticated when no
// credential is configured.
func (a *App) YouTube() (*youtube.Client, error) {
	if a.youtube == nil {
		return nil, a.authErr
	}
	return a.youtube, nil
}

// Start runs pending jobs and begins reconciling download status.
func (a *App) Start(ctx context.Context) error {
	if err := a.Jobs.Start(ctx); err != nil {
		return err
	}
	a.Downloads.Start(ctx)
	log.Printf("ytmusic: started with data directory %s", a.cfg.DataDir)
	return nil
}

// Close stops every component and releases the data directory.
func (a *App) Close() error {
	var errs []error
	if a.Downloads != nil {
		a.Downloads.Stop()
	}
	if a.Jobs != nil {
		errs = append(errs, a.Jobs.Close())
	}
	if a.http != nil {
		errs = append(errs, a.http.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.lock.Unlock())
	return errors.Join(errs...)
}

// remote resolves the YouTube client on each call so a sync run fails with
// ErrNotAuthenticated, and is retried, until a credential exists.
type remote struct{ app *App }

func (r remote) MyPlaylistIDs(ctx context.Context) ([]string, error) {
	yt, err := r.app.YouTube()
	if err != nil {
		return nil, err
	}
	return yt.MyPlaylistIDs(ctx)
}

func (r remote) PlaylistVideos(ctx context.Context, playlistID string) ([]youtube.Video, error) {
	yt, err := r.app.YouTube()
	if err != nil {
		return nil, err
	}
	return yt.PlaylistVideos(ctx, playlistID)
}
