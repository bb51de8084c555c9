package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ytmusic"
	"ytmusic/config"
	"ytmusic/download"
)

var configFile string

func main() {
	root := flag.NewFlagSet("ytmusic", flag.ExitOnError)
	root.StringVar(&configFile, "config", "", "Config file (default ./ytmusic.yaml or ~/.config/ytmusic/ytmusic.yaml)")
	root.Usage = printUsage
	root.Parse(os.Args[1:])

	if root.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	command := root.Arg(0)
	args := root.Args()[1:]

	switch command {
	case "run":
		cmdRun(args)
	case "login":
		cmdLogin(args)
	case "playlists":
		cmdPlaylists(args)
	case "videos":
		cmdVideos(args)
	case "search":
		cmdSearch(args)
	case "download":
		cmdDownload(args)
	case "download-playlist":
		cmdDownloadPlaylist(args)
	case "cancel":
		cmdCancel(args)
	case "retry":
		cmdRetry(args)
	case "jobs":
		cmdJobs(args)
	case "library":
		cmdLibrary(args)
	case "delete":
		cmdDelete(args)
	case "playlist":
		cmdPlaylist(args)
	case "bind":
		cmdBind(args)
	case "rebind":
		cmdRebind(args)
	case "unbind":
		cmdUnbind(args)
	case "bindings":
		cmdBindings(args)
	case "sync":
		cmdSync(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ytmusic - mirror YouTube playlists into a local audio library

Usage:
  ytmusic [-config file] <command> [flags] [args]

Remote:
  ytmusic login [flags]                         Authorize access to your YouTube account
  ytmusic playlists                             List your YouTube playlists
  ytmusic videos <playlist-id>                  List videos of a YouTube playlist
  ytmusic search [flags] <query>                Search YouTube videos

Downloads:
  ytmusic download [flags] <video-id>...        Download videos into the library
  ytmusic download-playlist [flags] <id>        Download every missing video of a playlist
  ytmusic cancel <video-id>                     Cancel a download
  ytmusic retry <video-id>                      Retry a failed download
  ytmusic jobs                                  List outstanding downloads
  ytmusic run                                   Run downloads and sync until interrupted

Library:
  ytmusic library [flags]                       List downloaded items
  ytmusic delete <video-id>                     Delete an item and its files
  ytmusic playlist <list|create|rename|delete|add|remove|move> ...

Sync:
  ytmusic bind [flags] <playlist-id>            Mirror a YouTube playlist into local playlists
  ytmusic rebind [flags] <playlist-id>          Change the local playlists of a binding
  ytmusic unbind <playlist-id>                  Stop mirroring a YouTube playlist
  ytmusic bindings                              List bindings
  ytmusic sync <on|off|status|now>              Control periodic synchronization

Examples:
  ytmusic login -secrets client_secret.json
  ytmusic download -into 1,2 dQw4w9WgXcQ
  ytmusic playlist create "Road trip"
  ytmusic bind -into 1 PLxxxxxxxx && ytmusic sync on

For help on specific command: ytmusic <command> -h
`)
}

func loadConfig() *config.Config {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fatalf("Error loading config: %v", err)
	}
	return cfg
}

// openApp opens the library and starts executing jobs. The returned context
// ends on SIGINT or SIGTERM.
func openApp() (context.Context, *ytmusic.App, func()) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	app, err := ytmusic.Open(ctx, loadConfig())
	if err != nil {
		stop()
		if errors.Is(err, ytmusic.ErrLockTimeout) {
			fatalf("Error: the library is in use by another ytmusic process")
		}
		fatalf("Error opening library: %v", err)
	}
	if err := app.Start(ctx); err != nil {
		app.Close()
		stop()
		fatalf("Error starting: %v", err)
	}
	return ctx, app, func() {
		if err := app.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: close: %v\n", err)
		}
		stop()
	}
}

// waitForDownloads prints status changes of ids until none is downloading.
// Unfinished downloads resume on the next start when interrupted.
func waitForDownloads(ctx context.Context, app *ytmusic.App, ids []string) {
	updates, unsubscribe := app.Downloads.Observe()
	defer unsubscribe()

	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, downloading := app.Downloads.State(id).(download.Downloading); downloading {
			pending[id] = true
		}
	}

	failed := 0
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "\nInterrupted: %d downloads resume on next start\n", len(pending))
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			if !pending[s.VideoID] {
				continue
			}
			fmt.Fprintf(os.Stderr, "%s: %s\n", s.VideoID, s.State)
			switch s.State.(type) {
			case download.Downloading:
			case download.Failed:
				failed++
				delete(pending, s.VideoID)
			default:
				delete(pending, s.VideoID)
			}
		}
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d downloads failed; see 'ytmusic retry'\n", failed)
	}
}

// waitForStartup gives the coordinator a moment to restore the states of ids
// from their job records after the library was opened.
func waitForStartup(ctx context.Context, app *ytmusic.App, ids []string) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		restored := true
		for _, id := range ids {
			if _, unknown := app.Downloads.State(id).(download.Download); unknown {
				restored = false
				break
			}
		}
		if restored {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func requireArgs(fs *flag.FlagSet, n int, what string) []string {
	argv := fs.Args()
	if len(argv) < n {
		fmt.Fprintf(os.Stderr, "Error: missing %s\n", what)
		fs.Usage()
		os.Exit(1)
	}
	return argv
}

func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytmusic %s %s\n", name, usage)
		hasFlags := false
		fs.VisitAll(func(*flag.Flag) { hasFlags = true })
		if hasFlags {
			fmt.Fprintf(os.Stderr, "\nFlags:\n")
			fs.PrintDefaults()
		}
	}
	return fs
}

// parseIDs parses a comma-separated list of local playlist IDs.
func parseIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid playlist id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	secs := int(d.Seconds())
	hours := secs / 3600
	minutes := (secs % 3600) / 60
	secs %= 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}
