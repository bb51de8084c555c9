package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/sahilm/fuzzy"

	"ytmusic/download"
	"ytmusic/library"
	"ytmusic/storage"
)

func cmdRun(args []string) {
	fs := newFlagSet("run", "")
	fs.Parse(args)

	ctx, app, done := openApp()
	defer done()

	updates, unsubscribe := app.Downloads.Observe()
	defer unsubscribe()

	on, _ := app.Sync.IsOn(ctx)
	fmt.Fprintf(os.Stderr, "Running (sync on: %v). Press Ctrl+C to stop.\n", on)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "\nStopping...\n")
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			if d, downloading := s.State.(download.Downloading); downloading && d.Percent()%10 != 0 {
				continue
			}
			fmt.Fprintf(os.Stderr, "%s: %s\n", s.VideoID, s.State)
		}
	}
}

func cmdCancel(args []string) {
	fs := newFlagSet("cancel", "<video-id>...")
	fs.Parse(args)
	argv := requireArgs(fs, 1, "video-id")

	ctx, app, done := openApp()
	defer done()

	for _, id := range argv {
		if err := app.Downloads.Cancel(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Error cancelling %s: %v\n", id, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "Cancelled %s\n", id)
	}
}

func cmdRetry(args []string) {
	fs := newFlagSet("retry", "[flags] <video-id>...")
	detach := fs.Bool("detach", false, "Enqueue and exit; downloads continue on the next start")
	fs.Parse(args)
	argv := requireArgs(fs, 1, "video-id")

	ctx, app, done := openApp()
	defer done()

	// Failed states are restored from the job records in the background
	waitForStartup(ctx, app, argv)

	var retried []string
	for _, id := range argv {
		if err := app.Downloads.Retry(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Error retrying %s: %v\n", id, err)
			continue
		}
		retried = append(retried, id)
	}
	if !*detach {
		waitForDownloads(ctx, app, retried)
	}
}

func cmdJobs(args []string) {
	fs := newFlagSet("jobs", "")
	fs.Parse(args)

	ctx, app, done := openApp()
	defer done()

	jobs, err := app.Downloads.DownloadingJobs(ctx)
	if err != nil {
		fatalf("Error: %v", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No outstanding downloads.")
		return
	}

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.Item.ID
	}
	waitForStartup(ctx, app, ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VIDEO ID\tTITLE\tSTATE\tJOB")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", j.Item.ID, truncate(j.Item.Title, 50), app.Downloads.State(j.Item.ID), j.JobID)
	}
	w.Flush()
}

func cmdLibrary(args []string) {
	fs := newFlagSet("library", "[flags]")
	playlistID := fs.Int64("playlist", library.AllItems, "Only items of this local playlist")
	find := fs.String("find", "", "Fuzzy filter on title and author, best matches first")
	fs.Parse(args)

	ctx, app, done := openApp()
	defer done()

	items, err := app.Library.Items(ctx, *playlistID)
	if err != nil {
		fatalf("Error: %v", err)
	}
	if *find != "" {
		items = filterItems(items, *find)
	}
	if len(items) == 0 {
		fmt.Println("No items.")
		return
	}

	var total uint64
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tVIDEO ID\tTITLE\tAUTHOR\tDURATION\tSIZE")
	for _, item := range items {
		size := uint64(app.Library.MediaSize(item.ID))
		total += size
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			item.Position,
			item.ID,
			truncate(item.Title, 50),
			truncate(item.Author, 24),
			formatDuration(item.Duration),
			humanize.Bytes(size),
		)
	}
	w.Flush()

	fmt.Fprintf(os.Stderr, "\nTotal: %d items, %s\n", len(items), humanize.Bytes(total))
}

// filterItems returns the items whose "title author" fuzzily matches query,
// best match first.
func filterItems(items []storage.MediaItem, query string) []storage.MediaItem {
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = strings.ToLower(item.Title + " " + item.Author)
	}

	matches := fuzzy.Find(strings.ToLower(query), keys)

	out := make([]storage.MediaItem, len(matches))
	for i, match := range matches {
		out[i] = items[match.Index]
	}
	return out
}

func cmdDelete(args []string) {
	fs := newFlagSet("delete", "<video-id>...")
	fs.Parse(args)
	argv := requireArgs(fs, 1, "video-id")

	ctx, app, done := openApp()
	defer done()

	for _, id := range argv {
		core, err := app.Library.Core(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", id, err)
			continue
		}
		if core.IsDownloading() {
			fmt.Fprintf(os.Stderr, "Error: %s is downloading; use 'ytmusic cancel'\n", id)
			continue
		}
		if err := app.Library.Delete(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting %s: %v\n", id, err)
		}
	}
}

func cmdPlaylist(args []string) {
	fs := newFlagSet("playlist", "<list|create|rename|delete|add|remove|move> ...")
	fs.Parse(args)
	argv := requireArgs(fs, 1, "action")

	ctx, app, done := openApp()
	defer done()

	playlistArg := func(i int) int64 {
		if len(argv) <= i {
			fatalf("Error: missing playlist id")
		}
		id, err := strconv.ParseInt(argv[i], 10, 64)
		if err != nil {
			fatalf("Error: invalid playlist id %q", argv[i])
		}
		return id
	}
	arg := func(i int, what string) string {
		if len(argv) <= i {
			fatalf("Error: missing %s", what)
		}
		return argv[i]
	}
	intArg := func(i int, what string) int {
		n, err := strconv.Atoi(arg(i, what))
		if err != nil {
			fatalf("Error: invalid %s %q", what, argv[i])
		}
		return n
	}

	var err error
	switch argv[0] {
	case "list":
		playlists, lerr := app.Library.Playlists(ctx)
		if lerr != nil {
			fatalf("Error: %v", lerr)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME")
		for _, p := range playlists {
			fmt.Fprintf(w, "%d\t%s\n", p.ID, p.Name)
		}
		w.Flush()
	case "create":
		p, cerr := app.Library.CreatePlaylist(ctx, arg(1, "name"))
		if cerr != nil {
			fatalf("Error: %v", cerr)
		}
		fmt.Println(p.ID)
	case "rename":
		err = app.Library.RenamePlaylist(ctx, playlistArg(1), arg(2, "name"))
	case "delete":
		err = app.Library.DeletePlaylist(ctx, playlistArg(1))
	case "add":
		// playlist add <playlist-id> <video-id>
		playlists, rerr := app.Library.ResolvePlaylists(ctx, []int64{playlistArg(1)})
		if rerr != nil {
			fatalf("Error: %v", rerr)
		}
		err = app.Library.Assign(ctx, arg(2, "video-id"), playlists)
	case "remove":
		// playlist remove <playlist-id> <video-id>
		err = app.Library.Detach(ctx, arg(2, "video-id"), playlistArg(1))
	case "move":
		// playlist move <playlist-id|0> <video-id> <from> <to>
		err = app.Library.ChangePosition(ctx, playlistArg(1), arg(2, "video-id"), intArg(3, "from"), intArg(4, "to"))
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown action %q\n", argv[0])
		fs.Usage()
		os.Exit(1)
	}
	if err != nil {
		fatalf("Error: %v", err)
	}
}
