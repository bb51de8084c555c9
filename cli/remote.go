package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"golang.org/x/oauth2"

	"ytmusic"
	"ytmusic/playlistsync"
	"ytmusic/storage"
	"ytmusic/youtube"
)

func cmdLogin(args []string) {
	fs := newFlagSet("login", "[flags]")
	secrets := fs.String("secrets", "", "Google OAuth client secrets JSON (default client_secrets_file)")
	tokenFile := fs.String("token", "", "Where to store the token (default token_file)")
	fs.Parse(args)

	cfg := loadConfig()
	if *secrets == "" {
		*secrets = cfg.ClientSecretsFile
	}
	if *tokenFile == "" {
		*tokenFile = cfg.TokenFile
	}
	if *secrets == "" || *tokenFile == "" {
		fatalf("Error: both a client secrets file and a token file are required")
	}

	conf, err := youtube.OAuthConfig(*secrets)
	if err != nil {
		fatalf("Error: %v", err)
	}

	fmt.Println("Open this URL in a browser and authorize access:")
	fmt.Println()
	fmt.Println(conf.AuthCodeURL("ytmusic", oauth2.AccessTypeOffline))
	fmt.Println()
	fmt.Print("Paste the authorization code: ")

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		fatalf("Error reading code: %v", err)
	}
	if err := youtube.Exchange(context.Background(), conf, strings.TrimSpace(code), *tokenFile); err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Token saved to %s\n", *tokenFile)
}

func remoteClient(app *ytmusic.App) *youtube.Client {
	yt, err := app.YouTube()
	if err != nil {
		fatalf("Error: %v (configure api_key or run 'ytmusic login')", err)
	}
	return yt
}

func cmdPlaylists(args []string) {
	fs := newFlagSet("playlists", "")
	fs.Parse(args)

	ctx, app, done := openApp()
	defer done()
	yt := remoteClient(app)

	var playlists []youtube.Playlist
	page := ""
	for {
		batch, next, err := yt.MyPlaylists(ctx, page)
		if err != nil {
			fatalf("Error fetching playlists: %v", err)
		}
		playlists = append(playlists, batch...)
		if next == "" {
			break
		}
		page = next
	}

	bindings, err := app.Bindings.List(ctx)
	if err != nil {
		fatalf("Error: %v", err)
	}
	bound := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		bound[b.RemotePlaylistID] = true
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYLIST ID\tTITLE\tVIDEOS\tSYNCED")
	for _, p := range playlists {
		synced := ""
		if bound[p.ID] {
			synced = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.ID, truncate(p.Title, 50), p.ItemCount, synced)
	}
	w.Flush()

	fmt.Fprintf(os.Stderr, "\nTotal: %d playlists (quota used: ~%d units)\n", len(playlists), yt.EstimatedQuota())
}

func cmdVideos(args []string) {
	fs := newFlagSet("videos", "<playlist-id>")
	fs.Parse(args)
	argv := requireArgs(fs, 1, "playlist-id")

	ctx, app, done := openApp()
	defer done()
	yt := remoteClient(app)

	videos, err := yt.PlaylistVideos(ctx, argv[0])
	if err != nil {
		fatalf("Error fetching videos: %v", err)
	}
	printVideos(app, videos)
}

func cmdSearch(args []string) {
	fs := newFlagSet("search", "[flags] <query>")
	order := fs.String("order", "relevance", "Order: relevance, date, title, viewCount, rating")
	duration := fs.String("duration", "any", "Duration: any, short, medium, long")
	maxResults := fs.Int64("max", 25, "Maximum results (1-50)")
	page := fs.String("page", "", "Page token of a previous search")
	fs.Parse(args)
	argv := requireArgs(fs, 1, "query")

	ctx, app, done := openApp()
	defer done()
	yt := remoteClient(app)

	videos, next, err := yt.Search(ctx, strings.Join(argv, " "), youtube.SearchOptions{
		Order:      *order,
		Duration:   *duration,
		PageToken:  *page,
		MaxResults: *maxResults,
	})
	if err != nil {
		fatalf("Error searching: %v", err)
	}
	printVideos(app, videos)
	if next != "" {
		fmt.Fprintf(os.Stderr, "Next page: -page %s\n", next)
	}
}

func printVideos(app *ytmusic.App, videos []youtube.Video) {
	if len(videos) == 0 {
		fmt.Println("No videos found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VIDEO ID\tTITLE\tAUTHOR\tDURATION\tVIEWS\tPUBLISHED\tSTATE")
	for _, v := range videos {
		views := ""
		if v.ViewCount > 0 {
			views = humanize.Comma(int64(v.ViewCount))
		}
		published := ""
		if !v.Published.IsZero() {
			published = humanize.Time(v.Published)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID,
			truncate(v.Title, 50),
			truncate(v.Author, 24),
			formatDuration(v.Duration),
			views,
			published,
			app.Downloads.State(v.ID),
		)
	}
	w.Flush()

	fmt.Fprintf(os.Stderr, "\nTotal: %d videos\n", len(videos))
}

func resolvePlaylists(ctx context.Context, app *ytmusic.App, list string) []storage.Playlist {
	ids, err := parseIDs(list)
	if err != nil {
		fatalf("Error: %v", err)
	}
	playlists, err := app.Library.ResolvePlaylists(ctx, ids)
	if err != nil {
		fatalf("Error: %v", err)
	}
	return playlists
}

func cmdDownload(args []string) {
	fs := newFlagSet("download", "[flags] <video-id>...")
	into := fs.String("into", "", "Comma-separated local playlist IDs to add the videos to")
	detach := fs.Bool("detach", false, "Enqueue and exit; downloads continue on the next start")
	fs.Parse(args)
	argv := requireArgs(fs, 1, "video-id")

	ctx, app, done := openApp()
	defer done()
	yt := remoteClient(app)
	playlists := resolvePlaylists(ctx, app, *into)

	var enqueued []string
	for _, id := range argv {
		video, err := yt.Video(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching %s: %v\n", id, err)
			continue
		}
		if err := app.Downloads.Enqueue(ctx, *video, playlists); err != nil {
			fmt.Fprintf(os.Stderr, "Error enqueueing %s: %v\n", id, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "Enqueued %s (%s)\n", id, video.Title)
		enqueued = append(enqueued, id)
	}

	if !*detach {
		waitForDownloads(ctx, app, enqueued)
	}
}

func cmdDownloadPlaylist(args []string) {
	fs := newFlagSet("download-playlist", "[flags] <playlist-id>")
	into := fs.String("into", "", "Comma-separated local playlist IDs to add the videos to")
	detach := fs.Bool("detach", false, "Enqueue and exit; downloads continue on the next start")
	fs.Parse(args)
	argv := requireArgs(fs, 1, "playlist-id")

	ctx, app, done := openApp()
	defer done()
	remoteClient(app)
	playlists := resolvePlaylists(ctx, app, *into)

	n, err := app.Syncer.DownloadAll(ctx, argv[0], playlists)
	if err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Enqueued %d videos\n", n)

	if !*detach {
		waitForOutstanding(ctx, app)
	}
}

// waitForOutstanding waits for every download currently in flight.
func waitForOutstanding(ctx context.Context, app *ytmusic.App) {
	jobs, err := app.Downloads.DownloadingJobs(ctx)
	if err != nil {
		fatalf("Error: %v", err)
	}
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.Item.ID)
	}
	waitForStartup(ctx, app, ids)
	waitForDownloads(ctx, app, ids)
}

func cmdBind(args []string) {
	fs := newFlagSet("bind", "[flags] <playlist-id>")
	into := fs.String("into", "", "Comma-separated local playlist IDs to mirror into")
	fs.Parse(args)
	argv := requireArgs(fs, 1, "playlist-id")

	ctx, app, done := openApp()
	defer done()
	yt := remoteClient(app)

	details, err := yt.PlaylistDetails(ctx, argv[0])
	if err != nil {
		fatalf("Error fetching playlist: %v", err)
	}
	playlists := resolvePlaylists(ctx, app, *into)
	if err := app.Bindings.Add(ctx, details.Playlist, playlists); err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Bound %q to %d local playlists\n", details.Title, len(playlists))
}

func cmdRebind(args []string) {
	fs := newFlagSet("rebind", "[flags] <playlist-id>")
	into := fs.String("into", "", "Comma-separated local playlist IDs to mirror into")
	fs.Parse(args)
	argv := requireArgs(fs, 1, "playlist-id")

	ctx, app, done := openApp()
	defer done()

	if err := app.Bindings.Reassign(ctx, argv[0], resolvePlaylists(ctx, app, *into)); err != nil {
		fatalf("Error: %v", err)
	}
}

func cmdUnbind(args []string) {
	fs := newFlagSet("unbind", "<playlist-id>")
	fs.Parse(args)
	argv := requireArgs(fs, 1, "playlist-id")

	ctx, app, done := openApp()
	defer done()

	if err := app.Bindings.Remove(ctx, argv[0]); err != nil {
		fatalf("Error: %v", err)
	}
}

func cmdBindings(args []string) {
	fs := newFlagSet("bindings", "")
	fs.Parse(args)

	ctx, app, done := openApp()
	defer done()

	bindings, err := app.Bindings.List(ctx)
	if err != nil {
		fatalf("Error: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYLIST ID\tNAME\tLOCAL PLAYLISTS")
	for _, b := range bindings {
		names := make([]string, 0, len(b.Playlists))
		for _, p := range b.Playlists {
			names = append(names, fmt.Sprintf("%s (%d)", p.Name, p.ID))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.RemotePlaylistID, truncate(b.Name, 40), strings.Join(names, ", "))
	}
	w.Flush()
}

func cmdSync(args []string) {
	fs := newFlagSet("sync", "<on|off|status|now>")
	fs.Parse(args)
	argv := requireArgs(fs, 1, "action")

	ctx, app, done := openApp()
	defer done()

	switch argv[0] {
	case "on":
		if err := app.Sync.TurnOn(ctx); err != nil {
			fatalf("Error: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Synchronization runs every %v while 'ytmusic run' is active\n", app.Config().SyncInterval)
	case "off":
		if err := app.Sync.TurnOff(ctx); err != nil {
			fatalf("Error: %v", err)
		}
	case "status":
		on, err := app.Sync.IsOn(ctx)
		if err != nil {
			fatalf("Error: %v", err)
		}
		if !on {
			fmt.Println("Synchronization: off")
			return
		}
		fmt.Println("Synchronization: on")
		if info, err := app.Jobs.Unique(ctx, playlistsync.UniqueWorkName); err == nil {
			fmt.Printf("Interval:        %v\n", info.Interval)
			fmt.Printf("Next run:        %s\n", humanize.Time(info.NextRunAt))
		}
	case "now":
		n, err := app.Syncer.Run(ctx)
		if err != nil {
			fatalf("Error: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Enqueued %d videos\n", n)
		waitForOutstanding(ctx, app)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown action %q\n", argv[0])
		fs.Usage()
		os.Exit(1)
	}
}
