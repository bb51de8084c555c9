// Package ytmusic mirrors YouTube playlists into a local audio library.
//
// Overview
//
// An App combines a SQLite media library, a persistent job scheduler and a
// download coordinator. Downloads are scheduler jobs: they survive restarts
// and report progress that the coordinator republishes as per-video status.
// Sync bindings tie a remote playlist to local playlists, and a periodic job
// enqueues every video of a bound playlist that is not in the library yet.
//
// Quick Start
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	app, err := ytmusic.Open(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer app.Close()
//	if err := app.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	yt, err := app.YouTube()
//	if err != nil {
//		log.Fatal(err)
//	}
//	video, err := yt.Video(ctx, "dQw4w9WgXcQ")
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = app.Downloads.Enqueue(ctx, *video, nil)
//
// Follow status updates:
//
//	updates, stop := app.Downloads.Observe()
//	defer stop()
//	for s := range updates {
//		fmt.Println(s.VideoID, s.State)
//	}
//
// Configuration
//
// config.Load reads, in priority order:
//
//  1. Environment variables prefixed YTMUSIC_ (YTMUSIC_DATA_DIR, YTMUSIC_API_KEY, ...)
//  2. ytmusic.yaml in the working directory or ~/.config/ytmusic
//  3. Default values
//
// Listing "my" playlists needs an OAuth token (token_file); an API key is
// enough for public playlists and videos.
//
// Error Handling
//
// Sentinel errors are re-exported here for errors.Is checks:
//
//	if errors.Is(err, ytmusic.ErrIllegalState) {
//		fmt.Println("only failed downloads can be retried")
//	}
//
// Wrapped errors carry details:
//
//	var extractErr *ytmusic.ExtractionError
//	if errors.As(err, &extractErr) {
//		fmt.Printf("%s: %d attempts\n", extractErr.VideoID, extractErr.Attempts)
//	}
package ytmusic
