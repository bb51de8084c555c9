// Package download tracks per-video audio downloads: it enqueues jobs on the
// scheduler, reconciles their progress with the media library and publishes
// status changes to observers.
package download

import "fmt"

// State is the download state of one video. It is one of Download,
// Downloading, Downloaded or Failed.
type State interface {
	isState()
	String() string
}

// Download means the video is not in the library and can be downloaded.
type Download struct{}

// Downloading means a job is outstanding. Total is 0 until the size is known.
type Downloading struct {
	Current int64
	Total   int64
}

// Downloaded means the audio file is in the library.
type Downloaded struct {
	Size int64
}

// Failed means the last job failed; the item can be retried or cancelled.
type Failed struct {
	Message string
}

func (Download) isState()    {}
func (Downloading) isState() {}
func (Downloaded) isState()  {}
func (Failed) isState()      {}

func (Download) String() string { return "download" }

func (d Downloading) String() string {
	return fmt.Sprintf("downloading %d%% (%d/%d)", d.Percent(), d.Current, d.Total)
}

func (d Downloaded) String() string { return fmt.Sprintf("downloaded (%d bytes)", d.Size) }

func (f Failed) String() string { return "failed: " + f.Message }

// Percent returns the completed share in 0..100.
func (d Downloading) Percent() int {
	if d.Total <= 0 {
		return 0
	}
	p := d.Current * 100 / d.Total
	return int(min(max(p, 0), 100))
}

// Status is a state change of one video.
type Status struct {
	VideoID string
	State   State
}
