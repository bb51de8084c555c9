// Package media manages the on-disk layout of downloaded audio and thumbnails.
package media

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MediaExt is the extension of finished audio files.
	MediaExt = ".m4a"
	// DownloadingExt marks an audio file that is still being written.
	DownloadingExt = ".downloading"
	// ThumbnailExt is the extension of saved thumbnails.
	ThumbnailExt = ".jpeg"
)

// Files resolves and manipulates media paths under a data directory:
//
//	<data_dir>/music/<id>.m4a
//	<data_dir>/music/<id>.downloading
//	<data_dir>/thumbnails/<id>.jpeg
type Files struct {
	musicDir     string
	thumbnailDir string
}

// NewFiles creates the music and thumbnail directories under dataDir.
func NewFiles(dataDir string) (*Files, error) {
	f := &Files{
		musicDir:     filepath.Join(dataDir, "music"),
		thumbnailDir: filepath.Join(dataDir, "thumbnails"),
	}
	for _, dir := range []string{f.musicDir, f.thumbnailDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create media directory: %w", err)
		}
	}
	return f, nil
}

// MediaFile returns the final audio path for a video.
func (f *Files) MediaFile(videoID string) string {
	return filepath.Join(f.musicDir, videoID+MediaExt)
}

// DownloadingFile returns the partial audio path for a video.
func (f *Files) DownloadingFile(videoID string) string {
	return filepath.Join(f.musicDir, videoID+DownloadingExt)
}

// Thumbnail returns the thumbnail path for a video.
func (f *Files) Thumbnail(videoID string) string {
	return filepath.Join(f.thumbnailDir, videoID+ThumbnailExt)
}

// CreateDownloading truncates or creates the partial file for a video.
func (f *Files) CreateDownloading(videoID string) (*os.File, error) {
	return os.OpenFile(f.DownloadingFile(videoID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
}

// Promote renames the partial file to the final media file and returns its size.
func (f *Files) Promote(videoID string) (int64, error) {
	dst := f.MediaFile(videoID)
	if err := os.Rename(f.DownloadingFile(videoID), dst); err != nil {
		return 0, fmt.Errorf("promote %s: %w", videoID, err)
	}
	return Size(dst)
}

// RemoveDownloading deletes the partial file, ignoring a missing one.
func (f *Files) RemoveDownloading(videoID string) {
	if err := os.Remove(f.DownloadingFile(videoID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("media: remove partial file %s: %v", videoID, err)
	}
}

// SaveThumbnail atomically writes the thumbnail image for a video.
func (f *Files) SaveThumbnail(videoID string, r io.Reader) error {
	w, err := NewAtomicWriter(f.Thumbnail(videoID))
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Abort()
		return fmt.Errorf("write thumbnail %s: %w", videoID, err)
	}
	return w.Commit()
}

// Delete removes every file belonging to a video. Missing files are not an error.
func (f *Files) Delete(videoID string) error {
	var errs []error
	for _, path := range []string{f.MediaFile(videoID), f.DownloadingFile(videoID), f.Thumbnail(videoID)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MediaSize returns the size of a video's finished audio file, or 0 if it is missing.
func (f *Files) MediaSize(videoID string) int64 {
	size, err := Size(f.MediaFile(videoID))
	if err != nil {
		return 0
	}
	return size
}

// PartialDownloads lists the video IDs that have a partial file on disk.
func (f *Files) PartialDownloads() ([]string, error) {
	entries, err := os.ReadDir(f.musicDir)
	if err != nil {
		return nil, fmt.Errorf("read music directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), DownloadingExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), DownloadingExt))
	}
	return ids, nil
}

// Size returns the size of the file at path.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
