package media

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func newTestFiles(t *testing.T) *Files {
	t.Helper()
	f, err := NewFiles(t.TempDir())
	if err != nil {
		t.Fatalf("NewFiles() error = %v", err)
	}
	return f
}

func TestPaths(t *testing.T) {
	f := &Files{musicDir: filepath.Join("/data", "music"), thumbnailDir: filepath.Join("/data", "thumbnails")}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"media", f.MediaFile("abc"), filepath.Join("/data", "music", "abc.m4a")},
		{"downloading", f.DownloadingFile("abc"), filepath.Join("/data", "music", "abc.downloading")},
		{"thumbnail", f.Thumbnail("abc"), filepath.Join("/data", "thumbnails", "abc.jpeg")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPromote(t *testing.T) {
	f := newTestFiles(t)

	w, err := f.CreateDownloading("vid")
	if err != nil {
		t.Fatalf("CreateDownloading() error = %v", err)
	}
	w.WriteString("audio bytes")
	w.Close()

	size, err := f.Promote("vid")
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if size != int64(len("audio bytes")) {
		t.Errorf("size = %d", size)
	}
	if _, err := os.Stat(f.DownloadingFile("vid")); !errors.Is(err, os.ErrNotExist) {
		t.Error("partial file should be gone after promote")
	}
	if got := f.MediaSize("vid"); got != size {
		t.Errorf("MediaSize() = %d, want %d", got, size)
	}

	if _, err := f.Promote("missing"); err == nil {
		t.Error("Promote() of missing partial file should fail")
	}
	if got := f.MediaSize("missing"); got != 0 {
		t.Errorf("MediaSize(missing) = %d, want 0", got)
	}
}

func TestSaveThumbnailAndDelete(t *testing.T) {
	f := newTestFiles(t)

	if err := f.SaveThumbnail("vid", strings.NewReader("jpeg")); err != nil {
		t.Fatalf("SaveThumbnail() error = %v", err)
	}
	data, err := os.ReadFile(f.Thumbnail("vid"))
	if err != nil || string(data) != "jpeg" {
		t.Fatalf("thumbnail = %q, %v", data, err)
	}

	// No temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(f.Thumbnail("vid")))
	if len(entries) != 1 {
		t.Errorf("thumbnail dir has %d entries, want 1", len(entries))
	}

	os.WriteFile(f.MediaFile("vid"), []byte("x"), 0644)
	os.WriteFile(f.DownloadingFile("vid"), []byte("x"), 0644)

	if err := f.Delete("vid"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	for _, path := range []string{f.MediaFile("vid"), f.DownloadingFile("vid"), f.Thumbnail("vid")} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s still exists", path)
		}
	}

	// Deleting again is fine
	if err := f.Delete("vid"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestPartialDownloads(t *testing.T) {
	f := newTestFiles(t)
	os.WriteFile(f.DownloadingFile("b"), nil, 0644)
	os.WriteFile(f.DownloadingFile("a"), nil, 0644)
	os.WriteFile(f.MediaFile("c"), nil, 0644)

	ids, err := f.PartialDownloads()
	if err != nil {
		t.Fatalf("PartialDownloads() error = %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ids = %v, want [a b]", ids)
	}

	f.RemoveDownloading("a")
	f.RemoveDownloading("a")
	ids, _ = f.PartialDownloads()
	if len(ids) != 1 {
		t.Errorf("ids after remove = %v", ids)
	}
}

func TestAtomicWriter_Abort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target")
	os.WriteFile(path, []byte("original"), 0644)

	w, err := NewAtomicWriter(path)
	if err != nil {
		t.Fatalf("NewAtomicWriter() error = %v", err)
	}
	w.Write([]byte("replacement"))
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "original" {
		t.Errorf("target = %q, want original", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries after abort, want 1", len(entries))
	}
}
