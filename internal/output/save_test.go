package output

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mzyy94/scanbridge/internal/raster"
)

func testPage(f raster.PixelFormat) *raster.Image {
	img := raster.New(32, 48, f).SetResolution(200, 200)
	img.SetRGB(3, 4, 0xFF, 0xFF, 0xFF)
	return img
}

func TestSave(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	dir := filepath.Join(t.TempDir(), "out")
	pages := []*raster.Image{testPage(raster.FormatRGB24), testPage(raster.FormatBW1)}

	paths, err := Save(dir, pages, now)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
		if fi, err := os.Stat(p); err != nil || fi.Size() == 0 {
			t.Errorf("%s not written: %v", p, err)
		}
	}
	want := []string{"scan_20260314_092653_001.tiff", "scan_20260314_092653_002.tiff"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("files = %v, want %v", names, want)
	}

	if _, err := Save(dir, nil, now); err == nil {
		t.Error("Save with no pages succeeded")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format raster.PixelFormat
	}{
		{"gray", raster.FormatGray8},
		{"color", raster.FormatRGB24},
		{"bilevel", raster.FormatBW1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths, err := Save(t.TempDir(), []*raster.Image{testPage(tt.format)}, time.Now())
			if err != nil {
				t.Fatal(err)
			}
			m, err := raster.ReadFile(paths[0])
			if err != nil {
				t.Fatal(err)
			}
			if m.Width != 32 || m.Height != 48 {
				t.Errorf("size = %dx%d, want 32x48", m.Width, m.Height)
			}
			if r, _, _ := m.RGBAt(3, 4); r != 0xFF {
				t.Errorf("pixel = %d, want 255", r)
			}
			if r, _, _ := m.RGBAt(0, 0); r != 0 {
				t.Errorf("background = %d, want 0", r)
			}
		})
	}
}

func TestJobStatus(t *testing.T) {
	var s JobStatus
	if !s.Start() {
		t.Fatal("Start on idle status failed")
	}
	if s.Start() {
		t.Error("second Start succeeded while scanning")
	}
	s.SetResult(errors.New("paper jam"), 2, []string{"a.tiff"})
	snap := s.Snapshot()
	if snap.Scanning || snap.LastError != "paper jam" || snap.Pages != 2 || snap.LastScan == "" {
		t.Errorf("snapshot = %+v", snap)
	}
	snap.Files[0] = "changed"
	if s.Snapshot().Files[0] != "a.tiff" {
		t.Error("Snapshot shares the file list")
	}
}
