// Package output hands scanned pages to the filesystem and tracks the state
// of background scan jobs. Pages are written as TIFF, the raster's own
// interchange format; document formats belong to downstream tools.
package output

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mzyy94/scanbridge/internal/raster"
)

// Save writes each page into dir as scan_<timestamp>_<n>.tiff and returns
// the written paths. Already written pages are returned on failure.
func Save(dir string, pages []*raster.Image, now time.Time) ([]string, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to save")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create save directory: %w", err)
	}
	timestamp := now.Format("20060102_150405")

	var paths []string
	for i, p := range pages {
		outPath := filepath.Join(dir, fmt.Sprintf("scan_%s_%03d.tiff", timestamp, i+1))
		if err := raster.WriteFile(outPath, p); err != nil {
			return paths, fmt.Errorf("write page %d: %w", i+1, err)
		}
		paths = append(paths, outPath)
	}
	slog.Info("scan saved", "path", dir, "pages", len(pages))
	return paths, nil
}

// JobStatus tracks the state of API-triggered scan jobs.
type JobStatus struct {
	mu        sync.RWMutex
	Scanning  bool     `json:"scanning"`
	LastError string   `json:"lastError,omitempty"`
	LastScan  string   `json:"lastScan,omitempty"` // RFC3339
	Pages     int      `json:"pages"`
	Files     []string `json:"files,omitempty"`
}

// Snapshot returns a copy of the current status.
func (s *JobStatus) Snapshot() JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return JobStatus{
		Scanning:  s.Scanning,
		LastError: s.LastError,
		LastScan:  s.LastScan,
		Pages:     s.Pages,
		Files:     append([]string(nil), s.Files...),
	}
}

// Start marks a job as running. It returns false if one already is.
func (s *JobStatus) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Scanning {
		return false
	}
	s.Scanning = true
	s.LastError = ""
	return true
}

// SetResult records the outcome of a completed job.
func (s *JobStatus) SetResult(err error, pages int, files []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scanning = false
	s.LastScan = time.Now().UTC().Format(time.RFC3339)
	s.Pages = pages
	s.Files = files
	if err != nil {
		s.LastError = err.Error()
	} else {
		s.LastError = ""
	}
}
