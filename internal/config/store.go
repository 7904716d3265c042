package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mzyy94/scanbridge/internal/scan"
)

// Settings holds the persisted scan defaults used by the share server and
// API-triggered scans.
type Settings struct {
	Driver      string `json:"driver"`
	DeviceID    string `json:"deviceId"`
	DeviceName  string `json:"deviceName"`
	PaperSource string `json:"paperSource"`
	BitDepth    string `json:"bitDepth"`
	Dpi         int    `json:"dpi"`
	PageSize    string `json:"pageSize"`
	// ExcludeBlankPages drops blank pages. nil = default (true)
	ExcludeBlankPages *bool  `json:"excludeBlankPages"`
	AutoDeskew        bool   `json:"autoDeskew"`
	SavePath          string `json:"savePath"`
	// RemoteHost runs scans on another scanbridge server.
	RemoteHost string `json:"remoteHost,omitempty"`
	RemotePort int    `json:"remotePort,omitempty"`
}

// DefaultSettings returns the default scan settings.
func DefaultSettings() Settings {
	return Settings{
		PaperSource: string(scan.SourceAuto),
		BitDepth:    string(scan.DepthColor),
		Dpi:         300,
		PageSize:    "letter",
	}
}

// ScanOptions converts the settings into options for the acquisition
// controller. The result still goes through validation there.
func (s Settings) ScanOptions() (*scan.Options, error) {
	driver, err := scan.ParseDriver(s.Driver)
	if err != nil {
		return nil, err
	}
	opts := &scan.Options{
		Driver:            driver,
		PaperSource:       scan.PaperSource(s.PaperSource),
		BitDepth:          scan.BitDepth(s.BitDepth),
		Dpi:               s.Dpi,
		ExcludeBlankPages: s.ExcludeBlankPages == nil || *s.ExcludeBlankPages,
		AutoDeskew:        s.AutoDeskew,
		FlipDuplexedPages: true,
		Network:           scan.NetworkOptions{Host: s.RemoteHost, Port: s.RemotePort},
	}
	if s.DeviceID != "" {
		opts.Device = &scan.Device{Driver: driver, ID: s.DeviceID, Name: s.DeviceName}
	}
	if s.PageSize != "" {
		ps, err := scan.ParsePageSize(s.PageSize)
		if err != nil {
			return nil, fmt.Errorf("page size: %w", err)
		}
		opts.PageSize = &ps
	}
	return opts, nil
}

// Store provides thread-safe settings persistence backed by a JSON file.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	path     string
}

// NewStore creates a Store that persists settings to dataDir/settings.json.
// If the file does not exist or is invalid, default settings are used.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	s := &Store{
		path:     filepath.Join(dataDir, "settings.json"),
		settings: DefaultSettings(),
	}
	s.load()
	return s, nil
}

// NewMemoryStore creates a Store that keeps settings in memory only.
func NewMemoryStore(initial Settings) *Store {
	return &Store{settings: initial}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update validates and replaces the settings, then persists them.
func (s *Store) Update(settings Settings) error {
	if _, err := settings.ScanOptions(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.save()
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return // file missing is OK, use defaults
	}
	settings := DefaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		slog.Warn("invalid settings file, using defaults", "path", s.path, "err", err)
		return
	}
	s.settings = settings
}

func (s *Store) save() error {
	if s.path == "" {
		return nil // memory-only mode
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
