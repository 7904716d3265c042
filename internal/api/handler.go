// Package api serves the JSON control API: status, settings, device
// listing and scan-to-folder jobs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mzyy94/scanbridge/internal/acquire"
	"github.com/mzyy94/scanbridge/internal/config"
	"github.com/mzyy94/scanbridge/internal/output"
	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
	"github.com/mzyy94/scanbridge/internal/share"
)

// Scanner is the acquisition side of the API. *acquire.Controller
// implements it.
type Scanner interface {
	Scan(ctx context.Context, opts *scan.Options, events acquire.Events) *acquire.Stream
	Devices(ctx context.Context, opts *scan.Options) ([]scan.Device, error)
}

type handler struct {
	sc         Scanner
	adapter    *share.Adapter // nil when sharing is off
	listenPort int
	settings   *config.Store
	jobs       output.JobStatus

	// base is the context of background jobs.
	base context.Context
	now  func() time.Time
}

// NewHandler creates the API handler. Jobs started through it stop when ctx
// is cancelled.
func NewHandler(ctx context.Context, sc Scanner, adapter *share.Adapter, listenPort int, settings *config.Store) http.Handler {
	h := &handler{
		sc:         sc,
		adapter:    adapter,
		listenPort: listenPort,
		settings:   settings,
		base:       ctx,
		now:        time.Now,
	}
	return h.routes()
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/settings", h.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", h.handlePutSettings)
	mux.HandleFunc("GET /api/devices", h.handleDevices)
	mux.HandleFunc("POST /api/scan", h.handleScan)
	return mux
}

type statusResponse struct {
	State     string           `json:"state"`
	ADF       *adfStatus       `json:"adf,omitempty"`
	Device    deviceInfo       `json:"device"`
	Caps      *capsInfo        `json:"capabilities,omitempty"`
	Job       output.JobStatus `json:"job"`
	ESCLUrl   string           `json:"esclUrl,omitempty"`
	UpdatedAt string           `json:"updatedAt"`
}

type adfStatus struct {
	Loaded bool `json:"loaded"`
}

type deviceInfo struct {
	Driver string `json:"driver"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Remote string `json:"remote,omitempty"`
}

type capsInfo struct {
	Resolutions []int    `json:"resolutions"`
	ColorModes  []string `json:"colorModes"`
	Duplex      bool     `json:"duplex"`
	Formats     []string `json:"formats"`
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	s := h.settings.Get()
	job := h.jobs.Snapshot()
	resp := statusResponse{
		State: "idle",
		Device: deviceInfo{
			Driver: s.Driver,
			ID:     s.DeviceID,
			Name:   s.DeviceName,
		},
		Job:       job,
		UpdatedAt: h.now().UTC().Format(time.RFC3339),
	}
	if job.Scanning {
		resp.State = "scanning"
	}
	if s.RemoteHost != "" {
		port := s.RemotePort
		if port == 0 {
			port = scan.DefaultNetworkPort
		}
		resp.Device.Remote = net.JoinHostPort(s.RemoteHost, strconv.Itoa(port))
	}

	if h.adapter != nil {
		if loaded, known := h.adapter.ADFState(); known {
			resp.ADF = &adfStatus{Loaded: loaded}
		}
		caps := h.adapter.Capabilities()
		info := &capsInfo{
			ColorModes: []string{"color", "grayscale", "blackwhite"},
			Duplex:     caps.ADFDuplex != nil,
			Formats:    caps.DocumentFormats,
		}
		input := caps.Platen
		if input == nil {
			input = caps.ADFSimplex
		}
		if input != nil && len(input.Profiles) > 0 {
			for _, res := range input.Profiles[0].Resolutions {
				info.Resolutions = append(info.Resolutions, res.XResolution)
			}
		}
		resp.Caps = info
		resp.ESCLUrl = fmt.Sprintf("http://%s/eSCL", net.JoinHostPort(localIP(), strconv.Itoa(h.listenPort)))
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Settings API ---

func (h *handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Get())
}

func (h *handler) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var s config.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := s.ScanOptions(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.settings.Update(s); err != nil {
		slog.Warn("settings save failed", "err", err)
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// --- Devices API ---

func (h *handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	opts, err := h.settings.Get().ScanOptions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if d := r.URL.Query().Get("driver"); d != "" {
		if opts.Driver, err = scan.ParseDriver(d); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Device = nil
	}
	devices, err := h.sc.Devices(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if devices == nil {
		devices = []scan.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// --- Scan API ---

type scanResponse struct {
	Started bool `json:"started"`
}

// handleScan starts a scan with the saved settings and writes the result to
// the save path. The job runs in the background; its outcome is reported by
// /api/status.
func (h *handler) handleScan(w http.ResponseWriter, r *http.Request) {
	s := h.settings.Get()
	opts, err := s.ScanOptions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if opts.Device == nil {
		http.Error(w, "no device configured", http.StatusBadRequest)
		return
	}
	if s.SavePath == "" {
		http.Error(w, "no save path configured", http.StatusBadRequest)
		return
	}
	if !h.jobs.Start() {
		http.Error(w, "a scan is already running", http.StatusConflict)
		return
	}
	go func() {
		files, pages, err := RunSaveJob(h.base, h.sc, opts, s.SavePath, h.now())
		if err != nil {
			slog.Error("scan job failed", "err", err, "pages", pages)
		}
		h.jobs.SetResult(err, pages, files)
	}()
	writeJSON(w, http.StatusAccepted, scanResponse{Started: true})
}

// RunSaveJob scans with opts and saves the rendered pages into dir. It
// returns the written files and the number of scanned pages.
func RunSaveJob(ctx context.Context, sc Scanner, opts *scan.Options, dir string, now time.Time) ([]string, int, error) {
	slog.Info("scan job starting", "savePath", dir)
	events := acquire.EventFuncs{
		OnPageEnd: func(page int, img *acquire.ProcessedImage) {
			slog.Info("page scanned", "page", page, "blank", img.Annotations.Blank, "patch", img.Annotations.PatchCode)
		},
	}
	pages, err := sc.Scan(ctx, opts, events).All()
	if err != nil {
		return nil, len(pages), err
	}
	if len(pages) == 0 {
		return nil, 0, scan.NewError(scan.KindNoPages, "scan returned no pages")
	}
	rendered := make([]*raster.Image, len(pages))
	for i, p := range pages {
		rendered[i] = p.Render()
	}
	files, err := output.Save(dir, rendered, now)
	return files, len(pages), err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps scan error kinds to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scan.ErrInvalidOptions), errors.Is(err, scan.ErrUnsupportedCapability):
		status = http.StatusBadRequest
	case errors.Is(err, scan.ErrDeviceOffline), errors.Is(err, scan.ErrNoMatchingDevice):
		status = http.StatusServiceUnavailable
	case errors.Is(err, scan.ErrDeviceBusy):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

// localIP returns the address of the interface that routes to the local
// multicast group, for building URLs shown to users.
func localIP() string {
	conn, err := net.Dial("udp4", "224.0.0.1:80")
	if err != nil {
		return "0.0.0.0"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
