// Package acquire runs scans through a bridge, numbers and post-processes
// the pages, and streams them to the caller.
package acquire

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mzyy94/scanbridge/internal/bridge"
	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/sane"
	"github.com/mzyy94/scanbridge/internal/scan"
)

// Bridges creates the bridge for a validated option set. *bridge.Factory
// implements it.
type Bridges interface {
	Create(opts *scan.Options) bridge.Bridge
}

// Controller is the entry point for scanning.
type Controller struct {
	bridges Bridges
	// GOOS overrides the platform used to pick the default driver.
	GOOS string
}

func NewController(bridges Bridges) *Controller {
	return &Controller{bridges: bridges}
}

// GetDevices lists devices for the driver selected by opts.
func (c *Controller) GetDevices(ctx context.Context, opts *scan.Options, callback func(scan.Device)) error {
	o, err := scan.Validator{GOOS: c.GOOS}.Validate(opts)
	if err != nil {
		return err
	}
	return c.bridges.Create(o).GetDevices(ctx, o, callback)
}

// Devices collects GetDevices into a slice.
func (c *Controller) Devices(ctx context.Context, opts *scan.Options) ([]scan.Device, error) {
	var devices []scan.Device
	err := c.GetDevices(ctx, opts, func(d scan.Device) { devices = append(devices, d) })
	return devices, err
}

// Scan starts a scan and returns its page stream. Invalid options give a
// stream whose first Next fails. events may be nil.
func (c *Controller) Scan(ctx context.Context, opts *scan.Options, events Events) *Stream {
	if events == nil {
		events = EventFuncs{}
	}
	o, err := scan.Validator{GOOS: c.GOOS, RequireDevice: true}.Validate(opts)
	if err != nil {
		s := &Stream{images: make(chan *ProcessedImage), cancel: func() {}, err: err}
		close(s.images)
		return s
	}

	slog.Debug("scanning", "device", o.Device.Name, "driver", o.Driver)
	slog.Debug("scan settings", "source", o.PaperSource, "bitDepth", o.BitDepth, "dpi", o.Dpi, "pageSize", o.PageSize.String())
	events.ScanStart()

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{images: make(chan *ProcessedImage), cancel: cancel}
	r := &run{
		ctx:    ctx,
		bridge: c.bridges.Create(o),
		events: events,
		out:    s.images,
		tr:     throttle{step: progressStep},
	}
	go func() {
		defer cancel()
		err := r.scan(o)
		events.ScanEnd(err)
		if err != nil {
			if o.SuppressErrors {
				slog.Error("scan failed", "err", err, "pages", r.page)
			} else {
				s.err = err
			}
		}
		close(s.images)
	}()
	return s
}

// Stream delivers the pages of one scan in order.
type Stream struct {
	images chan *ProcessedImage
	cancel context.CancelFunc
	// err is written before images is closed
	err error

	closeOnce sync.Once
}

// Next blocks for the next page. It returns io.EOF after the last page, or
// the scan error when errors propagate.
func (s *Stream) Next() (*ProcessedImage, error) {
	img, ok := <-s.images
	if ok {
		return img, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

// All drains the stream.
func (s *Stream) All() ([]*ProcessedImage, error) {
	var out []*ProcessedImage
	for {
		img, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, img)
	}
}

// Close cancels the scan if it is still running and waits for it to end.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.images {
		}
	})
}

// run is the state of one Scan call.
type run struct {
	ctx    context.Context
	bridge bridge.Bridge
	events Events
	out    chan<- *ProcessedImage

	page    int
	started bool // PageStart seen for the current page
	tr      throttle
}

func (r *run) scan(opts *scan.Options) error {
	err := r.scanOnce(opts)
	if err == nil || opts.Driver != scan.DriverSane || scan.KindOf(err) != scan.KindDeviceOffline {
		return err
	}
	// Some SANE backends hand out a new device name after a reconnect. A
	// device with the same display name is assumed to be the same scanner.
	slog.Debug("sane device appears offline, looking it up by name", "name", opts.Device.Name)
	dev, lerr := r.findByName(opts)
	if lerr != nil || dev == nil {
		slog.Debug("no matching device found", "err", lerr)
		return err
	}
	retry := opts.Clone()
	retry.Device = dev
	return r.scanOnce(retry)
}

func (r *run) scanOnce(opts *scan.Options) error {
	ev := scan.EventFuncs{
		OnPageStart: func() {
			r.page++
			r.started = true
			r.tr.reset()
			r.events.PageStart(r.page)
		},
		OnPageProgress: func(p float64) {
			if r.tr.allow(p) {
				r.events.PageProgress(r.page, p)
			}
		},
	}
	return r.bridge.Scan(r.ctx, opts, ev, func(img *raster.Image) {
		if !r.started {
			r.page++
		}
		r.started = false
		p := postProcess(img, r.page, opts)
		if p == nil {
			return
		}
		select {
		case r.out <- p:
			r.events.PageEnd(r.page, p)
		case <-r.ctx.Done():
		}
	})
}

func (r *run) findByName(opts *scan.Options) (*scan.Device, error) {
	ctx, cancel := context.WithCancel(r.ctx)
	defer cancel()
	query := opts.Clone()
	query.Sane.Backend = sane.Backend(opts.Device.ID)
	var match *scan.Device
	err := r.bridge.GetDevices(ctx, query, func(d scan.Device) {
		if match == nil && d.Name == opts.Device.Name {
			match = &d
			cancel()
		}
	})
	if match != nil {
		return match, nil
	}
	return nil, err
}
