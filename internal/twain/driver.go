package twain

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

// Driver scans through sessions from a SessionOpener.
type Driver struct {
	opener SessionOpener
	cache  TimingCache
}

// NewDriver creates a driver. cache may be nil to keep timings in memory.
func NewDriver(opener SessionOpener, cache TimingCache) *Driver {
	if cache == nil {
		cache = NewMemoryTimingCache()
	}
	return &Driver{opener: opener, cache: cache}
}

func (d *Driver) sources(ctx context.Context, dsm scan.TwainDsm) ([]string, error) {
	s, err := d.opener.Open(ctx, dsm)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("closing twain session", "err", err)
		}
	}()
	return s.Sources(ctx)
}

// GetDevices lists data sources. An empty list from the new DSM is retried
// with the legacy one, which some remote desktop setups require.
func (d *Driver) GetDevices(ctx context.Context, opts *scan.Options, callback func(scan.Device)) error {
	names, err := d.sources(ctx, opts.Twain.Dsm)
	if err == nil && len(names) == 0 && opts.Twain.Dsm != scan.DsmOld {
		slog.Debug("no twain sources, retrying with the old dsm")
		names, err = d.sources(ctx, scan.DsmOld)
	}
	if err != nil {
		return mapError(err)
	}
	for _, name := range names {
		callback(scan.Device{Driver: scan.DriverTwain, ID: name, Name: name})
	}
	return nil
}

// Scan runs one session. When the new DSM cannot find the source the scan
// is retried once with the legacy DSM.
func (d *Driver) Scan(ctx context.Context, opts *scan.Options, events scan.Events, callback func(*raster.Image)) error {
	if opts.Device == nil {
		return scan.NewError(scan.KindNoMatchingDevice, "no twain source selected")
	}
	err := d.scan(ctx, opts.Twain.Dsm, opts, events, callback)
	if errors.Is(err, ErrSourceNotFound) && opts.Twain.Dsm != scan.DsmOld {
		slog.Debug("twain source not found, retrying with the old dsm", "source", opts.Device.ID)
		err = d.scan(ctx, scan.DsmOld, opts, events, callback)
	}
	if ctx.Err() != nil {
		return nil
	}
	return mapError(err)
}

func (d *Driver) scan(ctx context.Context, dsm scan.TwainDsm, opts *scan.Options, events scan.Events, callback func(*raster.Image)) error {
	s, err := d.opener.Open(ctx, dsm)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("closing twain session", "err", err)
		}
	}()

	estimator := NewProgressEstimator(KeyFor(opts), events, d.cache)
	p := NewImageProcessor(estimator, callback)
	defer p.Close()

	slog.Debug("running twain session", "source", opts.Device.ID, "dsm", dsm)
	if err := s.Run(ctx, opts.Device.ID, NewConfig(opts), p); err != nil {
		return err
	}
	p.Flush()
	return nil
}
