package scan

import (
	"context"
	"errors"

	"github.com/mzyy94/scanbridge/internal/raster"
)

// Device identifies a scanner. ID is opaque to everything but the driver
// that produced it.
type Device struct {
	Driver Driver `json:"driver"`
	ID     string `json:"id"`
	Name   string `json:"name"`
}

// Events receives progress notifications from a running scan.
type Events interface {
	PageStart()
	// PageProgress reports the fraction of the current page received, 0..1.
	PageProgress(progress float64)
}

// EventFuncs adapts plain functions to Events. Nil fields are ignored.
type EventFuncs struct {
	OnPageStart    func()
	OnPageProgress func(float64)
}

func (e EventFuncs) PageStart() {
	if e.OnPageStart != nil {
		e.OnPageStart()
	}
}

func (e EventFuncs) PageProgress(p float64) {
	if e.OnPageProgress != nil {
		e.OnPageProgress(p)
	}
}

// NopEvents discards all events.
var NopEvents Events = EventFuncs{}

// ScanDriver is implemented by every protocol driver. Both methods block
// until the operation completes or ctx is cancelled. Cancellation is not an
// error: Scan returns nil after an orderly teardown.
type ScanDriver interface {
	GetDevices(ctx context.Context, opts *Options, callback func(Device)) error
	Scan(ctx context.Context, opts *Options, events Events, callback func(*raster.Image)) error
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
