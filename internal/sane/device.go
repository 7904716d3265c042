package sane

import (
	"context"
	"fmt"
)

// Status is a SANE_Status code.
type Status int

const (
	StatusGood Status = iota
	StatusUnsupported
	StatusCancelled
	StatusDeviceBusy
	StatusInvalid
	StatusEOF
	StatusJammed
	StatusNoDocs
	StatusCoverOpen
	StatusIOError
	StatusNoMem
	StatusAccessDenied
)

var statusNames = map[Status]string{
	StatusGood:         "success",
	StatusUnsupported:  "operation not supported",
	StatusCancelled:    "operation was cancelled",
	StatusDeviceBusy:   "device busy",
	StatusInvalid:      "invalid argument",
	StatusEOF:          "end of file reached",
	StatusJammed:       "document feeder jammed",
	StatusNoDocs:       "document feeder out of documents",
	StatusCoverOpen:    "scanner cover is open",
	StatusIOError:      "error during device I/O",
	StatusNoMem:        "out of memory",
	StatusAccessDenied: "access to resource has been denied",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status %d", int(s))
}

// StatusError is a non-good status returned by a device call.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sane %s: %s", e.Op, e.Status)
}

// Format is the SANE_Frame of a transfer.
type Format int

const (
	FormatGray Format = iota
	FormatRGB
	FormatRed
	FormatGreen
	FormatBlue
)

// Parameters describe the frame about to be read.
type Parameters struct {
	Format        Format
	LastFrame     bool
	BytesPerLine  int
	PixelsPerLine int
	// Lines is -1 when the device does not know the height in advance.
	Lines int
	Depth int
}

// Info flags returned by option writes.
type Info int

const (
	InfoInexact Info = 1 << iota
	InfoReloadOptions
	InfoReloadParams
)

// Device is an open SANE device. A Device is owned by a single goroutine;
// only Cancel may be called concurrently.
type Device interface {
	// Options returns the current option table, querying the device.
	Options() (OptionSet, error)
	SetNumeric(name string, value float64) (Info, error)
	SetString(name, value string) (Info, error)
	// Start begins a frame. A *StatusError with StatusNoDocs means the
	// feeder is empty.
	Start() error
	Parameters() (Parameters, error)
	// Read returns io.EOF after the last byte of the frame.
	Read(p []byte) (int, error)
	Cancel()
	Close() error
}

// DeviceInfo is one enumerated device.
type DeviceInfo struct {
	Name   string
	Vendor string
	Model  string
	Type   string
}

// Client enumerates and opens devices.
type Client interface {
	Devices(ctx context.Context) ([]DeviceInfo, error)
	Open(ctx context.Context, name string) (Device, error)
}
