// Package bridge decides where a scan driver runs (in this process, in a
// worker process, or on a remote scanbridge server) and carries scans
// across those boundaries.
package bridge

import (
	"context"
	"fmt"
	"runtime"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

// Bridge is the contract shared by every execution location. Cancellation
// behaves as for scan.ScanDriver: a cancelled scan returns nil.
type Bridge interface {
	GetDevices(ctx context.Context, opts *scan.Options, callback func(scan.Device)) error
	Scan(ctx context.Context, opts *scan.Options, events scan.Events, callback func(*raster.Image)) error
}

// Drivers holds one driver per protocol. A nil entry means the protocol is
// not available in this build.
type Drivers struct {
	Sane  scan.ScanDriver
	Twain scan.ScanDriver
	Escl  scan.ScanDriver
}

// For returns the driver for d.
func (ds Drivers) For(d scan.Driver) (scan.ScanDriver, error) {
	var drv scan.ScanDriver
	switch d {
	case scan.DriverSane:
		drv = ds.Sane
	case scan.DriverTwain:
		drv = ds.Twain
	case scan.DriverEscl:
		drv = ds.Escl
	}
	if drv == nil {
		return nil, scan.NewError(scan.KindUnsupportedCapability, "driver %q is not available", d)
	}
	return drv, nil
}

// InProcess calls the driver directly.
type InProcess struct {
	Drivers Drivers
}

func (b *InProcess) GetDevices(ctx context.Context, opts *scan.Options, callback func(scan.Device)) error {
	drv, err := b.Drivers.For(opts.Driver)
	if err != nil {
		return err
	}
	return scan.Wrap(drv.GetDevices(ctx, opts, callback))
}

func (b *InProcess) Scan(ctx context.Context, opts *scan.Options, events scan.Events, callback func(*raster.Image)) error {
	drv, err := b.Drivers.For(opts.Driver)
	if err != nil {
		return err
	}
	return scan.Wrap(drv.Scan(ctx, opts, events, callback))
}

// Platform is the OS and architecture of the running process.
type Platform struct {
	GOOS   string
	GOARCH string
}

// CurrentPlatform describes this process.
func CurrentPlatform() Platform {
	return Platform{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
}

// Kind is an execution location.
type Kind int

const (
	KindInProcess Kind = iota
	KindWorker
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindInProcess:
		return "in-process"
	case KindWorker:
		return "worker"
	case KindNetwork:
		return "network"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Factory creates bridges. The platform is fixed at construction so Select
// depends on nothing but its arguments.
type Factory struct {
	platform Platform
	drivers  Drivers
	worker   *Worker
	network  *Network
}

// NewFactory builds a factory for platform. worker and network may be nil,
// in which case scans that need them fail with unsupported-capability.
func NewFactory(platform Platform, drivers Drivers, worker *Worker, network *Network) *Factory {
	return &Factory{platform: platform, drivers: drivers, worker: worker, network: network}
}

// Select picks the execution location, in order: a remote host means the
// network; the old 32-bit TWAIN DSM in a process that is not 32-bit x86
// means a worker; anything else runs in process.
func (f *Factory) Select(opts *scan.Options) Kind {
	if opts.Network.Host != "" {
		return KindNetwork
	}
	if opts.Driver == scan.DriverTwain && opts.Twain.Dsm == scan.DsmOld && f.platform.GOARCH != "386" {
		return KindWorker
	}
	return KindInProcess
}

// Create returns the bridge Select chose.
func (f *Factory) Create(opts *scan.Options) Bridge {
	switch f.Select(opts) {
	case KindNetwork:
		if f.network != nil {
			return f.network
		}
		return unavailable{KindNetwork}
	case KindWorker:
		if f.worker != nil {
			return f.worker
		}
		return unavailable{KindWorker}
	}
	return &InProcess{Drivers: f.drivers}
}

type unavailable struct{ kind Kind }

func (u unavailable) err() error {
	return scan.NewError(scan.KindUnsupportedCapability, "%s scanning is not configured", u.kind)
}

func (u unavailable) GetDevices(context.Context, *scan.Options, func(scan.Device)) error {
	return u.err()
}

func (u unavailable) Scan(context.Context, *scan.Options, scan.Events, func(*raster.Image)) error {
	return u.err()
}
