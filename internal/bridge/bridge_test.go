package bridge

import (
	"context"
	"net"
	"testing"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

// fakeDriver serves fixed devices and pages, then returns err. With block
// set, Scan waits for cancellation after the pages.
type fakeDriver struct {
	devices []scan.Device
	pages   []*raster.Image
	err     error
	block   bool
	opts    *scan.Options
}

func (d *fakeDriver) GetDevices(ctx context.Context, opts *scan.Options, callback func(scan.Device)) error {
	d.opts = opts
	for _, dev := range d.devices {
		callback(dev)
	}
	return d.err
}

func (d *fakeDriver) Scan(ctx context.Context, opts *scan.Options, events scan.Events, callback func(*raster.Image)) error {
	d.opts = opts
	for _, img := range d.pages {
		events.PageStart()
		events.PageProgress(0.5)
		events.PageProgress(1)
		callback(img)
	}
	if d.block {
		<-ctx.Done()
		return nil
	}
	return d.err
}

func page(w, h int, r, g, b uint8) *raster.Image {
	img := raster.New(w, h, raster.FormatRGB24).SetResolution(300, 300)
	img.SetRGB(0, 0, r, g, b)
	return img
}

func TestFactorySelect(t *testing.T) {
	tests := []struct {
		name     string
		platform Platform
		opts     scan.Options
		want     Kind
	}{
		{"sane local", Platform{"linux", "amd64"}, scan.Options{Driver: scan.DriverSane}, KindInProcess},
		{"escl local", Platform{"darwin", "arm64"}, scan.Options{Driver: scan.DriverEscl}, KindInProcess},
		{"twain new dsm", Platform{"windows", "amd64"}, scan.Options{Driver: scan.DriverTwain, Twain: scan.TwainOptions{Dsm: scan.DsmNew}}, KindInProcess},
		{"twain old dsm 64-bit", Platform{"windows", "amd64"}, scan.Options{Driver: scan.DriverTwain, Twain: scan.TwainOptions{Dsm: scan.DsmOld}}, KindWorker},
		{"twain old dsm arm64", Platform{"windows", "arm64"}, scan.Options{Driver: scan.DriverTwain, Twain: scan.TwainOptions{Dsm: scan.DsmOld}}, KindWorker},
		{"twain old dsm 32-bit", Platform{"windows", "386"}, scan.Options{Driver: scan.DriverTwain, Twain: scan.TwainOptions{Dsm: scan.DsmOld}}, KindInProcess},
		{"remote sane", Platform{"linux", "amd64"}, scan.Options{Driver: scan.DriverSane, Network: scan.NetworkOptions{Host: "10.0.0.2"}}, KindNetwork},
		{"remote twain old dsm", Platform{"windows", "amd64"}, scan.Options{Driver: scan.DriverTwain, Twain: scan.TwainOptions{Dsm: scan.DsmOld}, Network: scan.NetworkOptions{Host: "scanhost"}}, KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFactory(tt.platform, Drivers{}, NewWorker("scanbridge-386", "worker"), &Network{})
			// the same options always give the same answer
			for range 3 {
				if got := f.Select(&tt.opts); got != tt.want {
					t.Fatalf("Select = %v, want %v", got, tt.want)
				}
			}
			var got Kind
			switch f.Create(&tt.opts).(type) {
			case *InProcess:
				got = KindInProcess
			case *Worker:
				got = KindWorker
			case *Network:
				got = KindNetwork
			default:
				t.Fatalf("Create returned %T", f.Create(&tt.opts))
			}
			if got != tt.want {
				t.Errorf("Create = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFactoryCreate_Unconfigured(t *testing.T) {
	f := NewFactory(Platform{"windows", "amd64"}, Drivers{}, nil, nil)
	opts := &scan.Options{Driver: scan.DriverTwain, Twain: scan.TwainOptions{Dsm: scan.DsmOld}}
	err := f.Create(opts).Scan(context.Background(), opts, scan.NopEvents, func(*raster.Image) {})
	if k := scan.KindOf(err); k != scan.KindUnsupportedCapability {
		t.Errorf("kind = %v, want %v", k, scan.KindUnsupportedCapability)
	}
}

func TestInProcess(t *testing.T) {
	drv := &fakeDriver{pages: []*raster.Image{page(2, 2, 1, 2, 3)}}
	b := &InProcess{Drivers: Drivers{Sane: drv}}
	n := 0
	if err := b.Scan(context.Background(), &scan.Options{Driver: scan.DriverSane}, scan.NopEvents, func(*raster.Image) { n++ }); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("images = %d, want 1", n)
	}

	err := b.Scan(context.Background(), &scan.Options{Driver: scan.DriverEscl}, scan.NopEvents, func(*raster.Image) {})
	if k := scan.KindOf(err); k != scan.KindUnsupportedCapability {
		t.Errorf("missing driver kind = %v, want %v", k, scan.KindUnsupportedCapability)
	}

	drv.err = net.ErrClosed
	err = b.Scan(context.Background(), &scan.Options{Driver: scan.DriverSane}, scan.NopEvents, func(*raster.Image) {})
	if k := scan.KindOf(err); k != scan.KindUnknown {
		t.Errorf("raw error kind = %v, want %v", k, scan.KindUnknown)
	}
}
