package bridge

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

func TestFrameRoundTrip(t *testing.T) {
	frame, err := MarshalFrame(MsgProgress, progressBody{Progress: 0.25})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(frame[4:8], Magic[:]) {
		t.Errorf("magic = %q, want SCBR", frame[4:8])
	}
	mt, body, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatal(err)
	}
	if mt != MsgProgress || string(body) != `{"progress":0.25}` {
		t.Errorf("ReadFrame = %v %s", mt, body)
	}

	empty, _ := MarshalFrame(MsgDone, nil)
	if len(empty) != headerSize {
		t.Errorf("empty frame length = %d, want %d", len(empty), headerSize)
	}
}

func TestReadFrame_Invalid(t *testing.T) {
	good, _ := MarshalFrame(MsgDone, nil)
	badMagic := bytes.Clone(good)
	copy(badMagic[4:8], "VENS")
	short := bytes.Clone(good)
	short[3] = 4
	tests := []struct {
		name string
		data []byte
	}{
		{"bad magic", badMagic},
		{"length below header", short},
		{"truncated body", append(bytes.Clone(good[:3]), 0x20, 'S', 'C', 'B', 'R', 0, 0, 0, 0x1F, 0, 0, 0, 0, '{')},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ReadFrame(bytes.NewReader(tt.data)); err == nil {
				t.Error("ReadFrame succeeded, want error")
			}
		})
	}
}

type eventLog struct {
	mu       sync.Mutex
	starts   int
	progress []float64
}

func (l *eventLog) PageStart() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
}

func (l *eventLog) PageProgress(p float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, p)
}

// pipeServe runs Serve on one end of a pipe and returns the other.
func pipeServe(t *testing.T, b Bridge, handoff Handoff) (net.Conn, <-chan error) {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- Serve(context.Background(), server, b, handoff)
		server.Close()
	}()
	t.Cleanup(func() { client.Close() })
	return client, done
}

func TestWire_Devices(t *testing.T) {
	devices := []scan.Device{
		{Driver: scan.DriverTwain, ID: "Fujitsu fi-7160", Name: "Fujitsu fi-7160"},
		{Driver: scan.DriverTwain, ID: "WIA-Canon", Name: "Canon LiDE 400"},
	}
	drv := &fakeDriver{devices: devices}
	client, done := pipeServe(t, &InProcess{Drivers: Drivers{Twain: drv}}, FileHandoff{Dir: t.TempDir()})

	var got []scan.Device
	opts := &scan.Options{Driver: scan.DriverTwain, Twain: scan.TwainOptions{Dsm: scan.DsmOld}}
	if err := call(context.Background(), client, MsgGetDevices, request{Options: opts}, handlers{device: func(d scan.Device) { got = append(got, d) }}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if !reflect.DeepEqual(got, devices) {
		t.Errorf("devices = %v, want %v", got, devices)
	}
	if drv.opts.Twain.Dsm != scan.DsmOld {
		t.Errorf("server options = %+v, want old DSM", drv.opts)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func TestWire_ScanTwoImages(t *testing.T) {
	dir := t.TempDir()
	drv := &fakeDriver{pages: []*raster.Image{page(3, 2, 0xFF, 0, 0), page(2, 4, 0, 0xFF, 0)}}
	client, done := pipeServe(t, &InProcess{Drivers: Drivers{Sane: drv}}, FileHandoff{Dir: dir})

	var images []*raster.Image
	log := &eventLog{}
	err := call(context.Background(), client, MsgScan, request{Options: &scan.Options{Driver: scan.DriverSane}},
		handlers{events: log, image: func(img *raster.Image) { images = append(images, img) }})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("images = %d, want 2", len(images))
	}
	if images[0].Width != 3 || images[1].Height != 4 {
		t.Errorf("sizes = %dx%d, %dx%d", images[0].Width, images[0].Height, images[1].Width, images[1].Height)
	}
	if r, g, _ := images[1].RGBAt(0, 0); r != 0 || g != 0xFF {
		t.Errorf("second image pixel = %d,%d, want green", r, g)
	}
	if images[0].XRes != 300 {
		t.Errorf("XRes = %g, want 300", images[0].XRes)
	}
	if log.starts != 2 || !reflect.DeepEqual(log.progress, []float64{0.5, 1, 0.5, 1}) {
		t.Errorf("events = %d starts, progress %v", log.starts, log.progress)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("handoff files left behind: %v", entries)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func TestWire_ErrorKindPreserved(t *testing.T) {
	drv := &fakeDriver{
		pages: []*raster.Image{page(2, 2, 1, 1, 1)},
		err:   scan.NewError(scan.KindPaperJam, "feeder jammed on sheet 2"),
	}
	client, _ := pipeServe(t, &InProcess{Drivers: Drivers{Twain: drv}}, InlineHandoff{})

	n := 0
	err := call(context.Background(), client, MsgScan, request{Options: &scan.Options{Driver: scan.DriverTwain}},
		handlers{events: scan.NopEvents, image: func(*raster.Image) { n++ }})
	if n != 1 {
		t.Errorf("images = %d, want 1", n)
	}
	if !errors.Is(err, scan.ErrPaperJam) {
		t.Fatalf("err = %v, want paper jam", err)
	}
	var se *scan.Error
	if !errors.As(err, &se) || se.Msg != "feeder jammed on sheet 2" {
		t.Errorf("message = %q", se.Msg)
	}
}

func TestWire_Cancel(t *testing.T) {
	drv := &fakeDriver{pages: []*raster.Image{page(2, 2, 1, 1, 1)}, block: true}
	client, done := pipeServe(t, &InProcess{Drivers: Drivers{Sane: drv}}, InlineHandoff{})

	ctx, cancel := context.WithCancel(context.Background())
	err := call(ctx, client, MsgScan, request{Options: &scan.Options{Driver: scan.DriverSane}},
		handlers{events: scan.NopEvents, image: func(*raster.Image) { cancel() }})
	if err != nil {
		t.Errorf("cancelled call = %v, want nil", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not finish after cancel")
	}
}

func TestNetworkBridge(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	drv := &fakeDriver{
		devices: []scan.Device{{Driver: scan.DriverSane, ID: "pixma:04A91912", Name: "Canon MG5300"}},
		pages:   []*raster.Image{page(4, 4, 9, 8, 7), page(4, 4, 6, 5, 4)},
	}
	srv := &Server{Bridge: &InProcess{Drivers: Drivers{Sane: drv}}}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		if err := <-served; err != nil {
			t.Errorf("Server.Serve: %v", err)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	opts := &scan.Options{Driver: scan.DriverSane, Network: scan.NetworkOptions{Host: "127.0.0.1", Port: port}}
	n := &Network{}

	var devices []scan.Device
	if err := n.GetDevices(context.Background(), opts, func(d scan.Device) { devices = append(devices, d) }); err != nil {
		t.Fatalf("GetDevices: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "pixma:04A91912" {
		t.Errorf("devices = %v", devices)
	}

	var images []*raster.Image
	if err := n.Scan(context.Background(), opts, scan.NopEvents, func(img *raster.Image) { images = append(images, img) }); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("images = %d, want 2", len(images))
	}
	if r, g, b := images[1].RGBAt(0, 0); r != 6 || g != 5 || b != 4 {
		t.Errorf("pixel = %d,%d,%d, want 6,5,4", r, g, b)
	}
	if drv.opts.Network.Host != "" {
		t.Errorf("server saw network options %+v", drv.opts.Network)
	}
	if opts.Network.Host != "127.0.0.1" {
		t.Error("caller options were modified")
	}
}

func TestNetworkBridge_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	opts := &scan.Options{Driver: scan.DriverSane, Network: scan.NetworkOptions{Host: "127.0.0.1", Port: addr.Port}}
	err = (&Network{}).Scan(context.Background(), opts, scan.NopEvents, func(*raster.Image) {})
	if k := scan.KindOf(err); k != scan.KindDeviceOffline {
		t.Errorf("kind = %v, want %v (%v)", k, scan.KindDeviceOffline, err)
	}
}
