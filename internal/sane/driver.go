package sane

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

const readChunkSize = 64 * 1024

// Driver scans through a SANE Client.
type Driver struct {
	client Client
	names  OptionNames
}

// NewDriver creates a driver. names must match the option naming used by
// the client's devices.
func NewDriver(client Client, names OptionNames) *Driver {
	return &Driver{client: client, names: names}
}

// GetDevices lists devices, optionally restricted to opts.Sane.Backend.
func (d *Driver) GetDevices(ctx context.Context, opts *scan.Options, callback func(scan.Device)) error {
	devices, err := d.client.Devices(ctx)
	if err != nil {
		return mapStatus(err, false)
	}
	for _, info := range devices {
		if opts.Sane.Backend != "" && Backend(info.Name) != opts.Sane.Backend {
			continue
		}
		callback(scan.Device{Driver: scan.DriverSane, ID: info.Name, Name: DisplayName(info)})
	}
	return nil
}

// Backend returns the backend part of a device name ("pixma:04A9..." → "pixma").
func Backend(deviceName string) string {
	b, _, _ := strings.Cut(deviceName, ":")
	return b
}

// DisplayName builds a human readable device name.
func DisplayName(info DeviceInfo) string {
	backend := Backend(info.Name)
	switch backend {
	case "escl":
		// the model omits the vendor and the name carries the address
		return fmt.Sprintf("%s %s (%s)", info.Vendor, info.Model, info.Name)
	case "airscan":
		return fmt.Sprintf("%s (%s:%s)", info.Model, backend, info.Type)
	}
	return fmt.Sprintf("%s (%s)", info.Model, backend)
}

// Scan opens opts.Device and scans one page from a flatbed, or every page
// from a feeder.
func (d *Driver) Scan(ctx context.Context, opts *scan.Options, events scan.Events, callback func(*raster.Image)) error {
	if opts.Device == nil {
		return scan.NewError(scan.KindNoMatchingDevice, "no sane device selected")
	}
	if ctx.Err() != nil {
		return nil
	}
	slog.Debug("opening sane device", "id", opts.Device.ID)
	dev, err := d.client.Open(ctx, opts.Device.ID)
	if err != nil {
		return mapStatus(err, false)
	}
	defer dev.Close()

	pages := 0
	err = d.scanOpened(ctx, dev, opts, events, func(img *raster.Image) {
		pages++
		callback(img)
	})
	if ctx.Err() != nil {
		slog.Debug("sane scan cancelled", "pages", pages)
		return nil
	}
	return mapStatus(err, pages > 0)
}

func (d *Driver) scanOpened(ctx context.Context, dev Device, opts *scan.Options, events scan.Events, callback func(*raster.Image)) error {
	c, err := NewOptionController(dev)
	if err != nil {
		return err
	}
	od := d.SetOptions(c, opts)

	cancelOnce := sync.OnceFunc(dev.Cancel)
	stop := context.AfterFunc(ctx, cancelOnce)
	defer stop()
	// sane_cancel also ends a completed scan
	defer cancelOnce()

	if !od.IsFeeder {
		img, err := d.ScanPage(dev, events, od)
		if err != nil {
			return err
		}
		if img == nil {
			return scan.NewError(scan.KindNoPages, "sane device returned no image")
		}
		callback(img)
		return nil
	}
	for pages := 0; ; pages++ {
		img, err := d.ScanPage(dev, events, od)
		if err != nil {
			return err
		}
		if img == nil {
			if pages == 0 {
				return &StatusError{Op: "start", Status: StatusNoDocs}
			}
			return nil
		}
		callback(img)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// OptionData records what SetOptions negotiated.
type OptionData struct {
	IsFeeder bool
	Mode     string
	XRes     float64
	YRes     float64
}

// SetOptions applies opts to the device as far as it supports them.
func (d *Driver) SetOptions(c *OptionController, opts *scan.Options) OptionData {
	n := d.names
	od := OptionData{IsFeeder: opts.PaperSource.IsFeeder()}

	switch opts.PaperSource {
	case scan.SourceAuto:
		if !c.TrySetMatch(n.Source, MatchFlatbed) {
			od.IsFeeder = c.TrySetMatch(n.Source, MatchFeeder)
		}
	case scan.SourceFlatbed:
		c.TrySetMatch(n.Source, MatchFlatbed)
	case scan.SourceFeeder:
		// a failure may just mean a feeder-only scanner
		c.TrySetMatch(n.Source, MatchFeeder)
	case scan.SourceDuplex:
		if !c.TrySetMatch(n.Source, MatchDuplex) {
			c.TrySetMatch(n.Source, MatchFeeder)
		}
		for _, name := range n.AdfModes {
			c.TrySetMatch(name, MatchDuplex)
		}
	}

	mode := MatchColor
	switch opts.BitDepth {
	case scan.DepthBlackWhite:
		mode = MatchBlackWhite
	case scan.DepthGrayscale:
		mode = MatchGrayscale
	}
	if c.TrySetMatch(n.Mode, mode) {
		if opt, ok := c.TryGet(n.Mode); ok {
			od.Mode = opt.CurrentStringValue
		}
	}

	d.setResolution(c, opts, &od)

	area := NewAreaController(c, n)
	if area.CanSetArea() && opts.PageSize != nil {
		minX, minY, maxX, maxY := area.Bounds()
		width := math.Min(opts.PageSize.WidthMM(), maxX-minX)
		height := math.Min(opts.PageSize.HeightMM(), maxY-minY)
		offsetX := AlignOffset(opts.PageAlign, maxX-minX-width)
		area.SetArea(minX+offsetX, minY, minX+offsetX+width, minY+height)
	}

	names := make([]string, 0, len(opts.Sane.KeyValueOptions))
	for name := range opts.Sane.KeyValueOptions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := opts.Sane.KeyValueOptions[name]
		opt := c.Options().Get(name)
		if opt == nil {
			slog.Debug("ignoring unknown sane option", "option", name)
			continue
		}
		switch opt.Type {
		case TypeString:
			c.TrySetFromCandidates(name, []string{value})
		case TypeNumeric:
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				c.TrySetNumeric(name, v)
			}
		}
	}
	return od
}

func (d *Driver) setResolution(c *OptionController, opts *scan.Options, od *OptionData) {
	target := d.closestResolution(c, opts.Dpi)
	n := d.names
	if c.TrySetNumeric(n.Resolution, target) {
		if v, ok := c.TryGetNumeric(n.Resolution); ok {
			od.XRes, od.YRes = v, v
		}
	} else {
		c.TrySetNumeric(n.XResolution, target)
		c.TrySetNumeric(n.YResolution, target)
		if v, ok := c.TryGetNumeric(n.XResolution); ok {
			od.XRes = v
		}
		if v, ok := c.TryGetNumeric(n.YResolution); ok {
			od.YRes = v
		}
	}
	if od.XRes <= 0 {
		od.XRes = target
	}
	if od.YRes <= 0 {
		od.YRes = target
	}
}

func (d *Driver) closestResolution(c *OptionController, dpi int) float64 {
	target := float64(dpi)
	opts := c.Options()
	opt := opts.Get(d.names.Resolution)
	if opt == nil {
		opt = opts.Get(d.names.XResolution)
	}
	if opt == nil {
		opt = opts.Get(d.names.YResolution)
	}
	if opt != nil {
		switch {
		case opt.ConstraintType == ConstraintRange:
			target = math.Max(opt.Range.Min, math.Min(target, opt.Range.Max))
			if opt.Range.Quant != 0 {
				target -= math.Mod(target-opt.Range.Min, opt.Range.Quant)
			}
		case opt.ConstraintType == ConstraintWordList && len(opt.WordList) > 0:
			target = slices.MinFunc(opt.WordList, func(a, b float64) int {
				da, db := math.Abs(a-target), math.Abs(b-target)
				switch {
				case da < db:
					return -1
				case da > db:
					return 1
				}
				return 0
			})
		}
	}
	if int(target) != dpi {
		slog.Debug("correcting dpi", "requested", dpi, "actual", target)
	}
	return target
}

// Frame is the data of one completed frame.
type Frame struct {
	Data   []byte
	Params Parameters
}

// ScanPage reads one page. It returns nil without error when the device has
// no more documents.
func (d *Driver) ScanPage(dev Device, events scan.Events, od OptionData) (*raster.Image, error) {
	f, err := d.ScanFrame(dev, events, 0)
	if err != nil || f == nil {
		return nil, err
	}
	var img *raster.Image
	switch f.Params.Format {
	case FormatRed, FormatGreen, FormatBlue:
		img, err = d.multiFrameImage(dev, events, f)
	default:
		img, err = singleFrameImage(f)
	}
	if err != nil {
		return nil, err
	}
	return img.SetResolution(od.XRes, od.YRes), nil
}

func singleFrameImage(f *Frame) (*raster.Image, error) {
	p := f.Params
	var format raster.PixelFormat
	switch {
	case p.Depth == 1 && p.Format == FormatGray:
		format = raster.FormatBW1
	case p.Depth == 8 && p.Format == FormatGray:
		format = raster.FormatGray8
	case p.Depth == 8 && p.Format == FormatRGB:
		format = raster.FormatRGB24
	default:
		return nil, scan.NewError(scan.KindUnsupportedCapability,
			"unsupported transfer format: %d bits per sample, frame %d", p.Depth, p.Format)
	}
	img := raster.New(p.PixelsPerLine, p.Lines, format)
	n := min(img.Stride, p.BytesPerLine)
	for y := range p.Lines {
		src := f.Data[y*p.BytesPerLine : y*p.BytesPerLine+n]
		dst := img.Pix[y*img.Stride : y*img.Stride+n]
		copy(dst, src)
		if format == raster.FormatBW1 {
			// sane uses 1 for black
			for i := range dst {
				dst[i] = ^dst[i]
			}
		}
	}
	return img, nil
}

func channelOf(f Format) int {
	switch f {
	case FormatGreen:
		return 1
	case FormatBlue:
		return 2
	default:
		return 0
	}
}

// multiFrameImage combines three single-channel frames. Geometry comes
// from the first frame.
func (d *Driver) multiFrameImage(dev Device, events scan.Events, first *Frame) (*raster.Image, error) {
	p := first.Params
	if p.Depth != 8 {
		return nil, scan.NewError(scan.KindUnsupportedCapability, "unsupported channel depth: %d bits per sample", p.Depth)
	}
	img := raster.New(p.PixelsPerLine, p.Lines, raster.FormatRGB24)
	if err := img.CopyChannel(first.Data, p.BytesPerLine, channelOf(p.Format)); err != nil {
		return nil, err
	}
	for frame := 1; frame <= 2; frame++ {
		f, err := d.ScanFrame(dev, events, frame)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, scan.NewError(scan.KindUnknown, "sane device ended after frame %d of 3", frame)
		}
		if err := img.CopyChannel(f.Data, p.BytesPerLine, channelOf(f.Params.Format)); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// ScanFrame starts and reads one frame. It returns nil without error when
// the feeder is empty or no data arrived. When the device reports the frame
// size up front, progress is reported after every read; otherwise only the
// page start is reported and the line count is derived from the bytes read.
func (d *Driver) ScanFrame(dev Device, events scan.Events, frame int) (*Frame, error) {
	if err := dev.Start(); err != nil {
		if isStatus(err, StatusNoDocs) {
			return nil, nil
		}
		return nil, err
	}
	if frame == 0 {
		events.PageStart()
	}
	p, err := dev.Parameters()
	if err != nil {
		return nil, err
	}

	frameSize := 0
	if p.Lines != -1 {
		frameSize = p.BytesPerLine * p.Lines
	}
	current, total := 0, frameSize
	switch p.Format {
	case FormatRed, FormatGreen, FormatBlue:
		total = frameSize * 3
		current = frame * frameSize
	}
	if total > 0 {
		events.PageProgress(float64(current) / float64(total))
	}

	var buf bytes.Buffer
	if frameSize > 0 {
		buf.Grow(frameSize)
	}
	chunk := make([]byte, readChunkSize)
	for {
		n, err := dev.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			current += n
			if total > 0 {
				events.PageProgress(float64(current) / float64(total))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if isStatus(err, StatusNoDocs) && buf.Len() == 0 {
				return nil, nil
			}
			return nil, err
		}
	}

	if buf.Len() == 0 {
		return nil, nil
	}
	if p.BytesPerLine > 0 {
		// the advertised line count may be wrong or unknown
		p.Lines = buf.Len() / p.BytesPerLine
	}
	return &Frame{Data: buf.Bytes(), Params: p}, nil
}

func isStatus(err error, s Status) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == s
}

// mapStatus translates SANE statuses into scan errors. Good and cancelled
// end cleanly; an empty feeder is only an error before the first page.
func mapStatus(err error, hasImage bool) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return scan.Wrap(err)
	}
	switch se.Status {
	case StatusGood, StatusCancelled:
		return nil
	case StatusNoDocs:
		if hasImage {
			return nil
		}
		return &scan.Error{Kind: scan.KindNoPages, Err: se}
	case StatusDeviceBusy:
		return &scan.Error{Kind: scan.KindDeviceBusy, Err: se}
	case StatusInvalid:
		return &scan.Error{Kind: scan.KindDeviceOffline, Err: se}
	case StatusJammed:
		return &scan.Error{Kind: scan.KindPaperJam, Err: se}
	case StatusCoverOpen:
		return &scan.Error{Kind: scan.KindCoverOpen, Err: se}
	case StatusIOError:
		return &scan.Error{Kind: scan.KindDeviceOffline, Msg: "communication error", Err: se}
	default:
		return &scan.Error{Kind: scan.KindUnknown, Err: se}
	}
}
