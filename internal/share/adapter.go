// Package share publishes a locally attached scanner on the network as an
// eSCL (AirScan) device.
package share

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/OpenPrinting/go-mfp/abstract"
	"github.com/OpenPrinting/go-mfp/util/generic"
	"github.com/OpenPrinting/go-mfp/util/uuid"

	"github.com/mzyy94/scanbridge/internal/acquire"
	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

const (
	jpegQuality = 85
	// adfStateTTL bounds how long the feeder state learned from the last
	// scan is reported.
	adfStateTTL = 30 * time.Second
)

// Scanner runs scans for the adapter. *acquire.Controller implements it.
type Scanner interface {
	Scan(ctx context.Context, opts *scan.Options, events acquire.Events) *acquire.Stream
}

// Info describes the shared device.
type Info struct {
	Name   string
	Serial string
	// Sources the device offers. Empty means flatbed and feeder.
	Flatbed     bool
	Feeder      bool
	Duplex      bool
	Resolutions []int
}

// Adapter implements abstract.Scanner by running scans through the
// acquisition controller with the configured defaults.
type Adapter struct {
	scanner  Scanner
	defaults func() *scan.Options
	info     Info
	caps     *abstract.ScannerCapabilities

	mu       sync.Mutex
	adfEmpty bool
	adfSeen  time.Time
	now      func() time.Time
}

// NewAdapter creates an adapter. defaults is called for every scan so that
// settings changes apply without a restart.
func NewAdapter(s Scanner, defaults func() *scan.Options, info Info) *Adapter {
	if !info.Flatbed && !info.Feeder {
		info.Flatbed, info.Feeder = true, true
	}
	if len(info.Resolutions) == 0 {
		info.Resolutions = []int{150, 200, 300, 600}
	}
	a := &Adapter{scanner: s, defaults: defaults, info: info, now: time.Now}
	a.caps = a.buildCapabilities()
	return a
}

func (a *Adapter) buildCapabilities() *abstract.ScannerCapabilities {
	var resolutions []abstract.Resolution
	for _, dpi := range a.info.Resolutions {
		resolutions = append(resolutions, abstract.Resolution{XResolution: dpi, YResolution: dpi})
	}
	profile := abstract.SettingsProfile{
		ColorModes: generic.MakeBitset(
			abstract.ColorModeColor,
			abstract.ColorModeMono,
			abstract.ColorModeBinary,
		),
		Depths: generic.MakeBitset(abstract.ColorDepth8),
		BinaryRenderings: generic.MakeBitset(
			abstract.BinaryRenderingThreshold,
		),
		Resolutions: resolutions,
	}
	maxDPI := a.info.Resolutions[len(a.info.Resolutions)-1]
	input := &abstract.InputCapabilities{
		MinWidth:              50 * abstract.Millimeter,
		MaxWidth:              216 * abstract.Millimeter,
		MinHeight:             50 * abstract.Millimeter,
		MaxHeight:             356 * abstract.Millimeter,
		MaxOpticalXResolution: maxDPI,
		MaxOpticalYResolution: maxDPI,
		Intents: generic.MakeBitset(
			abstract.IntentDocument,
			abstract.IntentPhoto,
			abstract.IntentTextAndGraphic,
		),
		Profiles: []abstract.SettingsProfile{profile},
	}

	name := a.info.Name
	if name == "" {
		name = "scanbridge"
	}
	serial := a.info.Serial
	if serial == "" {
		serial = name
	}
	caps := &abstract.ScannerCapabilities{
		UUID:            uuid.SHA1(uuid.NameSpaceDNS, "scanbridge."+serial),
		MakeAndModel:    name,
		SerialNumber:    serial,
		DocumentFormats: []string{"image/jpeg", "application/pdf"},
	}
	if a.info.Flatbed {
		caps.Platen = input
	}
	if a.info.Feeder {
		caps.ADFCapacity = 50
		caps.ADFSimplex = input
		if a.info.Duplex {
			caps.ADFDuplex = input
		}
	}
	return caps
}

// Capabilities returns the scanner capabilities.
func (a *Adapter) Capabilities() *abstract.ScannerCapabilities {
	return a.caps
}

// Scan runs a complete scan and returns its pages as JPEG.
func (a *Adapter) Scan(ctx context.Context, req abstract.ScannerRequest) (abstract.Document, error) {
	if err := req.Validate(a.caps); err != nil {
		return nil, err
	}
	opts := mapRequest(req, a.defaults())
	slog.Info("scan requested",
		"colorMode", req.ColorMode,
		"resolution", req.Resolution,
		"input", req.Input,
		"adfMode", req.ADFMode,
		"source", opts.PaperSource,
	)

	pages, err := a.scanner.Scan(ctx, opts, nil).All()
	if opts.PaperSource.IsFeeder() || opts.PaperSource == scan.SourceAuto {
		a.recordADF(len(pages) == 0 && errors.Is(err, scan.ErrNoPages))
	}
	if err != nil {
		return nil, err
	}

	jpegs := make([][]byte, 0, len(pages))
	for _, p := range pages {
		var buf bytes.Buffer
		if err := raster.EncodeJPEG(&buf, p.Render(), jpegQuality); err != nil {
			return nil, err
		}
		jpegs = append(jpegs, buf.Bytes())
	}

	res := req.Resolution
	if res.IsZero() {
		res = abstract.Resolution{XResolution: opts.Dpi, YResolution: opts.Dpi}
	}
	doc := &jpegDocument{res: res, pages: jpegs}

	if req.DocumentFormat != "" && req.DocumentFormat != "image/jpeg" {
		return abstract.NewFilter(doc, abstract.FilterOptions{
			OutputFormat: req.DocumentFormat,
		}), nil
	}
	return doc, nil
}

func (a *Adapter) recordADF(empty bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adfEmpty = empty
	a.adfSeen = a.now()
}

// ADFState reports the feeder state learned from the most recent scan.
// known is false when there is no recent information.
func (a *Adapter) ADFState() (loaded, known bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.adfSeen.IsZero() || a.now().Sub(a.adfSeen) > adfStateTTL {
		return false, false
	}
	return !a.adfEmpty, true
}

// Close releases nothing; scans own their devices.
func (a *Adapter) Close() error {
	return nil
}

// mapRequest applies an eSCL request on top of the configured defaults.
func mapRequest(req abstract.ScannerRequest, defaults *scan.Options) *scan.Options {
	opts := defaults.Clone()
	opts.SuppressErrors = false

	switch req.ColorMode {
	case abstract.ColorModeColor:
		opts.BitDepth = scan.DepthColor
	case abstract.ColorModeMono:
		opts.BitDepth = scan.DepthGrayscale
	case abstract.ColorModeBinary:
		opts.BitDepth = scan.DepthBlackWhite
	}

	if dpi := req.Resolution.XResolution; dpi > 0 {
		opts.Dpi = dpi
	}

	switch {
	case req.Input == abstract.InputPlaten:
		opts.PaperSource = scan.SourceFlatbed
	case req.ADFMode == abstract.ADFModeDuplex:
		opts.PaperSource = scan.SourceDuplex
	case req.Input == abstract.InputADF || req.ADFMode == abstract.ADFModeSimplex:
		opts.PaperSource = scan.SourceFeeder
	}

	if req.Region.Width > 0 && req.Region.Height > 0 {
		opts.PageSize = &scan.PageSize{
			Width:  float64(req.Region.Width) / float64(abstract.Millimeter),
			Height: float64(req.Region.Height) / float64(abstract.Millimeter),
			Unit:   scan.UnitMillimetre,
		}
	}
	return opts
}

// jpegDocument wraps scanned JPEG pages as an abstract.Document.
type jpegDocument struct {
	res   abstract.Resolution
	pages [][]byte
	idx   int
}

func (d *jpegDocument) Resolution() abstract.Resolution { return d.res }

func (d *jpegDocument) Next() (abstract.DocumentFile, error) {
	if d.idx >= len(d.pages) {
		return nil, io.EOF
	}
	f := &jpegFile{Reader: bytes.NewReader(d.pages[d.idx])}
	d.idx++
	return f, nil
}

func (d *jpegDocument) Close() error { return nil }

// jpegFile wraps a single JPEG page as an abstract.DocumentFile.
type jpegFile struct {
	*bytes.Reader
}

func (f *jpegFile) Format() string { return "image/jpeg" }
