package twain

import (
	"context"

	"github.com/mzyy94/scanbridge/internal/scan"
)

// Events receives the transfers of a running session. Returning an error
// aborts the session.
type Events interface {
	PageStart(info *ImageInfo) error
	MemoryBufferTransferred(buf *MemoryBuffer) error
	NativeImageTransferred(data []byte) error
}

// Session is an open connection to a TWAIN data source manager.
type Session interface {
	// Sources lists the data source names.
	Sources(ctx context.Context) ([]string, error)
	// Run opens the named source, applies cfg and transfers pages until the
	// source disables itself or ctx is cancelled. It returns
	// ErrSourceNotFound when no source has that name.
	Run(ctx context.Context, source string, cfg Config, events Events) error
	Close() error
}

// SessionOpener opens sessions against the new or the legacy DSM.
type SessionOpener interface {
	Open(ctx context.Context, dsm scan.TwainDsm) (Session, error)
}

// Unavailable is the SessionOpener of platforms without a TWAIN DSM.
type Unavailable struct{}

func (Unavailable) Open(ctx context.Context, dsm scan.TwainDsm) (Session, error) {
	return nil, scan.NewError(scan.KindUnsupportedCapability, "TWAIN is not available on this platform")
}

// Frame is the scan area in inches.
type Frame struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Config is what a session writes to the source's capabilities before
// enabling it.
type Config struct {
	ShowUI       bool                   `json:"showUI"`
	TransferMode scan.TwainTransferMode `json:"transferMode"`

	FeederEnabled *bool `json:"feederEnabled,omitempty"`
	DuplexEnabled *bool `json:"duplexEnabled,omitempty"`

	PixelType  PixelType            `json:"pixelType"`
	PageWidth  float64              `json:"pageWidth"`
	PageHeight float64              `json:"pageHeight"`
	PageAlign  scan.HorizontalAlign `json:"pageAlign"`

	// Brightness and Contrast share the -1000..1000 range of the options.
	// Nil leaves the source default.
	Brightness *int `json:"brightness,omitempty"`
	Contrast   *int `json:"contrast,omitempty"`

	XResolution int `json:"xResolution"`
	YResolution int `json:"yResolution"`
}

// NewConfig derives the source configuration from validated options. With
// the native UI the source is left untouched.
func NewConfig(opts *scan.Options) Config {
	cfg := Config{ShowUI: opts.UseNativeUI, TransferMode: opts.Twain.TransferMode}
	if opts.UseNativeUI {
		return cfg
	}
	yes, no := true, false
	switch opts.PaperSource {
	case scan.SourceFlatbed:
		cfg.FeederEnabled, cfg.DuplexEnabled = &no, &no
	case scan.SourceFeeder:
		cfg.FeederEnabled, cfg.DuplexEnabled = &yes, &no
	case scan.SourceDuplex:
		cfg.FeederEnabled, cfg.DuplexEnabled = &yes, &yes
	}
	switch opts.BitDepth {
	case scan.DepthGrayscale:
		cfg.PixelType = PixelGray
	case scan.DepthBlackWhite:
		cfg.PixelType = PixelBlackWhite
	default:
		cfg.PixelType = PixelRGB
	}
	if opts.PageSize != nil {
		cfg.PageWidth = opts.PageSize.WidthInches()
		cfg.PageHeight = opts.PageSize.HeightInches()
	}
	cfg.PageAlign = opts.PageAlign
	if !opts.BrightnessContrastAfterScan {
		b, c := opts.Brightness, opts.Contrast
		cfg.Brightness, cfg.Contrast = &b, &c
	}
	cfg.XResolution, cfg.YResolution = opts.Dpi, opts.Dpi
	return cfg
}

// Frame positions the page within a bed physicalWidth inches wide.
func (c Config) Frame(physicalWidth float64) Frame {
	offset := 0.0
	switch c.PageAlign {
	case scan.AlignCenter:
		offset = (physicalWidth - c.PageWidth) / 2
	case scan.AlignLeft:
		offset = physicalWidth - c.PageWidth
	}
	return Frame{Left: offset, Top: 0, Right: offset + c.PageWidth, Bottom: c.PageHeight}
}
