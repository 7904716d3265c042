package scan

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Driver selects the protocol used to talk to a scanner.
type Driver string

const (
	DriverDefault Driver = ""
	DriverSane    Driver = "sane"
	DriverTwain   Driver = "twain"
	DriverEscl    Driver = "escl"
)

// ParseDriver accepts the lowercase driver names and "default".
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return DriverDefault, nil
	case "sane":
		return DriverSane, nil
	case "twain":
		return DriverTwain, nil
	case "escl", "airscan":
		return DriverEscl, nil
	}
	return DriverDefault, fmt.Errorf("unknown driver %q", s)
}

// PaperSource is the physical document path.
type PaperSource string

const (
	SourceAuto    PaperSource = "auto"
	SourceFlatbed PaperSource = "flatbed"
	SourceFeeder  PaperSource = "feeder"
	SourceDuplex  PaperSource = "duplex"
)

// IsFeeder reports whether pages come from a document feeder.
func (s PaperSource) IsFeeder() bool {
	return s == SourceFeeder || s == SourceDuplex
}

// BitDepth is the requested color mode.
type BitDepth string

const (
	DepthColor      BitDepth = "color"
	DepthGrayscale  BitDepth = "grayscale"
	DepthBlackWhite BitDepth = "blackwhite"
)

// HorizontalAlign positions a page narrower than the scan bed.
type HorizontalAlign string

const (
	AlignLeft   HorizontalAlign = "left"
	AlignCenter HorizontalAlign = "center"
	AlignRight  HorizontalAlign = "right"
)

// Unit of a PageSize.
type Unit string

const (
	UnitInch       Unit = "in"
	UnitMillimetre Unit = "mm"
	UnitCentimetre Unit = "cm"
)

// PageSize is a physical paper size.
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Unit   Unit    `json:"unit"`
}

var (
	PageLetter = PageSize{Width: 8.5, Height: 11, Unit: UnitInch}
	PageLegal  = PageSize{Width: 8.5, Height: 14, Unit: UnitInch}
	PageA4     = PageSize{Width: 210, Height: 297, Unit: UnitMillimetre}
	PageA5     = PageSize{Width: 148, Height: 210, Unit: UnitMillimetre}
)

// ParsePageSize accepts a named size ("letter", "legal", "a4", "a5") or
// "WxH<unit>" such as "210x297mm".
func ParsePageSize(s string) (PageSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "letter":
		return PageLetter, nil
	case "legal":
		return PageLegal, nil
	case "a4":
		return PageA4, nil
	case "a5":
		return PageA5, nil
	}
	v := strings.ToLower(strings.TrimSpace(s))
	unit := UnitMillimetre
	for _, u := range []Unit{UnitInch, UnitMillimetre, UnitCentimetre} {
		if strings.HasSuffix(v, string(u)) {
			unit = u
			v = strings.TrimSuffix(v, string(u))
			break
		}
	}
	w, h, ok := strings.Cut(v, "x")
	if !ok {
		return PageSize{}, fmt.Errorf("invalid page size %q", s)
	}
	width, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
	if err != nil {
		return PageSize{}, fmt.Errorf("invalid page width %q: %w", w, err)
	}
	height, err := strconv.ParseFloat(strings.TrimSpace(h), 64)
	if err != nil {
		return PageSize{}, fmt.Errorf("invalid page height %q: %w", h, err)
	}
	return PageSize{Width: width, Height: height, Unit: unit}, nil
}

func (p PageSize) factor() float64 {
	switch p.Unit {
	case UnitInch:
		return 25.4
	case UnitCentimetre:
		return 10
	default:
		return 1
	}
}

// WidthMM returns the width in millimetres.
func (p PageSize) WidthMM() float64 { return p.Width * p.factor() }

// HeightMM returns the height in millimetres.
func (p PageSize) HeightMM() float64 { return p.Height * p.factor() }

// WidthInches returns the width in inches.
func (p PageSize) WidthInches() float64 {
	if p.Unit == UnitInch {
		return p.Width
	}
	return p.WidthMM() / 25.4
}

// HeightInches returns the height in inches.
func (p PageSize) HeightInches() float64 {
	if p.Unit == UnitInch {
		return p.Height
	}
	return p.HeightMM() / 25.4
}

func (p PageSize) String() string {
	return fmt.Sprintf("%gx%g%s", p.Width, p.Height, p.Unit)
}

// TwainDsm selects the TWAIN data source manager.
type TwainDsm string

const (
	// DsmNew is TWAINDSM.DLL, available in both bitnesses.
	DsmNew TwainDsm = "new"
	// DsmOld is twain_32.dll, which only loads in 32-bit processes.
	DsmOld TwainDsm = "old"
)

// TwainTransferMode selects how image data leaves the data source.
type TwainTransferMode string

const (
	TransferMemory TwainTransferMode = "memory"
	TransferNative TwainTransferMode = "native"
)

type SaneOptions struct {
	// Backend restricts enumeration to one SANE backend (e.g. "pixma").
	Backend string `json:"backend,omitempty"`
	// KeyValueOptions are written verbatim after the standard options.
	KeyValueOptions map[string]string `json:"keyValueOptions,omitempty"`
}

type TwainOptions struct {
	Dsm          TwainDsm          `json:"dsm,omitempty"`
	TransferMode TwainTransferMode `json:"transferMode,omitempty"`
}

type EsclOptions struct {
	SearchTimeout time.Duration `json:"searchTimeout,omitempty"`
	// Secure prefers https when a device advertises _uscans._tcp.
	Secure bool `json:"secure,omitempty"`
}

// NetworkOptions names a remote scanbridge server. An empty Host runs the
// scan locally.
type NetworkOptions struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// Options is the caller's scan request.
type Options struct {
	Driver      Driver          `json:"driver"`
	Device      *Device         `json:"device,omitempty"`
	PaperSource PaperSource     `json:"paperSource"`
	Dpi         int             `json:"dpi"`
	PageSize    *PageSize       `json:"pageSize,omitempty"`
	BitDepth    BitDepth        `json:"bitDepth"`
	PageAlign   HorizontalAlign `json:"pageAlign"`
	Brightness  int             `json:"brightness"`
	Contrast    int             `json:"contrast"`
	ScaleRatio  int             `json:"scaleRatio"`
	UseNativeUI bool            `json:"useNativeUI"`

	ExcludeBlankPages          bool `json:"excludeBlankPages"`
	BlankPageWhiteThreshold    int  `json:"blankPageWhiteThreshold"`
	BlankPageCoverageThreshold int  `json:"blankPageCoverageThreshold"`
	DetectPatchCodes           bool `json:"detectPatchCodes"`
	AutoDeskew                 bool `json:"autoDeskew"`
	FlipDuplexedPages          bool `json:"flipDuplexedPages"`
	// BrightnessContrastAfterScan records brightness/contrast as transforms
	// instead of asking the device to apply them.
	BrightnessContrastAfterScan bool `json:"brightnessContrastAfterScan"`
	CropToPageSize              bool `json:"cropToPageSize"`
	StretchToPageSize           bool `json:"stretchToPageSize"`
	// SuppressErrors logs driver failures and ends the output stream
	// cleanly. By default the stream terminates with the error.
	SuppressErrors bool `json:"suppressErrors"`

	Sane    SaneOptions    `json:"sane"`
	Twain   TwainOptions   `json:"twain"`
	Escl    EsclOptions    `json:"escl"`
	Network NetworkOptions `json:"network"`
}

// Clone returns a deep copy.
func (o *Options) Clone() *Options {
	c := *o
	if o.Device != nil {
		d := *o.Device
		c.Device = &d
	}
	if o.PageSize != nil {
		p := *o.PageSize
		c.PageSize = &p
	}
	if o.Sane.KeyValueOptions != nil {
		c.Sane.KeyValueOptions = make(map[string]string, len(o.Sane.KeyValueOptions))
		for k, v := range o.Sane.KeyValueOptions {
			c.Sane.KeyValueOptions[k] = v
		}
	}
	return &c
}
