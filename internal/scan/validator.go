package scan

import (
	"fmt"
	"runtime"
	"time"
)

const (
	DefaultDpi                        = 100
	DefaultBlankPageWhiteThreshold    = 70
	DefaultBlankPageCoverageThreshold = 15
	DefaultEsclSearchTimeout          = 5 * time.Second
	DefaultNetworkPort                = 8095
)

// Validator normalizes caller supplied Options before a driver sees them.
type Validator struct {
	// GOOS picks the default driver. Empty means runtime.GOOS.
	GOOS string
	// RequireDevice rejects options without a device (scanning needs one,
	// enumeration does not).
	RequireDevice bool
}

// DefaultDriver returns the driver used when none is requested.
func DefaultDriver(goos string) Driver {
	switch goos {
	case "windows":
		return DriverTwain
	case "linux", "freebsd", "openbsd", "netbsd":
		return DriverSane
	default:
		return DriverEscl
	}
}

// Validate returns a normalized deep copy of opts. It never mutates opts and
// never touches a device. Failures wrap ErrInvalidOptions.
func (v Validator) Validate(opts *Options) (*Options, error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: options are required", ErrInvalidOptions)
	}
	o := opts.Clone()

	if o.Driver == DriverDefault {
		goos := v.GOOS
		if goos == "" {
			goos = runtime.GOOS
		}
		o.Driver = DefaultDriver(goos)
	}
	if _, err := ParseDriver(string(o.Driver)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if v.RequireDevice && (o.Device == nil || o.Device.ID == "") {
		return nil, fmt.Errorf("%w: a device must be specified", ErrInvalidOptions)
	}
	if o.Device != nil && o.Device.Driver == DriverDefault {
		o.Device.Driver = o.Driver
	}

	if o.Dpi < 0 {
		return nil, fmt.Errorf("%w: dpi must be positive, got %d", ErrInvalidOptions, o.Dpi)
	}
	if o.Dpi == 0 {
		o.Dpi = DefaultDpi
	}
	if o.PageSize == nil {
		p := PageLetter
		o.PageSize = &p
	}
	if o.PageSize.Width <= 0 || o.PageSize.Height <= 0 {
		return nil, fmt.Errorf("%w: page size must be positive, got %s", ErrInvalidOptions, o.PageSize)
	}
	if o.PageSize.Unit == "" {
		o.PageSize.Unit = UnitInch
	}

	switch o.PaperSource {
	case "":
		o.PaperSource = SourceAuto
	case SourceAuto, SourceFlatbed, SourceFeeder, SourceDuplex:
	default:
		return nil, fmt.Errorf("%w: unknown paper source %q", ErrInvalidOptions, o.PaperSource)
	}
	switch o.BitDepth {
	case "":
		o.BitDepth = DepthColor
	case DepthColor, DepthGrayscale, DepthBlackWhite:
	default:
		return nil, fmt.Errorf("%w: unknown bit depth %q", ErrInvalidOptions, o.BitDepth)
	}
	switch o.PageAlign {
	case "":
		o.PageAlign = AlignRight
	case AlignLeft, AlignCenter, AlignRight:
	default:
		return nil, fmt.Errorf("%w: unknown alignment %q", ErrInvalidOptions, o.PageAlign)
	}

	if o.Brightness < -1000 || o.Brightness > 1000 {
		return nil, fmt.Errorf("%w: brightness must be in [-1000, 1000], got %d", ErrInvalidOptions, o.Brightness)
	}
	if o.Contrast < -1000 || o.Contrast > 1000 {
		return nil, fmt.Errorf("%w: contrast must be in [-1000, 1000], got %d", ErrInvalidOptions, o.Contrast)
	}
	if o.ScaleRatio < 0 {
		return nil, fmt.Errorf("%w: scale ratio must be positive, got %d", ErrInvalidOptions, o.ScaleRatio)
	}
	if o.ScaleRatio == 0 {
		o.ScaleRatio = 1
	}

	// Only TWAIN data sources ship their own dialog.
	if o.Driver != DriverTwain {
		o.UseNativeUI = false
	}

	if o.BlankPageWhiteThreshold == 0 && o.BlankPageCoverageThreshold == 0 {
		o.BlankPageWhiteThreshold = DefaultBlankPageWhiteThreshold
		o.BlankPageCoverageThreshold = DefaultBlankPageCoverageThreshold
	}
	o.BlankPageWhiteThreshold = clamp(o.BlankPageWhiteThreshold, 0, 100)
	o.BlankPageCoverageThreshold = clamp(o.BlankPageCoverageThreshold, 0, 100)

	if o.Twain.Dsm == "" {
		o.Twain.Dsm = DsmNew
	}
	if o.Twain.TransferMode == "" {
		o.Twain.TransferMode = TransferMemory
	}
	if o.Escl.SearchTimeout <= 0 {
		o.Escl.SearchTimeout = DefaultEsclSearchTimeout
	}
	if o.Network.Host != "" && o.Network.Port == 0 {
		o.Network.Port = DefaultNetworkPort
	}
	return o, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
