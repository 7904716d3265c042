package escl

import (
	"math"
	"slices"

	mfpescl "github.com/OpenPrinting/go-mfp/proto/escl"
	"github.com/OpenPrinting/go-mfp/util/optional"

	"github.com/mzyy94/scanbridge/internal/scan"
)

// threeHundredths is the eSCL region unit.
const threeHundredths = 300

var protocolVersion = mfpescl.MakeVersion(2, 0)

// platenCaps returns the flatbed capabilities, nil when there is no flatbed.
func platenCaps(caps *mfpescl.ScannerCapabilities) *mfpescl.InputSourceCaps {
	if caps.Platen == nil {
		return nil
	}
	return caps.Platen.PlatenInputCaps
}

// feederCaps returns the feeder capabilities for simplex or duplex
// scanning. Devices that list duplex as an ADF option without separate
// duplex capabilities scan duplex within the simplex limits.
func feederCaps(caps *mfpescl.ScannerCapabilities, duplex bool) *mfpescl.InputSourceCaps {
	if caps.ADF == nil {
		return nil
	}
	adf := caps.ADF
	if !duplex {
		return adf.ADFSimplexInputCaps
	}
	if adf.ADFDuplexInputCaps != nil {
		return adf.ADFDuplexInputCaps
	}
	if slices.Contains(adf.ADFOptions, mfpescl.Duplex) {
		return adf.ADFSimplexInputCaps
	}
	return nil
}

// adfError classifies a feeder state reported after a job produced no
// documents. Nil means the state carries no error.
func adfError(state mfpescl.ADFState) error {
	switch state {
	case mfpescl.ScannerAdfEmpty:
		return scan.NewError(scan.KindNoPages, "the feeder is empty")
	case mfpescl.ScannerAdfJam, mfpescl.ScannerAdfMispick, mfpescl.ScannerAdfMultipickDetected:
		return scan.NewError(scan.KindPaperJam, "feeder state %s", state)
	case mfpescl.ScannerAdfHatchOpen:
		return scan.ErrCoverOpen
	}
	return nil
}

func colorMode(d scan.BitDepth) mfpescl.ColorMode {
	switch d {
	case scan.DepthBlackWhite:
		return mfpescl.BlackAndWhite1
	case scan.DepthGrayscale:
		return mfpescl.Grayscale8
	}
	return mfpescl.RGB24
}

func intent(d scan.BitDepth) mfpescl.Intent {
	switch d {
	case scan.DepthColor:
		return mfpescl.Photo
	case scan.DepthBlackWhite:
		return mfpescl.Document
	}
	return mfpescl.TextAndGraphic
}

// resolution picks the resolution closest to dpi among those the input
// source lists. Ranges clamp dpi; with no information dpi is kept.
func resolution(in *mfpescl.InputSourceCaps, dpi int) int {
	if in == nil {
		return dpi
	}
	var discrete []int
	best, found := dpi, false
	for _, prof := range in.SettingProfiles {
		for _, sr := range prof.SupportedResolutions {
			for _, r := range sr.DiscreteResolutions {
				discrete = append(discrete, r.XResolution)
			}
			if rr := sr.ResolutionRange; rr != nil && !found {
				best, found = min(max(dpi, rr.XResolutionRange.Min), rr.XResolutionRange.Max), true
			}
		}
	}
	if len(discrete) > 0 {
		return closestResolution(discrete, dpi)
	}
	return best
}

// closestResolution picks the supported resolution nearest to dpi, or dpi
// itself when the device lists none.
func closestResolution(supported []int, dpi int) int {
	best := dpi
	for i, r := range supported {
		if i == 0 || abs(r-dpi) < abs(best-dpi) {
			best = r
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// region sizes the scan area from the page size, positioned on a bed of
// in.MaxWidth by the page alignment.
func region(opts *scan.Options, in *mfpescl.InputSourceCaps) mfpescl.ScanRegion {
	r := mfpescl.ScanRegion{ContentRegionUnits: mfpescl.ThreeHundredthsOfInches}
	page := scan.PageLetter
	if opts.PageSize != nil {
		page = *opts.PageSize
	}
	r.Width = int(math.Round(page.WidthInches() * threeHundredths))
	r.Height = int(math.Round(page.HeightInches() * threeHundredths))
	if in == nil || in.MaxWidth <= 0 {
		return r
	}
	r.Width = min(max(r.Width, in.MinWidth), in.MaxWidth)
	if in.MaxHeight > 0 {
		r.Height = min(max(r.Height, in.MinHeight), in.MaxHeight)
	}
	switch opts.PageAlign {
	case scan.AlignLeft:
		r.XOffset = in.MaxWidth - r.Width
	case scan.AlignCenter:
		r.XOffset = (in.MaxWidth - r.Width) / 2
	}
	return r
}

// scanSettings builds the job request for one input source.
func scanSettings(opts *scan.Options, source mfpescl.InputSource, duplex bool, in *mfpescl.InputSourceCaps) mfpescl.ScanSettings {
	format := "image/jpeg"
	if opts.BitDepth == scan.DepthBlackWhite {
		// JPEG cannot carry 1-bit data
		format = "image/png"
	}
	dpi := resolution(in, opts.Dpi)
	s := mfpescl.ScanSettings{
		Version:           protocolVersion,
		Intent:            optional.New(intent(opts.BitDepth)),
		ScanRegions:       []mfpescl.ScanRegion{region(opts, in)},
		DocumentFormat:    optional.New(format),
		DocumentFormatExt: optional.New(format),
		InputSource:       optional.New(source),
		XResolution:       optional.New(dpi),
		YResolution:       optional.New(dpi),
		ColorMode:         optional.New(colorMode(opts.BitDepth)),
	}
	if source == mfpescl.InputFeeder {
		s.Duplex = optional.New(duplex)
	}
	return s
}
