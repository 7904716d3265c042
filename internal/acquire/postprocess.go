package acquire

import (
	"log/slog"
	"math"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

// postProcess corrects and analyzes one page. It returns nil when the page
// is blank and blank pages are excluded.
func postProcess(img *raster.Image, page int, opts *scan.Options) *ProcessedImage {
	var ann Annotations
	if !opts.UseNativeUI {
		if opts.CropToPageSize || opts.StretchToPageSize {
			img = fitPage(img, opts)
		}
		if opts.ScaleRatio > 1 {
			img = img.Scale(max(1, img.Width/opts.ScaleRatio), max(1, img.Height/opts.ScaleRatio))
		}
		img, ann.BitDepthCorrected = correctBitDepth(img, opts)
	}

	ann.Coverage = coverage(img, opts.BlankPageWhiteThreshold)
	ann.Blank = isBlank(ann.Coverage, opts.BlankPageCoverageThreshold)
	if ann.Blank && opts.ExcludeBlankPages {
		slog.Debug("excluding blank page", "page", page, "coverage", ann.Coverage)
		return nil
	}
	if opts.DetectPatchCodes {
		ann.PatchCode = detectPatchCode(img)
	}

	p := &ProcessedImage{Image: img, PageNumber: page, BitDepth: opts.BitDepth}
	if opts.UseNativeUI {
		p.BitDepth = scan.DepthColor
	}

	// TWAIN data sources apply brightness and contrast themselves
	if (!opts.UseNativeUI && opts.BrightnessContrastAfterScan) || opts.Driver != scan.DriverTwain {
		if opts.Brightness != 0 {
			p.Transforms = append(p.Transforms, Brightness{Value: opts.Brightness})
		}
		if opts.Contrast != 0 {
			p.Transforms = append(p.Transforms, Contrast{Value: opts.Contrast})
		}
	}
	// the back side of each duplex sheet comes out upside down
	if opts.FlipDuplexedPages && opts.PaperSource == scan.SourceDuplex && page%2 == 0 {
		p.Transforms = append(p.Transforms, Rotation{Degrees: 180})
	}
	if opts.AutoDeskew {
		ann.DeskewAngle = estimateSkew(img)
		if math.Abs(ann.DeskewAngle) >= minDeskewing {
			p.Transforms = append(p.Transforms, Rotation{Degrees: -ann.DeskewAngle})
		}
	}
	p.Annotations = ann
	return p
}

// fitPage crops or re-labels the image to the requested page size. Pages
// scanned in the other orientation are matched against the rotated size.
func fitPage(img *raster.Image, opts *scan.Options) *raster.Image {
	if img.XRes <= 0 || img.YRes <= 0 {
		slog.Debug("skipping page size fit without resolution")
		return img
	}
	pw, ph := opts.PageSize.WidthInches(), opts.PageSize.HeightInches()
	w, h := float64(img.Width)/img.XRes, float64(img.Height)/img.YRes
	if (pw > ph) != (w > h) {
		pw, ph = ph, pw
	}
	if opts.CropToPageSize {
		cw := min(img.Width, int(math.Round(pw*img.XRes)))
		ch := min(img.Height, int(math.Round(ph*img.YRes)))
		if cw == img.Width && ch == img.Height {
			return img
		}
		return img.Resize(cw, ch)
	}
	return img.SetResolution(float64(img.Width)/pw, float64(img.Height)/ph)
}

// correctBitDepth converts images the driver delivered in a richer color
// mode than requested.
func correctBitDepth(img *raster.Image, opts *scan.Options) (*raster.Image, bool) {
	switch {
	case opts.BitDepth == scan.DepthBlackWhite && img.Format != raster.FormatBW1:
		return img.ToBlackWhite(-opts.Brightness), true
	case opts.BitDepth == scan.DepthGrayscale && img.Format == raster.FormatRGB24:
		return img.ToGray(), true
	}
	return img, false
}
