package sane

import (
	"slices"

	"github.com/mzyy94/scanbridge/internal/scan"
)

// OptionNames holds the option names a driver writes. Devices opened
// through libsane use bare names; the scanimage frontend prefixes them and
// exposes the scan area as a position plus an extent.
type OptionNames struct {
	Source      string
	Mode        string
	Resolution  string
	XResolution string
	YResolution string
	AdfModes    []string

	Left   string
	Top    string
	Right  string
	Bottom string
	// Extent means Right and Bottom hold the width and height of the area
	// rather than its bottom-right corner.
	Extent bool
}

var NativeNames = OptionNames{
	Source:      "source",
	Mode:        "mode",
	Resolution:  "resolution",
	XResolution: "x-resolution",
	YResolution: "y-resolution",
	AdfModes:    []string{"adf-mode", "adf_mode"},
	Left:        "tl-x",
	Top:         "tl-y",
	Right:       "br-x",
	Bottom:      "br-y",
}

var CLINames = OptionNames{
	Source:      "--source",
	Mode:        "--mode",
	Resolution:  "--resolution",
	XResolution: "--x-resolution",
	YResolution: "--y-resolution",
	AdfModes:    []string{"--adf-mode", "--adf_mode"},
	Left:        "-l",
	Top:         "-t",
	Right:       "-x",
	Bottom:      "-y",
	Extent:      true,
}

const mmPerInch = 25.4

// AreaController reads and writes the scan area in millimetres.
type AreaController struct {
	c     *OptionController
	names OptionNames
}

func NewAreaController(c *OptionController, names OptionNames) *AreaController {
	return &AreaController{c: c, names: names}
}

func (a *AreaController) areaOptions() []*Option {
	var opts []*Option
	for _, n := range []string{a.names.Left, a.names.Top, a.names.Right, a.names.Bottom} {
		opt, ok := a.c.TryGet(n)
		if !ok {
			return nil
		}
		opts = append(opts, opt)
	}
	return opts
}

// CanSetArea reports whether all four area options exist with numeric
// bounds, and pixel geometry can be converted with a known resolution.
func (a *AreaController) CanSetArea() bool {
	opts := a.areaOptions()
	if opts == nil {
		return false
	}
	for _, opt := range opts {
		if opt.Type != TypeNumeric {
			return false
		}
		if opt.ConstraintType != ConstraintRange && !(opt.ConstraintType == ConstraintWordList && len(opt.WordList) > 0) {
			return false
		}
		if opt.Unit == UnitPixel {
			if _, ok := a.resolution(false); !ok {
				return false
			}
		}
	}
	return true
}

func (a *AreaController) resolution(vertical bool) (float64, bool) {
	if v, ok := a.c.TryGetNumeric(a.names.Resolution); ok && v > 0 {
		return v, true
	}
	name := a.names.XResolution
	if vertical {
		name = a.names.YResolution
	}
	if v, ok := a.c.TryGetNumeric(name); ok && v > 0 {
		return v, true
	}
	return 0, false
}

func (a *AreaController) toMM(opt *Option, v float64, vertical bool) float64 {
	if opt.Unit != UnitPixel {
		return v
	}
	res, _ := a.resolution(vertical)
	return v / res * mmPerInch
}

func (a *AreaController) fromMM(opt *Option, mm float64, vertical bool) float64 {
	if opt.Unit != UnitPixel {
		return mm
	}
	res, _ := a.resolution(vertical)
	return mm / mmPerInch * res
}

func bounds(opt *Option) (lo, hi float64) {
	if opt.ConstraintType == ConstraintRange {
		return opt.Range.Min, opt.Range.Max
	}
	return slices.Min(opt.WordList), slices.Max(opt.WordList)
}

// Bounds returns the scannable area in millimetres. Only valid when
// CanSetArea is true.
func (a *AreaController) Bounds() (minX, minY, maxX, maxY float64) {
	opts := a.areaOptions()
	left, top, right, bottom := opts[0], opts[1], opts[2], opts[3]

	lx, _ := bounds(left)
	ty, _ := bounds(top)
	_, rx := bounds(right)
	_, by := bounds(bottom)
	minX = a.toMM(left, lx, false)
	minY = a.toMM(top, ty, true)
	maxX = a.toMM(right, rx, false)
	maxY = a.toMM(bottom, by, true)
	if a.names.Extent {
		maxX += minX
		maxY += minY
	}
	return minX, minY, maxX, maxY
}

// SetArea writes the area (x1,y1)-(x2,y2) given in millimetres.
func (a *AreaController) SetArea(x1, y1, x2, y2 float64) {
	opts := a.areaOptions()
	if opts == nil {
		return
	}
	left, top, right, bottom := opts[0], opts[1], opts[2], opts[3]
	if a.names.Extent {
		x2 -= x1
		y2 -= y1
	}
	a.c.TrySetNumeric(left.Name, a.fromMM(left, x1, false))
	a.c.TrySetNumeric(top.Name, a.fromMM(top, y1, true))
	a.c.TrySetNumeric(right.Name, a.fromMM(right, x2, false))
	a.c.TrySetNumeric(bottom.Name, a.fromMM(bottom, y2, true))
}

// AlignOffset returns how far right to shift an area narrower than the bed
// by leftover millimetres.
func AlignOffset(align scan.HorizontalAlign, leftover float64) float64 {
	switch align {
	case scan.AlignLeft:
		return leftover
	case scan.AlignCenter:
		return leftover / 2
	default:
		return 0
	}
}
