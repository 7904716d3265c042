package acquire

import (
	"math"

	"github.com/mzyy94/scanbridge/internal/raster"
)

// Margins excluded from blank detection, as a fraction of each dimension.
// Scanner edges and feeder shadows land there.
const blankIgnoreEdge = 0.01

// Coverage above this fraction at a coverage threshold of 100 is never blank.
const maxBlankCoverage = 0.01

// coverage returns the fraction of pixels darker than the white threshold.
// whiteThreshold is 0..100 and maps onto luma 1..255.
func coverage(m *raster.Image, whiteThreshold int) float64 {
	total := m.Width * m.Height
	if total == 0 {
		return 0
	}
	cut := int(math.Round(1 + float64(whiteThreshold)/100*254))
	x0 := int(float64(m.Width) * blankIgnoreEdge)
	y0 := int(float64(m.Height) * blankIgnoreEdge)
	// the far edge is inclusive
	x1 := min(int(float64(m.Width)*(1-blankIgnoreEdge)), m.Width-1)
	y1 := min(int(float64(m.Height)*(1-blankIgnoreEdge)), m.Height-1)

	dark := 0
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			r, g, b := m.RGBAt(x, y)
			if int(raster.Luma(r, g, b)) < cut {
				dark++
			}
		}
	}
	return float64(dark) / float64(total)
}

// isBlank compares a coverage against coverageThreshold (0..100).
func isBlank(cov float64, coverageThreshold int) bool {
	return cov < float64(coverageThreshold)/100*maxBlankCoverage
}
