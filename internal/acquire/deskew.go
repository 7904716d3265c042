package acquire

import (
	"math"

	"github.com/mzyy94/scanbridge/internal/raster"
)

const (
	maxSkew      = 10.0 // degrees
	skewStep     = 0.1
	skewMaxSide  = 1000 // pages are downscaled to this before analysis
	minSkewInk   = 200  // dark pixels needed for an estimate
	minDeskewing = 0.15
)

// estimateSkew returns the angle in degrees at which text lines fall to the
// right. It maximizes the variance of row projections of dark pixels over
// sheared coordinates.
func estimateSkew(m *raster.Image) float64 {
	if m.Width == 0 || m.Height == 0 {
		return 0
	}
	gray := m
	if longest := max(m.Width, m.Height); longest > skewMaxSide {
		gray = m.Scale(m.Width*skewMaxSide/longest, m.Height*skewMaxSide/longest)
	}

	type point struct{ x, y float64 }
	var ink []point
	for y := range gray.Height {
		for x := range gray.Width {
			r, g, b := gray.RGBAt(x, y)
			if raster.Luma(r, g, b) < 128 {
				ink = append(ink, point{float64(x), float64(y)})
			}
		}
	}
	if len(ink) < minSkewInk {
		return 0
	}

	// bins must cover y - x*tan(angle) for every angle tried
	pad := int(math.Ceil(float64(gray.Width)*math.Tan(maxSkew*math.Pi/180))) + 1
	bins := make([]int, gray.Height+2*pad)
	best, bestScore := 0.0, -1.0
	steps := int(math.Round(maxSkew / skewStep))
	for i := -steps; i <= steps; i++ {
		angle := float64(i) * skewStep
		tan := math.Tan(angle * math.Pi / 180)
		clear(bins)
		for _, p := range ink {
			bins[int(math.Round(p.y-p.x*tan))+pad]++
		}
		score := 0.0
		for _, n := range bins {
			score += float64(n) * float64(n)
		}
		if score > bestScore || (score == bestScore && math.Abs(angle) < math.Abs(best)) {
			best, bestScore = angle, score
		}
	}
	return best
}
