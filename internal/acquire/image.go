package acquire

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

// ProcessedImage is one scanned page after post-processing. The raster is
// left as scanned; Transforms describe adjustments a viewer or exporter
// applies on top (see Render).
type ProcessedImage struct {
	Image       *raster.Image
	PageNumber  int
	BitDepth    scan.BitDepth
	Annotations Annotations
	Transforms  []Transform
}

// Annotations are the results of page analysis.
type Annotations struct {
	Blank bool
	// Coverage is the fraction of non-white pixels used for blank detection.
	Coverage  float64
	PatchCode PatchCode
	// BitDepthCorrected is set when the driver delivered a different color
	// mode than requested and the page was converted.
	BitDepthCorrected bool
	// DeskewAngle is the detected skew in degrees, positive when lines fall
	// to the right. Zero unless auto-deskew ran.
	DeskewAngle float64
}

// Render returns a copy of the image with all transforms applied.
func (p *ProcessedImage) Render() *raster.Image {
	out := p.Image.Clone()
	for _, t := range p.Transforms {
		out = t.Apply(out)
	}
	return out
}

// Transform is a reversible adjustment recorded on a ProcessedImage.
// Implementations are Rotation, Brightness and Contrast.
type Transform interface {
	Apply(m *raster.Image) *raster.Image
}

// Rotation turns the page clockwise by Degrees around its center.
// Multiples of 90 are exact; other angles keep the page size and fill
// uncovered corners with white.
type Rotation struct {
	Degrees float64
}

// Brightness shifts every sample by Value/1000 of full scale.
type Brightness struct {
	Value int
}

// Contrast stretches (positive) or flattens (negative) samples around mid gray.
type Contrast struct {
	Value int
}

func (r Rotation) Apply(m *raster.Image) *raster.Image {
	deg := math.Mod(r.Degrees, 360)
	if deg < 0 {
		deg += 360
	}
	switch deg {
	case 0:
		return m
	case 90, 180, 270:
		return rotateRight(m, int(deg)/90)
	}
	return rotateFree(m, deg)
}

// rotateRight rotates by quarter turns clockwise.
func rotateRight(m *raster.Image, turns int) *raster.Image {
	w, h := m.Width, m.Height
	xres, yres := m.XRes, m.YRes
	if turns%2 == 1 {
		w, h = h, w
		xres, yres = yres, xres
	}
	out := raster.New(w, h, m.Format).SetResolution(xres, yres)
	for y := range m.Height {
		for x := range m.Width {
			r, g, b := m.RGBAt(x, y)
			switch turns {
			case 1:
				out.SetRGB(m.Height-1-y, x, r, g, b)
			case 2:
				out.SetRGB(m.Width-1-x, m.Height-1-y, r, g, b)
			case 3:
				out.SetRGB(y, m.Width-1-x, r, g, b)
			}
		}
	}
	return out
}

func rotateFree(m *raster.Image, deg float64) *raster.Image {
	src := m
	if m.Format == raster.FormatBW1 {
		src = m.ToGray()
	}
	bounds := image.Rect(0, 0, m.Width, m.Height)
	var dst draw.Image
	if src.Format == raster.FormatGray8 {
		dst = image.NewGray(bounds)
	} else {
		dst = image.NewNRGBA(bounds)
	}
	draw.Draw(dst, bounds, image.White, image.Point{}, draw.Src)

	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	cx, cy := float64(m.Width)/2, float64(m.Height)/2
	s2d := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	draw.BiLinear.Transform(dst, s2d, src.ToImage(), bounds, draw.Over, nil)

	out := raster.FromImage(dst).SetResolution(m.XRes, m.YRes)
	if m.Format == raster.FormatBW1 {
		return out.ToBlackWhite(0)
	}
	return out
}

func (b Brightness) Apply(m *raster.Image) *raster.Image {
	if b.Value == 0 || m.Format == raster.FormatBW1 {
		return m
	}
	delta := b.Value * 255 / 1000
	return mapSamples(m, func(v int) int { return v + delta })
}

func (c Contrast) Apply(m *raster.Image) *raster.Image {
	if c.Value == 0 || m.Format == raster.FormatBW1 {
		return m
	}
	f := 1 + float64(c.Value)/1000
	if c.Value > 0 {
		f = 1 / (1 - float64(c.Value)/1001)
	}
	return mapSamples(m, func(v int) int {
		return int(math.Round(float64(v-128)*f)) + 128
	})
}

// mapSamples applies fn to every 8-bit sample through a lookup table.
func mapSamples(m *raster.Image, fn func(int) int) *raster.Image {
	var lut [256]byte
	for i := range lut {
		lut[i] = byte(max(0, min(255, fn(i))))
	}
	out := m.Clone()
	for y := range out.Height {
		row := out.Row(y)
		for i, v := range row {
			row[i] = lut[v]
		}
	}
	return out
}
