package raster

import (
	"fmt"
	"image"
	"image/color"
)

// PixelFormat identifies the in-memory layout of an Image.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	// FormatBW1 packs 8 pixels per byte, MSB first. A set bit is white.
	FormatBW1
	FormatGray8
	// FormatRGB24 stores R, G, B bytes per pixel.
	FormatRGB24
)

func (f PixelFormat) String() string {
	switch f {
	case FormatBW1:
		return "bw1"
	case FormatGray8:
		return "gray8"
	case FormatRGB24:
		return "rgb24"
	default:
		return "unknown"
	}
}

// ParsePixelFormat is the inverse of PixelFormat.String.
func ParsePixelFormat(s string) PixelFormat {
	switch s {
	case "bw1":
		return FormatBW1
	case "gray8":
		return FormatGray8
	case "rgb24":
		return FormatRGB24
	default:
		return FormatUnknown
	}
}

// Image is the unified raster produced by every scan driver.
type Image struct {
	Format PixelFormat
	Width  int
	Height int
	Stride int
	Pix    []byte

	// Resolution in dots per inch. Zero when unknown.
	XRes float64
	YRes float64
}

// Stride returns the minimum bytes per row for the given format and width.
func Stride(f PixelFormat, width int) int {
	switch f {
	case FormatBW1:
		return (width + 7) / 8
	case FormatGray8:
		return width
	case FormatRGB24:
		return width * 3
	default:
		return 0
	}
}

// New allocates a zeroed image.
func New(width, height int, f PixelFormat) *Image {
	stride := Stride(f, width)
	return &Image{
		Format: f,
		Width:  width,
		Height: height,
		Stride: stride,
		Pix:    make([]byte, stride*height),
	}
}

// SetResolution sets both resolutions and returns the image.
func (m *Image) SetResolution(x, y float64) *Image {
	m.XRes, m.YRes = x, y
	return m
}

// Row returns the bytes of row y.
func (m *Image) Row(y int) []byte {
	off := y * m.Stride
	return m.Pix[off : off+Stride(m.Format, m.Width)]
}

// RGBAt returns the color of a pixel, expanding gray and bilevel formats.
func (m *Image) RGBAt(x, y int) (r, g, b uint8) {
	switch m.Format {
	case FormatRGB24:
		i := y*m.Stride + x*3
		return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
	case FormatGray8:
		v := m.Pix[y*m.Stride+x]
		return v, v, v
	case FormatBW1:
		if m.Pix[y*m.Stride+x/8]&(0x80>>(x%8)) != 0 {
			return 0xFF, 0xFF, 0xFF
		}
		return 0, 0, 0
	}
	return 0, 0, 0
}

// SetRGB writes a pixel. Gray and bilevel formats store the luma.
func (m *Image) SetRGB(x, y int, r, g, b uint8) {
	switch m.Format {
	case FormatRGB24:
		i := y*m.Stride + x*3
		m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
	case FormatGray8:
		m.Pix[y*m.Stride+x] = Luma(r, g, b)
	case FormatBW1:
		i := y*m.Stride + x/8
		mask := byte(0x80 >> (x % 8))
		if Luma(r, g, b) >= 128 {
			m.Pix[i] |= mask
		} else {
			m.Pix[i] &^= mask
		}
	}
}

// Luma is the Rec. 601 luminance of an RGB triple.
func Luma(r, g, b uint8) uint8 {
	return uint8((int(r)*299 + int(g)*587 + int(b)*114 + 500) / 1000)
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	c := *m
	c.Pix = append([]byte(nil), m.Pix...)
	return &c
}

// Resize returns a copy with the given dimensions, keeping the top-left
// region. Pixels outside the source are zero.
func (m *Image) Resize(width, height int) *Image {
	out := New(width, height, m.Format)
	out.XRes, out.YRes = m.XRes, m.YRes
	rows := min(height, m.Height)
	n := min(Stride(m.Format, width), Stride(m.Format, m.Width))
	for y := range rows {
		copy(out.Pix[y*out.Stride:y*out.Stride+n], m.Pix[y*m.Stride:y*m.Stride+n])
	}
	if m.Format == FormatBW1 && width%8 != 0 && width < m.Width {
		// clear the bits past the new width in the last byte
		mask := byte(0xFF << (8 - width%8))
		for y := range rows {
			out.Pix[y*out.Stride+n-1] &= mask
		}
	}
	return out
}

// CopyChannel copies a single-channel plane (one byte per pixel, rows of
// srcStride bytes) into channel ch (0=R, 1=G, 2=B) of an RGB24 image.
func (m *Image) CopyChannel(src []byte, srcStride, ch int) error {
	if m.Format != FormatRGB24 {
		return fmt.Errorf("copy channel: image format %s is not rgb24", m.Format)
	}
	if ch < 0 || ch > 2 {
		return fmt.Errorf("copy channel: invalid channel %d", ch)
	}
	for y := range m.Height {
		if y*srcStride+m.Width > len(src) {
			break
		}
		row := src[y*srcStride:]
		dst := m.Pix[y*m.Stride:]
		for x := range m.Width {
			dst[x*3+ch] = row[x]
		}
	}
	return nil
}

// ToImage converts to a standard library image for encoding.
func (m *Image) ToImage() image.Image {
	rect := image.Rect(0, 0, m.Width, m.Height)
	switch m.Format {
	case FormatRGB24:
		out := image.NewNRGBA(rect)
		for y := range m.Height {
			src := m.Pix[y*m.Stride:]
			dst := out.Pix[y*out.Stride:]
			for x := range m.Width {
				dst[x*4+0] = src[x*3+0]
				dst[x*4+1] = src[x*3+1]
				dst[x*4+2] = src[x*3+2]
				dst[x*4+3] = 0xFF
			}
		}
		return out
	case FormatGray8:
		out := image.NewGray(rect)
		for y := range m.Height {
			copy(out.Pix[y*out.Stride:y*out.Stride+m.Width], m.Pix[y*m.Stride:])
		}
		return out
	default:
		out := image.NewPaletted(rect, color.Palette{color.Black, color.White})
		for y := range m.Height {
			for x := range m.Width {
				if m.Pix[y*m.Stride+x/8]&(0x80>>(x%8)) != 0 {
					out.Pix[y*out.Stride+x] = 1
				}
			}
		}
		return out
	}
}

// FromImage converts a decoded image. Gray images stay gray, two-color
// black/white palettes become bilevel, everything else becomes RGB24.
func FromImage(img image.Image) *Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch src := img.(type) {
	case *image.Gray:
		out := New(w, h, FormatGray8)
		for y := range h {
			copy(out.Pix[y*out.Stride:], src.Pix[y*src.Stride:y*src.Stride+w])
		}
		return out
	case *image.Paletted:
		if isBilevel(src.Palette) {
			out := New(w, h, FormatBW1)
			for y := range h {
				for x := range w {
					r, g, bb, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
					if r > 0x7FFF && g > 0x7FFF && bb > 0x7FFF {
						out.Pix[y*out.Stride+x/8] |= 0x80 >> (x % 8)
					}
				}
			}
			return out
		}
	}
	out := New(w, h, FormatRGB24)
	for y := range h {
		for x := range w {
			r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.SetRGB(x, y, uint8(r>>8), uint8(g>>8), uint8(bb>>8))
		}
	}
	return out
}

// isBilevel reports whether every palette entry is pure black or white.
// TIFF decoding pads palettes to 256 entries.
func isBilevel(p color.Palette) bool {
	if len(p) < 2 {
		return false
	}
	for _, c := range p {
		r, g, b, _ := c.RGBA()
		if !(r == g && g == b && (r == 0 || r == 0xFFFF)) {
			return false
		}
	}
	return true
}
