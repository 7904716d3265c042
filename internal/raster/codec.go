package raster

import (
	"bufio"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// EncodeTIFF writes m as a deflate-compressed TIFF.
func EncodeTIFF(w io.Writer, m *Image) error {
	if err := tiff.Encode(w, m.ToImage(), &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("encode tiff: %w", err)
	}
	return nil
}

// EncodeJPEG writes m as a baseline JPEG. Bilevel images are expanded to gray.
func EncodeJPEG(w io.Writer, m *Image, quality int) error {
	src := m
	if m.Format == FormatBW1 {
		src = m.ToGray()
	}
	if err := jpeg.Encode(w, src.ToImage(), &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return nil
}

// Decode reads any registered image format (JPEG, PNG, TIFF, BMP).
func Decode(r io.Reader) (*Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return FromImage(img), nil
}

// DecodeTIFF reads a TIFF written by EncodeTIFF.
func DecodeTIFF(r io.Reader) (*Image, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode tiff: %w", err)
	}
	return FromImage(img), nil
}

// WriteFile saves m as TIFF at path.
func WriteFile(path string, m *Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := EncodeTIFF(bw, m); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile loads a TIFF saved by WriteFile.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeTIFF(bufio.NewReader(f))
}

// ToGray converts to Gray8. Gray8 images are cloned.
func (m *Image) ToGray() *Image {
	out := New(m.Width, m.Height, FormatGray8)
	out.XRes, out.YRes = m.XRes, m.YRes
	for y := range m.Height {
		for x := range m.Width {
			r, g, b := m.RGBAt(x, y)
			out.Pix[y*out.Stride+x] = Luma(r, g, b)
		}
	}
	return out
}

// ToBlackWhite thresholds the image into BW1. threshold is in [-1000, 1000];
// 0 splits at mid gray and higher values produce a darker result.
func (m *Image) ToBlackWhite(threshold int) *Image {
	out := New(m.Width, m.Height, FormatBW1)
	out.XRes, out.YRes = m.XRes, m.YRes
	cut := (threshold + 1000) * 255 / 2000
	for y := range m.Height {
		for x := range m.Width {
			r, g, b := m.RGBAt(x, y)
			if int(Luma(r, g, b)) > cut {
				out.Pix[y*out.Stride+x/8] |= 0x80 >> (x % 8)
			}
		}
	}
	return out
}

// Scale resamples m to the given size with bilinear filtering. Bilevel
// images are scaled in gray and thresholded again.
func (m *Image) Scale(width, height int) *Image {
	if width <= 0 || height <= 0 {
		return m.Clone()
	}
	fx := float64(width) / float64(m.Width)
	fy := float64(height) / float64(m.Height)
	switch m.Format {
	case FormatRGB24:
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), m.ToImage(), image.Rect(0, 0, m.Width, m.Height), draw.Src, nil)
		out := FromImage(dst)
		return out.SetResolution(m.XRes*fx, m.YRes*fy)
	default:
		gray := m
		if m.Format == FormatBW1 {
			gray = m.ToGray()
		}
		dst := image.NewGray(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), gray.ToImage(), image.Rect(0, 0, m.Width, m.Height), draw.Src, nil)
		out := FromImage(dst)
		out.SetResolution(m.XRes*fx, m.YRes*fy)
		if m.Format == FormatBW1 {
			return out.ToBlackWhite(0)
		}
		return out
	}
}
