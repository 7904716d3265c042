package twain

import (
	"fmt"
	"slices"

	"github.com/mzyy94/scanbridge/internal/raster"
)

// copyRow copies the first columns pixels of src into dst, where dst starts
// at the buffer's x offset within the destination row.
type copyRow func(dst, src []byte, columns int)

type copyStrategy struct {
	bitsPerPixel int
	samples      int
	bitsPerSamp  int
	format       raster.PixelFormat
	copy         copyRow
}

// dstOffset is the byte offset of column x in a destination row.
func (s copyStrategy) dstOffset(x int) int {
	if s.format == raster.FormatBW1 {
		return x / 8
	}
	return x * 3
}

var copyStrategies = map[PixelType]copyStrategy{
	PixelRGB:        {24, 3, 8, raster.FormatRGB24, copyRGB},
	PixelBGR:        {24, 3, 8, raster.FormatRGB24, copyBGR},
	PixelGray:       {8, 1, 8, raster.FormatRGB24, copyGray},
	PixelBlackWhite: {1, 1, 1, raster.FormatBW1, copyBW},
}

func copyRGB(dst, src []byte, columns int) {
	copy(dst[:columns*3], src[:columns*3])
}

func copyBGR(dst, src []byte, columns int) {
	for x := range columns {
		i := x * 3
		dst[i], dst[i+1], dst[i+2] = src[i+2], src[i+1], src[i]
	}
}

func copyGray(dst, src []byte, columns int) {
	for x := range columns {
		v := src[x]
		dst[x*3], dst[x*3+1], dst[x*3+2] = v, v, v
	}
}

func copyBW(dst, src []byte, columns int) {
	n := columns / 8
	copy(dst[:n], src[:n])
	if rem := columns % 8; rem != 0 {
		mask := byte(0xFF << (8 - rem))
		dst[n] = dst[n]&^mask | src[n]&mask
	}
}

// strategyFor validates the declared sample layout and picks a copy routine.
func strategyFor(info *ImageInfo) (copyStrategy, error) {
	s, ok := copyStrategies[info.PixelType]
	if !ok {
		return copyStrategy{}, fmt.Errorf("unsupported pixel type %s", info.PixelType)
	}
	if info.BitsPerPixel != s.bitsPerPixel || info.SamplesPerPixel != s.samples {
		return copyStrategy{}, fmt.Errorf("unsupported %s layout: %d bits per pixel, %d samples",
			info.PixelType, info.BitsPerPixel, info.SamplesPerPixel)
	}
	if len(info.BitsPerSample) < s.samples ||
		slices.ContainsFunc(info.BitsPerSample[:s.samples], func(b int) bool { return b != s.bitsPerSamp }) {
		return copyStrategy{}, fmt.Errorf("unsupported %s bits per sample %v", info.PixelType, info.BitsPerSample)
	}
	return s, nil
}

// FormatFor returns the raster format pages of info are assembled into.
func FormatFor(info *ImageInfo) raster.PixelFormat {
	if info.BitsPerPixel == 1 {
		return raster.FormatBW1
	}
	return raster.FormatRGB24
}

// CopyBuffer copies buf into img at the buffer's offset. img must be large
// enough to hold the buffer.
func CopyBuffer(buf *MemoryBuffer, info *ImageInfo, img *raster.Image) error {
	s, err := strategyFor(info)
	if err != nil {
		return err
	}
	if img.Format != s.format {
		return fmt.Errorf("copy buffer: image format %s, want %s", img.Format, s.format)
	}
	if buf.Columns < 0 || buf.Rows < 0 || buf.XOffset < 0 || buf.YOffset < 0 {
		return fmt.Errorf("copy buffer: negative geometry %dx%d+%d+%d", buf.Columns, buf.Rows, buf.XOffset, buf.YOffset)
	}
	if len(buf.Data) < buf.BytesPerRow*buf.Rows {
		return fmt.Errorf("copy buffer: %d bytes, want %d", len(buf.Data), buf.BytesPerRow*buf.Rows)
	}
	if need := (buf.Columns*s.bitsPerPixel + 7) / 8; buf.BytesPerRow < need {
		return fmt.Errorf("copy buffer: %d bytes per row for %d columns, want at least %d", buf.BytesPerRow, buf.Columns, need)
	}
	if buf.XOffset+buf.Columns > img.Width || buf.YOffset+buf.Rows > img.Height {
		return fmt.Errorf("copy buffer: area %dx%d+%d+%d outside %dx%d image",
			buf.Columns, buf.Rows, buf.XOffset, buf.YOffset, img.Width, img.Height)
	}
	if s.format == raster.FormatBW1 && buf.XOffset%8 != 0 {
		return fmt.Errorf("copy buffer: 1-bit x offset %d is not byte aligned", buf.XOffset)
	}
	off := s.dstOffset(buf.XOffset)
	for y := range buf.Rows {
		src := buf.Data[y*buf.BytesPerRow : (y+1)*buf.BytesPerRow]
		dst := img.Pix[(buf.YOffset+y)*img.Stride+off : (buf.YOffset+y+1)*img.Stride]
		s.copy(dst, src, buf.Columns)
	}
	return nil
}
