package twain

import (
	"bytes"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

type rgb struct{ r, g, b uint8 }

var (
	red       = rgb{0xFF, 0, 0}
	green     = rgb{0, 0xFF, 0}
	blue      = rgb{0, 0, 0xFF}
	white     = rgb{0xFF, 0xFF, 0xFF}
	black     = rgb{0, 0, 0}
	gray      = rgb{0x80, 0x80, 0x80}
	lightGray = rgb{0xD3, 0xD3, 0xD3}
)

func colorInfo(w, h int) *ImageInfo {
	return &ImageInfo{Width: w, Height: h, PixelType: PixelRGB, BitsPerPixel: 24,
		BitsPerSample: []int{8, 8, 8}, SamplesPerPixel: 3, XRes: 300, YRes: 300}
}

func grayInfo(w, h int) *ImageInfo {
	return &ImageInfo{Width: w, Height: h, PixelType: PixelGray, BitsPerPixel: 8,
		BitsPerSample: []int{8, 0, 0}, SamplesPerPixel: 1}
}

func bwInfo(w, h int) *ImageInfo {
	return &ImageInfo{Width: w, Height: h, PixelType: PixelBlackWhite, BitsPerPixel: 1,
		BitsPerSample: []int{1, 0, 0}, SamplesPerPixel: 1}
}

// fullBuffer is a 2x2 page: red green / blue white, padded to 8 bytes a row.
func fullBuffer() *MemoryBuffer {
	return &MemoryBuffer{
		Data: []byte{
			0xFF, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x00, 0x00,
			0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00,
		},
		Columns: 2, Rows: 2, BytesPerRow: 8,
	}
}

func topHalf() *MemoryBuffer {
	return &MemoryBuffer{Data: []byte{0xFF, 0x00, 0x00, 0x00, 0xFF, 0x00, 0x00, 0x00},
		Columns: 2, Rows: 1, BytesPerRow: 8}
}

func bottomHalf() *MemoryBuffer {
	return &MemoryBuffer{Data: []byte{0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00},
		Columns: 2, Rows: 1, BytesPerRow: 8, YOffset: 1}
}

func grayBuffer() *MemoryBuffer {
	return &MemoryBuffer{
		Data: []byte{
			0x00, 0x00, 0x00, 0x80, 0x80, 0x80, 0x00, 0x00,
			0xD3, 0xD3, 0xD3, 0xFF, 0xFF, 0xFF, 0x00, 0x00,
		},
		Columns: 2, Rows: 2, BytesPerRow: 8,
	}
}

func assertPixels(t *testing.T, img *raster.Image, want map[[2]int]rgb) {
	t.Helper()
	for p, c := range want {
		r, g, b := img.RGBAt(p[0], p[1])
		if (rgb{r, g, b}) != c {
			t.Errorf("pixel(%d,%d) = %v, want %v", p[0], p[1], rgb{r, g, b}, c)
		}
	}
}

var redGreenBlueWhite = map[[2]int]rgb{{0, 0}: red, {1, 0}: green, {0, 1}: blue, {1, 1}: white}

func newTestProcessor() (*ImageProcessor, *[]*raster.Image) {
	var images []*raster.Image
	est := NewProgressEstimator(TimingKey{}, scan.NopEvents, NewMemoryTimingCache())
	est.delays = nil
	p := NewImageProcessor(est, func(img *raster.Image) { images = append(images, img) })
	return p, &images
}

func TestImageProcessor_SingleBuffer(t *testing.T) {
	p, images := newTestProcessor()
	p.PageStart(colorInfo(2, 2))
	if err := p.MemoryBufferTransferred(fullBuffer()); err != nil {
		t.Fatal(err)
	}
	p.Flush()
	if len(*images) != 1 {
		t.Fatalf("images = %d, want 1", len(*images))
	}
	img := (*images)[0]
	assertPixels(t, img, redGreenBlueWhite)
	if img.XRes != 300 {
		t.Errorf("XRes = %g, want 300", img.XRes)
	}
}

func TestImageProcessor_TwoBuffers(t *testing.T) {
	p, images := newTestProcessor()
	p.PageStart(colorInfo(2, 2))
	for _, buf := range []*MemoryBuffer{topHalf(), bottomHalf()} {
		if err := p.MemoryBufferTransferred(buf); err != nil {
			t.Fatal(err)
		}
	}
	p.Flush()
	if len(*images) != 1 {
		t.Fatalf("images = %d, want 1", len(*images))
	}
	assertPixels(t, (*images)[0], redGreenBlueWhite)
}

func TestImageProcessor_MultipleImages(t *testing.T) {
	p, images := newTestProcessor()
	p.PageStart(colorInfo(2, 2))
	p.MemoryBufferTransferred(fullBuffer())
	p.PageStart(colorInfo(2, 2))
	p.MemoryBufferTransferred(grayBuffer())
	p.Flush()
	if len(*images) != 2 {
		t.Fatalf("images = %d, want 2", len(*images))
	}
	assertPixels(t, (*images)[0], redGreenBlueWhite)
	assertPixels(t, (*images)[1], map[[2]int]rgb{{0, 0}: black, {1, 0}: gray, {0, 1}: lightGray, {1, 1}: white})
}

func TestImageProcessor_WrongSize(t *testing.T) {
	tests := []struct {
		name string
		info *ImageInfo
	}{
		{"declared too big", colorInfo(3, 3)},
		{"declared too small", colorInfo(1, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, images := newTestProcessor()
			p.PageStart(tt.info)
			if err := p.MemoryBufferTransferred(fullBuffer()); err != nil {
				t.Fatal(err)
			}
			p.Flush()
			if len(*images) != 1 {
				t.Fatalf("images = %d, want 1", len(*images))
			}
			img := (*images)[0]
			if img.Width != 2 || img.Height != 2 {
				t.Errorf("size = %dx%d, want 2x2", img.Width, img.Height)
			}
			assertPixels(t, img, redGreenBlueWhite)
		})
	}
}

func TestImageProcessor_Close(t *testing.T) {
	tests := []struct {
		name    string
		buffers []*MemoryBuffer
		want    int
	}{
		{"full page", []*MemoryBuffer{fullBuffer()}, 1},
		{"two halves", []*MemoryBuffer{topHalf(), bottomHalf()}, 1},
		{"half page", []*MemoryBuffer{topHalf()}, 0},
		{"no data", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, images := newTestProcessor()
			p.PageStart(colorInfo(2, 2))
			for _, buf := range tt.buffers {
				if err := p.MemoryBufferTransferred(buf); err != nil {
					t.Fatal(err)
				}
			}
			p.Close()
			if len(*images) != tt.want {
				t.Errorf("images = %d, want %d", len(*images), tt.want)
			}
		})
	}
}

func TestImageProcessor_FlushEmpty(t *testing.T) {
	p, images := newTestProcessor()
	p.PageStart(colorInfo(2, 2))
	p.Flush()
	p.PageStart(colorInfo(2, 2))
	p.Close()
	if len(*images) != 0 {
		t.Errorf("images = %d, want 0", len(*images))
	}
}

func TestImageProcessor_BufferBeforePageStart(t *testing.T) {
	p, _ := newTestProcessor()
	if err := p.MemoryBufferTransferred(fullBuffer()); err == nil {
		t.Error("MemoryBufferTransferred before PageStart succeeded")
	}
}

func TestImageProcessor_Native(t *testing.T) {
	src := raster.New(3, 2, raster.FormatRGB24)
	src.SetRGB(1, 1, 10, 20, 30)
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, src.ToImage()); err != nil {
		t.Fatal(err)
	}
	p, images := newTestProcessor()
	p.PageStart(nil)
	if err := p.NativeImageTransferred(buf.Bytes()); err != nil {
		t.Fatalf("NativeImageTransferred: %v", err)
	}
	p.Close()
	if len(*images) != 1 {
		t.Fatalf("images = %d, want 1", len(*images))
	}
	img := (*images)[0]
	if img.Width != 3 || img.Height != 2 {
		t.Errorf("size = %dx%d, want 3x2", img.Width, img.Height)
	}
	if r, g, b := img.RGBAt(1, 1); r != 10 || g != 20 || b != 30 {
		t.Errorf("pixel(1,1) = %d,%d,%d, want 10,20,30", r, g, b)
	}
}
