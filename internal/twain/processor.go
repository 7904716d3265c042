package twain

import (
	"bytes"
	"errors"
	"log/slog"

	"github.com/mzyy94/scanbridge/internal/raster"
)

// ImageProcessor assembles the pages of one scan from transfer events and
// hands each finished page to the callback.
//
// Sources do not always send the geometry they declared. The emitted image
// always has the size of the area actually written: smaller transfers are
// clipped, larger ones grow the page.
type ImageProcessor struct {
	callback  func(*raster.Image)
	estimator *ProgressEstimator

	info        *ImageInfo
	img         *raster.Image
	width       int
	height      int
	transferred int64
	total       int64
}

func NewImageProcessor(estimator *ProgressEstimator, callback func(*raster.Image)) *ImageProcessor {
	return &ImageProcessor{callback: callback, estimator: estimator}
}

// PageStart finishes any previous page and prepares for a new one. info is
// nil for native transfers.
func (p *ImageProcessor) PageStart(info *ImageInfo) error {
	p.Flush()
	p.info = info
	p.img = nil
	p.width, p.height = 0, 0
	p.transferred = 0
	p.total = 0
	if info != nil {
		p.total = int64(info.Width) * int64(info.Height)
	}
	p.estimator.MarkStart(p.total)
	return nil
}

// MemoryBufferTransferred copies a strip or tile into the current page.
func (p *ImageProcessor) MemoryBufferTransferred(buf *MemoryBuffer) error {
	if p.info == nil {
		return errors.New("twain: memory buffer before page start")
	}
	if p.img == nil {
		p.img = raster.New(p.info.Width, p.info.Height, FormatFor(p.info)).SetResolution(p.info.XRes, p.info.YRes)
	}

	p.transferred += int64(buf.Columns) * int64(buf.Rows)
	p.width = max(p.width, buf.XOffset+buf.Columns)
	p.height = max(p.height, buf.YOffset+buf.Rows)
	if p.width > p.img.Width {
		p.realloc(max(p.img.Width*2, p.width), p.img.Height)
	}
	if p.height > p.img.Height {
		p.realloc(p.img.Width, max(p.img.Height*2, p.height))
	}

	if err := CopyBuffer(buf, p.info, p.img); err != nil {
		return err
	}
	p.estimator.MarkProgress(min(p.transferred, p.total), p.total)
	return nil
}

func (p *ImageProcessor) realloc(width, height int) {
	slog.Debug("growing twain page", "width", width, "height", height)
	p.img = p.img.Resize(width, height)
}

// NativeImageTransferred decodes a complete page (BMP, TIFF, PNG or JPEG).
func (p *ImageProcessor) NativeImageTransferred(data []byte) error {
	img, err := raster.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	p.callback(img)
	p.estimator.MarkCompletion()
	return nil
}

// Flush emits the current page if any data was written to it.
func (p *ImageProcessor) Flush() {
	if p.img == nil || p.width == 0 || p.height == 0 {
		return
	}
	img := p.img
	if p.width != img.Width || p.height != img.Height {
		img = img.Resize(p.width, p.height)
	}
	p.img = nil
	p.estimator.MarkCompletion()
	p.callback(img)
}

// Close ends the scan. A page is emitted only if it was received completely,
// which is the case when a source fails after its last transfer.
func (p *ImageProcessor) Close() {
	defer p.estimator.Stop()
	if p.img == nil || p.info == nil {
		return
	}
	if p.transferred == p.total && p.width == p.info.Width && p.height == p.info.Height {
		p.Flush()
	}
	p.img = nil
}
