package bridge

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mzyy94/scanbridge/internal/raster"
)

// Handoff moves a scanned image from the serving side to the client.
type Handoff interface {
	put(img *raster.Image) (imageBody, error)
}

// FileHandoff writes each image to a uniquely named TIFF in Dir. The client
// loads and deletes it, so only the path crosses the pipe.
type FileHandoff struct {
	Dir string
}

func (h FileHandoff) put(img *raster.Image) (imageBody, error) {
	dir := h.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "scanbridge-"+uuid.New().String()+".tiff")
	if err := raster.WriteFile(path, img); err != nil {
		os.Remove(path)
		return imageBody{}, fmt.Errorf("handoff write: %w", err)
	}
	return imageBody{Path: path, XRes: img.XRes, YRes: img.YRes}, nil
}

// InlineHandoff sends the TIFF bytes in the frame, for peers that do not
// share a filesystem.
type InlineHandoff struct{}

func (InlineHandoff) put(img *raster.Image) (imageBody, error) {
	var buf bytes.Buffer
	if err := raster.EncodeTIFF(&buf, img); err != nil {
		return imageBody{}, err
	}
	return imageBody{Data: buf.Bytes(), XRes: img.XRes, YRes: img.YRes}, nil
}

// load restores an image sent by either handoff.
func (b imageBody) load() (*raster.Image, error) {
	var img *raster.Image
	var err error
	if b.Path == "" {
		img, err = raster.DecodeTIFF(bytes.NewReader(b.Data))
	} else {
		img, err = raster.ReadFile(b.Path)
		if rmErr := os.Remove(b.Path); rmErr != nil {
			slog.Warn("failed to remove handoff file", "path", b.Path, "err", rmErr)
		}
	}
	if err != nil {
		return nil, err
	}
	return img.SetResolution(b.XRes, b.YRes), nil
}
