package acquire

import (
	"log/slog"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"

	"github.com/mzyy94/scanbridge/internal/raster"
)

// PatchCode identifies a batch separator sheet.
type PatchCode string

const (
	PatchNone PatchCode = ""
	Patch1    PatchCode = "patch1"
	Patch2    PatchCode = "patch2"
	Patch3    PatchCode = "patch3"
	Patch4    PatchCode = "patch4"
	Patch6    PatchCode = "patch6"
	PatchT    PatchCode = "patcht"
)

var patchTexts = map[string]PatchCode{
	"PATCH1": Patch1,
	"PATCH2": Patch2,
	"PATCH3": Patch3,
	"PATCH4": Patch4,
	"PATCH6": Patch6,
	"PATCHT": PatchT,
}

var patchHints = map[gozxing.DecodeHintType]interface{}{
	gozxing.DecodeHintType_TRY_HARDER: true,
}

// detectPatchCode looks for a Code 39 "PATCHx" barcode on the page.
func detectPatchCode(m *raster.Image) PatchCode {
	if m.Width == 0 || m.Height == 0 {
		return PatchNone
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(m.ToImage())
	if err != nil {
		slog.Debug("patch code detection skipped", "err", err)
		return PatchNone
	}
	result, err := oned.NewCode39Reader().Decode(bmp, patchHints)
	if err != nil {
		// no barcode
		return PatchNone
	}
	return patchTexts[result.GetText()]
}
