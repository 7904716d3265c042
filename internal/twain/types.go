// Package twain reassembles TWAIN memory transfers into raster images and
// drives a data source through a Session.
package twain

import (
	"errors"
	"fmt"

	"github.com/mzyy94/scanbridge/internal/scan"
)

// PixelType mirrors the TWPT_* constants.
type PixelType int

const (
	PixelBlackWhite PixelType = 0
	PixelGray       PixelType = 1
	PixelRGB        PixelType = 2
	PixelPalette    PixelType = 3
	PixelBGR        PixelType = 8
)

func (p PixelType) String() string {
	switch p {
	case PixelBlackWhite:
		return "bw"
	case PixelGray:
		return "gray"
	case PixelRGB:
		return "rgb"
	case PixelPalette:
		return "palette"
	case PixelBGR:
		return "bgr"
	}
	return fmt.Sprintf("pixeltype(%d)", int(p))
}

// ImageInfo is the geometry a source declares before transferring a page.
type ImageInfo struct {
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	PixelType       PixelType `json:"pixelType"`
	BitsPerPixel    int       `json:"bitsPerPixel"`
	BitsPerSample   []int     `json:"bitsPerSample"`
	SamplesPerPixel int       `json:"samplesPerPixel"`
	XRes            float64   `json:"xRes"`
	YRes            float64   `json:"yRes"`
}

// MemoryBuffer is one strip or tile of a memory transfer.
type MemoryBuffer struct {
	Columns     int    `json:"columns"`
	Rows        int    `json:"rows"`
	BytesPerRow int    `json:"bytesPerRow"`
	XOffset     int    `json:"xOffset"`
	YOffset     int    `json:"yOffset"`
	Data        []byte `json:"data"`
}

// ConditionCode mirrors the TWCC_* constants.
type ConditionCode int

const (
	ConditionSuccess           ConditionCode = 0
	ConditionBummer            ConditionCode = 1
	ConditionLowMemory         ConditionCode = 2
	ConditionNoDS              ConditionCode = 3
	ConditionMaxConnections    ConditionCode = 4
	ConditionOperationError    ConditionCode = 5
	ConditionBadCap            ConditionCode = 6
	ConditionSeqError          ConditionCode = 11
	ConditionDenied            ConditionCode = 16
	ConditionPaperJam          ConditionCode = 20
	ConditionPaperDoubleFeed   ConditionCode = 21
	ConditionCheckDeviceOnline ConditionCode = 23
	ConditionInterlock         ConditionCode = 24
	ConditionNoMedia           ConditionCode = 29
)

// ConditionError is a failed TWAIN operation. State is the session state
// (1-7) at the time of the failure.
type ConditionError struct {
	Op    string
	Code  ConditionCode
	State int
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("twain %s: condition code %d (state %d)", e.Op, int(e.Code), e.State)
}

// ErrSourceNotFound is returned by Session.Run when no source has the
// requested name.
var ErrSourceNotFound = errors.New("twain: data source not found")

// mapError translates session failures into scan errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSourceNotFound) {
		return &scan.Error{Kind: scan.KindNoMatchingDevice, Err: err}
	}
	var ce *ConditionError
	if !errors.As(err, &ce) {
		return scan.Wrap(err)
	}
	switch ce.Code {
	case ConditionOperationError:
		// the source already showed its own error dialog
		return &scan.Error{Kind: scan.KindAlreadyReported, Err: ce}
	case ConditionPaperJam, ConditionPaperDoubleFeed:
		return &scan.Error{Kind: scan.KindPaperJam, Err: ce}
	case ConditionCheckDeviceOnline:
		if ce.State <= 3 {
			return &scan.Error{Kind: scan.KindDeviceOffline, Err: ce}
		}
		return &scan.Error{Kind: scan.KindDeviceOffline, Msg: "communication error", Err: ce}
	case ConditionMaxConnections:
		return &scan.Error{Kind: scan.KindDeviceBusy, Err: ce}
	case ConditionInterlock:
		return &scan.Error{Kind: scan.KindCoverOpen, Err: ce}
	case ConditionNoMedia:
		return &scan.Error{Kind: scan.KindNoPages, Err: ce}
	}
	return &scan.Error{Kind: scan.KindUnknown, Msg: fmt.Sprintf("TWAIN error: condition code %d", int(ce.Code)), Err: ce}
}
