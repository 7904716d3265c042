package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

// handlers receive the frames of one response.
type handlers struct {
	device func(scan.Device)
	events scan.Events
	image  func(*raster.Image)
}

// call sends one request over rw and dispatches response frames until Done.
// Cancelling ctx sends a Cancel frame and keeps reading, so images already in
// flight are still delivered and handoff files are cleaned up.
func call(ctx context.Context, rw io.ReadWriter, t MsgType, req request, h handlers) error {
	c := newConn(rw)
	if err := c.send(t, req); err != nil {
		return scan.NewError(scan.KindUnknown, "bridge request failed: %v", err)
	}
	if t == MsgScan {
		stop := context.AfterFunc(ctx, func() {
			if err := c.send(MsgCancel, nil); err != nil {
				slog.Debug("failed to send cancel", "err", err)
			}
		})
		defer stop()
	}

	var result error
	for {
		mt, body, err := c.recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return scan.NewError(scan.KindUnknown, "bridge connection lost: %v", err)
		}
		switch mt {
		case MsgDevice:
			var d scan.Device
			if err := decode(mt, body, &d); err != nil {
				return scan.Wrap(err)
			}
			if h.device != nil {
				h.device(d)
			}
		case MsgPageStart:
			if h.events != nil {
				h.events.PageStart()
			}
		case MsgProgress:
			var p progressBody
			if err := decode(mt, body, &p); err != nil {
				return scan.Wrap(err)
			}
			if h.events != nil {
				h.events.PageProgress(p.Progress)
			}
		case MsgImage:
			var ib imageBody
			if err := decode(mt, body, &ib); err != nil {
				return scan.Wrap(err)
			}
			img, err := ib.load()
			if err != nil {
				if result == nil {
					result = scan.Wrap(fmt.Errorf("load image: %w", err))
				}
				continue
			}
			if h.image != nil {
				h.image(img)
			}
		case MsgError:
			var eb errorBody
			if err := decode(mt, body, &eb); err != nil {
				return scan.Wrap(err)
			}
			if result == nil {
				result = eb.Err()
			}
		case MsgDone:
			if ctx.Err() != nil {
				return nil
			}
			return result
		default:
			slog.Warn("ignoring bridge frame", "type", mt.String())
		}
	}
}
