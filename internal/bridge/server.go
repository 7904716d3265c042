package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mzyy94/scanbridge/internal/raster"
	"github.com/mzyy94/scanbridge/internal/scan"
)

// Serve answers one request read from rw by running it on b. During a scan
// a Cancel frame, or the peer going away, cancels the scan. The response
// always ends with Done unless the connection fails.
func Serve(ctx context.Context, rw io.ReadWriter, b Bridge, handoff Handoff) error {
	c := newConn(rw)
	t, body, err := c.recv()
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	var req request
	if err := decode(t, body, &req); err != nil {
		return err
	}
	if req.Options == nil {
		return fmt.Errorf("%s request without options", t)
	}
	log := slog.With("request", t.String(), "session", req.Session)

	switch t {
	case MsgGetDevices:
		log.Debug("enumerating devices", "driver", req.Options.Driver)
		var sendErr error
		err = b.GetDevices(ctx, req.Options, func(d scan.Device) {
			if sendErr == nil {
				sendErr = c.send(MsgDevice, d)
			}
		})
		if sendErr != nil {
			return sendErr
		}
	case MsgScan:
		err = serveScan(ctx, c, req.Options, b, handoff, log)
	default:
		return fmt.Errorf("unexpected request %s", t)
	}
	return finish(c, err, log)
}

func finish(c *conn, err error, log *slog.Logger) error {
	if err != nil {
		var wire *wireError
		if errors.As(err, &wire) {
			return err
		}
		log.Debug("request failed", "err", err)
		if sendErr := c.send(MsgError, errorBodyOf(err)); sendErr != nil {
			return sendErr
		}
	}
	return c.send(MsgDone, nil)
}

// wireError marks a failure of the connection itself, as opposed to a scan
// failure that is reported to the peer.
type wireError struct{ err error }

func (e *wireError) Error() string { return e.err.Error() }
func (e *wireError) Unwrap() error { return e.err }

func serveScan(ctx context.Context, c *conn, opts *scan.Options, b Bridge, handoff Handoff, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// any frame or read error from the peer ends the scan
		t, _, err := c.recv()
		if err == nil && t != MsgCancel {
			log.Warn("unexpected frame during scan", "type", t.String())
		}
		cancel()
	}()

	var (
		mu      sync.Mutex
		wireErr error
	)
	send := func(t MsgType, body any) {
		mu.Lock()
		defer mu.Unlock()
		if wireErr != nil {
			return
		}
		if err := c.send(t, body); err != nil {
			wireErr = err
			cancel()
		}
	}
	events := scan.EventFuncs{
		OnPageStart:    func() { send(MsgPageStart, nil) },
		OnPageProgress: func(p float64) { send(MsgProgress, progressBody{Progress: p}) },
	}
	pages := 0
	var handoffErr error
	err := b.Scan(ctx, opts, events, func(img *raster.Image) {
		if handoffErr != nil {
			return
		}
		body, err := handoff.put(img)
		if err != nil {
			handoffErr = err
			cancel()
			return
		}
		pages++
		send(MsgImage, body)
	})
	log.Info("scan finished", "pages", pages, "err", err)
	mu.Lock()
	defer mu.Unlock()
	if wireErr != nil {
		return &wireError{wireErr}
	}
	if handoffErr != nil {
		return scan.Wrap(fmt.Errorf("image handoff: %w", handoffErr))
	}
	return err
}
