package acquire

import "math"

// Events receives the lifecycle of one Scan call. Page numbers start at 1.
// Callbacks run on the scan goroutine.
type Events interface {
	ScanStart()
	ScanEnd(err error)
	PageStart(page int)
	PageProgress(page int, progress float64)
	PageEnd(page int, img *ProcessedImage)
}

// EventFuncs adapts plain functions to Events. Nil fields are ignored.
type EventFuncs struct {
	OnScanStart    func()
	OnScanEnd      func(error)
	OnPageStart    func(int)
	OnPageProgress func(int, float64)
	OnPageEnd      func(int, *ProcessedImage)
}

func (e EventFuncs) ScanStart() {
	if e.OnScanStart != nil {
		e.OnScanStart()
	}
}

func (e EventFuncs) ScanEnd(err error) {
	if e.OnScanEnd != nil {
		e.OnScanEnd(err)
	}
}

func (e EventFuncs) PageStart(page int) {
	if e.OnPageStart != nil {
		e.OnPageStart(page)
	}
}

func (e EventFuncs) PageProgress(page int, p float64) {
	if e.OnPageProgress != nil {
		e.OnPageProgress(page, p)
	}
}

func (e EventFuncs) PageEnd(page int, img *ProcessedImage) {
	if e.OnPageEnd != nil {
		e.OnPageEnd(page, img)
	}
}

// progressStep is the smallest progress change forwarded to callers.
const progressStep = 0.02

// throttle drops progress updates that differ from the last forwarded one
// by less than step. Completion (1.0) always passes once.
type throttle struct {
	step float64
	last float64
	sent bool
}

func (t *throttle) reset() {
	t.last, t.sent = 0, false
}

func (t *throttle) allow(p float64) bool {
	if t.sent {
		if p == t.last {
			return false
		}
		if p < 1 && math.Abs(p-t.last) < t.step {
			return false
		}
	}
	t.last, t.sent = p, true
	return true
}
