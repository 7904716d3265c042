package twain

import (
	"sync"
	"time"

	"github.com/mzyy94/scanbridge/internal/scan"
)

// TimingKey identifies scans expected to take the same time.
type TimingKey struct {
	DeviceID string `json:"deviceId"`
	BitDepth string `json:"bitDepth"`
	PageSize string `json:"pageSize"`
}

// TimingInfo models a page scan as a fixed overhead followed by a constant
// transfer rate.
type TimingInfo struct {
	OverheadMillis int64 `json:"overheadMillis"`
	TotalMillis    int64 `json:"totalMillis"`
}

// TimingCache stores the last timing per key.
type TimingCache interface {
	Read(key TimingKey) (TimingInfo, bool)
	Add(key TimingKey, info TimingInfo)
}

// KeyFor builds the timing key of a scan.
func KeyFor(opts *scan.Options) TimingKey {
	k := TimingKey{BitDepth: string(opts.BitDepth)}
	if opts.Device != nil {
		k.DeviceID = opts.Device.ID
	}
	if opts.PageSize != nil {
		k.PageSize = opts.PageSize.String()
	}
	return k
}

// estimateDelays are the points after page start where progress is guessed
// from the previous timing, before any data has arrived.
var estimateDelays = []time.Duration{200 * time.Millisecond, time.Second}

// ProgressEstimator turns TWAIN transfers into page progress. Sources give no
// progress of their own, so the estimate combines transferred pixels with the
// timing of the previous scan with the same key.
type ProgressEstimator struct {
	events scan.Events
	cache  TimingCache
	key    TimingKey
	now    func() time.Time
	delays []time.Duration

	mu               sync.Mutex
	start            time.Time
	started          bool
	timeToFirstBuf   int64
	pixelsAtFirstBuf int64
	totalPixels      int64
	previous         *TimingInfo
	timers           []*time.Timer
}

func NewProgressEstimator(key TimingKey, events scan.Events, cache TimingCache) *ProgressEstimator {
	return &ProgressEstimator{events: events, cache: cache, key: key, now: time.Now, delays: estimateDelays}
}

func (e *ProgressEstimator) elapsed() int64 {
	return e.now().Sub(e.start).Milliseconds()
}

// MarkStart begins timing a page of totalPixels pixels (zero when unknown).
func (e *ProgressEstimator) MarkStart(totalPixels int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimers()
	e.start = e.now()
	e.started = true
	e.timeToFirstBuf = -1
	e.pixelsAtFirstBuf = -1
	e.totalPixels = totalPixels
	e.events.PageStart()

	e.previous = nil
	if info, ok := e.cache.Read(e.key); ok && info.TotalMillis > 0 {
		e.previous = &info
		for _, d := range e.delays {
			e.timers = append(e.timers, time.AfterFunc(d, e.sendEstimated))
		}
	}
}

func (e *ProgressEstimator) sendEstimated() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started && e.timeToFirstBuf == -1 && e.previous != nil {
		e.events.PageProgress(min(1, float64(e.elapsed())/float64(e.previous.TotalMillis)))
	}
}

// MarkProgress reports transferred of total pixels.
func (e *ProgressEstimator) MarkProgress(transferred, total int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || total <= 0 {
		return
	}
	if e.timeToFirstBuf == -1 {
		e.timeToFirstBuf = e.elapsed()
		e.pixelsAtFirstBuf = transferred
	}
	progress := float64(transferred) / float64(total)
	if p := e.previous; p != nil {
		overheadDone := float64(p.OverheadMillis) / float64(p.TotalMillis)
		progress = overheadDone + progress*(1-overheadDone)
	}
	e.events.PageProgress(progress)
}

// MarkCompletion records the timing of the finished page.
func (e *ProgressEstimator) MarkCompletion() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.stopTimers()
	e.started = false
	total := e.elapsed()
	if e.totalPixels <= 0 || e.timeToFirstBuf == -1 || e.pixelsAtFirstBuf == e.totalPixels {
		e.cache.Add(e.key, TimingInfo{TotalMillis: total})
		return
	}
	sinceFirst := total - e.timeToFirstBuf
	if sinceFirst <= 0 {
		e.cache.Add(e.key, TimingInfo{OverheadMillis: e.timeToFirstBuf, TotalMillis: total})
		return
	}
	rate := float64(e.totalPixels-e.pixelsAtFirstBuf) / float64(sinceFirst)
	offset := int64(float64(e.pixelsAtFirstBuf) / rate)
	e.cache.Add(e.key, TimingInfo{OverheadMillis: max(0, e.timeToFirstBuf-offset), TotalMillis: total})
}

// Stop cancels pending estimates.
func (e *ProgressEstimator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimers()
}

func (e *ProgressEstimator) stopTimers() {
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
}
