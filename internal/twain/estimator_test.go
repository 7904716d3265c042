package twain

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

type progressLog struct {
	starts   int
	progress []float64
}

func (l *progressLog) PageStart() { l.starts++ }
func (l *progressLog) PageProgress(p float64) { l.progress = append(l.progress, p) }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(ms int64) { c.t = c.t.Add(time.Duration(ms) * time.Millisecond) }

func newTestEstimator(cache TimingCache) (*ProgressEstimator, *progressLog, *fakeClock) {
	log := &progressLog{}
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	e := NewProgressEstimator(TimingKey{DeviceID: "dev", BitDepth: "color", PageSize: "8.5x11in"}, log, cache)
	e.now = clock.now
	e.delays = nil
	return e, log, clock
}

func TestProgressEstimator_FirstScan(t *testing.T) {
	cache := NewMemoryTimingCache()
	e, log, clock := newTestEstimator(cache)

	e.MarkStart(144)
	clock.advance(500)
	e.MarkProgress(16, 144)
	clock.advance(256)
	e.MarkProgress(80, 144)
	clock.advance(256)
	e.MarkProgress(144, 144)
	e.MarkCompletion()

	if log.starts != 1 {
		t.Errorf("page starts = %d, want 1", log.starts)
	}
	want := []float64{16.0 / 144, 80.0 / 144, 1}
	if len(log.progress) != len(want) {
		t.Fatalf("progress = %v, want %v", log.progress, want)
	}
	for i := range want {
		if math.Abs(log.progress[i]-want[i]) > 1e-9 {
			t.Errorf("progress[%d] = %g, want %g", i, log.progress[i], want[i])
		}
	}

	// 128 pixels in 512ms is 0.25 px/ms, so the first 16 pixels took 64ms
	// of the 500ms before the first buffer.
	got, ok := cache.Read(e.key)
	if !ok {
		t.Fatal("no timing recorded")
	}
	if got != (TimingInfo{OverheadMillis: 436, TotalMillis: 1012}) {
		t.Errorf("timing = %+v, want {436 1012}", got)
	}
}

func TestProgressEstimator_UsesPreviousTiming(t *testing.T) {
	cache := NewMemoryTimingCache()
	e, log, clock := newTestEstimator(cache)
	cache.Add(e.key, TimingInfo{OverheadMillis: 250, TotalMillis: 1000})

	e.MarkStart(100)
	clock.advance(200)
	e.sendEstimated()
	e.MarkProgress(50, 100)
	// estimates stop once data arrives
	e.sendEstimated()

	want := []float64{0.2, 0.25 + 0.5*0.75}
	if len(log.progress) != len(want) {
		t.Fatalf("progress = %v, want %v", log.progress, want)
	}
	for i := range want {
		if math.Abs(log.progress[i]-want[i]) > 1e-9 {
			t.Errorf("progress[%d] = %g, want %g", i, log.progress[i], want[i])
		}
	}
}

func TestProgressEstimator_NoPixels(t *testing.T) {
	cache := NewMemoryTimingCache()
	e, _, clock := newTestEstimator(cache)
	e.MarkStart(0)
	clock.advance(700)
	e.MarkCompletion()
	if got, _ := cache.Read(e.key); got != (TimingInfo{TotalMillis: 700}) {
		t.Errorf("timing = %+v, want {0 700}", got)
	}
}

func TestBoltTimingCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timing.db")
	key := TimingKey{DeviceID: "Canon DR-C225", BitDepth: "grayscale", PageSize: "210x297mm"}

	c, err := OpenBoltTimingCache(path)
	if err != nil {
		t.Fatalf("OpenBoltTimingCache: %v", err)
	}
	if _, ok := c.Read(key); ok {
		t.Error("Read on empty cache found a value")
	}
	c.Add(key, TimingInfo{OverheadMillis: 120, TotalMillis: 4000})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c, err = OpenBoltTimingCache(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()
	got, ok := c.Read(key)
	if !ok || got != (TimingInfo{OverheadMillis: 120, TotalMillis: 4000}) {
		t.Errorf("Read = %+v, %v, want {120 4000}, true", got, ok)
	}
	if _, ok := c.Read(TimingKey{DeviceID: "other"}); ok {
		t.Error("Read found a value for another key")
	}
}
