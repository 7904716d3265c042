package twain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// MemoryTimingCache keeps timings for the life of the process.
type MemoryTimingCache struct {
	mu sync.Mutex
	m  map[TimingKey]TimingInfo
}

func NewMemoryTimingCache() *MemoryTimingCache {
	return &MemoryTimingCache{m: make(map[TimingKey]TimingInfo)}
}

func (c *MemoryTimingCache) Read(key TimingKey) (TimingInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.m[key]
	return info, ok
}

func (c *MemoryTimingCache) Add(key TimingKey, info TimingInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = info
}

var timingBucket = []byte("twain_timing")

// BoltTimingCache persists timings in a bbolt database so estimates survive
// restarts.
type BoltTimingCache struct {
	db *bbolt.DB
}

// OpenBoltTimingCache opens or creates the database at path.
func OpenBoltTimingCache(path string) (*BoltTimingCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening timing cache: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(timingBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating timing bucket: %w", err)
	}
	return &BoltTimingCache{db: db}, nil
}

func (c *BoltTimingCache) Close() error {
	return c.db.Close()
}

func timingKeyBytes(key TimingKey) []byte {
	b, _ := json.Marshal(key)
	return b
}

func (c *BoltTimingCache) Read(key TimingKey) (TimingInfo, bool) {
	var info TimingInfo
	found := false
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(timingBucket).Get(timingKeyBytes(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &info)
	})
	if err != nil {
		slog.Warn("timing cache read failed", "err", err)
		return TimingInfo{}, false
	}
	return info, found
}

func (c *BoltTimingCache) Add(key TimingKey, info TimingInfo) {
	v, err := json.Marshal(info)
	if err != nil {
		return
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(timingBucket).Put(timingKeyBytes(key), v)
	})
	if err != nil {
		slog.Warn("timing cache write failed", "err", err)
	}
}
