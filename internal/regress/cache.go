package regress

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// cache stores the last fit per worker id alongside a content hash of the
// series it was computed from. A lookup only hits when the hash of the
// current input matches; any change to the data, even a reordering, misses.
//
// Locking is two-level: the struct mutex guards the maps only, while a lazily
// created per-key mutex serialises computation for one worker. Concurrent
// hunts touching different workers never block each other on a fit.
type cache struct {
	mu       sync.Mutex
	locks    map[int]*sync.Mutex
	point    map[int]pointEntry
	interval map[int]intervalEntry
}

type pointEntry struct {
	hash uint64
	fit  Fit
}

type intervalEntry struct {
	hash uint64
	iv   Intervals
}

func newCache() *cache {
	return &cache{
		locks:    make(map[int]*sync.Mutex),
		point:    make(map[int]pointEntry),
		interval: make(map[int]intervalEntry),
	}
}

func (c *cache) keyLock(key int) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lk, ok := c.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		c.locks[key] = lk
	}
	return lk
}

func (c *cache) getPoint(key int) (pointEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.point[key]
	return e, ok
}

func (c *cache) setPoint(key int, e pointEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.point[key] = e
}

func (c *cache) getInterval(key int) (intervalEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.interval[key]
	return e, ok
}

func (c *cache) setInterval(key int, e intervalEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval[key] = e
}

// hashSeries computes a content hash over the exact (t, y) sequences.
func hashSeries(t, y []float64) uint64 {
	h := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(t)))
	h.Write(buf[:])
	for _, v := range t {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	for _, v := range y {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return h.Sum64()
}
