package packfile

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/forgekit/objstore/utils/trace"
)

const (
	// DefaultWindowSize is the cache window size when none is
	// configured. Must be a power of two.
	DefaultWindowSize = 64 * 1024

	// DefaultMaxBytes bounds the total cached bytes when no limit is
	// configured.
	DefaultMaxBytes = 16 * 1024 * 1024

	// DefaultMaxWindows bounds the number of cached windows when no
	// limit is configured.
	DefaultMaxWindows = 256
)

type windowKey struct {
	pack  *Pack
	start int64
}

// CacheStats is a point-in-time copy of the cache counters.
type CacheStats struct {
	Loads     uint64
	Hits      uint64
	Evictions uint64
}

// WindowCache is a bounded cache of pack archive windows shared by all
// cursors of a process.
//
// Loads are deduplicated: at most one load runs per (pack, window)
// key, and concurrent callers for the same key share the outcome of the
// in-flight load, including its failure. A failed load leaves nothing
// cached under the key.
//
// Eviction is least-recently-used over the unpinned entries; a window
// pinned by a cursor is never reclaimed while the cursor holds it.
type WindowCache struct {
	mu      sync.Mutex
	windows map[windowKey]*byteWindow
	bytes   int64
	stats   CacheStats

	clock atomic.Uint64
	group singleflight.Group

	windowSize int64
	maxBytes   int64
	maxWindows int
}

// CacheOption configures a WindowCache.
type CacheOption func(*WindowCache)

// WithWindowSize sets the window size in bytes. The size must be a
// power of two of at least 512 bytes.
func WithWindowSize(size int64) CacheOption {
	return func(c *WindowCache) {
		c.windowSize = size
	}
}

// WithMaxBytes sets the total byte budget of the cache.
func WithMaxBytes(limit int64) CacheOption {
	return func(c *WindowCache) {
		c.maxBytes = limit
	}
}

// WithMaxWindows sets the maximum number of cached windows.
func WithMaxWindows(n int) CacheOption {
	return func(c *WindowCache) {
		c.maxWindows = n
	}
}

// NewWindowCache returns an empty cache with the given configuration.
// Invalid limits are a programming error and panic.
func NewWindowCache(opts ...CacheOption) *WindowCache {
	c := &WindowCache{
		windows:    make(map[windowKey]*byteWindow),
		windowSize: DefaultWindowSize,
		maxBytes:   DefaultMaxBytes,
		maxWindows: DefaultMaxWindows,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.validate()
	return c
}

func (c *WindowCache) validate() {
	if c.windowSize < 512 || bits.OnesCount64(uint64(c.windowSize)) != 1 {
		panic(fmt.Sprintf("packfile: window size %d is not a power of two >= 512", c.windowSize))
	}
	if c.maxBytes < c.windowSize {
		panic(fmt.Sprintf("packfile: byte limit %d below window size %d", c.maxBytes, c.windowSize))
	}
	if c.maxWindows < 1 {
		panic("packfile: window limit below one")
	}
}

// WindowSize returns the configured window size.
func (c *WindowCache) WindowSize() int64 {
	return c.windowSize
}

// Stats returns a copy of the cache counters.
func (c *WindowCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Get returns a window of the given archive covering position, loading
// it on a miss. The caller owns one reference on the returned window
// and must release it.
func (c *WindowCache) Get(p *Pack, position int64) (*byteWindow, error) {
	if position < 0 || position >= p.size {
		return nil, ErrSeekNotSupported.AddDetails("pack %s position %d", p.name, position)
	}

	key := windowKey{pack: p, start: position &^ (c.windowSize - 1)}

	c.mu.Lock()
	if w, ok := c.windows[key]; ok {
		c.stats.Hits++
		w.ref.acquire()
		w.lastAccess.Store(c.clock.Add(1))
		c.mu.Unlock()
		return w, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(flightKey(key), func() (interface{}, error) {
		// A previous flight for this key may have populated the table
		// while this caller was queued behind it.
		c.mu.Lock()
		if w, ok := c.windows[key]; ok {
			c.stats.Hits++
			c.mu.Unlock()
			return w, nil
		}
		c.mu.Unlock()

		w, err := c.load(key)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.stats.Loads++
		c.windows[key] = w
		c.bytes += int64(len(w.data))
		w.ref.acquire() // the table's reference
		w.lastAccess.Store(c.clock.Add(1))
		c.evictLocked()
		c.mu.Unlock()
		return w, nil
	})
	if err != nil {
		return nil, err
	}

	// Each caller of a shared flight takes its own reference. The
	// window stays valid even if it has been evicted again in the
	// meantime; the data is immutable and released on the last drop.
	w := v.(*byteWindow)
	w.ref.acquire()
	w.lastAccess.Store(c.clock.Add(1))
	return w, nil
}

// release drops one cursor reference from w.
func (c *WindowCache) release(w *byteWindow) {
	w.ref.release()
}

func (c *WindowCache) load(key windowKey) (*byteWindow, error) {
	p := key.pack
	n := c.windowSize
	if remain := p.size - key.start; remain < n {
		n = remain
	}

	data := make([]byte, n)
	if _, err := p.readAt(data, key.start); err != nil {
		return nil, fmt.Errorf("pack %s: window at %d: %w", p.name, key.start, err)
	}

	trace.Cache.Printf("packfile: loaded window %s@%d (%d bytes)", p.name, key.start, n)
	return &byteWindow{pack: p, start: key.start, data: data}, nil
}

// evictLocked reclaims the least recently used unpinned windows until
// the cache is back under its limits. If every window is pinned the
// cache stays over budget until releases catch up.
func (c *WindowCache) evictLocked() {
	for c.bytes > c.maxBytes || len(c.windows) > c.maxWindows {
		var victimKey windowKey
		var victim *byteWindow
		for k, w := range c.windows {
			if w.ref.refs() != 1 {
				continue // pinned by at least one cursor
			}
			if victim == nil || w.lastAccess.Load() < victim.lastAccess.Load() {
				victimKey, victim = k, w
			}
		}
		if victim == nil {
			return
		}

		delete(c.windows, victimKey)
		c.bytes -= int64(len(victim.data))
		c.stats.Evictions++
		victim.ref.release()
		trace.Cache.Printf("packfile: evicted window %s@%d", victimKey.pack.name, victimKey.start)
	}
}

// Purge drops all windows of the given archive, typically after the
// pack is deleted or rewritten. Pinned windows stay readable for their
// cursors.
func (c *WindowCache) Purge(p *Pack) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, w := range c.windows {
		if k.pack != p {
			continue
		}
		delete(c.windows, k)
		c.bytes -= int64(len(w.data))
		w.ref.release()
	}
}

// Reconfigure applies new limits and invalidates all cached windows;
// subsequent reads reload under the new configuration.
func (c *WindowCache) Reconfigure(opts ...CacheOption) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, w := range c.windows {
		w.ref.release()
	}
	c.windows = make(map[windowKey]*byteWindow)
	c.bytes = 0

	for _, opt := range opts {
		opt(c)
	}
	c.validate()
}

func flightKey(key windowKey) string {
	return fmt.Sprintf("%p:%d", key.pack, key.start)
}
