package packfile

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/objstore/plumbing"
)

func testPack(t *testing.T, contentSize int) *Pack {
	t.Helper()

	b := newPackBuilder(t)
	b.addWhole(plumbing.BlobObject, patterned(contentSize))
	return b.open()
}

func TestWindowCacheGet(t *testing.T) {
	t.Parallel()

	p := testPack(t, 4096)
	cache := NewWindowCache(WithWindowSize(512))

	w, err := cache.Get(p, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.start)
	assert.Len(t, w.data, 512)
	cache.release(w)

	// Any position within the window maps to the same entry.
	w2, err := cache.Get(p, 511)
	require.NoError(t, err)
	assert.Same(t, w, w2)
	cache.release(w2)

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Loads)
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestWindowCacheShortWindowAtEnd(t *testing.T) {
	t.Parallel()

	p := testPack(t, 4096)
	cache := NewWindowCache(WithWindowSize(512))

	last := (p.Size() - 1) &^ 511
	w, err := cache.Get(p, p.Size()-1)
	require.NoError(t, err)
	defer cache.release(w)

	assert.Equal(t, last, w.start)
	assert.Equal(t, p.Size()-last, int64(len(w.data)))
	assert.Equal(t, p.Size(), w.end())
}

func TestWindowCacheOutOfRange(t *testing.T) {
	t.Parallel()

	p := testPack(t, 1024)
	cache := NewWindowCache()

	_, err := cache.Get(p, -1)
	assert.ErrorIs(t, err, ErrSeekNotSupported)

	_, err = cache.Get(p, p.Size())
	assert.ErrorIs(t, err, ErrSeekNotSupported)
}

func TestWindowCacheSequentialScan(t *testing.T) {
	t.Parallel()

	p := testPack(t, 16*1024)
	cache := NewWindowCache(WithWindowSize(1024))

	var pos int64
	for pos < p.Size() {
		w, err := cache.Get(p, pos)
		require.NoError(t, err)
		pos = w.end()
		cache.release(w)
	}

	wantLoads := uint64(p.Size() / 1024)
	if p.Size()%1024 != 0 {
		wantLoads++
	}

	stats := cache.Stats()
	assert.Equal(t, wantLoads, stats.Loads)
	assert.Zero(t, stats.Evictions)
}

func TestWindowCacheConcurrentSingleLoad(t *testing.T) {
	t.Parallel()

	p := testPack(t, 8192)
	cache := NewWindowCache(WithWindowSize(4096))

	const readers = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	windows := make([]*byteWindow, readers)
	errs := make([]error, readers)

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			windows[i], errs[i] = cache.Get(p, 0)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, windows[0], windows[i])
		cache.release(windows[i])
	}

	assert.Equal(t, uint64(1), cache.Stats().Loads)
}

func TestWindowCacheLRUEviction(t *testing.T) {
	t.Parallel()

	p := testPack(t, 4096)
	cache := NewWindowCache(WithWindowSize(512), WithMaxWindows(2), WithMaxBytes(1024))

	get := func(pos int64) *byteWindow {
		w, err := cache.Get(p, pos)
		require.NoError(t, err)
		cache.release(w)
		return w
	}

	get(0)
	get(512)
	get(1024) // evicts the window at 0

	stats := cache.Stats()
	assert.Equal(t, uint64(3), stats.Loads)
	assert.Equal(t, uint64(1), stats.Evictions)

	// The evicted window reloads; the survivor is still a hit.
	get(0)
	get(1024)

	stats = cache.Stats()
	assert.Equal(t, uint64(4), stats.Loads)
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestWindowCachePinnedNotEvicted(t *testing.T) {
	t.Parallel()

	p := testPack(t, 4096)
	cache := NewWindowCache(WithWindowSize(512), WithMaxWindows(1))

	pinned, err := cache.Get(p, 0)
	require.NoError(t, err)

	// The new window is the only eviction candidate; the pinned one
	// must survive and stay readable.
	other, err := cache.Get(p, 512)
	require.NoError(t, err)
	cache.release(other)

	again, err := cache.Get(p, 0)
	require.NoError(t, err)
	assert.Same(t, pinned, again)
	assert.Equal(t, uint64(1), cache.Stats().Hits)

	cache.release(again)
	cache.release(pinned)
}

func TestWindowCacheFailedLoadCachesNothing(t *testing.T) {
	t.Parallel()

	p := testPack(t, 1024)
	cache := NewWindowCache(WithWindowSize(512))

	require.NoError(t, p.Close())

	_, err := cache.Get(p, 0)
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.Zero(t, cache.Stats().Loads)

	// The failure is not remembered either; a later call retries.
	_, err = cache.Get(p, 0)
	assert.Error(t, err)
}

func TestWindowCachePurge(t *testing.T) {
	t.Parallel()

	p := testPack(t, 2048)
	other := testPack(t, 2048)
	cache := NewWindowCache(WithWindowSize(512))

	for _, pack := range []*Pack{p, other} {
		w, err := cache.Get(pack, 0)
		require.NoError(t, err)
		cache.release(w)
	}

	cache.Purge(p)

	// The purged pack reloads, the other is still cached.
	w, err := cache.Get(p, 0)
	require.NoError(t, err)
	cache.release(w)
	w, err = cache.Get(other, 0)
	require.NoError(t, err)
	cache.release(w)

	stats := cache.Stats()
	assert.Equal(t, uint64(3), stats.Loads)
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestWindowCacheReconfigure(t *testing.T) {
	t.Parallel()

	p := testPack(t, 2048)
	cache := NewWindowCache(WithWindowSize(512))

	w, err := cache.Get(p, 0)
	require.NoError(t, err)
	cache.release(w)

	cache.Reconfigure(WithWindowSize(1024))
	assert.Equal(t, int64(1024), cache.WindowSize())

	w, err = cache.Get(p, 0)
	require.NoError(t, err)
	assert.Len(t, w.data, 1024)
	cache.release(w)

	assert.Equal(t, uint64(2), cache.Stats().Loads)
}

func TestNewWindowCacheInvalidConfig(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewWindowCache(WithWindowSize(1000)) })
	assert.Panics(t, func() { NewWindowCache(WithWindowSize(256)) })
	assert.Panics(t, func() { NewWindowCache(WithMaxBytes(1024)) })
	assert.Panics(t, func() { NewWindowCache(WithMaxWindows(0)) })
}
