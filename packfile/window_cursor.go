package packfile

import (
	"io"

	"github.com/golang/groupcache/lru"

	"github.com/forgekit/objstore/plumbing"
	"github.com/forgekit/objstore/utils/sync"
)

// deltaBaseCacheEntries bounds the per-cursor cache of materialized
// delta bases.
const deltaBaseCacheEntries = 64

// WindowCursor is a single-owner handle used to read archive bytes. It
// pins at most one window and borrows at most one inflation engine at a
// time.
//
// A cursor must not be shared across goroutines, and Release must be
// called on every exit path; a leaked cursor keeps an engine out of its
// pool and pins a window against eviction indefinitely.
type WindowCursor struct {
	cache *WindowCache
	pool  *InflaterPool

	inf    *Inflater
	window *byteWindow
	src    packReader

	bases    *lru.Cache
	released bool
}

// NewWindowCursor returns a cursor reading through the given cache and
// borrowing engines from the given pool.
func NewWindowCursor(cache *WindowCache, pool *InflaterPool) *WindowCursor {
	return &WindowCursor{cache: cache, pool: pool}
}

func (c *WindowCursor) check() {
	if c.released {
		panic("packfile: use of released WindowCursor")
	}
}

// Copy copies raw archive bytes starting at position into dst, crossing
// window boundaries as needed. It returns the number of bytes copied,
// which is less than len(dst) only when the archive ends first; the
// caller must check.
func (c *WindowCursor) Copy(p *Pack, position int64, dst []byte) (int, error) {
	c.check()

	need := len(dst)
	copied := 0
	for copied < need && position < p.size {
		if err := c.pin(p, position); err != nil {
			return copied, err
		}

		n := c.window.copy(position, dst[copied:])
		position += int64(n)
		copied += n
	}
	return copied, nil
}

// Inflate decompresses the stream starting at position into dst until
// the logical end of the stream. It returns the number of decompressed
// bytes, and fails with a decode error when the stream is malformed or
// produces more bytes than dst holds.
func (c *WindowCursor) Inflate(p *Pack, position int64, dst []byte) (int, error) {
	c.check()

	if err := c.prepareInflater(p, position); err != nil {
		return 0, err
	}

	total := 0
	for {
		if total == len(dst) {
			// The stream must end exactly here.
			var tmp [1]byte
			n, err := c.inf.Read(tmp[:])
			if n == 0 && err == io.EOF {
				return total, nil
			}
			if err != nil && err != io.EOF {
				return total, ErrZLib.AddDetails("pack %s at offset %d: %v", p.name, position, err)
			}
			return total, ErrInvalidObject.AddDetails("pack %s at offset %d: stream exceeds declared size %d", p.name, position, len(dst))
		}

		n, err := c.inf.Read(dst[total:])
		total += n
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, ErrZLib.AddDetails("pack %s at offset %d: %v", p.name, position, err)
		}
	}
}

// InflateVerify walks the compressed stream at position, discarding the
// output. It returns the decompressed size, and the same decode errors
// Inflate would report. No output buffer is allocated.
func (c *WindowCursor) InflateVerify(p *Pack, position int64) (int64, error) {
	c.check()

	if err := c.prepareInflater(p, position); err != nil {
		return 0, err
	}

	buf := sync.GetByteSlice()
	defer sync.PutByteSlice(buf)

	var total int64
	for {
		n, err := c.inf.Read(*buf)
		total += int64(n)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, ErrZLib.AddDetails("pack %s at offset %d: %v", p.name, position, err)
		}
	}
}

func (c *WindowCursor) prepareInflater(p *Pack, position int64) error {
	if c.inf == nil {
		c.inf = c.pool.Get()
	}
	c.src = packReader{c: c, pack: p, pos: position}
	if err := c.inf.Reset(&c.src); err != nil {
		return ErrZLib.AddDetails("pack %s at offset %d: %v", p.name, position, err)
	}
	return nil
}

// pin ensures the cursor's window covers position, swapping windows
// through the cache when the current one does not.
func (c *WindowCursor) pin(p *Pack, position int64) error {
	if c.window != nil && c.window.contains(p, position) {
		return nil
	}
	c.unpin()

	w, err := c.cache.Get(p, position)
	if err != nil {
		return err
	}
	c.window = w
	return nil
}

func (c *WindowCursor) unpin() {
	if c.window != nil {
		c.cache.release(c.window)
		c.window = nil
	}
}

// cachedBase returns a previously materialized delta base.
func (c *WindowCursor) cachedBase(p *Pack, offset int64) (plumbing.ObjectType, []byte, bool) {
	if c.bases == nil {
		return plumbing.InvalidObject, nil, false
	}
	v, ok := c.bases.Get(baseKey{pack: p, offset: offset})
	if !ok {
		return plumbing.InvalidObject, nil, false
	}
	b := v.(cachedBase)
	return b.typ, b.data, true
}

// storeBase remembers a materialized base for later deltas in the same
// chain or neighbouring chains.
func (c *WindowCursor) storeBase(p *Pack, offset int64, typ plumbing.ObjectType, data []byte) {
	if c.bases == nil {
		c.bases = lru.New(deltaBaseCacheEntries)
	}
	c.bases.Add(baseKey{pack: p, offset: offset}, cachedBase{typ: typ, data: data})
}

// Release returns the borrowed engine to its pool and drops the pinned
// window. It is idempotent and mandatory on every exit path.
func (c *WindowCursor) Release() {
	if c.released {
		return
	}
	c.released = true

	c.unpin()
	c.bases = nil
	if c.inf != nil {
		c.pool.Put(c.inf)
		c.inf = nil
	}
}

type baseKey struct {
	pack   *Pack
	offset int64
}

type cachedBase struct {
	typ  plumbing.ObjectType
	data []byte
}

// packReader feeds sequential archive bytes to the inflation engine,
// pinning windows through the cursor as the stream crosses them.
type packReader struct {
	c    *WindowCursor
	pack *Pack
	pos  int64
}

func (r *packReader) Read(b []byte) (int, error) {
	if r.pos >= r.pack.size {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}

	if err := r.c.pin(r.pack, r.pos); err != nil {
		return 0, err
	}

	n := r.c.window.copy(r.pos, b)
	r.pos += int64(n)
	return n, nil
}
