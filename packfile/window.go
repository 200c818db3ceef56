package packfile

import "sync/atomic"

// refcnt provides an atomic reference count.
type refcnt int32

func (v *refcnt) refs() int32 {
	return atomic.LoadInt32((*int32)(v))
}

func (v *refcnt) acquire() {
	atomic.AddInt32((*int32)(v), 1)
}

func (v *refcnt) release() bool {
	n := atomic.AddInt32((*int32)(v), -1)
	if n < 0 {
		panic("packfile: window refcount below zero")
	}
	return n == 0
}

// byteWindow is one cached slice of a pack archive. The data is
// immutable once loaded and may be read by any number of cursors
// concurrently.
//
// The cache holds one reference for as long as the window is in its
// table; each pinning cursor holds one more. An evicted window stays
// valid for cursors that still hold it.
type byteWindow struct {
	pack  *Pack
	start int64
	data  []byte

	ref        refcnt
	lastAccess atomic.Uint64
}

// contains reports whether pos lies within this window of the given
// archive.
func (w *byteWindow) contains(p *Pack, pos int64) bool {
	return w.pack == p && w.start <= pos && pos < w.end()
}

func (w *byteWindow) end() int64 {
	return w.start + int64(len(w.data))
}

// copy copies bytes from the window into dst, starting at the absolute
// archive position pos. It returns the number of bytes copied, which
// may be less than len(dst) if the window ends first.
func (w *byteWindow) copy(pos int64, dst []byte) int {
	ptr := int(pos - w.start)
	return copy(dst, w.data[ptr:])
}
