package packfile

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// DefaultInflaterSlots is the pool capacity when none is configured.
// The pool is sized for a few concurrent readers; correctness never
// depends on hitting it.
const DefaultInflaterSlots = 4

// zlibInitBytes is a valid empty zlib stream, used to construct a
// resettable reader before any real input is bound to it.
var zlibInitBytes = []byte{0x78, 0x9c, 0x01, 0x00, 0x00, 0xff, 0xff, 0x00, 0x00, 0x00, 0x01}

type zlibReadCloser interface {
	io.ReadCloser
	zlib.Resetter
}

// Inflater is a reusable zlib decompression engine.
type Inflater struct {
	reader zlibReadCloser
}

func newInflater() *Inflater {
	r, _ := zlib.NewReader(bytes.NewReader(zlibInitBytes))
	return &Inflater{reader: r.(zlibReadCloser)}
}

// Reset binds the engine to a new compressed stream. It must be called
// before Read after the engine is obtained from a pool.
func (i *Inflater) Reset(r io.Reader) error {
	return i.reader.Reset(r, nil)
}

// Read reads decompressed bytes. It returns io.EOF at the logical end
// of the compressed stream.
func (i *Inflater) Read(p []byte) (int, error) {
	return i.reader.Read(p)
}

// Close releases the engine's internal state. The engine cannot be
// used afterwards.
func (i *Inflater) Close() error {
	return i.reader.Close()
}

// InflaterPool is a fixed-capacity pool of decompression engines.
//
// Get always returns a usable engine: a pooled one when available, a
// newly constructed one otherwise. Put returns an engine to the pool,
// or closes it when the pool is full.
type InflaterPool struct {
	mu       sync.Mutex
	free     []*Inflater
	capacity int
}

// NewInflaterPool returns a pool with the given number of slots. Zero
// or negative capacity selects DefaultInflaterSlots.
func NewInflaterPool(capacity int) *InflaterPool {
	if capacity <= 0 {
		capacity = DefaultInflaterSlots
	}
	return &InflaterPool{capacity: capacity}
}

// Get returns an engine ready to be Reset onto a stream.
func (p *InflaterPool) Get() *Inflater {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		inf := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return inf
	}
	p.mu.Unlock()

	return newInflater()
}

// Put returns the engine to the pool. Engines beyond capacity are
// closed so their internal state is released deterministically. The
// engine is rebound to an empty stream first, so a pooled engine never
// retains a reference into a window.
func (p *InflaterPool) Put(inf *Inflater) {
	if inf == nil {
		return
	}

	if err := inf.Reset(bytes.NewReader(zlibInitBytes)); err != nil {
		inf.Close()
		return
	}

	p.mu.Lock()
	if len(p.free) < p.capacity {
		p.free = append(p.free, inf)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	inf.Close()
}

// Len returns the number of idle engines held by the pool.
func (p *InflaterPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
