// Package packfile implements the read path of pack archives: a bounded
// window cache over archive bytes, pooled inflation engines, cursors
// that pin windows while decompressing, and object loaders that resolve
// delta chains.
package packfile

import (
	"io"

	billy "github.com/go-git/go-billy/v5"
	"github.com/pjbgf/sha1cd"

	"github.com/forgekit/objstore/plumbing"
	"github.com/forgekit/objstore/utils/sync"
	"github.com/forgekit/objstore/utils/trace"
)

var signature = []byte{'P', 'A', 'C', 'K'}

const (
	// VersionSupported is the pack version understood by this package.
	VersionSupported uint32 = 2

	// headerLength is the length of the fixed pack header: signature,
	// version and object count.
	headerLength = 12

	// DefaultMaxDeltaDepth bounds delta chain resolution when no
	// explicit limit is configured.
	DefaultMaxDeltaDepth = 50
)

// BaseResolver locates the offset of an object referenced by id from a
// reference delta. It reports false when the id is not present in the
// archive.
type BaseResolver func(plumbing.Hash) (int64, bool)

// Pack is a read-only handle to one immutable pack archive.
//
// A Pack carries no per-read state; any number of cursors may read from
// the same Pack concurrently.
type Pack struct {
	file billy.File
	name string
	size int64

	objectCount uint32
	id          plumbing.Hash

	maxDeltaDepth int
	resolveBase   BaseResolver
}

// PackOption configures a Pack.
type PackOption func(*Pack)

// WithMaxDeltaDepth sets the maximum delta chain length accepted before
// a chain is reported as corrupt.
func WithMaxDeltaDepth(depth int) PackOption {
	return func(p *Pack) {
		if depth > 0 {
			p.maxDeltaDepth = depth
		}
	}
}

// WithBaseResolver sets the resolver used to locate reference delta
// bases within the archive.
func WithBaseResolver(fn BaseResolver) PackOption {
	return func(p *Pack) {
		p.resolveBase = fn
	}
}

// NewPack opens a pack archive, validating its header and reading the
// trailer checksum. The file must stay open for the lifetime of the
// Pack.
func NewPack(file billy.File, opts ...PackOption) (*Pack, error) {
	p := &Pack{
		file:          file,
		name:          file.Name(),
		maxDeltaDepth: DefaultMaxDeltaDepth,
	}
	for _, opt := range opts {
		opt(p)
	}

	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	p.size = size

	if size < headerLength+plumbing.HashSize {
		return nil, ErrBadSignature.AddDetails("pack %s: %d bytes", p.name, size)
	}

	var hdr [headerLength]byte
	if _, err := file.ReadAt(hdr[:], 0); err != nil {
		return nil, err
	}

	for i, c := range signature {
		if hdr[i] != c {
			return nil, ErrBadSignature.AddDetails("pack %s", p.name)
		}
	}

	version := beUint32(hdr[4:])
	if version != VersionSupported {
		return nil, ErrUnsupportedVersion.AddDetails("pack %s: version %d", p.name, version)
	}
	p.objectCount = beUint32(hdr[8:])

	var id [plumbing.HashSize]byte
	if _, err := file.ReadAt(id[:], size-plumbing.HashSize); err != nil {
		return nil, err
	}
	p.id = id

	trace.Pack.Printf("packfile: opened %s, %d objects, %d bytes", p.name, p.objectCount, p.size)
	return p, nil
}

// Name returns the file name the archive was opened from.
func (p *Pack) Name() string {
	return p.name
}

// Size returns the archive length in bytes, trailer included.
func (p *Pack) Size() int64 {
	return p.size
}

// ObjectCount returns the object count declared in the pack header.
func (p *Pack) ObjectCount() uint32 {
	return p.objectCount
}

// ID returns the trailer checksum, which identifies the archive.
func (p *Pack) ID() plumbing.Hash {
	return p.id
}

// Close closes the underlying file. Windows already cached remain
// readable until evicted; no new loads will succeed.
func (p *Pack) Close() error {
	trace.Pack.Printf("packfile: closed %s", p.name)
	return p.file.Close()
}

// readAt serves raw archive bytes to the window cache loader. Short
// reads at the end of the archive are not an error.
func (p *Pack) readAt(b []byte, off int64) (int, error) {
	n, err := p.file.ReadAt(b, off)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// VerifyChecksum recomputes the trailer checksum over the whole archive
// and compares it against the stored one.
func (p *Pack) VerifyChecksum(wc *WindowCursor) error {
	h := sha1cd.New()

	buf := sync.GetByteSlice()
	defer sync.PutByteSlice(buf)

	var pos int64
	remain := p.size - plumbing.HashSize
	for remain > 0 {
		chunk := int64(len(*buf))
		if chunk > remain {
			chunk = remain
		}

		n, err := wc.Copy(p, pos, (*buf)[:chunk])
		if err != nil {
			return err
		}
		if int64(n) < chunk {
			return ErrChecksumMismatch.AddDetails("pack %s truncated at %d", p.name, pos+int64(n))
		}

		h.Write((*buf)[:n])
		pos += int64(n)
		remain -= int64(n)
	}

	if p.id.Compare(h.Sum(nil)) != 0 {
		return ErrChecksumMismatch.AddDetails("pack %s", p.name)
	}
	return nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
