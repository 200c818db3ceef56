package packfile

import (
	"fmt"

	"github.com/forgekit/objstore/plumbing"
)

// ObjectHeader is the parsed record header of one packed object.
type ObjectHeader struct {
	// Type is the declared storage type, which for delta records is
	// OFSDeltaObject or REFDeltaObject rather than the final type.
	Type plumbing.ObjectType
	// Offset is the byte offset of the record within the archive.
	Offset int64
	// Size is the inflated size of the record's own stream. For delta
	// records this is the size of the delta instruction stream, not of
	// the resulting object.
	Size int64
	// ContentOffset is the byte offset of the compressed body.
	ContentOffset int64
	// BaseOffset is the offset of the base record, for ofs-delta
	// records.
	BaseOffset int64
	// BaseID is the id of the base object, for ref-delta records.
	BaseID plumbing.Hash
}

// ReadObjectHeaderAt parses the object record header at the given
// archive offset.
func (p *Pack) ReadObjectHeaderAt(wc *WindowCursor, offset int64) (*ObjectHeader, error) {
	if offset < headerLength || offset >= p.size-plumbing.HashSize {
		return nil, ErrSeekNotSupported.AddDetails("pack %s offset %d", p.name, offset)
	}

	// Longest possible header: one type+size varint (10 bytes) plus a
	// base reference (20 bytes).
	var buf [32]byte
	n, err := wc.Copy(p, offset, buf[:])
	if err != nil {
		return nil, err
	}
	b := buf[:n]

	truncated := func() error {
		return ErrInvalidObject.AddDetails("pack %s: truncated object header at %d", p.name, offset)
	}

	if len(b) == 0 {
		return nil, truncated()
	}

	c := b[0]
	i := 1
	h := &ObjectHeader{
		Type:   plumbing.ObjectType((c >> 4) & 7),
		Offset: offset,
		Size:   int64(c & 0x0f),
	}

	shift := uint(4)
	for c&0x80 != 0 {
		if i >= len(b) {
			return nil, truncated()
		}
		c = b[i]
		i++
		h.Size |= int64(c&0x7f) << shift
		shift += 7
	}

	switch h.Type {
	case plumbing.CommitObject, plumbing.TreeObject, plumbing.BlobObject, plumbing.TagObject:
	case plumbing.OFSDeltaObject:
		if i >= len(b) {
			return nil, truncated()
		}
		c = b[i]
		i++
		neg := int64(c & 0x7f)
		for c&0x80 != 0 {
			if i >= len(b) {
				return nil, truncated()
			}
			c = b[i]
			i++
			neg = (neg+1)<<7 | int64(c&0x7f)
		}

		h.BaseOffset = offset - neg
		if h.BaseOffset < headerLength || h.BaseOffset >= offset {
			return nil, ErrInvalidObject.AddDetails("pack %s: delta at %d has base offset %d out of range", p.name, offset, h.BaseOffset)
		}
	case plumbing.REFDeltaObject:
		if i+plumbing.HashSize > len(b) {
			return nil, truncated()
		}
		copy(h.BaseID[:], b[i:])
		i += plumbing.HashSize
	default:
		return nil, ErrInvalidObject.AddDetails("pack %s: unknown object type %d at %d", p.name, h.Type, offset)
	}

	h.ContentOffset = offset + int64(i)
	return h, nil
}

// ObjectLoader materializes the bytes of one stored object, whether the
// record holds it whole or as a delta against a base.
type ObjectLoader interface {
	// Type returns the object type. Before materialization of a delta
	// record this is the storage type (ofs-delta or ref-delta).
	Type() plumbing.ObjectType
	// Size returns the declared size before materialization and the
	// resolved object size after.
	Size() int64
	// CachedBytes returns the materialized bytes, or nil before
	// Materialize succeeded. After materialization it always succeeds
	// without touching the archive.
	CachedBytes() []byte
	// SupportsFastCopyRawData reports whether the compressed record can
	// be copied verbatim into another archive of the same checksum
	// representation without re-inflating.
	SupportsFastCopyRawData() bool
	// Materialize resolves the object bytes, recursively applying delta
	// chains.
	Materialize(wc *WindowCursor) error
}

// PackedObjectLoader is the ObjectLoader over one pack record.
type PackedObjectLoader struct {
	pack   *Pack
	header *ObjectHeader

	typ          plumbing.ObjectType
	data         []byte
	materialized bool
}

var _ ObjectLoader = (*PackedObjectLoader)(nil)

// LoaderAt parses the record header at offset and returns an
// unmaterialized loader for it.
func (p *Pack) LoaderAt(wc *WindowCursor, offset int64) (*PackedObjectLoader, error) {
	h, err := p.ReadObjectHeaderAt(wc, offset)
	if err != nil {
		return nil, err
	}
	return &PackedObjectLoader{pack: p, header: h, typ: h.Type}, nil
}

// Get materializes the object stored at offset.
func (p *Pack) Get(wc *WindowCursor, offset int64) (*PackedObjectLoader, error) {
	l, err := p.LoaderAt(wc, offset)
	if err != nil {
		return nil, err
	}
	if err := l.Materialize(wc); err != nil {
		return nil, err
	}
	return l, nil
}

// Type implements ObjectLoader.
func (l *PackedObjectLoader) Type() plumbing.ObjectType {
	return l.typ
}

// Size implements ObjectLoader.
func (l *PackedObjectLoader) Size() int64 {
	if l.materialized {
		return int64(len(l.data))
	}
	return l.header.Size
}

// CachedBytes implements ObjectLoader.
func (l *PackedObjectLoader) CachedBytes() []byte {
	return l.data
}

// SupportsFastCopyRawData implements ObjectLoader. Whole records and
// ofs-delta records are self-contained within the archive; ref-delta
// records depend on a base located elsewhere.
func (l *PackedObjectLoader) SupportsFastCopyRawData() bool {
	return l.header.Type != plumbing.REFDeltaObject
}

// Header returns the parsed record header.
func (l *PackedObjectLoader) Header() *ObjectHeader {
	return l.header
}

// Materialize implements ObjectLoader. It is idempotent; once resolved,
// all reads are served from the loader without further I/O.
func (l *PackedObjectLoader) Materialize(wc *WindowCursor) error {
	if l.materialized {
		return nil
	}

	typ, data, err := l.pack.materialize(wc, l.header)
	if err != nil {
		return err
	}

	l.typ = typ
	l.data = data
	l.materialized = true
	return nil
}

// materialize resolves hdr to its final bytes. Delta chains are read
// back to front: the walk follows base references down to a whole
// record (or a cached base), then applies the delta streams in reverse.
// The walk is bounded by the pack's delta depth limit and rejects
// cycles instead of trusting the archive.
func (p *Pack) materialize(wc *WindowCursor, hdr *ObjectHeader) (plumbing.ObjectType, []byte, error) {
	var steps []*ObjectHeader
	visited := make(map[int64]struct{})

	var typ plumbing.ObjectType
	var data []byte

	h := hdr
	for {
		if t, d, ok := wc.cachedBase(p, h.Offset); ok {
			typ, data = t, d
			break
		}

		if !h.Type.IsDelta() {
			d, err := p.inflateRecord(wc, h)
			if err != nil {
				return plumbing.InvalidObject, nil, err
			}
			typ, data = h.Type, d
			wc.storeBase(p, h.Offset, typ, data)
			break
		}

		if len(steps) >= p.maxDeltaDepth {
			return plumbing.InvalidObject, nil, ErrMaxDeltaDepth.AddDetails("pack %s: chain at %d exceeds %d", p.name, hdr.Offset, p.maxDeltaDepth)
		}

		visited[h.Offset] = struct{}{}
		steps = append(steps, h)

		baseOffset, err := p.baseOffset(h)
		if err != nil {
			return plumbing.InvalidObject, nil, err
		}
		if _, ok := visited[baseOffset]; ok {
			return plumbing.InvalidObject, nil, ErrCyclicDelta.AddDetails("pack %s: delta at %d revisits %d", p.name, hdr.Offset, baseOffset)
		}

		h, err = p.ReadObjectHeaderAt(wc, baseOffset)
		if err != nil {
			return plumbing.InvalidObject, nil, err
		}
	}

	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]

		delta, err := p.inflateRecord(wc, s)
		if err != nil {
			return plumbing.InvalidObject, nil, err
		}

		data, err = PatchDelta(data, delta)
		if err != nil {
			return plumbing.InvalidObject, nil, fmt.Errorf("pack %s: delta at offset %d: %w", p.name, s.Offset, err)
		}
		wc.storeBase(p, s.Offset, typ, data)
	}

	return typ, data, nil
}

// inflateRecord reads the record's own stream, enforcing the declared
// size.
func (p *Pack) inflateRecord(wc *WindowCursor, h *ObjectHeader) ([]byte, error) {
	data := make([]byte, h.Size)
	n, err := wc.Inflate(p, h.ContentOffset, data)
	if err != nil {
		return nil, err
	}
	if int64(n) != h.Size {
		return nil, ErrInvalidObject.AddDetails("pack %s: object at %d inflated to %d bytes, declared %d", p.name, h.Offset, n, h.Size)
	}
	return data, nil
}

func (p *Pack) baseOffset(h *ObjectHeader) (int64, error) {
	if h.Type == plumbing.OFSDeltaObject {
		return h.BaseOffset, nil
	}

	if p.resolveBase != nil {
		if offset, ok := p.resolveBase(h.BaseID); ok {
			return offset, nil
		}
	}
	return 0, ErrBaseNotFound.AddDetails("pack %s: base %s of delta at %d", p.name, h.BaseID, h.Offset)
}
