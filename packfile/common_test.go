package packfile

import (
	"bytes"
	"encoding/binary"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/klauspost/compress/zlib"
	"github.com/pjbgf/sha1cd"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/objstore/plumbing"
)

// packBuilder assembles a well-formed synthetic pack archive in memory:
// header, object records with zlib bodies and the trailer checksum.
type packBuilder struct {
	t       *testing.T
	records bytes.Buffer
	offsets []int64
}

func newPackBuilder(t *testing.T) *packBuilder {
	t.Helper()
	return &packBuilder{t: t}
}

func (b *packBuilder) nextOffset() int64 {
	return headerLength + int64(b.records.Len())
}

// addWhole appends a non-delta record holding content and returns its
// offset.
func (b *packBuilder) addWhole(typ plumbing.ObjectType, content []byte) int64 {
	offset := b.nextOffset()
	b.records.Write(encodeTypeAndSize(typ, int64(len(content))))
	b.deflate(content)
	b.offsets = append(b.offsets, offset)
	return offset
}

// addOFSDelta appends an ofs-delta record against the base at
// baseOffset and returns its offset.
func (b *packBuilder) addOFSDelta(baseOffset int64, delta []byte) int64 {
	offset := b.nextOffset()
	b.records.Write(encodeTypeAndSize(plumbing.OFSDeltaObject, int64(len(delta))))
	b.records.Write(encodeBaseOffset(offset - baseOffset))
	b.deflate(delta)
	b.offsets = append(b.offsets, offset)
	return offset
}

// addREFDelta appends a ref-delta record against the given base id and
// returns its offset.
func (b *packBuilder) addREFDelta(baseID plumbing.Hash, delta []byte) int64 {
	offset := b.nextOffset()
	b.records.Write(encodeTypeAndSize(plumbing.REFDeltaObject, int64(len(delta))))
	b.records.Write(baseID[:])
	b.deflate(delta)
	b.offsets = append(b.offsets, offset)
	return offset
}

func (b *packBuilder) deflate(content []byte) {
	zw := zlib.NewWriter(&b.records)
	_, err := zw.Write(content)
	require.NoError(b.t, err)
	require.NoError(b.t, zw.Close())
}

// bytes returns the complete archive, trailer included.
func (b *packBuilder) bytes() []byte {
	var buf bytes.Buffer
	buf.Write(signature)
	require.NoError(b.t, binary.Write(&buf, binary.BigEndian, VersionSupported))
	require.NoError(b.t, binary.Write(&buf, binary.BigEndian, uint32(len(b.offsets))))
	buf.Write(b.records.Bytes())

	h := sha1cd.New()
	h.Write(buf.Bytes())
	buf.Write(h.Sum(nil))
	return buf.Bytes()
}

// file writes the archive to an in-memory filesystem and returns the
// open file.
func (b *packBuilder) file() billy.File {
	return memFile(b.t, "objects/pack/test.pack", b.bytes())
}

// open builds the archive and opens it as a Pack.
func (b *packBuilder) open(opts ...PackOption) *Pack {
	p, err := NewPack(b.file(), opts...)
	require.NoError(b.t, err)
	b.t.Cleanup(func() { p.Close() })
	return p
}

func memFile(t *testing.T, name string, content []byte) billy.File {
	t.Helper()

	fs := memfs.New()
	f, err := fs.Create(name)
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	return f
}

// encodeTypeAndSize encodes the record header varint: type in the high
// bits of the first byte, size continued seven bits at a time.
func encodeTypeAndSize(typ plumbing.ObjectType, size int64) []byte {
	out := []byte{byte(typ)<<4 | byte(size&0x0f)}
	size >>= 4
	for size > 0 {
		out[len(out)-1] |= 0x80
		out = append(out, byte(size&0x7f))
		size >>= 7
	}
	return out
}

// encodeBaseOffset encodes the negative base distance of an ofs-delta
// record.
func encodeBaseOffset(neg int64) []byte {
	var tmp [10]byte
	i := len(tmp) - 1
	tmp[i] = byte(neg & 0x7f)
	for neg >>= 7; neg > 0; neg >>= 7 {
		neg--
		i--
		tmp[i] = 0x80 | byte(neg&0x7f)
	}
	return tmp[i:]
}

// deltaFor builds a delta stream producing target out of src, encoded
// as a single insert of the target bytes.
func deltaFor(src, target []byte) []byte {
	delta := encodeLEB128(uint(len(src)))
	delta = append(delta, encodeLEB128(uint(len(target)))...)

	rest := target
	for len(rest) > 0 {
		n := len(rest)
		if n > 127 {
			n = 127
		}
		delta = append(delta, byte(n))
		delta = append(delta, rest[:n]...)
		rest = rest[n:]
	}
	return delta
}

// deltaCopyAll builds a delta stream copying all of src verbatim.
func deltaCopyAll(srcLen int) []byte {
	delta := encodeLEB128(uint(srcLen))
	delta = append(delta, encodeLEB128(uint(srcLen))...)
	return append(delta, copyCommand(0, srcLen)...)
}

func copyCommand(offset, size int) []byte {
	cmd := byte(0x80)
	var args []byte
	for i := uint(0); i < 4; i++ {
		if b := byte(offset >> (8 * i)); b != 0 {
			cmd |= 1 << i
			args = append(args, b)
		}
	}
	for i := uint(0); i < 3; i++ {
		if b := byte(size >> (8 * i)); b != 0 {
			cmd |= 0x10 << i
			args = append(args, b)
		}
	}
	return append([]byte{cmd}, args...)
}

func encodeLEB128(v uint) []byte {
	var out []byte
	for {
		b := byte(v & maskPayload)
		v >>= 7
		if v > 0 {
			b |= maskContinue
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// patterned returns n deterministic, non-repeating bytes.
func patterned(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + i/251)
	}
	return out
}
