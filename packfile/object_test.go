package packfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/objstore/plumbing"
)

func TestReadObjectHeaderAt(t *testing.T) {
	t.Parallel()

	content := patterned(300) // size needs a two-byte varint
	b := newPackBuilder(t)
	first := b.addWhole(plumbing.CommitObject, content)
	second := b.addOFSDelta(first, deltaCopyAll(len(content)))
	p := b.open()

	wc := newTestCursor(t)

	h, err := p.ReadObjectHeaderAt(wc, first)
	require.NoError(t, err)
	assert.Equal(t, plumbing.CommitObject, h.Type)
	assert.Equal(t, first, h.Offset)
	assert.Equal(t, int64(len(content)), h.Size)
	assert.Equal(t, first+2, h.ContentOffset)

	h, err = p.ReadObjectHeaderAt(wc, second)
	require.NoError(t, err)
	assert.Equal(t, plumbing.OFSDeltaObject, h.Type)
	assert.Equal(t, first, h.BaseOffset)
}

func TestReadObjectHeaderAtOutOfRange(t *testing.T) {
	t.Parallel()

	b := newPackBuilder(t)
	b.addWhole(plumbing.BlobObject, patterned(64))
	p := b.open()

	wc := newTestCursor(t)

	_, err := p.ReadObjectHeaderAt(wc, 0) // inside the pack header
	assert.ErrorIs(t, err, ErrSeekNotSupported)

	_, err = p.ReadObjectHeaderAt(wc, p.Size()-plumbing.HashSize)
	assert.ErrorIs(t, err, ErrSeekNotSupported)
}

func TestGetWholeObject(t *testing.T) {
	t.Parallel()

	content := patterned(2048)
	b := newPackBuilder(t)
	offset := b.addWhole(plumbing.BlobObject, content)
	p := b.open()

	wc := newTestCursor(t)

	l, err := p.Get(wc, offset)
	require.NoError(t, err)
	assert.Equal(t, plumbing.BlobObject, l.Type())
	assert.Equal(t, int64(len(content)), l.Size())
	assert.Equal(t, content, l.CachedBytes())
	assert.True(t, l.SupportsFastCopyRawData())
}

func TestLoaderAtDoesNotMaterialize(t *testing.T) {
	t.Parallel()

	content := patterned(512)
	b := newPackBuilder(t)
	offset := b.addWhole(plumbing.TreeObject, content)
	p := b.open()

	wc := newTestCursor(t)

	l, err := p.LoaderAt(wc, offset)
	require.NoError(t, err)
	assert.Equal(t, plumbing.TreeObject, l.Type())
	assert.Equal(t, int64(len(content)), l.Size())
	assert.Nil(t, l.CachedBytes())

	require.NoError(t, l.Materialize(wc))
	assert.Equal(t, content, l.CachedBytes())
}

func TestGetOFSDeltaChain(t *testing.T) {
	t.Parallel()

	base := patterned(400)
	mid := append(append([]byte{}, base[:200]...), []byte("rewritten tail")...)
	tip := append(append([]byte{}, mid...), []byte(" and more")...)

	b := newPackBuilder(t)
	baseOff := b.addWhole(plumbing.BlobObject, base)
	midOff := b.addOFSDelta(baseOff, deltaFor(base, mid))
	tipOff := b.addOFSDelta(midOff, deltaFor(mid, tip))
	p := b.open()

	wc := newTestCursor(t)

	l, err := p.Get(wc, tipOff)
	require.NoError(t, err)
	assert.Equal(t, plumbing.BlobObject, l.Type())
	assert.Equal(t, tip, l.CachedBytes())
	assert.True(t, l.SupportsFastCopyRawData())

	// The intermediate object resolves independently too.
	l, err = p.Get(wc, midOff)
	require.NoError(t, err)
	assert.Equal(t, mid, l.CachedBytes())
}

func TestGetDeltaWithCopyCommands(t *testing.T) {
	t.Parallel()

	base := patterned(1000)
	b := newPackBuilder(t)
	baseOff := b.addWhole(plumbing.BlobObject, base)
	deltaOff := b.addOFSDelta(baseOff, deltaCopyAll(len(base)))
	p := b.open()

	wc := newTestCursor(t)

	l, err := p.Get(wc, deltaOff)
	require.NoError(t, err)
	assert.Equal(t, plumbing.BlobObject, l.Type())
	assert.Equal(t, base, l.CachedBytes())
}

func TestGetREFDelta(t *testing.T) {
	t.Parallel()

	base := patterned(300)
	target := append([]byte("prefix "), base...)
	baseID := plumbing.ComputeHash(plumbing.BlobObject, base)

	b := newPackBuilder(t)
	baseOff := b.addWhole(plumbing.BlobObject, base)
	deltaOff := b.addREFDelta(baseID, deltaFor(base, target))

	resolver := func(id plumbing.Hash) (int64, bool) {
		if id == baseID {
			return baseOff, true
		}
		return 0, false
	}
	p := b.open(WithBaseResolver(resolver))

	wc := newTestCursor(t)

	l, err := p.Get(wc, deltaOff)
	require.NoError(t, err)
	assert.Equal(t, plumbing.BlobObject, l.Type())
	assert.Equal(t, target, l.CachedBytes())
	assert.False(t, l.SupportsFastCopyRawData())
}

func TestGetREFDeltaBaseNotFound(t *testing.T) {
	t.Parallel()

	base := patterned(100)
	b := newPackBuilder(t)
	b.addWhole(plumbing.BlobObject, base)
	deltaOff := b.addREFDelta(plumbing.NewHash("0102030405060708090a0b0c0d0e0f1011121314"), deltaFor(base, base))
	p := b.open() // no resolver configured

	wc := newTestCursor(t)

	_, err := p.Get(wc, deltaOff)
	assert.ErrorIs(t, err, ErrBaseNotFound)
}

func TestGetDeltaChainTooDeep(t *testing.T) {
	t.Parallel()

	content := patterned(100)
	b := newPackBuilder(t)
	off := b.addWhole(plumbing.BlobObject, content)
	for i := 0; i < 5; i++ {
		off = b.addOFSDelta(off, deltaCopyAll(len(content)))
	}
	p := b.open(WithMaxDeltaDepth(3))

	wc := newTestCursor(t)

	_, err := p.Get(wc, off)
	assert.ErrorIs(t, err, ErrMaxDeltaDepth)
}

func TestGetCyclicDelta(t *testing.T) {
	t.Parallel()

	id := plumbing.NewHash("aa02030405060708090a0b0c0d0e0f1011121314")

	b := newPackBuilder(t)
	b.addWhole(plumbing.BlobObject, patterned(50))
	deltaOff := b.addREFDelta(id, deltaCopyAll(50))

	// The resolver routes the base reference back to the delta itself.
	resolver := func(plumbing.Hash) (int64, bool) { return deltaOff, true }
	p := b.open(WithBaseResolver(resolver))

	wc := newTestCursor(t)

	_, err := p.Get(wc, deltaOff)
	assert.ErrorIs(t, err, ErrCyclicDelta)
}

func TestGetSizeMismatch(t *testing.T) {
	t.Parallel()

	content := patterned(64)
	b := newPackBuilder(t)
	offset := b.addWhole(plumbing.BlobObject, content)
	raw := b.bytes()

	// Raise the declared size above the stream output; the stream ends
	// before filling it.
	raw[offset+1] = 5 // size becomes 80, stream holds 64

	p, err := NewPack(memFile(t, "mismatch.pack", raw))
	require.NoError(t, err)
	defer p.Close()

	wc := newTestCursor(t)

	_, err = p.Get(wc, offset)
	assert.ErrorIs(t, err, ErrInvalidObject)
}

func TestMaterializeUsesBaseCache(t *testing.T) {
	t.Parallel()

	base := patterned(500)
	b := newPackBuilder(t)
	baseOff := b.addWhole(plumbing.BlobObject, base)
	d1 := b.addOFSDelta(baseOff, deltaCopyAll(len(base)))
	d2 := b.addOFSDelta(baseOff, deltaCopyAll(len(base)))
	p := b.open()

	wc := newTestCursor(t)

	l1, err := p.Get(wc, d1)
	require.NoError(t, err)
	require.Equal(t, base, l1.CachedBytes())

	// The shared base is already materialized in the cursor cache.
	typ, data, ok := wc.cachedBase(p, baseOff)
	require.True(t, ok)
	assert.Equal(t, plumbing.BlobObject, typ)
	assert.Equal(t, base, data)

	l2, err := p.Get(wc, d2)
	require.NoError(t, err)
	assert.Equal(t, base, l2.CachedBytes())
}
