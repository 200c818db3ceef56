package packfile

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deflated(t *testing.T, content []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestInflaterReset(t *testing.T) {
	t.Parallel()

	inf := newInflater()
	defer inf.Close()

	for _, content := range [][]byte{
		[]byte("first stream"),
		[]byte("second, unrelated stream"),
		{},
	} {
		require.NoError(t, inf.Reset(bytes.NewReader(deflated(t, content))))
		out, err := io.ReadAll(inf)
		require.NoError(t, err)
		assert.Equal(t, content, out)
	}
}

func TestInflaterPoolReuse(t *testing.T) {
	t.Parallel()

	pool := NewInflaterPool(2)
	assert.Zero(t, pool.Len())

	inf := pool.Get()
	require.NotNil(t, inf)

	require.NoError(t, inf.Reset(bytes.NewReader(deflated(t, []byte("data")))))
	out, err := io.ReadAll(inf)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), out)

	pool.Put(inf)
	assert.Equal(t, 1, pool.Len())

	// The same engine comes back and is clean.
	again := pool.Get()
	assert.Same(t, inf, again)
	assert.Zero(t, pool.Len())

	require.NoError(t, again.Reset(bytes.NewReader(deflated(t, []byte("other")))))
	out, err = io.ReadAll(again)
	require.NoError(t, err)
	assert.Equal(t, []byte("other"), out)
	pool.Put(again)
}

func TestInflaterPoolOverCapacity(t *testing.T) {
	t.Parallel()

	pool := NewInflaterPool(1)

	a, b := pool.Get(), pool.Get()
	pool.Put(a)
	pool.Put(b) // beyond capacity, closed instead of pooled

	assert.Equal(t, 1, pool.Len())
}

func TestInflaterPoolGetBeyondCapacity(t *testing.T) {
	t.Parallel()

	// An empty pool still serves engines; capacity only bounds what is
	// retained.
	pool := NewInflaterPool(1)
	a, b, c := pool.Get(), pool.Get(), pool.Get()

	for _, inf := range []*Inflater{a, b, c} {
		require.NotNil(t, inf)
		require.NoError(t, inf.Reset(bytes.NewReader(deflated(t, []byte("x")))))
		out, err := io.ReadAll(inf)
		require.NoError(t, err)
		assert.Equal(t, []byte("x"), out)
	}

	pool.Put(a)
	pool.Put(b)
	pool.Put(c)
	assert.Equal(t, 1, pool.Len())
}

func TestInflaterPoolDefaultCapacity(t *testing.T) {
	t.Parallel()

	pool := NewInflaterPool(0)

	engines := make([]*Inflater, DefaultInflaterSlots+2)
	for i := range engines {
		engines[i] = pool.Get()
	}
	for _, inf := range engines {
		pool.Put(inf)
	}

	assert.Equal(t, DefaultInflaterSlots, pool.Len())
}

func TestInflaterPoolPutNil(t *testing.T) {
	t.Parallel()

	pool := NewInflaterPool(1)
	pool.Put(nil)
	assert.Zero(t, pool.Len())
}
