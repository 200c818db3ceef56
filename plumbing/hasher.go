package plumbing

import (
	"hash"
	"strconv"

	"github.com/pjbgf/sha1cd"
)

// Hasher computes content identifiers over an object header followed by
// the object body, matching the on-disk object id derivation.
type Hasher struct {
	hash.Hash
}

// NewHasher returns a Hasher primed with the header for the given object
// type and size.
func NewHasher(t ObjectType, size int64) Hasher {
	h := Hasher{sha1cd.New()}
	h.Reset(t, size)
	return h
}

// Reset restarts the hasher with a new object header.
func (h Hasher) Reset(t ObjectType, size int64) {
	h.Hash.Reset()
	h.Write(t.Bytes())
	h.Write([]byte(" "))
	h.Write([]byte(strconv.FormatInt(size, 10)))
	h.Write([]byte{0})
}

// Sum returns the id of the hashed object.
func (h Hasher) Sum() (hash Hash) {
	copy(hash[:], h.Hash.Sum(nil))
	return
}

// ComputeHash computes the id for a given ObjectType and content.
func ComputeHash(t ObjectType, content []byte) Hash {
	h := NewHasher(t, int64(len(content)))
	h.Write(content)
	return h.Sum()
}
