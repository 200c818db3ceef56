// Package plumbing implements the core value types shared by the object
// storage engine: content identifiers and object types.
package plumbing

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

const (
	// HashSize is the amount of bytes a Hash yields.
	HashSize = 20
	// HexSize is the string size of a Hash represented in hexadecimal.
	HexSize = HashSize * 2
)

// Hash is an SHA1 hashed content identifier.
type Hash [HashSize]byte

// ZeroHash is Hash with value zero.
var ZeroHash Hash

// NewHash returns a new Hash from a hexadecimal hash representation.
// Malformed input yields ZeroHash.
func NewHash(s string) Hash {
	if len(s) != HexSize {
		return ZeroHash
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroHash
	}

	var h Hash
	copy(h[:], b)
	return h
}

// NewHashFromBytes returns a new Hash from its raw byte representation.
// The input must be exactly HashSize bytes long.
func NewHashFromBytes(b []byte) (Hash, bool) {
	var h Hash
	if len(b) != HashSize {
		return h, false
	}

	copy(h[:], b)
	return h, true
}

// NewHashFromWords returns a new Hash built from five packed big-endian
// 32-bit words.
func NewHashFromWords(w [5]uint32) Hash {
	var h Hash
	for i, v := range w {
		binary.BigEndian.PutUint32(h[i*4:], v)
	}
	return h
}

// IsHash returns true if the given string is a valid hexadecimal hash.
func IsHash(s string) bool {
	if len(s) != HexSize {
		return false
	}

	_, err := hex.DecodeString(s)
	return err == nil
}

// IsZero returns true if the hash is the zero value.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the raw byte representation of the hash.
func (h Hash) Bytes() []byte {
	return h[:]
}

// Compare compares the hash against the given raw bytes, returning the
// same result as bytes.Compare.
func (h Hash) Compare(in []byte) int {
	return bytes.Compare(h[:], in)
}

// MutableHash is an in-place constructible hash for parsing hot loops.
// It must be converted with Immutable before being shared or used as a
// map key.
type MutableHash struct {
	h Hash
}

// SetRaw replaces the hash value with the first HashSize bytes of b.
func (m *MutableHash) SetRaw(b []byte) {
	copy(m.h[:], b)
}

// SetHex replaces the hash value with the decoded hexadecimal string.
// It reports whether the input was well formed.
func (m *MutableHash) SetHex(s string) bool {
	if !IsHash(s) {
		return false
	}

	b, _ := hex.DecodeString(s)
	copy(m.h[:], b)
	return true
}

// SetWords replaces the hash value with five packed big-endian 32-bit
// words.
func (m *MutableHash) SetWords(w [5]uint32) {
	m.h = NewHashFromWords(w)
}

// Immutable returns the current value as an immutable Hash.
func (m *MutableHash) Immutable() Hash {
	return m.h
}

// HashesSort sorts a slice of Hashes in increasing order.
func HashesSort(a []Hash) {
	sort.Sort(HashSlice(a))
}

// HashSlice attaches the methods of sort.Interface to []Hash, sorting in
// increasing order.
type HashSlice []Hash

func (p HashSlice) Len() int           { return len(p) }
func (p HashSlice) Less(i, j int) bool { return p[i].Compare(p[j].Bytes()) < 0 }
func (p HashSlice) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
