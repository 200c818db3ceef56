// Package binary implements reading and writing of big-endian binary
// values on top of the standard encoding/binary.
package binary

import (
	"encoding/binary"
	"io"

	"github.com/forgekit/objstore/plumbing"
)

// Read reads structured binary data from r into data, using BigEndian
// order.
func Read(r io.Reader, data ...interface{}) error {
	for _, v := range data {
		if err := binary.Read(r, binary.BigEndian, v); err != nil {
			return err
		}
	}

	return nil
}

// ReadUint64 reads 8 bytes and returns them as a BigEndian uint64.
func ReadUint64(r io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}

	return v, nil
}

// ReadUint32 reads 4 bytes and returns them as a BigEndian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}

	return v, nil
}

// ReadUint16 reads 2 bytes and returns them as a BigEndian uint16.
func ReadUint16(r io.Reader) (uint16, error) {
	var v uint16
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}

	return v, nil
}

// ReadHash reads a plumbing.Hash from r.
func ReadHash(r io.Reader) (plumbing.Hash, error) {
	var h plumbing.Hash
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return plumbing.ZeroHash, err
	}

	return h, nil
}

// ReadVariableWidthInt reads and returns an int in base-128 varint
// format, as used by the pack object headers.
func ReadVariableWidthInt(r io.ByteReader) (int64, error) {
	var c byte
	var err error
	if c, err = r.ReadByte(); err != nil {
		return 0, err
	}

	var v = int64(c & maskLength)
	var shift uint = lengthBits
	for c&maskContinue > 0 {
		if c, err = r.ReadByte(); err != nil {
			return 0, err
		}

		v |= int64(c&maskLength) << shift
		shift += lengthBits
	}

	return v, nil
}

const (
	maskContinue = uint8(128) // 1000 0000
	maskLength   = uint8(127) // 0111 1111
	lengthBits   = uint(7)    // subsequent bytes have 7 bits to store the length
)
