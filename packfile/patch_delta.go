package packfile

import (
	"bytes"
	"errors"

	"github.com/forgekit/objstore/utils/sync"
)

// Delta instruction streams are described in git's delta.h and
// patch-delta.c: a source size, a target size, then a sequence of copy
// (from base) and insert (from stream) commands.

// Delta errors.
var (
	ErrInvalidDelta = errors.New("invalid delta")
	ErrDeltaCmd     = errors.New("wrong delta command")
)

// minDeltaSize defines the smallest size for a delta.
const minDeltaSize = 4

type offset struct {
	mask  byte
	shift uint
}

var offsets = []offset{
	{mask: 0x01, shift: 0},
	{mask: 0x02, shift: 8},
	{mask: 0x04, shift: 16},
	{mask: 0x08, shift: 24},
}

var sizes = []offset{
	{mask: 0x10, shift: 0},
	{mask: 0x20, shift: 8},
	{mask: 0x40, shift: 16},
}

// PatchDelta returns the result of applying the modification deltas in
// delta to src. A corrupted stream is an error: a copy reaching past
// the base, an insert declaring more bytes than follow, or a result
// that misses the declared target size all return ErrInvalidDelta,
// never a truncated result. An unknown command returns ErrDeltaCmd.
func PatchDelta(src, delta []byte) ([]byte, error) {
	if len(delta) < minDeltaSize {
		return nil, ErrInvalidDelta
	}

	b := &bytes.Buffer{}
	if err := patchDelta(b, src, delta); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func patchDelta(dst *bytes.Buffer, src, delta []byte) error {
	srcSz, delta := decodeLEB128(delta)
	if srcSz != uint(len(src)) {
		return ErrInvalidDelta
	}

	targetSz, delta := decodeLEB128(delta)
	remainingTargetSz := targetSz

	dst.Grow(int(targetSz))
	for remainingTargetSz > 0 {
		if len(delta) == 0 {
			return ErrInvalidDelta
		}

		cmd := delta[0]
		delta = delta[1:]

		switch {
		case isCopyFromSrc(cmd):
			var offset, sz uint
			var err error
			offset, delta, err = decodeOffset(cmd, delta)
			if err != nil {
				return err
			}

			sz, delta, err = decodeSize(cmd, delta)
			if err != nil {
				return err
			}

			if invalidSize(sz, remainingTargetSz) ||
				invalidOffsetSize(offset, sz, srcSz) {
				return ErrInvalidDelta
			}
			dst.Write(src[offset : offset+sz])
			remainingTargetSz -= sz

		case isCopyFromDelta(cmd):
			sz := uint(cmd) // cmd is the size itself
			if invalidSize(sz, remainingTargetSz) {
				return ErrInvalidDelta
			}

			if uint(len(delta)) < sz {
				return ErrInvalidDelta
			}

			dst.Write(delta[0:sz])
			remainingTargetSz -= sz
			delta = delta[sz:]

		default:
			return ErrDeltaCmd
		}
	}

	if uint(dst.Len()) != targetSz {
		return ErrInvalidDelta
	}
	return nil
}

// ApplyDelta applies the delta stream to the base bytes, reusing a
// pooled buffer for the intermediate result.
func ApplyDelta(base, delta []byte) ([]byte, error) {
	buf := sync.GetBytesBuffer()
	defer sync.PutBytesBuffer(buf)

	if len(delta) < minDeltaSize {
		return nil, ErrInvalidDelta
	}
	if err := patchDelta(buf, base, delta); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// decodeLEB128 decodes a number encoded as an unsigned LEB128 at the
// start of some binary data and returns the decoded number and the rest
// of the bytes.
func decodeLEB128(input []byte) (uint, []byte) {
	if len(input) == 0 {
		return 0, input
	}

	var num, sz uint
	var b byte
	for {
		b = input[sz]
		num |= (uint(b) & maskPayload) << (sz * 7) // concats 7 bits chunks
		sz++

		if uint(b)&maskContinue == 0 || sz == uint(len(input)) {
			break
		}
	}

	return num, input[sz:]
}

const (
	maskContinue = 0x80 // 1000 0000
	maskPayload  = 0x7f // 0111 1111
)

func isCopyFromSrc(cmd byte) bool {
	return (cmd & maskContinue) != 0
}

func isCopyFromDelta(cmd byte) bool {
	return (cmd&maskContinue) == 0 && cmd != 0
}

func decodeOffset(cmd byte, delta []byte) (uint, []byte, error) {
	var offset uint
	for _, o := range offsets {
		if (cmd & o.mask) != 0 {
			if len(delta) == 0 {
				return 0, nil, ErrInvalidDelta
			}
			offset |= uint(delta[0]) << o.shift
			delta = delta[1:]
		}
	}

	return offset, delta, nil
}

func decodeSize(cmd byte, delta []byte) (uint, []byte, error) {
	var sz uint
	for _, s := range sizes {
		if (cmd & s.mask) != 0 {
			if len(delta) == 0 {
				return 0, nil, ErrInvalidDelta
			}
			sz |= uint(delta[0]) << s.shift
			delta = delta[1:]
		}
	}
	if sz == 0 {
		sz = 0x10000
	}

	return sz, delta, nil
}

func invalidSize(sz, targetSz uint) bool {
	return sz > targetSz
}

func invalidOffsetSize(offset, sz, srcSz uint) bool {
	return offset+sz < offset ||
		offset+sz > srcSz
}
