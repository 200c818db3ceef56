package packfile

import (
	"errors"
	"fmt"
)

// Error specifies errors returned while reading a pack archive.
type Error struct {
	error
}

// NewError returns a new error.
func NewError(reason string) *Error {
	return &Error{errors.New(reason)}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.error
}

// AddDetails returns a new error carrying e plus additional text. The
// original error stays in the chain, so errors.Is against the sentinel
// still matches.
func (e *Error) AddDetails(format string, args ...interface{}) *Error {
	if e.error == nil {
		return &Error{fmt.Errorf(format, args...)}
	}
	return &Error{fmt.Errorf("%w: %s", e, fmt.Sprintf(format, args...))}
}

var (
	// ErrBadSignature is returned when the pack file does not start with
	// the pack signature.
	ErrBadSignature = NewError("malformed pack file signature")
	// ErrUnsupportedVersion is returned when the pack version is not
	// supported.
	ErrUnsupportedVersion = NewError("unsupported packfile version")
	// ErrZLib is returned when the compressed body of an object cannot
	// be inflated.
	ErrZLib = NewError("zlib reading error")
	// ErrChecksumMismatch is returned when the computed trailer checksum
	// of a pack does not match the stored one.
	ErrChecksumMismatch = NewError("pack checksum mismatch")
	// ErrInvalidObject is returned when an object record in the pack is
	// malformed.
	ErrInvalidObject = NewError("invalid object")
	// ErrMaxDeltaDepth is returned when a delta chain is longer than the
	// configured bound.
	ErrMaxDeltaDepth = NewError("delta chain too deep")
	// ErrCyclicDelta is returned when a delta chain references itself.
	ErrCyclicDelta = NewError("cyclic delta chain")
	// ErrBaseNotFound is returned when the base of a reference delta
	// cannot be located.
	ErrBaseNotFound = NewError("delta base not found")
	// ErrSeekNotSupported is returned when a position outside the
	// archive is requested.
	ErrSeekNotSupported = NewError("position outside pack")
)
