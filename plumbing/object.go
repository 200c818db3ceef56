package plumbing

import "errors"

var (
	// ErrObjectNotFound is returned when an object is not found.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidType is returned when an invalid object type is provided.
	ErrInvalidType = errors.New("invalid object type")
)

// ObjectType internal object type.
// Integer values from 0 to 7 map to those used on the pack wire format.
type ObjectType int8

const (
	// InvalidObject represents an invalid object type.
	InvalidObject ObjectType = 0
	// CommitObject is a commit object.
	CommitObject ObjectType = 1
	// TreeObject is a tree object.
	TreeObject ObjectType = 2
	// BlobObject is a blob object.
	BlobObject ObjectType = 3
	// TagObject is an annotated tag object.
	TagObject ObjectType = 4
	// OFSDeltaObject is an offset delta object type (5 reserved for
	// future expansion).
	OFSDeltaObject ObjectType = 6
	// REFDeltaObject is a reference delta object type.
	REFDeltaObject ObjectType = 7

	// AnyObject is used to represent any object type.
	AnyObject ObjectType = -127
)

func (t ObjectType) String() string {
	switch t {
	case CommitObject:
		return "commit"
	case TreeObject:
		return "tree"
	case BlobObject:
		return "blob"
	case TagObject:
		return "tag"
	case OFSDeltaObject:
		return "ofs-delta"
	case REFDeltaObject:
		return "ref-delta"
	case AnyObject:
		return "any"
	default:
		return "unknown"
	}
}

// Bytes returns the string representation encoded as bytes, as used in
// the object header.
func (t ObjectType) Bytes() []byte {
	return []byte(t.String())
}

// Valid returns true if t is a valid ObjectType.
func (t ObjectType) Valid() bool {
	return t >= CommitObject && t <= REFDeltaObject && t != 5
}

// IsDelta returns true for the two delta object types.
func (t ObjectType) IsDelta() bool {
	return t == OFSDeltaObject || t == REFDeltaObject
}

// ParseObjectType parses a string representation of ObjectType. It
// returns an error on an invalid string.
func ParseObjectType(value string) (typ ObjectType, err error) {
	switch value {
	case "commit":
		typ = CommitObject
	case "tree":
		typ = TreeObject
	case "blob":
		typ = BlobObject
	case "tag":
		typ = TagObject
	case "ofs-delta":
		typ = OFSDeltaObject
	case "ref-delta":
		typ = REFDeltaObject
	default:
		err = ErrInvalidType
	}
	return
}
