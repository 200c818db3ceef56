// Package commitgraph implements reading and writing of the chunked
// commit-graph index: a compact binary file giving integer-position
// lookup for commits and precomputed generation numbers used to prune
// ancestry walks without touching the object store.
package commitgraph

import (
	"io"
	"math"
	"time"

	"github.com/forgekit/objstore/plumbing"
)

const (
	// GenerationUnknown marks a commit written to an index before
	// generation numbers existed.
	GenerationUnknown uint64 = 0

	// GenerationInfinity is the generation reported for a commit not
	// covered by the index. If commit A's generation is greater than
	// commit B's, B cannot be an ancestor of A; the two sentinels are
	// excluded from that invariant.
	GenerationInfinity uint64 = math.MaxUint64

	// GenerationMax is the largest generation representable in the
	// file format; the encoder saturates above it.
	GenerationMax = uint64(1)<<30 - 1
)

// CommitData is a reduced representation of a commit as present in the
// commit graph file. It is merely useful as an optimization for walking
// commit history.
type CommitData struct {
	// TreeHash is the hash of the root tree of the commit.
	TreeHash plumbing.Hash
	// ParentIndexes are the positions of the parent commits within the
	// index. They are kept as positions to avoid repeated hashing
	// during a walk; resolve them with GetHashByIndex.
	ParentIndexes []uint32
	// ParentHashes are the hashes of the parent commits.
	ParentHashes []plumbing.Hash
	// Generation is the pre-computed generation number, or
	// GenerationUnknown if not available.
	Generation uint64
	// When is the timestamp of the commit.
	When time.Time
}

// Index represents a commit graph that allows indexed access to its
// nodes using either a commit hash or an integer position.
//
// An Index loaded from a file is immutable and safe for unlimited
// concurrent readers; positions are stable for the lifetime of the
// instance.
type Index interface {
	// GetIndexByHash gets the position in the commit graph from the
	// commit hash, if available.
	GetIndexByHash(h plumbing.Hash) (uint32, error)
	// GetHashByIndex gets the hash given a position in the commit
	// graph.
	GetHashByIndex(i uint32) (plumbing.Hash, error)
	// GetCommitDataByIndex gets the commit data at the given position,
	// if available.
	GetCommitDataByIndex(i uint32) (*CommitData, error)
	// Hashes returns all the hashes that are available in the index.
	Hashes() []plumbing.Hash
	// MaximumNumberOfHashes returns the number of hashes within the
	// index, chained parents included.
	MaximumNumberOfHashes() uint32

	io.Closer
}

// Generation returns the generation number recorded for h, or
// GenerationInfinity when h is not covered by the index.
func Generation(idx Index, h plumbing.Hash) (uint64, error) {
	i, err := idx.GetIndexByHash(h)
	if err == plumbing.ErrObjectNotFound {
		return GenerationInfinity, nil
	}
	if err != nil {
		return 0, err
	}

	d, err := idx.GetCommitDataByIndex(i)
	if err != nil {
		return 0, err
	}
	return d.Generation, nil
}
