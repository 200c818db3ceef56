package commitgraph

import (
	"io"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/forgekit/objstore/plumbing"
)

// Walker iterates the commits reachable from a set of seeds using only
// the index, visiting them in descending (generation, commit time)
// order. A generation floor prunes the walk: since an ancestor can
// never have a higher generation than its descendant, subtrees at or
// below the floor are skipped without being visited.
type Walker struct {
	index    Index
	frontier *binaryheap.Heap
	seen     map[uint32]struct{}
	floor    uint64
}

type walkNode struct {
	index uint32
	data  *CommitData
}

// walkOrderComparator visits the highest generation first, breaking
// ties by the most recent commit time.
func walkOrderComparator(a, b interface{}) int {
	ca, cb := a.(*walkNode), b.(*walkNode)
	if ca.data.Generation != cb.data.Generation {
		if ca.data.Generation > cb.data.Generation {
			return -1
		}
		return 1
	}
	if ca.data.When.After(cb.data.When) {
		return -1
	}
	if cb.data.When.After(ca.data.When) {
		return 1
	}
	return 0
}

// WalkerOption configures a Walker.
type WalkerOption func(*Walker)

// WithGenerationFloor restricts the walk to commits whose generation is
// strictly greater than floor. Commits carrying GenerationUnknown are
// never pruned, as the ancestry invariant cannot be applied to them.
func WithGenerationFloor(floor uint64) WalkerOption {
	return func(w *Walker) {
		w.floor = floor
	}
}

// NewWalker returns a walker over index seeded with the given commits.
// All seeds must be present in the index.
func NewWalker(index Index, seeds []plumbing.Hash, opts ...WalkerOption) (*Walker, error) {
	w := &Walker{
		index:    index,
		frontier: binaryheap.NewWith(walkOrderComparator),
		seen:     make(map[uint32]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, h := range seeds {
		i, err := index.GetIndexByHash(h)
		if err != nil {
			return nil, err
		}
		if err := w.push(i); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *Walker) push(i uint32) error {
	if _, ok := w.seen[i]; ok {
		return nil
	}
	w.seen[i] = struct{}{}

	data, err := w.index.GetCommitDataByIndex(i)
	if err != nil {
		return err
	}
	if w.pruned(data.Generation) {
		return nil
	}

	w.frontier.Push(&walkNode{index: i, data: data})
	return nil
}

func (w *Walker) pruned(generation uint64) bool {
	return generation != GenerationUnknown &&
		generation != GenerationInfinity &&
		generation <= w.floor
}

// Next returns the next commit of the walk, expanding its parents into
// the frontier. It returns io.EOF when the walk is exhausted.
func (w *Walker) Next() (plumbing.Hash, *CommitData, error) {
	v, ok := w.frontier.Pop()
	if !ok {
		return plumbing.ZeroHash, nil, io.EOF
	}
	node := v.(*walkNode)

	for _, parent := range node.data.ParentIndexes {
		if err := w.push(parent); err != nil {
			return plumbing.ZeroHash, nil, err
		}
	}

	h, err := w.index.GetHashByIndex(node.index)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	return h, node.data, nil
}
