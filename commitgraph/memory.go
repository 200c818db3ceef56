package commitgraph

import (
	"sort"

	"github.com/forgekit/objstore/plumbing"
)

// MemoryIndex provides a way to build a commit graph in memory for
// later encoding to file.
type MemoryIndex struct {
	commitData []commitData
	indexMap   map[plumbing.Hash]uint32
}

type commitData struct {
	Hash plumbing.Hash
	*CommitData
}

// NewMemoryIndex creates an in-memory commit graph representation.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		indexMap: make(map[plumbing.Hash]uint32),
	}
}

// GetIndexByHash gets the position in the commit graph from the commit
// hash, if available.
func (mi *MemoryIndex) GetIndexByHash(h plumbing.Hash) (uint32, error) {
	i, ok := mi.indexMap[h]
	if ok {
		return i, nil
	}

	return 0, plumbing.ErrObjectNotFound
}

// GetHashByIndex gets the hash given a position in the commit graph.
func (mi *MemoryIndex) GetHashByIndex(i uint32) (plumbing.Hash, error) {
	if i >= uint32(len(mi.commitData)) {
		return plumbing.ZeroHash, plumbing.ErrObjectNotFound
	}

	return mi.commitData[i].Hash, nil
}

// GetCommitDataByIndex gets the commit data at the given position, if
// available.
func (mi *MemoryIndex) GetCommitDataByIndex(i uint32) (*CommitData, error) {
	if i >= uint32(len(mi.commitData)) {
		return nil, plumbing.ErrObjectNotFound
	}

	cd := mi.commitData[i]

	// The parent indexes are calculated lazily, which allows adding
	// nodes out of order as long as all parents are eventually
	// resolved.
	if cd.ParentIndexes == nil {
		parentIndexes := make([]uint32, len(cd.ParentHashes))
		for i, parentHash := range cd.ParentHashes {
			var err error
			if parentIndexes[i], err = mi.GetIndexByHash(parentHash); err != nil {
				return nil, err
			}
		}
		cd.ParentIndexes = parentIndexes
	}

	return cd.CommitData, nil
}

// Hashes returns all the hashes that are available in the index.
func (mi *MemoryIndex) Hashes() []plumbing.Hash {
	hashes := make([]plumbing.Hash, 0, len(mi.indexMap))
	for k := range mi.indexMap {
		hashes = append(hashes, k)
	}
	return hashes
}

// Add adds a new node to the memory index.
func (mi *MemoryIndex) Add(hash plumbing.Hash, data *CommitData) {
	data.ParentIndexes = nil
	mi.indexMap[hash] = uint32(len(mi.commitData))
	mi.commitData = append(mi.commitData, commitData{Hash: hash, CommitData: data})
}

// MaximumNumberOfHashes returns the number of hashes in the index.
func (mi *MemoryIndex) MaximumNumberOfHashes() uint32 {
	return uint32(len(mi.indexMap))
}

// Close closes the index.
func (mi *MemoryIndex) Close() error {
	return nil
}

// Sort sorts the index by hash, as required before encoding to file.
func (mi *MemoryIndex) Sort() {
	sort.Slice(mi.commitData, func(i, j int) bool {
		return mi.commitData[i].Hash.Compare(mi.commitData[j].Hash.Bytes()) < 0
	})
	for i, cd := range mi.commitData {
		cd.ParentIndexes = nil
		mi.indexMap[cd.Hash] = uint32(i)
	}
}

// ComputeGenerations fills in the generation number of every node from
// its parents: a root has generation 1 and any other commit one more
// than the largest generation among its parents. A parent missing from
// the index leaves its children at GenerationUnknown.
func (mi *MemoryIndex) ComputeGenerations() {
	var gen func(i uint32, depth int) uint64
	gen = func(i uint32, depth int) uint64 {
		cd := mi.commitData[i]
		if cd.Generation != GenerationUnknown || depth > len(mi.commitData) {
			return cd.Generation
		}

		g := uint64(1)
		for _, parent := range cd.ParentHashes {
			pi, ok := mi.indexMap[parent]
			if !ok {
				return GenerationUnknown
			}
			pg := gen(pi, depth+1)
			if pg == GenerationUnknown {
				return GenerationUnknown
			}
			if pg+1 > g {
				g = pg + 1
			}
		}
		if g > GenerationMax {
			g = GenerationMax
		}
		cd.Generation = g
		return g
	}

	for i := range mi.commitData {
		gen(uint32(i), 0)
	}
}
