package commitgraph

import "bytes"

const (
	szChunkSig     = 4 // Length of a chunk signature
	chunkSigOffset = 4 // Offset of each chunk signature in chunkSignatures
)

// chunkSignatures contains the coalesced byte signatures for each chunk
// type. The order of the signatures must match the order of the
// ChunkType constants.
var chunkSignatures = []byte("OIDFOIDLCDATEDGE\000\000\000\000")

// ChunkType represents the type of a chunk in the commit graph file.
type ChunkType int

const (
	OIDFanoutChunk     ChunkType = iota // "OIDF"
	OIDLookupChunk                      // "OIDL"
	CommitDataChunk                     // "CDAT"
	ExtraEdgeListChunk                  // "EDGE"
	ZeroChunk                           // "\000\000\000\000"
)

// ZeroChunk is not a valid chunk type, but it determines the length of
// the chunk type list.
const lenChunks = int(ZeroChunk)

// Signature returns the byte signature for the chunk type.
func (ct ChunkType) Signature() []byte {
	if ct >= ZeroChunk || ct < 0 {
		return chunkSignatures[ZeroChunk*chunkSigOffset : ZeroChunk*chunkSigOffset+szChunkSig]
	}

	return chunkSignatures[ct*chunkSigOffset : ct*chunkSigOffset+szChunkSig]
}

// ChunkTypeFromBytes returns the chunk type for the given byte
// signature.
func ChunkTypeFromBytes(b []byte) (ChunkType, bool) {
	idx := bytes.Index(chunkSignatures, b)
	if idx == -1 || idx%chunkSigOffset != 0 {
		return -1, false
	}
	return ChunkType(idx / chunkSigOffset), true
}
