// Copyright 2025 Certen Protocol
//
// The DA layer contract the STF core consumes (§6 "DA layer (consumed)").
// Concrete adapters (pkg/da/mockda) implement Layer; the slot loop
// itself only ever sees the Blob/RelevantBlobs shapes defined here.
package da

import "context"

// BlobKind tags a Blob's payload shape.
type BlobKind uint8

const (
	BatchBlob BlobKind = iota
	ProofBlob
)

// Address is the raw sender address bytes a blob was submitted under.
type Address []byte

// Blob is one DA-layer entry extracted from a FilteredBlock.
type Blob struct {
	Kind             BlobKind
	ID               [32]byte
	Data             []byte
	Sender           Address
	FromRegistered   bool
}

// RelevantBlobs splits one block's blobs by kind (§6 extract_relevant_blobs).
type RelevantBlobs struct {
	BatchBlobs []Blob
	ProofBlobs []Blob
}

// DaProof is an inclusion + completeness proof pair for a set of blobs
// (§6 get_extraction_proof).
type DaProof struct {
	InclusionProof   []byte
	CompletenessProof []byte
}

// RelevantProofs pairs the batch-blob and proof-blob extraction proofs.
type RelevantProofs struct {
	Batch DaProof
	Proof DaProof
}

// FilteredBlock is one DA block as handed to the STF (opaque outside the
// adapter; the slot loop only needs its Height, its Hash and the blobs
// extracted from it).
type FilteredBlock struct {
	Height uint64
	Hash   [32]byte
	Raw    []byte
}

// Layer is the contract every DA adapter implements (§6).
type Layer interface {
	// GetBlockAt blocks until the block at height is available or ctx is
	// cancelled.
	GetBlockAt(ctx context.Context, height uint64) (FilteredBlock, error)
	ExtractRelevantBlobs(block FilteredBlock) (RelevantBlobs, error)
	GetExtractionProof(block FilteredBlock, blobs RelevantBlobs) (RelevantProofs, error)
}
