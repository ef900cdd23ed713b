// Copyright 2025 Certen Protocol
//
// An in-memory, deterministic da.Layer used by tests and local dev.
// Grounded on pkg/batch/collector_test.go's in-memory fake-store style
// (no database, no network, plain slices guarded by a mutex) restyled
// from "collected batch fixtures" to "DA blocks".
package mockda

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sovrollup/stf-core/pkg/da"
)

// ErrHeightTooLarge is the DA's permanent rejection of an out-of-range
// height request (§8 boundary case: "Height > u32::MAX on mock DA
// rejected with permanent error").
var ErrHeightTooLarge = errors.New("mockda: height exceeds maximum addressable block height")

const maxHeight = uint64(^uint32(0))

// block is one appended DA block: an ordered list of submitted blobs.
type block struct {
	hash  [32]byte
	blobs []da.Blob
}

// DA is a single-process, append-only mock DA. SubmitBlob appends to the
// in-progress block; AdvanceHeight seals it and starts the next one.
// GetBlockAt blocks on a condition variable until the requested height has
// been sealed or ctx is cancelled.
type DA struct {
	mu      sync.Mutex
	cond    *sync.Cond
	sealed  []block
	pending []da.Blob
	nextSeq uint64
}

// New constructs an empty mock DA with an empty genesis block at height 0.
func New() *DA {
	d := &DA{sealed: []block{{}}}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// SubmitBlob appends a blob to the block currently being assembled.
func (d *DA) SubmitBlob(kind da.BlobKind, data []byte, sender da.Address, fromRegistered bool) [32]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := blobID(d.nextSeq, data)
	d.nextSeq++
	d.pending = append(d.pending, da.Blob{Kind: kind, ID: id, Data: data, Sender: sender, FromRegistered: fromRegistered})
	return id
}

// AdvanceHeight seals the pending blobs into a new block and wakes any
// goroutine blocked in GetBlockAt.
func (d *DA) AdvanceHeight() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sealed = append(d.sealed, block{hash: blockHash(uint64(len(d.sealed)), d.pending), blobs: d.pending})
	d.pending = nil
	height := uint64(len(d.sealed)) - 1
	d.cond.Broadcast()
	return height
}

// GetBlockAt implements da.Layer.
func (d *DA) GetBlockAt(ctx context.Context, height uint64) (da.FilteredBlock, error) {
	if height > maxHeight {
		return da.FilteredBlock{}, ErrHeightTooLarge
	}

	d.mu.Lock()
	for uint64(len(d.sealed)) <= height {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				d.cond.Broadcast()
			case <-done:
			}
		}()
		d.cond.Wait()
		close(done)
		if err := ctx.Err(); err != nil {
			d.mu.Unlock()
			return da.FilteredBlock{}, err
		}
	}
	b := d.sealed[height]
	d.mu.Unlock()

	return da.FilteredBlock{Height: height, Hash: b.hash}, nil
}

// ExtractRelevantBlobs implements da.Layer; the mock keeps blobs already
// split by height in sealed memory, so extraction is a lookup.
func (d *DA) ExtractRelevantBlobs(b da.FilteredBlock) (da.RelevantBlobs, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.Height >= uint64(len(d.sealed)) {
		return da.RelevantBlobs{}, fmt.Errorf("mockda: height %d not sealed", b.Height)
	}
	var out da.RelevantBlobs
	for _, blob := range d.sealed[b.Height].blobs {
		switch blob.Kind {
		case da.BatchBlob:
			out.BatchBlobs = append(out.BatchBlobs, blob)
		case da.ProofBlob:
			out.ProofBlobs = append(out.ProofBlobs, blob)
		}
	}
	return out, nil
}

// GetExtractionProof implements da.Layer with trivial empty proofs: the
// mock DA has no actual inclusion/completeness proof system to model,
// matching pkg/batch's own test fixtures which carry placeholder proof
// bytes rather than real merkle inclusion proofs.
func (d *DA) GetExtractionProof(da.FilteredBlock, da.RelevantBlobs) (da.RelevantProofs, error) {
	return da.RelevantProofs{}, nil
}

// blobID and blockHash use plain sha256, matching pkg/batch/collector_test.go's
// own content-hashing style; the STF core's own hashing (slot/tx/key) uses
// Keccak-256 per SPEC_FULL §3 and is unrelated to this mock transport.
func blobID(seq uint64, data []byte) [32]byte {
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	h := sha256.New()
	h.Write(seqBuf[:])
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func blockHash(height uint64, blobs []da.Blob) [32]byte {
	h := sha256.New()
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], height)
	h.Write(heightBuf[:])
	for _, b := range blobs {
		h.Write(b.ID[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
