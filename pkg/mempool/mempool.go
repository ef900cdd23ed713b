// Copyright 2025 Certen Protocol
//
// The sequencer-local mempool (§5 "the batch-builder mempool is serialized
// by a single mutex held across accept_tx and get_next_blob"). Grounded on
// pkg/batch/collector.go's accumulate-then-flush shape (a mutex-guarded
// slice of pending entries, drained into a batch on a timer or a size
// threshold), restyled from "collect anchor transactions for a ~15 minute
// anchor batch" to "collect rollup transactions for the next DA blob".
// Ordering policy itself (how pending txs are prioritized) is explicitly
// out of scope (§1 Non-goals: "block-building mempool ordering policy");
// this package only provides the FIFO accept/drain surface and its locking
// discipline, not a fee-market scheduler.
package mempool

import (
	"sync"

	"github.com/sovrollup/stf-core/pkg/stf"
)

// Entry is one accepted, not-yet-batched transaction.
type Entry struct {
	Hash [32]byte
	Raw  []byte
}

// Mempool holds raw transactions accepted from the sequencer API until the
// next DA blob is assembled. One mutex guards both AcceptTx and
// DrainBatch so the two never observe a torn pending list (§5).
type Mempool struct {
	mu      sync.Mutex
	pending []Entry
	seen    map[[32]byte]struct{}
	maxSize int
}

// New constructs an empty Mempool. maxSize caps the number of pending,
// not-yet-batched transactions held at once; 0 means unbounded.
func New(maxSize int) *Mempool {
	return &Mempool{seen: make(map[[32]byte]struct{}), maxSize: maxSize}
}

// ErrFull is returned by AcceptTx when the mempool is at capacity.
type fullError struct{}

func (fullError) Error() string { return "mempool: at capacity" }

var ErrFull error = fullError{}

// AcceptTx enqueues raw (already wire-encoded) transaction bytes, deduping
// on content hash. Returns the tx's content hash either way.
func (m *Mempool) AcceptTx(raw []byte) ([32]byte, error) {
	hash := stf.TxHash(raw)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[hash]; dup {
		return hash, nil
	}
	if m.maxSize > 0 && len(m.pending) >= m.maxSize {
		return hash, ErrFull
	}
	m.seen[hash] = struct{}{}
	m.pending = append(m.pending, Entry{Hash: hash, Raw: raw})
	return hash, nil
}

// DrainBatch removes up to maxTxs pending transactions, in FIFO order, and
// returns them for the caller to assemble into a DA blob (stf.EncodeBatch).
// An empty return means there was nothing to batch.
func (m *Mempool) DrainBatch(maxTxs int) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	n := len(m.pending)
	if maxTxs > 0 && n > maxTxs {
		n = maxTxs
	}
	out := m.pending[:n]
	m.pending = append([]Entry(nil), m.pending[n:]...)
	for _, e := range out {
		delete(m.seen, e.Hash)
	}
	return out
}

// Len reports the number of pending, not-yet-batched transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
