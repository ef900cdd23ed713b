// Copyright 2025 Certen Protocol
//
// KVChainState is the concrete ChainState backing the kernel's slot
// metadata, deferred-blob stash and genesis root (§4.F). It is deliberately
// independent of the provable storage substrate (pkg/storage): kernel
// bookkeeping is chain metadata, not rollup state, so it is never hashed
// into either JMT — the same "accessory, outside the tree" role §3 assigns
// to the Accessory namespace, kept here as its own small KV rather than
// routed through a scratchpad, mirroring the teacher's ledger.LedgerStore
// ("single writer, explicit commit boundary" over a flat KV, see
// pkg/ledger/store.go's doc comment).
package kernel

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/sovrollup/stf-core/pkg/storage"
)

var (
	keySlotPrefix     = []byte("kernel/slot/")
	keyDeferredPrefix = []byte("kernel/deferred/")
	keyGenesisRoot    = []byte("kernel/genesis_root")
	keyLatestHeight   = []byte("kernel/latest_visible_height")
)

func slotKey(visibleHeight uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, visibleHeight)
	return append(append([]byte{}, keySlotPrefix...), b...)
}

func deferredKey(visibleHeight uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, visibleHeight)
	return append(append([]byte{}, keyDeferredPrefix...), b...)
}

// wireSlotRecord is SlotRecord's JSON wire shape; Roots/SlotHash are fixed
// arrays and round-trip through JSON without help, but kept as a named type
// in case a future codec swap needs a hook.
type wireSlotRecord = SlotRecord

// KVChainState implements ChainState directly over a cometbft-db handle,
// the same dbm.DB library the provable storage substrate uses (§9 "message
// passing for notifications" calls out the same single-writer discipline
// for this kind of bookkeeping).
type KVChainState struct {
	db dbm.DB
}

// NewKVChainState wraps db. cmd/rolld opens a dedicated database for it,
// separate from the one storage.Store uses.
func NewKVChainState(db dbm.DB) *KVChainState {
	return &KVChainState{db: db}
}

func (k *KVChainState) PutSlot(trueHeight uint64, record SlotRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("kernel: encode slot record: %w", err)
	}
	if err := k.db.Set(slotKey(record.VisibleHeight), raw); err != nil {
		return err
	}
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], record.VisibleHeight)
	return k.db.Set(keyLatestHeight, heightBuf[:])
}

// LatestVisibleHeight returns the highest visible height a slot has been
// recorded at, so a restarted process can resume the kernel's height
// counter instead of replaying from 0 (§5 "if the process exits before
// materialize_changes is persisted, the slot is replayed from the previous
// root next startup").
func (k *KVChainState) LatestVisibleHeight() (uint64, bool, error) {
	raw, err := k.db.Get(keyLatestHeight)
	if err != nil {
		return 0, false, err
	}
	if raw == nil {
		return 0, false, nil
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("kernel: malformed latest-height record")
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

func (k *KVChainState) GetSlot(visibleHeight uint64) (SlotRecord, bool, error) {
	raw, err := k.db.Get(slotKey(visibleHeight))
	if err != nil {
		return SlotRecord{}, false, err
	}
	if raw == nil {
		return SlotRecord{}, false, nil
	}
	var rec wireSlotRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return SlotRecord{}, false, fmt.Errorf("kernel: decode slot record: %w", err)
	}
	return rec, true, nil
}

func (k *KVChainState) PutDeferred(atVisibleHeight uint64, blobs []DeferredBlob) error {
	if len(blobs) == 0 {
		return k.db.Delete(deferredKey(atVisibleHeight))
	}
	raw, err := json.Marshal(blobs)
	if err != nil {
		return fmt.Errorf("kernel: encode deferred blobs: %w", err)
	}
	return k.db.Set(deferredKey(atVisibleHeight), raw)
}

func (k *KVChainState) TakeDeferred(atVisibleHeight uint64) ([]DeferredBlob, error) {
	key := deferredKey(atVisibleHeight)
	raw, err := k.db.Get(key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var blobs []DeferredBlob
	if err := json.Unmarshal(raw, &blobs); err != nil {
		return nil, fmt.Errorf("kernel: decode deferred blobs: %w", err)
	}
	if err := k.db.Delete(key); err != nil {
		return nil, err
	}
	return blobs, nil
}

func (k *KVChainState) GenesisRoot() ([32]byte, bool, error) {
	raw, err := k.db.Get(keyGenesisRoot)
	if err != nil {
		return [32]byte{}, false, err
	}
	if raw == nil {
		return [32]byte{}, false, nil
	}
	if len(raw) != 32 {
		return [32]byte{}, false, fmt.Errorf("kernel: malformed genesis root record")
	}
	var root [32]byte
	copy(root[:], raw)
	return root, true, nil
}

func (k *KVChainState) SetGenesisRoot(root [32]byte) error {
	return k.db.Set(keyGenesisRoot, append([]byte{}, root[:]...))
}

// CombinedRoot re-exports storage.CombinedRoot for callers that only import
// pkg/kernel (genesis wiring, proof verification) and shouldn't need to
// reach into pkg/storage just to fold a Roots pair into one digest.
func CombinedRoot(r storage.Roots) [32]byte { return storage.CombinedRoot(r) }
