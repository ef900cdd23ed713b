// Copyright 2025 Certen Protocol
//
// Kernel & chain-state (§4.F). Owns the true-height -> visible-height
// mapping (pausing/replay of deferred blobs), per-slot BlockGasInfo, and
// the EIP-1559-style base-fee update. Grounded on the teacher's
// pkg/consensus/validator_block_invariants.go for the "one authoritative
// mutator, validated constants at construction" discipline, generalized
// from block-height bookkeeping to slot/visible-height bookkeeping.
package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/storage"
)

// Errors returned at construction time; a malformed constants manifest is a
// fatal startup error (§6 "Exit codes").
var (
	ErrZeroElasticityMultiplier = errors.New("kernel: ELASTICITY_MULTIPLIER must be non-zero")
	ErrZeroBaseFeeDenominator   = errors.New("kernel: BASE_FEE_MAX_CHANGE_DENOMINATOR must be non-zero")
	ErrNoSuchSlot               = errors.New("kernel: no recorded chain-state for that slot")
)

// Constants bundles the compile-time constants that parameterize the
// base-fee update (§4.F). Both must be non-zero; runtime constructors
// validate this rather than panicking mid-slot.
type Constants struct {
	ElasticityMultiplier         uint64
	BaseFeeMaxChangeDenominator  uint64
	InitialBaseFeePerGas         []uint64
	InitialGasLimit              []uint64
}

// Validate checks the constants manifest, matching §6's "missing constants
// manifest" fatal startup condition.
func (c Constants) Validate() error {
	if c.ElasticityMultiplier == 0 {
		return ErrZeroElasticityMultiplier
	}
	if c.BaseFeeMaxChangeDenominator == 0 {
		return ErrZeroBaseFeeDenominator
	}
	return nil
}

// BlockGasInfo is the per-slot gas accounting record (§4.F).
type BlockGasInfo struct {
	GasLimit      gas.Unit
	GasUsed       gas.Unit
	BaseFeePerGas gas.Price
}

// GasTarget returns gas_limit // ELASTICITY_MULTIPLIER per dimension.
func (c Constants) GasTarget(limit gas.Unit) gas.Unit {
	out := gas.ZeroUnit(limit.Dims())
	dims := out.AsSlice()
	for i, g := range limit.AsSlice() {
		dims[i] = g / c.ElasticityMultiplier
	}
	return out
}

// ComputeBaseFeePerGas applies the EIP-1559-style update of §4.F
// independently to every gas dimension.
func (c Constants) ComputeBaseFeePerGas(info BlockGasInfo) gas.Price {
	target := c.GasTarget(info.GasLimit)
	limitDims := target.AsSlice()
	usedDims := info.GasUsed.AsSlice()
	priceDims := info.BaseFeePerGas.AsSlice()

	out := make([]uint64, len(priceDims))
	for i := range priceDims {
		target := limitDims[i]
		used := usedDims[i]
		base := priceDims[i]

		if used == target {
			out[i] = base
			continue
		}

		var delta uint64
		if used > target {
			delta = used - target
		} else {
			delta = target - used
		}

		var deltaValue uint64
		if delta != 0 && base != 0 {
			deltaValue = delta * base // dimension-local, bounded by realistic gas/price magnitudes
		}
		var baseFeeDelta uint64
		if target != 0 {
			baseFeeDelta = deltaValue / target
		}
		normalized := baseFeeDelta / c.BaseFeeMaxChangeDenominator

		if used > target {
			if normalized < 1 {
				normalized = 1
			}
			out[i] = base + normalized
		} else {
			if normalized > base {
				out[i] = 0
			} else {
				out[i] = base - normalized
			}
		}
	}
	return gas.NewPrice(out...)
}

// SlotRecord is the kernel's durable per-slot chain-state (§4.F, §8
// invariant "initial_slot_hash matches the recorded chain-state"). Roots
// and ValidityCondition are populated once the slot has been fully applied
// (after Freeze), so the 4.J proof-processing pipeline can verify a past
// slot's endpoints and validity condition against this same record.
type SlotRecord struct {
	VisibleHeight     uint64
	SlotHash          [32]byte
	GasInfo           BlockGasInfo
	Roots             storage.Roots
	ValidityCondition []byte
}

// DeferredBlob is a blob the kernel stashed for replay in a later virtual
// slot (§4.H step 4, §8 scenario 5).
type DeferredBlob struct {
	Data          []byte
	Sender        []byte
	FromRegistered bool
}

// ChainState is the kernel's persistent record store. Its records never
// affect either JMT root; it is expressed as an interface so the STF core
// doesn't hard-depend on a storage backend (KVChainState keeps them in its
// own dbm.DB, separate from storage.Store).
type ChainState interface {
	PutSlot(trueHeight uint64, record SlotRecord) error
	GetSlot(visibleHeight uint64) (SlotRecord, bool, error)
	PutDeferred(atVisibleHeight uint64, blobs []DeferredBlob) error
	TakeDeferred(atVisibleHeight uint64) ([]DeferredBlob, error)
	GenesisRoot() ([32]byte, bool, error)
	SetGenesisRoot([32]byte) error
	LatestVisibleHeight() (uint64, bool, error)
}

// Kernel owns the slot metadata and drives begin/end-slot hooks (§4.F,
// §4.H steps 2 and 6).
type Kernel struct {
	constants Constants
	state     ChainState
	logger    *log.Logger

	visibleHeight uint64
}

// New validates constants and builds a Kernel over state, resuming the
// visible-height counter from the last recorded slot if one exists so a
// restarted process continues rather than replaying from height 0.
func New(constants Constants, state ChainState, logger *log.Logger) (*Kernel, error) {
	if err := constants.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	k := &Kernel{constants: constants, state: state, logger: logger}
	if latest, found, err := state.LatestVisibleHeight(); err != nil {
		return nil, fmt.Errorf("kernel: resume visible height: %w", err)
	} else if found {
		k.visibleHeight = latest
	}
	return k, nil
}

// Constants exposes the validated constants.
func (k *Kernel) Constants() Constants { return k.constants }

// VisibleHeight returns the kernel's current virtual height.
func (k *Kernel) VisibleHeight() uint64 { return k.visibleHeight }

// BeginSlotHook advances to the next visible height and returns the gas
// price the slot should dispatch transactions at (§4.H step 2).
func (k *Kernel) BeginSlotHook() (gas.Price, error) {
	k.visibleHeight++
	prev, found, err := k.state.GetSlot(k.visibleHeight - 1)
	if err != nil {
		return gas.Price{}, fmt.Errorf("kernel: begin_slot_hook: %w", err)
	}
	if !found {
		return gas.NewPrice(k.constants.InitialBaseFeePerGas...), nil
	}
	return prev.GasInfo.BaseFeePerGas, nil
}

// EndSlotHook records the slot's total gas used, the updated base fee for
// the next slot, and the DA extraction's validity condition for this slot
// (§4.F; the validity condition is carried here so §4.J can later check it
// against an AggregatedProofPublicData's per-slot element).
func (k *Kernel) EndSlotHook(trueHeight uint64, slotHash [32]byte, gasLimit gas.Unit, gasUsed gas.Unit, basePrice gas.Price, validityCondition []byte) error {
	info := BlockGasInfo{GasLimit: gasLimit, GasUsed: gasUsed, BaseFeePerGas: basePrice}
	nextPrice := k.constants.ComputeBaseFeePerGas(info)
	record := SlotRecord{
		VisibleHeight:     k.visibleHeight,
		SlotHash:          slotHash,
		GasInfo:           BlockGasInfo{GasLimit: gasLimit, GasUsed: gasUsed, BaseFeePerGas: nextPrice},
		ValidityCondition: validityCondition,
	}
	if err := k.state.PutSlot(trueHeight, record); err != nil {
		return fmt.Errorf("kernel: end_slot_hook: %w", err)
	}
	k.logger.Printf("slot %d (visible %d): gas_used=%s base_fee=%s", trueHeight, k.visibleHeight, gasUsed, nextPrice)
	return nil
}

// RecordFinalRoots attaches the post-freeze state roots to an
// already-written SlotRecord (§4.H step 7 runs after EndSlotHook, so the
// roots for a slot are only known once Freeze has produced them).
func (k *Kernel) RecordFinalRoots(visibleHeight uint64, roots storage.Roots) error {
	rec, found, err := k.state.GetSlot(visibleHeight)
	if err != nil {
		return fmt.Errorf("kernel: record_final_roots: %w", err)
	}
	if !found {
		return ErrNoSuchSlot
	}
	rec.Roots = roots
	return k.state.PutSlot(visibleHeight, rec)
}

// GenesisRoot returns the rollup's recorded genesis state root, if set
// (§4.J "genesis_state_root matches the recorded genesis").
func (k *Kernel) GenesisRoot() ([32]byte, bool, error) { return k.state.GenesisRoot() }

// SetGenesisRoot records the genesis state root once, at chain start.
func (k *Kernel) SetGenesisRoot(root [32]byte) error { return k.state.SetGenesisRoot(root) }

// DeferBlob stashes a non-preferred-sequencer blob for replay at
// visibleHeight+1 (§4.H step 4, §8 scenario 5).
func (k *Kernel) DeferBlob(blob DeferredBlob) error {
	existing, err := k.state.TakeDeferred(k.visibleHeight + 1)
	if err != nil {
		return err
	}
	existing = append(existing, blob)
	return k.state.PutDeferred(k.visibleHeight+1, existing)
}

// TakeDeferredForThisSlot returns (and clears) blobs previously stashed for
// replay at the current visible height.
func (k *Kernel) TakeDeferredForThisSlot() ([]DeferredBlob, error) {
	return k.state.TakeDeferred(k.visibleHeight)
}

// SlotAt returns the recorded chain-state for a given visible height.
func (k *Kernel) SlotAt(visibleHeight uint64) (SlotRecord, error) {
	rec, found, err := k.state.GetSlot(visibleHeight)
	if err != nil {
		return SlotRecord{}, err
	}
	if !found {
		return SlotRecord{}, ErrNoSuchSlot
	}
	return rec, nil
}

// MarshalConstants renders Constants for a genesis document.
func MarshalConstants(c Constants) ([]byte, error) { return json.Marshal(c) }
