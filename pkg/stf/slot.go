// Copyright 2025 Certen Protocol
//
// ApplySlot: the slot loop of §4.H. Grounded in pkg/batch/scheduler.go's
// collect-dispatch-finalize shape, generalized from "anchor a batch of
// attestations" to "execute a DA slot's blobs against the STF".
package stf

import (
	"errors"
	"fmt"

	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/kernel"
	"github.com/sovrollup/stf-core/pkg/module"
	"github.com/sovrollup/stf-core/pkg/modules/sequencerregistry"
	"github.com/sovrollup/stf-core/pkg/runtime"
	"github.com/sovrollup/stf-core/pkg/state"
	"github.com/sovrollup/stf-core/pkg/storage"
	"github.com/sovrollup/stf-core/pkg/witness"
)

// BlobKind tags whether a DA blob carries a batch of transactions or a
// submitted ZK proof (§4.H step 5).
type BlobKind uint8

const (
	BatchBlob BlobKind = iota
	ProofBlob
)

// Blob is one DA-layer entry selected for this slot (§6 da.Blob, trimmed
// to the fields the slot loop consumes).
type Blob struct {
	Kind   BlobKind
	Data   []byte
	Sender []byte
}

type pendingBatch struct {
	data           []byte
	sender         []byte
	fromRegistered bool
}

// ProofProcessor runs the proof-processing pipeline of §4.J against one
// proof blob; kept as an interface so the slot loop doesn't hard-depend on
// the proof package's concrete verifier.
type ProofProcessor interface {
	ProcessProofBlob(a state.Accessor, blob []byte, sender []byte) error
}

// SlotInput bundles everything ApplySlot needs (§4.H "Input").
type SlotInput struct {
	Store             *storage.Store
	Version           uint64
	SlotHash          [32]byte
	GasLimit          gas.Unit
	ChainID           uint64
	ValidityCondition []byte
	BatchBlobs        []Blob
	ProofBlobs        []Blob

	Kernel         *kernel.Kernel
	Runtime        *runtime.Runtime
	Deps           Dependencies
	ProofProcessor ProofProcessor // nil disables proof-blob processing
}

// ApplySlotOutput is §4.H's ApplySlotOutput.
type ApplySlotOutput struct {
	NewRoots      storage.Roots
	Update        *storage.StateUpdate
	BatchReceipts []BatchReceipt
	Witness       *witness.Witness
}

// ApplySlot runs the full slot procedure of §4.H against a fresh Delta
// opened at input.Version, seeded with fromRoots.
func ApplySlot(input SlotInput, fromRoots storage.Roots) (*ApplySlotOutput, error) {
	delta := state.NewDelta(input.Store, input.Version)

	gasPrice, err := input.Kernel.BeginSlotHook()
	if err != nil {
		return nil, fmt.Errorf("stf: begin_slot_hook: %w", err)
	}
	if err := input.Runtime.BeginSlotHook(input.SlotHash, delta); err != nil {
		return nil, fmt.Errorf("stf: runtime begin_slot_hook: %w", err)
	}

	batches, err := selectBatchBlobs(delta, input)
	if err != nil {
		return nil, err
	}

	var batchReceipts []BatchReceipt
	totalGasUsed := gas.ZeroUnit(input.GasLimit.Dims())
	for _, pb := range batches {
		receipt, err := processBatch(delta, pb, input, gasPrice, &totalGasUsed)
		if err != nil {
			return nil, err
		}
		batchReceipts = append(batchReceipts, receipt)
	}

	if input.ProofProcessor != nil {
		for _, blob := range input.ProofBlobs {
			if err := input.ProofProcessor.ProcessProofBlob(delta, blob.Data, blob.Sender); err != nil {
				// Proof verification failures are not batch-fatal; §4.J
				// leaves the prover unrewarded and processing continues.
				continue
			}
		}
	}

	if err := input.Runtime.EndSlotHook(delta); err != nil {
		return nil, fmt.Errorf("stf: runtime end_slot_hook: %w", err)
	}
	if err := input.Kernel.EndSlotHook(input.Version, input.SlotHash, input.GasLimit, totalGasUsed, gasPrice, input.ValidityCondition); err != nil {
		return nil, fmt.Errorf("stf: kernel end_slot_hook: %w", err)
	}

	frozen, err := state.Freeze(delta, fromRoots)
	if err != nil {
		return nil, fmt.Errorf("stf: freeze: %w", err)
	}
	if err := input.Kernel.RecordFinalRoots(input.Kernel.VisibleHeight(), frozen.NewRoots); err != nil {
		return nil, fmt.Errorf("stf: record final roots: %w", err)
	}

	return &ApplySlotOutput{
		NewRoots:      frozen.NewRoots,
		Update:        frozen.Update,
		BatchReceipts: batchReceipts,
		Witness:       frozen.Witness,
	}, nil
}

// selectBatchBlobs implements §4.H step 4: replay any blobs the kernel
// deferred for this visible slot first, then apply the preferred-sequencer
// filter to freshly arrived blobs, deferring the rest (§8 scenario 5).
func selectBatchBlobs(delta *state.Delta, input SlotInput) ([]pendingBatch, error) {
	var out []pendingBatch

	deferred, err := input.Kernel.TakeDeferredForThisSlot()
	if err != nil {
		return nil, fmt.Errorf("stf: take deferred blobs: %w", err)
	}
	for _, d := range deferred {
		out = append(out, pendingBatch{data: d.Data, sender: d.Sender, fromRegistered: d.FromRegistered})
	}

	preferred, hasPreferred, err := input.Deps.Registry.PreferredSequencer(delta)
	if err != nil {
		return nil, fmt.Errorf("stf: preferred sequencer lookup: %w", err)
	}

	for _, blob := range input.BatchBlobs {
		da := sequencerregistry.DaAddress(blob.Sender)
		_, registered, err := input.Deps.Registry.IsRegistered(delta, da)
		if err != nil {
			return nil, fmt.Errorf("stf: registration lookup: %w", err)
		}
		if hasPreferred && da != preferred {
			if err := input.Kernel.DeferBlob(kernel.DeferredBlob{Data: blob.Data, Sender: blob.Sender, FromRegistered: registered}); err != nil {
				return nil, fmt.Errorf("stf: defer blob: %w", err)
			}
			continue
		}
		out = append(out, pendingBatch{data: blob.Data, sender: blob.Sender, fromRegistered: registered})
	}
	return out, nil
}

// processBatch decodes one blob's transaction list and runs every tx
// through the pipeline, applying the batch receipt rule of §4.H.1 on a
// fatal failure.
func processBatch(delta *state.Delta, pb pendingBatch, input SlotInput, gasPrice gas.Price, totalGasUsed *gas.Unit) (BatchReceipt, error) {
	da := sequencerregistry.DaAddress(pb.sender)
	sequencer := module.AddressFromBytes(pb.sender)

	txs, err := DecodeBatch(pb.data)
	if err != nil {
		if slashErr := input.Deps.Registry.Slash(delta, da, sequencerregistry.InvalidBatchEncoding); slashErr != nil {
			return BatchReceipt{}, fmt.Errorf("stf: slash after invalid batch encoding: %w", slashErr)
		}
		return BatchReceipt{SequencerOutcome: SequencerOutcome{Kind: Slashed, SlashReason: sequencerregistry.InvalidBatchEncoding}}, nil
	}

	var receipts []TxReceipt
	var totalPriorityFee uint64
	for _, raw := range txs {
		receipt, priorityFee, fatal := processTx(delta, raw, sequencer, pb.fromRegistered, gasPrice, input.Deps, input.ChainID, input.Kernel.VisibleHeight())
		if fatal != nil {
			// The reason travels with the fatalTxError: a wrong chain_id
			// slashes as InvalidBatchEncoding (§8 scenario 3), a malformed
			// per-tx encoding as InvalidTransactionEncoding.
			reason := sequencerregistry.InvalidTransactionEncoding
			var ft fatalTxError
			if errors.As(fatal, &ft) && ft.reason != "" {
				reason = ft.reason
			}
			if slashErr := input.Deps.Registry.Slash(delta, da, reason); slashErr != nil {
				return BatchReceipt{}, fmt.Errorf("stf: slash after fatal tx error: %w", slashErr)
			}
			return BatchReceipt{SequencerOutcome: SequencerOutcome{Kind: Slashed, SlashReason: reason}, TxReceipts: receipts}, nil
		}
		totalPriorityFee += priorityFee
		totalGasUsed.Combine(receipt.GasUsed)
		receipts = append(receipts, receipt)
	}

	outcome := SequencerOutcome{Kind: Rewarded, TotalPriorityFee: totalPriorityFee}
	if !pb.fromRegistered {
		outcome = SequencerOutcome{Kind: NotRewardable}
	} else if totalPriorityFee > 0 {
		if err := input.Deps.Registry.RewardSequencer(delta, da, totalPriorityFee); err != nil {
			return BatchReceipt{}, fmt.Errorf("stf: reward sequencer: %w", err)
		}
	}
	return BatchReceipt{SequencerOutcome: outcome, TxReceipts: receipts}, nil
}
