// Copyright 2025 Certen Protocol
//
// Receipt types produced by the slot loop and per-tx pipeline (§3:
// BatchReceipt, TxReceipt). Grounded on pkg/batch/processor.go's
// ProcessingResult/BatchOutcome pairing, restyled from "anchor batch
// outcome" to "rollup batch outcome".
package stf

import (
	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/modules/sequencerregistry"
	"github.com/sovrollup/stf-core/pkg/state"
)

// EffectKind tags a TxReceipt's outcome (§3 TxReceipt.effect).
type EffectKind uint8

const (
	Successful EffectKind = iota
	Reverted
	Skipped
)

func (k EffectKind) String() string {
	switch k {
	case Successful:
		return "Successful"
	case Reverted:
		return "Reverted"
	case Skipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// SkipReason enumerates why a tx never reached dispatch (§4.H.1, §8).
type SkipReason string

const (
	CannotReserveGas                SkipReason = "CannotReserveGas"
	InsufficientBalanceToReserveGas  SkipReason = "InsufficientBalanceToReserveGas"
	// CannotResolveContext is step 4's taxonomy entry (§4.H.1, §4.G
	// "resolve_context(...) -> Context"). auth.ResolveContext in this
	// implementation is total — the rollup address is derived directly
	// from the verified public key, so lookup never fails — which makes
	// this reason currently unreachable. Kept rather than removed because
	// it names a real step in the pipeline's taxonomy that a credential
	// registry-backed ResolveContext (one that maps credential_id to a
	// separately registered address, per §4.G) would make reachable again.
	CannotResolveContext SkipReason = "CannotResolveContext"
	IncorrectNonce       SkipReason = "IncorrectNonce"
)

// TxEffect is the per-tx outcome (§3).
type TxEffect struct {
	Kind       EffectKind
	Err        string     // populated when Kind == Reverted
	SkipReason SkipReason // populated when Kind == Skipped
}

// TxReceipt records one transaction's outcome (§3).
type TxReceipt struct {
	Effect   TxEffect
	GasUsed  gas.Unit
	Events   []state.Event
	GasPrice gas.Price
}

// SequencerOutcomeKind tags a batch's sequencer-facing result (§3
// BatchReceipt.sequencer_outcome).
type SequencerOutcomeKind uint8

const (
	Rewarded SequencerOutcomeKind = iota
	Slashed
	Ignored
	NotRewardable
)

func (k SequencerOutcomeKind) String() string {
	switch k {
	case Rewarded:
		return "Rewarded"
	case Slashed:
		return "Slashed"
	case Ignored:
		return "Ignored"
	case NotRewardable:
		return "NotRewardable"
	default:
		return "Unknown"
	}
}

// SequencerOutcome is the batch-level accounting result (§3, §4.H.1 "Batch
// receipt rule").
type SequencerOutcome struct {
	Kind                SequencerOutcomeKind
	SlashReason         sequencerregistry.SlashReason // Kind == Slashed
	TotalPriorityFee    uint64                        // Kind == Rewarded
}

// BatchReceipt is the full outcome of one batch blob (§3).
type BatchReceipt struct {
	SequencerOutcome SequencerOutcome
	TxReceipts       []TxReceipt
}
