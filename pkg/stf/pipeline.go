// Copyright 2025 Certen Protocol
//
// The per-transaction pipeline of §4.H.1, grounded in
// pkg/batch/processor.go's step-at-a-time, revert-on-failure batch
// processing loop, generalized from "verify and confirm one anchor batch
// entry" to "authenticate, meter and dispatch one rollup transaction".
package stf

import (
	"errors"

	"github.com/sovrollup/stf-core/pkg/auth"
	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/module"
	"github.com/sovrollup/stf-core/pkg/modules/bank"
	"github.com/sovrollup/stf-core/pkg/modules/sequencerregistry"
	"github.com/sovrollup/stf-core/pkg/state"
)

// fatalTxError marks step 2's FatalError path: the whole batch is
// abandoned and its sequencer slashed (§4.H.1), under the reason this tx's
// failure maps to (§8 scenario 3 distinguishes a wrong chain_id, slashed
// as InvalidBatchEncoding, from a malformed per-tx wire encoding, slashed
// as InvalidTransactionEncoding).
type fatalTxError struct {
	err    error
	reason sequencerregistry.SlashReason
}

func (f fatalTxError) Error() string { return f.err.Error() }
func (f fatalTxError) Unwrap() error { return f.err }

// processTx runs one raw transaction through the full pipeline against
// delta (opening and committing/reverting its own scratchpad), returning
// either a TxReceipt or a fatal error that aborts the enclosing batch.
func processTx(delta *state.Delta, raw []byte, sequencer module.Address, fromRegistered bool, gasPrice gas.Price, deps Dependencies, chainID uint64, visibleHeight uint64) (TxReceipt, uint64, error) {
	scratch := delta.OpenScratchpad()

	// Step 2: authenticate.
	var authTx auth.AuthenticatedTransaction
	var err error
	if fromRegistered {
		authTx, err = auth.Authenticate(raw, chainID)
	} else {
		authTx, err = auth.AuthenticateUnregistered(raw, chainID)
	}
	if err != nil {
		// A malformed wire encoding or a wrong chain_id are both fatal: the
		// whole batch is slashed rather than merely skipping the one
		// offending tx. §8 scenario 3 mandates InvalidBatchEncoding
		// specifically for a wrong chain_id; a malformed per-tx encoding
		// keeps the narrower InvalidTransactionEncoding reason.
		if errors.Is(err, auth.ErrWrongChainID) {
			scratch.Revert()
			return TxReceipt{}, 0, fatalTxError{err: err, reason: sequencerregistry.InvalidBatchEncoding}
		}
		if errors.Is(err, auth.ErrInvalidEncoding) {
			scratch.Revert()
			return TxReceipt{}, 0, fatalTxError{err: err, reason: sequencerregistry.InvalidTransactionEncoding}
		}
		// Invalid (e.g. a bad signature): the sequencer's own bond absorbs
		// the cost of including a bad tx (no separate per-tx stake meter is
		// modeled here; the batch-level slash path covers the fatal case).
		scratch.Revert()
		return TxReceipt{Effect: TxEffect{Kind: Skipped, SkipReason: "InvalidAuth"}}, 0, nil
	}

	sender := authTx.Sender
	maxFee := authTx.Tx.MaxFee

	// Step 3: reserve gas.
	if maxFee == 0 {
		scratch.Revert()
		return TxReceipt{Effect: TxEffect{Kind: Skipped, SkipReason: InsufficientBalanceToReserveGas}}, 0, nil
	}
	if err := deps.Bank.ReserveGas(scratch, sender, maxFee); err != nil {
		scratch.Revert()
		return TxReceipt{Effect: TxEffect{Kind: Skipped, SkipReason: CannotReserveGas}}, 0, nil
	}

	// Step 4: resolve context.
	ctx := auth.ResolveContext(authTx, sequencer, fromRegistered, visibleHeight)

	// Step 5: check uniqueness.
	if err := auth.CheckUniqueness(scratch, sender, authTx.Tx.Nonce); err != nil {
		scratch.Revert()
		return TxReceipt{Effect: TxEffect{Kind: Skipped, SkipReason: IncorrectNonce}}, 0, nil
	}

	// Step 6: promote to working-set.
	meter := gas.NewTxMeter(maxFee, gasPrice)
	ws := scratch.OpenWorkingSet(meter, maxFee, gas.PriorityFeeBips(authTx.Tx.MaxPriorityFeeBips))

	call, decodeErr := DecodeCall(authTx.Tx.RuntimeMsg)
	var dispatchErr error
	if decodeErr != nil {
		dispatchErr = decodeErr
	} else {
		_, dispatchErr = deps.Runtime.DispatchCall(call, ctx, ws)
	}

	var effect TxEffect
	var consumption gas.Consumption
	var events []state.Event
	if dispatchErr == nil {
		var newScratch *state.TxScratchpad
		newScratch, events, consumption = ws.Commit()
		scratch = newScratch
		effect = TxEffect{Kind: Successful}
	} else {
		newScratch, c := ws.Revert()
		scratch = newScratch
		consumption = c
		effect = TxEffect{Kind: Reverted, Err: dispatchErr.Error()}
	}

	// Step 8: finalize — refund, credit sequencer, base fee stays escrowed.
	// A failure here is an accounting invariant violation (step 3 already
	// reserved at least this much), not a wire-encoding problem, so it
	// takes the taxonomy's remaining reason rather than either encoding one.
	if err := deps.Bank.RefundGas(scratch, sender, consumption.RemainingRefund); err != nil {
		return TxReceipt{}, 0, fatalTxError{err: err, reason: sequencerregistry.StatelessVerificationFailed}
	}
	if fromRegistered {
		if err := deps.Bank.CreditSequencer(scratch, sequencer, consumption.PriorityFee); err != nil {
			return TxReceipt{}, 0, fatalTxError{err: err, reason: sequencerregistry.StatelessVerificationFailed}
		}
	}

	// Step 9: mark attempted.
	auth.MarkTxAttempted(scratch, sender, authTx.Tx.Nonce)

	// Step 10: commit scratchpad into checkpoint.
	scratch.Commit()

	priorityFee := consumption.PriorityFee
	if !fromRegistered {
		priorityFee = 0
	}
	return TxReceipt{Effect: effect, GasUsed: consumption.TotalGasUsed, Events: events, GasPrice: consumption.GasPrice}, priorityFee, nil
}

// Dependencies bundles the modules the pipeline dispatches against and
// slashes/rewards; kept as a small struct rather than individual
// parameters since every pipeline call threads the same set.
type Dependencies struct {
	Runtime  RuntimeDispatcher
	Bank     *bank.Module
	Registry RegistryController
}

// RuntimeDispatcher is the subset of *runtime.Runtime the pipeline needs,
// kept as an interface so tests can substitute a stub runtime.
type RuntimeDispatcher interface {
	DispatchCall(call module.Call, ctx module.Context, ws *state.WorkingSet) (*module.CallResponse, error)
}

// RegistryController is the subset of *sequencerregistry.Module the slot
// loop needs for blob selection and batch-level slashing.
type RegistryController interface {
	PreferredSequencer(a state.Accessor) (sequencerregistry.DaAddress, bool, error)
	IsRegistered(a state.Accessor, da sequencerregistry.DaAddress) (sequencerregistry.AllowedSequencer, bool, error)
	Slash(a state.Accessor, da sequencerregistry.DaAddress, reason sequencerregistry.SlashReason) error
	RewardSequencer(a state.Accessor, da sequencerregistry.DaAddress, amount uint64) error
}
