// Copyright 2025 Certen Protocol
//
// The authentication/authorization capability (§4.G): decode a raw blob
// into an AuthenticatedTransaction, resolve the dispatch Context, and
// enforce nonce uniqueness. Grounded on the teacher's
// pkg/consensus/validator_registry.go nonce-like uniqueness bookkeeping
// (there: replay protection for validator attestations), generalized to
// per-sender monotonic nonces.
package auth

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sovrollup/stf-core/pkg/module"
	"github.com/sovrollup/stf-core/pkg/state"
	"github.com/sovrollup/stf-core/pkg/storage"
)

// Fatal vs Invalid error taxonomy (§7): Invalid errors mean "skip this tx,
// keep processing the blob"; Fatal errors abort the whole batch (its
// sequencer is slashed) while the slot goes on.
var (
	ErrInvalidEncoding  = fmt.Errorf("auth: %w", ErrMalformedTx)
	ErrInvalidSignature = fmt.Errorf("auth: %w", ErrBadSignature)
	ErrNonceReused      = errors.New("auth: nonce already consumed by this sender")
	ErrUnknownSequencer = errors.New("auth: blob sender is not a registered sequencer and registration lookup failed")
)

// AuthenticatedTransaction is the authenticated, not-yet-dispatched result
// of authenticate() (§3).
type AuthenticatedTransaction struct {
	Tx      Transaction
	Sender  module.Address
	RawSize int
}

// noncePrefix is the Accessory-namespace key root auth owns for per-sender
// nonce bookkeeping; Accessory because replay protection never needs to be
// provable to the DA layer (§4.G).
var noncePrefix = []byte("auth/nonce/")

func nonceKey(sender module.Address) []byte {
	return append(append([]byte{}, noncePrefix...), sender[:]...)
}

// Authenticate decodes and signature-checks a raw blob entry, deriving the
// sender address from the verified public key (§4.G step "authenticate").
// The STF pipeline treats a malformed encoding (ErrInvalidEncoding) or a
// wrong chain_id (ErrWrongChainID) as fatal to the batch, and a bad
// signature as Invalid: that blob entry is skipped and the next one runs.
func Authenticate(raw []byte, chainID uint64) (AuthenticatedTransaction, error) {
	tx, err := DecodeTransaction(raw)
	if err != nil {
		return AuthenticatedTransaction{}, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if tx.ChainID != chainID {
		return AuthenticatedTransaction{}, ErrWrongChainID
	}
	if err := tx.Verify(); err != nil {
		return AuthenticatedTransaction{}, ErrInvalidSignature
	}
	sender := module.AddressFromBytes(tx.PubKey)
	return AuthenticatedTransaction{Tx: tx, Sender: sender, RawSize: len(raw)}, nil
}

// AuthenticateUnregistered is the variant used for a blob from a sender
// that is not the slot's registered sequencer (§4.H step 4 "blobs from an
// unregistered sequencer are authenticated the same way, but deferred
// rather than dispatched immediately").
func AuthenticateUnregistered(raw []byte, chainID uint64) (AuthenticatedTransaction, error) {
	return Authenticate(raw, chainID)
}

// ResolveContext builds the dispatch Context for an authenticated tx
// (§4.H.1 step 4 "resolve context").
func ResolveContext(authTx AuthenticatedTransaction, sequencer module.Address, fromRegistered bool, visibleHeight uint64) module.Context {
	return module.Context{
		Sender:                  authTx.Sender,
		Sequencer:               sequencer,
		FromRegisteredSequencer: fromRegistered,
		VisibleHeight:           visibleHeight,
	}
}

// CheckUniqueness enforces strictly-increasing per-sender nonces (§4.H.1
// step 5). The stored value is the next nonce this sender must present;
// absence means nonce 0 is expected.
func CheckUniqueness(a state.Accessor, sender module.Address, nonce uint64) error {
	raw, found, err := a.Get(storage.Accessory, nonceKey(sender))
	if err != nil {
		return fmt.Errorf("auth: check_uniqueness: %w", err)
	}
	expected := uint64(0)
	if found {
		if len(raw) != 8 {
			return errors.New("auth: corrupt nonce record")
		}
		expected = binary.BigEndian.Uint64(raw)
	}
	if nonce != expected {
		return fmt.Errorf("%w: sender=%s expected=%d got=%d", ErrNonceReused, sender, expected, nonce)
	}
	return nil
}

// MarkTxAttempted advances the sender's nonce regardless of whether
// dispatch ultimately succeeds or reverts (§4.H.1 step 9 "mark attempted" —
// a reverted call still consumes its nonce).
func MarkTxAttempted(a state.Accessor, sender module.Address, nonce uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], nonce+1)
	a.Set(storage.Accessory, nonceKey(sender), b[:])
}
