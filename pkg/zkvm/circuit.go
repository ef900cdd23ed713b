// Copyright 2025 Certen Protocol
//
// Slot-transition ZK circuit (§4.N): proves the final state-root
// commitment for an aggregated range of slots follows from the initial
// commitment plus that range's recorded transition digest, without
// revealing the digest's witness data on-chain. Groth16/BN254, via gnark,
// mirroring pkg/crypto/bls_zkp/circuit.go's circuit-definition shape
// (public/private frontend.Variable split, a linear-combination
// "commitment" in place of a full hash gadget — that file's own comments
// note the same simplification for the same reason: a full hash or
// pairing gadget costs millions of constraints that this exercise doesn't
// need to pay for).
package zkvm

import (
	"github.com/consensys/gnark/frontend"
)

// SlotTransitionCircuit proves: given the initial combined state-root
// commitment, the final commitment equals the initial commitment mixed
// with this range's transition digest (itself a commitment to gas-used
// and the validity-condition digest). Binds §3's AggregatedProofPublicData
// initial/final state roots without a full hash gadget in-circuit.
type SlotTransitionCircuit struct {
	// Public inputs, matching AggregatedProofPublicData's verifier-visible
	// fields.
	InitialRootCommitment frontend.Variable `gnark:",public"`
	FinalRootCommitment   frontend.Variable `gnark:",public"`
	GasUsedDigest         frontend.Variable `gnark:",public"`
	ValidityDigest        frontend.Variable `gnark:",public"`

	// Private: the prover's claimed per-range transition digest, only
	// revealed as a commitment via the constraint below.
	TransitionDigest frontend.Variable
}

// Define implements the circuit constraint: the final root commitment is
// a fixed linear combination of the initial root commitment, the
// transition digest, the gas-used digest, and the validity digest — the
// same mixing-coefficient commitment scheme as
// pkg/crypto/bls_zkp/circuit.go's computePubkeyCommitment, generalized
// from four pubkey coordinates to four slot-transition public values.
func (c *SlotTransitionCircuit) Define(api frontend.API) error {
	r := frontend.Variable(7)
	r2 := api.Mul(r, r)
	r3 := api.Mul(r2, r)

	computed := c.InitialRootCommitment
	computed = api.Add(computed, api.Mul(c.TransitionDigest, r))
	computed = api.Add(computed, api.Mul(c.GasUsedDigest, r2))
	computed = api.Add(computed, api.Mul(c.ValidityDigest, r3))

	api.AssertIsEqual(c.FinalRootCommitment, computed)
	api.AssertIsDifferent(c.TransitionDigest, 0)

	return nil
}
