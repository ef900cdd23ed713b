// Copyright 2025 Certen Protocol
//
// Prover/Verifier lifecycle for SlotTransitionCircuit, mirroring
// pkg/crypto/bls_zkp/prover.go's BLSZKProver shape (mutex-guarded
// constraint system + proving/verification keys, one-time Initialize,
// GenerateProof, VerifyProofLocally). Proof (de)serialization uses
// gnark's own io.WriterTo/io.ReaderFrom on groth16.Proof rather than that
// file's manual G1/G2-coordinate extraction: bls_zkp needed raw field
// elements to build Solidity calldata for an on-chain verifier contract,
// which this DA-agnostic rollup core has no analogue for, so the simpler
// built-in serialization is the right fit here.
package zkvm

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/sovrollup/stf-core/pkg/modules/proofregistry"
)

// Witness holds the SlotTransitionCircuit's public and private inputs for
// one aggregated-proof submission.
type Witness struct {
	InitialRootCommitment *big.Int
	FinalRootCommitment   *big.Int
	GasUsedDigest         *big.Int
	ValidityDigest        *big.Int
	TransitionDigest       *big.Int
}

// Prover compiles SlotTransitionCircuit once (Initialize) and generates
// Groth16 proofs against it thereafter.
type Prover struct {
	mu          sync.RWMutex
	cs          constraint.ConstraintSystem
	pk          groth16.ProvingKey
	vk          groth16.VerifyingKey
	initialized bool
}

// NewProver constructs an uninitialized Prover.
func NewProver() *Prover { return &Prover{} }

// Initialize compiles the circuit and runs the (non-production, in-memory)
// Groth16 trusted setup. Mirrors BLSZKProver.Initialize.
func (p *Prover) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}

	var circuit SlotTransitionCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return fmt.Errorf("zkvm: compile circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("zkvm: groth16 setup: %w", err)
	}
	p.cs, p.pk, p.vk = cs, pk, vk
	p.initialized = true
	return nil
}

// GenerateProof produces a serialized Groth16 proof for w.
func (p *Prover) GenerateProof(w Witness) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return nil, errors.New("zkvm: prover not initialized")
	}

	assignment := &SlotTransitionCircuit{
		InitialRootCommitment: w.InitialRootCommitment,
		FinalRootCommitment:   w.FinalRootCommitment,
		GasUsedDigest:         w.GasUsedDigest,
		ValidityDigest:        w.ValidityDigest,
		TransitionDigest:      w.TransitionDigest,
	}
	witnessData, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("zkvm: build witness: %w", err)
	}
	proof, err := groth16.Prove(p.cs, p.pk, witnessData)
	if err != nil {
		return nil, fmt.Errorf("zkvm: prove: %w", err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("zkvm: serialize proof: %w", err)
	}
	return buf.Bytes(), nil
}

// Verifier checks a serialized Groth16 proof against a circuit built from
// an AggregatedProofPublicData's digests, implementing
// proofregistry.ZkVerifier.
type Verifier struct {
	mu sync.RWMutex
	vk groth16.VerifyingKey
}

// NewVerifier wraps a Prover's verification key. p must already have run
// Initialize.
func NewVerifier(p *Prover) (*Verifier, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return nil, errors.New("zkvm: prover not initialized")
	}
	return &Verifier{vk: p.vk}, nil
}

// Verify implements proofregistry.ZkVerifier: it derives the circuit's
// public commitments from pub (§3's AggregatedProofPublicData) and checks
// zkProof against them.
func (v *Verifier) Verify(pub proofregistry.AggregatedProofPublicData, zkProof []byte) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	assignment := &SlotTransitionCircuit{
		InitialRootCommitment: rootCommitment(pub.InitialStateRoot),
		FinalRootCommitment:   rootCommitment(pub.FinalStateRoot),
		GasUsedDigest:         digestOf(pub.RewardedAddresses),
		ValidityDigest:        digestOfSlices(pub.ValidityConditions),
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("zkvm: build public witness: %w", err)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(zkProof)); err != nil {
		return fmt.Errorf("zkvm: deserialize proof: %w", err)
	}

	if err := groth16.Verify(proof, v.vk, publicWitness); err != nil {
		return fmt.Errorf("zkvm: verification failed: %w", err)
	}
	return nil
}

// rootCommitment maps a 32-byte state root into the circuit's scalar
// field, matching how GenerateProof's caller must derive
// InitialRootCommitment/FinalRootCommitment from the same roots.
func rootCommitment(root [32]byte) *big.Int {
	return new(big.Int).SetBytes(root[:])
}

func digestOf(items [][]byte) *big.Int {
	h := sha256.New()
	for _, item := range items {
		h.Write(item)
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

func digestOfSlices(items [][]byte) *big.Int {
	h := sha256.New()
	for _, item := range items {
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(item)))
		h.Write(lenBuf[:])
		h.Write(item)
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}
