// Copyright 2025 Certen Protocol
//
// Freezing a Delta turns its accumulated access log into the pure
// compute_state_update/materialize_changes pair of §4.A, and — for a
// native run — a Witness recording every value and JMT proof the run
// touched, in read order, for later ZK replay (§4.C, §9).
package state

import (
	"fmt"

	"github.com/sovrollup/stf-core/pkg/storage"
	"github.com/sovrollup/stf-core/pkg/witness"
)

// Frozen is the output of freezing a slot's Delta: the new roots, the pure
// state update ready for MaterializeChanges, and the witness a ZK run would
// replay.
type Frozen struct {
	NewRoots Roots
	Update   *storage.StateUpdate
	Witness  *witness.Witness
}

// Roots mirrors storage.Roots to keep pkg/state's public surface
// independent of storage's internal layout.
type Roots = storage.Roots

// Freeze computes the new state root and witness for d against fromRoots,
// the roots the Delta was opened at (§4.A steps 1-3). It is native-only:
// GetWithProof requires direct storage access.
func Freeze(d *Delta, fromRoots Roots) (*Frozen, error) {
	w := witness.New()

	userAccess := d.Access(storage.User)
	kernelAccess := d.Access(storage.Kernel)
	accessoryAccess := d.Access(storage.Accessory)

	for _, provAccess := range []struct {
		ns     storage.Namespace
		access NamespaceAccess
	}{{storage.User, userAccess}, {storage.Kernel, kernelAccess}} {
		for _, r := range provAccess.access.OrderedReads {
			proof, err := d.store.GetWithProof(provAccess.ns, r.Key, d.version)
			if err != nil {
				return nil, fmt.Errorf("state: witness proof for %s key %x: %w", provAccess.ns, r.Key, err)
			}
			w.RecordProof(*proof)
		}
	}
	for _, r := range accessoryAccess.OrderedReads {
		w.RecordValue(r.Value)
	}

	update, err := d.store.ComputeStateUpdate(d.version, fromRoots, userAccess.OrderedWrites, kernelAccess.OrderedWrites, accessoryAccess.OrderedWrites)
	if err != nil {
		return nil, err
	}

	return &Frozen{NewRoots: update.NewRoots, Update: update, Witness: w}, nil
}

// VerifyReplay checks that a ZK replay of a previously-frozen slot is
// consistent: every recorded proof hint verifies against fromRoots, in the
// same order the native run consumed them, and recomputing the state
// update over the same write log yields the same claimed new roots. This
// is the symmetry property of §8 ("native vs ZK run yield identical JMT
// roots"), checked without a separate in-circuit storage reader since the
// ZK virtual machine itself is an external collaborator (§1).
func VerifyReplay(store *storage.Store, fromRoots Roots, claimedNewRoots Roots, w *witness.Witness, userWrites, kernelWrites, accessoryWrites []KV) error {
	for {
		if w.Exhausted() {
			break
		}
		proof, err := w.NextProof()
		if err != nil {
			// Accessory hints are plain values; once proofs run out we
			// expect only value hints remaining.
			if _, verr := w.NextValue(); verr != nil {
				return fmt.Errorf("state: witness out of order: %w", err)
			}
			continue
		}
		_, okUser, errUser := storage.OpenProof(fromRoots.UserRoot, &proof)
		if errUser != nil {
			return fmt.Errorf("state: witness proof verification: %w", errUser)
		}
		if !okUser {
			_, okKernel, errKernel := storage.OpenProof(fromRoots.KernelRoot, &proof)
			if errKernel != nil {
				return fmt.Errorf("state: witness proof verification: %w", errKernel)
			}
			if !okKernel {
				return fmt.Errorf("state: witness proof does not resolve against either namespace root")
			}
		}
	}

	update, err := store.ComputeStateUpdate(0, fromRoots, toStorageKVs(userWrites), toStorageKVs(kernelWrites), toStorageKVs(accessoryWrites))
	if err != nil {
		return err
	}
	if update.NewRoots != claimedNewRoots {
		return fmt.Errorf("state: replayed root mismatch: got %x/%x want %x/%x",
			update.NewRoots.UserRoot, update.NewRoots.KernelRoot, claimedNewRoots.UserRoot, claimedNewRoots.KernelRoot)
	}
	return nil
}

func toStorageKVs(kvs []KV) []storage.KV {
	out := make([]storage.KV, len(kvs))
	for i, kv := range kvs {
		out[i] = storage.KV{Key: kv.Key, Value: kv.Value}
	}
	return out
}
