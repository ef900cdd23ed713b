// Copyright 2025 Certen Protocol
package state

import "github.com/sovrollup/stf-core/pkg/storage"

// TxScratchpad exists for the duration of one transaction (§3 Lifecycles).
// It is a RevertableWriter wrapping the slot's Delta.
type TxScratchpad struct {
	parent *Delta
	layer  *layer
}

// OpenScratchpad opens a fresh TxScratchpad over d. Per §4.H.1 step 1, this
// happens once per transaction in the slot loop.
func (d *Delta) OpenScratchpad() *TxScratchpad {
	return &TxScratchpad{parent: d, layer: newLayer(d)}
}

func (s *TxScratchpad) Get(ns storage.Namespace, key []byte) ([]byte, bool, error) {
	return s.layer.Get(ns, key)
}
func (s *TxScratchpad) Set(ns storage.Namespace, key, value []byte) { s.layer.Set(ns, key, value) }
func (s *TxScratchpad) Delete(ns storage.Namespace, key []byte)     { s.layer.Delete(ns, key) }

// mergeFrom accepts a committing child (WorkingSet) layer's log.
func (s *TxScratchpad) mergeFrom(child *layer) { child.mergeInto(s.layer) }

// Commit folds this scratchpad's log into its parent Delta (§4.H.1 step 10).
func (s *TxScratchpad) Commit() { s.parent.mergeFrom(s.layer) }

// Revert drops this scratchpad's log entirely — no trace reaches the
// Delta (§4.H.1 steps 2-5 "revert scratchpad, continue").
func (s *TxScratchpad) Revert() {}
