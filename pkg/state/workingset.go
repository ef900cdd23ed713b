// Copyright 2025 Certen Protocol
package state

import (
	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/storage"
)

// Event is one module-emitted event recorded against a WorkingSet during
// dispatch (§3 TxReceipt.events).
type Event struct {
	Key   string
	Value []byte
}

// WorkingSet exists for the duration of one transaction inside its
// scratchpad (§3 Lifecycles). It layers gas metering and event collection
// on top of the RevertableWriter pattern shared with TxScratchpad.
type WorkingSet struct {
	parent             *TxScratchpad
	layer              *layer
	meter              gas.Meter
	maxFee             uint64
	maxPriorityFeeBips gas.PriorityFeeBips
	events             []Event
}

// OpenWorkingSet promotes a TxScratchpad into a WorkingSet, installing the
// tx's gas meter (§4.H.1 step 6 "promote to working-set").
func (s *TxScratchpad) OpenWorkingSet(meter gas.Meter, maxFee uint64, bips gas.PriorityFeeBips) *WorkingSet {
	return &WorkingSet{
		parent:             s,
		layer:              newLayer(s),
		meter:              meter,
		maxFee:             maxFee,
		maxPriorityFeeBips: bips,
	}
}

func (w *WorkingSet) Get(ns storage.Namespace, key []byte) ([]byte, bool, error) {
	return w.layer.Get(ns, key)
}
func (w *WorkingSet) Set(ns storage.Namespace, key, value []byte) { w.layer.Set(ns, key, value) }
func (w *WorkingSet) Delete(ns storage.Namespace, key []byte)     { w.layer.Delete(ns, key) }

// ChargeGas meters a module operation's cost; returns gas.ErrOutOfGas when
// the tx's reserved budget would be exceeded (§4.D).
func (w *WorkingSet) ChargeGas(amount gas.Unit) error { return w.meter.ChargeGas(amount) }

// AddEvent records an event emitted during dispatch. Dropped entirely if
// the WorkingSet is later reverted (§4.H.1 step 7 "events from the reverted
// call are dropped").
func (w *WorkingSet) AddEvent(key string, value []byte) {
	w.events = append(w.events, Event{Key: key, Value: value})
}

// Events returns the events recorded so far.
func (w *WorkingSet) Events() []Event { return w.events }

// GasMeter exposes the underlying meter for callers that need direct access
// (e.g. to read remaining funds for a pre-flight check).
func (w *WorkingSet) GasMeter() gas.Meter { return w.meter }

// MaxFee returns the tx's declared maximum fee.
func (w *WorkingSet) MaxFee() uint64 { return w.maxFee }

// Finalize computes this tx's gas.Consumption from the meter's final state
// and the declared fee parameters (§4.D).
func (w *WorkingSet) Finalize() gas.Consumption {
	return gas.Finalize(w.meter, w.maxFee, w.maxPriorityFeeBips)
}

// Commit folds the WorkingSet's log into its parent scratchpad, keeping the
// events and gas consumed (§4.H.1 step 7 "Ok => Successful, commit
// working-set").
func (w *WorkingSet) Commit() (*TxScratchpad, []Event, gas.Consumption) {
	consumption := w.Finalize()
	w.parent.mergeFrom(w.layer)
	return w.parent, w.events, consumption
}

// Revert drops the WorkingSet's state writes but keeps the gas already
// charged to the meter and the consumption computed from it — "revert
// working-set but keep gas consumed" (§4.H.1 step 7). Events are dropped.
func (w *WorkingSet) Revert() (*TxScratchpad, gas.Consumption) {
	consumption := w.Finalize()
	return w.parent, consumption
}
