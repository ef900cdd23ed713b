// Copyright 2025 Certen Protocol
package kernel

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/sovrollup/stf-core/pkg/gas"
)

func testConstants() Constants {
	return Constants{
		ElasticityMultiplier:        2,
		BaseFeeMaxChangeDenominator: 8,
		InitialBaseFeePerGas:        []uint64{1000},
		InitialGasLimit:             []uint64{30_000_000},
	}
}

func TestConstantsValidateRejectsZeroFields(t *testing.T) {
	c := testConstants()
	c.ElasticityMultiplier = 0
	if err := c.Validate(); err != ErrZeroElasticityMultiplier {
		t.Fatalf("expected ErrZeroElasticityMultiplier, got %v", err)
	}

	c = testConstants()
	c.BaseFeeMaxChangeDenominator = 0
	if err := c.Validate(); err != ErrZeroBaseFeeDenominator {
		t.Fatalf("expected ErrZeroBaseFeeDenominator, got %v", err)
	}
}

func TestComputeBaseFeePerGasHoldsAtTarget(t *testing.T) {
	c := testConstants()
	info := BlockGasInfo{
		GasLimit:      gas.NewUnit(30_000_000),
		GasUsed:       gas.NewUnit(15_000_000), // == target (limit / elasticity)
		BaseFeePerGas: gas.NewPrice(1000),
	}
	next := c.ComputeBaseFeePerGas(info)
	if next.AsSlice()[0] != 1000 {
		t.Fatalf("expected base fee unchanged at target usage, got %d", next.AsSlice()[0])
	}
}

func TestComputeBaseFeePerGasRisesAboveTarget(t *testing.T) {
	c := testConstants()
	info := BlockGasInfo{
		GasLimit:      gas.NewUnit(30_000_000),
		GasUsed:       gas.NewUnit(30_000_000), // full block, 2x target
		BaseFeePerGas: gas.NewPrice(1000),
	}
	next := c.ComputeBaseFeePerGas(info)
	if next.AsSlice()[0] <= 1000 {
		t.Fatalf("expected base fee to rise above target usage, got %d", next.AsSlice()[0])
	}
}

func TestComputeBaseFeePerGasFallsBelowTarget(t *testing.T) {
	c := testConstants()
	info := BlockGasInfo{
		GasLimit:      gas.NewUnit(30_000_000),
		GasUsed:       gas.NewUnit(0),
		BaseFeePerGas: gas.NewPrice(1000),
	}
	next := c.ComputeBaseFeePerGas(info)
	if next.AsSlice()[0] >= 1000 {
		t.Fatalf("expected base fee to fall below target usage, got %d", next.AsSlice()[0])
	}
}

func newTestKernel(t *testing.T) (*Kernel, ChainState) {
	t.Helper()
	state := NewKVChainState(dbm.NewMemDB())
	k, err := New(testConstants(), state, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return k, state
}

func TestBeginSlotHookAdvancesAndUsesInitialPriceBeforeAnySlot(t *testing.T) {
	k, _ := newTestKernel(t)
	price, err := k.BeginSlotHook()
	if err != nil {
		t.Fatalf("BeginSlotHook: %v", err)
	}
	if price.AsSlice()[0] != 1000 {
		t.Fatalf("expected initial base fee, got %v", price.AsSlice())
	}
	if k.VisibleHeight() != 1 {
		t.Fatalf("expected visible height 1, got %d", k.VisibleHeight())
	}
}

func TestEndSlotHookPersistsNextSlotsBaseFee(t *testing.T) {
	k, _ := newTestKernel(t)
	if _, err := k.BeginSlotHook(); err != nil {
		t.Fatalf("BeginSlotHook: %v", err)
	}
	var hash [32]byte
	copy(hash[:], []byte("slot-1-hash"))
	err := k.EndSlotHook(1, hash, gas.NewUnit(30_000_000), gas.NewUnit(30_000_000), gas.NewPrice(1000), []byte("vc"))
	if err != nil {
		t.Fatalf("EndSlotHook: %v", err)
	}

	price, err := k.BeginSlotHook()
	if err != nil {
		t.Fatalf("BeginSlotHook (2nd slot): %v", err)
	}
	if price.AsSlice()[0] <= 1000 {
		t.Fatalf("expected updated (risen) base fee to carry into next slot, got %v", price.AsSlice())
	}
}

// A restarted process must resume visibleHeight from the last persisted
// slot rather than replay from 0.
func TestNewResumesVisibleHeightFromChainState(t *testing.T) {
	db := dbm.NewMemDB()
	state := NewKVChainState(db)
	k1, err := New(testConstants(), state, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := k1.BeginSlotHook(); err != nil {
		t.Fatalf("BeginSlotHook: %v", err)
	}
	var hash [32]byte
	if err := k1.EndSlotHook(1, hash, gas.NewUnit(1), gas.NewUnit(1), gas.NewPrice(1), nil); err != nil {
		t.Fatalf("EndSlotHook: %v", err)
	}

	k2, err := New(testConstants(), NewKVChainState(db), nil)
	if err != nil {
		t.Fatalf("New (resume): %v", err)
	}
	if k2.VisibleHeight() != k1.VisibleHeight() {
		t.Fatalf("expected resumed kernel to carry forward visible height %d, got %d", k1.VisibleHeight(), k2.VisibleHeight())
	}
}

func TestGenesisRootRoundTrips(t *testing.T) {
	k, _ := newTestKernel(t)
	if _, found, err := k.GenesisRoot(); err != nil || found {
		t.Fatalf("expected no genesis root yet, found=%v err=%v", found, err)
	}
	var root [32]byte
	copy(root[:], []byte("a-genesis-root"))
	if err := k.SetGenesisRoot(root); err != nil {
		t.Fatalf("SetGenesisRoot: %v", err)
	}
	got, found, err := k.GenesisRoot()
	if err != nil || !found {
		t.Fatalf("expected genesis root found, found=%v err=%v", found, err)
	}
	if got != root {
		t.Fatalf("genesis root mismatch: got %x want %x", got, root)
	}
}

func TestDeferBlobReplaysAtNextVisibleHeight(t *testing.T) {
	k, _ := newTestKernel(t)
	if _, err := k.BeginSlotHook(); err != nil { // visibleHeight = 1
		t.Fatalf("BeginSlotHook: %v", err)
	}
	if err := k.DeferBlob(DeferredBlob{Data: []byte("deferred"), Sender: []byte("s")}); err != nil {
		t.Fatalf("DeferBlob: %v", err)
	}

	// Nothing deferred for the current slot yet.
	deferred, err := k.TakeDeferredForThisSlot()
	if err != nil {
		t.Fatalf("TakeDeferredForThisSlot: %v", err)
	}
	if len(deferred) != 0 {
		t.Fatalf("expected no deferred blobs at height 1, got %d", len(deferred))
	}

	var hash [32]byte
	if err := k.EndSlotHook(1, hash, gas.NewUnit(1), gas.NewUnit(0), gas.NewPrice(1), nil); err != nil {
		t.Fatalf("EndSlotHook: %v", err)
	}
	if _, err := k.BeginSlotHook(); err != nil { // visibleHeight = 2
		t.Fatalf("BeginSlotHook: %v", err)
	}

	deferred, err = k.TakeDeferredForThisSlot()
	if err != nil {
		t.Fatalf("TakeDeferredForThisSlot: %v", err)
	}
	if len(deferred) != 1 || string(deferred[0].Data) != "deferred" {
		t.Fatalf("expected the deferred blob to replay at height 2, got %v", deferred)
	}

	// Taking again returns nothing: the stash was cleared.
	deferred, err = k.TakeDeferredForThisSlot()
	if err != nil {
		t.Fatalf("TakeDeferredForThisSlot (2nd): %v", err)
	}
	if len(deferred) != 0 {
		t.Fatalf("expected deferred stash to be cleared after TakeDeferredForThisSlot, got %d", len(deferred))
	}
}
