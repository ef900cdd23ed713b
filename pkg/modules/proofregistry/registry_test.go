// Copyright 2025 Certen Protocol
package proofregistry

import (
	"encoding/json"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/kernel"
	"github.com/sovrollup/stf-core/pkg/module"
	"github.com/sovrollup/stf-core/pkg/modules/bank"
	"github.com/sovrollup/stf-core/pkg/state"
	"github.com/sovrollup/stf-core/pkg/storage"
)

func newWorkingSet(t *testing.T) *state.WorkingSet {
	t.Helper()
	store := storage.Open(dbm.NewMemDB())
	delta := state.NewDelta(store, 1)
	scratch := delta.OpenScratchpad()
	meter := gas.NewUnlimitedMeter(gas.NewPrice(1, 1))
	return scratch.OpenWorkingSet(meter, ^uint64(0), 0)
}

func addr(b byte) module.Address {
	var a module.Address
	a[0] = b
	return a
}

// seedGasBalance credits addr with the bank module's native gas token
// directly, mirroring the same key layout bank.Module.balances uses
// internally (see pkg/modules/bank/bank.go's balanceKeyCodec).
func seedGasBalance(a state.Accessor, addr module.Address, amount uint64) {
	var zero bank.TokenID
	key := append([]byte("bank/balances/"), zero[:]...)
	key = append(key, addr[:]...)
	val, _ := json.Marshal(amount)
	a.Set(storage.User, key, val)
}

func testConstants() kernel.Constants {
	return kernel.Constants{
		ElasticityMultiplier:        2,
		BaseFeeMaxChangeDenominator: 8,
		InitialBaseFeePerGas:        []uint64{1000},
		InitialGasLimit:             []uint64{30_000_000},
	}
}

// setup builds a one-slot chain-state: genesis root recorded, slot 1 ended
// with a known slot hash, validity condition, and final roots — the
// fixture ProcessProofBlob's historical-match checks verify against.
func setup(t *testing.T) (*Module, *state.WorkingSet, *kernel.Kernel, [32]byte, [32]byte, storage.Roots) {
	t.Helper()
	ws := newWorkingSet(t)
	bankModule := bank.New()

	k, err := kernel.New(testConstants(), kernel.NewKVChainState(dbm.NewMemDB()), nil)
	if err != nil {
		t.Fatalf("kernel.New: %v", err)
	}

	var genesisRoot [32]byte
	copy(genesisRoot[:], []byte("genesis-root"))
	if err := k.SetGenesisRoot(genesisRoot); err != nil {
		t.Fatalf("SetGenesisRoot: %v", err)
	}

	if _, err := k.BeginSlotHook(); err != nil {
		t.Fatalf("BeginSlotHook: %v", err)
	}
	var slotHash [32]byte
	copy(slotHash[:], []byte("slot-1-hash"))
	if err := k.EndSlotHook(1, slotHash, gas.NewUnit(1), gas.NewUnit(1), gas.NewPrice(1000), []byte("vc-1")); err != nil {
		t.Fatalf("EndSlotHook: %v", err)
	}
	roots := storage.Roots{UserRoot: genesisRoot, KernelRoot: genesisRoot}
	if err := k.RecordFinalRoots(1, roots); err != nil {
		t.Fatalf("RecordFinalRoots: %v", err)
	}

	m := New(bankModule, k, nil)
	cfg := GenesisConfig{MinimumBond: 1000, BurnRateBips: 5000, BlockGasReward: 1000, ProvingPenalty: 200}
	raw, _ := json.Marshal(cfg)
	if err := m.Genesis(raw, ws); err != nil {
		t.Fatalf("Genesis: %v", err)
	}

	return m, ws, k, genesisRoot, slotHash, roots
}

func validBundle(prover ProverDaAddress, genesisRoot, slotHash [32]byte, roots storage.Roots) ProofBundle {
	return ProofBundle{
		Prover: prover,
		Public: AggregatedProofPublicData{
			InitialSlotNumber:  1,
			FinalSlotNumber:    1,
			InitialStateRoot:   combinedRoot(roots),
			FinalStateRoot:     combinedRoot(roots),
			InitialSlotHash:    slotHash,
			FinalSlotHash:      slotHash,
			ValidityConditions: [][]byte{[]byte("vc-1")},
			GenesisStateRoot:   genesisRoot,
		},
	}
}

func TestRegisterThenDeposit(t *testing.T) {
	m, ws, _, _, _, _ := setup(t)
	sender := addr(1)
	seedGasBalance(ws, sender, 10_000)

	if err := m.Register(ws, "prover-1", sender, 2000); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Deposit(ws, "prover-1", sender, 500); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	entry, found, err := m.registeredProvers.Get(ws, "prover-1")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if entry.Balance != 2500 {
		t.Fatalf("expected balance 2500, got %d", entry.Balance)
	}
}

func TestRegisterRejectsBelowMinimumBond(t *testing.T) {
	m, ws, _, _, _, _ := setup(t)
	sender := addr(1)
	seedGasBalance(ws, sender, 10_000)
	if err := m.Register(ws, "prover-1", sender, 1); err == nil {
		t.Fatal("expected an error for a bond below the minimum")
	}
}

func TestProcessProofBlobRejectsUnregisteredProver(t *testing.T) {
	m, ws, _, genesisRoot, slotHash, roots := setup(t)
	bundle := validBundle("prover-1", genesisRoot, slotHash, roots)
	raw, _ := json.Marshal(bundle)
	if err := m.ProcessProofBlob(ws, raw, nil); err == nil {
		t.Fatal("expected an error for an unregistered prover")
	}
}

func TestProcessProofBlobRejectsGenesisRootMismatch(t *testing.T) {
	m, ws, _, _, slotHash, roots := setup(t)
	sender := addr(1)
	seedGasBalance(ws, sender, 10_000)
	if err := m.Register(ws, "prover-1", sender, 2000); err != nil {
		t.Fatalf("Register: %v", err)
	}
	var wrongGenesis [32]byte
	copy(wrongGenesis[:], []byte("wrong-genesis"))
	bundle := validBundle("prover-1", wrongGenesis, slotHash, roots)
	raw, _ := json.Marshal(bundle)
	if err := m.ProcessProofBlob(ws, raw, nil); err != ErrGenesisRootMismatch {
		t.Fatalf("expected ErrGenesisRootMismatch, got %v", err)
	}
}

func TestProcessProofBlobRewardsOnFirstClaim(t *testing.T) {
	m, ws, _, genesisRoot, slotHash, roots := setup(t)
	sender := addr(1)
	seedGasBalance(ws, sender, 10_000)
	seedGasBalance(ws, bank.FeePoolAddress, 1_000_000)

	if err := m.Register(ws, "prover-1", sender, 2000); err != nil {
		t.Fatalf("Register: %v", err)
	}
	before, err := m.bank.BalanceOf(ws, sender, bank.GasTokenID)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}

	bundle := validBundle("prover-1", genesisRoot, slotHash, roots)
	raw, _ := json.Marshal(bundle)
	if err := m.ProcessProofBlob(ws, raw, nil); err != nil {
		t.Fatalf("ProcessProofBlob: %v", err)
	}

	after, err := m.bank.BalanceOf(ws, sender, bank.GasTokenID)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	// burn_rate_bips=5000 (50%) of block_gas_reward=1000, over 1 block = 500.
	if after != before+500 {
		t.Fatalf("expected reward of 500, before=%d after=%d", before, after)
	}

	lastClaimed, found, err := m.lastClaimedSlot.Get(ws)
	if err != nil || !found || lastClaimed != 1 {
		t.Fatalf("expected last_claimed_slot=1, got %d found=%v err=%v", lastClaimed, found, err)
	}
}

func TestProcessProofBlobFinesOnDoubleClaim(t *testing.T) {
	m, ws, _, genesisRoot, slotHash, roots := setup(t)
	sender := addr(1)
	seedGasBalance(ws, sender, 10_000)
	seedGasBalance(ws, bank.FeePoolAddress, 1_000_000)

	if err := m.Register(ws, "prover-1", sender, 2000); err != nil {
		t.Fatalf("Register: %v", err)
	}

	bundle := validBundle("prover-1", genesisRoot, slotHash, roots)
	raw, _ := json.Marshal(bundle)
	if err := m.ProcessProofBlob(ws, raw, nil); err != nil {
		t.Fatalf("first ProcessProofBlob: %v", err)
	}

	// Resubmitting the same already-claimed range fines the prover instead
	// of rewarding it a second time.
	if err := m.ProcessProofBlob(ws, raw, nil); err != nil {
		t.Fatalf("second ProcessProofBlob: %v", err)
	}

	entry, found, err := m.registeredProvers.Get(ws, "prover-1")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if entry.Balance != 2000-200 {
		t.Fatalf("expected balance reduced by the proving penalty (200), got %d", entry.Balance)
	}
}

func TestDispatchCallRegisterRoundTrip(t *testing.T) {
	m, ws, _, _, _, _ := setup(t)
	sender := addr(1)
	seedGasBalance(ws, sender, 10_000)

	payload, _ := json.Marshal(CallMessage{Variant: "register", DaAddress: "prover-1", Amount: 2000})
	if _, err := m.DispatchCall(payload, module.Context{Sender: sender}, ws); err != nil {
		t.Fatalf("DispatchCall: %v", err)
	}
	if _, found, _ := m.registeredProvers.Get(ws, "prover-1"); !found {
		t.Fatal("expected registration after dispatched register call")
	}
}
