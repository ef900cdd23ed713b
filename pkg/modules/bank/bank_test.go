// Copyright 2025 Certen Protocol
package bank

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/module"
	"github.com/sovrollup/stf-core/pkg/state"
	"github.com/sovrollup/stf-core/pkg/storage"
)

// newWorkingSet builds a throwaway WorkingSet over a fresh in-memory store,
// the minimal stack a module's DispatchCall/direct-call methods need.
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

func TestCreateTokenThenTransferThenMint(t *testing.T) {
	ws := newWorkingSet(t)
	m := New()

	creator := addr(1)
	recipient := addr(2)

	id, err := m.CreateToken(ws, creator, "gold", 7, 1000, creator, nil)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	bal, err := m.BalanceOf(ws, creator, id)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if bal != 1000 {
		t.Fatalf("expected initial balance 1000, got %d", bal)
	}

	if err := m.TransferFrom(ws, creator, recipient, Coins{Amount: 400, TokenID: id}); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if bal, _ := m.BalanceOf(ws, creator, id); bal != 600 {
		t.Fatalf("expected creator balance 600 after transfer, got %d", bal)
	}
	if bal, _ := m.BalanceOf(ws, recipient, id); bal != 400 {
		t.Fatalf("expected recipient balance 400 after transfer, got %d", bal)
	}

	if err := m.Mint(ws, creator, Coins{Amount: 50, TokenID: id}, recipient); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if bal, _ := m.BalanceOf(ws, recipient, id); bal != 450 {
		t.Fatalf("expected recipient balance 450 after mint, got %d", bal)
	}
}

func TestCreateTokenRejectsDuplicateID(t *testing.T) {
	ws := newWorkingSet(t)
	m := New()
	creator := addr(1)

	if _, err := m.CreateToken(ws, creator, "gold", 1, 10, creator, nil); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if _, err := m.CreateToken(ws, creator, "gold", 1, 10, creator, nil); err != ErrTokenAlreadyExists {
		t.Fatalf("expected ErrTokenAlreadyExists, got %v", err)
	}
}

func TestTransferFromRejectsInsufficientBalance(t *testing.T) {
	ws := newWorkingSet(t)
	m := New()
	creator, recipient := addr(1), addr(2)

	id, _ := m.CreateToken(ws, creator, "gold", 1, 10, creator, nil)
	if err := m.TransferFrom(ws, creator, recipient, Coins{Amount: 11, TokenID: id}); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestMintRejectsUnauthorizedMinter(t *testing.T) {
	ws := newWorkingSet(t)
	m := New()
	creator, stranger := addr(1), addr(9)

	id, _ := m.CreateToken(ws, creator, "gold", 1, 10, creator, nil)
	if err := m.Mint(ws, stranger, Coins{Amount: 5, TokenID: id}, stranger); err != ErrUnauthorizedMinter {
		t.Fatalf("expected ErrUnauthorizedMinter, got %v", err)
	}
}

func TestDispatchCallTransferRoundTrip(t *testing.T) {
	ws := newWorkingSet(t)
	m := New()
	creator, recipient := addr(1), addr(2)

	id, err := m.CreateToken(ws, creator, "gold", 1, 100, creator, nil)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	payload := mustJSON(CallMessage{Variant: "transfer", To: recipient, Coins: Coins{Amount: 30, TokenID: id}})
	ctx := module.Context{Sender: creator}
	if _, err := m.DispatchCall(payload, ctx, ws); err != nil {
		t.Fatalf("DispatchCall: %v", err)
	}
	if bal, _ := m.BalanceOf(ws, recipient, id); bal != 30 {
		t.Fatalf("expected recipient balance 30 after dispatched transfer, got %d", bal)
	}
	if len(ws.Events()) != 1 || ws.Events()[0].Key != "token_transferred" {
		t.Fatalf("expected one token_transferred event, got %v", ws.Events())
	}
}

func TestDispatchCallRejectsUnknownVariant(t *testing.T) {
	ws := newWorkingSet(t)
	m := New()
	payload := mustJSON(CallMessage{Variant: "burn"})
	if _, err := m.DispatchCall(payload, module.Context{}, ws); err == nil {
		t.Fatal("expected an error for an unknown call variant")
	}
}

func TestReserveAndRefundGasRoundTrip(t *testing.T) {
	ws := newWorkingSet(t)
	m := New()
	sender := addr(1)

	// Seed the sender with gas-token balance directly, bypassing dispatch.
	if err := m.balances.Set(ws, balanceKey{Token: GasTokenID, Address: sender}, 1000); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	if err := m.ReserveGas(ws, sender, 300); err != nil {
		t.Fatalf("ReserveGas: %v", err)
	}
	if bal, _ := m.BalanceOf(ws, sender, GasTokenID); bal != 700 {
		t.Fatalf("expected sender balance 700 after reserve, got %d", bal)
	}
	if bal, _ := m.BalanceOf(ws, FeePoolAddress, GasTokenID); bal != 300 {
		t.Fatalf("expected fee pool balance 300 after reserve, got %d", bal)
	}

	if err := m.RefundGas(ws, sender, 120); err != nil {
		t.Fatalf("RefundGas: %v", err)
	}
	if bal, _ := m.BalanceOf(ws, sender, GasTokenID); bal != 820 {
		t.Fatalf("expected sender balance 820 after refund, got %d", bal)
	}
}
