// Copyright 2025 Certen Protocol
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func signedTx(t *testing.T) (Transaction, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tx := Transaction{
		PubKey:             pub,
		RuntimeMsg:         []byte("bank:transfer"),
		ChainID:            7,
		MaxPriorityFeeBips: 500,
		MaxFee:             100000,
		Nonce:              3,
		GasLimit:           []uint64{21000, 5000},
	}
	return Sign(priv, tx), priv
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tx, _ := signedTx(t)
	raw := tx.Encode()

	got, err := DecodeTransaction(raw)
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	if string(got.RuntimeMsg) != string(tx.RuntimeMsg) {
		t.Errorf("RuntimeMsg mismatch: got %q want %q", got.RuntimeMsg, tx.RuntimeMsg)
	}
	if got.ChainID != tx.ChainID || got.Nonce != tx.Nonce || got.MaxFee != tx.MaxFee {
		t.Errorf("scalar field mismatch: got %+v want %+v", got, tx)
	}
	if len(got.GasLimit) != len(tx.GasLimit) {
		t.Fatalf("GasLimit length mismatch: got %v want %v", got.GasLimit, tx.GasLimit)
	}
	for i := range tx.GasLimit {
		if got.GasLimit[i] != tx.GasLimit[i] {
			t.Errorf("GasLimit[%d]: got %d want %d", i, got.GasLimit[i], tx.GasLimit[i])
		}
	}
	if err := got.Verify(); err != nil {
		t.Fatalf("Verify on round-tripped tx: %v", err)
	}
}

func TestEncodeDecodeRoundTripWithNilGasLimit(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	tx := Sign(priv, Transaction{PubKey: pub, RuntimeMsg: []byte("x"), ChainID: 1})
	got, err := DecodeTransaction(tx.Encode())
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	if got.GasLimit != nil {
		t.Fatalf("expected nil GasLimit to round-trip as nil, got %v", got.GasLimit)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	tx, _ := signedTx(t)
	tx.Nonce++ // mutate a signed field after signing
	if err := tx.Verify(); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyRejectsWrongKeySize(t *testing.T) {
	tx, _ := signedTx(t)
	tx.PubKey = tx.PubKey[:10]
	if err := tx.Verify(); err != ErrMalformedTx {
		t.Fatalf("expected ErrMalformedTx, got %v", err)
	}
}

func TestDecodeTransactionRejectsTruncatedInput(t *testing.T) {
	tx, _ := signedTx(t)
	raw := tx.Encode()
	if _, err := DecodeTransaction(raw[:len(raw)-5]); err == nil {
		t.Fatal("expected an error decoding truncated input")
	}
}

func TestDecodeTransactionRejectsTrailingBytes(t *testing.T) {
	tx, _ := signedTx(t)
	raw := append(tx.Encode(), 0xFF)
	if _, err := DecodeTransaction(raw); err == nil {
		t.Fatal("expected an error decoding input with trailing bytes")
	}
}
