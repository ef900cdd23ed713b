// Copyright 2025 Certen Protocol
package mempool

import "testing"

func TestAcceptTxDedupesByContentHash(t *testing.T) {
	m := New(0)
	raw := []byte("tx-a")

	h1, err := m.AcceptTx(raw)
	if err != nil {
		t.Fatalf("AcceptTx: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 pending tx, got %d", m.Len())
	}

	h2, err := m.AcceptTx(raw)
	if err != nil {
		t.Fatalf("AcceptTx (dup): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hash for identical raw bytes")
	}
	if m.Len() != 1 {
		t.Fatalf("expected dedup to not grow pending count, got %d", m.Len())
	}
}

func TestAcceptTxRejectsAtCapacity(t *testing.T) {
	m := New(1)
	if _, err := m.AcceptTx([]byte("a")); err != nil {
		t.Fatalf("AcceptTx: %v", err)
	}
	if _, err := m.AcceptTx([]byte("b")); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestDrainBatchReturnsFIFOOrderAndClearsDedup(t *testing.T) {
	m := New(0)
	m.AcceptTx([]byte("first"))
	m.AcceptTx([]byte("second"))
	m.AcceptTx([]byte("third"))

	entries := m.DrainBatch(2)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if string(entries[0].Raw) != "first" || string(entries[1].Raw) != "second" {
		t.Fatalf("expected FIFO order, got %q, %q", entries[0].Raw, entries[1].Raw)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 tx remaining, got %d", m.Len())
	}

	// A previously drained tx is no longer "seen" and can be resubmitted.
	if _, err := m.AcceptTx([]byte("first")); err != nil {
		t.Fatalf("AcceptTx after drain: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 pending after resubmission, got %d", m.Len())
	}
}

func TestDrainBatchOnEmptyPoolReturnsNil(t *testing.T) {
	m := New(0)
	if entries := m.DrainBatch(10); entries != nil {
		t.Fatalf("expected nil for empty pool, got %v", entries)
	}
}
