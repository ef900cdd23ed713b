// Copyright 2025 Certen Protocol
package stf

import "testing"

func TestEncodeDecodeBatchRoundTrip(t *testing.T) {
	txs := [][]byte{[]byte("tx-one"), []byte(""), []byte("tx-three")}
	blob := EncodeBatch(txs)

	got, err := DecodeBatch(blob)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(got) != len(txs) {
		t.Fatalf("expected %d txs, got %d", len(txs), len(got))
	}
	for i := range txs {
		if string(got[i]) != string(txs[i]) {
			t.Errorf("tx %d: got %q want %q", i, got[i], txs[i])
		}
	}
}

func TestEncodeDecodeBatchEmpty(t *testing.T) {
	got, err := DecodeBatch(EncodeBatch(nil))
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no txs, got %d", len(got))
	}
}

func TestDecodeBatchRejectsTruncatedLengthPrefix(t *testing.T) {
	if _, err := DecodeBatch([]byte{1, 2, 3}); err != ErrMalformedBatch {
		t.Fatalf("expected ErrMalformedBatch, got %v", err)
	}
}

func TestDecodeBatchRejectsLengthLargerThanRemainingData(t *testing.T) {
	blob := EncodeBatch([][]byte{[]byte("short")})
	truncated := blob[:len(blob)-2]
	if _, err := DecodeBatch(truncated); err != ErrMalformedBatch {
		t.Fatalf("expected ErrMalformedBatch, got %v", err)
	}
}

func TestEncodeDecodeCallRoundTrip(t *testing.T) {
	payload := []byte(`{"variant":"transfer"}`)
	raw := EncodeCall("bank", payload)

	call, err := DecodeCall(raw)
	if err != nil {
		t.Fatalf("DecodeCall: %v", err)
	}
	if call.ModuleID != "bank" {
		t.Fatalf("expected module id 'bank', got %q", call.ModuleID)
	}
	if string(call.Payload) != string(payload) {
		t.Fatalf("payload mismatch: got %s want %s", call.Payload, payload)
	}
}

func TestDecodeCallRejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeCall([]byte("not json")); err == nil {
		t.Fatal("expected an error decoding malformed runtime_msg")
	}
}

func TestTxHashIsDeterministicAndContentSensitive(t *testing.T) {
	a := TxHash([]byte("payload-a"))
	b := TxHash([]byte("payload-a"))
	c := TxHash([]byte("payload-b"))
	if a != b {
		t.Fatal("expected identical input to produce identical hash")
	}
	if a == c {
		t.Fatal("expected different input to produce different hash")
	}
}
