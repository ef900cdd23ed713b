// Copyright 2025 Certen Protocol
package state

import (
	"encoding/binary"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/sovrollup/stf-core/pkg/storage"
)

type uint64Codec struct{}

func (uint64Codec) Encode(v uint64) ([]byte, error) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:], nil
}

func (uint64Codec) Decode(b []byte) (uint64, error) {
	return binary.BigEndian.Uint64(b), nil
}

func freshScratchpad(t *testing.T) *TxScratchpad {
	t.Helper()
	store := storage.Open(dbm.NewMemDB())
	return NewDelta(store, 1).OpenScratchpad()
}

func TestValueRoundTrips(t *testing.T) {
	s := freshScratchpad(t)
	v := NewValue[uint64](storage.User, Prefix("total"), uint64Codec{})

	if _, found, err := v.Get(s); err != nil || found {
		t.Fatalf("expected no value before Set, found=%v err=%v", found, err)
	}
	if err := v.Set(s, 42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, found, err := v.Get(s)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}

	v.Delete(s)
	if _, found, err := v.Get(s); err != nil || found {
		t.Fatalf("expected no value after Delete, found=%v err=%v", found, err)
	}
}

func TestMapIndependentKeys(t *testing.T) {
	s := freshScratchpad(t)
	m := NewMap[uint64, uint64](storage.User, Prefix("bal"), uint64Codec{}, uint64Codec{})

	if err := m.Set(s, 1, 100); err != nil {
		t.Fatalf("Set 1: %v", err)
	}
	if err := m.Set(s, 2, 200); err != nil {
		t.Fatalf("Set 2: %v", err)
	}

	v1, found, err := m.Get(s, 1)
	if err != nil || !found || v1 != 100 {
		t.Fatalf("Get 1: %d found=%v err=%v", v1, found, err)
	}
	v2, found, err := m.Get(s, 2)
	if err != nil || !found || v2 != 200 {
		t.Fatalf("Get 2: %d found=%v err=%v", v2, found, err)
	}

	if err := m.Delete(s, 1); err != nil {
		t.Fatalf("Delete 1: %v", err)
	}
	if _, found, err := m.Get(s, 1); err != nil || found {
		t.Fatalf("expected key 1 deleted, found=%v err=%v", found, err)
	}
	if _, found, err := m.Get(s, 2); err != nil || !found {
		t.Fatalf("expected key 2 untouched, found=%v err=%v", found, err)
	}
}

func TestVecPushLenGet(t *testing.T) {
	s := freshScratchpad(t)
	v := NewVec[uint64](storage.User, Prefix("queue"), uint64Codec{})

	if n, err := v.Len(s); err != nil || n != 0 {
		t.Fatalf("expected empty Vec length 0, got %d err=%v", n, err)
	}
	if err := v.Push(s, 10); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := v.Push(s, 20); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := v.Push(s, 30); err != nil {
		t.Fatalf("Push: %v", err)
	}

	n, err := v.Len(s)
	if err != nil || n != 3 {
		t.Fatalf("expected length 3, got %d err=%v", n, err)
	}

	got, err := v.Get(s, 1)
	if err != nil || got != 20 {
		t.Fatalf("Get(1): %d err=%v", got, err)
	}

	if _, err := v.Get(s, 3); err != ErrIndexOutOfBounds {
		t.Fatalf("expected ErrIndexOutOfBounds, got %v", err)
	}
}

func TestVecSetRequiresInBounds(t *testing.T) {
	s := freshScratchpad(t)
	v := NewVec[uint64](storage.User, Prefix("queue"), uint64Codec{})
	if err := v.Push(s, 1); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := v.Set(s, 5, 99); err != ErrIndexOutOfBounds {
		t.Fatalf("expected ErrIndexOutOfBounds, got %v", err)
	}
	if err := v.Set(s, 0, 99); err != nil {
		t.Fatalf("Set(0): %v", err)
	}
	got, err := v.Get(s, 0)
	if err != nil || got != 99 {
		t.Fatalf("Get(0): %d err=%v", got, err)
	}
}

func TestVecAllAndReversed(t *testing.T) {
	s := freshScratchpad(t)
	v := NewVec[uint64](storage.User, Prefix("queue"), uint64Codec{})
	for _, val := range []uint64{1, 2, 3} {
		if err := v.Push(s, val); err != nil {
			t.Fatalf("Push(%d): %v", val, err)
		}
	}

	fwd, err := v.All(s)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(fwd) != 3 || fwd[0] != 1 || fwd[2] != 3 {
		t.Fatalf("unexpected forward order: %v", fwd)
	}

	rev, err := v.Reversed(s)
	if err != nil {
		t.Fatalf("Reversed: %v", err)
	}
	if len(rev) != 3 || rev[0] != 3 || rev[2] != 1 {
		t.Fatalf("unexpected reverse order: %v", rev)
	}
}

func TestVecSetAllTruncatesTrailingSlots(t *testing.T) {
	s := freshScratchpad(t)
	v := NewVec[uint64](storage.User, Prefix("queue"), uint64Codec{})
	for _, val := range []uint64{1, 2, 3, 4} {
		if err := v.Push(s, val); err != nil {
			t.Fatalf("Push(%d): %v", val, err)
		}
	}

	if err := v.SetAll(s, []uint64{10, 20}); err != nil {
		t.Fatalf("SetAll: %v", err)
	}

	n, err := v.Len(s)
	if err != nil || n != 2 {
		t.Fatalf("expected truncated length 2, got %d err=%v", n, err)
	}
	if _, err := v.Get(s, 2); err != ErrIndexOutOfBounds {
		t.Fatalf("expected truncated slot 2 to read out of bounds, got %v", err)
	}

	fwd, err := v.All(s)
	if err != nil || len(fwd) != 2 || fwd[0] != 10 || fwd[1] != 20 {
		t.Fatalf("unexpected contents after SetAll: %v err=%v", fwd, err)
	}
}
