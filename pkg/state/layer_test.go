// Copyright 2025 Certen Protocol
package state

import (
	"bytes"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/storage"
)

func freshDelta(t *testing.T) *Delta {
	t.Helper()
	store := storage.Open(dbm.NewMemDB())
	return NewDelta(store, 1)
}

func TestDeltaReadThroughOnMiss(t *testing.T) {
	d := freshDelta(t)
	v, found, err := d.Get(storage.User, []byte("alice"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatalf("expected no value on a fresh Delta, got %q", v)
	}
}

func TestScratchpadSetThenGetSeesLocalWrite(t *testing.T) {
	d := freshDelta(t)
	s := d.OpenScratchpad()
	s.Set(storage.User, []byte("alice"), []byte("1000"))

	v, found, err := s.Get(storage.User, []byte("alice"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || !bytes.Equal(v, []byte("1000")) {
		t.Fatalf("expected to see local write, got %q found=%v", v, found)
	}

	// Not yet visible on the parent Delta until Commit.
	if _, found, _ := d.Get(storage.User, []byte("alice")); found {
		t.Fatal("expected scratchpad write to stay invisible on the parent before Commit")
	}
}

func TestScratchpadCommitMergesIntoDelta(t *testing.T) {
	d := freshDelta(t)
	s := d.OpenScratchpad()
	s.Set(storage.User, []byte("alice"), []byte("1000"))
	s.Commit()

	v, found, err := d.Get(storage.User, []byte("alice"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || !bytes.Equal(v, []byte("1000")) {
		t.Fatalf("expected committed write visible on parent Delta, got %q found=%v", v, found)
	}
}

func TestScratchpadRevertLeavesNoTrace(t *testing.T) {
	d := freshDelta(t)
	s := d.OpenScratchpad()
	s.Set(storage.User, []byte("alice"), []byte("1000"))
	s.Revert()

	if _, found, _ := d.Get(storage.User, []byte("alice")); found {
		t.Fatal("expected reverted scratchpad write to leave no trace on the parent Delta")
	}
}

func TestWorkingSetCommitKeepsWritesAndEvents(t *testing.T) {
	d := freshDelta(t)
	s := d.OpenScratchpad()
	ws := s.OpenWorkingSet(gas.NewUnlimitedMeter(gas.NewPrice(1)), 1000, 0)
	ws.Set(storage.User, []byte("alice"), []byte("1000"))
	ws.AddEvent("created", []byte("alice"))

	parent, events, _ := ws.Commit()
	if parent != s {
		t.Fatal("expected Commit to return its own parent scratchpad")
	}
	if len(events) != 1 || events[0].Key != "created" {
		t.Fatalf("expected committed events to survive, got %v", events)
	}

	v, found, err := s.Get(storage.User, []byte("alice"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || !bytes.Equal(v, []byte("1000")) {
		t.Fatalf("expected write to merge into the parent scratchpad, got %q found=%v", v, found)
	}
}

func TestWorkingSetRevertDropsWritesAndEventsButKeepsGas(t *testing.T) {
	d := freshDelta(t)
	s := d.OpenScratchpad()

	meter := gas.NewUnlimitedMeter(gas.NewPrice(1))
	ws := s.OpenWorkingSet(meter, 1000, 0)
	ws.Set(storage.User, []byte("alice"), []byte("1000"))
	ws.AddEvent("created", []byte("alice"))
	if err := ws.ChargeGas(gas.NewUnit(50)); err != nil {
		t.Fatalf("ChargeGas: %v", err)
	}

	_, consumption := ws.Revert()
	if consumption.TotalGasUsed.AsSlice()[0] != 50 {
		t.Fatalf("expected gas already charged to survive revert, got %v", consumption.TotalGasUsed)
	}
	if len(ws.Events()) != 1 {
		t.Fatalf("Events() on the working set itself is unaffected by Revert, got %d", len(ws.Events()))
	}

	if _, found, _ := s.Get(storage.User, []byte("alice")); found {
		t.Fatal("expected reverted working-set write to leave no trace on the scratchpad")
	}
}

func TestWriteWriteCollisionCollapsesToLastWrite(t *testing.T) {
	d := freshDelta(t)
	s := d.OpenScratchpad()
	s.Set(storage.User, []byte("alice"), []byte("first"))
	s.Set(storage.User, []byte("alice"), []byte("second"))
	s.Commit()

	access := d.Access(storage.User)
	count := 0
	var last []byte
	for _, w := range access.OrderedWrites {
		if string(w.Key) == "alice" {
			count++
			last = w.Value
		}
	}
	if count != 1 {
		t.Fatalf("expected a single collapsed write entry for alice, got %d", count)
	}
	if !bytes.Equal(last, []byte("second")) {
		t.Fatalf("expected the last write to win, got %q", last)
	}
}

func TestDeleteMasksParentValue(t *testing.T) {
	d := freshDelta(t)
	s1 := d.OpenScratchpad()
	s1.Set(storage.User, []byte("alice"), []byte("1000"))
	s1.Commit()

	s2 := d.OpenScratchpad()
	s2.Delete(storage.User, []byte("alice"))

	v, found, err := s2.Get(storage.User, []byte("alice"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found || v != nil {
		t.Fatalf("expected deleted key to read as not found, got %q found=%v", v, found)
	}
}

func TestFirstReadIsLoggedNotSubsequentOnes(t *testing.T) {
	d := freshDelta(t)
	s1 := d.OpenScratchpad()
	s1.Set(storage.User, []byte("alice"), []byte("1000"))
	s1.Commit()

	s2 := d.OpenScratchpad()
	if _, _, err := s2.Get(storage.User, []byte("alice")); err != nil {
		t.Fatalf("Get 1: %v", err)
	}
	// Mutate locally and read again; the access log records the first
	// pre-write read, not this later state.
	s2.Set(storage.User, []byte("alice"), []byte("2000"))
	if _, _, err := s2.Get(storage.User, []byte("alice")); err != nil {
		t.Fatalf("Get 2: %v", err)
	}

	access := s2.layer.access(storage.User)
	count := 0
	for _, r := range access.OrderedReads {
		if string(r.Key) == "alice" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one logged read for alice, got %d", count)
	}
}
