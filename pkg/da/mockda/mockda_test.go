// Copyright 2025 Certen Protocol
package mockda

import (
	"context"
	"testing"
	"time"

	"github.com/sovrollup/stf-core/pkg/da"
)

func TestGetBlockAtReturnsSealedHeight(t *testing.T) {
	d := New()
	d.SubmitBlob(da.BatchBlob, []byte("batch-1"), da.Address("seq-a"), true)
	height := d.AdvanceHeight()

	block, err := d.GetBlockAt(context.Background(), height)
	if err != nil {
		t.Fatalf("GetBlockAt: %v", err)
	}
	blobs, err := d.ExtractRelevantBlobs(block)
	if err != nil {
		t.Fatalf("ExtractRelevantBlobs: %v", err)
	}
	if len(blobs.BatchBlobs) != 1 {
		t.Fatalf("expected 1 batch blob, got %d", len(blobs.BatchBlobs))
	}
	if string(blobs.BatchBlobs[0].Data) != "batch-1" {
		t.Errorf("unexpected blob data: %q", blobs.BatchBlobs[0].Data)
	}
}

func TestGetBlockAtBlocksUntilSealed(t *testing.T) {
	d := New()
	done := make(chan error, 1)
	go func() {
		_, err := d.GetBlockAt(context.Background(), 1)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("GetBlockAt returned before height 1 was sealed")
	case <-time.After(50 * time.Millisecond):
	}

	d.SubmitBlob(da.BatchBlob, []byte("batch-2"), da.Address("seq-b"), true)
	d.AdvanceHeight()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("GetBlockAt: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("GetBlockAt did not unblock after AdvanceHeight")
	}
}

func TestGetBlockAtRespectsContextCancellation(t *testing.T) {
	d := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.GetBlockAt(ctx, 5)
	if err == nil {
		t.Fatal("expected context deadline error, got nil")
	}
}

func TestGetBlockAtRejectsHeightBeyondMax(t *testing.T) {
	d := New()
	_, err := d.GetBlockAt(context.Background(), maxHeight+1)
	if err != ErrHeightTooLarge {
		t.Fatalf("expected ErrHeightTooLarge, got %v", err)
	}
}

func TestBlockHashIsDeterministic(t *testing.T) {
	d1 := New()
	d1.SubmitBlob(da.BatchBlob, []byte("x"), da.Address("s"), true)
	h1 := d1.AdvanceHeight()
	b1, _ := d1.GetBlockAt(context.Background(), h1)

	d2 := New()
	d2.SubmitBlob(da.BatchBlob, []byte("x"), da.Address("s"), true)
	h2 := d2.AdvanceHeight()
	b2, _ := d2.GetBlockAt(context.Background(), h2)

	if b1.Hash != b2.Hash {
		t.Error("identical blob sequences produced different block hashes")
	}
}
