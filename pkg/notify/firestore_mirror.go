// Copyright 2025 Certen Protocol
package notify

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/sovrollup/stf-core/pkg/firestore"
)

// Mirror subscribes to a Hub and writes each event to Firestore as a
// document, adapted from pkg/firestore/client.go's CreateStatusSnapshot
// "Doc(path).Set(ctx, map[string]interface{}{...})" idiom — restyled from
// per-user intent-stage snapshots to per-slot/per-proof rollup documents.
// A nil or disabled *firestore.Client makes every write a no-op, matching
// Client.IsEnabled's existing no-op-mode contract.
type Mirror struct {
	client *firestore.Client
	logger *log.Logger
}

// NewMirror constructs a Mirror. client may be a disabled client (see
// firestore.NewClient with ClientConfig.Enabled == false); writes then
// silently no-op.
func NewMirror(client *firestore.Client, logger *log.Logger) *Mirror {
	if logger == nil {
		logger = log.New(log.Writer(), "[notify.mirror] ", log.LstdFlags)
	}
	return &Mirror{client: client, logger: logger}
}

// Run drains hub's subscriptions until ctx is cancelled, mirroring every
// event into Firestore. Intended to run as its own goroutine, entirely off
// the slot-loop writer goroutine (§5).
func (m *Mirror) Run(ctx context.Context, hub *Hub) {
	if m.client == nil || !m.client.IsEnabled() {
		return
	}
	slots, unsubSlots := hub.SubscribeSlots()
	proofs, unsubProofs := hub.SubscribeProofs()
	defer unsubSlots()
	defer unsubProofs()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-slots:
			if !ok {
				return
			}
			m.mirrorSlot(ctx, ev)
		case ev, ok := <-proofs:
			if !ok {
				return
			}
			m.mirrorProof(ctx, ev)
		}
	}
}

func (m *Mirror) mirrorSlot(ctx context.Context, ev SlotCommitted) {
	docPath := fmt.Sprintf("slots/%d", ev.SlotNumber)
	_, err := m.client.Doc(docPath).Set(ctx, map[string]interface{}{
		"slotNumber": ev.SlotNumber,
		"slotHash":   hex.EncodeToString(ev.SlotHash[:]),
		"userRoot":   hex.EncodeToString(ev.Roots.UserRoot[:]),
		"kernelRoot": hex.EncodeToString(ev.Roots.KernelRoot[:]),
		"gasUsed":    ev.GasUsed.AsSlice(),
		"baseFee":    ev.BaseFee.AsSlice(),
		"mirroredAt": time.Now().UTC(),
	})
	if err != nil {
		m.logger.Printf("mirror slot %d: %v", ev.SlotNumber, err)
	}
}

func (m *Mirror) mirrorProof(ctx context.Context, ev ProofVerified) {
	docPath := fmt.Sprintf("proofs/%s_%d_%d", ev.Prover, ev.InitialSlotNumber, ev.FinalSlotNumber)
	_, err := m.client.Doc(docPath).Set(ctx, map[string]interface{}{
		"prover":            ev.Prover,
		"initialSlotNumber": ev.InitialSlotNumber,
		"finalSlotNumber":   ev.FinalSlotNumber,
		"penalized":         ev.Penalized,
		"mirroredAt":        time.Now().UTC(),
	})
	if err != nil {
		m.logger.Printf("mirror proof %s [%d,%d]: %v", ev.Prover, ev.InitialSlotNumber, ev.FinalSlotNumber, err)
	}
}
