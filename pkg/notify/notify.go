// Copyright 2025 Certen Protocol
//
// Notification fan-out (§4.M): a buffered-channel Hub broadcasts
// SlotCommitted and ProofVerified events to whatever is listening — RPC
// long-poll streams (§4.O's /sequencer/txs/{hash}/ws), dashboards, the
// optional Firestore mirror. Grounded on pkg/firestore/sync_service.go's
// event-driven "stage reached, fan out a snapshot" shape, restyled from
// one synchronous Firestore write per stage into Go channels so a slow or
// absent subscriber never blocks the slot loop — the one goroutine that
// must never stall (§5).
package notify

import (
	"sync"

	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/storage"
)

// SlotCommitted fires once a slot's state transition has been
// materialized and archived.
type SlotCommitted struct {
	SlotNumber uint64
	SlotHash   [32]byte
	Roots      storage.Roots
	GasUsed    gas.Unit
	BaseFee    gas.Price
}

// ProofVerified fires once an aggregated proof has been verified and its
// reward/penalty settled.
type ProofVerified struct {
	Prover            string
	InitialSlotNumber uint64
	FinalSlotNumber   uint64
	Penalized         bool
}

// subscriberCap bounds each subscriber's buffered channel. A subscriber
// that falls this far behind is dropped rather than allowed to backpressure
// the publisher.
const subscriberCap = 256

// Hub fans SlotCommitted/ProofVerified events out to any number of
// subscribers. The zero value is not usable; construct with New.
type Hub struct {
	mu          sync.Mutex
	slotSubs    map[int]chan SlotCommitted
	proofSubs   map[int]chan ProofVerified
	nextSlotID  int
	nextProofID int
	dropped     func(kind string, subscriberID int)
}

// New constructs an empty Hub. onDropped, if non-nil, is called whenever a
// subscriber is dropped for falling behind — wire it to a metrics counter.
func New(onDropped func(kind string, subscriberID int)) *Hub {
	return &Hub{
		slotSubs:  make(map[int]chan SlotCommitted),
		proofSubs: make(map[int]chan ProofVerified),
		dropped:   onDropped,
	}
}

// SubscribeSlots registers a new SlotCommitted subscriber and returns its
// channel plus an unsubscribe function.
func (h *Hub) SubscribeSlots() (<-chan SlotCommitted, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSlotID
	h.nextSlotID++
	ch := make(chan SlotCommitted, subscriberCap)
	h.slotSubs[id] = ch
	return ch, func() { h.unsubscribeSlots(id) }
}

func (h *Hub) unsubscribeSlots(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.slotSubs[id]; ok {
		delete(h.slotSubs, id)
		close(ch)
	}
}

// SubscribeProofs registers a new ProofVerified subscriber and returns its
// channel plus an unsubscribe function.
func (h *Hub) SubscribeProofs() (<-chan ProofVerified, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextProofID
	h.nextProofID++
	ch := make(chan ProofVerified, subscriberCap)
	h.proofSubs[id] = ch
	return ch, func() { h.unsubscribeProofs(id) }
}

func (h *Hub) unsubscribeProofs(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.proofSubs[id]; ok {
		delete(h.proofSubs, id)
		close(ch)
	}
}

// PublishSlotCommitted broadcasts ev to every slot subscriber. Full
// channels are never blocked on: the event is dropped for that subscriber
// and onDropped is invoked.
func (h *Hub) PublishSlotCommitted(ev SlotCommitted) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.slotSubs {
		select {
		case ch <- ev:
		default:
			if h.dropped != nil {
				h.dropped("slot_committed", id)
			}
		}
	}
}

// PublishProofVerified broadcasts ev to every proof subscriber, with the
// same non-blocking drop discipline as PublishSlotCommitted.
func (h *Hub) PublishProofVerified(ev ProofVerified) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.proofSubs {
		select {
		case ch <- ev:
		default:
			if h.dropped != nil {
				h.dropped("proof_verified", id)
			}
		}
	}
}
