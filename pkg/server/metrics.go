// Copyright 2025 Certen Protocol
//
// Prometheus metrics for the sequencer/prover node (§4.O "Prometheus gauges
// for ... slot gas usage, pending tx counts"). The teacher's go.mod already
// carries github.com/prometheus/client_golang; this is its first concrete
// use in this repo, so it gets its own small subscriber off the notify.Hub
// rather than being threaded through the slot loop directly — the same
// off-loop discipline pkg/notify.Mirror already follows.
package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sovrollup/stf-core/pkg/notify"
)

// Metrics holds the node's Prometheus collectors.
type Metrics struct {
	slotsCommitted  prometheus.Counter
	batchesSlashed  prometheus.Counter
	proofsVerified  prometheus.Counter
	proofsPenalized prometheus.Counter
	slotGasUsed     *prometheus.GaugeVec
	slotBaseFee     *prometheus.GaugeVec
}

// NewMetrics registers the node's collectors against reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		slotsCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stfcore_slots_committed_total",
			Help: "Total number of slots committed by ApplySlot.",
		}),
		batchesSlashed: factory.NewCounter(prometheus.CounterOpts{
			Name: "stfcore_batches_slashed_total",
			Help: "Total number of batches whose sequencer was slashed.",
		}),
		proofsVerified: factory.NewCounter(prometheus.CounterOpts{
			Name: "stfcore_proofs_verified_total",
			Help: "Total number of aggregated proofs that verified successfully.",
		}),
		proofsPenalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "stfcore_proofs_penalized_total",
			Help: "Total number of proof submissions that were penalized.",
		}),
		slotGasUsed: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stfcore_slot_gas_used",
			Help: "Gas used in the most recently committed slot, by dimension.",
		}, []string{"dimension"}),
		slotBaseFee: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stfcore_slot_base_fee",
			Help: "Base fee per gas in the most recently committed slot, by dimension.",
		}, []string{"dimension"}),
	}
}

// Run drains hub's subscriptions until ctx is cancelled, updating m from
// every SlotCommitted/ProofVerified event.
func (m *Metrics) Run(ctx context.Context, hub *notify.Hub) {
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
			m.observeSlot(ev)
		case ev, ok := <-proofs:
			if !ok {
				return
			}
			m.observeProof(ev)
		}
	}
}

func (m *Metrics) observeSlot(ev notify.SlotCommitted) {
	m.slotsCommitted.Inc()
	for i, v := range ev.GasUsed.AsSlice() {
		m.slotGasUsed.WithLabelValues(dimensionLabel(i)).Set(float64(v))
	}
	for i, v := range ev.BaseFee.AsSlice() {
		m.slotBaseFee.WithLabelValues(dimensionLabel(i)).Set(float64(v))
	}
}

func (m *Metrics) observeProof(ev notify.ProofVerified) {
	m.proofsVerified.Inc()
	if ev.Penalized {
		m.proofsPenalized.Inc()
	}
}

// IncBatchSlashed records one sequencer slash; called directly from the
// slot loop since it isn't carried on notify.SlotCommitted.
func (m *Metrics) IncBatchSlashed() { m.batchesSlashed.Inc() }

func dimensionLabel(i int) string {
	switch i {
	case 0:
		return "compute"
	default:
		return "dim" + string(rune('0'+i))
	}
}

// Handler serves reg's collected metrics in the Prometheus exposition
// format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
