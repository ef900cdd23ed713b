// Copyright 2025 Certen Protocol
//
// Assembles the sequencer/prover HTTP API's *http.ServeMux. Kept separate
// from cmd/rolld so the route set stays testable without a running node.
package server

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sovrollup/stf-core/pkg/ledgerdb"
	"github.com/sovrollup/stf-core/pkg/mempool"
	"github.com/sovrollup/stf-core/pkg/notify"
)

// NewMux builds the /sequencer/* API mux. ledger may be nil (no archive
// configured); read handlers then degrade to "unavailable" responses
// rather than panicking. pool may be nil to submit each tx as its own
// batch blob instead of queuing it (see NewSequencerHandlers).
func NewMux(daLayer BlobSubmitter, pool *mempool.Mempool, ledger *ledgerdb.Client, hub *notify.Hub, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	NewSequencerHandlers(daLayer, pool, ledger, hub, logger).Routes(mux)
	mux.HandleFunc("GET /healthz", handleHealthz)
	return mux
}

// NewMetricsMux builds the standalone metrics listener's mux, served on
// ServerConfig.MetricsAddr separately from the API's ListenAddr.
func NewMetricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(reg))
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
