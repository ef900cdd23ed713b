// Copyright 2025 Certen Protocol
//
// Sequencer/Prover HTTP API (§4.O): submit raw transactions and pre-batched
// blobs to the DA layer, query archived tx status, and long-poll for
// a tx's outcome. Grounded on pkg/server's former BatchHandlers idiom (a
// struct per handler group, a NewXHandlers constructor with a nil-logger
// fallback, a shared writeJSONError helper, decode-validate-respond method
// bodies) restyled from "submit an anchor batch for attestation" onto
// "submit a rollup transaction to the DA layer". The long-poll endpoint
// intentionally streams newline-delimited JSON rather than upgrading to a
// websocket: §4.O calls for an HTTP-native long poll, not a persistent
// bidirectional socket, and the corpus carries no websocket dependency to
// reach for.
package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/sovrollup/stf-core/pkg/da"
	"github.com/sovrollup/stf-core/pkg/ledgerdb"
	"github.com/sovrollup/stf-core/pkg/mempool"
	"github.com/sovrollup/stf-core/pkg/notify"
	"github.com/sovrollup/stf-core/pkg/stf"
)

// BlobSubmitter is the subset of a DA adapter the sequencer API needs to
// hand new blobs to (e.g. *mockda.DA).
type BlobSubmitter interface {
	SubmitBlob(kind da.BlobKind, data []byte, sender da.Address, fromRegistered bool) [32]byte
}

// SequencerHandlers serves §4.O's /sequencer/* routes.
type SequencerHandlers struct {
	da      BlobSubmitter
	mempool *mempool.Mempool
	ledger  *ledgerdb.Client
	hub     *notify.Hub
	logger  *log.Logger
}

// NewSequencerHandlers constructs the sequencer API. ledger may be nil (the
// node runs with no archival DB configured): read endpoints then report
// "ledger unavailable" rather than panicking. pool may be nil, in which
// case HandleSubmitTx falls back to wrapping the tx as its own one-entry
// batch blob and submitting it to the DA layer immediately.
func NewSequencerHandlers(daLayer BlobSubmitter, pool *mempool.Mempool, ledger *ledgerdb.Client, hub *notify.Hub, logger *log.Logger) *SequencerHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[SequencerAPI] ", log.LstdFlags)
	}
	return &SequencerHandlers{da: daLayer, mempool: pool, ledger: ledger, hub: hub, logger: logger}
}

// Routes registers every /sequencer/* handler on mux.
func (h *SequencerHandlers) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /sequencer/txs", h.HandleSubmitTx)
	mux.HandleFunc("GET /sequencer/txs/{hash}", h.HandleGetTx)
	mux.HandleFunc("GET /sequencer/txs/{hash}/ws", h.HandleWatchTx)
	mux.HandleFunc("POST /sequencer/batches", h.HandleSubmitBatch)
}

// TxSubmitRequest is POST /sequencer/txs's body: one raw, already-signed
// transaction (auth.Transaction.Encode's wire format) plus the DA address
// to attribute it to.
type TxSubmitRequest struct {
	RawTxHex      string `json:"raw_tx_hex"`
	SenderAddress string `json:"sender_da_address"`
}

// TxSubmitResponse reports the submitted tx's content hash, the key every
// other /sequencer/txs/* route looks it up by.
type TxSubmitResponse struct {
	TxHash string `json:"tx_hash"`
}

// HandleSubmitTx enqueues one raw transaction onto the node's mempool
// (§5's accept_tx), where cmd/rolld's batch-builder loop later drains it
// into a DA blob under its own configured sequencer identity. If no
// mempool is configured, it falls back to wrapping the tx as its own
// single-entry batch blob and submitting it to the DA layer immediately,
// attributed to the caller-supplied sender address.
func (h *SequencerHandlers) HandleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var req TxSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	raw, err := hex.DecodeString(req.RawTxHex)
	if err != nil || len(raw) == 0 {
		writeJSONError(w, "raw_tx_hex must be non-empty hex", http.StatusBadRequest)
		return
	}

	if h.mempool != nil {
		hash, err := h.mempool.AcceptTx(raw)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TxSubmitResponse{TxHash: hex.EncodeToString(hash[:])})
		return
	}

	if req.SenderAddress == "" {
		writeJSONError(w, "sender_da_address is required", http.StatusBadRequest)
		return
	}
	blob := stf.EncodeBatch([][]byte{raw})
	h.da.SubmitBlob(da.BatchBlob, blob, da.Address(req.SenderAddress), false)

	hash := stf.TxHash(raw)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TxSubmitResponse{TxHash: hex.EncodeToString(hash[:])})
}

// BatchSubmitRequest is POST /sequencer/batches's body: a pre-encoded batch
// blob (stf.EncodeBatch's wire format), submitted directly by a sequencer.
type BatchSubmitRequest struct {
	RawBatchHex   string `json:"raw_batch_hex"`
	SenderAddress string `json:"sender_da_address"`
}

// BatchSubmitResponse reports the submitted blob's DA-assigned id.
type BatchSubmitResponse struct {
	BlobID string `json:"blob_id"`
}

// HandleSubmitBatch hands an already-assembled batch blob to the DA layer.
func (h *SequencerHandlers) HandleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	raw, err := hex.DecodeString(req.RawBatchHex)
	if err != nil || len(raw) == 0 {
		writeJSONError(w, "raw_batch_hex must be non-empty hex", http.StatusBadRequest)
		return
	}
	if req.SenderAddress == "" {
		writeJSONError(w, "sender_da_address is required", http.StatusBadRequest)
		return
	}
	if _, err := stf.DecodeBatch(raw); err != nil {
		writeJSONError(w, "raw_batch_hex is not a valid batch encoding", http.StatusBadRequest)
		return
	}

	id := h.da.SubmitBlob(da.BatchBlob, raw, da.Address(req.SenderAddress), true)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BatchSubmitResponse{BlobID: hex.EncodeToString(id[:])})
}

// HandleGetTx looks up an already-archived transaction by its content hash.
func (h *SequencerHandlers) HandleGetTx(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeJSONError(w, "ledger archive not configured on this node", http.StatusServiceUnavailable)
		return
	}
	hash, err := decodeHash(r.PathValue("hash"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	row, err := h.ledger.TxByHash(r.Context(), hash)
	if err != nil {
		h.logger.Printf("get tx %x: %v", hash, err)
		writeJSONError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if row == nil {
		writeJSONError(w, "tx not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(row)
}

// HandleWatchTx long-polls for a transaction's outcome: it checks the
// ledger archive immediately, then blocks on every subsequent slot
// commit and re-checks, streaming one NDJSON line per attempt until the
// tx is found, the client disconnects, or the request's own deadline
// (set by the caller, e.g. via a client-supplied context timeout) expires.
func (h *SequencerHandlers) HandleWatchTx(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeJSONError(w, "ledger archive not configured on this node", http.StatusServiceUnavailable)
		return
	}
	hash, err := decodeHash(r.PathValue("hash"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)

	if row, err := h.ledger.TxByHash(r.Context(), hash); err == nil && row != nil {
		enc.Encode(row)
		flusher.Flush()
		return
	}

	slots, unsubscribe := h.hub.SubscribeSlots()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-slots:
			if !ok {
				return
			}
			row, err := h.ledger.TxByHash(ctx, hash)
			if err != nil {
				continue
			}
			if row != nil {
				enc.Encode(row)
				flusher.Flush()
				return
			}
			enc.Encode(map[string]string{"status": "pending"})
			flusher.Flush()
		}
	}
}

func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, fmt.Errorf("hash must be 64 hex characters")
	}
	copy(out[:], b)
	return out, nil
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
