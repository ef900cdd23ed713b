// Copyright 2025 Certen Protocol
//
// Batch blob wire format and the runtime_msg -> module.Call decoder.
// Grounded on the teacher's length-prefixed wire conventions already used
// in pkg/auth and pkg/witness, applied here to "a blob is an ordered list
// of raw transactions" (§4.H.1 "decoded batch [raw_tx]").
package stf

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sovrollup/stf-core/pkg/module"
)

// TxHash is the content hash §4.O's /sequencer/txs endpoints key a
// submitted transaction's raw wire bytes by.
func TxHash(raw []byte) [32]byte { return sha256.Sum256(raw) }

// ErrMalformedBatch is a fatal, batch-level decode failure (§4.H.1 step 2
// FatalError path, §8 scenario 3's InvalidBatchEncoding).
var ErrMalformedBatch = errors.New("stf: malformed batch blob encoding")

// EncodeBatch renders a list of raw (already wire-encoded) transactions
// into one blob payload.
func EncodeBatch(txs [][]byte) []byte {
	var buf []byte
	var lenBuf [8]byte
	for _, tx := range txs {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(tx)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, tx...)
	}
	return buf
}

// DecodeBatch is the inverse of EncodeBatch.
func DecodeBatch(data []byte) ([][]byte, error) {
	var txs [][]byte
	for len(data) > 0 {
		if len(data) < 8 {
			return nil, ErrMalformedBatch
		}
		n := binary.BigEndian.Uint64(data[:8])
		data = data[8:]
		if uint64(len(data)) < n {
			return nil, ErrMalformedBatch
		}
		txs = append(txs, data[:n])
		data = data[n:]
	}
	return txs, nil
}

// CallEnvelope is the concrete shape of a Transaction's runtime_msg field:
// which module should receive the decoded call, and that module's own
// payload (§3 "typed call"; §1 treats per-module call schemas as an
// external collaborator, so the envelope itself is the only part the STF
// core fixes).
type CallEnvelope struct {
	ModuleID string          `json:"module"`
	Payload  json.RawMessage `json:"payload"`
}

// DecodeCall parses a runtime_msg into a routable module.Call.
func DecodeCall(runtimeMsg []byte) (module.Call, error) {
	var env CallEnvelope
	if err := json.Unmarshal(runtimeMsg, &env); err != nil {
		return module.Call{}, fmt.Errorf("stf: decode runtime_msg: %w", err)
	}
	return module.Call{ModuleID: env.ModuleID, Payload: env.Payload}, nil
}

// EncodeCall is DecodeCall's inverse, used by test fixtures and
// cmd/rollctl to build a Transaction.RuntimeMsg.
func EncodeCall(moduleID string, payload []byte) []byte {
	b, _ := json.Marshal(CallEnvelope{ModuleID: moduleID, Payload: payload})
	return b
}
