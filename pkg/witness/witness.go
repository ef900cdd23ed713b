// Copyright 2025 Certen Protocol
//
// Witness: the append-only, ordered hint sequence produced by a native slot
// execution and replayed by a ZK (proof-consuming) execution of the same
// slot (§4.C, §9 "Witness as a lazy sequence"). Grounded on the same
// single-writer, append-only discipline as pkg/ledger/store.go's per-slot
// buffering, generalized from ledger rows to typed execution hints.
package witness

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/sovrollup/stf-core/pkg/jmt"
)

// ErrExhausted is returned when the ZK run consumes more hints than the
// native run recorded, or consumes them out of order.
var ErrExhausted = errors.New("witness: hint sequence exhausted or out of order")

// HintKind tags the payload carried by a single witness entry.
type HintKind uint8

const (
	HintValue HintKind = iota
	HintProof
)

// Hint is one entry of the witness: either a raw value read during
// execution, or a JMT inclusion/absence proof backing that read.
type Hint struct {
	Kind  HintKind
	Value []byte    // valid when Kind == HintValue; nil means "absent"
	Proof jmt.Proof // valid when Kind == HintProof
}

// Witness is a finite, ordered, non-restartable sequence of hints. The
// native run appends via Record*; the ZK run consumes via Next* in the same
// order the native run recorded them. Out-of-order or over-consumption is a
// verification failure (§9).
type Witness struct {
	mu     sync.Mutex
	hints  []Hint
	cursor int
}

// New returns an empty witness, ready to record hints during a native run.
func New() *Witness {
	return &Witness{}
}

// FromHints reconstructs a witness for replay from a previously serialized
// hint sequence (the ZK run's starting point).
func FromHints(hints []Hint) *Witness {
	return &Witness{hints: hints}
}

// RecordValue appends a value hint (or an absence, when value is nil).
func (w *Witness) RecordValue(value []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hints = append(w.hints, Hint{Kind: HintValue, Value: value})
}

// RecordProof appends a JMT proof hint.
func (w *Witness) RecordProof(proof jmt.Proof) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hints = append(w.hints, Hint{Kind: HintProof, Proof: proof})
}

// NextValue consumes the next hint, which must be a value hint.
func (w *Witness) NextValue() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cursor >= len(w.hints) || w.hints[w.cursor].Kind != HintValue {
		return nil, ErrExhausted
	}
	h := w.hints[w.cursor]
	w.cursor++
	return h.Value, nil
}

// NextProof consumes the next hint, which must be a proof hint.
func (w *Witness) NextProof() (jmt.Proof, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cursor >= len(w.hints) || w.hints[w.cursor].Kind != HintProof {
		return jmt.Proof{}, ErrExhausted
	}
	h := w.hints[w.cursor]
	w.cursor++
	return h.Proof, nil
}

// Hints returns the full recorded sequence, for persistence or shipping to
// a prover. The returned slice must not be mutated by the caller.
func (w *Witness) Hints() []Hint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hints
}

// Len reports the number of recorded hints.
func (w *Witness) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hints)
}

// Exhausted reports whether every recorded hint has been consumed. A ZK run
// that finishes with hints left over drove a different execution trace than
// the native run that produced the witness.
func (w *Witness) Exhausted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor == len(w.hints)
}

// Encode serializes the hint sequence to a flat byte form suitable for
// shipping alongside a blob (length-prefixed, kind-tagged entries).
func Encode(hints []Hint) []byte {
	var buf []byte
	var lenBuf [8]byte
	for _, h := range hints {
		buf = append(buf, byte(h.Kind))
		switch h.Kind {
		case HintValue:
			binary.BigEndian.PutUint64(lenBuf[:], uint64(len(h.Value)))
			buf = append(buf, lenBuf[:]...)
			buf = append(buf, h.Value...)
		case HintProof:
			encoded := encodeProof(h.Proof)
			binary.BigEndian.PutUint64(lenBuf[:], uint64(len(encoded)))
			buf = append(buf, lenBuf[:]...)
			buf = append(buf, encoded...)
		}
	}
	return buf
}

// Decode is the inverse of Encode.
func Decode(buf []byte) ([]Hint, error) {
	var hints []Hint
	for len(buf) > 0 {
		if len(buf) < 9 {
			return nil, ErrExhausted
		}
		kind := HintKind(buf[0])
		n := binary.BigEndian.Uint64(buf[1:9])
		buf = buf[9:]
		if uint64(len(buf)) < n {
			return nil, ErrExhausted
		}
		payload := buf[:n]
		buf = buf[n:]
		switch kind {
		case HintValue:
			var v []byte
			if n > 0 {
				v = append([]byte{}, payload...)
			}
			hints = append(hints, Hint{Kind: HintValue, Value: v})
		case HintProof:
			proof, err := decodeProof(payload)
			if err != nil {
				return nil, err
			}
			hints = append(hints, Hint{Kind: HintProof, Proof: proof})
		default:
			return nil, ErrExhausted
		}
	}
	return hints, nil
}

func decodeProof(buf []byte) (jmt.Proof, error) {
	if len(buf) < 48 {
		return jmt.Proof{}, ErrExhausted
	}
	var p jmt.Proof
	copy(p.KeyHash[:], buf[:32])
	buf = buf[32:]
	vlen := binary.BigEndian.Uint64(buf[:8])
	buf = buf[8:]
	if uint64(len(buf)) < vlen {
		return jmt.Proof{}, ErrExhausted
	}
	if vlen > 0 {
		p.Value = append([]byte{}, buf[:vlen]...)
	}
	buf = buf[vlen:]
	if len(buf) < 8 {
		return jmt.Proof{}, ErrExhausted
	}
	plen := binary.BigEndian.Uint64(buf[:8])
	buf = buf[8:]
	for i := uint64(0); i < plen; i++ {
		if len(buf) < 33 {
			return jmt.Proof{}, ErrExhausted
		}
		var step jmt.ProofStep
		copy(step.Sibling[:], buf[:32])
		step.Position = jmt.Position(buf[32])
		buf = buf[33:]
		p.Path = append(p.Path, step)
	}
	return p, nil
}

func encodeProof(p jmt.Proof) []byte {
	out := append([]byte{}, p.KeyHash[:]...)
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p.Value)))
	out = append(out, lenBuf[:]...)
	out = append(out, p.Value...)
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p.Path)))
	out = append(out, lenBuf[:]...)
	for _, step := range p.Path {
		out = append(out, step.Sibling[:]...)
		out = append(out, byte(step.Position))
	}
	return out
}
