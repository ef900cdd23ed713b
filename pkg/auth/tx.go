// Copyright 2025 Certen Protocol
//
// Transaction wire format and canonical signing domain (§3, §6). Grounded
// on the teacher's ed25519-based signing in main.go's
// loadOrGenerateEd25519Key, generalized from "sign a validator attestation"
// to "sign a rollup transaction" over the CryptoSpec capability set §1
// treats as external (this module fixes it to ed25519, the teacher's own
// choice, rather than leaving it abstract).
package auth

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
)

// Errors surfaced while decoding or verifying a raw transaction.
var (
	ErrMalformedTx     = errors.New("auth: malformed transaction encoding")
	ErrBadSignature    = errors.New("auth: signature verification failed")
	ErrWrongChainID    = errors.New("auth: chain_id does not match the runtime's configured CHAIN_ID")
)

// Transaction is the signed envelope around a runtime message (§3).
type Transaction struct {
	PubKey             ed25519.PublicKey
	RuntimeMsg         []byte
	ChainID            uint64
	MaxPriorityFeeBips uint32
	MaxFee             uint64
	Nonce              uint64
	GasLimit           []uint64 // nil when the tx declares no explicit gas limit
	Signature          []byte
}

func putUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func putBytes(buf, data []byte) []byte {
	buf = putUint64(buf, uint64(len(data)))
	return append(buf, data...)
}

// signingPayload renders the canonical encoding of every field except the
// signature — the signature domain (§3, §6 "Signature domain = the encoded
// prefix without the trailing signature").
func (t Transaction) signingPayload() []byte {
	var buf []byte
	buf = putBytes(buf, t.PubKey)
	buf = putBytes(buf, t.RuntimeMsg)
	buf = putUint64(buf, t.ChainID)
	buf = putUint64(buf, uint64(t.MaxPriorityFeeBips))
	buf = putUint64(buf, t.MaxFee)
	buf = putUint64(buf, t.Nonce)
	if t.GasLimit == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = putUint64(buf, uint64(len(t.GasLimit)))
		for _, g := range t.GasLimit {
			buf = putUint64(buf, g)
		}
	}
	return buf
}

// Encode renders the full wire format, signature included.
func (t Transaction) Encode() []byte {
	return putBytes(t.signingPayload(), t.Signature)
}

func readUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, ErrMalformedTx
	}
	return binary.BigEndian.Uint64(buf[:8]), buf[8:], nil
}

func readBytes(buf []byte) ([]byte, []byte, error) {
	n, rest, err := readUint64(buf)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, ErrMalformedTx
	}
	return rest[:n], rest[n:], nil
}

// DecodeTransaction parses the canonical wire format (§6).
func DecodeTransaction(raw []byte) (Transaction, error) {
	var t Transaction
	pubKey, rest, err := readBytes(raw)
	if err != nil {
		return t, err
	}
	runtimeMsg, rest, err := readBytes(rest)
	if err != nil {
		return t, err
	}
	chainID, rest, err := readUint64(rest)
	if err != nil {
		return t, err
	}
	bips, rest, err := readUint64(rest)
	if err != nil {
		return t, err
	}
	maxFee, rest, err := readUint64(rest)
	if err != nil {
		return t, err
	}
	nonce, rest, err := readUint64(rest)
	if err != nil {
		return t, err
	}
	if len(rest) < 1 {
		return t, ErrMalformedTx
	}
	hasLimit := rest[0]
	rest = rest[1:]
	var limit []uint64
	if hasLimit == 1 {
		n, r2, err := readUint64(rest)
		if err != nil {
			return t, err
		}
		rest = r2
		limit = make([]uint64, n)
		for i := uint64(0); i < n; i++ {
			g, r3, err := readUint64(rest)
			if err != nil {
				return t, err
			}
			limit[i] = g
			rest = r3
		}
	}
	sig, rest, err := readBytes(rest)
	if err != nil {
		return t, err
	}
	if len(rest) != 0 {
		return t, fmt.Errorf("%w: trailing bytes", ErrMalformedTx)
	}
	t = Transaction{
		PubKey:             ed25519.PublicKey(pubKey),
		RuntimeMsg:         runtimeMsg,
		ChainID:            chainID,
		MaxPriorityFeeBips: uint32(bips),
		MaxFee:             maxFee,
		Nonce:              nonce,
		GasLimit:           limit,
		Signature:          sig,
	}
	return t, nil
}

// Verify checks the ed25519 signature over the canonical signing payload.
func (t Transaction) Verify() error {
	if len(t.PubKey) != ed25519.PublicKeySize {
		return ErrMalformedTx
	}
	if !ed25519.Verify(t.PubKey, t.signingPayload(), t.Signature) {
		return ErrBadSignature
	}
	return nil
}

// Sign produces the signature field for t, given the matching private key.
func Sign(priv ed25519.PrivateKey, t Transaction) Transaction {
	t.Signature = ed25519.Sign(priv, t.signingPayload())
	return t
}
