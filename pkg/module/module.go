// Copyright 2025 Certen Protocol
//
// The Module substrate (§4.E): the capability every unit of business logic
// (bank, sequencer-registry, ...) implements, plus the shared Address and
// Context types modules dispatch against. Grounded on the teacher's
// pkg/consensus.ValidatorInfo / ValidatorRole split between identity and
// role, generalized into a fixed-width rollup Address.
package module

import (
	"encoding/hex"
	"encoding/json"

	"github.com/sovrollup/stf-core/pkg/state"
)

// Address is a rollup-native account identifier (§3 credential-to-address
// resolution target).
type Address [32]byte

// ZeroAddress is the sentinel "no address" value.
var ZeroAddress Address

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// AddressFromBytes left-pads or truncates raw to 32 bytes.
func AddressFromBytes(raw []byte) Address {
	var a Address
	if len(raw) >= 32 {
		copy(a[:], raw[len(raw)-32:])
	} else {
		copy(a[32-len(raw):], raw)
	}
	return a
}

// Context is resolved once per tx by the authorizer (§4.G resolve_context)
// and threaded through dispatch.
type Context struct {
	Sender                Address
	Sequencer             Address
	FromRegisteredSequencer bool
	VisibleHeight         uint64
}

// CallResponse is the successful result of a module call; modules may
// attach arbitrary structured data for RPC consumers.
type CallResponse struct {
	Data json.RawMessage
}

// Call is a decoded, module-routed message: which module should handle it
// and the still-encoded payload for that module to decode itself (§3
// "typed call").
type Call struct {
	ModuleID string
	Payload  []byte
}

// Module is the capability every piece of business logic implements (§4.E).
// Genesis order is resolved by Dependencies() at runtime construction time
// (§6 "dependency order is resolved at startup").
type Module interface {
	// ID is this module's unique identifier, also its state-container
	// prefix root.
	ID() string

	// Dependencies lists the module IDs that must run genesis before this
	// one (a cycle, missing dependency, or duplicate ID is a fatal startup
	// error, §6).
	Dependencies() []string

	// Genesis seeds this module's state containers from cfg.
	Genesis(cfg json.RawMessage, accessor state.Accessor) error

	// DispatchCall decodes payload and executes it against ctx and ws. A
	// returned error becomes TxEffect::Reverted (§4.H.1 step 7); gas
	// charged before the error remains consumed.
	DispatchCall(payload []byte, ctx Context, ws *state.WorkingSet) (*CallResponse, error)
}

// EventEmitter is implemented by modules that need an identifiable name to
// tag events with; most modules just use ID().
type EventEmitter interface {
	EmitEvent(ws *state.WorkingSet, key string, value any) error
}
