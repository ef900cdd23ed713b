// Copyright 2025 Certen Protocol
//
// Sequencer accounting (§4.I): bond reservation, reward, slash. Grounded
// directly on original_source's sov-sequencer-registry/src/call.rs — the
// register/exit/increase_sender_balance/reward_sequencer functions below
// keep that file's control flow and error taxonomy, restyled into the
// teacher's plain Go error-sentinel convention rather than thiserror.
package sequencerregistry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/module"
	"github.com/sovrollup/stf-core/pkg/modules/bank"
	"github.com/sovrollup/stf-core/pkg/state"
	"github.com/sovrollup/stf-core/pkg/storage"
)

// DaAddress is the raw DA-layer address bytes a sequencer registers under.
type DaAddress string

// AllowedSequencer is a registry entry (§4.I).
type AllowedSequencer struct {
	Address module.Address `json:"address"`
	Balance uint64         `json:"balance"`
}

// SlashReason enumerates the batch-level sequencer slash causes (§4.I).
type SlashReason string

const (
	InvalidBatchEncoding          SlashReason = "InvalidBatchEncoding"
	StatelessVerificationFailed   SlashReason = "StatelessVerificationFailed"
	InvalidTransactionEncoding    SlashReason = "InvalidTransactionEncoding"
)

// Errors mirror SequencerRegistryError's variants from call.rs.
var (
	ErrIsNotRegisteredSequencer           = errors.New("sequencerregistry: address is not an allowed sequencer")
	ErrCannotUnregisterDuringOwnBatch     = errors.New("sequencerregistry: sequencers may not unregister during execution of their own batch")
	ErrSuppliedAddressDoesNotMatchSender  = errors.New("sequencerregistry: supplied address does not match tx sender")
	ErrInsufficientFundsToRefund          = errors.New("sequencerregistry: module account cannot refund sequencer's staked amount")
	ErrToppingMakesBalanceOverflow        = errors.New("sequencerregistry: topping up would overflow the sequencer's balance")
	ErrInsufficientFundsToTopUp           = errors.New("sequencerregistry: insufficient funds to top up staked balance")
	ErrSequencerAlreadyRegistered         = errors.New("sequencerregistry: sequencer is already registered")
	ErrInsufficientStakeAmount            = errors.New("sequencerregistry: stake amount below the minimum bond")
	ErrNoMinimumBondSet                   = errors.New("sequencerregistry: minimum bond not set at genesis")
	ErrInsufficientFundsToRegister        = errors.New("sequencerregistry: sender cannot afford to register as a sequencer")
	ErrMalformedCall                      = errors.New("sequencerregistry: malformed call payload")
)

type daAddressCodec struct{}

func (daAddressCodec) Encode(k DaAddress) ([]byte, error) { return []byte(k), nil }
func (daAddressCodec) Decode(b []byte) (DaAddress, error) { return DaAddress(b), nil }

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec[T]) Decode(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}

// Module is the sov-sequencer-registry-shaped bond ledger.
type Module struct {
	bank              *bank.Module
	allowedSequencers *state.Map[DaAddress, AllowedSequencer]
	preferredSequencer *state.Value[DaAddress]
	minimumBond       *state.Value[uint64]
}

// New constructs the module, depending on bank for the gas-token transfers
// register/deposit/exit/reward_sequencer all perform (call.rs's
// `self.bank.transfer_from`).
func New(bankModule *bank.Module) *Module {
	return &Module{
		bank:               bankModule,
		allowedSequencers:  state.NewMap[DaAddress, AllowedSequencer](storage.User, state.Prefix("sequencerregistry/allowed/"), daAddressCodec{}, jsonCodec[AllowedSequencer]{}),
		preferredSequencer: state.NewValue[DaAddress](storage.User, state.Prefix("sequencerregistry/preferred"), jsonCodec[DaAddress]{}),
		minimumBond:        state.NewValue[uint64](storage.User, state.Prefix("sequencerregistry/minimum_bond"), jsonCodec[uint64]{}),
	}
}

func (m *Module) ID() string             { return "sequencerregistry" }
func (m *Module) Dependencies() []string { return []string{"bank"} }

// GenesisConfig seeds the minimum bond and, optionally, the chain's single
// preferred sequencer (§4.I, §8 scenario 5).
type GenesisConfig struct {
	MinimumBond        uint64    `json:"minimum_bond"`
	PreferredSequencer *DaAddress `json:"preferred_sequencer,omitempty"`
}

func (m *Module) Genesis(cfg json.RawMessage, a state.Accessor) error {
	if string(cfg) == "null" || len(cfg) == 0 {
		return nil
	}
	var conf GenesisConfig
	if err := json.Unmarshal(cfg, &conf); err != nil {
		return fmt.Errorf("sequencerregistry: genesis: %w", err)
	}
	if err := m.minimumBond.Set(a, conf.MinimumBond); err != nil {
		return err
	}
	if conf.PreferredSequencer != nil {
		return m.preferredSequencer.Set(a, *conf.PreferredSequencer)
	}
	return nil
}

// PreferredSequencer returns the chain's preferred sequencer, if any
// (§4.H step 4's "preferred sequencer" blob-selection rule).
func (m *Module) PreferredSequencer(a state.Accessor) (DaAddress, bool, error) {
	return m.preferredSequencer.Get(a)
}

// IsRegistered reports whether da is a currently-allowed sequencer.
func (m *Module) IsRegistered(a state.Accessor, da DaAddress) (AllowedSequencer, bool, error) {
	return m.allowedSequencers.Get(a, da)
}

// Register stakes amount of gas token from context.Sender and records the
// registration (call.rs's `register`/`register_sequencer`).
func (m *Module) Register(a state.Accessor, da DaAddress, sender module.Address, amount uint64) error {
	minBond, found, err := m.minimumBond.Get(a)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoMinimumBondSet
	}
	if amount < minBond {
		return fmt.Errorf("%w: bond=%d minimum=%d", ErrInsufficientStakeAmount, amount, minBond)
	}
	if _, found, err := m.allowedSequencers.Get(a, da); err != nil {
		return err
	} else if found {
		return fmt.Errorf("%w: %s", ErrSequencerAlreadyRegistered, sender)
	}
	if err := m.bank.TransferFrom(a, sender, module.AddressFromBytes([]byte(m.ID())), bank.Coins{Amount: amount, TokenID: bank.GasTokenID}); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFundsToRegister, err)
	}
	return m.allowedSequencers.Set(a, da, AllowedSequencer{Address: sender, Balance: amount})
}

// Deposit tops up an existing registration (call.rs's
// `increase_sender_balance`).
func (m *Module) Deposit(a state.Accessor, da DaAddress, sender module.Address, amount uint64) error {
	entry, found, err := m.allowedSequencers.Get(a, da)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrIsNotRegisteredSequencer, da)
	}
	newBalance, ok := checkedAdd(entry.Balance, amount)
	if !ok {
		return fmt.Errorf("%w: address=%s existing=%d add=%d", ErrToppingMakesBalanceOverflow, entry.Address, entry.Balance, amount)
	}
	if err := m.bank.TransferFrom(a, entry.Address, module.AddressFromBytes([]byte(m.ID())), bank.Coins{Amount: amount, TokenID: bank.GasTokenID}); err != nil {
		return fmt.Errorf("%w: address=%s add=%d", ErrInsufficientFundsToTopUp, entry.Address, amount)
	}
	entry.Balance = newBalance
	return m.allowedSequencers.Set(a, da, entry)
}

// Exit refunds the full balance and removes the registration; it fails if
// the sequencer is currently processing its own batch (call.rs's `exit`).
func (m *Module) Exit(a state.Accessor, da DaAddress, sender module.Address, batchSequencer module.Address) error {
	entry, found, err := m.allowedSequencers.Get(a, da)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrIsNotRegisteredSequencer, da)
	}
	if entry.Address == batchSequencer {
		return fmt.Errorf("%w: %s", ErrCannotUnregisterDuringOwnBatch, da)
	}
	if sender != entry.Address {
		return fmt.Errorf("%w: parameter=%s sender=%s", ErrSuppliedAddressDoesNotMatchSender, entry.Address, sender)
	}
	if err := m.bank.TransferFrom(a, module.AddressFromBytes([]byte(m.ID())), entry.Address, bank.Coins{Amount: entry.Balance, TokenID: bank.GasTokenID}); err != nil {
		return fmt.Errorf("%w: %d", ErrInsufficientFundsToRefund, entry.Balance)
	}
	return m.deleteEntry(a, da)
}

func (m *Module) deleteEntry(a state.Accessor, da DaAddress) error {
	if err := m.allowedSequencers.Delete(a, da); err != nil {
		return err
	}
	preferred, found, err := m.preferredSequencer.Get(a)
	if err != nil {
		return err
	}
	if found && preferred == da {
		m.preferredSequencer.Delete(a)
	}
	return nil
}

// Slash irrevocably removes da's registration after a fatal batch-level
// failure (§4.H.1 batch receipt rule, §8 scenario 3).
func (m *Module) Slash(a state.Accessor, da DaAddress, reason SlashReason) error {
	return m.deleteEntry(a, da)
}

// RewardSequencer transfers amount of gas token from the module's own
// balance to sequencer's rollup address (call.rs's `reward_sequencer`);
// panics in the original on a bug, but here returns an error since Go
// modules are expected to report faults rather than abort the process.
func (m *Module) RewardSequencer(a state.Accessor, da DaAddress, amount uint64) error {
	entry, found, err := m.allowedSequencers.Get(a, da)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrIsNotRegisteredSequencer, da)
	}
	return m.bank.TransferFrom(a, module.AddressFromBytes([]byte(m.ID())), entry.Address, bank.Coins{Amount: amount, TokenID: bank.GasTokenID})
}

func checkedAdd(a, b uint64) (uint64, bool) {
	c := a + b
	if c < a {
		return 0, false
	}
	return c, true
}

// CallMessage mirrors call.rs's CallMessage enum.
type CallMessage struct {
	Variant  string `json:"variant"` // "register" | "deposit" | "exit"
	DaAddress DaAddress `json:"da_address"`
	Amount   uint64 `json:"amount,omitempty"`
}

var gasCostRegistry = gas.NewUnit(800, 100)

func (m *Module) DispatchCall(payload []byte, ctx module.Context, ws *state.WorkingSet) (*module.CallResponse, error) {
	var call CallMessage
	if err := json.Unmarshal(payload, &call); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	if err := ws.ChargeGas(gasCostRegistry); err != nil {
		return nil, err
	}
	switch call.Variant {
	case "register":
		if err := m.Register(ws, call.DaAddress, ctx.Sender, call.Amount); err != nil {
			return nil, err
		}
	case "deposit":
		if err := m.Deposit(ws, call.DaAddress, ctx.Sender, call.Amount); err != nil {
			return nil, err
		}
	case "exit":
		if err := m.Exit(ws, call.DaAddress, ctx.Sender, ctx.Sequencer); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrMalformedCall, call.Variant)
	}
	return &module.CallResponse{}, nil
}
