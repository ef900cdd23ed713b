// Copyright 2025 Certen Protocol
//
// bank is the fungible-token module demonstrating the Module substrate
// end to end (§4.H.1 step 3 "reserve gas" spends through this same
// transfer path) and backing the literal create/transfer/mint scenarios of
// §8. Per §1, per-module business logic is an external collaborator of the
// STF core; bank exists here as the reference instance every STF test
// dispatches against, grounded on original_source's sov-bank/src/{call,token}.rs,
// trimmed to the operations the spec's scenarios exercise.
package bank

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/module"
	"github.com/sovrollup/stf-core/pkg/state"
	"github.com/sovrollup/stf-core/pkg/storage"
)

// TokenID identifies a token; derived at creation from (name, salt, creator).
type TokenID [32]byte

func (t TokenID) String() string { return fmt.Sprintf("%x", t[:8]) }

// Coins is an amount of a specific token (§3, grounded on Coins in token.rs).
type Coins struct {
	Amount  uint64  `json:"amount"`
	TokenID TokenID `json:"token_id"`
}

// Token is the durable record of one created token (trimmed from token.rs's
// Token<S>: name/total_supply/authorized minters survive, frozen/NFT
// extensions do not since no scenario exercises them).
type Token struct {
	Name              string           `json:"name"`
	TotalSupply       uint64           `json:"total_supply"`
	AuthorizedMinters []module.Address `json:"authorized_minters"`
}

// Errors the module returns from DispatchCall; a non-nil return becomes
// TxEffect::Reverted (§4.H.1 step 7) with gas already charged kept.
var (
	ErrTokenAlreadyExists  = errors.New("bank: token already exists at that id")
	ErrTokenNotFound       = errors.New("bank: no such token")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrSupplyOverflow      = errors.New("bank: total supply overflow")
	ErrSupplyUnderflow     = errors.New("bank: total supply underflow")
	ErrUnauthorizedMinter  = errors.New("bank: sender is not an authorized minter")
	ErrMalformedCall       = errors.New("bank: malformed call payload")
)

func saturatingAdd(a, b uint64) (uint64, bool) {
	c := a + b
	if c < a {
		return 0, false
	}
	return c, true
}

// jsonCodec adapts encoding/json to state.Codec[T], the teacher's default
// serialization choice absent a borsh-equivalent in the example pack.
type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec[T]) Decode(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}

// Module is the sov-bank-shaped fungible token ledger.
type Module struct {
	tokens   *state.Map[TokenID, Token]
	balances *state.Map[balanceKey, uint64]
}

type balanceKey struct {
	Token   TokenID
	Address module.Address
}

type balanceKeyCodec struct{}

func (balanceKeyCodec) Encode(k balanceKey) ([]byte, error) {
	out := make([]byte, 0, 64)
	out = append(out, k.Token[:]...)
	out = append(out, k.Address[:]...)
	return out, nil
}
func (balanceKeyCodec) Decode(b []byte) (balanceKey, error) {
	if len(b) != 64 {
		return balanceKey{}, ErrMalformedCall
	}
	var k balanceKey
	copy(k.Token[:], b[:32])
	copy(k.Address[:], b[32:])
	return k, nil
}

// GasTokenID is the chain's native gas token (sov-bank's GAS_TOKEN_ID),
// fixed to the zero token id since this chain mints exactly one gas token
// at genesis.
var GasTokenID TokenID

// FeePoolAddress is the escrow account reserve-gas moves funds into and
// finalize refunds/base-fee retention move funds out of (§4.H.1 steps 3
// and 8); it is not a user-reachable address.
var FeePoolAddress = module.AddressFromBytes([]byte("__feepool__"))

// New constructs the bank module, reserving prefix "bank/" for its
// containers (§3 "Prefix... assigned per state container at module
// genesis").
func New() *Module {
	return &Module{
		tokens:   state.NewMap[TokenID, Token](storage.User, state.Prefix("bank/tokens/"), jsonCodec[TokenID]{}, jsonCodec[Token]{}),
		balances: state.NewMap[balanceKey, uint64](storage.User, state.Prefix("bank/balances/"), balanceKeyCodec{}, jsonCodec[uint64]{}),
	}
}

func (m *Module) ID() string             { return "bank" }
func (m *Module) Dependencies() []string { return nil }

// GenesisToken seeds one token allocation; the genesis document is a list
// of these (§6 "Genesis: a structured document providing each module's
// config").
type GenesisToken struct {
	Name        string         `json:"name"`
	Salt        uint64         `json:"salt"`
	MintTo      module.Address `json:"mint_to"`
	Minter      module.Address `json:"minter"`
	InitBalance uint64         `json:"initial_balance"`
}

type GenesisConfig struct {
	Tokens []GenesisToken `json:"tokens"`
}

func deriveTokenID(name string, salt uint64, creator module.Address) TokenID {
	h := storage.KeyHash(append([]byte(fmt.Sprintf("%s/%d/", name, salt)), creator[:]...))
	return TokenID(h)
}

func (m *Module) Genesis(cfg json.RawMessage, a state.Accessor) error {
	if string(cfg) == "null" || len(cfg) == 0 {
		return nil
	}
	var conf GenesisConfig
	if err := json.Unmarshal(cfg, &conf); err != nil {
		return fmt.Errorf("bank: genesis: %w", err)
	}
	for _, t := range conf.Tokens {
		id := deriveTokenID(t.Name, t.Salt, t.Minter)
		if err := m.tokens.Set(a, id, Token{Name: t.Name, TotalSupply: t.InitBalance, AuthorizedMinters: []module.Address{t.Minter}}); err != nil {
			return err
		}
		if err := m.balances.Set(a, balanceKey{Token: id, Address: t.MintTo}, t.InitBalance); err != nil {
			return err
		}
	}
	return nil
}

// BalanceOf reads an account's balance of a token at the accessor's
// version, 0 if never credited (§8 scenario 1's archival query exercises
// this against an old Delta).
func (m *Module) BalanceOf(a state.Accessor, addr module.Address, id TokenID) (uint64, error) {
	bal, found, err := m.balances.Get(a, balanceKey{Token: id, Address: addr})
	if err != nil || !found {
		return 0, err
	}
	return bal, nil
}

// TransferFrom moves coins between two addresses; used both by Transfer
// dispatch and by other modules (e.g. sequencer-registry bond transfers)
// that hold a direct *Module reference rather than going through
// DispatchCall (sov-bank's transfer_from, call.rs).
func (m *Module) TransferFrom(a state.Accessor, from, to module.Address, coins Coins) error {
	fromBal, found, err := m.balances.Get(a, balanceKey{Token: coins.TokenID, Address: from})
	if err != nil {
		return err
	}
	if !found || fromBal < coins.Amount {
		return ErrInsufficientBalance
	}
	toBal, _, err := m.balances.Get(a, balanceKey{Token: coins.TokenID, Address: to})
	if err != nil {
		return err
	}
	newTo, ok := saturatingAdd(toBal, coins.Amount)
	if !ok {
		return ErrSupplyOverflow
	}
	if err := m.balances.Set(a, balanceKey{Token: coins.TokenID, Address: from}, fromBal-coins.Amount); err != nil {
		return err
	}
	return m.balances.Set(a, balanceKey{Token: coins.TokenID, Address: to}, newTo)
}

// Mint increases total supply and credits mintTo, rejecting unauthorized
// minters and overflowing supply (§8 scenario 4).
func (m *Module) Mint(a state.Accessor, sender module.Address, coins Coins, mintTo module.Address) error {
	tok, found, err := m.tokens.Get(a, coins.TokenID)
	if err != nil {
		return err
	}
	if !found {
		return ErrTokenNotFound
	}
	authorized := false
	for _, minter := range tok.AuthorizedMinters {
		if minter == sender {
			authorized = true
			break
		}
	}
	if !authorized {
		return ErrUnauthorizedMinter
	}
	newSupply, ok := saturatingAdd(tok.TotalSupply, coins.Amount)
	if !ok {
		return ErrSupplyOverflow
	}
	bal, _, err := m.balances.Get(a, balanceKey{Token: coins.TokenID, Address: mintTo})
	if err != nil {
		return err
	}
	newBal, ok := saturatingAdd(bal, coins.Amount)
	if !ok {
		return ErrSupplyOverflow
	}
	tok.TotalSupply = newSupply
	if err := m.tokens.Set(a, coins.TokenID, tok); err != nil {
		return err
	}
	return m.balances.Set(a, balanceKey{Token: coins.TokenID, Address: mintTo}, newBal)
}

// CreateToken mints a token's initial supply to mintTo, failing if a token
// already exists at the derived id (sov-bank's create_token, call.rs).
func (m *Module) CreateToken(a state.Accessor, creator module.Address, name string, salt uint64, initialBalance uint64, mintTo module.Address, authorizedMinters []module.Address) (TokenID, error) {
	id := deriveTokenID(name, salt, creator)
	if _, found, err := m.tokens.Get(a, id); err != nil {
		return id, err
	} else if found {
		return id, ErrTokenAlreadyExists
	}
	minters := append([]module.Address{creator}, authorizedMinters...)
	if err := m.tokens.Set(a, id, Token{Name: name, TotalSupply: initialBalance, AuthorizedMinters: minters}); err != nil {
		return id, err
	}
	if err := m.balances.Set(a, balanceKey{Token: id, Address: mintTo}, initialBalance); err != nil {
		return id, err
	}
	return id, nil
}

// ReserveGas escrows amount of gas token from sender into FeePoolAddress
// (§4.H.1 step 3 "reserve gas"); ErrInsufficientBalance maps to the
// pipeline's Skipped(CannotReserveGas).
func (m *Module) ReserveGas(a state.Accessor, sender module.Address, amount uint64) error {
	return m.TransferFrom(a, sender, FeePoolAddress, Coins{Amount: amount, TokenID: GasTokenID})
}

// RefundGas returns amount from the fee pool to recipient (§4.H.1 step 8
// "refund refund gas-token to sender").
func (m *Module) RefundGas(a state.Accessor, recipient module.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return m.TransferFrom(a, FeePoolAddress, recipient, Coins{Amount: amount, TokenID: GasTokenID})
}

// CreditSequencer pays amount of the fee pool's escrowed gas token to
// sequencer as its priority-fee reward (§4.H.1 step 8 "credit priority_fee
// to sequencer's withheld balance").
func (m *Module) CreditSequencer(a state.Accessor, sequencer module.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return m.TransferFrom(a, FeePoolAddress, sequencer, Coins{Amount: amount, TokenID: GasTokenID})
}

// CallMessage mirrors sov-bank's CallMessage enum, trimmed to the variants
// the spec's scenarios exercise.
type CallMessage struct {
	Variant string `json:"variant"` // "create_token" | "transfer" | "mint"

	// create_token
	Salt              uint64           `json:"salt,omitempty"`
	TokenName         string           `json:"token_name,omitempty"`
	InitialBalance    uint64           `json:"initial_balance,omitempty"`
	MintToAddress     module.Address   `json:"mint_to_address,omitempty"`
	AuthorizedMinters []module.Address `json:"authorized_minters,omitempty"`

	// transfer / mint
	To    module.Address `json:"to,omitempty"`
	Coins Coins          `json:"coins,omitempty"`
}

// gasCostTransfer is the flat gas.Unit charged for a transfer-shaped call;
// a real chain would schedule this per opcode, out of scope here.
var gasCostTransfer = gas.NewUnit(1000, 200)
var gasCostCreateToken = gas.NewUnit(5000, 2000)
var gasCostMint = gas.NewUnit(1500, 300)

func (m *Module) DispatchCall(payload []byte, ctx module.Context, ws *state.WorkingSet) (*module.CallResponse, error) {
	var call CallMessage
	if err := json.Unmarshal(payload, &call); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	switch call.Variant {
	case "create_token":
		if err := ws.ChargeGas(gasCostCreateToken); err != nil {
			return nil, err
		}
		id, err := m.CreateToken(ws, ctx.Sender, call.TokenName, call.Salt, call.InitialBalance, call.MintToAddress, call.AuthorizedMinters)
		if err != nil {
			return nil, err
		}
		ws.AddEvent("token_created", mustJSON(map[string]any{"token_id": id.String(), "name": call.TokenName}))
		data, _ := json.Marshal(map[string]string{"token_id": id.String()})
		return &module.CallResponse{Data: data}, nil
	case "transfer":
		if err := ws.ChargeGas(gasCostTransfer); err != nil {
			return nil, err
		}
		if err := m.TransferFrom(ws, ctx.Sender, call.To, call.Coins); err != nil {
			return nil, err
		}
		ws.AddEvent("token_transferred", mustJSON(map[string]any{"from": ctx.Sender.String(), "to": call.To.String(), "coins": call.Coins}))
		return &module.CallResponse{}, nil
	case "mint":
		if err := ws.ChargeGas(gasCostMint); err != nil {
			return nil, err
		}
		if err := m.Mint(ws, ctx.Sender, call.Coins, call.To); err != nil {
			return nil, err
		}
		ws.AddEvent("token_minted", mustJSON(map[string]any{"mint_to": call.To.String(), "coins": call.Coins}))
		return &module.CallResponse{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrMalformedCall, call.Variant)
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
