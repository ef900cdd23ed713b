// Copyright 2025 Certen Protocol
//
// rollctl is a small command-line wallet client for rolld's sequencer API
// (§4.O): generate a keypair, build and sign a bank transfer/mint/create
// transaction, submit it, and poll for its outcome. Grounded on the
// teacher's loadOrGenerateEd25519Key idiom for key persistence, restyled
// into a standalone flag-driven CLI rather than a node subcomponent.
package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sovrollup/stf-core/pkg/auth"
	"github.com/sovrollup/stf-core/pkg/module"
	"github.com/sovrollup/stf-core/pkg/modules/bank"
	"github.com/sovrollup/stf-core/pkg/stf"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "keygen":
		err = runKeygen(args)
	case "transfer":
		err = runTransfer(args)
	case "mint":
		err = runMint(args)
	case "create-token":
		err = runCreateToken(args)
	case "status":
		err = runStatus(args)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "rollctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: rollctl <keygen|transfer|mint|create-token|status> [flags]")
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "./wallet.key", "path to write the new ed25519 private key")
	fs.Parse(args)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := os.WriteFile(*out, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	addr := module.AddressFromBytes(priv.Public().(ed25519.PublicKey))
	fmt.Printf("wrote %s\naddress: %s\n", *out, addr)
	return nil
}

func loadKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	raw, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key %s: %w", path, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key %s has wrong size", path)
	}
	return ed25519.PrivateKey(raw), nil
}

// commonFlags registers the flags every transaction-submitting subcommand
// shares: the signer's key, the sequencer endpoint, chain id and fee terms.
type commonFlags struct {
	keyPath  *string
	endpoint *string
	chainID  *uint64
	nonce    *uint64
	maxFee   *uint64
	bips     *uint64
}

func registerCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		keyPath:  fs.String("key", "./wallet.key", "path to the signer's ed25519 private key"),
		endpoint: fs.String("endpoint", "http://127.0.0.1:8080", "sequencer API base URL"),
		chainID:  fs.Uint64("chain-id", 0, "chain id the tx is signed for"),
		nonce:    fs.Uint64("nonce", 0, "account nonce"),
		maxFee:   fs.Uint64("max-fee", 100000, "max fee the tx will pay (gas token units)"),
		bips:     fs.Uint64("priority-fee-bips", 0, "max priority fee, in bips of the base fee"),
	}
}

func submit(c commonFlags, priv ed25519.PrivateKey, runtimeMsg []byte) error {
	tx := auth.Transaction{
		PubKey:             priv.Public().(ed25519.PublicKey),
		RuntimeMsg:         runtimeMsg,
		ChainID:            *c.chainID,
		MaxPriorityFeeBips: uint32(*c.bips),
		MaxFee:             *c.maxFee,
		Nonce:              *c.nonce,
	}
	tx = auth.Sign(priv, tx)
	raw := tx.Encode()

	body, _ := json.Marshal(map[string]string{"raw_tx_hex": hex.EncodeToString(raw)})
	resp, err := http.Post(*c.endpoint+"/sequencer/txs", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit tx: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submit tx: %s: %s", resp.Status, respBody)
	}
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Printf("tx_hash: %s\n", out.TxHash)
	return nil
}

func runTransfer(args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	common := registerCommon(fs)
	to := fs.String("to", "", "recipient address (hex)")
	amount := fs.Uint64("amount", 0, "amount to transfer")
	tokenID := fs.String("token-id", "", "token id (hex, 32 bytes)")
	fs.Parse(args)

	priv, err := loadKey(*common.keyPath)
	if err != nil {
		return err
	}
	toAddr, err := decodeAddress(*to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	token, err := decodeTokenID(*tokenID)
	if err != nil {
		return fmt.Errorf("--token-id: %w", err)
	}

	payload, _ := json.Marshal(bank.CallMessage{Variant: "transfer", To: toAddr, Coins: bank.Coins{Amount: *amount, TokenID: token}})
	return submit(common, priv, stf.EncodeCall("bank", payload))
}

func runMint(args []string) error {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	common := registerCommon(fs)
	to := fs.String("to", "", "mint-to address (hex)")
	amount := fs.Uint64("amount", 0, "amount to mint")
	tokenID := fs.String("token-id", "", "token id (hex, 32 bytes)")
	fs.Parse(args)

	priv, err := loadKey(*common.keyPath)
	if err != nil {
		return err
	}
	toAddr, err := decodeAddress(*to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	token, err := decodeTokenID(*tokenID)
	if err != nil {
		return fmt.Errorf("--token-id: %w", err)
	}

	payload, _ := json.Marshal(bank.CallMessage{Variant: "mint", To: toAddr, Coins: bank.Coins{Amount: *amount, TokenID: token}})
	return submit(common, priv, stf.EncodeCall("bank", payload))
}

func runCreateToken(args []string) error {
	fs := flag.NewFlagSet("create-token", flag.ExitOnError)
	common := registerCommon(fs)
	name := fs.String("name", "", "token name")
	salt := fs.Uint64("salt", 0, "creation salt")
	initial := fs.Uint64("initial-balance", 0, "initial balance minted to the creator")
	fs.Parse(args)

	priv, err := loadKey(*common.keyPath)
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(bank.CallMessage{Variant: "create_token", TokenName: *name, Salt: *salt, InitialBalance: *initial})
	return submit(common, priv, stf.EncodeCall("bank", payload))
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	endpoint := fs.String("endpoint", "http://127.0.0.1:8080", "sequencer API base URL")
	hash := fs.String("hash", "", "tx hash (hex) returned by a prior submission")
	watch := fs.Bool("watch", false, "long-poll until the tx is archived")
	timeout := fs.Duration("timeout", 60*time.Second, "request timeout when --watch is set")
	fs.Parse(args)

	path := "/sequencer/txs/" + *hash
	if *watch {
		path += "/ws"
	}
	client := &http.Client{Timeout: *timeout}
	resp, err := client.Get(*endpoint + path)
	if err != nil {
		return fmt.Errorf("get tx status: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Println(string(body))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s", resp.Status)
	}
	return nil
}

func decodeAddress(s string) (module.Address, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return module.Address{}, err
	}
	return module.AddressFromBytes(raw), nil
}

func decodeTokenID(s string) (bank.TokenID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return bank.TokenID{}, fmt.Errorf("must be 64 hex characters")
	}
	var id bank.TokenID
	copy(id[:], raw)
	return id, nil
}
