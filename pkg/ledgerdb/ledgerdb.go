// Copyright 2025 Certen Protocol
//
// Ledger DB (§4.L): Postgres-backed append-only archival tables mirroring
// §6's SlotByNumber/SlotByHash/BatchByNumber/BatchByHash/TxByNumber/
// TxByHash/EventByNumber/EventByKey/FinalizedSlots/ProofByUniqueId. This is
// a read-side archive for RPC and dashboards, not part of the STF core's
// consensus-critical state (that lives entirely in pkg/storage's JMTs);
// losing it never corrupts the rollup, only its queryability. Grounded on
// pkg/database/client.go's connection-pooling/migration-embedding pattern
// and pkg/ledger/store.go's single-writer, one-transaction-per-commit
// discipline, restyled from ledger-row JSON blobs into normalized tables.
package ledgerdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/sovrollup/stf-core/pkg/config"
	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/modules/proofregistry"
	"github.com/sovrollup/stf-core/pkg/stf"
	"github.com/sovrollup/stf-core/pkg/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client is the ledger DB's connection-pooled handle.
type Client struct {
	db     *sql.DB
	logger *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the client's logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient opens a connection pool against cfg.Database and applies
// embedded migrations in lexical order.
func NewClient(cfg config.DatabaseConfig, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ledgerdb: database url is empty")
	}
	c := &Client{logger: log.New(log.Writer(), "[ledgerdb] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(c)
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ledgerdb: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration())
	c.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledgerdb: ping: %w", err)
	}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledgerdb: migrate: %w", err)
	}
	c.logger.Printf("connected (max_open=%d max_idle=%d)", cfg.MaxOpenConns, cfg.MaxIdleConns)
	return c, nil
}

func (c *Client) migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := c.db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error { return c.db.Close() }

// BatchRecord is one committed batch blob's archival record, assembled by
// the caller (the slot-driving loop in cmd/rolld) from the blob it fed to
// stf.ApplySlot and the matching stf.BatchReceipt it got back.
type BatchRecord struct {
	Sequencer []byte
	RawBlob   []byte
	Receipt   stf.BatchReceipt
	TxHashes  [][32]byte // one per Receipt.TxReceipts entry, in order
}

// SlotRecord bundles one committed slot's archival data.
type SlotRecord struct {
	Number  uint64
	Hash    [32]byte
	Roots   storage.Roots
	GasUsed gas.Unit
	BaseFee gas.Price
	Batches []BatchRecord
}

func sha256Sum(b []byte) [32]byte { return sha256.Sum256(b) }

func batchHash(raw []byte) [32]byte { return sha256Sum(raw) }

// CommitSlot archives one slot atomically: the slot row, its batches, their
// txs and events, and the finalized_slots watermark, all in a single
// transaction (§4.L "one atomic transaction per slot, committed only after
// materialize_changes against the state-DB succeeds").
func (c *Client) CommitSlot(ctx context.Context, rec SlotRecord) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledgerdb: begin: %w", err)
	}
	defer tx.Rollback()

	gasUsedJSON, _ := json.Marshal(rec.GasUsed.AsSlice())
	baseFeeJSON, _ := json.Marshal(rec.BaseFee.AsSlice())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO slots (slot_number, slot_hash, user_root, kernel_root, gas_used, base_fee)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (slot_number) DO NOTHING`,
		rec.Number, rec.Hash[:], rec.Roots.UserRoot[:], rec.Roots.KernelRoot[:], gasUsedJSON, baseFeeJSON)
	if err != nil {
		return fmt.Errorf("ledgerdb: insert slot: %w", err)
	}

	for _, b := range rec.Batches {
		bHash := batchHash(b.RawBlob)
		var batchNumber int64
		slashReason := sql.NullString{}
		if b.Receipt.SequencerOutcome.Kind == stf.Slashed {
			slashReason = sql.NullString{String: string(b.Receipt.SequencerOutcome.SlashReason), Valid: true}
		}
		err = tx.QueryRowContext(ctx,
			`INSERT INTO batches (slot_number, batch_hash, sequencer, outcome, slash_reason)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (batch_hash) DO UPDATE SET batch_hash = EXCLUDED.batch_hash
			 RETURNING batch_number`,
			rec.Number, bHash[:], b.Sequencer, b.Receipt.SequencerOutcome.Kind.String(), slashReason).
			Scan(&batchNumber)
		if err != nil {
			return fmt.Errorf("ledgerdb: insert batch: %w", err)
		}

		for i, txReceipt := range b.Receipt.TxReceipts {
			var txHash [32]byte
			if i < len(b.TxHashes) {
				txHash = b.TxHashes[i]
			}
			gasUsed, _ := json.Marshal(txReceipt.GasUsed.AsSlice())
			gasPrice, _ := json.Marshal(txReceipt.GasPrice.AsSlice())
			var txNumber int64
			err = tx.QueryRowContext(ctx,
				`INSERT INTO txs (batch_number, tx_hash, effect, gas_used, gas_price)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (tx_hash) DO UPDATE SET tx_hash = EXCLUDED.tx_hash
				 RETURNING tx_number`,
				batchNumber, txHash[:], txReceipt.Effect.Kind.String(), gasUsed, gasPrice).
				Scan(&txNumber)
			if err != nil {
				return fmt.Errorf("ledgerdb: insert tx: %w", err)
			}
			for _, ev := range txReceipt.Events {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO events (tx_number, key, value) VALUES ($1, $2, $3)`,
					txNumber, ev.Key, ev.Value); err != nil {
					return fmt.Errorf("ledgerdb: insert event: %w", err)
				}
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO finalized_slots (id, latest_slot_number) VALUES (true, $1)
		 ON CONFLICT (id) DO UPDATE SET latest_slot_number = EXCLUDED.latest_slot_number
		 WHERE finalized_slots.latest_slot_number < EXCLUDED.latest_slot_number`,
		rec.Number); err != nil {
		return fmt.Errorf("ledgerdb: update finalized_slots: %w", err)
	}

	return tx.Commit()
}

// RecordProof archives a submitted AggregatedProofPublicData, keyed by a
// content hash of the (prover, initial_slot, final_slot) tuple — §9's
// "Aggregated-proof unique-id keying" resolution.
func (c *Client) RecordProof(ctx context.Context, prover string, pub proofregistry.AggregatedProofPublicData) error {
	raw, err := json.Marshal(pub)
	if err != nil {
		return err
	}
	id := proofUniqueID(prover, pub.InitialSlotNumber, pub.FinalSlotNumber)
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO proofs (unique_id, initial_slot_number, final_slot_number, prover, public_data)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (unique_id) DO NOTHING`,
		id[:], pub.InitialSlotNumber, pub.FinalSlotNumber, prover, raw)
	return err
}

func proofUniqueID(prover string, initialSlot, finalSlot uint64) [32]byte {
	return sha256Sum([]byte(fmt.Sprintf("%s/%d/%d", prover, initialSlot, finalSlot)))
}

// SlotByNumber looks up an archived slot by its number.
func (c *Client) SlotByNumber(ctx context.Context, number uint64) (*SlotRow, error) {
	return c.scanSlot(ctx, `SELECT slot_number, slot_hash, user_root, kernel_root, gas_used, base_fee, committed_at FROM slots WHERE slot_number = $1`, number)
}

// SlotByHash looks up an archived slot by its hash.
func (c *Client) SlotByHash(ctx context.Context, hash [32]byte) (*SlotRow, error) {
	return c.scanSlot(ctx, `SELECT slot_number, slot_hash, user_root, kernel_root, gas_used, base_fee, committed_at FROM slots WHERE slot_hash = $1`, hash[:])
}

// SlotRow is one archived slots-table row.
type SlotRow struct {
	Number      uint64
	Hash        []byte
	UserRoot    []byte
	KernelRoot  []byte
	GasUsed     []uint64
	BaseFee     []uint64
	CommittedAt time.Time
}

func (c *Client) scanSlot(ctx context.Context, query string, arg any) (*SlotRow, error) {
	row := c.db.QueryRowContext(ctx, query, arg)
	var r SlotRow
	var gasUsed, baseFee []byte
	if err := row.Scan(&r.Number, &r.Hash, &r.UserRoot, &r.KernelRoot, &gasUsed, &baseFee, &r.CommittedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal(gasUsed, &r.GasUsed)
	_ = json.Unmarshal(baseFee, &r.BaseFee)
	return &r, nil
}

// BatchRow is one archived batches-table row.
type BatchRow struct {
	Number      int64
	SlotNumber  uint64
	Hash        []byte
	Sequencer   []byte
	Outcome     string
	SlashReason string
}

// BatchByNumber looks up an archived batch by its sequence number.
func (c *Client) BatchByNumber(ctx context.Context, number int64) (*BatchRow, error) {
	return c.scanBatch(ctx, `SELECT batch_number, slot_number, batch_hash, sequencer, outcome, COALESCE(slash_reason,'') FROM batches WHERE batch_number = $1`, number)
}

// BatchByHash looks up an archived batch by its content hash.
func (c *Client) BatchByHash(ctx context.Context, hash [32]byte) (*BatchRow, error) {
	return c.scanBatch(ctx, `SELECT batch_number, slot_number, batch_hash, sequencer, outcome, COALESCE(slash_reason,'') FROM batches WHERE batch_hash = $1`, hash[:])
}

func (c *Client) scanBatch(ctx context.Context, query string, arg any) (*BatchRow, error) {
	row := c.db.QueryRowContext(ctx, query, arg)
	var r BatchRow
	if err := row.Scan(&r.Number, &r.SlotNumber, &r.Hash, &r.Sequencer, &r.Outcome, &r.SlashReason); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// TxRow is one archived txs-table row.
type TxRow struct {
	Number      int64
	BatchNumber int64
	Hash        []byte
	Effect      string
	GasUsed     []uint64
	GasPrice    []uint64
}

// TxByNumber looks up an archived tx by its sequence number.
func (c *Client) TxByNumber(ctx context.Context, number int64) (*TxRow, error) {
	return c.scanTx(ctx, `SELECT tx_number, batch_number, tx_hash, effect, gas_used, gas_price FROM txs WHERE tx_number = $1`, number)
}

// TxByHash looks up an archived tx by its content hash.
func (c *Client) TxByHash(ctx context.Context, hash [32]byte) (*TxRow, error) {
	return c.scanTx(ctx, `SELECT tx_number, batch_number, tx_hash, effect, gas_used, gas_price FROM txs WHERE tx_hash = $1`, hash[:])
}

func (c *Client) scanTx(ctx context.Context, query string, arg any) (*TxRow, error) {
	row := c.db.QueryRowContext(ctx, query, arg)
	var r TxRow
	var gasUsed, gasPrice []byte
	if err := row.Scan(&r.Number, &r.BatchNumber, &r.Hash, &r.Effect, &gasUsed, &gasPrice); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal(gasUsed, &r.GasUsed)
	_ = json.Unmarshal(gasPrice, &r.GasPrice)
	return &r, nil
}

// EventRow is one archived events-table row.
type EventRow struct {
	Number  int64
	TxNumber int64
	Key     string
	Value   json.RawMessage
}

// EventByNumber looks up an archived event by its sequence number.
func (c *Client) EventByNumber(ctx context.Context, number int64) (*EventRow, error) {
	row := c.db.QueryRowContext(ctx, `SELECT event_number, tx_number, key, value FROM events WHERE event_number = $1`, number)
	var r EventRow
	if err := row.Scan(&r.Number, &r.TxNumber, &r.Key, &r.Value); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// EventsByKey returns every archived event recorded under key, in
// ascending commit order.
func (c *Client) EventsByKey(ctx context.Context, key string) ([]EventRow, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT event_number, tx_number, key, value FROM events WHERE key = $1 ORDER BY event_number ASC`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.Number, &r.TxNumber, &r.Key, &r.Value); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FinalizedSlots returns the latest fully-archived slot number.
func (c *Client) FinalizedSlots(ctx context.Context) (uint64, bool, error) {
	row := c.db.QueryRowContext(ctx, `SELECT latest_slot_number FROM finalized_slots WHERE id = true`)
	var n uint64
	if err := row.Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return n, true, nil
}

// ProofByUniqueID looks up an archived proof submission.
func (c *Client) ProofByUniqueID(ctx context.Context, prover string, initialSlot, finalSlot uint64) (json.RawMessage, error) {
	id := proofUniqueID(prover, initialSlot, finalSlot)
	row := c.db.QueryRowContext(ctx, `SELECT public_data FROM proofs WHERE unique_id = $1`, id[:])
	var raw json.RawMessage
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}
