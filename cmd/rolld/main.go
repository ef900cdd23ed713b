// Copyright 2025 Certen Protocol
//
// rolld is the rollup node process: it owns the provable state stores, runs
// the slot loop against a DA layer, and serves the sequencer/prover HTTP
// API. Grounded on the teacher's main.go startup shape (flag parsing,
// phased log lines, loadOrGenerateEd25519Key, signal-driven graceful
// shutdown) restyled from "BFT validator wiring CometBFT + Ethereum +
// Accumulate" onto "rollup node wiring storage + kernel + runtime + DA".
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sovrollup/stf-core/pkg/config"
	"github.com/sovrollup/stf-core/pkg/da"
	"github.com/sovrollup/stf-core/pkg/da/mockda"
	"github.com/sovrollup/stf-core/pkg/firestore"
	"github.com/sovrollup/stf-core/pkg/gas"
	"github.com/sovrollup/stf-core/pkg/kernel"
	"github.com/sovrollup/stf-core/pkg/ledgerdb"
	"github.com/sovrollup/stf-core/pkg/mempool"
	"github.com/sovrollup/stf-core/pkg/module"
	"github.com/sovrollup/stf-core/pkg/modules/bank"
	"github.com/sovrollup/stf-core/pkg/modules/proofregistry"
	"github.com/sovrollup/stf-core/pkg/modules/sequencerregistry"
	"github.com/sovrollup/stf-core/pkg/notify"
	"github.com/sovrollup/stf-core/pkg/runtime"
	"github.com/sovrollup/stf-core/pkg/server"
	"github.com/sovrollup/stf-core/pkg/state"
	"github.com/sovrollup/stf-core/pkg/stf"
	"github.com/sovrollup/stf-core/pkg/storage"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting rolld")

	var (
		configPath = flag.String("config", "./config.yaml", "Path to the node config file")
		showHelp   = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()
	if *showHelp {
		flag.Usage()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	key, err := loadOrGenerateEd25519Key(cfg)
	if err != nil {
		log.Fatalf("load sequencer key: %v", err)
	}
	selfAddress := da.Address(key.Public().(ed25519.PublicKey))
	log.Printf("node identity: %s", hex.EncodeToString(selfAddress))

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		log.Fatalf("create data dir %s: %v", cfg.Storage.DataDir, err)
	}

	log.Printf("[storage] opening state and kernel databases under %s", cfg.Storage.DataDir)
	stateDB, err := dbm.NewGoLevelDB("state", cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("open state db: %v", err)
	}
	kernelDB, err := dbm.NewGoLevelDB("kernel", cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("open kernel db: %v", err)
	}

	store := storage.Open(stateDB)
	chainState := kernel.NewKVChainState(kernelDB)

	constants := kernel.Constants{
		ElasticityMultiplier:        cfg.Kernel.ElasticityMultiplier,
		BaseFeeMaxChangeDenominator: cfg.Kernel.BaseFeeMaxChangeDenominator,
		InitialBaseFeePerGas:        cfg.Kernel.InitialBaseFeePerGas,
		InitialGasLimit:             cfg.Kernel.InitialGasLimit,
	}
	kernelLogger := log.New(log.Writer(), "[kernel] ", log.LstdFlags)
	k, err := kernel.New(constants, chainState, kernelLogger)
	if err != nil {
		log.Fatalf("construct kernel: %v", err)
	}
	log.Printf("[kernel] resumed at visible height %d", k.VisibleHeight())

	bankMod := bank.New()
	registryMod := sequencerregistry.New(bankMod)
	proofMod := proofregistry.New(bankMod, k, nil)

	rt, err := runtime.New([]module.Module{bankMod, registryMod, proofMod})
	if err != nil {
		log.Fatalf("construct runtime: %v", err)
	}

	if err := ensureGenesis(cfg, store, k, rt); err != nil {
		log.Fatalf("genesis: %v", err)
	}

	var daLayer interface {
		da.Layer
		server.BlobSubmitter
	}
	switch cfg.Da.Layer {
	case "mock":
		log.Printf("[da] using in-memory mock DA layer")
		daLayer = mockda.New()
	default:
		log.Fatalf("[da] unknown da.layer %q", cfg.Da.Layer)
	}

	pool := mempool.New(10_000)

	var ledger *ledgerdb.Client
	if cfg.Database.URL != "" {
		log.Printf("[ledgerdb] connecting")
		ledger, err = ledgerdb.NewClient(cfg.Database, ledgerdb.WithLogger(log.New(log.Writer(), "[ledgerdb] ", log.LstdFlags)))
		if err != nil {
			if cfg.Database.Required {
				log.Fatalf("[ledgerdb] required but unavailable: %v", err)
			}
			log.Printf("[ledgerdb] unavailable, running without archive: %v", err)
			ledger = nil
		}
	} else if cfg.Database.Required {
		log.Fatalf("[ledgerdb] database.required is true but database.url is empty")
	}

	reg := prometheus.NewRegistry()
	metrics := server.NewMetrics(reg)

	hub := notify.New(func(kind string, subscriberID int) {
		log.Printf("[notify] dropped slow subscriber kind=%s id=%d", kind, subscriberID)
	})

	ctx, cancel := context.WithCancel(context.Background())

	go metrics.Run(ctx, hub)

	fsClient, err := firestore.NewClient(ctx, &firestore.ClientConfig{
		ProjectID:       cfg.Firestore.ProjectID,
		CredentialsFile: cfg.Firestore.CredentialsFile,
		Enabled:         cfg.Firestore.Enabled,
		Logger:          log.New(log.Writer(), "[firestore] ", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("[firestore] construct client: %v", err)
	}
	mirror := notify.NewMirror(fsClient, log.New(log.Writer(), "[notify.mirror] ", log.LstdFlags))
	go mirror.Run(ctx, hub)

	apiServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: server.NewMux(daLayer, pool, ledger, hub, log.New(log.Writer(), "[api] ", log.LstdFlags))}
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: server.NewMetricsMux(reg)}

	go func() {
		log.Printf("[api] listening on %s", cfg.Server.ListenAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[api] serve: %v", err)
		}
	}()
	go func() {
		log.Printf("[metrics] listening on %s", cfg.Server.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[metrics] serve: %v", err)
		}
	}()

	if mockDA, ok := daLayer.(*mockda.DA); ok {
		go runBatchBuilder(ctx, pool, mockDA, selfAddress)
	}

	deps := stf.Dependencies{Runtime: rt, Bank: bankMod, Registry: registryMod}
	go runSlotLoop(ctx, slotLoopConfig{
		store:      store,
		kernel:     k,
		runtime:    rt,
		deps:       deps,
		daLayer:    daLayer,
		ledger:     ledger,
		hub:        hub,
		metrics:    metrics,
		chainID:    cfg.ChainID,
		gasLimit:   gas.NewUnit(cfg.Kernel.InitialGasLimit...),
		proofMod:   proofMod,
	})

	log.Printf("rolld ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[api] shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[metrics] shutdown error: %v", err)
	}
	if ledger != nil {
		if err := ledger.Close(); err != nil {
			log.Printf("[ledgerdb] close error: %v", err)
		}
	}
	if err := fsClient.Close(); err != nil {
		log.Printf("[firestore] close error: %v", err)
	}
	if err := stateDB.Close(); err != nil {
		log.Printf("[storage] close error: %v", err)
	}
	if err := kernelDB.Close(); err != nil {
		log.Printf("[kernel] close error: %v", err)
	}
	log.Printf("rolld stopped")
}

// ensureGenesis runs every module's Genesis hook exactly once, on first
// startup: if the kernel has no recorded genesis root, it loads
// cfg.GenesisPath, applies it against a fresh Delta at version 0, and
// records the resulting combined root (§6 "Genesis").
func ensureGenesis(cfg *config.Config, store *storage.Store, k *kernel.Kernel, rt *runtime.Runtime) error {
	if _, found, err := k.GenesisRoot(); err != nil {
		return fmt.Errorf("read genesis root: %w", err)
	} else if found {
		log.Printf("[genesis] already applied")
		return nil
	}

	raw, err := os.ReadFile(cfg.GenesisPath)
	if err != nil {
		return fmt.Errorf("read genesis doc %s: %w", cfg.GenesisPath, err)
	}
	var doc runtime.GenesisDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse genesis doc: %w", err)
	}

	delta := state.NewDelta(store, 0)
	if err := rt.Genesis(doc, delta); err != nil {
		return fmt.Errorf("run module genesis: %w", err)
	}
	frozen, err := state.Freeze(delta, store.EmptyRoots())
	if err != nil {
		return fmt.Errorf("freeze genesis delta: %w", err)
	}
	if err := store.MaterializeChanges(frozen.Update); err != nil {
		return fmt.Errorf("materialize genesis state: %w", err)
	}
	root := kernel.CombinedRoot(frozen.NewRoots)
	if err := k.SetGenesisRoot(root); err != nil {
		return fmt.Errorf("record genesis root: %w", err)
	}
	log.Printf("[genesis] applied, state root %x", root)
	return nil
}

// runBatchBuilder periodically drains the mempool and submits whatever it
// collected as one batch blob, then advances the mock DA's height — the
// local stand-in for a real DA network's own block production cadence
// (§5's batch-builder loop).
func runBatchBuilder(ctx context.Context, pool *mempool.Mempool, mockDA *mockda.DA, self da.Address) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries := pool.DrainBatch(1000)
			if len(entries) > 0 {
				txs := make([][]byte, len(entries))
				for i, e := range entries {
					txs[i] = e.Raw
				}
				mockDA.SubmitBlob(da.BatchBlob, stf.EncodeBatch(txs), self, true)
			}
			mockDA.AdvanceHeight()
		}
	}
}

type slotLoopConfig struct {
	store    *storage.Store
	kernel   *kernel.Kernel
	runtime  *runtime.Runtime
	deps     stf.Dependencies
	daLayer  da.Layer
	ledger   *ledgerdb.Client
	hub      *notify.Hub
	metrics  *server.Metrics
	chainID  uint64
	gasLimit gas.Unit
	proofMod *proofregistry.Module
}

// runSlotLoop drives one DA height at a time through ApplySlot, forever
// (§4.H, §5 "slot execution is strictly sequential").
func runSlotLoop(ctx context.Context, cfg slotLoopConfig) {
	height := uint64(1)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		block, err := cfg.daLayer.GetBlockAt(ctx, height)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[slot] get_block_at(%d): %v", height, err)
			time.Sleep(time.Second)
			continue
		}

		relevant, err := cfg.daLayer.ExtractRelevantBlobs(block)
		if err != nil {
			log.Printf("[slot] extract_relevant_blobs(%d): %v", height, err)
			continue
		}

		roots, err := cfg.store.RootsAt(height - 1)
		if err != nil {
			log.Fatalf("[slot] read previous roots at %d: %v", height-1, err)
		}

		input := stf.SlotInput{
			Store:             cfg.store,
			Version:           height,
			SlotHash:          block.Hash,
			GasLimit:          cfg.gasLimit,
			ChainID:           cfg.chainID,
			ValidityCondition: block.Hash[:],
			BatchBlobs:        toStfBlobs(relevant.BatchBlobs),
			ProofBlobs:        toStfBlobs(relevant.ProofBlobs),
			Kernel:            cfg.kernel,
			Runtime:           cfg.runtime,
			Deps:              cfg.deps,
			ProofProcessor:    cfg.proofMod,
		}

		output, err := stf.ApplySlot(input, roots)
		if err != nil {
			log.Fatalf("[slot] apply_slot(%d): %v", height, err)
		}

		if err := cfg.store.MaterializeChanges(output.Update); err != nil {
			log.Fatalf("[slot] materialize_changes(%d): %v", height, err)
		}

		totalGasUsed := gas.ZeroUnit(cfg.gasLimit.Dims())
		for _, br := range output.BatchReceipts {
			if br.SequencerOutcome.Kind == stf.Slashed {
				cfg.metrics.IncBatchSlashed()
			}
			for _, txr := range br.TxReceipts {
				totalGasUsed.Combine(txr.GasUsed)
			}
		}

		if cfg.ledger != nil {
			// BatchReceipts is ordered [replayed-deferred-blobs..., freshly-arrived
			// blobs...] (see stf.selectBatchBlobs), so it only lines up
			// index-for-index with relevant.BatchBlobs when nothing was
			// deferred this slot. A replayed blob's raw bytes aren't available
			// here to archive correctly, so it's skipped rather than
			// mis-attributed to the wrong batch.
			rec := ledgerdb.SlotRecord{Number: height, Hash: block.Hash, Roots: output.NewRoots, GasUsed: totalGasUsed}
			deferredCount := len(output.BatchReceipts) - len(relevant.BatchBlobs)
			for i, br := range output.BatchReceipts {
				blobIdx := i - deferredCount
				if blobIdx < 0 || blobIdx >= len(relevant.BatchBlobs) {
					continue
				}
				blob := relevant.BatchBlobs[blobIdx]
				hashes := make([][32]byte, len(br.TxReceipts))
				if txs, err := stf.DecodeBatch(blob.Data); err == nil {
					for j := range br.TxReceipts {
						if j < len(txs) {
							hashes[j] = stf.TxHash(txs[j])
						}
					}
				}
				rec.Batches = append(rec.Batches, ledgerdb.BatchRecord{Sequencer: blob.Sender, RawBlob: blob.Data, Receipt: br, TxHashes: hashes})
			}
			if err := cfg.ledger.CommitSlot(ctx, rec); err != nil {
				log.Printf("[slot] commit to ledgerdb(%d): %v", height, err)
			}
		}

		cfg.hub.PublishSlotCommitted(notify.SlotCommitted{SlotNumber: height, SlotHash: block.Hash, Roots: output.NewRoots, GasUsed: totalGasUsed})
		log.Printf("[slot] committed %d (visible %d) user_root=%x kernel_root=%x", height, cfg.kernel.VisibleHeight(), output.NewRoots.UserRoot, output.NewRoots.KernelRoot)

		height++
	}
}

func toStfBlobs(blobs []da.Blob) []stf.Blob {
	out := make([]stf.Blob, len(blobs))
	for i, b := range blobs {
		kind := stf.BatchBlob
		if b.Kind == da.ProofBlob {
			kind = stf.ProofBlob
		}
		out[i] = stf.Blob{Kind: kind, Data: b.Data, Sender: b.Sender}
	}
	return out
}

// loadOrGenerateEd25519Key loads the node's sequencer signing key from
// cfg.Ed25519KeyPath, generating and persisting a fresh one on first run.
func loadOrGenerateEd25519Key(cfg *config.Config) (ed25519.PrivateKey, error) {
	keyPath := cfg.Ed25519KeyPath
	if keyPath == "" {
		keyPath = filepath.Join(cfg.Storage.DataDir, "ed25519_key.hex")
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
			return nil, fmt.Errorf("save ed25519 key to %s: %w", keyPath, err)
		}
		log.Printf("generated new ed25519 key at %s", keyPath)
		return priv, nil
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ed25519 key from %s: %w", keyPath, err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 key from %s: %w", keyPath, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 key size in %s: expected %d, got %d", keyPath, ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}
