// Copyright 2025 Certen Protocol
//
// Storage substrate: two provable Jellyfish Merkle Trees (User, Kernel) plus
// a non-provable Accessory namespace, all versioned by slot height and all
// backed by the same CometBFT dbm.DB handle. Adapted from the former
// pkg/kvdb.KVAdapter, which wrapped dbm.DB for a single flat ledger KV; this
// version partitions that same handle into the three namespaces the STF
// core requires and layers jmt.Tree over the two provable ones.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/cometbft/cometbft/crypto/tmhash"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/sovrollup/stf-core/pkg/jmt"
)

// Namespace tags which provable (or non-provable) tree a key belongs to.
// Per §9's "Namespacing via tagged variants" design note, Namespace is a
// small value type rather than a family of distinct Go types: the accessor
// API in pkg/state is already generic over it.
type Namespace uint8

const (
	User Namespace = iota
	Kernel
	Accessory
)

func (n Namespace) String() string {
	switch n {
	case User:
		return "user"
	case Kernel:
		return "kernel"
	case Accessory:
		return "accessory"
	default:
		return "unknown"
	}
}

// Provable reports whether the namespace is committed to a JMT root.
func (n Namespace) Provable() bool {
	return n == User || n == Kernel
}

var ErrNotProvable = errors.New("storage: accessory namespace has no JMT root")

// KeyHash is the spec's "hash of the raw slot-key bytes by the spec's
// chosen hasher" (§3) — fixed to Keccak-256, the teacher's existing
// go-ethereum dependency, for key hashing; tree-internal node hashing uses
// tmhash (see treeHasher).
func KeyHash(key []byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(key))
	return out
}

// Roots is the externally visible state root: a pair of JMT digests.
type Roots struct {
	UserRoot   [32]byte
	KernelRoot [32]byte
}

// CombinedRoot folds a Roots pair into the rollup's single externally
// visible state root (§3 "the rollup's externally visible root is derived
// from both"), via the same Keccak-256 hasher used for key hashing.
func CombinedRoot(r Roots) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(r.UserRoot[:], r.KernelRoot[:]))
	return out
}

// treeHasher is CometBFT's own tmhash (SHA-256), reused directly from the
// teacher's cometbft-db/cometbft dependency pair per SPEC_FULL §3.
func treeHasher(parts ...[]byte) [32]byte {
	h := tmhash.New()
	for _, p := range parts {
		h.Write(p) //nolint:errcheck // hash.Hash.Write never errors
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// persistedNodeStore satisfies jmt.NodeStore directly over a dbm.DB,
// content-addressing nodes under a namespace-specific key prefix so User
// and Kernel trees never collide even though they share one underlying
// handle. It is read/write and is only ever touched by MaterializeChanges.
type persistedNodeStore struct {
	db     dbm.DB
	prefix []byte
}

func nodeKey(prefix []byte, hash [32]byte) []byte {
	key := make([]byte, 0, len(prefix)+32)
	key = append(key, prefix...)
	key = append(key, hash[:]...)
	return key
}

func (a *persistedNodeStore) GetNode(hash [32]byte) ([]byte, bool, error) {
	v, err := a.db.Get(nodeKey(a.prefix, hash))
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func (a *persistedNodeStore) PutNode(hash [32]byte, encoded []byte) error {
	return a.db.Set(nodeKey(a.prefix, hash), encoded)
}

// stagingNodeStore reads through to a persisted store but buffers every new
// node in memory instead of writing it — this is what makes
// compute_state_update a pure function (§4.A): nothing touches disk until
// MaterializeChanges commits the staged batch atomically.
type stagingNodeStore struct {
	persisted *persistedNodeStore
	staged    map[[32]byte][]byte
}

func newStagingNodeStore(p *persistedNodeStore) *stagingNodeStore {
	return &stagingNodeStore{persisted: p, staged: make(map[[32]byte][]byte)}
}

func (s *stagingNodeStore) GetNode(hash [32]byte) ([]byte, bool, error) {
	if v, ok := s.staged[hash]; ok {
		return v, true, nil
	}
	return s.persisted.GetNode(hash)
}

func (s *stagingNodeStore) PutNode(hash [32]byte, encoded []byte) error {
	s.staged[hash] = encoded
	return nil
}

// Store is the authoritative handle over the three namespaces. Only the
// slot-loop task may construct one with write intent (§5, §9); the API
// handlers read the ledger DB and the notify hub, not the Store.
type Store struct {
	db           dbm.DB
	userNodes    *persistedNodeStore
	kernelNodes  *persistedNodeStore
	userReader   *jmt.Tree
	kernelReader *jmt.Tree
}

// Open constructs a Store over the given dbm.DB handle, which the caller
// owns the lifecycle of (goleveldb on disk, memdb in tests).
func Open(db dbm.DB) *Store {
	userNodes := &persistedNodeStore{db: db, prefix: []byte("jmt/user/")}
	kernelNodes := &persistedNodeStore{db: db, prefix: []byte("jmt/kernel/")}
	return &Store{
		db:           db,
		userNodes:    userNodes,
		kernelNodes:  kernelNodes,
		userReader:   jmt.New(treeHasher, userNodes),
		kernelReader: jmt.New(treeHasher, kernelNodes),
	}
}

func (s *Store) readerFor(ns Namespace) *jmt.Tree {
	if ns == Kernel {
		return s.kernelReader
	}
	return s.userReader
}

func (s *Store) persistedFor(ns Namespace) *persistedNodeStore {
	if ns == Kernel {
		return s.kernelNodes
	}
	return s.userNodes
}

func rootsKey(version uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, version)
	return append([]byte("roots/"), b...)
}

func accessoryKey(version uint64, key []byte) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, version)
	out := append([]byte("accessory/"), b...)
	out = append(out, '/')
	return append(out, key...)
}

// keyLatestVersion tracks the highest version MaterializeChanges has ever
// committed, the same "resume point" role kernel.KVChainState's own
// latest-height key plays one layer up.
var keyLatestVersion = []byte("roots/latest")

// EmptyRoots is the state root of a tree with no entries, at genesis.
func (s *Store) EmptyRoots() Roots {
	return Roots{UserRoot: s.userReader.EmptyRoot(), KernelRoot: s.kernelReader.EmptyRoot()}
}

func decodeRoots(raw []byte) (Roots, error) {
	if len(raw) != 64 {
		return Roots{}, fmt.Errorf("storage: malformed roots record")
	}
	var r Roots
	copy(r.UserRoot[:], raw[:32])
	copy(r.KernelRoot[:], raw[32:64])
	return r, nil
}

// RootsAt returns the committed Roots as of version. A slot being produced
// reads and writes under its own not-yet-committed version number (the
// version it commits MaterializeChanges under is always one more than the
// last version actually persisted), so an exact miss here falls back to the
// latest version actually committed rather than an empty tree — otherwise
// every slot past the first would see the whole provable state vanish out
// from under it. EmptyRoots is only correct when nothing has ever been
// committed at all.
func (s *Store) RootsAt(version uint64) (Roots, error) {
	raw, err := s.db.Get(rootsKey(version))
	if err != nil {
		return Roots{}, err
	}
	if raw != nil {
		r, err := decodeRoots(raw)
		if err != nil {
			return Roots{}, fmt.Errorf("storage: roots at version %d: %w", version, err)
		}
		return r, nil
	}

	latestRaw, err := s.db.Get(keyLatestVersion)
	if err != nil {
		return Roots{}, err
	}
	if latestRaw == nil {
		return s.EmptyRoots(), nil
	}
	if len(latestRaw) != 8 {
		return Roots{}, fmt.Errorf("storage: malformed latest-version record")
	}
	latest := binary.BigEndian.Uint64(latestRaw)
	latestRoots, err := s.db.Get(rootsKey(latest))
	if err != nil {
		return Roots{}, err
	}
	if latestRoots == nil {
		return s.EmptyRoots(), nil
	}
	r, err := decodeRoots(latestRoots)
	if err != nil {
		return Roots{}, fmt.Errorf("storage: roots at latest committed version %d: %w", latest, err)
	}
	return r, nil
}

// Get reads key from namespace ns as of version. For provable namespaces
// this walks the JMT rooted at that version's committed root; for
// Accessory it is a direct versioned KV lookup that never touches a JMT.
func (s *Store) Get(ns Namespace, key []byte, version uint64) ([]byte, error) {
	if ns == Accessory {
		return s.db.Get(accessoryKey(version, key))
	}
	roots, err := s.RootsAt(version)
	if err != nil {
		return nil, err
	}
	root := roots.UserRoot
	if ns == Kernel {
		root = roots.KernelRoot
	}
	return s.readerFor(ns).Get(root, KeyHash(key))
}

// GetWithProof reads key from a provable namespace at version and returns
// both the value and a JMT proof against that version's root (native-only,
// per §4.A).
func (s *Store) GetWithProof(ns Namespace, key []byte, version uint64) (*jmt.Proof, error) {
	if !ns.Provable() {
		return nil, ErrNotProvable
	}
	roots, err := s.RootsAt(version)
	if err != nil {
		return nil, err
	}
	root := roots.UserRoot
	if ns == Kernel {
		root = roots.KernelRoot
	}
	return s.readerFor(ns).Prove(root, KeyHash(key))
}

// OpenProof verifies proof against root and returns the value it attests
// to. Used by the ZK side of §4.A to check a witness hint against the
// claimed root instead of reading from disk.
func OpenProof(root [32]byte, proof *jmt.Proof) ([]byte, bool, error) {
	ok, err := jmt.Verify(treeHasher, proof, root)
	if err != nil || !ok {
		return nil, false, err
	}
	return proof.Value, true, nil
}

// NamespaceUpdate is the staged result of applying one namespace's ordered
// writes on top of a starting root: a new root plus every node the update
// created, none of which have touched disk yet.
type NamespaceUpdate struct {
	NewRoot [32]byte
	Staged  map[[32]byte][]byte
}

// StateUpdate is the full, still-uncommitted output of compute_state_update
// for one slot: per-namespace JMT updates plus the accessory writes that
// bypass the tree entirely.
type StateUpdate struct {
	Version    uint64
	User       NamespaceUpdate
	Kernel     NamespaceUpdate
	Accessory  []KV
	NewRoots   Roots
}

// KV is a single ordered write or delete (Value == nil).
type KV struct {
	Key   []byte
	Value []byte
}

// ComputeStateUpdate is the pure half of §4.A's contract: given the ordered
// writes for each namespace (as produced by freezing the outermost Delta,
// see pkg/state), it computes the new roots and the node batch they imply,
// without writing anything.
func (s *Store) ComputeStateUpdate(version uint64, fromRoots Roots, userWrites, kernelWrites []KV, accessoryWrites []KV) (*StateUpdate, error) {
	userUpdate, err := s.stageNamespace(User, fromRoots.UserRoot, userWrites)
	if err != nil {
		return nil, fmt.Errorf("storage: stage user writes: %w", err)
	}
	kernelUpdate, err := s.stageNamespace(Kernel, fromRoots.KernelRoot, kernelWrites)
	if err != nil {
		return nil, fmt.Errorf("storage: stage kernel writes: %w", err)
	}
	return &StateUpdate{
		Version:   version,
		User:      userUpdate,
		Kernel:    kernelUpdate,
		Accessory: accessoryWrites,
		NewRoots:  Roots{UserRoot: userUpdate.NewRoot, KernelRoot: kernelUpdate.NewRoot},
	}, nil
}

func (s *Store) stageNamespace(ns Namespace, fromRoot [32]byte, writes []KV) (NamespaceUpdate, error) {
	staging := newStagingNodeStore(s.persistedFor(ns))
	tree := jmt.New(treeHasher, staging)
	root := fromRoot
	for _, w := range writes {
		var err error
		if w.Value == nil {
			root, err = tree.Delete(root, KeyHash(w.Key))
		} else {
			root, err = tree.Put(root, KeyHash(w.Key), w.Value)
		}
		if err != nil {
			return NamespaceUpdate{}, fmt.Errorf("apply write %x: %w", w.Key, err)
		}
	}
	return NamespaceUpdate{NewRoot: root, Staged: staging.staged}, nil
}

// MaterializeChanges builds a single atomic batch for the KV store from a
// StateUpdate (§4.A) and commits it. This is the only place the storage
// substrate writes to disk for a slot, and it is the last step of a slot's
// commit path (§5, §7: "a slot cannot be partially committed").
func (s *Store) MaterializeChanges(update *StateUpdate) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for hash, encoded := range update.User.Staged {
		if err := batch.Set(nodeKey(s.userNodes.prefix, hash), encoded); err != nil {
			return fmt.Errorf("storage: stage user node: %w", err)
		}
	}
	for hash, encoded := range update.Kernel.Staged {
		if err := batch.Set(nodeKey(s.kernelNodes.prefix, hash), encoded); err != nil {
			return fmt.Errorf("storage: stage kernel node: %w", err)
		}
	}
	for _, kv := range update.Accessory {
		if err := batch.Set(accessoryKey(update.Version, kv.Key), kv.Value); err != nil {
			return fmt.Errorf("storage: stage accessory write: %w", err)
		}
	}
	rootsBuf := make([]byte, 64)
	copy(rootsBuf[:32], update.NewRoots.UserRoot[:])
	copy(rootsBuf[32:], update.NewRoots.KernelRoot[:])
	if err := batch.Set(rootsKey(update.Version), rootsBuf); err != nil {
		return fmt.Errorf("storage: stage roots record: %w", err)
	}
	latestBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(latestBuf, update.Version)
	if err := batch.Set(keyLatestVersion, latestBuf); err != nil {
		return fmt.Errorf("storage: stage latest-version record: %w", err)
	}
	return batch.WriteSync()
}
