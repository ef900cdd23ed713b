// Copyright 2025 Certen Protocol
//
// The layered cache stack of §4.B: WorkingSet -> RevertableWriter ->
// TxScratchpad -> RevertableWriter -> Delta -> Storage. Every layer shares
// the same read-through/write-through discipline, implemented once here as
// `layer` and reused by Delta, TxScratchpad and WorkingSet so that
// commit/revert are O(log-size) merges rather than a rollback journal on
// the underlying store (§9 "Revertable layered caches").
package state

import (
	"github.com/sovrollup/stf-core/pkg/storage"
)

// Source is anything a layer can read through to on a local cache miss.
type Source interface {
	Get(ns storage.Namespace, key []byte) ([]byte, bool, error)
}

type entry struct {
	value   []byte
	deleted bool
}

// orderedMap preserves first-insertion order while allowing later
// insertions of the same key to update the value in place (§4.B:
// "write-write collisions within one layer collapse to the last write").
type orderedMap struct {
	order []string
	index map[string]int
	vals  []entry
}

func newOrderedMap() *orderedMap {
	return &orderedMap{index: make(map[string]int)}
}

func (m *orderedMap) set(key string, e entry) {
	if i, ok := m.index[key]; ok {
		m.vals[i] = e
		return
	}
	m.index[key] = len(m.order)
	m.order = append(m.order, key)
	m.vals = append(m.vals, e)
}

func (m *orderedMap) get(key string) (entry, bool) {
	i, ok := m.index[key]
	if !ok {
		return entry{}, false
	}
	return m.vals[i], true
}

// KV is an ordered (key, value) pair read or written during a layer's
// lifetime. Value == nil marks a delete when used as a write.
type KV struct {
	Key   []byte
	Value []byte
}

// NamespaceAccess is the per-namespace ordered read/write log §4.B's
// OrderedReadsAndWrites refers to.
type NamespaceAccess struct {
	OrderedReads  []KV
	OrderedWrites []KV
}

// layer is the shared implementation behind Delta, TxScratchpad and
// WorkingSet. It tracks, per namespace, the first read seen from its
// parent and the (collapsing) set of local writes.
type layer struct {
	parent  Source
	reads   [3]*orderedMap
	writes  [3]*orderedMap
	touched [3]map[string]struct{}
}

func newLayer(parent Source) *layer {
	l := &layer{parent: parent}
	for i := range l.reads {
		l.reads[i] = newOrderedMap()
		l.writes[i] = newOrderedMap()
		l.touched[i] = make(map[string]struct{})
	}
	return l
}

// Get consults local writes first; on a miss it falls through to parent and
// logs the first access to this key within this layer (§4.B: "the first
// access to a key is what gets logged").
func (l *layer) Get(ns storage.Namespace, key []byte) ([]byte, bool, error) {
	ks := string(key)
	if e, ok := l.writes[ns].get(ks); ok {
		if e.deleted {
			return nil, false, nil
		}
		return e.value, true, nil
	}
	val, found, err := l.parent.Get(ns, key)
	if err != nil {
		return nil, false, err
	}
	if _, seen := l.touched[ns][ks]; !seen {
		l.touched[ns][ks] = struct{}{}
		var logged []byte
		if found {
			logged = val
		}
		l.reads[ns].set(ks, entry{value: logged, deleted: !found})
	}
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set records a write, masking any lower-layer value until commit/revert.
func (l *layer) Set(ns storage.Namespace, key []byte, value []byte) {
	ks := string(key)
	l.touched[ns][ks] = struct{}{}
	l.writes[ns].set(ks, entry{value: value})
}

// Delete masks the key with a tombstone (§4.B: "reads see None").
func (l *layer) Delete(ns storage.Namespace, key []byte) {
	ks := string(key)
	l.touched[ns][ks] = struct{}{}
	l.writes[ns].set(ks, entry{deleted: true})
}

// mergeInto folds l's logs into parent, preserving parent's own
// first-access ordering for reads and applying l's writes on top (§4.B:
// "on commit, a layer merges its log into the parent").
func (l *layer) mergeInto(parent *layer) {
	for ns := range l.reads {
		for i, k := range l.reads[ns].order {
			if _, exists := parent.reads[ns].index[k]; !exists {
				parent.reads[ns].set(k, l.reads[ns].vals[i])
				parent.touched[ns][k] = struct{}{}
			}
		}
		for i, k := range l.writes[ns].order {
			parent.writes[ns].set(k, l.writes[ns].vals[i])
			parent.touched[ns][k] = struct{}{}
		}
	}
}

// access returns the final per-namespace ordered read/write log.
func (l *layer) access(ns storage.Namespace) NamespaceAccess {
	reads := make([]KV, 0, len(l.reads[ns].order))
	for i, k := range l.reads[ns].order {
		e := l.reads[ns].vals[i]
		var v []byte
		if !e.deleted {
			v = e.value
		}
		reads = append(reads, KV{Key: []byte(k), Value: v})
	}
	writes := make([]KV, 0, len(l.writes[ns].order))
	for i, k := range l.writes[ns].order {
		e := l.writes[ns].vals[i]
		var v []byte
		if !e.deleted {
			v = e.value
		}
		writes = append(writes, KV{Key: []byte(k), Value: v})
	}
	return NamespaceAccess{OrderedReads: reads, OrderedWrites: writes}
}
