// Copyright 2025 Certen Protocol
package state

import (
	"github.com/sovrollup/stf-core/pkg/storage"
)

// storageSource adapts a storage.Store fixed at a version into a Source.
type storageSource struct {
	store   *storage.Store
	version uint64
}

func (s storageSource) Get(ns storage.Namespace, key []byte) ([]byte, bool, error) {
	v, err := s.store.Get(ns, key, s.version)
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

// Delta is the bottom cache layer, reading through to the authoritative
// storage substrate at a fixed version (§4.B diagram). It is created once
// per slot and lives for the whole slot.
type Delta struct {
	store   *storage.Store
	version uint64
	layer   *layer
}

// NewDelta opens a Delta over store at the given slot version.
func NewDelta(store *storage.Store, version uint64) *Delta {
	return &Delta{
		store:   store,
		version: version,
		layer:   newLayer(storageSource{store: store, version: version}),
	}
}

func (d *Delta) Get(ns storage.Namespace, key []byte) ([]byte, bool, error) {
	return d.layer.Get(ns, key)
}

func (d *Delta) Set(ns storage.Namespace, key, value []byte) { d.layer.Set(ns, key, value) }
func (d *Delta) Delete(ns storage.Namespace, key []byte)     { d.layer.Delete(ns, key) }

// mergeFrom folds a committing child layer's log into the Delta's own.
func (d *Delta) mergeFrom(child *layer) { child.mergeInto(d.layer) }

// Access returns the accumulated read/write log for namespace ns.
func (d *Delta) Access(ns storage.Namespace) NamespaceAccess { return d.layer.access(ns) }

// Version reports the slot version this Delta is rooted at.
func (d *Delta) Version() uint64 { return d.version }
