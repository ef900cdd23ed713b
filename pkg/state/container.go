// Copyright 2025 Certen Protocol
//
// Typed state containers (Value, Map, Vec) keyed by a module-assigned
// prefix plus a codec-encoded item key (§3 "Container kinds"). Grounded on
// sov-modules-api's containers/{map,vec}.rs: same prefix-extension scheme
// (one sub-prefix for a Vec's length, another for its elements) and the
// same out-of-bounds/truncate-on-shrink semantics.
package state

import (
	"encoding/binary"
	"errors"

	"github.com/sovrollup/stf-core/pkg/storage"
)

// Accessor is the minimal read/write surface every container needs; Delta,
// TxScratchpad and WorkingSet all satisfy it.
type Accessor interface {
	Get(ns storage.Namespace, key []byte) ([]byte, bool, error)
	Set(ns storage.Namespace, key, value []byte)
	Delete(ns storage.Namespace, key []byte)
}

// Codec encodes and decodes container items. Modules typically share one
// JSON or gob-based Codec implementation across all their containers.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// Prefix is the byte sequence a module reserves for one container at
// genesis (§3 "Prefix"). Containers derive their slot-keys from it.
type Prefix []byte

func (p Prefix) extended(suffix ...byte) Prefix {
	out := make([]byte, len(p)+len(suffix))
	copy(out, p)
	copy(out[len(p):], suffix)
	return out
}

// Value is a single-slot container: one prefix, one encoded T.
type Value[T any] struct {
	ns     storage.Namespace
	prefix Prefix
	codec  Codec[T]
}

// NewValue constructs a Value container in namespace ns at prefix.
func NewValue[T any](ns storage.Namespace, prefix Prefix, codec Codec[T]) *Value[T] {
	return &Value[T]{ns: ns, prefix: prefix, codec: codec}
}

// Get reads the value, reporting found=false if nothing has been set.
func (v *Value[T]) Get(a Accessor) (value T, found bool, err error) {
	raw, found, err := a.Get(v.ns, v.prefix)
	if err != nil || !found {
		return value, found, err
	}
	value, err = v.codec.Decode(raw)
	return value, true, err
}

// Set stores value.
func (v *Value[T]) Set(a Accessor, value T) error {
	raw, err := v.codec.Encode(value)
	if err != nil {
		return err
	}
	a.Set(v.ns, v.prefix, raw)
	return nil
}

// Delete removes the value (§3 "Entities in state containers live until
// explicitly deleted").
func (v *Value[T]) Delete(a Accessor) { a.Delete(v.ns, v.prefix) }

// Map is a key-indexed container: slot-key = prefix || encode(K).
type Map[K, V any] struct {
	ns        storage.Namespace
	prefix    Prefix
	keyCodec  Codec[K]
	valCodec  Codec[V]
}

// NewMap constructs a Map container in namespace ns at prefix.
func NewMap[K, V any](ns storage.Namespace, prefix Prefix, keyCodec Codec[K], valCodec Codec[V]) *Map[K, V] {
	return &Map[K, V]{ns: ns, prefix: prefix, keyCodec: keyCodec, valCodec: valCodec}
}

func (m *Map[K, V]) slotKey(key K) ([]byte, error) {
	encoded, err := m.keyCodec.Encode(key)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, m.prefix...), encoded...), nil
}

// Get reads the value at key.
func (m *Map[K, V]) Get(a Accessor, key K) (value V, found bool, err error) {
	sk, err := m.slotKey(key)
	if err != nil {
		return value, false, err
	}
	raw, found, err := a.Get(m.ns, sk)
	if err != nil || !found {
		return value, found, err
	}
	value, err = m.valCodec.Decode(raw)
	return value, true, err
}

// Set stores value at key.
func (m *Map[K, V]) Set(a Accessor, key K, value V) error {
	sk, err := m.slotKey(key)
	if err != nil {
		return err
	}
	raw, err := m.valCodec.Encode(value)
	if err != nil {
		return err
	}
	a.Set(m.ns, sk, raw)
	return nil
}

// Delete removes the entry at key.
func (m *Map[K, V]) Delete(a Accessor, key K) error {
	sk, err := m.slotKey(key)
	if err != nil {
		return err
	}
	a.Delete(m.ns, sk)
	return nil
}

// Uint64Codec encodes a usize-like index as 8 big-endian bytes, matching
// the key codec a Vec uses for its element map.
type Uint64Codec struct{}

func (Uint64Codec) Encode(v uint64) ([]byte, error) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:], nil
}

func (Uint64Codec) Decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.New("state: malformed uint64 key")
	}
	return binary.BigEndian.Uint64(b), nil
}

// ErrIndexOutOfBounds is returned by Vec.Set/Get for an out-of-range index.
var ErrIndexOutOfBounds = errors.New("state: index out of bounds")

// Vec is a growable array: one length Value plus a usize-indexed Map
// (§3 "Vec[T]").
type Vec[T any] struct {
	length *Value[uint64]
	elems  *Map[uint64, T]
}

// NewVec constructs a Vec container, splitting prefix into an "l" (length)
// sub-prefix and an "e" (elements) sub-prefix exactly as the teacher's
// NamespacedStateVec does.
func NewVec[T any](ns storage.Namespace, prefix Prefix, codec Codec[T]) *Vec[T] {
	return &Vec[T]{
		length: NewValue[uint64](ns, prefix.extended('l'), Uint64Codec{}),
		elems:  NewMap[uint64, T](ns, prefix.extended('e'), Uint64Codec{}, codec),
	}
}

// Len returns the number of elements (0 if never set).
func (v *Vec[T]) Len(a Accessor) (uint64, error) {
	n, found, err := v.length.Get(a)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return n, nil
}

// Get reads the element at index.
func (v *Vec[T]) Get(a Accessor, index uint64) (value T, err error) {
	n, err := v.Len(a)
	if err != nil {
		return value, err
	}
	if index >= n {
		return value, ErrIndexOutOfBounds
	}
	value, found, err := v.elems.Get(a, index)
	if err != nil {
		return value, err
	}
	if !found {
		return value, errors.New("state: vec element missing for in-bounds index")
	}
	return value, nil
}

// Set overwrites the element at index; the index must already be in bounds.
func (v *Vec[T]) Set(a Accessor, index uint64, value T) error {
	n, err := v.Len(a)
	if err != nil {
		return err
	}
	if index >= n {
		return ErrIndexOutOfBounds
	}
	return v.elems.Set(a, index, value)
}

// Push appends value, extending the length by one.
func (v *Vec[T]) Push(a Accessor, value T) error {
	n, err := v.Len(a)
	if err != nil {
		return err
	}
	if err := v.elems.Set(a, n, value); err != nil {
		return err
	}
	return v.length.Set(a, n+1)
}

// SetAll replaces the entire contents with values, truncating any trailing
// slots that are no longer covered (§3, §8 "set_all truncates trailing
// slots").
func (v *Vec[T]) SetAll(a Accessor, values []T) error {
	oldLen, err := v.Len(a)
	if err != nil {
		return err
	}
	for i, val := range values {
		if err := v.elems.Set(a, uint64(i), val); err != nil {
			return err
		}
	}
	for i := uint64(len(values)); i < oldLen; i++ {
		if err := v.elems.Delete(a, i); err != nil {
			return err
		}
	}
	return v.length.Set(a, uint64(len(values)))
}

// All returns every element in forward (index-ascending) order.
func (v *Vec[T]) All(a Accessor) ([]T, error) {
	n, err := v.Len(a)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := uint64(0); i < n; i++ {
		val, err := v.Get(a, i)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

// Reversed returns every element in reverse (index-descending) order.
func (v *Vec[T]) Reversed(a Accessor) ([]T, error) {
	fwd, err := v.All(a)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(fwd))
	for i, val := range fwd {
		out[len(fwd)-1-i] = val
	}
	return out, nil
}
