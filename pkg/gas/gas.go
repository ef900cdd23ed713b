// Copyright 2025 Certen Protocol
//
// Multi-dimensional gas units and prices. Adapted from the fixed-width
// accounting helpers in pkg/batch/cost_tracker.go (which tracked a single
// USD-denominated cost dimension per batch): this version generalizes the
// same saturating-arithmetic style to an arbitrary number of gas dimensions,
// as required by the STF's per-module gas schedules (§4.D).
package gas

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	ErrDimensionMismatch = errors.New("gas: dimension count mismatch")
)

// Unit is a multi-dimensional gas amount. Every dimension is independent;
// arithmetic saturates rather than wraps or panics.
type Unit struct {
	dims []uint64
}

// Price is a multi-dimensional gas price, one scalar per dimension of Unit.
type Price struct {
	dims []uint64
}

// NewUnit builds a Unit from the given per-dimension amounts.
func NewUnit(dims ...uint64) Unit {
	out := make([]uint64, len(dims))
	copy(out, dims)
	return Unit{dims: out}
}

// NewPrice builds a Price from the given per-dimension prices.
func NewPrice(dims ...uint64) Price {
	out := make([]uint64, len(dims))
	copy(out, dims)
	return Price{dims: out}
}

// ZeroUnit returns the zero gas unit with n dimensions.
func ZeroUnit(n int) Unit { return Unit{dims: make([]uint64, n)} }

// ZeroPrice returns the zero gas price with n dimensions.
func ZeroPrice(n int) Price { return Price{dims: make([]uint64, n)} }

// Dims returns the number of gas dimensions.
func (u Unit) Dims() int { return len(u.dims) }

// Dims returns the number of gas dimensions.
func (p Price) Dims() int { return len(p.dims) }

// AsSlice exposes the per-dimension values. Callers must not mutate the
// returned slice; clone first if mutation is required.
func (u Unit) AsSlice() []uint64 { return u.dims }

// AsSlice exposes the per-dimension prices.
func (p Price) AsSlice() []uint64 { return p.dims }

func saturatingAdd(a, b uint64) uint64 {
	c := a + b
	if c < a {
		return ^uint64(0)
	}
	return c
}

func saturatingMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	c := a * b
	if c/a != b {
		return ^uint64(0)
	}
	return c
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// Combine adds rhs into u in place, saturating per dimension, and returns u.
func (u *Unit) Combine(rhs Unit) *Unit {
	for i := range u.dims {
		if i < len(rhs.dims) {
			u.dims[i] = saturatingAdd(u.dims[i], rhs.dims[i])
		}
	}
	return u
}

// CheckedSub subtracts rhs from u, returning false if any dimension would
// underflow.
func (u Unit) CheckedSub(rhs Unit) (Unit, bool) {
	out := make([]uint64, len(u.dims))
	for i := range u.dims {
		var r uint64
		if i < len(rhs.dims) {
			r = rhs.dims[i]
		}
		if r > u.dims[i] {
			return Unit{}, false
		}
		out[i] = u.dims[i] - r
	}
	return Unit{dims: out}, true
}

// Value computes the dot-product of u and price, saturating.
func (u Unit) Value(price Price) uint64 {
	var total uint64
	for i, d := range u.dims {
		var p uint64
		if i < len(price.dims) {
			p = price.dims[i]
		}
		total = saturatingAdd(total, saturatingMul(d, p))
	}
	return total
}

// ScalarDiv divides every dimension by scalar, flooring at 0 for scalar==0.
func (u *Unit) ScalarDiv(scalar uint64) *Unit {
	for i := range u.dims {
		if scalar == 0 {
			u.dims[i] = 0
		} else {
			u.dims[i] /= scalar
		}
	}
	return u
}

func (u Unit) String() string {
	parts := make([]string, len(u.dims))
	for i, d := range u.dims {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "Gas[" + strings.Join(parts, ", ") + "]"
}

func (p Price) String() string {
	parts := make([]string, len(p.dims))
	for i, d := range p.dims {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "GasPrice[" + strings.Join(parts, ", ") + "]"
}

// Combine adds rhs into p in place, saturating, and returns p.
func (p *Price) Combine(rhs Price) *Price {
	for i := range p.dims {
		if i < len(rhs.dims) {
			p.dims[i] = saturatingAdd(p.dims[i], rhs.dims[i])
		}
	}
	return p
}

// SaturatingSub subtracts rhs from p, saturating to zero on underflow rather
// than failing — mirrors the base-fee update's "saturating_sub" step.
func (p Price) SaturatingSub(rhs Price) Price {
	out := make([]uint64, len(p.dims))
	for i := range p.dims {
		var r uint64
		if i < len(rhs.dims) {
			r = rhs.dims[i]
		}
		out[i] = saturatingSub(p.dims[i], r)
	}
	return Price{dims: out}
}
