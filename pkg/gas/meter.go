// Copyright 2025 Certen Protocol
package gas

import (
	"errors"
	"math/bits"
)

// Meter tracks gas consumed over the lifetime of a finite resource (a
// sequencer's stake, or a transaction's reserved fee).
type Meter interface {
	ChargeGas(amount Unit) error
	RefundGas(amount Unit) error
	GasUsed() Unit
	GasPrice() Price
	GasUsedValue() uint64
	RemainingFunds() uint64
}

// Sentinel errors surfaced by Meter implementations.
var (
	ErrOutOfGas             = errors.New("gas: charge would exceed funds reserved in the meter")
	ErrImpossibleToRefund   = errors.New("gas: refund exceeds gas already used")
)

// UnlimitedMeter never fails on ChargeGas; it only tracks usage. Used for
// pre-execution sequencer-paid checks per §4.D.
type UnlimitedMeter struct {
	used  Unit
	price Price
}

// NewUnlimitedMeter builds an UnlimitedMeter at the given gas price.
func NewUnlimitedMeter(price Price) *UnlimitedMeter {
	return &UnlimitedMeter{used: ZeroUnit(price.Dims()), price: price}
}

func (m *UnlimitedMeter) ChargeGas(amount Unit) error {
	m.used.Combine(amount)
	return nil
}

func (m *UnlimitedMeter) RefundGas(amount Unit) error {
	sub, ok := m.used.CheckedSub(amount)
	if !ok {
		return ErrImpossibleToRefund
	}
	m.used = sub
	return nil
}

func (m *UnlimitedMeter) GasUsed() Unit         { return m.used }
func (m *UnlimitedMeter) GasPrice() Price       { return m.price }
func (m *UnlimitedMeter) GasUsedValue() uint64  { return m.used.Value(m.price) }
func (m *UnlimitedMeter) RemainingFunds() uint64 { return ^uint64(0) }

// TxMeter is initialized with a fixed token budget (max_fee minus
// pre-execution cost) and fails ChargeGas once the charge would push
// gas_used.Value(price) above that budget.
type TxMeter struct {
	used            Unit
	price           Price
	remainingFunds  uint64
}

// NewTxMeter builds a TxMeter with remainingFunds tokens reserved at price.
func NewTxMeter(remainingFunds uint64, price Price) *TxMeter {
	return &TxMeter{used: ZeroUnit(price.Dims()), price: price, remainingFunds: remainingFunds}
}

func (m *TxMeter) ChargeGas(amount Unit) error {
	candidate := NewUnit(m.used.dims...)
	candidate.Combine(amount)
	value := candidate.Value(m.price)
	if value > m.remainingFunds {
		return ErrOutOfGas
	}
	m.used = candidate
	return nil
}

func (m *TxMeter) RefundGas(amount Unit) error {
	sub, ok := m.used.CheckedSub(amount)
	if !ok {
		return ErrImpossibleToRefund
	}
	m.used = sub
	return nil
}

func (m *TxMeter) GasUsed() Unit         { return m.used }
func (m *TxMeter) GasPrice() Price       { return m.price }
func (m *TxMeter) GasUsedValue() uint64  { return m.used.Value(m.price) }
func (m *TxMeter) RemainingFunds() uint64 {
	return m.remainingFunds - m.GasUsedValue()
}

// PriorityFeeBips expresses a priority-fee cap as basis points (1/10000) of
// the base fee, per the tx's max_priority_fee_bips field.
type PriorityFeeBips uint32

// Apply returns bips/10000 * value, saturating.
func (b PriorityFeeBips) Apply(value uint64) uint64 {
	hi, lo := bits.Mul64(value, uint64(b))
	if hi >= 10000 {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, 10000)
	return q
}

// Consumption is produced when a tx's lifecycle ends (§3 TransactionConsumption).
type Consumption struct {
	BaseFee         uint64
	PriorityFee     uint64
	RemainingRefund uint64
	TotalGasUsed    Unit
	GasPrice        Price
}

// Finalize computes a Consumption from a TxMeter's final state and the tx's
// declared gas parameters, following §4.D's finalization rules.
func Finalize(meter Meter, maxFee uint64, maxPriorityFeeBips PriorityFeeBips) Consumption {
	baseFee := meter.GasUsedValue()
	if baseFee > maxFee {
		baseFee = maxFee
	}
	available := maxFee - baseFee
	priorityFee := maxPriorityFeeBips.Apply(baseFee)
	if priorityFee > available {
		priorityFee = available
	}
	refund := maxFee - baseFee - priorityFee

	return Consumption{
		BaseFee:         baseFee,
		PriorityFee:     priorityFee,
		RemainingRefund: refund,
		TotalGasUsed:    meter.GasUsed(),
		GasPrice:        meter.GasPrice(),
	}
}
