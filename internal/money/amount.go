// Package money provides the checked, unbounded-range unsigned arithmetic
// the ledger requires: every amount (funds, lockup, rates, allowances) is
// represented as a non-negative big.Int, and any operation that would drive
// a value negative fails loudly instead of wrapping.
package money

import (
	"fmt"
	"math/big"
	"sync"
)

var intPool = sync.Pool{
	New: func() any { return new(big.Int) },
}

// Amount is a non-negative, arbitrary-precision quantity of a single asset.
// The zero value is a valid zero amount.
type Amount struct {
	v big.Int
}

// Zero returns the zero amount.
func Zero() Amount { return Amount{} }

// FromUint64 builds an Amount from a uint64.
func FromUint64(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// FromString parses a base-10 non-negative integer string.
func FromString(s string) (Amount, error) {
	var a Amount
	if _, ok := a.v.SetString(s, 10); !ok {
		return Amount{}, fmt.Errorf("money: invalid amount %q", s)
	}
	if a.v.Sign() < 0 {
		return Amount{}, fmt.Errorf("money: negative amount %q", s)
	}
	return a, nil
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.v.Sign() == 0 }

// Cmp compares a to b: -1, 0, +1.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool { return a.Cmp(b) < 0 }

// GreaterThan reports whether a > b.
func (a Amount) GreaterThan(b Amount) bool { return a.Cmp(b) > 0 }

// Add returns a+b. Addition of two non-negative values can never underflow.
func (a Amount) Add(b Amount) Amount {
	var out Amount
	out.v.Add(&a.v, &b.v)
	return out
}

// Sub returns a-b, or a fatal error if b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.v.Cmp(&b.v) < 0 {
		return Amount{}, fmt.Errorf("money: underflow subtracting %s from %s", b.v.String(), a.v.String())
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out, nil
}

// SatSub returns max(0, a-b) — the saturating subtraction used by the
// operator approval accountant's usage decrements (4.C).
func (a Amount) SatSub(b Amount) Amount {
	if a.v.Cmp(&b.v) < 0 {
		return Zero()
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out
}

// MulUint64 returns a*n using a pooled scratch big.Int to bound allocation
// under sustained settlement load.
func (a Amount) MulUint64(n uint64) Amount {
	scratch := intPool.Get().(*big.Int)
	defer intPool.Put(scratch)
	scratch.SetUint64(n)

	var out Amount
	out.v.Mul(&a.v, scratch)
	return out
}

// DivUint64 returns a/n using integer (truncating) division. n must be > 0.
func (a Amount) DivUint64(n uint64) Amount {
	if n == 0 {
		return Zero()
	}
	scratch := intPool.Get().(*big.Int)
	defer intPool.Put(scratch)
	scratch.SetUint64(n)

	var out Amount
	out.v.Div(&a.v, scratch)
	return out
}

// DivFloor returns floor(a/b) as a uint64, for use where the quotient is
// known to be epoch-count-sized (settle_account_lockup's k = available /
// lockup_rate). Returns 0 if b is zero.
func (a Amount) DivFloor(b Amount) uint64 {
	if b.IsZero() {
		return 0
	}
	var q big.Int
	q.Div(&a.v, &b.v)
	if !q.IsUint64() {
		return 0
	}
	return q.Uint64()
}

// Uint64 returns the amount as a uint64, or 0 if it does not fit — only
// used where the caller controls the magnitude (epoch deltas).
func (a Amount) Uint64() uint64 {
	if !a.v.IsUint64() {
		return 0
	}
	return a.v.Uint64()
}

func (a Amount) String() string { return a.v.String() }

// BigInt returns a copy of the underlying big.Int.
func (a Amount) BigInt() *big.Int {
	out := new(big.Int)
	out.Set(&a.v)
	return out
}
