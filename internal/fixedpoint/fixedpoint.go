// Package fixedpoint provides the fixed-width arithmetic used by the
// exchange engine: Q64.96 sqrt prices, Q128.128 fee-growth accumulators and
// signed Q96 funding-premium series.
//
// Fee-growth accumulators are monotonically increasing but are allowed to
// overflow their 256-bit width. All growth comparisons therefore use
// wrapping (modular) subtraction, the native uint256 Sub semantics, and
// never raw magnitude comparison. Apparent underflow in growth deltas is
// intentional.
package fixedpoint

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Fee ratios are denominated in parts-per-million.
const FeeRatioDenominator = 1_000_000

var (
	// Q96 = 2^96, the scale of sqrt prices and funding-premium series.
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), 96)

	// Q128 = 2^128, the scale of fee-growth accumulators.
	Q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

	// Q96Big and Q128Big are the same scales for signed big.Int math.
	Q96Big  = new(big.Int).Lsh(big.NewInt(1), 96)
	Q128Big = new(big.Int).Lsh(big.NewInt(1), 128)
)

// MulDiv computes floor(a * b / denom) with a full 512-bit intermediate.
// Panics if denom is zero; the result is truncated to 256 bits, which
// callers guarantee cannot happen for in-range inputs.
func MulDiv(a, b, denom *uint256.Int) *uint256.Int {
	if denom.IsZero() {
		panic("FATAL: fixedpoint.MulDiv division by zero")
	}
	p := new(big.Int).Mul(a.ToBig(), b.ToBig())
	p.Div(p, denom.ToBig())
	out, _ := uint256.FromBig(p)
	return out
}

// MulDivRoundingUp computes ceil(a * b / denom).
func MulDivRoundingUp(a, b, denom *uint256.Int) *uint256.Int {
	if denom.IsZero() {
		panic("FATAL: fixedpoint.MulDivRoundingUp division by zero")
	}
	p := new(big.Int).Mul(a.ToBig(), b.ToBig())
	d := denom.ToBig()
	q, r := new(big.Int).DivMod(p, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	out, _ := uint256.FromBig(q)
	return out
}

// DivRoundingUp computes ceil(a / denom).
func DivRoundingUp(a, denom *uint256.Int) *uint256.Int {
	out := new(uint256.Int)
	rem := new(uint256.Int)
	out.DivMod(a, denom, rem)
	if !rem.IsZero() {
		out.AddUint64(out, 1)
	}
	return out
}

// WrappingSub returns a - b modulo 2^256. This is the two-sided accumulator
// difference: correct even after the minuend has wrapped past the modulus.
func WrappingSub(a, b *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sub(a, b)
}

// MulFeePPM returns floor(amount * ratioPPM / 1e6).
func MulFeePPM(amount *uint256.Int, ratioPPM uint32) *uint256.Int {
	return MulDiv(amount, uint256.NewInt(uint64(ratioPPM)), uint256.NewInt(FeeRatioDenominator))
}

// MulFeePPMRoundingUp returns ceil(amount * ratioPPM / 1e6). Fees round up
// in the protocol's favor.
func MulFeePPMRoundingUp(amount *uint256.Int, ratioPPM uint32) *uint256.Int {
	return MulDivRoundingUp(amount, uint256.NewInt(uint64(ratioPPM)), uint256.NewInt(FeeRatioDenominator))
}
