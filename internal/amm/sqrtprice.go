package amm

import (
	"math/big"

	"github.com/holiman/uint256"

	"PerpExchange/internal/fixedpoint"
)

// Amount/price relations for a constant-liquidity segment:
//
//	amount0 = L * (sqrtB - sqrtA) / (sqrtA * sqrtB)   (base)
//	amount1 = L * (sqrtB - sqrtA)                      (quote)
//
// Rounding always favors the pool: amounts owed to the pool round up,
// amounts paid out round down.

// Amount0Delta returns the base-token amount between two sqrt prices for
// the given liquidity.
func Amount0Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) *uint256.Int {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	numerator2 := new(uint256.Int).Sub(sqrtB, sqrtA)

	if roundUp {
		return fixedpoint.DivRoundingUp(
			fixedpoint.MulDivRoundingUp(numerator1, numerator2, sqrtB),
			sqrtA,
		)
	}
	out := fixedpoint.MulDiv(numerator1, numerator2, sqrtB)
	return out.Div(out, sqrtA)
}

// Amount1Delta returns the quote-token amount between two sqrt prices for
// the given liquidity.
func Amount1Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) *uint256.Int {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	delta := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return fixedpoint.MulDivRoundingUp(liquidity, delta, fixedpoint.Q96)
	}
	return fixedpoint.MulDiv(liquidity, delta, fixedpoint.Q96)
}

// NextSqrtPriceFromInput returns the price after consuming amountIn of the
// input token at the given liquidity, rounding so the pool never undercharges.
func NextSqrtPriceFromInput(sqrtP, liquidity, amountIn *uint256.Int, baseToQuote bool) *uint256.Int {
	if baseToQuote {
		return nextSqrtPriceFromBaseRoundingUp(sqrtP, liquidity, amountIn, true)
	}
	return nextSqrtPriceFromQuoteRoundingDown(sqrtP, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput returns the price after paying out amountOut of
// the output token at the given liquidity.
func NextSqrtPriceFromOutput(sqrtP, liquidity, amountOut *uint256.Int, baseToQuote bool) *uint256.Int {
	if baseToQuote {
		return nextSqrtPriceFromQuoteRoundingDown(sqrtP, liquidity, amountOut, false)
	}
	return nextSqrtPriceFromBaseRoundingUp(sqrtP, liquidity, amountOut, false)
}

func nextSqrtPriceFromBaseRoundingUp(sqrtP, liquidity, amount *uint256.Int, add bool) *uint256.Int {
	if amount.IsZero() {
		return new(uint256.Int).Set(sqrtP)
	}
	numerator1 := new(big.Int).Lsh(liquidity.ToBig(), 96)
	product := new(big.Int).Mul(amount.ToBig(), sqrtP.ToBig())

	denominator := new(big.Int)
	if add {
		denominator.Add(numerator1, product)
	} else {
		denominator.Sub(numerator1, product)
		if denominator.Sign() <= 0 {
			panic("FATAL: sqrt price underflow removing base output")
		}
	}

	// ceil(numerator1 * sqrtP / denominator)
	n := new(big.Int).Mul(numerator1, sqrtP.ToBig())
	q, r := new(big.Int).DivMod(n, denominator, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	out, _ := uint256.FromBig(q)
	return out
}

func nextSqrtPriceFromQuoteRoundingDown(sqrtP, liquidity, amount *uint256.Int, add bool) *uint256.Int {
	quotient := new(big.Int).Lsh(amount.ToBig(), 96)
	liqBig := liquidity.ToBig()

	if add {
		quotient.Div(quotient, liqBig)
		sum := new(big.Int).Add(sqrtP.ToBig(), quotient)
		out, _ := uint256.FromBig(sum)
		return out
	}

	// ceil division when removing quote so the pool keeps the residue
	q, r := new(big.Int).DivMod(quotient, liqBig, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	diff := new(big.Int).Sub(sqrtP.ToBig(), q)
	if diff.Sign() <= 0 {
		panic("FATAL: sqrt price underflow removing quote output")
	}
	out, _ := uint256.FromBig(diff)
	return out
}

// LiquidityForAmounts returns the maximum liquidity the given base/quote
// amounts can fund over [sqrtA, sqrtB] at current price sqrtP.
func LiquidityForAmounts(sqrtP, sqrtA, sqrtB, base, quote *uint256.Int) *uint256.Int {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	switch {
	case !sqrtP.Gt(sqrtA):
		return liquidityForBase(sqrtA, sqrtB, base)
	case sqrtP.Lt(sqrtB):
		l0 := liquidityForBase(sqrtP, sqrtB, base)
		l1 := liquidityForQuote(sqrtA, sqrtP, quote)
		if l0.Lt(l1) {
			return l0
		}
		return l1
	default:
		return liquidityForQuote(sqrtA, sqrtB, quote)
	}
}

func liquidityForBase(sqrtA, sqrtB, base *uint256.Int) *uint256.Int {
	intermediate := fixedpoint.MulDiv(sqrtA, sqrtB, fixedpoint.Q96)
	delta := new(uint256.Int).Sub(sqrtB, sqrtA)
	if delta.IsZero() {
		return new(uint256.Int)
	}
	return fixedpoint.MulDiv(base, intermediate, delta)
}

func liquidityForQuote(sqrtA, sqrtB, quote *uint256.Int) *uint256.Int {
	delta := new(uint256.Int).Sub(sqrtB, sqrtA)
	if delta.IsZero() {
		return new(uint256.Int)
	}
	return fixedpoint.MulDiv(quote, fixedpoint.Q96, delta)
}

// BaseAmountForLiquidity returns the base amount represented by liquidity
// over [sqrtA, sqrtB], rounded down.
func BaseAmountForLiquidity(sqrtA, sqrtB, liquidity *uint256.Int) *uint256.Int {
	return Amount0Delta(sqrtA, sqrtB, liquidity, false)
}

// QuoteAmountForLiquidity returns the quote amount represented by liquidity
// over [sqrtA, sqrtB], rounded down.
func QuoteAmountForLiquidity(sqrtA, sqrtB, liquidity *uint256.Int) *uint256.Int {
	return Amount1Delta(sqrtA, sqrtB, liquidity, false)
}

// AmountsForLiquidity values liquidity over [sqrtA, sqrtB] at current price
// sqrtP, splitting the position into its base and quote legs.
func AmountsForLiquidity(sqrtP, sqrtA, sqrtB, liquidity *uint256.Int) (base, quote *uint256.Int) {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	switch {
	case !sqrtP.Gt(sqrtA):
		return BaseAmountForLiquidity(sqrtA, sqrtB, liquidity), new(uint256.Int)
	case sqrtP.Lt(sqrtB):
		return BaseAmountForLiquidity(sqrtP, sqrtB, liquidity),
			QuoteAmountForLiquidity(sqrtA, sqrtP, liquidity)
	default:
		return new(uint256.Int), QuoteAmountForLiquidity(sqrtA, sqrtB, liquidity)
	}
}
