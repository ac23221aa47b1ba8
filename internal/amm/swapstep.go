package amm

import (
	"math/big"

	"github.com/holiman/uint256"

	"PerpExchange/internal/fixedpoint"
)

// SwapStep is the outcome of pricing one constant-liquidity segment of a
// swap: the price reached, the gross input consumed, the output produced
// and the fee charged on the input token.
type SwapStep struct {
	SqrtPriceNextX96 *uint256.Int
	AmountIn         *uint256.Int
	AmountOut        *uint256.Int
	FeeAmount        *uint256.Int
}

// ComputeSwapStep prices a single step toward sqrtPriceTarget. The
// amountRemaining sign selects exact-input (positive) versus exact-output
// (negative). feePPM is charged on the input side; when the step stops short
// of the target on exact input, the entire unconsumed remainder becomes fee.
func ComputeSwapStep(
	sqrtPriceCurrent, sqrtPriceTarget *uint256.Int,
	liquidity *uint256.Int,
	amountRemaining *big.Int,
	feePPM uint32,
) SwapStep {
	baseToQuote := !sqrtPriceCurrent.Lt(sqrtPriceTarget)
	exactIn := amountRemaining.Sign() >= 0

	var step SwapStep

	if exactIn {
		remaining, _ := uint256.FromBig(amountRemaining)
		remainingLessFee := fixedpoint.MulDiv(
			remaining,
			uint256.NewInt(uint64(fixedpoint.FeeRatioDenominator-feePPM)),
			uint256.NewInt(fixedpoint.FeeRatioDenominator),
		)
		if baseToQuote {
			step.AmountIn = Amount0Delta(sqrtPriceTarget, sqrtPriceCurrent, liquidity, true)
		} else {
			step.AmountIn = Amount1Delta(sqrtPriceCurrent, sqrtPriceTarget, liquidity, true)
		}
		if !remainingLessFee.Lt(step.AmountIn) {
			step.SqrtPriceNextX96 = new(uint256.Int).Set(sqrtPriceTarget)
		} else {
			step.SqrtPriceNextX96 = NextSqrtPriceFromInput(sqrtPriceCurrent, liquidity, remainingLessFee, baseToQuote)
		}
	} else {
		want := new(big.Int).Neg(amountRemaining)
		wantU, _ := uint256.FromBig(want)
		if baseToQuote {
			step.AmountOut = Amount1Delta(sqrtPriceTarget, sqrtPriceCurrent, liquidity, false)
		} else {
			step.AmountOut = Amount0Delta(sqrtPriceCurrent, sqrtPriceTarget, liquidity, false)
		}
		if !wantU.Lt(step.AmountOut) {
			step.SqrtPriceNextX96 = new(uint256.Int).Set(sqrtPriceTarget)
		} else {
			step.SqrtPriceNextX96 = NextSqrtPriceFromOutput(sqrtPriceCurrent, liquidity, wantU, baseToQuote)
		}
	}

	reachedTarget := sqrtPriceTarget.Eq(step.SqrtPriceNextX96)

	if baseToQuote {
		if !(reachedTarget && exactIn) {
			step.AmountIn = Amount0Delta(step.SqrtPriceNextX96, sqrtPriceCurrent, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			step.AmountOut = Amount1Delta(step.SqrtPriceNextX96, sqrtPriceCurrent, liquidity, false)
		}
	} else {
		if !(reachedTarget && exactIn) {
			step.AmountIn = Amount1Delta(sqrtPriceCurrent, step.SqrtPriceNextX96, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			step.AmountOut = Amount0Delta(sqrtPriceCurrent, step.SqrtPriceNextX96, liquidity, false)
		}
	}

	if !exactIn {
		want := new(big.Int).Neg(amountRemaining)
		wantU, _ := uint256.FromBig(want)
		if step.AmountOut.Gt(wantU) {
			step.AmountOut = wantU
		}
	}

	if exactIn && !reachedTarget {
		// Stopped inside the segment: every remaining input wei is fee.
		remaining, _ := uint256.FromBig(amountRemaining)
		step.FeeAmount = new(uint256.Int).Sub(remaining, step.AmountIn)
	} else {
		step.FeeAmount = fixedpoint.MulDivRoundingUp(
			step.AmountIn,
			uint256.NewInt(uint64(feePPM)),
			uint256.NewInt(uint64(fixedpoint.FeeRatioDenominator-feePPM)),
		)
	}

	return step
}
