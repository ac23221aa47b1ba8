package amm_test

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"PerpExchange/internal/amm"
	"PerpExchange/internal/fixedpoint"
)

func TestComputeSwapStep_ExactInputReachesTarget(t *testing.T) {
	current := sqrtAt(t, 0)
	target := sqrtAt(t, -60)
	liquidity := new(uint256.Int).Mul(uint256.NewInt(1_000_000_000), uint256.NewInt(1_000_000_000))
	remaining := new(big.Int).Lsh(big.NewInt(1), 100)

	step := amm.ComputeSwapStep(current, target, liquidity, remaining, 3000)

	if !step.SqrtPriceNextX96.Eq(target) {
		t.Errorf("price: got %s, want target %s", step.SqrtPriceNextX96.Dec(), target.Dec())
	}
	// Fee on the full segment: ceil(amountIn * fee / (1e6 - fee)).
	wantFee := fixedpoint.MulDivRoundingUp(step.AmountIn, uint256.NewInt(3000), uint256.NewInt(997_000))
	if !step.FeeAmount.Eq(wantFee) {
		t.Errorf("fee: got %s, want %s", step.FeeAmount.Dec(), wantFee.Dec())
	}
	if step.AmountOut.IsZero() {
		t.Error("crossing a segment should produce output")
	}
}

func TestComputeSwapStep_ExactInputStopsShort(t *testing.T) {
	current := sqrtAt(t, 0)
	target := sqrtAt(t, -6000)
	liquidity := new(uint256.Int).Mul(uint256.NewInt(1_000_000_000), uint256.NewInt(1_000_000_000))
	remaining := big.NewInt(1_000_000_000)

	step := amm.ComputeSwapStep(current, target, liquidity, remaining, 3000)

	if step.SqrtPriceNextX96.Eq(target) {
		t.Fatal("small input should stop short of the target")
	}
	// Stopping short: the whole remainder splits into amountIn + fee.
	total := new(uint256.Int).Add(step.AmountIn, step.FeeAmount)
	if total.ToBig().Cmp(remaining) != 0 {
		t.Errorf("amountIn + fee: got %s, want %s", total.Dec(), remaining)
	}
}

func TestComputeSwapStep_ExactOutputCapped(t *testing.T) {
	current := sqrtAt(t, 0)
	target := sqrtAt(t, -60)
	liquidity := new(uint256.Int).Mul(uint256.NewInt(1_000_000_000), uint256.NewInt(1_000_000_000))

	// Ask for far more output than the segment holds.
	remaining := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 100))
	step := amm.ComputeSwapStep(current, target, liquidity, remaining, 3000)

	if !step.SqrtPriceNextX96.Eq(target) {
		t.Error("oversized exact-output should run to the target")
	}
	segment := amm.Amount1Delta(target, current, liquidity, false)
	if !step.AmountOut.Eq(segment) {
		t.Errorf("output capped at segment: got %s, want %s", step.AmountOut.Dec(), segment.Dec())
	}
}

func TestComputeSwapStep_ExactOutputPartial(t *testing.T) {
	current := sqrtAt(t, 0)
	target := sqrtAt(t, -6000)
	liquidity := new(uint256.Int).Mul(uint256.NewInt(1_000_000_000), uint256.NewInt(1_000_000_000))

	want := big.NewInt(1_000_000_000)
	step := amm.ComputeSwapStep(current, target, liquidity, new(big.Int).Neg(want), 3000)

	if step.AmountOut.ToBig().Cmp(want) != 0 {
		t.Errorf("output: got %s, want %s", step.AmountOut.Dec(), want)
	}
	if step.SqrtPriceNextX96.Eq(target) {
		t.Error("small exact-output should stop short of the target")
	}
	if step.FeeAmount.IsZero() {
		t.Error("fee should be charged on the consumed input")
	}
}
