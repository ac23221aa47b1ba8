package exchange

import (
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"PerpExchange/internal/amm"
	"PerpExchange/internal/event"
	"PerpExchange/internal/fixedpoint"
	"PerpExchange/internal/tickledger"
)

// SwapParams drives one taker swap. Amount is always positive; the
// IsExactInput flag selects which side it fixes. Base-to-quote
// exact-output fixes the quote the trader receives net of the exchange
// fee.
type SwapParams struct {
	Caller    string
	Trader    string
	BaseAsset string

	IsBaseToQuote bool
	IsExactInput  bool
	Amount        *uint256.Int

	// SqrtPriceLimitX96 bounds the price excursion. Zero means the full
	// representable range.
	SqrtPriceLimitX96 *uint256.Int
}

// SwapResult reports the trader's signed token deltas (positive received,
// negative paid) plus fees charged in quote.
type SwapResult struct {
	SignedBase  *big.Int
	SignedQuote *big.Int

	Fee              *uint256.Int
	InsuranceFundFee *uint256.Int

	SqrtPriceX96 *uint256.Int
	Tick         int
}

// replayOutcome is what one walk of the tick structure produces. Amounts
// are totals under the exchange's fee schedule, which differs from the
// pool's native schedule on quote-to-base swaps.
type replayOutcome struct {
	sqrtPriceX96 *uint256.Int
	tick         int

	// amountConsumed is the input-side total including fees;
	// amountProduced is the gross output before the exchange fee.
	amountConsumed *uint256.Int
	amountProduced *uint256.Int

	fee          *uint256.Int
	insuranceFee *uint256.Int

	feeGrowthGlobalX128 *uint256.Int

	steps   int
	crossed int
}

// replaySwap walks the pool's tick structure under the exchange fee
// schedule without touching pool state. Base-to-quote replays with the
// pool's native ratio, so the walk lands exactly where the pool swap
// will; the exchange fee is then charged on the quote output. Quote-to-
// base replays with the exchange ratio directly, and the committed pool
// swap is fed a scaled amount to land on the same price.
//
// With shouldUpdateState the replay flips tick ledger records for every
// initialized tick crossed and commits the market's fee growth global;
// otherwise it is a pure function of current state.
func (e *Exchange) replaySwap(m *Market, isBaseToQuote, isExactInput bool, amount, limit *uint256.Int, shouldUpdateState bool) (replayOutcome, error) {
	if amount == nil || amount.IsZero() {
		return replayOutcome{}, amm.ErrZeroAmount
	}
	pool := m.Pool

	sqrtPrice := new(uint256.Int).Set(pool.SqrtPriceX96())
	if limit == nil || limit.IsZero() {
		if isBaseToQuote {
			limit = new(uint256.Int).AddUint64(fixedpoint.MinSqrtRatio, 1)
		} else {
			limit = new(uint256.Int).SubUint64(fixedpoint.MaxSqrtRatio, 1)
		}
	}
	if isBaseToQuote {
		if !limit.Lt(sqrtPrice) || limit.Lt(fixedpoint.MinSqrtRatio) {
			return replayOutcome{}, amm.ErrInvalidSqrtPrice
		}
	} else {
		if !sqrtPrice.Lt(limit) || !limit.Lt(fixedpoint.MaxSqrtRatio) {
			return replayOutcome{}, amm.ErrInvalidSqrtPrice
		}
	}

	replayFeePPM := m.ExchangeFeeRatioPPM
	if isBaseToQuote {
		replayFeePPM = m.PoolFeeRatioPPM
	}

	remaining := amount.ToBig()
	if !isExactInput {
		remaining.Neg(remaining)
	}

	tick := pool.CurrentTick()
	liquidity := new(uint256.Int).Set(pool.Liquidity())
	feeGrowth := new(uint256.Int).Set(m.FeeGrowthGlobalX128)

	out := replayOutcome{
		amountConsumed: new(uint256.Int),
		amountProduced: new(uint256.Int),
		fee:            new(uint256.Int),
		insuranceFee:   new(uint256.Int),
	}

	for remaining.Sign() != 0 && !sqrtPrice.Eq(limit) {
		next, initialized := pool.NextInitializedTickWithinOneWord(tick, isBaseToQuote)
		if next < fixedpoint.MinTick {
			next = fixedpoint.MinTick
		} else if next > fixedpoint.MaxTick {
			next = fixedpoint.MaxTick
		}

		sqrtNext, err := fixedpoint.SqrtRatioAtTick(next)
		if err != nil {
			return replayOutcome{}, err
		}

		target := sqrtNext
		if isBaseToQuote {
			if sqrtNext.Lt(limit) {
				target = limit
			}
		} else {
			if limit.Lt(sqrtNext) {
				target = limit
			}
		}

		step := amm.ComputeSwapStep(sqrtPrice, target, liquidity, remaining, replayFeePPM)
		sqrtPrice = step.SqrtPriceNextX96
		out.steps++

		if isExactInput {
			consumed := new(big.Int).Add(step.AmountIn.ToBig(), step.FeeAmount.ToBig())
			remaining.Sub(remaining, consumed)
		} else {
			remaining.Add(remaining, step.AmountOut.ToBig())
		}
		out.amountConsumed.Add(out.amountConsumed, step.AmountIn)
		out.amountConsumed.Add(out.amountConsumed, step.FeeAmount)
		out.amountProduced.Add(out.amountProduced, step.AmountOut)

		// The exchange fee is always denominated in quote. Base-to-quote
		// charges it on the step's quote output; quote-to-base already
		// priced the step with the exchange ratio, so the step fee is it.
		var stepFee *uint256.Int
		if isBaseToQuote {
			stepFee = fixedpoint.MulFeePPMRoundingUp(step.AmountOut, m.ExchangeFeeRatioPPM)
		} else {
			stepFee = step.FeeAmount
		}
		stepInsurance := fixedpoint.MulFeePPMRoundingUp(stepFee, m.InsuranceFundFeeRatioPPM)
		out.fee.Add(out.fee, stepFee)
		out.insuranceFee.Add(out.insuranceFee, stepInsurance)

		// Makers in range share what the insurance fund does not take.
		// With no active liquidity there is nobody to credit; the whole
		// step fee stays with the insurance fund.
		if !liquidity.IsZero() {
			makerShare := new(uint256.Int).Sub(stepFee, stepInsurance)
			if !makerShare.IsZero() {
				feeGrowth.Add(feeGrowth, fixedpoint.MulDiv(makerShare, fixedpoint.Q128, liquidity))
			}
		}

		if sqrtPrice.Eq(sqrtNext) {
			if initialized {
				if shouldUpdateState {
					e.ticks.Cross(m.BaseAsset, next, tickledger.Globals{
						FeeX128:                  new(uint256.Int).Set(feeGrowth),
						TwPremiumX96:             m.TwPremiumGrowthGlobalX96,
						TwPremiumDivSqrtPriceX96: m.TwPremiumDivSqrtPriceGrowthGlobalX96,
					})
				}
				net := pool.LiquidityNet(next)
				if isBaseToQuote {
					net = new(big.Int).Neg(net)
				}
				liquidity = applySignedLiquidity(liquidity, net)
				out.crossed++
			}
			if isBaseToQuote {
				tick = next - 1
			} else {
				tick = next
			}
		} else if !sqrtPrice.Eq(pool.SqrtPriceX96()) {
			tick, err = fixedpoint.TickAtSqrtRatio(sqrtPrice)
			if err != nil {
				return replayOutcome{}, err
			}
		}
	}

	if shouldUpdateState {
		m.FeeGrowthGlobalX128 = feeGrowth
		out.feeGrowthGlobalX128 = feeGrowth
	} else {
		out.feeGrowthGlobalX128 = new(uint256.Int).Set(feeGrowth)
	}
	out.sqrtPriceX96 = sqrtPrice
	out.tick = tick
	return out, nil
}

func applySignedLiquidity(liquidity *uint256.Int, net *big.Int) *uint256.Int {
	if net.Sign() >= 0 {
		delta, _ := uint256.FromBig(net)
		return new(uint256.Int).Add(liquidity, delta)
	}
	delta, _ := uint256.FromBig(new(big.Int).Neg(net))
	if delta.Gt(liquidity) {
		panic("FATAL: liquidity underflow crossing tick")
	}
	return new(uint256.Int).Sub(liquidity, delta)
}

// scaledAmountForPoolSwap maps the trader's amount onto the amount handed
// to the pool, so that pool state lands where the replay did despite the
// fee ratios differing on the quote-to-base side.
func scaledAmountForPoolSwap(m *Market, isBaseToQuote, isExactInput bool, amount *uint256.Int) *uint256.Int {
	denom := uint256.NewInt(fixedpoint.FeeRatioDenominator)
	switch {
	case isBaseToQuote && isExactInput:
		// Pool and replay share the base-side fee schedule.
		return new(uint256.Int).Set(amount)
	case isBaseToQuote && !isExactInput:
		// The trader wants `amount` net of the exchange fee; the pool must
		// produce the gross quote.
		gross := new(uint256.Int).Mul(amount, denom)
		return fixedpoint.DivRoundingUp(gross, uint256.NewInt(uint64(fixedpoint.FeeRatioDenominator-int(m.ExchangeFeeRatioPPM))))
	case !isBaseToQuote && isExactInput:
		// Strip the exchange fee, re-add the pool's native fee.
		net := new(uint256.Int).Mul(amount, uint256.NewInt(uint64(fixedpoint.FeeRatioDenominator-int(m.ExchangeFeeRatioPPM))))
		return new(uint256.Int).Div(net, uint256.NewInt(uint64(fixedpoint.FeeRatioDenominator-int(m.PoolFeeRatioPPM))))
	default:
		// Exact base output is fee-schedule independent.
		return new(uint256.Int).Set(amount)
	}
}

// replayAmountFor returns the amount the replay walks with. Base-to-quote
// exact-output grosses the trader's net quote up by the exchange fee so
// the replay and the committed pool swap share one price path; every
// other mode replays the trader's amount as given.
func replayAmountFor(m *Market, isBaseToQuote, isExactInput bool, amount *uint256.Int) *uint256.Int {
	if amount == nil || !isBaseToQuote || isExactInput {
		return amount
	}
	return scaledAmountForPoolSwap(m, isBaseToQuote, isExactInput, amount)
}

// swapGuard verifies mid-swap callbacks against the market's registered
// pool before acknowledging the owed amounts.
type swapGuard struct {
	pool amm.PoolID
}

func (g *swapGuard) PaySwap(pool amm.PoolID, base, quote *big.Int) error {
	if pool != g.pool {
		return ErrCallbackNotPool
	}
	return nil
}

// QuoteSwap prices a swap against current state without mutating
// anything.
func (e *Exchange) QuoteSwap(params SwapParams) (SwapResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(params.BaseAsset)
	if err != nil {
		return SwapResult{}, err
	}
	replayAmt := replayAmountFor(m, params.IsBaseToQuote, params.IsExactInput, params.Amount)
	out, err := e.replaySwap(m, params.IsBaseToQuote, params.IsExactInput, replayAmt, params.SqrtPriceLimitX96, false)
	if err != nil {
		return SwapResult{}, fmt.Errorf("quote swap %s: %w", params.BaseAsset, err)
	}
	if e.metrics != nil {
		e.metrics.SwapsQuoted.WithLabelValues(params.BaseAsset, direction(params.IsBaseToQuote)).Inc()
	}
	return swapResultFromReplay(params.IsBaseToQuote, out), nil
}

// Swap executes a taker swap: replays the tick structure to settle fees
// and flip tick records, then commits the price move to the pool.
// Position ledger only.
func (e *Exchange) Swap(params SwapParams) (SwapResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if params.Caller != e.cfg.PositionLedgerID {
		return SwapResult{}, ErrNotPositionLedger
	}
	m, err := e.market(params.BaseAsset)
	if err != nil {
		return SwapResult{}, err
	}
	start := time.Now()

	replayAmt := replayAmountFor(m, params.IsBaseToQuote, params.IsExactInput, params.Amount)

	// Dry run first so every rejection happens before any mutation.
	if _, err := e.replaySwap(m, params.IsBaseToQuote, params.IsExactInput, replayAmt, params.SqrtPriceLimitX96, false); err != nil {
		if e.metrics != nil {
			e.metrics.SwapsRejected.WithLabelValues(params.BaseAsset, "replay").Inc()
		}
		return SwapResult{}, fmt.Errorf("swap %s: %w", params.BaseAsset, err)
	}

	out, err := e.replaySwap(m, params.IsBaseToQuote, params.IsExactInput, replayAmt, params.SqrtPriceLimitX96, true)
	if err != nil {
		panic(fmt.Sprintf("FATAL: stateful replay diverged from dry run: %v", err))
	}

	scaled := scaledAmountForPoolSwap(m, params.IsBaseToQuote, params.IsExactInput, params.Amount)
	amountSpecified := scaled.ToBig()
	if !params.IsExactInput {
		amountSpecified.Neg(amountSpecified)
	}
	poolRes, err := m.Pool.Swap(amm.SwapParams{
		IsBaseToQuote:     params.IsBaseToQuote,
		AmountSpecified:   amountSpecified,
		SqrtPriceLimitX96: params.SqrtPriceLimitX96,
	}, &swapGuard{pool: m.Pool.ID()})
	if err != nil {
		panic(fmt.Sprintf("FATAL: pool swap failed after replay committed: %v", err))
	}

	res := swapResultFromReplay(params.IsBaseToQuote, out)
	// The pool owns the price; report its post-swap view.
	res.SqrtPriceX96 = poolRes.SqrtPriceX96
	res.Tick = poolRes.Tick

	if e.metrics != nil {
		dir := direction(params.IsBaseToQuote)
		e.metrics.SwapsExecuted.WithLabelValues(params.BaseAsset, dir).Inc()
		e.metrics.SwapDuration.WithLabelValues(params.BaseAsset).Observe(time.Since(start).Seconds())
		e.metrics.SwapStepsPerSwap.WithLabelValues(params.BaseAsset).Observe(float64(out.steps))
		e.metrics.TicksCrossed.WithLabelValues(params.BaseAsset).Add(float64(out.crossed))
		e.metrics.FeesCollected.WithLabelValues(params.BaseAsset).Add(feeAsFloat(res.Fee))
		e.metrics.InsuranceFees.WithLabelValues(params.BaseAsset).Add(feeAsFloat(res.InsuranceFundFee))
	}
	e.log.Debug().
		Str("market", params.BaseAsset).
		Str("trader", params.Trader).
		Bool("base_to_quote", params.IsBaseToQuote).
		Str("amount", params.Amount.Dec()).
		Int("tick", res.Tick).
		Int("steps", out.steps).
		Int("crossed", out.crossed).
		Msg("swap executed")
	e.emit(&event.Swapped{
		Market:           params.BaseAsset,
		Trader:           params.Trader,
		IsBaseToQuote:    params.IsBaseToQuote,
		SignedBase:       res.SignedBase.String(),
		SignedQuote:      res.SignedQuote.String(),
		Fee:              res.Fee.Dec(),
		InsuranceFundFee: res.InsuranceFundFee.Dec(),
		SqrtPriceX96:     res.SqrtPriceX96.Dec(),
		Tick:             res.Tick,
	})
	return res, nil
}

// swapResultFromReplay maps replay totals onto trader-signed deltas. The
// exchange fee is charged to the taker in quote in both directions: on
// top of the input for quote-to-base (already inside amountConsumed), or
// deducted from the output for base-to-quote.
func swapResultFromReplay(isBaseToQuote bool, out replayOutcome) SwapResult {
	res := SwapResult{
		Fee:              out.fee,
		InsuranceFundFee: out.insuranceFee,
		SqrtPriceX96:     out.sqrtPriceX96,
		Tick:             out.tick,
	}
	if isBaseToQuote {
		res.SignedBase = new(big.Int).Neg(out.amountConsumed.ToBig())
		res.SignedQuote = new(big.Int).Sub(out.amountProduced.ToBig(), out.fee.ToBig())
	} else {
		res.SignedBase = out.amountProduced.ToBig()
		res.SignedQuote = new(big.Int).Neg(out.amountConsumed.ToBig())
	}
	return res
}

func direction(isBaseToQuote bool) string {
	if isBaseToQuote {
		return "base_to_quote"
	}
	return "quote_to_base"
}

func feeAsFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
