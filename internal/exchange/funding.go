package exchange

import (
	"fmt"
	"math/big"

	"PerpExchange/internal/amm"
	"PerpExchange/internal/event"
	"PerpExchange/internal/fixedpoint"
	"PerpExchange/internal/orderstore"
)

// FundingGrowthGlobal carries the market-wide funding accumulators the
// position ledger maintains: the time-weighted premium and the premium
// divided by sqrt price, both signed Q96.
type FundingGrowthGlobal struct {
	TwPremiumX96             *big.Int
	TwPremiumDivSqrtPriceX96 *big.Int
}

// UpdateFundingGrowthAndLiquidityCoefficient advances the market's
// funding accumulators and settles funding for every open order of the
// maker, returning the maker's aggregate liquidity coefficient in the
// funding payment (signed Q96 input scale, divided down to plain units).
// Each order's funding snapshots are refreshed so the same growth is
// never charged twice. Position ledger only.
func (e *Exchange) UpdateFundingGrowthAndLiquidityCoefficient(caller, maker, baseAsset string, global FundingGrowthGlobal) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.PositionLedgerID {
		return nil, ErrNotPositionLedger
	}
	m, err := e.market(baseAsset)
	if err != nil {
		return nil, err
	}

	m.TwPremiumGrowthGlobalX96 = new(big.Int).Set(global.TwPremiumX96)
	m.TwPremiumDivSqrtPriceGrowthGlobalX96 = new(big.Int).Set(global.TwPremiumDivSqrtPriceX96)

	coefficient, err := e.liquidityCoefficient(m, maker, true)
	if err != nil {
		return nil, fmt.Errorf("update funding growth %s: %w", baseAsset, err)
	}

	if e.metrics != nil {
		e.metrics.FundingUpdates.WithLabelValues(baseAsset).Inc()
	}
	e.emit(&event.FundingUpdated{
		Market:                   baseAsset,
		Maker:                    maker,
		TwPremiumX96:             global.TwPremiumX96.String(),
		TwPremiumDivSqrtPriceX96: global.TwPremiumDivSqrtPriceX96.String(),
		LiquidityCoefficientX96:  coefficient.String(),
	})
	return coefficient, nil
}

// LiquidityCoefficientInFundingPayment computes the maker's aggregate
// liquidity coefficient against hypothetical funding globals without
// mutating anything.
func (e *Exchange) LiquidityCoefficientInFundingPayment(maker, baseAsset string, global FundingGrowthGlobal) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(baseAsset)
	if err != nil {
		return nil, err
	}
	// The pure path reads ranges against the supplied globals, not the
	// stored ones, so stash and restore.
	savedPremium, savedDiv := m.TwPremiumGrowthGlobalX96, m.TwPremiumDivSqrtPriceGrowthGlobalX96
	m.TwPremiumGrowthGlobalX96 = global.TwPremiumX96
	m.TwPremiumDivSqrtPriceGrowthGlobalX96 = global.TwPremiumDivSqrtPriceX96
	defer func() {
		m.TwPremiumGrowthGlobalX96, m.TwPremiumDivSqrtPriceGrowthGlobalX96 = savedPremium, savedDiv
	}()
	return e.liquidityCoefficient(m, maker, false)
}

// liquidityCoefficient sums the per-order funding coefficients of a
// maker's open orders. With settle it refreshes each order's funding
// snapshots to the fresh range values. Callers hold e.mu.
func (e *Exchange) liquidityCoefficient(m *Market, maker string, settle bool) (*big.Int, error) {
	total := new(big.Int)
	currentTick := m.Pool.CurrentTick()

	for _, id := range e.orders.IDs(maker, m.BaseAsset) {
		order, err := e.orders.Get(id)
		if err != nil {
			return nil, err
		}
		funding := e.ticks.AllFundingGrowth(
			m.BaseAsset, order.LowerTick, order.UpperTick, currentTick,
			m.TwPremiumGrowthGlobalX96, m.TwPremiumDivSqrtPriceGrowthGlobalX96,
		)

		coef, err := orderFundingCoefficient(order, funding.TwPremiumInsideX96, funding.TwPremiumBelowX96, funding.TwPremiumDivSqrtPriceInsideX96)
		if err != nil {
			return nil, err
		}
		total.Add(total, coef)

		if settle {
			err := e.orders.RefreshFundingSnapshots(id, orderstore.GrowthSnapshot{
				TwPremiumGrowthInsideX96:             funding.TwPremiumInsideX96,
				TwPremiumGrowthBelowX96:              funding.TwPremiumBelowX96,
				TwPremiumDivSqrtPriceGrowthInsideX96: funding.TwPremiumDivSqrtPriceInsideX96,
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return total, nil
}

// orderFundingCoefficient computes one order's liquidity coefficient in
// the funding payment:
//
//	below  = baseAmount(order range) * d(twPremiumBelow)
//	inside = liquidity * (d(twPremiumDivSqrtPriceInside)
//	         - d(twPremiumInside) * 2^96 / sqrtPriceAtUpperTick)
//	coefficient = (below + inside) / 2^96
//
// Deltas are against the order's last settled snapshots. Division
// truncates toward zero on both signs.
func orderFundingCoefficient(order *orderstore.OpenOrder, premiumInsideX96, premiumBelowX96, premiumDivSqrtPriceInsideX96 *big.Int) (*big.Int, error) {
	sqrtLower, err := fixedpoint.SqrtRatioAtTick(order.LowerTick)
	if err != nil {
		return nil, err
	}
	sqrtUpper, err := fixedpoint.SqrtRatioAtTick(order.UpperTick)
	if err != nil {
		return nil, err
	}
	baseAmount := amm.BaseAmountForLiquidity(sqrtLower, sqrtUpper, order.Liquidity)

	below := new(big.Int).Mul(
		baseAmount.ToBig(),
		new(big.Int).Sub(premiumBelowX96, order.LastTwPremiumGrowthBelowX96),
	)

	premiumDelta := new(big.Int).Sub(premiumInsideX96, order.LastTwPremiumGrowthInsideX96)
	perLiquidity := new(big.Int).Quo(
		new(big.Int).Lsh(premiumDelta, 96),
		sqrtUpper.ToBig(),
	)
	inside := new(big.Int).Mul(
		order.Liquidity.ToBig(),
		new(big.Int).Sub(
			new(big.Int).Sub(premiumDivSqrtPriceInsideX96, order.LastTwPremiumDivSqrtPriceGrowthInsideX96),
			perLiquidity,
		),
	)

	return new(big.Int).Quo(new(big.Int).Add(below, inside), fixedpoint.Q96Big), nil
}
