package exchange

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"PerpExchange/internal/amm"
	"PerpExchange/internal/event"
	"PerpExchange/internal/fixedpoint"
	"PerpExchange/internal/orderstore"
	"PerpExchange/internal/tickledger"
)

// AddLiquidityParams provisions maker liquidity over [LowerTick,
// UpperTick] funded by up to Base and Quote.
type AddLiquidityParams struct {
	Caller    string
	Maker     string
	BaseAsset string

	LowerTick int
	UpperTick int
	Base      *uint256.Int
	Quote     *uint256.Int
}

// AddLiquidityResult reports the amounts actually deposited, the
// liquidity minted and any fee realized by touching a pre-existing order.
type AddLiquidityResult struct {
	Base      *uint256.Int
	Quote     *uint256.Int
	Liquidity *uint256.Int
	Fee       *uint256.Int
	OrderID   uuid.UUID
}

// RemoveLiquidityParams burns Liquidity from the maker's order on
// [LowerTick, UpperTick].
type RemoveLiquidityParams struct {
	Caller    string
	Maker     string
	BaseAsset string

	LowerTick int
	UpperTick int
	Liquidity *uint256.Int
}

// RemoveLiquidityResult reports the amounts returned to the maker plus
// the fee realized for the whole order.
type RemoveLiquidityResult struct {
	Base  *uint256.Int
	Quote *uint256.Int
	Fee   *uint256.Int
}

// AddLiquidity mints pool liquidity for the maker, brings the tick
// ledger in lockstep with any tick the mint initialized, and folds the
// position into the open order store, realizing fees owed on an existing
// order first. Position ledger only.
func (e *Exchange) AddLiquidity(params AddLiquidityParams) (AddLiquidityResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if params.Caller != e.cfg.PositionLedgerID {
		return AddLiquidityResult{}, ErrNotPositionLedger
	}
	m, err := e.market(params.BaseAsset)
	if err != nil {
		return AddLiquidityResult{}, err
	}
	if params.LowerTick >= params.UpperTick ||
		params.LowerTick < fixedpoint.MinTick || params.UpperTick > fixedpoint.MaxTick {
		return AddLiquidityResult{}, fmt.Errorf("add liquidity %s [%d, %d]: %w",
			params.BaseAsset, params.LowerTick, params.UpperTick, amm.ErrInvalidTickRange)
	}

	sqrtLower, err := fixedpoint.SqrtRatioAtTick(params.LowerTick)
	if err != nil {
		return AddLiquidityResult{}, err
	}
	sqrtUpper, err := fixedpoint.SqrtRatioAtTick(params.UpperTick)
	if err != nil {
		return AddLiquidityResult{}, err
	}
	liquidity := amm.LiquidityForAmounts(m.Pool.SqrtPriceX96(), sqrtLower, sqrtUpper, params.Base, params.Quote)
	if liquidity.IsZero() {
		return AddLiquidityResult{}, fmt.Errorf("add liquidity %s: %w", params.BaseAsset, ErrZeroLiquidity)
	}

	// Reject a cap overflow before the pool mutates.
	if _, err := e.orders.GetByRange(params.Maker, params.BaseAsset, params.LowerTick, params.UpperTick); err != nil {
		if e.orders.Count(params.Maker, params.BaseAsset) >= e.orders.MaxOrdersPerMarket() {
			return AddLiquidityResult{}, fmt.Errorf("add liquidity %s: %w", params.BaseAsset, orderstore.ErrOrdersExceeded)
		}
	}

	lowerWasInitialized := m.Pool.IsTickInitialized(params.LowerTick)
	upperWasInitialized := m.Pool.IsTickInitialized(params.UpperTick)

	mintRes, err := m.Pool.Mint(params.Maker, params.LowerTick, params.UpperTick, liquidity, &mintGuard{pool: m.Pool.ID()})
	if err != nil {
		return AddLiquidityResult{}, fmt.Errorf("add liquidity %s: %w", params.BaseAsset, err)
	}

	currentTick := m.Pool.CurrentTick()
	globals := tickledger.Globals{
		FeeX128:                  m.FeeGrowthGlobalX128,
		TwPremiumX96:             m.TwPremiumGrowthGlobalX96,
		TwPremiumDivSqrtPriceX96: m.TwPremiumDivSqrtPriceGrowthGlobalX96,
	}
	if err := e.seedTick(m, params.LowerTick, lowerWasInitialized, currentTick, globals); err != nil {
		panic(fmt.Sprintf("FATAL: tick ledger out of sync with pool: %v", err))
	}
	if err := e.seedTick(m, params.UpperTick, upperWasInitialized, currentTick, globals); err != nil {
		panic(fmt.Sprintf("FATAL: tick ledger out of sync with pool: %v", err))
	}

	fee, _, err := e.orders.Upsert(
		params.Maker, params.BaseAsset, params.LowerTick, params.UpperTick,
		liquidity.ToBig(), e.growthSnapshot(m, params.LowerTick, params.UpperTick),
	)
	if err != nil {
		panic(fmt.Sprintf("FATAL: order upsert failed after pool mint: %v", err))
	}
	orderID := orderstore.OrderID(params.Maker, params.BaseAsset, params.LowerTick, params.UpperTick)

	if e.metrics != nil {
		e.metrics.LiquidityAdds.WithLabelValues(params.BaseAsset).Inc()
		e.metrics.OpenOrders.WithLabelValues(params.BaseAsset).Set(float64(e.orders.Count(params.Maker, params.BaseAsset)))
	}
	e.log.Debug().
		Str("market", params.BaseAsset).
		Str("maker", params.Maker).
		Int("lower", params.LowerTick).
		Int("upper", params.UpperTick).
		Str("liquidity", liquidity.Dec()).
		Msg("liquidity added")
	e.emit(&event.LiquidityChanged{
		Market:    params.BaseAsset,
		Maker:     params.Maker,
		OrderID:   orderID.String(),
		LowerTick: params.LowerTick,
		UpperTick: params.UpperTick,
		Base:      mintRes.Base.Dec(),
		Quote:     mintRes.Quote.Dec(),
		Liquidity: liquidity.Dec(),
		Fee:       fee.Dec(),
	})

	return AddLiquidityResult{
		Base:      mintRes.Base,
		Quote:     mintRes.Quote,
		Liquidity: liquidity,
		Fee:       fee,
		OrderID:   orderID,
	}, nil
}

// seedTick creates a growth record for a tick the mint just initialized.
// Callers hold e.mu.
func (e *Exchange) seedTick(m *Market, tick int, wasInitialized bool, currentTick int, globals tickledger.Globals) error {
	if wasInitialized || !m.Pool.IsTickInitialized(tick) {
		return nil
	}
	return e.ticks.Initialize(m.BaseAsset, tick, currentTick, globals)
}

// growthSnapshot reads the fresh growth-inside values for a range.
// Callers hold e.mu.
func (e *Exchange) growthSnapshot(m *Market, lower, upper int) orderstore.GrowthSnapshot {
	currentTick := m.Pool.CurrentTick()
	funding := e.ticks.AllFundingGrowth(
		m.BaseAsset, lower, upper, currentTick,
		m.TwPremiumGrowthGlobalX96, m.TwPremiumDivSqrtPriceGrowthGlobalX96,
	)
	return orderstore.GrowthSnapshot{
		FeeGrowthInsideX128:                  e.ticks.FeeGrowthInside(m.BaseAsset, lower, upper, currentTick, m.FeeGrowthGlobalX128),
		TwPremiumGrowthInsideX96:             funding.TwPremiumInsideX96,
		TwPremiumGrowthBelowX96:              funding.TwPremiumBelowX96,
		TwPremiumDivSqrtPriceGrowthInsideX96: funding.TwPremiumDivSqrtPriceInsideX96,
	}
}

// RemoveLiquidity burns liquidity from the maker's order, realizes the
// fee owed over the order's full remaining liquidity, and clears growth
// records for any tick the burn de-initialized. Position ledger only.
func (e *Exchange) RemoveLiquidity(params RemoveLiquidityParams) (RemoveLiquidityResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if params.Caller != e.cfg.PositionLedgerID {
		return RemoveLiquidityResult{}, ErrNotPositionLedger
	}
	m, err := e.market(params.BaseAsset)
	if err != nil {
		return RemoveLiquidityResult{}, err
	}
	return e.removeLiquidity(m, params.Maker, params.LowerTick, params.UpperTick, params.Liquidity)
}

// removeLiquidity is the lock-held core shared with RemoveLiquidityByIDs.
func (e *Exchange) removeLiquidity(m *Market, maker string, lower, upper int, liquidity *uint256.Int) (RemoveLiquidityResult, error) {
	order, err := e.orders.GetByRange(maker, m.BaseAsset, lower, upper)
	if err != nil {
		return RemoveLiquidityResult{}, fmt.Errorf("remove liquidity %s: %w", m.BaseAsset, err)
	}
	if liquidity == nil || liquidity.IsZero() || liquidity.Gt(order.Liquidity) {
		return RemoveLiquidityResult{}, fmt.Errorf("remove liquidity %s: have %s want %s: %w",
			m.BaseAsset, order.Liquidity.Dec(), liquidity.Dec(), orderstore.ErrInsufficientLiquidity)
	}

	burnRes, err := m.Pool.Burn(maker, lower, upper, liquidity)
	if err != nil {
		return RemoveLiquidityResult{}, fmt.Errorf("remove liquidity %s: %w", m.BaseAsset, err)
	}

	// Fee settles against the order's liquidity before the delta, then
	// the delta applies; a zero-liquidity order is deleted by the store.
	fee, removed, err := e.orders.Upsert(
		maker, m.BaseAsset, lower, upper,
		new(big.Int).Neg(liquidity.ToBig()),
		e.growthSnapshot(m, lower, upper),
	)
	if err != nil {
		panic(fmt.Sprintf("FATAL: order upsert failed after pool burn: %v", err))
	}

	// Growth records die with the last liquidity referencing the tick.
	if !m.Pool.IsTickInitialized(lower) {
		e.ticks.Clear(m.BaseAsset, lower)
	}
	if !m.Pool.IsTickInitialized(upper) {
		e.ticks.Clear(m.BaseAsset, upper)
	}

	if e.metrics != nil {
		e.metrics.LiquidityRemoves.WithLabelValues(m.BaseAsset).Inc()
		e.metrics.OpenOrders.WithLabelValues(m.BaseAsset).Set(float64(e.orders.Count(maker, m.BaseAsset)))
	}
	e.log.Debug().
		Str("market", m.BaseAsset).
		Str("maker", maker).
		Int("lower", lower).
		Int("upper", upper).
		Str("liquidity", liquidity.Dec()).
		Bool("order_closed", removed).
		Msg("liquidity removed")
	e.emit(&event.LiquidityChanged{
		Market:    m.BaseAsset,
		Maker:     maker,
		OrderID:   orderstore.OrderID(maker, m.BaseAsset, lower, upper).String(),
		LowerTick: lower,
		UpperTick: upper,
		Base:      burnRes.Base.Dec(),
		Quote:     burnRes.Quote.Dec(),
		Liquidity: "-" + liquidity.Dec(),
		Fee:       fee.Dec(),
	})

	return RemoveLiquidityResult{
		Base:  burnRes.Base,
		Quote: burnRes.Quote,
		Fee:   fee,
	}, nil
}

// RemoveLiquidityByIDs closes the given orders entirely and aggregates
// the returned amounts. Used for maker cancellation and liquidation
// flows. Position ledger only.
func (e *Exchange) RemoveLiquidityByIDs(caller, maker, baseAsset string, ids []uuid.UUID) (RemoveLiquidityResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.PositionLedgerID {
		return RemoveLiquidityResult{}, ErrNotPositionLedger
	}
	m, err := e.market(baseAsset)
	if err != nil {
		return RemoveLiquidityResult{}, err
	}

	// Validate the whole batch first; a bad id aborts with nothing burned.
	for _, id := range ids {
		order, err := e.orders.Get(id)
		if err != nil {
			return RemoveLiquidityResult{}, fmt.Errorf("remove liquidity by ids %s: %w", baseAsset, err)
		}
		if order.Owner != maker || order.Market != baseAsset {
			return RemoveLiquidityResult{}, fmt.Errorf("remove liquidity by ids %s: order %s: %w",
				baseAsset, id, orderstore.ErrOrderNotFound)
		}
	}

	total := RemoveLiquidityResult{
		Base:  new(uint256.Int),
		Quote: new(uint256.Int),
		Fee:   new(uint256.Int),
	}
	for _, id := range ids {
		order, err := e.orders.Get(id)
		if err != nil {
			panic(fmt.Sprintf("FATAL: order disappeared mid-batch: %v", err))
		}
		res, err := e.removeLiquidity(m, maker, order.LowerTick, order.UpperTick, new(uint256.Int).Set(order.Liquidity))
		if err != nil {
			panic(fmt.Sprintf("FATAL: burn failed mid-batch: %v", err))
		}
		total.Base.Add(total.Base, res.Base)
		total.Quote.Add(total.Quote, res.Quote)
		total.Fee.Add(total.Fee, res.Fee)
	}
	return total, nil
}

// mintGuard verifies mid-mint callbacks against the market's registered
// pool.
type mintGuard struct {
	pool amm.PoolID
}

func (g *mintGuard) PayMint(pool amm.PoolID, base, quote *uint256.Int) error {
	if pool != g.pool {
		return ErrCallbackNotPool
	}
	return nil
}
