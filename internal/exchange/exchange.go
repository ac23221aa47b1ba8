// Package exchange is the accounting core of the perpetual exchange: it
// registers markets on top of concentrated-liquidity pools, replays swaps
// under a per-market fee schedule, orchestrates maker liquidity, and keeps
// the per-tick growth ledger and open order store consistent with every
// pool mutation.
package exchange

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"PerpExchange/internal/amm"
	"PerpExchange/internal/event"
	"PerpExchange/internal/fixedpoint"
	"PerpExchange/internal/observability"
	"PerpExchange/internal/orderstore"
	"PerpExchange/internal/tickledger"
)

// FeeRatioMax caps both the exchange fee ratio and the insurance fund fee
// ratio at 10%.
const FeeRatioMax uint32 = 100_000

// Market is the per-base-asset trading venue. The exchange keeps its own
// quote-denominated fee growth accumulator next to the pool's native one,
// because takers are charged the exchange ratio rather than the pool ratio.
type Market struct {
	BaseAsset                string
	Pool                     amm.Pool
	PoolFeeRatioPPM          uint32
	ExchangeFeeRatioPPM      uint32
	InsuranceFundFeeRatioPPM uint32

	// FeeGrowthGlobalX128 accumulates maker fees per unit of liquidity,
	// Q128.128, wrapping on overflow.
	FeeGrowthGlobalX128 *uint256.Int

	// Funding growth globals, signed Q96, supplied by the position ledger
	// on every funding update and consumed when crossing ticks.
	TwPremiumGrowthGlobalX96             *big.Int
	TwPremiumDivSqrtPriceGrowthGlobalX96 *big.Int
}

// Config carries the immutable identity of an exchange instance.
type Config struct {
	QuoteAsset       string
	AdminID          string
	PositionLedgerID string
	// MaxOrdersPerMarket bounds open orders per (trader, market) pair.
	// Zero means the default of 100.
	MaxOrdersPerMarket int
}

// Exchange owns all mutable accounting state. It is safe for concurrent
// use; a single mutex serializes every operation, matching the
// strictly-ordered semantics the position ledger relies on.
type Exchange struct {
	mu sync.Mutex

	cfg     Config
	factory amm.Factory
	markets map[string]*Market

	ticks  *tickledger.Ledger
	orders *orderstore.Store

	log     zerolog.Logger
	metrics *observability.Metrics
	events  chan<- event.Event
}

// New wires an exchange against a pool factory. metrics and events may be
// nil; events are dropped rather than blocking when the channel is full.
func New(cfg Config, factory amm.Factory, logger zerolog.Logger, metrics *observability.Metrics, events chan<- event.Event) *Exchange {
	maxOrders := cfg.MaxOrdersPerMarket
	if maxOrders <= 0 {
		maxOrders = 100
	}
	return &Exchange{
		cfg:     cfg,
		factory: factory,
		markets: make(map[string]*Market),
		ticks:   tickledger.New(),
		orders:  orderstore.New(maxOrders),
		log:     logger.With().Str("component", "exchange").Logger(),
		metrics: metrics,
		events:  events,
	}
}

// AddPool registers a market for baseAsset backed by the pool the factory
// resolves for (quote, base, feePPM). Admin only. The pool must already
// have a price.
func (e *Exchange) AddPool(caller, baseAsset string, feePPM uint32) (amm.PoolID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.AdminID {
		return amm.PoolID{}, ErrNotAdmin
	}
	if _, ok := e.markets[baseAsset]; ok {
		return amm.PoolID{}, fmt.Errorf("market %s: %w", baseAsset, ErrMarketExists)
	}
	pool, ok := e.factory.Pool(e.cfg.QuoteAsset, baseAsset, feePPM)
	if !ok {
		return amm.PoolID{}, fmt.Errorf("market %s: %w", baseAsset, ErrPoolNotFound)
	}
	if pool.SqrtPriceX96().IsZero() {
		return amm.PoolID{}, fmt.Errorf("market %s: %w", baseAsset, ErrPoolNotInitialized)
	}

	m := &Market{
		BaseAsset:                            baseAsset,
		Pool:                                 pool,
		PoolFeeRatioPPM:                      pool.FeeRatioPPM(),
		ExchangeFeeRatioPPM:                  pool.FeeRatioPPM(),
		InsuranceFundFeeRatioPPM:             0,
		FeeGrowthGlobalX128:                  new(uint256.Int),
		TwPremiumGrowthGlobalX96:             new(big.Int),
		TwPremiumDivSqrtPriceGrowthGlobalX96: new(big.Int),
	}
	e.markets[baseAsset] = m

	e.log.Info().
		Str("market", baseAsset).
		Uint32("pool_fee_ppm", m.PoolFeeRatioPPM).
		Msg("market registered")
	if e.metrics != nil {
		e.metrics.MarketsRegistered.Inc()
	}
	e.emit(&event.MarketAdded{
		Market:     baseAsset,
		QuoteAsset: e.cfg.QuoteAsset,
		PoolID:     pool.ID().String(),
		FeePPM:     m.PoolFeeRatioPPM,
	})
	return pool.ID(), nil
}

// SetExchangeFeeRatio overrides the taker fee ratio charged in quote on
// quote-to-base swaps. Admin only.
func (e *Exchange) SetExchangeFeeRatio(caller, baseAsset string, ratioPPM uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.AdminID {
		return ErrNotAdmin
	}
	m, err := e.market(baseAsset)
	if err != nil {
		return err
	}
	if ratioPPM > FeeRatioMax {
		return fmt.Errorf("exchange fee %d ppm: %w", ratioPPM, ErrInvalidFeeRatio)
	}
	m.ExchangeFeeRatioPPM = ratioPPM
	e.log.Info().Str("market", baseAsset).Uint32("ratio_ppm", ratioPPM).Msg("exchange fee ratio updated")
	return nil
}

// SetInsuranceFundFeeRatio sets the share of every taker fee diverted to
// the insurance fund. Admin only.
func (e *Exchange) SetInsuranceFundFeeRatio(caller, baseAsset string, ratioPPM uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.AdminID {
		return ErrNotAdmin
	}
	m, err := e.market(baseAsset)
	if err != nil {
		return err
	}
	if ratioPPM > FeeRatioMax {
		return fmt.Errorf("insurance fund fee %d ppm: %w", ratioPPM, ErrInvalidFeeRatio)
	}
	m.InsuranceFundFeeRatioPPM = ratioPPM
	e.log.Info().Str("market", baseAsset).Uint32("ratio_ppm", ratioPPM).Msg("insurance fund fee ratio updated")
	return nil
}

// market looks up a registered market. Callers hold e.mu.
func (e *Exchange) market(baseAsset string) (*Market, error) {
	m, ok := e.markets[baseAsset]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", baseAsset, ErrMarketNotFound)
	}
	return m, nil
}

// emit forwards an event without blocking; a saturated consumer loses
// events rather than stalling trading.
func (e *Exchange) emit(ev event.Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- ev:
	default:
		if e.metrics != nil {
			e.metrics.EventsDropped.Inc()
		}
		e.log.Warn().Str("event_type", ev.EventType().String()).Msg("event channel full, dropping")
	}
}

// PoolFor returns the pool identity backing a market.
func (e *Exchange) PoolFor(baseAsset string) (amm.PoolID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.market(baseAsset)
	if err != nil {
		return amm.PoolID{}, err
	}
	return m.Pool.ID(), nil
}

// FeeRatios returns (exchange, insurance fund) fee ratios in ppm.
func (e *Exchange) FeeRatios(baseAsset string) (uint32, uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.market(baseAsset)
	if err != nil {
		return 0, 0, err
	}
	return m.ExchangeFeeRatioPPM, m.InsuranceFundFeeRatioPPM, nil
}

// CurrentTick returns the market's current pool tick.
func (e *Exchange) CurrentTick(baseAsset string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.market(baseAsset)
	if err != nil {
		return 0, err
	}
	return m.Pool.CurrentTick(), nil
}

// SqrtMarkPriceX96 returns the market's current sqrt price.
func (e *Exchange) SqrtMarkPriceX96(baseAsset string) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.market(baseAsset)
	if err != nil {
		return nil, err
	}
	return m.Pool.SqrtPriceX96(), nil
}

// MarkPriceTWAP returns the time-weighted average mark price over the
// trailing interval, Q96. An interval of zero returns the spot price.
func (e *Exchange) MarkPriceTWAP(baseAsset string, intervalSeconds int64) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.market(baseAsset)
	if err != nil {
		return nil, err
	}
	return m.Pool.MarkPriceTWAP(intervalSeconds)
}

// OpenOrderIDs lists a trader's open order IDs on a market.
func (e *Exchange) OpenOrderIDs(trader, baseAsset string) ([]uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.market(baseAsset); err != nil {
		return nil, err
	}
	return e.orders.IDs(trader, baseAsset), nil
}

// OpenOrder returns a copy of one open order.
func (e *Exchange) OpenOrder(id uuid.UUID) (orderstore.OpenOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.orders.Get(id)
	if err != nil {
		return orderstore.OpenOrder{}, err
	}
	return *order, nil
}

// TotalTokenAmounts values a trader's open orders at the current pool
// price. The quote total includes fees accrued but not yet collected, so
// it is the amount the trader would receive by removing everything now.
func (e *Exchange) TotalTokenAmounts(trader, baseAsset string) (*uint256.Int, *uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.market(baseAsset)
	if err != nil {
		return nil, nil, err
	}

	sqrtPrice := m.Pool.SqrtPriceX96()
	totalBase := new(uint256.Int)
	totalQuote := new(uint256.Int)
	for _, id := range e.orders.IDs(trader, baseAsset) {
		order, err := e.orders.Get(id)
		if err != nil {
			return nil, nil, err
		}
		sqrtLower, err := fixedpoint.SqrtRatioAtTick(order.LowerTick)
		if err != nil {
			return nil, nil, err
		}
		sqrtUpper, err := fixedpoint.SqrtRatioAtTick(order.UpperTick)
		if err != nil {
			return nil, nil, err
		}

		base, quote := amm.AmountsForLiquidity(sqrtPrice, sqrtLower, sqrtUpper, order.Liquidity)
		totalBase.Add(totalBase, base)
		totalQuote.Add(totalQuote, quote)
		totalQuote.Add(totalQuote, e.pendingFee(m, order))
	}
	return totalBase, totalQuote, nil
}

// pendingFee computes the quote fee an order has accrued since its last
// snapshot without mutating the order. Callers hold e.mu.
func (e *Exchange) pendingFee(m *Market, order *orderstore.OpenOrder) *uint256.Int {
	inside := e.ticks.FeeGrowthInside(
		m.BaseAsset, order.LowerTick, order.UpperTick,
		m.Pool.CurrentTick(), m.FeeGrowthGlobalX128,
	)
	delta := fixedpoint.WrappingSub(inside, order.LastFeeGrowthInsideX128)
	return fixedpoint.MulDiv(delta, order.Liquidity, fixedpoint.Q128)
}
