package exchange

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"PerpExchange/internal/orderstore"
	"PerpExchange/internal/tickledger"
)

// MarketSnapshot is a serializable market record. The pool itself is not
// serialized; Restore re-resolves it from the factory by its (quote,
// base, fee) key.
type MarketSnapshot struct {
	BaseAsset                            string `json:"base_asset"`
	PoolFeeRatioPPM                      uint32 `json:"pool_fee_ratio_ppm"`
	ExchangeFeeRatioPPM                  uint32 `json:"exchange_fee_ratio_ppm"`
	InsuranceFundFeeRatioPPM             uint32 `json:"insurance_fund_fee_ratio_ppm"`
	FeeGrowthGlobalX128                  string `json:"fee_growth_global_x128"`
	TwPremiumGrowthGlobalX96             string `json:"tw_premium_growth_global_x96"`
	TwPremiumDivSqrtPriceGrowthGlobalX96 string `json:"tw_premium_div_sqrt_price_growth_global_x96"`
}

// StateSnapshot is the complete serializable accounting state.
type StateSnapshot struct {
	QuoteAsset string                      `json:"quote_asset"`
	Markets    []MarketSnapshot            `json:"markets"`
	Orders     []orderstore.OrderSnapshot  `json:"orders"`
	Ticks      []tickledger.RecordSnapshot `json:"ticks"`
}

// Snapshot exports the full accounting state for persistence.
func (e *Exchange) Snapshot() StateSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := StateSnapshot{
		QuoteAsset: e.cfg.QuoteAsset,
		Markets:    make([]MarketSnapshot, 0, len(e.markets)),
		Orders:     e.orders.Snapshot(),
		Ticks:      e.ticks.Snapshot(),
	}
	for _, m := range e.markets {
		snap.Markets = append(snap.Markets, MarketSnapshot{
			BaseAsset:                            m.BaseAsset,
			PoolFeeRatioPPM:                      m.PoolFeeRatioPPM,
			ExchangeFeeRatioPPM:                  m.ExchangeFeeRatioPPM,
			InsuranceFundFeeRatioPPM:             m.InsuranceFundFeeRatioPPM,
			FeeGrowthGlobalX128:                  m.FeeGrowthGlobalX128.Dec(),
			TwPremiumGrowthGlobalX96:             m.TwPremiumGrowthGlobalX96.String(),
			TwPremiumDivSqrtPriceGrowthGlobalX96: m.TwPremiumDivSqrtPriceGrowthGlobalX96.String(),
		})
	}
	return snap
}

// Restore replaces the exchange's accounting state with a snapshot. Pool
// state is owned by the AMM and must already be restored when this runs.
func (e *Exchange) Restore(snap StateSnapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if snap.QuoteAsset != e.cfg.QuoteAsset {
		return fmt.Errorf("restore: snapshot quote asset %q, configured %q", snap.QuoteAsset, e.cfg.QuoteAsset)
	}

	markets := make(map[string]*Market, len(snap.Markets))
	for _, ms := range snap.Markets {
		pool, ok := e.factory.Pool(e.cfg.QuoteAsset, ms.BaseAsset, ms.PoolFeeRatioPPM)
		if !ok {
			return fmt.Errorf("restore market %s: %w", ms.BaseAsset, ErrPoolNotFound)
		}
		feeGrowth, err := uint256.FromDecimal(ms.FeeGrowthGlobalX128)
		if err != nil {
			return fmt.Errorf("restore market %s fee growth: %w", ms.BaseAsset, err)
		}
		premium, ok := new(big.Int).SetString(ms.TwPremiumGrowthGlobalX96, 10)
		if !ok {
			return fmt.Errorf("restore market %s premium: bad value %q", ms.BaseAsset, ms.TwPremiumGrowthGlobalX96)
		}
		div, ok := new(big.Int).SetString(ms.TwPremiumDivSqrtPriceGrowthGlobalX96, 10)
		if !ok {
			return fmt.Errorf("restore market %s premium-div: bad value %q", ms.BaseAsset, ms.TwPremiumDivSqrtPriceGrowthGlobalX96)
		}
		markets[ms.BaseAsset] = &Market{
			BaseAsset:                            ms.BaseAsset,
			Pool:                                 pool,
			PoolFeeRatioPPM:                      ms.PoolFeeRatioPPM,
			ExchangeFeeRatioPPM:                  ms.ExchangeFeeRatioPPM,
			InsuranceFundFeeRatioPPM:             ms.InsuranceFundFeeRatioPPM,
			FeeGrowthGlobalX128:                  feeGrowth,
			TwPremiumGrowthGlobalX96:             premium,
			TwPremiumDivSqrtPriceGrowthGlobalX96: div,
		}
	}

	orders := orderstore.New(e.orders.MaxOrdersPerMarket())
	for _, o := range snap.Orders {
		if err := orders.Restore(o); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}
	ticks := tickledger.New()
	for _, t := range snap.Ticks {
		if err := ticks.Restore(t); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	e.markets = markets
	e.orders = orders
	e.ticks = ticks
	return nil
}
