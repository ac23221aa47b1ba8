// Package orderstore keeps the per-(owner, market, range) liquidity
// position records and the owner/market index over them. One order exists
// per unique range; an order whose liquidity reaches zero is deleted, never
// retained.
package orderstore

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"PerpExchange/internal/fixedpoint"
)

var (
	ErrOrdersExceeded        = errors.New("max open orders per market exceeded")
	ErrOrderNotFound         = errors.New("open order not found")
	ErrInsufficientLiquidity = errors.New("order has less liquidity than requested")
)

// orderIDNamespace makes order IDs deterministic: the same
// (owner, market, range) always yields the same v5 UUID.
var orderIDNamespace = uuid.MustParse("b6c9ff52-0b71-59f3-bb2d-7c30ad486d4f")

// OrderID derives the deterministic identifier for an order key.
func OrderID(owner, market string, lower, upper int) uuid.UUID {
	return uuid.NewSHA1(orderIDNamespace, []byte(fmt.Sprintf("%s|%s|%d|%d", owner, market, lower, upper)))
}

// OpenOrder is one range liquidity position. Snapshots hold the
// growth-inside values at last settlement; deltas against fresh snapshots
// realize fees and funding owed since then.
type OpenOrder struct {
	ID        uuid.UUID
	Owner     string
	Market    string
	LowerTick int
	UpperTick int
	Liquidity *uint256.Int

	LastFeeGrowthInsideX128                  *uint256.Int
	LastTwPremiumGrowthInsideX96             *big.Int
	LastTwPremiumGrowthBelowX96              *big.Int
	LastTwPremiumDivSqrtPriceGrowthInsideX96 *big.Int
}

// GrowthSnapshot carries fresh growth-inside values from the tick ledger.
type GrowthSnapshot struct {
	FeeGrowthInsideX128                  *uint256.Int
	TwPremiumGrowthInsideX96             *big.Int
	TwPremiumGrowthBelowX96              *big.Int
	TwPremiumDivSqrtPriceGrowthInsideX96 *big.Int
}

type ownerMarket struct {
	Owner  string
	Market string
}

// Store owns every market's open orders.
type Store struct {
	orders             map[uuid.UUID]*OpenOrder
	index              map[ownerMarket][]uuid.UUID
	maxOrdersPerMarket int
}

func New(maxOrdersPerMarket int) *Store {
	return &Store{
		orders:             make(map[uuid.UUID]*OpenOrder),
		index:              make(map[ownerMarket][]uuid.UUID),
		maxOrdersPerMarket: maxOrdersPerMarket,
	}
}

// Get returns the order for an id, or ErrOrderNotFound.
func (s *Store) Get(id uuid.UUID) (*OpenOrder, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return order, nil
}

// GetByRange returns the order for an (owner, market, range) key.
func (s *Store) GetByRange(owner, market string, lower, upper int) (*OpenOrder, error) {
	return s.Get(OrderID(owner, market, lower, upper))
}

// IDs returns the order ids of an owner in a market. The slice is a copy;
// its order carries no meaning.
func (s *Store) IDs(owner, market string) []uuid.UUID {
	ids := s.index[ownerMarket{Owner: owner, Market: market}]
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out
}

// Count returns the number of open orders of an owner in a market.
func (s *Store) Count(owner, market string) int {
	return len(s.index[ownerMarket{Owner: owner, Market: market}])
}

// MaxOrdersPerMarket returns the per-(owner, market) order cap.
func (s *Store) MaxOrdersPerMarket() int {
	return s.maxOrdersPerMarket
}

// Upsert folds a signed liquidity delta into the order for the key,
// creating it when absent (subject to the per-market cap). For an existing
// order the owed fee since the last snapshot is realized against the
// order's liquidity before the delta applies:
//
//	fee = wrap(feeInsideNew - feeInsideOld) * liquidity / 2^128
//
// Returns the realized fee and whether the order was deleted (liquidity
// reached zero).
func (s *Store) Upsert(owner, market string, lower, upper int, liquidityDelta *big.Int, fresh GrowthSnapshot) (*uint256.Int, bool, error) {
	id := OrderID(owner, market, lower, upper)
	order, exists := s.orders[id]

	if !exists {
		if liquidityDelta.Sign() <= 0 {
			return nil, false, fmt.Errorf("%w: %s/%s [%d,%d]", ErrOrderNotFound, owner, market, lower, upper)
		}
		key := ownerMarket{Owner: owner, Market: market}
		if len(s.index[key]) >= s.maxOrdersPerMarket {
			return nil, false, fmt.Errorf("%w: owner=%s market=%s cap=%d", ErrOrdersExceeded, owner, market, s.maxOrdersPerMarket)
		}
		liq, _ := uint256.FromBig(liquidityDelta)
		s.orders[id] = &OpenOrder{
			ID:                                       id,
			Owner:                                    owner,
			Market:                                   market,
			LowerTick:                                lower,
			UpperTick:                                upper,
			Liquidity:                                liq,
			LastFeeGrowthInsideX128:                  new(uint256.Int).Set(fresh.FeeGrowthInsideX128),
			LastTwPremiumGrowthInsideX96:             new(big.Int).Set(fresh.TwPremiumGrowthInsideX96),
			LastTwPremiumGrowthBelowX96:              new(big.Int).Set(fresh.TwPremiumGrowthBelowX96),
			LastTwPremiumDivSqrtPriceGrowthInsideX96: new(big.Int).Set(fresh.TwPremiumDivSqrtPriceGrowthInsideX96),
		}
		s.index[key] = append(s.index[key], id)
		return new(uint256.Int), false, nil
	}

	fee := fixedpoint.MulDiv(
		fixedpoint.WrappingSub(fresh.FeeGrowthInsideX128, order.LastFeeGrowthInsideX128),
		order.Liquidity,
		fixedpoint.Q128,
	)

	if liquidityDelta.Sign() < 0 {
		abs, _ := uint256.FromBig(new(big.Int).Neg(liquidityDelta))
		if order.Liquidity.Lt(abs) {
			return nil, false, fmt.Errorf("%w: have=%s want=%s", ErrInsufficientLiquidity, order.Liquidity, abs)
		}
		order.Liquidity.Sub(order.Liquidity, abs)
	} else {
		add, _ := uint256.FromBig(liquidityDelta)
		order.Liquidity.Add(order.Liquidity, add)
	}

	order.LastFeeGrowthInsideX128.Set(fresh.FeeGrowthInsideX128)
	order.LastTwPremiumGrowthInsideX96.Set(fresh.TwPremiumGrowthInsideX96)
	order.LastTwPremiumGrowthBelowX96.Set(fresh.TwPremiumGrowthBelowX96)
	order.LastTwPremiumDivSqrtPriceGrowthInsideX96.Set(fresh.TwPremiumDivSqrtPriceGrowthInsideX96)

	if order.Liquidity.IsZero() {
		s.remove(order)
		return fee, true, nil
	}
	return fee, false, nil
}

// RefreshFundingSnapshots persists fresh funding-growth snapshots into an
// order after a funding settlement.
func (s *Store) RefreshFundingSnapshots(id uuid.UUID, fresh GrowthSnapshot) error {
	order, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	order.LastTwPremiumGrowthInsideX96.Set(fresh.TwPremiumGrowthInsideX96)
	order.LastTwPremiumGrowthBelowX96.Set(fresh.TwPremiumGrowthBelowX96)
	order.LastTwPremiumDivSqrtPriceGrowthInsideX96.Set(fresh.TwPremiumDivSqrtPriceGrowthInsideX96)
	return nil
}

// Remove deletes an order outright.
func (s *Store) Remove(owner, market string, lower, upper int) error {
	order, ok := s.orders[OrderID(owner, market, lower, upper)]
	if !ok {
		return fmt.Errorf("%w: %s/%s [%d,%d]", ErrOrderNotFound, owner, market, lower, upper)
	}
	s.remove(order)
	return nil
}

// remove drops the index entry via swap-with-last-and-pop (the index has no
// ordering contract) and deletes the record.
func (s *Store) remove(order *OpenOrder) {
	key := ownerMarket{Owner: order.Owner, Market: order.Market}
	ids := s.index[key]
	for i, id := range ids {
		if id == order.ID {
			ids[i] = ids[len(ids)-1]
			ids = ids[:len(ids)-1]
			break
		}
	}
	if len(ids) == 0 {
		delete(s.index, key)
	} else {
		s.index[key] = ids
	}
	delete(s.orders, order.ID)
}

// OrderSnapshot is a serializable open order, used by persistence.
type OrderSnapshot struct {
	Owner                                    string `json:"owner"`
	Market                                   string `json:"market"`
	LowerTick                                int    `json:"lower_tick"`
	UpperTick                                int    `json:"upper_tick"`
	Liquidity                                string `json:"liquidity"`
	LastFeeGrowthInsideX128                  string `json:"last_fee_growth_inside_x128"`
	LastTwPremiumGrowthInsideX96             string `json:"last_tw_premium_growth_inside_x96"`
	LastTwPremiumGrowthBelowX96              string `json:"last_tw_premium_growth_below_x96"`
	LastTwPremiumDivSqrtPriceGrowthInsideX96 string `json:"last_tw_premium_div_sqrt_price_growth_inside_x96"`
}

// Snapshot exports every order.
func (s *Store) Snapshot() []OrderSnapshot {
	out := make([]OrderSnapshot, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, OrderSnapshot{
			Owner:                        o.Owner,
			Market:                       o.Market,
			LowerTick:                    o.LowerTick,
			UpperTick:                    o.UpperTick,
			Liquidity:                    o.Liquidity.Dec(),
			LastFeeGrowthInsideX128:      o.LastFeeGrowthInsideX128.Dec(),
			LastTwPremiumGrowthInsideX96: o.LastTwPremiumGrowthInsideX96.String(),
			LastTwPremiumGrowthBelowX96:  o.LastTwPremiumGrowthBelowX96.String(),
			LastTwPremiumDivSqrtPriceGrowthInsideX96: o.LastTwPremiumDivSqrtPriceGrowthInsideX96.String(),
		})
	}
	return out
}

// Restore recreates an order from a snapshot, bypassing the cap (restores
// replay state the cap already admitted).
func (s *Store) Restore(snap OrderSnapshot) error {
	liq, err := uint256.FromDecimal(snap.Liquidity)
	if err != nil {
		return fmt.Errorf("restore order liquidity: %w", err)
	}
	fee, err := uint256.FromDecimal(snap.LastFeeGrowthInsideX128)
	if err != nil {
		return fmt.Errorf("restore order fee snapshot: %w", err)
	}
	premium, ok := new(big.Int).SetString(snap.LastTwPremiumGrowthInsideX96, 10)
	if !ok {
		return fmt.Errorf("restore order premium snapshot: bad value %q", snap.LastTwPremiumGrowthInsideX96)
	}
	below, ok := new(big.Int).SetString(snap.LastTwPremiumGrowthBelowX96, 10)
	if !ok {
		return fmt.Errorf("restore order below snapshot: bad value %q", snap.LastTwPremiumGrowthBelowX96)
	}
	div, ok := new(big.Int).SetString(snap.LastTwPremiumDivSqrtPriceGrowthInsideX96, 10)
	if !ok {
		return fmt.Errorf("restore order premium-div snapshot: bad value %q", snap.LastTwPremiumDivSqrtPriceGrowthInsideX96)
	}

	id := OrderID(snap.Owner, snap.Market, snap.LowerTick, snap.UpperTick)
	if _, exists := s.orders[id]; exists {
		return fmt.Errorf("restore order: duplicate %s", id)
	}
	s.orders[id] = &OpenOrder{
		ID:                                       id,
		Owner:                                    snap.Owner,
		Market:                                   snap.Market,
		LowerTick:                                snap.LowerTick,
		UpperTick:                                snap.UpperTick,
		Liquidity:                                liq,
		LastFeeGrowthInsideX128:                  fee,
		LastTwPremiumGrowthInsideX96:             premium,
		LastTwPremiumGrowthBelowX96:              below,
		LastTwPremiumDivSqrtPriceGrowthInsideX96: div,
	}
	key := ownerMarket{Owner: snap.Owner, Market: snap.Market}
	s.index[key] = append(s.index[key], id)
	return nil
}
