// Package tickledger keeps the exchange's per-(market, tick) growth
// accumulators: fee growth (Q128, unsigned, wrapping) and two time-weighted
// funding-premium series (Q96, signed). It mirrors the standard two-sided
// "outside" accumulator convention: a tick's stored value means "growth on
// the other side of the current price", flipped on every crossing.
//
// The ledger never decides when a tick is tracked; initialization and
// clearing are driven by the orchestrator observing the AMM's
// tick-initialized flag around each liquidity mutation.
package tickledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"PerpExchange/internal/fixedpoint"
)

var ErrTickAlreadyTracked = errors.New("tick growth record already exists")

// Globals carries the market-level accumulators at one instant.
type Globals struct {
	FeeX128                  *uint256.Int
	TwPremiumX96             *big.Int
	TwPremiumDivSqrtPriceX96 *big.Int
}

// ZeroGlobals returns an all-zero Globals, the pre-initialization default.
func ZeroGlobals() Globals {
	return Globals{
		FeeX128:                  new(uint256.Int),
		TwPremiumX96:             new(big.Int),
		TwPremiumDivSqrtPriceX96: new(big.Int),
	}
}

// FundingGrowthRange is the result of an AllFundingGrowth query: both
// series inside the range, plus the first series' growth below the lower
// bound (consumed by the funding-coefficient calculation).
type FundingGrowthRange struct {
	TwPremiumInsideX96             *big.Int
	TwPremiumBelowX96              *big.Int
	TwPremiumDivSqrtPriceInsideX96 *big.Int
}

type recordKey struct {
	Market string
	Tick   int
}

type record struct {
	feeOutsideX128                  *uint256.Int
	twPremiumOutsideX96             *big.Int
	twPremiumDivSqrtPriceOutsideX96 *big.Int
}

// Ledger owns every market's tick growth records.
type Ledger struct {
	records map[recordKey]*record
}

func New() *Ledger {
	return &Ledger{records: make(map[recordKey]*record)}
}

// Initialize creates the record for a newly initialized AMM tick, seeding
// "outside" growth with the current globals when the tick is at or below
// the current price, zero otherwise. Exactly-once per initialization.
func (l *Ledger) Initialize(market string, tick, currentTick int, globals Globals) error {
	key := recordKey{Market: market, Tick: tick}
	if _, ok := l.records[key]; ok {
		return fmt.Errorf("%w: market=%s tick=%d", ErrTickAlreadyTracked, market, tick)
	}

	rec := &record{
		feeOutsideX128:                  new(uint256.Int),
		twPremiumOutsideX96:             new(big.Int),
		twPremiumDivSqrtPriceOutsideX96: new(big.Int),
	}
	if tick <= currentTick {
		rec.feeOutsideX128.Set(globals.FeeX128)
		rec.twPremiumOutsideX96.Set(globals.TwPremiumX96)
		rec.twPremiumDivSqrtPriceOutsideX96.Set(globals.TwPremiumDivSqrtPriceX96)
	}
	l.records[key] = rec
	return nil
}

// Clear deletes the record. The caller must have observed the paired AMM
// tick transition back to uninitialized.
func (l *Ledger) Clear(market string, tick int) {
	delete(l.records, recordKey{Market: market, Tick: tick})
}

// IsTracked reports whether a growth record exists for the tick.
func (l *Ledger) IsTracked(market string, tick int) bool {
	_, ok := l.records[recordKey{Market: market, Tick: tick}]
	return ok
}

// Cross flips every stored series to (global - outside). Must be called
// exactly once per price crossing, in swap order.
func (l *Ledger) Cross(market string, tick int, globals Globals) {
	key := recordKey{Market: market, Tick: tick}
	rec, ok := l.records[key]
	if !ok {
		// Untracked ticks read as zero outside growth; crossing one stores
		// the flip of that zero.
		rec = &record{
			feeOutsideX128:                  new(uint256.Int),
			twPremiumOutsideX96:             new(big.Int),
			twPremiumDivSqrtPriceOutsideX96: new(big.Int),
		}
		l.records[key] = rec
	}
	rec.feeOutsideX128 = fixedpoint.WrappingSub(globals.FeeX128, rec.feeOutsideX128)
	rec.twPremiumOutsideX96 = new(big.Int).Sub(globals.TwPremiumX96, rec.twPremiumOutsideX96)
	rec.twPremiumDivSqrtPriceOutsideX96 = new(big.Int).Sub(globals.TwPremiumDivSqrtPriceX96, rec.twPremiumDivSqrtPriceOutsideX96)
}

func (l *Ledger) outside(market string, tick int) *record {
	if rec, ok := l.records[recordKey{Market: market, Tick: tick}]; ok {
		return rec
	}
	return &record{
		feeOutsideX128:                  new(uint256.Int),
		twPremiumOutsideX96:             new(big.Int),
		twPremiumDivSqrtPriceOutsideX96: new(big.Int),
	}
}

// FeeGrowthInside returns the fee growth attributable to (lower, upper).
// All subtraction is modular: inside + below + above ≡ global (mod 2^256).
func (l *Ledger) FeeGrowthInside(market string, lower, upper, currentTick int, globalFeeX128 *uint256.Int) *uint256.Int {
	lowerRec := l.outside(market, lower)
	upperRec := l.outside(market, upper)

	below := lowerRec.feeOutsideX128
	if currentTick < lower {
		below = fixedpoint.WrappingSub(globalFeeX128, lowerRec.feeOutsideX128)
	}
	above := upperRec.feeOutsideX128
	if currentTick >= upper {
		above = fixedpoint.WrappingSub(globalFeeX128, upperRec.feeOutsideX128)
	}

	return fixedpoint.WrappingSub(fixedpoint.WrappingSub(globalFeeX128, below), above)
}

// AllFundingGrowth returns both funding series inside (lower, upper) and
// the first series' growth below the lower bound.
func (l *Ledger) AllFundingGrowth(market string, lower, upper, currentTick int, twPremiumX96, twPremiumDivSqrtPriceX96 *big.Int) FundingGrowthRange {
	lowerRec := l.outside(market, lower)
	upperRec := l.outside(market, upper)

	premiumBelow := new(big.Int).Set(lowerRec.twPremiumOutsideX96)
	divBelow := new(big.Int).Set(lowerRec.twPremiumDivSqrtPriceOutsideX96)
	if currentTick < lower {
		premiumBelow.Sub(twPremiumX96, lowerRec.twPremiumOutsideX96)
		divBelow.Sub(twPremiumDivSqrtPriceX96, lowerRec.twPremiumDivSqrtPriceOutsideX96)
	}

	premiumAbove := new(big.Int).Set(upperRec.twPremiumOutsideX96)
	divAbove := new(big.Int).Set(upperRec.twPremiumDivSqrtPriceOutsideX96)
	if currentTick >= upper {
		premiumAbove.Sub(twPremiumX96, upperRec.twPremiumOutsideX96)
		divAbove.Sub(twPremiumDivSqrtPriceX96, upperRec.twPremiumDivSqrtPriceOutsideX96)
	}

	premiumInside := new(big.Int).Sub(twPremiumX96, premiumBelow)
	premiumInside.Sub(premiumInside, premiumAbove)
	divInside := new(big.Int).Sub(twPremiumDivSqrtPriceX96, divBelow)
	divInside.Sub(divInside, divAbove)

	return FundingGrowthRange{
		TwPremiumInsideX96:             premiumInside,
		TwPremiumBelowX96:              premiumBelow,
		TwPremiumDivSqrtPriceInsideX96: divInside,
	}
}

// RecordSnapshot is a serializable growth record, used by persistence.
type RecordSnapshot struct {
	Market                          string `json:"market"`
	Tick                            int    `json:"tick"`
	FeeOutsideX128                  string `json:"fee_outside_x128"`
	TwPremiumOutsideX96             string `json:"tw_premium_outside_x96"`
	TwPremiumDivSqrtPriceOutsideX96 string `json:"tw_premium_div_sqrt_price_outside_x96"`
}

// Snapshot exports every record.
func (l *Ledger) Snapshot() []RecordSnapshot {
	out := make([]RecordSnapshot, 0, len(l.records))
	for key, rec := range l.records {
		out = append(out, RecordSnapshot{
			Market:                          key.Market,
			Tick:                            key.Tick,
			FeeOutsideX128:                  rec.feeOutsideX128.Dec(),
			TwPremiumOutsideX96:             rec.twPremiumOutsideX96.String(),
			TwPremiumDivSqrtPriceOutsideX96: rec.twPremiumDivSqrtPriceOutsideX96.String(),
		})
	}
	return out
}

// Restore replaces a record from a snapshot.
func (l *Ledger) Restore(snap RecordSnapshot) error {
	fee, err := uint256.FromDecimal(snap.FeeOutsideX128)
	if err != nil {
		return fmt.Errorf("restore tick record fee: %w", err)
	}
	premium, ok := new(big.Int).SetString(snap.TwPremiumOutsideX96, 10)
	if !ok {
		return fmt.Errorf("restore tick record premium: bad value %q", snap.TwPremiumOutsideX96)
	}
	div, ok := new(big.Int).SetString(snap.TwPremiumDivSqrtPriceOutsideX96, 10)
	if !ok {
		return fmt.Errorf("restore tick record premium-div: bad value %q", snap.TwPremiumDivSqrtPriceOutsideX96)
	}
	l.records[recordKey{Market: snap.Market, Tick: snap.Tick}] = &record{
		feeOutsideX128:                  fee,
		twPremiumOutsideX96:             premium,
		twPremiumDivSqrtPriceOutsideX96: div,
	}
	return nil
}
