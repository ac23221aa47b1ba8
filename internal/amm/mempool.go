package amm

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"PerpExchange/internal/fixedpoint"
)

var (
	ErrPoolNotInitialized     = errors.New("pool not price-initialized")
	ErrPoolAlreadyInitialized = errors.New("pool already initialized")
	ErrZeroLiquidity          = errors.New("zero liquidity delta")
	ErrInvalidTickRange       = errors.New("invalid tick range")
	ErrInvalidSqrtPrice       = errors.New("sqrt price out of range")
	ErrPositionNotFound       = errors.New("position not found")
	ErrPositionLiquidity      = errors.New("position has less liquidity than requested")
	ErrZeroAmount             = errors.New("zero swap amount")
	ErrNoObservations         = errors.New("no price observations")
)

type tickInfo struct {
	liquidityGross            *uint256.Int
	liquidityNet              *big.Int
	feeGrowthOutsideBaseX128  *uint256.Int
	feeGrowthOutsideQuoteX128 *uint256.Int
}

type observation struct {
	timestamp    int64
	markPriceX96 *uint256.Int
}

const observationRingSize = 512

// MemPool is an in-memory concentrated-liquidity pool implementing Pool.
// It follows the external AMM's semantics exactly: tick bitmap search,
// per-tick signed liquidity-net, two-sided fee-growth-outside accumulators
// and round-in-the-pool's-favor swap pricing.
type MemPool struct {
	id          PoolID
	baseAsset   string
	quoteAsset  string
	feePPM      uint32
	tickSpacing int

	initialized  bool
	sqrtPriceX96 *uint256.Int
	tick         int
	liquidity    *uint256.Int

	feeGrowthGlobalBaseX128  *uint256.Int
	feeGrowthGlobalQuoteX128 *uint256.Int

	ticks     map[int]*tickInfo
	bitmap    *TickBitmap
	positions map[string]*uint256.Int // owner:lower:upper -> liquidity

	observations []observation
	obsNext      int
	now          func() int64
}

// NewMemPool creates an uninitialized pool. The clock feeds mark-price
// observations; pass nil for wall-clock time.
func NewMemPool(quoteAsset, baseAsset string, feePPM uint32, tickSpacing int, now func() int64) *MemPool {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &MemPool{
		id:                       NewPoolID(quoteAsset, baseAsset, feePPM),
		baseAsset:                baseAsset,
		quoteAsset:               quoteAsset,
		feePPM:                   feePPM,
		tickSpacing:              tickSpacing,
		sqrtPriceX96:             new(uint256.Int),
		liquidity:                new(uint256.Int),
		feeGrowthGlobalBaseX128:  new(uint256.Int),
		feeGrowthGlobalQuoteX128: new(uint256.Int),
		ticks:                    make(map[int]*tickInfo),
		bitmap:                   NewTickBitmap(),
		positions:                make(map[string]*uint256.Int),
		observations:             make([]observation, 0, observationRingSize),
		now:                      now,
	}
}

// Initialize sets the starting price. Exactly-once.
func (p *MemPool) Initialize(sqrtPriceX96 *uint256.Int) error {
	if p.initialized {
		return ErrPoolAlreadyInitialized
	}
	if sqrtPriceX96.Lt(fixedpoint.MinSqrtRatio) || !sqrtPriceX96.Lt(fixedpoint.MaxSqrtRatio) {
		return ErrInvalidSqrtPrice
	}
	tick, err := fixedpoint.TickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return err
	}
	p.sqrtPriceX96 = new(uint256.Int).Set(sqrtPriceX96)
	p.tick = tick
	p.initialized = true
	p.recordObservation()
	return nil
}

func (p *MemPool) ID() PoolID                 { return p.id }
func (p *MemPool) SqrtPriceX96() *uint256.Int { return new(uint256.Int).Set(p.sqrtPriceX96) }
func (p *MemPool) CurrentTick() int           { return p.tick }
func (p *MemPool) Liquidity() *uint256.Int    { return new(uint256.Int).Set(p.liquidity) }
func (p *MemPool) TickSpacing() int           { return p.tickSpacing }
func (p *MemPool) FeeRatioPPM() uint32        { return p.feePPM }
func (p *MemPool) IsInitialized() bool        { return p.initialized }

func (p *MemPool) IsTickInitialized(tick int) bool {
	return p.bitmap.IsInitialized(tick, p.tickSpacing)
}

func (p *MemPool) LiquidityNet(tick int) *big.Int {
	info, ok := p.ticks[tick]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(info.liquidityNet)
}

func (p *MemPool) NextInitializedTickWithinOneWord(tick int, lte bool) (int, bool) {
	return p.bitmap.NextInitializedTickWithinOneWord(tick, p.tickSpacing, lte)
}

func positionKey(owner string, lower, upper int) string {
	return fmt.Sprintf("%s:%d:%d", owner, lower, upper)
}

// PositionLiquidity reports the pool-side liquidity of a position.
func (p *MemPool) PositionLiquidity(owner string, lower, upper int) *uint256.Int {
	liq, ok := p.positions[positionKey(owner, lower, upper)]
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(liq)
}

func (p *MemPool) checkTicks(lower, upper int) error {
	if lower >= upper || lower < fixedpoint.MinTick || upper > fixedpoint.MaxTick {
		return ErrInvalidTickRange
	}
	if lower%p.tickSpacing != 0 || upper%p.tickSpacing != 0 {
		return fmt.Errorf("%w: ticks must be multiples of spacing %d", ErrInvalidTickRange, p.tickSpacing)
	}
	return nil
}

// updateTick folds a liquidity delta into a tick, returning whether the
// tick flipped between initialized and uninitialized.
func (p *MemPool) updateTick(tick int, delta *big.Int, isUpper bool) bool {
	info, ok := p.ticks[tick]
	if !ok {
		info = &tickInfo{
			liquidityGross:            new(uint256.Int),
			liquidityNet:              new(big.Int),
			feeGrowthOutsideBaseX128:  new(uint256.Int),
			feeGrowthOutsideQuoteX128: new(uint256.Int),
		}
		p.ticks[tick] = info
	}

	grossBefore := info.liquidityGross.IsZero()

	absDelta, _ := uint256.FromBig(new(big.Int).Abs(delta))
	if delta.Sign() >= 0 {
		info.liquidityGross.Add(info.liquidityGross, absDelta)
	} else {
		if info.liquidityGross.Lt(absDelta) {
			panic("FATAL: tick liquidityGross underflow")
		}
		info.liquidityGross.Sub(info.liquidityGross, absDelta)
	}

	if isUpper {
		info.liquidityNet.Sub(info.liquidityNet, delta)
	} else {
		info.liquidityNet.Add(info.liquidityNet, delta)
	}

	grossAfter := info.liquidityGross.IsZero()
	flipped := grossBefore != grossAfter

	if flipped {
		p.bitmap.FlipTick(tick, p.tickSpacing)
		if grossBefore {
			// First initialization: growth below the current price counts
			// as "outside", growth above starts at zero.
			if tick <= p.tick {
				info.feeGrowthOutsideBaseX128.Set(p.feeGrowthGlobalBaseX128)
				info.feeGrowthOutsideQuoteX128.Set(p.feeGrowthGlobalQuoteX128)
			}
		}
	}
	if grossAfter {
		delete(p.ticks, tick)
	}
	return flipped
}

func (p *MemPool) feeGrowthInside(lower, upper int) (base, quote *uint256.Int) {
	lowerOutsideBase, lowerOutsideQuote := new(uint256.Int), new(uint256.Int)
	if info, ok := p.ticks[lower]; ok {
		lowerOutsideBase.Set(info.feeGrowthOutsideBaseX128)
		lowerOutsideQuote.Set(info.feeGrowthOutsideQuoteX128)
	}
	upperOutsideBase, upperOutsideQuote := new(uint256.Int), new(uint256.Int)
	if info, ok := p.ticks[upper]; ok {
		upperOutsideBase.Set(info.feeGrowthOutsideBaseX128)
		upperOutsideQuote.Set(info.feeGrowthOutsideQuoteX128)
	}

	belowBase, belowQuote := lowerOutsideBase, lowerOutsideQuote
	if p.tick < lower {
		belowBase = fixedpoint.WrappingSub(p.feeGrowthGlobalBaseX128, lowerOutsideBase)
		belowQuote = fixedpoint.WrappingSub(p.feeGrowthGlobalQuoteX128, lowerOutsideQuote)
	}
	aboveBase, aboveQuote := upperOutsideBase, upperOutsideQuote
	if p.tick >= upper {
		aboveBase = fixedpoint.WrappingSub(p.feeGrowthGlobalBaseX128, upperOutsideBase)
		aboveQuote = fixedpoint.WrappingSub(p.feeGrowthGlobalQuoteX128, upperOutsideQuote)
	}

	base = fixedpoint.WrappingSub(fixedpoint.WrappingSub(p.feeGrowthGlobalBaseX128, belowBase), aboveBase)
	quote = fixedpoint.WrappingSub(fixedpoint.WrappingSub(p.feeGrowthGlobalQuoteX128, belowQuote), aboveQuote)
	return base, quote
}

// Mint adds liquidity over [lower, upper], invoking the callback to collect
// the owed tokens before returning.
func (p *MemPool) Mint(recipient string, lower, upper int, liquidity *uint256.Int, cb MintCallback) (MintResult, error) {
	if !p.initialized {
		return MintResult{}, ErrPoolNotInitialized
	}
	if err := p.checkTicks(lower, upper); err != nil {
		return MintResult{}, err
	}
	if liquidity.IsZero() {
		return MintResult{}, ErrZeroLiquidity
	}

	sqrtLower, err := fixedpoint.SqrtRatioAtTick(lower)
	if err != nil {
		return MintResult{}, err
	}
	sqrtUpper, err := fixedpoint.SqrtRatioAtTick(upper)
	if err != nil {
		return MintResult{}, err
	}

	base, quote := new(uint256.Int), new(uint256.Int)
	switch {
	case p.tick < lower:
		base = Amount0Delta(sqrtLower, sqrtUpper, liquidity, true)
	case p.tick < upper:
		base = Amount0Delta(p.sqrtPriceX96, sqrtUpper, liquidity, true)
		quote = Amount1Delta(sqrtLower, p.sqrtPriceX96, liquidity, true)
	default:
		quote = Amount1Delta(sqrtLower, sqrtUpper, liquidity, true)
	}

	delta := liquidity.ToBig()
	p.updateTick(lower, delta, false)
	p.updateTick(upper, delta, true)

	if p.tick >= lower && p.tick < upper {
		p.liquidity.Add(p.liquidity, liquidity)
	}

	key := positionKey(recipient, lower, upper)
	pos, ok := p.positions[key]
	if !ok {
		pos = new(uint256.Int)
		p.positions[key] = pos
	}
	pos.Add(pos, liquidity)

	if cb != nil {
		if err := cb.PayMint(p.id, base, quote); err != nil {
			return MintResult{}, fmt.Errorf("mint callback: %w", err)
		}
	}

	insideBase, insideQuote := p.feeGrowthInside(lower, upper)
	p.recordObservation()

	return MintResult{
		Base:                     base,
		Quote:                    quote,
		FeeGrowthInsideBaseX128:  insideBase,
		FeeGrowthInsideQuoteX128: insideQuote,
	}, nil
}

// Burn removes liquidity from a position, returning the freed amounts.
func (p *MemPool) Burn(owner string, lower, upper int, liquidity *uint256.Int) (BurnResult, error) {
	if !p.initialized {
		return BurnResult{}, ErrPoolNotInitialized
	}
	if err := p.checkTicks(lower, upper); err != nil {
		return BurnResult{}, err
	}
	if liquidity.IsZero() {
		return BurnResult{}, ErrZeroLiquidity
	}

	key := positionKey(owner, lower, upper)
	pos, ok := p.positions[key]
	if !ok {
		return BurnResult{}, ErrPositionNotFound
	}
	if pos.Lt(liquidity) {
		return BurnResult{}, ErrPositionLiquidity
	}

	sqrtLower, err := fixedpoint.SqrtRatioAtTick(lower)
	if err != nil {
		return BurnResult{}, err
	}
	sqrtUpper, err := fixedpoint.SqrtRatioAtTick(upper)
	if err != nil {
		return BurnResult{}, err
	}

	base, quote := new(uint256.Int), new(uint256.Int)
	switch {
	case p.tick < lower:
		base = Amount0Delta(sqrtLower, sqrtUpper, liquidity, false)
	case p.tick < upper:
		base = Amount0Delta(p.sqrtPriceX96, sqrtUpper, liquidity, false)
		quote = Amount1Delta(sqrtLower, p.sqrtPriceX96, liquidity, false)
	default:
		quote = Amount1Delta(sqrtLower, sqrtUpper, liquidity, false)
	}

	insideBase, insideQuote := p.feeGrowthInside(lower, upper)

	delta := new(big.Int).Neg(liquidity.ToBig())
	p.updateTick(lower, delta, false)
	p.updateTick(upper, delta, true)

	if p.tick >= lower && p.tick < upper {
		if p.liquidity.Lt(liquidity) {
			panic("FATAL: active liquidity underflow on burn")
		}
		p.liquidity.Sub(p.liquidity, liquidity)
	}

	pos.Sub(pos, liquidity)
	if pos.IsZero() {
		delete(p.positions, key)
	}
	p.recordObservation()

	return BurnResult{
		Base:                     base,
		Quote:                    quote,
		FeeGrowthInsideBaseX128:  insideBase,
		FeeGrowthInsideQuoteX128: insideQuote,
	}, nil
}

// Swap walks the tick structure with the pool's native fee, mutating price,
// tick, active liquidity and fee growth. Deltas are from the pool's
// perspective: positive received, negative paid out.
func (p *MemPool) Swap(params SwapParams, cb SwapCallback) (SwapResult, error) {
	if !p.initialized {
		return SwapResult{}, ErrPoolNotInitialized
	}
	if params.AmountSpecified == nil || params.AmountSpecified.Sign() == 0 {
		return SwapResult{}, ErrZeroAmount
	}

	limit := params.SqrtPriceLimitX96
	if limit == nil || limit.IsZero() {
		if params.IsBaseToQuote {
			limit = new(uint256.Int).AddUint64(fixedpoint.MinSqrtRatio, 1)
		} else {
			limit = new(uint256.Int).SubUint64(fixedpoint.MaxSqrtRatio, 1)
		}
	}
	if params.IsBaseToQuote {
		if !limit.Lt(p.sqrtPriceX96) || limit.Lt(fixedpoint.MinSqrtRatio) {
			return SwapResult{}, ErrInvalidSqrtPrice
		}
	} else {
		if !p.sqrtPriceX96.Lt(limit) || !limit.Lt(fixedpoint.MaxSqrtRatio) {
			return SwapResult{}, ErrInvalidSqrtPrice
		}
	}

	exactInput := params.AmountSpecified.Sign() > 0
	remaining := new(big.Int).Set(params.AmountSpecified)
	calculated := new(big.Int)

	sqrtPrice := new(uint256.Int).Set(p.sqrtPriceX96)
	tick := p.tick
	liquidity := new(uint256.Int).Set(p.liquidity)

	feeGrowthGlobal := p.feeGrowthGlobalQuoteX128
	if params.IsBaseToQuote {
		feeGrowthGlobal = p.feeGrowthGlobalBaseX128
	}
	feeGrowth := new(uint256.Int).Set(feeGrowthGlobal)

	for remaining.Sign() != 0 && !sqrtPrice.Eq(limit) {
		next, initialized := p.bitmap.NextInitializedTickWithinOneWord(tick, p.tickSpacing, params.IsBaseToQuote)
		if next < fixedpoint.MinTick {
			next = fixedpoint.MinTick
		} else if next > fixedpoint.MaxTick {
			next = fixedpoint.MaxTick
		}

		sqrtNext, err := fixedpoint.SqrtRatioAtTick(next)
		if err != nil {
			return SwapResult{}, err
		}

		target := sqrtNext
		if params.IsBaseToQuote {
			if sqrtNext.Lt(limit) {
				target = limit
			}
		} else {
			if limit.Lt(sqrtNext) {
				target = limit
			}
		}

		step := ComputeSwapStep(sqrtPrice, target, liquidity, remaining, p.feePPM)
		sqrtPrice = step.SqrtPriceNextX96

		if exactInput {
			consumed := new(big.Int).Add(step.AmountIn.ToBig(), step.FeeAmount.ToBig())
			remaining.Sub(remaining, consumed)
			calculated.Sub(calculated, step.AmountOut.ToBig())
		} else {
			remaining.Add(remaining, step.AmountOut.ToBig())
			calculated.Add(calculated, new(big.Int).Add(step.AmountIn.ToBig(), step.FeeAmount.ToBig()))
		}

		if !liquidity.IsZero() && !step.FeeAmount.IsZero() {
			feeGrowth.Add(feeGrowth, fixedpoint.MulDiv(step.FeeAmount, fixedpoint.Q128, liquidity))
		}

		if sqrtPrice.Eq(sqrtNext) {
			if initialized {
				p.crossTick(next, feeGrowth, params.IsBaseToQuote)
				net := p.LiquidityNet(next)
				if params.IsBaseToQuote {
					net.Neg(net)
				}
				liquidity = applyLiquidityNet(liquidity, net)
			}
			if params.IsBaseToQuote {
				tick = next - 1
			} else {
				tick = next
			}
		} else if !sqrtPrice.Eq(p.sqrtPriceX96) {
			tick, err = fixedpoint.TickAtSqrtRatio(sqrtPrice)
			if err != nil {
				return SwapResult{}, err
			}
		}
	}

	p.sqrtPriceX96 = sqrtPrice
	p.tick = tick
	p.liquidity = liquidity
	if params.IsBaseToQuote {
		p.feeGrowthGlobalBaseX128 = feeGrowth
	} else {
		p.feeGrowthGlobalQuoteX128 = feeGrowth
	}

	specified := new(big.Int).Sub(params.AmountSpecified, remaining)

	var baseDelta, quoteDelta *big.Int
	if params.IsBaseToQuote == exactInput {
		baseDelta, quoteDelta = specified, calculated
	} else {
		baseDelta, quoteDelta = calculated, specified
	}

	if cb != nil {
		if err := cb.PaySwap(p.id, baseDelta, quoteDelta); err != nil {
			return SwapResult{}, fmt.Errorf("swap callback: %w", err)
		}
	}
	p.recordObservation()

	return SwapResult{
		Base:         baseDelta,
		Quote:        quoteDelta,
		SqrtPriceX96: new(uint256.Int).Set(sqrtPrice),
		Tick:         tick,
	}, nil
}

func (p *MemPool) crossTick(tick int, feeGrowthGlobal *uint256.Int, baseToQuote bool) {
	info, ok := p.ticks[tick]
	if !ok {
		return
	}
	if baseToQuote {
		info.feeGrowthOutsideBaseX128 = fixedpoint.WrappingSub(feeGrowthGlobal, info.feeGrowthOutsideBaseX128)
		info.feeGrowthOutsideQuoteX128 = fixedpoint.WrappingSub(p.feeGrowthGlobalQuoteX128, info.feeGrowthOutsideQuoteX128)
	} else {
		info.feeGrowthOutsideBaseX128 = fixedpoint.WrappingSub(p.feeGrowthGlobalBaseX128, info.feeGrowthOutsideBaseX128)
		info.feeGrowthOutsideQuoteX128 = fixedpoint.WrappingSub(feeGrowthGlobal, info.feeGrowthOutsideQuoteX128)
	}
}

func applyLiquidityNet(liquidity *uint256.Int, net *big.Int) *uint256.Int {
	result := new(big.Int).Add(liquidity.ToBig(), net)
	if result.Sign() < 0 {
		panic("FATAL: active liquidity went negative crossing tick")
	}
	out, _ := uint256.FromBig(result)
	return out
}

func (p *MemPool) recordObservation() {
	// mark price (quote per base, Q96) = sqrtPrice^2 >> 96
	price := fixedpoint.MulDiv(p.sqrtPriceX96, p.sqrtPriceX96, fixedpoint.Q96)
	obs := observation{timestamp: p.now(), markPriceX96: price}

	if len(p.observations) < observationRingSize {
		p.observations = append(p.observations, obs)
		p.obsNext = len(p.observations) % observationRingSize
		return
	}
	p.observations[p.obsNext] = obs
	p.obsNext = (p.obsNext + 1) % observationRingSize
}

// MarkPriceTWAP computes the time-weighted average mark price over the
// trailing interval. An interval of zero returns the spot mark price.
func (p *MemPool) MarkPriceTWAP(intervalSeconds int64) (*uint256.Int, error) {
	if !p.initialized {
		return nil, ErrPoolNotInitialized
	}
	spot := fixedpoint.MulDiv(p.sqrtPriceX96, p.sqrtPriceX96, fixedpoint.Q96)
	if intervalSeconds <= 0 || len(p.observations) == 0 {
		return spot, nil
	}

	nowTs := p.now()
	cutoff := nowTs - intervalSeconds

	// Chronological order of the ring.
	ordered := make([]observation, 0, len(p.observations))
	if len(p.observations) < observationRingSize {
		ordered = append(ordered, p.observations...)
	} else {
		ordered = append(ordered, p.observations[p.obsNext:]...)
		ordered = append(ordered, p.observations[:p.obsNext]...)
	}

	weighted := new(big.Int)
	var covered int64
	prevTs := nowTs
	// Walk backwards: each observation's price holds from its timestamp
	// until the next one.
	for i := len(ordered) - 1; i >= 0 && covered < intervalSeconds; i-- {
		obs := ordered[i]
		from := obs.timestamp
		if from < cutoff {
			from = cutoff
		}
		dt := prevTs - from
		if dt > 0 {
			weighted.Add(weighted, new(big.Int).Mul(obs.markPriceX96.ToBig(), big.NewInt(dt)))
			covered += dt
		}
		prevTs = obs.timestamp
		if obs.timestamp <= cutoff {
			break
		}
	}
	if covered == 0 {
		return spot, nil
	}
	weighted.Div(weighted, big.NewInt(covered))
	out, _ := uint256.FromBig(weighted)
	return out, nil
}

// MemFactory is an in-memory pool registry keyed like the external AMM's
// factory: (quote, base, fee).
type MemFactory struct {
	pools map[PoolID]*MemPool
	now   func() int64
}

func NewMemFactory(now func() int64) *MemFactory {
	return &MemFactory{pools: make(map[PoolID]*MemPool), now: now}
}

// CreatePool registers a new pool for the triple; idempotent lookup via Pool.
func (f *MemFactory) CreatePool(quoteAsset, baseAsset string, feePPM uint32, tickSpacing int) *MemPool {
	id := NewPoolID(quoteAsset, baseAsset, feePPM)
	if pool, ok := f.pools[id]; ok {
		return pool
	}
	pool := NewMemPool(quoteAsset, baseAsset, feePPM, tickSpacing, f.now)
	f.pools[id] = pool
	return pool
}

func (f *MemFactory) Pool(quoteAsset, baseAsset string, feePPM uint32) (Pool, bool) {
	pool, ok := f.pools[NewPoolID(quoteAsset, baseAsset, feePPM)]
	if !ok {
		return nil, false
	}
	return pool, true
}
