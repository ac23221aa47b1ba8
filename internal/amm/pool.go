// Package amm defines the boundary to the external concentrated-liquidity
// AMM that owns price discovery and token liquidity. The exchange engine
// treats the pool as a read-mostly source of truth for price, tick state and
// liquidity-net, and mirrors growth bookkeeping on top of it.
//
// MemPool is a complete in-memory pool used by tests and the local binary;
// production wires an adapter to the real AMM behind the same interface.
package amm

import (
	"encoding/hex"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"
)

// PoolID identifies one pool instance: blake3(quote || base || feePPM).
type PoolID [32]byte

// NewPoolID derives the pool identifier for a (quote, base, fee) triple.
func NewPoolID(quoteAsset, baseAsset string, feePPM uint32) PoolID {
	h := blake3.New()
	h.Write([]byte(quoteAsset))
	h.Write([]byte{0})
	h.Write([]byte(baseAsset))
	h.Write([]byte{0})
	h.Write([]byte{byte(feePPM >> 16), byte(feePPM >> 8), byte(feePPM)})
	var id PoolID
	h.Digest().Read(id[:])
	return id
}

// String renders the id as lowercase hex.
func (id PoolID) String() string {
	return hex.EncodeToString(id[:])
}

// MintResult reports the outcome of adding liquidity to a range.
// Base is token0, quote is token1.
type MintResult struct {
	Base  *uint256.Int
	Quote *uint256.Int

	// Native fee growth inside the range at call time, per token.
	FeeGrowthInsideBaseX128  *uint256.Int
	FeeGrowthInsideQuoteX128 *uint256.Int
}

// BurnResult reports the outcome of removing liquidity from a range.
type BurnResult struct {
	Base  *uint256.Int
	Quote *uint256.Int

	FeeGrowthInsideBaseX128  *uint256.Int
	FeeGrowthInsideQuoteX128 *uint256.Int
}

// SwapParams drives one pool swap. AmountSpecified is signed: positive is
// exact input, negative is exact output, in the input/output token selected
// by IsBaseToQuote.
type SwapParams struct {
	IsBaseToQuote     bool
	AmountSpecified   *big.Int
	SqrtPriceLimitX96 *uint256.Int
}

// SwapResult reports signed token deltas from the pool's perspective:
// positive means the pool received the token, negative means it paid out.
type SwapResult struct {
	Base  *big.Int
	Quote *big.Int

	SqrtPriceX96 *uint256.Int
	Tick         int
}

// MintCallback is invoked by the pool, mid-operation, to collect the tokens
// owed for a mint. Implementations must verify the reported pool identity
// against their own registry before trusting the amounts.
type MintCallback interface {
	PayMint(pool PoolID, base, quote *uint256.Int) error
}

// SwapCallback is the swap-side equivalent of MintCallback.
type SwapCallback interface {
	PaySwap(pool PoolID, base, quote *big.Int) error
}

// Pool is the surface the exchange consumes from the external AMM.
type Pool interface {
	ID() PoolID
	SqrtPriceX96() *uint256.Int
	CurrentTick() int
	Liquidity() *uint256.Int
	TickSpacing() int
	FeeRatioPPM() uint32

	IsTickInitialized(tick int) bool
	LiquidityNet(tick int) *big.Int

	// NextInitializedTickWithinOneWord searches one 256-tick bitmap word in
	// the given direction. lte searches at-or-below tick; otherwise strictly
	// above. The returned tick may be uninitialized when the word is empty.
	NextInitializedTickWithinOneWord(tick int, lte bool) (next int, initialized bool)

	Mint(recipient string, lower, upper int, liquidity *uint256.Int, cb MintCallback) (MintResult, error)
	Burn(owner string, lower, upper int, liquidity *uint256.Int) (BurnResult, error)
	Swap(params SwapParams, cb SwapCallback) (SwapResult, error)

	// MarkPriceTWAP returns the time-weighted average mark price (quote per
	// base, Q96) over the trailing interval.
	MarkPriceTWAP(intervalSeconds int64) (*uint256.Int, error)
}

// Factory resolves pools by their (quote, base, fee) key.
type Factory interface {
	Pool(quoteAsset, baseAsset string, feePPM uint32) (Pool, bool)
}
