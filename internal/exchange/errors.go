package exchange

import "errors"

// Every failure is fail-fast and aborts the whole operation with no partial
// state mutation; the position ledger decides whether to retry with
// different parameters.
var (
	// Authorization.
	ErrNotAdmin          = errors.New("caller is not the admin")
	ErrNotPositionLedger = errors.New("caller is not the position ledger")
	ErrCallbackNotPool   = errors.New("callback does not originate from the market's pool")

	// Configuration.
	ErrMarketExists       = errors.New("market already registered")
	ErrMarketNotFound     = errors.New("market not registered")
	ErrPoolNotFound       = errors.New("no pool for (quote, base, fee)")
	ErrPoolNotInitialized = errors.New("pool has no price yet")
	ErrInvalidFeeRatio    = errors.New("fee ratio out of range")

	// State.
	ErrZeroLiquidity = errors.New("amounts produce zero liquidity")
)
