package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MarketResponse describes a market's live pricing and fee state.
// Price fields are decimal-encoded Q64.96 sqrt values.
type MarketResponse struct {
	BaseAsset                string `json:"base_asset"`
	PoolID                   string `json:"pool_id"`
	CurrentTick              int    `json:"current_tick"`
	SqrtMarkPriceX96         string `json:"sqrt_mark_price_x96"`
	SqrtMarkPriceTWAPX96     string `json:"sqrt_mark_price_twap_x96"`
	TWAPIntervalSeconds      int64  `json:"twap_interval_seconds"`
	ExchangeFeeRatioPPM      uint32 `json:"exchange_fee_ratio_ppm"`
	InsuranceFundFeeRatioPPM uint32 `json:"insurance_fund_fee_ratio_ppm"`
}

// OrderResponse describes one open liquidity order.
type OrderResponse struct {
	OrderID   uuid.UUID `json:"order_id"`
	Owner     string    `json:"owner"`
	Market    string    `json:"market"`
	LowerTick int       `json:"lower_tick"`
	UpperTick int       `json:"upper_tick"`
	Liquidity string    `json:"liquidity"`
}

// OrdersResponse wraps a maker's open orders together with the position
// valuation at the current mark price.
type OrdersResponse struct {
	Owner      string          `json:"owner"`
	Market     string          `json:"market"`
	Orders     []OrderResponse `json:"orders"`
	TotalBase  string          `json:"total_base"`
	TotalQuote string          `json:"total_quote"`
}

// OperationEntry is one row of the append-only operation log.
type OperationEntry struct {
	ID        int64           `json:"id"`
	OpType    string          `json:"op_type"`
	Market    string          `json:"market"`
	Account   string          `json:"account"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
