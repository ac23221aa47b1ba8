package event

// LiquidityChanged records liquidity added to or removed from a range.
// Liquidity is signed: positive added, negative removed. Fee is the quote
// fee realized for the maker by this operation.
type LiquidityChanged struct {
	Market    string `json:"market"`
	Maker     string `json:"maker"`
	OrderID   string `json:"order_id"`
	LowerTick int    `json:"lower_tick"`
	UpperTick int    `json:"upper_tick"`
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	Liquidity string `json:"liquidity"`
	Fee       string `json:"fee"`
}

func (l *LiquidityChanged) EventType() EventType {
	return EventTypeLiquidityChanged
}

func (l *LiquidityChanged) MarketID() string {
	return l.Market
}
