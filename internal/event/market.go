package event

// MarketAdded records the registration of a new market against a pool.
type MarketAdded struct {
	Market     string `json:"market"`
	QuoteAsset string `json:"quote_asset"`
	PoolID     string `json:"pool_id"`
	FeePPM     uint32 `json:"fee_ppm"`
}

func (m *MarketAdded) EventType() EventType {
	return EventTypeMarketAdded
}

func (m *MarketAdded) MarketID() string {
	return m.Market
}
