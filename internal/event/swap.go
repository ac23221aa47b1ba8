package event

// Swapped records a completed taker swap. SignedBase and SignedQuote are
// the trader's token deltas: positive received, negative paid.
type Swapped struct {
	Market           string `json:"market"`
	Trader           string `json:"trader"`
	IsBaseToQuote    bool   `json:"is_base_to_quote"`
	SignedBase       string `json:"signed_base"`
	SignedQuote      string `json:"signed_quote"`
	Fee              string `json:"fee"`
	InsuranceFundFee string `json:"insurance_fund_fee"`
	SqrtPriceX96     string `json:"sqrt_price_x96"`
	Tick             int    `json:"tick"`
}

func (s *Swapped) EventType() EventType {
	return EventTypeSwapped
}

func (s *Swapped) MarketID() string {
	return s.Market
}
