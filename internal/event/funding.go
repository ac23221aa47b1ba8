package event

// FundingUpdated records a funding growth update for one maker: the new
// global accumulators and the resulting liquidity coefficient in the
// maker's funding payment.
type FundingUpdated struct {
	Market                   string `json:"market"`
	Maker                    string `json:"maker"`
	TwPremiumX96             string `json:"tw_premium_x96"`
	TwPremiumDivSqrtPriceX96 string `json:"tw_premium_div_sqrt_price_x96"`
	LiquidityCoefficientX96  string `json:"liquidity_coefficient_x96"`
}

func (f *FundingUpdated) EventType() EventType {
	return EventTypeFundingUpdated
}

func (f *FundingUpdated) MarketID() string {
	return f.Market
}
