// Package event defines the outbound event payloads the exchange emits
// after every state-changing operation. Numeric amounts are decimal
// strings because they routinely exceed int64.
package event

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMarketAdded
	EventTypeSwapped
	EventTypeLiquidityChanged
	EventTypeFundingUpdated
)

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// MarketID returns the market context
	MarketID() string
}

func (et EventType) String() string {
	switch et {
	case EventTypeMarketAdded:
		return "MarketAdded"
	case EventTypeSwapped:
		return "Swapped"
	case EventTypeLiquidityChanged:
		return "LiquidityChanged"
	case EventTypeFundingUpdated:
		return "FundingUpdated"
	default:
		return "Unknown"
	}
}
