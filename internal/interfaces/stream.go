package interfaces

import (
	"context"

	"extended-cli/internal/types"
)

// QuoteSource returns the latest top of book for a market.
type QuoteSource interface {
	BestBidAsk(market string) (types.Quote, bool)
}

// MarketDataProvider manages realtime order book streams.
type MarketDataProvider interface {
	QuoteSource

	// StartStreams ensures a listener runs for each market and returns the
	// markets whose listener was newly started
	StartStreams(ctx context.Context, markets []string) []string

	// StopStreams stops the listeners of the given markets
	StopStreams(markets []string)

	// CloseStreams stops every listener and clears all quotes
	CloseStreams()

	// ActiveStreams lists markets currently marked active
	ActiveStreams() []string
}
