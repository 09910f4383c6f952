package interfaces

import (
	"context"

	"extended-cli/internal/types"
)

// Exchange is the subset of the Extended trading API the CLI uses.
type Exchange interface {
	// Markets returns every market listed on the exchange
	Markets(ctx context.Context) ([]types.Market, error)

	// Positions returns open positions, optionally filtered by market names
	Positions(ctx context.Context, markets ...string) ([]types.Position, error)

	// PlaceOrder submits a limit order
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error)

	// MassCancel cancels open orders matching the request
	MassCancel(ctx context.Context, req types.MassCancelRequest) error

	// Close releases idle connections
	Close(ctx context.Context) error
}
