package interfaces

import (
	"context"

	"extended-cli/internal/types"
)

// MarketCatalog serves cached market metadata.
type MarketCatalog interface {
	Market(ctx context.Context, name string) (types.Market, error)
	Markets(ctx context.Context, topN int) ([]types.Market, error)
}
