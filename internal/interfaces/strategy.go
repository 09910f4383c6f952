package interfaces

import (
	"context"

	"extended-cli/internal/types"

	"github.com/shopspring/decimal"
)

type Strategy interface {
	Execute(ctx context.Context, market string, side types.Side, amountUSD decimal.Decimal) (types.OrderResponse, error)
}
