package exchangeobs

import (
	"context"

	"extended-cli/internal/interfaces"
	"extended-cli/internal/logger"
	"extended-cli/internal/trace"
	"extended-cli/internal/types"
)

// observableExchange wraps an Exchange with logging and tracing
type observableExchange struct {
	exchange interfaces.Exchange
}

// Compile-time interface check
var _ interfaces.Exchange = (*observableExchange)(nil)

// Wrap wraps an exchange with observability middleware
func Wrap(exchange interfaces.Exchange) interfaces.Exchange {
	return &observableExchange{exchange: exchange}
}

// Markets fetches the market list with observability
func (oe *observableExchange) Markets(ctx context.Context) ([]types.Market, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.Markets")
	defer span.End()

	logger.Debug(ctx, "Fetching markets")

	markets, err := oe.exchange.Markets(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch markets", err)
		return nil, err
	}

	logger.Debug(ctx, "Markets fetched successfully", "count", len(markets))
	return markets, nil
}

// Positions fetches open positions with observability
func (oe *observableExchange) Positions(ctx context.Context, markets ...string) ([]types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.Positions")
	defer span.End()

	logger.Debug(ctx, "Fetching positions", "markets", markets)

	positions, err := oe.exchange.Positions(ctx, markets...)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch positions", err, "markets", markets)
		return nil, err
	}

	logger.Debug(ctx, "Positions fetched successfully", "count", len(positions))
	return positions, nil
}

// PlaceOrder places an order with observability
func (oe *observableExchange) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.PlaceOrder")
	defer span.End()

	logger.Info(ctx, "Placing order",
		"market", req.Market,
		"side", req.Side,
		"qty", req.Qty.String(),
		"price", req.Price.String(),
		"post_only", req.PostOnly,
	)

	resp, err := oe.exchange.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to place order", err,
			"market", req.Market,
			"side", req.Side,
			"qty", req.Qty.String(),
		)
		return types.OrderResponse{}, err
	}

	logger.Order(ctx, req.Market, string(req.Side), req.Qty.String(), req.Price.String(), resp.ID,
		"external_id", resp.ExternalID,
		"status", resp.Status,
	)
	return resp, nil
}

// MassCancel cancels orders with observability
func (oe *observableExchange) MassCancel(ctx context.Context, req types.MassCancelRequest) error {
	ctx, span := trace.StartSpan(ctx, "exchange.MassCancel")
	defer span.End()

	logger.Info(ctx, "Cancelling orders", "cancel_all", req.CancelAll, "markets", req.Markets)

	if err := oe.exchange.MassCancel(ctx, req); err != nil {
		logger.ErrorWithErr(ctx, "Failed to cancel orders", err, "cancel_all", req.CancelAll)
		return err
	}

	logger.Info(ctx, "Orders cancelled successfully")
	return nil
}

// Close releases the exchange with observability
func (oe *observableExchange) Close(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "exchange.Close")
	defer span.End()

	logger.Info(ctx, "Closing exchange client")
	return oe.exchange.Close(ctx)
}
