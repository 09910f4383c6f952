package strategy

import (
	"context"
	"fmt"
	"strings"

	"extended-cli/internal/interfaces"
	"extended-cli/internal/logger"
	"extended-cli/internal/trace"
	"extended-cli/internal/types"

	"github.com/shopspring/decimal"
)

// BestOrder joins the top of the book: a BUY rests at the best bid and a
// SELL at the best ask, sized from a USD amount.
type BestOrder struct {
	Base
}

var _ interfaces.Strategy = (*BestOrder)(nil)

func NewBestOrder(deps Deps) *BestOrder {
	return &BestOrder{Base{Deps: deps}}
}

func (s *BestOrder) Execute(ctx context.Context, market string, side types.Side, amountUSD decimal.Decimal) (types.OrderResponse, error) {
	ctx, span := trace.StartSpan(ctx, "strategy.BestOrder")
	defer span.End()

	market = strings.ToUpper(market)
	if side != types.SideBuy && side != types.SideSell {
		return types.OrderResponse{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if amountUSD.Sign() <= 0 {
		return types.OrderResponse{}, fmt.Errorf("amount must be positive, got %s", amountUSD)
	}

	m, err := s.marketInfo(ctx, market)
	if err != nil {
		logger.Error(ctx, "Market trading configuration not found", "market", market)
		return types.OrderResponse{}, err
	}

	q, ok := s.Quotes.BestBidAsk(market)
	if !ok {
		logger.Error(ctx, "Real-time price data not available", "market", market)
		return types.OrderResponse{}, fmt.Errorf("%w for %s", ErrNoRealtimePrice, market)
	}
	price := q.BidPrice
	if side == types.SideSell {
		price = q.AskPrice
	}
	if price.Sign() <= 0 {
		logger.Error(ctx, "Real-time price missing for side", "market", market, "side", side)
		return types.OrderResponse{}, fmt.Errorf("%w for %s %s", ErrNoRealtimePrice, market, side)
	}

	qty := Quantize(amountUSD.Div(price), m.Trading.MinOrderSizeChange)
	if qty.Sign() <= 0 || qty.LessThan(m.Trading.MinOrderSize) {
		logger.Error(ctx, "Calculated quantity below minimum order size",
			"market", market, "qty", qty.String(), "min", m.Trading.MinOrderSize.String())
		return types.OrderResponse{}, fmt.Errorf("%w: %s < %s", ErrBelowMinOrderSize, qty, m.Trading.MinOrderSize)
	}

	req := types.OrderRequest{
		Market:   market,
		Side:     side,
		Qty:      qty,
		Price:    price,
		PostOnly: s.PostOnly,
	}
	logger.Debug(ctx, "Placing best order", "market", market, "side", side, "qty", qty.String(), "price", price.String())

	resp, err := s.Exchange.PlaceOrder(ctx, req)
	if err != nil {
		return types.OrderResponse{}, fmt.Errorf("place %s order on %s: %w", side, market, err)
	}

	s.journal(ctx, req, resp, "BEST_ORDER")
	logger.Info(ctx, "Best order placed", "market", market, "order_id", resp.ID)
	return resp, nil
}
