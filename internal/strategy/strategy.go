package strategy

import (
	"context"
	"errors"

	"extended-cli/internal/interfaces"
	"extended-cli/internal/logger"
	"extended-cli/internal/tradelog"
	"extended-cli/internal/types"

	"github.com/shopspring/decimal"
)

var (
	ErrMarketNotFound    = errors.New("market trading configuration not found")
	ErrNoRealtimePrice   = errors.New("real-time price not available")
	ErrInvalidSide       = errors.New("invalid side")
	ErrBelowMinOrderSize = errors.New("quantity below minimum order size")
)

// Journal records submitted orders.
type Journal interface {
	Append(e tradelog.Entry) error
}

type Deps struct {
	Exchange interfaces.Exchange
	Catalog  interfaces.MarketCatalog
	Quotes   interfaces.QuoteSource
	Journal  Journal
	PostOnly bool
	Mode     string
}

// Base holds what every order strategy needs: the exchange, market metadata,
// live quotes and the order journal.
type Base struct {
	Deps
}

func (b *Base) marketInfo(ctx context.Context, market string) (types.Market, error) {
	m, err := b.Catalog.Market(ctx, market)
	if err != nil {
		return types.Market{}, errors.Join(ErrMarketNotFound, err)
	}
	if !m.Trading.Defined() {
		return types.Market{}, ErrMarketNotFound
	}
	return m, nil
}

// journal records the order. A journal failure never fails the order.
func (b *Base) journal(ctx context.Context, req types.OrderRequest, resp types.OrderResponse, reason string) {
	if b.Journal == nil {
		return
	}
	err := b.Journal.Append(tradelog.Entry{
		Market:     req.Market,
		Side:       string(req.Side),
		Qty:        req.Qty,
		Price:      req.Price,
		OrderID:    resp.ID,
		ExternalID: resp.ExternalID,
		Status:     resp.Status,
		Mode:       b.Mode,
		Reason:     reason,
	})
	if err != nil {
		logger.WarnWithErr(ctx, "Failed to journal order", err, "market", req.Market, "order_id", resp.ID)
	}
}

// Quantize rounds v half-to-even onto a multiple of step.
func Quantize(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).RoundBank(0).Mul(step)
}
