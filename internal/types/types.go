package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts the prompt shorthands BB (best bid, buy) and BA (best
// ask, sell) as well as the plain side names.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "bb", "buy":
		return SideBuy, nil
	case "ba", "sell":
		return SideSell, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

type MarketStats struct {
	DailyVolume      decimal.Decimal `json:"dailyVolume"`
	DailyVolumeBase  decimal.Decimal `json:"dailyVolumeBase"`
	DailyPriceChange decimal.Decimal `json:"dailyPriceChange"`
	LastPrice        decimal.Decimal `json:"lastPrice"`
	BidPrice         decimal.Decimal `json:"bidPrice"`
	AskPrice         decimal.Decimal `json:"askPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	IndexPrice       decimal.Decimal `json:"indexPrice"`
	FundingRate      decimal.Decimal `json:"fundingRate"`
	OpenInterest     decimal.Decimal `json:"openInterest"`
}

type TradingConfig struct {
	MinOrderSize       decimal.Decimal `json:"minOrderSize"`
	MinOrderSizeChange decimal.Decimal `json:"minOrderSizeChange"`
	MinPriceChange     decimal.Decimal `json:"minPriceChange"`
	MaxLimitOrderValue decimal.Decimal `json:"maxLimitOrderValue"`
	MaxPositionValue   decimal.Decimal `json:"maxPositionValue"`
	MaxLeverage        decimal.Decimal `json:"maxLeverage"`
}

// Defined reports whether the exchange sent a usable trading config.
func (tc TradingConfig) Defined() bool {
	return tc.MinOrderSizeChange.Sign() > 0
}

type Market struct {
	Name                string        `json:"name"`
	AssetName           string        `json:"assetName"`
	CollateralAssetName string        `json:"collateralAssetName"`
	Active              bool          `json:"active"`
	Stats               MarketStats   `json:"marketStats"`
	Trading             TradingConfig `json:"tradingConfig"`
}

type Position struct {
	ID               int64           `json:"id"`
	Market           string          `json:"market"`
	Side             string          `json:"side"`
	Leverage         decimal.Decimal `json:"leverage"`
	Size             decimal.Decimal `json:"size"`
	Value            decimal.Decimal `json:"value"`
	OpenPrice        decimal.Decimal `json:"openPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	UnrealisedPnl    decimal.Decimal `json:"unrealisedPnl"`
	RealisedPnl      decimal.Decimal `json:"realisedPnl"`
}

// Quote is the latest top of book for a market.
type Quote struct {
	Market    string
	BidPrice  decimal.Decimal
	BidQty    decimal.Decimal
	AskPrice  decimal.Decimal
	AskQty    decimal.Decimal
	Timestamp int64 // ms
}

func (q Quote) HasBid() bool { return q.BidPrice.Sign() > 0 }
func (q Quote) HasAsk() bool { return q.AskPrice.Sign() > 0 }

type OrderRequest struct {
	Market     string
	Side       Side
	Qty        decimal.Decimal
	Price      decimal.Decimal
	PostOnly   bool
	ReduceOnly bool
}

type OrderResponse struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
}

type MassCancelRequest struct {
	OrderIDs         []int64  `json:"orderIds,omitempty"`
	ExternalOrderIDs []string `json:"externalOrderIds,omitempty"`
	Markets          []string `json:"markets,omitempty"`
	CancelAll        bool     `json:"cancelAll,omitempty"`
}

// NormalizeMarket upper-cases a market name and appends the -USD quote
// when no quote asset is given ("btc" -> "BTC-USD").
func NormalizeMarket(s string) string {
	m := strings.ToUpper(strings.TrimSpace(s))
	if m != "" && !strings.Contains(m, "-") {
		m += "-USD"
	}
	return m
}

// DisplayName drops the -USD suffix for table output.
func DisplayName(name string) string {
	if strings.HasSuffix(strings.ToUpper(name), "-USD") {
		return name[:len(name)-4]
	}
	return name
}
