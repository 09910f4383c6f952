package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"extended-cli/internal/exchange"
	"extended-cli/internal/market"
	"extended-cli/internal/strategy"
	"extended-cli/internal/summary"
	"extended-cli/internal/tradelog"
	"extended-cli/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeExchange struct {
	positions []types.Position
	posFilter []string
	cancelErr error
	cancels   int
	closed    bool
}

func (f *fakeExchange) Markets(ctx context.Context) ([]types.Market, error) { return nil, nil }

func (f *fakeExchange) Positions(ctx context.Context, markets ...string) ([]types.Position, error) {
	f.posFilter = markets
	return f.positions, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	return types.OrderResponse{}, nil
}

func (f *fakeExchange) MassCancel(ctx context.Context, req types.MassCancelRequest) error {
	f.cancels++
	return f.cancelErr
}

func (f *fakeExchange) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

type fakeCatalog struct {
	markets map[string]types.Market
	err     error
}

func (f *fakeCatalog) Market(ctx context.Context, name string) (types.Market, error) {
	if f.err != nil {
		return types.Market{}, f.err
	}
	m, ok := f.markets[name]
	if !ok {
		return types.Market{}, market.ErrMarketNotFound
	}
	return m, nil
}

func (f *fakeCatalog) Markets(ctx context.Context, topN int) ([]types.Market, error) {
	var out []types.Market
	for _, m := range f.markets {
		out = append(out, m)
	}
	return out, f.err
}

type fakeStreams struct {
	mu      sync.Mutex
	quotes  map[string]types.Quote
	active  []string
	started [][]string
	stopped [][]string
	closed  int
}

func (f *fakeStreams) BestBidAsk(m string) (types.Quote, bool) {
	q, ok := f.quotes[m]
	return q, ok
}

func (f *fakeStreams) StartStreams(ctx context.Context, markets []string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, markets)
	f.active = append(f.active, markets...)
	return markets
}

func (f *fakeStreams) StopStreams(markets []string) {
	f.stopped = append(f.stopped, markets)
}

func (f *fakeStreams) CloseStreams() {
	f.closed++
	f.active = nil
}

func (f *fakeStreams) ActiveStreams() []string { return f.active }

type fakeStrategy struct {
	calls []string
	resp  types.OrderResponse
	err   error
}

func (f *fakeStrategy) Execute(ctx context.Context, m string, side types.Side, amount decimal.Decimal) (types.OrderResponse, error) {
	f.calls = append(f.calls, m+" "+string(side)+" "+amount.String())
	return f.resp, f.err
}

type harness struct {
	ex       *fakeExchange
	catalog  *fakeCatalog
	streams  *fakeStreams
	strategy *fakeStrategy
	out      *bytes.Buffer
	cli      *TradingCLI
}

func newHarness(in io.Reader) *harness {
	h := &harness{
		ex: &fakeExchange{},
		catalog: &fakeCatalog{markets: map[string]types.Market{
			"BTC-USD": {Name: "BTC-USD", Stats: types.MarketStats{DailyVolume: d("1000000"), LastPrice: d("1234.5678")}},
			"ETH-USD": {Name: "ETH-USD", Stats: types.MarketStats{DailyVolume: d("500"), LastPrice: d("3000")}},
			"OLD-USD": {Name: "OLD-USD", Stats: types.MarketStats{LastPrice: d("1")}},
		}},
		streams:  &fakeStreams{quotes: map[string]types.Quote{}},
		strategy: &fakeStrategy{resp: types.OrderResponse{ID: "7", Status: "PLACED"}},
		out:      &bytes.Buffer{},
	}
	if in == nil {
		in = strings.NewReader("")
	}
	h.cli = New(Deps{
		Exchange: h.ex,
		Catalog:  h.catalog,
		Streams:  h.streams,
		Strategy: h.strategy,
		Mode:     "DRY_RUN",
	}, in, h.out)
	return h
}

func (h *harness) run(t *testing.T, line string) string {
	t.Helper()
	h.out.Reset()
	assert.False(t, h.cli.ProcessCommand(context.Background(), line))
	return h.out.String()
}

func TestRunStopsOnExitAndCleansUp(t *testing.T) {
	h := newHarness(strings.NewReader("help\nexit\nhelp\n"))

	require.NoError(t, h.cli.Run(context.Background()))
	out := h.out.String()
	assert.Contains(t, out, "Welcome to the Extended Exchange trading CLI!")
	assert.Equal(t, 1, strings.Count(out, "Available commands:"))
	assert.Contains(t, out, "\n> ")
	assert.Equal(t, 1, h.streams.closed)
	assert.True(t, h.ex.closed)
}

func TestRunStopsOnEOF(t *testing.T) {
	h := newHarness(strings.NewReader("load?\n"))

	require.NoError(t, h.cli.Run(context.Background()))
	assert.Contains(t, h.out.String(), "EOF received, stopping program...")
	assert.True(t, h.ex.closed)
}

func TestRunStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := newHarness(pr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.cli.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Contains(t, h.out.String(), "Program stopping by user request...")
	assert.True(t, h.ex.closed)
}

func TestExitCommand(t *testing.T) {
	h := newHarness(nil)
	assert.True(t, h.cli.ProcessCommand(context.Background(), "  EXIT "))
	assert.False(t, h.cli.ProcessCommand(context.Background(), ""))
}

func TestLoad(t *testing.T) {
	h := newHarness(nil)

	out := h.run(t, "load btc doge ETH-usd btc")
	assert.Contains(t, out, `Warning: Market "DOGE-USD" not recognized or is invalid. Stream will not be loaded.`)
	assert.Contains(t, out, "Loading streams for: BTC-USD, ETH-USD initiated.")
	require.Len(t, h.streams.started, 1)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, h.streams.started[0])

	assert.Contains(t, h.run(t, "load"), "Usage: load <market1> [market2 ...]")
	assert.Contains(t, h.run(t, "load doge"), "No valid markets specified or found to load.")
}

func TestLoadValidationError(t *testing.T) {
	h := newHarness(nil)
	h.catalog.err = errors.New("timeout")

	out := h.run(t, "load btc")
	assert.Contains(t, out, `Warning: Error validating market "BTC-USD". Stream will not be loaded.`)
	assert.Contains(t, out, "No valid markets specified or found to load.")
	assert.Empty(t, h.streams.started)
}

func TestLoadWhileBusy(t *testing.T) {
	h := newHarness(nil)
	h.cli.mgmt.Lock()
	defer h.cli.mgmt.Unlock()

	assert.Contains(t, h.run(t, "load btc"), "INFO: Previous load/unload operation is still in progress. Please wait.")
	assert.Contains(t, h.run(t, "unload all"), "INFO: Previous load/unload operation is still in progress. Please wait.")
	assert.Empty(t, h.streams.started)
}

func TestLoadStatusAndUnload(t *testing.T) {
	h := newHarness(nil)
	assert.Contains(t, h.run(t, "load?"), "No market streams are currently loaded.")

	h.run(t, "load btc eth")
	assert.Contains(t, h.run(t, "LOAD?"), "Currently loaded real-time market streams: BTC-USD, ETH-USD")

	assert.Contains(t, h.run(t, "unload eth"), "Streams stopped for: ETH-USD.")
	assert.Equal(t, [][]string{{"ETH-USD"}}, h.streams.stopped)

	assert.Contains(t, h.run(t, "unload ALL"), "All real-time data streams have been requested to stop.")
	assert.Equal(t, 1, h.streams.closed)

	assert.Contains(t, h.run(t, "unload"), "Usage: unload ALL")
}

func TestMarketsTable(t *testing.T) {
	h := newHarness(nil)

	out := h.run(t, "markets")
	assert.Contains(t, out, "Market")
	assert.Contains(t, out, "24h Volume")
	assert.Contains(t, out, "1,234.5678")
	assert.Contains(t, out, "1,000,000.00")
	assert.NotContains(t, out, "OLD")
	assert.Less(t, strings.Index(out, "BTC"), strings.Index(out, "ETH"))
	assert.NotContains(t, out, "BTC-USD")

	out = h.run(t, "markets 1")
	assert.Contains(t, out, "BTC")
	assert.NotContains(t, out, "ETH")

	// a non-positive count lists every traded market
	out = h.run(t, "markets 0")
	assert.Contains(t, out, "BTC")
	assert.Contains(t, out, "ETH")
}

func TestPositions(t *testing.T) {
	h := newHarness(nil)
	h.ex.positions = []types.Position{
		{Market: "BTC-USD", Size: d("0.5"), OpenPrice: d("60000"), UnrealisedPnl: d("12.5")},
		{Market: "ETH-USD", Size: d("-2"), OpenPrice: d("3100"), UnrealisedPnl: d("-4")},
		{Market: "SOL-USD", Size: d("10"), OpenPrice: d("150"), UnrealisedPnl: d("0")},
	}
	h.streams.quotes["BTC-USD"] = types.Quote{BidPrice: d("60100"), AskPrice: d("60101")}

	out := h.run(t, "position")
	assert.Contains(t, out, "Current positions:")
	assert.Contains(t, out, "Market: BTC-USD\nSize: 0.5\nEntry price: 60000\nCurrent Market Price: Live Bid: 60100, Ask: 60101\nUnrealized P&L: 12.5\n")
	assert.Contains(t, out, "Current Market Price: Last (REST): 3000")
	assert.Contains(t, out, "Current Market Price: Last price (REST) not available.")
	assert.Nil(t, h.ex.posFilter)

	h.streams.quotes["BTC-USD"] = types.Quote{AskPrice: d("60101")}
	assert.Contains(t, h.run(t, "position btc"), "Live Ask: 60101")
	assert.Equal(t, []string{"BTC-USD"}, h.ex.posFilter)
}

func TestNoPositions(t *testing.T) {
	h := newHarness(nil)
	assert.Contains(t, h.run(t, "position"), "No open positions")
}

func TestBestOrder(t *testing.T) {
	h := newHarness(nil)

	assert.Contains(t, h.run(t, "btc BB 1000"), "Order placed successfully! ID: 7 (PLACED)")
	assert.Contains(t, h.run(t, "eth-usd ba 250.5"), "Order placed successfully!")
	assert.Equal(t, []string{"BTC-USD BUY 1000", "ETH-USD SELL 250.5"}, h.strategy.calls)
	assert.Equal(t, int64(2), h.cli.ordersPlaced.Load())

	assert.Contains(t, h.run(t, "btc BB lots"), "Format error for amount:")
	assert.Len(t, h.strategy.calls, 2)
}

func TestBestOrderErrors(t *testing.T) {
	cases := map[error]string{
		strategy.ErrNoRealtimePrice:            "Use 'load BTC' first.",
		strategy.ErrMarketNotFound:             "Market trading configuration for BTC-USD not found.",
		strategy.ErrBelowMinOrderSize:          "Order aborted for BTC-USD",
		exchange.ErrInsufficientBalance:        "insufficient balance",
		exchange.ErrInvalidQuantityPrecision:   "invalid quantity precision",
		errors.New("connection reset by peer"): "Error placing order for BTC-USD: connection reset by peer",
	}
	for err, want := range cases {
		h := newHarness(nil)
		h.strategy.err = err
		assert.Contains(t, h.run(t, "BTC BB 100"), want)
		assert.Zero(t, h.cli.ordersPlaced.Load())
	}
}

func TestCloseAll(t *testing.T) {
	h := newHarness(nil)
	assert.Contains(t, h.run(t, "close ALL"), "All open orders have been requested to be cancelled.")
	assert.Equal(t, 1, h.ex.cancels)

	h.ex.cancelErr = errors.New("rate limited")
	assert.Contains(t, h.run(t, "close all"), "An error occurred while trying to cancel all orders: rate limited")
}

func TestUnknownAndMalformed(t *testing.T) {
	h := newHarness(nil)
	assert.Contains(t, h.run(t, "dance"), "Unknown command. Type 'help' to see available commands.")
	assert.Contains(t, h.run(t, "close some"), "Unknown command.")
	assert.Contains(t, h.run(t, `load "btc`), "Could not parse command")
}

func TestOrdersSummary(t *testing.T) {
	journal := tradelog.New(t.TempDir())
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.MkdirAll(journal.Dir(), 0o755))
	require.NoError(t, os.WriteFile(journal.DailyPath(day), []byte(
		`{"market":"BTC-USD","side":"BUY","qty":"0.01","price":"60000","notional":"600"}`+"\n"+
			`{"market":"BTC-USD","side":"SELL","qty":"0.01","price":"61000","notional":"610"}`+"\n"), 0o644))

	h := newHarness(nil)
	h.cli.Summary = summary.NewSummarizer(journal)

	out := h.run(t, "orders 2024-06-03")
	assert.Contains(t, out, "Avg Buy")
	assert.Contains(t, out, "60000.0000")
	assert.Contains(t, out, "Total: 2 orders, bought 600.00 USD, sold 610.00 USD")

	assert.Contains(t, h.run(t, "orders 2024-06-04"), "No orders journaled on 2024-06-04.")
	assert.Contains(t, h.run(t, "orders yesterday"), "Format error for date")
}

func TestCloseWritesSummaryAfterOrders(t *testing.T) {
	journal := tradelog.New(t.TempDir())
	h := newHarness(nil)
	h.cli.Summary = summary.NewSummarizer(journal)
	h.cli.now = func() time.Time { return time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, os.MkdirAll(journal.Dir(), 0o755))
	require.NoError(t, os.WriteFile(journal.DailyPath(h.cli.now()), []byte(
		`{"market":"ETH-USD","side":"BUY","qty":"1","price":"3000"}`+"\n"), 0o644))

	h.run(t, "eth bb 3000")
	h.out.Reset()
	require.NoError(t, h.cli.Close(context.Background()))
	assert.Contains(t, h.out.String(), "Order summary written to")
	assert.FileExists(t, h.cli.Summary.CSVPath(h.cli.now()))

	// second close is a no-op
	require.NoError(t, h.cli.Close(context.Background()))
	assert.Equal(t, 1, h.streams.closed)
}
