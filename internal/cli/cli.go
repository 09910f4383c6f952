package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"extended-cli/internal/exchange"
	"extended-cli/internal/interfaces"
	"extended-cli/internal/logger"
	"extended-cli/internal/market"
	"extended-cli/internal/strategy"
	"extended-cli/internal/summary"
	"extended-cli/internal/types"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
	"github.com/google/shlex"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	prompt         = "\n> "
	separator      = "------------------"
	cleanupTimeout = 10 * time.Second
	maxValidations = 8
)

type Deps struct {
	Exchange interfaces.Exchange
	Catalog  interfaces.MarketCatalog
	Streams  interfaces.MarketDataProvider
	Strategy interfaces.Strategy
	Summary  *summary.Summarizer
	Mode     string
}

// TradingCLI is the interactive prompt. Commands run one at a time; load and
// unload additionally refuse to overlap.
type TradingCLI struct {
	Deps
	in  io.Reader
	out io.Writer
	now func() time.Time

	mgmt         sync.Mutex
	ordersPlaced atomic.Int64
	closeOnce    sync.Once
	closeErr     error
}

func New(deps Deps, in io.Reader, out io.Writer) *TradingCLI {
	return &TradingCLI{Deps: deps, in: in, out: out, now: time.Now}
}

func (c *TradingCLI) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *TradingCLI) println(args ...any) {
	fmt.Fprintln(c.out, args...)
}

// Run reads commands until exit, EOF or ctx cancellation and then cleans up.
func (c *TradingCLI) Run(ctx context.Context) error {
	c.println("Welcome to the Extended Exchange trading CLI!")
	c.println("Type 'help' to see available commands or 'load <market(s)>' to start real-time data.")
	if c.Mode != "" {
		c.printf("Mode: %s\n", c.Mode)
	}

	stop := make(chan struct{})
	defer close(stop)
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
		if err := sc.Err(); err != nil {
			logger.WarnWithErr(ctx, "Failed to read input", err)
		}
	}()

loop:
	for {
		fmt.Fprint(c.out, prompt)
		select {
		case <-ctx.Done():
			c.println("\nProgram stopping by user request...")
			break loop
		case line, ok := <-lines:
			if !ok {
				c.println("\nEOF received, stopping program...")
				break loop
			}
			if c.ProcessCommand(ctx, line) {
				break loop
			}
		}
	}

	logger.Info(ctx, "Exiting program, starting cleanup")
	return c.Close(ctx)
}

// Close stops every stream, writes the order summary when the session
// placed orders and releases the exchange client. It runs once.
func (c *TradingCLI) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()

		if c.Streams != nil {
			c.Streams.CloseStreams()
		}
		if c.Summary != nil && c.ordersPlaced.Load() > 0 {
			if path, err := c.Summary.WriteCSV(ctx, c.now()); err != nil {
				logger.WarnWithErr(ctx, "Failed to write order summary", err)
			} else if path != "" {
				c.printf("Order summary written to %s\n", path)
			}
		}
		if c.Exchange != nil {
			c.closeErr = c.Exchange.Close(ctx)
		}
		logger.Info(ctx, "Cleanup finished")
	})
	return c.closeErr
}

// ProcessCommand runs one command line and reports whether the REPL should
// stop.
func (c *TradingCLI) ProcessCommand(ctx context.Context, line string) bool {
	parts, err := shlex.Split(line)
	if err != nil {
		c.printf("Could not parse command: %v\n", err)
		return false
	}
	if len(parts) == 0 {
		return false
	}

	cmd := strings.ToLower(parts[0])
	switch {
	case cmd == "exit":
		return true
	case cmd == "help":
		c.showHelp()
	case cmd == "load":
		c.handleLoad(ctx, parts[1:])
	case cmd == "load?":
		c.handleLoadStatus()
	case cmd == "unload":
		c.handleUnload(parts[1:])
	case cmd == "markets":
		c.showMarkets(ctx, parts[1:])
	case cmd == "position" || cmd == "positions":
		c.showPositions(ctx, parts[1:])
	case cmd == "orders":
		c.showOrders(parts[1:])
	case cmd == "close" && len(parts) == 2 && strings.EqualFold(parts[1], "all"):
		c.handleCloseAll(ctx)
	case len(parts) == 3 && isBestOrderSide(parts[1]):
		c.handleBestOrder(ctx, parts[0], parts[1], parts[2])
	default:
		c.println("Unknown command. Type 'help' to see available commands.")
	}
	return false
}

func isBestOrderSide(s string) bool {
	s = strings.ToUpper(s)
	return s == "BB" || s == "BA"
}

func (c *TradingCLI) showHelp() {
	c.println("\nAvailable commands:")
	c.println(separator)
	c.println("help                    - Show this help")
	c.println("load <m1> [m2...]       - Load real-time data streams for specified markets (e.g., load BTC ETH)")
	c.println("load?                   - Show currently loaded real-time market streams.")
	c.println("unload ALL              - Unload ALL currently active real-time data streams.")
	c.println("unload <m1> [m2...]     - Unload the streams of the specified markets.")
	c.println("markets [N]             - Show all available markets, or top N by 24h volume")
	c.println("position [market]       - Show current position(s), optionally filtered by market")
	c.println("<market> BB <amount>    - Place a BUY order at the best bid price (e.g., BTC BB 1000)")
	c.println("<market> BA <amount>    - Place a SELL order at the best ask price (e.g., ETH BA 500)")
	c.println("close all               - Cancel all open orders.")
	c.println("orders [YYYY-MM-DD]     - Show the order summary for a day (default today, UTC)")
	c.println("exit                    - Exit the program")
	c.println(separator)
}

func normalizeAll(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		m := types.NormalizeMarket(r)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func (c *TradingCLI) handleLoad(ctx context.Context, args []string) {
	if len(args) == 0 {
		c.println("Usage: load <market1> [market2 ...]")
		return
	}
	if !c.mgmt.TryLock() {
		c.println("INFO: Previous load/unload operation is still in progress. Please wait.")
		return
	}
	defer c.mgmt.Unlock()

	names := normalizeAll(args)
	errs := make([]error, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxValidations)
	for i, name := range names {
		g.Go(func() error {
			m, err := c.Catalog.Market(gctx, name)
			if err == nil && m.Name != name {
				err = market.ErrMarketNotFound
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	var valid []string
	for i, name := range names {
		switch {
		case errs[i] == nil:
			valid = append(valid, name)
		case errors.Is(errs[i], market.ErrMarketNotFound):
			c.printf("Warning: Market %q not recognized or is invalid. Stream will not be loaded.\n", name)
		default:
			logger.ErrorWithErr(ctx, "Error validating market", errs[i], "market", name)
			c.printf("Warning: Error validating market %q. Stream will not be loaded.\n", name)
		}
	}
	if len(valid) == 0 {
		c.println("No valid markets specified or found to load.")
		return
	}

	c.Streams.StartStreams(ctx, valid)
	c.printf("Loading streams for: %s initiated.\n", strings.Join(valid, ", "))
}

func (c *TradingCLI) handleLoadStatus() {
	active := c.Streams.ActiveStreams()
	if len(active) == 0 {
		c.println("No market streams are currently loaded.")
		return
	}
	c.printf("Currently loaded real-time market streams: %s\n", strings.Join(active, ", "))
}

func (c *TradingCLI) handleUnload(args []string) {
	if len(args) == 0 {
		c.println("Usage: unload ALL | unload <market1> [market2 ...]")
		return
	}
	if !c.mgmt.TryLock() {
		c.println("INFO: Previous load/unload operation is still in progress. Please wait.")
		return
	}
	defer c.mgmt.Unlock()

	if len(args) == 1 && strings.EqualFold(args[0], "all") {
		c.Streams.CloseStreams()
		c.println("All real-time data streams have been requested to stop.")
		return
	}

	names := normalizeAll(args)
	c.Streams.StopStreams(names)
	c.printf("Streams stopped for: %s.\n", strings.Join(names, ", "))
}

func (c *TradingCLI) table() *tabby.Tabby {
	return tabby.NewCustom(tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0))
}

// showMarkets lists traded markets by volume. A count that is not a positive
// integer shows all of them.
func (c *TradingCLI) showMarkets(ctx context.Context, args []string) {
	topN := 0
	if len(args) == 1 {
		if n, err := parsePositiveInt(args[0]); err == nil {
			topN = n
		}
	}

	markets, err := c.Catalog.Markets(ctx, 0)
	if err != nil {
		logger.ErrorWithErr(ctx, "Error while fetching markets", err)
		c.printf("Error while fetching markets: %v\n", err)
		return
	}

	var traded []types.Market
	for _, m := range markets {
		if m.Stats.DailyVolume.Sign() > 0 {
			traded = append(traded, m)
		}
	}
	sortByVolume(traded)
	if topN > 0 && len(traded) > topN {
		traded = traded[:topN]
	}

	c.println()
	t := c.table()
	t.AddHeader("Market", "Last Price", "24h Volume")
	for _, m := range traded {
		t.AddLine(
			types.DisplayName(m.Name),
			humanize.FormatFloat("#,###.####", m.Stats.LastPrice.InexactFloat64()),
			humanize.FormatFloat("#,###.##", m.Stats.DailyVolume.InexactFloat64()),
		)
	}
	t.Print()
}

func (c *TradingCLI) showPositions(ctx context.Context, args []string) {
	var filter []string
	if len(args) > 0 {
		filter = []string{types.NormalizeMarket(args[0])}
	}

	positions, err := c.Exchange.Positions(ctx, filter...)
	if err != nil {
		logger.ErrorWithErr(ctx, "Error while fetching positions", err)
		c.printf("Error while fetching positions: %v\n", err)
		return
	}
	if len(positions) == 0 {
		c.println("No open positions")
		return
	}

	c.println("\nCurrent positions:")
	c.println(separator)
	for _, pos := range positions {
		c.printf("Market: %s\n", pos.Market)
		c.printf("Size: %s\n", pos.Size)
		c.printf("Entry price: %s\n", pos.OpenPrice)
		c.printf("Current Market Price: %s\n", c.currentPrice(ctx, pos.Market))
		c.printf("Unrealized P&L: %s\n", pos.UnrealisedPnl)
		c.println(separator)
	}
}

// currentPrice prefers the live top of book and falls back to the cached
// REST last price.
func (c *TradingCLI) currentPrice(ctx context.Context, name string) string {
	if q, ok := c.Streams.BestBidAsk(name); ok {
		switch {
		case q.HasBid() && q.HasAsk():
			return fmt.Sprintf("Live Bid: %s, Ask: %s", q.BidPrice, q.AskPrice)
		case q.HasBid():
			return fmt.Sprintf("Live Bid: %s", q.BidPrice)
		case q.HasAsk():
			return fmt.Sprintf("Live Ask: %s", q.AskPrice)
		}
	}
	if m, err := c.Catalog.Market(ctx, name); err == nil && m.Stats.LastPrice.Sign() > 0 {
		return fmt.Sprintf("Last (REST): %s", m.Stats.LastPrice)
	}
	return "Last price (REST) not available."
}

func (c *TradingCLI) showOrders(args []string) {
	if c.Summary == nil {
		c.println("Order journal is not configured.")
		return
	}
	day := c.now().UTC()
	if len(args) > 0 {
		d, err := time.Parse("2006-01-02", args[0])
		if err != nil {
			c.printf("Format error for date: %v\n", err)
			return
		}
		day = d
	}

	report, err := c.Summary.SummarizeDay(day)
	if err != nil {
		c.printf("Error while reading order journal: %v\n", err)
		return
	}
	if report.Empty() {
		c.printf("No orders journaled on %s.\n", day.Format("2006-01-02"))
		return
	}

	c.println()
	t := c.table()
	t.AddHeader("Market", "Orders", "Buy Qty", "Avg Buy", "Sell Qty", "Avg Sell")
	for _, r := range report.Rows {
		t.AddLine(types.DisplayName(r.Market), r.Orders, r.BuyQty.String(), r.AvgBuy().StringFixed(4), r.SellQty.String(), r.AvgSell().StringFixed(4))
	}
	t.Print()
	c.printf("Total: %d orders, bought %s USD, sold %s USD\n",
		report.Total.Orders,
		humanize.FormatFloat("#,###.##", report.Total.BuyNotional.InexactFloat64()),
		humanize.FormatFloat("#,###.##", report.Total.SellNotional.InexactFloat64()))
}

func (c *TradingCLI) handleCloseAll(ctx context.Context) {
	if err := c.Exchange.MassCancel(ctx, types.MassCancelRequest{CancelAll: true}); err != nil {
		logger.ErrorWithErr(ctx, "Error cancelling all orders", err)
		c.printf("An error occurred while trying to cancel all orders: %v\n", err)
		return
	}
	c.println("All open orders have been requested to be cancelled.")
}

func (c *TradingCLI) handleBestOrder(ctx context.Context, rawMarket, rawSide, rawAmount string) {
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		c.printf("Format error for amount: %v\n", err)
		return
	}
	side, err := types.ParseSide(rawSide)
	if err != nil {
		c.printf("Format error for side: %v\n", err)
		return
	}
	name := types.NormalizeMarket(rawMarket)

	logger.Info(ctx, "Delegating to best order strategy", "market", name, "side", side, "amount_usd", amount.String())
	resp, err := c.Strategy.Execute(ctx, name, side, amount)
	if err != nil {
		c.println(orderErrorMessage(name, err))
		return
	}

	c.ordersPlaced.Add(1)
	c.printf("Order placed successfully! ID: %s (%s)\n", resp.ID, resp.Status)
}

func orderErrorMessage(name string, err error) string {
	switch {
	case errors.Is(err, exchange.ErrInsufficientBalance):
		return "Order rejected: insufficient balance to place this order."
	case errors.Is(err, exchange.ErrInvalidQuantityPrecision):
		return fmt.Sprintf("Order rejected: invalid quantity precision for %s.", name)
	case errors.Is(err, strategy.ErrMarketNotFound):
		return fmt.Sprintf("Market trading configuration for %s not found.", name)
	case errors.Is(err, strategy.ErrNoRealtimePrice):
		return fmt.Sprintf("Real-time price data not available for %s. Use 'load %s' first.", name, types.DisplayName(name))
	case errors.Is(err, strategy.ErrBelowMinOrderSize):
		return fmt.Sprintf("Order aborted for %s: %v", name, err)
	default:
		return fmt.Sprintf("Error placing order for %s: %v", name, err)
	}
}
