package summary

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"extended-cli/internal/logger"
	"extended-cli/internal/tradelog"
	"extended-cli/internal/trace"

	"github.com/shopspring/decimal"
)

// Row aggregates one market's journaled orders for a day.
type Row struct {
	Market       string
	Orders       int
	BuyQty       decimal.Decimal
	BuyNotional  decimal.Decimal
	SellQty      decimal.Decimal
	SellNotional decimal.Decimal
}

func (r Row) AvgBuy() decimal.Decimal {
	if r.BuyQty.IsZero() {
		return decimal.Zero
	}
	return r.BuyNotional.Div(r.BuyQty)
}

func (r Row) AvgSell() decimal.Decimal {
	if r.SellQty.IsZero() {
		return decimal.Zero
	}
	return r.SellNotional.Div(r.SellQty)
}

type Report struct {
	Day   time.Time
	Rows  []Row
	Total Row
}

func (r Report) Empty() bool { return len(r.Rows) == 0 }

type Summarizer struct {
	journal *tradelog.Journal
	outDir  string
}

func NewSummarizer(journal *tradelog.Journal) *Summarizer {
	return &Summarizer{journal: journal, outDir: filepath.Join(journal.Dir(), "summary")}
}

func (s *Summarizer) CSVPath(t time.Time) string {
	return filepath.Join(s.outDir, t.UTC().Format("2006-01-02")+".csv")
}

// SummarizeDay aggregates the journal of t's UTC day per market.
func (s *Summarizer) SummarizeDay(t time.Time) (Report, error) {
	entries, err := s.journal.Read(t)
	if err != nil {
		return Report{}, err
	}

	aggs := map[string]*Row{}
	for _, e := range entries {
		row := aggs[e.Market]
		if row == nil {
			row = &Row{Market: e.Market}
			aggs[e.Market] = row
		}
		notional := e.Notional
		if notional.IsZero() {
			notional = e.Qty.Mul(e.Price)
		}
		row.Orders++
		switch e.Side {
		case "BUY":
			row.BuyQty = row.BuyQty.Add(e.Qty)
			row.BuyNotional = row.BuyNotional.Add(notional)
		case "SELL":
			row.SellQty = row.SellQty.Add(e.Qty)
			row.SellNotional = row.SellNotional.Add(notional)
		}
	}

	report := Report{Day: t.UTC(), Total: Row{Market: "TOTAL"}}
	for _, row := range aggs {
		report.Rows = append(report.Rows, *row)
		report.Total.Orders += row.Orders
		report.Total.BuyNotional = report.Total.BuyNotional.Add(row.BuyNotional)
		report.Total.SellNotional = report.Total.SellNotional.Add(row.SellNotional)
	}
	sort.Slice(report.Rows, func(i, j int) bool { return report.Rows[i].Market < report.Rows[j].Market })
	return report, nil
}

// WriteCSV writes the day's summary and returns its path, or "" when
// nothing was journaled that day.
func (s *Summarizer) WriteCSV(ctx context.Context, t time.Time) (string, error) {
	ctx, span := trace.StartSpan(ctx, "summary.WriteCSV")
	defer span.End()

	report, err := s.SummarizeDay(t)
	if err != nil {
		logger.ErrorWithErr(ctx, "Order summary failed", err, "date", t.UTC().Format("2006-01-02"))
		return "", err
	}
	if report.Empty() {
		logger.Info(ctx, "No orders journaled for summary", "date", t.UTC().Format("2006-01-02"))
		return "", nil
	}

	outPath := s.CSVPath(t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	headers := []string{"market", "orders", "buy_qty", "buy_avg", "sell_qty", "sell_avg", "gross_buy_value", "gross_sell_value"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	for _, r := range report.Rows {
		rec := []string{
			r.Market,
			strconv.Itoa(r.Orders),
			r.BuyQty.String(),
			r.AvgBuy().StringFixed(4),
			r.SellQty.String(),
			r.AvgSell().StringFixed(4),
			r.BuyNotional.StringFixed(2),
			r.SellNotional.StringFixed(2),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	total := report.Total
	if err := w.Write([]string{"TOTAL", strconv.Itoa(total.Orders), "", "", "", "", total.BuyNotional.StringFixed(2), total.SellNotional.StringFixed(2)}); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	logger.Info(ctx, "Order summary written", "date", t.UTC().Format("2006-01-02"), "csv_path", outPath)
	return outPath, nil
}
