package summary

import (
	"context"
	"encoding/csv"
	"os"
	"strings"
	"testing"
	"time"

	"extended-cli/internal/tradelog"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)

func writeJournal(t *testing.T, j *tradelog.Journal, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(j.Dir(), 0o755))
	require.NoError(t, os.WriteFile(j.DailyPath(day), []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func TestSummarizeDayAggregatesPerMarket(t *testing.T) {
	j := tradelog.New(t.TempDir())
	writeJournal(t, j,
		`{"market":"ETH-USD","side":"BUY","qty":"1","price":"3000","notional":"3000"}`,
		`{"market":"BTC-USD","side":"BUY","qty":"0.01","price":"60000","notional":"600"}`,
		`{"market":"ETH-USD","side":"BUY","qty":"1","price":"3100","notional":"3100"}`,
		`{"market":"ETH-USD","side":"SELL","qty":"0.5","price":"3200"}`,
	)

	report, err := NewSummarizer(j).SummarizeDay(day)
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)

	assert.Equal(t, "BTC-USD", report.Rows[0].Market)
	eth := report.Rows[1]
	assert.Equal(t, 3, eth.Orders)
	assert.True(t, eth.BuyQty.Equal(decimal.NewFromInt(2)))
	assert.True(t, eth.AvgBuy().Equal(decimal.NewFromInt(3050)))
	assert.True(t, eth.SellNotional.Equal(decimal.NewFromInt(1600)))
	assert.True(t, eth.AvgSell().Equal(decimal.NewFromInt(3200)))

	assert.Equal(t, 4, report.Total.Orders)
	assert.True(t, report.Total.BuyNotional.Equal(decimal.NewFromInt(6700)))
}

func TestWriteCSV(t *testing.T) {
	j := tradelog.New(t.TempDir())
	writeJournal(t, j, `{"market":"BTC-USD","side":"SELL","qty":"0.02","price":"50000","notional":"1000"}`)

	s := NewSummarizer(j)
	path, err := s.WriteCSV(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, s.CSVPath(day), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "market", records[0][0])
	assert.Equal(t, []string{"BTC-USD", "1", "0", "0.0000", "0.02", "50000.0000", "0.00", "1000.00"}, records[1])
	assert.Equal(t, "TOTAL", records[2][0])
}

func TestWriteCSVWithoutOrders(t *testing.T) {
	j := tradelog.New(t.TempDir())
	path, err := NewSummarizer(j).WriteCSV(context.Background(), day)
	require.NoError(t, err)
	assert.Empty(t, path)
}
