package market

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"extended-cli/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	mu      sync.Mutex
	markets []types.Market
	err     error
	calls   atomic.Int32
}

func (f *fakeExchange) Markets(ctx context.Context) ([]types.Market, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]types.Market(nil), f.markets...), nil
}

func (f *fakeExchange) Positions(ctx context.Context, markets ...string) ([]types.Position, error) {
	return nil, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderResponse, error) {
	return types.OrderResponse{}, nil
}

func (f *fakeExchange) MassCancel(ctx context.Context, req types.MassCancelRequest) error {
	return nil
}

func (f *fakeExchange) Close(ctx context.Context) error { return nil }

func (f *fakeExchange) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func mkt(name, volume string) types.Market {
	return types.Market{Name: name, Active: true, Stats: types.MarketStats{DailyVolume: decimal.RequireFromString(volume)}}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time     { return c.t }
func (c *clock) add(d time.Duration) { c.t = c.t.Add(d) }

func newTestCatalog(ex *fakeExchange) (*Catalog, *clock) {
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCatalog(ex, time.Minute)
	c.now = clk.now
	return c, clk
}

func TestMarketUsesCacheWithinTTL(t *testing.T) {
	ex := &fakeExchange{markets: []types.Market{mkt("BTC-USD", "10"), mkt("ETH-USD", "5")}}
	c, clk := newTestCatalog(ex)
	ctx := context.Background()

	m, err := c.Market(ctx, "btc-usd")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", m.Name)

	clk.add(30 * time.Second)
	_, err = c.Market(ctx, "ETH-USD")
	require.NoError(t, err)
	assert.Equal(t, int32(1), ex.calls.Load())

	clk.add(31 * time.Second)
	_, err = c.Market(ctx, "ETH-USD")
	require.NoError(t, err)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestMarketUnknownRefreshesAndFails(t *testing.T) {
	ex := &fakeExchange{markets: []types.Market{mkt("BTC-USD", "10")}}
	c, _ := newTestCatalog(ex)

	_, err := c.Market(context.Background(), "NOPE-USD")
	assert.ErrorIs(t, err, ErrMarketNotFound)
	assert.Equal(t, int32(1), ex.calls.Load())

	// a listing added later is found on the next miss
	ex.mu.Lock()
	ex.markets = append(ex.markets, mkt("NOPE-USD", "1"))
	ex.mu.Unlock()
	m, err := c.Market(context.Background(), "NOPE-USD")
	require.NoError(t, err)
	assert.Equal(t, "NOPE-USD", m.Name)
}

func TestMarketFallsBackToStaleEntry(t *testing.T) {
	ex := &fakeExchange{markets: []types.Market{mkt("BTC-USD", "10")}}
	c, clk := newTestCatalog(ex)
	ctx := context.Background()

	_, err := c.Market(ctx, "BTC-USD")
	require.NoError(t, err)

	clk.add(2 * time.Minute)
	ex.setErr(errors.New("down"))
	m, err := c.Market(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", m.Name)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestMarketsTopNByVolume(t *testing.T) {
	ex := &fakeExchange{markets: []types.Market{
		mkt("SOL-USD", "300"), mkt("BTC-USD", "1000"), mkt("DOGE-USD", "0"), mkt("ETH-USD", "500"),
	}}
	c, _ := newTestCatalog(ex)

	top, err := c.Markets(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "BTC-USD", top[0].Name)
	assert.Equal(t, "ETH-USD", top[1].Name)

	all, err := c.Markets(context.Background(), 0)
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, m := range all {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"BTC-USD", "DOGE-USD", "ETH-USD", "SOL-USD"}, names)
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestMarketsRefreshesWhenEmptyOrExpired(t *testing.T) {
	ex := &fakeExchange{markets: []types.Market{mkt("BTC-USD", "1")}}
	c, clk := newTestCatalog(ex)
	ctx := context.Background()

	_, err := c.Markets(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ex.calls.Load())

	clk.add(2 * time.Minute)
	_, err = c.Markets(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestMarketsErrorWithEmptyCache(t *testing.T) {
	ex := &fakeExchange{err: errors.New("down")}
	c, _ := newTestCatalog(ex)

	_, err := c.Markets(context.Background(), 5)
	assert.EqualError(t, err, "down")
}

func TestConcurrentLookupsShareRefresh(t *testing.T) {
	ex := &fakeExchange{markets: []types.Market{mkt("BTC-USD", "1"), mkt("ETH-USD", "1")}}
	c, _ := newTestCatalog(ex)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Market(context.Background(), "ETH-USD")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ex.calls.Load())
}
