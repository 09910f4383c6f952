package market

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"extended-cli/internal/interfaces"
	"extended-cli/internal/logger"
	"extended-cli/internal/types"
)

var ErrMarketNotFound = errors.New("market not found")

type entry struct {
	market    types.Market
	fetchedAt time.Time
}

// Catalog caches exchange market metadata. Every entry carries its own fetch
// time and expires after the TTL.
type Catalog struct {
	exchange interfaces.Exchange
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	gen     uint64

	// refreshMu serializes exchange fetches so concurrent lookups share one fetch
	refreshMu sync.Mutex
}

var _ interfaces.MarketCatalog = (*Catalog)(nil)

func NewCatalog(exchange interfaces.Exchange, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Catalog{
		exchange: exchange,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]entry),
	}
}

// Market returns the named market, refreshing the cache when the entry is
// missing or expired. A failed refresh falls back to a stale entry.
func (c *Catalog) Market(ctx context.Context, name string) (types.Market, error) {
	name = strings.ToUpper(strings.TrimSpace(name))

	c.mu.RLock()
	e, ok := c.entries[name]
	gen := c.gen
	c.mu.RUnlock()
	if ok && c.fresh(e) {
		return e.market, nil
	}

	if err := c.refreshSince(ctx, gen); err != nil {
		logger.WarnWithErr(ctx, "Market refresh failed, keeping cached data", err, "market", name)
	}

	c.mu.RLock()
	e, ok = c.entries[name]
	c.mu.RUnlock()
	if !ok {
		logger.Warn(ctx, "Market not found", "market", name)
		return types.Market{}, ErrMarketNotFound
	}
	return e.market, nil
}

// Markets returns the topN markets by daily volume, or every cached market
// sorted by name when topN <= 0. The cache is refreshed when it is empty or
// fully expired.
func (c *Catalog) Markets(ctx context.Context, topN int) ([]types.Market, error) {
	c.mu.RLock()
	stale := true
	for _, e := range c.entries {
		if c.fresh(e) {
			stale = false
			break
		}
	}
	gen := c.gen
	c.mu.RUnlock()

	if stale {
		if err := c.refreshSince(ctx, gen); err != nil {
			c.mu.RLock()
			empty := len(c.entries) == 0
			c.mu.RUnlock()
			if empty {
				return nil, err
			}
			logger.WarnWithErr(ctx, "Market refresh failed, serving cached data", err)
		}
	}

	c.mu.RLock()
	markets := make([]types.Market, 0, len(c.entries))
	for _, e := range c.entries {
		markets = append(markets, e.market)
	}
	c.mu.RUnlock()

	if topN > 0 {
		sort.SliceStable(markets, func(i, j int) bool {
			if cmp := markets[i].Stats.DailyVolume.Cmp(markets[j].Stats.DailyVolume); cmp != 0 {
				return cmp > 0
			}
			return markets[i].Name < markets[j].Name
		})
		if len(markets) > topN {
			markets = markets[:topN]
		}
		return markets, nil
	}

	sort.Slice(markets, func(i, j int) bool { return markets[i].Name < markets[j].Name })
	return markets, nil
}

func (c *Catalog) fresh(e entry) bool {
	return c.now().Sub(e.fetchedAt) < c.ttl
}

// refreshSince fetches markets unless another caller already refreshed after
// generation gen was observed.
func (c *Catalog) refreshSince(ctx context.Context, gen uint64) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.RLock()
	done := c.gen != gen
	c.mu.RUnlock()
	if done {
		return nil
	}

	op := logger.StartOperation(ctx, "market.refresh")
	markets, err := c.exchange.Markets(op.GetContext())
	if err != nil {
		op.EndWithError(err)
		return err
	}

	c.mu.Lock()
	now := c.now()
	for _, m := range markets {
		c.entries[strings.ToUpper(m.Name)] = entry{market: m, fetchedAt: now}
	}
	c.gen++
	c.mu.Unlock()

	op.End("count", len(markets))
	return nil
}
