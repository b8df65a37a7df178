// Package market provides market metadata validation and mark-price tracking.
package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/exchange"
)

// MarkPriceCache holds the latest known mark price for one symbol, refreshed
// from REST order book polls. It exists only to give GridTradingBot a price
// to check stop levels against and ProfitTracker a price to mark unrealized
// PnL against — it is not a depth mirror, since nothing in this system quotes
// against book depth the way a market maker would.
type MarkPriceCache struct {
	mu      sync.RWMutex
	symbol  string
	price   decimal.Decimal
	updated time.Time
}

// NewMarkPriceCache creates an empty cache for symbol.
func NewMarkPriceCache(symbol string) *MarkPriceCache {
	return &MarkPriceCache{symbol: symbol}
}

// Refresh updates the cached mark price to the mid of snap's best bid/ask.
// It returns false, leaving the cache unchanged, when either side is empty.
func (c *MarkPriceCache) Refresh(snap *exchange.OrderbookSnapshot) bool {
	if snap == nil || len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return false
	}
	bid := snap.Bids[0][0]
	ask := snap.Asks[0][0]
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))

	c.mu.Lock()
	c.price = mid
	c.updated = time.Now()
	c.mu.Unlock()
	return true
}

// Set directly stores a mark price, used when a trade or execution report
// carries a more current price than the last book poll.
func (c *MarkPriceCache) Set(price decimal.Decimal) {
	c.mu.Lock()
	c.price = price
	c.updated = time.Now()
	c.mu.Unlock()
}

// Price returns the cached mark price and whether it has been set at all.
func (c *MarkPriceCache) Price() (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.price, !c.updated.IsZero()
}

// IsStale reports whether the cache hasn't been updated within maxAge.
func (c *MarkPriceCache) IsStale(maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.updated.IsZero() {
		return true
	}
	return time.Since(c.updated) > maxAge
}
