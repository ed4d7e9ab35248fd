// Package prices keeps the latest observed quote per token.
//
// The cache is fed from the engine's drain loop and read from the status
// API and console reporter, so it is the one piece of engine-adjacent
// state that carries its own lock.
package prices

import (
	"sync"
	"time"

	"event-sniper/pkg/types"
)

// Quote is the latest view of one token: best bid/ask, last trade, and
// when any of them arrived.
type Quote struct {
	TokenID   string    `json:"token_id"`
	BestBid   float64   `json:"best_bid,omitempty"`
	BestAsk   float64   `json:"best_ask,omitempty"`
	LastPrice float64   `json:"last_price,omitempty"`
	Updated   time.Time `json:"updated"`
}

// Mid returns (bid+ask)/2 when both sides are quoted, falling back to the
// last trade.
func (q Quote) Mid() (float64, bool) {
	switch {
	case q.BestBid > 0 && q.BestAsk > 0:
		return (q.BestBid + q.BestAsk) / 2, true
	case q.LastPrice > 0:
		return q.LastPrice, true
	}
	return 0, false
}

// Cache tracks quotes per token. Concurrency-safe.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{quotes: make(map[string]Quote)}
}

// Apply folds one market-data event into the token's quote. Events without
// market data are ignored. Fields the event does not carry keep their
// previous values.
func (c *Cache) Apply(event types.MarketEvent) {
	if !event.IsMarketData() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.quotes[event.TokenID]
	q.TokenID = event.TokenID
	if event.BestBid != nil {
		q.BestBid = *event.BestBid
	}
	if event.BestAsk != nil {
		q.BestAsk = *event.BestAsk
	}
	if event.LastPrice != nil {
		q.LastPrice = *event.LastPrice
	}
	q.Updated = event.Timestamp
	c.quotes[event.TokenID] = q
}

// Quote returns the latest quote for a token.
func (c *Cache) Quote(tokenID string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[tokenID]
	return q, ok
}

// Snapshot returns a copy of every tracked quote.
func (c *Cache) Snapshot() map[string]Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Quote, len(c.quotes))
	for k, v := range c.quotes {
		out[k] = v
	}
	return out
}

// IsStale reports whether a token's quote is older than maxAge, or absent.
func (c *Cache) IsStale(tokenID string, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[tokenID]
	if !ok || q.Updated.IsZero() {
		return true
	}
	return time.Since(q.Updated) > maxAge
}
