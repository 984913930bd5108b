// Package fx caches currency-to-base conversion rates with a periodic
// refresh on read: "sync if stale, otherwise trust the cached value",
// as a multi-reader cache with coalesced refreshes.
package fx

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const refreshInterval = time.Hour

// Provider fetches base -> other currency rates from an external source,
// e.g. an HTTPS FX endpoint. It returns other-currency code -> decimal rate.
type Provider interface {
	FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error)
}

// Cache holds currency -> base-currency conversion rates, refreshed on
// read when stale. It never fails its caller: network errors leave the
// existing table in place and are logged.
type Cache struct {
	base     string
	provider Provider

	mu          sync.RWMutex
	rates       map[string]decimal.Decimal // currency -> rate-to-base
	lastRefresh time.Time

	group           singleflight.Group
	refreshFailures atomic.Int64
}

// New creates a Cache for the given base currency. The table holds only
// the base currency (rate 1) until the first ConvertToBase call for
// another currency triggers a refresh.
func New(base string, provider Provider) *Cache {
	return &Cache{
		base:     strings.ToUpper(base),
		provider: provider,
		rates:    map[string]decimal.Decimal{strings.ToUpper(base): decimal.NewFromInt(1)},
	}
}

// ConvertToBase converts amount from fromCurrency into the cache's base
// currency, refreshing the rate table first if it's stale. Absent amount
// or currency, or a currency equal to base, returns amount unchanged.
// A currency missing from the table after refresh logs a warning and is
// treated as rate 1.
func (c *Cache) ConvertToBase(ctx context.Context, amount decimal.Decimal, fromCurrency string) decimal.Decimal {
	if fromCurrency == "" {
		return amount
	}
	cur := strings.ToUpper(fromCurrency)
	if cur == c.base {
		return amount
	}

	c.refreshIfStale(ctx)

	c.mu.RLock()
	rate, ok := c.rates[cur]
	c.mu.RUnlock()
	if !ok {
		log.Warn().Str("currency", cur).Msg("fx: rate missing, treating as 1:1")
		rate = decimal.NewFromInt(1)
	}
	return amount.Mul(rate).Round(2)
}

// Rate returns the cached currency -> base rate without triggering a
// refresh (useful for diagnostics).
func (c *Cache) Rate(currency string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rates[strings.ToUpper(currency)]
	return r, ok
}

// RefreshFailures reports how many provider refreshes have failed over
// the cache's lifetime (stale rates kept in place each time).
func (c *Cache) RefreshFailures() int64 {
	return c.refreshFailures.Load()
}

func (c *Cache) refreshIfStale(ctx context.Context) {
	c.mu.RLock()
	stale := time.Since(c.lastRefresh) > refreshInterval
	c.mu.RUnlock()
	if !stale {
		return
	}

	// Coalesce concurrent refreshes: everyone but the first caller rides
	// along on the in-flight request and then proceeds with whatever the
	// table holds (possibly still stale, never blocked longer than one
	// round trip).
	_, _, _ = c.group.Do("refresh", func() (interface{}, error) {
		c.doRefresh(ctx)
		return nil, nil
	})
}

func (c *Cache) doRefresh(ctx context.Context) {
	quotes, err := c.provider.FetchRates(ctx, c.base)
	if err != nil {
		c.refreshFailures.Add(1)
		log.Warn().Err(err).Str("base", c.base).Msg("fx: refresh failed, keeping stale rates")
		return
	}

	inverted := make(map[string]decimal.Decimal, len(quotes)+1)
	inverted[c.base] = decimal.NewFromInt(1)
	for currency, quote := range quotes {
		if quote.IsZero() {
			continue
		}
		inverted[strings.ToUpper(currency)] = decimal.NewFromInt(1).
			DivRound(quote, 10)
	}

	c.mu.Lock()
	c.rates = inverted
	c.lastRefresh = time.Now()
	c.mu.Unlock()
}

