package stream

import (
	"context"
	"sync"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// maxQuoteAge bounds both per-entry staleness and listener liveness.
const maxQuoteAge = 60 * time.Second

// Cache holds the latest quote per symbol. The stream listener is the only
// writer on the hot path; the REST fallback refreshes entries on a miss.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]schema.Quote
}

func NewCache() *Cache {
	return &Cache{quotes: make(map[string]schema.Quote)}
}

func (c *Cache) Set(q schema.Quote) {
	c.mu.Lock()
	c.quotes[q.Symbol] = q
	c.mu.Unlock()
}

func (c *Cache) Get(symbol string) (schema.Quote, bool) {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	return q, ok
}

// Fetcher is the synchronous quote fallback, satisfied by the broker client.
type Fetcher interface {
	Quotes(ctx context.Context, symbols []string) ([]schema.Quote, error)
}

// Health reports whether the streaming side is trustworthy right now.
type Health interface {
	Healthy(now time.Time) bool
}

// Quotes serves quotes from the stream cache with a REST fallback. A cached
// entry is used only while the listener is healthy and the entry itself is
// younger than maxQuoteAge; anything else goes to the broker, and the fresh
// result re-primes the cache.
type Quotes struct {
	cache  *Cache
	health Health
	fetch  Fetcher

	now func() time.Time
}

func NewQuotes(cache *Cache, health Health, fetch Fetcher) *Quotes {
	return &Quotes{
		cache:  cache,
		health: health,
		fetch:  fetch,
		now:    time.Now,
	}
}

// Quote returns a fresh quote for symbol or an error. It never hands back a
// stale entry.
func (q *Quotes) Quote(ctx context.Context, symbol string) (schema.Quote, error) {
	now := q.now()
	if q.health.Healthy(now) {
		if cached, ok := q.cache.Get(symbol); ok && cached.Fresh(now, maxQuoteAge) {
			return cached, nil
		}
	}

	quotes, err := q.fetch.Quotes(ctx, []string{symbol})
	if err != nil {
		logs.Warnf("quote fallback for %s failed: %v", symbol, err)
		return schema.Quote{}, errors.Wrap(exception.ErrStreamStaleQuote, "quote fallback").
			With("symbol", symbol)
	}

	var found schema.Quote
	for _, fresh := range quotes {
		q.cache.Set(fresh)
		if fresh.Symbol == symbol {
			found = fresh
		}
	}
	if found.Symbol == "" {
		return schema.Quote{}, errors.Wrap(exception.ErrStreamUnknownSymbol, "quote fallback").
			With("symbol", symbol)
	}
	return found, nil
}
