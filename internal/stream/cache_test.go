package stream

import (
	"context"
	"testing"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHealth bool

func (h stubHealth) Healthy(time.Time) bool { return bool(h) }

type stubFetcher struct {
	calls  int
	quotes []schema.Quote
	err    error
}

func (f *stubFetcher) Quotes(_ context.Context, _ []string) ([]schema.Quote, error) {
	f.calls++
	return f.quotes, f.err
}

func fixedNow() time.Time {
	return time.Date(2025, 9, 15, 14, 30, 0, 0, time.UTC)
}

func streamQuote(symbol string, age time.Duration) schema.Quote {
	return schema.Quote{
		Symbol:    symbol,
		Bid:       decimal.NewFromFloat(1.20),
		Ask:       decimal.NewFromFloat(1.30),
		UpdatedAt: fixedNow().Add(-age),
		Source:    schema.QuoteSourceStream,
	}
}

func TestQuoteServedFromHealthyFreshCache(t *testing.T) {
	cache := NewCache()
	cache.Set(streamQuote("SPY", 5*time.Second))
	fetch := &stubFetcher{}

	q := NewQuotes(cache, stubHealth(true), fetch)
	q.now = fixedNow

	got, err := q.Quote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, schema.QuoteSourceStream, got.Source)
	assert.Zero(t, fetch.calls, "healthy fresh cache must not hit the broker")
}

func TestStaleEntryFallsBackToRest(t *testing.T) {
	cache := NewCache()
	cache.Set(streamQuote("SPY", maxQuoteAge)) // exactly at the limit: stale
	rest := schema.Quote{
		Symbol:    "SPY",
		Bid:       decimal.NewFromFloat(1.25),
		Ask:       decimal.NewFromFloat(1.35),
		UpdatedAt: fixedNow(),
		Source:    schema.QuoteSourceREST,
	}
	fetch := &stubFetcher{quotes: []schema.Quote{rest}}

	q := NewQuotes(cache, stubHealth(true), fetch)
	q.now = fixedNow

	got, err := q.Quote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, schema.QuoteSourceREST, got.Source)
	assert.Equal(t, 1, fetch.calls)

	// fallback re-primes the cache
	cached, ok := cache.Get("SPY")
	require.True(t, ok)
	assert.Equal(t, schema.QuoteSourceREST, cached.Source)
}

func TestUnhealthyListenerBypassesFreshCache(t *testing.T) {
	cache := NewCache()
	cache.Set(streamQuote("SPY", time.Second))
	fetch := &stubFetcher{quotes: []schema.Quote{{
		Symbol: "SPY", Bid: decimal.NewFromFloat(1.0), UpdatedAt: fixedNow(), Source: schema.QuoteSourceREST,
	}}}

	q := NewQuotes(cache, stubHealth(false), fetch)
	q.now = fixedNow

	got, err := q.Quote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, schema.QuoteSourceREST, got.Source)
	assert.Equal(t, 1, fetch.calls)
}

func TestStaleQuoteNeverReturnedWhenFallbackFails(t *testing.T) {
	cache := NewCache()
	cache.Set(streamQuote("SPY", 5*time.Minute))
	fetch := &stubFetcher{err: exception.ErrTransportTimeout}

	q := NewQuotes(cache, stubHealth(true), fetch)
	q.now = fixedNow

	_, err := q.Quote(context.Background(), "SPY")
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrStreamStaleQuote)
}

func TestUnknownSymbolFromFallback(t *testing.T) {
	fetch := &stubFetcher{quotes: []schema.Quote{}}
	q := NewQuotes(NewCache(), stubHealth(false), fetch)
	q.now = fixedNow

	_, err := q.Quote(context.Background(), "SPYXXX")
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrStreamUnknownSymbol)
}

func TestListenerHealthRequiresRecentTraffic(t *testing.T) {
	l := NewListener(nil, NewCache(), nil)
	now := fixedNow()

	// socket down
	assert.False(t, l.Healthy(now))

	// socket up, fresh message and heartbeat
	l.alive.Store(true)
	l.lastMessage.Store(now.Add(-time.Second).UnixNano())
	l.lastHeartbeat.Store(now.Add(-30 * time.Second).UnixNano())
	assert.True(t, l.Healthy(now))

	// open socket but a silent venue: heartbeat older than the limit
	l.lastHeartbeat.Store(now.Add(-maxQuoteAge).UnixNano())
	assert.False(t, l.Healthy(now))

	// heartbeat fresh but no data messages
	l.lastHeartbeat.Store(now.UnixNano())
	l.lastMessage.Store(now.Add(-2 * maxQuoteAge).UnixNano())
	assert.False(t, l.Healthy(now))
}

func TestHandleFrameRoutesQuotesAndHeartbeats(t *testing.T) {
	cache := NewCache()
	l := NewListener(nil, cache, nil)
	l.now = fixedNow
	l.alive.Store(true)

	var frame []byte
	frame = EncodeEnvelope(frame, Envelope{
		MessageID: 1, Reference: "q-SPY", Format: FormatJSON,
		Payload: []byte(`{"symbol":"SPY","bid":542.10,"ask":542.12,"last":542.11}`),
	})
	frame = EncodeEnvelope(frame, Envelope{
		MessageID: 2, Reference: heartbeatReference, Format: FormatJSON, Payload: []byte(`{}`),
	})
	// truncated third envelope rides along; parsed prefix must still land
	partial := EncodeEnvelope(nil, Envelope{
		MessageID: 3, Reference: "q-QQQ", Format: FormatJSON, Payload: []byte(`{"symbol":"QQQ"}`),
	})
	frame = append(frame, partial[:9]...)

	l.handleFrame(frame)

	q, ok := cache.Get("SPY")
	require.True(t, ok)
	assert.Equal(t, "542.1", q.Bid.String())
	assert.Equal(t, schema.QuoteSourceStream, q.Source)
	assert.True(t, l.Healthy(fixedNow()))

	_, ok = cache.Get("QQQ")
	assert.False(t, ok)
}
