package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteSource records where a quote came from.
type QuoteSource uint16

const (
	QuoteSourceUnknown QuoteSource = iota
	// QuoteSourceStream is the streaming quote cache.
	QuoteSourceStream
	// QuoteSourceREST is a synchronous fallback fetch.
	QuoteSourceREST
)

func (s QuoteSource) String() string {
	switch s {
	case QuoteSourceStream:
		return "stream"
	case QuoteSourceREST:
		return "rest"
	default:
		return "unknown"
	}
}

// Quote is a point-in-time market quote for one instrument.
type Quote struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	UpdatedAt time.Time
	Source    QuoteSource
}

// Fresh reports whether the quote is younger than maxAge at the given time.
func (q Quote) Fresh(now time.Time, maxAge time.Duration) bool {
	if q.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(q.UpdatedAt) < maxAge
}

// Mid returns the bid/ask midpoint, falling back to last when one side is empty.
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}
	return q.Last
}
