package exception

import "errors"

var (
	ErrStreamUnhealthy       = errors.New("stream: listener unhealthy")
	ErrStreamStaleQuote      = errors.New("stream: quote is stale")
	ErrStreamUnknownSymbol   = errors.New("stream: unknown symbol")
	ErrStreamConnectionClose = errors.New("stream: connection closed")
)
