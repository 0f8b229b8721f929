package exception

import "errors"

var (
	ErrTransportTimeout     = errors.New("transport: request timed out")
	ErrTransportRateLimited = errors.New("transport: rate limited")
	ErrTransportAuthExpired = errors.New("transport: auth token expired")
	ErrTransportServer      = errors.New("transport: server error")
	ErrTransportDecodeBody  = errors.New("transport: decode response body")
)
