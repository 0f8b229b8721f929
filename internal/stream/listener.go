package stream

import (
	"context"
	"sync/atomic"
	"time"

	"main/internal/schema"
	"main/pkg/websocket"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

// heartbeatReference tags keepalive envelopes from the streamer.
const heartbeatReference = "_heartbeat"

const readBufferSize = 256 << 10

// Listener owns the streamer socket. It reconnects with backoff, decodes
// envelopes, keeps liveness timestamps, and writes quotes into the cache.
// It never places orders.
type Listener struct {
	dialer  websocket.Dialer
	backoff websocket.Backoff
	cache   *Cache
	symbols []string

	alive         atomic.Bool
	lastMessage   atomic.Int64 // unix nano
	lastHeartbeat atomic.Int64

	now func() time.Time
}

func NewListener(dialer websocket.Dialer, cache *Cache, symbols []string) *Listener {
	return &Listener{
		dialer:  dialer,
		backoff: websocket.DefaultBackoff(),
		cache:   cache,
		symbols: symbols,
		now:     time.Now,
	}
}

// Healthy reports whether the stream can be trusted: socket up, and both a
// message and a heartbeat seen within maxQuoteAge. An open socket with a
// silent venue is unhealthy.
func (l *Listener) Healthy(now time.Time) bool {
	if !l.alive.Load() {
		return false
	}
	if now.Sub(time.Unix(0, l.lastMessage.Load())) >= maxQuoteAge {
		return false
	}
	return now.Sub(time.Unix(0, l.lastHeartbeat.Load())) < maxQuoteAge
}

// Run drives the connect/read loop until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		conn, err := l.dialer.Dial(ctx)
		if err != nil {
			attempt++
			wait := l.backoff.Next(attempt)
			logs.Warnf("stream dial failed (attempt %d, retry in %s): %v", attempt, wait, err)
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		attempt = 0

		if err := l.subscribe(ctx, conn); err != nil {
			logs.Warnf("stream subscribe failed: %v", err)
			_ = conn.Close(websocket.CloseNormal, "subscribe failed")
			continue
		}

		now := l.now().UnixNano()
		l.lastMessage.Store(now)
		l.lastHeartbeat.Store(now)
		l.alive.Store(true)
		logs.Infof("stream connected, %d symbols subscribed", len(l.symbols))

		l.readLoop(ctx, conn)

		l.alive.Store(false)
		_ = conn.Close(websocket.CloseNormal, "")
	}
}

func (l *Listener) subscribe(ctx context.Context, conn websocket.Conn) error {
	req := struct {
		Action  string   `json:"action"`
		Symbols []string `json:"symbols"`
	}{Action: "subscribe", Symbols: l.symbols}

	payload, err := sonic.ConfigFastest.Marshal(req)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (l *Listener) readLoop(ctx context.Context, conn websocket.Conn) {
	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, msgType, err := conn.Read(ctx, buf)
		if err != nil {
			logs.Warnf("stream read failed: %v", err)
			return
		}
		if msgType != websocket.MessageBinary {
			continue
		}
		l.handleFrame(buf[:n])
	}
}

func (l *Listener) handleFrame(frame []byte) {
	envelopes, consumed := DecodeEnvelopes(frame)
	if consumed < len(frame) {
		logs.Warnf("stream frame: %d trailing bytes unparsed, skipped", len(frame)-consumed)
	}
	if len(envelopes) == 0 {
		return
	}

	now := l.now()
	l.lastMessage.Store(now.UnixNano())
	for _, env := range envelopes {
		if env.Reference == heartbeatReference {
			l.lastHeartbeat.Store(now.UnixNano())
			continue
		}
		if env.Format != FormatJSON {
			logs.Warnf("stream envelope %s: unsupported payload format %d", env.Reference, env.Format)
			continue
		}
		l.handleQuote(env, now)
	}
}

type wireStreamQuote struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Last   decimal.Decimal `json:"last"`
}

func (l *Listener) handleQuote(env Envelope, now time.Time) {
	var q wireStreamQuote
	if err := sonic.ConfigFastest.Unmarshal(env.Payload, &q); err != nil {
		logs.Warnf("stream envelope %s: bad quote payload: %v", env.Reference, err)
		return
	}
	if q.Symbol == "" {
		return
	}
	l.cache.Set(schema.Quote{
		Symbol:    q.Symbol,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Last:      q.Last,
		UpdatedAt: now,
		Source:    schema.QuoteSourceStream,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
