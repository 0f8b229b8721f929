package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	ErrFrameTooLarge   = errors.New("websocket: frame exceeds buffer")
	ErrHandshakeFailed = errors.New("websocket: handshake failed")
	ErrProtocol        = errors.New("websocket: protocol error")
)

const maxControlPayload = 125

type dialer struct {
	addr      string
	host      string
	path      string
	useTLS    bool
	tlsConfig *tls.Config
	header    http.Header

	dialTimeout time.Duration
	keepAlive   time.Duration
}

// NewDialer creates a dialer for a ws:// or wss:// endpoint URL.
// The extra header is sent with the upgrade request (auth tokens and the
// like); it may be nil.
func NewDialer(rawURL string, header http.Header) (Dialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	useTLS := u.Scheme == "wss"
	if !useTLS && u.Scheme != "ws" {
		return nil, ErrHandshakeFailed
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if useTLS {
			port = "443"
		} else {
			port = "80"
		}
	}
	path := u.RequestURI()
	if path == "" {
		path = "/"
	}

	d := &dialer{
		addr:        net.JoinHostPort(host, port),
		host:        host,
		path:        path,
		useTLS:      useTLS,
		header:      header,
		dialTimeout: 10 * time.Second,
		keepAlive:   30 * time.Second,
	}
	if useTLS {
		d.tlsConfig = &tls.Config{
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		}
	}
	return d, nil
}

func (d *dialer) Dial(ctx context.Context) (Conn, error) {
	netDialer := net.Dialer{
		Timeout:   d.dialTimeout,
		KeepAlive: d.keepAlive,
	}
	rawConn, err := netDialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	conn := rawConn
	if d.useTLS {
		tlsConn := tls.Client(rawConn, d.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	wsConn, err := d.upgrade(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return wsConn, nil
}

func (d *dialer) upgrade(ctx context.Context, conn net.Conn) (*wsConn, error) {
	key, err := newWebSocketKey()
	if err != nil {
		return nil, err
	}
	scheme := "http"
	if d.useTLS {
		scheme = "https"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+d.host+d.path, nil)
	if err != nil {
		return nil, err
	}
	req.Host = d.host
	for k, vs := range d.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", key)
	req.Header.Set("Sec-WebSocket-Version", "13")

	if err := req.Write(conn); err != nil {
		return nil, err
	}

	reader := bufio.NewReaderSize(conn, 32<<10)
	resp, err := http.ReadResponse(reader, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusSwitchingProtocols ||
		!headerHasToken(resp.Header.Get("Upgrade"), "websocket") ||
		!headerHasToken(resp.Header.Get("Connection"), "upgrade") ||
		!validAcceptKey(key, resp.Header.Get("Sec-WebSocket-Accept")) {
		return nil, ErrHandshakeFailed
	}

	return &wsConn{conn: conn, reader: reader}, nil
}

type wsConn struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// Read reads one complete message into dst. Control frames are handled
// inline: pings are answered, a close frame surfaces as io.EOF.
func (c *wsConn) Read(ctx context.Context, dst []byte) (int, MessageType, error) {
	var (
		total   int
		msgType MessageType
	)
	for {
		fin, opcode, masked, maskKey, payloadLen, err := c.readHeader(ctx)
		if err != nil {
			return 0, 0, err
		}

		if opcode == opPing || opcode == opPong || opcode == opClose {
			var ctrl [maxControlPayload]byte
			if payloadLen > len(ctrl) {
				return 0, 0, ErrProtocol
			}
			if err := c.readPayload(ctx, ctrl[:payloadLen], masked, maskKey); err != nil {
				return 0, 0, err
			}
			if opcode == opPing {
				_ = c.writeFrame(context.Background(), opPong, ctrl[:payloadLen])
			}
			if opcode == opClose {
				return 0, 0, io.EOF
			}
			continue
		}

		if opcode != opContinuation {
			msgType = opcodeToMessageType(opcode)
			if msgType == 0 {
				return 0, 0, ErrProtocol
			}
		} else if msgType == 0 {
			return 0, 0, ErrProtocol
		}

		if total+payloadLen > len(dst) {
			return 0, 0, ErrFrameTooLarge
		}
		if err := c.readPayload(ctx, dst[total:total+payloadLen], masked, maskKey); err != nil {
			return 0, 0, err
		}
		total += payloadLen
		if fin {
			return total, msgType, nil
		}
	}
}

func (c *wsConn) Write(ctx context.Context, msgType MessageType, payload []byte) error {
	opcode := messageTypeToOpcode(msgType)
	if opcode == 0 {
		return ErrProtocol
	}
	return c.writeFrame(ctx, opcode, payload)
}

func (c *wsConn) Close(code CloseCode, reason string) error {
	payload := closePayload(code, reason)
	_ = c.writeFrame(context.Background(), opClose, payload)
	return c.conn.Close()
}

func (c *wsConn) readHeader(ctx context.Context) (fin bool, opcode byte, masked bool, maskKey [4]byte, payloadLen int, err error) {
	if err = setDeadline(ctx, c.conn.SetReadDeadline); err != nil {
		return
	}
	var header [2]byte
	if _, err = io.ReadFull(c.reader, header[:]); err != nil {
		return
	}
	fin = header[0]&0x80 != 0
	if header[0]&0x70 != 0 {
		err = ErrProtocol
		return
	}
	opcode = header[0] & 0x0f
	masked = header[1]&0x80 != 0
	payloadLen = int(header[1] & 0x7f)
	switch payloadLen {
	case 126:
		var ext [2]byte
		if _, err = io.ReadFull(c.reader, ext[:]); err != nil {
			return
		}
		payloadLen = int(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err = io.ReadFull(c.reader, ext[:]); err != nil {
			return
		}
		length64 := binary.BigEndian.Uint64(ext[:])
		if length64 > uint64(int(^uint(0)>>1)) {
			err = ErrFrameTooLarge
			return
		}
		payloadLen = int(length64)
	}

	if masked {
		if _, err = io.ReadFull(c.reader, maskKey[:]); err != nil {
			return
		}
	}
	if opcode == opPing || opcode == opPong || opcode == opClose {
		if !fin || payloadLen > maxControlPayload {
			err = ErrProtocol
		}
	}
	return
}

func (c *wsConn) readPayload(ctx context.Context, dst []byte, masked bool, maskKey [4]byte) error {
	if err := setDeadline(ctx, c.conn.SetReadDeadline); err != nil {
		return err
	}
	if _, err := io.ReadFull(c.reader, dst); err != nil {
		return err
	}
	if masked {
		for i := range dst {
			dst[i] ^= maskKey[i&3]
		}
	}
	return nil
}

func (c *wsConn) writeFrame(ctx context.Context, opcode byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := setDeadline(ctx, c.conn.SetWriteDeadline); err != nil {
		return err
	}

	var maskKey [4]byte
	if _, err := rand.Read(maskKey[:]); err != nil {
		return err
	}

	var header [14]byte
	header[0] = 0x80 | opcode
	n := 2
	switch {
	case len(payload) <= 125:
		header[1] = byte(len(payload))
	case len(payload) <= 0xffff:
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:4], uint16(len(payload)))
		n += 2
	default:
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:10], uint64(len(payload)))
		n += 8
	}
	header[1] |= 0x80
	copy(header[n:n+4], maskKey[:])
	n += 4

	if _, err := c.conn.Write(header[:n]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	masked := make([]byte, len(payload))
	for i := range payload {
		masked[i] = payload[i] ^ maskKey[i&3]
	}
	_, err := c.conn.Write(masked)
	return err
}

const (
	opContinuation = 0x0
	opText         = 0x1
	opBinary       = 0x2
	opClose        = 0x8
	opPing         = 0x9
	opPong         = 0xA
)

func messageTypeToOpcode(msgType MessageType) byte {
	switch msgType {
	case MessageText:
		return opText
	case MessageBinary:
		return opBinary
	case MessagePing:
		return opPing
	case MessagePong:
		return opPong
	case MessageClose:
		return opClose
	default:
		return 0
	}
}

func opcodeToMessageType(opcode byte) MessageType {
	switch opcode {
	case opText:
		return MessageText
	case opBinary:
		return MessageBinary
	default:
		return 0
	}
}

func setDeadline(ctx context.Context, set func(time.Time) error) error {
	if ctx == nil {
		return set(time.Time{})
	}
	if deadline, ok := ctx.Deadline(); ok {
		return set(deadline)
	}
	if ctx.Err() != nil {
		return set(time.Now())
	}
	return set(time.Time{})
}

func newWebSocketKey() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf[:]), nil
}

func validAcceptKey(key, accept string) bool {
	h := sha1.New()
	_, _ = io.WriteString(h, key)
	_, _ = io.WriteString(h, "258EAFA5-E914-47DA-95CA-C5AB0DC85B11")
	return accept == base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func headerHasToken(headerValue, token string) bool {
	for _, part := range strings.Split(headerValue, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

func closePayload(code CloseCode, reason string) []byte {
	if code == 0 {
		return nil
	}
	payload := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	return append(payload, reason...)
}
