package broker

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"main/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	rateLimitBaseDelay   = time.Second
	rateLimitMaxAttempts = 5

	// tokens are refreshed slightly early so an in-flight request
	// never rides an about-to-expire token.
	tokenExpiryMargin = 30 * time.Second
)

// Config defines the remote trading API connection.
type Config struct {
	BaseURL      string
	AccountID    string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client issues authenticated requests against the remote trading API.
// It owns token refresh and rate-limit backoff; callers see a decoded
// response or one of the pkg/exception transport errors.
type Client struct {
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	// test seams
	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a broker client. A nil httpClient falls back to a default
// client; the per-request timeout comes from cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:    cfg,
		client: httpClient,
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

// Authenticate fetches a fresh token eagerly. Used at startup so auth
// problems surface before the first trading cycle.
func (c *Client) Authenticate(ctx context.Context) error {
	return c.refreshToken(ctx)
}

func (c *Client) refreshToken(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyNetErr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrap(exception.ErrTransportAuthExpired, "token refresh").
			With("status", resp.StatusCode)
	}

	var tok tokenResponse
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return errors.Wrap(exception.ErrTransportDecodeBody, "decode token response")
	}
	if tok.AccessToken == "" {
		return errors.Wrap(exception.ErrTransportAuthExpired, "empty access token")
	}

	c.mu.Lock()
	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.mu.Unlock()
	return nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	expiry := c.tokenExpiry
	c.mu.Unlock()

	if token != "" && c.now().Before(expiry.Add(-tokenExpiryMargin)) {
		return token, nil
	}
	if err := c.refreshToken(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	token = c.token
	c.mu.Unlock()
	return token, nil
}

// issue performs one logical API call: auth header, context timeout,
// exactly one token-refresh retry on 401, bounded exponential backoff on
// 429 (base 1s, factor 2, max 5 attempts, server Retry-After honored),
// and classification of everything else.
func (c *Client) issue(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := sonic.ConfigFastest.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		payload = encoded
	}

	refreshed := false
	attempt := 0
	for {
		status, respBody, retryAfter, err := c.do(ctx, method, path, query, payload)
		if err != nil {
			return err
		}

		switch {
		case status >= 200 && status < 300:
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := sonic.ConfigFastest.Unmarshal(respBody, out); err != nil {
				return errors.Wrap(exception.ErrTransportDecodeBody, "decode response").
					With("path", path)
			}
			return nil

		case status == http.StatusUnauthorized:
			// exactly one refresh-and-retry; looping on broken
			// credentials would hammer the auth endpoint.
			if refreshed {
				return errors.Wrap(exception.ErrTransportAuthExpired, "retry after refresh still unauthorized").
					With("path", path)
			}
			refreshed = true
			if err := c.refreshToken(ctx); err != nil {
				return err
			}

		case status == http.StatusTooManyRequests:
			attempt++
			if attempt >= rateLimitMaxAttempts {
				return errors.Wrap(exception.ErrTransportRateLimited, "backoff exhausted").
					With("path", path).With("attempts", attempt)
			}
			delay := rateLimitBaseDelay << (attempt - 1)
			if retryAfter > 0 {
				delay = retryAfter
			}
			logs.Warnf("rate limited on %s, backing off %s (attempt %d)", path, delay, attempt)
			c.sleep(delay)

		case status >= 500:
			return errors.Wrap(exception.ErrTransportServer, faultMessage(respBody)).
				With("path", path).With("status", status)

		default:
			return errors.Errorf("unexpected status %d on %s: %s", status, path, faultMessage(respBody))
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) (int, []byte, time.Duration, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return 0, nil, 0, err
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if len(payload) > 0 {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reader)
	if err != nil {
		return 0, nil, 0, errors.Wrap(err, "build request").With("path", path)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, 0, classifyNetErr(reqCtx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, 0, classifyNetErr(reqCtx, err)
	}
	return resp.StatusCode, respBody, parseRetryAfter(resp.Header.Get("Retry-After")), nil
}

func classifyNetErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx != nil && ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(exception.ErrTransportTimeout, "deadline exceeded")
	}
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok && t.Timeout() {
		return errors.Wrap(exception.ErrTransportTimeout, "network timeout")
	}
	return errors.Wrap(err, "transport request")
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func faultMessage(body []byte) string {
	var fault faultEnvelope
	if err := sonic.ConfigFastest.Unmarshal(body, &fault); err == nil && fault.Fault.Message != "" {
		return fault.Fault.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}
