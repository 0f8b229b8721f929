package broker

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
)

// Quotes fetches current quotes for the given symbols synchronously.
// This is the fallback path when the streaming cache is stale or unhealthy.
func (c *Client) Quotes(ctx context.Context, symbols []string) ([]schema.Quote, error) {
	if len(symbols) == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "no symbols")
	}
	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))

	var env quotesEnvelope
	if err := c.issue(ctx, http.MethodGet, "/v1/markets/quotes", query, nil, &env); err != nil {
		return nil, err
	}

	now := c.now()
	out := make([]schema.Quote, 0, len(env.Quotes.Quote))
	for _, q := range env.Quotes.Quote {
		out = append(out, schema.Quote{
			Symbol:    q.Symbol,
			Bid:       q.Bid,
			Ask:       q.Ask,
			Last:      q.Last,
			UpdatedAt: now,
			Source:    schema.QuoteSourceREST,
		})
	}
	return out, nil
}

// OrderSpec is one order submission.
type OrderSpec struct {
	Symbol     string
	Underlying string
	Side       schema.OrderSide
	Quantity   int64
	Type       schema.OrderType
	LimitPrice string
}

// PlaceOrder submits an order and returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, spec OrderSpec) (string, error) {
	if spec.Symbol == "" || spec.Quantity <= 0 || spec.Side == schema.OrderSideUnknown {
		return "", errors.Wrap(exception.ErrOrderInvalidSpec, "place order").
			With("symbol", spec.Symbol)
	}

	body := map[string]string{
		"class":         "option",
		"symbol":        spec.Underlying,
		"option_symbol": spec.Symbol,
		"side":          spec.Side.String(),
		"quantity":      strconv.FormatInt(spec.Quantity, 10),
		"type":          spec.Type.String(),
		"duration":      "day",
	}
	if spec.Type == schema.OrderTypeLimit {
		body["price"] = spec.LimitPrice
	}

	var env placeOrderEnvelope
	path := "/v1/accounts/" + c.cfg.AccountID + "/orders"
	if err := c.issue(ctx, http.MethodPost, path, nil, body, &env); err != nil {
		return "", err
	}
	if env.Order.ID == 0 {
		return "", errors.Wrap(exception.ErrOrderEmptyBrokerID, "place order response")
	}
	return strconv.FormatInt(env.Order.ID, 10), nil
}

// OrderStatus fetches the live state of one order.
func (c *Client) OrderStatus(ctx context.Context, brokerID string) (OrderState, error) {
	var env orderEnvelope
	path := "/v1/accounts/" + c.cfg.AccountID + "/orders/" + brokerID
	if err := c.issue(ctx, http.MethodGet, path, nil, nil, &env); err != nil {
		return OrderState{}, err
	}
	return env.Order, nil
}

// CancelOrder requests cancellation of one order. A nil error means the
// broker accepted the cancel request, not that the order is cancelled.
func (c *Client) CancelOrder(ctx context.Context, brokerID string) error {
	path := "/v1/accounts/" + c.cfg.AccountID + "/orders/" + brokerID
	return c.issue(ctx, http.MethodDelete, path, nil, nil, nil)
}

// Activities queries the account audit log for records tied to one order.
// The audit log lags the order book; callers bring their own retry budget.
func (c *Client) Activities(ctx context.Context, brokerID string) ([]Activity, error) {
	query := url.Values{}
	query.Set("order_id", brokerID)
	query.Set("type", "trade")

	var env activitiesEnvelope
	path := "/v1/accounts/" + c.cfg.AccountID + "/history"
	if err := c.issue(ctx, http.MethodGet, path, query, nil, &env); err != nil {
		return nil, err
	}
	return env.History.Event, nil
}

// Positions fetches all open positions for the account.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var env positionsEnvelope
	path := "/v1/accounts/" + c.cfg.AccountID + "/positions"
	if err := c.issue(ctx, http.MethodGet, path, nil, nil, &env); err != nil {
		return nil, err
	}
	return env.Positions.Position, nil
}

// AccountBalances fetches the account equity snapshot.
func (c *Client) AccountBalances(ctx context.Context) (Balances, error) {
	var env balancesEnvelope
	path := "/v1/accounts/" + c.cfg.AccountID + "/balances"
	if err := c.issue(ctx, http.MethodGet, path, nil, nil, &env); err != nil {
		return Balances{}, err
	}
	return env.Balances, nil
}

// MapOrderStatus converts a wire status string into the local enum.
func MapOrderStatus(s string) schema.OrderStatus {
	switch strings.ToLower(s) {
	case "pending", "submitted":
		return schema.OrderStatusPending
	case "open", "partially_filled_pending":
		return schema.OrderStatusOpen
	case "partial", "partially_filled":
		return schema.OrderStatusPartiallyFilled
	case "filled":
		return schema.OrderStatusFilled
	case "rejected", "error":
		return schema.OrderStatusRejected
	case "canceled", "cancelled", "expired":
		return schema.OrderStatusCancelled
	default:
		return schema.OrderStatusUnknown
	}
}

// ParseActivityDate parses the audit-log date format.
func ParseActivityDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
