package broker

import (
	"github.com/shopspring/decimal"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type quotesEnvelope struct {
	Quotes struct {
		Quote []wireQuote `json:"quote"`
	} `json:"quotes"`
}

type wireQuote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	TradeTime int64           `json:"trade_date"`
}

type placeOrderEnvelope struct {
	Order struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
}

type orderEnvelope struct {
	Order OrderState `json:"order"`
}

// OrderState is the broker's live view of one order.
type OrderState struct {
	ID           int64           `json:"id"`
	Status       string          `json:"status"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Quantity     int64           `json:"quantity"`
	ExecQuantity int64           `json:"exec_quantity"`
	// AvgFillPrice is the execution average. Price is the submitted limit;
	// it must never be read as an execution price.
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Price        decimal.Decimal `json:"price"`
}

type activitiesEnvelope struct {
	History struct {
		Event []Activity `json:"event"`
	} `json:"history"`
}

// Activity is one audit-log record tied to an order.
type Activity struct {
	Type     string          `json:"type"`
	OrderID  int64           `json:"order_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Date     string          `json:"date"`
}

type positionsEnvelope struct {
	Positions struct {
		Position []Position `json:"position"`
	} `json:"positions"`
}

// Position is one broker-side position snapshot.
type Position struct {
	ID           int64           `json:"id"`
	Symbol       string          `json:"symbol"`
	Quantity     int64           `json:"quantity"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	DateAcquired string          `json:"date_acquired"`
}

type balancesEnvelope struct {
	Balances Balances `json:"balances"`
}

// Balances is the account equity snapshot used for the startup probe.
type Balances struct {
	TotalEquity decimal.Decimal `json:"total_equity"`
	OptionBP    decimal.Decimal `json:"option_buying_power"`
	TotalCash   decimal.Decimal `json:"total_cash"`
}

type faultEnvelope struct {
	Fault struct {
		Message string `json:"faultstring"`
	} `json:"fault"`
}
