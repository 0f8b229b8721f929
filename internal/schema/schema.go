package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the option order side on the wire.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuyToOpen
	OrderSideSellToOpen
	OrderSideBuyToClose
	OrderSideSellToClose
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuyToOpen:
		return "buy_to_open"
	case OrderSideSellToOpen:
		return "sell_to_open"
	case OrderSideBuyToClose:
		return "buy_to_close"
	case OrderSideSellToClose:
		return "sell_to_close"
	default:
		return "unknown"
	}
}

// Closing returns the side that unwinds this side.
func (s OrderSide) Closing() OrderSide {
	switch s {
	case OrderSideBuyToOpen:
		return OrderSideSellToClose
	case OrderSideSellToOpen:
		return OrderSideBuyToClose
	default:
		return OrderSideUnknown
	}
}

// Opening reports whether the side adds exposure.
func (s OrderSide) Opening() bool {
	return s == OrderSideBuyToOpen || s == OrderSideSellToOpen
}

// OrderType is the order pricing type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	default:
		return "unknown"
	}
}

// OrderStatus tracks the lifecycle of an order ticket.
type OrderStatus uint16

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusPending
	OrderStatusOpen
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusRejected
	OrderStatusCancelled
	// OrderStatusOrphaned marks a ticket whose cancel could not be confirmed.
	// It is terminal locally; reconciliation owns it afterwards.
	OrderStatusOrphaned
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "pending"
	case OrderStatusOpen:
		return "open"
	case OrderStatusPartiallyFilled:
		return "partially_filled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusRejected:
		return "rejected"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusOrphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status ends the local lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusOrphaned:
		return true
	default:
		return false
	}
}

// OrderTicket is the local view of one broker order.
type OrderTicket struct {
	LocalID    uint64          `json:"local_id"`
	BrokerID   string          `json:"broker_id"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   int64           `json:"quantity"`
	Type       OrderType       `json:"type"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Status     OrderStatus     `json:"status"`
	SubmitTime time.Time       `json:"submit_time"`

	// PriorQuantity and PriorCostBasis snapshot the position book for this
	// contract right before submission. Position inference reads the delta,
	// so a holding that predates the order is never mistaken for its fill.
	PriorQuantity  int64           `json:"prior_quantity"`
	PriorCostBasis decimal.Decimal `json:"prior_cost_basis"`
}

// Fill is the verified execution detail for a ticket.
// Price is always the execution average, never the submitted limit.
type Fill struct {
	Price    decimal.Decimal
	Quantity int64
	Source   FillSource
}

// FillSource records which verification stage produced the fill.
type FillSource uint16

const (
	FillSourceUnknown FillSource = iota
	FillSourceStatus
	FillSourceActivity
	FillSourcePosition
)

func (s FillSource) String() string {
	switch s {
	case FillSourceStatus:
		return "status"
	case FillSourceActivity:
		return "activity"
	case FillSourcePosition:
		return "position"
	default:
		return "unknown"
	}
}
