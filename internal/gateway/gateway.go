package gateway

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"main/internal/broker"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Broker is the subset of the transport client the gateway drives.
type Broker interface {
	PlaceOrder(ctx context.Context, spec broker.OrderSpec) (string, error)
	OrderStatus(ctx context.Context, brokerID string) (broker.OrderState, error)
	CancelOrder(ctx context.Context, brokerID string) error
	Activities(ctx context.Context, brokerID string) ([]broker.Activity, error)
	Positions(ctx context.Context) ([]broker.Position, error)
}

// VerifyOutcome classifies what verification concluded about an order.
type VerifyOutcome uint16

const (
	OutcomeUnknown VerifyOutcome = iota
	OutcomeFilled
	OutcomePartiallyFilled
	OutcomeRejected
	OutcomeCancelled
	// OutcomeAmbiguous means every stage ran out without a conclusive answer.
	// The order may or may not have executed; callers must treat it as live.
	OutcomeAmbiguous
)

func (o VerifyOutcome) String() string {
	switch o {
	case OutcomeFilled:
		return "filled"
	case OutcomePartiallyFilled:
		return "partially_filled"
	case OutcomeRejected:
		return "rejected"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// VerifyResult is the conclusion of the three-stage fill check.
type VerifyResult struct {
	Outcome VerifyOutcome
	Fill    schema.Fill
}

const (
	statusPollAttempts = 5
	statusPollDelay    = 2 * time.Second
	// the audit log replicates behind the order book, so its budget is wider
	activityAttempts = 3
	activityDelay    = 3 * time.Second
	cancelAttempts   = 3
	cancelDelay      = time.Second

	optionContractSize = 100
)

// Gateway submits orders and verifies their fills. Verification is a
// three-stage fallback: live order status, then the account audit log, then
// a position inference. It stops at the first conclusive stage.
type Gateway struct {
	broker Broker

	localID atomic.Uint64
	sleep   func(time.Duration)
	now     func() time.Time
}

func New(b Broker) *Gateway {
	return &Gateway{
		broker: b,
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

// Place submits one order and runs verification on it. The returned ticket is
// always valid once submission succeeded, whatever verification concluded.
func (g *Gateway) Place(ctx context.Context, spec broker.OrderSpec) (*schema.OrderTicket, VerifyResult, error) {
	ticket := &schema.OrderTicket{
		LocalID:    g.localID.Add(1),
		Symbol:     spec.Symbol,
		Side:       spec.Side,
		Quantity:   spec.Quantity,
		Type:       spec.Type,
		Status:     schema.OrderStatusPending,
		SubmitTime: g.now(),
	}
	if spec.Type == schema.OrderTypeLimit {
		price, err := decimal.NewFromString(spec.LimitPrice)
		if err != nil {
			return nil, VerifyResult{}, errors.Wrap(exception.ErrOrderInvalidSpec, "bad limit price").
				With("price", spec.LimitPrice)
		}
		ticket.LimitPrice = price
	}

	// record what we already hold so position inference sees only the delta
	if spec.Side.Opening() {
		if positions, err := g.broker.Positions(ctx); err != nil {
			logs.Warnf("pre-order position snapshot for %s failed: %v", spec.Symbol, err)
		} else {
			for _, p := range positions {
				if p.Symbol == spec.Symbol {
					ticket.PriorQuantity = p.Quantity
					ticket.PriorCostBasis = p.CostBasis
					break
				}
			}
		}
	}

	brokerID, err := g.broker.PlaceOrder(ctx, spec)
	if err != nil {
		ticket.Status = schema.OrderStatusRejected
		return ticket, VerifyResult{Outcome: OutcomeRejected}, errors.Wrap(err, "place order").
			With("symbol", spec.Symbol).
			With("side", spec.Side.String())
	}
	ticket.BrokerID = brokerID
	ticket.Status = schema.OrderStatusOpen
	logs.Infof("order %s submitted: %s %s x%d", brokerID, spec.Side, spec.Symbol, spec.Quantity)

	result := g.Verify(ctx, ticket)
	return ticket, result, nil
}

// Verify resolves the final state of a submitted ticket and updates its
// status. An Ambiguous result leaves the ticket open.
func (g *Gateway) Verify(ctx context.Context, ticket *schema.OrderTicket) VerifyResult {
	if result, ok := g.verifyByStatus(ctx, ticket); ok {
		g.applyOutcome(ticket, result)
		return result
	}
	if result, ok := g.verifyByActivities(ctx, ticket); ok {
		g.applyOutcome(ticket, result)
		return result
	}
	if result, ok := g.verifyByPositions(ctx, ticket); ok {
		g.applyOutcome(ticket, result)
		return result
	}

	logs.Warnf("order %s: all verification stages inconclusive", ticket.BrokerID)
	return VerifyResult{Outcome: OutcomeAmbiguous}
}

// Cancel asks the broker to cancel the ticket and confirms the cancel took.
// When the budget runs out the ticket is marked Orphaned, never assumed
// cancelled; the next reconciliation cycle picks it up.
func (g *Gateway) Cancel(ctx context.Context, ticket *schema.OrderTicket) error {
	for attempt := 1; attempt <= cancelAttempts; attempt++ {
		if err := g.broker.CancelOrder(ctx, ticket.BrokerID); err != nil {
			logs.Warnf("order %s: cancel attempt %d failed: %v", ticket.BrokerID, attempt, err)
			g.sleep(cancelDelay)
			continue
		}
		state, err := g.broker.OrderStatus(ctx, ticket.BrokerID)
		if err == nil {
			switch broker.MapOrderStatus(state.Status) {
			case schema.OrderStatusCancelled:
				ticket.Status = schema.OrderStatusCancelled
				return nil
			case schema.OrderStatusFilled:
				// filled in the race window; not a cancel failure
				ticket.Status = schema.OrderStatusFilled
				return nil
			}
		}
		g.sleep(cancelDelay)
	}

	ticket.Status = schema.OrderStatusOrphaned
	return errors.Wrap(exception.ErrOrderCancelUnconfirmed, "cancel budget exhausted").
		With("broker_id", ticket.BrokerID).
		With("symbol", ticket.Symbol)
}

func (g *Gateway) applyOutcome(ticket *schema.OrderTicket, result VerifyResult) {
	switch result.Outcome {
	case OutcomeFilled:
		ticket.Status = schema.OrderStatusFilled
	case OutcomePartiallyFilled:
		ticket.Status = schema.OrderStatusPartiallyFilled
	case OutcomeRejected:
		ticket.Status = schema.OrderStatusRejected
	case OutcomeCancelled:
		ticket.Status = schema.OrderStatusCancelled
	}
}

// stage 1: poll the live order book.
func (g *Gateway) verifyByStatus(ctx context.Context, ticket *schema.OrderTicket) (VerifyResult, bool) {
	for attempt := 1; attempt <= statusPollAttempts; attempt++ {
		state, err := g.broker.OrderStatus(ctx, ticket.BrokerID)
		if err != nil {
			// fast fills drop off the live order list; let the audit log decide
			logs.Warnf("order %s: status poll %d failed: %v", ticket.BrokerID, attempt, err)
			return VerifyResult{}, false
		}
		switch broker.MapOrderStatus(state.Status) {
		case schema.OrderStatusFilled:
			price, ok := executionPrice(state)
			if !ok {
				// the audit log carries the real execution price
				return VerifyResult{}, false
			}
			return VerifyResult{
				Outcome: OutcomeFilled,
				Fill: schema.Fill{
					Price:    price,
					Quantity: filledQuantity(state),
					Source:   schema.FillSourceStatus,
				},
			}, true
		case schema.OrderStatusRejected:
			return VerifyResult{Outcome: OutcomeRejected}, true
		case schema.OrderStatusCancelled:
			if state.ExecQuantity > 0 {
				price, ok := executionPrice(state)
				if !ok {
					return VerifyResult{}, false
				}
				return VerifyResult{
					Outcome: OutcomePartiallyFilled,
					Fill: schema.Fill{
						Price:    price,
						Quantity: state.ExecQuantity,
						Source:   schema.FillSourceStatus,
					},
				}, true
			}
			return VerifyResult{Outcome: OutcomeCancelled}, true
		}
		if attempt < statusPollAttempts {
			g.sleep(statusPollDelay)
		}
	}
	return VerifyResult{}, false
}

// stage 2: query the account audit log, which lags the order book.
func (g *Gateway) verifyByActivities(ctx context.Context, ticket *schema.OrderTicket) (VerifyResult, bool) {
	for attempt := 1; attempt <= activityAttempts; attempt++ {
		events, err := g.broker.Activities(ctx, ticket.BrokerID)
		if err != nil {
			logs.Warnf("order %s: activities attempt %d failed: %v", ticket.BrokerID, attempt, err)
		} else if fill, ok := sumActivities(events, ticket.Symbol); ok {
			if fill.Quantity >= ticket.Quantity {
				fill.Quantity = ticket.Quantity
				return VerifyResult{Outcome: OutcomeFilled, Fill: fill}, true
			}
			return VerifyResult{Outcome: OutcomePartiallyFilled, Fill: fill}, true
		}
		if attempt < activityAttempts {
			g.sleep(activityDelay)
		}
	}
	return VerifyResult{}, false
}

// stage 3: infer from the position book. A matching position that appeared
// after an opening order counts as a fill at its per-contract cost basis; a
// vanished position confirms a closing order.
func (g *Gateway) verifyByPositions(ctx context.Context, ticket *schema.OrderTicket) (VerifyResult, bool) {
	positions, err := g.broker.Positions(ctx)
	if err != nil {
		logs.Warnf("order %s: position inference failed: %v", ticket.BrokerID, err)
		return VerifyResult{}, false
	}

	var held *broker.Position
	for i := range positions {
		if positions[i].Symbol == ticket.Symbol {
			held = &positions[i]
			break
		}
	}

	if !ticket.Side.Opening() {
		if held == nil {
			// position gone: the close executed, price unknown at this stage
			return VerifyResult{
				Outcome: OutcomeFilled,
				Fill:    schema.Fill{Quantity: ticket.Quantity, Source: schema.FillSourcePosition},
			}, true
		}
		return VerifyResult{}, false
	}

	if held == nil {
		return VerifyResult{}, false
	}
	qty := held.Quantity
	if qty < 0 {
		qty = -qty
	}
	prior := ticket.PriorQuantity
	if prior < 0 {
		prior = -prior
	}
	// only contracts added since the pre-order snapshot count; a holding
	// that predates this order is not its fill
	delta := qty - prior
	if delta < ticket.Quantity {
		return VerifyResult{}, false
	}
	price := decimal.Zero
	if delta > 0 {
		price = held.CostBasis.Abs().Sub(ticket.PriorCostBasis.Abs()).
			Div(decimal.NewFromInt(delta * optionContractSize)).Abs()
	}
	return VerifyResult{
		Outcome: OutcomeFilled,
		Fill:    schema.Fill{Price: price, Quantity: ticket.Quantity, Source: schema.FillSourcePosition},
	}, true
}

// executionPrice returns the execution average when the broker reports one.
// The submitted limit is never a substitute; without an average the caller
// falls through to the audit log.
func executionPrice(state broker.OrderState) (decimal.Decimal, bool) {
	if state.AvgFillPrice.IsPositive() {
		return state.AvgFillPrice, true
	}
	return decimal.Decimal{}, false
}

func filledQuantity(state broker.OrderState) int64 {
	if state.ExecQuantity > 0 {
		return state.ExecQuantity
	}
	return state.Quantity
}

// sumActivities volume-weights trade records for the ticket's symbol.
func sumActivities(events []broker.Activity, symbol string) (schema.Fill, bool) {
	var (
		qty    int64
		volume decimal.Decimal
	)
	for _, ev := range events {
		if !strings.EqualFold(ev.Type, "trade") || ev.Symbol != symbol {
			continue
		}
		n := ev.Quantity
		if n < 0 {
			n = -n
		}
		qty += n
		volume = volume.Add(ev.Price.Mul(decimal.NewFromInt(n)))
	}
	if qty == 0 {
		return schema.Fill{}, false
	}
	return schema.Fill{
		Price:    volume.Div(decimal.NewFromInt(qty)),
		Quantity: qty,
		Source:   schema.FillSourceActivity,
	}, true
}
