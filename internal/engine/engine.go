package engine

import (
	"context"
	"time"

	"main/internal/breaker"
	"main/internal/broker"
	"main/internal/gateway"
	"main/internal/notify"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// OrderGateway is the slice of the gateway the engine drives.
type OrderGateway interface {
	Place(ctx context.Context, spec broker.OrderSpec) (*schema.OrderTicket, gateway.VerifyResult, error)
	Verify(ctx context.Context, ticket *schema.OrderTicket) gateway.VerifyResult
	Cancel(ctx context.Context, ticket *schema.OrderTicket) error
}

// QuoteSource yields a fresh quote or an error, never a stale one.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (schema.Quote, error)
}

// Config tunes the execution budgets.
type Config struct {
	// LegRetries bounds placement attempts per entry leg.
	LegRetries int
	// CloseRetries bounds attempts per leg when closing a group.
	CloseRetries int
	// RetryDelay spaces attempts.
	RetryDelay time.Duration
	// Slippage is the absolute allowance added past the touch when pricing
	// marketable limit orders.
	Slippage decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		LegRetries:   3,
		CloseRetries: 3,
		RetryDelay:   2 * time.Second,
		Slippage:     decimal.NewFromFloat(0.10),
	}
}

// CloseResult summarizes an executed group close.
type CloseResult struct {
	GroupID uint64
	// Debit is the per-contract cost of closing every filled leg.
	Debit decimal.Decimal
	// Realized is collected credit minus Debit, per contract, before
	// commission.
	Realized decimal.Decimal
}

// Engine executes multi-leg entries and exits as atomic sequences. It runs
// on the control loop; nothing here is safe for concurrent use.
//
// An entry places and verifies every protection leg before the first income
// leg, so no moment exists where a short option lacks its hedge. Any leg
// failure unwinds whatever already filled; a group is Open or it is Failed,
// never partially open.
type Engine struct {
	cfg      Config
	gw       OrderGateway
	quotes   QuoteSource
	guard    *breaker.Breaker
	policy   StopPolicy
	notifier notify.Notifier

	groups      map[uint64]*schema.PositionGroup
	nextGroupID uint64

	// orphans are tickets whose cancel was never confirmed, detached from
	// any live group. Reconciliation surfaces every one of them each cycle.
	orphans []*schema.OrderTicket

	// OnClosed fires after a group reaches Closed, for registry release
	// and journaling. It runs on the control loop.
	OnClosed func(group *schema.PositionGroup, result CloseResult)

	entryBlocked bool
	blockReason  string
	// emergencyPending is set by the breaker trip hook and drained on the
	// next loop iteration, never mid-operation.
	emergencyPending bool

	now   func() time.Time
	sleep func(time.Duration)
}

func New(cfg Config, gw OrderGateway, quotes QuoteSource, guard *breaker.Breaker, policy StopPolicy, notifier notify.Notifier) *Engine {
	if cfg.LegRetries <= 0 {
		cfg = DefaultConfig()
	}
	e := &Engine{
		cfg:      cfg,
		gw:       gw,
		quotes:   quotes,
		guard:    guard,
		policy:   policy,
		notifier: notifier,
		groups:   make(map[uint64]*schema.PositionGroup),
		now:      time.Now,
		sleep:    time.Sleep,
	}
	guard.OnTrip(func() { e.emergencyPending = true })
	return e
}

// SetEntryBlock gates new entries, e.g. while an orphan is unresolved.
func (e *Engine) SetEntryBlock(blocked bool, reason string) {
	e.entryBlocked = blocked
	e.blockReason = reason
}

// Group returns the group by id.
func (e *Engine) Group(id uint64) (*schema.PositionGroup, bool) {
	g, ok := e.groups[id]
	return g, ok
}

// OpenGroups returns every group currently holding risk.
func (e *Engine) OpenGroups() []*schema.PositionGroup {
	out := make([]*schema.PositionGroup, 0, len(e.groups))
	for _, g := range e.groups {
		if g.State == schema.GroupStateOpen || g.State == schema.GroupStateClosing {
			out = append(out, g)
		}
	}
	return out
}

// Groups returns every tracked group, open or terminal.
func (e *Engine) Groups() []*schema.PositionGroup {
	out := make([]*schema.PositionGroup, 0, len(e.groups))
	for _, g := range e.groups {
		out = append(out, g)
	}
	return out
}

// Restore loads persisted groups after a restart.
func (e *Engine) Restore(groups []*schema.PositionGroup) {
	for _, g := range groups {
		e.groups[g.ID] = g
		if g.ID >= e.nextGroupID {
			e.nextGroupID = g.ID
		}
	}
}

// RestoreOrphans loads persisted unconfirmed-cancel tickets.
func (e *Engine) RestoreOrphans(tickets []*schema.OrderTicket) {
	e.orphans = append(e.orphans, tickets...)
}

// OrphanedTickets returns every tracked ticket whose cancel was never
// confirmed, wherever it came from.
func (e *Engine) OrphanedTickets() []*schema.OrderTicket {
	out := make([]*schema.OrderTicket, len(e.orphans))
	copy(out, e.orphans)
	return out
}

// recordOrphan keeps an unconfirmed cancel visible to reconciliation even
// when its group goes terminal or the ticket belongs to no leg at all.
func (e *Engine) recordOrphan(ticket *schema.OrderTicket) {
	if ticket == nil || ticket.Status != schema.OrderStatusOrphaned {
		return
	}
	e.orphans = append(e.orphans, ticket)
	logs.Errorf("order %s: cancel unconfirmed, ticket orphaned", ticket.BrokerID)
}

// Enter executes one multi-leg entry. Protection legs are placed and
// verified before any income leg. On failure the group comes back in state
// Failed with every filled leg unwound.
func (e *Engine) Enter(ctx context.Context, plan EntryPlan) (*schema.PositionGroup, error) {
	if e.entryBlocked {
		return nil, errors.Wrap(exception.ErrEngineEntryBlocked, e.blockReason)
	}
	if err := e.guard.Allow(e.now()); err != nil {
		return nil, err
	}
	if len(plan.Legs) == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "entry plan has no legs")
	}

	e.nextGroupID++
	group := &schema.PositionGroup{
		ID:                e.nextGroupID,
		StrategyID:        plan.StrategyID,
		Underlying:        plan.Underlying,
		State:             schema.GroupStatePending,
		StopPolicyVersion: e.policy.Version(),
	}
	e.groups[group.ID] = group

	for _, spec := range orderLegs(plan.Legs) {
		leg := &schema.Leg{Spec: spec}
		group.Legs = append(group.Legs, leg)

		if err := e.placeLeg(ctx, plan.Underlying, leg); err != nil {
			logs.Errorf("group %d: leg %s failed, unwinding: %v", group.ID, spec.Symbol, err)
			e.guard.RecordFailure(e.now())
			group.State = schema.GroupStateFailed
			group.CloseReason = "entry_leg_failed"

			if unwindErr := e.unwind(ctx, group); unwindErr != nil {
				e.notifier.Alert(notify.LevelCritical, "entry unwind incomplete", map[string]string{
					"group":  plan.Underlying,
					"detail": unwindErr.Error(),
				})
				return group, errors.Wrap(exception.ErrEngineUnwindFailed, "entry failed").
					With("group_id", group.ID).
					With("leg", spec.Symbol)
			}
			return group, errors.Wrap(exception.ErrEngineLegFailed, "entry failed").
				With("group_id", group.ID).
				With("leg", spec.Symbol)
		}
	}

	group.State = schema.GroupStateOpen
	group.EntryTime = e.now()
	e.guard.RecordSuccess(e.now())
	logs.Infof("group %d open: %s, %d legs, %s credit/contract",
		group.ID, group.Underlying, len(group.Legs), group.NetCredit())
	return group, nil
}

// Close exits one group by id.
func (e *Engine) Close(ctx context.Context, groupID uint64, reason string) (CloseResult, error) {
	group, ok := e.groups[groupID]
	if !ok {
		return CloseResult{}, errors.Wrap(exception.ErrEngineGroupNotFound, "close").
			With("group_id", groupID)
	}
	return e.closeGroup(ctx, group, reason, false)
}

// EmergencyClose exits one group with the emergency budget: exhaustion
// escalates to critical intervention. Reconciliation uses it when an income
// leg has lost its protection sibling.
func (e *Engine) EmergencyClose(ctx context.Context, groupID uint64, reason string) (CloseResult, error) {
	group, ok := e.groups[groupID]
	if !ok {
		return CloseResult{}, errors.Wrap(exception.ErrEngineGroupNotFound, "emergency close").
			With("group_id", groupID)
	}
	return e.closeGroup(ctx, group, reason, true)
}

// DrainEmergency flattens every open group after a breaker trip. The control
// loop calls it once per iteration; it is a no-op unless a trip is pending.
func (e *Engine) DrainEmergency(ctx context.Context) {
	if !e.emergencyPending {
		return
	}
	e.emergencyPending = false

	for _, group := range e.OpenGroups() {
		if _, err := e.closeGroup(ctx, group, "breaker_trip", true); err != nil {
			logs.Errorf("group %d: emergency close failed: %v", group.ID, err)
		}
	}
}

// MonitorStops checks every open income leg against the stop policy and
// closes breached groups. Quote failures skip the check rather than force an
// exit on bad data. A breach close runs with the emergency budget, so
// exhaustion escalates instead of stranding the short past its stop; groups
// stuck in Closing from an interrupted pass are driven again first.
func (e *Engine) MonitorStops(ctx context.Context) {
	for _, group := range e.OpenGroups() {
		if group.State == schema.GroupStateClosing {
			if _, err := e.closeGroup(ctx, group, group.CloseReason, true); err != nil {
				logs.Errorf("group %d: close retry failed: %v", group.ID, err)
			}
			continue
		}
		level := e.policy.StopLevel(group)
		for _, leg := range group.IncomeLegs() {
			if !leg.Filled() {
				continue
			}
			q, err := e.quotes.Quote(ctx, leg.Spec.Symbol)
			if err != nil {
				logs.Warnf("group %d: stop check skipped for %s: %v", group.ID, leg.Spec.Symbol, err)
				continue
			}
			if q.Mid().GreaterThanOrEqual(level) {
				logs.Warnf("group %d: stop breached on %s (%s >= %s)",
					group.ID, leg.Spec.Symbol, q.Mid(), level)
				if _, err := e.closeGroup(ctx, group, "stop_loss", true); err != nil {
					logs.Errorf("group %d: stop close failed: %v", group.ID, err)
				}
				break
			}
		}
	}
}

// placeLeg submits one entry leg and resolves its fill within the retry
// budget. A partial fill cancels the remainder and fails the leg with the
// partial recorded, so the unwind covers it.
func (e *Engine) placeLeg(ctx context.Context, underlying string, leg *schema.Leg) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.LegRetries; attempt++ {
		if attempt > 1 {
			e.sleep(e.cfg.RetryDelay)
		}

		ticket, result, err := e.gw.Place(ctx, broker.OrderSpec{
			Symbol:     leg.Spec.Symbol,
			Underlying: underlying,
			Side:       leg.Spec.Side,
			Quantity:   leg.Spec.Quantity,
			Type:       schema.OrderTypeLimit,
			LimitPrice: leg.Spec.LimitPrice.StringFixed(2),
		})
		if err != nil {
			lastErr = err
			continue
		}
		leg.Ticket = ticket

		switch result.Outcome {
		case gateway.OutcomeFilled:
			leg.FillPrice = result.Fill.Price
			leg.FillQty = result.Fill.Quantity
			leg.Verified = true
			return nil

		case gateway.OutcomePartiallyFilled:
			leg.FillPrice = result.Fill.Price
			leg.FillQty = result.Fill.Quantity
			leg.Verified = true
			_ = e.gw.Cancel(ctx, ticket)
			e.recordOrphan(ticket)
			return errors.Errorf("partial fill %d/%d on %s", result.Fill.Quantity, leg.Spec.Quantity, leg.Spec.Symbol)

		case gateway.OutcomeAmbiguous:
			// cancel resolves the race: either the cancel lands or the
			// order turns out to have filled
			if cancelErr := e.gw.Cancel(ctx, ticket); cancelErr != nil {
				e.recordOrphan(ticket)
				return errors.Wrap(cancelErr, "ambiguous leg left orphaned ticket")
			}
			if ticket.Status == schema.OrderStatusFilled {
				if verified := e.gw.Verify(ctx, ticket); verified.Outcome == gateway.OutcomeFilled {
					leg.FillPrice = verified.Fill.Price
					leg.FillQty = verified.Fill.Quantity
					leg.Verified = true
					return nil
				}
			}
			lastErr = errors.Errorf("attempt %d unfilled on %s", attempt, leg.Spec.Symbol)

		default:
			lastErr = errors.Errorf("attempt %d %s on %s", attempt, result.Outcome, leg.Spec.Symbol)
		}
	}
	if lastErr == nil {
		lastErr = errors.Errorf("leg retry budget exhausted on %s", leg.Spec.Symbol)
	}
	return lastErr
}

// unwind closes every filled leg of a failed entry, one marketable limit
// order per leg.
func (e *Engine) unwind(ctx context.Context, group *schema.PositionGroup) error {
	var failed []string
	for _, leg := range group.FilledLegs() {
		side := leg.Spec.Side.Closing()
		price := e.marketableLimit(ctx, leg.Spec.Symbol, side, leg.FillPrice)

		ticket, result, err := e.gw.Place(ctx, broker.OrderSpec{
			Symbol:     leg.Spec.Symbol,
			Underlying: group.Underlying,
			Side:       side,
			Quantity:   leg.FillQty,
			Type:       schema.OrderTypeLimit,
			LimitPrice: price.StringFixed(2),
		})
		if err != nil || result.Outcome != gateway.OutcomeFilled {
			if ticket != nil && !ticket.Status.Terminal() {
				_ = e.gw.Cancel(ctx, ticket)
				e.recordOrphan(ticket)
			}
			failed = append(failed, leg.Spec.Symbol)
			continue
		}
		leg.FillQty = 0
	}
	if len(failed) > 0 {
		return errors.Errorf("unwind left %d legs exposed: %v", len(failed), failed)
	}
	return nil
}

func (e *Engine) closeGroup(ctx context.Context, group *schema.PositionGroup, reason string, emergency bool) (CloseResult, error) {
	if group.State.Terminal() {
		return CloseResult{}, errors.Wrap(exception.ErrEngineGroupTerminal, "close").
			With("group_id", group.ID).
			With("state", group.State.String())
	}
	group.State = schema.GroupStateClosing
	if group.CloseReason == "" {
		group.CloseReason = reason
	}

	// buy back the shorts before lifting the hedges
	legs := append(group.IncomeLegs(), group.ProtectionLegs()...)

	for _, leg := range legs {
		if !leg.Filled() || leg.Closed {
			continue
		}
		price, err := e.closeLeg(ctx, group.Underlying, leg)
		if err != nil {
			e.guard.RecordFailure(e.now())
			if emergency {
				e.guard.EnterCritical()
				e.notifier.Alert(notify.LevelCritical, "emergency close failed, operator required", map[string]string{
					"group_id": group.Underlying,
					"leg":      leg.Spec.Symbol,
				})
				return CloseResult{}, errors.Wrap(exception.ErrEngineEmergencyClose, "close leg").
					With("group_id", group.ID).
					With("leg", leg.Spec.Symbol)
			}
			return CloseResult{}, errors.Wrap(exception.ErrEngineLegFailed, "close leg").
				With("group_id", group.ID).
				With("leg", leg.Spec.Symbol)
		}
		leg.Closed = true
		leg.ClosePrice = price
	}

	debit := decimal.Zero
	for _, leg := range legs {
		if !leg.Closed {
			continue
		}
		// buying back costs, selling hedges recoups
		if leg.Spec.Side.Closing() == schema.OrderSideBuyToClose {
			debit = debit.Add(leg.ClosePrice)
		} else {
			debit = debit.Sub(leg.ClosePrice)
		}
	}

	credit := group.NetCredit()
	group.State = schema.GroupStateClosed
	group.CloseReason = reason
	e.guard.RecordSuccess(e.now())

	result := CloseResult{
		GroupID:  group.ID,
		Debit:    debit,
		Realized: credit.Sub(debit),
	}
	logs.Infof("group %d closed (%s): credit %s, debit %s, realized %s/contract",
		group.ID, reason, credit, debit, result.Realized)
	if e.OnClosed != nil {
		e.OnClosed(group, result)
	}
	return result, nil
}

// closeLeg exits one filled leg with marketable limit orders, retrying
// within the close budget. Returns the execution price.
func (e *Engine) closeLeg(ctx context.Context, underlying string, leg *schema.Leg) (decimal.Decimal, error) {
	side := leg.Spec.Side.Closing()

	var lastErr error
	for attempt := 1; attempt <= e.cfg.CloseRetries; attempt++ {
		if attempt > 1 {
			e.sleep(e.cfg.RetryDelay)
		}
		price := e.marketableLimit(ctx, leg.Spec.Symbol, side, leg.FillPrice)

		ticket, result, err := e.gw.Place(ctx, broker.OrderSpec{
			Symbol:     leg.Spec.Symbol,
			Underlying: underlying,
			Side:       side,
			Quantity:   leg.FillQty,
			Type:       schema.OrderTypeLimit,
			LimitPrice: price.StringFixed(2),
		})
		if err != nil {
			lastErr = err
			continue
		}
		if result.Outcome == gateway.OutcomeFilled {
			return result.Fill.Price, nil
		}
		if ticket != nil && !ticket.Status.Terminal() {
			_ = e.gw.Cancel(ctx, ticket)
			e.recordOrphan(ticket)
		}
		lastErr = errors.Errorf("close attempt %d %s on %s", attempt, result.Outcome, leg.Spec.Symbol)
	}
	return decimal.Zero, lastErr
}

// marketableLimit prices an order to cross the spread with a bounded
// allowance past the touch. When no quote is available the leg's own fill
// price anchors the limit.
func (e *Engine) marketableLimit(ctx context.Context, symbol string, side schema.OrderSide, anchor decimal.Decimal) decimal.Decimal {
	buying := side == schema.OrderSideBuyToClose || side == schema.OrderSideBuyToOpen

	base := anchor
	if q, err := e.quotes.Quote(ctx, symbol); err == nil {
		if buying && q.Ask.IsPositive() {
			base = q.Ask
		} else if !buying && q.Bid.IsPositive() {
			base = q.Bid
		}
	} else {
		logs.Warnf("no quote for %s, anchoring limit on fill price: %v", symbol, err)
	}

	if buying {
		return base.Add(e.cfg.Slippage)
	}
	floor := decimal.NewFromFloat(0.01)
	price := base.Sub(e.cfg.Slippage)
	if price.LessThan(floor) {
		return floor
	}
	return price
}

// orderLegs puts protection ahead of income, preserving relative order
// within each role.
func orderLegs(legs []schema.LegSpec) []schema.LegSpec {
	out := make([]schema.LegSpec, 0, len(legs))
	for _, l := range legs {
		if l.Role == schema.LegRoleProtection {
			out = append(out, l)
		}
	}
	for _, l := range legs {
		if l.Role != schema.LegRoleProtection {
			out = append(out, l)
		}
	}
	return out
}
