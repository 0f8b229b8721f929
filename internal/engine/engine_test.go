package engine

import (
	"context"
	"strconv"
	"testing"
	"time"

	"main/internal/breaker"
	"main/internal/broker"
	"main/internal/gateway"
	"main/internal/notify"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	outcome gateway.VerifyOutcome
	fill    schema.Fill
	err     error
}

// fakeGateway fills every order at its limit price unless a script says
// otherwise. Scripts are keyed by "symbol/side" and consumed in order.
type fakeGateway struct {
	script        map[string][]scripted
	orphanCancels map[string]bool
	placed        []broker.OrderSpec
	cancelled     []string
	nextID        int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		script:        make(map[string][]scripted),
		orphanCancels: make(map[string]bool),
	}
}

func (f *fakeGateway) on(symbol string, side schema.OrderSide, s scripted) {
	key := symbol + "/" + side.String()
	f.script[key] = append(f.script[key], s)
}

func (f *fakeGateway) Place(_ context.Context, spec broker.OrderSpec) (*schema.OrderTicket, gateway.VerifyResult, error) {
	f.placed = append(f.placed, spec)
	f.nextID++
	ticket := &schema.OrderTicket{
		LocalID:  uint64(f.nextID),
		BrokerID: strconv.FormatInt(f.nextID, 10),
		Symbol:   spec.Symbol,
		Side:     spec.Side,
		Quantity: spec.Quantity,
		Type:     spec.Type,
		Status:   schema.OrderStatusOpen,
	}

	key := spec.Symbol + "/" + spec.Side.String()
	if q := f.script[key]; len(q) > 0 {
		s := q[0]
		f.script[key] = q[1:]
		if s.err != nil {
			return nil, gateway.VerifyResult{}, s.err
		}
		switch s.outcome {
		case gateway.OutcomeFilled:
			ticket.Status = schema.OrderStatusFilled
		case gateway.OutcomePartiallyFilled:
			ticket.Status = schema.OrderStatusPartiallyFilled
		case gateway.OutcomeRejected:
			ticket.Status = schema.OrderStatusRejected
		case gateway.OutcomeCancelled:
			ticket.Status = schema.OrderStatusCancelled
		}
		return ticket, gateway.VerifyResult{Outcome: s.outcome, Fill: s.fill}, nil
	}

	price, _ := decimal.NewFromString(spec.LimitPrice)
	ticket.Status = schema.OrderStatusFilled
	return ticket, gateway.VerifyResult{
		Outcome: gateway.OutcomeFilled,
		Fill:    schema.Fill{Price: price, Quantity: spec.Quantity, Source: schema.FillSourceStatus},
	}, nil
}

func (f *fakeGateway) Verify(_ context.Context, ticket *schema.OrderTicket) gateway.VerifyResult {
	return gateway.VerifyResult{
		Outcome: gateway.OutcomeFilled,
		Fill:    schema.Fill{Price: ticket.LimitPrice, Quantity: ticket.Quantity, Source: schema.FillSourceStatus},
	}
}

func (f *fakeGateway) Cancel(_ context.Context, ticket *schema.OrderTicket) error {
	f.cancelled = append(f.cancelled, ticket.BrokerID)
	if f.orphanCancels[ticket.Symbol] {
		ticket.Status = schema.OrderStatusOrphaned
		return exception.ErrOrderCancelUnconfirmed
	}
	ticket.Status = schema.OrderStatusCancelled
	return nil
}

func (f *fakeGateway) ordersFor(symbol string, side schema.OrderSide) int {
	n := 0
	for _, spec := range f.placed {
		if spec.Symbol == symbol && spec.Side == side {
			n++
		}
	}
	return n
}

func (f *fakeGateway) closingOrders() []broker.OrderSpec {
	var out []broker.OrderSpec
	for _, spec := range f.placed {
		if !spec.Side.Opening() {
			out = append(out, spec)
		}
	}
	return out
}

type fakeQuotes map[string]schema.Quote

func (f fakeQuotes) Quote(_ context.Context, symbol string) (schema.Quote, error) {
	q, ok := f[symbol]
	if !ok {
		return schema.Quote{}, exception.ErrStreamUnknownSymbol
	}
	return q, nil
}

func newTestEngine(gw OrderGateway, quotes QuoteSource, policy StopPolicy) (*Engine, *breaker.Breaker) {
	b := breaker.New(breaker.DefaultConfig())
	e := New(DefaultConfig(), gw, quotes, b, policy, notify.NewLog())
	e.sleep = func(time.Duration) {}
	return e, b
}

func price(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func stranglePlan() EntryPlan {
	return EntryPlan{
		StrategyID: "strangle-45d",
		Underlying: "SPY",
		Legs: []schema.LegSpec{
			{Symbol: "SPY250919P00540000", Role: schema.LegRoleIncome, Side: schema.OrderSideSellToOpen, Quantity: 1, LimitPrice: price(1.00)},
			{Symbol: "SPY250919C00560000", Role: schema.LegRoleIncome, Side: schema.OrderSideSellToOpen, Quantity: 1, LimitPrice: price(1.50)},
		},
	}
}

func condorPlan() EntryPlan {
	return EntryPlan{
		StrategyID: "condor",
		Underlying: "SPY",
		Legs: []schema.LegSpec{
			{Symbol: "SHORT-PUT", Role: schema.LegRoleIncome, Side: schema.OrderSideSellToOpen, Quantity: 1, LimitPrice: price(1.20)},
			{Symbol: "LONG-PUT", Role: schema.LegRoleProtection, Side: schema.OrderSideBuyToOpen, Quantity: 1, LimitPrice: price(0.40)},
			{Symbol: "SHORT-CALL", Role: schema.LegRoleIncome, Side: schema.OrderSideSellToOpen, Quantity: 1, LimitPrice: price(1.10)},
			{Symbol: "LONG-CALL", Role: schema.LegRoleProtection, Side: schema.OrderSideBuyToOpen, Quantity: 1, LimitPrice: price(0.35)},
		},
	}
}

func TestEnterPlacesProtectionBeforeIncome(t *testing.T) {
	gw := newFakeGateway()
	e, _ := newTestEngine(gw, fakeQuotes{}, CreditStop{})

	group, err := e.Enter(context.Background(), condorPlan())
	require.NoError(t, err)
	require.Equal(t, schema.GroupStateOpen, group.State)

	require.Len(t, gw.placed, 4)
	assert.Equal(t, "LONG-PUT", gw.placed[0].Symbol)
	assert.Equal(t, "LONG-CALL", gw.placed[1].Symbol)
	assert.Equal(t, "SHORT-PUT", gw.placed[2].Symbol)
	assert.Equal(t, "SHORT-CALL", gw.placed[3].Symbol)

	// never complete without every leg verified
	assert.True(t, group.Complete())
	// 1.20 + 1.10 - 0.40 - 0.35
	assert.Equal(t, "1.55", group.NetCredit().String())
}

func TestEnterFailedIncomeLegUnwindsExactlyFilledLegs(t *testing.T) {
	gw := newFakeGateway()
	// second income leg exhausts its whole retry budget
	for i := 0; i < 3; i++ {
		gw.on("SHORT-CALL", schema.OrderSideSellToOpen, scripted{outcome: gateway.OutcomeRejected})
	}
	e, _ := newTestEngine(gw, fakeQuotes{}, CreditStop{})

	group, err := e.Enter(context.Background(), condorPlan())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrEngineLegFailed)
	require.NotNil(t, group)
	assert.Equal(t, schema.GroupStateFailed, group.State)

	// exactly one unwind order per filled leg: both protections and the
	// first income leg
	closing := gw.closingOrders()
	require.Len(t, closing, 3)
	symbols := map[string]bool{}
	for _, spec := range closing {
		symbols[spec.Symbol] = true
	}
	assert.True(t, symbols["LONG-PUT"])
	assert.True(t, symbols["LONG-CALL"])
	assert.True(t, symbols["SHORT-PUT"])

	// unwind sides invert the entry sides
	for _, spec := range closing {
		if spec.Symbol == "SHORT-PUT" {
			assert.Equal(t, schema.OrderSideBuyToClose, spec.Side)
		} else {
			assert.Equal(t, schema.OrderSideSellToClose, spec.Side)
		}
	}
}

func TestEnterUnwindFailureSurfaces(t *testing.T) {
	gw := newFakeGateway()
	for i := 0; i < 3; i++ {
		gw.on("SHORT-CALL", schema.OrderSideSellToOpen, scripted{outcome: gateway.OutcomeRejected})
	}
	// the short put buyback fails its single unwind attempt
	gw.on("SHORT-PUT", schema.OrderSideBuyToClose, scripted{outcome: gateway.OutcomeRejected})

	e, _ := newTestEngine(gw, fakeQuotes{}, CreditStop{})
	group, err := e.Enter(context.Background(), condorPlan())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrEngineUnwindFailed)
	assert.Equal(t, schema.GroupStateFailed, group.State)
}

func TestEnterBlockedByBreaker(t *testing.T) {
	gw := newFakeGateway()
	e, b := newTestEngine(gw, fakeQuotes{}, CreditStop{})
	for i := 0; i < 3; i++ {
		b.RecordFailure(time.Now())
	}

	_, err := e.Enter(context.Background(), stranglePlan())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrBreakerOpen)
	assert.Empty(t, gw.placed)
}

func TestEnterBlockedWhileOrphanUnresolved(t *testing.T) {
	gw := newFakeGateway()
	e, _ := newTestEngine(gw, fakeQuotes{}, CreditStop{})
	e.SetEntryBlock(true, "orphan position unresolved")

	_, err := e.Enter(context.Background(), stranglePlan())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrEngineEntryBlocked)
	assert.Empty(t, gw.placed)
}

func TestCreditStopLevelEqualsCollectedCredit(t *testing.T) {
	splits := [][2]float64{{1.00, 1.50}, {0.50, 2.00}, {2.49, 0.01}}
	for _, split := range splits {
		gw := newFakeGateway()
		e, _ := newTestEngine(gw, fakeQuotes{}, CreditStop{})

		plan := stranglePlan()
		plan.Legs[0].LimitPrice = price(split[0])
		plan.Legs[1].LimitPrice = price(split[1])

		group, err := e.Enter(context.Background(), plan)
		require.NoError(t, err)

		level := CreditStop{}.StopLevel(group)
		assert.True(t, level.Equal(group.NetCredit()),
			"split %v: stop %s != credit %s", split, level, group.NetCredit())
		assert.Equal(t, "2.5", level.String())
	}
}

func TestBreakevenStopNetsToZero(t *testing.T) {
	// one side stopped at the full credit, the other bought back worthless:
	// realized P&L is zero before commission, whatever the split.
	gw := newFakeGateway()
	gw.on("SPY250919P00540000", schema.OrderSideBuyToClose, scripted{
		outcome: gateway.OutcomeFilled,
		fill:    schema.Fill{Price: price(2.50), Quantity: 1, Source: schema.FillSourceStatus},
	})
	gw.on("SPY250919C00560000", schema.OrderSideBuyToClose, scripted{
		outcome: gateway.OutcomeFilled,
		fill:    schema.Fill{Price: decimal.Zero, Quantity: 1, Source: schema.FillSourceStatus},
	})
	e, _ := newTestEngine(gw, fakeQuotes{}, CreditStop{})

	group, err := e.Enter(context.Background(), stranglePlan())
	require.NoError(t, err)
	require.Equal(t, "2.5", group.NetCredit().String())

	result, err := e.Close(context.Background(), group.ID, "stop_loss")
	require.NoError(t, err)
	assert.True(t, result.Realized.IsZero(), "realized %s, want 0", result.Realized)
	assert.Equal(t, schema.GroupStateClosed, group.State)
	assert.Equal(t, "stop_loss", group.CloseReason)
}

func TestMonitorStopsClosesBreachedGroup(t *testing.T) {
	gw := newFakeGateway()
	quotes := fakeQuotes{
		"SPY250919P00540000": {Symbol: "SPY250919P00540000", Bid: price(2.55), Ask: price(2.65)},
		"SPY250919C00560000": {Symbol: "SPY250919C00560000", Bid: price(0.04), Ask: price(0.06)},
	}
	e, _ := newTestEngine(gw, quotes, CreditStop{})

	group, err := e.Enter(context.Background(), stranglePlan())
	require.NoError(t, err)

	// put mid 2.60 >= stop level 2.50: the whole group comes off
	e.MonitorStops(context.Background())
	assert.Equal(t, schema.GroupStateClosed, group.State)
	assert.Equal(t, "stop_loss", group.CloseReason)
	assert.Len(t, gw.closingOrders(), 2)
}

func TestMonitorStopsSkipsOnQuoteFailure(t *testing.T) {
	gw := newFakeGateway()
	e, _ := newTestEngine(gw, fakeQuotes{}, CreditStop{})

	group, err := e.Enter(context.Background(), stranglePlan())
	require.NoError(t, err)

	e.MonitorStops(context.Background())
	assert.Equal(t, schema.GroupStateOpen, group.State, "no quote must not force an exit")
}

func TestCloseUnknownAndTerminalGroups(t *testing.T) {
	gw := newFakeGateway()
	e, _ := newTestEngine(gw, fakeQuotes{}, CreditStop{})

	_, err := e.Close(context.Background(), 42, "manual")
	assert.ErrorIs(t, err, exception.ErrEngineGroupNotFound)

	group, err := e.Enter(context.Background(), stranglePlan())
	require.NoError(t, err)
	_, err = e.Close(context.Background(), group.ID, "manual")
	require.NoError(t, err)

	_, err = e.Close(context.Background(), group.ID, "manual")
	assert.ErrorIs(t, err, exception.ErrEngineGroupTerminal)
}

func TestEmergencyCloseExhaustionEntersCritical(t *testing.T) {
	gw := newFakeGateway()
	// the put buyback fails the entire close budget
	for i := 0; i < 3; i++ {
		gw.on("SPY250919P00540000", schema.OrderSideBuyToClose, scripted{outcome: gateway.OutcomeRejected})
	}
	e, b := newTestEngine(gw, fakeQuotes{}, CreditStop{})

	group, err := e.Enter(context.Background(), stranglePlan())
	require.NoError(t, err)

	// trip the breaker; the hook defers the emergency close to the drain
	for i := 0; i < 3; i++ {
		b.RecordFailure(time.Now())
	}
	e.DrainEmergency(context.Background())

	assert.Equal(t, breaker.StateCritical, b.State())
	assert.Equal(t, schema.GroupStateClosing, group.State)

	// critical intervention blocks everything until an operator acks
	_, err = e.Enter(context.Background(), stranglePlan())
	assert.ErrorIs(t, err, exception.ErrBreakerCritical)
}

func TestStopBreachCloseExhaustionEscalates(t *testing.T) {
	gw := newFakeGateway()
	// the breached put's buyback fails its entire budget
	for i := 0; i < 3; i++ {
		gw.on("SPY250919P00540000", schema.OrderSideBuyToClose, scripted{outcome: gateway.OutcomeRejected})
	}
	quotes := fakeQuotes{
		"SPY250919P00540000": {Symbol: "SPY250919P00540000", Bid: price(2.55), Ask: price(2.65)},
		"SPY250919C00560000": {Symbol: "SPY250919C00560000", Bid: price(0.04), Ask: price(0.06)},
	}
	e, b := newTestEngine(gw, quotes, CreditStop{})

	group, err := e.Enter(context.Background(), stranglePlan())
	require.NoError(t, err)

	// the breach close runs out of budget: operator escalation, not silence
	e.MonitorStops(context.Background())
	assert.Equal(t, breaker.StateCritical, b.State())
	assert.Equal(t, schema.GroupStateClosing, group.State)

	// the next pass keeps driving the close and finishes it
	e.MonitorStops(context.Background())
	assert.Equal(t, schema.GroupStateClosed, group.State)
	assert.Equal(t, "stop_loss", group.CloseReason)
	assert.Equal(t, 4, gw.ordersFor("SPY250919P00540000", schema.OrderSideBuyToClose))
	assert.Equal(t, 1, gw.ordersFor("SPY250919C00560000", schema.OrderSideBuyToClose))
}

func TestResumedCloseSkipsAlreadyClosedLegs(t *testing.T) {
	gw := newFakeGateway()
	gw.on("SPY250919P00540000", schema.OrderSideBuyToClose, scripted{
		outcome: gateway.OutcomeFilled,
		fill:    schema.Fill{Price: price(2.50), Quantity: 1, Source: schema.FillSourceStatus},
	})
	// the call buyback fails the whole budget on the first pass
	for i := 0; i < 3; i++ {
		gw.on("SPY250919C00560000", schema.OrderSideBuyToClose, scripted{outcome: gateway.OutcomeRejected})
	}
	e, _ := newTestEngine(gw, fakeQuotes{}, CreditStop{})

	group, err := e.Enter(context.Background(), stranglePlan())
	require.NoError(t, err)

	_, err = e.Close(context.Background(), group.ID, "manual")
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrEngineLegFailed)
	assert.Equal(t, schema.GroupStateClosing, group.State)
	require.Equal(t, 1, gw.ordersFor("SPY250919P00540000", schema.OrderSideBuyToClose))

	e.MonitorStops(context.Background())
	assert.Equal(t, schema.GroupStateClosed, group.State)
	assert.Equal(t, "manual", group.CloseReason)
	// the put was already bought back; the retry must not buy it again
	assert.Equal(t, 1, gw.ordersFor("SPY250919P00540000", schema.OrderSideBuyToClose))
	assert.Equal(t, 4, gw.ordersFor("SPY250919C00560000", schema.OrderSideBuyToClose))
}

func TestAmbiguousLegCancelFailureTracksOrphanedTicket(t *testing.T) {
	gw := newFakeGateway()
	gw.on("SHORT-CALL", schema.OrderSideSellToOpen, scripted{outcome: gateway.OutcomeAmbiguous})
	gw.orphanCancels["SHORT-CALL"] = true
	e, _ := newTestEngine(gw, fakeQuotes{}, CreditStop{})

	group, err := e.Enter(context.Background(), condorPlan())
	require.Error(t, err)
	assert.Equal(t, schema.GroupStateFailed, group.State)

	// the unconfirmed cancel outlives the failed group
	orphans := e.OrphanedTickets()
	require.Len(t, orphans, 1)
	assert.Equal(t, "SHORT-CALL", orphans[0].Symbol)
	assert.Equal(t, schema.OrderStatusOrphaned, orphans[0].Status)
}

func TestRestoreKeepsGroupIDsMonotonic(t *testing.T) {
	gw := newFakeGateway()
	e, _ := newTestEngine(gw, fakeQuotes{}, CreditStop{})

	e.Restore([]*schema.PositionGroup{
		{ID: 7, State: schema.GroupStateOpen, Underlying: "SPY"},
	})

	group, err := e.Enter(context.Background(), stranglePlan())
	require.NoError(t, err)
	assert.Equal(t, uint64(8), group.ID)
	assert.Len(t, e.OpenGroups(), 2)
}
