package reconcile

import (
	"context"
	"testing"
	"time"

	"main/internal/broker"
	"main/internal/engine"
	"main/internal/notify"
	"main/internal/registry"
	"main/internal/schema"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePositions struct {
	positions []broker.Position
	err       error
}

func (f *fakePositions) Positions(context.Context) ([]broker.Position, error) {
	return f.positions, f.err
}

type fakeRegistrar map[string]registry.Entry

func (f fakeRegistrar) Entries(context.Context) (map[string]registry.Entry, error) {
	return f, nil
}

type fakeGroups struct {
	groups  []*schema.PositionGroup
	orphans []*schema.OrderTicket
	blocked bool
	reason  string
	closed  []uint64
}

func (f *fakeGroups) OpenGroups() []*schema.PositionGroup {
	out := make([]*schema.PositionGroup, 0, len(f.groups))
	for _, g := range f.groups {
		if g.State == schema.GroupStateOpen || g.State == schema.GroupStateClosing {
			out = append(out, g)
		}
	}
	return out
}

func (f *fakeGroups) Groups() []*schema.PositionGroup { return f.groups }

func (f *fakeGroups) OrphanedTickets() []*schema.OrderTicket { return f.orphans }

func (f *fakeGroups) SetEntryBlock(blocked bool, reason string) {
	f.blocked = blocked
	f.reason = reason
}

func (f *fakeGroups) EmergencyClose(_ context.Context, groupID uint64, reason string) (engine.CloseResult, error) {
	f.closed = append(f.closed, groupID)
	for _, g := range f.groups {
		if g.ID == groupID {
			g.State = schema.GroupStateClosed
			g.CloseReason = reason
		}
	}
	return engine.CloseResult{GroupID: groupID}, nil
}

type captureNotifier struct {
	messages []string
}

func (c *captureNotifier) Alert(_ notify.Level, msg string, _ map[string]string) {
	c.messages = append(c.messages, msg)
}

func filledLeg(symbol string, role schema.LegRole) *schema.Leg {
	side := schema.OrderSideSellToOpen
	if role == schema.LegRoleProtection {
		side = schema.OrderSideBuyToOpen
	}
	return &schema.Leg{
		Spec:      schema.LegSpec{Symbol: symbol, Role: role, Side: side, Quantity: 1},
		FillPrice: decimal.NewFromFloat(1.00),
		FillQty:   1,
		Verified:  true,
	}
}

func position(symbol string) broker.Position {
	return broker.Position{Symbol: symbol, Quantity: -1}
}

func newTestReconciler(pos *fakePositions, reg fakeRegistrar, groups *fakeGroups) (*Reconciler, *captureNotifier) {
	notifier := &captureNotifier{}
	r := New(Config{BotID: "bot-a", Underlying: "SPY", Interval: 5 * time.Minute}, pos, reg, groups, notifier)
	return r, notifier
}

func TestCleanPassUnblocksEntries(t *testing.T) {
	groups := &fakeGroups{
		groups: []*schema.PositionGroup{{
			ID:    1,
			State: schema.GroupStateOpen,
			Legs: []*schema.Leg{
				filledLeg("SPY250919P00540000", schema.LegRoleIncome),
				filledLeg("SPY250919C00560000", schema.LegRoleIncome),
			},
		}},
		blocked: true, // left over from an earlier orphan
	}
	pos := &fakePositions{positions: []broker.Position{
		position("SPY250919P00540000"),
		position("SPY250919C00560000"),
	}}
	reg := fakeRegistrar{
		"SPY250919P00540000": {Key: "SPY250919P00540000", Owner: "bot-a"},
		"SPY250919C00560000": {Key: "SPY250919C00560000", Owner: "bot-a"},
	}

	r, _ := newTestReconciler(pos, reg, groups)
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.False(t, groups.blocked, "clean pass must unblock entries")
}

func TestUnregisteredPositionIsOrphanAndBlocksEntries(t *testing.T) {
	groups := &fakeGroups{}
	pos := &fakePositions{positions: []broker.Position{position("SPY250919P00530000")}}
	r, notifier := newTestReconciler(pos, fakeRegistrar{}, groups)

	var seen []string
	r.OnOrphan = func(symbol string) { seen = append(seen, symbol) }

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SPY250919P00530000"}, report.Orphans)
	assert.Equal(t, []string{"SPY250919P00530000"}, seen)
	assert.True(t, groups.blocked)
	assert.Contains(t, notifier.messages, "orphan position detected")
}

func TestPositionOwnedByOtherBotIsIgnored(t *testing.T) {
	groups := &fakeGroups{}
	pos := &fakePositions{positions: []broker.Position{position("SPY250919P00530000")}}
	reg := fakeRegistrar{
		"SPY250919P00530000": {Key: "SPY250919P00530000", Owner: "bot-b"},
	}

	r, _ := newTestReconciler(pos, reg, groups)
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.False(t, groups.blocked)
}

func TestUnderlyingStockPositionOutOfScope(t *testing.T) {
	groups := &fakeGroups{}
	pos := &fakePositions{positions: []broker.Position{position("SPY"), position("QQQ250919P00450000")}}

	r, _ := newTestReconciler(pos, fakeRegistrar{}, groups)
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean(), "stock and foreign-underlying positions are out of scope")
}

func TestNakedIncomeLegEmergencyClosedWithinOneCycle(t *testing.T) {
	group := &schema.PositionGroup{
		ID:    4,
		State: schema.GroupStateOpen,
		Legs: []*schema.Leg{
			filledLeg("SPY250919P00520000", schema.LegRoleProtection),
			filledLeg("SPY250919P00540000", schema.LegRoleIncome),
		},
	}
	groups := &fakeGroups{groups: []*schema.PositionGroup{group}}
	// the protection leg vanished (early assignment / manual close);
	// the short is still there
	pos := &fakePositions{positions: []broker.Position{position("SPY250919P00540000")}}
	reg := fakeRegistrar{
		"SPY250919P00540000": {Key: "SPY250919P00540000", Owner: "bot-a"},
	}

	r, notifier := newTestReconciler(pos, reg, groups)
	var losses []string
	r.OnUnexpectedLoss = func(_ uint64, symbol string) { losses = append(losses, symbol) }

	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SPY250919P00520000"}, report.MissingLegs)
	assert.Equal(t, []string{"SPY250919P00520000"}, losses)
	require.Equal(t, []uint64{4}, report.NakedClosed, "naked income must not survive the cycle")
	assert.Equal(t, "naked_income", group.CloseReason)
	assert.Contains(t, notifier.messages, "expected leg missing at broker")
}

func TestMissingIncomeLegAlertsWithoutEmergencyClose(t *testing.T) {
	group := &schema.PositionGroup{
		ID:    5,
		State: schema.GroupStateOpen,
		Legs: []*schema.Leg{
			filledLeg("SPY250919P00520000", schema.LegRoleProtection),
			filledLeg("SPY250919P00540000", schema.LegRoleIncome),
		},
	}
	groups := &fakeGroups{groups: []*schema.PositionGroup{group}}
	// the short vanished; holding a bare long is safe
	pos := &fakePositions{positions: []broker.Position{position("SPY250919P00520000")}}
	reg := fakeRegistrar{
		"SPY250919P00520000": {Key: "SPY250919P00520000", Owner: "bot-a"},
	}

	r, _ := newTestReconciler(pos, reg, groups)
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SPY250919P00540000"}, report.MissingLegs)
	assert.Empty(t, report.NakedClosed)
	assert.Empty(t, groups.closed)
}

func TestOrphanedTicketSurfaced(t *testing.T) {
	leg := filledLeg("SPY250919P00540000", schema.LegRoleIncome)
	leg.Ticket = &schema.OrderTicket{
		BrokerID: "884213",
		Symbol:   leg.Spec.Symbol,
		Status:   schema.OrderStatusOrphaned,
	}
	groups := &fakeGroups{groups: []*schema.PositionGroup{{
		ID: 6, State: schema.GroupStateOpen, Legs: []*schema.Leg{leg},
	}}}
	pos := &fakePositions{positions: []broker.Position{position("SPY250919P00540000")}}
	reg := fakeRegistrar{
		"SPY250919P00540000": {Key: "SPY250919P00540000", Owner: "bot-a"},
	}

	r, notifier := newTestReconciler(pos, reg, groups)
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"884213"}, report.OrphanedOrders)
	assert.Contains(t, notifier.messages, "orphaned order ticket outstanding")
}

func TestOrphanedTicketsOutsideOpenGroupsSurfaced(t *testing.T) {
	// a failed entry keeps its unconfirmed cancel; so does a close order
	// that never belonged to any leg
	failedLeg := filledLeg("SPY250919P00540000", schema.LegRoleIncome)
	failedLeg.Ticket = &schema.OrderTicket{
		BrokerID: "771001",
		Symbol:   failedLeg.Spec.Symbol,
		Status:   schema.OrderStatusOrphaned,
	}
	groups := &fakeGroups{
		groups: []*schema.PositionGroup{{
			ID: 7, State: schema.GroupStateFailed, Legs: []*schema.Leg{failedLeg},
		}},
		orphans: []*schema.OrderTicket{
			{BrokerID: "771002", Symbol: "SPY250919C00560000", Status: schema.OrderStatusOrphaned},
			// already on a leg; must not be reported twice
			failedLeg.Ticket,
		},
	}

	r, notifier := newTestReconciler(&fakePositions{}, fakeRegistrar{}, groups)
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"771001", "771002"}, report.OrphanedOrders)

	var alerts int
	for _, msg := range notifier.messages {
		if msg == "orphaned order ticket outstanding" {
			alerts++
		}
	}
	assert.Equal(t, 2, alerts)
}

func TestDueSpacing(t *testing.T) {
	r, _ := newTestReconciler(&fakePositions{}, fakeRegistrar{}, &fakeGroups{})
	now := time.Now()
	assert.True(t, r.Due(now), "first run is always due")

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Due(time.Now()))
	assert.True(t, r.Due(time.Now().Add(6*time.Minute)))
}
