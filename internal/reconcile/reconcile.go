package reconcile

import (
	"context"
	"strconv"
	"strings"
	"time"

	"main/internal/broker"
	"main/internal/engine"
	"main/internal/notify"
	"main/internal/registry"
	"main/internal/schema"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// PositionSource is the broker position book.
type PositionSource interface {
	Positions(ctx context.Context) ([]broker.Position, error)
}

// Registrar is the cross-process ownership table.
type Registrar interface {
	Entries(ctx context.Context) (map[string]registry.Entry, error)
}

// Groups is the slice of the engine reconciliation drives.
type Groups interface {
	OpenGroups() []*schema.PositionGroup
	Groups() []*schema.PositionGroup
	OrphanedTickets() []*schema.OrderTicket
	SetEntryBlock(blocked bool, reason string)
	EmergencyClose(ctx context.Context, groupID uint64, reason string) (engine.CloseResult, error)
}

// Config scopes the reconciler to one bot.
type Config struct {
	// BotID is this process's owner id in the registry.
	BotID string
	// Underlying is the instrument class this bot trades; option symbols
	// with this prefix are in scope.
	Underlying string
	// Interval spaces periodic runs on the control loop.
	Interval time.Duration
}

// Report is what one reconciliation pass found.
type Report struct {
	// Orphans are broker positions in our instrument class with no
	// registry owner, or registered to us without a matching group leg.
	Orphans []string
	// MissingLegs are expected legs absent from the broker book, per group.
	MissingLegs []string
	// NakedClosed are groups emergency-closed because an income leg lost
	// its protection sibling.
	NakedClosed []uint64
	// OrphanedOrders are tickets whose cancel was never confirmed.
	OrphanedOrders []string
}

func (r Report) Clean() bool {
	return len(r.Orphans) == 0 && len(r.MissingLegs) == 0 &&
		len(r.NakedClosed) == 0 && len(r.OrphanedOrders) == 0
}

// Reconciler diffs the broker's position book against this bot's groups and
// the shared registry. It runs at startup and on a fixed interval, always on
// the control loop.
type Reconciler struct {
	cfg      Config
	broker   PositionSource
	reg      Registrar
	groups   Groups
	notifier notify.Notifier

	// OnOrphan and OnUnexpectedLoss fire per finding, after the alert.
	OnOrphan         func(symbol string)
	OnUnexpectedLoss func(groupID uint64, symbol string)

	lastRun time.Time
}

func New(cfg Config, b PositionSource, reg Registrar, groups Groups, notifier notify.Notifier) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Reconciler{
		cfg:      cfg,
		broker:   b,
		reg:      reg,
		groups:   groups,
		notifier: notifier,
	}
}

// Due reports whether a periodic run is owed.
func (r *Reconciler) Due(now time.Time) bool {
	return now.Sub(r.lastRun) >= r.cfg.Interval
}

// RunOnce performs one full reconciliation pass. The position fetch happens
// before the registry read, so no lock is ever held across the network call.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	r.lastRun = time.Now()

	positions, err := r.broker.Positions(ctx)
	if err != nil {
		return Report{}, errors.Wrap(err, "reconcile: fetch positions")
	}
	entries, err := r.reg.Entries(ctx)
	if err != nil {
		return Report{}, errors.Wrap(err, "reconcile: read registry")
	}

	held := make(map[string]broker.Position)
	for _, p := range positions {
		if r.inScope(p.Symbol) {
			held[p.Symbol] = p
		}
	}

	var report Report
	tracked := make(map[string]bool)

	// every unconfirmed cancel stays on the report, whatever state its
	// group ended up in and even when the ticket belongs to no group at all
	surfaced := make(map[string]bool)
	surface := func(ticket *schema.OrderTicket) {
		if ticket == nil || ticket.Status != schema.OrderStatusOrphaned || surfaced[ticket.BrokerID] {
			return
		}
		surfaced[ticket.BrokerID] = true
		report.OrphanedOrders = append(report.OrphanedOrders, ticket.BrokerID)
		r.notifier.Alert(notify.LevelWarn, "orphaned order ticket outstanding", map[string]string{
			"broker_id": ticket.BrokerID,
			"symbol":    ticket.Symbol,
		})
	}
	for _, group := range r.groups.Groups() {
		for _, leg := range group.Legs {
			surface(leg.Ticket)
		}
	}
	for _, ticket := range r.groups.OrphanedTickets() {
		surface(ticket)
	}

	for _, group := range r.groups.OpenGroups() {
		nakedIncome := false
		for _, leg := range group.Legs {
			if !leg.Filled() {
				continue
			}
			tracked[leg.Spec.Symbol] = true
			if _, ok := held[leg.Spec.Symbol]; ok {
				continue
			}

			report.MissingLegs = append(report.MissingLegs, leg.Spec.Symbol)
			r.notifier.Alert(notify.LevelCritical, "expected leg missing at broker", map[string]string{
				"group_id": strconv.FormatUint(group.ID, 10),
				"symbol":   leg.Spec.Symbol,
				"role":     leg.Spec.Role.String(),
			})
			if r.OnUnexpectedLoss != nil {
				r.OnUnexpectedLoss(group.ID, leg.Spec.Symbol)
			}
			if leg.Spec.Role == schema.LegRoleProtection {
				nakedIncome = r.groupHoldsIncome(group, held)
			}
		}

		// a short without its hedge must not survive this cycle
		if nakedIncome {
			logs.Errorf("group %d: income leg naked, emergency close", group.ID)
			report.NakedClosed = append(report.NakedClosed, group.ID)
			if _, err := r.groups.EmergencyClose(ctx, group.ID, "naked_income"); err != nil {
				logs.Errorf("group %d: naked income close failed: %v", group.ID, err)
			}
		}
	}

	for symbol := range held {
		entry, registered := entries[symbol]
		switch {
		case !registered:
			report.Orphans = append(report.Orphans, symbol)
		case entry.Owner == r.cfg.BotID && !tracked[symbol]:
			// ours on paper, unknown to any group
			report.Orphans = append(report.Orphans, symbol)
		}
	}
	for _, symbol := range report.Orphans {
		r.notifier.Alert(notify.LevelCritical, "orphan position detected", map[string]string{
			"symbol": symbol,
		})
		if r.OnOrphan != nil {
			r.OnOrphan(symbol)
		}
	}

	if len(report.Orphans) > 0 {
		r.groups.SetEntryBlock(true, "orphan positions unresolved")
	} else {
		r.groups.SetEntryBlock(false, "")
	}

	if report.Clean() {
		logs.Infof("reconcile clean: %d positions in scope, %d groups", len(held), len(r.groups.OpenGroups()))
	}
	return report, nil
}

// groupHoldsIncome reports whether any income leg of the group is still at
// the broker.
func (r *Reconciler) groupHoldsIncome(group *schema.PositionGroup, held map[string]broker.Position) bool {
	for _, leg := range group.IncomeLegs() {
		if !leg.Filled() {
			continue
		}
		if _, ok := held[leg.Spec.Symbol]; ok {
			return true
		}
	}
	return false
}

// inScope matches option symbols on this bot's underlying. The bare
// underlying itself (a stock position) is out of scope.
func (r *Reconciler) inScope(symbol string) bool {
	return symbol != r.cfg.Underlying && strings.HasPrefix(symbol, r.cfg.Underlying)
}
