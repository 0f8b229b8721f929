package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegRole splits a spread into its risk-reducing and premium-collecting halves.
type LegRole uint16

const (
	LegRoleUnknown LegRole = iota
	// LegRoleProtection is a long option bounding risk.
	LegRoleProtection
	// LegRoleIncome is a short option collecting premium.
	LegRoleIncome
)

func (r LegRole) String() string {
	switch r {
	case LegRoleProtection:
		return "protection"
	case LegRoleIncome:
		return "income"
	default:
		return "unknown"
	}
}

// LegSpec describes one leg of a planned multi-leg entry.
type LegSpec struct {
	Symbol     string          `json:"symbol"`
	Role       LegRole         `json:"role"`
	Side       OrderSide       `json:"side"`
	Quantity   int64           `json:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// Leg is a placed leg owned by a position group.
type Leg struct {
	Spec      LegSpec         `json:"spec"`
	Ticket    *OrderTicket    `json:"ticket,omitempty"`
	FillPrice decimal.Decimal `json:"fill_price"`
	FillQty   int64           `json:"fill_qty"`
	Verified  bool            `json:"verified"`

	// Closed marks a leg whose exit order has filled, so a close pass that
	// was interrupted mid-group never buys the same leg back twice.
	Closed     bool            `json:"closed"`
	ClosePrice decimal.Decimal `json:"close_price"`
}

// Filled reports whether the leg has a verified fill.
func (l *Leg) Filled() bool {
	return l.Verified && l.FillQty > 0
}

// GroupState tracks the lifecycle of a position group.
type GroupState uint16

const (
	GroupStateUnknown GroupState = iota
	GroupStatePending
	GroupStateOpen
	GroupStateClosing
	GroupStateClosed
	GroupStateFailed
	GroupStateOrphaned
)

func (s GroupState) String() string {
	switch s {
	case GroupStatePending:
		return "pending"
	case GroupStateOpen:
		return "open"
	case GroupStateClosing:
		return "closing"
	case GroupStateClosed:
		return "closed"
	case GroupStateFailed:
		return "failed"
	case GroupStateOrphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Terminal reports whether the group lifecycle has ended.
func (s GroupState) Terminal() bool {
	switch s {
	case GroupStateClosed, GroupStateFailed, GroupStateOrphaned:
		return true
	default:
		return false
	}
}

// PositionGroup is the atomic unit of a multi-leg options entry.
// It owns its legs; nothing else mutates them.
type PositionGroup struct {
	ID                uint64     `json:"id"`
	StrategyID        string     `json:"strategy_id"`
	Underlying        string     `json:"underlying"`
	Legs              []*Leg     `json:"legs"`
	EntryTime         time.Time  `json:"entry_time"`
	State             GroupState `json:"state"`
	StopPolicyVersion string     `json:"stop_policy_version"`
	CloseReason       string     `json:"close_reason,omitempty"`
}

// Complete reports whether every expected leg has a verified terminal outcome.
// A group must never report complete while any leg is unverified.
func (g *PositionGroup) Complete() bool {
	if len(g.Legs) == 0 {
		return false
	}
	for _, leg := range g.Legs {
		if !leg.Verified {
			return false
		}
	}
	return true
}

// NetCredit is premium collected minus premium paid across verified legs,
// per contract.
func (g *PositionGroup) NetCredit() decimal.Decimal {
	credit := decimal.Zero
	for _, leg := range g.Legs {
		if !leg.Filled() {
			continue
		}
		switch leg.Spec.Side {
		case OrderSideSellToOpen:
			credit = credit.Add(leg.FillPrice)
		case OrderSideBuyToOpen:
			credit = credit.Sub(leg.FillPrice)
		}
	}
	return credit
}

// FilledLegs returns the legs with a verified fill, in placement order.
func (g *PositionGroup) FilledLegs() []*Leg {
	out := make([]*Leg, 0, len(g.Legs))
	for _, leg := range g.Legs {
		if leg.Filled() {
			out = append(out, leg)
		}
	}
	return out
}

// IncomeLegs returns the short legs of the group.
func (g *PositionGroup) IncomeLegs() []*Leg {
	out := make([]*Leg, 0, len(g.Legs))
	for _, leg := range g.Legs {
		if leg.Spec.Role == LegRoleIncome {
			out = append(out, leg)
		}
	}
	return out
}

// ProtectionLegs returns the long legs of the group.
func (g *PositionGroup) ProtectionLegs() []*Leg {
	out := make([]*Leg, 0, len(g.Legs))
	for _, leg := range g.Legs {
		if leg.Spec.Role == LegRoleProtection {
			out = append(out, leg)
		}
	}
	return out
}
