package engine

import (
	"main/internal/schema"

	"github.com/shopspring/decimal"
)

// StopPolicy prices the per-side stop level for an open group. The strategy
// supplies one; the engine never hard-codes a formula. Version is persisted
// with each group so a later formula change cannot silently reprice stops on
// positions entered under the old one.
type StopPolicy interface {
	// StopLevel returns the option price at which one side of the group is
	// stopped out.
	StopLevel(group *schema.PositionGroup) decimal.Decimal
	// Version identifies the formula, e.g. "credit/v1".
	Version() string
}

// CreditStop stops a side at the full collected credit. One side stopped at
// the credit plus the other expiring worthless nets to zero before
// commission, whatever the split between the sides.
type CreditStop struct{}

func (CreditStop) StopLevel(group *schema.PositionGroup) decimal.Decimal {
	return group.NetCredit()
}

func (CreditStop) Version() string { return "credit/v1" }

// CreditOffsetStop stops at the collected credit minus a fixed offset,
// locking in part of the premium.
type CreditOffsetStop struct {
	Offset decimal.Decimal
}

func (p CreditOffsetStop) StopLevel(group *schema.PositionGroup) decimal.Decimal {
	level := group.NetCredit().Sub(p.Offset)
	if level.IsNegative() {
		return decimal.Zero
	}
	return level
}

func (CreditOffsetStop) Version() string { return "credit-offset/v1" }

// CreditMultipleStop stops at a multiple of the collected credit, tolerating
// a drawdown beyond breakeven.
type CreditMultipleStop struct {
	Multiple decimal.Decimal
}

func (p CreditMultipleStop) StopLevel(group *schema.PositionGroup) decimal.Decimal {
	return group.NetCredit().Mul(p.Multiple)
}

func (CreditMultipleStop) Version() string { return "credit-multiple/v1" }

// EntryPlan is one planned multi-leg entry, produced by a LegPlanner.
type EntryPlan struct {
	StrategyID string
	Underlying string
	Legs       []schema.LegSpec
}

// Signal is the market context handed to a planner.
type Signal struct {
	Underlying string
	Quotes     []schema.Quote
}

// LegPlanner turns a market signal into concrete legs. Strategy
// collaborators implement it; the engine never branches on strategy names.
type LegPlanner interface {
	Plan(signal Signal) (EntryPlan, error)
}
