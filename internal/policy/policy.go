// Package policy holds the injected business-rule collaborators the sheet
// lifecycle calls. Percentages and grace periods are configured per
// deployment; the lifecycle itself never hardcodes them.
package policy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PenaltyFunc returns the penalty delta to add for an apartment carrying
// unpaid principal (restante plus current maintenance remaining) past its
// due date. Implementations decide schedule and formula; the caller only
// applies the returned amount.
type PenaltyFunc func(unpaid decimal.Decimal, dueSince, now time.Time) decimal.Decimal

// ApprovalGate may veto sheet publication, for associations requiring
// president sign-off. A nil-error return allows the publish.
type ApprovalGate func(ctx context.Context, associationID int64, month string) error

// NoPenalty never accrues anything.
func NoPenalty(decimal.Decimal, time.Time, time.Time) decimal.Decimal {
	return decimal.Zero
}

// OpenGate approves every publish.
func OpenGate(context.Context, int64, string) error {
	return nil
}

// PercentagePolicy applies a one-shot percentage to unpaid principal once
// the grace period has elapsed. The accrual happens when the delta is
// applied (at month close), not daily.
type PercentagePolicy struct {
	Percent decimal.Decimal
	Grace   time.Duration
}

// NewPercentagePolicy builds the policy from a fractional percent, e.g.
// 0.01 for 1%.
func NewPercentagePolicy(percent float64, grace time.Duration) PercentagePolicy {
	return PercentagePolicy{Percent: decimal.NewFromFloat(percent), Grace: grace}
}

// Delta implements PenaltyFunc.
func (p PercentagePolicy) Delta(unpaid decimal.Decimal, dueSince, now time.Time) decimal.Decimal {
	if !unpaid.IsPositive() {
		return decimal.Zero
	}
	if now.Before(dueSince.Add(p.Grace)) {
		return decimal.Zero
	}
	return unpaid.Mul(p.Percent).Round(2)
}
