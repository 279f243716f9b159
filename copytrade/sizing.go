package copytrade

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MIRROR SIZING - pure functions, no I/O
// ═══════════════════════════════════════════════════════════════════════════════

var hundred = decimal.NewFromInt(100)

// SizeBuy computes the follower's USD amount for a leader BUY. A non-empty
// skip reason means the trade must be ignored, not executed smaller.
//
// PROPORTIONAL scales the leader's stake by the follower's budget share of
// the leader's bankroll. When the leader bankroll is unknown (zero) the
// fallback stakes the allocation percentage of the follower's budget.
func SizeBuy(a *types.CopyAllocation, leaderAmountUSD, leaderBalance, minCopyUSD decimal.Decimal) (decimal.Decimal, types.SkipReason) {
	var amount decimal.Decimal
	switch a.Mode {
	case types.ModeFixed:
		amount = decimal.Min(a.FixedAmountUSD, a.AllocatedBudget)
	default: // PROPORTIONAL
		if leaderBalance.IsPositive() {
			amount = leaderAmountUSD.Mul(a.AllocatedBudget).Div(leaderBalance)
		} else {
			amount = a.AllocatedBudget.Mul(a.Percentage).Div(hundred)
		}
	}

	if amount.GreaterThan(a.BudgetRemaining) {
		return decimal.Zero, types.SkipInsufficientBudget
	}
	if amount.LessThan(minCopyUSD) {
		return decimal.Zero, types.SkipBelowMinimum
	}
	return amount, ""
}

// SizeSell computes how many tokens the follower sells when the leader sells.
// Always proportional: the follower exits the same fraction of their position
// the leader exited of theirs. An unknown leader position (zero) is treated
// as a full exit.
func SizeSell(followerSize, leaderSize, leaderBefore decimal.Decimal) (decimal.Decimal, types.SkipReason) {
	if !followerSize.IsPositive() {
		return decimal.Zero, types.SkipNoPosition
	}

	ratio := decimal.NewFromInt(1)
	if leaderBefore.IsPositive() {
		ratio = leaderSize.Div(leaderBefore)
		if ratio.GreaterThan(decimal.NewFromInt(1)) {
			ratio = decimal.NewFromInt(1)
		}
	}

	size := followerSize.Mul(ratio)
	if size.GreaterThan(followerSize) {
		size = followerSize
	}
	if !size.IsPositive() {
		return decimal.Zero, types.SkipNoPosition
	}
	return size, ""
}
