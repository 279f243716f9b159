package copytrade

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/web3guy0/polyflow/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func allocation(mode types.AllocationMode) *types.CopyAllocation {
	return &types.CopyAllocation{
		Mode:               mode,
		Percentage:         dec("50"),
		FixedAmountUSD:     dec("25"),
		TotalWalletBalance: dec("1000"),
		AllocatedBudget:    dec("500"),
		BudgetRemaining:    dec("500"),
	}
}

func TestSizeBuyProportional(t *testing.T) {
	a := allocation(types.ModeProportional)

	// Leader stakes $200 of a $2000 bankroll; follower mirrors the same
	// fraction of their $500 budget.
	amount, reason := SizeBuy(a, dec("200"), dec("2000"), dec("1"))
	assert.Empty(t, string(reason))
	assert.True(t, amount.Equal(dec("50")), "got %s", amount)
}

func TestSizeBuyProportionalFallbackWithoutLeaderBalance(t *testing.T) {
	a := allocation(types.ModeProportional)

	amount, reason := SizeBuy(a, dec("200"), decimal.Zero, dec("1"))
	assert.Empty(t, string(reason))
	assert.True(t, amount.Equal(dec("250")), "budget × pct/100 = 500 × 0.50, got %s", amount)
}

func TestSizeBuyFixedCapsAtBudget(t *testing.T) {
	a := allocation(types.ModeFixed)

	amount, reason := SizeBuy(a, dec("999"), dec("2000"), dec("1"))
	assert.Empty(t, string(reason))
	assert.True(t, amount.Equal(dec("25")))

	a.FixedAmountUSD = dec("800")
	amount, reason = SizeBuy(a, dec("999"), dec("2000"), dec("1"))
	assert.Empty(t, string(reason))
	assert.True(t, amount.Equal(dec("500")), "fixed amount above the stake clips to allocated budget")
}

func TestSizeBuyInsufficientBudget(t *testing.T) {
	a := allocation(types.ModeProportional)
	a.BudgetRemaining = dec("10")

	_, reason := SizeBuy(a, dec("200"), dec("2000"), dec("1"))
	assert.Equal(t, types.SkipInsufficientBudget, reason)
}

func TestSizeBuyBelowMinimum(t *testing.T) {
	a := allocation(types.ModeProportional)

	_, reason := SizeBuy(a, dec("2"), dec("2000"), dec("1"))
	assert.Equal(t, types.SkipBelowMinimum, reason, "0.50 copy is under the $1 floor")
}

func TestSizeSellProportional(t *testing.T) {
	// Leader sells 30 of their 60-token position; follower exits half of 10.
	size, reason := SizeSell(dec("10"), dec("30"), dec("60"))
	assert.Empty(t, string(reason))
	assert.True(t, size.Equal(dec("5")), "got %s", size)
}

func TestSizeSellUnknownLeaderPositionIsFullExit(t *testing.T) {
	size, reason := SizeSell(dec("10"), dec("30"), decimal.Zero)
	assert.Empty(t, string(reason))
	assert.True(t, size.Equal(dec("10")))
}

func TestSizeSellNeverExceedsFollowerPosition(t *testing.T) {
	// Leader sells more than they held before; ratio clips at 1.
	size, reason := SizeSell(dec("10"), dec("90"), dec("60"))
	assert.Empty(t, string(reason))
	assert.True(t, size.Equal(dec("10")))
}

func TestSizeSellNoPosition(t *testing.T) {
	_, reason := SizeSell(decimal.Zero, dec("30"), dec("60"))
	assert.Equal(t, types.SkipNoPosition, reason)
}
