package smartwallet

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/types"
)

// Shareable-feed thresholds.
var (
	shareMinValueUSD = decimal.NewFromInt(400)
	shareMaxAge      = 5 * time.Minute
)

// cryptoPricePatterns marks questions that are bare crypto price bets; those
// fire constantly and drown the feed.
var cryptoPricePatterns = []string{
	"bitcoin",
	"btc",
	"ethereum",
	"solana",
	"xrp",
	"dogecoin",
	"reach $",
	"above $",
	"below $",
	"dip to",
	"price on",
	"all time high",
	"all-time high",
}

// CryptoPriceQuestion reports whether a market question matches any of the
// crypto-price patterns.
func CryptoPriceQuestion(q string) bool {
	lower := strings.ToLower(q)
	for _, p := range cryptoPricePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Shareable is the single source of truth for the shared feed: every
// predicate must hold. The second return names the first failed predicate
// for logs.
func Shareable(t *types.SmartWalletTrade, leader *types.WatchedAddress, now time.Time) (bool, string) {
	switch {
	case t.Side != types.SideBuy:
		return false, "not_buy"
	case !t.IsFirstTime:
		return false, "not_first_time"
	case t.Value.LessThan(shareMinValueUSD):
		return false, "below_value"
	case t.MarketQuestion == "":
		return false, "no_question"
	case leader == nil || !leader.IsVerySmart:
		return false, "not_very_smart"
	case CryptoPriceQuestion(t.MarketQuestion):
		return false, "crypto_price_market"
	case now.Sub(t.Timestamp) > shareMaxAge:
		return false, "too_old"
	case t.PriceIsDefault:
		return false, "default_price"
	}
	return true, ""
}
