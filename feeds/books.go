package feeds

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WS BOOK LEVELS - tolerant wire parsing
// ═══════════════════════════════════════════════════════════════════════════════

// wsLevel is one price level. The exchange emits levels either as
// {"price": "0.42", "size": "100"} objects or as [price, size] pairs; both
// decode here.
type wsLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

func (l *wsLevel) UnmarshalJSON(data []byte) error {
	var obj struct {
		Price decimal.Decimal `json:"price"`
		Size  decimal.Decimal `json:"size"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && (obj.Price.IsPositive() || obj.Size.IsPositive()) {
		l.Price, l.Size = obj.Price, obj.Size
		return nil
	}

	var pair []decimal.Decimal
	if err := json.Unmarshal(data, &pair); err != nil {
		return types.E(types.KindParse, "ws.level", err)
	}
	if len(pair) > 0 {
		l.Price = pair[0]
	}
	if len(pair) > 1 {
		l.Size = pair[1]
	}
	return nil
}

// bestBid returns the highest bid level price.
func bestBid(levels []wsLevel) decimal.Decimal {
	var best decimal.Decimal
	for _, l := range levels {
		if l.Price.GreaterThan(best) {
			best = l.Price
		}
	}
	return best
}

// bestAsk returns the lowest ask level price.
func bestAsk(levels []wsLevel) decimal.Decimal {
	var best decimal.Decimal
	for _, l := range levels {
		if l.Price.IsPositive() && (best.IsZero() || l.Price.LessThan(best)) {
			best = l.Price
		}
	}
	return best
}
