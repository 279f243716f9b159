package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ═══════════════════════════════════════════════════════════════════════════════
// IDENTIFIERS - market id / condition id / token id conversions
// ═══════════════════════════════════════════════════════════════════════════════
//
// The exchange uses three ids for the same market:
//   market_id     decimal string (Gamma numeric id)
//   condition_id  0x + 64 hex nibbles (on-chain condition)
//   token_id      decimal string per outcome (ERC-1155 id)
//
// condition_id is the 32-byte big-endian encoding of the decimal market id,
// so the round trip decimal → hex64 → decimal is the identity.
// ═══════════════════════════════════════════════════════════════════════════════

// ToConditionID converts a decimal market id to its 0x-prefixed 64-nibble
// condition id.
func ToConditionID(marketID string) (string, error) {
	s := strings.TrimSpace(marketID)
	if s == "" {
		return "", Kindf(KindValidation, "empty market id")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return "", Kindf(KindValidation, "market id %q is not a decimal number", marketID)
	}
	if n.BitLen() > 256 {
		return "", Kindf(KindValidation, "market id %q overflows 32 bytes", marketID)
	}
	return common.BigToHash(n).Hex(), nil
}

// MarketIDFromCondition converts a condition id back to the decimal market id.
func MarketIDFromCondition(conditionID string) (string, error) {
	s := strings.TrimSpace(conditionID)
	if !IsConditionID(s) {
		return "", Kindf(KindValidation, "condition id %q is not 0x + 64 hex nibbles", conditionID)
	}
	return common.HexToHash(s).Big().String(), nil
}

// IsConditionID reports whether s is a 0x-prefixed 64-nibble hex string.
func IsConditionID(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// IsDecimalID reports whether s is a non-empty decimal string.
func IsDecimalID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ConditionIDFor returns the condition id for a market reference that may be
// either form already.
func ConditionIDFor(id string) (string, error) {
	if IsConditionID(id) {
		return strings.ToLower(id), nil
	}
	return ToConditionID(id)
}

// NormalizeWallet lowercases a wallet address for channel names and registry
// keys.
func NormalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ChecksumWallet renders an address in EIP-55 checksum form for display.
func ChecksumWallet(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}

// ShortWallet abbreviates an address for logs and notifications.
func ShortWallet(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return fmt.Sprintf("%s…%s", addr[:6], addr[len(addr)-4:])
}
