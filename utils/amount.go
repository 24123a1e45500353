package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatAmount renders a smallest-unit amount in display units,
// e.g. 250000 with 6 decimals -> "0.25".
func FormatAmount(amount uint64, decimals int) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)).String()
}

// ParseAmount converts a display-unit decimal string into smallest units,
// e.g. "0.25" with 6 decimals -> 250000.
func ParseAmount(amount string, decimals int) (uint64, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if dec.IsNegative() {
		return 0, fmt.Errorf("amount cannot be negative")
	}

	multiplier := decimal.NewFromBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil), 0)
	raw := dec.Mul(multiplier)
	if !raw.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	if !raw.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %q overflows uint64", amount)
	}

	return raw.BigInt().Uint64(), nil
}
