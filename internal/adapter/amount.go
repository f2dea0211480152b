package adapter

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// maxAmountExponent bounds the decimal exponent of an amount, so "1e999999"
// is rejected instead of expanded.
const maxAmountExponent = 18

// parseAmount reads a plain decimal amount ("10000.00", "-42.5", "1e3").
// Go literal forms such as "0x2710", "0b1" or "1_000" are rejected.
func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty amount")
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", raw)
	}
	if exp := amount.Exponent(); exp > maxAmountExponent || exp < -maxAmountExponent {
		return decimal.Decimal{}, fmt.Errorf("amount %q out of range", raw)
	}
	return amount, nil
}

// accountNumber14 left-pads id with zeros to 14 characters and keeps the first 14.
func accountNumber14(id string) string {
	runes := []rune(id)
	if len(runes) < 14 {
		return strings.Repeat("0", 14-len(runes)) + id
	}
	return string(runes[:14])
}
