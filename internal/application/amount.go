package application

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ParseUnits converts a decimal string such as "1.5" into an integer amount
// in the token's smallest unit. The fractional part must fit the declared
// decimal precision.
func ParseUnits(value string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, errors.New("decimals must not be negative")
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount is required")
	}

	whole := trimmed
	fraction := ""
	if dot := strings.IndexByte(trimmed, '.'); dot >= 0 {
		whole = trimmed[:dot]
		fraction = trimmed[dot+1:]
		if strings.IndexByte(fraction, '.') >= 0 {
			return nil, fmt.Errorf("invalid amount: %s", value)
		}
	}
	if whole == "" && fraction == "" {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (fraction != "" && !isDigits(fraction)) {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	if len(fraction) > decimals {
		return nil, fmt.Errorf("amount exceeds %d decimal places: %s", decimals, value)
	}

	fraction += strings.Repeat("0", decimals-len(fraction))
	combined := whole + fraction
	amount, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	return amount, nil
}

// FormatUnits renders an integer amount in the token's smallest unit as a
// decimal string, trimming trailing fractional zeros.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	digits := amount.String()
	negative := strings.HasPrefix(digits, "-")
	if negative {
		digits = digits[1:]
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	fraction := strings.TrimRight(digits[len(digits)-decimals:], "0")

	out := whole
	if fraction != "" {
		out = whole + "." + fraction
	}
	if negative {
		out = "-" + out
	}
	return out
}

func isDigits(value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}
