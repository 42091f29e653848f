package helpers

import (
	"fmt"
	"math/big"
	"strings"
)

// FormatBigAmount renders an opaque smallest-unit amount (up to 256 bits)
// as a decimal string, trimming trailing fractional zeros. With decimals=6,
// 1500000 renders as "1.5".
func FormatBigAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if decimals == 0 {
		return amount.String()
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole := new(big.Int).Div(amount, divisor)
	frac := new(big.Int).Mod(amount, divisor)

	if frac.Sign() == 0 {
		return whole.String()
	}

	fracStr := fmt.Sprintf("%0*s", int(decimals), frac.String())
	fracStr = strings.TrimRight(fracStr, "0")
	return whole.String() + "." + fracStr
}

// ParseBigAmount is the inverse of FormatBigAmount: it parses a decimal
// string into smallest units, truncating fractional digits beyond
// decimals.
func ParseBigAmount(s string, decimals uint8) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount string")
	}

	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if wholeStr == "" {
		wholeStr = "0"
	}
	for _, c := range wholeStr + fracStr {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("invalid character in amount: %c", c)
		}
	}

	for len(fracStr) < int(decimals) {
		fracStr += "0"
	}
	fracStr = fracStr[:decimals]

	amount, ok := new(big.Int).SetString(wholeStr+fracStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	return amount, nil
}
