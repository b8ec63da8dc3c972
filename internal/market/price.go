package market

import (
	"fmt"
	"strconv"
	"strings"
)

// parsePriceMinor parses a decimal price string ("123.45", "1 234,56") into
// integer minor units. At most two fraction digits are honored; a missing
// fraction means whole units.
func parsePriceMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("price %q: %w", s, err)
	}
	if units < 0 {
		return 0, fmt.Errorf("price %q: negative", s)
	}
	if !hasFrac || frac == "" {
		return units * 100, nil
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("price %q: %w", s, err)
	}
	if len(frac) == 1 {
		cents *= 10
	}
	return units*100 + cents, nil
}
