package extraction

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var amountNoise = strings.NewReplacer(
	" ", "",
	"\u00a0", "",
	"\u202f", "",
	"'", "",
	"€", "",
	"$", "",
	"£", "",
	"EUR", "",
	"USD", "",
	"GBP", "",
	"CHF", "",
)

// ParseAmount parses an amount written in French (1 234,56 / 1.234,56) or English (1,234.56) notation
func ParseAmount(amountStr string) (decimal.Decimal, error) {
	cleaned := amountNoise.Replace(strings.ToUpper(strings.TrimSpace(amountStr)))
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("empty amount value")
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Both separators: the last one is the decimal separator
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		parts := strings.Split(cleaned, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			cleaned = parts[0] + "." + parts[1]
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastDot >= 0:
		parts := strings.Split(cleaned, ".")
		if len(parts) > 2 || (len(parts[len(parts)-1]) == 3 && len(parts[0]) <= 3) {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("unable to parse amount: %s (cleaned: %s)", amountStr, cleaned)
	}
	return amount.Round(2), nil
}

// nullAmount parses v and returns an invalid NullDecimal when it does not parse
func nullAmount(v string) decimal.NullDecimal {
	d, err := ParseAmount(v)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
