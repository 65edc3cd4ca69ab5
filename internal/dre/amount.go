package dre

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	errEmptyAmount   = errors.New("empty amount")
	errInvalidAmount = errors.New("amount is not a finite number")

	plainNumber   = regexp.MustCompile(`^-?\d+(\.\d+)?([eE][-+]?\d+)?$`)
	dotThousands  = regexp.MustCompile(`^[1-9]\d{0,2}(\.\d{3})+$`)
	amountNoise   = regexp.MustCompile(`[^0-9.,]`)
	digitsPresent = regexp.MustCompile(`\d`)
)

// ParseNumber reads the raw value of a numeric cell ("1000", "-50.5",
// "1.5E-3"). Anything else is treated as text.
func ParseNumber(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if plainNumber.MatchString(s) {
		return decimal.NewFromString(s)
	}
	return ParseAmount(s)
}

// ParseAmount reads amounts typed as text. Brazilian formatting wins where it
// is ambiguous: "1.000" is one thousand and "12,5" is twelve and a half.
// US grouping ("1,234.56") and plain decimals ("-50.5") are still accepted.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, errEmptyAmount
	}
	if plainNumber.MatchString(s) && !dotThousands.MatchString(strings.TrimPrefix(s, "-")) {
		return decimal.NewFromString(s)
	}
	if !digitsPresent.MatchString(s) {
		return decimal.Zero, errInvalidAmount
	}

	negative := strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") ||
		(strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")) ||
		strings.Contains(s, "R$-") || strings.Contains(s, "R$ -")
	s = amountNoise.ReplaceAllString(s, "")
	s = normalizeSeparators(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errInvalidAmount
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// normalizeSeparators rewrites s, which holds only digits, dots and commas,
// to a dot-decimal string.
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// 1.234,56
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		// 1,234.56
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case dotThousands.MatchString(s), strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	default:
		return s
	}
}
