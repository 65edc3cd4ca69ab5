package dre

import (
	"fmt"
	"regexp"
	"strconv"
)

var periodPattern = regexp.MustCompile(`^\s*(\d+)\s*/\s*(\d+)\s*$`)

// ParsePeriod parses "M/YYYY" (also "MM/YYYY").
func ParsePeriod(s string) (Period, error) {
	m := periodPattern.FindStringSubmatch(s)
	if m == nil {
		return Period{}, fmt.Errorf("period %q is not M/YYYY", s)
	}
	month, err := strconv.Atoi(m[1])
	if err != nil {
		return Period{}, fmt.Errorf("period %q: %w", s, err)
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return Period{}, fmt.Errorf("period %q: %w", s, err)
	}
	return NewPeriod(month, year)
}

// NewPeriod validates a month/year pair.
func NewPeriod(month, year int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("month %d out of range", month)
	}
	if year < 1900 || year > 9999 {
		return Period{}, fmt.Errorf("year %d out of range", year)
	}
	return Period{Month: month, Year: year}, nil
}
