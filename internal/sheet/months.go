package sheet

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

// monthTokens accepts Portuguese and English abbreviations and full names.
var monthTokens = map[string]int{
	"jan": 1, "janeiro": 1, "january": 1,
	"fev": 2, "fevereiro": 2, "feb": 2, "february": 2,
	"mar": 3, "marco": 3, "march": 3,
	"abr": 4, "abril": 4, "apr": 4, "april": 4,
	"mai": 5, "maio": 5, "may": 5,
	"jun": 6, "junho": 6, "june": 6,
	"jul": 7, "julho": 7, "july": 7,
	"ago": 8, "agosto": 8, "aug": 8, "august": 8,
	"set": 9, "setembro": 9, "sep": 9, "sept": 9, "september": 9,
	"out": 10, "outubro": 10, "oct": 10, "october": 10,
	"nov": 11, "novembro": 11, "november": 11,
	"dez": 12, "dezembro": 12, "dec": 12, "december": 12,
}

// monthColumn is a header cell recognised as a month.
type monthColumn struct {
	Index int
	Label string
	Month int
	Year  int
}

// parseMonthHeader recognises cells such as "Jan", "FEV/2024", "mar-24" or
// "Abril 2025". Year is zero when the cell carries none.
func parseMonthHeader(cell string) (month, year int, ok bool) {
	tokens := strings.FieldsFunc(shared.FoldText(cell), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 || len(tokens) > 2 {
		return 0, 0, false
	}
	month, ok = monthTokens[tokens[0]]
	if !ok {
		return 0, 0, false
	}
	if len(tokens) == 1 {
		return month, 0, true
	}
	y, err := strconv.Atoi(tokens[1])
	if err != nil {
		return 0, 0, false
	}
	switch {
	case len(tokens[1]) == 2:
		y += 2000
	case len(tokens[1]) != 4:
		return 0, 0, false
	}
	return month, y, true
}

func monthColumns(row []string) []monthColumn {
	var cols []monthColumn
	for i, cell := range row {
		if m, y, ok := parseMonthHeader(cell); ok {
			cols = append(cols, monthColumn{Index: i, Label: strings.TrimSpace(cell), Month: m, Year: y})
		}
	}
	return cols
}
