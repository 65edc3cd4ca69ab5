package sheet

import (
	"strings"

	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

// RawRow is one untyped row (long form) or one account/month cell (wide form).
type RawRow struct {
	Shape  Shape
	Sheet  string
	Row    int
	Column int

	// Cells holds long-form values in column order.
	Cells []Cell

	AccountSituation string
	AccountGrouping  string
	AccountCode      string
	AccountName      string
	MonthLabel       string
	Month            int
	Year             int
	Amount           string
	// AmountText is set when the amount came from a string cell.
	AmountText bool
}

// Cell is one long-form value and the header it sits under.
type Cell struct {
	Header string
	Value  string
	// Text marks string cells. Numeric cells carry the raw stored value.
	Text bool
}

// Field returns the first non-empty long-form cell whose header matches one
// of names, ignoring case, accents, spaces and underscores.
func (r RawRow) Field(names ...string) string {
	c, _ := r.Lookup(names...)
	return c.Value
}

// Lookup is Field keeping the cell type. Names are tried in order; within a
// name the leftmost matching column wins.
func (r RawRow) Lookup(names ...string) (Cell, bool) {
	for _, want := range names {
		want = headerKey(want)
		for _, c := range r.Cells {
			if headerKey(c.Header) != want {
				continue
			}
			if v := strings.TrimSpace(c.Value); v != "" {
				c.Value = v
				return c, true
			}
		}
	}
	return Cell{}, false
}

// Source returns the row as it appeared in the workbook, for traceability.
func (r RawRow) Source() map[string]any {
	out := map[string]any{
		"sheet":    r.Sheet,
		"rowIndex": r.Row,
	}
	switch r.Shape {
	case ShapeWide:
		out["colIndex"] = r.Column
		out["accountSituation"] = r.AccountSituation
		out["accountGrouping"] = r.AccountGrouping
		out["accountCode"] = r.AccountCode
		out["accountName"] = r.AccountName
		out["month"] = r.MonthLabel
		out["value"] = r.Amount
	default:
		fields := make(map[string]string, len(r.Cells))
		for _, c := range r.Cells {
			fields[c.Header] = c.Value
		}
		out["fields"] = fields
	}
	return out
}

func headerKey(s string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(shared.FoldText(s))
}
