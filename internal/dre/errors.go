package dre

import "fmt"

// Skip reasons reported per row.
const (
	ReasonInvalidPeriod = "invalid_period"
	ReasonInvalidAmount = "invalid_amount"
	ReasonZeroAmount    = "zero_amount"
	ReasonInvalidRecord = "invalid_record"
)

// RowValidationError explains why a row was skipped. It never aborts a run.
type RowValidationError struct {
	Row    int    `json:"row"`
	Column int    `json:"column,omitempty"`
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

func (e *RowValidationError) Error() string {
	if e.Column > 0 {
		return fmt.Sprintf("dre: row %d col %d skipped (%s): %s", e.Row, e.Column, e.Reason, e.Detail)
	}
	return fmt.Sprintf("dre: row %d skipped (%s): %s", e.Row, e.Reason, e.Detail)
}
