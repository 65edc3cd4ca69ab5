package sheet

import "fmt"

// ParseError is fatal for a run: nothing in the workbook can be normalized.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sheet: %s: %v", e.Reason, e.Err)
	}
	return "sheet: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }
