package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/odyssey-erp/dre-ingest/internal/dre"
	"github.com/odyssey-erp/dre-ingest/internal/sheet"
)

// InspectOptions defines the flags of the inspect command.
type InspectOptions struct {
	Path         string
	ProjectLabel string
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
}

// InspectSummary reports how a local workbook would be ingested.
type InspectSummary struct {
	Sheet       string         `json:"sheet"`
	Shape       sheet.Shape    `json:"shape"`
	HeaderRow   int            `json:"header_row"`
	RawRows     int            `json:"raw_rows"`
	Records     int            `json:"records"`
	Skipped     int            `json:"skipped"`
	SkipReasons map[string]int `json:"skip_reasons,omitempty"`
}

// InspectCommand parses and normalizes a local workbook without loading it.
// Exit status is 0 when every row is usable, 2 when rows would be skipped.
func InspectCommand(parser *sheet.Parser, opts InspectOptions) int {
	opts.Stdout, opts.Stderr = writers(opts.Stdout, opts.Stderr)
	if opts.Path == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "inspect: --file is required")
		return 64
	}
	data, err := os.ReadFile(opts.Path)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "inspect: %v\n", err)
		return 1
	}
	if parser == nil {
		parser = sheet.NewParser()
	}
	table, err := parser.Parse(data)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "inspect: %v\n", err)
		return 1
	}
	report := dre.NewNormalizer(dre.NormalizerConfig{
		BatchID:      "inspect",
		FileName:     opts.Path,
		ProjectLabel: opts.ProjectLabel,
	}).NormalizeAll(table.Rows)

	summary := InspectSummary{
		Sheet:       table.Sheet,
		Shape:       table.Shape,
		HeaderRow:   table.HeaderRow,
		RawRows:     len(table.Rows),
		Records:     len(report.Records),
		Skipped:     report.Skipped,
		SkipReasons: report.Reasons,
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "inspect: encode json: %v\n", err)
			return 1
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "Sheet %q (%s form), header row %d\n", summary.Sheet, summary.Shape, summary.HeaderRow)
		_, _ = fmt.Fprintf(opts.Stdout, "  rows:    %d\n  records: %d\n  skipped: %d\n", summary.RawRows, summary.Records, summary.Skipped)
		reasons := make([]string, 0, len(summary.SkipReasons))
		for reason := range summary.SkipReasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			_, _ = fmt.Fprintf(opts.Stdout, "    - %s: %d\n", reason, summary.SkipReasons[reason])
		}
	}
	if summary.Skipped > 0 {
		return 2
	}
	return 0
}
