// Package sheet decodes the vendor workbook and detects its layout.
package sheet

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

// Shape is the detected workbook layout.
type Shape string

const (
	// ShapeLong has one row per transaction with named columns.
	ShapeLong Shape = "long"
	// ShapeWide has one row per account and one column per month.
	ShapeWide Shape = "wide"
)

// DefaultScanRows bounds the header search.
const DefaultScanRows = 10

// Long-form header names, folded.
const (
	ColLancamento = "lancamento"
	ColPeriodo    = "periodo"
	ColNatureza   = "natureza"
)

var longRequired = []string{ColLancamento, ColPeriodo, ColNatureza}

// Table is the parsed content of the first sheet with a recognised layout.
type Table struct {
	Sheet       string
	Shape       Shape
	HeaderRow   int
	Headers     []string
	Rows        []RawRow
	SkippedRows int
}

// Parser turns workbook bytes into a Table.
type Parser struct {
	scanRows int
	now      func() time.Time
}

// Option customises a Parser.
type Option func(*Parser)

// WithClock sets the clock used for the wide-form default year.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// WithScanRows changes how many leading rows are searched for a header.
func WithScanRows(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.scanRows = n
		}
	}
}

// NewParser constructs a Parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{scanRows: DefaultScanRows, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes data and returns the first sheet with a long-form or
// wide-form header.
func (p *Parser) Parse(data []byte) (Table, error) {
	if len(data) == 0 {
		return Table{}, &ParseError{Reason: "empty workbook"}
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Table{}, &ParseError{Reason: "unreadable workbook", Err: err}
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, &ParseError{Reason: "workbook has no sheets"}
	}
	var lastErr error
	for _, name := range sheets {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			lastErr = err
			continue
		}
		isText := textCells(f, name)
		if table, ok := p.parseLong(name, rows, isText); ok {
			return table, nil
		}
		if table, ok := p.parseWide(name, rows, isText); ok {
			return table, nil
		}
	}
	return Table{}, &ParseError{
		Reason: "no sheet has a long-form header or a wide-form month header in the first " + strconv.Itoa(p.scanRows) + " rows",
		Err:    lastErr,
	}
}

// textCells reports whether the zero-based cell holds a string rather than a
// number. Amount parsing depends on it: "1.000" typed as text is one thousand,
// 1.000 stored as a number is one.
func textCells(f *excelize.File, sheet string) func(row, col int) bool {
	return func(row, col int) bool {
		ref, err := excelize.CoordinatesToCellName(col+1, row+1)
		if err != nil {
			return false
		}
		t, err := f.GetCellType(sheet, ref)
		if err != nil {
			return false
		}
		switch t {
		case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
			return true
		default:
			return false
		}
	}
}

func (p *Parser) parseLong(sheet string, rows [][]string, isText func(row, col int) bool) (Table, bool) {
	header := -1
	for i := 0; i < len(rows) && i < p.scanRows; i++ {
		if hasColumns(rows[i], longRequired) {
			header = i
			break
		}
	}
	if header < 0 {
		return Table{}, false
	}
	headers := normalizeHeaders(rows[header])
	table := Table{Sheet: sheet, Shape: ShapeLong, HeaderRow: header + 1, Headers: headers}
	for i := header + 1; i < len(rows); i++ {
		if blank(rows[i]) {
			continue
		}
		cells := make([]Cell, 0, len(headers))
		for col, name := range headers {
			if name == "" {
				continue
			}
			value := cell(rows[i], col)
			cells = append(cells, Cell{Header: name, Value: value, Text: value != "" && isText(i, col)})
		}
		table.Rows = append(table.Rows, RawRow{
			Shape: ShapeLong,
			Sheet: sheet,
			Row:   i + 1,
			Cells: cells,
		})
	}
	return table, true
}

func (p *Parser) parseWide(sheet string, rows [][]string, isText func(row, col int) bool) (Table, bool) {
	header := -1
	var months []monthColumn
	for i := 0; i < len(rows) && i < p.scanRows; i++ {
		if cols := monthColumns(rows[i]); len(cols) >= 3 {
			header, months = i, cols
			break
		}
	}
	if header < 0 {
		return Table{}, false
	}
	headers := normalizeHeaders(rows[header])
	layout := detectAccountLayout(headers, months[0].Index)
	defaultYear := p.now().Year()

	table := Table{Sheet: sheet, Shape: ShapeWide, HeaderRow: header + 1, Headers: headers}
	for i := header + 1; i < len(rows); i++ {
		row := rows[i]
		if blank(row) {
			continue
		}
		code := strings.TrimSpace(cell(row, layout.code))
		name := strings.TrimSpace(cell(row, layout.name))
		if code == "" && name == "" {
			table.SkippedRows++
			continue
		}
		situation := strings.TrimSpace(cell(row, layout.situation))
		grouping := strings.TrimSpace(cell(row, layout.grouping))
		for _, m := range months {
			amount := strings.TrimSpace(cell(row, m.Index))
			if amount == "" {
				continue
			}
			year := m.Year
			if year == 0 {
				year = defaultYear
			}
			table.Rows = append(table.Rows, RawRow{
				Shape:            ShapeWide,
				Sheet:            sheet,
				Row:              i + 1,
				Column:           m.Index + 1,
				AccountSituation: situation,
				AccountGrouping:  grouping,
				AccountCode:      code,
				AccountName:      name,
				MonthLabel:       m.Label,
				Month:            m.Month,
				Year:             year,
				Amount:           amount,
				AmountText:       isText(i, m.Index),
			})
		}
	}
	return table, true
}

type accountLayout struct {
	situation, grouping, code, name int
}

// detectAccountLayout locates the account columns left of the first month.
// Named headers win; otherwise the four columns preceding the months are
// read as situation, grouping, code and name.
func detectAccountLayout(headers []string, firstMonth int) accountLayout {
	layout := accountLayout{situation: -1, grouping: -1, code: -1, name: -1}
	for i := 0; i < firstMonth && i < len(headers); i++ {
		h := shared.FoldText(headers[i])
		switch {
		case h == "":
		case layout.name < 0 && (strings.Contains(h, "denominacao") || strings.Contains(h, "descricao") || strings.HasPrefix(h, "nome")):
			layout.name = i
		case layout.code < 0 && (strings.HasPrefix(h, "cod") || h == "conta" || strings.Contains(h, "conta resumo")):
			layout.code = i
		case layout.grouping < 0 && (strings.Contains(h, "agrup") || strings.Contains(h, "grupo")):
			layout.grouping = i
		case layout.situation < 0 && strings.Contains(h, "situac"):
			layout.situation = i
		}
	}
	if layout.code < 0 && layout.name < 0 {
		layout.name = firstMonth - 1
		layout.code = firstMonth - 2
		if layout.grouping < 0 {
			layout.grouping = firstMonth - 3
		}
		if layout.situation < 0 {
			layout.situation = firstMonth - 4
		}
	}
	return layout
}

func hasColumns(row []string, required []string) bool {
	seen := make(map[string]bool, len(row))
	for _, c := range row {
		seen[headerKey(c)] = true
	}
	for _, name := range required {
		if !seen[name] {
			return false
		}
	}
	return true
}

// normalizeHeaders trims header text and disambiguates duplicates.
func normalizeHeaders(row []string) []string {
	headers := make([]string, len(row))
	counts := make(map[string]int, len(row))
	for i, h := range row {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		counts[h]++
		if counts[h] > 1 {
			h = h + "_" + strconv.Itoa(counts[h])
		}
		headers[i] = h
	}
	return headers
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
