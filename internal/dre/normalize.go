package dre

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/dre-ingest/internal/shared"
	"github.com/odyssey-erp/dre-ingest/internal/sheet"
)

// maxStoredSkips caps the samples kept in a Report.
const maxStoredSkips = 100

var (
	receitaWords = map[string]bool{"receita": true, "receitas": true, "revenue": true, "income": true, "faturamento": true}
	despesaWords = map[string]bool{"despesa": true, "despesas": true, "custo": true, "custos": true, "cost": true, "costs": true, "expense": true, "expenses": true}
)

// NormalizerConfig carries the per-run values stamped on every record.
type NormalizerConfig struct {
	BatchID      string
	FileName     string
	ProjectLabel string
}

// Normalizer maps parsed rows onto Records.
type Normalizer struct {
	cfg      NormalizerConfig
	validate *validator.Validate
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.ProjectLabel == "" {
		cfg.ProjectLabel = DefaultProjeto
	}
	return &Normalizer{cfg: cfg, validate: validator.New()}
}

// Report is the outcome of normalizing a whole table.
type Report struct {
	Records []Record
	Skipped int
	Reasons map[string]int
	Samples []RowValidationError
}

// NormalizeAll normalizes rows in order. Invalid rows are counted, never fatal.
func (n *Normalizer) NormalizeAll(rows []sheet.RawRow) Report {
	report := Report{Records: make([]Record, 0, len(rows)), Reasons: map[string]int{}}
	for i, row := range rows {
		rec, err := n.Normalize(row, i+1)
		if err != nil {
			report.Skipped++
			var rowErr *RowValidationError
			if errors.As(err, &rowErr) {
				report.Reasons[rowErr.Reason]++
				if len(report.Samples) < maxStoredSkips {
					report.Samples = append(report.Samples, *rowErr)
				}
			}
			continue
		}
		report.Records = append(report.Records, rec)
	}
	return report
}

// Normalize converts a single row. index is the 1-based position used for
// synthesized descriptions. A skipped row yields *RowValidationError.
func (n *Normalizer) Normalize(row sheet.RawRow, index int) (Record, error) {
	var (
		rec        Record
		rawAmount  string
		amountText bool
		period     Period
		natureza   string
		err        error
	)
	skip := func(reason, detail string) (Record, error) {
		return Record{}, &RowValidationError{Row: row.Row, Column: row.Column, Reason: reason, Detail: detail}
	}

	switch row.Shape {
	case sheet.ShapeWide:
		rawAmount, amountText = row.Amount, row.AmountText
		if period, err = NewPeriod(row.Month, row.Year); err != nil {
			return skip(ReasonInvalidPeriod, err.Error())
		}
		rec.Descricao = firstNonEmpty(row.AccountName, row.AccountCode)
		rec.Categoria = row.AccountGrouping
		rec.ContaResumo = row.AccountCode
		rec.DenominacaoConta = row.AccountName
	default:
		amount, _ := row.Lookup("Lancamento", "Valor")
		rawAmount, amountText = amount.Value, amount.Text
		if period, err = ParsePeriod(row.Field("Periodo")); err != nil {
			return skip(ReasonInvalidPeriod, err.Error())
		}
		natureza = row.Field("Natureza")
		rec.ContaResumo = row.Field("ContaResumo")
		rec.DenominacaoConta = row.Field("DenominacaoConta")
		rec.Cliente = row.Field("Cliente")
		rec.LinhaNegocio = row.Field("LinhaNegocio")
		rec.Descricao = firstNonEmpty(rec.DenominacaoConta, row.Field("Descricao", "Recurso"))
		rec.Categoria = firstNonEmpty(rec.LinhaNegocio, row.Field("Categoria"), rec.ContaResumo)
		rec.Projeto = row.Field("Projeto", "CodigoProjeto")
	}

	parse := ParseNumber
	if amountText {
		parse = ParseAmount
	}
	valor, err := parse(rawAmount)
	if err != nil {
		return skip(ReasonInvalidAmount, err.Error())
	}
	// Float residue such as -1.1e-13 must not reach the NUMERIC(20,4) column.
	valor = valor.Round(ValorScale)
	if valor.IsZero() {
		return skip(ReasonZeroAmount, "amount is zero")
	}

	rec.BatchID = n.cfg.BatchID
	rec.FileName = n.cfg.FileName
	rec.Valor = valor
	rec.Period = period
	rec.Tipo, rec.Natureza = classify(natureza, valor.Sign())
	if rec.Descricao == "" {
		rec.Descricao = "Item " + strconv.Itoa(index)
	}
	if rec.Categoria == "" {
		rec.Categoria = DefaultCategoria
	}
	if rec.Projeto == "" {
		rec.Projeto = n.cfg.ProjectLabel
	}
	rec.Source = Source{Sheet: row.Sheet, Row: row.Row, Column: row.Column}
	if rec.RawData, err = json.Marshal(row.Source()); err != nil {
		return skip(ReasonInvalidRecord, err.Error())
	}
	if err := n.validate.Struct(rec); err != nil {
		return skip(ReasonInvalidRecord, err.Error())
	}
	return rec, nil
}

// classify resolves tipo from an explicit natureza, falling back to the
// amount sign. The natureza text is kept verbatim when present.
func classify(natureza string, sign int) (Tipo, string) {
	natureza = strings.TrimSpace(natureza)
	folded := shared.FoldText(natureza)
	switch {
	case receitaWords[folded]:
		return TipoReceita, natureza
	case despesaWords[folded]:
		return TipoDespesa, natureza
	}
	tipo, derived := TipoReceita, "RECEITA"
	if sign < 0 {
		tipo, derived = TipoDespesa, "CUSTO"
	}
	if natureza == "" {
		natureza = derived
	}
	return tipo, natureza
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
