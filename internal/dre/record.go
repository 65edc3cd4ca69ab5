// Package dre holds the canonical income-statement record and the rules
// that turn spreadsheet rows into it.
package dre

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

// Tipo classifies a record as revenue or expense.
type Tipo string

const (
	TipoReceita Tipo = "receita"
	TipoDespesa Tipo = "despesa"
)

// Default labels used when the source row has nothing better.
const (
	DefaultCategoria = "Não especificado"
	DefaultProjeto   = "HITSS_AUTO"
)

// ValorScale is the number of decimal places stored for Valor.
const ValorScale = 4

// Period is a calendar month.
type Period struct {
	Month int `json:"month" validate:"min=1,max=12"`
	Year  int `json:"year" validate:"min=1900,max=9999"`
}

// String formats the period as M/YYYY.
func (p Period) String() string {
	return strconv.Itoa(p.Month) + "/" + strconv.Itoa(p.Year)
}

// Source locates the workbook cell a record came from.
type Source struct {
	Sheet  string `json:"sheet"`
	Row    int    `json:"row"`
	Column int    `json:"column,omitempty"`
}

// Record is one reportable monetary transaction of a batch.
type Record struct {
	BatchID          string          `json:"batch_id" validate:"required"`
	FileName         string          `json:"file_name" validate:"required"`
	Tipo             Tipo            `json:"tipo" validate:"oneof=receita despesa"`
	Natureza         string          `json:"natureza" validate:"required"`
	Descricao        string          `json:"descricao" validate:"required"`
	Valor            decimal.Decimal `json:"valor"`
	Period           Period          `json:"period"`
	Categoria        string          `json:"categoria" validate:"required"`
	Projeto          string          `json:"projeto" validate:"required"`
	ContaResumo      string          `json:"conta_resumo,omitempty"`
	DenominacaoConta string          `json:"denominacao_conta,omitempty"`
	Cliente          string          `json:"cliente,omitempty"`
	LinhaNegocio     string          `json:"linha_negocio,omitempty"`
	Source           Source          `json:"source"`
	RawData          json.RawMessage `json:"raw_data,omitempty"`
}

// Key is the record's identity inside its batch. Reloading the same
// workbook under the same batch id yields the same keys.
func (r Record) Key() string {
	parts := []string{
		r.BatchID,
		r.Source.Sheet,
		strconv.Itoa(r.Source.Row),
		strconv.Itoa(r.Source.Column),
		strings.ToLower(r.ContaResumo),
		r.Period.String(),
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(parts, ";")))
}
