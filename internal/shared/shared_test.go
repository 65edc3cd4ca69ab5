package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFoldText(t *testing.T) {
	require.Equal(t, "lancamento", FoldText("Lançamento"))
	require.Equal(t, "periodo", FoldText("  PERÍODO "))
	require.Equal(t, "denominacao da conta", FoldText("Denominação   da Conta"))
	require.Equal(t, "marco", FoldText("Março"))
}

func TestAdvisoryLockIDIsStable(t *testing.T) {
	require.Equal(t, AdvisoryLockID(IngestLockName), AdvisoryLockID(""))
	require.NotEqual(t, AdvisoryLockID("dre:ingest"), AdvisoryLockID("dre:other"))
	require.Equal(t, "dre:ingest:lock", IngestLockKey(""))
}

func TestPagination(t *testing.T) {
	p := NewPagination(3, 10, 45)
	require.Equal(t, 5, p.TotalPages)
	require.Equal(t, 20, p.Offset())

	p = NewPagination(0, 1000, 5)
	require.Equal(t, 1, p.Page)
	require.Equal(t, maxPerPage, p.PerPage)
	require.Zero(t, p.Offset())
}
