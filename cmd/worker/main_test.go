package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dre-ingest/internal/app"
	_ "github.com/odyssey-erp/dre-ingest/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}
