package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dre-ingest/internal/app"
	"github.com/odyssey-erp/dre-ingest/internal/pipeline"
	_ "github.com/odyssey-erp/dre-ingest/internal/testing/guard"
)

func TestRunUsage(t *testing.T) {
	cases := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, pipeline.ExitUsage},
		{"unknown command", []string{"explode"}, pipeline.ExitUsage},
		{"unknown flag", []string{"run", "--force"}, pipeline.ExitUsage},
		{"stray argument", []string{"status", "extra"}, pipeline.ExitUsage},
		{"inspect without file", []string{"inspect"}, pipeline.ExitUsage},
		{"help", []string{"help"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
			require.Equal(t, tc.code, run(tc.args, stdout, stderr))
			if tc.code == 0 {
				require.Contains(t, stdout.String(), "usage: dreingest")
			}
		})
	}
}

func TestMainSkipsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}
