package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/csvingest/internal/config"
	"github.com/koustreak/csvingest/internal/loader"
	"github.com/koustreak/csvingest/internal/pipeline"
)

func TestApplyFlags_OnlyChangedFlags(t *testing.T) {
	f := &flags{}
	cmd := &cobra.Command{Use: "load"}
	addInputFlags(cmd, f)
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", 0, "")
	cmd.Flags().StringVar(&f.ifExists, "if-exists", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--chunk-size", "250", "--header-row", "0", "--delimiter", "tab"}))

	cfg := config.Default()
	applyFlags(cmd, f, cfg)

	assert.Equal(t, 250, cfg.CSV.ChunkSize)
	require.NotNil(t, cfg.CSV.HeaderRow)
	assert.Equal(t, 0, *cfg.CSV.HeaderRow, "an explicit zero still overrides")
	assert.Equal(t, "tab", cfg.CSV.Delimiter)
	assert.Equal(t, "fail", cfg.Table.IfExists, "unset flags keep the configured value")
	assert.Equal(t, "auto", cfg.CSV.Encoding)
}

func TestValidateForAnalysis_AllowsMissingDSN(t *testing.T) {
	cfg := config.Default()
	assert.NoError(t, validateForAnalysis(cfg))
	assert.Empty(t, cfg.Database.DSN, "the caller's config is untouched")
	assert.Error(t, cfg.Validate())
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &pipeline.Result{
		RunID:  "run-1",
		Status: string(loader.StatusCompletedWithErrors),
		Summary: &loader.LoadSummary{
			Table:           "sales",
			RowsRead:        1234567,
			RowsLoaded:      1234560,
			RowsRejected:    7,
			ChunksProcessed: 247,
			Elapsed:         2 * time.Second,
			SuccessRate:     99.99,
			ErrorCounts:     map[loader.ErrorKind]int64{loader.KindCoercionFailed: 7},
			DeadLetter:      "errors/sales_errors_run-1.csv",
		},
	})

	out := buf.String()
	assert.Contains(t, out, "1,234,567")
	assert.Contains(t, out, "completed_with_errors")
	assert.Contains(t, out, string(loader.KindCoercionFailed))
	assert.Contains(t, out, "errors/sales_errors_run-1.csv")
}
