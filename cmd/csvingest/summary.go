package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/koustreak/csvingest/internal/loader"
	"github.com/koustreak/csvingest/internal/pipeline"
	"github.com/koustreak/csvingest/internal/validator"
)

// printSummary writes the upload statistics and, when present, the
// validation report as a plain-text table.
func printSummary(w io.Writer, res *pipeline.Result) {
	s := res.Summary
	if s == nil {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", res.RunID)
	fmt.Fprintf(tw, "Table\t%s\n", s.Table)
	fmt.Fprintf(tw, "Status\t%s\n", res.Status)
	fmt.Fprintf(tw, "Rows read\t%s\n", humanize.Comma(s.RowsRead))
	fmt.Fprintf(tw, "Rows loaded\t%s\n", humanize.Comma(s.RowsLoaded))
	fmt.Fprintf(tw, "Rows rejected\t%s\n", humanize.Comma(s.RowsRejected))
	fmt.Fprintf(tw, "Success rate\t%.2f%%\n", s.SuccessRate)
	fmt.Fprintf(tw, "Chunks\t%d\n", s.ChunksProcessed)
	fmt.Fprintf(tw, "Elapsed\t%s\n", s.Elapsed.Round(time.Millisecond))
	if s.Elapsed > 0 {
		rate := float64(s.RowsLoaded) / s.Elapsed.Seconds()
		fmt.Fprintf(tw, "Throughput\t%s rows/s\n", humanize.Comma(int64(rate)))
	}
	for _, kind := range errorKinds(s.ErrorCounts) {
		fmt.Fprintf(tw, "  %s\t%s\n", kind, humanize.Comma(s.ErrorCounts[kind]))
	}
	if s.DeadLetter != "" {
		fmt.Fprintf(tw, "Dead letters\t%s\n", s.DeadLetter)
	}
	if res.ReportLocation != "" {
		fmt.Fprintf(tw, "Report\t%s\n", res.ReportLocation)
	}
	tw.Flush()

	if res.Report != nil {
		fmt.Fprintln(w)
		if text, err := res.Report.Render(validator.FormatText); err == nil {
			w.Write(text)
		}
	}
}

func errorKinds(counts map[loader.ErrorKind]int64) []loader.ErrorKind {
	kinds := make([]loader.ErrorKind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
