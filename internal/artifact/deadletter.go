package artifact

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/loader"
)

// Format is the encoding of a dead-letter file.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a dead-letter format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSONL:
		return f, nil
	case "", "tabular":
		return FormatCSV, nil
	case "json", "ndjson":
		return FormatJSONL, nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "unknown dead-letter format %q (want csv or jsonl)", s)
}

// errorColumns follow the original columns in a CSV dead-letter file.
var errorColumns = []string{"run_id", "chunk_index", "row_index", "error_type", "error_message", "error_timestamp"}

// DeadLetters is a loader.DeadLetterSink writing one file per run named
// <table>_errors_<run_id>.<ext>.
type DeadLetters struct {
	store    Store
	table    string
	columns  []string
	format   Format
	location string
}

// NewDeadLetters creates a sink for table. columns are the source header
// names used for the CSV layout.
func NewDeadLetters(store Store, table string, columns []string, format Format) *DeadLetters {
	if format == "" {
		format = FormatCSV
	}
	return &DeadLetters{store: store, table: table, columns: columns, format: format}
}

// FileName is the dead-letter object name for a run.
func FileName(table, runID string, format Format) string {
	return fmt.Sprintf("%s_errors_%s.%s", table, runID, format)
}

// ReportName is the validation report object name for a run.
func ReportName(table, runID, ext string) string {
	return fmt.Sprintf("%s_validation_%s.%s", table, runID, ext)
}

func (d *DeadLetters) WriteRejects(ctx context.Context, runID string, recs []loader.ErrorRecord) error {
	var (
		data        []byte
		err         error
		contentType string
	)
	switch d.format {
	case FormatJSONL:
		data, err = encodeJSONL(runID, recs)
		contentType = "application/x-ndjson"
	default:
		data, err = encodeCSV(d.columns, runID, recs)
		contentType = "text/csv"
	}
	if err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "failed to encode rejected rows", err)
	}

	loc, err := d.store.Put(ctx, FileName(d.table, runID, d.format), data, contentType)
	if err != nil {
		return err
	}
	d.location = loc
	return nil
}

// Location is where the last WriteRejects put its file.
func (d *DeadLetters) Location() string {
	return d.location
}

// encodeCSV writes the original fields verbatim. Rows wider than the
// header get extra_N columns so no value is dropped.
func encodeCSV(columns []string, runID string, recs []loader.ErrorRecord) ([]byte, error) {
	width := len(columns)
	for _, r := range recs {
		width = max(width, len(r.RawRow))
	}
	header := append([]string{}, columns...)
	for i := len(columns); i < width; i++ {
		header = append(header, fmt.Sprintf("extra_%d", i-len(columns)+1))
	}
	header = append(header, errorColumns...)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range recs {
		line := make([]string, width, width+len(errorColumns))
		copy(line, r.RawRow)
		line = append(line,
			runID,
			strconv.Itoa(r.ChunkIndex),
			strconv.Itoa(r.RowIndex),
			string(r.Kind),
			r.Message,
			r.At.UTC().Format(time.RFC3339),
		)
		if err := w.Write(line); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

type jsonRecord struct {
	RunID string `json:"run_id"`
	loader.ErrorRecord
}

func encodeJSONL(runID string, recs []loader.ErrorRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := gojson.NewEncoder(&buf)
	for _, r := range recs {
		if err := enc.Encode(jsonRecord{RunID: runID, ErrorRecord: r}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

var _ loader.DeadLetterSink = (*DeadLetters)(nil)
