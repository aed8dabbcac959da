// Package analyzer detects the structure of an unknown delimited text file:
// its character encoding, field delimiter and header position. It also
// owns the record reader every later pass uses to stream the file with
// the detected profile.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/koustreak/csvingest/internal/errs"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

const (
	DefaultSampleSize  = 1000
	DefaultSampleBytes = 64 << 10
)

// CsvProfile is the structural description of a file. It is produced once
// per run and read by every later stage.
type CsvProfile struct {
	Source         string   `json:"source" yaml:"source"`
	Encoding       string   `json:"encoding" yaml:"encoding"`
	Delimiter      string   `json:"delimiter" yaml:"delimiter"`
	HasHeader      bool     `json:"has_header" yaml:"has_header"`
	HeaderRowIndex int      `json:"header_row_index" yaml:"header_row_index"`
	SampleRowCount int      `json:"sample_row_count" yaml:"sample_row_count"`
	FieldCount     int      `json:"field_count" yaml:"field_count"`
	Columns        []string `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// DelimiterRune returns the delimiter as a rune.
func (p *CsvProfile) DelimiterRune() rune {
	for _, r := range p.Delimiter {
		return r
	}
	return ','
}

// SkipRows is the number of records before the first data row.
func (p *CsvProfile) SkipRows() int {
	if p.HasHeader {
		return p.HeaderRowIndex + 1
	}
	return p.HeaderRowIndex
}

// Sample is the window of data rows read during analysis.
type Sample struct {
	Rows [][]string
}

// Options tunes analysis. Explicit Encoding, Delimiter, NoHeader and
// HeaderRow values are taken as given and skip detection.
type Options struct {
	SampleSize  int
	SampleBytes int
	Encoding    string
	Delimiter   string
	NoHeader    bool
	HeaderRow   *int
}

func (o Options) withDefaults() Options {
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.SampleBytes <= 0 {
		o.SampleBytes = DefaultSampleBytes
	}
	return o
}

// Analyze reads the head of src and returns its profile together with up
// to opts.SampleSize data rows. Failures are *errs.StageError values from
// the analysis stage.
func Analyze(ctx context.Context, src Source, opts Options) (*CsvProfile, *Sample, error) {
	opts = opts.withDefaults()
	name := src.Name()

	skip := 0
	if opts.HeaderRow != nil {
		if *opts.HeaderRow < 0 {
			return nil, nil, errs.Analysis(errs.CodeUnreadableInput, name, "header row index must not be negative", nil)
		}
		skip = *opts.HeaderRow
	}

	rc, err := src.Open(ctx)
	if err != nil {
		return nil, nil, errs.Analysis(errs.CodeUnreadableInput, name, "cannot open input", err)
	}
	defer rc.Close()

	head := make([]byte, opts.SampleBytes)
	n, err := io.ReadFull(rc, head)
	truncated := err == nil
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, nil, errs.Analysis(errs.CodeUnreadableInput, name, "cannot read input", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, nil, errs.Analysis(errs.CodeEmptyFile, name, "input is empty", nil)
	}

	c, text, err := resolveEncoding(head, truncated, opts.Encoding)
	if err != nil {
		return nil, nil, errs.Analysis(errs.CodeUndecodableEncoding, name, "cannot determine encoding", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil, errs.Analysis(errs.CodeEmptyFile, name, "input holds no data", nil)
	}

	delim, err := resolveDelimiter(name, completeLines(text, truncated), opts.Delimiter)
	if err != nil {
		return nil, nil, err
	}

	body := io.MultiReader(bytes.NewReader(head), rc)
	cr := newCSVReader(transform.NewReader(body, c.enc.NewDecoder()), delim)

	want := skip + 1 + opts.SampleSize
	records := make([][]string, 0, min(want, 1024))
	for len(records) < want {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errs.Analysis(errs.CodeUnreadableInput, name,
				fmt.Sprintf("cannot parse sample after %d records", len(records)), err)
		}
		records = append(records, rec)
	}
	if len(records) <= skip {
		return nil, nil, errs.Analysis(errs.CodeEmptyFile, name,
			fmt.Sprintf("no records after skipping %d rows", skip), nil)
	}
	records = records[skip:]

	hasHeader := !opts.NoHeader && (opts.HeaderRow != nil || detectHeader(records))

	profile := &CsvProfile{
		Source:         name,
		Encoding:       c.name,
		Delimiter:      string(delim),
		HasHeader:      hasHeader,
		HeaderRowIndex: skip,
	}

	rows := records
	if hasHeader {
		profile.Columns = records[0]
		profile.FieldCount = len(records[0])
		rows = records[1:]
	}
	if len(rows) > opts.SampleSize {
		rows = rows[:opts.SampleSize]
	}
	if !hasHeader {
		profile.FieldCount = modalWidth(rows)
	}
	profile.SampleRowCount = len(rows)

	return profile, &Sample{Rows: rows}, nil
}

func resolveEncoding(head []byte, truncated bool, explicit string) (codec, string, error) {
	if explicit != "" {
		enc, canonical, err := LookupEncoding(explicit)
		if err != nil {
			return codec{}, "", err
		}
		text, err := decodeHead(enc, head, truncated)
		if err != nil {
			return codec{}, "", errs.Wrap(errs.ErrKindInvalidInput, "input does not decode as "+canonical, err)
		}
		return codec{name: canonical, enc: enc}, text, nil
	}

	c, text, ok := detectEncoding(head, truncated)
	if !ok {
		return codec{}, "", errs.New(errs.ErrKindInvalidInput, "no candidate encoding decodes the input as text")
	}
	return c, text, nil
}

func resolveDelimiter(name, text, explicit string) (rune, error) {
	if explicit != "" {
		d, err := ParseDelimiter(explicit)
		if err != nil {
			return 0, errs.Analysis(errs.CodeNoConsistentDelimiter, name, "invalid delimiter override", err)
		}
		return d, nil
	}
	d, ok := detectDelimiter(text)
	if !ok {
		return 0, errs.Analysis(errs.CodeNoConsistentDelimiter, name,
			"no candidate delimiter splits a majority of lines consistently", nil)
	}
	return d, nil
}

// decodeHead decodes head with enc. A truncated head may end inside a
// multi-byte sequence, so up to three trailing bytes are dropped on failure.
func decodeHead(enc encoding.Encoding, head []byte, truncated bool) (string, error) {
	var lastErr error
	for cut := 0; cut < 4 && cut < len(head); cut++ {
		out, err := enc.NewDecoder().Bytes(head[:len(head)-cut])
		if err == nil {
			return string(out), nil
		}
		lastErr = err
		if !truncated {
			break
		}
	}
	return "", lastErr
}

// completeLines drops a trailing partial line from a truncated sample.
func completeLines(text string, truncated bool) string {
	if !truncated {
		return text
	}
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		return text[:i+1]
	}
	return text
}

func modalWidth(rows [][]string) int {
	freq := make(map[int]int)
	best, bestFreq := 0, 0
	for _, r := range rows {
		freq[len(r)]++
		f := freq[len(r)]
		if f > bestFreq || (f == bestFreq && len(r) < best) {
			best, bestFreq = len(r), f
		}
	}
	return best
}
