// Package inference turns a sample of CSV rows into a SchemaPlan: one
// normalized, uniquely named column per source field with the tightest
// type the sampled values support.
package inference

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/koustreak/csvingest/internal/analyzer"
	"github.com/koustreak/csvingest/internal/coltype"
	"github.com/koustreak/csvingest/internal/errs"
)

const (
	DefaultTextMaxLength = 255
	DefaultIDColumn      = "id"

	// distinctCap bounds the per-column distinct-value set.
	distinctCap = 10000
)

// textBuckets are the lengths text columns are rounded up to.
var textBuckets = []int{10, 50, 100, 255, 500, 1000, 2000, 4000}

// Options tunes inference.
type Options struct {
	Mode Mode
	// Tolerance overrides DefaultTolerance in relaxed mode.
	Tolerance float64
	// TextMaxLength caps bounded text columns; longer values make large text.
	TextMaxLength int
	TableName     string
	AddIDColumn   bool
	IDColumn      string
	// Indexes lists columns to index. With AutoIndex and no explicit list,
	// id, *_id and name columns are indexed.
	Indexes   []string
	AutoIndex bool
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeAuto
	}
	if o.TextMaxLength <= 0 {
		o.TextMaxLength = DefaultTextMaxLength
	}
	if o.IDColumn == "" {
		o.IDColumn = DefaultIDColumn
	}
	return o
}

// Infer builds a SchemaPlan from the analyzed sample.
func Infer(profile *analyzer.CsvProfile, sample *analyzer.Sample, opts Options) (*SchemaPlan, error) {
	opts = opts.withDefaults()
	if sample == nil || len(sample.Rows) == 0 {
		return nil, errs.Schema(errs.CodeEmptySample, profile.Source, "sample holds no data rows", nil)
	}

	width := profile.FieldCount
	if width == 0 {
		return nil, errs.Schema(errs.CodeEmptySample, profile.Source, "sample has no columns", nil)
	}

	raw := make([]string, width)
	if profile.HasHeader {
		copy(raw, profile.Columns)
	}
	names := UniqueNames(raw)

	tol := opts.tolerance()
	plan := &SchemaPlan{
		TableName:   NormalizeName(opts.TableName),
		Columns:     make([]ColumnProfile, width),
		AddIDColumn: opts.AddIDColumn,
		IDColumn:    NormalizeName(opts.IDColumn),
	}

	values := make([]string, len(sample.Rows))
	for i := 0; i < width; i++ {
		for r, row := range sample.Rows {
			if i < len(row) {
				values[r] = row[i]
			} else {
				values[r] = ""
			}
		}
		col := inferColumn(values, tol, opts.TextMaxLength)
		col.Name = names[i]
		col.SourceName = raw[i]
		plan.Columns[i] = col
	}

	plan.Indexes = resolveIndexes(plan, opts)
	return plan, nil
}

// inferColumn walks the lattice boolean, integer, decimal, date, datetime
// and settles on the first type whose misses fit the tolerance.
func inferColumn(values []string, tol float64, textMax int) ColumnProfile {
	stats := SampleStats{Sampled: len(values), MinLength: -1}
	distinct := make(map[string]struct{})
	nonEmpty := make([]string, 0, len(values))

	for _, v := range values {
		t := strings.TrimSpace(v)
		if t == "" {
			stats.NullCount++
			continue
		}
		nonEmpty = append(nonEmpty, t)

		n := utf8.RuneCountInString(v)
		if stats.MinLength < 0 || n < stats.MinLength {
			stats.MinLength = n
		}
		if n > stats.MaxLength {
			stats.MaxLength = n
		}
		if len(distinct) < distinctCap {
			distinct[v] = struct{}{}
		} else if _, ok := distinct[v]; !ok {
			stats.DistinctCapped = true
		}
	}
	stats.Distinct = len(distinct)
	if stats.MinLength < 0 {
		stats.MinLength = 0
	}

	col := ColumnProfile{Stats: stats}
	n := len(nonEmpty)
	if n == 0 {
		col.Type = coltype.Type{Kind: coltype.Text, MaxLength: textMax}
		col.Nullable = true
		return col
	}

	allowed := int(math.Floor(tol * float64(n)))
	fits := func(conforming int) bool {
		return conforming > 0 && n-conforming <= allowed
	}

	typ, formats, conforming := classify(nonEmpty, fits, textMax, stats.MaxLength)
	col.Type = typ
	col.Formats = formats
	col.Stats.Mismatches = n - conforming
	col.TolerateMismatch = col.Stats.Mismatches > 0
	col.Nullable = stats.NullCount > 0 || col.TolerateMismatch
	return col
}

func classify(vals []string, fits func(int) bool, textMax, maxLen int) (coltype.Type, []string, int) {
	if c := countBool(vals); fits(c) {
		return coltype.Type{Kind: coltype.Boolean}, nil, c
	}

	ints := 0
	for _, v := range vals {
		if _, ok := coltype.ParseInt(v); ok {
			ints++
		}
	}
	if fits(ints) {
		return coltype.Type{Kind: coltype.Integer}, nil, ints
	}

	if t, c, ok := decimalType(vals); ok && fits(c) {
		return t, nil, c
	}

	if t, formats, c, ok := temporalType(vals, fits); ok {
		return t, formats, c
	}

	return coltype.Type{Kind: coltype.Text, MaxLength: textLength(maxLen, textMax)}, nil, len(vals)
}

// countBool counts boolean literals. 1 and 0 only count once the column
// holds a word literal; a column of bare 1/0 is an integer column.
func countBool(vals []string) int {
	count, words := 0, 0
	for _, v := range vals {
		if _, ok, numeric := coltype.ParseBool(v); ok {
			count++
			if !numeric {
				words++
			}
		}
	}
	if words == 0 {
		return 0
	}
	return count
}

func decimalType(vals []string) (coltype.Type, int, bool) {
	var maxInt, maxFrac, conforming int
	for _, v := range vals {
		whole, frac, ok := coltype.DecimalDigits(v)
		if !ok {
			continue
		}
		conforming++
		maxInt = max(maxInt, whole)
		maxFrac = max(maxFrac, frac)
	}
	if conforming == 0 || maxInt > coltype.MaxDecimalPrecision {
		return coltype.Type{}, 0, false
	}
	scale := min(maxFrac, coltype.MaxDecimalPrecision-maxInt)
	return coltype.Type{Kind: coltype.Decimal, Precision: max(maxInt+scale, 1), Scale: scale}, conforming, true
}

// temporalType tries date layouts, then datetime layouts, then a datetime
// layout paired with a date layout for columns that mix both.
func temporalType(vals []string, fits func(int) bool) (coltype.Type, []string, int, bool) {
	dates := make([]uint16, len(vals))
	stamps := make([]uint16, len(vals))
	for i, v := range vals {
		dates[i] = layoutMask(coltype.DateLayouts, v)
		stamps[i] = layoutMask(coltype.DateTimeLayouts, v)
	}

	for l, layout := range coltype.DateLayouts {
		if c := countMask(dates, nil, l, -1); fits(c) {
			return coltype.Type{Kind: coltype.Date}, []string{layout}, c, true
		}
	}
	for l, layout := range coltype.DateTimeLayouts {
		if c := countMask(stamps, nil, l, -1); fits(c) {
			return coltype.Type{Kind: coltype.DateTime}, []string{layout}, c, true
		}
	}
	for s, stamp := range coltype.DateTimeLayouts {
		for d, date := range coltype.DateLayouts {
			if c := countMask(stamps, dates, s, d); fits(c) {
				return coltype.Type{Kind: coltype.DateTime}, []string{stamp, date}, c, true
			}
		}
	}
	return coltype.Type{}, nil, 0, false
}

func layoutMask(layouts []string, v string) uint16 {
	var mask uint16
	for i, layout := range layouts {
		if _, _, ok := coltype.MatchLayout([]string{layout}, v); ok {
			mask |= 1 << i
		}
	}
	return mask
}

// countMask counts values matching layout bit a in primary or, when b is
// not negative, layout bit b in secondary.
func countMask(primary, secondary []uint16, a, b int) int {
	n := 0
	for i := range primary {
		if primary[i]&(1<<a) != 0 || (b >= 0 && secondary[i]&(1<<b) != 0) {
			n++
		}
	}
	return n
}

func textLength(maxLen, textMax int) int {
	for _, b := range textBuckets {
		if b >= maxLen && b <= textMax {
			return b
		}
	}
	if maxLen <= textMax {
		return textMax
	}
	return 0
}

func resolveIndexes(plan *SchemaPlan, opts Options) []string {
	if len(opts.Indexes) > 0 {
		out := make([]string, 0, len(opts.Indexes))
		for _, name := range opts.Indexes {
			out = append(out, NormalizeName(name))
		}
		return out
	}
	if !opts.AutoIndex {
		return nil
	}

	var out []string
	for _, c := range plan.Columns {
		if c.Name == "id" || c.Name == "name" || strings.HasSuffix(c.Name, "_id") {
			out = append(out, c.Name)
		}
	}
	return out
}
