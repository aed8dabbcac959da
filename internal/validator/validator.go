// Package validator checks a loaded table against its load summary and
// source file and produces an ordered ValidationReport.
package validator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/koustreak/csvingest/internal/analyzer"
	"github.com/koustreak/csvingest/internal/coltype"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/errs"
	"github.com/koustreak/csvingest/internal/loader"
	"github.com/koustreak/csvingest/internal/logger"
	"github.com/koustreak/csvingest/internal/provision"
)

// Check names a validation check.
type Check string

const (
	CheckTableExists   Check = "table_exists"
	CheckRowCount      Check = "row_count"
	CheckNullValues    Check = "null_values"
	CheckDuplicates    Check = "duplicates"
	CheckSampleData    Check = "sample_data"
	CheckColumnStats   Check = "column_stats"
	CheckCSVComparison Check = "csv_comparison"
)

// AllChecks lists every check in run order.
var AllChecks = []Check{
	CheckTableExists, CheckRowCount, CheckNullValues, CheckDuplicates,
	CheckSampleData, CheckColumnStats, CheckCSVComparison,
}

// DefaultChecks is the check list used when none is configured.
var DefaultChecks = []Check{CheckRowCount, CheckNullValues, CheckDuplicates}

const (
	DefaultThreshold     = 95.0
	DefaultNullTolerance = 0.05
	DefaultSampleRows    = 5
)

// ParseChecks validates check names. An empty list means DefaultChecks;
// "all" means AllChecks.
func ParseChecks(names []string) ([]Check, error) {
	if len(names) == 0 {
		return append([]Check(nil), DefaultChecks...), nil
	}
	var out []Check
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "all" {
			return append([]Check(nil), AllChecks...), nil
		}
		found := false
		for _, c := range AllChecks {
			if string(c) == n {
				out = append(out, c)
				found = true
				break
			}
		}
		if !found {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "unknown validation check %q", n)
		}
	}
	return out, nil
}

// Options tunes validation.
type Options struct {
	RunID  string
	Checks []Check
	// Threshold is the minimum score, in percent, for ratio-scored checks.
	Threshold float64
	// NullTolerance widens the band around the sampled NULL ratio.
	NullTolerance float64
	// StrictDuplicates turns duplicate rows from a warning into a failure.
	StrictDuplicates bool
	// Strict escalates a failed report to a ValidationError.
	Strict     bool
	SampleRows int
}

func (o Options) withDefaults() Options {
	if len(o.Checks) == 0 {
		o.Checks = DefaultChecks
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.NullTolerance <= 0 {
		o.NullTolerance = DefaultNullTolerance
	}
	if o.SampleRows <= 0 {
		o.SampleRows = DefaultSampleRows
	}
	return o
}

// Input is everything a validation run looks at.
type Input struct {
	Handle  *provision.TableHandle
	Summary *loader.LoadSummary
	Source  analyzer.Source
	Profile *analyzer.CsvProfile
}

// Validator runs checks against a database.DB.
type Validator struct {
	db  database.DB
	log *logger.Logger
}

// New creates a Validator.
func New(db database.DB, log *logger.Logger) *Validator {
	if log == nil {
		log = logger.L()
	}
	return &Validator{db: db, log: log}
}

// Validate runs the configured checks in order. A failing report is only
// an error when opts.Strict is set; the report is returned either way.
func (v *Validator) Validate(ctx context.Context, in Input, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	h := in.Handle
	log := v.log.Stage("validation", opts.RunID, h.Table)

	r := &Report{RunID: opts.RunID, Table: h.Table, Threshold: opts.Threshold}
	checks := opts.Checks
	if !contains(checks, CheckTableExists) {
		checks = append([]Check{CheckTableExists}, checks...)
	}

	for _, c := range checks {
		var res CheckResult
		switch c {
		case CheckTableExists:
			res = v.tableExists(ctx, h)
		case CheckRowCount:
			res = v.rowCount(ctx, h, in.Summary)
		case CheckNullValues:
			res = v.nullValues(ctx, h, opts)
		case CheckDuplicates:
			res = v.duplicates(ctx, h, opts)
		case CheckSampleData:
			res = v.sampleData(ctx, h, opts)
		case CheckColumnStats:
			res = v.columnStats(ctx, h)
		case CheckCSVComparison:
			res = v.csvComparison(ctx, in, opts)
		default:
			continue
		}
		res.Name = c
		r.Checks = append(r.Checks, res)

		// Nothing else can run against a missing table.
		if c == CheckTableExists && !res.Passed {
			break
		}
	}
	r.settle()
	r.GeneratedAt = time.Now().UTC()

	log.InfoWith("validation finished", map[string]interface{}{
		"status": string(r.Status),
		"failed": r.Failed(),
	})
	if !r.Passed && opts.Strict {
		code := errs.CodeValidationFailed
		if r.Status == StatusError {
			code = errs.CodeCheckFailed
		}
		return r, errs.Validation(code, h.Table, fmt.Sprintf("checks failed: %v", r.Failed()), nil)
	}
	return r, nil
}

func contains(checks []Check, c Check) bool {
	for _, x := range checks {
		if x == c {
			return true
		}
	}
	return false
}

func errored(err error) CheckResult {
	return CheckResult{Status: StatusError, Message: err.Error()}
}

func pass(ok bool, msg string) CheckResult {
	if ok {
		return CheckResult{Status: StatusPassed, Passed: true, Message: msg}
	}
	return CheckResult{Status: StatusFailed, Message: msg}
}

func info(msg string) CheckResult {
	return CheckResult{Status: StatusInfo, Passed: true, Message: msg}
}

func skipped(msg string) CheckResult {
	return CheckResult{Status: StatusSkipped, Passed: true, Message: msg}
}

func score(observed, expected int64) float64 {
	if observed == expected {
		return 100
	}
	lo, hi := min(observed, expected), max(observed, expected)
	if hi <= 0 {
		return 0
	}
	return float64(lo) / float64(hi) * 100
}

func (v *Validator) tableExists(ctx context.Context, h *provision.TableHandle) CheckResult {
	ok, err := v.db.TableExists(ctx, h.Table)
	if err != nil {
		return errored(err)
	}
	if ok {
		return pass(true, fmt.Sprintf("table %s exists", h.Table))
	}
	return pass(false, fmt.Sprintf("table %s does not exist", h.Table))
}

// rowCount expects the table to hold exactly rows_loaded rows, or to have
// grown by exactly rows_loaded when appending to an existing table.
func (v *Validator) rowCount(ctx context.Context, h *provision.TableHandle, s *loader.LoadSummary) CheckResult {
	if s == nil {
		return skipped("no load summary")
	}
	n, err := provision.CountRows(ctx, v.db, h.Table)
	if err != nil {
		return errored(err)
	}

	observed := n
	what := "rows"
	if !h.Created {
		observed = n - h.BaselineRows
		what = "new rows"
	}
	res := pass(observed == s.RowsLoaded,
		fmt.Sprintf("%d %s in table, %d rows loaded", observed, what, s.RowsLoaded))
	res.Observed = observed
	res.Expected = s.RowsLoaded
	return res
}

type nullColumn struct {
	Column   string  `json:"column" yaml:"column"`
	Nulls    int64   `json:"nulls" yaml:"nulls"`
	Observed float64 `json:"observed_ratio" yaml:"observed_ratio"`
	Sampled  float64 `json:"sampled_ratio" yaml:"sampled_ratio"`
	Within   bool    `json:"within_tolerance" yaml:"within_tolerance"`
}

// nullValues compares each column's NULL ratio with what the sample
// showed. Values that did not conform to the column type may have been
// stored as NULL, so the band runs from the sample's empty ratio to its
// empty-plus-mismatch ratio, widened by the tolerance on both sides.
func (v *Validator) nullValues(ctx context.Context, h *provision.TableHandle, opts Options) CheckResult {
	if !h.Created && h.BaselineRows > 0 {
		return skipped("table held rows before this load")
	}

	var cols []string
	var profiles []int
	for i, c := range h.Plan.Columns {
		if c.Stats.Sampled > 0 {
			cols = append(cols, c.Name)
			profiles = append(profiles, i)
		}
	}
	if len(cols) == 0 {
		return skipped("no sampled columns to compare")
	}

	d := h.Dialect
	exprs := []string{"COUNT(*)"}
	for _, c := range cols {
		exprs = append(exprs, "COUNT("+d.QuoteIdent(c)+")")
	}
	row, err := v.db.QueryRow(ctx, "SELECT "+strings.Join(exprs, ", ")+" FROM "+d.QuoteIdent(h.Table))
	if err != nil {
		return errored(err)
	}
	counts := make([]int64, len(exprs))
	dest := make([]any, len(exprs))
	for i := range counts {
		dest[i] = &counts[i]
	}
	if err := row.Scan(dest...); err != nil {
		return errored(err)
	}

	total := counts[0]
	if total == 0 {
		return skipped("table is empty")
	}

	var details []nullColumn
	within := 0
	for i, name := range cols {
		stats := h.Plan.Columns[profiles[i]].Stats
		nulls := total - counts[i+1]
		observed := float64(nulls) / float64(total)
		low := stats.NullRatio()
		high := float64(stats.NullCount+stats.Mismatches) / float64(stats.Sampled)

		ok := observed >= low-opts.NullTolerance && observed <= high+opts.NullTolerance
		if ok {
			within++
		}
		details = append(details, nullColumn{Column: name, Nulls: nulls, Observed: observed, Sampled: low, Within: ok})
	}

	sc := float64(within) / float64(len(cols)) * 100
	res := pass(sc >= opts.Threshold, fmt.Sprintf("%d of %d columns within null tolerance", within, len(cols)))
	res.Score = &sc
	res.Observed = int64(within)
	res.Expected = int64(len(cols))
	res.Details = details
	return res
}

// duplicates counts rows that repeat another row across every loaded
// column. The generated identity column is not loaded, so it is ignored.
func (v *Validator) duplicates(ctx context.Context, h *provision.TableHandle, opts Options) CheckResult {
	d := h.Dialect
	cols := make([]string, 0, len(h.Plan.Columns))
	for _, c := range h.Plan.Columns {
		if c.Type.IsLargeText() && (d == database.DialectMySQL || d == database.DialectSQLServer) {
			continue
		}
		cols = append(cols, d.QuoteIdent(c.Name))
	}
	if len(cols) == 0 {
		return skipped("no comparable columns")
	}
	list := strings.Join(cols, ", ")
	q := fmt.Sprintf("SELECT COUNT(*), COALESCE(SUM(n - 1), 0) FROM (SELECT COUNT(*) AS n FROM %s GROUP BY %s HAVING COUNT(*) > 1) dup",
		d.QuoteIdent(h.Table), list)

	row, err := v.db.QueryRow(ctx, q)
	if err != nil {
		return errored(err)
	}
	var groups, extra int64
	if err := row.Scan(&groups, &extra); err != nil {
		return errored(err)
	}

	res := CheckResult{Status: StatusPassed, Passed: true, Observed: extra, Expected: int64(0)}
	switch {
	case extra == 0:
		res.Message = "no duplicate rows"
	case opts.StrictDuplicates:
		res.Status, res.Passed = StatusFailed, false
		res.Message = fmt.Sprintf("%d duplicate rows in %d groups", extra, groups)
	default:
		res.Status = StatusWarning
		res.Message = fmt.Sprintf("%d duplicate rows in %d groups", extra, groups)
	}
	return res
}

func (v *Validator) sampleData(ctx context.Context, h *provision.TableHandle, opts Options) CheckResult {
	b := database.Select(h.Table, h.Dialect).Limit(opts.SampleRows)
	if h.Created && h.Plan.HasIDColumn() {
		b = b.OrderBy(h.Plan.IDColumn, database.Asc)
	}
	q, args, err := b.Build()
	if err != nil {
		return errored(err)
	}
	rows, err := v.db.Query(ctx, q, args...)
	if err != nil {
		return errored(err)
	}
	sample, err := database.ScanRows(rows)
	if err != nil {
		return errored(err)
	}
	for _, m := range sample {
		for k, val := range m {
			if raw, ok := val.([]byte); ok {
				m[k] = string(raw)
			}
		}
	}
	res := info(fmt.Sprintf("first %d rows", len(sample)))
	res.Observed = int64(len(sample))
	res.Details = sample
	return res
}

type columnStat struct {
	Column  string   `json:"column" yaml:"column"`
	Min     *float64 `json:"min" yaml:"min"`
	Max     *float64 `json:"max" yaml:"max"`
	Avg     *float64 `json:"avg" yaml:"avg"`
	NonNull int64    `json:"non_null" yaml:"non_null"`
}

// columnStats reports MIN, MAX and AVG of numeric columns.
func (v *Validator) columnStats(ctx context.Context, h *provision.TableHandle) CheckResult {
	d := h.Dialect
	var stats []columnStat
	for _, c := range h.Plan.Columns {
		if c.Type.Kind != coltype.Integer && c.Type.Kind != coltype.Decimal {
			continue
		}
		q := d.QuoteIdent(c.Name)
		row, err := v.db.QueryRow(ctx, fmt.Sprintf("SELECT MIN(%s), MAX(%s), AVG(%s * 1.0), COUNT(%s) FROM %s",
			q, q, q, q, d.QuoteIdent(h.Table)))
		if err != nil {
			return errored(err)
		}
		var lo, hi, avg sql.NullFloat64
		st := columnStat{Column: c.Name}
		if err := row.Scan(&lo, &hi, &avg, &st.NonNull); err != nil {
			return errored(err)
		}
		st.Min, st.Max, st.Avg = nullable(lo), nullable(hi), nullable(avg)
		stats = append(stats, st)
	}
	res := info(fmt.Sprintf("statistics for %d numeric columns", len(stats)))
	res.Observed = int64(len(stats))
	res.Details = stats
	return res
}

func nullable(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

// csvComparison re-counts the source's data rows and compares them with
// rows_read.
func (v *Validator) csvComparison(ctx context.Context, in Input, opts Options) CheckResult {
	if in.Source == nil || in.Profile == nil || in.Summary == nil {
		return skipped("no source file to compare")
	}
	n, err := analyzer.CountRows(ctx, in.Source, in.Profile)
	if err != nil {
		return errored(err)
	}
	sc := score(in.Summary.RowsRead, n)
	res := pass(sc >= opts.Threshold, fmt.Sprintf("%d rows in source, %d read", n, in.Summary.RowsRead))
	res.Score = &sc
	res.Observed = in.Summary.RowsRead
	res.Expected = n
	return res
}
