package inference

import (
	"fmt"
	"strings"

	"github.com/koustreak/csvingest/internal/coltype"
	"github.com/koustreak/csvingest/internal/errs"
)

// SampleStats summarises the sampled values of one column.
type SampleStats struct {
	Sampled        int  `json:"sampled" yaml:"sampled"`
	NullCount      int  `json:"null_count" yaml:"null_count"`
	Mismatches     int  `json:"mismatches" yaml:"mismatches"`
	MinLength      int  `json:"min_length" yaml:"min_length"`
	MaxLength      int  `json:"max_length" yaml:"max_length"`
	Distinct       int  `json:"distinct" yaml:"distinct"`
	DistinctCapped bool `json:"distinct_capped,omitempty" yaml:"distinct_capped,omitempty"`
}

// NullRatio is the share of sampled values that were empty.
func (s SampleStats) NullRatio() float64 {
	if s.Sampled == 0 {
		return 0
	}
	return float64(s.NullCount) / float64(s.Sampled)
}

// ColumnProfile is one column of a SchemaPlan.
type ColumnProfile struct {
	Name       string       `json:"name" yaml:"name"`
	SourceName string       `json:"source_name,omitempty" yaml:"source_name,omitempty"`
	Type       coltype.Type `json:"type" yaml:"type"`
	Nullable   bool         `json:"nullable" yaml:"nullable"`
	// TolerateMismatch is set when inference accepted non-conforming sample
	// values. Only such columns store a value that fails coercion as NULL.
	TolerateMismatch bool `json:"tolerate_mismatch,omitempty" yaml:"tolerate_mismatch,omitempty"`
	// Formats are the time layouts accepted for date and datetime columns.
	Formats []string    `json:"formats,omitempty" yaml:"formats,omitempty"`
	Stats   SampleStats `json:"sample_stats" yaml:"sample_stats"`
}

// SchemaPlan is the ordered column set for a table. Column order follows
// the source file.
type SchemaPlan struct {
	TableName   string          `json:"table_name" yaml:"table_name"`
	Columns     []ColumnProfile `json:"columns" yaml:"columns"`
	AddIDColumn bool            `json:"add_id_column" yaml:"add_id_column"`
	IDColumn    string          `json:"id_column,omitempty" yaml:"id_column,omitempty"`
	Indexes     []string        `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

// Column returns the column called name, or nil.
func (p *SchemaPlan) Column(name string) *ColumnProfile {
	for i := range p.Columns {
		if strings.EqualFold(p.Columns[i].Name, name) {
			return &p.Columns[i]
		}
	}
	return nil
}

// ColumnNames returns the column names in order.
func (p *SchemaPlan) ColumnNames() []string {
	names := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		names[i] = c.Name
	}
	return names
}

// HasIDColumn reports whether a generated identity column is part of the
// table. A source column with the same name takes precedence.
func (p *SchemaPlan) HasIDColumn() bool {
	return p.AddIDColumn && p.IDColumn != "" && p.Column(p.IDColumn) == nil
}

// Validate checks the invariants every stage relies on.
func (p *SchemaPlan) Validate() error {
	if p.TableName == "" {
		return errs.New(errs.ErrKindInvalidInput, "schema plan has no table name")
	}
	if len(p.Columns) == 0 {
		return errs.New(errs.ErrKindInvalidInput, "schema plan has no columns")
	}
	seen := make(map[string]struct{}, len(p.Columns))
	for _, c := range p.Columns {
		key := strings.ToLower(c.Name)
		if key == "" {
			return errs.New(errs.ErrKindInvalidInput, "schema plan has an unnamed column")
		}
		if _, dup := seen[key]; dup {
			return errs.Newf(errs.ErrKindInvalidInput, "duplicate column name %q", c.Name)
		}
		seen[key] = struct{}{}
	}
	for _, idx := range p.Indexes {
		if p.Column(idx) == nil && !(p.HasIDColumn() && strings.EqualFold(idx, p.IDColumn)) {
			return errs.Newf(errs.ErrKindInvalidInput, "index column %q is not in the plan", idx)
		}
	}
	return nil
}

// Origin tells whether a plan was inferred or supplied from outside.
type Origin int

const (
	Inferred Origin = iota
	Supplied
)

func (o Origin) String() string {
	if o == Supplied {
		return "supplied"
	}
	return "inferred"
}

func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Resolution is the schema outcome of a run. Downstream stages read Plan
// the same way whatever its Origin.
type Resolution struct {
	Origin Origin      `json:"origin" yaml:"origin"`
	Plan   *SchemaPlan `json:"plan" yaml:"plan"`
}

// Mode controls how many non-conforming sampled values a type tolerates.
type Mode string

const (
	ModeStrict  Mode = "strict"
	ModeRelaxed Mode = "relaxed"
	ModeAuto    Mode = "auto"
)

// DefaultTolerance is the relaxed/auto share of tolerated values.
const DefaultTolerance = 0.05

// ParseMode validates a strictness mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeStrict, ModeRelaxed, ModeAuto:
		return m, nil
	case "":
		return ModeAuto, nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "unknown strictness mode %q (want strict, relaxed or auto)", s)
}

// tolerance is the fraction of non-empty values allowed to miss a type.
func (o Options) tolerance() float64 {
	switch o.Mode {
	case ModeStrict:
		return 0
	case ModeRelaxed:
		if o.Tolerance > 0 {
			return o.Tolerance
		}
	}
	return DefaultTolerance
}

func (c ColumnProfile) String() string {
	null := "NOT NULL"
	if c.Nullable {
		null = "NULL"
	}
	return fmt.Sprintf("%s %s %s", c.Name, c.Type, null)
}
