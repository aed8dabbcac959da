package loader

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/koustreak/csvingest/internal/coltype"
	"github.com/koustreak/csvingest/internal/database"
	"github.com/koustreak/csvingest/internal/inference"
	"github.com/koustreak/csvingest/internal/provision"
)

// coercer turns raw fields into typed column values for one table handle.
type coercer struct {
	cols   []inference.ColumnProfile
	fields []int
	width  int
	// nullOnMismatch stores NULL for a non-conforming value in a column
	// whose inference tolerated mismatches instead of rejecting the row.
	nullOnMismatch bool
}

func newCoercer(h *provision.TableHandle, width int, nullOnMismatch bool) *coercer {
	return &coercer{
		cols:           h.Plan.Columns,
		fields:         h.Fields,
		width:          width,
		nullOnMismatch: nullOnMismatch,
	}
}

type reject struct {
	kind ErrorKind
	msg  string
}

// prepared is a chunk after local validation: accepted rows ready to
// insert and the rows already rejected.
type prepared struct {
	chunk   *chunk
	rows    [][]any
	origin  []int
	rejects []ErrorRecord
}

func (c *coercer) prepare(ch *chunk, now time.Time) *prepared {
	p := &prepared{
		chunk: ch,
		rows:  make([][]any, 0, len(ch.rows)),
	}
	for i, raw := range ch.rows {
		vals, rej := c.row(raw)
		if rej != nil {
			p.rejects = append(p.rejects, ch.record(i, rej.kind, rej.msg, now))
			continue
		}
		p.rows = append(p.rows, vals)
		p.origin = append(p.origin, i)
	}
	return p
}

func (c *coercer) row(raw []string) ([]any, *reject) {
	if len(raw) != c.width {
		return nil, &reject{KindFieldCountMismatch, fmt.Sprintf("expected %d fields, got %d", c.width, len(raw))}
	}

	vals := make([]any, len(c.cols))
	for i := range c.cols {
		col := &c.cols[i]
		v := raw[c.fields[i]]

		if strings.TrimSpace(v) == "" {
			if !col.Nullable {
				return nil, &reject{KindNullViolation, fmt.Sprintf("column %q does not accept empty values", col.Name)}
			}
			vals[i] = nil
			continue
		}

		if col.Type.Kind == coltype.Text || col.Type.Kind == coltype.Unknown {
			if max := col.Type.MaxLength; max > 0 && utf8.RuneCountInString(v) > max {
				return nil, &reject{KindValueTooLong, fmt.Sprintf("column %q: value has %d characters, limit is %d",
					col.Name, utf8.RuneCountInString(v), max)}
			}
			vals[i] = v
			continue
		}

		val, err := convert(col, v)
		if err != nil {
			if c.nullOnMismatch && col.TolerateMismatch && col.Nullable {
				vals[i] = nil
				continue
			}
			return nil, &reject{KindCoercionFailed, fmt.Sprintf("column %q: %v", col.Name, err)}
		}
		vals[i] = val
	}
	return vals, nil
}

// convert parses v as the column's type.
func convert(col *inference.ColumnProfile, v string) (any, error) {
	switch col.Type.Kind {
	case coltype.Boolean:
		if b, ok, _ := coltype.ParseBool(v); ok {
			return b, nil
		}
	case coltype.Integer:
		if n, ok := coltype.ParseInt(v); ok {
			return n, nil
		}
	case coltype.Decimal:
		intDigits, _, ok := coltype.DecimalDigits(v)
		if !ok {
			break
		}
		if p, s := col.Type.Precision, col.Type.Scale; p > 0 && intDigits > p-s {
			return nil, fmt.Errorf("%q overflows %s", v, col.Type)
		}
		if lit, ok := coltype.DecimalLiteral(v); ok {
			return database.Decimal(lit), nil
		}
	case coltype.Date, coltype.DateTime:
		if _, t, ok := coltype.MatchLayout(layouts(col), v); ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%q is not a valid %s", v, col.Type)
}

func layouts(col *inference.ColumnProfile) []string {
	if len(col.Formats) > 0 {
		return col.Formats
	}
	if col.Type.Kind == coltype.Date {
		return coltype.DateLayouts
	}
	return append(append([]string{}, coltype.DateTimeLayouts...), coltype.DateLayouts...)
}
