// Package coltype defines the column type lattice shared by inference,
// provisioning and loading, together with the value parsers that decide
// whether a raw CSV field conforms to a type.
package coltype

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/koustreak/csvingest/internal/errs"
)

// Kind is a node of the type lattice.
type Kind int

const (
	Unknown Kind = iota
	Boolean
	Integer
	Decimal
	Date
	DateTime
	Text
)

// MaxDecimalPrecision is the widest decimal every supported backend accepts.
const MaxDecimalPrecision = 38

func (k Kind) String() string {
	switch k {
	case Boolean:
		return "boolean"
	case Integer:
		return "integer"
	case Decimal:
		return "decimal"
	case Date:
		return "date"
	case DateTime:
		return "datetime"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// Type is a concrete column type. Precision and Scale apply to Decimal;
// MaxLength applies to Text, where 0 means large (unbounded) text.
type Type struct {
	Kind      Kind
	Precision int
	Scale     int
	MaxLength int
}

func (t Type) String() string {
	switch t.Kind {
	case Decimal:
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	case Text:
		if t.MaxLength > 0 {
			return fmt.Sprintf("text(%d)", t.MaxLength)
		}
		return "text"
	case Unknown:
		return "text"
	default:
		return t.Kind.String()
	}
}

// IsLargeText reports whether t is text without a length bound.
func (t Type) IsLargeText() bool {
	return (t.Kind == Text || t.Kind == Unknown) && t.MaxLength == 0
}

// MarshalText renders t in the same form Parse accepts.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses the output of MarshalText or any alias Parse accepts.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

var typeExpr = regexp.MustCompile(`^([a-z ]+?)\s*(?:\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\))?$`)

// Parse reads a type name such as "integer", "decimal(10,2)" or "text(255)".
// Common SQL spellings (bigint, numeric, varchar, timestamp, bool) are accepted.
func Parse(s string) (Type, error) {
	m := typeExpr.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return Type{}, errs.Newf(errs.ErrKindInvalidInput, "invalid column type %q", s)
	}
	name := m[1]
	var a, b int
	if m[2] != "" {
		a, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		b, _ = strconv.Atoi(m[3])
	}

	switch name {
	case "bool", "boolean":
		return Type{Kind: Boolean}, nil
	case "int", "integer", "bigint", "smallint":
		return Type{Kind: Integer}, nil
	case "decimal", "numeric":
		if m[2] == "" {
			a, b = MaxDecimalPrecision, 10
		}
		if a < 1 || a > MaxDecimalPrecision || b > a {
			return Type{}, errs.Newf(errs.ErrKindInvalidInput, "invalid decimal precision in %q", s)
		}
		return Type{Kind: Decimal, Precision: a, Scale: b}, nil
	case "float", "double", "real":
		return Type{Kind: Decimal, Precision: MaxDecimalPrecision, Scale: 10}, nil
	case "date":
		return Type{Kind: Date}, nil
	case "datetime", "timestamp":
		return Type{Kind: DateTime}, nil
	case "text", "varchar", "string", "char", "character varying", "nvarchar":
		if m[3] != "" {
			return Type{}, errs.Newf(errs.ErrKindInvalidInput, "invalid text length in %q", s)
		}
		return Type{Kind: Text, MaxLength: a}, nil
	}
	return Type{}, errs.Newf(errs.ErrKindInvalidInput, "unknown column type %q", s)
}
