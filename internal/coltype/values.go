package coltype

import (
	"strconv"
	"strings"
	"time"
)

// DateLayouts are tried in order; the first that fits a column wins.
// Day-first layouts precede month-first ones.
var DateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// DateTimeLayouts are tried in order after DateLayouts.
var DateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04",
	"02.01.2006 15:04:05",
	"01/02/2006 15:04:05",
	"02/01/2006 15:04:05",
}

// ParseBool accepts true/false, yes/no, t/f, y/n and 1/0 in any case.
// numeric is true when v was 1 or 0.
func ParseBool(v string) (value, ok, numeric bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "t", "y":
		return true, true, false
	case "false", "no", "f", "n":
		return false, true, false
	case "1":
		return true, true, true
	case "0":
		return false, true, true
	}
	return false, false, false
}

// ParseInt parses a base-10 integer with an optional sign.
func ParseInt(v string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	return n, err == nil
}

// DecimalDigits splits a plain decimal literal ([+-]digits[.digits]) into
// its integer and fractional digit counts. Exponents are not accepted.
func DecimalDigits(v string) (intDigits, fracDigits int, ok bool) {
	s := strings.TrimSpace(v)
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	if s == "" {
		return 0, 0, false
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if !allDigits(whole) || (hasDot && !allDigits(frac)) {
		return 0, 0, false
	}
	if whole == "" && frac == "" {
		return 0, 0, false
	}
	if len(strings.TrimLeft(whole, "0")) == 0 {
		intDigits = 1
	} else {
		intDigits = len(strings.TrimLeft(whole, "0"))
	}
	return intDigits, len(frac), true
}

// DecimalLiteral returns v as a canonical decimal literal: an optional
// minus sign, at least one integer digit and a fraction only when v has
// fractional digits. The digits are kept exactly.
func DecimalLiteral(v string) (string, bool) {
	if _, _, ok := DecimalDigits(v); !ok {
		return "", false
	}
	s := strings.TrimSpace(v)
	neg := s[0] == '-'
	if s[0] == '+' || neg {
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	lit := whole
	if frac != "" {
		lit += "." + frac
	}
	if neg {
		lit = "-" + lit
	}
	return lit, true
}

// MatchLayout returns the first layout in layouts that parses v.
func MatchLayout(layouts []string, v string) (string, time.Time, bool) {
	s := strings.TrimSpace(v)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return layout, t, true
		}
	}
	return "", time.Time{}, false
}

// Probe returns the tightest kind a single value satisfies. Bare 1/0 probe
// as integers; empty values probe as Unknown.
func Probe(v string) Kind {
	s := strings.TrimSpace(v)
	if s == "" {
		return Unknown
	}
	if _, ok, numeric := ParseBool(s); ok && !numeric {
		return Boolean
	}
	if _, ok := ParseInt(s); ok {
		return Integer
	}
	if _, _, ok := DecimalDigits(s); ok {
		return Decimal
	}
	if _, _, ok := MatchLayout(DateLayouts, s); ok {
		return Date
	}
	if _, _, ok := MatchLayout(DateTimeLayouts, s); ok {
		return DateTime
	}
	return Text
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
