package analyzer

import (
	"encoding/csv"
	"io"
	"math"
	"strings"

	"github.com/koustreak/csvingest/internal/errs"
)

// delimiterCandidates in priority order; earlier entries win ties.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// delimiterProbeRows bounds how many records each candidate parses.
const delimiterProbeRows = 200

var delimiterNames = map[string]rune{
	",": ',', "comma": ',',
	";": ';', "semicolon": ';',
	"\t": '\t', `\t`: '\t', "tab": '\t',
	"|": '|', "pipe": '|',
}

// ParseDelimiter accepts a delimiter character or its name (comma,
// semicolon, tab, pipe).
func ParseDelimiter(s string) (rune, error) {
	if r, ok := delimiterNames[strings.ToLower(s)]; ok {
		return r, nil
	}
	return 0, errs.Newf(errs.ErrKindInvalidInput, "unsupported delimiter %q (want comma, semicolon, tab or pipe)", s)
}

// detectDelimiter picks the candidate whose field counts vary least across
// the sampled records. A candidate only qualifies when most records split
// into more than one field and most records share the same field count.
func detectDelimiter(text string) (rune, bool) {
	var (
		best     rune
		bestVar  = math.Inf(1)
		eligible bool
	)
	for _, c := range delimiterCandidates {
		v, ok := consistency(fieldCounts(text, c))
		if ok && v < bestVar {
			best, bestVar, eligible = c, v, true
		}
	}
	return best, eligible
}

func fieldCounts(text string, delim rune) []int {
	r := newCSVReader(strings.NewReader(text), delim)
	r.ReuseRecord = true

	counts := make([]int, 0, delimiterProbeRows)
	for len(counts) < delimiterProbeRows {
		rec, err := r.Read()
		if err != nil {
			break
		}
		counts = append(counts, len(rec))
	}
	return counts
}

// consistency returns the variance of counts and whether the counts form a
// majority-consistent split.
func consistency(counts []int) (float64, bool) {
	n := len(counts)
	if n == 0 {
		return 0, false
	}

	freq := make(map[int]int)
	multi, sum := 0, 0
	for _, c := range counts {
		freq[c]++
		sum += c
		if c > 1 {
			multi++
		}
	}
	modal := 0
	for _, f := range freq {
		if f > modal {
			modal = f
		}
	}
	if multi*2 <= n || modal*2 <= n {
		return 0, false
	}

	mean := float64(sum) / float64(n)
	var sq float64
	for _, c := range counts {
		d := float64(c) - mean
		sq += d * d
	}
	return sq / float64(n), true
}

func newCSVReader(r io.Reader, delim rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr
}
