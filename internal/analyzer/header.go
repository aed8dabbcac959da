package analyzer

import (
	"strings"

	"github.com/koustreak/csvingest/internal/coltype"
)

// headerProbeRows is how many rows after row 0 are compared against it.
const headerProbeRows = 20

// detectHeader reports whether records[0] is a header row. Row 0 is a
// header when a larger share of its fields is text-only than in the rows
// that follow. When the following rows are all text as well, row 0 is a
// header only if its values are non-empty and distinct.
func detectHeader(records [][]string) bool {
	if len(records) == 0 {
		return false
	}
	first := records[0]
	share := textShare(first)

	rest := records[1:]
	if len(rest) > headerProbeRows {
		rest = rest[:headerProbeRows]
	}
	if len(rest) > 0 {
		var sum float64
		for _, rec := range rest {
			sum += textShare(rec)
		}
		mean := sum / float64(len(rest))
		if share > mean {
			return true
		}
		if mean < 1 {
			return false
		}
	}
	return share == 1 && distinctNonEmpty(first)
}

func textShare(rec []string) float64 {
	if len(rec) == 0 {
		return 0
	}
	n := 0
	for _, v := range rec {
		if coltype.Probe(v) == coltype.Text {
			n++
		}
	}
	return float64(n) / float64(len(rec))
}

func distinctNonEmpty(rec []string) bool {
	seen := make(map[string]struct{}, len(rec))
	for _, v := range rec {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			return false
		}
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
	}
	return true
}
