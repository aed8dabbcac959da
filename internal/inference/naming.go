package inference

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName turns raw header text into an identifier: lowercase ASCII
// letters, digits and underscores. Accents are folded ("Prénom" becomes
// "prenom"), separators become underscores and a leading digit gets a
// "col_" prefix. It returns "" when nothing usable remains.
func NormalizeName(raw string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), raw)
	if err != nil {
		folded = raw
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(folded)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || strings.ContainsRune(" \t-./\\:;,", r):
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	name := strings.Trim(b.String(), "_")
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "col_" + name
	}
	return name
}

// UniqueNames normalizes raw names in order. Empty results become
// column_N (1-based position); repeats get _2, _3 and so on in first-seen
// order.
func UniqueNames(raw []string) []string {
	out := make([]string, len(raw))
	used := make(map[string]struct{}, len(raw))
	for i, r := range raw {
		name := NormalizeName(r)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if _, taken := used[name]; taken {
			for k := 2; ; k++ {
				candidate := fmt.Sprintf("%s_%d", name, k)
				if _, taken := used[candidate]; !taken {
					name = candidate
					break
				}
			}
		}
		used[name] = struct{}{}
		out[i] = name
	}
	return out
}
