package model

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// SectorKey folds case and Unicode form and collapses inner whitespace, so
// "Oil &  Gas" and "oil & gas" compare equal. Every sector lookup uses it.
func SectorKey(name string) string {
	folded := cases.Fold().String(norm.NFKC.String(name))
	return strings.Join(strings.Fields(folded), " ")
}

// NormalizeSectors rekeys m by SectorKey. When several keys fold to the same
// sector, a key already in normal form wins, then the lexically smallest one;
// the losing keys are returned. Blank keys are dropped and reported too.
func NormalizeSectors(m map[string]float64) (map[string]float64, []string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		ca, cb := SectorKey(a) == a, SectorKey(b) == b
		if ca != cb {
			if ca {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	})

	out := make(map[string]float64, len(m))
	var dropped []string
	for _, k := range keys {
		sk := SectorKey(k)
		if _, dup := out[sk]; dup || sk == "" {
			dropped = append(dropped, k)
			continue
		}
		out[sk] = m[k]
	}
	return out, dropped
}
