package utils

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizePlate canonicalizes raw plate text into a comparable key:
// leading/trailing whitespace is stripped, the text is Unicode case
// folded, and internal whitespace runs collapse to a single space.
// It is pure and total; empty input yields the empty key.
func NormalizePlate(raw string) string {
	folded := cases.Fold().String(raw)
	return strings.Join(strings.Fields(folded), " ")
}
