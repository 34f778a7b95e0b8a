package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldKey reduces a place name to a comparison key: accents stripped, case folded and
// inner whitespace collapsed, so "San Martín de Porres" and "san martin  de porres" match.
func FoldKey(value string) string {
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripper, value)
	if err != nil {
		stripped = value
	}
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}

// Truncate cuts value to at most limit runes.
func Truncate(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runesOf := []rune(value)
	return string(runesOf[:limit])
}

// Compact trims keys and values and drops entries where either ends up blank. It returns nil
// when nothing is left, which brokers treat as "no attributes".
func Compact(values map[string]string) map[string]string {
	var out map[string]string
	for key, value := range values {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(values))
		}
		out[key] = value
	}
	return out
}
