package qgram

import "strings"

// NormalizeID canonicalizes a record identifier: surrounding whitespace is
// trimmed and the result is lowercased.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NormalizeValue canonicalizes an attribute value before extraction:
// surrounding whitespace is trimmed, the result is lowercased, and inner
// spaces are removed so that multi-word values gram across word boundaries.
func NormalizeValue(value string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), " ", "")
}

// Extract returns every q-gram of length q in the given value, in order of
// appearance and with duplicates included. Values shorter than q yield no
// q-grams. Extraction is rune-based, so multi-byte characters count as a
// single position.
func Extract(value string, q int) []string {
	if q <= 0 {
		return nil
	}
	runes := []rune(value)
	if len(runes) < q {
		return nil
	}
	grams := make([]string, 0, len(runes)-q+1)
	for i := 0; i+q <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+q]))
	}
	return grams
}

// ExtractInto normalizes the value and adds its q-grams to dst.
func ExtractInto(dst Set, value string, q int) {
	for _, g := range Extract(NormalizeValue(value), q) {
		dst.Add(g)
	}
}

// ExtractSet builds a fresh q-gram set from one or more attribute values.
// Each value is normalized independently, so q-grams never span attributes.
func ExtractSet(q int, values ...string) Set {
	s := make(Set)
	for _, v := range values {
		ExtractInto(s, v, q)
	}
	return s
}
