package binding

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// minQuoteLength is the minimum normalized quote length for strict binding;
// shorter quotes are too common to safely confirm substring containment.
const minQuoteLength = 20

// normalizeForBinding applies NFKC, replaces CRLF with LF, collapses runs of
// whitespace to a single space, and lowercases — in that order, matching the
// Binding Verifier's quote-comparison pipeline exactly so a quote and its
// source page normalize identically regardless of PDF-extraction artifacts.
func normalizeForBinding(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = collapseWhitespace(s)
	return strings.ToLower(s)
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
