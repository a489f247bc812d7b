// Package binding is the Binding Verifier (C6): parses citation markers out
// of an LLM answer, binds each claimed quote to corpus text, verifies it,
// tiers it, and emits the final Source list and rewritten answer text.
package binding

import (
	"regexp"
	"strconv"
)

// markerRe matches <!--CITE:<opinion_id>|<page_number>|"<quote>"-->.
// The quote group is non-greedy and stops at the first unescaped closing
// quote immediately followed by the comment terminator, since a verbatim
// legal quote may itself contain straight quotation marks.
var markerRe = regexp.MustCompile(`<!--CITE:([^|]*)\|(-?\d+)\|"(.*?)"-->`)

// Marker is one parsed citation claim, in answer order.
type Marker struct {
	OpinionIDRaw string // as claimed; may be empty or not a valid UUID
	CaseName     string // set by bindOne from OpinionIDRaw when it isn't a UUID, to drive fuzzy binding
	PageNumber   int
	Quote        string
	Position     int // byte offset of the full match in the raw answer
	Raw          string // the full matched marker text, for replacement
}

// ExtractMarkers parses every citation marker out of answer, in order.
// Markers with page_number < 1 are discarded per spec.
func ExtractMarkers(answer string) []Marker {
	matches := markerRe.FindAllStringSubmatchIndex(answer, -1)
	out := make([]Marker, 0, len(matches))
	for _, m := range matches {
		raw := answer[m[0]:m[1]]
		opinionID := answer[m[2]:m[3]]
		pageStr := answer[m[4]:m[5]]
		quote := answer[m[6]:m[7]]

		page, err := strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			continue
		}

		out = append(out, Marker{
			OpinionIDRaw: opinionID,
			PageNumber:   page,
			Quote:        quote,
			Position:     m[0],
			Raw:          raw,
		})
	}
	return out
}
