package binding

import (
	"regexp"

	"github.com/lexcite/corpuscore/internal/model"
)

// Order matters: the first matching pattern wins, so dissent/concurrence
// signals (stronger, less ambiguous) are checked before the more general
// holding/dicta patterns.
var sectionPatterns = []struct {
	section model.SectionType
	re      *regexp.Regexp
}{
	{model.SectionDissent, regexp.MustCompile(`(?i)respectfully dissent|i dissent`)},
	{model.SectionConcurrence, regexp.MustCompile(`(?i)concur in the result|i concur`)},
	{model.SectionDicta, regexp.MustCompile(`(?i)we note that even if|dicta|in passing`)},
	{model.SectionHolding, regexp.MustCompile(`(?i)we hold|for the foregoing reasons|reverse|affirm`)},
}

// detectSectionType classifies the rhetorical role of the passage
// surrounding a quote by scanning pageText for the first matching pattern.
// Defaults to SectionMajority when nothing matches.
func detectSectionType(pageText string) model.SectionType {
	for _, p := range sectionPatterns {
		if p.re.MatchString(pageText) {
			return p.section
		}
	}
	return model.SectionMajority
}
