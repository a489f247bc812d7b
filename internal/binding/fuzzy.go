package binding

import (
	"regexp"
	"strings"
)

// corporateSuffixes are stripped from case names before token comparison so
// "Alice Corp." and "Alice" match on the same significant token.
var corporateSuffixes = map[string]bool{
	"corp": true, "corp.": true, "inc": true, "inc.": true,
	"llc": true, "ltd": true, "ltd.": true, "co": true, "co.": true,
}

// caseNameStopwords are dropped as non-significant when comparing case
// names: the versus particle and common connectives.
var caseNameStopwords = map[string]bool{
	"v": true, "vs": true, "the": true, "of": true, "and": true,
}

var nonWordRe = regexp.MustCompile(`[^\w\s]`)

// significantTokens lowercases name, strips punctuation, and removes
// corporate suffixes and stopwords, returning only the tokens that
// distinguish one case name from another.
func significantTokens(name string) []string {
	name = nonWordRe.ReplaceAllString(strings.ToLower(name), " ")
	var out []string
	for _, tok := range strings.Fields(name) {
		if corporateSuffixes[tok] || caseNameStopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// caseNameMatchScore scores how well candidateCaseName matches the
// significant tokens of claimedCaseName: the fraction of claimed tokens
// present in the candidate's token set. Used to pick the fuzzy-binding
// target among same-page-claim candidates when the model's claimed
// opinion_id slot holds a case name rather than an opinion UUID.
func caseNameMatchScore(claimedCaseName, candidateCaseName string) float64 {
	claimed := significantTokens(claimedCaseName)
	if len(claimed) == 0 {
		return 0
	}
	candidateSet := make(map[string]bool)
	for _, tok := range significantTokens(candidateCaseName) {
		candidateSet[tok] = true
	}

	hits := 0
	for _, tok := range claimed {
		if candidateSet[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(claimed))
}
