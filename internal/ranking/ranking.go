// Package ranking is the ranking scorer (C4): composite score =
// relevance * authority * gravity * recency * application-signal *
// framework-boost, with a mandatory applies-vs-mentions regression property.
package ranking

import (
	"regexp"
	"time"

	"github.com/lexcite/corpuscore/internal/model"
)

// authorityBoost grades a deciding court's precedential weight per the
// fixed table: SCOTUS 1.8, CAFC_en_banc 1.6, CAFC_precedential 1.3,
// PTAB_precedential 1.1, nonprecedential 0.8, unknown 1.0. (The table's
// "statute 2.0" entry has no counterpart here: THE CORE has no statute
// entity, only Opinion.)
func authorityBoostFor(court model.Court, enBanc, precedential bool) float64 {
	switch court {
	case model.CourtSCOTUS:
		return 1.8
	case model.CourtCAFC:
		if enBanc {
			return 1.6
		}
		if precedential {
			return 1.3
		}
		return 0.8
	case model.CourtPTAB:
		if precedential {
			return 1.1
		}
		return 0.8
	default:
		return 1.0
	}
}

// scotusCaseNameRe matches case names of landmark patent cases known to be
// SCOTUS decisions, for the court_inferred_from_name promotion below.
var scotusCaseNameRe = regexp.MustCompile(`(?i)\b(Alice Corp|KSR Int'l|Graham v\.|Festo Corp|Mayo Collaborative|Markman v\.|Bilski v\.)\b`)

// inferCourt derives a Court from an ingest source string when the value
// wasn't supplied directly, e.g. "courtlistener_api:scotus" -> SCOTUS. When
// the origin is a known ingestion source and the case name matches a known
// SCOTUS pattern, it promotes to SCOTUS and reports the
// court_inferred_from_name signal.
func inferCourt(court model.Court, ingestSource, caseName string) (resolved model.Court, inferredFromName bool) {
	if court != "" && court != model.CourtUnknown {
		return court, false
	}

	knownSource := containsFold(ingestSource, "courtlistener") ||
		containsFold(ingestSource, "scotus") ||
		containsFold(ingestSource, "cafc") ||
		containsFold(ingestSource, "ptab")
	if knownSource && scotusCaseNameRe.MatchString(caseName) {
		return model.CourtSCOTUS, true
	}

	switch {
	case containsFold(ingestSource, "scotus"):
		return model.CourtSCOTUS, false
	case containsFold(ingestSource, "cafc"):
		return model.CourtCAFC, false
	case containsFold(ingestSource, "ptab"):
		return model.CourtPTAB, false
	default:
		return model.CourtUnknown, false
	}
}

func containsFold(s, substr string) bool {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(substr)).MatchString(s)
}

// recencyFactor buckets an opinion's age into a multiplier; more recent
// opinions are weighted more heavily since overturned/superseded holdings
// concentrate in older decisions. Buckets per spec: <=2, <=5, <=10, <=20,
// >20 years.
func recencyFactor(releaseDate time.Time) float64 {
	years := time.Since(releaseDate).Hours() / 24 / 365
	switch {
	case years <= 2:
		return 1.10
	case years <= 5:
		return 1.05
	case years <= 10:
		return 1.00
	case years <= 20:
		return 0.98
	default:
		return 0.95
	}
}

// gravityFactor rewards opinions with a larger citation count (rough
// authority signal), en-banc status, or a landmark flag, starting from a
// 0.85 base and clamped to the spec's [0.60, 1.00] band.
func gravityFactor(citationCount int, landmark, enBanc bool) float64 {
	f := 0.85
	if enBanc {
		f += 0.10
	}
	if landmark {
		f += 0.05
	}
	switch {
	case citationCount >= 100:
		f += 0.05
	case citationCount >= 20:
		f += 0.03
	case citationCount >= 5:
		f += 0.01
	}
	if f < 0.60 {
		f = 0.60
	}
	if f > 1.00 {
		f = 1.00
	}
	return f
}

var (
	holdingVerbRe  = regexp.MustCompile(`(?i)we hold|we conclude|we reverse|we affirm|we find|it is clear`)
	frameworkRe    = regexp.MustCompile(`(?i)\b(Alice|KSR|Markman|Graham|Phillips|Festo|Mayo)\b`)
)

// ApplicationSignal describes how strongly a passage applies (rather than
// merely mentions) a legal framework.
type ApplicationSignal struct {
	HoldingIndicator   int // 0, 1, or 2 holding-verb hits (capped)
	AnalysisDepth      float64
	FrameworkReference bool
	ProximityScore     float64 // 0..1, higher = framework mention closer to a holding verb
}

// Score combines the signal components into the [0.8, 1.5] multiplier the
// spec requires; a passage with none of the signals is penalized to 0.8
// (mention-only).
func (a ApplicationSignal) Score() float64 {
	if a.HoldingIndicator == 0 && !a.FrameworkReference {
		return 0.8
	}
	score := 0.8
	score += 0.2 * float64(min(a.HoldingIndicator, 2)) / 2
	score += 0.2 * clamp01(a.AnalysisDepth)
	if a.FrameworkReference {
		score += 0.2 * a.ProximityScore
	}
	if score > 1.5 {
		score = 1.5
	}
	return score
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// DetectApplicationSignal scans passageText for holding verbs and named
// doctrinal frameworks, and computes proximity between the nearest
// framework mention and the nearest holding verb.
func DetectApplicationSignal(passageText string) ApplicationSignal {
	holdingLocs := holdingVerbRe.FindAllStringIndex(passageText, -1)
	frameworkLocs := frameworkRe.FindAllStringIndex(passageText, -1)

	sig := ApplicationSignal{
		HoldingIndicator:   len(holdingLocs),
		AnalysisDepth:      analysisDepth(passageText),
		FrameworkReference: len(frameworkLocs) > 0,
	}

	if len(holdingLocs) > 0 && len(frameworkLocs) > 0 {
		best := -1
		for _, h := range holdingLocs {
			for _, f := range frameworkLocs {
				d := abs(h[0] - f[0])
				if best == -1 || d < best {
					best = d
				}
			}
		}
		// Within 200 characters scores near 1.0; beyond 1000 scores near 0.
		sig.ProximityScore = clamp01(1 - float64(best)/1000)
	}

	return sig
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func analysisDepth(text string) float64 {
	// Longer passages with explicit reasoning markers read as deeper analysis
	// rather than a one-line mention.
	reasoningMarkers := regexp.MustCompile(`(?i)because|therefore|accordingly|in light of|as a result`)
	depth := float64(len(text)) / 1000
	if reasoningMarkers.MatchString(text) {
		depth += 0.3
	}
	return clamp01(depth)
}

// frameworkBoost further rewards a passage that both mentions a framework
// and applies it with holding language, compounding on top of
// ApplicationSignal so the "applies > mentions" property holds even at the
// margins.
func frameworkBoost(sig ApplicationSignal) float64 {
	if sig.FrameworkReference && sig.HoldingIndicator > 0 && sig.ProximityScore > 0.5 {
		return 1.2
	}
	return 1.0
}

// Input is everything Composite needs to score one candidate passage.
type Input struct {
	Relevance     float64
	Court         model.Court
	CaseName      string
	EnBanc        bool
	Precedential  bool
	IngestSource  string
	ReleaseDate   time.Time
	CitationCount int
	Landmark      bool
	PassageText   string
}

// Composite computes composite = relevance * authority_boost * gravity_factor
// * recency_factor * application_signal * framework_boost, and an
// application_reason string explaining the dominant contribution.
func Composite(in Input) (score float64, applicationReason string) {
	court, _ := inferCourt(in.Court, in.IngestSource, in.CaseName)
	authority := authorityBoostFor(court, in.EnBanc, in.Precedential)
	gravity := gravityFactor(in.CitationCount, in.Landmark, in.EnBanc)
	recency := recencyFactor(in.ReleaseDate)
	sig := DetectApplicationSignal(in.PassageText)
	application := sig.Score()
	framework := frameworkBoost(sig)

	score = in.Relevance * authority * gravity * recency * application * framework

	switch {
	case framework > 1.0:
		applicationReason = "applies a controlling framework with holding language"
	case application > 0.8:
		applicationReason = "analyzes the issue with reasoning markers"
	default:
		applicationReason = "mentions the issue without applying it"
	}
	return score, applicationReason
}
