package model

// Court is the deciding body for an Opinion. A closed sum type: callers must
// not invent new values, since authority_boost and tiering both switch on it.
type Court string

const (
	CourtSCOTUS  Court = "SCOTUS"
	CourtCAFC    Court = "CAFC"
	CourtPTAB    Court = "PTAB"
	CourtUnknown Court = "UNKNOWN"
)

// Tier grades the trust level of an emitted Source, strict order
// UNVERIFIED < WEAK < MODERATE < STRONG.
type Tier string

const (
	TierUnverified Tier = "unverified"
	TierWeak       Tier = "weak"
	TierModerate   Tier = "moderate"
	TierStrong     Tier = "strong"
)

// Rank returns the tier's position in the strict ordering, for comparisons
// and regression assertions (e.g. "strong must outrank moderate").
func (t Tier) Rank() int {
	switch t {
	case TierStrong:
		return 3
	case TierModerate:
		return 2
	case TierWeak:
		return 1
	default:
		return 0
	}
}

// BindingMethod records how a claimed quote was resolved to corpus text.
type BindingMethod string

const (
	BindingStrict BindingMethod = "strict"
	BindingFuzzy  BindingMethod = "fuzzy"
	BindingNone   BindingMethod = "none"
)

// SectionType is the rhetorical role of the passage surrounding a quote.
type SectionType string

const (
	SectionMajority    SectionType = "majority"
	SectionHolding     SectionType = "holding"
	SectionDicta       SectionType = "dicta"
	SectionDissent     SectionType = "dissent"
	SectionConcurrence SectionType = "concurrence"
)

// FailureReason classifies why a citation failed verification or why a
// pipeline stage degraded. Emitted only in debug/audit output, never in the
// answer markdown.
type FailureReason string

const (
	FailureRetrieval             FailureReason = "retrieval_failure"
	FailureLLMTimeout            FailureReason = "llm_timeout"
	FailureLLMUnavailable        FailureReason = "llm_unavailable"
	FailureBindingFailed         FailureReason = "binding_failed"
	FailureQuoteNotFound         FailureReason = "quote_not_found"
	FailureWrongCaseID           FailureReason = "wrong_case_id"
	FailureWrongPage             FailureReason = "wrong_page"
	FailureTooShort              FailureReason = "too_short"
	FailureOCRArtifactMismatch   FailureReason = "ocr_artifact_mismatch"
	FailureEllipsisFragment      FailureReason = "ellipsis_fragment"
	FailureNormalizationMismatch FailureReason = "normalization_mismatch"
	FailureAuditWriteSuppressed  FailureReason = "audit_write_suppressed"
	FailureSizeLimited           FailureReason = "size_limited"
	FailureNoCandidatePassages   FailureReason = "no_candidate_passages"
	FailureOther                 FailureReason = "other"
)
