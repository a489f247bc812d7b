package model

import (
	"time"

	"github.com/google/uuid"
)

// RetrievalManifestEntry records one candidate passage considered for a query.
type RetrievalManifestEntry struct {
	PageID    uuid.UUID `json:"page_id"`
	OpinionID uuid.UUID `json:"opinion_id"`
	Score     float64   `json:"score"`
}

// ContextManifestEntry records one excerpt actually fed to the model.
type ContextManifestEntry struct {
	PageID     uuid.UUID `json:"page_id"`
	OpinionID  uuid.UUID `json:"opinion_id"`
	PageNumber int       `json:"page_number"`
	TokenCount int       `json:"token_count"`
}

// ModelConfig pins the generation parameters used for a single run, so a
// replay can tell whether a changed answer came from a changed model.
type ModelConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// CitationVerification is the audit-facing record of one marker's binding
// outcome, independent of whether it survived into the final Source list.
type CitationVerification struct {
	OpinionID     string        `json:"opinion_id"`
	PageNumber    int           `json:"page_number"`
	BindingMethod BindingMethod `json:"binding_method"`
	Tier          Tier          `json:"tier"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
}

// QueryRun is the audit record for a single query. Only the audit recorder
// (C7) writes it; it is read back through the replay packet and, by the eval
// command, through storage.RecentQueryRuns.
type QueryRun struct {
	RunID               uuid.UUID               `json:"run_id"`
	CreatedAt            time.Time               `json:"created_at"`
	ConversationID        string                  `json:"conversation_id"`
	UserQuery             string                  `json:"user_query"`
	DoctrineTag           string                  `json:"doctrine_tag,omitempty"`
	CorpusVersionID       string                  `json:"corpus_version_id"`
	RetrievalManifest     []RetrievalManifestEntry `json:"retrieval_manifest"`
	ContextManifest       []ContextManifestEntry   `json:"context_manifest"`
	ModelConfig           ModelConfig             `json:"model_config"`
	SystemPromptVersion   string                  `json:"system_prompt_version"`
	FinalAnswer           string                  `json:"final_answer"`
	CitationVerifications []CitationVerification  `json:"citation_verifications"`
	LatencyMS             int64                   `json:"latency_ms"`
	FailureReason         FailureReason           `json:"failure_reason,omitempty"`
}

// ReplayPacket is the bounded, on-demand reconstruction of a QueryRun.
type ReplayPacket struct {
	RunID                 uuid.UUID               `json:"run_id"`
	CorpusVersionID        string                  `json:"corpus_version_id"`
	UserQuery              string                  `json:"user_query"`
	RetrievalManifest      []RetrievalManifestEntry `json:"retrieval_manifest"`
	ContextManifest        []ContextManifestEntry   `json:"context_manifest"`
	ModelConfig            ModelConfig             `json:"model_config"`
	SystemPromptVersion    string                  `json:"system_prompt_version"`
	FinalAnswer            string                  `json:"final_answer"`
	CitationsManifest      []CitationVerification  `json:"citations_manifest"`
	LatencyMS              int64                   `json:"latency_ms"`
	SizeLimited            bool                    `json:"_size_limited,omitempty"`
}

// CitationSummary is the user-visible rollup of a query's citation outcomes.
type CitationSummary struct {
	TotalCitations      int     `json:"total_citations"`
	VerifiedCitations   int     `json:"verified_citations"` // STRONG + MODERATE + WEAK
	UnverifiedCitations int     `json:"unverified_citations"`
	VerifiedRate        float64 `json:"verified_rate"` // percentage, 0..100
}

// SupportAudit records proposition-level support accounting for C8.
type SupportAudit struct {
	PropositionsTotal         int `json:"propositions_total"`
	CaseAttributed            int `json:"case_attributed"`
	Unsupported               int `json:"unsupported_claims"`
	CaseAttributedUnsupported int `json:"case_attributed_unsupported"`
}
