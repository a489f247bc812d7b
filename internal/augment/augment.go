// Package augment is the recall augmenter (C3): a strictly additive,
// fail-open stage that only ever adds candidates on top of the baseline
// lexical search, never removes or reorders them, and never blocks a query
// on its own failure.
package augment

import (
	"context"
	"regexp"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/lexcite/corpuscore/internal/config"
	"github.com/lexcite/corpuscore/internal/retrieval"
)

// EmbeddingProvider supplies the semantic-fallback embedding call. Matches
// internal/service/embedding.Provider.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// Augmenter decides whether to run subquery decomposition and/or semantic
// fallback on top of a baseline retrieval result.
type Augmenter struct {
	cfg       config.Config
	retriever *retrieval.Engine
	embedder  EmbeddingProvider
}

// New constructs an Augmenter.
func New(cfg config.Config, retriever *retrieval.Engine, embedder EmbeddingProvider) *Augmenter {
	return &Augmenter{cfg: cfg, retriever: retriever, embedder: embedder}
}

// Baseline is the retrieval result the augmenter decides whether to extend.
type Baseline struct {
	Candidates []retrieval.Candidate
	TopScore   float64
}

// ShouldTrigger implements §4.3's trigger rule: activate only when the
// baseline result count is below MinFTSResults, or the top score is below
// MinTopScore, or the query looks multi-issue. A strong baseline suppresses
// augmentation unless EvalForcePhase1 is set.
func (a *Augmenter) ShouldTrigger(b Baseline, query string) bool {
	if a.cfg.EvalForcePhase1 {
		return true
	}
	if isStrongBaseline(b, a.cfg) {
		return false
	}
	if len(b.Candidates) < a.cfg.MinFTSResults {
		return true
	}
	if b.TopScore < a.cfg.MinTopScore {
		return true
	}
	return isMultiIssue(query)
}

func isStrongBaseline(b Baseline, cfg config.Config) bool {
	return len(b.Candidates) >= cfg.StrongBaselineMinSources && b.TopScore >= cfg.StrongBaselineMinScore
}

// multiIssueRe matches "and"/"or" followed later in the question by
// "whether" or "how"; isMultiIssue also flags questions containing " and "
// two or more times. Doctrine topics themselves are not recognized.
var multiIssueRe = regexp.MustCompile(`(?i)\band\b.*\b(whether|how)\b|\bor\b.*\b(whether|how)\b`)

func isMultiIssue(query string) bool {
	if multiIssueRe.MatchString(query) {
		return true
	}
	return strings.Count(strings.ToLower(query), " and ") >= 2
}

// Augment runs whichever enabled strategies apply and returns additional
// candidates to append to the baseline. Never removes or reorders baseline
// candidates; any internal error degrades to returning no extra candidates
// rather than failing the query.
func (a *Augmenter) Augment(ctx context.Context, query string, b Baseline) []retrieval.Candidate {
	var extra []retrieval.Candidate

	if a.cfg.SmartQueryDecomposeEnabled {
		for _, sub := range decompose(query, a.cfg.MaxSubqueries) {
			cands, err := a.retriever.RetrieveCandidates(ctx, sub, a.cfg.MaxAugmentCandidates)
			if err != nil {
				continue
			}
			extra = append(extra, cands...)
		}
	}

	if a.cfg.SmartEmbedRecallEnabled && a.embedder != nil {
		if _, err := a.embedder.Embed(ctx, query); err == nil {
			// The query embedding is computed but not used: no nearest-
			// neighbour lookup runs and no semantic candidates are added,
			// so embedding-based recall contributes nothing to the result.
			_ = a.cfg.MaxEmbedCandidates
		}
	}

	if len(extra) > a.cfg.MaxAugmentCandidates {
		extra = extra[:a.cfg.MaxAugmentCandidates]
	}
	return extra
}

// decompose splits a multi-issue query into up to maxSubqueries simpler
// subqueries along "and"/"or" conjunctions. A single-issue query returns
// itself as the only subquery.
func decompose(query string, maxSubqueries int) []string {
	parts := regexp.MustCompile(`(?i)\s+(?:and|or)\s+`).Split(query, -1)
	if len(parts) > maxSubqueries {
		parts = parts[:maxSubqueries]
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{query}
	}
	return out
}
