// Package pipeline wires the retrieval, augmentation, ranking, generation,
// binding, and audit stages into the single QueryService the HTTP layer
// depends on. No stage's internals live here; this package only sequences
// them and carries state between them (fetched opinions, ranked candidates,
// the raw model answer) that no single stage owns by itself.
package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexcite/corpuscore/internal/apperr"
	"github.com/lexcite/corpuscore/internal/audit"
	"github.com/lexcite/corpuscore/internal/augment"
	"github.com/lexcite/corpuscore/internal/binding"
	"github.com/lexcite/corpuscore/internal/config"
	"github.com/lexcite/corpuscore/internal/generate"
	"github.com/lexcite/corpuscore/internal/integrity"
	"github.com/lexcite/corpuscore/internal/model"
	"github.com/lexcite/corpuscore/internal/ranking"
	"github.com/lexcite/corpuscore/internal/retrieval"
	"github.com/lexcite/corpuscore/internal/storage"
)

// baselineLimit and maxContextExcerpts bound, respectively, how many pages
// the lexical search considers and how many of the highest-ranked pages
// are actually fed to the model as context.
const (
	baselineLimit      = 30
	maxContextExcerpts = 8
)

// OpinionLookup is the subset of storage.DB the pipeline needs for
// per-candidate metadata (court, citation count, release date) that
// retrieval.Candidate doesn't carry.
type OpinionLookup interface {
	GetOpinion(ctx context.Context, id uuid.UUID) (model.Opinion, error)
	GetPage(ctx context.Context, opinionID uuid.UUID, pageNumber int) (model.Page, error)
}

// Pipeline implements server.QueryService.
type Pipeline struct {
	cfg       config.Config
	db        *storage.DB
	retriever *retrieval.Engine
	augmenter *augment.Augmenter
	generator *generate.Client
	recorder  *audit.Recorder
	versionID *integrity.Cache
	logger    *slog.Logger
}

// New constructs a Pipeline.
func New(cfg config.Config, db *storage.DB, retriever *retrieval.Engine, augmenter *augment.Augmenter, generator *generate.Client, recorder *audit.Recorder, versionID *integrity.Cache, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		db:        db,
		retriever: retriever,
		augmenter: augmenter,
		generator: generator,
		recorder:  recorder,
		versionID: versionID,
		logger:    logger,
	}
}

// scoredCandidate pairs a retrieval candidate with its composite ranking
// score and the fetched opinion it belongs to.
type scoredCandidate struct {
	cand    retrieval.Candidate
	opinion model.Opinion
	score   float64
	reason  string
}

// rankCandidates fetches the owning opinion for each candidate (deduplicated
// across repeated opinion ids) and scores every candidate with
// ranking.Composite, returning them sorted highest score first.
func (p *Pipeline) rankCandidates(ctx context.Context, cands []retrieval.Candidate) ([]scoredCandidate, error) {
	opinions := make(map[uuid.UUID]model.Opinion, len(cands))
	out := make([]scoredCandidate, 0, len(cands))

	for _, c := range cands {
		opinion, ok := opinions[c.OpinionID]
		if !ok {
			var err error
			opinion, err = p.db.GetOpinion(ctx, c.OpinionID)
			if err != nil {
				// A candidate whose opinion vanished between search and
				// ranking (deleted mid-request) is dropped, not fatal.
				continue
			}
			opinions[c.OpinionID] = opinion
		}

		score, reason := ranking.Composite(ranking.Input{
			Relevance:     c.Relevance,
			Court:         opinion.Court,
			CaseName:      opinion.CaseName,
			EnBanc:        opinion.EnBanc,
			Precedential:  opinion.Precedential,
			IngestSource:  opinion.IngestSource,
			ReleaseDate:   opinion.ReleaseDate,
			CitationCount: opinion.CitationCount,
			Landmark:      opinion.Landmark,
			PassageText:   c.Text,
		})
		out = append(out, scoredCandidate{cand: c, opinion: opinion, score: score, reason: reason})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out, nil
}

func dedupeByPage(existing []scoredCandidate, extra []scoredCandidate) []scoredCandidate {
	seen := make(map[uuid.UUID]bool, len(existing))
	for _, e := range existing {
		seen[e.cand.PageID] = true
	}
	out := make([]scoredCandidate, 0, len(existing)+len(extra))
	out = append(out, existing...)
	for _, e := range extra {
		if !seen[e.cand.PageID] {
			seen[e.cand.PageID] = true
			out = append(out, e)
		}
	}
	return out
}

// retrieveAndRank runs the baseline lexical search, scores it, conditionally
// triggers the recall augmenter, scores whatever it returns, and returns the
// merged result sorted highest score first.
func (p *Pipeline) retrieveAndRank(ctx context.Context, question string) ([]scoredCandidate, error) {
	baselineCands, err := p.retriever.RetrieveCandidates(ctx, question, baselineLimit)
	if err != nil {
		return nil, apperr.New("pipeline.retrieve", model.FailureRetrieval, err)
	}

	ranked, err := p.rankCandidates(ctx, baselineCands)
	if err != nil {
		return nil, err
	}

	topScore := 0.0
	if len(ranked) > 0 {
		topScore = ranked[0].score
	}

	plainCands := make([]retrieval.Candidate, len(ranked))
	for i, r := range ranked {
		plainCands[i] = r.cand
	}
	baseline := augment.Baseline{Candidates: plainCands, TopScore: topScore}

	if p.augmenter != nil && p.augmenter.ShouldTrigger(baseline, question) {
		extraCands := p.augmenter.Augment(ctx, question, baseline)
		if len(extraCands) > 0 {
			extraRanked, err := p.rankCandidates(ctx, extraCands)
			if err == nil {
				ranked = dedupeByPage(ranked, extraRanked)
				sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
			}
		}
	}

	return ranked, nil
}

// buildExcerpts takes the top-ranked candidates up to maxContextExcerpts and
// renders them as generate.Excerpt values, also returning the matching
// binding.CandidatePage list the Binding Verifier uses for fuzzy matching.
func buildExcerpts(ranked []scoredCandidate) ([]generate.Excerpt, []binding.CandidatePage) {
	n := len(ranked)
	if n > maxContextExcerpts {
		n = maxContextExcerpts
	}
	excerpts := make([]generate.Excerpt, 0, n)
	pages := make([]binding.CandidatePage, 0, n)
	for _, r := range ranked[:n] {
		excerpts = append(excerpts, generate.Excerpt{
			OpinionID: r.cand.OpinionID.String(),
			CaseName:  r.cand.CaseName,
			Page:      r.cand.PageNumber,
			Text:      r.cand.Text,
		})
		pages = append(pages, binding.CandidatePage{
			Page: model.Page{
				ID:         r.cand.PageID,
				OpinionID:  r.cand.OpinionID,
				PageNumber: r.cand.PageNumber,
				Text:       r.cand.Text,
			},
			Opinion: r.opinion,
		})
	}
	return excerpts, pages
}

// citationSummary rolls up verification outcomes: WEAK counts toward
// verified_citations since a weak binding still resolved to real corpus
// text, it was just dicta, dissent or concurrence; only UNVERIFIED (failed
// binding entirely) counts against the rate.
func citationSummary(verifications []model.CitationVerification) model.CitationSummary {
	summary := model.CitationSummary{TotalCitations: len(verifications)}
	for _, v := range verifications {
		if v.Tier == model.TierUnverified {
			summary.UnverifiedCitations++
		} else {
			summary.VerifiedCitations++
		}
	}
	if summary.TotalCitations > 0 {
		summary.VerifiedRate = float64(summary.VerifiedCitations) / float64(summary.TotalCitations) * 100
	}
	return summary
}

// Query implements server.QueryService for POST /query and POST /chat.
func (p *Pipeline) Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error) {
	start := time.Now()
	runID := uuid.New()

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	ranked, err := p.retrieveAndRank(ctx, req.Question)
	if err != nil {
		return model.QueryResponse{}, err
	}

	if len(ranked) == 0 {
		p.audit(ctx, runID, conversationID, req, nil, nil, "NOT FOUND IN PROVIDED OPINIONS.", nil, start, model.FailureNoCandidatePassages)
		return model.QueryResponse{
			Answer:         "NOT FOUND IN PROVIDED OPINIONS.",
			Sources:        nil,
			ConversationID: conversationID,
		}, nil
	}

	excerpts, candidatePages := buildExcerpts(ranked)
	excerptContext := generate.BuildContext(excerpts)

	genCfg := generate.Config{Model: p.cfg.ChatModel, Temperature: 0.15, MaxTokens: 1200}
	rawAnswer, err := p.generator.Answer(ctx, genCfg, excerptContext, req.Question)
	if err != nil {
		reason := model.FailureLLMUnavailable
		if ctx.Err() == context.DeadlineExceeded {
			reason = model.FailureLLMTimeout
		}
		wrapped := apperr.New("pipeline.generate", reason, err)
		p.audit(ctx, runID, conversationID, req, ranked, nil, "", nil, start, apperr.ReasonOf(wrapped))
		return model.QueryResponse{}, wrapped
	}

	result := binding.Verify(ctx, p.db, rawAnswer, candidatePages)

	summary := citationSummary(result.CitationVerifications)

	var debug any
	if req.IncludeDebug {
		debug = map[string]any{
			"retrieval_candidates": len(ranked),
			"context_excerpts":     len(excerpts),
		}
	}

	p.audit(ctx, runID, conversationID, req, ranked, excerpts, result.Answer, result.CitationVerifications, start, "")

	return model.QueryResponse{
		Answer:          result.Answer,
		Sources:         result.Sources,
		ConversationID:  conversationID,
		CitationSummary: summary,
		Debug:           debug,
	}, nil
}

// Stream implements server.QueryService for POST /chat/stream. The
// generation client isn't a true token stream, so the full answer is
// computed first, then played back as word-chunk token events — a client
// watching the ndjson stream still sees incremental output rather than one
// multi-second pause before a single frame.
func (p *Pipeline) Stream(ctx context.Context, req model.QueryRequest, emit func(model.StreamEvent) error) error {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	if err := emit(model.StreamEvent{Type: "conversation_id", ConversationID: conversationID}); err != nil {
		return err
	}

	req.ConversationID = conversationID
	resp, err := p.Query(ctx, req)
	if err != nil {
		return err
	}

	for _, word := range strings.Fields(resp.Answer) {
		if err := emit(model.StreamEvent{Type: "token", Token: word + " "}); err != nil {
			return err
		}
	}
	if err := emit(model.StreamEvent{Type: "sources", Sources: resp.Sources}); err != nil {
		return err
	}
	return emit(model.StreamEvent{Type: "done"})
}

// audit assembles and records a QueryRun. Never returns an error: a failure
// to build or write the audit record must never fail the user-facing query,
// it only ever produces a log line (see internal/audit.Recorder.Record).
func (p *Pipeline) audit(ctx context.Context, runID uuid.UUID, conversationID string, req model.QueryRequest, ranked []scoredCandidate, excerpts []generate.Excerpt, answer string, verifications []model.CitationVerification, start time.Time, failureReason model.FailureReason) {
	retrievalManifest := make([]model.RetrievalManifestEntry, 0, len(ranked))
	for _, r := range ranked {
		retrievalManifest = append(retrievalManifest, model.RetrievalManifestEntry{
			PageID:    r.cand.PageID,
			OpinionID: r.cand.OpinionID,
			Score:     r.score,
		})
	}
	contextManifest := make([]model.ContextManifestEntry, 0, len(excerpts))
	for _, e := range excerpts {
		opinionID, _ := uuid.Parse(e.OpinionID)
		contextManifest = append(contextManifest, model.ContextManifestEntry{
			PageID:     uuid.Nil,
			OpinionID:  opinionID,
			PageNumber: e.Page,
			TokenCount: len(strings.Fields(e.Text)),
		})
	}

	corpusVersionID := ""
	if p.versionID != nil {
		if id, err := p.versionID.Get(func() (integrity.Snapshot, error) {
			docCount, pageCount, latestSync, maxUpdated, err := p.db.CorpusSnapshot(ctx)
			if err != nil {
				return integrity.Snapshot{}, err
			}
			return integrity.Snapshot{
				DocumentCount:   docCount,
				PageCount:       pageCount,
				LatestSyncTS:    latestSync,
				MaxDocUpdatedTS: maxUpdated,
			}, nil
		}); err == nil {
			corpusVersionID = id
		}
	}

	run := model.QueryRun{
		RunID:                 runID,
		CreatedAt:             start,
		ConversationID:        conversationID,
		UserQuery:             req.Question,
		CorpusVersionID:       corpusVersionID,
		RetrievalManifest:     retrievalManifest,
		ContextManifest:       contextManifest,
		ModelConfig:           model.ModelConfig{Model: p.cfg.ChatModel, Temperature: 0.15, MaxTokens: 1200},
		SystemPromptVersion:   generate.SystemPromptVersion,
		FinalAnswer:           answer,
		CitationVerifications: verifications,
		LatencyMS:             time.Since(start).Milliseconds(),
		FailureReason:         failureReason,
	}

	if p.recorder != nil {
		p.recorder.Record(ctx, run)
	}
}
