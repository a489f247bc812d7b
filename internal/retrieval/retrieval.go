// Package retrieval is the retrieval engine (C2): lexical search over pages
// with case-name boosting and phrase-vs-plain matching, exposed both to the
// GET /search endpoint and as the first stage of the query pipeline.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexcite/corpuscore/internal/model"
	"github.com/lexcite/corpuscore/internal/storage"
)

// Engine implements server.SearchService and is the primary candidate
// source the recall augmenter (C3) and ranking stage (C4) build on.
type Engine struct {
	db *storage.DB
}

// New constructs an Engine.
func New(db *storage.DB) *Engine {
	return &Engine{db: db}
}

// Candidate is one retrieved page, pre-ranking.
type Candidate struct {
	PageID      uuid.UUID
	OpinionID   uuid.UUID
	CaseName    string
	AppealNo    string
	ReleaseDate string
	Court       model.Court
	PageNumber  int
	Text        string
	Relevance   float64
}

// caseNameBoost multiplies a row's relevance when the query's terms also
// appear in the case name, rewarding passages from the case the question is
// plainly about over coincidental lexical hits in unrelated opinions.
const caseNameBoost = 1.5

// Search returns ranked pages for query, implementing both SearchModeAll
// (full text across page content + case name) and SearchModeParties
// (case name only).
func (e *Engine) Search(ctx context.Context, query string, mode model.SearchMode, limit int) (model.SearchResponse, error) {
	rows, err := e.db.SearchPagesByText(ctx, query, mode == model.SearchModeParties, limit)
	if err != nil {
		return model.SearchResponse{}, fmt.Errorf("retrieval: search: %w", err)
	}

	hits := make([]model.SearchHit, 0, len(rows))
	for _, r := range rows {
		score := r.Relevance
		if mode == model.SearchModeAll && caseNameMatches(query, r.CaseName) {
			score *= caseNameBoost
		}
		hits = append(hits, model.SearchHit{
			OpinionID:   r.OpinionID,
			CaseName:    r.CaseName,
			AppealNo:    r.AppealNo,
			ReleaseDate: r.ReleaseDate,
			PageNumber:  r.PageNumber,
			Snippet:     snippet(r.Text, 240),
			Score:       score,
		})
	}

	return model.SearchResponse{Query: query, Results: hits, Count: len(hits)}, nil
}

// RetrieveCandidates is the internal-facing counterpart of Search, used by
// the query pipeline: it returns full Candidate records (page text
// included) rather than the trimmed public SearchHit shape.
func (e *Engine) RetrieveCandidates(ctx context.Context, query string, limit int) ([]Candidate, error) {
	rows, err := e.db.SearchPagesByText(ctx, query, false, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieval: retrieve candidates: %w", err)
	}

	out := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		pageID, err := uuid.Parse(r.PageID)
		if err != nil {
			continue
		}
		opinionID, err := uuid.Parse(r.OpinionID)
		if err != nil {
			continue
		}
		out = append(out, Candidate{
			PageID:      pageID,
			OpinionID:   opinionID,
			CaseName:    r.CaseName,
			AppealNo:    r.AppealNo,
			ReleaseDate: r.ReleaseDate,
			Court:       r.Court,
			PageNumber:  r.PageNumber,
			Text:        r.Text,
			Relevance:   r.Relevance,
		})
	}
	return out, nil
}

// AdvancedSearchParams is the input to AdvancedSearch: a page of query,
// forum/author/rule36 filters, and an optional cursor continuing a prior
// page (spec §4.1).
type AdvancedSearchParams struct {
	Query      string
	Author     string
	Forum      model.Court
	ExcludeR36 bool
	Limit      int
	Cursor     string // opaque token from a prior AdvancedSearchResponse.NextCursor; "" for the first page
}

// hybridCaseNameWeight is the case_name_fuzzy_hit term's coefficient in the
// hybrid_score formula (spec §4.1): hybrid_score = ts_rank * recency_decay +
// hybridCaseNameWeight * case_name_fuzzy_hit.
const hybridCaseNameWeight = 5.0

// AdvancedSearch implements advanced_search (C2): hybrid lexical+recency
// ranking over opinions with a keyset cursor for pagination, ordered
// (hybrid_score DESC, release_date DESC, id DESC).
func (e *Engine) AdvancedSearch(ctx context.Context, p AdvancedSearchParams) (model.AdvancedSearchResponse, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	var after *cursor
	if p.Cursor != "" {
		c, err := decodeCursor(p.Cursor)
		if err != nil {
			return model.AdvancedSearchResponse{}, fmt.Errorf("retrieval: advanced search: %w", err)
		}
		after = &c
	}

	rows, err := e.db.AdvancedSearch(ctx, p.Query, storage.AdvancedSearchFilter{
		Author:     p.Author,
		Forum:      p.Forum,
		ExcludeR36: p.ExcludeR36,
	}, limit+1)
	if err != nil {
		return model.AdvancedSearchResponse{}, fmt.Errorf("retrieval: advanced search: %w", err)
	}

	now := time.Now()
	type scored struct {
		row   storage.AdvancedSearchRow
		score float64
	}
	all := make([]scored, 0, len(rows))
	for _, r := range rows {
		daysOld := now.Sub(r.ReleaseDate).Hours() / 24
		recencyDecay := 1.0 / (max(daysOld/365.0, 0) + 1.0)
		fuzzyHit := 0.0
		if caseNameMatches(p.Query, r.CaseName) {
			fuzzyHit = 1.0
		}
		score := r.Relevance*recencyDecay + hybridCaseNameWeight*fuzzyHit
		all = append(all, scored{row: r, score: score})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if !all[i].row.ReleaseDate.Equal(all[j].row.ReleaseDate) {
			return all[i].row.ReleaseDate.After(all[j].row.ReleaseDate)
		}
		return all[i].row.OpinionID > all[j].row.OpinionID
	})

	var page []scored
	for _, s := range all {
		if after != nil && !afterCursor(*after, s.score, s.row.ReleaseDate.Unix(), s.row.OpinionID) {
			continue
		}
		page = append(page, s)
	}

	var nextCursor string
	if len(page) > limit {
		last := page[limit-1]
		nextCursor = encodeCursor(cursor{Score: last.score, TS: last.row.ReleaseDate.Unix(), ID: last.row.OpinionID})
		page = page[:limit]
	}

	hits := make([]model.SearchHit, 0, len(page))
	for _, s := range page {
		hits = append(hits, model.SearchHit{
			OpinionID:   s.row.OpinionID,
			CaseName:    s.row.CaseName,
			AppealNo:    s.row.AppealNo,
			ReleaseDate: s.row.ReleaseDate.Format("2006-01-02"),
			Score:       s.score,
		})
	}

	return model.AdvancedSearchResponse{Query: p.Query, Results: hits, NextCursor: nextCursor}, nil
}

// caseNameMatches reports whether any query term (3+ chars, to skip
// connective words) appears in caseName.
func caseNameMatches(query, caseName string) bool {
	lowerCase := strings.ToLower(caseName)
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if len(term) >= 3 && strings.Contains(lowerCase, term) {
			return true
		}
	}
	return false
}

func snippet(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
