package binding

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexcite/corpuscore/internal/model"
)

// PageLookup resolves pages for binding. Implemented by internal/storage.
type PageLookup interface {
	GetPage(ctx context.Context, opinionID uuid.UUID, pageNumber int) (model.Page, error)
	GetOpinion(ctx context.Context, id uuid.UUID) (model.Opinion, error)
}

// CandidatePage is one page available as a fuzzy-binding target, gathered
// from the pipeline's retrieval/augment stage before the Binding Verifier
// runs (the verifier never searches the whole corpus itself).
type CandidatePage struct {
	Page    model.Page
	Opinion model.Opinion
}

// Result is the output of Verify: the rewritten answer text plus the
// emitted Source list and the audit-facing per-marker verifications.
type Result struct {
	Answer                string
	Sources               []model.Source
	CitationVerifications []model.CitationVerification
}

// Verify parses every marker out of answer, binds and tiers each, and
// rewrites the answer with `[S<i>]` references. No suspension happens
// inside Verify itself: pages is already materialized page text gathered by
// an earlier pipeline stage.
func Verify(ctx context.Context, lookup PageLookup, answer string, pages []CandidatePage) Result {
	markers := ExtractMarkers(answer)
	if len(markers) == 0 {
		return Result{Answer: "NOT FOUND IN PROVIDED OPINIONS."}
	}

	type resolved struct {
		marker  Marker
		source  model.Source
		verif   model.CitationVerification
		ok      bool
	}

	resolvedMarkers := make([]resolved, 0, len(markers))
	for _, m := range markers {
		src, verif, ok := bindOne(ctx, lookup, m, pages)
		resolvedMarkers = append(resolvedMarkers, resolved{marker: m, source: src, verif: verif, ok: ok})
	}

	var b strings.Builder
	var sources []model.Source
	var verifications []model.CitationVerification
	seen := make(map[string]string) // dedup key -> sid

	cursor := 0
	sid := 0
	for _, rm := range resolvedMarkers {
		b.WriteString(answer[cursor:rm.marker.Position])
		cursor = rm.marker.Position + len(rm.marker.Raw)
		verifications = append(verifications, rm.verif)

		if !rm.ok {
			// Unresolved marker: strip it entirely from the visible answer.
			continue
		}

		key := dedupKey(rm.source)
		if existingSID, dup := seen[key]; dup {
			b.WriteString(" [" + existingSID + "]")
			continue
		}

		sid++
		sidStr := fmt.Sprintf("S%d", sid)
		rm.source.SID = sidStr
		seen[key] = sidStr
		sources = append(sources, rm.source)
		b.WriteString(" [" + sidStr + "]")
	}
	b.WriteString(answer[cursor:])

	if len(sources) == 0 {
		return Result{Answer: "NOT FOUND IN PROVIDED OPINIONS.", CitationVerifications: verifications}
	}

	return Result{Answer: strings.TrimSpace(b.String()), Sources: sources, CitationVerifications: verifications}
}

func dedupKey(s model.Source) string {
	quote := s.Quote
	if len(quote) > 50 {
		quote = quote[:50]
	}
	return fmt.Sprintf("%s|%d|%s", s.OpinionID, s.PageNumber, quote)
}

// bindOne resolves a single marker, trying strict binding first and falling
// back to fuzzy case-name binding. Returns ok=false when neither succeeds;
// the returned Source then carries tier=UNVERIFIED and the debug-only
// failure reason.
func bindOne(ctx context.Context, lookup PageLookup, m Marker, candidates []CandidatePage) (model.Source, model.CitationVerification, bool) {
	opinionID, err := uuid.Parse(m.OpinionIDRaw)
	if err == nil {
		page, perr := lookup.GetPage(ctx, opinionID, m.PageNumber)
		if perr == nil {
			if src, verif, ok := tryStrictBind(ctx, lookup, page, m); ok {
				return src, verif, true
			}
		}
	} else {
		// Not a UUID: the model claimed a case name in the opinion_id slot
		// (spec scenario S3). Carry it over so tryFuzzyBind can resolve it
		// against the candidate pages instead of failing outright.
		m.CaseName = strings.TrimSpace(m.OpinionIDRaw)
	}

	if src, verif, ok := tryFuzzyBind(ctx, lookup, m, candidates); ok {
		return src, verif, true
	}

	return model.Source{
			OpinionID:     uuid.Nil,
			PageNumber:    m.PageNumber,
			Quote:         m.Quote,
			Tier:          model.TierUnverified,
			BindingMethod: model.BindingNone,
			Signals:       []string{"binding_failed"},
		}, model.CitationVerification{
			OpinionID:     m.OpinionIDRaw,
			PageNumber:    m.PageNumber,
			BindingMethod: model.BindingNone,
			Tier:          model.TierUnverified,
			FailureReason: model.FailureBindingFailed,
		}, false
}

func tryStrictBind(ctx context.Context, lookup PageLookup, page model.Page, m Marker) (model.Source, model.CitationVerification, bool) {
	normalizedQuote := normalizeForBinding(m.Quote)
	if len(normalizedQuote) < minQuoteLength {
		return model.Source{}, model.CitationVerification{
			OpinionID: page.OpinionID.String(), PageNumber: page.PageNumber,
			BindingMethod: model.BindingNone, Tier: model.TierUnverified,
			FailureReason: model.FailureTooShort,
		}, false
	}

	normalizedPage := normalizeForBinding(page.Text)
	if !strings.Contains(normalizedPage, normalizedQuote) {
		return model.Source{}, model.CitationVerification{
			OpinionID: page.OpinionID.String(), PageNumber: page.PageNumber,
			BindingMethod: model.BindingNone, Tier: model.TierUnverified,
			FailureReason: model.FailureQuoteNotFound,
		}, false
	}

	opinion, err := lookup.GetOpinion(ctx, page.OpinionID)
	if err != nil {
		return model.Source{}, model.CitationVerification{}, false
	}

	section := detectSectionType(page.Text)
	signals := []string{"case_bound", "exact_match"}
	tier, score := tierAndScore(model.BindingStrict, true, section, opinion)

	src := model.Source{
		OpinionID:     opinion.ID,
		CaseName:      opinion.CaseName,
		AppealNo:      opinion.AppealNo,
		ReleaseDate:   opinion.ReleaseDate.Format(time.RFC3339),
		PageNumber:    page.PageNumber,
		Quote:         m.Quote,
		PDFURL:        opinion.PDFURL,
		Tier:          tier,
		BindingMethod: model.BindingStrict,
		Score:         score,
		Signals:       signals,
	}
	verif := model.CitationVerification{
		OpinionID: opinion.ID.String(), PageNumber: page.PageNumber,
		BindingMethod: model.BindingStrict, Tier: tier,
	}
	return src, verif, true
}

func tryFuzzyBind(ctx context.Context, lookup PageLookup, m Marker, candidates []CandidatePage) (model.Source, model.CitationVerification, bool) {
	if m.CaseName == "" || len(candidates) == 0 {
		return model.Source{}, model.CitationVerification{}, false
	}

	type scored struct {
		cand  CandidatePage
		score float64
	}
	var ranked []scored
	for _, c := range candidates {
		s := caseNameMatchScore(m.CaseName, c.Opinion.CaseName)
		if s > 0 {
			ranked = append(ranked, scored{cand: c, score: s})
		}
	}
	if len(ranked) == 0 {
		return model.Source{}, model.CitationVerification{}, false
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		a, b := ranked[i].cand.Opinion, ranked[j].cand.Opinion
		if !a.ReleaseDate.Equal(b.ReleaseDate) {
			return a.ReleaseDate.After(b.ReleaseDate)
		}
		return a.ID.String() < b.ID.String()
	})

	best := ranked[0].cand
	normalizedQuote := normalizeForBinding(m.Quote)
	if len(normalizedQuote) < minQuoteLength {
		return model.Source{}, model.CitationVerification{}, false
	}
	if !strings.Contains(normalizeForBinding(best.Page.Text), normalizedQuote) {
		return model.Source{}, model.CitationVerification{}, false
	}

	section := detectSectionType(best.Page.Text)
	signals := []string{"fuzzy_case_binding", "exact_match"}
	tier, score := tierAndScore(model.BindingFuzzy, true, section, best.Opinion)

	src := model.Source{
		OpinionID:     best.Opinion.ID,
		CaseName:      best.Opinion.CaseName,
		AppealNo:      best.Opinion.AppealNo,
		ReleaseDate:   best.Opinion.ReleaseDate.Format(time.RFC3339),
		PageNumber:    best.Page.PageNumber,
		Quote:         m.Quote,
		PDFURL:        best.Opinion.PDFURL,
		Tier:          tier,
		BindingMethod: model.BindingFuzzy,
		Score:         score,
		Signals:       signals,
	}
	verif := model.CitationVerification{
		OpinionID: best.Opinion.ID.String(), PageNumber: best.Page.PageNumber,
		BindingMethod: model.BindingFuzzy, Tier: tier,
	}
	return src, verif, true
}

// isHighAuthority reports whether opinion is SCOTUS, CAFC-en-banc, or
// CAFC-precedential — the authority floor for STRONG.
func isHighAuthority(o model.Opinion) bool {
	if o.Court == model.CourtSCOTUS {
		return true
	}
	if o.Court == model.CourtCAFC && (o.EnBanc || o.Precedential) {
		return true
	}
	return false
}

// tierAndScore implements §4.5.3's strict tiering order and additive score.
func tierAndScore(method model.BindingMethod, exactMatch bool, section model.SectionType, opinion model.Opinion) (model.Tier, int) {
	score := 0
	switch method {
	case model.BindingStrict:
		score += 40
	case model.BindingFuzzy:
		score += 25
	}
	if exactMatch {
		score += 30
	} else {
		score += 15
	}

	isHoldingSection := section == model.SectionMajority || section == model.SectionHolding
	if section == model.SectionHolding {
		score += 15
	}
	if section == model.SectionDicta {
		score -= 5
	}
	if opinion.ReleaseDate.Year() >= 2020 {
		score += 10
	}

	var tier model.Tier
	switch {
	case method == model.BindingFuzzy:
		// Fuzzy caps at MODERATE regardless of other factors.
		if exactMatch {
			tier = model.TierModerate
		} else {
			tier = model.TierWeak
		}
	case method == model.BindingStrict && exactMatch && isHighAuthority(opinion) && isHoldingSection:
		tier = model.TierStrong
	case method == model.BindingStrict && exactMatch && isHoldingSection:
		// Strict, exact, holding/majority, but not high-authority: MODERATE.
		tier = model.TierModerate
	case method == model.BindingStrict && exactMatch && (section == model.SectionDicta || section == model.SectionDissent || section == model.SectionConcurrence):
		tier = model.TierWeak
	default:
		tier = model.TierUnverified
	}

	if method == model.BindingFuzzy && score > 69 {
		score = 69
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return tier, score
}
