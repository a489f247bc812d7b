package model

import "github.com/google/uuid"

// CitationMarker is the LLM's claim before it has been bound or verified:
// "I quoted opinion X, page N, and here is the verbatim text."
type CitationMarker struct {
	OpinionID string // as claimed by the model; may be empty (fuzzy path) or not a valid UUID
	PageNum   int
	Quote     string
	Position  int // absolute byte offset in the raw answer text
	CaseName  string // only populated when the model emits it alongside an empty OpinionID
}

// Source is an emitted citation: a CitationMarker that has been resolved
// (or explicitly failed to resolve) against the corpus.
type Source struct {
	SID            string
	OpinionID      uuid.UUID
	CaseName       string
	AppealNo       string
	ReleaseDate    string
	PageNumber     int
	Quote          string
	ViewerURL      string
	PDFURL         string
	Tier           Tier
	BindingMethod  BindingMethod
	Score          int // 0..100
	Signals        []string
	ApplicationReason string
	Explain        map[string]any
}

// HasSignal reports whether s carries the named signal.
func (s Source) HasSignal(name string) bool {
	for _, sig := range s.Signals {
		if sig == name {
			return true
		}
	}
	return false
}
