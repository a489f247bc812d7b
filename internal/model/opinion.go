// Package model defines the tagged records shared across corpuscore's
// components: Opinion / Page / Chunk are owned exclusively by the Corpus
// Store; CitationMarker and Source are per-request values, never persisted;
// QueryRun is owned by the audit recorder.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Opinion is a single court decision (one PDF) with metadata. It is the unit
// of authority: every Page and Chunk belongs to exactly one Opinion.
type Opinion struct {
	ID             uuid.UUID
	CaseName       string
	AppealNo       string
	ReleaseDate    time.Time
	Court          Court
	Precedential   bool
	EnBanc         bool
	ClusterID      *string // external dedup key; unique when present
	ContentHash    string
	PDFURL         string
	Ingested       bool
	CitationCount  int // rough authority signal, feeds gravity_factor
	Landmark       bool
	IngestSource   string // e.g. "courtlistener_api"; used for court inference
	Author         string // deciding judge, if known; advanced_search author filter
	RuleThirty6    bool   // Rule 36 summary affirmance without opinion; advanced_search exclude_r36
	DocUpdatedAt   time.Time
	CreatedAt      time.Time
}

// Page is the unit of citation locality: one 1-based page within an Opinion.
// Its lexical search vector is maintained in lockstep with Text by a
// database trigger (see migrations).
type Page struct {
	ID          uuid.UUID
	OpinionID   uuid.UUID
	PageNumber  int
	Text        string
	CreatedAt   time.Time
}

// Chunk coalesces N consecutive pages (N≈2) into the unit of retrieval.
type Chunk struct {
	ID         uuid.UUID
	OpinionID  uuid.UUID
	ChunkIndex int
	PageStart  int
	PageEnd    int
	Text       string
	CreatedAt  time.Time
}
