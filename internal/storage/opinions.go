package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lexcite/corpuscore/internal/model"
)

// UpsertOpinion inserts or updates an Opinion keyed by ContentHash, returning
// its ID. Ingestion is idempotent: re-ingesting the same PDF content is a
// no-op beyond refreshing DocUpdatedAt.
func (db *DB) UpsertOpinion(ctx context.Context, o model.Opinion) (uuid.UUID, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	const q = `
		INSERT INTO opinions
			(id, case_name, appeal_no, release_date, court, precedential, en_banc,
			 cluster_id, content_hash, pdf_url, ingested, citation_count, landmark,
			 ingest_source, author, rule36, doc_updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (content_hash) DO UPDATE SET
			case_name = EXCLUDED.case_name,
			pdf_url = EXCLUDED.pdf_url,
			ingested = EXCLUDED.ingested,
			citation_count = EXCLUDED.citation_count,
			doc_updated_at = EXCLUDED.doc_updated_at
		RETURNING id`

	var id uuid.UUID
	err := WithRetry(ctx, 3, 100*time.Millisecond, func() error {
		return db.pool.QueryRow(ctx, q,
			o.ID, o.CaseName, o.AppealNo, o.ReleaseDate, o.Court, o.Precedential, o.EnBanc,
			o.ClusterID, o.ContentHash, o.PDFURL, o.Ingested, o.CitationCount, o.Landmark,
			o.IngestSource, o.Author, o.RuleThirty6, o.DocUpdatedAt,
		).Scan(&id)
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: upsert opinion: %w", err)
	}
	return id, nil
}

// GetOpinion fetches a single Opinion by id.
func (db *DB) GetOpinion(ctx context.Context, id uuid.UUID) (model.Opinion, error) {
	const q = `
		SELECT id, case_name, appeal_no, release_date, court, precedential, en_banc,
		       cluster_id, content_hash, pdf_url, ingested, citation_count, landmark,
		       ingest_source, author, rule36, doc_updated_at, created_at
		FROM opinions WHERE id = $1`

	var o model.Opinion
	err := db.pool.QueryRow(ctx, q, id).Scan(
		&o.ID, &o.CaseName, &o.AppealNo, &o.ReleaseDate, &o.Court, &o.Precedential, &o.EnBanc,
		&o.ClusterID, &o.ContentHash, &o.PDFURL, &o.Ingested, &o.CitationCount, &o.Landmark,
		&o.IngestSource, &o.Author, &o.RuleThirty6, &o.DocUpdatedAt, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Opinion{}, ErrNotFound
	}
	if err != nil {
		return model.Opinion{}, fmt.Errorf("storage: get opinion: %w", err)
	}
	return o, nil
}

// OpinionPDFURL returns the archived PDF URL for opinionID, or "" if the
// opinion exists but has no archived PDF.
func (db *DB) OpinionPDFURL(ctx context.Context, opinionID string) (string, error) {
	id, err := uuid.Parse(opinionID)
	if err != nil {
		return "", ErrNotFound
	}
	const q = `SELECT pdf_url FROM opinions WHERE id = $1`
	var url string
	err = db.pool.QueryRow(ctx, q, id).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: opinion pdf url: %w", err)
	}
	return url, nil
}

// ClaimUningestedOpinions locks up to limit opinions with ingested = false
// for a batch worker, using FOR UPDATE SKIP LOCKED so concurrent ingestion
// workers never double-process the same row.
func (db *DB) ClaimUningestedOpinions(ctx context.Context, limit int) ([]model.Opinion, error) {
	const q = `
		SELECT id, case_name, appeal_no, release_date, court, precedential, en_banc,
		       cluster_id, content_hash, pdf_url, ingested, citation_count, landmark,
		       ingest_source, author, rule36, doc_updated_at, created_at
		FROM opinions
		WHERE ingested = false
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1`

	rows, err := db.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: claim uningested opinions: %w", err)
	}
	defer rows.Close()

	var out []model.Opinion
	for rows.Next() {
		var o model.Opinion
		if err := rows.Scan(
			&o.ID, &o.CaseName, &o.AppealNo, &o.ReleaseDate, &o.Court, &o.Precedential, &o.EnBanc,
			&o.ClusterID, &o.ContentHash, &o.PDFURL, &o.Ingested, &o.CitationCount, &o.Landmark,
			&o.IngestSource, &o.Author, &o.RuleThirty6, &o.DocUpdatedAt, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan opinion: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkOpinionIngested flips the ingested flag once pages/chunks/embeddings
// have all been written for the opinion.
func (db *DB) MarkOpinionIngested(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE opinions SET ingested = true WHERE id = $1`
	_, err := db.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("storage: mark opinion ingested: %w", err)
	}
	return nil
}

// CorpusSnapshot returns the counters ComputeVersionID is a pure function
// of: total document and page counts, and the two freshness watermarks.
func (db *DB) CorpusSnapshot(ctx context.Context) (docCount, pageCount int64, latestSync, maxDocUpdated time.Time, err error) {
	const q = `
		SELECT
			(SELECT count(*) FROM opinions),
			(SELECT count(*) FROM pages),
			coalesce((SELECT max(created_at) FROM opinions), to_timestamp(0)),
			coalesce((SELECT max(doc_updated_at) FROM opinions), to_timestamp(0))`

	err = db.pool.QueryRow(ctx, q).Scan(&docCount, &pageCount, &latestSync, &maxDocUpdated)
	if err != nil {
		err = fmt.Errorf("storage: corpus snapshot: %w", err)
	}
	return
}
