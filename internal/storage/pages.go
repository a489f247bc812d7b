package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lexcite/corpuscore/internal/model"
)

// InsertPages bulk-loads pages for an opinion via pgx's batched CopyFrom.
// The page text_search_vector column is maintained by a database trigger
// (see migrations), not computed here.
func (db *DB) InsertPages(ctx context.Context, pages []model.Page) error {
	if len(pages) == 0 {
		return nil
	}
	rows := make([][]any, len(pages))
	for i, p := range pages {
		id := p.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows[i] = []any{id, p.OpinionID, p.PageNumber, p.Text}
	}

	_, err := db.pool.CopyFrom(ctx,
		pgx.Identifier{"pages"},
		[]string{"id", "opinion_id", "page_number", "text"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("storage: insert pages: %w", err)
	}
	return nil
}

// GetPage fetches a single page by opinion id and page number.
func (db *DB) GetPage(ctx context.Context, opinionID uuid.UUID, pageNumber int) (model.Page, error) {
	const q = `SELECT id, opinion_id, page_number, text, created_at FROM pages WHERE opinion_id = $1 AND page_number = $2`
	var p model.Page
	err := db.pool.QueryRow(ctx, q, opinionID, pageNumber).Scan(&p.ID, &p.OpinionID, &p.PageNumber, &p.Text, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Page{}, ErrNotFound
	}
	if err != nil {
		return model.Page{}, fmt.Errorf("storage: get page: %w", err)
	}
	return p, nil
}

// GetPagesByIDs fetches pages in bulk, preserving no particular order —
// callers that need order re-sort by the id list themselves.
func (db *DB) GetPagesByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Page, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `SELECT id, opinion_id, page_number, text, created_at FROM pages WHERE id = ANY($1)`
	rows, err := db.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: get pages by ids: %w", err)
	}
	defer rows.Close()

	return scanPages(rows)
}

func scanPages(rows pgx.Rows) ([]model.Page, error) {
	var out []model.Page
	for rows.Next() {
		var p model.Page
		if err := rows.Scan(&p.ID, &p.OpinionID, &p.PageNumber, &p.Text, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan page: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
