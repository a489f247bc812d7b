package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/lexcite/corpuscore/internal/model"
)

// SearchPageRow is one candidate row returned by the lexical search path,
// joined against its parent opinion for display and ranking.
type SearchPageRow struct {
	PageID      string
	OpinionID   string
	CaseName    string
	AppealNo    string
	ReleaseDate string
	Court       model.Court
	PageNumber  int
	Text        string
	Relevance   float64
}

// SearchPagesByText is the retrieval engine's lexical search (C2): primary
// websearch_to_tsquery + ts_rank path, OR-term ILIKE fallback when the
// primary path returns nothing (stop-word-only queries, partial words,
// terms outside the English dictionary).
//
// partiesOnly restricts matching to opinions' case_name column only,
// implementing SearchModeParties.
func (db *DB) SearchPagesByText(ctx context.Context, query string, partiesOnly bool, limit int) ([]SearchPageRow, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := db.searchPagesByFTS(ctx, query, partiesOnly, limit)
	if err != nil {
		return db.searchPagesByILIKE(ctx, query, partiesOnly, limit)
	}
	if len(rows) > 0 {
		return rows, nil
	}
	return db.searchPagesByILIKE(ctx, query, partiesOnly, limit)
}

func (db *DB) searchPagesByFTS(ctx context.Context, query string, partiesOnly bool, limit int) ([]SearchPageRow, error) {
	var sql string
	if partiesOnly {
		sql = fmt.Sprintf(`
			SELECT p.id, o.id, o.case_name, o.appeal_no, o.release_date, o.court, p.page_number, p.text,
			       ts_rank(to_tsvector('english', o.case_name), websearch_to_tsquery('english', $1)) AS relevance
			FROM pages p
			JOIN opinions o ON o.id = p.opinion_id
			WHERE to_tsvector('english', o.case_name) @@ websearch_to_tsquery('english', $1)
			ORDER BY relevance DESC
			LIMIT %d`, limit)
	} else {
		sql = fmt.Sprintf(`
			SELECT p.id, o.id, o.case_name, o.appeal_no, o.release_date, o.court, p.page_number, p.text,
			       ts_rank(p.text_search_vector, websearch_to_tsquery('english', $1)) AS relevance
			FROM pages p
			JOIN opinions o ON o.id = p.opinion_id
			WHERE p.text_search_vector @@ websearch_to_tsquery('english', $1)
			ORDER BY relevance DESC
			LIMIT %d`, limit)
	}

	rows, err := db.pool.Query(ctx, sql, query)
	if err != nil {
		return nil, fmt.Errorf("storage: fts search: %w", err)
	}
	defer rows.Close()
	return scanSearchPageRows(rows)
}

func (db *DB) searchPagesByILIKE(ctx context.Context, query string, partiesOnly bool, limit int) ([]SearchPageRow, error) {
	words := strings.Fields(query)
	if len(words) > 20 {
		words = words[:20]
	}
	if len(words) == 0 {
		return nil, nil
	}

	replacer := strings.NewReplacer("%", `\%`, "_", `\_`)
	var clauses []string
	var args []any
	for _, w := range words {
		args = append(args, "%"+replacer.Replace(w)+"%")
		p := len(args)
		if partiesOnly {
			clauses = append(clauses, fmt.Sprintf(`o.case_name ILIKE $%d`, p))
		} else {
			clauses = append(clauses, fmt.Sprintf(`(p.text ILIKE $%d OR o.case_name ILIKE $%d)`, p, p))
		}
	}
	where := "(" + strings.Join(clauses, " OR ") + ")"

	sql := fmt.Sprintf(`
		SELECT p.id, o.id, o.case_name, o.appeal_no, o.release_date, o.court, p.page_number, p.text, 0.0
		FROM pages p
		JOIN opinions o ON o.id = p.opinion_id
		WHERE %s
		LIMIT %d`, where, limit)

	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: ilike search: %w", err)
	}
	defer rows.Close()
	return scanSearchPageRows(rows)
}

func scanSearchPageRows(rows pgx.Rows) ([]SearchPageRow, error) {
	var out []SearchPageRow
	for rows.Next() {
		var r SearchPageRow
		if err := rows.Scan(&r.PageID, &r.OpinionID, &r.CaseName, &r.AppealNo, &r.ReleaseDate, &r.Court, &r.PageNumber, &r.Text, &r.Relevance); err != nil {
			return nil, fmt.Errorf("storage: scan search row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
