package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lexcite/corpuscore/internal/model"
)

// AdvancedSearchFilter narrows AdvancedSearch to a subset of opinions.
type AdvancedSearchFilter struct {
	Author     string      // exact case-insensitive match against opinions.author; "" = no filter
	Forum      model.Court // "" = no filter
	ExcludeR36 bool        // true = drop Rule 36 summary affirmances
}

// AdvancedSearchRow is one opinion-level candidate for the hybrid ranking
// advanced_search applies in internal/retrieval.
type AdvancedSearchRow struct {
	OpinionID   string
	CaseName    string
	AppealNo    string
	ReleaseDate time.Time
	Relevance   float64
}

// AdvancedSearch is advanced_search's (C2) storage path: the same two-tier
// websearch_to_tsquery/ILIKE strategy as SearchPagesByText, but at opinion
// granularity (case_name only) and with author/forum/rule36 filters applied
// before ranking. fetchLimit is the raw row count to pull; the caller (which
// applies the hybrid_score formula and the keyset cursor) is responsible for
// requesting limit+1 rows to detect a next page.
func (db *DB) AdvancedSearch(ctx context.Context, query string, filter AdvancedSearchFilter, fetchLimit int) ([]AdvancedSearchRow, error) {
	if fetchLimit <= 0 {
		fetchLimit = 21
	}
	if fetchLimit > 500 {
		fetchLimit = 500
	}

	rows, err := db.advancedSearchByFTS(ctx, query, filter, fetchLimit)
	if err != nil {
		return db.advancedSearchByILIKE(ctx, query, filter, fetchLimit)
	}
	if len(rows) > 0 {
		return rows, nil
	}
	return db.advancedSearchByILIKE(ctx, query, filter, fetchLimit)
}

func (db *DB) advancedSearchByFTS(ctx context.Context, query string, filter AdvancedSearchFilter, fetchLimit int) ([]AdvancedSearchRow, error) {
	args := []any{query}
	where, args := filterClauses(filter, args)

	sql := fmt.Sprintf(`
		SELECT o.id, o.case_name, o.appeal_no, o.release_date,
		       ts_rank(to_tsvector('english', o.case_name), websearch_to_tsquery('english', $1)) AS relevance
		FROM opinions o
		WHERE to_tsvector('english', o.case_name) @@ websearch_to_tsquery('english', $1) %s
		ORDER BY relevance DESC, o.release_date DESC, o.id DESC
		LIMIT %d`, where, fetchLimit)

	pgRows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: advanced search fts: %w", err)
	}
	defer pgRows.Close()
	return scanAdvancedSearchRows(pgRows)
}

func (db *DB) advancedSearchByILIKE(ctx context.Context, query string, filter AdvancedSearchFilter, fetchLimit int) ([]AdvancedSearchRow, error) {
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
		clauses = append(clauses, fmt.Sprintf(`o.case_name ILIKE $%d`, len(args)))
	}
	textWhere := "(" + strings.Join(clauses, " OR ") + ")"

	filterWhere, args := filterClauses(filter, args)

	sql := fmt.Sprintf(`
		SELECT o.id, o.case_name, o.appeal_no, o.release_date, 0.0
		FROM opinions o
		WHERE %s %s
		ORDER BY o.release_date DESC, o.id DESC
		LIMIT %d`, textWhere, filterWhere, fetchLimit)

	pgRows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: advanced search ilike: %w", err)
	}
	defer pgRows.Close()
	return scanAdvancedSearchRows(pgRows)
}

// filterClauses appends AdvancedSearchFilter's conditions to args and
// returns the "AND ..." fragment to splice into a WHERE clause already
// anchored on $1 (the query text).
func filterClauses(filter AdvancedSearchFilter, args []any) (string, []any) {
	var b strings.Builder
	if filter.Author != "" {
		args = append(args, filter.Author)
		fmt.Fprintf(&b, " AND o.author ILIKE $%d", len(args))
	}
	if filter.Forum != "" {
		args = append(args, filter.Forum)
		fmt.Fprintf(&b, " AND o.court = $%d", len(args))
	}
	if filter.ExcludeR36 {
		b.WriteString(" AND o.rule36 = false")
	}
	return b.String(), args
}

func scanAdvancedSearchRows(rows pgx.Rows) ([]AdvancedSearchRow, error) {
	var out []AdvancedSearchRow
	for rows.Next() {
		var r AdvancedSearchRow
		if err := rows.Scan(&r.OpinionID, &r.CaseName, &r.AppealNo, &r.ReleaseDate, &r.Relevance); err != nil {
			return nil, fmt.Errorf("storage: scan advanced search row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
