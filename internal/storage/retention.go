package storage

import (
	"context"
	"fmt"
	"time"
)

// RetentionResult reports what a retention pass did (or would do, in
// dry-run mode) against query_runs.
type RetentionResult struct {
	RedactedCount int64
	DeletedCount  int64
	DryRun        bool
}

// redactedPlaceholder replaces a query run's final_answer once it crosses
// the redact window; the row itself (manifests, verifications, latency)
// survives until the longer delete window.
const redactedPlaceholder = "[REDACTED]"

// RunRetention redacts final_answer on query_runs older than redactAfterDays,
// and deletes rows older than deleteAfterDays. deleteAfterDays must exceed
// redactAfterDays (enforced by config.Validate). When dryRun is true, no
// rows are modified — only counts are returned.
func (db *DB) RunRetention(ctx context.Context, now time.Time, redactAfterDays, deleteAfterDays int, dryRun bool) (RetentionResult, error) {
	redactCutoff := now.AddDate(0, 0, -redactAfterDays)
	deleteCutoff := now.AddDate(0, 0, -deleteAfterDays)

	result := RetentionResult{DryRun: dryRun}

	if dryRun {
		const countRedact = `SELECT count(*) FROM query_runs WHERE created_at < $1 AND final_answer <> $2`
		if err := db.pool.QueryRow(ctx, countRedact, redactCutoff, redactedPlaceholder).Scan(&result.RedactedCount); err != nil {
			return RetentionResult{}, fmt.Errorf("storage: count eligible redactions: %w", err)
		}
		const countDelete = `SELECT count(*) FROM query_runs WHERE created_at < $1`
		if err := db.pool.QueryRow(ctx, countDelete, deleteCutoff).Scan(&result.DeletedCount); err != nil {
			return RetentionResult{}, fmt.Errorf("storage: count eligible deletions: %w", err)
		}
		return result, nil
	}

	err := WithRetry(ctx, 3, 200*time.Millisecond, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin retention tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		const redactQ = `
			UPDATE query_runs SET final_answer = $2
			WHERE created_at < $1 AND final_answer <> $2`
		tag, err := tx.Exec(ctx, redactQ, redactCutoff, redactedPlaceholder)
		if err != nil {
			return fmt.Errorf("storage: redact query runs: %w", err)
		}
		result.RedactedCount = tag.RowsAffected()

		const deleteQ = `DELETE FROM query_runs WHERE created_at < $1`
		tag, err = tx.Exec(ctx, deleteQ, deleteCutoff)
		if err != nil {
			return fmt.Errorf("storage: delete query runs: %w", err)
		}
		result.DeletedCount = tag.RowsAffected()

		return tx.Commit(ctx)
	})
	if err != nil {
		return RetentionResult{}, err
	}
	return result, nil
}
