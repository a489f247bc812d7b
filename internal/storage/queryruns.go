package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lexcite/corpuscore/internal/model"
)

// InsertQueryRun persists a QueryRun. The audit recorder (C7) calls this
// behind a circuit breaker — this function itself has no breaker logic, it
// only performs the insert.
func (db *DB) InsertQueryRun(ctx context.Context, run model.QueryRun) error {
	retrievalManifest, err := json.Marshal(run.RetrievalManifest)
	if err != nil {
		return fmt.Errorf("storage: marshal retrieval manifest: %w", err)
	}
	contextManifest, err := json.Marshal(run.ContextManifest)
	if err != nil {
		return fmt.Errorf("storage: marshal context manifest: %w", err)
	}
	modelConfig, err := json.Marshal(run.ModelConfig)
	if err != nil {
		return fmt.Errorf("storage: marshal model config: %w", err)
	}
	citationVerifications, err := json.Marshal(run.CitationVerifications)
	if err != nil {
		return fmt.Errorf("storage: marshal citation verifications: %w", err)
	}

	const q = `
		INSERT INTO query_runs
			(run_id, created_at, conversation_id, user_query, doctrine_tag, corpus_version_id,
			 retrieval_manifest, context_manifest, model_config, system_prompt_version,
			 final_answer, citation_verifications, latency_ms, failure_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err = db.pool.Exec(ctx, q,
		run.RunID, run.CreatedAt, run.ConversationID, run.UserQuery, run.DoctrineTag, run.CorpusVersionID,
		retrievalManifest, contextManifest, modelConfig, run.SystemPromptVersion,
		run.FinalAnswer, citationVerifications, run.LatencyMS, run.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("storage: insert query run: %w", err)
	}
	return nil
}

// RecentQueryRuns fetches up to limit QueryRuns created since since, newest
// first, for the eval harness (C8) to aggregate over a monitoring window.
func (db *DB) RecentQueryRuns(ctx context.Context, since time.Time, limit int) ([]model.QueryRun, error) {
	const q = `
		SELECT run_id, created_at, conversation_id, user_query, doctrine_tag, corpus_version_id,
		       retrieval_manifest, context_manifest, model_config, system_prompt_version,
		       final_answer, citation_verifications, latency_ms, failure_reason
		FROM query_runs
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, q, since, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent query runs: %w", err)
	}
	defer rows.Close()

	var out []model.QueryRun
	for rows.Next() {
		var run model.QueryRun
		var retrievalManifest, contextManifest, modelConfig, citationVerifications []byte

		if err := rows.Scan(
			&run.RunID, &run.CreatedAt, &run.ConversationID, &run.UserQuery, &run.DoctrineTag, &run.CorpusVersionID,
			&retrievalManifest, &contextManifest, &modelConfig, &run.SystemPromptVersion,
			&run.FinalAnswer, &citationVerifications, &run.LatencyMS, &run.FailureReason,
		); err != nil {
			return nil, fmt.Errorf("storage: scan query run: %w", err)
		}
		if err := json.Unmarshal(retrievalManifest, &run.RetrievalManifest); err != nil {
			return nil, fmt.Errorf("storage: unmarshal retrieval manifest: %w", err)
		}
		if err := json.Unmarshal(contextManifest, &run.ContextManifest); err != nil {
			return nil, fmt.Errorf("storage: unmarshal context manifest: %w", err)
		}
		if err := json.Unmarshal(modelConfig, &run.ModelConfig); err != nil {
			return nil, fmt.Errorf("storage: unmarshal model config: %w", err)
		}
		if err := json.Unmarshal(citationVerifications, &run.CitationVerifications); err != nil {
			return nil, fmt.Errorf("storage: unmarshal citation verifications: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetQueryRun fetches a QueryRun by id, for replay-packet assembly.
func (db *DB) GetQueryRun(ctx context.Context, runID uuid.UUID) (model.QueryRun, error) {
	const q = `
		SELECT run_id, created_at, conversation_id, user_query, doctrine_tag, corpus_version_id,
		       retrieval_manifest, context_manifest, model_config, system_prompt_version,
		       final_answer, citation_verifications, latency_ms, failure_reason
		FROM query_runs WHERE run_id = $1`

	var run model.QueryRun
	var retrievalManifest, contextManifest, modelConfig, citationVerifications []byte

	err := db.pool.QueryRow(ctx, q, runID).Scan(
		&run.RunID, &run.CreatedAt, &run.ConversationID, &run.UserQuery, &run.DoctrineTag, &run.CorpusVersionID,
		&retrievalManifest, &contextManifest, &modelConfig, &run.SystemPromptVersion,
		&run.FinalAnswer, &citationVerifications, &run.LatencyMS, &run.FailureReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.QueryRun{}, ErrNotFound
	}
	if err != nil {
		return model.QueryRun{}, fmt.Errorf("storage: get query run: %w", err)
	}

	if err := json.Unmarshal(retrievalManifest, &run.RetrievalManifest); err != nil {
		return model.QueryRun{}, fmt.Errorf("storage: unmarshal retrieval manifest: %w", err)
	}
	if err := json.Unmarshal(contextManifest, &run.ContextManifest); err != nil {
		return model.QueryRun{}, fmt.Errorf("storage: unmarshal context manifest: %w", err)
	}
	if err := json.Unmarshal(modelConfig, &run.ModelConfig); err != nil {
		return model.QueryRun{}, fmt.Errorf("storage: unmarshal model config: %w", err)
	}
	if err := json.Unmarshal(citationVerifications, &run.CitationVerifications); err != nil {
		return model.QueryRun{}, fmt.Errorf("storage: unmarshal citation verifications: %w", err)
	}
	return run, nil
}
