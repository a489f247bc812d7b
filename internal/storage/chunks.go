package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/lexcite/corpuscore/internal/model"
)

// InsertChunks bulk-loads chunks for an opinion.
func (db *DB) InsertChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([][]any, len(chunks))
	for i, c := range chunks {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows[i] = []any{id, c.OpinionID, c.ChunkIndex, c.PageStart, c.PageEnd, c.Text}
	}

	_, err := db.pool.CopyFrom(ctx,
		pgx.Identifier{"chunks"},
		[]string{"id", "opinion_id", "chunk_index", "page_start", "page_end", "text"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("storage: insert chunks: %w", err)
	}
	return nil
}

// UpsertChunkEmbedding stores the embedding vector for a chunk in
// chunk_embeddings.
func (db *DB) UpsertChunkEmbedding(ctx context.Context, chunkID uuid.UUID, embedding []float32) error {
	const q = `
		INSERT INTO chunk_embeddings (chunk_id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (chunk_id) DO UPDATE SET embedding = EXCLUDED.embedding`
	_, err := db.pool.Exec(ctx, q, chunkID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("storage: upsert chunk embedding: %w", err)
	}
	return nil
}

// NearestChunks returns the chunk IDs with embeddings nearest to query under
// cosine distance, limited to limit rows. Neither the retrieval engine nor
// the recall augmenter (C3) calls it.
func (db *DB) NearestChunks(ctx context.Context, query []float32, limit int) ([]uuid.UUID, error) {
	const q = `
		SELECT chunk_id
		FROM chunk_embeddings
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := db.pool.Query(ctx, q, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: nearest chunks: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan chunk id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
