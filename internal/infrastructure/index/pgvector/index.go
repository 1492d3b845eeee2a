// Package pgvector keeps chunk embeddings in postgres and answers nearest
// neighbor queries with the pgvector L2 operator.
package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/infrastructure/corpus"
	"github.com/kirillkom/envqa/internal/infrastructure/repository/postgres"
)

const schemaLock int64 = 2025051402

const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunk_embeddings (
	position INTEGER PRIMARY KEY,
	doc_id TEXT NOT NULL,
	chunk_id INTEGER NOT NULL,
	embedding vector NOT NULL,
	UNIQUE (doc_id, chunk_id)
);

CREATE TABLE IF NOT EXISTS chunk_index_manifest (
	id SMALLINT PRIMARY KEY,
	embedding_model TEXT NOT NULL,
	dimension INTEGER NOT NULL,
	count INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	return postgres.ApplySchema(ctx, db, schemaLock, schemaDDL)
}

type Writer struct {
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// Write replaces every stored embedding with the given chunk vectors.
func (w *Writer) Write(ctx context.Context, chunks []domain.Chunk, vectors [][]float32, embeddingModel string) error {
	if len(chunks) != len(vectors) {
		return domain.WrapError(domain.ErrInvalidInput, "pgvector write",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}
	if len(vectors) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "pgvector write", errors.New("no vectors to index"))
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_embeddings`); err != nil {
		return fmt.Errorf("clear chunk embeddings: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunk_embeddings (position, doc_id, chunk_id, embedding)
VALUES ($1,$2,$3,$4)
`)
	if err != nil {
		return fmt.Errorf("prepare chunk embedding insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		if _, err := stmt.ExecContext(ctx, i, c.DocID, c.ChunkID, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("insert chunk embedding %s: %w", c.Key(), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO chunk_index_manifest (id, embedding_model, dimension, count, created_at)
VALUES (1,$1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE
SET embedding_model = EXCLUDED.embedding_model, dimension = EXCLUDED.dimension,
	count = EXCLUDED.count, created_at = EXCLUDED.created_at
`, embeddingModel, len(vectors[0]), len(vectors), time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert index manifest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index tx: %w", err)
	}
	return nil
}

type Index struct {
	db        *sql.DB
	store     *corpus.Store
	model     string
	dimension int
}

// Open reads the manifest and checks the stored row count against the chunk
// store.
func Open(ctx context.Context, db *sql.DB, store *corpus.Store) (*Index, error) {
	var model string
	var dimension, manifestCount, rows int
	err := db.QueryRowContext(ctx, `
SELECT m.embedding_model, m.dimension, m.count, (SELECT count(*) FROM chunk_embeddings)
FROM chunk_index_manifest m
WHERE m.id = 1
`).Scan(&model, &dimension, &manifestCount, &rows)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "open pgvector index", errors.New("index manifest is missing"))
		}
		return nil, fmt.Errorf("read index manifest: %w", err)
	}
	if manifestCount != rows || rows != store.Len() {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "open pgvector index",
			fmt.Errorf("manifest=%d rows=%d chunk store=%d", manifestCount, rows, store.Len()))
	}
	return &Index{db: db, store: store, model: model, dimension: dimension}, nil
}

func (ix *Index) Metric() domain.Metric  { return domain.MetricL2 }
func (ix *Index) EmbeddingModel() string { return ix.model }
func (ix *Index) Dimension() int         { return ix.dimension }

func (ix *Index) Search(ctx context.Context, queryVector []float32, limit int) ([]domain.Neighbor, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := ix.db.QueryContext(ctx, `
SELECT position, doc_id, chunk_id, embedding <-> $1 AS distance
FROM chunk_embeddings
ORDER BY embedding <-> $1, position
LIMIT $2
`, pgvector.NewVector(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("search chunk embeddings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Neighbor, 0, limit)
	for rows.Next() {
		var position, chunkID int
		var docID string
		var distance float64
		if err := rows.Scan(&position, &docID, &chunkID, &distance); err != nil {
			return nil, fmt.Errorf("scan chunk embedding: %w", err)
		}
		chunk, ok := ix.store.At(position)
		if !ok || chunk.DocID != docID || chunk.ChunkID != chunkID {
			return nil, domain.WrapError(domain.ErrIndexCorrupt, "search chunk embeddings",
				fmt.Errorf("position %d maps to %s:%d", position, docID, chunkID))
		}
		out = append(out, domain.Neighbor{Position: position, Chunk: chunk, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk embeddings: %w", err)
	}
	return out, nil
}
