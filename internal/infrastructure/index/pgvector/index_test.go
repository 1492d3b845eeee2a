package pgvector

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/infrastructure/corpus"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func testStore(t *testing.T) *corpus.Store {
	t.Helper()
	store, err := corpus.NewStore([]domain.Chunk{
		{DocID: "epa", ChunkID: 0, Text: "Methane is potent."},
		{DocID: "epa", ChunkID: 1, Text: "CO2 persists for centuries."},
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func TestOpenChecksRowCount(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT m.embedding_model").
		WillReturnRows(sqlmock.NewRows([]string{"embedding_model", "dimension", "count", "rows"}).AddRow("m", 384, 3, 3))

	_, err := Open(context.Background(), db, testStore(t))
	if !domain.IsKind(err, domain.ErrIndexCorrupt) {
		t.Fatalf("expected ErrIndexCorrupt, got %v", err)
	}
}

func TestOpenMissingManifest(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT m.embedding_model").WillReturnError(sql.ErrNoRows)

	_, err := Open(context.Background(), db, testStore(t))
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchMapsPositionsToChunks(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT m.embedding_model").
		WillReturnRows(sqlmock.NewRows([]string{"embedding_model", "dimension", "count", "rows"}).AddRow("all-MiniLM-L6-v2", 3, 2, 2))
	mock.ExpectQuery("SELECT position, doc_id, chunk_id").
		WithArgs(sqlmock.AnyArg(), 4).
		WillReturnRows(sqlmock.NewRows([]string{"position", "doc_id", "chunk_id", "distance"}).
			AddRow(1, "epa", 1, 0.25).
			AddRow(0, "epa", 0, 1.5))

	ix, err := Open(context.Background(), db, testStore(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if ix.EmbeddingModel() != "all-MiniLM-L6-v2" || ix.Dimension() != 3 {
		t.Fatalf("unexpected manifest values")
	}
	hits, err := ix.Search(context.Background(), []float32{0.1, 0.2, 0.3}, 4)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 || hits[0].Chunk.Text != "CO2 persists for centuries." || hits[0].Distance != 0.25 {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchDetectsMisalignedRows(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT m.embedding_model").
		WillReturnRows(sqlmock.NewRows([]string{"embedding_model", "dimension", "count", "rows"}).AddRow("m", 3, 2, 2))
	mock.ExpectQuery("SELECT position, doc_id, chunk_id").
		WillReturnRows(sqlmock.NewRows([]string{"position", "doc_id", "chunk_id", "distance"}).AddRow(0, "noaa", 0, 0.1))

	ix, err := Open(context.Background(), db, testStore(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := ix.Search(context.Background(), []float32{0, 0, 1}, 1); !domain.IsKind(err, domain.ErrIndexCorrupt) {
		t.Fatalf("expected ErrIndexCorrupt, got %v", err)
	}
}

func TestWriteReplacesRowsInTransaction(t *testing.T) {
	db, mock := newMock(t)
	store := testStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM chunk_embeddings").WillReturnResult(sqlmock.NewResult(0, 5))
	prep := mock.ExpectPrepare("INSERT INTO chunk_embeddings")
	prep.ExpectExec().WithArgs(0, "epa", 0, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(1, "epa", 1, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO chunk_index_manifest").
		WithArgs("m", 2, 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewWriter(db).Write(context.Background(), store.Chunks(), [][]float32{{1, 0}, {0, 1}}, "m")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
