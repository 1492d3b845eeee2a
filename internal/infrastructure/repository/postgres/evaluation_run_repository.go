package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/envqa/internal/core/domain"
)

const evaluationSchemaLock int64 = 2025051401

type EvaluationRunRepository struct {
	db *sql.DB
}

func NewEvaluationRunRepository(db *sql.DB) *EvaluationRunRepository {
	return &EvaluationRunRepository{db: db}
}

func (r *EvaluationRunRepository) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS evaluation_runs (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	report JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluation_runs_status ON evaluation_runs(status);
CREATE INDEX IF NOT EXISTS idx_evaluation_runs_created_at ON evaluation_runs(created_at DESC);
`
	return ApplySchema(ctx, r.db, evaluationSchemaLock, ddl)
}

func (r *EvaluationRunRepository) Create(ctx context.Context, run *domain.EvaluationRun) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO evaluation_runs (id, filename, storage_path, status, error_message, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`,
		run.ID, run.Filename, run.StoragePath, string(run.Status), run.Error, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation run: %w", err)
	}
	return nil
}

func (r *EvaluationRunRepository) GetByID(ctx context.Context, id string) (*domain.EvaluationRun, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, filename, storage_path, status, error_message, report, created_at, updated_at
FROM evaluation_runs
WHERE id = $1
`, id)

	var run domain.EvaluationRun
	var status string
	var reportRaw []byte
	err := row.Scan(
		&run.ID, &run.Filename, &run.StoragePath, &status, &run.Error, &reportRaw, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get evaluation run", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan evaluation run: %w", err)
	}

	run.Status = domain.EvaluationStatus(status)
	if len(reportRaw) > 0 {
		var report domain.EvaluationReport
		if err := json.Unmarshal(reportRaw, &report); err != nil {
			return nil, fmt.Errorf("unmarshal evaluation report: %w", err)
		}
		run.Report = &report
	}
	return &run, nil
}

func (r *EvaluationRunRepository) UpdateStatus(ctx context.Context, id string, status domain.EvaluationStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE evaluation_runs
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update evaluation run status: %w", err)
	}
	return requireAffected(res, "update evaluation run status", id)
}

func (r *EvaluationRunRepository) SaveReport(ctx context.Context, id string, report *domain.EvaluationReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal evaluation report: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE evaluation_runs
SET report = $2, updated_at = $3
WHERE id = $1
`, id, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save evaluation report: %w", err)
	}
	return requireAffected(res, "save evaluation report", id)
}

func requireAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}
