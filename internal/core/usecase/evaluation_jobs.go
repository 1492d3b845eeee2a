package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/core/ports"
)

// SubmitEvaluationUseCase stores an uploaded test set, records a queued run
// and publishes it for the worker.
type SubmitEvaluationUseCase struct {
	repo    ports.EvaluationRunRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
}

func NewSubmitEvaluationUseCase(
	repo ports.EvaluationRunRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *SubmitEvaluationUseCase {
	return &SubmitEvaluationUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
	}
}

func (uc *SubmitEvaluationUseCase) Submit(ctx context.Context, filename string, body io.Reader) (*domain.EvaluationRun, error) {
	if body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit evaluation", errors.New("test set body is required"))
	}
	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save test set: %w", err)
	}

	run := &domain.EvaluationRun{
		ID:          id,
		Filename:    filename,
		StoragePath: storageKey,
		Status:      domain.EvaluationQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create evaluation run: %w", err)
	}
	if err := uc.queue.PublishEvaluationRequested(ctx, run.ID); err != nil {
		return nil, fmt.Errorf("publish evaluation event: %w", err)
	}
	return run, nil
}

func (uc *SubmitEvaluationUseCase) GetByID(ctx context.Context, id string) (*domain.EvaluationRun, error) {
	run, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch evaluation run: %w", err)
	}
	return run, nil
}

// ProcessEvaluationUseCase runs a queued evaluation and stores its report.
type ProcessEvaluationUseCase struct {
	repo      ports.EvaluationRunRepository
	loader    ports.TestSetLoader
	evaluator ports.Evaluator
}

func NewProcessEvaluationUseCase(
	repo ports.EvaluationRunRepository,
	loader ports.TestSetLoader,
	evaluator ports.Evaluator,
) *ProcessEvaluationUseCase {
	return &ProcessEvaluationUseCase{
		repo:      repo,
		loader:    loader,
		evaluator: evaluator,
	}
}

func (uc *ProcessEvaluationUseCase) ProcessByID(ctx context.Context, runID string) error {
	if err := uc.repo.UpdateStatus(ctx, runID, domain.EvaluationRunning, ""); err != nil {
		return fmt.Errorf("set status=running: %w", err)
	}

	report, err := uc.run(ctx, runID)
	if err != nil {
		if failErr := uc.repo.UpdateStatus(ctx, runID, domain.EvaluationFailed, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.SaveReport(ctx, runID, report); err != nil {
		return fmt.Errorf("save evaluation report: %w", err)
	}
	if err := uc.repo.UpdateStatus(ctx, runID, domain.EvaluationCompleted, ""); err != nil {
		return fmt.Errorf("set status=completed: %w", err)
	}
	return nil
}

func (uc *ProcessEvaluationUseCase) run(ctx context.Context, runID string) (*domain.EvaluationReport, error) {
	run, err := uc.repo.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("fetch evaluation run: %w", err)
	}
	tests, err := uc.loader.Load(ctx, run.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("load test set: %w", err)
	}
	if len(tests) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load test set", errors.New("test set is empty"))
	}
	report, err := uc.evaluator.Evaluate(ctx, tests)
	if err != nil {
		return nil, fmt.Errorf("evaluate test set: %w", err)
	}
	return report, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "testset.json"
	}
	return base
}
