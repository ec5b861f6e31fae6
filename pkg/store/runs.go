package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateRun persists a new run and one pending result per case. The
// run id and token are filled in if the caller left them empty.
func (s *store) CreateRun(
	ctx context.Context, run *TestRun, caseIDs []string,
) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	if run.Status == "" {
		run.Status = RunStatusPending
	}

	run.TestsTotal = len(caseIDs)
	run.TestsPending = len(caseIDs)

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	for _, caseID := range caseIDs {
		result := &TestResult{
			ID:     uuid.NewString(),
			RunID:  run.ID,
			CaseID: caseID,
			Status: ResultStatusPending,
		}

		if err := s.db.WithContext(ctx).Create(result).Error; err != nil {
			return fmt.Errorf("creating result for case %s: %w", caseID, err)
		}
	}

	return nil
}

// GetRun fetches one run by id.
func (s *store) GetRun(ctx context.Context, id string) (*TestRun, error) {
	var run TestRun
	if err := s.db.WithContext(ctx).
		First(&run, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}

	return &run, nil
}

// UpdateRun saves the full run row (single-row, last-writer-wins).
func (s *store) UpdateRun(ctx context.Context, run *TestRun) error {
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *store) ListRuns(ctx context.Context, limit int) ([]TestRun, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var runs []TestRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListResultsByRun returns all per-case results of a run.
func (s *store) ListResultsByRun(
	ctx context.Context, runID string,
) ([]TestResult, error) {
	var results []TestResult
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}

	return results, nil
}

// UpdateResult saves one result row.
func (s *store) UpdateResult(ctx context.Context, result *TestResult) error {
	if err := s.db.WithContext(ctx).Save(result).Error; err != nil {
		return fmt.Errorf("updating result: %w", err)
	}

	return nil
}
