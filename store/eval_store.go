package store

import (
	"context"
	"errors"
)

// ErrEvalRunNotFound is returned when scoring a run row that does not exist.
var ErrEvalRunNotFound = errors.New("eval run not found")

// CreateEvalInput stores one fixed evaluation input for a prompt.
func (s *Store) CreateEvalInput(ctx context.Context, input *EvalInput) error {
	return s.db.WithContext(ctx).Create(input).Error
}

// ListEvalInputs returns the prompt's evaluation inputs in stored order.
// The order is stable so runs can be diffed deterministically.
func (s *Store) ListEvalInputs(ctx context.Context, promptID uint) ([]EvalInput, error) {
	var inputs []EvalInput
	err := s.db.WithContext(ctx).
		Where("prompt_id = ?", promptID).
		Order("id").
		Find(&inputs).Error
	if err != nil {
		return nil, err
	}
	return inputs, nil
}

// DeleteEvalInput removes one evaluation input.
func (s *Store) DeleteEvalInput(ctx context.Context, inputID uint) error {
	return s.db.WithContext(ctx).Delete(&EvalInput{}, inputID).Error
}

// CreateEvalRun persists one run row.
func (s *Store) CreateEvalRun(ctx context.Context, run *EvalRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

// ListEvalRuns returns every row of one run in creation order.
func (s *Store) ListEvalRuns(ctx context.Context, runID string) ([]EvalRun, error) {
	var runs []EvalRun
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id").
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// ScoreEvalRun assigns a reviewer score to one run row.
func (s *Store) ScoreEvalRun(ctx context.Context, runRowID uint, score int) error {
	res := s.db.WithContext(ctx).
		Model(&EvalRun{}).
		Where("id = ?", runRowID).
		Update("score", score)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrEvalRunNotFound
	}
	return nil
}
