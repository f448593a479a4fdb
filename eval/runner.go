// Package eval fans out a prompt version over its stored evaluation inputs
// and records one output row per input under a shared run id.
package eval

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/fallback"
	"github.com/promptgate/promptgate/prompt"
	"github.com/promptgate/promptgate/store"
)

// Execer runs one materialized request through the fallback executor.
type Execer interface {
	Execute(ctx context.Context, req *llm.MaterializedRequest) (*llm.ChatResponse, []fallback.Attempt, error)
}

// Store is the persistence surface the runner needs.
type Store interface {
	GetVersion(ctx context.Context, versionID uint) (*store.PromptVersion, error)
	ListEvalInputs(ctx context.Context, promptID uint) ([]store.EvalInput, error)
	CreateEvalRun(ctx context.Context, run *store.EvalRun) error
}

// RunResult is one completed evaluation run. Runs holds a row per input
// that executed successfully, in stored input order; failed inputs are
// absent.
type RunResult struct {
	RunID string          `json:"run_id"`
	Runs  []store.EvalRun `json:"runs"`
}

// Runner executes evaluation runs sequentially so the resulting rows can be
// diffed deterministically across runs.
type Runner struct {
	materializer *prompt.Materializer
	exec         Execer
	store        Store
	logger       *zap.Logger
}

// NewRunner creates a runner. A nil logger is replaced with a no-op.
func NewRunner(materializer *prompt.Materializer, exec Execer, st Store, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		materializer: materializer,
		exec:         exec,
		store:        st,
		logger:       logger.With(zap.String("component", "eval")),
	}
}

// ExecuteRun runs every evaluation input of promptID against the given
// prompt version under a fresh run id. Inputs execute in stored order, one
// at a time; a failing input is logged and skipped. Trace persistence
// failures abort the run.
func (r *Runner) ExecuteRun(ctx context.Context, promptID, versionID uint) (*RunResult, error) {
	row, err := r.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, llm.NewError(llm.ClassInvalidRequest,
			fmt.Sprintf("prompt version %d not found", versionID))
	}
	if row.PromptID != promptID {
		return nil, llm.NewError(llm.ClassInvalidRequest,
			fmt.Sprintf("version %d does not belong to prompt %d", versionID, promptID))
	}
	version := row.Resolve()

	inputs, err := r.store.ListEvalInputs(ctx, promptID)
	if err != nil {
		return nil, err
	}

	result := &RunResult{RunID: uuid.NewString(), Runs: []store.EvalRun{}}
	for _, input := range inputs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		run, err := r.runInput(ctx, version, versionID, input, result.RunID)
		if err != nil {
			if llm.ClassOf(err) == llm.ClassDbLogging {
				return nil, err
			}
			r.logger.Warn("eval input failed",
				zap.String("run_id", result.RunID),
				zap.Uint("input_id", input.ID),
				zap.String("input", input.DisplayName),
				zap.Error(err))
			continue
		}
		result.Runs = append(result.Runs, *run)
	}
	return result, nil
}

func (r *Runner) runInput(ctx context.Context, version *prompt.Version, versionID uint, input store.EvalInput, runID string) (*store.EvalRun, error) {
	req := &llm.ChatRequest{Messages: []llm.Message{
		llm.NewSystemMessage(systemContext(input)),
		llm.NewUserMessage(input.UserContent),
	}}

	materialized, err := r.materializer.Materialize(version, req)
	if err != nil {
		return nil, err
	}
	resp, _, err := r.exec.Execute(ctx, materialized)
	if err != nil {
		return nil, err
	}

	run := &store.EvalRun{
		RunID:           runID,
		PromptVersionID: versionID,
		EvalInputID:     input.ID,
		Output:          outputText(resp),
	}
	if err := r.store.CreateEvalRun(ctx, run); err != nil {
		return nil, llm.NewError(llm.ClassDbLogging, "failed to persist eval run").WithCause(err)
	}
	return run, nil
}

func systemContext(input store.EvalInput) string {
	if strings.TrimSpace(input.SystemContext) == "" {
		return "{}"
	}
	return input.SystemContext
}

func outputText(resp *llm.ChatResponse) string {
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return ""
	}
	return resp.Choices[0].Message.Content
}
