// Package gateway composes the prompt cache, materializer, fallback
// executor and stores into the operations the HTTP layer exposes.
package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/eval"
	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/fallback"
	"github.com/promptgate/promptgate/llm/streaming"
	"github.com/promptgate/promptgate/prompt"
	"github.com/promptgate/promptgate/store"
	"github.com/promptgate/promptgate/trace"
)

// VersionLoader adapts the store's current-version lookup to the cache's
// loader contract.
func VersionLoader(st *store.Store) prompt.Loader {
	return func(ctx context.Context, promptID uint) (*prompt.Version, error) {
		row, err := st.CurrentVersion(ctx, promptID)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, nil
		}
		return row.Resolve(), nil
	}
}

// Service is the gateway facade: prompt-addressed completion execution,
// prompt CRUD with cache invalidation, and evaluation runs.
type Service struct {
	store        *store.Store
	cache        *prompt.Cache
	materializer *prompt.Materializer
	executor     *fallback.Executor
	traces       *trace.Logger
	runner       *eval.Runner
	logger       *zap.Logger
}

// NewService wires the gateway facade. A nil logger is replaced with a
// no-op.
func NewService(st *store.Store, cache *prompt.Cache, executor *fallback.Executor, traces *trace.Logger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	materializer := prompt.NewMaterializer(logger)
	return &Service{
		store:        st,
		cache:        cache,
		materializer: materializer,
		executor:     executor,
		traces:       traces,
		runner:       eval.NewRunner(materializer, executor, st, logger),
		logger:       logger.With(zap.String("component", "gateway")),
	}
}

// ExecuteUnary resolves the prompt's current version, materializes the
// caller request against it and runs it through the fallback executor.
func (s *Service) ExecuteUnary(ctx context.Context, promptID uint, req *llm.ChatRequest) (*llm.ChatResponse, []fallback.Attempt, error) {
	materialized, err := s.materialize(ctx, promptID, req)
	if err != nil {
		return nil, nil, err
	}
	return s.executor.Execute(ctx, materialized)
}

// ExecuteStream is the streaming variant of ExecuteUnary. The sink is
// always finished before return, including on materialization failure.
func (s *Service) ExecuteStream(ctx context.Context, promptID uint, req *llm.ChatRequest, sink *streaming.Sink) (*llm.ChatResponse, []fallback.Attempt, error) {
	materialized, err := s.materialize(ctx, promptID, req)
	if err != nil {
		sink.Finish()
		return nil, nil, err
	}
	return s.executor.ExecuteStream(ctx, materialized, sink)
}

func (s *Service) materialize(ctx context.Context, promptID uint, req *llm.ChatRequest) (*llm.MaterializedRequest, error) {
	version, err := s.cache.Get(ctx, promptID)
	if err != nil {
		return nil, err
	}
	return s.materializer.Materialize(version, req)
}

// CreatePrompt creates a prompt with its first version and primes the
// cache.
func (s *Service) CreatePrompt(ctx context.Context, name, description string, spec store.VersionSpec) (*store.Prompt, *store.PromptVersion, error) {
	p, v, err := s.store.CreatePrompt(ctx, name, description, spec)
	if err != nil {
		return nil, nil, err
	}
	s.cache.Insert(ctx, v.Resolve())
	return p, v, nil
}

// UpdatePrompt appends a new version and replaces the cached one.
func (s *Service) UpdatePrompt(ctx context.Context, promptID uint, spec store.VersionSpec) (*store.PromptVersion, error) {
	v, err := s.store.UpdatePrompt(ctx, promptID, spec)
	if err != nil {
		return nil, err
	}
	s.cache.Insert(ctx, v.Resolve())
	return v, nil
}

// DeletePrompt removes the prompt and drops it from the cache.
func (s *Service) DeletePrompt(ctx context.Context, promptID uint) error {
	if err := s.store.DeletePrompt(ctx, promptID); err != nil {
		return err
	}
	s.cache.Remove(ctx, promptID)
	return nil
}

// GetPrompt returns one prompt, or nil when absent.
func (s *Service) GetPrompt(ctx context.Context, promptID uint) (*store.Prompt, error) {
	return s.store.GetPrompt(ctx, promptID)
}

// ListPrompts returns all prompts.
func (s *Service) ListPrompts(ctx context.Context) ([]store.Prompt, error) {
	return s.store.ListPrompts(ctx)
}

// ListVersions returns the prompt's versions in ascending number order.
func (s *Service) ListVersions(ctx context.Context, promptID uint) ([]store.PromptVersion, error) {
	return s.store.ListVersions(ctx, promptID)
}

// CreateEvalInput stores one evaluation input.
func (s *Service) CreateEvalInput(ctx context.Context, input *store.EvalInput) error {
	return s.store.CreateEvalInput(ctx, input)
}

// ListEvalInputs returns the prompt's evaluation inputs in stored order.
func (s *Service) ListEvalInputs(ctx context.Context, promptID uint) ([]store.EvalInput, error) {
	return s.store.ListEvalInputs(ctx, promptID)
}

// ExecuteEvalRun runs every evaluation input of the prompt against the
// given version under a fresh run id.
func (s *Service) ExecuteEvalRun(ctx context.Context, promptID, versionID uint) (*eval.RunResult, error) {
	return s.runner.ExecuteRun(ctx, promptID, versionID)
}

// ScoreEvalRun assigns a reviewer score to one run row.
func (s *Service) ScoreEvalRun(ctx context.Context, runRowID uint, score int) error {
	return s.store.ScoreEvalRun(ctx, runRowID, score)
}

// ListEvalRuns returns every row of one run.
func (s *Service) ListEvalRuns(ctx context.Context, runID string) ([]store.EvalRun, error) {
	return s.store.ListEvalRuns(ctx, runID)
}

// GetTrace returns one trace record, or nil when absent.
func (s *Service) GetTrace(ctx context.Context, id uint) (*trace.Record, error) {
	return s.traces.Get(ctx, id)
}
