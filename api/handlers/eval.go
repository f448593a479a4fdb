package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/eval"
	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/store"
)

// EvalService is the evaluation surface.
type EvalService interface {
	CreateEvalInput(ctx context.Context, input *store.EvalInput) error
	ListEvalInputs(ctx context.Context, promptID uint) ([]store.EvalInput, error)
	ExecuteEvalRun(ctx context.Context, promptID, versionID uint) (*eval.RunResult, error)
	ScoreEvalRun(ctx context.Context, runRowID uint, score int) error
	ListEvalRuns(ctx context.Context, runID string) ([]store.EvalRun, error)
}

// EvalHandler serves the evaluation endpoints.
type EvalHandler struct {
	svc    EvalService
	logger *zap.Logger
}

// NewEvalHandler creates the evaluation handler.
func NewEvalHandler(svc EvalService, logger *zap.Logger) *EvalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvalHandler{svc: svc, logger: logger}
}

// HandleCreateInput serves POST /v1/prompts/{id}/eval-inputs.
func (h *EvalHandler) HandleCreateInput(w http.ResponseWriter, r *http.Request) {
	promptID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req struct {
		SystemContext string `json:"system_context,omitempty"`
		UserContent   string `json:"user_content"`
		DisplayName   string `json:"display_name,omitempty"`
	}
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.UserContent == "" {
		WriteError(w, llm.NewError(llm.ClassInvalidRequest, "user_content is required"), h.logger)
		return
	}

	input := &store.EvalInput{
		PromptID:      promptID,
		SystemContext: req.SystemContext,
		UserContent:   req.UserContent,
		DisplayName:   req.DisplayName,
	}
	if err := h.svc.CreateEvalInput(r.Context(), input); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{Success: true, Data: input})
}

// HandleListInputs serves GET /v1/prompts/{id}/eval-inputs.
func (h *EvalHandler) HandleListInputs(w http.ResponseWriter, r *http.Request) {
	promptID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	inputs, err := h.svc.ListEvalInputs(r.Context(), promptID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, inputs)
}

// HandleExecuteRun serves POST /v1/prompts/{id}/eval-runs.
func (h *EvalHandler) HandleExecuteRun(w http.ResponseWriter, r *http.Request) {
	promptID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req struct {
		VersionID uint `json:"version_id"`
	}
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.VersionID == 0 {
		WriteError(w, llm.NewError(llm.ClassInvalidRequest, "version_id is required"), h.logger)
		return
	}

	result, err := h.svc.ExecuteEvalRun(r.Context(), promptID, req.VersionID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, result)
}

// HandleListRuns serves GET /v1/eval-runs/{run_id}.
func (h *EvalHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if runID == "" {
		WriteError(w, llm.NewError(llm.ClassInvalidRequest, "run_id is required"), h.logger)
		return
	}
	runs, err := h.svc.ListEvalRuns(r.Context(), runID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, runs)
}

// HandleScore serves POST /v1/eval-runs/rows/{id}/score.
func (h *EvalHandler) HandleScore(w http.ResponseWriter, r *http.Request) {
	rowID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req struct {
		Score int `json:"score"`
	}
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.svc.ScoreEvalRun(r.Context(), rowID, req.Score); err != nil {
		if errors.Is(err, store.ErrEvalRunNotFound) {
			WriteNotFound(w, "eval run")
			return
		}
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"id": rowID, "score": req.Score})
}
