package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/prompt"
	"github.com/promptgate/promptgate/store"
)

// PromptService is the prompt CRUD surface.
type PromptService interface {
	CreatePrompt(ctx context.Context, name, description string, spec store.VersionSpec) (*store.Prompt, *store.PromptVersion, error)
	UpdatePrompt(ctx context.Context, promptID uint, spec store.VersionSpec) (*store.PromptVersion, error)
	DeletePrompt(ctx context.Context, promptID uint) error
	GetPrompt(ctx context.Context, promptID uint) (*store.Prompt, error)
	ListPrompts(ctx context.Context) ([]store.Prompt, error)
	ListVersions(ctx context.Context, promptID uint) ([]store.PromptVersion, error)
}

// VersionPayload is the wire form of a prompt version definition.
type VersionPayload struct {
	SystemTemplate string `json:"system_template"`
	UserTemplate   string `json:"user_template,omitempty"`
	PromptType     string `json:"prompt_type"`
	IsChat         bool   `json:"is_chat"`

	Model    string `json:"model"`
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url,omitempty"`

	SupportsJSON       bool `json:"supports_json"`
	SupportsJSONSchema bool `json:"supports_json_schema"`
	SupportsTools      bool `json:"supports_tools"`
	IsReasoning        bool `json:"is_reasoning"`

	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	JSONMode    bool    `json:"json_mode"`
	JSONSchema  string  `json:"json_schema,omitempty"`
}

func (p VersionPayload) validate() error {
	if p.SystemTemplate == "" {
		return llm.NewError(llm.ClassInvalidRequest, "system_template is required")
	}
	if p.Model == "" {
		return llm.NewError(llm.ClassInvalidRequest, "model is required")
	}
	if !llm.ProviderKind(p.Provider).Valid() {
		return llm.NewError(llm.ClassInvalidRequest, "unknown provider kind: "+p.Provider)
	}
	if p.PromptType != "" && !prompt.Type(p.PromptType).Valid() {
		return llm.NewError(llm.ClassInvalidRequest, "unknown prompt_type: "+p.PromptType)
	}
	return nil
}

func (p VersionPayload) spec() store.VersionSpec {
	promptType := p.PromptType
	if promptType == "" {
		promptType = string(prompt.TypeStatic)
	}
	return store.VersionSpec{
		SystemTemplate:     p.SystemTemplate,
		UserTemplate:       p.UserTemplate,
		PromptType:         promptType,
		IsChat:             p.IsChat,
		Model:              p.Model,
		Provider:           p.Provider,
		BaseURL:            p.BaseURL,
		SupportsJSON:       p.SupportsJSON,
		SupportsJSONSchema: p.SupportsJSONSchema,
		SupportsTools:      p.SupportsTools,
		IsReasoning:        p.IsReasoning,
		MaxTokens:          p.MaxTokens,
		Temperature:        p.Temperature,
		JSONMode:           p.JSONMode,
		JSONSchema:         p.JSONSchema,
	}
}

// PromptHandler serves the /v1/prompts CRUD endpoints.
type PromptHandler struct {
	svc    PromptService
	logger *zap.Logger
}

// NewPromptHandler creates the prompt CRUD handler.
func NewPromptHandler(svc PromptService, logger *zap.Logger) *PromptHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptHandler{svc: svc, logger: logger}
}

// HandleCreate serves POST /v1/prompts.
func (h *PromptHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Version     VersionPayload `json:"version"`
	}
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Name == "" {
		WriteError(w, llm.NewError(llm.ClassInvalidRequest, "name is required"), h.logger)
		return
	}
	if err := req.Version.validate(); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	p, v, err := h.svc.CreatePrompt(r.Context(), req.Name, req.Description, req.Version.spec())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    map[string]any{"prompt": p, "version": v},
	})
}

// HandleUpdate serves PUT /v1/prompts/{id}: appends a new version.
func (h *PromptHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	promptID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var payload VersionPayload
	if err := DecodeJSONBody(w, r, &payload, h.logger); err != nil {
		return
	}
	if err := payload.validate(); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	v, err := h.svc.UpdatePrompt(r.Context(), promptID, payload.spec())
	if err != nil {
		if errors.Is(err, store.ErrPromptNotFound) {
			WriteNotFound(w, "prompt")
			return
		}
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, v)
}

// HandleDelete serves DELETE /v1/prompts/{id}.
func (h *PromptHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	promptID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.svc.DeletePrompt(r.Context(), promptID); err != nil {
		if errors.Is(err, store.ErrPromptNotFound) {
			WriteNotFound(w, "prompt")
			return
		}
		WriteError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGet serves GET /v1/prompts/{id}.
func (h *PromptHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	promptID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	p, err := h.svc.GetPrompt(r.Context(), promptID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if p == nil {
		WriteNotFound(w, "prompt")
		return
	}
	WriteSuccess(w, p)
}

// HandleList serves GET /v1/prompts.
func (h *PromptHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.svc.ListPrompts(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, prompts)
}

// HandleVersions serves GET /v1/prompts/{id}/versions.
func (h *PromptHandler) HandleVersions(w http.ResponseWriter, r *http.Request) {
	promptID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	versions, err := h.svc.ListVersions(r.Context(), promptID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, versions)
}
