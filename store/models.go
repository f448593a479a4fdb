// Package store is the authoritative persistence layer for prompts, their
// versions and evaluation data.
package store

import (
	"encoding/json"
	"time"

	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/prompt"
)

// Prompt is a logical prompt. Its definition lives in append-only
// PromptVersion rows; CurrentVersionID points at the one in effect.
type Prompt struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name             string `gorm:"size:255;uniqueIndex" json:"name"`
	Description      string `gorm:"type:text" json:"description,omitempty"`
	CurrentVersionID *uint  `json:"current_version_id,omitempty"`
}

// PromptVersion is one immutable snapshot of a prompt definition. Rows are
// never updated in place; each prompt update appends a new version.
type PromptVersion struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	PromptID uint `gorm:"index:idx_prompt_version,priority:1" json:"prompt_id"`
	Number   int  `gorm:"index:idx_prompt_version,priority:2" json:"number"`

	SystemTemplate string `gorm:"type:text" json:"system_template"`
	UserTemplate   string `gorm:"type:text" json:"user_template,omitempty"`
	PromptType     string `gorm:"size:32" json:"prompt_type"`
	IsChat         bool   `json:"is_chat"`

	Model    string `gorm:"size:255" json:"model"`
	Provider string `gorm:"size:32" json:"provider"`
	BaseURL  string `gorm:"size:512" json:"base_url,omitempty"`

	SupportsJSON       bool `json:"supports_json"`
	SupportsJSONSchema bool `json:"supports_json_schema"`
	SupportsTools      bool `json:"supports_tools"`
	IsReasoning        bool `json:"is_reasoning"`

	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	JSONMode    bool    `json:"json_mode"`
	JSONSchema  string  `gorm:"type:text" json:"json_schema,omitempty"`
}

// Resolve converts the stored row into the materializer's domain form.
func (v *PromptVersion) Resolve() *prompt.Version {
	out := &prompt.Version{
		ID:       v.ID,
		PromptID: v.PromptID,
		Number:   v.Number,

		SystemTemplate: v.SystemTemplate,
		UserTemplate:   v.UserTemplate,
		PromptType:     prompt.Type(v.PromptType),
		IsChat:         v.IsChat,

		Model:    v.Model,
		Provider: llm.ProviderKind(v.Provider),
		BaseURL:  v.BaseURL,

		SupportsJSON:       v.SupportsJSON,
		SupportsJSONSchema: v.SupportsJSONSchema,
		SupportsTools:      v.SupportsTools,
		IsReasoning:        v.IsReasoning,

		MaxTokens:   v.MaxTokens,
		Temperature: v.Temperature,
		JSONMode:    v.JSONMode,
	}
	if v.JSONSchema != "" {
		out.JSONSchema = json.RawMessage(v.JSONSchema)
	}
	return out
}

// EvalInput is one fixed evaluation input bound to a prompt.
type EvalInput struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	PromptID      uint   `gorm:"index" json:"prompt_id"`
	SystemContext string `gorm:"type:text" json:"system_context,omitempty"`
	UserContent   string `gorm:"type:text" json:"user_content"`
	DisplayName   string `gorm:"size:255" json:"display_name"`
}

// EvalRun is the output of one (evaluation input, prompt version) pair
// within a run. Score stays null until a reviewer assigns one.
type EvalRun struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RunID           string `gorm:"size:36;index" json:"run_id"`
	PromptVersionID uint   `gorm:"index" json:"prompt_version_id"`
	EvalInputID     uint   `gorm:"index" json:"eval_input_id"`
	Output          string `gorm:"type:text" json:"output"`
	Score           *int   `json:"score,omitempty"`
}
