// Package prompt resolves stored prompt versions into provider-ready
// requests and caches the current version per prompt.
package prompt

import (
	"encoding/json"

	"github.com/promptgate/promptgate/llm"
)

// Type describes which templates of a prompt take a rendering context.
type Type string

const (
	// TypeStatic renders only the system template, with the caller's
	// system context.
	TypeStatic Type = "static"
	// TypeDynamicSystem is like TypeStatic; the user content passes
	// through untouched.
	TypeDynamicSystem Type = "dynamic_system"
	// TypeDynamicBoth additionally renders the user template with the
	// caller's user content parsed as a JSON context.
	TypeDynamicBoth Type = "dynamic_both"
)

// Valid reports whether t names a known prompt type.
func (t Type) Valid() bool {
	switch t {
	case TypeStatic, TypeDynamicSystem, TypeDynamicBoth:
		return true
	}
	return false
}

// Version is an immutable snapshot of a prompt definition together with the
// capabilities of its associated model. Versions are append-only: updating
// a prompt creates a new Version and re-points the prompt's current one.
type Version struct {
	ID       uint
	PromptID uint
	Number   int

	SystemTemplate string
	UserTemplate   string
	PromptType     Type
	IsChat         bool

	Model    string
	Provider llm.ProviderKind
	BaseURL  string

	SupportsJSON       bool
	SupportsJSONSchema bool
	SupportsTools      bool
	IsReasoning        bool

	MaxTokens   int
	Temperature float32
	JSONMode    bool
	JSONSchema  json.RawMessage
}
