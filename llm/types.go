// Package llm provides the unified request/response types shared by every
// component of the gateway. This package has ZERO dependencies on other
// promptgate packages to avoid circular imports.
package llm

import "encoding/json"

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Unified finish reasons. Provider-native values outside this set are
// normalized by the adapters and preserved in Choice.NativeFinishReason.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishFunctionCall  = "function_call"
	FinishContentFilter = "content_filter"
	FinishToolCalls     = "tool_calls"
)

// FunctionCall holds the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall represents a tool invocation request from the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message represents a conversation message.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolFunction describes a callable tool exposed to the model.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Tool is a tool definition in the OpenAI-compatible shape.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// JSONSchemaSpec embeds a strict JSON Schema into a response format.
type JSONSchemaSpec struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// ResponseFormat constrains the model output shape.
type ResponseFormat struct {
	Type       string          `json:"type"` // "json_object" or "json_schema"
	JSONSchema *JSONSchemaSpec `json:"json_schema,omitempty"`
}

// ChatRequest is the caller-visible request addressed to a logical prompt.
type ChatRequest struct {
	Model           string          `json:"model,omitempty"`
	Messages        []Message       `json:"messages"`
	Stream          bool            `json:"stream,omitempty"`
	ResponseFormat  *ResponseFormat `json:"response_format,omitempty"`
	Tools           []Tool          `json:"tools,omitempty"`
	MaxTokens       int             `json:"max_tokens,omitempty"`
	Temperature     float32         `json:"temperature,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
	FallbackPolicy  *FallbackPolicy `json:"fallback_policy,omitempty"`
}

// MaterializedRequest is a provider-ready request produced by the prompt
// materializer. Its JSON form is the exact outbound chat-completions body;
// routing fields are excluded from serialization.
type MaterializedRequest struct {
	Model           string          `json:"model"`
	Messages        []Message       `json:"messages"`
	MaxTokens       int             `json:"max_tokens,omitempty"`
	Temperature     float32         `json:"temperature,omitempty"`
	ResponseFormat  *ResponseFormat `json:"response_format,omitempty"`
	Tools           []Tool          `json:"tools,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`

	Provider       ProviderKind    `json:"-"`
	BaseURL        string          `json:"-"`
	PromptID       *uint           `json:"-"`
	FallbackPolicy *FallbackPolicy `json:"-"`
}

// Clone returns a shallow copy of the request. Message and tool slices are
// shared; callers overriding them must replace, not mutate.
func (m *MaterializedRequest) Clone() *MaterializedRequest {
	c := *m
	return &c
}

// PromptTokensDetails mirrors the OpenAI usage detail block.
type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens,omitempty"`
}

// CompletionTokensDetails mirrors the OpenAI usage detail block.
type CompletionTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// Usage holds token accounting for one completion.
type Usage struct {
	PromptTokens            int                      `json:"prompt_tokens"`
	CompletionTokens        int                      `json:"completion_tokens"`
	TotalTokens             int                      `json:"total_tokens"`
	PromptTokensDetails     *PromptTokensDetails     `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *CompletionTokensDetails `json:"completion_tokens_details,omitempty"`
}

// Choice is one completion choice. Message is set for unary responses,
// Delta for streamed chunks.
type Choice struct {
	Index              int      `json:"index"`
	Message            *Message `json:"message,omitempty"`
	Delta              *Message `json:"delta,omitempty"`
	FinishReason       string   `json:"finish_reason,omitempty"`
	NativeFinishReason string   `json:"native_finish_reason,omitempty"`
}

// ChatResponse is the unified completion response. Its JSON shape is the
// OpenAI-compatible wire format and is preserved bit-for-bit at the HTTP
// boundary.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"` // "chat.completion"
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`

	ProviderKind ProviderKind `json:"-"`
}

// StreamChunk is one streamed fragment of a completion.
type StreamChunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"` // "chat.completion.chunk"
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`

	// Err marks a mid-stream failure. A chunk with Err set is the last
	// item a producer emits.
	Err *Error `json:"-"`
}

// IsSentinel reports whether the chunk is the synthetic terminal chunk
// emitted after a successful stream.
func (c *StreamChunk) IsSentinel() bool {
	if len(c.Choices) != 1 || c.Choices[0].Delta == nil {
		return false
	}
	return c.Choices[0].Delta.Content == SentinelContent && c.Choices[0].FinishReason == FinishStop
}

// SentinelContent is the content of the synthetic terminal chunk.
const SentinelContent = "[DONE]"
