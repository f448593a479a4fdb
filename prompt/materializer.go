package prompt

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/llm"
)

// SchemaInstruction prefixes the human-readable schema hint appended to the
// system prompt when a JSON schema is enforced.
const SchemaInstruction = "Please respond in adherence to the following JSON Schema: "

// Materializer merges a stored prompt version with a caller request into a
// provider-ready unified request.
type Materializer struct {
	logger *zap.Logger
}

// NewMaterializer creates a materializer. A nil logger is replaced with a
// no-op.
func NewMaterializer(logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{logger: logger.With(zap.String("component", "materializer"))}
}

// Materialize produces the outbound request for version v and caller
// request req. Template failures map to the Template class, malformed
// dynamic user input to InvalidRequest; everything else is lenient.
func (m *Materializer) Materialize(v *Version, req *llm.ChatRequest) (*llm.MaterializedRequest, error) {
	sysCtx := systemContext(req.Messages)
	system, err := Render(v.SystemTemplate, sysCtx)
	if err != nil {
		return nil, err
	}

	messages, err := m.buildMessages(v, req, system)
	if err != nil {
		return nil, err
	}

	out := &llm.MaterializedRequest{
		Model:       v.Model,
		Messages:    messages,
		MaxTokens:   v.MaxTokens,
		Temperature: v.Temperature,

		Provider:       v.Provider,
		BaseURL:        v.BaseURL,
		PromptID:       &v.PromptID,
		FallbackPolicy: req.FallbackPolicy,
	}

	if v.SupportsTools {
		out.Tools = req.Tools
	}
	if v.IsReasoning {
		out.ReasoningEffort = req.ReasoningEffort
	}
	m.applyResponseFormat(v, out)
	return out, nil
}

// buildMessages constructs the outbound message list. Two or more caller
// messages mean a multi-turn conversation: the list is preserved and the
// rendered system prompt takes the system slot. Fewer than two messages
// synthesize a fresh [system, user] pair.
func (m *Materializer) buildMessages(v *Version, req *llm.ChatRequest, system string) ([]llm.Message, error) {
	if len(req.Messages) >= 2 {
		out := make([]llm.Message, 0, len(req.Messages)+1)
		out = append(out, llm.NewSystemMessage(system))
		for _, msg := range req.Messages {
			if msg.Role == llm.RoleSystem {
				continue
			}
			out = append(out, msg)
		}
		return out, nil
	}

	user := firstUserContent(req.Messages)
	if v.PromptType == TypeDynamicBoth {
		var userCtx map[string]any
		if err := json.Unmarshal([]byte(user), &userCtx); err != nil {
			return nil, llm.NewError(llm.ClassInvalidRequest,
				"user content must be a JSON object for this prompt").WithCause(err)
		}
		rendered, err := Render(v.UserTemplate, userCtx)
		if err != nil {
			return nil, err
		}
		user = rendered
	}
	return []llm.Message{
		llm.NewSystemMessage(system),
		llm.NewUserMessage(user),
	}, nil
}

// applyResponseFormat performs capability gating: the response format only
// survives when the model supports it, and the strict schema variant also
// appends a plain-language instruction to the system prompt.
func (m *Materializer) applyResponseFormat(v *Version, out *llm.MaterializedRequest) {
	if !v.JSONMode || !v.SupportsJSON {
		out.ResponseFormat = nil
		return
	}

	out.ResponseFormat = &llm.ResponseFormat{Type: "json_object"}
	if !v.SupportsJSONSchema || len(v.JSONSchema) == 0 {
		return
	}
	out.ResponseFormat = &llm.ResponseFormat{
		Type: "json_schema",
		JSONSchema: &llm.JSONSchemaSpec{
			Name:   "schema",
			Strict: true,
			Schema: v.JSONSchema,
		},
	}
	if len(out.Messages) > 0 && out.Messages[0].Role == llm.RoleSystem {
		out.Messages[0].Content += "\n\n" + SchemaInstruction + string(v.JSONSchema)
	}
}

// systemContext parses the caller's system message as a JSON context for
// system-template rendering. Absent or malformed input yields an empty
// context, never an error.
func systemContext(messages []llm.Message) map[string]any {
	for _, msg := range messages {
		if msg.Role != llm.RoleSystem {
			continue
		}
		var ctx map[string]any
		if err := json.Unmarshal([]byte(msg.Content), &ctx); err != nil {
			return map[string]any{}
		}
		return ctx
	}
	return map[string]any{}
}

func firstUserContent(messages []llm.Message) string {
	for _, msg := range messages {
		if msg.Role == llm.RoleUser {
			return msg.Content
		}
	}
	return ""
}
