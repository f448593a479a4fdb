package providers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/llm"
)

func TestMapHTTPError(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		msg       string
		class     llm.ErrorClass
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, "bad key", llm.ClassAuth, false},
		{"forbidden", http.StatusForbidden, "no access", llm.ClassAuth, false},
		{"rate limited", http.StatusTooManyRequests, "slow down", llm.ClassRateLimit, true},
		{"bad request", http.StatusBadRequest, "missing field", llm.ClassInvalidRequest, false},
		{"content filter", http.StatusBadRequest, "blocked by content_filter", llm.ClassContentPolicy, false},
		{"content policy phrasing", http.StatusBadRequest, "violates our content management policy", llm.ClassContentPolicy, false},
		{"gateway timeout", http.StatusGatewayTimeout, "upstream slow", llm.ClassTimeout, true},
		{"server error", http.StatusInternalServerError, "oops", llm.ClassProviderUnavailable, true},
		{"bad gateway", http.StatusBadGateway, "oops", llm.ClassProviderUnavailable, true},
		{"teapot", http.StatusTeapot, "short and stout", llm.ClassProviderUnavailable, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := MapHTTPError(tc.status, tc.msg, "openai")
			assert.Equal(t, tc.class, err.Class)
			assert.Equal(t, tc.status, err.HTTPStatus)
			assert.Equal(t, tc.retryable, err.Retryable)
			assert.Equal(t, "openai", err.Provider)
		})
	}
}

func TestReadErrorMessage(t *testing.T) {
	body := strings.NewReader(`{"error": {"message": "model not found", "type": "invalid_request_error"}}`)
	assert.Equal(t, "model not found (type: invalid_request_error)", ReadErrorMessage(body))

	body = strings.NewReader(`{"error": {"message": "rate limited"}}`)
	assert.Equal(t, "rate limited", ReadErrorMessage(body))

	body = strings.NewReader("  upstream exploded\n")
	assert.Equal(t, "upstream exploded", ReadErrorMessage(body))
}

func TestNormalizeFinishReason(t *testing.T) {
	cases := []struct {
		native     string
		normalized string
		kept       string
	}{
		{"", "", ""},
		{"stop", "stop", ""},
		{"length", "length", ""},
		{"tool_calls", "tool_calls", ""},
		{"max_tokens", "length", "max_tokens"},
		{"end_turn", "stop", "end_turn"},
		{"STOP", "stop", "STOP"},
		{"tool_use", "tool_calls", "tool_use"},
		{"SAFETY", "content_filter", "SAFETY"},
		{"something_else", "stop", "something_else"},
	}
	for _, tc := range cases {
		normalized, native := NormalizeFinishReason(tc.native)
		assert.Equal(t, tc.normalized, normalized, tc.native)
		assert.Equal(t, tc.kept, native, tc.native)
	}
}

func TestCollapseSystemMessages(t *testing.T) {
	msgs := []llm.Message{
		llm.NewSystemMessage("first"),
		llm.NewSystemMessage("second"),
		llm.NewUserMessage("hi"),
		llm.NewSystemMessage("stray"),
		{Role: llm.RoleAssistant, Content: "hello"},
	}

	out := CollapseSystemMessages(msgs)
	require.Len(t, out, 4)
	assert.Equal(t, llm.RoleSystem, out[0].Role)
	assert.Equal(t, "first\n\nsecond", out[0].Content)
	assert.Equal(t, llm.RoleUser, out[1].Role)
	// Non-leading system messages are demoted, not dropped.
	assert.Equal(t, llm.RoleUser, out[2].Role)
	assert.Equal(t, "stray", out[2].Content)
	assert.Equal(t, llm.RoleAssistant, out[3].Role)
}

func TestCollapseSystemMessagesNoSystem(t *testing.T) {
	msgs := []llm.Message{llm.NewUserMessage("hi")}
	out := CollapseSystemMessages(msgs)
	require.Len(t, out, 1)
	assert.Equal(t, llm.RoleUser, out[0].Role)
}

func TestNormalizeResponseEmptyChoices(t *testing.T) {
	resp := &llm.ChatResponse{ID: "x"}
	err := NormalizeResponse(resp, "openai")
	require.Error(t, err)
	assert.Equal(t, llm.ClassEmptyResponse, llm.ClassOf(err))
}

func TestNormalizeResponseFillsDefaults(t *testing.T) {
	resp := &llm.ChatResponse{
		Choices: []llm.Choice{{FinishReason: "end_turn"}},
	}
	require.NoError(t, NormalizeResponse(resp, "openai"))
	assert.Equal(t, llm.FinishStop, resp.Choices[0].FinishReason)
	assert.Equal(t, "end_turn", resp.Choices[0].NativeFinishReason)
	assert.Equal(t, "chat.completion", resp.Object)
}
