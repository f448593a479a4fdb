// Package providers holds the wire helpers shared by every provider
// adapter: HTTP error mapping, error-body parsing, message normalization
// and finish-reason translation.
package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/promptgate/promptgate/llm"
)

// MapHTTPError maps an upstream HTTP status and error message to the
// unified error classes. All adapters use this function.
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &llm.Error{
			Class:      llm.ClassAuth,
			Message:    msg,
			HTTPStatus: status,
			Provider:   provider,
		}
	case http.StatusTooManyRequests:
		return &llm.Error{
			Class:      llm.ClassRateLimit,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  true,
			Provider:   provider,
		}
	case http.StatusBadRequest:
		if looksLikeContentFilter(msg) {
			return &llm.Error{
				Class:      llm.ClassContentPolicy,
				Message:    msg,
				HTTPStatus: status,
				Provider:   provider,
			}
		}
		return &llm.Error{
			Class:      llm.ClassInvalidRequest,
			Message:    msg,
			HTTPStatus: status,
			Provider:   provider,
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &llm.Error{
			Class:      llm.ClassTimeout,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  true,
			Provider:   provider,
		}
	default:
		return &llm.Error{
			Class:      llm.ClassProviderUnavailable,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  status >= 500,
			Provider:   provider,
		}
	}
}

func looksLikeContentFilter(msg string) bool {
	m := strings.ToLower(msg)
	if strings.Contains(m, "content_filter") || strings.Contains(m, "content filter") {
		return true
	}
	return strings.Contains(m, "content") && strings.Contains(m, "policy")
}

// ReadErrorMessage extracts an error message from an upstream response
// body. It tries the common {"error": {...}} envelope first and falls back
// to the raw text.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return strings.TrimSpace(string(data))
}

// NormalizeFinishReason maps a provider-native finish reason onto the
// unified set. The second return value is the native reason when it
// differs from the normalized one, empty otherwise.
func NormalizeFinishReason(native string) (string, string) {
	switch native {
	case "", llm.FinishStop, llm.FinishLength, llm.FinishFunctionCall,
		llm.FinishContentFilter, llm.FinishToolCalls:
		return native, ""
	case "max_tokens", "MAX_TOKENS":
		return llm.FinishLength, native
	case "end_turn", "eos", "done", "STOP":
		return llm.FinishStop, native
	case "tool_use":
		return llm.FinishToolCalls, native
	case "SAFETY", "safety":
		return llm.FinishContentFilter, native
	default:
		return llm.FinishStop, native
	}
}

// CollapseSystemMessages merges consecutive leading system messages into a
// single system slot for providers that require one. Non-leading system
// messages are demoted to user messages.
func CollapseSystemMessages(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	var system []string
	for i, m := range msgs {
		if m.Role == llm.RoleSystem {
			if i == len(system) {
				system = append(system, m.Content)
				continue
			}
			m.Role = llm.RoleUser
		}
		out = append(out, m)
	}
	if len(system) == 0 {
		return out
	}
	merged := llm.NewSystemMessage(strings.Join(system, "\n\n"))
	return append([]llm.Message{merged}, out...)
}

// NormalizeResponse applies finish-reason normalization in place and
// enforces the empty-response rule: an upstream payload with zero choices
// is an EmptyResponse error, never a silent success.
func NormalizeResponse(resp *llm.ChatResponse, provider string) error {
	if len(resp.Choices) == 0 {
		return &llm.Error{
			Class:      llm.ClassEmptyResponse,
			Message:    "upstream returned zero choices",
			HTTPStatus: http.StatusBadGateway,
			Provider:   provider,
		}
	}
	for i := range resp.Choices {
		normalized, native := NormalizeFinishReason(resp.Choices[i].FinishReason)
		resp.Choices[i].FinishReason = normalized
		if resp.Choices[i].NativeFinishReason == "" {
			resp.Choices[i].NativeFinishReason = native
		}
	}
	if resp.Object == "" {
		resp.Object = "chat.completion"
	}
	return nil
}
