// Package handlers implements the gateway's HTTP endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/fallback"
)

// Response is the unified API envelope for non-completion endpoints.
// Completion responses are written in the OpenAI wire shape instead.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo is the serialized error body.
type ErrorInfo struct {
	Class     string `json:"class"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON writes a JSON response body.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes the success envelope.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError maps err to an HTTP status and writes the error envelope.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, info := errorInfo(err)
	if logger != nil {
		logger.Warn("request failed",
			zap.String("class", info.Class),
			zap.Int("status", status),
			zap.Error(err))
	}
	WriteJSON(w, status, Response{
		Success:   false,
		Error:     info,
		Timestamp: time.Now(),
	})
}

// WriteNotFound writes the error envelope for a missing resource.
func WriteNotFound(w http.ResponseWriter, resource string) {
	WriteJSON(w, http.StatusNotFound, Response{
		Success:   false,
		Error:     &ErrorInfo{Class: "NOT_FOUND", Message: resource + " not found"},
		Timestamp: time.Now(),
	})
}

func errorInfo(err error) (int, *ErrorInfo) {
	var exhausted *fallback.ExhaustedError
	if errors.As(err, &exhausted) {
		return http.StatusBadGateway, &ErrorInfo{
			Class:   "FALLBACK_EXHAUSTED",
			Message: exhausted.Error(),
		}
	}

	class := llm.ClassOf(err)
	info := &ErrorInfo{
		Class:     string(class),
		Message:   err.Error(),
		Retryable: llm.IsRetryable(err),
	}

	var e *llm.Error
	if errors.As(err, &e) && e.HTTPStatus >= 400 && class != llm.ClassProviderUnavailable {
		return e.HTTPStatus, info
	}
	return statusForClass(class), info
}

func statusForClass(class llm.ErrorClass) int {
	switch class {
	case llm.ClassAuth:
		return http.StatusUnauthorized
	case llm.ClassRateLimit:
		return http.StatusTooManyRequests
	case llm.ClassInvalidRequest, llm.ClassTemplate:
		return http.StatusBadRequest
	case llm.ClassContentPolicy:
		return http.StatusUnprocessableEntity
	case llm.ClassTimeout:
		return http.StatusGatewayTimeout
	case llm.ClassProviderUnavailable, llm.ClassEmptyResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSONBody decodes the request body and writes a 400 on failure.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		WriteError(w, llm.NewError(llm.ClassInvalidRequest, "malformed JSON body").WithCause(err), logger)
		return err
	}
	return nil
}

// ValidateContentType requires a JSON request body.
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "application/json") {
		return true
	}
	WriteError(w, llm.NewError(llm.ClassInvalidRequest, "Content-Type must be application/json"), logger)
	return false
}

// pathID parses the named path parameter as an unsigned id.
func pathID(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (uint, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		WriteError(w, llm.NewError(llm.ClassInvalidRequest, "invalid "+name+" path parameter"), logger)
		return 0, false
	}
	return uint(id), true
}
